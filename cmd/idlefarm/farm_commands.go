package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"idlefarm/internal/ipc"
	"idlefarm/internal/steam"
)

func newFarmCommand(ctx *commandContext) *cobra.Command {
	farmCmd := &cobra.Command{
		Use:   "farm",
		Short: "Start a farming mode (replaces any active one)",
	}
	farmCmd.AddCommand(newFarmSessionsCommand(ctx))
	farmCmd.AddCommand(newFarmAchievementsCommand(ctx))
	farmCmd.AddCommand(newFarmCardsCommand(ctx))
	return farmCmd
}

func newFarmSessionsCommand(ctx *commandContext) *cobra.Command {
	var minutes float64
	cmd := &cobra.Command{
		Use:   "sessions APPID...",
		Short: "Run one game session per app id",
		Long: "Run one game session per app id. Ids may be separate arguments or comma separated.\n" +
			"--duration 0 keeps the sessions running until `idlefarm stop`.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := steam.ParseAppIDs(args)
			if err != nil {
				return err
			}
			req := ipc.FarmSessionsRequest{AppIDs: ids}
			if cmd.Flags().Changed("duration") {
				req.DurationMinutes = &minutes
			}
			return ctx.withClient(cmd, func(rpcCtx context.Context, client *ipc.Client) error {
				resp, err := client.FarmSessions(rpcCtx, req)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), capitalize(resp.Message))
				return nil
			})
		},
	}
	cmd.Flags().Float64VarP(&minutes, "duration", "d", 0, "Session length in minutes (default from session.default_duration_minutes)")
	return cmd
}

func newFarmAchievementsCommand(ctx *commandContext) *cobra.Command {
	var minMinutes, maxMinutes float64
	cmd := &cobra.Command{
		Use:   "achievements APPID EVENT...",
		Short: "Unlock achievements at randomized times",
		Long: "Schedule one unlock per event id, in the given order, spread over\n" +
			"equal slots of the [--min, --max) window measured from now.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			appID, err := steam.ParseAppID(args[0])
			if err != nil {
				return err
			}
			req := ipc.FarmAchievementsRequest{AppID: appID, EventIDs: args[1:]}
			if cmd.Flags().Changed("min") {
				req.MinDelayMinutes = &minMinutes
			}
			if cmd.Flags().Changed("max") {
				req.MaxDelayMinutes = &maxMinutes
			}
			return ctx.withClient(cmd, func(rpcCtx context.Context, client *ipc.Client) error {
				resp, err := client.FarmAchievements(rpcCtx, req)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), capitalize(resp.Message))
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&minMinutes, "min", 0, "Earliest unlock in minutes (default from achievements.default_min_minutes)")
	cmd.Flags().Float64Var(&maxMinutes, "max", 0, "Window end in minutes (default from achievements.default_max_minutes)")
	return cmd
}

func newFarmCardsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cards",
		Short: "Farm trading card drops using the configured community cookies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(rpcCtx context.Context, client *ipc.Client) error {
				resp, err := client.FarmCards(rpcCtx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, capitalize(resp.Message))
				fmt.Fprintln(out, "Follow progress with `idlefarm logs -f` or `idlefarm status`.")
				return nil
			})
		},
	}
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the active farm and terminate its workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(rpcCtx context.Context, client *ipc.Client) error {
				resp, err := client.Stop(rpcCtx)
				if err != nil {
					return err
				}
				if resp.Stopped {
					fmt.Fprintln(cmd.OutOrStdout(), "Farm stopped")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "No farm was running")
				}
				return nil
			})
		},
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	if c := s[0]; c >= 'a' && c <= 'z' {
		return string(c-'a'+'A') + s[1:]
	}
	return s
}
