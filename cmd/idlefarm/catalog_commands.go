package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"idlefarm/internal/ipc"
	"idlefarm/internal/steam"
)

func newSearchCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "search TERM...",
		Short: "Search the Steam store for app ids",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			term := strings.Join(args, " ")
			return ctx.withClient(cmd, func(rpcCtx context.Context, client *ipc.Client) error {
				resp, err := client.Search(rpcCtx, term)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Games)
				}
				out := cmd.OutOrStdout()
				if len(resp.Games) == 0 {
					fmt.Fprintf(out, "No store results for %q\n", term)
					return nil
				}
				rows := make([][]string, 0, len(resp.Games))
				for _, game := range resp.Games {
					rows = append(rows, []string{game.AppID.String(), game.Name})
				}
				fmt.Fprint(out, renderTable([]string{"App ID", "Name"}, rows, []columnAlignment{alignRight}))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	return cmd
}

func newAchievementsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	var showHidden bool
	cmd := &cobra.Command{
		Use:   "achievements APPID",
		Short: "List an app's achievements (requires steam.api_key)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appID, err := steam.ParseAppID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(cmd, func(rpcCtx context.Context, client *ipc.Client) error {
				resp, err := client.Achievements(rpcCtx, appID)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Achievements)
				}
				out := cmd.OutOrStdout()
				if len(resp.Achievements) == 0 {
					fmt.Fprintf(out, "App %s has no achievements\n", appID)
					return nil
				}
				rows := make([][]string, 0, len(resp.Achievements))
				for _, ach := range resp.Achievements {
					description := ach.Description
					if ach.Hidden && !showHidden {
						description = "(hidden)"
					}
					rows = append(rows, []string{ach.APIName, ach.DisplayName, description})
				}
				fmt.Fprint(out, renderTable([]string{"Event ID", "Name", "Description"}, rows, nil))
				fmt.Fprintf(out, "Unlock with: idlefarm farm achievements %s <event id>...\n", appID)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print achievements as JSON")
	cmd.Flags().BoolVar(&showHidden, "show-hidden", false, "Reveal descriptions of hidden achievements")
	return cmd
}
