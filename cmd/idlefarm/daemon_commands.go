package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"idlefarm/internal/daemon"
	"idlefarm/internal/daemonctl"
	"idlefarm/internal/ipc"
	"idlefarm/internal/orchestrator"
)

const (
	startWaitTimeout = 10 * time.Second
	stopGracePeriod  = 15 * time.Second
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Start or stop the idlefarm daemon process",
	}

	var logLevel string
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Launch idlefarmd in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := daemonctl.ResolveExecutable()
			if err != nil {
				return err
			}
			result, err := daemonctl.EnsureStarted(cmd.Context(), ctx.socketPath(), exe,
				daemonctl.LaunchOptions{ConfigPath: ctx.configPath(), LogLevel: logLevel}, startWaitTimeout)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if result.Launched {
				fmt.Fprintf(out, "Daemon started (pid %d)\n", result.PID)
			} else {
				fmt.Fprintf(out, "Daemon already running (pid %d)\n", result.PID)
			}
			return nil
		},
	}
	startCmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level for the launched daemon")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop any farm and terminate the daemon process",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			result, err := daemonctl.Stop(cmd.Context(), cfg, stopGracePeriod)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(out, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(out, "Daemon did not exit in time; killed pid %d\n", result.PID)
				return nil
			}
			fmt.Fprintln(out, "Daemon stopped")
			return nil
		},
	}

	daemonCmd.AddCommand(startCmd, stopCmd)
	return daemonCmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and farm status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var status daemon.Status
			err := ctx.withClient(cmd, func(rpcCtx context.Context, client *ipc.Client) error {
				resp, err := client.Status(rpcCtx)
				if err != nil {
					return err
				}
				status = resp.Status
				return nil
			})
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			if err != nil {
				if asJSON {
					return writeJSON(cmd, daemon.Status{})
				}
				for _, line := range renderSectionHeader("Daemon", colorize) {
					fmt.Fprintln(out, line)
				}
				fmt.Fprintln(out, renderStatusLine("idlefarmd", statusWarn, "Not running (run `idlefarm daemon start`)", colorize))
				return nil
			}
			if asJSON {
				return writeJSON(cmd, status)
			}
			renderStatus(out, status, colorize)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw status as JSON")
	return cmd
}

func renderStatus(out io.Writer, status daemon.Status, colorize bool) {
	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("idlefarmd", statusOK, fmt.Sprintf("Running (pid %d, since %s)", status.PID, formatTime(status.StartedAt)), colorize))
	if status.HistoryPath != "" {
		fmt.Fprintln(out, renderStatusLine("History", statusOK, status.HistoryPath, colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("History", statusWarn, "Unavailable", colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Log watchers", statusInfo, strconv.Itoa(status.Subscribers), colorize))
	fmt.Fprintln(out)

	farm := status.Farm
	for _, line := range renderSectionHeader("Farm", colorize) {
		fmt.Fprintln(out, line)
	}
	if farm.Mode == orchestrator.ModeNone || farm.Mode == "" {
		fmt.Fprintln(out, renderStatusLine("Mode", statusInfo, "Idle", colorize))
		return
	}
	fmt.Fprintln(out, renderStatusLine("Mode", statusOK, string(farm.Mode), colorize))
	fmt.Fprintln(out, renderStatusLine("Run", statusInfo, farm.RunID, colorize))
	fmt.Fprintln(out, renderStatusLine("Since", statusInfo, formatTime(farm.Since), colorize))
	if !farm.Deadline.IsZero() {
		fmt.Fprintln(out, renderStatusLine("Ends", statusInfo, formatTime(farm.Deadline), colorize))
	}
	if !farm.StopsAt.IsZero() {
		fmt.Fprintln(out, renderStatusLine("Stops", statusInfo, formatTime(farm.StopsAt), colorize))
	}
	if farm.Discovering {
		fmt.Fprintln(out, renderStatusLine("Cards", statusInfo, "Discovering games with card drops...", colorize))
	}

	if len(farm.Workers) > 0 {
		rows := make([][]string, 0, len(farm.Workers))
		for _, w := range farm.Workers {
			rows = append(rows, []string{w.ID, gameLabel(w.AppID, w.Name), string(w.Kind), strconv.Itoa(w.PID)})
		}
		fmt.Fprintln(out)
		fmt.Fprint(out, renderTable([]string{"Worker", "Game", "Kind", "PID"}, rows, []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight}))
	}

	if len(farm.Schedule) > 0 {
		rows := make([][]string, 0, len(farm.Schedule))
		for i, unlock := range farm.Schedule {
			state := "pending"
			if i < farm.UnlocksFired {
				state = "fired"
			}
			rows = append(rows, []string{strconv.Itoa(unlock.Index + 1), unlock.EventID, formatTime(unlock.At), state})
		}
		fmt.Fprintln(out)
		fmt.Fprint(out, renderTable([]string{"#", "Achievement", "At", "State"}, rows, []columnAlignment{alignRight}))
	}

	if cards := farm.Cards; cards != nil {
		rows := make([][]string, 0, len(cards.Queue)+1)
		if cards.Current != nil {
			rows = append(rows, []string{"farming", gameLabel(cards.Current.AppID, cards.Current.Name), strconv.Itoa(cards.Current.Remaining), formatDuration(cards.Current.AccumulatedTime)})
		}
		for _, item := range cards.Queue {
			rows = append(rows, []string{"queued", gameLabel(item.AppID, item.Name), strconv.Itoa(item.Remaining), formatDuration(item.AccumulatedTime)})
		}
		fmt.Fprintln(out)
		fmt.Fprint(out, renderTable([]string{"State", "Game", "Drops", "Farmed"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight, alignRight}))
		if !cards.NextPoll.IsZero() {
			fmt.Fprintln(out, renderStatusLine("Next check", statusInfo, formatTime(cards.NextPoll), colorize))
		}
	}
}
