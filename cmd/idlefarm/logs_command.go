package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"idlefarm/internal/logging"
	"idlefarm/internal/logs"
	"idlefarm/internal/logstream"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var lines int
	var component string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent daemon log events",
		Long: "Show recent daemon log events. The HTTP API is used when paths.api_bind is set;\n" +
			"otherwise, or when the API does not answer, events are read over the control socket.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient, err := ctx.logClient()
			if err != nil {
				return err
			}
			rpc, err := ctx.dialClient()
			if err != nil && apiClient == nil {
				return err
			}
			if rpc != nil {
				defer rpc.Close()
			}

			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			runCtx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			var writeErr error
			onEvent := func(evt logging.LogEvent) {
				if writeErr != nil {
					return
				}
				if asJSON {
					writeErr = writeJSON(cmd, evt)
					return
				}
				fmt.Fprintln(out, renderLogEvent(evt, colorize))
			}

			var fallback logstream.RPCClient
			if rpc != nil {
				fallback = rpc
			}
			_, err = logstream.Stream(runCtx, apiClient, fallback, logstream.Options{
				Lines:     lines,
				Follow:    follow,
				Component: component,
			}, onEvent)
			if err != nil {
				return err
			}
			return writeErr
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming new events")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of recent events to show first")
	cmd.Flags().StringVar(&component, "component", "", "Only show events from this component")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print events as JSON")
	return cmd
}

// logClient returns nil when no API bind is configured.
func (c *commandContext) logClient() (*logs.StreamClient, error) {
	cfg := c.configValue()
	if cfg == nil {
		return nil, nil
	}
	return logs.NewStreamClient(cfg.Paths.APIBind, cfg.Paths.APIToken)
}
