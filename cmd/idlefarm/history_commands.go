package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"idlefarm/internal/history"
	"idlefarm/internal/ipc"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent farm runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(rpcCtx context.Context, client *ipc.Client) error {
				resp, err := client.History(rpcCtx, limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Runs)
				}
				out := cmd.OutOrStdout()
				if len(resp.Runs) == 0 {
					fmt.Fprintln(out, "No runs recorded")
					return nil
				}
				fmt.Fprint(out, renderTable(
					[]string{"Run", "Mode", "Started", "Ended", "Reason", "Cards", "Detail"},
					historyRows(resp.Runs),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print runs as JSON")
	cmd.AddCommand(newHistoryCardsCommand(ctx))
	return cmd
}

func newHistoryCardsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cards RUN_ID",
		Short: "List games completed during a card farm run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(rpcCtx context.Context, client *ipc.Client) error {
				resp, err := client.RunCards(rpcCtx, strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(resp.Cards) == 0 {
					fmt.Fprintln(out, "No card completions recorded for this run")
					return nil
				}
				rows := make([][]string, 0, len(resp.Cards))
				for _, card := range resp.Cards {
					rows = append(rows, []string{gameLabel(card.AppID, card.Name), formatDuration(card.Farmed), formatTime(card.CompletedAt)})
				}
				fmt.Fprint(out, renderTable([]string{"Game", "Farmed", "Completed"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}

func historyRows(runs []history.RunRecord) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		ended, reason := formatTime(run.EndedAt), string(run.EndReason)
		if run.Active() {
			ended, reason = "active", "-"
		}
		cards := "-"
		if run.Cards > 0 {
			cards = strconv.Itoa(run.Cards)
		}
		rows = append(rows, []string{run.ID, string(run.Mode), formatTime(run.StartedAt), ended, reason, cards, run.Detail})
	}
	return rows
}
