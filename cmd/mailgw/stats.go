package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/nhle/mailgateway/internal/model"
	"github.com/nhle/mailgateway/internal/theme"
)

func statsCmd(opts *globalOptions) *cobra.Command {
	var runs int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show stored mailbox statistics and recent sync runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openStore(opts)
			if err != nil {
				return err
			}
			defer e.close()

			stats, err := e.store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			history, err := e.store.RecentSyncRuns(cmd.Context(), runs)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderStats(stats, history))
			return nil
		},
	}
	cmd.Flags().IntVar(&runs, "runs", 5, "number of recent sync runs to show")
	return cmd
}

func renderStats(stats *model.Stats, runs []model.SyncRun) string {
	row := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top,
			theme.LabelStyle.Render(label),
			theme.ValueStyle.Render(value),
		)
	}

	totals := []string{
		row("Total", strconv.Itoa(stats.Total)),
		row("Unread", strconv.Itoa(stats.Unread)),
		row("With attachments", strconv.Itoa(stats.WithAttachments)),
	}

	senders := []string{theme.HeaderStyle.Render("Top senders")}
	for _, s := range stats.TopSenders {
		senders = append(senders, row(s.Sender, strconv.Itoa(s.Count)))
	}
	if len(stats.TopSenders) == 0 {
		senders = append(senders, theme.HelpStyle.Render("no mail stored yet"))
	}

	days := []string{theme.HeaderStyle.Render("Per day")}
	for _, d := range stats.PerDay {
		days = append(days, row(d.Day, strconv.Itoa(d.Count)))
	}

	history := []string{theme.HeaderStyle.Render("Recent syncs")}
	for _, r := range runs {
		outcome := "ok"
		if !r.Succeeded() {
			outcome = "failed: " + r.Error
		}
		history = append(history, fmt.Sprintf("%s %s +%d ~%d  %s",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			theme.TriggerStyle(string(r.Trigger)).Render(string(r.Trigger)),
			r.Processed,
			r.Updated,
			theme.RunStyle(r.Succeeded()).Render(outcome),
		))
	}
	if len(runs) == 0 {
		history = append(history, theme.HelpStyle.Render("no runs recorded"))
	}

	sections := []string{
		theme.BorderStyle.Render(strings.Join(totals, "\n")),
		strings.Join(senders, "\n"),
		strings.Join(days, "\n"),
		strings.Join(history, "\n"),
	}
	return strings.Join(sections, "\n\n")
}
