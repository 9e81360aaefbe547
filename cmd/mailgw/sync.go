package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/mailgateway/internal/theme"
)

func syncCmd(opts *globalOptions) *cobra.Command {
	var hours int

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Ingest recent mail once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(opts)
			if err != nil {
				return err
			}
			defer e.close()

			lookback := e.service.DefaultLookback()
			if hours > 0 {
				lookback = time.Duration(hours) * time.Hour
			}

			msgs, err := e.service.SyncNow(cmd.Context(), lookback)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, theme.HeaderStyle.Render(fmt.Sprintf("%d new messages", len(msgs))))
			for _, m := range msgs {
				fmt.Fprintf(out, "%s  %s  %s  %s\n",
					m.ReceivedAt.Local().Format("2006-01-02 15:04"),
					theme.ImportanceStyle(m.Importance).Render(fmt.Sprintf("%-6s", m.Importance)),
					m.Sender,
					m.Subject,
				)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 0, "lookback window in hours (default from config)")
	return cmd
}
