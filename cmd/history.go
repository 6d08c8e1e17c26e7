package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.olrik.dev/tether/internal/core"
	"go.olrik.dev/tether/internal/db"
)

func NewHistoryCommand() *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent tunnel lifecycle events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			database, err := db.Open(core.GetHistoryPath())
			if err != nil {
				return fmt.Errorf("failed to open history database: %w", err)
			}
			defer database.Close()

			events, err := database.RecentEvents(limit)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Println("No recorded events")
				return nil
			}

			for _, e := range events {
				line := fmt.Sprintf("%s  %-7s port %d",
					e.Timestamp.Local().Format(time.DateTime), e.EventType, e.BindPort)
				if e.RemoteHost != "" {
					line += fmt.Sprintf("  %s@%s", e.RemoteUser, e.RemoteHost)
				}
				if e.PID > 0 {
					line += fmt.Sprintf("  (PID %d)", e.PID)
				}
				if e.Details != "" {
					line += fmt.Sprintf("  %s", e.Details)
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	historyCmd.Flags().IntP("limit", "n", 20, "maximum number of events to show")

	return historyCmd
}
