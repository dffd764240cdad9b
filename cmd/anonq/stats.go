package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsJSON bool

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output raw JSON")
	rootCmd.AddCommand(statsCmd)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show inbox statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()
		inbox := newInbox(client, cfg)
		if err := inbox.Refresh(cmd.Context()); err != nil {
			return fmt.Errorf("failed to fetch messages: %w", err)
		}

		stats := inbox.Stats()
		if statsJSON {
			printJSON(stats)
			return nil
		}

		fmt.Printf("Total:     %d\n", stats.TotalMessages)
		fmt.Printf("Unread:    %d\n", stats.UnreadMessages)
		fmt.Printf("Today:     %d\n", stats.MessagesToday)
		fmt.Printf("This week: %d\n", stats.MessagesThisWeek)
		return nil
	},
}
