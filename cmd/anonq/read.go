package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var readAll bool

func init() {
	readCmd.Flags().BoolVar(&readAll, "all", false, "mark every unread message as read")
	rootCmd.AddCommand(readCmd)
}

var readCmd = &cobra.Command{
	Use:   "read [message-id]",
	Short: "Mark a message (or everything) as read",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if readAll == (len(args) == 1) {
			return fmt.Errorf("pass exactly one of <message-id> or --all")
		}

		client, cfg := getClient()
		inbox := newInbox(client, cfg)
		if err := inbox.Refresh(cmd.Context()); err != nil {
			return fmt.Errorf("failed to fetch messages: %w", err)
		}

		if readAll {
			unread := inbox.UnreadCount()
			if err := inbox.MarkAllAsRead(cmd.Context()); err != nil {
				return fmt.Errorf("failed to mark all read: %w", err)
			}
			fmt.Printf("Marked %d messages as read.\n", unread)
			return nil
		}

		if err := inbox.MarkAsRead(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to mark read: %w", err)
		}
		fmt.Printf("Marked %s as read.\n", args[0])
		return nil
	},
}
