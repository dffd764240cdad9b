package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(deleteCmd)
}

var deleteCmd = &cobra.Command{
	Use:   "delete <message-id> [message-id...]",
	Short: "Delete one or more messages",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()
		inbox := newInbox(client, cfg)

		if len(args) == 1 {
			if err := inbox.Delete(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete failed: %w", err)
			}
		} else {
			if err := inbox.DeleteMany(cmd.Context(), args); err != nil {
				return fmt.Errorf("delete failed: %w", err)
			}
		}
		fmt.Printf("Deleted %d message(s).\n", len(args))
		return nil
	},
}
