package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	anonq "github.com/anonq-app/anonq-go"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live inbox changes",
	Long:  "Subscribe to the change feed and print every insert, update and delete\nas it happens. Ctrl-C to stop.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, cfg := getClient()
		inbox := newInbox(client, cfg, anonq.WithEventHook(printEvent))
		if err := inbox.Start(ctx); err != nil {
			return fmt.Errorf("failed to start inbox: %w", err)
		}
		defer inbox.Close()

		fmt.Printf("Watching @%s (%d messages, %d unread). Ctrl-C to stop.\n",
			cfg.Auth.Username, inbox.Store().Len(), inbox.UnreadCount())

		<-ctx.Done()
		fmt.Println("\nStopped.")
		return nil
	},
}

func printEvent(ev anonq.ChangeEvent) {
	switch ev.Kind {
	case anonq.ChangeInsert:
		printMessage(*ev.Message)
	case anonq.ChangeUpdate:
		fmt.Printf("~ %s updated (read=%t)\n", ev.MessageID, ev.Message.IsRead)
	case anonq.ChangeDelete:
		fmt.Printf("- %s deleted\n", ev.MessageID)
	}
}
