package main

import (
	"fmt"

	"github.com/spf13/cobra"

	anonq "github.com/anonq-app/anonq-go"
)

var sendIdentified bool

func init() {
	sendCmd.Flags().BoolVar(&sendIdentified, "identified", false, "send as your logged-in identity instead of anonymously")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <username> <content>",
	Short: "Send a message to a user's share link",
	Long:  "Send a message to the profile behind <username>. Anonymous by default;\npass --identified to attach your logged-in identity (requires login).",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		username, content := args[0], args[1]

		client, cfg := getClient()

		target, err := client.GetProfileByUsername(cmd.Context(), username)
		if err != nil {
			return fmt.Errorf("failed to look up @%s: %w", username, err)
		}
		if target == nil {
			return fmt.Errorf("no such user: @%s", username)
		}

		msgType := anonq.MessageTypeAnonymous
		var session *anonq.Session
		if sendIdentified {
			msgType = anonq.MessageTypeUserToUser
			session = getSession(cfg)
		}

		feed := anonq.NewFeedListener(client, nil)
		inbox := anonq.NewInbox(client, feed, session, cfg.Auth.ProfileID,
			anonq.WithInboxLogger(cliLogger()))

		msg, err := inbox.Send(cmd.Context(), target.ID, content, msgType)
		if err != nil {
			return fmt.Errorf("send failed: %w", err)
		}

		if msg != nil {
			fmt.Printf("Sent %s to @%s\n", msg.ID, username)
		} else {
			fmt.Printf("Sent to @%s\n", username)
		}
		return nil
	},
}
