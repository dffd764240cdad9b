package main

import (
	"fmt"

	"github.com/spf13/cobra"

	anonq "github.com/anonq-app/anonq-go"
)

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <access-token>",
	Short: "Save an access token and resolve your profile",
	Long:  "Save an access token issued by the AnonQ auth service and look up the profile it belongs to.\nThe token and profile are stored in ~/.anonq/config.toml for later commands.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := args[0]

		session := anonq.NewSession(token)
		userID, err := session.ActorID()
		if err != nil {
			return fmt.Errorf("token rejected: %w", err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Auth.AccessToken = token
		if err := saveConfig(cfg); err != nil {
			return err
		}

		client, cfg := getClient()
		profile, err := client.GetProfileByUserID(cmd.Context(), userID)
		if err != nil {
			return fmt.Errorf("failed to look up profile: %w", err)
		}
		if profile == nil {
			return fmt.Errorf("no profile exists for this account yet")
		}

		cfg.Auth.ProfileID = profile.ID
		cfg.Auth.Username = profile.Username
		if err := saveConfig(cfg); err != nil {
			return err
		}

		fmt.Printf("Logged in as @%s (profile %s)\n", profile.Username, profile.ID)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the saved access token and profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Auth = ConfigAuth{}
		if err := saveConfig(cfg); err != nil {
			return err
		}
		fmt.Println("Logged out.")
		return nil
	},
}
