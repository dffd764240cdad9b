package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	anonq "github.com/anonq-app/anonq-go"
)

// cliLogger builds the logger commands hand to the SDK. Silent unless
// --verbose.
func cliLogger() zerolog.Logger {
	if !verbose {
		return zerolog.Nop()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(zerolog.DebugLevel).
		With().Timestamp().Logger()
}

// getClient creates an AnonQ client from the saved config, attaching the
// session token when one is present. Environment variables override the
// config file for scripting.
func getClient() (*anonq.Client, *Config) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	baseURL := cfg.Default.BaseURL
	if v := os.Getenv("ANONQ_URL"); v != "" {
		baseURL = v
	}
	anonKey := cfg.Default.AnonKey
	if v := os.Getenv("ANONQ_ANON_KEY"); v != "" {
		anonKey = v
	}
	if baseURL == "" || anonKey == "" {
		fmt.Fprintln(os.Stderr, "No backend configured. Run 'anonq config set default.base_url <url>' and 'anonq config set default.anon_key <key>'.")
		os.Exit(1)
	}

	client := anonq.NewClient(baseURL, anonKey, anonq.WithLogger(cliLogger()))
	if cfg.Auth.AccessToken != "" {
		client.SetToken(cfg.Auth.AccessToken)
	}
	return client, cfg
}

// getSession wraps the saved access token. Exits if nobody is logged in.
func getSession(cfg *Config) *anonq.Session {
	if cfg.Auth.AccessToken == "" {
		fmt.Fprintln(os.Stderr, "Not logged in. Run 'anonq login' first.")
		os.Exit(1)
	}
	session := anonq.NewSession(cfg.Auth.AccessToken)
	if !session.Authenticated() {
		fmt.Fprintln(os.Stderr, "Saved access token is expired or invalid. Run 'anonq login' again.")
		os.Exit(1)
	}
	return session
}

// newInbox builds an inbox bound to the logged-in profile.
func newInbox(client *anonq.Client, cfg *Config, opts ...anonq.InboxOption) *anonq.Inbox {
	session := getSession(cfg)
	if cfg.Auth.ProfileID == "" {
		fmt.Fprintln(os.Stderr, "No profile saved. Run 'anonq login' again.")
		os.Exit(1)
	}
	feed := anonq.NewFeedListener(client, nil)
	opts = append(opts, anonq.WithInboxLogger(cliLogger()))
	return anonq.NewInbox(client, feed, session, cfg.Auth.ProfileID, opts...)
}

// printJSON pretty-prints any value as indented JSON.
func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}
