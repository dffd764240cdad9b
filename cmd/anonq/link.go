package main

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

var linkQR string

func init() {
	linkCmd.Flags().StringVar(&linkQR, "qr", "", "also write the link as a QR code PNG to this path")
	rootCmd.AddCommand(linkCmd)
}

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Print your share link",
	Long:  "Print the public URL people use to send you anonymous messages,\noptionally rendered as a QR code image.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Auth.Username == "" {
			return fmt.Errorf("not logged in; run 'anonq login' first")
		}

		siteURL := cfg.Default.SiteURL
		if siteURL == "" {
			siteURL = "https://anonq.app"
		}
		link := fmt.Sprintf("%s/u/%s", siteURL, cfg.Auth.Username)
		fmt.Println(link)

		if linkQR != "" {
			if err := qrcode.WriteFile(link, qrcode.Medium, 256, linkQR); err != nil {
				return fmt.Errorf("failed to write QR code: %w", err)
			}
			fmt.Printf("QR code written to %s\n", linkQR)
		}
		return nil
	},
}
