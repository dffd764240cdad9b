package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/xuri/excelize/v2"

	anonq "github.com/anonq-app/anonq-go"
)

var exportOut string

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "inbox.xlsx", "output file path")
	rootCmd.AddCommand(exportCmd)
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export your inbox to an Excel workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()
		inbox := newInbox(client, cfg)
		if err := inbox.Refresh(cmd.Context()); err != nil {
			return fmt.Errorf("failed to fetch messages: %w", err)
		}

		msgs := inbox.Messages()
		if err := writeWorkbook(exportOut, msgs, inbox.Stats()); err != nil {
			return err
		}
		fmt.Printf("Exported %d messages to %s\n", len(msgs), exportOut)
		return nil
	},
}

func writeWorkbook(path string, msgs []anonq.Message, stats anonq.MessageStats) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Messages"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"ID", "Received", "Type", "Read", "Content"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}
	for row, m := range msgs {
		values := []interface{}{
			m.ID,
			m.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			string(m.MessageType),
			m.IsRead,
			m.Content,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue(sheet, cell, v)
		}
	}

	statsSheet := "Stats"
	if _, err := f.NewSheet(statsSheet); err != nil {
		return fmt.Errorf("failed to create stats sheet: %w", err)
	}
	rows := [][]interface{}{
		{"Total messages", stats.TotalMessages},
		{"Unread", stats.UnreadMessages},
		{"Today", stats.MessagesToday},
		{"This week", stats.MessagesThisWeek},
	}
	for i, r := range rows {
		keyCell, _ := excelize.CoordinatesToCellName(1, i+1)
		valCell, _ := excelize.CoordinatesToCellName(2, i+1)
		f.SetCellValue(statsSheet, keyCell, r[0])
		f.SetCellValue(statsSheet, valCell, r[1])
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}
