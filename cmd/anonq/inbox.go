package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	anonq "github.com/anonq-app/anonq-go"
)

var (
	inboxFilter   string
	inboxSort     string
	inboxPage     int
	inboxPageSize int
	inboxJSON     bool
)

func init() {
	inboxCmd.Flags().StringVar(&inboxFilter, "filter", "all", "filter by read state: all, unread, read")
	inboxCmd.Flags().StringVar(&inboxSort, "sort", "newest", "sort order: newest, oldest, unread, read")
	inboxCmd.Flags().IntVar(&inboxPage, "page", 1, "page number (1-indexed)")
	inboxCmd.Flags().IntVar(&inboxPageSize, "page-size", 10, "messages per page (0 for all)")
	inboxCmd.Flags().BoolVar(&inboxJSON, "json", false, "output raw JSON")
	rootCmd.AddCommand(inboxCmd)
}

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Show your messages",
	Long:  "Fetch your messages and print one page of them, filtered and sorted locally.",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := viewOptions()
		if err != nil {
			return err
		}

		client, cfg := getClient()
		inbox := newInbox(client, cfg)
		if err := inbox.Refresh(cmd.Context()); err != nil {
			return fmt.Errorf("failed to fetch messages: %w", err)
		}

		page := inbox.View(opts)
		if inboxJSON {
			printJSON(page)
			return nil
		}

		if page.TotalItems == 0 {
			fmt.Println("No messages.")
			return nil
		}
		for _, m := range page.Messages {
			printMessage(m)
		}
		fmt.Printf("\nPage %d of %d (%d messages, %d unread)\n",
			page.Page, page.TotalPages, page.TotalItems, inbox.UnreadCount())
		return nil
	},
}

func viewOptions() (anonq.ViewOptions, error) {
	opts := anonq.ViewOptions{Page: inboxPage, PageSize: inboxPageSize}

	switch inboxFilter {
	case "all":
		opts.Filter = anonq.FilterAll
	case "unread":
		opts.Filter = anonq.FilterUnread
	case "read":
		opts.Filter = anonq.FilterRead
	default:
		return opts, fmt.Errorf("unknown filter %q (valid: all, unread, read)", inboxFilter)
	}

	switch inboxSort {
	case "newest":
		opts.Sort = anonq.SortNewest
	case "oldest":
		opts.Sort = anonq.SortOldest
	case "unread":
		opts.Sort = anonq.SortUnreadFirst
	case "read":
		opts.Sort = anonq.SortReadFirst
	default:
		return opts, fmt.Errorf("unknown sort %q (valid: newest, oldest, unread, read)", inboxSort)
	}

	return opts, nil
}

func printMessage(m anonq.Message) {
	marker := "•"
	if m.IsRead {
		marker = " "
	}
	from := "anonymous"
	if m.MessageType == anonq.MessageTypeUserToUser && m.SenderProfileID != nil {
		from = "profile " + *m.SenderProfileID
	}
	content := m.Content
	if idx := strings.IndexByte(content, '\n'); idx >= 0 {
		content = content[:idx] + " ..."
	}
	fmt.Printf("%s %s  %s  [%s]\n    %s\n",
		marker, m.ID, m.CreatedAt.Local().Format("2006-01-02 15:04"), from, content)
}
