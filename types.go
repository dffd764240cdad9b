package anonq

import (
	"fmt"
	"strings"
	"time"
)

// ============================================================================
// Message model
// ============================================================================

// MessageType distinguishes anonymous drops from identified user-to-user
// messages. It is immutable once a message is created.
type MessageType string

const (
	MessageTypeAnonymous  MessageType = "anonymous"
	MessageTypeUserToUser MessageType = "user_to_user"
)

// MaxContentLength is the content bound enforced by the producing client.
const MaxContentLength = 1000

// Message is one row of the messages table. ID and CreatedAt are assigned
// server-side; sender fields are populated only for user_to_user messages.
type Message struct {
	ID              string      `json:"id"`
	ProfileID       string      `json:"profile_id"`
	SenderID        *string     `json:"sender_id,omitempty"`
	SenderProfileID *string     `json:"sender_profile_id,omitempty"`
	Content         string      `json:"content"`
	MessageType     MessageType `json:"message_type"`
	IsRead          bool        `json:"is_read"`
	CreatedAt       time.Time   `json:"created_at"`
}

// NewMessage is the insert payload for a send. The backend assigns id and
// created_at; is_read always starts false.
type NewMessage struct {
	ProfileID       string      `json:"profile_id"`
	Content         string      `json:"content"`
	MessageType     MessageType `json:"message_type"`
	SenderID        *string     `json:"sender_id,omitempty"`
	SenderProfileID *string     `json:"sender_profile_id,omitempty"`
	IsRead          bool        `json:"is_read"`
}

// Profile is the receiving side of a share link. Consumed read-only; all
// profile management lives in the backend.
type Profile struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Role      string    `json:"role,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessageStats aggregates the dashboard counters. Always computed on
// demand from the canonical store, never cached.
type MessageStats struct {
	TotalMessages    int `json:"total_messages"`
	UnreadMessages   int `json:"unread_messages"`
	MessagesToday    int `json:"messages_today"`
	MessagesThisWeek int `json:"messages_this_week"`
}

// ============================================================================
// View options
// ============================================================================

// ReadFilter selects a subset of the store by read state.
type ReadFilter string

const (
	FilterAll    ReadFilter = "all"
	FilterUnread ReadFilter = "unread"
	FilterRead   ReadFilter = "read"
)

// SortMode orders a view. The "-first" modes partition by read state and
// fall back to newest-first within each partition.
type SortMode string

const (
	SortNewest      SortMode = "newest"
	SortOldest      SortMode = "oldest"
	SortUnreadFirst SortMode = "unread"
	SortReadFirst   SortMode = "read"
)

// ViewOptions selects a filtered, sorted, paginated window over the
// canonical collection. Page is 1-indexed; Page/PageSize of zero disables
// pagination.
type ViewOptions struct {
	Filter   ReadFilter
	Sort     SortMode
	Page     int
	PageSize int
}

// Page is one window of a view plus the numbers a pager needs.
type Page struct {
	Messages   []Message
	Page       int
	PageSize   int
	TotalPages int
	TotalItems int
}

// ============================================================================
// Errors
// ============================================================================

// RemoteError is a transport failure or a backend-rejected operation.
// Cross-profile writes rejected by row-level security surface here too;
// the client cannot tell them apart from other remote rejections.
type RemoteError struct {
	Status  int
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote: %s: %s (HTTP %d)", e.Code, e.Message, e.Status)
	}
	return fmt.Sprintf("remote: %s (HTTP %d)", e.Message, e.Status)
}

// ValidationError means the caller supplied insufficient input. It is
// raised before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PermissionError means the actor context is insufficient for the
// requested operation, e.g. an anonymous actor attempting a
// user_to_user send.
type PermissionError struct {
	Op     string
	Reason string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// SubscriptionError means the change feed could not be established or was
// lost past the retry budget. The store stays correct as of the last
// fetch/mutation; freshness degrades to fetch-only until a refresh.
type SubscriptionError struct {
	Attempts int
	Err      error
}

func (e *SubscriptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("change feed down after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("change feed down after %d attempts", e.Attempts)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// ============================================================================
// Shared validation helpers
// ============================================================================

func validateContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", &ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if len([]rune(trimmed)) > MaxContentLength {
		return "", &ValidationError{Field: "content", Reason: fmt.Sprintf("exceeds %d characters", MaxContentLength)}
	}
	return trimmed, nil
}
