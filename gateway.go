package anonq

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// ============================================================================
// Fetch Gateway
// ============================================================================

// Gateway is the remote-call surface the mutation façade depends on.
// *Client implements it against the data API; tests substitute fakes.
//
// Every write carries a compound (id + profile_id) predicate so a guessed
// message id outside the caller's profile can never match a row, even
// before the backend's row-level policies reject it.
type Gateway interface {
	ListMessages(ctx context.Context, profileID string) ([]Message, error)
	InsertMessage(ctx context.Context, msg NewMessage) (*Message, error)
	UpdateReadState(ctx context.Context, messageID, profileID string, isRead bool) error
	DeleteMessage(ctx context.Context, messageID, profileID string) error
	DeleteMessages(ctx context.Context, messageIDs []string, profileID string) error
	MarkAllRead(ctx context.Context, profileID string) error
}

const (
	messagesPath = restPrefix + "/messages"
	profilesPath = restPrefix + "/profiles"

	preferRepresentation = "return=representation"
)

func requireID(field, id string) error {
	if id == "" {
		return &ValidationError{Field: field, Reason: "is required"}
	}
	if _, err := uuid.Parse(id); err != nil {
		return &ValidationError{Field: field, Reason: "must be a UUID"}
	}
	return nil
}

// ListMessages returns every message for profileID, newest first. The
// ordering is applied server-side so the store's canonical order matches
// the backend's created_at index.
func (c *Client) ListMessages(ctx context.Context, profileID string) ([]Message, error) {
	if err := requireID("profileId", profileID); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("select", "*")
	q.Set("profile_id", "eq."+profileID)
	q.Set("order", "created_at.desc")

	data, err := c.doRequest(ctx, http.MethodGet, messagesPath, nil, q, "")
	if err != nil {
		return nil, err
	}
	msgs, err := decodeJSON[[]Message](data)
	if err != nil {
		return nil, err
	}
	return *msgs, nil
}

// InsertMessage creates a message and returns the server's echo of the
// row. Write-only actors (anonymous senders) may get no representation
// back; that is success with a nil message, not an error.
func (c *Client) InsertMessage(ctx context.Context, msg NewMessage) (*Message, error) {
	if err := requireID("profileId", msg.ProfileID); err != nil {
		return nil, err
	}
	if msg.MessageType != MessageTypeAnonymous && msg.MessageType != MessageTypeUserToUser {
		return nil, &ValidationError{Field: "messageType", Reason: "must be anonymous or user_to_user"}
	}

	data, err := c.doRequest(ctx, http.MethodPost, messagesPath, msg, nil, preferRepresentation)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	rows, err := decodeJSON[[]Message](data)
	if err != nil || len(*rows) == 0 {
		// No echoed row; the recipient learns of it via fetch or feed.
		return nil, nil
	}
	created := (*rows)[0]
	return &created, nil
}

// UpdateReadState sets is_read on one message owned by profileID.
func (c *Client) UpdateReadState(ctx context.Context, messageID, profileID string, isRead bool) error {
	if err := requireID("messageId", messageID); err != nil {
		return err
	}
	if err := requireID("profileId", profileID); err != nil {
		return err
	}

	q := url.Values{}
	q.Set("id", "eq."+messageID)
	q.Set("profile_id", "eq."+profileID)

	_, err := c.doRequest(ctx, http.MethodPatch, messagesPath, map[string]bool{"is_read": isRead}, q, "")
	return err
}

// MarkAllRead flips every unread message of profileID to read in one
// call.
func (c *Client) MarkAllRead(ctx context.Context, profileID string) error {
	if err := requireID("profileId", profileID); err != nil {
		return err
	}

	q := url.Values{}
	q.Set("profile_id", "eq."+profileID)
	q.Set("is_read", "eq.false")

	_, err := c.doRequest(ctx, http.MethodPatch, messagesPath, map[string]bool{"is_read": true}, q, "")
	return err
}

// DeleteMessage removes one message owned by profileID.
func (c *Client) DeleteMessage(ctx context.Context, messageID, profileID string) error {
	if err := requireID("messageId", messageID); err != nil {
		return err
	}
	if err := requireID("profileId", profileID); err != nil {
		return err
	}

	q := url.Values{}
	q.Set("id", "eq."+messageID)
	q.Set("profile_id", "eq."+profileID)

	_, err := c.doRequest(ctx, http.MethodDelete, messagesPath, nil, q, "")
	return err
}

// DeleteMessages removes a batch of messages owned by profileID using a
// single in-predicate call.
func (c *Client) DeleteMessages(ctx context.Context, messageIDs []string, profileID string) error {
	if err := requireID("profileId", profileID); err != nil {
		return err
	}
	if len(messageIDs) == 0 {
		return &ValidationError{Field: "messageIds", Reason: "must not be empty"}
	}
	for _, id := range messageIDs {
		if err := requireID("messageId", id); err != nil {
			return err
		}
	}

	q := url.Values{}
	q.Set("id", "in.("+strings.Join(messageIDs, ",")+")")
	q.Set("profile_id", "eq."+profileID)

	_, err := c.doRequest(ctx, http.MethodDelete, messagesPath, nil, q, "")
	return err
}

// ============================================================================
// Profiles (read-only)
// ============================================================================

// GetProfile looks a profile up by id. Returns (nil, nil) when absent.
func (c *Client) GetProfile(ctx context.Context, profileID string) (*Profile, error) {
	if err := requireID("profileId", profileID); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("select", "*")
	q.Set("id", "eq."+profileID)
	return c.fetchProfile(ctx, q)
}

// GetProfileByUserID resolves an authenticated user to their profile.
// Returns (nil, nil) when the user has no profile yet.
func (c *Client) GetProfileByUserID(ctx context.Context, userID string) (*Profile, error) {
	if err := requireID("userId", userID); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("select", "*")
	q.Set("user_id", "eq."+userID)
	return c.fetchProfile(ctx, q)
}

// GetProfileByUsername resolves a share-link username to its profile.
// Returns (nil, nil) when absent.
func (c *Client) GetProfileByUsername(ctx context.Context, username string) (*Profile, error) {
	if strings.TrimSpace(username) == "" {
		return nil, &ValidationError{Field: "username", Reason: "is required"}
	}
	q := url.Values{}
	q.Set("select", "*")
	q.Set("username", "eq."+username)
	return c.fetchProfile(ctx, q)
}

func (c *Client) fetchProfile(ctx context.Context, q url.Values) (*Profile, error) {
	data, err := c.doRequest(ctx, http.MethodGet, profilesPath, nil, q, "")
	if err != nil {
		return nil, err
	}
	rows, err := decodeJSON[[]Profile](data)
	if err != nil {
		return nil, err
	}
	if len(*rows) == 0 {
		return nil, nil
	}
	p := (*rows)[0]
	return &p, nil
}
