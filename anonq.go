// Package anonq is the Go client for the AnonQ anonymous-messaging
// platform. It wraps the platform's REST data API and WebSocket change
// feed behind a reconciling in-memory message store.
//
// Example:
//
//	client := anonq.NewClient("https://xyz.anonq.app", anonKey)
//	feed := anonq.NewFeedListener(client, nil)
//	inbox := anonq.NewInbox(client, feed, session, profileID)
//
//	if err := inbox.Start(ctx); err != nil { ... }
//	defer inbox.Close()
//
//	view := inbox.View(anonq.ViewOptions{Sort: anonq.SortUnreadFirst, Page: 1, PageSize: 10})
package anonq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultTimeout = 30 * time.Second

	restPrefix = "/rest/v1"
)

// ============================================================================
// Client
// ============================================================================

// Client talks to one AnonQ backend. Construct it once at process start
// and pass it to the gateway consumers and the feed listener explicitly;
// there is no package-level singleton.
type Client struct {
	baseURL    string
	anonKey    string
	token      string
	httpClient *http.Client
	log        zerolog.Logger
}

type ClientOption func(*Client)

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithLogger attaches a structured logger. The default discards
// everything.
func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates a new AnonQ client. anonKey is the project's public
// API key; it authorizes anonymous reads and write-only sends under the
// backend's row-level policies.
func NewClient(baseURL, anonKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		log: zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// SetToken sets or updates the session access token. Pass "" to drop back
// to anonymous access.
func (c *Client) SetToken(token string) {
	c.token = token
}

// BaseURL returns the backend base URL the client was built with.
func (c *Client) BaseURL() string { return c.baseURL }

// ============================================================================
// Internal request helper
// ============================================================================

// doRequest issues one JSON request against the data API. Non-2xx
// responses decode into a RemoteError; the body is returned raw for the
// caller to unmarshal.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query url.Values, prefer string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}
	req.Header.Set("apikey", c.anonKey)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.anonKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RemoteError{Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RemoteError{Status: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		remote := &RemoteError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var apiErr struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			remote.Code = apiErr.Code
			remote.Message = apiErr.Message
		}
		c.log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("request rejected")
		return nil, remote
	}

	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}
