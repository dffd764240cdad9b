package anonq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// ============================================================================
// Change events
// ============================================================================

// ChangeKind is the type of a change-feed event.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// ChangeEvent is one reconciler-ready notification. Message is set for
// inserts and updates; deletes carry only MessageID.
type ChangeEvent struct {
	Kind      ChangeKind
	Message   *Message
	MessageID string
}

// EventHandler receives change events as they arrive. Delivery is
// at-least-once; the store's id-keyed apply absorbs duplicates.
type EventHandler func(ChangeEvent)

// Feed is the subscription surface the mutation façade depends on. The
// listener implements it over WebSocket; tests feed synthetic events.
type Feed interface {
	Subscribe(ctx context.Context, profileID string, fn EventHandler) (Subscription, error)
}

// Subscription is a disposable handle on one live feed. Done is closed
// when the feed stops for any reason; Err reports why, or nil after a
// clean Close.
type Subscription interface {
	Close() error
	Done() <-chan struct{}
	Err() error
}

// ============================================================================
// Wire format
// ============================================================================

const (
	feedPath = "/feed/v1"

	envSubscribe  = "subscribe"
	envSubscribed = "subscribed"
	envChange     = "change"
	envError      = "error"
)

type feedCommand struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

type feedEnvelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

type subscribePayload struct {
	Table  string `json:"table"`
	Filter string `json:"filter"`
}

type changePayload struct {
	EventType string   `json:"eventType"`
	New       *Message `json:"new,omitempty"`
	Old       *oldRow  `json:"old,omitempty"`
}

type oldRow struct {
	ID string `json:"id"`
}

func mapChange(p *changePayload) (ChangeEvent, bool) {
	switch strings.ToUpper(p.EventType) {
	case "INSERT":
		if p.New == nil {
			return ChangeEvent{}, false
		}
		return ChangeEvent{Kind: ChangeInsert, Message: p.New, MessageID: p.New.ID}, true
	case "UPDATE":
		if p.New == nil {
			return ChangeEvent{}, false
		}
		return ChangeEvent{Kind: ChangeUpdate, Message: p.New, MessageID: p.New.ID}, true
	case "DELETE":
		if p.Old == nil || p.Old.ID == "" {
			return ChangeEvent{}, false
		}
		return ChangeEvent{Kind: ChangeDelete, MessageID: p.Old.ID}, true
	}
	return ChangeEvent{}, false
}

// ============================================================================
// Configuration
// ============================================================================

// FeedConfig tunes the listener's retry behavior.
type FeedConfig struct {
	MaxRetries        int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	HeartbeatInterval time.Duration
}

func (c *FeedConfig) defaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 10
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = 1 * time.Second
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(cfg *FeedConfig) *reconnector {
	return &reconnector{
		baseDelay:   cfg.BackoffBase,
		maxDelay:    cfg.BackoffMax,
		maxAttempts: cfg.MaxRetries,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	// A connection that held for a minute earns a fresh budget.
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// FeedListener
// ============================================================================

// FeedListener subscribes to the backend's per-profile change feed. Each
// Subscribe call returns an independent disposable handle.
//
// A lost connection is retried with exponential backoff up to the
// configured budget. Past the budget the subscription stops silently:
// Done closes, Err reports a SubscriptionError, and the consumer
// recovers freshness with an explicit refresh. Missed events are never
// replayed.
type FeedListener struct {
	client *Client
	cfg    FeedConfig
	log    zerolog.Logger
}

// NewFeedListener creates a listener on top of an existing client. A nil
// config takes the defaults.
func NewFeedListener(client *Client, cfg *FeedConfig) *FeedListener {
	var c FeedConfig
	if cfg != nil {
		c = *cfg
	}
	c.defaults()
	return &FeedListener{client: client, cfg: c, log: client.log}
}

func (l *FeedListener) wsURL() string {
	base := strings.Replace(l.client.baseURL, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	q := url.Values{}
	q.Set("apikey", l.client.anonKey)
	if l.client.token != "" {
		q.Set("token", l.client.token)
	}
	return base + feedPath + "?" + q.Encode()
}

// Subscribe opens a subscription filtered to profileID and pushes every
// change through fn. It returns once the server acknowledges the filter,
// or with an error when the feed cannot be established at all.
func (l *FeedListener) Subscribe(ctx context.Context, profileID string, fn EventHandler) (Subscription, error) {
	if err := requireID("profileId", profileID); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sub := &feedSub{
		listener:  l,
		profileID: profileID,
		fn:        fn,
		recon:     newReconnector(&l.cfg),
		done:      make(chan struct{}),
		cancel:    cancel,
	}

	conn, err := sub.connect(ctx)
	if err != nil {
		cancel()
		return nil, &SubscriptionError{Attempts: 1, Err: err}
	}

	go sub.run(runCtx, conn)
	return sub, nil
}

type feedSub struct {
	listener  *FeedListener
	profileID string
	fn        EventHandler
	recon     *reconnector

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	err    error

	done   chan struct{}
	cancel context.CancelFunc
}

// connect dials, requests the profile filter, and waits for the ack.
func (s *feedSub) connect(ctx context.Context) (*websocket.Conn, error) {
	l := s.listener

	conn, _, err := websocket.Dial(ctx, l.wsURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("feed dial: %w", err)
	}

	cmd := feedCommand{
		Type: envSubscribe,
		Payload: subscribePayload{
			Table:  "messages",
			Filter: "profile_id=eq." + s.profileID,
		},
		RequestID: uuid.NewString(),
	}
	if err := wsjson.Write(ctx, conn, cmd); err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		return nil, fmt.Errorf("feed subscribe: %w", err)
	}

	var ack feedEnvelope
	if err := wsjson.Read(ctx, conn, &ack); err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		return nil, fmt.Errorf("feed subscribe ack: %w", err)
	}
	if ack.Type != envSubscribed {
		conn.Close(websocket.StatusNormalClosure, "")
		if ack.Type == envError {
			var p struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(ack.Payload, &p) == nil && p.Message != "" {
				return nil, errors.New(p.Message)
			}
		}
		return nil, fmt.Errorf("expected %q, got %q", envSubscribed, ack.Type)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	l.log.Debug().Str("profile_id", s.profileID).Msg("feed subscribed")
	return conn, nil
}

// run owns the connection for the life of the subscription, including
// reconnects.
func (s *feedSub) run(ctx context.Context, conn *websocket.Conn) {
	for {
		s.recon.markConnected()
		s.readLoop(ctx, conn)

		if s.isClosed() || ctx.Err() != nil {
			return
		}

		next, err := s.reconnect(ctx)
		if err != nil {
			s.fail(err)
			return
		}
		conn = next
	}
}

func (s *feedSub) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close(websocket.StatusNormalClosure, "")

	heartbeat := time.NewTicker(s.listener.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	events := make(chan feedEnvelope)
	readErr := make(chan error, 1)
	go func() {
		for {
			var env feedEnvelope
			if err := wsjson.Read(ctx, conn, &env); err != nil {
				readErr <- err
				return
			}
			select {
			case events <- env:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-readErr:
			if !s.isClosed() {
				s.listener.log.Debug().Err(err).Str("profile_id", s.profileID).Msg("feed connection lost")
			}
			return
		case <-heartbeat.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				return
			}
		case env := <-events:
			s.handle(env)
		}
	}
}

func (s *feedSub) handle(env feedEnvelope) {
	if env.Type != envChange {
		return
	}
	var p changePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		s.listener.log.Debug().Err(err).Msg("feed: bad change payload")
		return
	}
	if ev, ok := mapChange(&p); ok {
		s.fn(ev)
	}
}

// reconnect retries with exponential backoff until a connection sticks
// or the budget runs out.
func (s *feedSub) reconnect(ctx context.Context) (*websocket.Conn, error) {
	for s.recon.shouldReconnect() {
		delay := s.recon.nextDelay()
		s.listener.log.Debug().
			Dur("delay", delay).
			Int("attempt", s.recon.attempt).
			Msg("feed reconnecting")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		dialCtx, dialCancel := context.WithTimeout(ctx, 30*time.Second)
		conn, err := s.connect(dialCtx)
		dialCancel()
		if err == nil {
			return conn, nil
		}
		if s.isClosed() {
			return nil, ctx.Err()
		}
	}
	return nil, &SubscriptionError{Attempts: s.recon.attempt, Err: errors.New("retry budget exhausted")}
}

func (s *feedSub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fail records the terminal error and closes Done. No events flow after
// this; only an explicit refresh restores live updates.
func (s *feedSub) fail(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = err
	s.mu.Unlock()

	s.cancel()
	close(s.done)
	s.listener.log.Warn().Err(err).Str("profile_id", s.profileID).Msg("feed stopped")
}

// Close tears the subscription down. Safe to call more than once.
func (s *feedSub) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	s.cancel()
	close(s.done)
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client close")
	}
	return nil
}

// Done is closed when the subscription stops delivering, cleanly or not.
func (s *feedSub) Done() <-chan struct{} { return s.done }

// Err reports why the subscription stopped; nil after a clean Close.
func (s *feedSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
