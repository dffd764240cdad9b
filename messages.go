package anonq

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ============================================================================
// Inbox / mutation façade
// ============================================================================

// Inbox is the single entry point consumers use to act on one profile's
// messages. It composes the gateway, the change feed and the store, and
// enforces one rule everywhere: a mutation reaches the store only after
// the backend confirms it. There is no optimistic apply and no retry
// queue; a failed call leaves the store exactly as it was.
type Inbox struct {
	gw      Gateway
	feed    Feed
	session *Session
	store   *Store
	log     zerolog.Logger
	hook    EventHandler

	mu        sync.Mutex
	profileID string
	sub       Subscription
}

type InboxOption func(*Inbox)

func WithInboxLogger(log zerolog.Logger) InboxOption {
	return func(ib *Inbox) { ib.log = log }
}

// WithEventHook registers a callback fired after every feed event has
// been applied to the store. Useful for UIs that re-render on change.
func WithEventHook(fn EventHandler) InboxOption {
	return func(ib *Inbox) { ib.hook = fn }
}

// NewInbox builds an inbox for profileID. session may be nil for a
// purely anonymous consumer (send-only use; Start will still fetch
// whatever the anon key is allowed to read).
func NewInbox(gw Gateway, feed Feed, session *Session, profileID string, opts ...InboxOption) *Inbox {
	ib := &Inbox{
		gw:        gw,
		feed:      feed,
		session:   session,
		store:     NewStore(),
		profileID: profileID,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(ib)
	}
	return ib
}

// Start performs the initial bulk fetch and opens the change feed. A
// fetch failure is fatal for Start; a feed failure is not, because the
// store is already correct and the consumer can poll via Refresh.
func (ib *Inbox) Start(ctx context.Context) error {
	if err := ib.Refresh(ctx); err != nil {
		return err
	}
	if err := ib.subscribe(ctx); err != nil {
		ib.log.Warn().Err(err).Msg("inbox starting without live feed")
	}
	return nil
}

// Close tears down the feed subscription. The store remains readable.
func (ib *Inbox) Close() error {
	ib.mu.Lock()
	sub := ib.sub
	ib.sub = nil
	ib.mu.Unlock()

	if sub != nil {
		return sub.Close()
	}
	return nil
}

func (ib *Inbox) subscribe(ctx context.Context) error {
	ib.mu.Lock()
	pid := ib.profileID
	ib.mu.Unlock()

	sub, err := ib.feed.Subscribe(ctx, pid, ib.onEvent)
	if err != nil {
		return err
	}

	ib.mu.Lock()
	old := ib.sub
	ib.sub = sub
	ib.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

// onEvent funnels one feed event into the store. Events for another
// profile (stragglers from a just-closed subscription) are dropped.
func (ib *Inbox) onEvent(ev ChangeEvent) {
	ib.mu.Lock()
	pid := ib.profileID
	ib.mu.Unlock()

	if ev.Message != nil && ev.Message.ProfileID != pid {
		return
	}
	ib.store.ApplyEvent(ev)
	if ib.hook != nil {
		ib.hook(ev)
	}
}

// current captures the active profile id so a slow remote call can be
// checked against it before its result touches the store.
func (ib *Inbox) current() string {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return ib.profileID
}

// stillCurrent reports whether the profile captured before a remote
// call is still the active one. A stale response is discarded, never
// applied to the new profile's store.
func (ib *Inbox) stillCurrent(pid string) bool {
	return ib.current() == pid
}

// ============================================================================
// Mutations
// ============================================================================

// Send creates a message for profileID, which need not be the inbox's
// own profile (sending to someone else's share link is the common case).
// Anonymous sends carry no sender identity; user_to_user sends require
// an authenticated session and stamp the actor onto the row.
func (ib *Inbox) Send(ctx context.Context, profileID, content string, msgType MessageType) (*Message, error) {
	trimmed, err := validateContent(content)
	if err != nil {
		return nil, err
	}

	msg := NewMessage{
		ProfileID:   profileID,
		Content:     trimmed,
		MessageType: msgType,
	}
	if msgType == MessageTypeUserToUser {
		actor, err := ib.session.ActorID()
		if err != nil {
			return nil, &PermissionError{Op: "send", Reason: "user_to_user requires an authenticated session"}
		}
		msg.SenderID = &actor
		if own := ib.current(); own != "" {
			msg.SenderProfileID = &own
		}
	}

	pid := ib.current()
	created, err := ib.gw.InsertMessage(ctx, msg)
	if err != nil {
		return nil, err
	}

	// The echo is applied only when we sent to our own profile; the feed
	// or the recipient's next fetch covers everyone else. A nil echo
	// (write-only anonymous actor) is a successful send with nothing to
	// apply.
	if created != nil && created.ProfileID == pid && ib.stillCurrent(pid) {
		ib.store.ApplyInsert(*created)
	}
	return created, nil
}

// MarkAsRead flips one message to read. Already-read messages short out
// locally without a network call.
func (ib *Inbox) MarkAsRead(ctx context.Context, messageID string) error {
	if m, ok := ib.store.Get(messageID); ok && m.IsRead {
		return nil
	}

	pid := ib.current()
	if err := ib.gw.UpdateReadState(ctx, messageID, pid, true); err != nil {
		return err
	}
	if ib.stillCurrent(pid) {
		ib.store.MarkRead(messageID)
	}
	return nil
}

// MarkAllAsRead flips every unread message to read in one remote call.
// The snapshot of unread ids is taken before the call so messages that
// arrive mid-flight are not marked locally without backend confirmation.
func (ib *Inbox) MarkAllAsRead(ctx context.Context) error {
	ids := ib.store.UnreadIDs()
	if len(ids) == 0 {
		return nil
	}

	pid := ib.current()
	if err := ib.gw.MarkAllRead(ctx, pid); err != nil {
		return err
	}
	if ib.stillCurrent(pid) {
		ib.store.MarkManyRead(ids)
	}
	return nil
}

// Delete removes one message.
func (ib *Inbox) Delete(ctx context.Context, messageID string) error {
	pid := ib.current()
	if err := ib.gw.DeleteMessage(ctx, messageID, pid); err != nil {
		return err
	}
	if ib.stillCurrent(pid) {
		ib.store.ApplyDelete(messageID)
	}
	return nil
}

// DeleteMany removes a batch of messages with a single remote call.
func (ib *Inbox) DeleteMany(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	pid := ib.current()
	if err := ib.gw.DeleteMessages(ctx, messageIDs, pid); err != nil {
		return err
	}
	if ib.stillCurrent(pid) {
		for _, id := range messageIDs {
			ib.store.ApplyDelete(id)
		}
	}
	return nil
}

// ============================================================================
// Freshness
// ============================================================================

// Refresh re-fetches the full collection and replaces the store. It is
// the recovery path after the feed's retry budget runs out, and it
// revives a dead subscription as a side effect.
func (ib *Inbox) Refresh(ctx context.Context) error {
	pid := ib.current()

	msgs, err := ib.gw.ListMessages(ctx, pid)
	if err != nil {
		return err
	}
	if !ib.stillCurrent(pid) {
		return nil
	}
	ib.store.Replace(msgs)

	if ib.feedDown() {
		if err := ib.subscribe(ctx); err != nil {
			ib.log.Warn().Err(err).Msg("feed still down after refresh")
		}
	}
	return nil
}

func (ib *Inbox) feedDown() bool {
	ib.mu.Lock()
	sub := ib.sub
	ib.mu.Unlock()

	if sub == nil {
		return false // never started; Start owns the first subscribe
	}
	select {
	case <-sub.Done():
		return true
	default:
		return false
	}
}

// SetProfile switches the inbox to a different profile. The old feed is
// closed and the store cleared before anything of the new profile is
// fetched, so the two collections never mix.
func (ib *Inbox) SetProfile(ctx context.Context, profileID string) error {
	ib.mu.Lock()
	old := ib.sub
	ib.sub = nil
	ib.profileID = profileID
	ib.mu.Unlock()

	if old != nil {
		old.Close()
	}
	ib.store.Replace(nil)

	if err := ib.Refresh(ctx); err != nil {
		return err
	}
	return ib.subscribe(ctx)
}

// ============================================================================
// Reads
// ============================================================================

// ProfileID returns the active profile id.
func (ib *Inbox) ProfileID() string { return ib.current() }

// Messages returns a copy of the canonical collection, newest first.
func (ib *Inbox) Messages() []Message { return ib.store.Messages() }

// UnreadCount returns the derived unread counter.
func (ib *Inbox) UnreadCount() int { return ib.store.UnreadCount() }

// View computes a filtered, sorted, paginated window over the store.
func (ib *Inbox) View(opts ViewOptions) Page { return ib.store.View(opts) }

// Stats computes the dashboard counters as of now.
func (ib *Inbox) Stats() MessageStats { return ib.store.Stats(time.Now()) }

// Store exposes the underlying store for read-heavy consumers.
func (ib *Inbox) Store() *Store { return ib.store }
