package anonq

import (
	"sort"
	"sync"
	"time"
)

// ============================================================================
// Store / Reconciler
// ============================================================================

// Store is the single source of truth for one profile's in-memory message
// collection. Its only writers are the mutation façade and the change-feed
// listener; everything it exposes to readers is a copy or a derived value.
//
// Every apply is keyed on message id and idempotent, so a local mutation
// confirmation and the matching feed event may arrive in either order —
// the second one is a no-op. The canonical order is created_at descending.
type Store struct {
	mu       sync.RWMutex
	messages []Message
	byID     map[string]int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{byID: make(map[string]int)}
}

// Replace swaps the canonical collection wholesale, e.g. after a bulk
// fetch. Input order is ignored; the store re-sorts newest first.
func (s *Store) Replace(msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = make([]Message, 0, len(msgs))
	s.byID = make(map[string]int, len(msgs))
	for _, m := range msgs {
		if _, ok := s.byID[m.ID]; ok {
			continue
		}
		s.byID[m.ID] = -1 // position fixed below
		s.messages = append(s.messages, m)
	}
	sort.SliceStable(s.messages, func(i, j int) bool {
		return s.messages[i].CreatedAt.After(s.messages[j].CreatedAt)
	})
	s.reindex(0)
}

// ApplyInsert adds a message at its sorted position. Re-inserting an id
// already present is a no-op and returns false.
func (s *Store) ApplyInsert(m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[m.ID]; ok {
		return false
	}
	pos := sort.Search(len(s.messages), func(i int) bool {
		return s.messages[i].CreatedAt.Before(m.CreatedAt)
	})
	s.messages = append(s.messages, Message{})
	copy(s.messages[pos+1:], s.messages[pos:])
	s.messages[pos] = m
	s.reindex(pos)
	return true
}

// ApplyUpdate reflects a changed row. Only mutable fields move; identity
// and created_at never change. An update for an absent id is a no-op
// (a missed insert is recovered by refresh, not conjured here).
func (s *Store) ApplyUpdate(m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.byID[m.ID]
	if !ok {
		return false
	}
	cur := &s.messages[pos]
	changed := cur.IsRead != m.IsRead || cur.Content != m.Content
	cur.IsRead = m.IsRead
	cur.Content = m.Content
	return changed
}

// ApplyDelete removes a message. Deleting an absent id is a no-op and
// returns false.
func (s *Store) ApplyDelete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.byID[id]
	if !ok {
		return false
	}
	delete(s.byID, id)
	s.messages = append(s.messages[:pos], s.messages[pos+1:]...)
	s.reindex(pos)
	return true
}

// ApplyEvent dispatches one change-feed event into the store.
func (s *Store) ApplyEvent(ev ChangeEvent) {
	switch ev.Kind {
	case ChangeInsert:
		if ev.Message != nil {
			s.ApplyInsert(*ev.Message)
		}
	case ChangeUpdate:
		if ev.Message != nil {
			s.ApplyUpdate(*ev.Message)
		}
	case ChangeDelete:
		if ev.MessageID != "" {
			s.ApplyDelete(ev.MessageID)
		}
	}
}

// MarkRead transitions one message to read. Returns false if the message
// is absent or already read.
func (s *Store) MarkRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.byID[id]
	if !ok || s.messages[pos].IsRead {
		return false
	}
	s.messages[pos].IsRead = true
	return true
}

// MarkManyRead transitions a set of messages to read and reports how many
// actually changed.
func (s *Store) MarkManyRead(ids []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, id := range ids {
		if pos, ok := s.byID[id]; ok && !s.messages[pos].IsRead {
			s.messages[pos].IsRead = true
			n++
		}
	}
	return n
}

// reindex rebuilds byID for positions >= from. Caller holds the lock.
func (s *Store) reindex(from int) {
	for i := from; i < len(s.messages); i++ {
		s.byID[s.messages[i].ID] = i
	}
}

// ============================================================================
// Reads
// ============================================================================

// Get returns a copy of one message.
func (s *Store) Get(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.byID[id]
	if !ok {
		return Message{}, false
	}
	return s.messages[pos], true
}

// Messages returns a copy of the canonical collection, newest first.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Message(nil), s.messages...)
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// UnreadCount is derived on every call; it is never maintained as an
// independent counter that could drift.
func (s *Store) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for i := range s.messages {
		if !s.messages[i].IsRead {
			n++
		}
	}
	return n
}

// UnreadIDs returns the ids of every unread message, newest first.
func (s *Store) UnreadIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for i := range s.messages {
		if !s.messages[i].IsRead {
			ids = append(ids, s.messages[i].ID)
		}
	}
	return ids
}

// ============================================================================
// Derived views
// ============================================================================

// View computes a filtered, sorted, paginated window. A page change only
// re-slices the held collection; it never refetches.
func (s *Store) View(opts ViewOptions) Page {
	all := s.Messages()

	filtered := all[:0:0]
	for _, m := range all {
		switch opts.Filter {
		case FilterUnread:
			if m.IsRead {
				continue
			}
		case FilterRead:
			if !m.IsRead {
				continue
			}
		}
		filtered = append(filtered, m)
	}

	sortView(filtered, opts.Sort)

	total := len(filtered)
	page := Page{Page: opts.Page, PageSize: opts.PageSize, TotalItems: total}

	if opts.PageSize <= 0 || opts.Page <= 0 {
		page.Messages = filtered
		page.Page = 1
		page.TotalPages = 1
		if total == 0 {
			page.TotalPages = 0
		}
		return page
	}

	page.TotalPages = (total + opts.PageSize - 1) / opts.PageSize
	start := (opts.Page - 1) * opts.PageSize
	if start >= total {
		page.Messages = []Message{}
		return page
	}
	end := start + opts.PageSize
	if end > total {
		end = total
	}
	page.Messages = filtered[start:end]
	return page
}

// sortView orders in place. The canonical copy arrives newest-first, so
// the stable partition sorts keep newest-first inside each partition.
func sortView(msgs []Message, mode SortMode) {
	switch mode {
	case SortOldest:
		sort.SliceStable(msgs, func(i, j int) bool {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		})
	case SortUnreadFirst:
		sort.SliceStable(msgs, func(i, j int) bool {
			return !msgs[i].IsRead && msgs[j].IsRead
		})
	case SortReadFirst:
		sort.SliceStable(msgs, func(i, j int) bool {
			return msgs[i].IsRead && !msgs[j].IsRead
		})
	default: // SortNewest
		sort.SliceStable(msgs, func(i, j int) bool {
			return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
		})
	}
}

// ============================================================================
// Statistics
// ============================================================================

// Stats computes the dashboard counters as of now. "Today" starts at
// local midnight; the week starts at the most recent Sunday's local
// midnight.
func (s *Store) Stats(now time.Time) MessageStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dayStart := startOfDay(now)
	weekStart := dayStart.AddDate(0, 0, -int(now.Weekday()))

	stats := MessageStats{TotalMessages: len(s.messages)}
	for i := range s.messages {
		m := &s.messages[i]
		if !m.IsRead {
			stats.UnreadMessages++
		}
		created := m.CreatedAt.In(now.Location())
		if !created.Before(dayStart) {
			stats.MessagesToday++
		}
		if !created.Before(weekStart) {
			stats.MessagesThisWeek++
		}
	}
	return stats
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
