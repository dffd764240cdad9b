package anonq

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func TestMapChange(t *testing.T) {
	msg := Message{ID: testMessageID, ProfileID: ownProfile, Content: "hi"}

	t.Run("insert", func(t *testing.T) {
		ev, ok := mapChange(&changePayload{EventType: "INSERT", New: &msg})
		if !ok || ev.Kind != ChangeInsert || ev.MessageID != testMessageID {
			t.Fatalf("got %+v ok=%t", ev, ok)
		}
	})

	t.Run("update", func(t *testing.T) {
		ev, ok := mapChange(&changePayload{EventType: "UPDATE", New: &msg})
		if !ok || ev.Kind != ChangeUpdate || ev.Message == nil {
			t.Fatalf("got %+v ok=%t", ev, ok)
		}
	})

	t.Run("delete carries only the id", func(t *testing.T) {
		ev, ok := mapChange(&changePayload{EventType: "DELETE", Old: &oldRow{ID: testMessageID}})
		if !ok || ev.Kind != ChangeDelete || ev.MessageID != testMessageID || ev.Message != nil {
			t.Fatalf("got %+v ok=%t", ev, ok)
		}
	})

	t.Run("case-insensitive event type", func(t *testing.T) {
		if _, ok := mapChange(&changePayload{EventType: "insert", New: &msg}); !ok {
			t.Fatal("lowercase event type rejected")
		}
	})

	t.Run("malformed payloads are dropped", func(t *testing.T) {
		cases := []*changePayload{
			{EventType: "INSERT"},
			{EventType: "UPDATE"},
			{EventType: "DELETE"},
			{EventType: "DELETE", Old: &oldRow{}},
			{EventType: "TRUNCATE", New: &msg},
		}
		for _, p := range cases {
			if _, ok := mapChange(p); ok {
				t.Fatalf("payload %+v accepted", p)
			}
		}
	})
}

func TestReconnector(t *testing.T) {
	cfg := &FeedConfig{MaxRetries: 3, BackoffBase: 100 * time.Millisecond, BackoffMax: 250 * time.Millisecond}

	t.Run("budget runs out", func(t *testing.T) {
		r := newReconnector(cfg)
		for i := 0; i < 3; i++ {
			if !r.shouldReconnect() {
				t.Fatalf("budget exhausted after %d attempts, want 3", i)
			}
			r.nextDelay()
		}
		if r.shouldReconnect() {
			t.Fatal("fourth attempt allowed with MaxRetries=3")
		}
	})

	t.Run("delay grows and is capped", func(t *testing.T) {
		r := newReconnector(cfg)
		first := r.nextDelay()
		if first < 100*time.Millisecond {
			t.Fatalf("first delay %v below base", first)
		}
		r.nextDelay()
		third := r.nextDelay()
		if third > 250*time.Millisecond {
			t.Fatalf("delay %v above cap", third)
		}
	})

	t.Run("stable connection earns a fresh budget", func(t *testing.T) {
		r := newReconnector(cfg)
		r.nextDelay()
		r.nextDelay()
		r.nextDelay()
		if r.shouldReconnect() {
			t.Fatal("budget not exhausted")
		}
		r.connectedAt = time.Now().Add(-2 * time.Minute)
		r.nextDelay()
		if r.attempt != 1 {
			t.Fatalf("attempt = %d after reset, want 1", r.attempt)
		}
	})
}

// feedServer is a minimal backend: one acked subscription, then the
// events it is told to push.
func feedServer(t *testing.T, events []changePayload) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != feedPath {
			t.Errorf("path = %s, want %s", r.URL.Path, feedPath)
		}
		if r.URL.Query().Get("apikey") == "" {
			t.Error("apikey query parameter missing")
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()

		var cmd struct {
			Type      string           `json:"type"`
			Payload   subscribePayload `json:"payload"`
			RequestID string           `json:"requestId"`
		}
		if err := wsjson.Read(ctx, conn, &cmd); err != nil {
			return
		}
		if cmd.Type != envSubscribe || cmd.Payload.Table != "messages" {
			t.Errorf("subscribe command = %+v", cmd)
		}
		if cmd.Payload.Filter != "profile_id=eq."+ownProfile {
			t.Errorf("filter = %q", cmd.Payload.Filter)
		}

		if err := wsjson.Write(ctx, conn, feedEnvelope{Type: envSubscribed, RequestID: cmd.RequestID}); err != nil {
			return
		}
		for _, ev := range events {
			payload, _ := json.Marshal(ev)
			if err := wsjson.Write(ctx, conn, feedEnvelope{Type: envChange, Payload: payload}); err != nil {
				return
			}
		}
		<-ctx.Done()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFeedSubscribe(t *testing.T) {
	msg := Message{ID: testMessageID, ProfileID: ownProfile, Content: "hi", CreatedAt: time.Now()}
	srv := feedServer(t, []changePayload{
		{EventType: "INSERT", New: &msg},
		{EventType: "DELETE", Old: &oldRow{ID: testMessageID}},
	})

	client := NewClient(srv.URL, "anon-key-123")
	listener := NewFeedListener(client, &FeedConfig{MaxRetries: 1, BackoffBase: 10 * time.Millisecond})

	got := make(chan ChangeEvent, 4)
	sub, err := listener.Subscribe(context.Background(), ownProfile, func(ev ChangeEvent) {
		got <- ev
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	waitEvent := func(kind ChangeKind) {
		t.Helper()
		select {
		case ev := <-got:
			if ev.Kind != kind || ev.MessageID != testMessageID {
				t.Fatalf("got %+v, want %s of %s", ev, kind, testMessageID)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
	waitEvent(ChangeInsert)
	waitEvent(ChangeDelete)

	if err := sub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Close")
	}
	if sub.Err() != nil {
		t.Fatalf("Err after clean close = %v", sub.Err())
	}
}

func TestFeedSubscribeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()

		var cmd feedEnvelope
		if err := wsjson.Read(ctx, conn, &cmd); err != nil {
			return
		}
		payload, _ := json.Marshal(map[string]string{"message": "subscription not allowed"})
		wsjson.Write(ctx, conn, feedEnvelope{Type: envError, Payload: payload, RequestID: cmd.RequestID})
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "anon-key-123")
	listener := NewFeedListener(client, nil)

	_, err := listener.Subscribe(context.Background(), ownProfile, func(ChangeEvent) {})
	var subErr *SubscriptionError
	if !errors.As(err, &subErr) {
		t.Fatalf("got %v, want SubscriptionError", err)
	}
}

func TestFeedSubscribeValidation(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "anon-key-123")
	listener := NewFeedListener(client, nil)

	_, err := listener.Subscribe(context.Background(), "not-a-uuid", func(ChangeEvent) {})
	var val *ValidationError
	if !errors.As(err, &val) {
		t.Fatalf("got %v, want ValidationError", err)
	}
}
