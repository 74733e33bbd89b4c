package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-speech/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "events.db")
	}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	return es
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{RetentionMode: "ephemeral"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.Ensure(); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{SessionID: "ignored"}); err != nil {
		t.Fatalf("append on ephemeral store: %v", err)
	}
}

func TestAppendAndQuery(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "session"})
	ctx := context.Background()

	sess := Session{ID: "session-123", Channel: "tts", Stream: "states", Deliver: "_INBOX.a"}
	if err := es.AppendSession(ctx, sess); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{SessionID: sess.ID, Channel: "tts", Stream: "states", Kind: KindSuccess, Payload: []byte("1")}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	events, err := es.ListSessionEvents(ctx, sess.ID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if string(events[0].Payload) != "1" || events[0].Stream != "states" || events[0].Kind != KindSuccess {
		t.Fatalf("unexpected event: %+v", events[0])
	}

	sessions, err := es.ListSessions(ctx, "tts", "states", 5)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Deliver != "_INBOX.a" {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1})
	ctx := context.Background()

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(ctx, Session{ID: "old-session", Channel: "stt", Stream: "results"}); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{SessionID: "old-session", Channel: "stt", Stream: "results", Kind: KindSuccess}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(ctx, Session{ID: "new-session", Channel: "stt", Stream: "results"}); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListSessionEvents(ctx, "old-session", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old session pruned")
	}
}

func TestRecorderWritesDeliveries(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "session"})
	rec := NewRecorder(es, 8, newLogger())

	l, err := rec.Attach(context.Background(), Session{ID: "listen-1", Channel: "stt", Stream: "results"})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	l.Success(map[string]any{"text": "hello", "isFinal": true})
	l.Error("-2147200966", "not found", nil)
	rec.Close()
	rec.Close()

	events, err := es.ListSessionEvents(context.Background(), "listen-1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Kind != KindSuccess || string(events[0].Payload) != `{"isFinal":true,"text":"hello"}` {
		t.Fatalf("unexpected success event %+v (%s)", events[0], events[0].Payload)
	}
	if events[1].Kind != KindError || string(events[1].Payload) != `{"code":"-2147200966","message":"not found"}` {
		t.Fatalf("unexpected error event %+v (%s)", events[1], events[1].Payload)
	}

	// Deliveries after Close are discarded.
	l.Success(1)
	if rec.Dropped() != 0 {
		t.Fatalf("expected no drops, got %d", rec.Dropped())
	}
}
