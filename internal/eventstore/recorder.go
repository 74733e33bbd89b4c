package eventstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-speech/internal/events"
)

const defaultRecorderBuffer = 256

// Recorder writes stream deliveries to a Store from a background goroutine.
// Listeners never block on the database; when the buffer is full the event
// is dropped and counted.
type Recorder struct {
	store *Store
	log   *slog.Logger
	queue chan Event

	mu      sync.Mutex
	closed  bool
	dropped int
	wg      sync.WaitGroup
}

// NewRecorder starts a recorder over store. buffer <= 0 selects a default.
func NewRecorder(store *Store, buffer int, log *slog.Logger) *Recorder {
	if buffer <= 0 {
		buffer = defaultRecorderBuffer
	}
	r := &Recorder{
		store: store,
		log:   log.With(slog.String("component", "event-recorder")),
		queue: make(chan Event, buffer),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Attach records a new listener attachment and returns a listener that
// appends every delivery to its timeline.
func (r *Recorder) Attach(ctx context.Context, sess Session) (events.Listener, error) {
	if err := r.store.AppendSession(ctx, sess); err != nil {
		return nil, err
	}
	return &streamRecorder{recorder: r, session: sess}, nil
}

// Dropped returns the number of events discarded because the buffer was full.
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close flushes buffered events and stops the writer.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Recorder) enqueue(evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- evt:
	default:
		r.dropped++
		r.log.Warn("event recorder buffer full", slog.String("stream", evt.Stream), slog.Int("dropped", r.dropped))
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for evt := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.store.AppendEvent(ctx, evt); err != nil {
			r.log.Warn("failed to record event", slog.String("session_id", evt.SessionID), slog.String("error", err.Error()))
		}
		cancel()
	}
}

type streamRecorder struct {
	recorder *Recorder
	session  Session
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (s *streamRecorder) Success(value any) {
	s.record(KindSuccess, value)
}

func (s *streamRecorder) Error(code, message string, details any) {
	s.record(KindError, errorPayload{Code: code, Message: message, Details: details})
}

func (s *streamRecorder) record(kind string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		s.recorder.log.Warn("failed to encode event", slog.String("error", err.Error()))
		return
	}
	s.recorder.enqueue(Event{
		SessionID: s.session.ID,
		Channel:   s.session.Channel,
		Stream:    s.session.Stream,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: s.recorder.store.clock().UTC(),
	})
}
