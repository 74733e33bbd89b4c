// Package bridge serves speech method channels and event streams on the bus.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-speech/internal/bus"
	"github.com/loqalabs/loqa-speech/internal/config"
	"github.com/loqalabs/loqa-speech/internal/dispatch"
	"github.com/loqalabs/loqa-speech/internal/engine"
	"github.com/loqalabs/loqa-speech/internal/events"
	"github.com/loqalabs/loqa-speech/internal/eventstore"
	"github.com/loqalabs/loqa-speech/internal/protocol"
)

// Stream is an event sink exposed under a channel.
type Stream struct {
	Channel string
	Name    string
	Sink    *events.Sink
}

// Recorder attaches a timeline listener next to every bus listener.
type Recorder interface {
	Attach(ctx context.Context, sess eventstore.Session) (events.Listener, error)
}

type Service struct {
	cfg      config.BridgeConfig
	bus      *bus.Client
	channels []*dispatch.Channel
	streams  []Stream
	recorder Recorder
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	subs     []*nats.Subscription
	sessions map[string]string
	ready    bool
}

// NewService creates a bridge. recorder may be nil.
func NewService(parent context.Context, cfg config.BridgeConfig, busClient *bus.Client, channels []*dispatch.Channel, streams []Stream, recorder Recorder, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:      cfg,
		bus:      busClient,
		channels: channels,
		streams:  streams,
		recorder: recorder,
		logger:   logger.With(slog.String("component", "speech-bridge")),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]string),
	}
}

func (s *Service) Start() error {
	conn := s.bus.Conn()
	for _, ch := range s.channels {
		subject := protocol.MethodsSubject(s.cfg.SubjectPrefix, ch.Name())
		sub, err := s.subscribe(conn, subject, s.cfg.QueueGroup, s.methodHandler(ch))
		if err != nil {
			s.Close()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.logger.Info("serving methods", slog.String("subject", subject), slog.Any("methods", ch.Methods()))
		s.track(sub)
	}
	for _, st := range s.streams {
		listen := protocol.ListenSubject(s.cfg.SubjectPrefix, st.Channel, st.Name)
		sub, err := s.subscribe(conn, listen, "", s.listenHandler(st))
		if err != nil {
			s.Close()
			return fmt.Errorf("subscribe %s: %w", listen, err)
		}
		s.track(sub)
		cancelSubject := protocol.CancelSubject(s.cfg.SubjectPrefix, st.Channel, st.Name)
		sub, err = s.subscribe(conn, cancelSubject, "", s.cancelHandler(st))
		if err != nil {
			s.Close()
			return fmt.Errorf("subscribe %s: %w", cancelSubject, err)
		}
		s.track(sub)
	}
	if err := conn.Flush(); err != nil {
		s.Close()
		return fmt.Errorf("flush subscriptions: %w", err)
	}
	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
	return nil
}

// Close unsubscribes and detaches every listener the bridge attached.
func (s *Service) Close() {
	s.cancel()
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.ready = false
	s.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Drain()
	}
	for _, st := range s.streams {
		if s.sessionFor(st) != "" {
			st.Sink.Detach()
		}
	}
}

func (s *Service) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *Service) subscribe(conn *nats.Conn, subject, queue string, handler nats.MsgHandler) (*nats.Subscription, error) {
	if queue != "" {
		return conn.QueueSubscribe(subject, queue, handler)
	}
	return conn.Subscribe(subject, handler)
}

func (s *Service) track(sub *nats.Subscription) {
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
}

func (s *Service) methodHandler(ch *dispatch.Channel) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var call protocol.MethodCall
		if err := json.Unmarshal(msg.Data, &call); err != nil {
			s.logger.Warn("failed to decode method call", slog.String("error", err.Error()))
			f := engine.NewFault(engine.FaultInvalidArg, "")
			s.reply(msg, protocol.MethodReply{Error: &protocol.MethodError{Code: f.CodeString(), Message: f.Message, Details: err.Error()}})
			return
		}

		ctx, cancel := context.WithTimeout(s.ctx, s.requestTimeout())
		defer cancel()
		result, err := ch.Invoke(ctx, call.Method, call.Args)
		s.reply(msg, methodReply(result, err))
	}
}

func methodReply(result any, err error) protocol.MethodReply {
	switch {
	case errors.Is(err, dispatch.ErrNotImplemented):
		return protocol.MethodReply{NotImplemented: true}
	case err != nil:
		return protocol.MethodReply{Error: dispatch.ToMethodError(err)}
	}
	data, err := json.Marshal(result)
	if err != nil {
		return protocol.MethodReply{Error: dispatch.ToMethodError(err)}
	}
	return protocol.MethodReply{Result: data}
}

func (s *Service) listenHandler(st Stream) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var req protocol.ListenRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil || req.DeliverSubject == "" {
			s.reply(msg, protocol.ListenReply{Stream: st.Name, Error: "deliver_subject is required"})
			return
		}

		sess := eventstore.Session{
			ID:      uuid.NewString(),
			Channel: st.Channel,
			Stream:  st.Name,
			Deliver: req.DeliverSubject,
		}
		var listener events.Listener = &publisher{
			conn:    s.bus.Conn(),
			subject: req.DeliverSubject,
			stream:  st.Name,
			session: sess.ID,
			logger:  s.logger,
		}
		if s.recorder != nil {
			recorded, err := s.recorder.Attach(s.ctx, sess)
			if err != nil {
				s.logger.Warn("failed to record listener", slog.String("stream", st.Name), slog.String("error", err.Error()))
			}
			listener = events.Multi(listener, recorded)
		}

		st.Sink.Attach(listener)
		s.mu.Lock()
		s.sessions[st.Channel+"."+st.Name] = sess.ID
		s.mu.Unlock()
		s.logger.Info("listener attached",
			slog.String("channel", st.Channel),
			slog.String("stream", st.Name),
			slog.String("session_id", sess.ID),
			slog.String("deliver_subject", req.DeliverSubject))
		s.reply(msg, protocol.ListenReply{Stream: st.Name, SessionID: sess.ID})
	}
}

func (s *Service) cancelHandler(st Stream) nats.MsgHandler {
	return func(msg *nats.Msg) {
		st.Sink.Detach()
		s.mu.Lock()
		key := st.Channel + "." + st.Name
		id := s.sessions[key]
		delete(s.sessions, key)
		s.mu.Unlock()
		s.logger.Info("listener detached", slog.String("channel", st.Channel), slog.String("stream", st.Name))
		s.reply(msg, protocol.ListenReply{Stream: st.Name, SessionID: id})
	}
}

func (s *Service) sessionFor(st Stream) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[st.Channel+"."+st.Name]
}

func (s *Service) reply(msg *nats.Msg, v any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("failed to encode reply", slog.String("error", err.Error()))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to send reply", slog.String("subject", msg.Subject), slog.String("error", err.Error()))
	}
}

func (s *Service) requestTimeout() time.Duration {
	if s.cfg.RequestTimeout <= 0 {
		return 5 * time.Second
	}
	return time.Duration(s.cfg.RequestTimeout) * time.Millisecond
}

// publisher forwards stream deliveries to a bus subject.
type publisher struct {
	conn    *nats.Conn
	subject string
	stream  string
	session string
	logger  *slog.Logger
}

func (p *publisher) Success(value any) {
	data, err := json.Marshal(value)
	if err != nil {
		p.logger.Warn("failed to encode stream value", slog.String("stream", p.stream), slog.String("error", err.Error()))
		return
	}
	p.publish(protocol.StreamEvent{Value: data})
}

func (p *publisher) Error(code, message string, details any) {
	p.publish(protocol.StreamEvent{Error: &protocol.MethodError{Code: code, Message: message, Details: details}})
}

func (p *publisher) publish(evt protocol.StreamEvent) {
	evt.Stream = p.stream
	evt.SessionID = p.session
	evt.Timestamp = time.Now().UTC()
	data, err := json.Marshal(evt)
	if err != nil {
		p.logger.Warn("failed to encode stream event", slog.String("stream", p.stream), slog.String("error", err.Error()))
		return
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		p.logger.Warn("failed to publish stream event", slog.String("subject", p.subject), slog.String("error", err.Error()))
	}
}
