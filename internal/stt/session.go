package stt

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/loqalabs/loqa-speech/internal/engine"
	"github.com/loqalabs/loqa-speech/internal/events"
	"github.com/loqalabs/loqa-speech/internal/locale"
)

// Session owns one recognizer and translates its callbacks into state and
// result events. Public calls and engine callbacks are serialized on the
// session lock, and events are delivered while it is held so listeners
// observe them in order. Listeners must not call back into the session.
type Session struct {
	engine  engine.RecognitionEngine
	states  *events.Sink
	results *events.Sink
	logger  *slog.Logger
	metrics *sessionMetrics

	mu         sync.Mutex
	created    *sync.Cond
	recognizer engine.Slot[engine.Recognizer]
	context    engine.RecoContext
	grammar    engine.Grammar
	listening  bool
}

// NewSession creates a session over eng. Nil sinks are allowed and drop
// every event.
func NewSession(eng engine.RecognitionEngine, states, results *events.Sink, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "stt-session"))
	metrics, err := newSessionMetrics()
	if err != nil {
		logger.Warn("failed to initialise stt metrics", slog.String("error", err.Error()))
	}
	s := &Session{
		engine:  eng,
		states:  states,
		results: results,
		logger:  logger,
		metrics: metrics,
	}
	s.created = sync.NewCond(&s.mu)
	return s
}

// IsSupported reports whether a recognizer can be created.
func (s *Session) IsSupported() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.ensureRecognizerLocked(); err != nil {
		s.logger.Debug("recognizer unavailable", slog.String("error", err.Error()))
		return false
	}
	return true
}

// Listening reports whether dictation is active.
func (s *Session) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening
}

// Language returns the tag of the active recognizer.
func (s *Session) Language() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.ensureRecognizerLocked()
	if err != nil {
		return "", err
	}
	tok, err := r.Token()
	if err != nil {
		s.metrics.failure("token")
		return "", err
	}
	raw, err := tok.Attr(engine.AttrLanguage)
	if err != nil {
		return "", err
	}
	return locale.TagFromAttribute(raw), nil
}

// SetLanguage switches to the first installed recognizer whose language
// matches tag exactly. A miss changes nothing and is not an error.
func (s *Session) SetLanguage(tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.ensureRecognizerLocked()
	if err != nil {
		return err
	}
	tokens, err := s.engine.Recognizers()
	if err != nil {
		s.metrics.failure("recognizers")
		return err
	}
	for _, tok := range tokens {
		raw, err := tok.Attr(engine.AttrLanguage)
		if err != nil {
			return err
		}
		if locale.TagFromAttribute(raw) != tag {
			continue
		}
		if err := r.SetToken(tok); err != nil {
			s.metrics.failure("set_token")
			return err
		}
		s.logger.Info("recognizer language changed", slog.String("language", tag), slog.String("token", tok.ID))
		return nil
	}
	s.logger.Debug("no recognizer for language", slog.String("language", tag))
	return nil
}

// Languages lists the language of every installed recognizer in engine
// order.
func (s *Session) Languages() ([]string, error) {
	tokens, err := s.engine.Recognizers()
	if err != nil {
		s.metrics.failure("recognizers")
		return nil, err
	}
	langs := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		raw, err := tok.Attr(engine.AttrLanguage)
		if err != nil {
			return nil, err
		}
		langs = append(langs, locale.TagFromAttribute(raw))
	}
	return langs, nil
}

// Start activates dictation on the default audio input without options.
func (s *Session) Start() error {
	return s.StartWith(Options{})
}

// StartWith activates dictation with opts. Calling it while listening does
// nothing. On failure every handle acquired by this call is released and the
// session stays stopped.
func (s *Session) StartWith(opts Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listening {
		return nil
	}
	r, err := s.ensureRecognizerLocked()
	if err != nil {
		return err
	}
	if setter, ok := r.(engine.OptionSetter); ok {
		err := setter.SetOptions(engine.RecoOptions{
			ContextualStrings: opts.ContextualStrings,
			Punctuation:       opts.Punctuation,
		})
		if err != nil {
			s.metrics.failure("options")
			return fmt.Errorf("set recognition options: %w", err)
		}
	}
	ctx, grammar, err := s.activate(r)
	if err != nil {
		s.metrics.failure("start")
		s.logger.Warn("failed to start dictation", slog.String("error", err.Error()))
		return err
	}
	s.context = ctx
	s.grammar = grammar
	s.listening = true
	s.emitState(StateListening)
	return nil
}

// activate builds the context and grammar chain. Acquired handles are undone
// in reverse order when a later step fails.
func (s *Session) activate(r engine.Recognizer) (_ engine.RecoContext, _ engine.Grammar, err error) {
	var undo []func()
	defer func() {
		if err == nil {
			return
		}
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}()

	ctx, err := r.NewContext()
	if err != nil {
		return nil, nil, fmt.Errorf("create context: %w", err)
	}
	undo = append(undo, ctx.Release)

	if err := ctx.Notify(s.callback(ctx)); err != nil {
		return nil, nil, fmt.Errorf("register callback: %w", err)
	}
	input, err := s.engine.DefaultAudioInput()
	if err != nil {
		return nil, nil, fmt.Errorf("default audio input: %w", err)
	}
	if err := r.SetInput(input); err != nil {
		return nil, nil, fmt.Errorf("set audio input: %w", err)
	}

	grammar, err := ctx.NewGrammar()
	if err != nil {
		return nil, nil, fmt.Errorf("create grammar: %w", err)
	}
	undo = append(undo, grammar.Release)

	if err := grammar.LoadDictation(); err != nil {
		return nil, nil, fmt.Errorf("load dictation: %w", err)
	}
	undo = append(undo, func() { _ = grammar.UnloadDictation() })

	if err := grammar.SetDictationActive(true); err != nil {
		return nil, nil, fmt.Errorf("activate dictation: %w", err)
	}
	return ctx, grammar, nil
}

// Stop deactivates dictation. The recognizer is kept so the selected
// language survives; Dispose releases it.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Dispose stops listening and releases every engine handle. The next call
// recreates them.
func (s *Session) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.recognizer.Release()
}

func (s *Session) stopLocked() {
	hadGrammar := s.grammar != nil
	if g := s.grammar; g != nil {
		if err := g.SetDictationActive(false); err != nil {
			s.logger.Warn("failed to deactivate dictation", slog.String("error", err.Error()))
		}
		if err := g.UnloadDictation(); err != nil {
			s.logger.Warn("failed to unload dictation", slog.String("error", err.Error()))
		}
		g.Release()
		s.grammar = nil
	}
	if ctx := s.context; ctx != nil {
		ctx.Release()
		s.context = nil
	}
	wasListening := s.listening
	s.listening = false
	if wasListening && hadGrammar {
		s.emitState(StateStopped)
	}
}

// callback is bound to one context; events from a context that has since
// been torn down are dropped.
func (s *Session) callback(ctx engine.RecoContext) func(engine.RecoEvent) {
	return func(ev engine.RecoEvent) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.listening || s.context != ctx {
			return
		}
		switch ev.Kind {
		case engine.EventHypothesis, engine.EventRecognition:
		default:
			return
		}

		final := ev.Kind == engine.EventRecognition
		if ev.Err != nil {
			f := engine.AsFault(ev.Err)
			s.metrics.failure("extract_text")
			s.logger.Warn("failed to extract recognized text", slog.String("error", f.Error()))
			s.states.Error(f.CodeString(), f.Message, nil)
		} else {
			s.metrics.result(final)
			s.results.Success(Result{Text: ev.Text, IsFinal: final})
		}
		if final {
			s.stopLocked()
		}
	}
}

// ensureRecognizerLocked returns the recognizer, creating it on first use.
// The lock is dropped while the engine builds the handle; concurrent callers
// wait for that creation instead of starting their own.
func (s *Session) ensureRecognizerLocked() (engine.Recognizer, error) {
	for {
		if r, ok := s.recognizer.Get(); ok {
			return r, nil
		}
		if s.recognizer.Begin() {
			break
		}
		s.created.Wait()
	}
	s.mu.Unlock()
	r, err := s.engine.NewRecognizer()
	s.mu.Lock()
	defer s.created.Broadcast()
	if !s.recognizer.Complete(r, err) {
		if err != nil {
			s.metrics.failure("create")
			return nil, err
		}
		return nil, engine.NewFault(engine.FaultBusy, "recognizer released during initialization")
	}
	s.logger.Debug("recognizer created")
	return r, nil
}

func (s *Session) emitState(state State) {
	s.metrics.state(state)
	s.logger.Debug("recognition state changed", slog.String("state", state.String()))
	s.states.Success(state)
}
