package tts

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/loqalabs/loqa-speech/internal/engine"
	"github.com/loqalabs/loqa-speech/internal/events"
	"github.com/loqalabs/loqa-speech/internal/locale"
)

// Session owns one synthesizer and reports its speaking state. Overlapping
// utterances collapse into a single speaking/stopped pair: the session counts
// submitted utterances and reports stopped only when the count drains.
//
// Public calls and completion callbacks are serialized on the session lock,
// and events are delivered while it is held. Listeners must not call back
// into the session.
type Session struct {
	engine  engine.SynthesisEngine
	states  *events.Sink
	logger  *slog.Logger
	metrics *sessionMetrics

	mu       sync.Mutex
	created  *sync.Cond
	synth    engine.Slot[engine.Synthesizer]
	queued   int
	// Completions for streams at or below fence belong to purged speech.
	fence    uint64
	last     uint64
	paused   bool
	reported State
	pitch    int
	rate     int
	volume   int
}

// NewSession creates a session over eng. A nil sink drops every event.
func NewSession(eng engine.SynthesisEngine, states *events.Sink, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "tts-session"))
	metrics, err := newSessionMetrics()
	if err != nil {
		logger.Warn("failed to initialise tts metrics", slog.String("error", err.Error()))
	}
	s := &Session{
		engine:  eng,
		states:  states,
		logger:  logger,
		metrics: metrics,
		pitch:   defaultPitch,
		rate:    defaultRate,
		volume:  defaultVolume,
	}
	s.created = sync.NewCond(&s.mu)
	return s
}

// IsSupported reports whether a synthesizer can be created.
func (s *Session) IsSupported() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.ensureSynthLocked(); err != nil {
		s.logger.Debug("synthesizer unavailable", slog.String("error", err.Error()))
		return false
	}
	return true
}

// State returns the state most recently reported on the state stream.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reported
}

// Queued returns the number of utterances submitted and not yet completed.
func (s *Session) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queued
}

// Start submits text for asynchronous synthesis with the current pitch. With
// ModeFlush, queued and playing speech is purged first and the queue restarts
// at this utterance. Speaking is reported when the queue was empty, unless
// the synthesizer is paused, in which case Resume reports it.
func (s *Session) Start(text string, opts Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	synth, err := s.ensureSynthLocked()
	if err != nil {
		return err
	}

	flush := opts.Mode == ModeFlush
	flags := engine.SpeakAsync | engine.SpeakIsXML
	if flush {
		flags |= engine.SpeakPurgeBeforeSpeak
	}
	markup := engine.PitchMarkup(s.pitch)
	if opts.PreSilenceMS > 0 {
		markup += engine.SilenceMarkup(opts.PreSilenceMS)
	}
	markup += text
	if opts.PostSilenceMS > 0 {
		markup += engine.SilenceMarkup(opts.PostSilenceMS)
	}

	stream, err := synth.Speak(markup, flags)
	if err != nil {
		s.metrics.failure("speak")
		s.logger.Warn("failed to submit utterance", slog.String("error", err.Error()))
		return err
	}

	wasIdle := s.queued == 0 && !s.paused
	if flush {
		s.metrics.drop(s.queued)
		s.fence = s.last
		s.queued = 0
	}
	s.last = stream
	s.queued++
	s.metrics.submit(modeLabel(flush))
	s.logger.Debug("utterance submitted", slog.Uint64("stream", stream), slog.Int("queued", s.queued), slog.Bool("flush", flush))
	if wasIdle {
		s.emitState(StateSpeaking)
	}
	return nil
}

// Stop purges all speech, resumes a paused synthesizer and empties the queue.
// Stopped is reported unless it was already the last reported state.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Session) stopLocked() error {
	synth, ok := s.synth.Get()
	if !ok {
		return nil
	}
	stream, err := synth.Speak("", engine.SpeakAsync|engine.SpeakPurgeBeforeSpeak)
	if err != nil {
		s.metrics.failure("purge")
		err = fmt.Errorf("purge speech: %w", err)
		// Without a purge stream number every stream issued so far is stale.
		stream = s.last
	}
	s.fence = stream
	s.last = stream

	s.metrics.drop(s.queued)
	s.queued = 0
	if s.paused {
		if rerr := synth.Resume(); rerr != nil {
			s.logger.Warn("failed to resume after stop", slog.String("error", rerr.Error()))
		}
		s.paused = false
	}
	if s.reported != StateStopped {
		s.emitState(StateStopped)
	}
	return err
}

// Pause suspends output. It does nothing without a synthesizer or when
// already paused.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	synth, ok := s.synth.Get()
	if !ok || s.paused {
		return nil
	}
	if err := synth.Pause(); err != nil {
		s.metrics.failure("pause")
		return err
	}
	s.paused = true
	s.emitState(StatePaused)
	return nil
}

// Resume continues paused output. It does nothing unless paused.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	synth, ok := s.synth.Get()
	if !ok || !s.paused {
		return nil
	}
	if err := synth.Resume(); err != nil {
		s.metrics.failure("resume")
		return err
	}
	s.paused = false
	s.emitState(StateSpeaking)
	return nil
}

// Language returns the language of the active voice.
func (s *Session) Language() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	synth, err := s.ensureSynthLocked()
	if err != nil {
		return "", err
	}
	tok, err := synth.Voice()
	if err != nil {
		s.metrics.failure("voice")
		return "", err
	}
	raw, err := tok.Attr(engine.AttrLanguage)
	if err != nil {
		return "", err
	}
	return locale.TagFromAttribute(raw), nil
}

// SetLanguage selects the first installed voice whose language matches tag
// exactly. A miss changes nothing and is not an error.
func (s *Session) SetLanguage(tag string) error {
	return s.selectVoice(func(tok engine.Token) (bool, error) {
		raw, err := tok.Attr(engine.AttrLanguage)
		if err != nil {
			return false, err
		}
		return locale.TagFromAttribute(raw) == tag, nil
	})
}

// SetVoice selects the installed voice with the given id. A miss changes
// nothing and is not an error.
func (s *Session) SetVoice(id string) error {
	return s.selectVoice(func(tok engine.Token) (bool, error) {
		return tok.ID == id, nil
	})
}

func (s *Session) selectVoice(match func(engine.Token) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	synth, err := s.ensureSynthLocked()
	if err != nil {
		return err
	}
	tokens, err := s.engine.Voices()
	if err != nil {
		s.metrics.failure("voices")
		return err
	}
	for _, tok := range tokens {
		ok, err := match(tok)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := synth.SetVoice(tok); err != nil {
			s.metrics.failure("set_voice")
			return err
		}
		s.logger.Info("voice changed", slog.String("voice", tok.ID))
		return nil
	}
	s.logger.Debug("no matching voice installed")
	return nil
}

// Languages lists the distinct languages of the installed voices in engine
// order.
func (s *Session) Languages() ([]string, error) {
	voices, err := s.Voices()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(voices))
	langs := make([]string, 0, len(voices))
	for _, v := range voices {
		if _, dup := seen[v.Language]; dup {
			continue
		}
		seen[v.Language] = struct{}{}
		langs = append(langs, v.Language)
	}
	return langs, nil
}

// Voice describes the active voice.
func (s *Session) Voice() (Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	synth, err := s.ensureSynthLocked()
	if err != nil {
		return Voice{}, err
	}
	tok, err := synth.Voice()
	if err != nil {
		s.metrics.failure("voice")
		return Voice{}, err
	}
	return describe(tok)
}

// Voices describes every installed voice. Each call queries the engine.
func (s *Session) Voices() ([]Voice, error) {
	tokens, err := s.engine.Voices()
	if err != nil {
		s.metrics.failure("voices")
		return nil, err
	}
	voices := make([]Voice, 0, len(tokens))
	for _, tok := range tokens {
		v, err := describe(tok)
		if err != nil {
			return nil, err
		}
		voices = append(voices, v)
	}
	return voices, nil
}

// VoicesByLanguage describes the installed voices speaking tag.
func (s *Session) VoicesByLanguage(tag string) ([]Voice, error) {
	voices, err := s.Voices()
	if err != nil {
		return nil, err
	}
	out := make([]Voice, 0, len(voices))
	for _, v := range voices {
		if v.Language == tag {
			out = append(out, v)
		}
	}
	return out, nil
}

func describe(tok engine.Token) (Voice, error) {
	raw, err := tok.Attr(engine.AttrLanguage)
	if err != nil {
		return Voice{}, err
	}
	name, err := tok.Attr(engine.AttrName)
	if err != nil {
		name = tok.ID
	}
	gender, err := tok.Attr(engine.AttrGender)
	return Voice{
		ID:                tok.ID,
		Language:          locale.TagFromAttribute(raw),
		LanguageInstalled: true,
		Name:              name,
		NetworkRequired:   false,
		Gender:            ParseGender(gender, err == nil),
	}, nil
}

// SetPitch stores the pitch for subsequent utterances.
func (s *Session) SetPitch(p float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pitch = NativePitch(p)
}

// SetRate applies a speaking rate to the synthesizer immediately.
func (s *Session) SetRate(r float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	synth, err := s.ensureSynthLocked()
	if err != nil {
		return err
	}
	rate := NativeRate(r)
	if err := synth.SetRate(rate); err != nil {
		s.metrics.failure("set_rate")
		return err
	}
	s.rate = rate
	return nil
}

// SetVolume applies a volume to the synthesizer immediately.
func (s *Session) SetVolume(v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	synth, err := s.ensureSynthLocked()
	if err != nil {
		return err
	}
	volume := NativeVolume(v)
	if err := synth.SetVolume(volume); err != nil {
		s.metrics.failure("set_volume")
		return err
	}
	s.volume = volume
	return nil
}

// Settings returns pitch, rate and volume in engine units.
func (s *Session) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Settings{Pitch: s.pitch, Rate: s.rate, Volume: s.volume}
}

// Dispose stops speech, releases the synthesizer and restores default
// settings. It is safe to call repeatedly.
func (s *Session) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.stopLocked(); err != nil {
		s.logger.Warn("failed to stop during dispose", slog.String("error", err.Error()))
	}
	s.synth.Release()
	s.metrics.drop(s.queued)
	s.queued = 0
	s.fence = 0
	s.last = 0
	s.paused = false
	if s.reported != StateStopped {
		s.emitState(StateStopped)
	}
	s.pitch = defaultPitch
	s.rate = defaultRate
	s.volume = defaultVolume
}

// callback is bound to one synthesizer; events from a released one are
// dropped.
func (s *Session) callback(synth engine.Synthesizer) func(engine.SynthEvent) {
	return func(ev engine.SynthEvent) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur, ok := s.synth.Get(); !ok || cur != synth {
			return
		}
		if ev.Kind != engine.EventEndInputStream || ev.Stream <= s.fence {
			return
		}
		if s.queued == 0 {
			s.logger.Debug("completion with empty queue", slog.Uint64("stream", ev.Stream))
			return
		}
		s.queued--
		s.metrics.complete()
		if s.queued == 0 {
			s.emitState(StateStopped)
		}
	}
}

// ensureSynthLocked returns the synthesizer, creating it and registering the
// completion callback on first use. The lock is dropped while the engine
// builds the handle; concurrent callers wait for that creation.
func (s *Session) ensureSynthLocked() (engine.Synthesizer, error) {
	for {
		if synth, ok := s.synth.Get(); ok {
			return synth, nil
		}
		if s.synth.Begin() {
			break
		}
		s.created.Wait()
	}
	s.mu.Unlock()
	synth, err := s.engine.NewSynthesizer()
	if err == nil {
		if nerr := synth.Notify(s.callback(synth)); nerr != nil {
			synth.Release()
			synth, err = nil, fmt.Errorf("register callback: %w", nerr)
		}
	}
	s.mu.Lock()
	defer s.created.Broadcast()
	if !s.synth.Complete(synth, err) {
		if err != nil {
			s.metrics.failure("create")
			return nil, err
		}
		return nil, engine.NewFault(engine.FaultBusy, "synthesizer released during initialization")
	}
	s.logger.Debug("synthesizer created")
	return synth, nil
}

func (s *Session) emitState(state State) {
	s.reported = state
	s.metrics.state(state)
	s.logger.Debug("synthesis state changed", slog.String("state", state.String()))
	s.states.Success(state)
}

func modeLabel(flush bool) string {
	if flush {
		return ModeFlush
	}
	return ModeAdd
}
