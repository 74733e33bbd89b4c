// Package mock provides in-memory speech engines with call recording, failure
// injection and manual event firing.
package mock

import (
	"sync"
	"time"

	"github.com/loqalabs/loqa-speech/internal/engine"
)

// Operation names accepted by Fail.
const (
	OpNewSynthesizer = "newSynthesizer"
	OpVoices         = "voices"
	OpNotify         = "notify"
	OpSpeak          = "speak"
	OpPause          = "pause"
	OpResume         = "resume"
	OpVoice          = "voice"
	OpSetVoice       = "setVoice"
	OpSetRate        = "setRate"
	OpSetVolume      = "setVolume"
)

// Spoken records one Speak call.
type Spoken struct {
	Stream uint64
	Text   string
	Flags  engine.SpeakFlags
}

// SynthesisEngine is an in-memory engine.SynthesisEngine.
type SynthesisEngine struct {
	// AutoComplete, when positive, finishes each queued stream after this
	// delay while the synthesizer is not paused.
	AutoComplete time.Duration
	// Gate, when set, holds every NewSynthesizer call until it is closed.
	Gate chan struct{}

	mu       sync.Mutex
	held     int
	voices   []engine.Token
	failures map[string]error
	created  int
	current  *Synthesizer
}

// NewSynthesisEngine returns an engine with the given installed voices. The
// first voice is the default voice of new synthesizers.
func NewSynthesisEngine(voices ...engine.Token) *SynthesisEngine {
	return &SynthesisEngine{voices: voices, failures: make(map[string]error)}
}

// Fail makes op return err until cleared with a nil err.
func (e *SynthesisEngine) Fail(op string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.failures, op)
		return
	}
	e.failures[op] = err
}

func (e *SynthesisEngine) failure(op string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failures[op]
}

func (e *SynthesisEngine) NewSynthesizer() (engine.Synthesizer, error) {
	if err := e.failure(OpNewSynthesizer); err != nil {
		return nil, err
	}
	e.hold()
	e.mu.Lock()
	defer e.mu.Unlock()
	s := &Synthesizer{engine: e, volume: 100}
	if len(e.voices) > 0 {
		s.voice = e.voices[0]
	}
	e.created++
	e.current = s
	return s, nil
}

func (e *SynthesisEngine) Voices() ([]engine.Token, error) {
	if err := e.failure(OpVoices); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]engine.Token(nil), e.voices...), nil
}

func (e *SynthesisEngine) hold() {
	e.mu.Lock()
	gate := e.Gate
	if gate != nil {
		e.held++
	}
	e.mu.Unlock()
	if gate != nil {
		<-gate
	}
}

// Held reports how many NewSynthesizer calls have waited on Gate.
func (e *SynthesisEngine) Held() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.held
}

// Created reports how many synthesizers have been created.
func (e *SynthesisEngine) Created() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.created
}

// Current returns the most recently created synthesizer.
func (e *SynthesisEngine) Current() *Synthesizer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Synthesizer is an in-memory engine.Synthesizer.
type Synthesizer struct {
	engine *SynthesisEngine

	mu       sync.Mutex
	notify   func(engine.SynthEvent)
	stream   uint64
	spoken   []Spoken
	pending  []uint64
	paused   bool
	voice    engine.Token
	rate     int
	volume   int
	released bool
	stop     chan struct{}
}

func (s *Synthesizer) Notify(fn func(engine.SynthEvent)) error {
	if err := s.engine.failure(OpNotify); err != nil {
		return err
	}
	s.mu.Lock()
	s.notify = fn
	s.mu.Unlock()
	return nil
}

func (s *Synthesizer) Speak(text string, flags engine.SpeakFlags) (uint64, error) {
	if err := s.engine.failure(OpSpeak); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if flags.Has(engine.SpeakPurgeBeforeSpeak) {
		s.pending = nil
	}
	s.stream++
	s.spoken = append(s.spoken, Spoken{Stream: s.stream, Text: text, Flags: flags})
	if text != "" {
		s.pending = append(s.pending, s.stream)
	}
	if s.engine.AutoComplete > 0 && s.stop == nil {
		s.stop = make(chan struct{})
		go s.autoComplete(s.engine.AutoComplete, s.stop)
	}
	return s.stream, nil
}

func (s *Synthesizer) Pause() error {
	if err := s.engine.failure(OpPause); err != nil {
		return err
	}
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	return nil
}

func (s *Synthesizer) Resume() error {
	if err := s.engine.failure(OpResume); err != nil {
		return err
	}
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	return nil
}

func (s *Synthesizer) Voice() (engine.Token, error) {
	if err := s.engine.failure(OpVoice); err != nil {
		return engine.Token{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voice, nil
}

func (s *Synthesizer) SetVoice(t engine.Token) error {
	if err := s.engine.failure(OpSetVoice); err != nil {
		return err
	}
	s.mu.Lock()
	s.voice = t
	s.mu.Unlock()
	return nil
}

func (s *Synthesizer) SetRate(rate int) error {
	if err := s.engine.failure(OpSetRate); err != nil {
		return err
	}
	s.mu.Lock()
	s.rate = rate
	s.mu.Unlock()
	return nil
}

func (s *Synthesizer) SetVolume(volume int) error {
	if err := s.engine.failure(OpSetVolume); err != nil {
		return err
	}
	s.mu.Lock()
	s.volume = volume
	s.mu.Unlock()
	return nil
}

func (s *Synthesizer) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	s.notify = nil
	s.pending = nil
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

// Spoken returns every Speak call in order.
func (s *Synthesizer) Spoken() []Spoken {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Spoken(nil), s.spoken...)
}

// Pending returns the streams queued and not yet finished.
func (s *Synthesizer) Pending() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.pending...)
}

func (s *Synthesizer) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Synthesizer) Rate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

func (s *Synthesizer) Volume() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

func (s *Synthesizer) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// CompleteNext finishes the oldest queued stream and fires its end event. It
// reports false when nothing is queued.
func (s *Synthesizer) CompleteNext() (uint64, bool) {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return 0, false
	}
	stream := s.pending[0]
	s.pending = s.pending[1:]
	fn := s.notify
	s.mu.Unlock()

	if fn != nil {
		fn(engine.SynthEvent{Kind: engine.EventEndInputStream, Stream: stream})
	}
	return stream, true
}

// FireEndStream delivers an end event for stream regardless of queue state.
func (s *Synthesizer) FireEndStream(stream uint64) {
	s.mu.Lock()
	fn := s.notify
	s.mu.Unlock()
	if fn != nil {
		fn(engine.SynthEvent{Kind: engine.EventEndInputStream, Stream: stream})
	}
}

func (s *Synthesizer) autoComplete(every time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !s.Paused() {
				s.CompleteNext()
			}
		}
	}
}
