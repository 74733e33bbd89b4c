package mock

import (
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-speech/internal/engine"
)

// Operation names accepted by RecognitionEngine.Fail.
const (
	OpNewRecognizer = "newRecognizer"
	OpRecognizers   = "recognizers"
	OpAudioInput    = "audioInput"
	OpToken         = "token"
	OpSetToken      = "setToken"
	OpSetInput      = "setInput"
	OpNewContext    = "newContext"
	OpRecoNotify    = "recoNotify"
	OpNewGrammar    = "newGrammar"
	OpLoadDictation = "loadDictation"
	OpActivate      = "activate"
	OpSetOptions    = "setOptions"
)

// RecognitionEngine is an in-memory engine.RecognitionEngine.
type RecognitionEngine struct {
	// Phrase, when set together with Delay, is recognized automatically each
	// time dictation is activated: a hypothesis for its first word followed
	// by the full phrase as a final result.
	Phrase string
	Delay  time.Duration
	// Gate, when set, holds every NewRecognizer call until it is closed.
	Gate chan struct{}

	mu          sync.Mutex
	held        int
	recognizers []engine.Token
	audioInput  engine.Token
	failures    map[string]error
	created     int
	current     *Recognizer
	releases    []string
}

// NewRecognitionEngine returns an engine with the given installed
// recognizers. The first one is the default for new recognizers.
func NewRecognitionEngine(recognizers ...engine.Token) *RecognitionEngine {
	return &RecognitionEngine{
		recognizers: recognizers,
		audioInput:  engine.Token{ID: "audio-in-default", Attributes: map[string]string{engine.AttrName: "Default microphone"}},
		failures:    make(map[string]error),
	}
}

// Fail makes op return err until cleared with a nil err.
func (e *RecognitionEngine) Fail(op string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.failures, op)
		return
	}
	e.failures[op] = err
}

func (e *RecognitionEngine) failure(op string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failures[op]
}

func (e *RecognitionEngine) logRelease(what string) {
	e.mu.Lock()
	e.releases = append(e.releases, what)
	e.mu.Unlock()
}

// Releases returns the order in which handles were released.
func (e *RecognitionEngine) Releases() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.releases...)
}

func (e *RecognitionEngine) NewRecognizer() (engine.Recognizer, error) {
	if err := e.failure(OpNewRecognizer); err != nil {
		return nil, err
	}
	e.hold()
	e.mu.Lock()
	defer e.mu.Unlock()
	r := &Recognizer{engine: e}
	if len(e.recognizers) > 0 {
		r.token = e.recognizers[0]
	}
	e.created++
	e.current = r
	return r, nil
}

func (e *RecognitionEngine) Recognizers() ([]engine.Token, error) {
	if err := e.failure(OpRecognizers); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]engine.Token(nil), e.recognizers...), nil
}

func (e *RecognitionEngine) DefaultAudioInput() (engine.Token, error) {
	if err := e.failure(OpAudioInput); err != nil {
		return engine.Token{}, err
	}
	return e.audioInput, nil
}

func (e *RecognitionEngine) hold() {
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

// Held reports how many NewRecognizer calls have waited on Gate.
func (e *RecognitionEngine) Held() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.held
}

// Created reports how many recognizers have been created.
func (e *RecognitionEngine) Created() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.created
}

// Current returns the most recently created recognizer.
func (e *RecognitionEngine) Current() *Recognizer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// FireHypothesis delivers a provisional result to the active context.
func (e *RecognitionEngine) FireHypothesis(text string) bool {
	return e.fire(engine.RecoEvent{Kind: engine.EventHypothesis, Text: text})
}

// FireRecognition delivers a final result to the active context.
func (e *RecognitionEngine) FireRecognition(text string) bool {
	return e.fire(engine.RecoEvent{Kind: engine.EventRecognition, Text: text})
}

// FireEvent delivers ev to the active context. It reports false when no
// context has a callback registered.
func (e *RecognitionEngine) FireEvent(ev engine.RecoEvent) bool {
	return e.fire(ev)
}

func (e *RecognitionEngine) fire(ev engine.RecoEvent) bool {
	r := e.Current()
	if r == nil {
		return false
	}
	fn := r.callback()
	if fn == nil {
		return false
	}
	fn(ev)
	return true
}

// Recognizer is an in-memory engine.Recognizer.
type Recognizer struct {
	engine *RecognitionEngine

	mu       sync.Mutex
	token    engine.Token
	input    *engine.Token
	options  engine.RecoOptions
	context  *RecoContext
	released bool
}

func (r *Recognizer) Token() (engine.Token, error) {
	if err := r.engine.failure(OpToken); err != nil {
		return engine.Token{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.token, nil
}

func (r *Recognizer) SetToken(t engine.Token) error {
	if err := r.engine.failure(OpSetToken); err != nil {
		return err
	}
	r.mu.Lock()
	r.token = t
	r.mu.Unlock()
	return nil
}

func (r *Recognizer) SetInput(t engine.Token) error {
	if err := r.engine.failure(OpSetInput); err != nil {
		return err
	}
	r.mu.Lock()
	r.input = &t
	r.mu.Unlock()
	return nil
}

func (r *Recognizer) SetOptions(o engine.RecoOptions) error {
	if err := r.engine.failure(OpSetOptions); err != nil {
		return err
	}
	r.mu.Lock()
	r.options = o
	r.mu.Unlock()
	return nil
}

// Options returns the options most recently applied.
func (r *Recognizer) Options() engine.RecoOptions {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.options
}

func (r *Recognizer) NewContext() (engine.RecoContext, error) {
	if err := r.engine.failure(OpNewContext); err != nil {
		return nil, err
	}
	c := &RecoContext{recognizer: r}
	r.mu.Lock()
	r.context = c
	r.mu.Unlock()
	return c, nil
}

func (r *Recognizer) Release() {
	r.mu.Lock()
	r.released = true
	r.mu.Unlock()
	r.engine.logRelease("recognizer")
}

func (r *Recognizer) Released() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

// Input returns the audio input set on the recognizer, if any.
func (r *Recognizer) Input() (engine.Token, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.input == nil {
		return engine.Token{}, false
	}
	return *r.input, true
}

// Context returns the most recently created context.
func (r *Recognizer) Context() *RecoContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.context
}

func (r *Recognizer) callback() func(engine.RecoEvent) {
	c := r.Context()
	if c == nil {
		return nil
	}
	return c.callback()
}

// RecoContext is an in-memory engine.RecoContext.
type RecoContext struct {
	recognizer *Recognizer

	mu       sync.Mutex
	notify   func(engine.RecoEvent)
	grammar  *Grammar
	released bool
}

func (c *RecoContext) Notify(fn func(engine.RecoEvent)) error {
	if err := c.recognizer.engine.failure(OpRecoNotify); err != nil {
		return err
	}
	c.mu.Lock()
	c.notify = fn
	c.mu.Unlock()
	return nil
}

func (c *RecoContext) NewGrammar() (engine.Grammar, error) {
	if err := c.recognizer.engine.failure(OpNewGrammar); err != nil {
		return nil, err
	}
	g := &Grammar{context: c}
	c.mu.Lock()
	c.grammar = g
	c.mu.Unlock()
	return g, nil
}

func (c *RecoContext) Release() {
	c.mu.Lock()
	c.released = true
	c.notify = nil
	c.mu.Unlock()
	c.recognizer.engine.logRelease("context")
}

func (c *RecoContext) Released() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

// Grammar returns the most recently created grammar.
func (c *RecoContext) Grammar() *Grammar {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.grammar
}

func (c *RecoContext) callback() func(engine.RecoEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil
	}
	return c.notify
}

// Grammar is an in-memory engine.Grammar.
type Grammar struct {
	context *RecoContext

	mu       sync.Mutex
	loaded   bool
	active   bool
	released bool
}

func (g *Grammar) LoadDictation() error {
	if err := g.context.recognizer.engine.failure(OpLoadDictation); err != nil {
		return err
	}
	g.mu.Lock()
	g.loaded = true
	g.mu.Unlock()
	return nil
}

func (g *Grammar) SetDictationActive(active bool) error {
	if active {
		if err := g.context.recognizer.engine.failure(OpActivate); err != nil {
			return err
		}
	}
	g.mu.Lock()
	g.active = active
	g.mu.Unlock()

	e := g.context.recognizer.engine
	if active && e.Phrase != "" && e.Delay > 0 {
		go g.recite(e.Phrase, e.Delay)
	}
	return nil
}

func (g *Grammar) UnloadDictation() error {
	g.mu.Lock()
	g.loaded = false
	g.mu.Unlock()
	return nil
}

func (g *Grammar) Release() {
	g.mu.Lock()
	g.released = true
	g.active = false
	g.mu.Unlock()
	g.context.recognizer.engine.logRelease("grammar")
}

func (g *Grammar) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

func (g *Grammar) Loaded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.loaded
}

func (g *Grammar) recite(phrase string, delay time.Duration) {
	fire := func(ev engine.RecoEvent) {
		if !g.Active() {
			return
		}
		if fn := g.context.callback(); fn != nil {
			fn(ev)
		}
	}
	time.Sleep(delay)
	if first := strings.Fields(phrase); len(first) > 0 {
		fire(engine.RecoEvent{Kind: engine.EventHypothesis, Text: first[0]})
	}
	time.Sleep(delay)
	fire(engine.RecoEvent{Kind: engine.EventRecognition, Text: phrase})
}
