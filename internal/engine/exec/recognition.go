package exec

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	osexec "os/exec"
	"sync"

	"github.com/loqalabs/loqa-speech/internal/engine"
	"github.com/loqalabs/loqa-speech/internal/locale"
)

// RecognitionOptions configures a RecognitionEngine.
type RecognitionOptions struct {
	// Command runs for as long as dictation is active. It receives
	// --language, --punctuation and one --context per contextual phrase when
	// set, then --input, and writes one JSON result per line.
	Command     string
	AudioInput  string
	Recognizers []engine.Token
	Logger      *slog.Logger
}

type recoLine struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
	Error string `json:"error"`
	Code  int32  `json:"code"`
}

// RecognitionEngine streams dictation results from an external command.
type RecognitionEngine struct {
	cmd    []string
	opts   RecognitionOptions
	logger *slog.Logger
}

func NewRecognitionEngine(opts RecognitionOptions) (*RecognitionEngine, error) {
	cmd, err := parseCommand("stt", opts.Command)
	if err != nil {
		return nil, err
	}
	if opts.AudioInput == "" {
		opts.AudioInput = "default"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RecognitionEngine{
		cmd:    cmd,
		opts:   opts,
		logger: logger.With(slog.String("component", "stt-exec")),
	}, nil
}

func (e *RecognitionEngine) Recognizers() ([]engine.Token, error) {
	return append([]engine.Token(nil), e.opts.Recognizers...), nil
}

func (e *RecognitionEngine) DefaultAudioInput() (engine.Token, error) {
	return engine.Token{ID: e.opts.AudioInput, Attributes: map[string]string{engine.AttrName: e.opts.AudioInput}}, nil
}

func (e *RecognitionEngine) NewRecognizer() (engine.Recognizer, error) {
	if len(e.opts.Recognizers) == 0 {
		return nil, engine.NewFault(engine.FaultNotFound, "no recognizers configured")
	}
	return &recognizer{engine: e, token: e.opts.Recognizers[0]}, nil
}

type recognizer struct {
	engine *RecognitionEngine

	mu      sync.Mutex
	token   engine.Token
	input   string
	options engine.RecoOptions
}

func (r *recognizer) Token() (engine.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.token, nil
}

func (r *recognizer) SetToken(t engine.Token) error {
	r.mu.Lock()
	r.token = t
	r.mu.Unlock()
	return nil
}

func (r *recognizer) SetInput(t engine.Token) error {
	r.mu.Lock()
	r.input = t.ID
	r.mu.Unlock()
	return nil
}

func (r *recognizer) SetOptions(o engine.RecoOptions) error {
	r.mu.Lock()
	r.options = o
	r.mu.Unlock()
	return nil
}

func (r *recognizer) NewContext() (engine.RecoContext, error) {
	return &recoContext{recognizer: r}, nil
}

func (r *recognizer) Release() {}

func (r *recognizer) args() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	args := append([]string{}, r.engine.cmd[1:]...)
	if raw, err := r.token.Attr(engine.AttrLanguage); err == nil {
		if tag := locale.TagFromAttribute(raw); tag != "" {
			args = append(args, "--language", tag)
		}
	}
	if r.options.Punctuation {
		args = append(args, "--punctuation")
	}
	for _, phrase := range r.options.ContextualStrings {
		args = append(args, "--context", phrase)
	}
	input := r.input
	if input == "" {
		input = r.engine.opts.AudioInput
	}
	return append(args, "--input", input)
}

type recoContext struct {
	recognizer *recognizer

	mu       sync.Mutex
	notify   func(engine.RecoEvent)
	released bool
}

func (c *recoContext) Notify(fn func(engine.RecoEvent)) error {
	c.mu.Lock()
	c.notify = fn
	c.mu.Unlock()
	return nil
}

func (c *recoContext) NewGrammar() (engine.Grammar, error) {
	return &grammar{context: c}, nil
}

func (c *recoContext) Release() {
	c.mu.Lock()
	c.released = true
	c.notify = nil
	c.mu.Unlock()
}

func (c *recoContext) callback() func(engine.RecoEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil
	}
	return c.notify
}

type grammar struct {
	context *recoContext

	mu      sync.Mutex
	loaded  bool
	session uint64
	cancel  context.CancelFunc
}

func (g *grammar) LoadDictation() error {
	g.mu.Lock()
	g.loaded = true
	g.mu.Unlock()
	return nil
}

func (g *grammar) UnloadDictation() error {
	g.mu.Lock()
	g.loaded = false
	g.mu.Unlock()
	return nil
}

// SetDictationActive starts or cancels the recognition command. Deactivation
// does not wait for the command to exit; results it still prints are dropped.
func (g *grammar) SetDictationActive(active bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !active {
		g.stopLocked()
		return nil
	}
	if !g.loaded {
		return engine.NewFault(engine.FaultUninitialized, "dictation is not loaded")
	}
	if g.cancel != nil {
		return nil
	}

	r := g.context.recognizer
	ctx, cancel := context.WithCancel(context.Background())
	cmd := osexec.CommandContext(ctx, r.engine.cmd[0], r.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return err
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return engine.NewFault(engine.FaultBusy, err.Error())
	}
	g.session++
	g.cancel = cancel
	go g.read(g.session, cmd, bufio.NewScanner(stdout))
	return nil
}

func (g *grammar) Release() {
	g.mu.Lock()
	g.stopLocked()
	g.mu.Unlock()
}

func (g *grammar) stopLocked() {
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	g.session++
}

func (g *grammar) current(session uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session == session
}

func (g *grammar) read(session uint64, cmd *osexec.Cmd, scanner *bufio.Scanner) {
	logger := g.context.recognizer.engine.logger
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var res recoLine
		if err := json.Unmarshal(line, &res); err != nil {
			logger.Warn("invalid recognizer output", slog.String("error", err.Error()))
			continue
		}
		ev := engine.RecoEvent{Kind: engine.EventHypothesis, Text: res.Text}
		if res.Final {
			ev.Kind = engine.EventRecognition
		}
		if res.Error != "" {
			code := res.Code
			if code == 0 {
				code = engine.FaultFail
			}
			ev.Err = engine.NewFault(code, res.Error)
		}
		if !g.current(session) {
			break
		}
		if fn := g.context.callback(); fn != nil {
			fn(ev)
		}
	}
	if err := cmd.Wait(); err != nil && g.current(session) {
		logger.Warn("recognizer command exited", slog.String("error", err.Error()))
	}
}
