package exec

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	osexec "os/exec"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/loqalabs/loqa-speech/internal/engine"
	"github.com/loqalabs/loqa-speech/internal/locale"
)

// SynthesisOptions configures a SynthesisEngine.
type SynthesisOptions struct {
	// Command renders one utterance. It reads a JSON request on stdin and
	// writes JSON lines carrying base64 PCM on stdout.
	Command string
	// Player, when set, is run with the rendered WAV path appended.
	Player string
	// OutputDir keeps rendered WAV files. Without it files are written to a
	// temporary location and removed after playback.
	OutputDir  string
	SampleRate int
	Channels   int
	Voices     []engine.Token
	Logger     *slog.Logger
}

type synthRequest struct {
	Text          string `json:"text"`
	Voice         string `json:"voice"`
	Language      string `json:"language,omitempty"`
	Pitch         int    `json:"pitch"`
	Rate          int    `json:"rate"`
	Volume        int    `json:"volume"`
	PreSilenceMS  int    `json:"pre_silence_ms"`
	PostSilenceMS int    `json:"post_silence_ms"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
}

type synthResponse struct {
	PCMBase64 string `json:"pcm_base64"`
}

// SynthesisEngine runs a command per utterance and optionally plays the
// result.
type SynthesisEngine struct {
	cmd    []string
	player []string
	opts   SynthesisOptions
	logger *slog.Logger
}

func NewSynthesisEngine(opts SynthesisOptions) (*SynthesisEngine, error) {
	cmd, err := parseCommand("tts", opts.Command)
	if err != nil {
		return nil, err
	}
	var player []string
	if opts.Player != "" {
		if player, err = parseCommand("tts player", opts.Player); err != nil {
			return nil, err
		}
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 22050
	}
	if opts.Channels <= 0 {
		opts.Channels = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SynthesisEngine{
		cmd:    cmd,
		player: player,
		opts:   opts,
		logger: logger.With(slog.String("component", "tts-exec")),
	}, nil
}

func (e *SynthesisEngine) Voices() ([]engine.Token, error) {
	return append([]engine.Token(nil), e.opts.Voices...), nil
}

func (e *SynthesisEngine) NewSynthesizer() (engine.Synthesizer, error) {
	if len(e.opts.Voices) == 0 {
		return nil, engine.NewFault(engine.FaultNotFound, "no voices configured")
	}
	s := &Synthesizer{engine: e, voice: e.opts.Voices[0], volume: 100}
	s.cond = sync.NewCond(&s.mu)
	go s.run()
	return s, nil
}

type utterance struct {
	stream uint64
	markup engine.Markup
}

// Synthesizer speaks queued utterances one at a time on a worker goroutine.
// While paused the queue is held and the completion of an utterance that
// was already rendering is reported after Resume.
type Synthesizer struct {
	engine *SynthesisEngine

	mu         sync.Mutex
	cond       *sync.Cond
	notify     func(engine.SynthEvent)
	stream     uint64
	queue      []utterance
	generation uint64
	cancel     context.CancelFunc
	paused     bool
	closed     bool
	voice      engine.Token
	rate       int
	volume     int
}

func (s *Synthesizer) Notify(fn func(engine.SynthEvent)) error {
	s.mu.Lock()
	s.notify = fn
	s.mu.Unlock()
	return nil
}

func (s *Synthesizer) Speak(text string, flags engine.SpeakFlags) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, engine.NewFault(engine.FaultUninitialized, "")
	}
	if flags.Has(engine.SpeakPurgeBeforeSpeak) {
		s.generation++
		s.queue = nil
		if s.cancel != nil {
			s.cancel()
		}
		s.cond.Broadcast()
	}
	s.stream++
	markup := engine.Markup{Text: text}
	if flags.Has(engine.SpeakIsXML) {
		markup = engine.ParseMarkup(text)
	}
	if markup.Text != "" {
		s.queue = append(s.queue, utterance{stream: s.stream, markup: markup})
		s.cond.Broadcast()
	}
	return s.stream, nil
}

func (s *Synthesizer) Pause() error {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	return nil
}

func (s *Synthesizer) Resume() error {
	s.mu.Lock()
	s.paused = false
	s.cond.Broadcast()
	s.mu.Unlock()
	return nil
}

func (s *Synthesizer) Voice() (engine.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voice, nil
}

func (s *Synthesizer) SetVoice(t engine.Token) error {
	s.mu.Lock()
	s.voice = t
	s.mu.Unlock()
	return nil
}

func (s *Synthesizer) SetRate(rate int) error {
	if rate < -10 || rate > 10 {
		return engine.NewFault(engine.FaultInvalidArg, "")
	}
	s.mu.Lock()
	s.rate = rate
	s.mu.Unlock()
	return nil
}

func (s *Synthesizer) SetVolume(volume int) error {
	if volume < 0 || volume > 100 {
		return engine.NewFault(engine.FaultInvalidArg, "")
	}
	s.mu.Lock()
	s.volume = volume
	s.mu.Unlock()
	return nil
}

// Release stops the worker without waiting for it. Pending completions are
// never delivered.
func (s *Synthesizer) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.notify = nil
	s.queue = nil
	if s.cancel != nil {
		s.cancel()
	}
	s.cond.Broadcast()
}

func (s *Synthesizer) run() {
	for {
		s.mu.Lock()
		for !s.closed && (s.paused || len(s.queue) == 0) {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		u := s.queue[0]
		s.queue = s.queue[1:]
		gen := s.generation
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		req := s.request(u.markup)
		s.mu.Unlock()

		err := s.engine.render(ctx, req)
		cancel()

		s.mu.Lock()
		s.cancel = nil
		for s.paused && !s.closed && s.generation == gen {
			s.cond.Wait()
		}
		purged := s.closed || s.generation != gen
		fn := s.notify
		s.mu.Unlock()

		if purged {
			continue
		}
		if err != nil {
			s.engine.logger.Warn("utterance failed", slog.Uint64("stream", u.stream), slog.String("error", err.Error()))
		}
		if fn != nil {
			fn(engine.SynthEvent{Kind: engine.EventEndInputStream, Stream: u.stream})
		}
	}
}

func (s *Synthesizer) request(m engine.Markup) synthRequest {
	req := synthRequest{
		Text:          m.Text,
		Voice:         s.voice.ID,
		Pitch:         m.Pitch,
		Rate:          s.rate,
		Volume:        s.volume,
		PreSilenceMS:  m.PreSilenceMS,
		PostSilenceMS: m.PostSilenceMS,
		SampleRate:    s.engine.opts.SampleRate,
		Channels:      s.engine.opts.Channels,
	}
	if raw, err := s.voice.Attr(engine.AttrLanguage); err == nil {
		req.Language = locale.TagFromAttribute(raw)
	}
	return req
}

func (e *SynthesisEngine) render(ctx context.Context, req synthRequest) error {
	pcm, err := e.synthesize(ctx, req)
	if err != nil {
		return err
	}
	if e.player == nil && e.opts.OutputDir == "" {
		return nil
	}

	audio := silence(req.PreSilenceMS, req.SampleRate, req.Channels)
	audio = append(audio, pcm...)
	audio = append(audio, silence(req.PostSilenceMS, req.SampleRate, req.Channels)...)

	dir := e.opts.OutputDir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, "loqa_tts_"+uuid.NewString()+".wav")
	if err := writeWav(path, audio, req.SampleRate, req.Channels); err != nil {
		return err
	}
	if e.opts.OutputDir == "" {
		defer os.Remove(path)
	}
	if e.player == nil {
		return nil
	}
	args := append(append([]string{}, e.player[1:]...), path)
	cmd := osexec.CommandContext(ctx, e.player[0], args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("tts player failed: %w: %s", err, out)
	}
	return nil
}

func (e *SynthesisEngine) synthesize(ctx context.Context, req synthRequest) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	cmd := osexec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	if _, err := stdin.Write(data); err != nil {
		_ = cmd.Wait()
		return nil, err
	}
	stdin.Close()

	var pcm []byte
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp synthResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			_ = cmd.Wait()
			return nil, fmt.Errorf("decode tts response: %w", err)
		}
		chunk, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			_ = cmd.Wait()
			return nil, fmt.Errorf("decode tts audio: %w", err)
		}
		pcm = append(pcm, chunk...)
	}
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("tts command failed: %w", err)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return pcm, nil
}
