package dispatch

import (
	"context"
	"log/slog"

	"github.com/loqalabs/loqa-speech/internal/protocol"
	"github.com/loqalabs/loqa-speech/internal/tts"
)

// Synthesis is the session surface served on the tts channel.
type Synthesis interface {
	IsSupported() bool
	Start(text string, opts tts.Options) error
	Stop() error
	Pause() error
	Resume() error
	Language() (string, error)
	SetLanguage(tag string) error
	Languages() ([]string, error)
	SetVoice(id string) error
	Voice() (tts.Voice, error)
	Voices() ([]tts.Voice, error)
	VoicesByLanguage(tag string) ([]tts.Voice, error)
	SetPitch(p float64)
	SetRate(r float64) error
	SetVolume(v float64) error
	Settings() tts.Settings
	Dispose()
}

type startArgs struct {
	Text          string `mapstructure:"text"`
	Mode          string `mapstructure:"mode"`
	PreSilenceMS  int    `mapstructure:"preSilenceMs"`
	PostSilenceMS int    `mapstructure:"postSilenceMs"`
}

type voiceArgs struct {
	VoiceID string `mapstructure:"voiceId"`
}

type prosodyArgs struct {
	Pitch  float64 `mapstructure:"pitch"`
	Rate   float64 `mapstructure:"rate"`
	Volume float64 `mapstructure:"volume"`
}

// NewSynthesisChannel registers the tts methods for s.
func NewSynthesisChannel(s Synthesis, logger *slog.Logger) *Channel {
	c := NewChannel(protocol.ChannelTTS, logger)
	c.Handle("isSupported", func(context.Context, map[string]any) (any, error) {
		return s.IsSupported(), nil
	})
	c.Handle("start", func(_ context.Context, args map[string]any) (any, error) {
		var in startArgs
		if err := decode("start", args, &in); err != nil {
			return nil, err
		}
		return nil, s.Start(in.Text, tts.Options{
			Mode:          in.Mode,
			PreSilenceMS:  in.PreSilenceMS,
			PostSilenceMS: in.PostSilenceMS,
		})
	})
	c.Handle("stop", func(context.Context, map[string]any) (any, error) {
		return nil, s.Stop()
	})
	c.Handle("pause", func(context.Context, map[string]any) (any, error) {
		return nil, s.Pause()
	})
	c.Handle("resume", func(context.Context, map[string]any) (any, error) {
		return nil, s.Resume()
	})
	c.Handle("getLanguage", func(context.Context, map[string]any) (any, error) {
		return s.Language()
	})
	c.Handle("setLanguage", func(_ context.Context, args map[string]any) (any, error) {
		var in languageArgs
		if err := decode("setLanguage", args, &in); err != nil {
			return nil, err
		}
		return nil, s.SetLanguage(in.Language)
	})
	c.Handle("getLanguages", func(context.Context, map[string]any) (any, error) {
		langs, err := s.Languages()
		if err != nil {
			return nil, err
		}
		if langs == nil {
			langs = []string{}
		}
		return langs, nil
	})
	c.Handle("setVoice", func(_ context.Context, args map[string]any) (any, error) {
		var in voiceArgs
		if err := decode("setVoice", args, &in); err != nil {
			return nil, err
		}
		return nil, s.SetVoice(in.VoiceID)
	})
	c.Handle("getVoice", func(context.Context, map[string]any) (any, error) {
		return s.Voice()
	})
	c.Handle("getVoices", func(context.Context, map[string]any) (any, error) {
		return voiceList(s.Voices())
	})
	c.Handle("getVoicesByLanguage", func(_ context.Context, args map[string]any) (any, error) {
		var in languageArgs
		if err := decode("getVoicesByLanguage", args, &in); err != nil {
			return nil, err
		}
		return voiceList(s.VoicesByLanguage(in.Language))
	})
	c.Handle("setPitch", func(_ context.Context, args map[string]any) (any, error) {
		in := prosodyArgs{Pitch: 1}
		if err := decode("setPitch", args, &in); err != nil {
			return nil, err
		}
		s.SetPitch(in.Pitch)
		return nil, nil
	})
	c.Handle("setRate", func(_ context.Context, args map[string]any) (any, error) {
		in := prosodyArgs{Rate: 1}
		if err := decode("setRate", args, &in); err != nil {
			return nil, err
		}
		return nil, s.SetRate(in.Rate)
	})
	c.Handle("setVolume", func(_ context.Context, args map[string]any) (any, error) {
		in := prosodyArgs{Volume: 1}
		if err := decode("setVolume", args, &in); err != nil {
			return nil, err
		}
		return nil, s.SetVolume(in.Volume)
	})
	c.Handle("getSettings", func(context.Context, map[string]any) (any, error) {
		return s.Settings(), nil
	})
	c.Handle("dispose", func(context.Context, map[string]any) (any, error) {
		s.Dispose()
		return nil, nil
	})
	return c
}

func voiceList(voices []tts.Voice, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	if voices == nil {
		voices = []tts.Voice{}
	}
	return voices, nil
}
