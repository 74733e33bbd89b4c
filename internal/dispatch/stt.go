package dispatch

import (
	"context"
	"log/slog"

	"github.com/loqalabs/loqa-speech/internal/protocol"
	"github.com/loqalabs/loqa-speech/internal/stt"
)

// Recognition is the session surface served on the stt channel.
type Recognition interface {
	IsSupported() bool
	Language() (string, error)
	SetLanguage(tag string) error
	Languages() ([]string, error)
	StartWith(opts stt.Options) error
	Stop()
	Dispose()
}

type recognitionStartArgs struct {
	ContextualStrings []string `mapstructure:"contextualStrings"`
	Punctuation       bool     `mapstructure:"punctuation"`
}

type languageArgs struct {
	Language string `mapstructure:"language"`
}

// NewRecognitionChannel registers the stt methods for s.
func NewRecognitionChannel(s Recognition, logger *slog.Logger) *Channel {
	c := NewChannel(protocol.ChannelSTT, logger)
	c.Handle("isSupported", func(context.Context, map[string]any) (any, error) {
		return s.IsSupported(), nil
	})
	// Microphone permission is granted by the host operating system.
	c.Handle("hasPermission", func(context.Context, map[string]any) (any, error) {
		return true, nil
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
	c.Handle("start", func(_ context.Context, args map[string]any) (any, error) {
		var in recognitionStartArgs
		if err := decode("start", args, &in); err != nil {
			return nil, err
		}
		return nil, s.StartWith(stt.Options{ContextualStrings: in.ContextualStrings, Punctuation: in.Punctuation})
	})
	c.Handle("stop", func(context.Context, map[string]any) (any, error) {
		s.Stop()
		return nil, nil
	})
	c.Handle("dispose", func(context.Context, map[string]any) (any, error) {
		s.Dispose()
		return nil, nil
	})
	return c
}
