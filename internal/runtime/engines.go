package runtime

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-speech/internal/config"
	"github.com/loqalabs/loqa-speech/internal/engine"
	"github.com/loqalabs/loqa-speech/internal/engine/exec"
	"github.com/loqalabs/loqa-speech/internal/engine/mock"
)

// tokens converts configured resources to engine tokens. Languages are
// stored as the engine does, a hexadecimal locale identifier.
func tokens(resources []config.InstalledResource) ([]engine.Token, error) {
	out := make([]engine.Token, 0, len(resources))
	for _, res := range resources {
		id, ok := config.LocaleID(res.Language)
		if !ok {
			return nil, fmt.Errorf("resource %s: unknown language %q", res.ID, res.Language)
		}
		attrs := map[string]string{engine.AttrLanguage: fmt.Sprintf("%X", id)}
		if res.Name != "" {
			attrs[engine.AttrName] = res.Name
		}
		if res.Gender != "" {
			attrs[engine.AttrGender] = res.Gender
		}
		if res.Vendor != "" {
			attrs[engine.AttrVendor] = res.Vendor
		}
		out = append(out, engine.Token{ID: res.ID, Attributes: attrs})
	}
	return out, nil
}

func newRecognitionEngine(cfg config.STTConfig, logger *slog.Logger) (engine.RecognitionEngine, error) {
	recognizers, err := tokens(cfg.Recognizers)
	if err != nil {
		return nil, err
	}
	switch cfg.Mode {
	case "exec":
		return exec.NewRecognitionEngine(exec.RecognitionOptions{
			Command:     cfg.Command,
			AudioInput:  cfg.AudioInput,
			Recognizers: recognizers,
			Logger:      logger,
		})
	case "", "mock":
		eng := mock.NewRecognitionEngine(recognizers...)
		eng.Phrase = cfg.MockPhrase
		eng.Delay = time.Duration(cfg.MockDelayMS) * time.Millisecond
		return eng, nil
	default:
		return nil, fmt.Errorf("unsupported stt mode %q", cfg.Mode)
	}
}

func newSynthesisEngine(cfg config.TTSConfig, logger *slog.Logger) (engine.SynthesisEngine, error) {
	voices, err := tokens(cfg.Voices)
	if err != nil {
		return nil, err
	}
	switch cfg.Mode {
	case "exec":
		return exec.NewSynthesisEngine(exec.SynthesisOptions{
			Command:    cfg.Command,
			Player:     cfg.Player,
			OutputDir:  cfg.OutputDir,
			SampleRate: cfg.SampleRate,
			Channels:   cfg.Channels,
			Voices:     voices,
			Logger:     logger,
		})
	case "", "mock":
		eng := mock.NewSynthesisEngine(voices...)
		eng.AutoComplete = time.Duration(cfg.MockSpeakMS) * time.Millisecond
		return eng, nil
	default:
		return nil, fmt.Errorf("unsupported tts mode %q", cfg.Mode)
	}
}
