package tts

import "math"

// State is the synthesis state published on the state stream.
type State int

const (
	StateStopped  State = 0
	StateSpeaking State = 1
	StatePaused   State = 2
)

func (s State) String() string {
	switch s {
	case StateSpeaking:
		return "speaking"
	case StatePaused:
		return "paused"
	default:
		return "stopped"
	}
}

// Submission modes for Start.
const (
	ModeAdd   = "add"
	ModeFlush = "flush"
)

// Options controls one Start call. Any mode other than ModeFlush queues the
// utterance behind the ones already submitted.
type Options struct {
	Mode          string
	PreSilenceMS  int
	PostSilenceMS int
}

type Gender string

const (
	GenderMale        Gender = "male"
	GenderFemale      Gender = "female"
	GenderUnspecified Gender = "unspecified"
)

// ParseGender maps the engine's gender attribute. Only "Male" is recognised
// as male; every other reported value is treated as female.
func ParseGender(raw string, ok bool) Gender {
	switch {
	case !ok:
		return GenderUnspecified
	case raw == "Male":
		return GenderMale
	default:
		return GenderFemale
	}
}

// Voice describes an installed synthesis voice. LanguageInstalled and
// NetworkRequired are fixed because the engine does not report them.
type Voice struct {
	ID                string `json:"id"`
	Language          string `json:"language"`
	LanguageInstalled bool   `json:"languageInstalled"`
	Name              string `json:"name"`
	NetworkRequired   bool   `json:"networkRequired"`
	Gender            Gender `json:"gender"`
}

// Settings are the session's current prosody values in engine units.
type Settings struct {
	Pitch  int `json:"pitch"`
	Rate   int `json:"rate"`
	Volume int `json:"volume"`
}

const (
	defaultPitch  = 0
	defaultRate   = 0
	defaultVolume = 100
)

// NativePitch converts a pitch in [0, 2] to the engine's [-10, 10] range.
func NativePitch(p float64) int {
	p = clamp(p, 0, 2)
	return int(math.Round(((p - 1) * 20) / 2))
}

// NativeRate converts a rate multiplier in [0.1, 10] to the engine's rate
// scale. Slower than normal maps to -1/r, anything else to r, truncated.
func NativeRate(r float64) int {
	r = clamp(r, 0.1, 10)
	if r < 1 {
		return int(-1 / r)
	}
	return int(r)
}

// NativeVolume converts a volume in [0, 1] to the engine's [0, 100] range.
func NativeVolume(v float64) int {
	return int(clamp(math.Round(v*100), 0, 100))
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(math.Max(v, lo), hi)
}
