package engine

// SpeakFlags control how Speak submits text.
type SpeakFlags uint32

const (
	SpeakAsync SpeakFlags = 1 << iota
	// SpeakPurgeBeforeSpeak drops queued and current speech before speaking.
	SpeakPurgeBeforeSpeak
	// SpeakIsXML marks the text as containing engine markup.
	SpeakIsXML
)

func (f SpeakFlags) Has(flag SpeakFlags) bool { return f&flag != 0 }

// SynthEventKind classifies synthesis notifications.
type SynthEventKind int

const (
	SynthEventOther SynthEventKind = iota
	// EventEndInputStream reports that one submitted stream finished speaking.
	EventEndInputStream
)

// SynthEvent is one synthesis notification. Stream is the number Speak
// returned for the finished submission.
type SynthEvent struct {
	Kind   SynthEventKind
	Stream uint64
}

// SynthesisEngine creates synthesizers and enumerates installed voices.
type SynthesisEngine interface {
	NewSynthesizer() (Synthesizer, error)
	Voices() ([]Token, error)
}

// Synthesizer is a live synthesizer instance.
type Synthesizer interface {
	// Notify registers fn for end-of-stream events. fn is called from an
	// engine goroutine.
	Notify(fn func(SynthEvent)) error
	// Speak submits text and returns its stream number. Stream numbers
	// increase monotonically per synthesizer and are never zero.
	Speak(text string, flags SpeakFlags) (uint64, error)
	Pause() error
	Resume() error
	Voice() (Token, error)
	SetVoice(Token) error
	// SetRate takes the native rate in [-10, 10].
	SetRate(rate int) error
	// SetVolume takes the native volume in [0, 100].
	SetVolume(volume int) error
	Release()
}
