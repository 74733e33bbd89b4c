package engine

// RecoEventKind classifies recognition notifications.
type RecoEventKind int

const (
	EventOther RecoEventKind = iota
	// EventHypothesis is a provisional result that may be superseded.
	EventHypothesis
	// EventRecognition is a final result for the current utterance.
	EventRecognition
)

func (k RecoEventKind) String() string {
	switch k {
	case EventHypothesis:
		return "hypothesis"
	case EventRecognition:
		return "recognition"
	default:
		return "other"
	}
}

// RecoEvent is one recognition notification. Err is set when the engine
// raised the event but could not produce its text.
type RecoEvent struct {
	Kind RecoEventKind
	Text string
	Err  error
}

// RecoOptions are hints for one listening session.
type RecoOptions struct {
	// ContextualStrings bias recognition toward these phrases.
	ContextualStrings []string
	Punctuation       bool
}

// OptionSetter is implemented by recognizers that accept RecoOptions. They
// apply from the next dictation activation.
type OptionSetter interface {
	SetOptions(RecoOptions) error
}

// RecognitionEngine creates recognizers and enumerates installed resources.
type RecognitionEngine interface {
	NewRecognizer() (Recognizer, error)
	// Recognizers lists installed recognizer tokens.
	Recognizers() ([]Token, error)
	// DefaultAudioInput returns the default audio capture device.
	DefaultAudioInput() (Token, error)
}

// Recognizer is a live recognizer instance.
type Recognizer interface {
	// Token returns the recognizer token currently in use.
	Token() (Token, error)
	// SetToken switches the recognizer to another installed token.
	SetToken(Token) error
	SetInput(Token) error
	NewContext() (RecoContext, error)
	Release()
}

// RecoContext is a recognition context owned by a Recognizer.
type RecoContext interface {
	// Notify registers fn for hypothesis and recognition events. fn is called
	// from an engine goroutine.
	Notify(fn func(RecoEvent)) error
	NewGrammar() (Grammar, error)
	Release()
}

// Grammar is a grammar owned by a RecoContext.
type Grammar interface {
	LoadDictation() error
	SetDictationActive(active bool) error
	UnloadDictation() error
	Release()
}
