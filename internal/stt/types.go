package stt

// State is the recognition state published on the state stream.
type State int

const (
	StateStopped   State = 0
	StateListening State = 1
)

func (s State) String() string {
	if s == StateListening {
		return "listening"
	}
	return "stopped"
}

// Options are recognition hints for one Start. Engines that do not support
// them ignore them.
type Options struct {
	ContextualStrings []string
	Punctuation       bool
}

// Result is one recognized or hypothesized utterance published on the result
// stream.
type Result struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}
