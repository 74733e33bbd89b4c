package protocol

import (
	"encoding/json"
	"time"
)

// Channel names. Subjects are built from a configurable prefix.
const (
	ChannelSTT = "stt"
	ChannelTTS = "tts"
)

// Stream names within a channel.
const (
	StreamStates  = "states"
	StreamResults = "results"
)

const (
	suffixMethods = "methods"
	suffixListen  = "listen"
	suffixCancel  = "cancel"
)

// MethodsSubject is the request/reply subject serving a channel's methods.
func MethodsSubject(prefix, channel string) string {
	return prefix + "." + channel + "." + suffixMethods
}

// StreamSubject names an event stream, e.g. speech.tts.states.
func StreamSubject(prefix, channel, stream string) string {
	return prefix + "." + channel + "." + stream
}

// ListenSubject receives requests that attach a listener to a stream.
func ListenSubject(prefix, channel, stream string) string {
	return StreamSubject(prefix, channel, stream) + "." + suffixListen
}

// CancelSubject receives requests that detach a stream's listener.
func CancelSubject(prefix, channel, stream string) string {
	return StreamSubject(prefix, channel, stream) + "." + suffixCancel
}

// MethodCall invokes a named method with loosely typed arguments.
type MethodCall struct {
	Method string         `json:"method"`
	Args   map[string]any `json:"args,omitempty"`
}

// MethodError is the error shape returned to callers. Code is the engine
// failure code in decimal.
type MethodError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// MethodReply answers a MethodCall. Exactly one of Result, Error or
// NotImplemented is meaningful.
type MethodReply struct {
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *MethodError    `json:"error,omitempty"`
	NotImplemented bool            `json:"not_implemented,omitempty"`
}

// ListenRequest attaches the caller as a stream's listener. Events are
// published to DeliverSubject.
type ListenRequest struct {
	DeliverSubject string `json:"deliver_subject"`
}

// ListenReply acknowledges a listen or cancel request.
type ListenReply struct {
	Stream    string `json:"stream"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// StreamEvent is one delivery on an event stream.
type StreamEvent struct {
	Stream    string          `json:"stream"`
	SessionID string          `json:"session_id"`
	Value     json.RawMessage `json:"value,omitempty"`
	Error     *MethodError    `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
