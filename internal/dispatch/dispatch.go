// Package dispatch exposes speech sessions as named method channels. A
// channel decodes loosely typed arguments, invokes the session and converts
// engine faults into the error shape returned to callers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-speech/internal/engine"
	"github.com/loqalabs/loqa-speech/internal/protocol"
)

const tracerName = "github.com/loqalabs/loqa-speech/dispatch"

// ErrNotImplemented is returned by Invoke for unknown methods.
var ErrNotImplemented = errors.New("method not implemented")

// ArgumentError reports arguments that could not be decoded.
type ArgumentError struct {
	Method string
	Err    error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Method, e.Err)
}

func (e *ArgumentError) Unwrap() error { return e.Err }

// Handler runs one method. Args may be nil.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Observer is told about every method that completed without error.
type Observer func(method string)

// Channel routes method calls by name.
type Channel struct {
	name   string
	logger *slog.Logger
	tracer trace.Tracer

	mu        sync.RWMutex
	handlers  map[string]Handler
	observers []Observer
}

// NewChannel creates an empty channel.
func NewChannel(name string, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		name:     name,
		logger:   logger.With(slog.String("component", "dispatch"), slog.String("channel", name)),
		tracer:   otel.Tracer(tracerName),
		handlers: make(map[string]Handler),
	}
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return c.name
}

// Handle registers h for method, replacing any previous handler.
func (c *Channel) Handle(method string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[method] = h
}

// Observe adds fn to the observers notified after successful calls.
func (c *Channel) Observe(fn Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Methods lists the registered method names in order.
func (c *Channel) Methods() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.handlers))
	for name := range c.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Invoke runs method with args.
func (c *Channel) Invoke(ctx context.Context, method string, args map[string]any) (any, error) {
	c.mu.RLock()
	h, ok := c.handlers[method]
	observers := c.observers
	c.mu.RUnlock()
	if !ok {
		return nil, ErrNotImplemented
	}

	ctx, span := c.tracer.Start(ctx, "dispatch."+c.name+"."+method,
		trace.WithAttributes(
			attribute.String("speech.channel", c.name),
			attribute.String("speech.method", method),
		))
	defer span.End()

	result, err := h(ctx, args)
	if err != nil {
		merr := ToMethodError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, merr.Message)
		span.SetAttributes(attribute.String("speech.error_code", merr.Code))
		c.logger.Debug("method failed", slog.String("method", method), slog.String("error", err.Error()))
		return nil, err
	}
	for _, fn := range observers {
		fn(method)
	}
	return result, nil
}

// ToMethodError converts a handler error to the caller-facing shape. Engine
// faults keep their code; undecodable arguments are reported as invalid
// arguments and anything else as an unspecified failure.
func ToMethodError(err error) *protocol.MethodError {
	if err == nil {
		return nil
	}
	var argErr *ArgumentError
	if errors.As(err, &argErr) {
		f := engine.NewFault(engine.FaultInvalidArg, "")
		return &protocol.MethodError{Code: f.CodeString(), Message: f.Message, Details: argErr.Err.Error()}
	}
	f := engine.AsFault(err)
	return &protocol.MethodError{Code: f.CodeString(), Message: f.Message}
}

// decode fills out from args. Keys match field names ignoring case, dashes
// and underscores, and scalar types are converted where possible.
func decode(method string, args map[string]any, out any) error {
	if len(args) == 0 {
		return nil
	}
	cfg := &mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           out,
		WeaklyTypedInput: true,
		MatchName: func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		},
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return &ArgumentError{Method: method, Err: err}
	}
	if err := decoder.Decode(args); err != nil {
		return &ArgumentError{Method: method, Err: err}
	}
	return nil
}

func normalizeKey(value string) string {
	value = strings.ToLower(value)
	value = strings.ReplaceAll(value, "_", "")
	value = strings.ReplaceAll(value, "-", "")
	return value
}
