package tts

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type sessionMetrics struct {
	submitted   metric.Int64Counter
	completed   metric.Int64Counter
	stateEvents metric.Int64Counter
	queueDepth  metric.Int64UpDownCounter
	failures    metric.Int64Counter
}

func newSessionMetrics() (*sessionMetrics, error) {
	meter := otel.Meter("github.com/loqalabs/loqa-speech/tts")
	submitted, err := meter.Int64Counter("loqa.speech.tts.utterances_submitted", metric.WithDescription("Utterances submitted to the synthesizer"))
	if err != nil {
		return nil, err
	}
	completed, err := meter.Int64Counter("loqa.speech.tts.utterances_completed", metric.WithDescription("Utterance completions counted against the queue"))
	if err != nil {
		return nil, err
	}
	stateEvents, err := meter.Int64Counter("loqa.speech.tts.state_events", metric.WithDescription("Synthesis state changes emitted"))
	if err != nil {
		return nil, err
	}
	queueDepth, err := meter.Int64UpDownCounter("loqa.speech.tts.queue_depth", metric.WithDescription("Utterances submitted and not yet completed"))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("loqa.speech.tts.failures", metric.WithDescription("Engine failures surfaced by the synthesis session"))
	if err != nil {
		return nil, err
	}
	return &sessionMetrics{
		submitted:   submitted,
		completed:   completed,
		stateEvents: stateEvents,
		queueDepth:  queueDepth,
		failures:    failures,
	}, nil
}

func (m *sessionMetrics) submit(mode string) {
	if m == nil {
		return
	}
	ctx := context.Background()
	m.submitted.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
	m.queueDepth.Add(ctx, 1)
}

func (m *sessionMetrics) complete() {
	if m == nil {
		return
	}
	ctx := context.Background()
	m.completed.Add(ctx, 1)
	m.queueDepth.Add(ctx, -1)
}

func (m *sessionMetrics) drop(n int) {
	if m == nil || n == 0 {
		return
	}
	m.queueDepth.Add(context.Background(), -int64(n))
}

func (m *sessionMetrics) state(s State) {
	if m == nil {
		return
	}
	m.stateEvents.Add(context.Background(), 1, metric.WithAttributes(attribute.String("state", s.String())))
}

func (m *sessionMetrics) failure(op string) {
	if m == nil {
		return
	}
	m.failures.Add(context.Background(), 1, metric.WithAttributes(attribute.String("op", op)))
}
