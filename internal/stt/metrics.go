package stt

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type sessionMetrics struct {
	results     metric.Int64Counter
	stateEvents metric.Int64Counter
	failures    metric.Int64Counter
}

func newSessionMetrics() (*sessionMetrics, error) {
	meter := otel.Meter("github.com/loqalabs/loqa-speech/stt")
	results, err := meter.Int64Counter("loqa.speech.stt.results", metric.WithDescription("Recognition results delivered"))
	if err != nil {
		return nil, err
	}
	stateEvents, err := meter.Int64Counter("loqa.speech.stt.state_events", metric.WithDescription("Recognition state changes emitted"))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("loqa.speech.stt.failures", metric.WithDescription("Engine failures surfaced by the recognition session"))
	if err != nil {
		return nil, err
	}
	return &sessionMetrics{results: results, stateEvents: stateEvents, failures: failures}, nil
}

func (m *sessionMetrics) result(final bool) {
	if m == nil {
		return
	}
	m.results.Add(context.Background(), 1, metric.WithAttributes(attribute.Bool("final", final)))
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
