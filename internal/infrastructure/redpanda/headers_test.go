package redpanda

import (
	"context"
	"testing"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceContextRoundTripsThroughHeaders(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	record := &kgo.Record{Topic: TopicPrescriptionEvents, Key: []byte("rx-1")}
	injectTraceHeaders(ctx, record)
	// a second injection overwrites rather than duplicates
	injectTraceHeaders(ctx, record)

	if n := len(record.Headers); n != 1 {
		t.Fatalf("headers = %d, want 1", n)
	}
	if got := (headerCarrier{record: record}).Get("traceparent"); got != "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01" {
		t.Errorf("traceparent = %q", got)
	}

	extracted := trace.SpanContextFromContext(extractTraceContext(context.Background(), record))
	if extracted.TraceID() != traceID || !extracted.IsRemote() {
		t.Errorf("extracted = %+v", extracted)
	}
}

func TestToMessageCopiesHeaders(t *testing.T) {
	record := &kgo.Record{
		Topic:     TopicPrescriptionEvents,
		Partition: 2,
		Offset:    41,
		Key:       []byte("rx-1"),
		Value:     []byte(`{}`),
		Headers:   []kgo.RecordHeader{{Key: "event_type", Value: []byte("PrescriptionCreated")}},
	}
	msg := toMessage(record)
	if msg.Headers["event_type"] != "PrescriptionCreated" || msg.Offset != 41 || string(msg.Key) != "rx-1" {
		t.Errorf("message = %+v", msg)
	}
}

func TestDefaultTopicConfigs(t *testing.T) {
	names := map[string]bool{}
	for _, tc := range DefaultTopicConfigs() {
		names[tc.Name] = true
	}
	if !names[TopicPrescriptionEvents] || !names[TopicDeadLetter] {
		t.Errorf("topics = %v", names)
	}
}
