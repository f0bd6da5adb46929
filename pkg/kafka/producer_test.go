package kafka

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
}

// --- Event tests ---

func TestNewEvent_Fields(t *testing.T) {
	type addressData struct {
		AddressID string `json:"address_id"`
		UserID    string `json:"user_id"`
	}

	data := addressData{AddressID: "addr-1", UserID: "user-1"}
	event, err := NewEvent("address.created", "addr-1", "address", "accounts-service", data)
	require.NoError(t, err)

	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, "address.created", event.EventType)
	assert.Equal(t, "addr-1", event.AggregateID)
	assert.Equal(t, "address", event.AggregateType)
	assert.Equal(t, "accounts-service", event.Source)
	assert.Equal(t, 1, event.Version)
	assert.WithinDuration(t, time.Now().UTC(), event.Timestamp, 2*time.Second)
	assert.NotNil(t, event.Metadata)

	var got addressData
	require.NoError(t, event.UnmarshalData(&got))
	assert.Equal(t, data, got)
}

func TestNewEvent_InvalidData(t *testing.T) {
	_, err := NewEvent("test.event", "agg-1", "test", "test-service", make(chan int))
	require.Error(t, err)
}

func TestEvent_ChainingAndMetadata(t *testing.T) {
	event := &Event{EventID: "id"}
	result := event.WithCorrelationID("corr-xyz").WithMetadata("actor_role", "admin")

	assert.Same(t, event, result)
	assert.Equal(t, "corr-xyz", event.CorrelationID)
	assert.Equal(t, "admin", event.Metadata["actor_role"])
}

func TestEvent_PartitionKey(t *testing.T) {
	event, err := NewEvent("address.default_changed", "addr-1", "address", "svc", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("addr-1"), event.PartitionKey())

	event.WithMetadata("partition_key", "user-9")
	assert.Equal(t, []byte("user-9"), event.PartitionKey())
}

func TestUnmarshalEvent(t *testing.T) {
	_, err := UnmarshalEvent([]byte(`{broken json`))
	require.Error(t, err)

	_, err = UnmarshalEvent([]byte{})
	require.Error(t, err)

	event := &Event{Data: json.RawMessage(`not valid json`)}
	var target map[string]string
	require.Error(t, event.UnmarshalData(&target))
}

// --- Producer tests ---

func TestDefaultProducerConfig(t *testing.T) {
	brokers := []string{"broker1:9092", "broker2:9092"}
	cfg := DefaultProducerConfig(brokers)

	assert.Equal(t, brokers, cfg.Brokers)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 10*time.Millisecond, cfg.BatchTimeout)
	assert.False(t, cfg.Async)
}

func TestProducer_Publish_WritesEnvelopeAndHeaders(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled,
	}))

	w := &captureWriter{}
	p := newProducerWithWriter(w, discardLogger())

	event, err := NewEvent("address.created", "addr-1", "address", "accounts-service", map[string]string{"city": "Lyon"})
	require.NoError(t, err)
	event.WithCorrelationID("corr-1").WithMetadata("partition_key", "user-1")

	require.NoError(t, p.Publish(ctx, Topic("address", "created"), event))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "marketplace.address.created", msg.Topic)
	assert.Equal(t, []byte("user-1"), msg.Key)

	carrier := NewHeaderCarrier(&msg.Headers)
	assert.Equal(t, "address.created", carrier.Get("event_type"))
	assert.Equal(t, "accounts-service", carrier.Get("source"))
	assert.Equal(t, "corr-1", carrier.Get("correlation_id"))
	assert.Contains(t, carrier.Get("traceparent"), "4bf92f3577b34da6a3ce929d0e0e4736")

	decoded, err := UnmarshalEvent(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, event.EventID, decoded.EventID)
}

func TestProducer_Publish_WriteError(t *testing.T) {
	w := &captureWriter{err: errors.New("leader not available")}
	p := newProducerWithWriter(w, discardLogger())

	event, err := NewEvent("address.deleted", "addr-1", "address", "svc", nil)
	require.NoError(t, err)

	err = p.Publish(context.Background(), "t", event)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish event to t")
}

func TestNewProducer_CreatesInstance(t *testing.T) {
	p := NewProducer(DefaultProducerConfig([]string{"localhost:19092"}), discardLogger())
	require.NotNil(t, p)
	assert.Equal(t, []string{"localhost:19092"}, p.brokers)
	assert.NoError(t, p.Close())
}

func TestPingBrokers_NoBrokers(t *testing.T) {
	err := PingBrokers(t.Context(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no brokers configured")
}

// --- Topic tests ---

func TestTopic(t *testing.T) {
	tests := []struct {
		domain, action, want string
	}{
		{"address", "created", "marketplace.address.created"},
		{"address", "default_changed", "marketplace.address.default_changed"},
		{"user", "registered", "marketplace.user.registered"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Topic(tt.domain, tt.action))
		})
	}
}
