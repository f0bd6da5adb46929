package kafka

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherMetricNames(t *testing.T) map[string]bool {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, fam := range families {
		names[fam.GetName()] = true
	}
	return names
}

func TestProducerMetrics_Registered(t *testing.T) {
	// Vec metrics only show up in Gather once a label set exists.
	ProducerMessagesPublished.WithLabelValues("test-topic")
	ProducerPublishErrors.WithLabelValues("test-topic")
	ProducerPublishDuration.WithLabelValues("test-topic")
	ProducerBreakerState.WithLabelValues("test-breaker")
	ProducerBreakerRejected.WithLabelValues("test-breaker", "test-topic")

	names := gatherMetricNames(t)
	for _, name := range []string{
		"kafka_producer_messages_published_total",
		"kafka_producer_publish_errors_total",
		"kafka_producer_publish_duration_seconds",
		"kafka_producer_breaker_state",
		"kafka_producer_breaker_rejected_total",
	} {
		assert.True(t, names[name], "expected metric %q to be registered", name)
	}
}
