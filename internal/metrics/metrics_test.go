package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordWebhook(t *testing.T) {
	before := testutil.ToFloat64(WebhooksTotal.WithLabelValues("evolution", "processed"))
	RecordWebhook("evolution", "processed")
	assert.Equal(t, before+1, testutil.ToFloat64(WebhooksTotal.WithLabelValues("evolution", "processed")))
}

func TestSetQueueDepth_Resets(t *testing.T) {
	SetQueueDepth(map[string]int{"failed": 3, "pending": 1})
	assert.Equal(t, float64(3), testutil.ToFloat64(QueueDepth.WithLabelValues("failed")))

	SetQueueDepth(map[string]int{"pending": 2})
	assert.Equal(t, 1, testutil.CollectAndCount(QueueDepth))
	assert.Equal(t, float64(2), testutil.ToFloat64(QueueDepth.WithLabelValues("pending")))
}

func TestRecordCacheLookup(t *testing.T) {
	hits := testutil.ToFloat64(CredentialCacheLookups.WithLabelValues("hit"))
	misses := testutil.ToFloat64(CredentialCacheLookups.WithLabelValues("miss"))
	RecordCacheLookup(true)
	RecordCacheLookup(false)
	RecordCacheLookup(false)
	assert.Equal(t, hits+1, testutil.ToFloat64(CredentialCacheLookups.WithLabelValues("hit")))
	assert.Equal(t, misses+2, testutil.ToFloat64(CredentialCacheLookups.WithLabelValues("miss")))
}

func TestRecordEventAndProviderCall(t *testing.T) {
	before := testutil.ToFloat64(EventsPublished.WithLabelValues("amqp", "error"))
	RecordEvent("amqp", errors.New("closed"))
	assert.Equal(t, before+1, testutil.ToFloat64(EventsPublished.WithLabelValues("amqp", "error")))

	RecordProviderCall("uazapi", "send_text", nil, 120*time.Millisecond)
	RecordRequest("GET", "/health", "200", time.Millisecond)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(ProviderCallDuration), 1)
}
