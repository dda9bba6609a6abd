// Package metrics exposes Prometheus instrumentation for the messaging layer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadwire_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadwire_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WebhooksTotal counts webhook deliveries by provider and outcome status.
	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadwire_webhooks_total",
			Help: "Webhook deliveries by provider and outcome",
		},
		[]string{"provider", "status"},
	)

	// QueueTransitions counts queue item state changes.
	QueueTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadwire_queue_transitions_total",
			Help: "Queue item transitions by target status",
		},
		[]string{"status"},
	)

	// QueueDepth is the number of queue items per status, refreshed by the sweeper.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "leadwire_queue_items",
			Help: "Queue items per status",
		},
		[]string{"status"},
	)

	// MediaResolutions counts which branch of the media chain produced a locator.
	MediaResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadwire_media_resolutions_total",
			Help: "Media resolution outcomes by provider and branch",
		},
		[]string{"provider", "branch"},
	)

	// ProviderCallDuration tracks outbound vendor API latency.
	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadwire_provider_call_duration_seconds",
			Help:    "Provider API call duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 90},
		},
		[]string{"provider", "operation", "outcome"},
	)

	// MessagesTotal counts persisted or skipped messages.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadwire_messages_total",
			Help: "Messages by direction and outcome",
		},
		[]string{"direction", "outcome"},
	)

	// CredentialCacheLookups counts credential cache hits and misses.
	CredentialCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadwire_credential_cache_lookups_total",
			Help: "Credential cache lookups by result",
		},
		[]string{"result"},
	)

	// EventsPublished counts domain events per sink and outcome.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadwire_events_published_total",
			Help: "Domain events published by sink and outcome",
		},
		[]string{"sink", "outcome"},
	)

	// WebsocketSubscribers tracks active event stream subscribers.
	WebsocketSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadwire_websocket_subscribers",
			Help: "Active websocket event subscribers",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration time.Duration) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

func RecordWebhook(provider, status string) {
	WebhooksTotal.WithLabelValues(provider, status).Inc()
}

func RecordQueueTransition(status string) {
	QueueTransitions.WithLabelValues(status).Inc()
}

// SetQueueDepth replaces the per-status gauge values.
func SetQueueDepth(depth map[string]int) {
	QueueDepth.Reset()
	for status, n := range depth {
		QueueDepth.WithLabelValues(status).Set(float64(n))
	}
}

func RecordMediaResolution(provider, branch string) {
	MediaResolutions.WithLabelValues(provider, branch).Inc()
}

// RecordProviderCall observes one vendor call; outcome is "ok" or "error".
func RecordProviderCall(provider, operation string, err error, duration time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	ProviderCallDuration.WithLabelValues(provider, operation, outcome).Observe(duration.Seconds())
}

func RecordMessage(direction, outcome string) {
	MessagesTotal.WithLabelValues(direction, outcome).Inc()
}

func RecordCacheLookup(hit bool) {
	if hit {
		CredentialCacheLookups.WithLabelValues("hit").Inc()
		return
	}
	CredentialCacheLookups.WithLabelValues("miss").Inc()
}

func RecordEvent(sink string, err error) {
	if err != nil {
		EventsPublished.WithLabelValues(sink, "error").Inc()
		return
	}
	EventsPublished.WithLabelValues(sink, "ok").Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
