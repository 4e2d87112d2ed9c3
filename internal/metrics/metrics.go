// Package metrics exposes Prometheus collectors for the call pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/callsim/internal/registry"
)

// Metrics holds all Prometheus metrics for callsim. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Ingress
	WebhookEvents     *prometheus.CounterVec
	WebhookRejections *prometheus.CounterVec

	// Registry
	Mutations *prometheus.CounterVec

	// Push channels
	Subscribers        *prometheus.GaugeVec
	SubscribersDropped *prometheus.CounterVec

	// Bus bridge
	Published      *prometheus.CounterVec
	PublishErrors  prometheus.Counter
	PublishDropped prometheus.Counter
}

// CallSource is the part of the registry the metrics observe.
type CallSource interface {
	Len() int
	Reaped() uint64
	Subscribe(l registry.Listener) func()
}

// New creates a Metrics instance with all collectors registered on a
// private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "callsim"
	}

	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Webhook deliveries accepted, by event type",
		}, []string{"type"}),
		WebhookRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_rejections_total",
			Help:      "Webhook deliveries rejected, by reason",
		}, []string{"reason"}),
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_mutations_total",
			Help:      "Registry mutations, by notification kind",
		}, []string{"kind"}),
		Subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_subscribers",
			Help:      "Open push channel subscribers",
		}, []string{"transport"}),
		SubscribersDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_subscribers_dropped_total",
			Help:      "Push channel subscribers dropped by the server",
		}, []string{"transport", "reason"}),
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_published_total",
			Help:      "Call updates published to the message bus, by kind",
		}, []string{"kind"}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_publish_errors_total",
			Help:      "Failed message bus publishes",
		}),
		PublishDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_publish_dropped_total",
			Help:      "Call updates dropped because the publish queue was full",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.WebhookEvents,
		m.WebhookRejections,
		m.Mutations,
		m.Subscribers,
		m.SubscribersDropped,
		m.Published,
		m.PublishErrors,
		m.PublishDropped,
	)
	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry, mainly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// ObserveRegistry exports the call count and reap total of src and counts
// every mutation it notifies. The returned function stops the mutation
// count.
func (m *Metrics) ObserveRegistry(namespace string, src CallSource) func() {
	if m == nil {
		return func() {}
	}
	if namespace == "" {
		namespace = "callsim"
	}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_calls",
			Help:      "Calls currently held in memory",
		}, func() float64 { return float64(src.Len()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_reaped_total",
			Help:      "Ended calls expired by the reaper",
		}, func() float64 { return float64(src.Reaped()) }),
	)
	return src.Subscribe(func(kind registry.Kind, _ registry.Call) {
		m.Mutations.WithLabelValues(string(kind)).Inc()
	})
}

// RecordEvent counts an accepted webhook delivery.
func (m *Metrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.WebhookEvents.WithLabelValues(eventType).Inc()
}

// RecordRejection counts a rejected webhook delivery.
func (m *Metrics) RecordRejection(reason string) {
	if m == nil {
		return
	}
	m.WebhookRejections.WithLabelValues(reason).Inc()
}

// SubscriberOpened records a new push channel subscriber.
func (m *Metrics) SubscriberOpened(transport string) {
	if m == nil {
		return
	}
	m.Subscribers.WithLabelValues(transport).Inc()
}

// SubscriberClosed records a push channel subscriber going away.
func (m *Metrics) SubscriberClosed(transport string) {
	if m == nil {
		return
	}
	m.Subscribers.WithLabelValues(transport).Dec()
}

// SubscriberDropped records a subscriber removed by the server.
func (m *Metrics) SubscriberDropped(transport, reason string) {
	if m == nil {
		return
	}
	m.SubscribersDropped.WithLabelValues(transport, reason).Inc()
}

// RecordPublish records the outcome of a bus publish.
func (m *Metrics) RecordPublish(kind string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PublishErrors.Inc()
		return
	}
	m.Published.WithLabelValues(kind).Inc()
}

// RecordPublishDropped records an update dropped before publishing.
func (m *Metrics) RecordPublishDropped() {
	if m == nil {
		return
	}
	m.PublishDropped.Inc()
}
