// ABOUTME: Prometheus collectors for message persistence and push delivery
// ABOUTME: All recording methods are safe to call on a nil *Metrics

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "jobchat"

// Metrics groups the gateway's collectors.
type Metrics struct {
	persisted      prometheus.Counter
	duplicateSends prometheus.Counter
	persistErrors  *prometheus.CounterVec
	published      prometheus.Counter
	dropped        prometheus.Counter
	subscribers    *prometheus.GaugeVec
	httpRequests   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		persisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_persisted_total",
			Help:      "Messages saved to the store.",
		}),
		duplicateSends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_sends_total",
			Help:      "Persist calls answered with an already saved message.",
		}),
		persistErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Rejected persist calls by reason.",
		}, []string{"reason"}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_published_total",
			Help:      "Messages published to conversation topics.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_dropped_total",
			Help:      "Deliveries dropped because a subscriber was not keeping up.",
		}),
		subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "push_subscribers",
			Help:      "Active push subscriptions by transport.",
		}, []string{"transport"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests by route and status code.",
		}, []string{"route", "code"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.persisted,
			m.duplicateSends,
			m.persistErrors,
			m.published,
			m.dropped,
			m.subscribers,
			m.httpRequests,
		)
	}
	return m
}

// NewRegistry returns a registry preloaded with the Go runtime and process
// collectors, the way the default registry is.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the exposition format for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) MessagePersisted() {
	if m == nil {
		return
	}
	m.persisted.Inc()
}

func (m *Metrics) DuplicateSend() {
	if m == nil {
		return
	}
	m.duplicateSends.Inc()
}

// PersistRejected counts a failed persist; reason should be a small fixed set
// such as "invalid", "forbidden" or "store".
func (m *Metrics) PersistRejected(reason string) {
	if m == nil {
		return
	}
	m.persistErrors.WithLabelValues(reason).Inc()
}

func (m *Metrics) Published() {
	if m == nil {
		return
	}
	m.published.Inc()
}

func (m *Metrics) DeliveryDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

// SubscriberAdded and SubscriberRemoved track live subscriptions per
// transport ("grpc", "websocket", "local").
func (m *Metrics) SubscriberAdded(transport string) {
	if m == nil {
		return
	}
	m.subscribers.WithLabelValues(transport).Inc()
}

func (m *Metrics) SubscriberRemoved(transport string) {
	if m == nil {
		return
	}
	m.subscribers.WithLabelValues(transport).Dec()
}

func (m *Metrics) HTTPRequest(route, code string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, code).Inc()
}
