// Package metrics exposes Prometheus instrumentation for the login flow.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "magiclink"

type Metrics struct {
	flowRuns      *prometheus.CounterVec
	flowDuration  *prometheus.HistogramVec
	linksSent     *prometheus.CounterVec
	linksRedeemed *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
}

// New registers the collectors with reg. Pass prometheus.NewRegistry() in
// tests so repeated construction does not collide.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		flowRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_runs_total",
			Help:      "Login flow steps executed, by entry point and outcome",
		}, []string{"entry", "status"}),

		flowDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flow_duration_seconds",
			Help:      "Time spent executing one login flow step",
			Buckets:   prometheus.DefBuckets,
		}, []string{"entry"}),

		linksSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_sent_total",
			Help:      "Magic link emails handed to the mail provider, by result",
		}, []string{"result"}),

		linksRedeemed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_redeemed_total",
			Help:      "Magic link redemptions, by result",
		}, []string{"result"}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method and status class",
		}, []string{"method", "code"}),
	}
}

func (m *Metrics) ObserveFlow(entry, status string, d time.Duration) {
	m.flowRuns.WithLabelValues(entry, status).Inc()
	m.flowDuration.WithLabelValues(entry).Observe(d.Seconds())
}

func (m *Metrics) LinkSent(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.linksSent.WithLabelValues(result).Inc()
}

func (m *Metrics) LinkRedeemed(result string) {
	m.linksRedeemed.WithLabelValues(result).Inc()
}

func (m *Metrics) HTTPRequest(method string, status int) {
	m.httpRequests.WithLabelValues(method, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
