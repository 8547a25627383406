package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the panel's Prometheus collectors. A nil *Metrics is valid
// and records nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	redeploySuccess prometheus.Counter
	redeployFailure *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "panel_requests_total",
			Help: "API requests by path and status.",
		}, []string{"path", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "panel_request_duration_seconds",
			Help:    "API request duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path"}),
		redeploySuccess: factory.NewCounter(prometheus.CounterOpts{
			Name: "panel_redeploys_total",
			Help: "Completed instance redeployments.",
		}),
		redeployFailure: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "panel_redeploy_failures_total",
			Help: "Failed instance redeployments by stage.",
		}, []string{"stage"}),
	}
}

func (m *Metrics) ObserveRequest(path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(path, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path).Observe(d.Seconds())
}

func (m *Metrics) IncRedeploySuccess() {
	if m == nil {
		return
	}
	m.redeploySuccess.Inc()
}

func (m *Metrics) IncRedeployFailure(stage string) {
	if m == nil {
		return
	}
	m.redeployFailure.WithLabelValues(stage).Inc()
}
