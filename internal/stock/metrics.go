package stock

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for probes, logins and batches.
type Metrics struct {
	Registry           *prometheus.Registry
	ProbesTotal        *prometheus.CounterVec
	ProbeDuration      prometheus.Histogram
	ErrorsTotal        *prometheus.CounterVec
	LoginAttemptsTotal *prometheus.CounterVec
	SessionExpirations prometheus.Counter
	BatchesTotal       *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	probes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stock_probes_total",
			Help: "Total stock probes by outcome.",
		},
		[]string{"outcome"},
	)
	probeDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stock_probe_duration_seconds",
			Help:    "Wall time of a single stock probe.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 90},
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stock_probe_errors_total",
			Help: "Total probe errors by kind.",
		},
		[]string{"kind"},
	)
	logins := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stock_login_attempts_total",
			Help: "Total login attempts by result.",
		},
		[]string{"result"},
	)
	expirations := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stock_session_expirations_total",
			Help: "Times an authenticated session was found logged out.",
		},
	)
	batches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stock_batches_total",
			Help: "Total batches by final status.",
		},
		[]string{"status"},
	)

	registry.MustRegister(probes, probeDuration, errorsTotal, logins, expirations, batches)

	return &Metrics{
		Registry:           registry,
		ProbesTotal:        probes,
		ProbeDuration:      probeDuration,
		ErrorsTotal:        errorsTotal,
		LoginAttemptsTotal: logins,
		SessionExpirations: expirations,
		BatchesTotal:       batches,
	}
}

// ObserveProbe records one finished probe.
func (m *Metrics) ObserveProbe(r Result, d time.Duration) {
	if m == nil {
		return
	}
	m.ProbesTotal.WithLabelValues(string(r.Outcome)).Inc()
	m.ProbeDuration.Observe(d.Seconds())
	if r.Error != "" {
		m.ErrorsTotal.WithLabelValues(string(r.Error)).Inc()
	}
}

// IncLogin counts a login attempt; result is "success" or an error kind.
func (m *Metrics) IncLogin(result string) {
	if m == nil {
		return
	}
	m.LoginAttemptsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) IncExpiration() {
	if m == nil {
		return
	}
	m.SessionExpirations.Inc()
}

// IncBatch counts a finished batch; status is "completed" or "aborted".
func (m *Metrics) IncBatch(status string) {
	if m == nil {
		return
	}
	m.BatchesTotal.WithLabelValues(status).Inc()
}
