package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the daemon's collectors on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	runs          *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	skipped       *prometheus.CounterVec
	registration  *prometheus.CounterVec
	notifications prometheus.Counter
	jobs          prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cronkeep",
			Name:      "runs_total",
			Help:      "Scheduled runs by final status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cronkeep",
			Name:      "run_duration_seconds",
			Help:      "Wall time of scheduled runs.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 180, 300},
		}, []string{"status"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cronkeep",
			Name:      "runs_skipped_total",
			Help:      "Fires skipped because the previous run of the job was still going.",
		}, []string{"job"}),
		registration: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cronkeep",
			Name:      "native_registration_failures_total",
			Help:      "Failed OS scheduler registrations.",
		}, []string{"op"}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cronkeep",
			Name:      "notification_failures_total",
			Help:      "Failed audio notifications.",
		}),
		jobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cronkeep",
			Name:      "jobs_armed",
			Help:      "Jobs with an in-process trigger.",
		}),
	}
	m.reg.MustRegister(m.runs, m.runDuration, m.skipped, m.registration, m.notifications, m.jobs,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) ObserveRun(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(d.Seconds())
}

func (m *Metrics) Skipped(jobID string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(jobID).Inc()
}

func (m *Metrics) RegistrationFailed(op string) {
	if m == nil {
		return
	}
	m.registration.WithLabelValues(op).Inc()
}

func (m *Metrics) NotificationFailed() {
	if m == nil {
		return
	}
	m.notifications.Inc()
}

func (m *Metrics) SetArmed(n int) {
	if m == nil {
		return
	}
	m.jobs.Set(float64(n))
}
