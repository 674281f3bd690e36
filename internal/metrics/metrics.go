// Package metrics exposes Prometheus collectors of the register service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/and161185/phv-register/internal/model"
)

// Metrics tracks register jobs, licence writes and HTTP requests.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	JobsStarted     *prometheus.CounterVec
	JobsFinished    *prometheus.CounterVec
	LicenceWrites   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		JobsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "phv_register_jobs_started_total",
			Help: "Register jobs started, by trigger",
		}, []string{"trigger"}),
		JobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "phv_register_jobs_finished_total",
			Help: "Register jobs that reached a terminal status, by status",
		}, []string{"status"}),
		LicenceWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "phv_register_licence_changes_total",
			Help: "Licence rows written, by operation",
		}, []string{"operation"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "phv_register_http_request_duration_seconds",
			Help:    "Duration of HTTP requests, by route pattern and status code",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"route", "code"}),
	}
}

// JobStarted records a new job.
func (m *Metrics) JobStarted(trigger model.RegisterJobTrigger) {
	if m == nil {
		return
	}
	m.JobsStarted.WithLabelValues(string(trigger)).Inc()
}

// JobFinished records a terminal status.
func (m *Metrics) JobFinished(status model.RegisterJobStatus) {
	if m == nil {
		return
	}
	m.JobsFinished.WithLabelValues(string(status)).Inc()
}

// LicenceChanges records rows written by one reconciliation.
func (m *Metrics) LicenceChanges(inserted, updated, deleted int) {
	if m == nil {
		return
	}
	m.LicenceWrites.WithLabelValues("insert").Add(float64(inserted))
	m.LicenceWrites.WithLabelValues("update").Add(float64(updated))
	m.LicenceWrites.WithLabelValues("delete").Add(float64(deleted))
}

// ObserveRequest records the duration of an HTTP request started at start.
func (m *Metrics) ObserveRequest(route, code string, start time.Time) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(route, code).Observe(time.Since(start).Seconds())
}
