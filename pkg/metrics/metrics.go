package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Index metrics
	RecordsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "curator_records_total",
			Help: "Number of file records by status",
		},
		[]string{"status"},
	)

	// Daemon metrics
	DaemonCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "curator_daemon_cycles_total",
			Help: "Total lifecycle daemon cycles",
		},
	)

	DaemonCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "curator_daemon_cycle_duration_seconds",
			Help:    "Lifecycle daemon cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curator_transitions_total",
			Help: "Status transitions by target status",
		},
		[]string{"to"},
	)

	// Executor metrics
	ExecutorInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curator_executor_invocations_total",
			Help: "External tool invocations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// Intake metrics
	UploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curator_uploads_total",
			Help: "Upload requests by outcome",
		},
		[]string{"outcome"},
	)

	UploadBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "curator_upload_bytes",
			Help:    "Size of staged per-station artifacts in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)

	// Availability metrics
	AvailabilityChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curator_availability_checks_total",
			Help: "Availability webservice checks by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		RecordsTotal,
		DaemonCyclesTotal,
		DaemonCycleDuration,
		TransitionsTotal,
		ExecutorInvocations,
		UploadsTotal,
		UploadBytes,
		AvailabilityChecks,
	)
}

// Handler returns the HTTP handler serving the prometheus endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures a duration for a histogram observation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time on the given histogram.
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(time.Since(t.start).Seconds())
}
