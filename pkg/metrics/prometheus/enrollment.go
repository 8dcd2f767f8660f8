package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/joincheck/pkg/enrollment"
	"github.com/marmos91/joincheck/pkg/metrics"
)

// enrollmentMetrics is the Prometheus implementation of enrollment.Metrics.
type enrollmentMetrics struct {
	waitsTotal   *prometheus.CounterVec
	waitDuration *prometheus.HistogramVec
	pollsTotal   *prometheus.CounterVec
}

// NewEnrollmentMetrics creates a new Prometheus-backed enrollment.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewEnrollmentMetrics() *enrollmentMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &enrollmentMetrics{
		waitsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "joincheck_enrollment_waits_total",
				Help: "Total number of enrollment waits by check and outcome",
			},
			[]string{"check", "outcome"}, // outcome: success, timeout, error
		),
		waitDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "joincheck_enrollment_wait_duration_seconds",
				Help: "Time until an enrollment check passed or gave up",
				Buckets: []float64{
					1,   // already enrolled
					5,   // one poll interval
					15,  //
					30,  //
					60,  // typical novajoin enrollment
					120, //
					300, // default timeout
					600, //
				},
			},
			[]string{"check"},
		),
		pollsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "joincheck_enrollment_polls_total",
				Help: "Total number of enrollment poll rounds by check",
			},
			[]string{"check"},
		),
	}
}

func newEnrollmentMetricsIface() enrollment.Metrics {
	return NewEnrollmentMetrics()
}

func (m *enrollmentMetrics) ObserveWait(check, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.waitsTotal.WithLabelValues(check, outcome).Inc()
	m.waitDuration.WithLabelValues(check).Observe(duration.Seconds())
}

func (m *enrollmentMetrics) RecordPoll(check string) {
	if m == nil {
		return
	}
	m.pollsTotal.WithLabelValues(check).Inc()
}
