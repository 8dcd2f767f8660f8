package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/joincheck/pkg/ipa"
	"github.com/marmos91/joincheck/pkg/metrics"
)

func init() {
	metrics.RegisterIPAMetricsConstructor(func() ipa.Metrics { return NewIPAMetrics() })
	metrics.RegisterEnrollmentMetricsConstructor(newEnrollmentMetricsIface)
}

// ipaMetrics is the Prometheus implementation of ipa.Metrics.
type ipaMetrics struct {
	callsTotal      *prometheus.CounterVec
	callDuration    *prometheus.HistogramVec
	retriesTotal    *prometheus.CounterVec
	reconnectsTotal *prometheus.CounterVec
	kinitsTotal     *prometheus.CounterVec
	backoffSeconds  prometheus.Histogram
}

// NewIPAMetrics creates a new Prometheus-backed ipa.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewIPAMetrics() *ipaMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &ipaMetrics{
		callsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "joincheck_ipa_calls_total",
				Help: "Total number of IPA calls by operation and outcome",
			},
			[]string{"operation", "outcome"}, // outcome: success, auth, network, not_found, remote, ...
		),
		callDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "joincheck_ipa_call_duration_milliseconds",
				Help: "Duration of IPA calls including retries in milliseconds",
				Buckets: []float64{
					10,     // 10ms - cached session, small result
					50,     // 50ms
					100,    // 100ms
					500,    // 500ms - includes a SPNEGO login
					1000,   // 1s
					5000,   // 5s - a few backoff rounds
					30000,  // 30s
					120000, // 2m - long backoff
				},
			},
			[]string{"operation"},
		),
		retriesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "joincheck_ipa_retries_total",
				Help: "Total number of IPA call retries by operation and reason",
			},
			[]string{"operation", "reason"}, // reason: auth, network
		),
		reconnectsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "joincheck_ipa_reconnects_total",
				Help: "Total number of IPA session (re)connects by status",
			},
			[]string{"status"},
		),
		kinitsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "joincheck_kerberos_kinit_total",
				Help: "Total number of keytab kinits by status",
			},
			[]string{"status"},
		),
		backoffSeconds: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "joincheck_ipa_backoff_seconds",
				Help:    "Backoff delays applied before retrying",
				Buckets: prometheus.ExponentialBuckets(1, 2, 11), // 1s .. 1024s
			},
		),
	}
}

func (m *ipaMetrics) ObserveCall(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(operation, outcome).Inc()
	m.callDuration.WithLabelValues(operation).Observe(float64(duration.Microseconds()) / 1000)
}

func (m *ipaMetrics) RecordRetry(operation, reason string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(operation, reason).Inc()
}

func (m *ipaMetrics) RecordReconnect(success bool) {
	if m == nil {
		return
	}
	m.reconnectsTotal.WithLabelValues(status(success)).Inc()
}

func (m *ipaMetrics) RecordKinit(success bool) {
	if m == nil {
		return
	}
	m.kinitsTotal.WithLabelValues(status(success)).Inc()
}

func (m *ipaMetrics) ObserveBackoff(seconds int) {
	if m == nil {
		return
	}
	m.backoffSeconds.Observe(float64(seconds))
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

