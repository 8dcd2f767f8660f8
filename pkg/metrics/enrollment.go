package metrics

import (
	"github.com/marmos91/joincheck/pkg/enrollment"
)

// NewEnrollmentMetrics creates a Prometheus-backed enrollment.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewEnrollmentMetrics() enrollment.Metrics {
	if !IsEnabled() || newPrometheusEnrollmentMetrics == nil {
		return nil
	}
	return newPrometheusEnrollmentMetrics()
}

var newPrometheusEnrollmentMetrics func() enrollment.Metrics

// RegisterEnrollmentMetricsConstructor registers the Prometheus enrollment metrics constructor.
func RegisterEnrollmentMetricsConstructor(constructor func() enrollment.Metrics) {
	newPrometheusEnrollmentMetrics = constructor
}
