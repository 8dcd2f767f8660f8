package metrics

import (
	"github.com/marmos91/joincheck/pkg/ipa"
)

// NewIPAMetrics creates a Prometheus-backed ipa.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called) or the
// Prometheus implementation was not linked in. Pass the result straight to
// ipa.Open; a nil interface disables instrumentation.
//
// Example usage:
//
//	metrics.InitRegistry()
//	session, err := ipa.Open(cfg.IPA, metrics.NewIPAMetrics())
func NewIPAMetrics() ipa.Metrics {
	if !IsEnabled() || newPrometheusIPAMetrics == nil {
		return nil
	}
	return newPrometheusIPAMetrics()
}

// newPrometheusIPAMetrics is set by pkg/metrics/prometheus/ipa.go.
// The indirection keeps this package free of an import cycle.
var newPrometheusIPAMetrics func() ipa.Metrics

// RegisterIPAMetricsConstructor registers the Prometheus IPA metrics constructor.
// Called by pkg/metrics/prometheus during package initialization.
func RegisterIPAMetricsConstructor(constructor func() ipa.Metrics) {
	newPrometheusIPAMetrics = constructor
}
