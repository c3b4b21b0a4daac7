package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/trebuchet-org/treb-plan/internal/domain"
	"github.com/trebuchet-org/treb-plan/internal/domain/config"
	"github.com/trebuchet-org/treb-plan/internal/usecase"
)

// StepMetrics counts step outcomes in a private Prometheus registry. A CLI
// run is too short-lived to be scraped, so Flush writes the registry to a
// textfile for node_exporter's textfile collector.
type StepMetrics struct {
	file     string
	registry *prometheus.Registry
	steps    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewStepMetrics creates the collectors. Flush is a no-op without a metrics file.
func NewStepMetrics(cfg *config.RuntimeConfig) *StepMetrics {
	m := &StepMetrics{
		file:     cfg.MetricsFile,
		registry: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "treb_plan",
			Name:      "steps_total",
			Help:      "Plan steps by kind and outcome",
		}, []string{"kind", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "treb_plan",
			Name:      "step_duration_seconds",
			Help:      "Time from submission to confirmation or failure",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}, []string{"kind", "outcome"}),
	}
	m.registry.MustRegister(m.steps, m.duration)
	return m
}

func (m *StepMetrics) StepSkipped(kind domain.StepKind) {
	m.steps.WithLabelValues(string(kind), "skipped").Inc()
}

func (m *StepMetrics) StepConfirmed(kind domain.StepKind, elapsed time.Duration) {
	m.observe(kind, "confirmed", elapsed)
}

func (m *StepMetrics) StepFailed(kind domain.StepKind, elapsed time.Duration) {
	m.observe(kind, "failed", elapsed)
}

func (m *StepMetrics) observe(kind domain.StepKind, outcome string, elapsed time.Duration) {
	m.steps.WithLabelValues(string(kind), outcome).Inc()
	m.duration.WithLabelValues(string(kind), outcome).Observe(elapsed.Seconds())
}

// Flush writes the registry atomically to the configured textfile
func (m *StepMetrics) Flush() error {
	if m.file == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(m.file, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", m.file, err)
	}
	return nil
}

// Ensure StepMetrics implements usecase.StepMetrics
var _ usecase.StepMetrics = (*StepMetrics)(nil)
