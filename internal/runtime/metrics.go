package runtime

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	errspkg "github.com/drblury/evalflow/internal/runtime/errors"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// EvaluationMetrics exposes evaluation outcomes as Prometheus collectors.
type EvaluationMetrics struct {
	mu sync.Mutex

	evaluationsTotal *prometheus.CounterVec
	durationSeconds  *prometheus.HistogramVec
	inFlight         *prometheus.GaugeVec
	forwardedTotal   *prometheus.CounterVec
	droppedTotal     *prometheus.CounterVec

	registerer prometheus.Registerer
	registered bool
}

func newEvaluationCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evalflow",
			Subsystem: "evaluation",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewEvaluationMetrics creates the collectors. A nil registerer falls back to
// prometheus.DefaultRegisterer.
func NewEvaluationMetrics(registerer prometheus.Registerer) *EvaluationMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &EvaluationMetrics{
		registerer:       registerer,
		evaluationsTotal: newEvaluationCounterVec("total", "Number of delegate evaluations", []string{"endpoint", "exporter", "outcome"}),
		durationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "evalflow",
				Subsystem: "evaluation",
				Name:      "duration_seconds",
				Help:      "Duration of delegate evaluations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint", "exporter"},
		),
		inFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "evalflow",
				Subsystem: "evaluation",
				Name:      "in_flight",
				Help:      "Evaluations currently running",
			},
			[]string{"endpoint"},
		),
		forwardedTotal: newEvaluationCounterVec("forwarded_errors_total", "Errors handed to the error forwarder", []string{"kind"}),
		droppedTotal:   newEvaluationCounterVec("dropped_values_total", "Responses evicted from full stream buffers", []string{"endpoint", "exporter"}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *EvaluationMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}
	collectors := []prometheus.Collector{
		m.evaluationsTotal,
		m.durationSeconds,
		m.inFlight,
		m.forwardedTotal,
		m.droppedTotal,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	m.registered = true
	return nil
}

func (m *EvaluationMetrics) evaluationStarted(endpoint string) {
	m.inFlight.WithLabelValues(endpoint).Inc()
}

func (m *EvaluationMetrics) evaluationFinished(endpoint, exporter string, duration time.Duration, err error) {
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeFailure
	}
	m.inFlight.WithLabelValues(endpoint).Dec()
	m.evaluationsTotal.WithLabelValues(endpoint, exporter, outcome).Inc()
	m.durationSeconds.WithLabelValues(endpoint, exporter).Observe(duration.Seconds())
}

// RecordForwarded counts an error by its kind.
func (m *EvaluationMetrics) RecordForwarded(err error) {
	if err == nil {
		return
	}
	m.forwardedTotal.WithLabelValues(errspkg.KindOf(err).String()).Inc()
}

// RecordDropped adds n evicted stream values.
func (m *EvaluationMetrics) RecordDropped(endpoint, exporter string, n uint64) {
	if n == 0 {
		return
	}
	m.droppedTotal.WithLabelValues(endpoint, exporter).Add(float64(n))
}

// Reset clears every collector.
func (m *EvaluationMetrics) Reset() {
	m.evaluationsTotal.Reset()
	m.durationSeconds.Reset()
	m.inFlight.Reset()
	m.forwardedTotal.Reset()
	m.droppedTotal.Reset()
}
