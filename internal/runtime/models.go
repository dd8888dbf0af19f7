package runtime

import (
	"encoding/json"
	"math"
	"sort"
	"sync"
	"time"

	errspkg "github.com/drblury/evalflow/internal/runtime/errors"
	"github.com/drblury/evalflow/internal/runtime/evaluation"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// EndpointInfo describes a registered endpoint and where it is reachable.
type EndpointInfo struct {
	Name      string         `json:"name"`
	Pattern   string         `json:"pattern"`
	Path      string         `json:"path,omitempty"`
	Method    string         `json:"method,omitempty"`
	Topic     string         `json:"topic,omitempty"`
	Exporters []string       `json:"exporters"`
	Stats     *EndpointStats `json:"stats"`
}

type EndpointStats struct {
	mu sync.Mutex

	Evaluations         uint64            `json:"evaluations"`
	Failures            uint64            `json:"failures"`
	Triggers            uint64            `json:"triggers"`
	TotalEvaluationTime int64             `json:"total_evaluation_time_ns"`
	LastEvaluatedAt     time.Time         `json:"last_evaluated_at"`
	InFlight            uint64            `json:"in_flight"`
	MaxInFlight         uint64            `json:"max_in_flight"`
	DroppedValues       uint64            `json:"dropped_values"`
	ByExporter          map[string]uint64 `json:"by_exporter"`

	Latency    LatencyMetrics    `json:"latency"`
	Throughput ThroughputMetrics `json:"throughput"`
	Errors     ErrorBreakdown    `json:"errors"`
	Resource   ResourceUsage     `json:"resource"`

	latencyWindow    *latencyWindow
	throughputWindow *throughputWindow
	resourceSampler  *resourceTracker
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS          float64 `json:"current_rps"`
	WindowSeconds       float64 `json:"window_seconds"`
	EvaluationsInWindow uint64  `json:"evaluations_in_window"`
}

// ErrorBreakdown counts failed evaluations per error kind.
type ErrorBreakdown struct {
	BadInput        uint64 `json:"bad_input"`
	NotFound        uint64 `json:"not_found"`
	Unauthenticated uint64 `json:"unauthenticated"`
	Forbidden       uint64 `json:"forbidden"`
	ServerError     uint64 `json:"server_error"`
	NotAvailable    uint64 `json:"not_available"`
	Other           uint64 `json:"other"`
	LastError       string `json:"last_error,omitempty"`
}

type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

func newEndpointStats(sampler *resourceTracker) *EndpointStats {
	return &EndpointStats{
		ByExporter:       make(map[string]uint64),
		resourceSampler:  sampler,
		latencyWindow:    newLatencyWindow(latencySampleSize),
		throughputWindow: newThroughputWindow(throughputWindowSize),
	}
}

func (s *EndpointStats) onEvaluationStart() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.InFlight++
	if s.InFlight > s.MaxInFlight {
		s.MaxInFlight = s.InFlight
	}
}

func (s *EndpointStats) onEvaluationFinish(call evaluation.Call, exporter string, duration time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.InFlight > 0 {
		s.InFlight--
	}
	s.Evaluations++
	if call.Trigger {
		s.Triggers++
	}
	if s.ByExporter == nil {
		s.ByExporter = make(map[string]uint64)
	}
	s.ByExporter[exporter]++
	if err != nil {
		s.Failures++
		s.Errors.Record(err)
	}
	s.TotalEvaluationTime += int64(duration)
	now := time.Now().UTC()
	s.LastEvaluatedAt = now

	if s.latencyWindow != nil {
		s.latencyWindow.Add(duration)
		snapshot := s.latencyWindow.Snapshot()
		snapshot.AverageNs = s.TotalEvaluationTime / int64(s.Evaluations)
		s.Latency = snapshot
	}
	if s.throughputWindow != nil {
		snapshot := s.throughputWindow.AddAndSnapshot(now)
		s.Throughput = ThroughputMetrics{
			CurrentRPS:          snapshot.CurrentRPS,
			WindowSeconds:       snapshot.WindowSeconds,
			EvaluationsInWindow: uint64(snapshot.Count),
		}
	}
	if s.resourceSampler != nil {
		s.Resource = s.resourceSampler.Snapshot()
	}
}

func (s *EndpointStats) onDropped(n uint64) {
	s.mu.Lock()
	s.DroppedValues += n
	s.mu.Unlock()
}

func (s *EndpointStats) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type Alias EndpointStats
	return json.Marshal((*Alias)(s))
}

// Record counts err under its kind.
func (e *ErrorBreakdown) Record(err error) {
	if err == nil {
		return
	}
	switch errspkg.KindOf(err) {
	case errspkg.KindBadInput:
		e.BadInput++
	case errspkg.KindNotFound:
		e.NotFound++
	case errspkg.KindUnauthenticated:
		e.Unauthenticated++
	case errspkg.KindForbidden:
		e.Forbidden++
	case errspkg.KindServerError:
		e.ServerError++
	case errspkg.KindNotAvailable:
		e.NotAvailable++
	default:
		e.Other++
	}
	e.LastError = err.Error()
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	if lw == nil || len(lw.samples) == 0 {
		return
	}
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

// Snapshot computes percentiles over the retained samples.
func (lw *latencyWindow) Snapshot() LatencyMetrics {
	if lw == nil || lw.filled == 0 {
		return LatencyMetrics{}
	}
	samples := make([]int64, 0, lw.filled)
	start := lw.next - lw.filled
	for i := 0; i < lw.filled; i++ {
		idx := (start + i + len(lw.samples)) % len(lw.samples)
		samples = append(samples, lw.samples[idx])
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	var sum int64
	for _, v := range samples {
		sum += v
	}
	return LatencyMetrics{
		AverageNs:  sum / int64(len(samples)),
		P50Ns:      percentile(samples, 0.50),
		P95Ns:      percentile(samples, 0.95),
		P99Ns:      percentile(samples, 0.99),
		LastNs:     lw.last,
		SampleSize: lw.filled,
	}
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []int64, quantile float64) int64 {
	switch {
	case len(sorted) == 0:
		return 0
	case quantile <= 0:
		return sorted[0]
	case quantile >= 1:
		return sorted[len(sorted)-1]
	}
	pos := quantile * float64(len(sorted)-1)
	lower, upper := int(math.Floor(pos)), int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	frac := pos - float64(lower)
	return sorted[lower] + int64(float64(sorted[upper]-sorted[lower])*frac)
}

type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{horizon: horizon, samples: make([]time.Time, 0, 64)}
}

func (tw *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	if tw == nil {
		return throughputSnapshot{}
	}
	tw.samples = append(tw.samples, now)

	cutoff := now.Add(-tw.horizon)
	idx := sort.Search(len(tw.samples), func(i int) bool { return !tw.samples[i].Before(cutoff) })
	if idx > 0 {
		tw.samples = append(tw.samples[:0], tw.samples[idx:]...)
	}

	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	return throughputSnapshot{
		Count:         len(tw.samples),
		WindowSeconds: span.Seconds(),
		CurrentRPS:    float64(len(tw.samples)) / span.Seconds(),
	}
}
