package runtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/evalflow/internal/runtime/errors"
	"github.com/drblury/evalflow/internal/runtime/evaluation"
)

func TestEndpointStatsCollectsEvaluations(t *testing.T) {
	stats := newEndpointStats(newResourceTracker())

	stats.onEvaluationStart()
	stats.onEvaluationStart()
	assert.Equal(t, uint64(2), stats.MaxInFlight)

	stats.onEvaluationFinish(evaluation.Call{Endpoint: "greet"}, "rest", 10*time.Millisecond, nil)
	stats.onEvaluationFinish(evaluation.Call{Endpoint: "greet", Trigger: true}, "websocket", 30*time.Millisecond,
		errspkg.New(errspkg.KindBadInput, "Missing name."))
	stats.onDropped(4)

	assert.Equal(t, uint64(2), stats.Evaluations)
	assert.Equal(t, uint64(1), stats.Failures)
	assert.Equal(t, uint64(1), stats.Triggers)
	assert.Zero(t, stats.InFlight)
	assert.Equal(t, uint64(4), stats.DroppedValues)
	assert.Equal(t, map[string]uint64{"rest": 1, "websocket": 1}, stats.ByExporter)
	assert.Equal(t, uint64(1), stats.Errors.BadInput)
	assert.Contains(t, stats.Errors.LastError, "Missing name.")

	assert.Equal(t, 2, stats.Latency.SampleSize)
	assert.Equal(t, int64(20*time.Millisecond), stats.Latency.AverageNs)
	assert.Equal(t, int64(30*time.Millisecond), stats.Latency.LastNs)
	assert.Equal(t, uint64(2), stats.Throughput.EvaluationsInWindow)
	assert.Positive(t, stats.Throughput.CurrentRPS)
	assert.Positive(t, stats.Resource.Goroutines)
}

func TestErrorBreakdownRecord(t *testing.T) {
	var breakdown ErrorBreakdown
	for _, kind := range []errspkg.Kind{
		errspkg.KindBadInput,
		errspkg.KindNotFound,
		errspkg.KindUnauthenticated,
		errspkg.KindForbidden,
		errspkg.KindServerError,
		errspkg.KindNotAvailable,
	} {
		breakdown.Record(errspkg.New(kind, "x"))
	}
	breakdown.Record(nil)

	assert.Equal(t, ErrorBreakdown{
		BadInput:        1,
		NotFound:        1,
		Unauthenticated: 1,
		Forbidden:       1,
		ServerError:     1,
		NotAvailable:    1,
		LastError:       breakdown.LastError,
	}, breakdown)
	assert.NotEmpty(t, breakdown.LastError)
}

func TestPercentile(t *testing.T) {
	sorted := []int64{10, 20, 30, 40}

	assert.Zero(t, percentile(nil, 0.5))
	assert.Equal(t, int64(10), percentile(sorted, 0))
	assert.Equal(t, int64(40), percentile(sorted, 1))
	assert.Equal(t, int64(25), percentile(sorted, 0.5))
	assert.Equal(t, int64(38), percentile(sorted, 0.95))
}

func TestLatencyWindowKeepsMostRecentSamples(t *testing.T) {
	lw := newLatencyWindow(3)
	for _, d := range []time.Duration{100, 1, 2, 3} {
		lw.Add(d)
	}

	snapshot := lw.Snapshot()
	assert.Equal(t, 3, snapshot.SampleSize)
	assert.Equal(t, int64(2), snapshot.AverageNs)
	assert.Equal(t, int64(3), snapshot.LastNs)
	assert.Equal(t, int64(2), snapshot.P50Ns)
}

func TestThroughputWindowDropsExpiredSamples(t *testing.T) {
	tw := newThroughputWindow(time.Second)
	start := time.Now()

	tw.AddAndSnapshot(start)
	tw.AddAndSnapshot(start.Add(500 * time.Millisecond))
	snapshot := tw.AddAndSnapshot(start.Add(1200 * time.Millisecond))

	assert.Equal(t, 2, snapshot.Count)
	assert.InDelta(t, 0.7, snapshot.WindowSeconds, 1e-9)
}

func TestEndpointStatsMarshalJSON(t *testing.T) {
	stats := newEndpointStats(nil)
	stats.onEvaluationFinish(evaluation.Call{}, "message", time.Millisecond, nil)

	body, err := json.Marshal(stats)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.EqualValues(t, 1, decoded["evaluations"])
	assert.Contains(t, decoded, "latency")
	assert.Contains(t, decoded, "by_exporter")
	assert.NotContains(t, decoded, "latencyWindow")
}
