package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

const (
	sampleCPUSeconds = "/sched/cpu:seconds"
	sampleHeapBytes  = "/memory/classes/heap/objects:bytes"
	sampleGoroutines = "/sched/goroutines:goroutines"

	resourceSampleInterval = time.Second
)

// resourceTracker samples process wide CPU, heap and goroutine figures. Reads
// closer together than resourceSampleInterval return the previous snapshot.
type resourceTracker struct {
	mu             sync.Mutex
	samples        []metrics.Sample
	numCPU         float64
	lastCPUSeconds float64
	lastSample     time.Time
	last           ResourceUsage
	interval       time.Duration
}

func newResourceTracker() *resourceTracker {
	return &resourceTracker{
		samples: []metrics.Sample{
			{Name: sampleCPUSeconds},
			{Name: sampleHeapBytes},
			{Name: sampleGoroutines},
		},
		numCPU:   float64(runtime.NumCPU()),
		interval: resourceSampleInterval,
	}
}

func (r *resourceTracker) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if !r.lastSample.IsZero() && now.Sub(r.lastSample) < r.interval {
		return r.last
	}

	metrics.Read(r.samples)
	usage := ResourceUsage{Goroutines: runtime.NumGoroutine()}
	for _, sample := range r.samples {
		switch sample.Name {
		case sampleCPUSeconds:
			if sample.Value.Kind() != metrics.KindFloat64 {
				continue
			}
			cpu := sample.Value.Float64()
			if !r.lastSample.IsZero() && r.numCPU > 0 {
				if wall := now.Sub(r.lastSample).Seconds(); wall > 0 {
					usage.CPUPercent = (cpu - r.lastCPUSeconds) / wall / r.numCPU * 100
				}
			}
			r.lastCPUSeconds = cpu
		case sampleHeapBytes:
			if sample.Value.Kind() == metrics.KindUint64 {
				usage.MemoryBytes = sample.Value.Uint64()
			}
		case sampleGoroutines:
			if sample.Value.Kind() == metrics.KindUint64 {
				usage.Goroutines = int(sample.Value.Uint64())
			}
		}
	}

	r.lastSample = now
	r.last = usage
	return usage
}
