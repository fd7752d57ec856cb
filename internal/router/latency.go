package router

import (
	"sort"
	"sync"
	"time"
)

// latencyWindowSize is the number of recent samples kept per model.
const latencyWindowSize = 64

// LatencyTracker keeps a sliding window of observed invocation latencies
// per model and computes p95 on demand. Safe for concurrent use.
type LatencyTracker struct {
	mu      sync.Mutex
	windows map[string]*latencyWindow
}

type latencyWindow struct {
	samples [latencyWindowSize]time.Duration
	count   int // total observed, capped at window size for reads
	next    int // ring write position
}

// NewLatencyTracker creates an empty tracker.
func NewLatencyTracker() *LatencyTracker {
	return &LatencyTracker{windows: make(map[string]*latencyWindow)}
}

// Observe records one invocation latency for the model.
func (t *LatencyTracker) Observe(modelID string, elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[modelID]
	if !ok {
		w = &latencyWindow{}
		t.windows[modelID] = w
	}
	w.samples[w.next] = elapsed
	w.next = (w.next + 1) % latencyWindowSize
	if w.count < latencyWindowSize {
		w.count++
	}
}

// P95 returns the 95th percentile of the model's recent latencies. The
// second return value is false when no samples exist yet.
func (t *LatencyTracker) P95(modelID string) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[modelID]
	if !ok || w.count == 0 {
		return 0, false
	}

	samples := make([]time.Duration, w.count)
	copy(samples, w.samples[:w.count])
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	idx := (len(samples) * 95) / 100
	if idx >= len(samples) {
		idx = len(samples) - 1
	}
	return samples[idx], true
}
