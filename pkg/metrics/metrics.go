package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// latencyWindow bounds the number of write-latency samples kept for the
// p99 gauge. Old samples are overwritten ring-buffer style.
const latencyWindow = 1024

// Registry holds the process-wide counters and gauges for the session
// lifecycle pipeline. It is created once at startup and handed to the
// components that are allowed to mutate it; everything else reads.
type Registry struct {
	archiveSuccess atomic.Uint64
	archiveError   atomic.Uint64
	dualExistence  atomic.Uint64
	orphans        atomic.Uint64

	mu        sync.Mutex
	latencies []time.Duration
	next      int
	filled    bool
}

func NewRegistry() *Registry {
	return &Registry{
		latencies: make([]time.Duration, latencyWindow),
	}
}

func (r *Registry) IncArchiveSuccess() { r.archiveSuccess.Add(1) }
func (r *Registry) IncArchiveError()   { r.archiveError.Add(1) }

func (r *Registry) AddDualExistenceViolations(n uint64) { r.dualExistence.Add(n) }
func (r *Registry) AddOrphanViolations(n uint64)        { r.orphans.Add(n) }

func (r *Registry) ArchiveSuccessCount() uint64         { return r.archiveSuccess.Load() }
func (r *Registry) ArchiveErrorCount() uint64           { return r.archiveError.Load() }
func (r *Registry) DualExistenceViolationCount() uint64 { return r.dualExistence.Load() }
func (r *Registry) OrphanViolationCount() uint64        { return r.orphans.Load() }

// ObserveWriteLatency records one hot-store write duration.
func (r *Registry) ObserveWriteLatency(d time.Duration) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.latencies[r.next] = d
	r.next++
	if r.next == len(r.latencies) {
		r.next = 0
		r.filled = true
	}
	r.mu.Unlock()
}

// WriteLatencyP99 returns the 99th percentile over the current sample
// window, or 0 if nothing has been observed yet.
func (r *Registry) WriteLatencyP99() time.Duration {
	r.mu.Lock()
	n := r.next
	if r.filled {
		n = len(r.latencies)
	}
	samples := make([]time.Duration, n)
	copy(samples, r.latencies[:n])
	r.mu.Unlock()

	if len(samples) == 0 {
		return 0
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	idx := (len(samples)*99 + 99) / 100
	if idx > 0 {
		idx--
	}
	return samples[idx]
}

// Dashboard is the monitoring snapshot exposed to collaborators.
type Dashboard struct {
	BacklogSize         int64   `json:"backlogSize"`
	ConsumerLag         int64   `json:"consumerLag"`
	ArchiveSuccessCount uint64  `json:"archiveSuccessCount"`
	ArchiveErrorCount   uint64  `json:"archiveErrorCount"`
	WriteLatencyP99Ms   float64 `json:"writeLatencyP99"`
}
