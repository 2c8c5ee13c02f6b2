package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_Counters(t *testing.T) {
	r := NewRegistry()

	r.IncArchiveSuccess()
	r.IncArchiveSuccess()
	r.IncArchiveError()
	r.AddDualExistenceViolations(2)
	r.AddOrphanViolations(1)

	assert.Equal(t, uint64(2), r.ArchiveSuccessCount())
	assert.Equal(t, uint64(1), r.ArchiveErrorCount())
	assert.Equal(t, uint64(2), r.DualExistenceViolationCount())
	assert.Equal(t, uint64(1), r.OrphanViolationCount())
}

func TestRegistry_WriteLatencyP99(t *testing.T) {
	r := NewRegistry()
	assert.Zero(t, r.WriteLatencyP99())

	for i := 1; i <= 100; i++ {
		r.ObserveWriteLatency(time.Duration(i) * time.Millisecond)
	}
	assert.Equal(t, 99*time.Millisecond, r.WriteLatencyP99())
}

func TestRegistry_LatencyWindowWraps(t *testing.T) {
	r := NewRegistry()

	// Overflow the window with slow samples, then fill it with fast ones;
	// only the in-window samples should count.
	for i := 0; i < latencyWindow; i++ {
		r.ObserveWriteLatency(time.Second)
	}
	for i := 0; i < latencyWindow; i++ {
		r.ObserveWriteLatency(time.Millisecond)
	}
	assert.Equal(t, time.Millisecond, r.WriteLatencyP99())
}

func TestRegistry_NilSafeObserve(t *testing.T) {
	var r *Registry
	r.ObserveWriteLatency(time.Millisecond)
}
