package tasks

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/zerolg/sessiontier/pkg/metrics"
)

// DLQMonitor watches the failed-message backlog and the event stream's
// consumer-group lag. It is read-only: entries are sampled for alerts, never
// consumed.
type DLQMonitor struct {
	rdb       redis.UniversalClient
	dlqKey    string
	streamKey string
	group     string
	reg       *metrics.Registry
}

func NewDLQMonitor(rdb redis.UniversalClient, dlqKey, streamKey, group string, reg *metrics.Registry) *DLQMonitor {
	return &DLQMonitor{rdb: rdb, dlqKey: dlqKey, streamKey: streamKey, group: group, reg: reg}
}

// RunOnce checks the backlog and raises an alert-severity log with a sample
// of the oldest entry if anything is queued.
func (m *DLQMonitor) RunOnce(ctx context.Context) error {
	size, err := m.backlogSize(ctx)
	if err != nil {
		return err
	}
	if size == 0 {
		log.Debug().Msg("dead letter queue empty")
		return nil
	}

	sample, err := m.rdb.LIndex(ctx, m.dlqKey, 0).Result()
	if err != nil && err != redis.Nil {
		return errors.Wrap(err, "dlq monitor: sample oldest entry")
	}
	log.Error().
		Int64("backlog", size).
		Str("queue", m.dlqKey).
		Str("oldest_sample", sample).
		Msg("dead letter queue backlog detected")
	return nil
}

// BacklogSize is the on-demand backlog gauge. Store errors read as 0 so a
// flapping connection never breaks dashboards.
func (m *DLQMonitor) BacklogSize(ctx context.Context) int64 {
	size, err := m.backlogSize(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("backlog gauge unavailable")
		return 0
	}
	return size
}

func (m *DLQMonitor) backlogSize(ctx context.Context) (int64, error) {
	size, err := m.rdb.LLen(ctx, m.dlqKey).Result()
	return size, errors.Wrap(err, "dlq monitor: backlog length")
}

// ConsumerLag reports how far the event stream's consumer group is behind,
// defaulting to 0 when the stream or group does not exist yet.
func (m *DLQMonitor) ConsumerLag(ctx context.Context) int64 {
	groups, err := m.rdb.XInfoGroups(ctx, m.streamKey).Result()
	if err != nil {
		log.Debug().Err(err).Str("stream", m.streamKey).Msg("stream lag unavailable")
		return 0
	}
	for _, g := range groups {
		if g.Name == m.group {
			return g.Lag
		}
	}
	return 0
}

// Snapshot assembles the dashboard view backing the monitoring endpoint.
func (m *DLQMonitor) Snapshot(ctx context.Context) metrics.Dashboard {
	snap := metrics.Dashboard{
		BacklogSize: m.BacklogSize(ctx),
		ConsumerLag: m.ConsumerLag(ctx),
	}
	if m.reg != nil {
		snap.ArchiveSuccessCount = m.reg.ArchiveSuccessCount()
		snap.ArchiveErrorCount = m.reg.ArchiveErrorCount()
		snap.WriteLatencyP99Ms = float64(m.reg.WriteLatencyP99()) / float64(time.Millisecond)
	}
	return snap
}
