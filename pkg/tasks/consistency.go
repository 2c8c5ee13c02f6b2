package tasks

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/zerolg/sessiontier/pkg/archive"
	"github.com/zerolg/sessiontier/pkg/metrics"
	"github.com/zerolg/sessiontier/pkg/session"
)

const (
	dualCheckBatchSize = 100
	orphanSampleSize   = 50
)

// Report summarizes one consistency run. All findings are observational:
// nothing is repaired or deleted.
type Report struct {
	Scanned       int
	DualExistence []string
	MissingLogs   []string
	MissingMeta   []string
}

// ConsistencyChecker audits the invariant that a conversation lives in
// exactly one tier, plus the hot store's internal integrity. It reads both
// stores and only ever logs and counts what it finds.
type ConsistencyChecker struct {
	hot  *session.HotStore
	cold *archive.SQLiteStore
	reg  *metrics.Registry
}

func NewConsistencyChecker(hot *session.HotStore, cold *archive.SQLiteStore, reg *metrics.Registry) *ConsistencyChecker {
	return &ConsistencyChecker{hot: hot, cold: cold, reg: reg}
}

// RunOnce executes the dual-existence check over the whole heartbeat index
// and the orphan check over a sample of recently active conversations.
func (c *ConsistencyChecker) RunOnce(ctx context.Context) (Report, error) {
	log.Info().Msg("consistency check starting")
	var report Report

	if err := c.checkDualExistence(ctx, &report); err != nil {
		return report, err
	}
	if err := c.checkOrphans(ctx, &report); err != nil {
		return report, err
	}

	if len(report.DualExistence) > 0 {
		log.Error().
			Int("violations", len(report.DualExistence)).
			Msg("conversations present in both tiers")
	} else {
		log.Info().Int("scanned", report.Scanned).Msg("dual-existence check passed")
	}
	return report, nil
}

// checkDualExistence walks the heartbeat index in batches and flags every
// id that also has a cold record.
func (c *ConsistencyChecker) checkDualExistence(ctx context.Context, report *Report) error {
	seen := make(map[string]struct{})
	return c.hot.ScanHeartbeats(ctx, dualCheckBatchSize, func(ids []string) error {
		ids = dedupeIDs(seen, ids)
		if len(ids) == 0 {
			return nil
		}
		report.Scanned += len(ids)

		n, err := c.cold.CountByIDs(ctx, ids)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}

		hits, err := c.cold.SelectByIDs(ctx, ids)
		if err != nil {
			return err
		}
		for _, id := range hits {
			log.Warn().
				Str("conversation_id", id).
				Msg("conversation exists in both hot and cold storage")
		}
		report.DualExistence = append(report.DualExistence, hits...)
		if c.reg != nil {
			c.reg.AddDualExistenceViolations(uint64(len(hits)))
		}
		return nil
	})
}

// dedupeIDs returns the ids not yet in seen, recording them. ZSCAN may
// deliver a member more than once over a full iteration, which would
// double-count a violation without this.
func dedupeIDs(seen map[string]struct{}, ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// checkOrphans samples the most recently active heartbeats and verifies the
// hot data behind each one. Sampling bounds the load on the hot store while
// repeated runs still surface systemic problems.
func (c *ConsistencyChecker) checkOrphans(ctx context.Context, report *Report) error {
	ids, err := c.hot.MostRecent(ctx, orphanSampleSize)
	if err != nil {
		return err
	}
	for _, id := range ids {
		hasLog, err := c.hot.HasMessageLog(ctx, id)
		if err != nil {
			return err
		}
		hasMeta, err := c.hot.HasMetadata(ctx, id)
		if err != nil {
			return err
		}
		if !hasLog {
			log.Warn().Str("conversation_id", id).Msg("heartbeat without message log")
			report.MissingLogs = append(report.MissingLogs, id)
		}
		if !hasMeta {
			log.Warn().Str("conversation_id", id).Msg("heartbeat without metadata hash")
			report.MissingMeta = append(report.MissingMeta, id)
		}
	}
	if n := len(report.MissingLogs) + len(report.MissingMeta); n > 0 && c.reg != nil {
		c.reg.AddOrphanViolations(uint64(n))
	}
	return nil
}
