package tasks

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zerolg/sessiontier/pkg/archive"
	"github.com/zerolg/sessiontier/pkg/session"
)

// Outcome describes what the archiver did with one candidate conversation.
type Outcome int

const (
	// OutcomeArchived means the conversation was migrated hot→cold.
	OutcomeArchived Outcome = iota
	// OutcomeSkippedActive means the optimistic re-check found fresher
	// activity and the conversation was left alone.
	OutcomeSkippedActive
	// OutcomeOrphanCleaned means the heartbeat had no message data behind
	// it; the stale heartbeat was removed and nothing was migrated.
	OutcomeOrphanCleaned
)

// Archiver migrates idle conversations from the hot to the cold tier.
//
// Each run snapshots the heartbeat index, then re-validates every candidate
// immediately before acting, so concurrent activity wins without any lock.
// A failed candidate keeps its heartbeat and is retried on the next run;
// the idempotent cold upsert makes that retry safe.
type Archiver struct {
	hot           *session.HotStore
	svc           *archive.Service
	idleThreshold time.Duration

	now func() time.Time
}

func NewArchiver(hot *session.HotStore, svc *archive.Service, idleThreshold time.Duration) *Archiver {
	return &Archiver{
		hot:           hot,
		svc:           svc,
		idleThreshold: idleThreshold,
		now:           time.Now,
	}
}

// RunOnce performs one full scan-and-archive pass. A single conversation's
// failure is logged and does not abort the batch.
func (a *Archiver) RunOnce(ctx context.Context) error {
	now := a.now()
	cutoff := now.Add(-a.idleThreshold)

	candidates, err := a.hot.IdleBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		log.Debug().Msg("no idle conversations to archive")
		return nil
	}

	log.Info().Int("candidates", len(candidates)).Msg("archiving idle conversations")

	for _, id := range candidates {
		if ctx.Err() != nil {
			log.Warn().Int("remaining", len(candidates)).Msg("archival pass interrupted, leaving rest for next run")
			return ctx.Err()
		}
		if _, err := a.ArchiveCandidate(ctx, id, cutoff); err != nil {
			log.Error().Err(err).
				Str("conversation_id", id).
				Msg("archival failed, will retry next run")
		}
	}
	return nil
}

// ArchiveCandidate archives one conversation after re-validating that it is
// still idle. The re-check closes the race window between the scan snapshot
// and the destructive steps.
func (a *Archiver) ArchiveCandidate(ctx context.Context, conversationID string, cutoff time.Time) (Outcome, error) {
	lastActive, ok, err := a.hot.LastActive(ctx, conversationID)
	if err != nil {
		return OutcomeSkippedActive, err
	}
	if ok && lastActive.After(cutoff) {
		log.Debug().
			Str("conversation_id", conversationID).
			Time("last_active", lastActive).
			Msg("conversation became active since scan, skipping")
		return OutcomeSkippedActive, nil
	}

	msgs, err := a.hot.ReadAll(ctx, conversationID)
	if err != nil {
		return OutcomeSkippedActive, err
	}
	if len(msgs) == 0 {
		log.Warn().
			Str("conversation_id", conversationID).
			Msg("heartbeat without message data, cleaning up orphan heartbeat")
		if err := a.hot.RemoveHeartbeat(ctx, conversationID); err != nil {
			return OutcomeOrphanCleaned, err
		}
		return OutcomeOrphanCleaned, nil
	}

	// A failing metadata read keeps the candidate for the next run; only a
	// genuinely absent hash falls back to the placeholder owner.
	md, err := a.hot.Metadata(ctx, conversationID)
	if err != nil {
		return OutcomeSkippedActive, err
	}
	userID := "unknown"
	if md != nil && md.UserID != "" {
		userID = md.UserID
	}

	if err := a.svc.ArchiveSnapshot(ctx, conversationID, userID, msgs, a.now()); err != nil {
		return OutcomeSkippedActive, err
	}

	// Cold write succeeded. If any of the remaining steps fails the
	// conversation is briefly visible in both tiers; the consistency
	// checker reports it and the next run's upsert heals it.
	if err := a.hot.MarkArchived(ctx, conversationID); err != nil {
		return OutcomeArchived, err
	}
	if err := a.hot.DeleteConversation(ctx, conversationID); err != nil {
		return OutcomeArchived, err
	}
	if err := a.hot.RemoveHeartbeat(ctx, conversationID); err != nil {
		return OutcomeArchived, err
	}
	return OutcomeArchived, nil
}
