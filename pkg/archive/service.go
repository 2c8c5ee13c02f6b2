package archive

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zerolg/sessiontier/pkg/metrics"
	"github.com/zerolg/sessiontier/pkg/session"
)

// summaryMaxLen caps the one-line summary extracted for the listing index.
const summaryMaxLen = 64

// Service implements the two cross-tier migrations: hot→cold snapshots for
// the archival scheduler and cold→hot rehydration for collaborators that
// need a conversation's hot data back.
//
// Neither direction is atomic across the tiers. The archival direction is
// made safe by the idempotent cold upsert plus heartbeat-driven retry; the
// reactivation direction fails loudly instead, because it sits on the
// synchronous request path.
type Service struct {
	hot  *session.HotStore
	cold *SQLiteStore
	reg  *metrics.Registry
}

func NewService(hot *session.HotStore, cold *SQLiteStore, reg *metrics.Registry) *Service {
	return &Service{hot: hot, cold: cold, reg: reg}
}

// ArchiveSnapshot persists one conversation's messages into the cold store.
// It only writes the cold tier; removing the hot data afterwards is the
// archival scheduler's job, so that a failed hot delete leaves a retryable
// (and reconcilable) state rather than a lost conversation.
func (s *Service) ArchiveSnapshot(ctx context.Context, conversationID, userID string, msgs []session.Message, now time.Time) error {
	payload, err := json.Marshal(msgs)
	if err != nil {
		s.countError()
		return errors.Wrap(err, "archive: marshal payload")
	}

	totalTokens := 0
	startedAt := now
	for i, m := range msgs {
		totalTokens += m.Tokens
		if i == 0 && m.Timestamp > 0 {
			startedAt = time.UnixMilli(m.Timestamp)
		}
	}

	rec := Record{
		ConversationID: conversationID,
		UserID:         userID,
		Payload:        payload,
		TotalTokens:    totalTokens,
		ArchivedAt:     now,
	}
	idx := IndexEntry{
		ConversationID: conversationID,
		UserID:         userID,
		Summary:        firstUserSummary(msgs),
		MessageCount:   len(msgs),
		TotalTokens:    totalTokens,
		StartedAt:      startedAt,
		LastActiveAt:   now,
		ArchivedAt:     now,
	}

	if err := s.cold.UpsertArchive(ctx, rec, idx); err != nil {
		s.countError()
		return err
	}
	s.countSuccess()
	log.Info().
		Str("conversation_id", conversationID).
		Int("messages", len(msgs)).
		Int("total_tokens", totalTokens).
		Msg("conversation archived")
	return nil
}

// EnsureHotData rehydrates a conversation from the cold store if it was
// archived. It returns false when no archive exists, which callers treat as
// a brand-new conversation.
//
// Concurrent calls for the same conversation are not mutually excluded:
// both replay into the same log and the loser's delete is a no-op. That can
// duplicate messages in the race window and matches the upstream design.
func (s *Service) EnsureHotData(ctx context.Context, conversationID string) (bool, error) {
	rec, err := s.cold.GetArchive(ctx, conversationID)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}

	log.Info().Str("conversation_id", conversationID).Msg("reactivating archived conversation")

	var msgs []session.Message
	if err := json.Unmarshal(rec.Payload, &msgs); err != nil {
		return false, &CorruptPayloadError{ConversationID: conversationID, Err: err}
	}

	if err := s.hot.RestoreConversation(ctx, conversationID, rec.UserID, msgs); err != nil {
		return false, err
	}
	if err := s.cold.DeleteArchive(ctx, conversationID); err != nil {
		return false, err
	}

	log.Info().
		Str("conversation_id", conversationID).
		Int("messages", len(msgs)).
		Msg("conversation reactivated")
	return true, nil
}

// ListArchivedConversations pages through a user's archived history,
// touching only the index table.
func (s *Service) ListArchivedConversations(ctx context.Context, userID string, page, size int) (Page, error) {
	return s.cold.ListIndexByUser(ctx, userID, page, size)
}

// GetArchivedConversationDetail loads the full record, or nil if the
// conversation is not archived.
func (s *Service) GetArchivedConversationDetail(ctx context.Context, conversationID string) (*Record, error) {
	return s.cold.GetArchive(ctx, conversationID)
}

// firstUserSummary extracts a short listing summary from the first user
// message, falling back to a placeholder for conversations without one.
func firstUserSummary(msgs []session.Message) string {
	for _, m := range msgs {
		if m.Role != "user" || m.Content == "" {
			continue
		}
		if r := []rune(m.Content); len(r) > summaryMaxLen {
			return string(r[:summaryMaxLen]) + "..."
		}
		return m.Content
	}
	return "new conversation"
}

func (s *Service) countSuccess() {
	if s.reg != nil {
		s.reg.IncArchiveSuccess()
	}
}

func (s *Service) countError() {
	if s.reg != nil {
		s.reg.IncArchiveError()
	}
}
