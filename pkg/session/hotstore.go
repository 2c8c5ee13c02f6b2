package session

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/zerolg/sessiontier/pkg/metrics"
)

// HotStoreOptions configures the size and expiry bounds of the hot tier.
// Zero values fall back to the defaults below.
type HotStoreOptions struct {
	// MaxMessages caps the per-conversation log; older entries are trimmed.
	MaxMessages int
	// TTL is refreshed on the message and metadata keys on every activity.
	TTL time.Duration
}

const (
	defaultMaxMessages = 100
	defaultTTL         = 7 * 24 * time.Hour
)

// HotStore is the Redis-backed fast tier: per-conversation message log,
// metadata hash and the time-ordered heartbeat index.
type HotStore struct {
	rdb    redis.UniversalClient
	opts   HotStoreOptions
	reg    *metrics.Registry
	events *EventPublisher
}

func NewHotStore(rdb redis.UniversalClient, opts HotStoreOptions, reg *metrics.Registry) *HotStore {
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = defaultMaxMessages
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	return &HotStore{rdb: rdb, opts: opts, reg: reg}
}

// WithEventPublisher attaches a publisher for session events. Publishing is
// best-effort and never blocks or fails the hot write.
func (s *HotStore) WithEventPublisher(p *EventPublisher) *HotStore {
	s.events = p
	return s
}

// RecordActivity upserts the heartbeat score, creates the metadata hash on
// first contact and refreshes the TTL on the conversation keys.
func (s *HotStore) RecordActivity(ctx context.Context, conversationID, userID string, ts time.Time) error {
	defer s.observe(time.Now())

	err := s.rdb.ZAdd(ctx, HeartbeatKey, redis.Z{
		Score:  float64(ts.UnixMilli()),
		Member: conversationID,
	}).Err()
	if err != nil {
		return errors.Wrap(err, "hot store: heartbeat upsert")
	}

	mk := MetaKey(conversationID)
	exists, err := s.rdb.Exists(ctx, mk).Result()
	if err != nil {
		return errors.Wrap(err, "hot store: meta exists")
	}
	if exists == 0 {
		fields := map[string]any{
			"userId":       userID,
			"createdAt":    ts.UnixMilli(),
			"lastActiveAt": ts.UnixMilli(),
			"messageCount": 0,
			"totalTokens":  0,
			"status":       StatusActive,
		}
		if err := s.rdb.HSet(ctx, mk, fields).Err(); err != nil {
			return errors.Wrap(err, "hot store: create metadata")
		}
	} else {
		if err := s.rdb.HSet(ctx, mk, "lastActiveAt", ts.UnixMilli()).Err(); err != nil {
			return errors.Wrap(err, "hot store: touch metadata")
		}
	}

	return s.refreshTTL(ctx, conversationID)
}

// AppendMessage appends to the log, bumps the metadata counters, trims the
// log to the configured cap and refreshes the TTL.
func (s *HotStore) AppendMessage(ctx context.Context, conversationID string, msg Message) error {
	defer s.observe(time.Now())

	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "hot store: marshal message")
	}

	size, err := s.rdb.RPush(ctx, MessageKey(conversationID), b).Result()
	if err != nil {
		return errors.Wrap(err, "hot store: append message")
	}

	mk := MetaKey(conversationID)
	if err := s.rdb.HIncrBy(ctx, mk, "messageCount", 1).Err(); err != nil {
		return errors.Wrap(err, "hot store: increment message count")
	}
	if err := s.rdb.HIncrBy(ctx, mk, "totalTokens", int64(msg.Tokens)).Err(); err != nil {
		return errors.Wrap(err, "hot store: increment token count")
	}
	if err := s.rdb.HSet(ctx, mk, "lastActiveAt", time.Now().UnixMilli()).Err(); err != nil {
		return errors.Wrap(err, "hot store: touch metadata")
	}

	if size > int64(s.opts.MaxMessages) {
		start := size - int64(s.opts.MaxMessages)
		if err := s.rdb.LTrim(ctx, MessageKey(conversationID), start, -1).Err(); err != nil {
			return errors.Wrap(err, "hot store: trim message log")
		}
		log.Debug().
			Str("conversation_id", conversationID).
			Int("kept", s.opts.MaxMessages).
			Msg("trimmed message log")
	}

	if err := s.refreshTTL(ctx, conversationID); err != nil {
		return err
	}

	if s.events != nil {
		if err := s.events.PublishMessageCreated(conversationID, msg); err != nil {
			log.Error().Err(err).
				Str("conversation_id", conversationID).
				Msg("failed to publish session event")
		}
	}
	return nil
}

// ReadAll returns the full message log oldest-first. A missing conversation
// yields an empty slice, not an error.
func (s *HotStore) ReadAll(ctx context.Context, conversationID string) ([]Message, error) {
	raw, err := s.rdb.LRange(ctx, MessageKey(conversationID), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "hot store: read message log")
	}
	msgs := make([]Message, 0, len(raw))
	for _, r := range raw {
		var m Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			log.Error().Err(err).
				Str("conversation_id", conversationID).
				Msg("skipping undecodable message record")
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// ReadRecentByBudget walks backwards from the newest message until the token
// budget is exhausted and returns the selection oldest-first.
func (s *HotStore) ReadRecentByBudget(ctx context.Context, conversationID string, maxTokens int) ([]Message, error) {
	all, err := s.ReadAll(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	budget := 0
	cut := len(all)
	for i := len(all) - 1; i >= 0; i-- {
		if budget+all[i].Tokens > maxTokens {
			break
		}
		budget += all[i].Tokens
		cut = i
	}
	return all[cut:], nil
}

// Metadata returns the conversation metadata, or nil if the hash is absent.
func (s *HotStore) Metadata(ctx context.Context, conversationID string) (*Metadata, error) {
	entries, err := s.rdb.HGetAll(ctx, MetaKey(conversationID)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "hot store: read metadata")
	}
	if len(entries) == 0 {
		return nil, nil
	}
	md := &Metadata{
		UserID: entries["userId"],
		Status: entries["status"],
	}
	md.CreatedAt, _ = strconv.ParseInt(entries["createdAt"], 10, 64)
	md.LastActiveAt, _ = strconv.ParseInt(entries["lastActiveAt"], 10, 64)
	md.MessageCount, _ = strconv.Atoi(entries["messageCount"])
	md.TotalTokens, _ = strconv.Atoi(entries["totalTokens"])
	return md, nil
}

// MarkArchived flips the metadata status so a concurrent reader sees the
// conversation leaving the hot tier before its keys disappear.
func (s *HotStore) MarkArchived(ctx context.Context, conversationID string) error {
	err := s.rdb.HSet(ctx, MetaKey(conversationID), "status", StatusArchived).Err()
	return errors.Wrap(err, "hot store: mark archived")
}

// DeleteConversation removes the message log and metadata. The heartbeat
// entry is the caller's responsibility.
func (s *HotStore) DeleteConversation(ctx context.Context, conversationID string) error {
	err := s.rdb.Del(ctx, MessageKey(conversationID), MetaKey(conversationID)).Err()
	return errors.Wrap(err, "hot store: delete conversation")
}

// RestoreConversation replays an archived payload into a fresh message log
// and recreates the metadata hash. Used only by the reactivation path.
func (s *HotStore) RestoreConversation(ctx context.Context, conversationID, userID string, msgs []Message) error {
	mk := MessageKey(conversationID)
	totalTokens := 0
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return errors.Wrap(err, "hot store: marshal replayed message")
		}
		if err := s.rdb.RPush(ctx, mk, b).Err(); err != nil {
			return errors.Wrap(err, "hot store: replay message")
		}
		totalTokens += m.Tokens
	}

	now := time.Now().UnixMilli()
	fields := map[string]any{
		"userId":       userID,
		"createdAt":    now,
		"lastActiveAt": now,
		"messageCount": len(msgs),
		"totalTokens":  totalTokens,
		"status":       StatusActive,
	}
	if err := s.rdb.HSet(ctx, MetaKey(conversationID), fields).Err(); err != nil {
		return errors.Wrap(err, "hot store: restore metadata")
	}
	return s.refreshTTL(ctx, conversationID)
}

// IdleBefore returns all conversation ids whose heartbeat is at or before
// the cutoff, oldest first.
func (s *HotStore) IdleBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, HeartbeatKey, &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	return ids, errors.Wrap(err, "hot store: idle scan")
}

// LastActive re-reads the current heartbeat score for one conversation.
func (s *HotStore) LastActive(ctx context.Context, conversationID string) (time.Time, bool, error) {
	score, err := s.rdb.ZScore(ctx, HeartbeatKey, conversationID).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, "hot store: heartbeat score")
	}
	return time.UnixMilli(int64(score)), true, nil
}

func (s *HotStore) RemoveHeartbeat(ctx context.Context, conversationID string) error {
	err := s.rdb.ZRem(ctx, HeartbeatKey, conversationID).Err()
	return errors.Wrap(err, "hot store: remove heartbeat")
}

// MostRecent returns up to n conversation ids ordered most recent first.
func (s *HotStore) MostRecent(ctx context.Context, n int) ([]string, error) {
	ids, err := s.rdb.ZRevRange(ctx, HeartbeatKey, 0, int64(n-1)).Result()
	return ids, errors.Wrap(err, "hot store: recent scan")
}

// ScanHeartbeats iterates the heartbeat index without blocking Redis,
// invoking fn with batches of conversation ids.
func (s *HotStore) ScanHeartbeats(ctx context.Context, batchSize int, fn func(ids []string) error) error {
	var cursor uint64
	batch := make([]string, 0, batchSize)
	for {
		keys, next, err := s.rdb.ZScan(ctx, HeartbeatKey, cursor, "*", int64(batchSize)).Result()
		if err != nil {
			return errors.Wrap(err, "hot store: heartbeat scan")
		}
		// ZSCAN interleaves member and score.
		for i := 0; i+1 < len(keys); i += 2 {
			batch = append(batch, keys[i])
			if len(batch) >= batchSize {
				if err := fn(batch); err != nil {
					return err
				}
				batch = batch[:0]
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

// HasMessageLog reports whether the conversation's message list exists.
func (s *HotStore) HasMessageLog(ctx context.Context, conversationID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, MessageKey(conversationID)).Result()
	return n > 0, errors.Wrap(err, "hot store: message log exists")
}

// HasMetadata reports whether the conversation's metadata hash exists.
func (s *HotStore) HasMetadata(ctx context.Context, conversationID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, MetaKey(conversationID)).Result()
	return n > 0, errors.Wrap(err, "hot store: metadata exists")
}

func (s *HotStore) refreshTTL(ctx context.Context, conversationID string) error {
	if err := s.rdb.Expire(ctx, MessageKey(conversationID), s.opts.TTL).Err(); err != nil {
		return errors.Wrap(err, "hot store: refresh message ttl")
	}
	if err := s.rdb.Expire(ctx, MetaKey(conversationID), s.opts.TTL).Err(); err != nil {
		return errors.Wrap(err, "hot store: refresh metadata ttl")
	}
	return nil
}

func (s *HotStore) observe(start time.Time) {
	if s.reg != nil {
		s.reg.ObserveWriteLatency(time.Since(start))
	}
}
