package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHotStore(t *testing.T, opts HotStoreOptions) (*HotStore, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewHotStore(client, opts, nil), client
}

func TestHotStore_AppendAndReadAll(t *testing.T) {
	s, _ := newTestHotStore(t, HotStoreOptions{})
	ctx := context.Background()

	require.NoError(t, s.RecordActivity(ctx, "conv-1", "user-1", time.Now()))
	require.NoError(t, s.AppendMessage(ctx, "conv-1", NewUserMessage("hello", 3)))
	require.NoError(t, s.AppendMessage(ctx, "conv-1", NewAssistantMessage("hi there", 4)))
	require.NoError(t, s.AppendMessage(ctx, "conv-1", NewUserMessage("how are you", 5)))

	msgs, err := s.ReadAll(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "hi there", msgs[1].Content)
	assert.Equal(t, "how are you", msgs[2].Content)

	md, err := s.Metadata(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, md)
	assert.Equal(t, "user-1", md.UserID)
	assert.Equal(t, 3, md.MessageCount)
	assert.Equal(t, 12, md.TotalTokens)
	assert.Equal(t, StatusActive, md.Status)
}

func TestHotStore_ReadMissingConversationReturnsEmpty(t *testing.T) {
	s, _ := newTestHotStore(t, HotStoreOptions{})
	ctx := context.Background()

	msgs, err := s.ReadAll(ctx, "never-seen")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	md, err := s.Metadata(ctx, "never-seen")
	require.NoError(t, err)
	assert.Nil(t, md)
}

func TestHotStore_TrimsLogToCap(t *testing.T) {
	s, _ := newTestHotStore(t, HotStoreOptions{MaxMessages: 5})
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		msg := NewUserMessage(fmt.Sprintf("msg-%d", i), 1)
		require.NoError(t, s.AppendMessage(ctx, "conv-1", msg))
	}

	msgs, err := s.ReadAll(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	assert.Equal(t, "msg-3", msgs[0].Content)
	assert.Equal(t, "msg-7", msgs[4].Content)
}

func TestHotStore_ReadRecentByBudget(t *testing.T) {
	s, _ := newTestHotStore(t, HotStoreOptions{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		msg := NewUserMessage(fmt.Sprintf("msg-%d", i), 10)
		require.NoError(t, s.AppendMessage(ctx, "conv-1", msg))
	}

	msgs, err := s.ReadRecentByBudget(ctx, "conv-1", 25)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "msg-3", msgs[0].Content)
	assert.Equal(t, "msg-4", msgs[1].Content)

	none, err := s.ReadRecentByBudget(ctx, "conv-1", 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestHotStore_HeartbeatIndex(t *testing.T) {
	s, _ := newTestHotStore(t, HotStoreOptions{})
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.RecordActivity(ctx, "conv-old", "user-1", now.Add(-8*24*time.Hour)))
	require.NoError(t, s.RecordActivity(ctx, "conv-new", "user-1", now))

	idle, err := s.IdleBefore(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"conv-old"}, idle)

	ts, ok, err := s.LastActive(ctx, "conv-old")
	require.NoError(t, err)
	require.True(t, ok)
	assert.WithinDuration(t, now.Add(-8*24*time.Hour), ts, time.Second)

	_, ok, err = s.LastActive(ctx, "conv-missing")
	require.NoError(t, err)
	assert.False(t, ok)

	recent, err := s.MostRecent(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"conv-new", "conv-old"}, recent)

	require.NoError(t, s.RemoveHeartbeat(ctx, "conv-old"))
	_, ok, err = s.LastActive(ctx, "conv-old")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHotStore_ActivityRefreshesTTL(t *testing.T) {
	s, client := newTestHotStore(t, HotStoreOptions{TTL: time.Hour})
	ctx := context.Background()

	require.NoError(t, s.RecordActivity(ctx, "conv-1", "user-1", time.Now()))
	require.NoError(t, s.AppendMessage(ctx, "conv-1", NewUserMessage("hello", 1)))

	ttl, err := client.TTL(ctx, MessageKey("conv-1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	ttl, err = client.TTL(ctx, MetaKey("conv-1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestHotStore_DeleteConversationKeepsHeartbeat(t *testing.T) {
	s, _ := newTestHotStore(t, HotStoreOptions{})
	ctx := context.Background()

	require.NoError(t, s.RecordActivity(ctx, "conv-1", "user-1", time.Now()))
	require.NoError(t, s.AppendMessage(ctx, "conv-1", NewUserMessage("hello", 1)))
	require.NoError(t, s.DeleteConversation(ctx, "conv-1"))

	hasLog, err := s.HasMessageLog(ctx, "conv-1")
	require.NoError(t, err)
	assert.False(t, hasLog)
	hasMeta, err := s.HasMetadata(ctx, "conv-1")
	require.NoError(t, err)
	assert.False(t, hasMeta)

	// Heartbeat removal is the caller's responsibility.
	_, ok, err := s.LastActive(ctx, "conv-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHotStore_MarkArchived(t *testing.T) {
	s, _ := newTestHotStore(t, HotStoreOptions{})
	ctx := context.Background()

	require.NoError(t, s.RecordActivity(ctx, "conv-1", "user-1", time.Now()))
	require.NoError(t, s.MarkArchived(ctx, "conv-1"))

	md, err := s.Metadata(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, md)
	assert.Equal(t, StatusArchived, md.Status)
}

func TestHotStore_RestoreConversation(t *testing.T) {
	s, _ := newTestHotStore(t, HotStoreOptions{})
	ctx := context.Background()

	msgs := []Message{
		NewUserMessage("one", 1),
		NewAssistantMessage("two", 2),
		NewUserMessage("three", 3),
	}
	require.NoError(t, s.RestoreConversation(ctx, "conv-1", "user-9", msgs))

	got, err := s.ReadAll(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "one", got[0].Content)
	assert.Equal(t, "three", got[2].Content)

	md, err := s.Metadata(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, md)
	assert.Equal(t, "user-9", md.UserID)
	assert.Equal(t, 3, md.MessageCount)
	assert.Equal(t, 6, md.TotalTokens)
}

func TestHotStore_ScanHeartbeatsBatches(t *testing.T) {
	s, _ := newTestHotStore(t, HotStoreOptions{})
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		id := fmt.Sprintf("conv-%d", i)
		require.NoError(t, s.RecordActivity(ctx, id, "user-1", time.Now()))
	}

	var seen []string
	err := s.ScanHeartbeats(ctx, 3, func(ids []string) error {
		require.LessOrEqual(t, len(ids), 3)
		seen = append(seen, ids...)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, seen, 7)
}
