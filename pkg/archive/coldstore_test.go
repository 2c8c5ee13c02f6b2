package archive

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestColdStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testRecord(conversationID, userID string) (Record, IndexEntry) {
	now := time.Now()
	rec := Record{
		ConversationID: conversationID,
		UserID:         userID,
		Payload:        []byte(`[{"id":"m1","role":"user","content":"hi","tokens":2}]`),
		TotalTokens:    2,
		ArchivedAt:     now,
	}
	idx := IndexEntry{
		ConversationID: conversationID,
		UserID:         userID,
		Summary:        "hi",
		MessageCount:   1,
		TotalTokens:    2,
		StartedAt:      now.Add(-time.Hour),
		LastActiveAt:   now,
		ArchivedAt:     now,
	}
	return rec, idx
}

func TestSQLiteStore_UpsertIsIdempotent(t *testing.T) {
	s := newTestColdStore(t)
	ctx := context.Background()

	rec, idx := testRecord("conv-1", "user-1")
	require.NoError(t, s.UpsertArchive(ctx, rec, idx))
	require.NoError(t, s.UpsertArchive(ctx, rec, idx))

	n, err := s.CountByIDs(ctx, []string{"conv-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	page, err := s.ListIndexByUser(ctx, "user-1", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)
	require.Len(t, page.Items, 1)
}

func TestSQLiteStore_GetAndDelete(t *testing.T) {
	s := newTestColdStore(t)
	ctx := context.Background()

	rec, idx := testRecord("conv-1", "user-1")
	require.NoError(t, s.UpsertArchive(ctx, rec, idx))

	got, err := s.GetArchive(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, rec.Payload, got.Payload)
	assert.Equal(t, 2, got.TotalTokens)

	entry, err := s.GetIndexEntry(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 1, entry.MessageCount)

	require.NoError(t, s.DeleteArchive(ctx, "conv-1"))

	got, err = s.GetArchive(ctx, "conv-1")
	require.NoError(t, err)
	assert.Nil(t, got)
	entry, err = s.GetIndexEntry(ctx, "conv-1")
	require.NoError(t, err)
	assert.Nil(t, entry)

	// Deleting again is a no-op.
	require.NoError(t, s.DeleteArchive(ctx, "conv-1"))
}

func TestSQLiteStore_GetMissingReturnsNil(t *testing.T) {
	s := newTestColdStore(t)

	got, err := s.GetArchive(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteStore_ListIndexByUserPaginates(t *testing.T) {
	s := newTestColdStore(t)
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		rec, idx := testRecord(fmt.Sprintf("conv-%d", i), "user-1")
		idx.LastActiveAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.UpsertArchive(ctx, rec, idx))
	}
	recOther, idxOther := testRecord("conv-other", "user-2")
	require.NoError(t, s.UpsertArchive(ctx, recOther, idxOther))

	page, err := s.ListIndexByUser(ctx, "user-1", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "conv-4", page.Items[0].ConversationID)
	assert.Equal(t, "conv-3", page.Items[1].ConversationID)

	page, err = s.ListIndexByUser(ctx, "user-1", 3, 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "conv-0", page.Items[0].ConversationID)
}

func TestSQLiteStore_BatchIDChecks(t *testing.T) {
	s := newTestColdStore(t)
	ctx := context.Background()

	for _, id := range []string{"conv-1", "conv-2"} {
		rec, idx := testRecord(id, "user-1")
		require.NoError(t, s.UpsertArchive(ctx, rec, idx))
	}

	n, err := s.CountByIDs(ctx, []string{"conv-1", "conv-2", "conv-3"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	hits, err := s.SelectByIDs(ctx, []string{"conv-1", "conv-3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"conv-1"}, hits)

	n, err = s.CountByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
