package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestEventPublisher_AppendPublishesMessageCreated(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	p, err := NewEventPublisher(client, EventStreamKey)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	s := NewHotStore(client, HotStoreOptions{}, nil).WithEventPublisher(p)
	require.NoError(t, s.AppendMessage(ctx, "conv-1", NewUserMessage("hello", 1)))

	n, err := client.XLen(ctx, EventStreamKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestHotStore_AppendSurvivesPublishFailure(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	p, err := NewEventPublisher(client, EventStreamKey)
	require.NoError(t, err)
	// A closed publisher fails every Publish; the hot write must not care.
	require.NoError(t, p.Close())

	s := NewHotStore(client, HotStoreOptions{}, nil).WithEventPublisher(p)
	require.NoError(t, s.AppendMessage(ctx, "conv-1", NewUserMessage("hello", 1)))

	msgs, err := s.ReadAll(ctx, "conv-1")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestEventConsumer_DeadLettersUndecodableEvents(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	c, err := NewEventConsumer(client, EventStreamKey, "grp", "c1", DLQKey)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	bad := message.NewMessage(watermill.NewUUID(), []byte("{not json"))
	c.handle(ctx, bad)

	n, err := client.LLen(ctx, DLQKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	select {
	case <-bad.Acked():
	default:
		t.Fatal("undecodable event was not acked")
	}

	ev := Event{
		EventID:        "ev-1",
		ConversationID: "conv-1",
		Type:           EventMessageCreated,
		Timestamp:      time.Now(),
	}
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	good := message.NewMessage(watermill.NewUUID(), b)
	c.handle(ctx, good)

	n, err = client.LLen(ctx, DLQKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "decodable event must not be dead-lettered")
	select {
	case <-good.Acked():
	default:
		t.Fatal("decodable event was not acked")
	}
}

func TestEventConsumer_ToleratesExistingGroup(t *testing.T) {
	client := newTestRedis(t)

	first, err := NewEventConsumer(client, EventStreamKey, "grp", "c1", DLQKey)
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Close() })

	// Second consumer in the same group hits BUSYGROUP and must not fail.
	second, err := NewEventConsumer(client, EventStreamKey, "grp", "c2", DLQKey)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })
}
