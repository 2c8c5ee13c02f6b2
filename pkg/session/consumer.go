package session

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// EventConsumer tails the session event stream through a consumer group.
// Events that cannot be decoded are dead-lettered onto the DLQ list, which
// the backlog monitor watches.
type EventConsumer struct {
	sub    message.Subscriber
	rdb    redis.UniversalClient
	topic  string
	dlqKey string
}

func NewEventConsumer(client redis.UniversalClient, topic, group, consumer, dlqKey string) (*EventConsumer, error) {
	if err := ensureGroupAtTail(context.Background(), client, topic, group); err != nil {
		return nil, err
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: group,
		Consumer:      consumer,
	}, newWatermillLogger(log.Logger))
	if err != nil {
		return nil, errors.Wrap(err, "event consumer: create subscriber")
	}
	return &EventConsumer{sub: sub, rdb: client, topic: topic, dlqKey: dlqKey}, nil
}

// ensureGroupAtTail creates the consumer group at $ so that a fresh group
// does not replay the full stream history. BUSYGROUP means it already
// exists and is not an error.
func ensureGroupAtTail(ctx context.Context, client redis.UniversalClient, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrap(err, "event consumer: create group")
	}
	log.Info().Str("stream", stream).Str("group", group).Msg("created consumer group at tail")
	return nil
}

// Run consumes events until the context is cancelled.
func (c *EventConsumer) Run(ctx context.Context) error {
	ch, err := c.sub.Subscribe(ctx, c.topic)
	if err != nil {
		return errors.Wrap(err, "event consumer: subscribe")
	}
	for msg := range ch {
		c.handle(ctx, msg)
	}
	return nil
}

func (c *EventConsumer) handle(ctx context.Context, msg *message.Message) {
	var ev Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		log.Error().Err(err).
			Str("message_id", msg.UUID).
			Msg("undecodable session event, dead-lettering")
		if err := c.rdb.RPush(ctx, c.dlqKey, []byte(msg.Payload)).Err(); err != nil {
			log.Error().Err(err).Msg("failed to push to dead letter queue")
		}
		msg.Ack()
		return
	}
	log.Debug().
		Str("event_id", ev.EventID).
		Str("conversation_id", ev.ConversationID).
		Str("type", ev.Type).
		Msg("session event consumed")
	msg.Ack()
}

func (c *EventConsumer) Close() error {
	return c.sub.Close()
}
