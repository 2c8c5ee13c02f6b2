package session

import (
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// EventPublisher publishes session events onto the Redis stream so that
// downstream consumers (archival audit, analytics) can tail them.
type EventPublisher struct {
	pub   message.Publisher
	topic string
}

func NewEventPublisher(client redis.UniversalClient, topic string) (*EventPublisher, error) {
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, newWatermillLogger(log.Logger))
	if err != nil {
		return nil, errors.Wrap(err, "event publisher: create")
	}
	return &EventPublisher{pub: pub, topic: topic}, nil
}

// PublishMessageCreated emits a MESSAGE_CREATED event carrying the message
// as payload.
func (p *EventPublisher) PublishMessageCreated(conversationID string, msg Message) error {
	ev := Event{
		EventID:        uuid.NewString(),
		ConversationID: conversationID,
		Type:           EventMessageCreated,
		Payload:        map[string]any{"message": msg},
		Timestamp:      time.Now(),
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "event publisher: marshal event")
	}
	wm := message.NewMessage(watermill.NewUUID(), b)
	return errors.Wrap(p.pub.Publish(p.topic, wm), "event publisher: publish")
}

func (p *EventPublisher) Close() error {
	return p.pub.Close()
}
