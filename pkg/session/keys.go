package session

// Redis key layout for the hot tier.
const (
	// HeartbeatKey is a ZSET of conversation ids scored by last-activity
	// timestamp in milliseconds.
	HeartbeatKey = "sessiontier:session:heartbeat"

	// EventStreamKey is the stream all session events are published to.
	EventStreamKey = "sessiontier:session:events"

	// DLQKey is the list upstream consumers push irrecoverable failures to.
	DLQKey = "sessiontier:session:dlq"

	messageKeyPrefix = "sessiontier:session:msg:"
	metaKeyPrefix    = "sessiontier:session:meta:"
)

// MessageKey is the list key holding a conversation's hot message log.
func MessageKey(conversationID string) string { return messageKeyPrefix + conversationID }

// MetaKey is the hash key holding a conversation's metadata.
func MetaKey(conversationID string) string { return metaKeyPrefix + conversationID }
