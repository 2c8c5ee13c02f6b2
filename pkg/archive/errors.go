package archive

import "fmt"

// CorruptPayloadError reports an archived payload that no longer
// deserializes. Reactivation surfaces it to the caller instead of silently
// losing the conversation.
type CorruptPayloadError struct {
	ConversationID string
	Err            error
}

func (e *CorruptPayloadError) Error() string {
	return fmt.Sprintf("archive: corrupt payload for conversation %s: %v", e.ConversationID, e.Err)
}

func (e *CorruptPayloadError) Unwrap() error { return e.Err }
