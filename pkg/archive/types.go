package archive

import "time"

// Record is the full archived conversation: the complete message payload
// captured at archival time, keyed by conversation id for idempotent
// re-archival.
type Record struct {
	ConversationID string
	UserID         string
	// Payload is the JSON-encoded ordered message sequence.
	Payload     []byte
	TotalTokens int
	ArchivedAt  time.Time
}

// IndexEntry is the lightweight listing row kept next to the full record so
// history pages never load payloads.
type IndexEntry struct {
	ConversationID string
	UserID         string
	Summary        string
	MessageCount   int
	TotalTokens    int
	StartedAt      time.Time
	LastActiveAt   time.Time
	ArchivedAt     time.Time
}

// Page is one page of a user's archived conversation listing.
type Page struct {
	Items []IndexEntry
	Page  int
	Size  int
	Total int64
}
