package archive

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// SQLiteStore is the durable cold tier: a full-payload archive table plus a
// lightweight index table for paginated listing. Writes and deletes always
// touch both tables inside one local transaction.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("cold store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "cold store: open")
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS session_archives (
			conversation_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			archived_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS session_archive_index (
			conversation_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			message_count INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			started_at_ms INTEGER NOT NULL,
			last_active_at_ms INTEGER NOT NULL,
			archived_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS archive_index_by_user
			ON session_archive_index(user_id, last_active_at_ms DESC);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "cold store: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertArchive writes the full record and its index row in one
// transaction. Re-running it for the same conversation id overwrites both
// rows, which is what makes the archival step retryable.
func (s *SQLiteStore) UpsertArchive(ctx context.Context, rec Record, idx IndexEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "cold store: begin upsert")
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO session_archives
			(conversation_id, user_id, payload, total_tokens, archived_at_ms)
			VALUES (?, ?, ?, ?, ?)`,
		rec.ConversationID, rec.UserID, string(rec.Payload), rec.TotalTokens, rec.ArchivedAt.UnixMilli(),
	)
	if err != nil {
		return errors.Wrap(err, "cold store: upsert archive")
	}

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO session_archive_index
			(conversation_id, user_id, summary, message_count, total_tokens,
			 started_at_ms, last_active_at_ms, archived_at_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		idx.ConversationID, idx.UserID, idx.Summary, idx.MessageCount, idx.TotalTokens,
		idx.StartedAt.UnixMilli(), idx.LastActiveAt.UnixMilli(), idx.ArchivedAt.UnixMilli(),
	)
	if err != nil {
		return errors.Wrap(err, "cold store: upsert archive index")
	}

	return errors.Wrap(tx.Commit(), "cold store: commit upsert")
}

// GetArchive returns the full record, or nil if the conversation was never
// archived.
func (s *SQLiteStore) GetArchive(ctx context.Context, conversationID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT conversation_id, user_id, payload, total_tokens, archived_at_ms
			FROM session_archives WHERE conversation_id = ?`,
		conversationID,
	)
	var rec Record
	var payload string
	var archivedAtMs int64
	err := row.Scan(&rec.ConversationID, &rec.UserID, &payload, &rec.TotalTokens, &archivedAtMs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "cold store: get archive")
	}
	rec.Payload = []byte(payload)
	rec.ArchivedAt = time.UnixMilli(archivedAtMs)
	return &rec, nil
}

// GetIndexEntry returns the listing row, or nil if absent.
func (s *SQLiteStore) GetIndexEntry(ctx context.Context, conversationID string) (*IndexEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT conversation_id, user_id, summary, message_count, total_tokens,
			started_at_ms, last_active_at_ms, archived_at_ms
			FROM session_archive_index WHERE conversation_id = ?`,
		conversationID,
	)
	entry, err := scanIndexEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "cold store: get index entry")
	}
	return entry, nil
}

// DeleteArchive removes both the full record and the index row in one
// transaction. Deleting an absent conversation is a no-op.
func (s *SQLiteStore) DeleteArchive(ctx context.Context, conversationID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "cold store: begin delete")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM session_archives WHERE conversation_id = ?`, conversationID); err != nil {
		return errors.Wrap(err, "cold store: delete archive")
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM session_archive_index WHERE conversation_id = ?`, conversationID); err != nil {
		return errors.Wrap(err, "cold store: delete archive index")
	}
	return errors.Wrap(tx.Commit(), "cold store: commit delete")
}

// ListIndexByUser pages through a user's archived conversations, most
// recently active first. Page numbering starts at 1.
func (s *SQLiteStore) ListIndexByUser(ctx context.Context, userID string, page, size int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	out := Page{Page: page, Size: size}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM session_archive_index WHERE user_id = ?`, userID,
	).Scan(&out.Total)
	if err != nil {
		return out, errors.Wrap(err, "cold store: count index")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id, user_id, summary, message_count, total_tokens,
			started_at_ms, last_active_at_ms, archived_at_ms
			FROM session_archive_index
			WHERE user_id = ?
			ORDER BY last_active_at_ms DESC
			LIMIT ? OFFSET ?`,
		userID, size, (page-1)*size,
	)
	if err != nil {
		return out, errors.Wrap(err, "cold store: list index")
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		entry, err := scanIndexEntry(rows)
		if err != nil {
			return out, errors.Wrap(err, "cold store: scan index row")
		}
		out.Items = append(out.Items, *entry)
	}
	return out, errors.Wrap(rows.Err(), "cold store: iterate index rows")
}

// CountByIDs returns how many of the given conversation ids have a cold
// record. Used by the consistency checker.
func (s *SQLiteStore) CountByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := `SELECT COUNT(1) FROM session_archives WHERE conversation_id IN (` + placeholders(len(ids)) + `)`
	var n int64
	err := s.db.QueryRowContext(ctx, query, idArgs(ids)...).Scan(&n)
	return n, errors.Wrap(err, "cold store: count by ids")
}

// SelectByIDs returns the subset of the given ids that have a cold record.
func (s *SQLiteStore) SelectByIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT conversation_id FROM session_archives WHERE conversation_id IN (` + placeholders(len(ids)) + `)`
	rows, err := s.db.QueryContext(ctx, query, idArgs(ids)...)
	if err != nil {
		return nil, errors.Wrap(err, "cold store: select by ids")
	}
	defer func() { _ = rows.Close() }()

	var hits []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "cold store: scan id")
		}
		hits = append(hits, id)
	}
	return hits, errors.Wrap(rows.Err(), "cold store: iterate ids")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIndexEntry(row rowScanner) (*IndexEntry, error) {
	var e IndexEntry
	var startedMs, lastActiveMs, archivedMs int64
	err := row.Scan(&e.ConversationID, &e.UserID, &e.Summary, &e.MessageCount, &e.TotalTokens,
		&startedMs, &lastActiveMs, &archivedMs)
	if err != nil {
		return nil, err
	}
	e.StartedAt = time.UnixMilli(startedMs)
	e.LastActiveAt = time.UnixMilli(lastActiveMs)
	e.ArchivedAt = time.UnixMilli(archivedMs)
	return &e, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func idArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
