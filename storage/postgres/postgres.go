// Package postgres provides the remote hosted Store implementation,
// backed by PostgreSQL via pgx/v5.
//
// The store owns no global connection state; all operations go through
// the pgxpool handed to New (or created by Open). Appends run in a
// transaction so the message insert and the thread's last_active_at
// update commit together.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/youssefsiam38/chatctx/storage"
)

// PostgreSQL error codes used to map constraint violations onto the
// storage sentinel errors.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

const schema = `
CREATE TABLE IF NOT EXISTS chatctx_threads (
	thread_id      TEXT PRIMARY KEY,
	created_at     TIMESTAMPTZ NOT NULL,
	last_active_at TIMESTAMPTZ NOT NULL,
	metadata       JSONB
);

CREATE TABLE IF NOT EXISTS chatctx_messages (
	seq        BIGSERIAL PRIMARY KEY,
	message_id TEXT NOT NULL UNIQUE,
	thread_id  TEXT NOT NULL REFERENCES chatctx_threads(thread_id),
	role       TEXT NOT NULL,
	content    JSONB NOT NULL,
	metadata   JSONB,
	is_summary BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chatctx_messages_thread_created
	ON chatctx_messages (thread_id, created_at, seq);

CREATE INDEX IF NOT EXISTS idx_chatctx_messages_thread_summary
	ON chatctx_messages (thread_id, created_at) WHERE is_summary;
`

// Store is the PostgreSQL implementation of storage.Store.
// Safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	logger   *slog.Logger
	ownsPool bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New wraps an existing pgx pool. The caller keeps ownership of the
// pool; Close on the returned store is a no-op for the pool itself.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to the database, ensures the schema exists, and returns
// a store that owns its pool. The caller must call Close.
func Open(ctx context.Context, connString string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("postgres store: connect: %w", err)
	}

	s := New(pool, opts...)
	s.ownsPool = true

	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s.logger.Info("postgres store opened")
	return s, nil
}

// EnsureSchema creates the chatctx tables and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres store: creating schema: %w", err)
	}
	return nil
}

// Close releases the pool if this store created it.
func (s *Store) Close() error {
	if s.ownsPool {
		s.pool.Close()
	}
	return nil
}

// CreateThread creates a new thread.
func (s *Store) CreateThread(ctx context.Context, threadID string, createdAt time.Time, metadata map[string]any) error {
	if threadID == "" {
		return fmt.Errorf("postgres store: create thread: thread_id is required")
	}

	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("postgres store: marshal thread metadata: %w", err)
	}

	query := `
		INSERT INTO chatctx_threads (thread_id, created_at, last_active_at, metadata)
		VALUES ($1, $2, $2, $3)
	`
	_, err = s.pool.Exec(ctx, query, threadID, createdAt.UTC(), metadataJSON)
	if err != nil {
		if pgErrCode(err) == pgUniqueViolation {
			return fmt.Errorf("postgres store: create thread %s: %w", threadID, storage.ErrThreadExists)
		}
		return fmt.Errorf("postgres store: create thread %s: %w", threadID, err)
	}
	return nil
}

// ThreadInfo returns the thread record.
func (s *Store) ThreadInfo(ctx context.Context, threadID string) (*storage.Thread, error) {
	query := `
		SELECT thread_id, created_at, last_active_at, metadata
		FROM chatctx_threads
		WHERE thread_id = $1
	`

	var thread storage.Thread
	var metadataJSON []byte

	row := s.pool.QueryRow(ctx, query, threadID)
	err := row.Scan(&thread.ID, &thread.CreatedAt, &thread.LastActiveAt, &metadataJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres store: thread %s: %w", threadID, storage.ErrThreadNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get thread %s: %w", threadID, err)
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &thread.Metadata); err != nil {
			return nil, fmt.Errorf("postgres store: unmarshal metadata for thread %s: %w", threadID, err)
		}
	}

	thread.CreatedAt = thread.CreatedAt.UTC()
	thread.LastActiveAt = thread.LastActiveAt.UTC()
	return &thread, nil
}

// UpdateThreadMetadata replaces the thread's metadata.
func (s *Store) UpdateThreadMetadata(ctx context.Context, threadID string, metadata map[string]any) error {
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("postgres store: marshal thread metadata: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `UPDATE chatctx_threads SET metadata = $1 WHERE thread_id = $2`, metadataJSON, threadID)
	if err != nil {
		return fmt.Errorf("postgres store: update thread %s: %w", threadID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: update thread %s: %w", threadID, storage.ErrThreadNotFound)
	}
	return nil
}

// AppendMessage inserts one message and bumps the thread's last_active_at
// in a single transaction.
func (s *Store) AppendMessage(ctx context.Context, msg *storage.Message) error {
	if msg == nil || msg.ID == "" || msg.ThreadID == "" {
		return fmt.Errorf("postgres store: append message: %w: id and thread_id are required", storage.ErrInvalidMessage)
	}

	contentJSON, err := json.Marshal(msg.Content)
	if err != nil {
		return fmt.Errorf("postgres store: marshal message content: %w", err)
	}
	metadataJSON, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("postgres store: marshal message metadata: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: begin append transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	insert := `
		INSERT INTO chatctx_messages (message_id, thread_id, role, content, metadata, is_summary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = tx.Exec(ctx, insert,
		msg.ID, msg.ThreadID, string(msg.Role), contentJSON, metadataJSON, msg.IsSummary, msg.CreatedAt.UTC())
	if err != nil {
		switch pgErrCode(err) {
		case pgUniqueViolation:
			return fmt.Errorf("postgres store: append message %s: %w", msg.ID, storage.ErrDuplicateMessage)
		case pgForeignKeyViolation:
			return fmt.Errorf("postgres store: append message to thread %s: %w", msg.ThreadID, storage.ErrThreadNotFound)
		}
		return fmt.Errorf("postgres store: append message %s: %w", msg.ID, err)
	}

	_, err = tx.Exec(ctx, `UPDATE chatctx_threads SET last_active_at = $1 WHERE thread_id = $2`,
		msg.CreatedAt.UTC(), msg.ThreadID)
	if err != nil {
		return fmt.Errorf("postgres store: update last_active_at for thread %s: %w", msg.ThreadID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: commit append for message %s: %w", msg.ID, err)
	}
	return nil
}

// AllMessages returns every message for the thread, ascending.
func (s *Store) AllMessages(ctx context.Context, threadID string) ([]*storage.Message, error) {
	query := `
		SELECT message_id, thread_id, role, content, metadata, is_summary, created_at
		FROM chatctx_messages
		WHERE thread_id = $1
		ORDER BY created_at, seq
	`
	return s.queryMessages(ctx, threadID, query, threadID)
}

// MessagesAfter returns messages strictly after the given time, ascending.
func (s *Store) MessagesAfter(ctx context.Context, threadID string, after time.Time) ([]*storage.Message, error) {
	query := `
		SELECT message_id, thread_id, role, content, metadata, is_summary, created_at
		FROM chatctx_messages
		WHERE thread_id = $1 AND created_at > $2
		ORDER BY created_at, seq
	`
	return s.queryMessages(ctx, threadID, query, threadID, after.UTC())
}

func (s *Store) queryMessages(ctx context.Context, threadID, query string, args ...any) ([]*storage.Message, error) {
	if _, err := s.ThreadInfo(ctx, threadID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: query messages for thread %s: %w", threadID, err)
	}
	defer rows.Close()

	var messages []*storage.Message
	for rows.Next() {
		var msg storage.Message
		var contentJSON, metadataJSON []byte

		err := rows.Scan(&msg.ID, &msg.ThreadID, &msg.Role, &contentJSON, &metadataJSON, &msg.IsSummary, &msg.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("postgres store: scan message: %w", err)
		}

		if err := json.Unmarshal(contentJSON, &msg.Content); err != nil {
			return nil, fmt.Errorf("postgres store: unmarshal content for message %s: %w", msg.ID, err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &msg.Metadata); err != nil {
				return nil, fmt.Errorf("postgres store: unmarshal metadata for message %s: %w", msg.ID, err)
			}
		}

		msg.CreatedAt = msg.CreatedAt.UTC()
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: iterating messages for thread %s: %w", threadID, err)
	}
	return messages, nil
}

// LastSummaryTime returns the timestamp of the most recent summary message.
func (s *Store) LastSummaryTime(ctx context.Context, threadID string) (time.Time, bool, error) {
	if _, err := s.ThreadInfo(ctx, threadID); err != nil {
		return time.Time{}, false, err
	}

	query := `
		SELECT created_at
		FROM chatctx_messages
		WHERE thread_id = $1 AND is_summary
		ORDER BY created_at DESC, seq DESC
		LIMIT 1
	`

	var stamp time.Time
	err := s.pool.QueryRow(ctx, query, threadID).Scan(&stamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("postgres store: last summary time for thread %s: %w", threadID, err)
	}
	return stamp.UTC(), true, nil
}

func pgErrCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
