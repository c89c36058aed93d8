// Package sqlite provides the local embedded Store implementation,
// backed by a SQLite database file.
//
// Connections come from a fixed-size pool rather than any per-goroutine
// or process-global handle; each operation borrows a connection and
// returns it when done. Appends run inside an IMMEDIATE transaction so
// the message insert and the thread's last_active_at update commit
// together, and concurrent appends to one thread serialize on the
// single SQLite writer.
//
// Timestamps are stored as unix microseconds, the finest precision all
// chatctx backends round-trip.
package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/youssefsiam38/chatctx/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS chatctx_threads (
	thread_id      TEXT PRIMARY KEY,
	created_at     INTEGER NOT NULL,
	last_active_at INTEGER NOT NULL,
	metadata       TEXT NOT NULL DEFAULT 'null'
);

CREATE TABLE IF NOT EXISTS chatctx_messages (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id TEXT NOT NULL UNIQUE,
	thread_id  TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	metadata   TEXT NOT NULL DEFAULT 'null',
	is_summary INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chatctx_messages_thread_created
	ON chatctx_messages (thread_id, created_at, seq);

CREATE INDEX IF NOT EXISTS idx_chatctx_messages_thread_summary
	ON chatctx_messages (thread_id, created_at) WHERE is_summary = 1;
`

// Config holds the parameters for opening a SQLite store.
type Config struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist; the file is created if it does not.
	Path string

	// PoolSize is the number of connections in the pool. If zero or
	// negative, defaults to max(runtime.NumCPU(), 4). SQLite serializes
	// writes regardless of pool size; extra connections help readers.
	PoolSize int

	// Logger receives operational messages. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Store is the embedded SQLite implementation of storage.Store.
// Safe for concurrent use; individual connections are not shared.
type Store struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// Open opens the database file, applies pragmas, and ensures the schema
// exists. The caller must call Close when the store is no longer needed.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite store: Path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
		if poolSize < 4 {
			poolSize = 4
		}
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: opening %s: %w", cfg.Path, err)
	}

	store := &Store{pool: pool, logger: logger, path: cfg.Path}

	// Create the schema eagerly so the first real operation does not
	// race schema creation across connections.
	conn, err := pool.Take(context.Background())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("sqlite store: %w", err)
	}
	defer pool.Put(conn)
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sqlite store: creating schema: %w", err)
	}

	logger.Info("sqlite store opened", "path", cfg.Path, "pool_size", poolSize)
	return store, nil
}

func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

// Close closes all connections in the pool.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("sqlite store: closing %s: %w", s.path, err)
	}
	return nil
}

// CreateThread creates a new thread.
func (s *Store) CreateThread(ctx context.Context, threadID string, createdAt time.Time, metadata map[string]any) error {
	if threadID == "" {
		return fmt.Errorf("sqlite store: create thread: thread_id is required")
	}

	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("sqlite store: marshal thread metadata: %w", err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite store: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO chatctx_threads (thread_id, created_at, last_active_at, metadata)
		VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{threadID, createdAt.UTC().UnixMicro(), createdAt.UTC().UnixMicro(), string(metadataJSON)},
		})
	if err != nil {
		if sqlite.ErrCode(err) == sqlite.ResultConstraintPrimaryKey {
			return fmt.Errorf("sqlite store: create thread %s: %w", threadID, storage.ErrThreadExists)
		}
		return fmt.Errorf("sqlite store: create thread %s: %w", threadID, err)
	}
	return nil
}

// ThreadInfo returns the thread record.
func (s *Store) ThreadInfo(ctx context.Context, threadID string) (*storage.Thread, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: %w", err)
	}
	defer s.pool.Put(conn)

	return threadInfo(conn, threadID)
}

func threadInfo(conn *sqlite.Conn, threadID string) (*storage.Thread, error) {
	var thread *storage.Thread
	var scanErr error

	err := sqlitex.Execute(conn, `
		SELECT thread_id, created_at, last_active_at, metadata
		FROM chatctx_threads WHERE thread_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{threadID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				t := &storage.Thread{
					ID:           stmt.ColumnText(0),
					CreatedAt:    time.UnixMicro(stmt.ColumnInt64(1)).UTC(),
					LastActiveAt: time.UnixMicro(stmt.ColumnInt64(2)).UTC(),
				}
				if raw := stmt.ColumnText(3); raw != "" {
					if err := json.Unmarshal([]byte(raw), &t.Metadata); err != nil {
						scanErr = fmt.Errorf("unmarshal thread metadata: %w", err)
						return nil
					}
				}
				thread = t
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: get thread %s: %w", threadID, err)
	}
	if scanErr != nil {
		return nil, fmt.Errorf("sqlite store: get thread %s: %w", threadID, scanErr)
	}
	if thread == nil {
		return nil, fmt.Errorf("sqlite store: thread %s: %w", threadID, storage.ErrThreadNotFound)
	}
	return thread, nil
}

// UpdateThreadMetadata replaces the thread's metadata.
func (s *Store) UpdateThreadMetadata(ctx context.Context, threadID string, metadata map[string]any) error {
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("sqlite store: marshal thread metadata: %w", err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite store: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		UPDATE chatctx_threads SET metadata = ? WHERE thread_id = ?`,
		&sqlitex.ExecOptions{Args: []any{string(metadataJSON), threadID}})
	if err != nil {
		return fmt.Errorf("sqlite store: update thread %s: %w", threadID, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("sqlite store: update thread %s: %w", threadID, storage.ErrThreadNotFound)
	}
	return nil
}

// AppendMessage inserts one message and bumps the thread's last_active_at
// in a single transaction.
func (s *Store) AppendMessage(ctx context.Context, msg *storage.Message) error {
	if msg == nil || msg.ID == "" || msg.ThreadID == "" {
		return fmt.Errorf("sqlite store: append message: %w: id and thread_id are required", storage.ErrInvalidMessage)
	}

	contentJSON, err := json.Marshal(msg.Content)
	if err != nil {
		return fmt.Errorf("sqlite store: marshal message content: %w", err)
	}
	metadataJSON, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("sqlite store: marshal message metadata: %w", err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite store: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("sqlite store: begin append transaction: %w", err)
	}
	defer endTransaction(&err)

	if _, err = threadInfo(conn, msg.ThreadID); err != nil {
		return err
	}

	isSummary := 0
	if msg.IsSummary {
		isSummary = 1
	}

	err = sqlitex.Execute(conn, `
		INSERT INTO chatctx_messages (message_id, thread_id, role, content, metadata, is_summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				msg.ID, msg.ThreadID, string(msg.Role), string(contentJSON),
				string(metadataJSON), isSummary, msg.CreatedAt.UTC().UnixMicro(),
			},
		})
	if err != nil {
		if sqlite.ErrCode(err) == sqlite.ResultConstraintUnique {
			err = fmt.Errorf("sqlite store: append message %s: %w", msg.ID, storage.ErrDuplicateMessage)
			return err
		}
		err = fmt.Errorf("sqlite store: append message %s: %w", msg.ID, err)
		return err
	}

	err = sqlitex.Execute(conn, `
		UPDATE chatctx_threads SET last_active_at = ? WHERE thread_id = ?`,
		&sqlitex.ExecOptions{Args: []any{msg.CreatedAt.UTC().UnixMicro(), msg.ThreadID}})
	if err != nil {
		err = fmt.Errorf("sqlite store: update last_active_at for thread %s: %w", msg.ThreadID, err)
		return err
	}

	return nil
}

// AllMessages returns every message for the thread, ascending.
func (s *Store) AllMessages(ctx context.Context, threadID string) ([]*storage.Message, error) {
	return s.queryMessages(ctx, threadID, `
		SELECT message_id, thread_id, role, content, metadata, is_summary, created_at
		FROM chatctx_messages
		WHERE thread_id = ?
		ORDER BY created_at, seq`,
		[]any{threadID})
}

// MessagesAfter returns messages strictly after the given time, ascending.
func (s *Store) MessagesAfter(ctx context.Context, threadID string, after time.Time) ([]*storage.Message, error) {
	return s.queryMessages(ctx, threadID, `
		SELECT message_id, thread_id, role, content, metadata, is_summary, created_at
		FROM chatctx_messages
		WHERE thread_id = ? AND created_at > ?
		ORDER BY created_at, seq`,
		[]any{threadID, after.UTC().UnixMicro()})
}

func (s *Store) queryMessages(ctx context.Context, threadID, query string, args []any) ([]*storage.Message, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: %w", err)
	}
	defer s.pool.Put(conn)

	if _, err := threadInfo(conn, threadID); err != nil {
		return nil, err
	}

	var messages []*storage.Message
	var scanErr error

	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			msg := &storage.Message{
				ID:        stmt.ColumnText(0),
				ThreadID:  stmt.ColumnText(1),
				Role:      storage.Role(stmt.ColumnText(2)),
				IsSummary: stmt.ColumnInt64(5) != 0,
				CreatedAt: time.UnixMicro(stmt.ColumnInt64(6)).UTC(),
			}
			if err := json.Unmarshal([]byte(stmt.ColumnText(3)), &msg.Content); err != nil {
				scanErr = fmt.Errorf("unmarshal content for message %s: %w", msg.ID, err)
				return nil
			}
			if raw := stmt.ColumnText(4); raw != "" {
				if err := json.Unmarshal([]byte(raw), &msg.Metadata); err != nil {
					scanErr = fmt.Errorf("unmarshal metadata for message %s: %w", msg.ID, err)
					return nil
				}
			}
			messages = append(messages, msg)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: query messages for thread %s: %w", threadID, err)
	}
	if scanErr != nil {
		return nil, fmt.Errorf("sqlite store: %w", scanErr)
	}
	return messages, nil
}

// LastSummaryTime returns the timestamp of the most recent summary message.
func (s *Store) LastSummaryTime(ctx context.Context, threadID string) (time.Time, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("sqlite store: %w", err)
	}
	defer s.pool.Put(conn)

	if _, err := threadInfo(conn, threadID); err != nil {
		return time.Time{}, false, err
	}

	var stamp time.Time
	var found bool

	err = sqlitex.Execute(conn, `
		SELECT created_at FROM chatctx_messages
		WHERE thread_id = ? AND is_summary = 1
		ORDER BY created_at DESC, seq DESC
		LIMIT 1`,
		&sqlitex.ExecOptions{
			Args: []any{threadID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				stamp = time.UnixMicro(stmt.ColumnInt64(0)).UTC()
				found = true
				return nil
			},
		})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("sqlite store: last summary time for thread %s: %w", threadID, err)
	}
	return stamp, found, nil
}
