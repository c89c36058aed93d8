package chatctx

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/youssefsiam38/chatctx/storage"
	"github.com/youssefsiam38/chatctx/storage/memory"
	"github.com/youssefsiam38/chatctx/storage/postgres"
	"github.com/youssefsiam38/chatctx/storage/sqlite"
)

// Backend identifies a message store implementation.
type Backend string

const (
	// BackendMemory is the in-memory reference store (no durability)
	BackendMemory Backend = "memory"

	// BackendSQLite is the local embedded SQLite store
	BackendSQLite Backend = "sqlite"

	// BackendPostgres is the remote PostgreSQL store
	BackendPostgres Backend = "postgres"
)

// StoreConfig selects and configures a message store backend. The
// choice is invisible to the Manager: every backend satisfies the same
// contract.
type StoreConfig struct {
	// Backend selects the implementation. Default: BackendMemory.
	Backend Backend

	// SQLitePath is the database file path (BackendSQLite only).
	SQLitePath string

	// PostgresURL is the connection string (BackendPostgres only).
	PostgresURL string

	// Logger receives operational messages from the store.
	Logger *slog.Logger
}

// OpenStore opens the message store selected by cfg. The caller owns
// the returned store and must call Close.
func OpenStore(ctx context.Context, cfg StoreConfig) (storage.Store, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = BackendMemory
	}

	switch backend {
	case BackendMemory:
		return memory.New(), nil
	case BackendSQLite:
		return sqlite.Open(sqlite.Config{
			Path:   cfg.SQLitePath,
			Logger: cfg.Logger,
		})
	case BackendPostgres:
		opts := []postgres.Option{}
		if cfg.Logger != nil {
			opts = append(opts, postgres.WithLogger(cfg.Logger))
		}
		return postgres.Open(ctx, cfg.PostgresURL, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
