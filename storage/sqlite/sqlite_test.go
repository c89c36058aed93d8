package sqlite

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/youssefsiam38/chatctx/storage"
	"github.com/youssefsiam38/chatctx/storage/storagetest"
)

func testStamp() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func TestContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		store, err := Open(Config{
			Path:   filepath.Join(t.TempDir(), "chatctx.db"),
			Logger: slog.New(slog.DiscardHandler),
		})
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		t.Cleanup(func() {
			if err := store.Close(); err != nil {
				t.Errorf("Close failed: %v", err)
			}
		})
		return store
	})
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Fatal("Open with empty path succeeded, want error")
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatctx.db")
	logger := slog.New(slog.DiscardHandler)

	store, err := Open(Config{Path: path, Logger: logger})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	ctx := t.Context()
	if err := store.CreateThread(ctx, "t-1", testStamp(), nil); err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	msg := storage.NewTextMessage("t-1", storage.RoleUser, "survives restart")
	msg.ID = "m-1"
	msg.CreatedAt = testStamp()
	if err := store.AppendMessage(ctx, msg); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(Config{Path: path, Logger: logger})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	messages, err := reopened.AllMessages(ctx, "t-1")
	if err != nil {
		t.Fatalf("AllMessages after reopen failed: %v", err)
	}
	if len(messages) != 1 || messages[0].TextContent() != "survives restart" {
		t.Fatalf("got %d messages after reopen, want the original one", len(messages))
	}
}
