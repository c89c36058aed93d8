// Package storagetest provides the shared contract test suite for
// storage.Store implementations.
//
// Every implementation runs the same suite so that callers can swap
// stores with no behavior change. Timestamps in the suite use
// microsecond granularity, the finest precision all backends round-trip.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/youssefsiam38/chatctx/storage"
)

// Factory creates a fresh, empty store for one test. Cleanup is the
// caller's responsibility via t.Cleanup.
type Factory func(t *testing.T) storage.Store

// Run executes the full storage contract suite against the given factory.
func Run(t *testing.T, factory Factory) {
	t.Run("ThreadLifecycle", func(t *testing.T) { testThreadLifecycle(t, factory) })
	t.Run("DuplicateThread", func(t *testing.T) { testDuplicateThread(t, factory) })
	t.Run("AppendAndReadBack", func(t *testing.T) { testAppendAndReadBack(t, factory) })
	t.Run("AppendUpdatesLastActive", func(t *testing.T) { testAppendUpdatesLastActive(t, factory) })
	t.Run("AppendDuplicateID", func(t *testing.T) { testAppendDuplicateID(t, factory) })
	t.Run("AppendToMissingThread", func(t *testing.T) { testAppendToMissingThread(t, factory) })
	t.Run("TimestampTiesKeepInsertionOrder", func(t *testing.T) { testTimestampTies(t, factory) })
	t.Run("MessagesAfterIsExclusive", func(t *testing.T) { testMessagesAfterExclusive(t, factory) })
	t.Run("LastSummaryTime", func(t *testing.T) { testLastSummaryTime(t, factory) })
	t.Run("UpdateThreadMetadata", func(t *testing.T) { testUpdateThreadMetadata(t, factory) })
	t.Run("StructuredContentRoundTrip", func(t *testing.T) { testStructuredContent(t, factory) })
	t.Run("ConcurrentAppendsStayOrdered", func(t *testing.T) { testConcurrentAppends(t, factory) })
}

// baseTime is an arbitrary fixed instant; all suite timestamps derive
// from it at microsecond granularity.
var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func at(offset time.Duration) time.Time {
	return baseTime.Add(offset)
}

func mustCreateThread(t *testing.T, store storage.Store, threadID string) {
	t.Helper()
	if err := store.CreateThread(context.Background(), threadID, baseTime, nil); err != nil {
		t.Fatalf("CreateThread(%s) failed: %v", threadID, err)
	}
}

func mustAppend(t *testing.T, store storage.Store, msg *storage.Message) {
	t.Helper()
	if err := store.AppendMessage(context.Background(), msg); err != nil {
		t.Fatalf("AppendMessage(%s) failed: %v", msg.ID, err)
	}
}

func textMsg(threadID, id string, role storage.Role, text string, createdAt time.Time) *storage.Message {
	msg := storage.NewTextMessage(threadID, role, text)
	msg.ID = id
	msg.CreatedAt = createdAt
	return msg
}

func testThreadLifecycle(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()

	if _, err := store.ThreadInfo(ctx, "missing"); !errors.Is(err, storage.ErrThreadNotFound) {
		t.Fatalf("ThreadInfo on missing thread: got %v, want ErrThreadNotFound", err)
	}

	metadata := map[string]any{"channel": "dm", "user": "u-1"}
	if err := store.CreateThread(ctx, "t-1", baseTime, metadata); err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	thread, err := store.ThreadInfo(ctx, "t-1")
	if err != nil {
		t.Fatalf("ThreadInfo failed: %v", err)
	}
	if thread.ID != "t-1" {
		t.Errorf("thread ID = %q, want %q", thread.ID, "t-1")
	}
	if !thread.CreatedAt.Equal(baseTime) {
		t.Errorf("CreatedAt = %v, want %v", thread.CreatedAt, baseTime)
	}
	if !thread.LastActiveAt.Equal(baseTime) {
		t.Errorf("LastActiveAt = %v, want %v", thread.LastActiveAt, baseTime)
	}
	if got := thread.Metadata["channel"]; got != "dm" {
		t.Errorf("metadata channel = %v, want dm", got)
	}
}

func testDuplicateThread(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()

	mustCreateThread(t, store, "t-1")
	if err := store.CreateThread(ctx, "t-1", baseTime, nil); !errors.Is(err, storage.ErrThreadExists) {
		t.Fatalf("duplicate CreateThread: got %v, want ErrThreadExists", err)
	}
}

func testAppendAndReadBack(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	mustCreateThread(t, store, "t-1")

	want := []*storage.Message{
		textMsg("t-1", "m-1", storage.RoleUser, "hello", at(1*time.Second)),
		textMsg("t-1", "m-2", storage.RoleAssistant, "hi there", at(2*time.Second)),
		textMsg("t-1", "m-3", storage.RoleUser, "how are you?", at(3*time.Second)),
	}
	for _, msg := range want {
		mustAppend(t, store, msg)
	}

	got, err := store.AllMessages(ctx, "t-1")
	if err != nil {
		t.Fatalf("AllMessages failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("AllMessages returned %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i].ID {
			t.Errorf("message[%d].ID = %q, want %q", i, got[i].ID, want[i].ID)
		}
		if got[i].Role != want[i].Role {
			t.Errorf("message[%d].Role = %q, want %q", i, got[i].Role, want[i].Role)
		}
		if got[i].TextContent() != want[i].TextContent() {
			t.Errorf("message[%d] text = %q, want %q", i, got[i].TextContent(), want[i].TextContent())
		}
		if !got[i].CreatedAt.Equal(want[i].CreatedAt) {
			t.Errorf("message[%d].CreatedAt = %v, want %v", i, got[i].CreatedAt, want[i].CreatedAt)
		}
		if got[i].IsSummary {
			t.Errorf("message[%d].IsSummary = true, want false", i)
		}
	}
}

func testAppendUpdatesLastActive(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	mustCreateThread(t, store, "t-1")

	stamp := at(90 * time.Second)
	mustAppend(t, store, textMsg("t-1", "m-1", storage.RoleUser, "ping", stamp))

	thread, err := store.ThreadInfo(ctx, "t-1")
	if err != nil {
		t.Fatalf("ThreadInfo failed: %v", err)
	}
	if !thread.LastActiveAt.Equal(stamp) {
		t.Errorf("LastActiveAt = %v, want %v", thread.LastActiveAt, stamp)
	}
}

func testAppendDuplicateID(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	mustCreateThread(t, store, "t-1")

	mustAppend(t, store, textMsg("t-1", "m-1", storage.RoleUser, "first", at(time.Second)))
	err := store.AppendMessage(ctx, textMsg("t-1", "m-1", storage.RoleUser, "second", at(2*time.Second)))
	if !errors.Is(err, storage.ErrDuplicateMessage) {
		t.Fatalf("duplicate append: got %v, want ErrDuplicateMessage", err)
	}

	// The failed append must not have changed the history.
	got, err := store.AllMessages(ctx, "t-1")
	if err != nil {
		t.Fatalf("AllMessages failed: %v", err)
	}
	if len(got) != 1 || got[0].TextContent() != "first" {
		t.Errorf("history after failed append = %d messages, want the original single message", len(got))
	}
}

func testAppendToMissingThread(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()

	err := store.AppendMessage(ctx, textMsg("nope", "m-1", storage.RoleUser, "hi", baseTime))
	if !errors.Is(err, storage.ErrThreadNotFound) {
		t.Fatalf("append to missing thread: got %v, want ErrThreadNotFound", err)
	}

	// Reads on a missing thread fail too; callers must be able to tell
	// "no such thread" apart from "empty thread".
	if _, err := store.AllMessages(ctx, "nope"); !errors.Is(err, storage.ErrThreadNotFound) {
		t.Errorf("AllMessages on missing thread: got %v, want ErrThreadNotFound", err)
	}
	if _, err := store.MessagesAfter(ctx, "nope", baseTime); !errors.Is(err, storage.ErrThreadNotFound) {
		t.Errorf("MessagesAfter on missing thread: got %v, want ErrThreadNotFound", err)
	}
	if _, _, err := store.LastSummaryTime(ctx, "nope"); !errors.Is(err, storage.ErrThreadNotFound) {
		t.Errorf("LastSummaryTime on missing thread: got %v, want ErrThreadNotFound", err)
	}
}

func testTimestampTies(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	mustCreateThread(t, store, "t-1")

	stamp := at(time.Second)
	mustAppend(t, store, textMsg("t-1", "m-1", storage.RoleUser, "first", stamp))
	mustAppend(t, store, textMsg("t-1", "m-2", storage.RoleAssistant, "second", stamp))
	mustAppend(t, store, textMsg("t-1", "m-3", storage.RoleUser, "third", stamp))

	got, err := store.AllMessages(ctx, "t-1")
	if err != nil {
		t.Fatalf("AllMessages failed: %v", err)
	}
	wantIDs := []string{"m-1", "m-2", "m-3"}
	if len(got) != len(wantIDs) {
		t.Fatalf("got %d messages, want %d", len(got), len(wantIDs))
	}
	for i, id := range wantIDs {
		if got[i].ID != id {
			t.Errorf("tied messages out of insertion order: position %d is %q, want %q", i, got[i].ID, id)
		}
	}
}

func testMessagesAfterExclusive(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	mustCreateThread(t, store, "t-1")

	cut := at(2 * time.Second)
	mustAppend(t, store, textMsg("t-1", "m-1", storage.RoleUser, "before", at(time.Second)))
	mustAppend(t, store, textMsg("t-1", "m-2", storage.RoleAssistant, "boundary", cut))
	mustAppend(t, store, textMsg("t-1", "m-3", storage.RoleUser, "after", at(3*time.Second)))

	got, err := store.MessagesAfter(ctx, "t-1", cut)
	if err != nil {
		t.Fatalf("MessagesAfter failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "m-3" {
		t.Fatalf("MessagesAfter returned %d messages, want exactly m-3 (boundary must be excluded)", len(got))
	}
}

func testLastSummaryTime(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	mustCreateThread(t, store, "t-1")

	if _, ok, err := store.LastSummaryTime(ctx, "t-1"); err != nil || ok {
		t.Fatalf("LastSummaryTime on fresh thread = ok=%v err=%v, want none", ok, err)
	}

	mustAppend(t, store, textMsg("t-1", "m-1", storage.RoleUser, "hello", at(time.Second)))

	first := textMsg("t-1", "s-1", storage.RoleAssistant, "summary one", at(2*time.Second))
	first.IsSummary = true
	mustAppend(t, store, first)

	mustAppend(t, store, textMsg("t-1", "m-2", storage.RoleUser, "more", at(3*time.Second)))

	second := textMsg("t-1", "s-2", storage.RoleAssistant, "summary two", at(4*time.Second))
	second.IsSummary = true
	mustAppend(t, store, second)

	mustAppend(t, store, textMsg("t-1", "m-3", storage.RoleUser, "latest", at(5*time.Second)))

	stamp, ok, err := store.LastSummaryTime(ctx, "t-1")
	if err != nil {
		t.Fatalf("LastSummaryTime failed: %v", err)
	}
	if !ok {
		t.Fatal("LastSummaryTime = none, want the second summary")
	}
	if !stamp.Equal(second.CreatedAt) {
		t.Errorf("LastSummaryTime = %v, want %v (most recent summary wins)", stamp, second.CreatedAt)
	}
}

func testUpdateThreadMetadata(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	mustCreateThread(t, store, "t-1")

	if err := store.UpdateThreadMetadata(ctx, "t-1", map[string]any{"group_name": "oncall"}); err != nil {
		t.Fatalf("UpdateThreadMetadata failed: %v", err)
	}
	thread, err := store.ThreadInfo(ctx, "t-1")
	if err != nil {
		t.Fatalf("ThreadInfo failed: %v", err)
	}
	if got := thread.Metadata["group_name"]; got != "oncall" {
		t.Errorf("metadata group_name = %v, want oncall", got)
	}

	if err := store.UpdateThreadMetadata(ctx, "missing", nil); !errors.Is(err, storage.ErrThreadNotFound) {
		t.Errorf("UpdateThreadMetadata on missing thread: got %v, want ErrThreadNotFound", err)
	}
}

func testStructuredContent(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	mustCreateThread(t, store, "t-1")

	msg := &storage.Message{
		ID:       "m-1",
		ThreadID: "t-1",
		Role:     storage.RoleUser,
		Content: []storage.ContentBlock{
			{Type: storage.ContentTypeText, Text: "see attachment"},
			{
				Type: storage.ContentTypeImage,
				Source: &storage.MediaSource{
					Type:      "base64",
					MediaType: "image/png",
					Data:      "aGVsbG8=",
				},
			},
		},
		Metadata:  map[string]any{"sender_nick": "alice"},
		CreatedAt: at(time.Second),
	}
	mustAppend(t, store, msg)

	got, err := store.AllMessages(ctx, "t-1")
	if err != nil {
		t.Fatalf("AllMessages failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1", len(got))
	}
	if len(got[0].Content) != 2 {
		t.Fatalf("got %d content blocks, want 2", len(got[0].Content))
	}
	if got[0].Content[1].Type != storage.ContentTypeImage {
		t.Errorf("block[1].Type = %q, want image", got[0].Content[1].Type)
	}
	if got[0].Content[1].Source == nil || got[0].Content[1].Source.MediaType != "image/png" {
		t.Errorf("image source not preserved: %+v", got[0].Content[1].Source)
	}
	if got[0].Metadata["sender_nick"] != "alice" {
		t.Errorf("metadata sender_nick = %v, want alice", got[0].Metadata["sender_nick"])
	}
}

func testConcurrentAppends(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	mustCreateThread(t, store, "t-1")

	const workers = 8
	const perWorker = 10

	// Pre-assign unique timestamps so the expected order is well defined
	// regardless of goroutine scheduling.
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				n := w*perWorker + i
				msg := textMsg("t-1", fmt.Sprintf("m-%03d", n), storage.RoleUser, fmt.Sprintf("msg %d", n), at(time.Duration(n)*time.Millisecond))
				if err := store.AppendMessage(ctx, msg); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent AppendMessage failed: %v", err)
	}

	got, err := store.AllMessages(ctx, "t-1")
	if err != nil {
		t.Fatalf("AllMessages failed: %v", err)
	}
	if len(got) != workers*perWorker {
		t.Fatalf("got %d messages, want %d", len(got), workers*perWorker)
	}
	for i := 1; i < len(got); i++ {
		if got[i].CreatedAt.Before(got[i-1].CreatedAt) {
			t.Fatalf("messages out of CreatedAt order at index %d: %v before %v", i, got[i].CreatedAt, got[i-1].CreatedAt)
		}
	}
}
