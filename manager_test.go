package chatctx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/youssefsiam38/chatctx/storage"
	"github.com/youssefsiam38/chatctx/storage/memory"
)

// stubCounter charges a fixed token cost per message ID, so tests can
// construct exact budget scenarios without a real tokenizer.
type stubCounter struct {
	costs   map[string]int
	defCost int
}

func (c *stubCounter) Count(_ context.Context, messages []*storage.Message, _ string) int {
	total := 0
	for _, msg := range messages {
		if cost, ok := c.costs[msg.ID]; ok {
			total += cost
		} else {
			total += c.defCost
		}
	}
	return total
}

// failingStore returns a non-sentinel error from every read.
type failingStore struct {
	storage.Store
}

var errStoreDown = errors.New("store unavailable")

func (failingStore) AllMessages(context.Context, string) ([]*storage.Message, error) {
	return nil, errStoreDown
}

func (failingStore) MessagesAfter(context.Context, string, time.Time) ([]*storage.Message, error) {
	return nil, errStoreDown
}

func (failingStore) LastSummaryTime(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, errStoreDown
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func systemPrompt() *storage.Message {
	msg := storage.NewTextMessage("", storage.RoleSystem, "You are a helpful assistant.")
	msg.ID = "system-prompt"
	return msg
}

func seedMessages(t *testing.T, store storage.Store, threadID string, n int, base time.Time) []*storage.Message {
	t.Helper()
	ctx := context.Background()
	if err := store.CreateThread(ctx, threadID, base, nil); err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	msgs := make([]*storage.Message, 0, n)
	for i := 0; i < n; i++ {
		role := storage.RoleUser
		if i%2 == 1 {
			role = storage.RoleAssistant
		}
		msg := storage.NewTextMessage(threadID, role, fmt.Sprintf("message %d", i))
		msg.ID = fmt.Sprintf("msg-%d", i)
		msg.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := store.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

func messageIDs(msgs []*storage.Message) []string {
	ids := make([]string, len(msgs))
	for i, msg := range msgs {
		ids[i] = msg.ID
	}
	return ids
}

func newTestManager(t *testing.T, store storage.Store, cfg Config, counter TokenCounter) *Manager {
	t.Helper()
	m, err := New(store, cfg, WithCounter(counter), WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestOptimalContextFitsEverything(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := memory.New()
	defer store.Close()
	seedMessages(t, store, "thread-1", 5, base)

	counter := &stubCounter{defCost: 100, costs: map[string]int{"system-prompt": 200}}
	m := newTestManager(t, store, Config{ReserveTokens: 500}, counter)

	window, err := m.OptimalContext(context.Background(), "thread-1", systemPrompt(), 10000, "claude-sonnet-4-5")
	if err != nil {
		t.Fatalf("OptimalContext: %v", err)
	}
	// Budget 10000-200-500 = 9300; history costs 500, everything fits.
	if len(window) != 6 {
		t.Fatalf("got %d messages, want 6 (system + 5 history)", len(window))
	}
	if window[0].ID != "system-prompt" {
		t.Errorf("first message = %q, want system prompt", window[0].ID)
	}
	for i := 1; i < len(window); i++ {
		want := fmt.Sprintf("msg-%d", i-1)
		if window[i].ID != want {
			t.Errorf("window[%d] = %q, want %q", i, window[i].ID, want)
		}
	}
}

func TestOptimalContextKeepsRecentSuffix(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := memory.New()
	defer store.Close()
	seedMessages(t, store, "thread-1", 5, base)

	// Each history message costs 1000, system 200, reserve 500: the
	// budget 3500-200-500 = 2800 holds exactly the two newest.
	counter := &stubCounter{defCost: 1000, costs: map[string]int{"system-prompt": 200}}
	m := newTestManager(t, store, Config{ReserveTokens: 500}, counter)

	window, err := m.OptimalContext(context.Background(), "thread-1", systemPrompt(), 3500, "claude-sonnet-4-5")
	if err != nil {
		t.Fatalf("OptimalContext: %v", err)
	}
	got := messageIDs(window)
	want := []string{"system-prompt", "msg-3", "msg-4"}
	if len(got) != len(want) {
		t.Fatalf("window = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("window = %v, want %v", got, want)
		}
	}
}

func TestOptimalContextForceIncludesNewest(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := memory.New()
	defer store.Close()
	seedMessages(t, store, "thread-1", 1, base)

	// The only message costs far more than the whole window; it must be
	// included anyway rather than returning an empty history.
	counter := &stubCounter{defCost: 5000, costs: map[string]int{"system-prompt": 100}}
	m := newTestManager(t, store, Config{ReserveTokens: 500}, counter)

	window, err := m.OptimalContext(context.Background(), "thread-1", systemPrompt(), 1000, "claude-sonnet-4-5")
	if err != nil {
		t.Fatalf("OptimalContext: %v", err)
	}
	if len(window) != 2 {
		t.Fatalf("got %d messages, want 2 (system + forced newest)", len(window))
	}
	if window[1].ID != "msg-0" {
		t.Errorf("forced message = %q, want msg-0", window[1].ID)
	}
}

func TestOptimalContextEmptyThread(t *testing.T) {
	store := memory.New()
	defer store.Close()
	if err := store.CreateThread(context.Background(), "thread-1", time.Now(), nil); err != nil {
		t.Fatalf("CreateThread: %v", err)
	}

	m := newTestManager(t, store, Config{}, &stubCounter{defCost: 10})
	window, err := m.OptimalContext(context.Background(), "thread-1", systemPrompt(), 10000, "claude-sonnet-4-5")
	if err != nil {
		t.Fatalf("OptimalContext: %v", err)
	}
	if len(window) != 1 || window[0].ID != "system-prompt" {
		t.Errorf("window = %v, want system prompt only", messageIDs(window))
	}
}

func TestOptimalContextMissingThread(t *testing.T) {
	store := memory.New()
	defer store.Close()

	m := newTestManager(t, store, Config{}, &stubCounter{defCost: 10})
	window, err := m.OptimalContext(context.Background(), "no-such-thread", systemPrompt(), 10000, "claude-sonnet-4-5")
	if err != nil {
		t.Fatalf("OptimalContext: %v", err)
	}
	if len(window) != 1 || window[0].ID != "system-prompt" {
		t.Errorf("window = %v, want system prompt only", messageIDs(window))
	}
}

func TestOptimalContextRequiresSystemPrompt(t *testing.T) {
	store := memory.New()
	defer store.Close()

	m := newTestManager(t, store, Config{}, &stubCounter{defCost: 10})
	_, err := m.OptimalContext(context.Background(), "thread-1", nil, 10000, "claude-sonnet-4-5")
	if !errors.Is(err, ErrSystemPromptRequired) {
		t.Errorf("err = %v, want ErrSystemPromptRequired", err)
	}
	var threadErr *ThreadError
	if !errors.As(err, &threadErr) {
		t.Errorf("err = %v, want *ThreadError", err)
	}
}

func TestOptimalContextExcludesSummariesAndSystemMessages(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := memory.New()
	defer store.Close()
	ctx := context.Background()
	seedMessages(t, store, "thread-1", 2, base)

	summary := storage.NewTextMessage("thread-1", storage.RoleAssistant, "earlier summary")
	summary.ID = "summary-1"
	summary.IsSummary = true
	summary.CreatedAt = base.Add(2 * time.Second)
	if err := store.AppendMessage(ctx, summary); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	storedSystem := storage.NewTextMessage("thread-1", storage.RoleSystem, "stored system note")
	storedSystem.ID = "stored-system"
	storedSystem.CreatedAt = base.Add(3 * time.Second)
	if err := store.AppendMessage(ctx, storedSystem); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	m := newTestManager(t, store, Config{}, &stubCounter{defCost: 10})
	window, err := m.OptimalContext(ctx, "thread-1", systemPrompt(), 100000, "claude-sonnet-4-5")
	if err != nil {
		t.Fatalf("OptimalContext: %v", err)
	}
	for _, msg := range window[1:] {
		if msg.IsSummary {
			t.Errorf("window contains summary message %q", msg.ID)
		}
		if msg.Role == storage.RoleSystem {
			t.Errorf("window contains stored system message %q", msg.ID)
		}
	}
	if len(window) != 3 {
		t.Errorf("window = %v, want system prompt + 2 history messages", messageIDs(window))
	}
}

func TestOptimalContextIsIdempotent(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := memory.New()
	defer store.Close()
	seedMessages(t, store, "thread-1", 7, base)

	counter := &stubCounter{defCost: 1000, costs: map[string]int{"system-prompt": 200}}
	m := newTestManager(t, store, Config{ReserveTokens: 500}, counter)

	ctx := context.Background()
	first, err := m.OptimalContext(ctx, "thread-1", systemPrompt(), 4000, "claude-sonnet-4-5")
	if err != nil {
		t.Fatalf("OptimalContext: %v", err)
	}
	second, err := m.OptimalContext(ctx, "thread-1", systemPrompt(), 4000, "claude-sonnet-4-5")
	if err != nil {
		t.Fatalf("OptimalContext: %v", err)
	}

	firstIDs, secondIDs := messageIDs(first), messageIDs(second)
	if len(firstIDs) != len(secondIDs) {
		t.Fatalf("repeated call changed the window: %v vs %v", firstIDs, secondIDs)
	}
	for i := range firstIDs {
		if firstIDs[i] != secondIDs[i] {
			t.Fatalf("repeated call changed the window: %v vs %v", firstIDs, secondIDs)
		}
	}
}

func TestOptimalContextPropagatesStoreFailure(t *testing.T) {
	m := newTestManager(t, failingStore{}, Config{}, &stubCounter{defCost: 10})
	_, err := m.OptimalContext(context.Background(), "thread-1", systemPrompt(), 10000, "claude-sonnet-4-5")
	if !errors.Is(err, errStoreDown) {
		t.Errorf("err = %v, want wrapped store failure", err)
	}
}

func TestThreadTokenCountRespectsBoundary(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := memory.New()
	defer store.Close()
	ctx := context.Background()
	seedMessages(t, store, "thread-1", 4, base)

	summary := storage.NewTextMessage("thread-1", storage.RoleAssistant, "summary of first four")
	summary.ID = "summary-1"
	summary.IsSummary = true
	summary.CreatedAt = base.Add(4 * time.Second)
	if err := store.AppendMessage(ctx, summary); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	for i := 4; i < 7; i++ {
		msg := storage.NewTextMessage("thread-1", storage.RoleUser, fmt.Sprintf("message %d", i))
		msg.ID = fmt.Sprintf("msg-%d", i)
		msg.CreatedAt = base.Add(time.Duration(i+1) * time.Second)
		if err := store.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	m := newTestManager(t, store, Config{}, &stubCounter{defCost: 100})

	count, err := m.ThreadTokenCount(ctx, "thread-1", "claude-sonnet-4-5")
	if err != nil {
		t.Fatalf("ThreadTokenCount: %v", err)
	}
	if count != 300 {
		t.Errorf("count = %d, want 300 (3 messages past the boundary)", count)
	}

	pending, err := m.MessagesForSummarization(ctx, "thread-1")
	if err != nil {
		t.Fatalf("MessagesForSummarization: %v", err)
	}
	got := messageIDs(pending)
	want := []string{"msg-4", "msg-5", "msg-6"}
	if len(got) != len(want) {
		t.Fatalf("pending = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pending = %v, want %v", got, want)
		}
	}
}

func TestMessagesForSummarizationMissingThread(t *testing.T) {
	store := memory.New()
	defer store.Close()

	m := newTestManager(t, store, Config{}, &stubCounter{defCost: 10})
	pending, err := m.MessagesForSummarization(context.Background(), "no-such-thread")
	if err != nil {
		t.Fatalf("MessagesForSummarization: %v", err)
	}
	if pending != nil {
		t.Errorf("pending = %v, want nil", messageIDs(pending))
	}
}

func TestNewValidation(t *testing.T) {
	store := memory.New()
	defer store.Close()

	if _, err := New(nil, Config{}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("nil store: err = %v, want ErrInvalidConfig", err)
	}
	if _, err := New(store, Config{ReserveTokens: -1}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("negative reserve: err = %v, want ErrInvalidConfig", err)
	}
	if _, err := New(store, Config{TokenThreshold: -5}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("negative threshold: err = %v, want ErrInvalidConfig", err)
	}
}

func TestConfigDefaults(t *testing.T) {
	store := memory.New()
	defer store.Close()

	m := newTestManager(t, store, Config{}, &stubCounter{defCost: 1})
	cfg := m.Config()
	if cfg.ReserveTokens != DefaultReserveTokens {
		t.Errorf("ReserveTokens = %d, want %d", cfg.ReserveTokens, DefaultReserveTokens)
	}
	if cfg.TokenThreshold != DefaultTokenThreshold {
		t.Errorf("TokenThreshold = %d, want %d", cfg.TokenThreshold, DefaultTokenThreshold)
	}
	if cfg.SummaryTargetTokens != DefaultSummaryTargetTokens {
		t.Errorf("SummaryTargetTokens = %d, want %d", cfg.SummaryTargetTokens, DefaultSummaryTargetTokens)
	}
}

func TestGetModelInfo(t *testing.T) {
	info := GetModelInfo("claude-sonnet-4-5-20250929")
	if info.MaxContextTokens != 200000 {
		t.Errorf("MaxContextTokens = %d, want 200000", info.MaxContextTokens)
	}

	unknown := GetModelInfo("some-future-model")
	if unknown.MaxContextTokens != 200000 || unknown.DefaultMaxTokens != 8192 {
		t.Errorf("unknown model info = %+v, want defaults", unknown)
	}
}
