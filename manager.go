package chatctx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/youssefsiam38/chatctx/storage"
	"github.com/youssefsiam38/chatctx/tokens"
)

// TokenCounter counts tokens for a message list against a model. It
// never fails: implementations log problems and return a conservative
// value (a 0 for non-empty input means "uncertain", not "free").
type TokenCounter interface {
	Count(ctx context.Context, messages []*storage.Message, model string) int
}

// Manager selects, for every inbound chat turn, the subset of a
// thread's history that fits the model's token budget, and reports when
// the unsummarized history has grown large enough to need compaction.
//
// The read path is side-effect free: building a context window never
// writes to the store and never triggers summarization. Safe for
// concurrent use across threads; per-thread write ordering is the
// store's responsibility.
type Manager struct {
	store   storage.Store
	counter TokenCounter
	logger  *slog.Logger
	cfg     Config
}

// Option is a functional option for configuring a Manager
type Option func(*Manager)

// WithCounter replaces the default token counter
func WithCounter(counter TokenCounter) Option {
	return func(m *Manager) { m.counter = counter }
}

// WithLogger sets the logger. Defaults to slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// New creates a Manager on top of the given store.
func New(store storage.Store, cfg Config, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		store:  store,
		logger: slog.Default(),
		cfg:    cfg,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.counter == nil {
		m.counter = tokens.NewCounter(tokens.WithLogger(m.logger))
	}
	return m, nil
}

// Store returns the underlying message store.
func (m *Manager) Store() storage.Store {
	return m.store
}

// Config returns the manager's effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// OptimalContext returns the message list to send to the model for the
// thread's next turn: the system prompt followed by as much recent
// history as fits within maxContextTokens after reserving headroom.
//
// Guarantees:
//   - The first element is always the system prompt.
//   - A thread with no stored messages yields [systemPrompt] alone.
//   - When the thread has messages, at least one is always included,
//     even if the most recent message alone exceeds the budget (the
//     overflow is logged as a warning, not treated as a failure).
//   - The included messages are a contiguous chronological suffix of
//     the history; summary and stored system messages are excluded.
//
// Store read failures are returned as errors; the manager never passes
// off a history-empty window as the thread's real state.
func (m *Manager) OptimalContext(ctx context.Context, threadID string, systemPrompt *storage.Message, maxContextTokens int, model string) ([]*storage.Message, error) {
	if systemPrompt == nil {
		return nil, newThreadError("optimal_context", threadID, ErrSystemPromptRequired)
	}

	raw, err := m.store.AllMessages(ctx, threadID)
	if err != nil {
		// A thread that was never created is an empty conversation, not
		// a read failure.
		if errors.Is(err, storage.ErrThreadNotFound) {
			return []*storage.Message{systemPrompt}, nil
		}
		return nil, newThreadError("optimal_context", threadID, err)
	}

	if len(raw) == 0 {
		m.logger.Debug("no stored messages, returning system prompt only", "thread_id", threadID)
		return []*storage.Message{systemPrompt}, nil
	}

	systemTokens := m.counter.Count(ctx, []*storage.Message{systemPrompt}, model)
	budget := maxContextTokens - systemTokens - m.cfg.ReserveTokens

	m.logger.Debug("computed history token budget",
		"thread_id", threadID,
		"budget", budget,
		"max_context_tokens", maxContextTokens,
		"system_tokens", systemTokens,
		"reserve_tokens", m.cfg.ReserveTokens,
	)

	history := make([]*storage.Message, 0, len(raw))
	for _, msg := range raw {
		// Stored system messages are replaced by the caller's prompt;
		// summaries exist for boundary tracking, not for the window.
		if msg.Role == storage.RoleSystem || msg.IsSummary {
			continue
		}
		history = append(history, msg)
	}

	kept := m.truncate(ctx, threadID, history, budget, model)

	window := make([]*storage.Message, 0, len(kept)+1)
	window = append(window, systemPrompt)
	window = append(window, kept...)
	return window, nil
}

// truncate keeps the longest recent suffix of messages that fits the
// budget. When not even the most recent message fits, it is included
// anyway so a non-empty history never yields an empty window.
func (m *Manager) truncate(ctx context.Context, threadID string, messages []*storage.Message, budget int, model string) []*storage.Message {
	if len(messages) == 0 {
		return nil
	}

	if budget > 0 && m.counter.Count(ctx, messages, model) <= budget {
		return messages
	}

	var kept []*storage.Message // newest first while accumulating
	used := 0
	for i := len(messages) - 1; i >= 0; i-- {
		msgTokens := m.counter.Count(ctx, []*storage.Message{messages[i]}, model)
		if used+msgTokens > budget {
			if len(kept) == 0 {
				kept = append(kept, messages[i])
				m.logger.Warn("single message exceeds token budget, force-including it",
					"thread_id", threadID,
					"message_id", messages[i].ID,
					"message_tokens", msgTokens,
					"budget", budget,
				)
			}
			break
		}
		kept = append(kept, messages[i])
		used += msgTokens
	}

	// Back to chronological order.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}

	m.logger.Debug("truncated message history",
		"thread_id", threadID,
		"total_messages", len(messages),
		"kept_messages", len(kept),
		"used_tokens", used,
		"budget", budget,
	)
	return kept
}

// ThreadTokenCount returns the token count of the thread's history since
// the last compaction boundary. Callers use it to decide when to
// summarize; this method never triggers summarization itself.
func (m *Manager) ThreadTokenCount(ctx context.Context, threadID, model string) (int, error) {
	pending, err := m.MessagesForSummarization(ctx, threadID)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}
	return m.counter.Count(ctx, pending, model), nil
}

// MessagesForSummarization returns the thread's messages since the last
// summary boundary, in chronological order, with summaries excluded.
// This is exactly the span the next compaction would condense.
func (m *Manager) MessagesForSummarization(ctx context.Context, threadID string) ([]*storage.Message, error) {
	pending, err := storage.MessagesSinceLastSummary(ctx, m.store, threadID)
	if err != nil {
		if errors.Is(err, storage.ErrThreadNotFound) {
			return nil, nil
		}
		return nil, newThreadError("messages_for_summarization", threadID, err)
	}
	return pending, nil
}
