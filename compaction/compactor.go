package compaction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/youssefsiam38/chatctx/storage"
)

// SummaryGenerator produces summary text for a message span.
// Satisfied by *Summarizer.
type SummaryGenerator interface {
	Summarize(ctx context.Context, messages []*storage.Message) (string, error)
}

// Result describes a completed compaction.
type Result struct {
	// SummaryID is the ID of the appended summary message.
	SummaryID string

	// MessagesSummarized is how many messages the summary covers.
	MessagesSummarized int

	// TokensBefore is the unsummarized token count that tripped the trigger.
	TokensBefore int

	// BoundaryAt is the new compaction boundary (the summary's CreatedAt).
	BoundaryAt time.Time
}

// Compactor runs the full compaction flow for a thread: evaluate the
// trigger, summarize the pending span, and append the summary message,
// which moves the boundary forward. It is the out-of-band counterpart
// to the side-effect-free read path.
type Compactor struct {
	store     storage.Store
	trigger   *Trigger
	generator SummaryGenerator
	logger    *slog.Logger
	now       func() time.Time
}

// CompactorOption configures a Compactor.
type CompactorOption func(*Compactor)

// WithCompactorLogger sets the logger. Defaults to slog.Default().
func WithCompactorLogger(logger *slog.Logger) CompactorOption {
	return func(c *Compactor) { c.logger = logger }
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) CompactorOption {
	return func(c *Compactor) { c.now = now }
}

// NewCompactor creates a Compactor.
func NewCompactor(store storage.Store, trigger *Trigger, generator SummaryGenerator, opts ...CompactorOption) (*Compactor, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	if trigger == nil {
		return nil, fmt.Errorf("%w: trigger is required", ErrInvalidConfig)
	}
	if generator == nil {
		return nil, fmt.Errorf("%w: summary generator is required", ErrInvalidConfig)
	}

	c := &Compactor{
		store:     store,
		trigger:   trigger,
		generator: generator,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run evaluates the thread and, when compaction is due, summarizes the
// pending span and appends the summary. Returns nil when the thread is
// not due; the thread is left untouched in that case.
func (c *Compactor) Run(ctx context.Context, threadID, model string) (*Result, error) {
	state, tokenCount, err := c.trigger.Evaluate(ctx, threadID, model)
	if err != nil {
		return nil, err
	}
	if state != StateCompactionDue {
		return nil, nil
	}

	pending, err := storage.MessagesSinceLastSummary(ctx, c.store, threadID)
	if err != nil {
		return nil, fmt.Errorf("compact thread %s: %w", threadID, err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	summaryText, err := c.generator.Summarize(ctx, pending)
	if err != nil {
		return nil, fmt.Errorf("compact thread %s: %w", threadID, err)
	}

	// The summary must sort after everything it covers, even if the
	// local clock lags the last message's timestamp.
	boundary := c.now().UTC()
	last := pending[len(pending)-1].CreatedAt
	if !boundary.After(last) {
		boundary = last.Add(time.Microsecond)
	}

	summary := storage.NewTextMessage(threadID, storage.RoleAssistant, summaryText)
	summary.ID = uuid.New().String()
	summary.IsSummary = true
	summary.CreatedAt = boundary
	summary.Metadata = map[string]any{
		"summarized_messages": len(pending),
		"summarized_tokens":   tokenCount,
	}

	if err := c.store.AppendMessage(ctx, summary); err != nil {
		return nil, fmt.Errorf("compact thread %s: persist summary: %w", threadID, err)
	}

	c.logger.Info("compacted thread",
		"thread_id", threadID,
		"summary_id", summary.ID,
		"messages_summarized", len(pending),
		"tokens_before", tokenCount,
	)

	return &Result{
		SummaryID:          summary.ID,
		MessagesSummarized: len(pending),
		TokensBefore:       tokenCount,
		BoundaryAt:         boundary,
	}, nil
}
