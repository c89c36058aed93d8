package compaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/youssefsiam38/chatctx/storage"
)

// State is a thread's compaction state.
type State string

const (
	// StateNormal means the thread's unsummarized history is within the
	// token threshold.
	StateNormal State = "normal"

	// StateCompactionDue means the unsummarized history has exceeded the
	// threshold and should be condensed into a summary.
	StateCompactionDue State = "compaction_due"
)

// TokenCounter counts tokens for a message list against a model.
// Satisfied by *tokens.Counter.
type TokenCounter interface {
	Count(ctx context.Context, messages []*storage.Message, model string) int
}

// TriggerConfig holds the trigger's tunable parameters.
type TriggerConfig struct {
	// TokenThreshold is the unsummarized token count above which a
	// thread is due for compaction. Default: 120000.
	TokenThreshold int
}

// Trigger evaluates whether a thread is due for compaction. Evaluation
// is a pure read over the store; it never writes and never summarizes.
type Trigger struct {
	store     storage.Store
	counter   TokenCounter
	threshold int
	logger    *slog.Logger
}

// TriggerOption configures a Trigger.
type TriggerOption func(*Trigger)

// WithTriggerLogger sets the logger. Defaults to slog.Default().
func WithTriggerLogger(logger *slog.Logger) TriggerOption {
	return func(t *Trigger) { t.logger = logger }
}

// NewTrigger creates a Trigger.
func NewTrigger(store storage.Store, counter TokenCounter, cfg TriggerConfig, opts ...TriggerOption) (*Trigger, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	if counter == nil {
		return nil, fmt.Errorf("%w: token counter is required", ErrInvalidConfig)
	}

	threshold := cfg.TokenThreshold
	if threshold == 0 {
		threshold = 120000
	}
	if threshold < 0 {
		return nil, fmt.Errorf("%w: token_threshold must be positive, got %d", ErrInvalidConfig, threshold)
	}

	t := &Trigger{
		store:     store,
		counter:   counter,
		threshold: threshold,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Threshold returns the effective token threshold.
func (t *Trigger) Threshold() int {
	return t.threshold
}

// Evaluate returns the thread's compaction state and its unsummarized
// token count. A thread that does not exist yet is StateNormal with a
// count of zero.
func (t *Trigger) Evaluate(ctx context.Context, threadID, model string) (State, int, error) {
	pending, err := storage.MessagesSinceLastSummary(ctx, t.store, threadID)
	if err != nil {
		if errors.Is(err, storage.ErrThreadNotFound) {
			return StateNormal, 0, nil
		}
		return StateNormal, 0, fmt.Errorf("evaluate compaction for thread %s: %w", threadID, err)
	}
	if len(pending) == 0 {
		return StateNormal, 0, nil
	}

	count := t.counter.Count(ctx, pending, model)
	if count > t.threshold {
		t.logger.Info("thread due for compaction",
			"thread_id", threadID,
			"pending_tokens", count,
			"token_threshold", t.threshold,
			"pending_messages", len(pending),
		)
		return StateCompactionDue, count, nil
	}
	return StateNormal, count, nil
}
