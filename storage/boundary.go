package storage

import (
	"context"
	"fmt"
)

// MessagesSinceLastSummary returns the thread's messages after the most
// recent summary boundary (or all messages when no summary exists),
// with summary messages themselves filtered out. This is the "pending"
// portion of the history: what has accumulated since the last
// compaction and what the next compaction would cover.
func MessagesSinceLastSummary(ctx context.Context, store Store, threadID string) ([]*Message, error) {
	boundary, hasSummary, err := store.LastSummaryTime(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("resolve summary boundary for thread %s: %w", threadID, err)
	}

	var messages []*Message
	if hasSummary {
		messages, err = store.MessagesAfter(ctx, threadID, boundary)
	} else {
		messages, err = store.AllMessages(ctx, threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("load pending messages for thread %s: %w", threadID, err)
	}

	pending := make([]*Message, 0, len(messages))
	for _, msg := range messages {
		if msg.IsSummary {
			continue
		}
		pending = append(pending, msg)
	}
	return pending, nil
}
