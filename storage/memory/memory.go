// Package memory provides an in-memory Store implementation.
//
// It is the reference implementation of the storage contract: the SQL
// stores must be indistinguishable from it through the Store interface.
// It is also useful in tests and in single-process deployments that do
// not need durability.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/youssefsiam38/chatctx/storage"
)

// Store is an in-memory implementation of storage.Store.
// Safe for concurrent use; a single mutex serializes appends, which
// trivially satisfies the per-thread ordering invariant.
type Store struct {
	mu       sync.RWMutex
	threads  map[string]*storage.Thread
	messages map[string][]*storage.Message // per thread, ascending (CreatedAt, insertion)
	ids      map[string]struct{}           // process-wide message ID uniqueness
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		threads:  make(map[string]*storage.Thread),
		messages: make(map[string][]*storage.Message),
		ids:      make(map[string]struct{}),
	}
}

// CreateThread creates a new thread.
func (s *Store) CreateThread(ctx context.Context, threadID string, createdAt time.Time, metadata map[string]any) error {
	if threadID == "" {
		return fmt.Errorf("create thread: thread_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.threads[threadID]; ok {
		return fmt.Errorf("create thread %s: %w", threadID, storage.ErrThreadExists)
	}

	s.threads[threadID] = &storage.Thread{
		ID:           threadID,
		CreatedAt:    createdAt.UTC(),
		LastActiveAt: createdAt.UTC(),
		Metadata:     cloneMetadata(metadata),
	}
	return nil
}

// ThreadInfo returns the thread record.
func (s *Store) ThreadInfo(ctx context.Context, threadID string) (*storage.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	thread, ok := s.threads[threadID]
	if !ok {
		return nil, fmt.Errorf("thread %s: %w", threadID, storage.ErrThreadNotFound)
	}

	copied := *thread
	copied.Metadata = cloneMetadata(thread.Metadata)
	return &copied, nil
}

// UpdateThreadMetadata replaces the thread's metadata.
func (s *Store) UpdateThreadMetadata(ctx context.Context, threadID string, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread, ok := s.threads[threadID]
	if !ok {
		return fmt.Errorf("update thread %s: %w", threadID, storage.ErrThreadNotFound)
	}

	thread.Metadata = cloneMetadata(metadata)
	return nil
}

// AppendMessage inserts one message and updates the thread's LastActiveAt
// in the same critical section, so the two never diverge.
func (s *Store) AppendMessage(ctx context.Context, msg *storage.Message) error {
	if msg == nil || msg.ID == "" || msg.ThreadID == "" {
		return fmt.Errorf("append message: %w: id and thread_id are required", storage.ErrInvalidMessage)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	thread, ok := s.threads[msg.ThreadID]
	if !ok {
		return fmt.Errorf("append message to thread %s: %w", msg.ThreadID, storage.ErrThreadNotFound)
	}
	if _, ok := s.ids[msg.ID]; ok {
		return fmt.Errorf("append message %s: %w", msg.ID, storage.ErrDuplicateMessage)
	}

	stored := cloneMessage(msg)
	stored.CreatedAt = stored.CreatedAt.UTC()

	// Insert after every existing message with CreatedAt <= this one,
	// keeping equal timestamps in insertion order.
	list := s.messages[msg.ThreadID]
	idx := sort.Search(len(list), func(i int) bool {
		return list[i].CreatedAt.After(stored.CreatedAt)
	})
	list = append(list, nil)
	copy(list[idx+1:], list[idx:])
	list[idx] = stored
	s.messages[msg.ThreadID] = list

	s.ids[msg.ID] = struct{}{}
	thread.LastActiveAt = stored.CreatedAt
	return nil
}

// AllMessages returns every message for the thread, ascending.
func (s *Store) AllMessages(ctx context.Context, threadID string) ([]*storage.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.threads[threadID]; !ok {
		return nil, fmt.Errorf("thread %s: %w", threadID, storage.ErrThreadNotFound)
	}

	list := s.messages[threadID]
	out := make([]*storage.Message, len(list))
	for i, msg := range list {
		out[i] = cloneMessage(msg)
	}
	return out, nil
}

// MessagesAfter returns messages with CreatedAt strictly after the given
// time, ascending.
func (s *Store) MessagesAfter(ctx context.Context, threadID string, after time.Time) ([]*storage.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.threads[threadID]; !ok {
		return nil, fmt.Errorf("thread %s: %w", threadID, storage.ErrThreadNotFound)
	}

	list := s.messages[threadID]
	idx := sort.Search(len(list), func(i int) bool {
		return list[i].CreatedAt.After(after)
	})

	out := make([]*storage.Message, 0, len(list)-idx)
	for _, msg := range list[idx:] {
		out = append(out, cloneMessage(msg))
	}
	return out, nil
}

// LastSummaryTime returns the timestamp of the most recent summary message.
func (s *Store) LastSummaryTime(ctx context.Context, threadID string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.threads[threadID]; !ok {
		return time.Time{}, false, fmt.Errorf("thread %s: %w", threadID, storage.ErrThreadNotFound)
	}

	list := s.messages[threadID]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].IsSummary {
			return list[i].CreatedAt, true, nil
		}
	}
	return time.Time{}, false, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

func cloneMessage(msg *storage.Message) *storage.Message {
	copied := *msg
	copied.Content = append([]storage.ContentBlock(nil), msg.Content...)
	copied.Metadata = cloneMetadata(msg.Metadata)
	return &copied
}

func cloneMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}
