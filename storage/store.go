// Package storage defines the message store contract for chatctx.
//
// A Store holds the append-only conversation history for every thread.
// Three implementations ship with this module: an in-memory reference
// store (storage/memory), a local embedded SQLite store (storage/sqlite),
// and a remote PostgreSQL store (storage/postgres). All three must behave
// identically; the shared contract suite in storage/storagetest verifies
// that.
package storage

import (
	"context"
	"strings"
	"time"
)

// Role represents the message role.
type Role string

const (
	// RoleUser represents a user message
	RoleUser Role = "user"

	// RoleAssistant represents an assistant message
	RoleAssistant Role = "assistant"

	// RoleSystem represents a system message
	RoleSystem Role = "system"
)

// ContentType represents the type of content block.
type ContentType string

const (
	// ContentTypeText represents text content
	ContentTypeText ContentType = "text"

	// ContentTypeImage represents an image block
	ContentTypeImage ContentType = "image"

	// ContentTypeDocument represents a document block
	ContentTypeDocument ContentType = "document"
)

// MediaSource describes where image or document bytes come from.
type MediaSource struct {
	Type      string `json:"type"`       // "base64" or "url"
	MediaType string `json:"media_type"` // "image/png", "application/pdf", ...
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// ContentBlock represents a piece of content in a message.
type ContentBlock struct {
	Type ContentType `json:"type"`

	// Text content
	Text string `json:"text,omitempty"`

	// Image or document content
	Source *MediaSource `json:"source,omitempty"`
}

// Message represents a stored conversation message. Messages are created
// on append and never mutated or deleted; compaction adds new summary
// messages rather than removing old ones.
type Message struct {
	ID        string         `json:"id"`
	ThreadID  string         `json:"thread_id"`
	Role      Role           `json:"role"`
	Content   []ContentBlock `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	IsSummary bool           `json:"is_summary"`
	CreatedAt time.Time      `json:"created_at"`
}

// TextContent returns the concatenated text of all text blocks.
func (m *Message) TextContent() string {
	var parts []string
	for _, block := range m.Content {
		if block.Type == ContentTypeText && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// NewTextMessage builds a plain-text message for the given thread.
// The caller assigns ID and CreatedAt before appending.
func NewTextMessage(threadID string, role Role, text string) *Message {
	return &Message{
		ThreadID: threadID,
		Role:     role,
		Content: []ContentBlock{
			{Type: ContentTypeText, Text: text},
		},
	}
}

// Thread represents a single ongoing conversation.
type Thread struct {
	ID           string         `json:"id"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActiveAt time.Time      `json:"last_active_at"`
	Metadata     map[string]any `json:"metadata"`
}

// Store defines the persistence contract for threads and messages.
//
// Ordering: AllMessages and MessagesAfter return messages in ascending
// CreatedAt order, with equal timestamps ordered by insertion. Readers
// must never observe a later-timestamped message before an earlier one.
// Implementations are responsible for serializing concurrent appends to
// the same thread so that the ordering invariant and LastActiveAt hold.
type Store interface {
	// CreateThread creates a new thread. Returns ErrThreadExists if the
	// thread ID is already taken.
	CreateThread(ctx context.Context, threadID string, createdAt time.Time, metadata map[string]any) error

	// ThreadInfo returns the thread record, or ErrThreadNotFound.
	ThreadInfo(ctx context.Context, threadID string) (*Thread, error)

	// UpdateThreadMetadata replaces the thread's metadata.
	UpdateThreadMetadata(ctx context.Context, threadID string, metadata map[string]any) error

	// AppendMessage inserts one message and updates the owning thread's
	// LastActiveAt to the message's CreatedAt as part of the same logical
	// operation. Returns ErrDuplicateMessage if the message ID exists and
	// ErrThreadNotFound if the thread does not.
	AppendMessage(ctx context.Context, msg *Message) error

	// AllMessages returns every message for the thread, ascending.
	AllMessages(ctx context.Context, threadID string) ([]*Message, error)

	// MessagesAfter returns messages with CreatedAt strictly after the
	// given time, ascending.
	MessagesAfter(ctx context.Context, threadID string, after time.Time) ([]*Message, error)

	// LastSummaryTime returns max(CreatedAt) over summary-marked messages
	// for the thread. The bool is false when the thread has no summary.
	LastSummaryTime(ctx context.Context, threadID string) (time.Time, bool, error)

	// Close releases the store's underlying resources.
	Close() error
}
