package tokens

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/youssefsiam38/chatctx/storage"
)

func TestApproximateTokens(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected int
	}{
		{
			name:     "empty string",
			content:  "",
			expected: 0,
		},
		{
			name:     "short string",
			content:  "hi",
			expected: 1, // (2 + 3) / 4 = 1
		},
		{
			name:     "4 chars",
			content:  "test",
			expected: 1, // (4 + 3) / 4 = 1
		},
		{
			name:     "8 chars",
			content:  "12345678",
			expected: 2, // (8 + 3) / 4 = 2
		},
		{
			name:     "longer text",
			content:  "This is a longer piece of text for testing token approximation.",
			expected: 16, // (63 + 3) / 4 = 16
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ApproximateTokens(tt.content)
			if got != tt.expected {
				t.Errorf("ApproximateTokens(%q) = %d, want %d", tt.content, got, tt.expected)
			}
		})
	}
}

func newTestCounter() *Counter {
	return NewCounter(WithLogger(slog.New(slog.DiscardHandler)))
}

func textMsg(role storage.Role, text string) *storage.Message {
	msg := storage.NewTextMessage("t-1", role, text)
	msg.ID = "m-" + text
	return msg
}

func TestCountEmptyInput(t *testing.T) {
	counter := newTestCounter()
	if got := counter.Count(context.Background(), nil, "claude-3-5-haiku-20241022"); got != 0 {
		t.Errorf("Count(nil) = %d, want 0", got)
	}
}

func TestCountTextMessages(t *testing.T) {
	counter := newTestCounter()

	// 40 chars -> 10 tokens, plus 4 overhead per message.
	text := strings.Repeat("abcd", 10)
	messages := []*storage.Message{
		textMsg(storage.RoleUser, text),
		textMsg(storage.RoleAssistant, text),
	}

	got := counter.Count(context.Background(), messages, "claude-3-5-haiku-20241022")
	want := 2 * (10 + messageOverhead)
	if got != want {
		t.Errorf("Count = %d, want %d", got, want)
	}
}

func TestCountIsDeterministic(t *testing.T) {
	counter := newTestCounter()
	messages := []*storage.Message{
		textMsg(storage.RoleUser, "hello there, how can I help today?"),
		textMsg(storage.RoleAssistant, "I need a summary of yesterday's incident."),
	}

	first := counter.Count(context.Background(), messages, "claude-3-5-haiku-20241022")
	for i := 0; i < 5; i++ {
		if got := counter.Count(context.Background(), messages, "claude-3-5-haiku-20241022"); got != first {
			t.Fatalf("Count changed between calls: %d then %d", first, got)
		}
	}
}

func TestCountStructuredContent(t *testing.T) {
	counter := newTestCounter()

	msg := &storage.Message{
		ID:       "m-1",
		ThreadID: "t-1",
		Role:     storage.RoleUser,
		Content: []storage.ContentBlock{
			{Type: storage.ContentTypeText, Text: strings.Repeat("x", 40)}, // 10 tokens
			{
				Type: storage.ContentTypeImage,
				Source: &storage.MediaSource{
					Type:      "base64",
					MediaType: "image/png",
					Data:      "aGVsbG8=",
				},
			},
		},
	}

	got := counter.Count(context.Background(), []*storage.Message{msg}, "claude-3-5-haiku-20241022")
	want := messageOverhead + 10 + mediaBlockTokens
	if got != want {
		t.Errorf("Count = %d, want %d (image block must contribute, not vanish)", got, want)
	}
}

func TestCountMalformedContentFailsSoft(t *testing.T) {
	counter := newTestCounter()

	messages := []*storage.Message{
		nil,
		{
			ID:       "m-1",
			ThreadID: "t-1",
			Role:     storage.RoleUser,
			Content: []storage.ContentBlock{
				{Type: storage.ContentType("bogus")},
			},
		},
	}

	// Must not panic or error; the malformed message still costs its
	// structural overhead.
	got := counter.Count(context.Background(), messages, "claude-3-5-haiku-20241022")
	if got != messageOverhead {
		t.Errorf("Count = %d, want %d", got, messageOverhead)
	}
}

func TestCountUnknownBlockWithTextStillCounted(t *testing.T) {
	counter := newTestCounter()

	msg := &storage.Message{
		ID:       "m-1",
		ThreadID: "t-1",
		Role:     storage.RoleAssistant,
		Content: []storage.ContentBlock{
			{Type: storage.ContentType("annotation"), Text: strings.Repeat("y", 20)}, // 5 tokens
		},
	}

	got := counter.Count(context.Background(), []*storage.Message{msg}, "claude-3-5-haiku-20241022")
	want := messageOverhead + 5
	if got != want {
		t.Errorf("Count = %d, want %d", got, want)
	}
}
