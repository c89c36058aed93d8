package compaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/youssefsiam38/chatctx/storage"
)

// Summarizer condenses conversation messages into summary text using
// the Anthropic streaming API.
type Summarizer struct {
	client       *anthropic.Client
	model        string
	maxTokens    int
	targetTokens int
}

// NewSummarizer creates a Summarizer. model is the summarization model
// (a fast, cheap one is recommended); maxTokens caps the response;
// targetTokens is the size the summary is asked to aim for.
func NewSummarizer(client *anthropic.Client, model string, maxTokens, targetTokens int) *Summarizer {
	return &Summarizer{
		client:       client,
		model:        model,
		maxTokens:    maxTokens,
		targetTokens: targetTokens,
	}
}

// Summarize generates a summary of the given messages. It returns the
// summary text, which the caller persists as a message with
// IsSummary=true.
func (s *Summarizer) Summarize(ctx context.Context, messages []*storage.Message) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessagesToCompact
	}

	conversationText := formatMessagesForSummary(messages)
	userPrompt := BuildSummarizationUserPrompt(conversationText, s.targetTokens)

	stream := s.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: int64(s.maxTokens),
		System: []anthropic.TextBlockParam{
			{Text: SummarizationSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return "", fmt.Errorf("%w: failed to accumulate stream: %v", ErrSummarizationFailed, err)
		}
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSummarizationFailed, err)
	}

	var summary strings.Builder
	for _, block := range message.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			summary.WriteString(text.Text)
		}
	}
	if summary.Len() == 0 {
		return "", fmt.Errorf("%w: empty response from summarizer", ErrSummarizationFailed)
	}

	return summary.String(), nil
}

// formatMessagesForSummary converts messages to readable text for the
// summarization prompt.
func formatMessagesForSummary(messages []*storage.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		content := extractMessageContent(msg)
		if content == "" {
			continue
		}
		b.WriteString(roleLabel(msg.Role))
		b.WriteString(":\n")
		b.WriteString(content)
		b.WriteString("\n\n")
	}
	return b.String()
}

func roleLabel(role storage.Role) string {
	switch role {
	case storage.RoleAssistant:
		return "Assistant"
	case storage.RoleSystem:
		return "System"
	default:
		return "User"
	}
}

// extractMessageContent flattens a message's blocks into text; non-text
// blocks are named rather than dropped so the summarizer knows they
// were there.
func extractMessageContent(msg *storage.Message) string {
	var parts []string
	for _, block := range msg.Content {
		switch block.Type {
		case storage.ContentTypeText:
			if block.Text != "" {
				parts = append(parts, block.Text)
			}
		case storage.ContentTypeImage, storage.ContentTypeDocument:
			label := string(block.Type)
			if block.Source != nil && block.Source.MediaType != "" {
				label = block.Source.MediaType
			}
			parts = append(parts, fmt.Sprintf("[attachment: %s]", label))
		}
	}
	return strings.Join(parts, "\n")
}
