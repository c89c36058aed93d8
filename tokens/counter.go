// Package tokens provides token counting for conversation messages.
//
// Counting never fails: malformed or unrecognized content is logged and
// degrades to a conservative estimate instead of raising to the caller.
// A zero result for a non-empty input therefore means "uncertain", not
// "free". For a fixed input and model the count is stable across calls:
// the approximation path is pure, and API results are cached by a hash
// of the request.
package tokens

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/youssefsiam38/chatctx/storage"
)

// messageOverhead is the per-message structural cost (role framing etc.)
// added on top of the content estimate.
const messageOverhead = 4

// mediaBlockTokens is the flat charge for image and document blocks.
// Small images cost ~85 tokens and large ones 1600+; a mid-range flat
// value keeps the estimate non-zero without inspecting the payload.
const mediaBlockTokens = 200

// Counter counts tokens for role/content messages against a model.
// Safe for concurrent use.
type Counter struct {
	client *anthropic.Client
	useAPI bool
	logger *slog.Logger

	mu       sync.Mutex
	cache    map[string]int
	fallback bool // set after an API failure; approximation from then on
}

// Option configures a Counter.
type Option func(*Counter)

// WithAPIClient enables counting through the Anthropic count-tokens API,
// with the local approximation as fallback. Results are cached so repeat
// calls for the same input and model are stable.
func WithAPIClient(client *anthropic.Client) Option {
	return func(c *Counter) {
		c.client = client
		c.useAPI = client != nil
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Counter) { c.logger = logger }
}

// NewCounter creates a Counter. Without options it uses the pure local
// approximation only.
func NewCounter(opts ...Option) *Counter {
	c := &Counter{
		logger: slog.Default(),
		cache:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Count returns the token count for the given messages against the
// model. It never returns an error; failures are logged and degrade to
// the local approximation.
func (c *Counter) Count(ctx context.Context, messages []*storage.Message, model string) int {
	if len(messages) == 0 {
		return 0
	}

	if c.useAPI {
		if count, ok := c.countWithAPI(ctx, messages, model); ok {
			return count
		}
	}

	return c.approximate(messages)
}

// countWithAPI counts via the Anthropic API, consulting the cache first.
// Returns ok=false when the API path is unavailable or fails.
func (c *Counter) countWithAPI(ctx context.Context, messages []*storage.Message, model string) (int, bool) {
	c.mu.Lock()
	if c.fallback {
		c.mu.Unlock()
		return 0, false
	}
	key, err := cacheKey(messages, model)
	if err != nil {
		c.mu.Unlock()
		c.logger.Warn("token counting: building cache key failed, using approximation", "error", err)
		return 0, false
	}
	if count, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return count, true
	}
	c.mu.Unlock()

	params, extra := convertForCounting(messages)
	if len(params) == 0 {
		return 0, false
	}

	resp, err := c.client.Messages.CountTokens(ctx, anthropic.MessageCountTokensParams{
		Model:    anthropic.Model(model),
		Messages: params,
	})
	if err != nil {
		c.logger.Warn("token counting API failed, falling back to approximation",
			"model", model,
			"error", err,
		)
		c.mu.Lock()
		c.fallback = true
		c.mu.Unlock()
		return 0, false
	}

	// Blocks the API cannot count (images, documents) still contribute
	// their flat charge so they are never silently free.
	count := int(resp.InputTokens) + extra

	c.mu.Lock()
	c.cache[key] = count
	c.mu.Unlock()
	return count, true
}

// approximate estimates the token count locally (~4 chars per token).
func (c *Counter) approximate(messages []*storage.Message) int {
	total := 0
	for _, msg := range messages {
		if msg == nil {
			c.logger.Warn("token counting: nil message skipped")
			continue
		}
		total += c.estimateMessage(msg)
	}
	return total
}

func (c *Counter) estimateMessage(msg *storage.Message) int {
	total := messageOverhead

	for _, block := range msg.Content {
		switch block.Type {
		case storage.ContentTypeText:
			total += ApproximateTokens(block.Text)
		case storage.ContentTypeImage, storage.ContentTypeDocument:
			total += mediaBlockTokens
		default:
			// Unknown block type: estimate from whatever text is there
			// and flag it, so it contributes something rather than
			// silently vanishing from the budget.
			if block.Text != "" {
				total += ApproximateTokens(block.Text)
			} else {
				c.logger.Warn("token counting: unrecognized content block counted as zero",
					"message_id", msg.ID,
					"block_type", string(block.Type),
				)
			}
		}
	}

	return total
}

// ApproximateTokens estimates token count from character count, using
// ~4 characters per token with a minimum of 1 for non-empty text.
func ApproximateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	tokens := (len(text) + 3) / 4
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// convertForCounting maps messages to Anthropic params for the counting
// API. System messages are counted as user messages (the API rejects a
// system role inside the message list). The second return value is the
// flat charge for blocks the API request omits.
func convertForCounting(messages []*storage.Message) ([]anthropic.MessageParam, int) {
	params := make([]anthropic.MessageParam, 0, len(messages))
	extra := 0

	for _, msg := range messages {
		if msg == nil {
			continue
		}

		role := anthropic.MessageParamRoleUser
		if msg.Role == storage.RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}

		content := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Content))
		for _, block := range msg.Content {
			switch block.Type {
			case storage.ContentTypeText:
				content = append(content, anthropic.NewTextBlock(block.Text))
			case storage.ContentTypeImage, storage.ContentTypeDocument:
				extra += mediaBlockTokens
			default:
				if block.Text != "" {
					content = append(content, anthropic.NewTextBlock(block.Text))
				}
			}
		}

		if len(content) > 0 {
			params = append(params, anthropic.MessageParam{Role: role, Content: content})
		}
	}

	return params, extra
}

// cacheKey hashes the counting request so API results can be reused.
func cacheKey(messages []*storage.Message, model string) (string, error) {
	payload, err := json.Marshal(messages)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(payload)
	return fmt.Sprintf("%s:%x", model, hash[:8]), nil
}
