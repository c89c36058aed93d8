package chatctx

import "fmt"

// Default configuration values.
const (
	// DefaultReserveTokens is the capacity withheld from every context
	// window for the upcoming user turn and the model's own response.
	DefaultReserveTokens = 5000

	// DefaultTokenThreshold is the unsummarized token count above which
	// a thread becomes due for compaction. Independent of the model's
	// context window.
	DefaultTokenThreshold = 120000

	// DefaultSummaryTargetTokens is the token budget a compaction
	// summary should aim for.
	DefaultSummaryTargetTokens = 10000
)

// ModelInfo contains model-specific parameters
type ModelInfo struct {
	MaxContextTokens int
	DefaultMaxTokens int
}

// KnownModels maps model IDs to their capabilities
var KnownModels = map[string]ModelInfo{
	// Claude 4 models
	"claude-sonnet-4-5-20250929": {MaxContextTokens: 200000, DefaultMaxTokens: 16384},
	"claude-opus-4-5-20251101":   {MaxContextTokens: 200000, DefaultMaxTokens: 16384},
	// Claude 3.5 models
	"claude-3-5-sonnet-20241022": {MaxContextTokens: 200000, DefaultMaxTokens: 8192},
	"claude-3-5-haiku-20241022":  {MaxContextTokens: 200000, DefaultMaxTokens: 8192},
	// Claude 3 models
	"claude-3-opus-20240229":   {MaxContextTokens: 200000, DefaultMaxTokens: 4096},
	"claude-3-sonnet-20240229": {MaxContextTokens: 200000, DefaultMaxTokens: 4096},
	"claude-3-haiku-20240307":  {MaxContextTokens: 200000, DefaultMaxTokens: 4096},
}

// GetModelInfo returns model info, using sensible defaults for unknown models
func GetModelInfo(model string) ModelInfo {
	if info, ok := KnownModels[model]; ok {
		return info
	}
	// Sensible defaults for unknown models
	return ModelInfo{MaxContextTokens: 200000, DefaultMaxTokens: 8192}
}

// Config holds the tunable parameters of a Manager. The zero value is
// usable; ApplyDefaults fills in unset fields.
type Config struct {
	// ReserveTokens is subtracted from every window's budget to leave
	// headroom for the next user turn and the model's response.
	// Default: 5000
	ReserveTokens int

	// TokenThreshold is the unsummarized token count above which
	// Evaluate reports a thread as due for compaction.
	// Default: 120000
	TokenThreshold int

	// SummaryTargetTokens is the token budget suggested to the
	// summarizer for compaction summaries.
	// Default: 10000
	SummaryTargetTokens int
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.ReserveTokens == 0 {
		c.ReserveTokens = DefaultReserveTokens
	}
	if c.TokenThreshold == 0 {
		c.TokenThreshold = DefaultTokenThreshold
	}
	if c.SummaryTargetTokens == 0 {
		c.SummaryTargetTokens = DefaultSummaryTargetTokens
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ReserveTokens < 0 {
		return fmt.Errorf("%w: reserve_tokens must be non-negative, got %d", ErrInvalidConfig, c.ReserveTokens)
	}
	if c.TokenThreshold <= 0 {
		return fmt.Errorf("%w: token_threshold must be positive, got %d", ErrInvalidConfig, c.TokenThreshold)
	}
	if c.SummaryTargetTokens <= 0 {
		return fmt.Errorf("%w: summary_target_tokens must be positive, got %d", ErrInvalidConfig, c.SummaryTargetTokens)
	}
	return nil
}
