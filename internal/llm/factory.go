package llm

import (
	"fmt"
	"strings"

	"github.com/Veraticus/the-receipts-must-match/internal/extraction"
)

// NewProvider creates an extraction provider for the configured LLM.
func NewProvider(cfg Config) (extraction.Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		p, err := NewOpenAIProvider(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "anthropic":
		p, err := NewAnthropicProvider(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
