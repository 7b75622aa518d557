package attributes

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-auth/internal/config"
)

// Provider names accepted by New.
const (
	ProviderNone   = "none"
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// New builds the provider selected in cfg. It returns nil, nil when attributes are disabled.
func New(ctx context.Context, cfg config.AttributesConfig) (Provider, error) {
	switch cfg.Provider {
	case "", ProviderNone:
		return nil, nil
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, errors.New("GEMINI_API_KEY is required for the gemini attributes provider")
		}
		p, err := NewGeminiProvider(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		return p, nil
	case ProviderOpenAI:
		if cfg.OpenAIToken == "" {
			return nil, errors.New("OPENAI_TOKEN is required for the openai attributes provider")
		}
		return NewOpenAIProvider(cfg.OpenAIToken), nil
	default:
		return nil, fmt.Errorf("unknown attributes provider %q", cfg.Provider)
	}
}
