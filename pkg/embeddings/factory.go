package embeddings

import (
	"fmt"
)

// NewProvider builds a Provider from configuration. It returns (nil, nil)
// when embeddings are disabled, so callers can treat a nil provider as
// "vector features unavailable".
func NewProvider(cfg Config) (Provider, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Provider {
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg)
	case ProviderAzure:
		return NewAzureProvider(cfg)
	case ProviderGemini:
		return NewGeminiProvider(cfg)
	case "":
		return nil, fmt.Errorf("embedding provider not specified (want %q, %q, or %q)",
			ProviderOpenAI, ProviderAzure, ProviderGemini)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %q (want %q, %q, or %q)",
			cfg.Provider, ProviderOpenAI, ProviderAzure, ProviderGemini)
	}
}
