// Package embeddings provides a uniform interface over the supported
// embedding backends. Providers form a closed set selected by configuration;
// every provider returns vectors of the configured fixed dimensionality.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Supported provider kinds.
const (
	ProviderOpenAI = "openai"
	ProviderAzure  = "azure"
	ProviderGemini = "gemini"
)

// DefaultDimensions is the process-wide vector dimensionality unless
// configured otherwise.
const DefaultDimensions = 1024

// defaultTimeout bounds a single provider API call.
const defaultTimeout = 30 * time.Second

// ErrDisabled indicates embeddings are switched off by configuration.
// Callers that need embeddings fail with this error; degrading to
// keyword-only behavior is the caller's explicit decision, never implicit.
var ErrDisabled = errors.New("embeddings are disabled")

// ProviderError is a failure reported by an embedding backend. It carries
// the provider name and the upstream status so callers can tell providers
// apart in diagnostics; upstream bodies are summarized, not passed through.
type ProviderError struct {
	Provider string
	Status   int
	Message  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider %s failed (status %d): %s", e.Provider, e.Status, e.Message)
}

// Provider generates fixed-dimension embedding vectors from text.
//
// Embed batches the input into as few upstream calls as the provider allows
// and returns one vector per input text, in input order. Vectors have
// exactly the configured dimensionality; a provider returning a different
// dimensionality is an error unless truncation was explicitly configured.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Model() string
	Close() error
}

// Config selects and configures the embedding provider.
type Config struct {
	// Enabled switches embeddings on. When false no provider is
	// constructed and embedding-dependent operations fail with ErrDisabled.
	Enabled bool `mapstructure:"enabled"`

	// Provider is one of openai, azure, gemini.
	Provider string `mapstructure:"provider"`

	// APIKey authenticates against the provider.
	APIKey string `mapstructure:"api_key"`

	// Model is the embedding model identifier. Defaults are per provider.
	Model string `mapstructure:"model"`

	// Dimensions is the fixed output dimensionality (default 1024).
	Dimensions int `mapstructure:"dimensions"`

	// Truncate opts into truncating oversized provider vectors instead of
	// erroring. Off by default: a dimensionality mismatch is a hard error.
	Truncate bool `mapstructure:"truncate"`

	// BaseURL overrides the OpenAI endpoint, for OpenAI-compatible APIs.
	BaseURL string `mapstructure:"base_url"`

	// Azure specifics.
	AzureEndpoint   string `mapstructure:"azure_endpoint"`
	AzureDeployment string `mapstructure:"azure_deployment"`
	AzureAPIVersion string `mapstructure:"azure_api_version"`

	// Timeout bounds one provider API call.
	Timeout time.Duration `mapstructure:"timeout"`
}

// conform checks every vector against the fixed dimensionality. When
// truncate is set, oversized vectors are cut down; anything else that does
// not match is a hard error, never a silent reshape.
func conform(provider string, vectors [][]float32, dimensions int, truncate bool) ([][]float32, error) {
	for i, vec := range vectors {
		if len(vec) == dimensions {
			continue
		}
		if truncate && len(vec) > dimensions {
			vectors[i] = vec[:dimensions]
			continue
		}
		return nil, &ProviderError{
			Provider: provider,
			Message:  fmt.Sprintf("expected %d-dimensional vector, got %d", dimensions, len(vec)),
		}
	}
	return vectors, nil
}
