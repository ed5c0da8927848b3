package embeddings

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const (
	geminiDefaultModel = "gemini-embedding-001"

	// geminiBatchSize matches the embed_content per-request input limit.
	geminiBatchSize = 100
)

// GeminiProvider implements Provider using the Gemini API.
type GeminiProvider struct {
	client     *genai.Client
	model      string
	dimensions int
	truncate   bool
}

// NewGeminiProvider creates a Gemini embedding provider.
func NewGeminiProvider(cfg Config) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for the Gemini provider")
	}

	model := cfg.Model
	if model == "" {
		model = geminiDefaultModel
	}
	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = DefaultDimensions
	}

	// Constructors shouldn't require a caller context; the client does no
	// I/O until the first request.
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiProvider{
		client:     client,
		model:      model,
		dimensions: dimensions,
		truncate:   cfg.Truncate,
	}, nil
}

// Embed generates embeddings for the given texts, preserving input order.
func (p *GeminiProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += geminiBatchSize {
		end := min(i+geminiBatchSize, len(texts))
		vectors, err := p.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		results = append(results, vectors...)
	}

	return conform(ProviderGemini, results, p.dimensions, p.truncate)
}

func (p *GeminiProvider) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
	}

	resp, err := p.client.Models.EmbedContent(ctx, p.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: genai.Ptr(int32(p.dimensions)),
	})
	if err != nil {
		return nil, &ProviderError{Provider: ProviderGemini, Message: err.Error()}
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, &ProviderError{
			Provider: ProviderGemini,
			Message:  fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings)),
		}
	}

	vectors := make([][]float32, len(texts))
	for i, embedding := range resp.Embeddings {
		if embedding == nil {
			return nil, &ProviderError{Provider: ProviderGemini, Message: fmt.Sprintf("missing embedding for input %d", i)}
		}
		vectors[i] = embedding.Values
	}

	return vectors, nil
}

// Dimensions returns the fixed output dimensionality.
func (p *GeminiProvider) Dimensions() int {
	return p.dimensions
}

// Model returns the model name in use.
func (p *GeminiProvider) Model() string {
	return p.model
}

// Close releases client resources.
func (p *GeminiProvider) Close() error {
	return nil
}

var _ Provider = (*GeminiProvider)(nil)
