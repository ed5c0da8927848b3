package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const (
	openaiDefaultBaseURL = "https://api.openai.com/v1"
	openaiDefaultModel   = "text-embedding-3-small"

	// openaiBatchSize stays well under the API's 2048-input ceiling to keep
	// within per-request token limits.
	openaiBatchSize = 100
)

// OpenAIProvider implements Provider using OpenAI's embeddings API.
type OpenAIProvider struct {
	client     *http.Client
	apiKey     string
	baseURL    string
	model      string
	dimensions int
	truncate   bool
}

type openaiRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions *int     `json:"dimensions,omitempty"`
}

type openaiResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

type openaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// NewOpenAIProvider creates an OpenAI embedding provider.
func NewOpenAIProvider(cfg Config) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for the OpenAI provider")
	}

	model := cfg.Model
	if model == "" {
		model = openaiDefaultModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openaiDefaultBaseURL
	}
	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = DefaultDimensions
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	return &OpenAIProvider{
		client:     &http.Client{Timeout: timeout},
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		model:      model,
		dimensions: dimensions,
		truncate:   cfg.Truncate,
	}, nil
}

// Embed generates embeddings for the given texts, batching into as few API
// calls as the input size allows and preserving input order.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += openaiBatchSize {
		end := min(i+openaiBatchSize, len(texts))
		vectors, err := p.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		results = append(results, vectors...)
	}

	return conform(ProviderOpenAI, results, p.dimensions, p.truncate)
}

func (p *OpenAIProvider) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	// text-embedding-3 models accept an explicit output dimensionality.
	reqBody := openaiRequest{
		Model:      p.model,
		Input:      texts,
		Dimensions: &p.dimensions,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderOpenAI, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderOpenAI, Status: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		var errResp openaiErrorResponse
		message := "request failed"
		if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
			message = errResp.Error.Message
		}
		return nil, &ProviderError{Provider: ProviderOpenAI, Status: resp.StatusCode, Message: message}
	}

	var response openaiResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, &ProviderError{Provider: ProviderOpenAI, Status: resp.StatusCode, Message: "failed to decode response"}
	}
	if len(response.Data) != len(texts) {
		return nil, &ProviderError{
			Provider: ProviderOpenAI,
			Status:   resp.StatusCode,
			Message:  fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(response.Data)),
		}
	}

	// The API tags each embedding with its input index; order by it.
	vectors := make([][]float32, len(texts))
	for _, item := range response.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, &ProviderError{Provider: ProviderOpenAI, Status: resp.StatusCode, Message: "embedding index out of range"}
		}
		vectors[item.Index] = item.Embedding
	}

	return vectors, nil
}

// Dimensions returns the fixed output dimensionality.
func (p *OpenAIProvider) Dimensions() int {
	return p.dimensions
}

// Model returns the model name in use.
func (p *OpenAIProvider) Model() string {
	return p.model
}

// Close releases transport resources.
func (p *OpenAIProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

var _ Provider = (*OpenAIProvider)(nil)
