package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const azureDefaultAPIVersion = "2024-02-01"

// AzureProvider implements Provider using an Azure OpenAI deployment.
// It speaks the same embeddings wire format as OpenAI but addresses a
// named deployment and authenticates with an api-key header.
type AzureProvider struct {
	client     *http.Client
	apiKey     string
	endpoint   string
	deployment string
	apiVersion string
	model      string
	dimensions int
	truncate   bool
}

// NewAzureProvider creates an Azure OpenAI embedding provider.
func NewAzureProvider(cfg Config) (*AzureProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for the Azure provider")
	}
	if cfg.AzureEndpoint == "" {
		return nil, fmt.Errorf("endpoint is required for the Azure provider")
	}
	if cfg.AzureDeployment == "" {
		return nil, fmt.Errorf("deployment name is required for the Azure provider")
	}

	apiVersion := cfg.AzureAPIVersion
	if apiVersion == "" {
		apiVersion = azureDefaultAPIVersion
	}
	model := cfg.Model
	if model == "" {
		model = cfg.AzureDeployment
	}
	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = DefaultDimensions
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	return &AzureProvider{
		client:     &http.Client{Timeout: timeout},
		apiKey:     cfg.APIKey,
		endpoint:   strings.TrimRight(cfg.AzureEndpoint, "/"),
		deployment: cfg.AzureDeployment,
		apiVersion: apiVersion,
		model:      model,
		dimensions: dimensions,
		truncate:   cfg.Truncate,
	}, nil
}

// Embed generates embeddings for the given texts, preserving input order.
func (p *AzureProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
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

	return conform(ProviderAzure, results, p.dimensions, p.truncate)
}

func (p *AzureProvider) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	// The deployment already pins the model, so the body omits it.
	reqBody := struct {
		Input      []string `json:"input"`
		Dimensions *int     `json:"dimensions,omitempty"`
	}{
		Input:      texts,
		Dimensions: &p.dimensions,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/openai/deployments/%s/embeddings?api-version=%s",
		p.endpoint, url.PathEscape(p.deployment), url.QueryEscape(p.apiVersion))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderAzure, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderAzure, Status: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		var errResp openaiErrorResponse
		message := "request failed"
		if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
			message = errResp.Error.Message
		}
		return nil, &ProviderError{Provider: ProviderAzure, Status: resp.StatusCode, Message: message}
	}

	var response openaiResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, &ProviderError{Provider: ProviderAzure, Status: resp.StatusCode, Message: "failed to decode response"}
	}
	if len(response.Data) != len(texts) {
		return nil, &ProviderError{
			Provider: ProviderAzure,
			Status:   resp.StatusCode,
			Message:  fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(response.Data)),
		}
	}

	vectors := make([][]float32, len(texts))
	for _, item := range response.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, &ProviderError{Provider: ProviderAzure, Status: resp.StatusCode, Message: "embedding index out of range"}
		}
		vectors[item.Index] = item.Embedding
	}

	return vectors, nil
}

// Dimensions returns the fixed output dimensionality.
func (p *AzureProvider) Dimensions() int {
	return p.dimensions
}

// Model returns the model (deployment) name in use.
func (p *AzureProvider) Model() string {
	return p.model
}

// Close releases transport resources.
func (p *AzureProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

var _ Provider = (*AzureProvider)(nil)
