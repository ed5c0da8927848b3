// Package graph implements the HTTP client for a tenant's graph API
// deployment. Each client is scoped to a single tenant and a single request:
// it is constructed from the per-request endpoint and credential, performs no
// I/O until the first call, and is released when the request ends.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/konnektr-io/graph-mcp/pkg/logger"
)

const (
	// defaultTimeout bounds a single backend call.
	defaultTimeout = 30 * time.Second

	// maxTries is the total number of attempts for a transient failure,
	// including the first one. Client errors are never retried.
	maxTries = 3

	// tenantPlaceholder is substituted with the tenant ID in the endpoint
	// template.
	tenantPlaceholder = "{resource_id}"
)

// ErrBackendUnavailable indicates the tenant's backend could not be reached
// or kept failing after bounded retries. The wrapped message carries the
// tenant for diagnostics.
var ErrBackendUnavailable = errors.New("backend unavailable")

// ErrNotFound indicates the requested entity does not exist in the tenant's
// graph.
var ErrNotFound = errors.New("not found")

// APIError is a non-retryable error response from the backend, typically a
// DTDL validation failure. The backend's message is preserved because it is
// the actionable part for the caller.
type APIError struct {
	Status  int
	Tenant  string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph API error (tenant %s, status %d): %s", e.Tenant, e.Status, e.Message)
}

// EndpointForTenant resolves the configured endpoint template for a tenant.
func EndpointForTenant(template, tenant string) string {
	return strings.ReplaceAll(template, tenantPlaceholder, tenant)
}

// Client talks to one tenant's graph API. It holds no mutable state beyond
// the embedded http.Client and must not be shared across requests.
type Client struct {
	endpoint string
	tenant   string
	token    string
	client   *http.Client
}

// NewClient creates a client for the given tenant endpoint. The bearer token
// is attached to every outbound call. Construction performs no network I/O.
func NewClient(endpoint, tenant, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		tenant:   tenant,
		token:    token,
		client:   &http.Client{Timeout: timeout},
	}
}

// Endpoint returns the tenant-specific base URL this client targets.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Tenant returns the tenant this client is scoped to.
func (c *Client) Tenant() string {
	return c.tenant
}

// Close releases the client's transport resources. The client must not be
// used afterwards.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}

// do performs one API call with bounded retries on transport errors and 5xx
// responses. 4xx responses are permanent and returned as *APIError (404 as
// ErrNotFound). The result is the raw response body.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	reqURL := c.endpoint + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	operation := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}

		switch {
		case resp.StatusCode >= http.StatusInternalServerError:
			return nil, fmt.Errorf("backend returned status %d", resp.StatusCode)
		case resp.StatusCode == http.StatusNotFound:
			return nil, backoff.Permanent(fmt.Errorf("%w: %s", ErrNotFound, apiMessage(resp.StatusCode, respBody)))
		case resp.StatusCode >= http.StatusBadRequest:
			return nil, backoff.Permanent(&APIError{
				Status:  resp.StatusCode,
				Tenant:  c.tenant,
				Message: apiMessage(resp.StatusCode, respBody),
			})
		}

		return respBody, nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 250 * time.Millisecond

	respBody, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(maxTries),
		backoff.WithNotify(func(err error, duration time.Duration) {
			logger.Debugw("retrying backend call", "tenant", c.tenant, "path", path, "delay", duration, "error", err)
		}),
	)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: tenant %s: %v", ErrBackendUnavailable, c.tenant, err)
	}

	return respBody, nil
}

// apiMessage extracts the backend's error message from a response body,
// falling back to the status text when the body carries none. Raw upstream
// bodies are not propagated verbatim beyond this message field.
func apiMessage(status int, body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Error.Message != "" {
			return e.Error.Message
		}
		if e.Message != "" {
			return e.Message
		}
	}
	return http.StatusText(status)
}

// page is the envelope for list responses.
type page[T any] struct {
	Value             []T    `json:"value"`
	ContinuationToken string `json:"continuationToken,omitempty"`
}

// collect follows continuation tokens until the listing is exhausted.
func collect[T any](ctx context.Context, c *Client, method, path string, query url.Values, payload any) ([]T, error) {
	var out []T
	for {
		body, err := c.do(ctx, method, path, query, payload)
		if err != nil {
			return nil, err
		}

		var p page[T]
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("failed to decode listing: %w", err)
		}
		out = append(out, p.Value...)

		if p.ContinuationToken == "" {
			return out, nil
		}
		if query == nil {
			query = url.Values{}
		}
		query.Set("continuationToken", p.ContinuationToken)
	}
}

// ListModels lists DTDL models. When dependenciesFor is non-empty the
// listing is restricted to the dependency closure of those models.
func (c *Client) ListModels(ctx context.Context, dependenciesFor []string, includeDefinition bool) ([]ModelEntry, error) {
	query := url.Values{}
	if len(dependenciesFor) > 0 {
		query.Set("dependenciesFor", strings.Join(dependenciesFor, ","))
	}
	if includeDefinition {
		query.Set("includeModelDefinition", "true")
	}
	return collect[ModelEntry](ctx, c, http.MethodGet, "/models", query, nil)
}

// GetModel fetches one model's full DTDL definition.
func (c *Client) GetModel(ctx context.Context, modelID string) (*ModelEntry, error) {
	query := url.Values{"includeModelDefinition": []string{"true"}}
	body, err := c.do(ctx, http.MethodGet, "/models/"+url.PathEscape(modelID), query, nil)
	if err != nil {
		return nil, err
	}
	var entry ModelEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}
	return &entry, nil
}

// CreateModels uploads DTDL model definitions. The backend validates DTDL
// syntax and dependency presence.
func (c *Client) CreateModels(ctx context.Context, models []json.RawMessage) error {
	_, err := c.do(ctx, http.MethodPost, "/models", nil, models)
	return err
}

// SearchModels runs the backend's model search over IDs, display names and
// descriptions.
func (c *Client) SearchModels(ctx context.Context, req SearchRequest) ([]ModelSearchResult, error) {
	return collect[ModelSearchResult](ctx, c, http.MethodPost, "/models/search", nil, req)
}

// GetTwin fetches a digital twin by ID.
func (c *Client) GetTwin(ctx context.Context, twinID string) (Twin, error) {
	body, err := c.do(ctx, http.MethodGet, "/digitaltwins/"+url.PathEscape(twinID), nil, nil)
	if err != nil {
		return nil, err
	}
	var twin Twin
	if err := json.Unmarshal(body, &twin); err != nil {
		return nil, fmt.Errorf("failed to decode twin: %w", err)
	}
	return twin, nil
}

// UpsertTwin creates or replaces a digital twin.
func (c *Client) UpsertTwin(ctx context.Context, twinID string, twin Twin) (Twin, error) {
	body, err := c.do(ctx, http.MethodPut, "/digitaltwins/"+url.PathEscape(twinID), nil, twin)
	if err != nil {
		return nil, err
	}
	var out Twin
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode twin: %w", err)
	}
	return out, nil
}

// UpdateTwin applies a JSON Patch to a digital twin.
func (c *Client) UpdateTwin(ctx context.Context, twinID string, patch []PatchOperation) error {
	_, err := c.do(ctx, http.MethodPatch, "/digitaltwins/"+url.PathEscape(twinID), nil, patch)
	return err
}

// DeleteTwin deletes a digital twin. The backend rejects the deletion while
// relationships still reference the twin.
func (c *Client) DeleteTwin(ctx context.Context, twinID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/digitaltwins/"+url.PathEscape(twinID), nil, nil)
	return err
}

// ListRelationships lists a twin's outgoing relationships, optionally
// filtered by relationship name.
func (c *Client) ListRelationships(ctx context.Context, twinID, relationshipName string) ([]Relationship, error) {
	query := url.Values{}
	if relationshipName != "" {
		query.Set("relationshipName", relationshipName)
	}
	return collect[Relationship](ctx, c, http.MethodGet, "/digitaltwins/"+url.PathEscape(twinID)+"/relationships", query, nil)
}

// IncomingRelationships lists the relationships that point at a twin.
func (c *Client) IncomingRelationships(ctx context.Context, twinID string) ([]IncomingRelationship, error) {
	return collect[IncomingRelationship](ctx, c, http.MethodGet, "/digitaltwins/"+url.PathEscape(twinID)+"/incomingrelationships", nil, nil)
}

// GetRelationship fetches one relationship by ID.
func (c *Client) GetRelationship(ctx context.Context, twinID, relationshipID string) (Relationship, error) {
	body, err := c.do(ctx, http.MethodGet, relationshipPath(twinID, relationshipID), nil, nil)
	if err != nil {
		return nil, err
	}
	var rel Relationship
	if err := json.Unmarshal(body, &rel); err != nil {
		return nil, fmt.Errorf("failed to decode relationship: %w", err)
	}
	return rel, nil
}

// UpsertRelationship creates or replaces a relationship on the source twin.
func (c *Client) UpsertRelationship(ctx context.Context, twinID, relationshipID string, rel Relationship) (Relationship, error) {
	body, err := c.do(ctx, http.MethodPut, relationshipPath(twinID, relationshipID), nil, rel)
	if err != nil {
		return nil, err
	}
	var out Relationship
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode relationship: %w", err)
	}
	return out, nil
}

// UpdateRelationship applies a JSON Patch to a relationship.
func (c *Client) UpdateRelationship(ctx context.Context, twinID, relationshipID string, patch []PatchOperation) error {
	_, err := c.do(ctx, http.MethodPatch, relationshipPath(twinID, relationshipID), nil, patch)
	return err
}

// DeleteRelationship deletes a relationship.
func (c *Client) DeleteRelationship(ctx context.Context, twinID, relationshipID string) error {
	_, err := c.do(ctx, http.MethodDelete, relationshipPath(twinID, relationshipID), nil, nil)
	return err
}

func relationshipPath(twinID, relationshipID string) string {
	return "/digitaltwins/" + url.PathEscape(twinID) + "/relationships/" + url.PathEscape(relationshipID)
}

// Query executes a query in the graph query language and returns the raw
// result rows.
func (c *Client) Query(ctx context.Context, queryText string) ([]map[string]any, error) {
	payload := map[string]string{"query": queryText}
	return collect[map[string]any](ctx, c, http.MethodPost, "/query", nil, payload)
}

// SearchTwins submits a combined search predicate and returns matches in the
// backend's order: ascending distance on the vector path, backend-defined
// relevance on the keyword path. Equal distances keep backend-native order.
func (c *Client) SearchTwins(ctx context.Context, req SearchRequest) ([]SearchMatch, error) {
	return collect[SearchMatch](ctx, c, http.MethodPost, "/search", nil, req)
}
