// Package search orchestrates hybrid search against a tenant's graph
// backend: vector similarity over a stored embedding property when
// embeddings are enabled, keyword matching otherwise, with optional
// one-hop neighbor expansion of the matches.
package search

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/konnektr-io/graph-mcp/pkg/embeddings"
	"github.com/konnektr-io/graph-mcp/pkg/graph"
)

const (
	// DefaultLimit bounds result sets when the caller does not ask for a
	// specific size.
	DefaultLimit = 10

	// maxNeighborFetches caps concurrent relationship lookups during
	// neighbor expansion.
	maxNeighborFetches = 4
)

// Query describes one search invocation. A fresh call re-executes the full
// search; results are never cached or resumable.
type Query struct {
	// Text is the free-text query. Required.
	Text string

	// ModelFilter restricts matches to twins of the given model ID.
	ModelFilter string

	// EmbeddingProperty names the stored vector property to rank against.
	// Empty means keyword search.
	EmbeddingProperty string

	// Metric selects the distance function for the vector path. Defaults
	// to cosine.
	Metric graph.DistanceMetric

	// Limit bounds the number of top-level matches. Zero means DefaultLimit.
	Limit int

	// IncludeNeighbors attaches each match's directly connected entities,
	// in both directions, without re-ranking.
	IncludeNeighbors bool
}

// Neighbors holds a match's one-hop connections.
type Neighbors struct {
	Outgoing []graph.Relationship         `json:"outgoing"`
	Incoming []graph.IncomingRelationship `json:"incoming"`
}

// Result is one ranked match. Distance is meaningful only on the vector
// path; the keyword path reports the backend's relevance order with a zero
// distance.
type Result struct {
	Twin      graph.Twin `json:"twin"`
	Distance  float64    `json:"distance"`
	Neighbors *Neighbors `json:"neighbors,omitempty"`
}

// Backend is the slice of the graph client the orchestrator needs.
type Backend interface {
	SearchTwins(ctx context.Context, req graph.SearchRequest) ([]graph.SearchMatch, error)
	ListRelationships(ctx context.Context, twinID, relationshipName string) ([]graph.Relationship, error)
	IncomingRelationships(ctx context.Context, twinID string) ([]graph.IncomingRelationship, error)
}

// Searcher executes hybrid searches. The embedding provider is shared
// read-only configuration; the backend is per-request.
type Searcher struct {
	provider embeddings.Provider
}

// NewSearcher creates a Searcher. A nil provider means embeddings are
// disabled; queries naming an embedding property will fail with
// embeddings.ErrDisabled rather than silently degrading.
func NewSearcher(provider embeddings.Provider) *Searcher {
	return &Searcher{provider: provider}
}

// Search runs the query against the given backend and returns matches
// ordered ascending by distance (vector path) or by backend relevance
// (keyword path). Equal distances keep the backend's native order. An
// empty result is a valid outcome, not an error.
func (s *Searcher) Search(ctx context.Context, backend Backend, q Query) ([]Result, error) {
	if q.Text == "" {
		return nil, fmt.Errorf("search text is required")
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	req := graph.SearchRequest{
		Text:    q.Text,
		ModelID: q.ModelFilter,
		Limit:   limit,
	}

	if q.EmbeddingProperty != "" {
		if s.provider == nil {
			return nil, fmt.Errorf("embedding search over %q: %w", q.EmbeddingProperty, embeddings.ErrDisabled)
		}
		vectors, err := s.provider.Embed(ctx, []string{q.Text})
		if err != nil {
			return nil, fmt.Errorf("failed to embed query text: %w", err)
		}
		if len(vectors) != 1 {
			return nil, fmt.Errorf("expected one query vector, got %d", len(vectors))
		}
		req.Vector = vectors[0]
		req.VectorProperty = q.EmbeddingProperty
		req.Metric = q.Metric
		if req.Metric == "" {
			req.Metric = graph.MetricCosine
		}
	}

	matches, err := backend.SearchTwins(ctx, req)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(matches))
	for i, m := range matches {
		results[i] = Result{Twin: m.Twin, Distance: m.Distance}
	}

	if q.IncludeNeighbors {
		if err := s.expandNeighbors(ctx, backend, results); err != nil {
			return nil, err
		}
	}

	return results, nil
}

// expandNeighbors attaches one-hop connections to each result in place.
// Lookups run concurrently per match; the result order never changes.
func (s *Searcher) expandNeighbors(ctx context.Context, backend Backend, results []Result) error {
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(maxNeighborFetches)

	for i := range results {
		twinID := results[i].Twin.ID()
		if twinID == "" {
			continue
		}
		group.Go(func() error {
			outgoing, err := backend.ListRelationships(ctx, twinID, "")
			if err != nil {
				return fmt.Errorf("failed to list relationships for %s: %w", twinID, err)
			}
			incoming, err := backend.IncomingRelationships(ctx, twinID)
			if err != nil {
				return fmt.Errorf("failed to list incoming relationships for %s: %w", twinID, err)
			}
			results[i].Neighbors = &Neighbors{Outgoing: outgoing, Incoming: incoming}
			return nil
		})
	}

	return group.Wait()
}
