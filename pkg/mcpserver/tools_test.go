package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/konnektr-io/graph-mcp/pkg/graph"
	"github.com/konnektr-io/graph-mcp/pkg/search"
	"github.com/konnektr-io/graph-mcp/pkg/tenant"
)

type stubProvider struct {
	dimensions int
}

func (p *stubProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = make([]float32, p.dimensions)
	}
	return vectors, nil
}

func (p *stubProvider) Dimensions() int { return p.dimensions }
func (*stubProvider) Model() string     { return "stub" }
func (*stubProvider) Close() error      { return nil }

// tenantContext builds a per-request context whose backend client points at
// the given server, the way the middleware chain would for a live request.
func tenantContext(t *testing.T, backendURL string) context.Context {
	t.Helper()

	builder, err := tenant.NewBuilder(backendURL+"/{resource_id}", 5*time.Second)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/mcp?resource_id=t1", nil)
	rc, err := builder.Build(req)
	require.NoError(t, err)
	t.Cleanup(rc.Release)

	return tenant.WithRequestContext(context.Background(), rc)
}

func searchToolRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = "search_digital_twins"
	req.Params.Arguments = args
	return req
}

func TestSearchDigitalTwinsMetricReachesBackend(t *testing.T) {
	var received graph.SearchRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/t1/search", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"value": []map[string]any{
				{"twin": map[string]any{"$dtId": "a"}, "distance": 0.3},
			},
		})
	}))
	defer ts.Close()

	s := New("test", search.NewSearcher(&stubProvider{dimensions: 4}))
	ctx := tenantContext(t, ts.URL)

	result, err := s.searchDigitalTwins(ctx, searchToolRequest(map[string]any{
		"search_text":        "warm rooms",
		"embedding_property": "contentEmbedding",
		"distance_metric":    "euclidean",
	}))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.IsError)

	assert.Equal(t, graph.MetricEuclidean, received.Metric)
	assert.Equal(t, "contentEmbedding", received.VectorProperty)
	assert.Len(t, received.Vector, 4)
}

func TestSearchDigitalTwinsUnknownMetric(t *testing.T) {
	t.Parallel()

	s := New("test", search.NewSearcher(nil))

	result, err := s.searchDigitalTwins(context.Background(), searchToolRequest(map[string]any{
		"search_text":     "warm rooms",
		"distance_metric": "manhattan",
	}))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.IsError)
}

func TestSearchDigitalTwinsWithoutRequestContext(t *testing.T) {
	t.Parallel()

	s := New("test", search.NewSearcher(nil))

	result, err := s.searchDigitalTwins(context.Background(), searchToolRequest(map[string]any{
		"search_text": "warm rooms",
	}))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.IsError)
}
