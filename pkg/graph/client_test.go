package graph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTenant = "acme"

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(server.URL, testTenant, "test-token", 5*time.Second)
	t.Cleanup(client.Close)
	return client
}

func TestEndpointForTenant(t *testing.T) {
	t.Parallel()

	got := EndpointForTenant("https://{resource_id}.api.graph.konnektr.io", "acme")
	assert.Equal(t, "https://acme.api.graph.konnektr.io", got)
}

func TestClientSendsBearerToken(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"$dtId": "room-1"}`))
	}))

	twin, err := client.GetTwin(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, "room-1", twin.ID())
}

func TestClientRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int64
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"$dtId": "room-1"}`))
	}))

	twin, err := client.GetTwin(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, "room-1", twin.ID())
	assert.Equal(t, int64(3), attempts.Load())
}

func TestClientGivesUpAfterMaxTries(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int64
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := client.GetTwin(context.Background(), "room-1")
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.Contains(t, err.Error(), testTenant, "backend failures must name the tenant")
	assert.Equal(t, int64(maxTries), attempts.Load())
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int64
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"message": "invalid DTDL"}}`))
	}))

	err := client.CreateModels(context.Background(), []json.RawMessage{json.RawMessage(`{}`)})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "invalid DTDL", apiErr.Message)
	assert.Equal(t, testTenant, apiErr.Tenant)
	assert.Equal(t, int64(1), attempts.Load(), "4xx responses are permanent")
}

func TestClientErrorMessageFallsBackToStatusText(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`not json`))
	}))

	err := client.CreateModels(context.Background(), []json.RawMessage{json.RawMessage(`{}`)})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Equal(t, http.StatusText(http.StatusUnprocessableEntity), apiErr.Message)
}

func TestClientNotFound(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int64
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message": "twin not found"}`))
	}))

	_, err := client.GetTwin(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int64(1), attempts.Load())
}

func TestClientUnreachableBackend(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()
	client := NewClient(server.URL, testTenant, "", time.Second)

	_, err := client.GetTwin(context.Background(), "room-1")
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestListModelsPagination(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/models", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("continuationToken") == "" {
			_, _ = w.Write([]byte(`{
				"value": [{"id": "dtmi:example:Room;1"}, {"id": "dtmi:example:Floor;1"}],
				"continuationToken": "page-2"
			}`))
			return
		}
		_, _ = w.Write([]byte(`{"value": [{"id": "dtmi:example:Building;1"}]}`))
	}))

	models, err := client.ListModels(context.Background(), nil, false)
	require.NoError(t, err)
	require.Len(t, models, 3)
	assert.Equal(t, "dtmi:example:Room;1", models[0].ID)
	assert.Equal(t, "dtmi:example:Building;1", models[2].ID)
}

func TestListModelsDependencyFilter(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "dtmi:example:Room;1,dtmi:example:Floor;1", r.URL.Query().Get("dependenciesFor"))
		_, _ = w.Write([]byte(`{"value": []}`))
	}))

	_, err := client.ListModels(context.Background(), []string{"dtmi:example:Room;1", "dtmi:example:Floor;1"}, false)
	require.NoError(t, err)
}

func TestUpsertTwinRoundTrip(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/digitaltwins/room-1", r.URL.Path)

		var twin Twin
		require.NoError(t, json.NewDecoder(r.Body).Decode(&twin))
		twin["$dtId"] = "room-1"
		_ = json.NewEncoder(w).Encode(twin)
	}))

	twin := Twin{
		"$metadata":   map[string]any{"$model": "dtmi:example:Room;1"},
		"temperature": 21.5,
	}
	out, err := client.UpsertTwin(context.Background(), "room-1", twin)
	require.NoError(t, err)
	assert.Equal(t, "room-1", out.ID())
	assert.Equal(t, "dtmi:example:Room;1", out.Model())
}

func TestUpdateTwinSendsPatch(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)

		var patch []PatchOperation
		require.NoError(t, json.NewDecoder(r.Body).Decode(&patch))
		require.Len(t, patch, 1)
		assert.Equal(t, "replace", patch[0].Op)
		assert.Equal(t, "/temperature", patch[0].Path)

		w.WriteHeader(http.StatusNoContent)
	}))

	err := client.UpdateTwin(context.Background(), "room-1", []PatchOperation{
		{Op: "replace", Path: "/temperature", Value: 22.0},
	})
	require.NoError(t, err)
}

func TestRelationshipPathEscaping(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/digitaltwins/room%2F1/relationships/rel%2F1", r.URL.EscapedPath())
		_, _ = w.Write([]byte(`{"$relationshipId": "rel/1"}`))
	}))

	rel, err := client.GetRelationship(context.Background(), "room/1", "rel/1")
	require.NoError(t, err)
	assert.Equal(t, "rel/1", rel.ID())
}

func TestQuery(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/query", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "SELECT * FROM digitaltwins", req["query"])

		_, _ = w.Write([]byte(`{"value": [{"$dtId": "room-1"}, {"$dtId": "room-2"}]}`))
	}))

	rows, err := client.Query(context.Background(), "SELECT * FROM digitaltwins")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestSearchTwins(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)

		var req SearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "warm", req.Text)
		assert.Equal(t, MetricCosine, req.Metric)
		assert.Len(t, req.Vector, 4)

		_, _ = w.Write([]byte(`{"value": [
			{"twin": {"$dtId": "room-1"}, "distance": 0.12},
			{"twin": {"$dtId": "room-2"}, "distance": 0.37}
		]}`))
	}))

	matches, err := client.SearchTwins(context.Background(), SearchRequest{
		Text:           "warm",
		Vector:         []float32{0.1, 0.2, 0.3, 0.4},
		VectorProperty: "contentEmbedding",
		Metric:         MetricCosine,
		Limit:          10,
	})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "room-1", matches[0].Twin.ID())
	assert.InDelta(t, 0.12, matches[0].Distance, 1e-9)
}

func TestIncomingRelationships(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/digitaltwins/room-1/incomingrelationships", r.URL.Path)
		_, _ = w.Write([]byte(`{"value": [
			{"$relationshipId": "rel-1", "$sourceId": "floor-1", "$relationshipName": "contains"}
		]}`))
	}))

	incoming, err := client.IncomingRelationships(context.Background(), "room-1")
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, "floor-1", incoming[0].SourceID)
	assert.Equal(t, "contains", incoming[0].RelationshipName)
}
