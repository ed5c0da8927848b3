package tenant

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/konnektr-io/graph-mcp/pkg/auth"
)

const testTemplate = "https://{resource_id}.api.graph.example.com"

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	builder, err := NewBuilder(testTemplate, 5*time.Second)
	require.NoError(t, err)
	return builder
}

func TestNewBuilderRejectsTemplateWithoutPlaceholder(t *testing.T) {
	t.Parallel()

	_, err := NewBuilder("https://fixed.api.graph.example.com", 5*time.Second)
	assert.Error(t, err)
}

func TestResolveTenant(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		target string
		header string
		want   string
	}{
		{"query param", "/mcp?resource_id=acme", "", "acme"},
		{"header fallback", "/mcp", "acme", "acme"},
		{"query wins over header", "/mcp?resource_id=from-query", "from-header", "from-query"},
		{"neither", "/mcp", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodPost, tt.target, nil)
			if tt.header != "" {
				req.Header.Set(HeaderName, tt.header)
			}
			assert.Equal(t, tt.want, ResolveTenant(req))
		})
	}
}

func TestBuildMissingTenant(t *testing.T) {
	t.Parallel()

	builder := newTestBuilder(t)
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)

	rc, err := builder.Build(req)
	assert.ErrorIs(t, err, ErrMissingTenant)
	assert.Nil(t, rc, "no backend client may be constructed without a tenant")
}

func TestBuildResolvesTenantEndpoint(t *testing.T) {
	t.Parallel()

	builder := newTestBuilder(t)

	req := httptest.NewRequest(http.MethodPost, "/mcp?resource_id=acme", nil)
	principal := &auth.Principal{Subject: "user-1", Token: "tok-1"}
	req = req.WithContext(auth.WithPrincipal(req.Context(), principal))

	rc, err := builder.Build(req)
	require.NoError(t, err)
	defer rc.Release()

	assert.Equal(t, "acme", rc.Tenant)
	assert.Equal(t, "https://acme.api.graph.example.com", rc.Client.Endpoint())
	assert.Equal(t, principal, rc.Principal)
	assert.NotEmpty(t, rc.ID)
}

func TestBuildDistinctTenantsDistinctClients(t *testing.T) {
	t.Parallel()

	builder := newTestBuilder(t)

	reqA := httptest.NewRequest(http.MethodPost, "/mcp?resource_id=tenant-a", nil)
	reqB := httptest.NewRequest(http.MethodPost, "/mcp?resource_id=tenant-b", nil)

	rcA, err := builder.Build(reqA)
	require.NoError(t, err)
	defer rcA.Release()
	rcB, err := builder.Build(reqB)
	require.NoError(t, err)
	defer rcB.Release()

	assert.NotSame(t, rcA.Client, rcB.Client)
	assert.NotEqual(t, rcA.Client.Endpoint(), rcB.Client.Endpoint())
	assert.Equal(t, "https://tenant-a.api.graph.example.com", rcA.Client.Endpoint())
	assert.Equal(t, "https://tenant-b.api.graph.example.com", rcB.Client.Endpoint())
}

func TestSameTenantStillSeparateClients(t *testing.T) {
	t.Parallel()

	builder := newTestBuilder(t)

	reqA := httptest.NewRequest(http.MethodPost, "/mcp?resource_id=acme", nil)
	reqB := httptest.NewRequest(http.MethodPost, "/mcp?resource_id=acme", nil)

	rcA, err := builder.Build(reqA)
	require.NoError(t, err)
	defer rcA.Release()
	rcB, err := builder.Build(reqB)
	require.NoError(t, err)
	defer rcB.Release()

	assert.NotSame(t, rcA.Client, rcB.Client, "client handles are never shared across requests")
	assert.NotEqual(t, rcA.ID, rcB.ID)
}

func TestReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	builder := newTestBuilder(t)
	req := httptest.NewRequest(http.MethodPost, "/mcp?resource_id=acme", nil)

	rc, err := builder.Build(req)
	require.NoError(t, err)

	rc.Release()
	assert.NotPanics(t, func() { rc.Release() })
}

func TestMiddlewareMissingTenant(t *testing.T) {
	t.Parallel()

	builder := newTestBuilder(t)
	var reached bool
	handler := Middleware(builder)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		reached = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, reached)
	assert.Contains(t, rec.Body.String(), "missing_tenant")
}

func TestMiddlewareInstallsRequestContext(t *testing.T) {
	t.Parallel()

	builder := newTestBuilder(t)
	var seen *RequestContext
	handler := Middleware(builder)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		rc, err := FromContext(r.Context())
		require.NoError(t, err)
		seen = rc
	}))

	req := httptest.NewRequest(http.MethodPost, "/mcp?resource_id=acme", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.NotNil(t, seen)
	assert.Equal(t, "acme", seen.Tenant)
}

func TestMiddlewareConcurrentTenantIsolation(t *testing.T) {
	t.Parallel()

	builder := newTestBuilder(t)

	endpoints := make(map[string]string)
	var mu sync.Mutex
	handler := Middleware(builder)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		rc, err := FromContext(r.Context())
		require.NoError(t, err)
		mu.Lock()
		endpoints[rc.Tenant] = rc.Client.Endpoint()
		mu.Unlock()
	}))

	var wg sync.WaitGroup
	for _, tenant := range []string{"alpha", "beta", "gamma"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/mcp?resource_id="+tenant, nil)
			handler.ServeHTTP(httptest.NewRecorder(), req)
		}()
	}
	wg.Wait()

	assert.Len(t, endpoints, 3)
	assert.Equal(t, "https://alpha.api.graph.example.com", endpoints["alpha"])
	assert.Equal(t, "https://beta.api.graph.example.com", endpoints["beta"])
	assert.Equal(t, "https://gamma.api.graph.example.com", endpoints["gamma"])
}

func TestFromContextMissing(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	_, err := FromContext(req.Context())
	assert.Error(t, err)
}
