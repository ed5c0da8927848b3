// Package tenant resolves the target tenant for each request and builds the
// per-request, tenant-scoped backend client.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/konnektr-io/graph-mcp/pkg/auth"
	"github.com/konnektr-io/graph-mcp/pkg/graph"
)

// Tenant selector carriers, in resolution order.
const (
	QueryParam = "resource_id"
	HeaderName = "X-Resource-Id"
)

// ErrMissingTenant indicates the request named no tenant in either the query
// parameter or the header. It is a client error; no backend client is
// constructed.
var ErrMissingTenant = errors.New("missing tenant identifier")

// RequestContext binds one request's tenant, verified principal and backend
// client together. Exactly one exists per in-flight request; it is never
// shared or reused across requests, even for the same tenant.
type RequestContext struct {
	// ID identifies the request in logs.
	ID string

	// Tenant is the opaque tenant identifier the request resolved to.
	Tenant string

	// Principal is the verified identity, or nil when auth is bypassed
	// without a synthetic principal.
	Principal *auth.Principal

	// Client is the tenant-scoped backend client.
	Client *graph.Client

	// CreatedAt is when the context was built.
	CreatedAt time.Time

	releaseOnce sync.Once
}

// Release releases the backend client handle. It is safe to call more than
// once but the handle must not be used after the first call. Release runs on
// every exit path, including cancellation.
func (rc *RequestContext) Release() {
	rc.releaseOnce.Do(func() {
		rc.Client.Close()
	})
}

// Builder constructs RequestContexts from inbound requests.
type Builder struct {
	endpointTemplate string
	backendTimeout   time.Duration
}

// NewBuilder creates a request context builder. The endpoint template must
// contain the {resource_id} placeholder.
func NewBuilder(endpointTemplate string, backendTimeout time.Duration) (*Builder, error) {
	if graph.EndpointForTenant(endpointTemplate, "x") == endpointTemplate {
		return nil, fmt.Errorf("endpoint template %q has no tenant placeholder", endpointTemplate)
	}
	return &Builder{
		endpointTemplate: endpointTemplate,
		backendTimeout:   backendTimeout,
	}, nil
}

// Build resolves the tenant for a request and constructs the tenant-scoped
// backend client. The verified token, if any, becomes the outbound
// credential. Client construction performs no network I/O.
//
// The caller must call Release on the returned context exactly once, on
// every exit path.
func (b *Builder) Build(r *http.Request) (*RequestContext, error) {
	tenant := ResolveTenant(r)
	if tenant == "" {
		return nil, ErrMissingTenant
	}

	principal, _ := auth.PrincipalFromContext(r.Context())
	token := ""
	if principal != nil {
		token = principal.Token
	}

	endpoint := graph.EndpointForTenant(b.endpointTemplate, tenant)
	client := graph.NewClient(endpoint, tenant, token, b.backendTimeout)

	return &RequestContext{
		ID:        uuid.NewString(),
		Tenant:    tenant,
		Principal: principal,
		Client:    client,
		CreatedAt: time.Now(),
	}, nil
}

// ResolveTenant extracts the tenant identifier from a request: the
// resource_id query parameter first, then the X-Resource-Id header.
// Returns "" if neither is present.
func ResolveTenant(r *http.Request) string {
	if tenant := r.URL.Query().Get(QueryParam); tenant != "" {
		return tenant
	}
	return r.Header.Get(HeaderName)
}

// RequestContextKey is the key used to store a RequestContext in the request
// context.
type RequestContextKey struct{}

// WithRequestContext stores a RequestContext in the context.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, RequestContextKey{}, rc)
}

// FromContext retrieves the RequestContext. Returns an error if none is
// present, which means the tenant middleware did not run for this request.
func FromContext(ctx context.Context) (*RequestContext, error) {
	rc, ok := ctx.Value(RequestContextKey{}).(*RequestContext)
	if !ok {
		return nil, fmt.Errorf("no request context available: provide %s query parameter or %s header", QueryParam, HeaderName)
	}
	return rc, nil
}

// Middleware builds a RequestContext for every request and guarantees its
// release when the request ends, on success, error and disconnect alike.
func Middleware(builder *Builder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc, err := builder.Build(r)
			if err != nil {
				if errors.Is(err, ErrMissingTenant) {
					auth.WriteError(w, http.StatusBadRequest, "missing_tenant",
						fmt.Sprintf("resource_id is required. Provide via query param (?%s=xyz) or header (%s: xyz)", QueryParam, HeaderName))
					return
				}
				auth.WriteError(w, http.StatusInternalServerError, "routing_error", "Failed to build request context")
				return
			}
			defer rc.Release()

			next.ServeHTTP(w, r.WithContext(WithRequestContext(r.Context(), rc)))
		})
	}
}
