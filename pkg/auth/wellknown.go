package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/konnektr-io/graph-mcp/pkg/logger"
)

// WellKnownOAuthResourcePath is the RFC 9728 protected resource metadata path.
const WellKnownOAuthResourcePath = "/.well-known/oauth-protected-resource"

// ProtectedResourceMetadata represents the OAuth Protected Resource metadata
// as defined in RFC 9728. Callers consume it to self-configure their auth
// flow against this gateway.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	JWKSURI                string   `json:"jwks_uri"`
	ScopesSupported        []string `json:"scopes_supported"`
}

// NewAuthInfoHandler creates an HTTP handler that returns RFC 9728 compliant
// OAuth Protected Resource metadata.
func NewAuthInfoHandler(issuer, jwksURL, resourceURL string, scopes []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Discovery endpoints are fetched cross-origin by MCP clients.
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "mcp-protocol-version, Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// Without a resource URL there is no metadata to advertise.
		if resourceURL == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		supportedScopes := scopes
		if len(supportedScopes) == 0 {
			supportedScopes = []string{"openid"}
		}

		metadata := ProtectedResourceMetadata{
			Resource:               resourceURL,
			AuthorizationServers:   []string{issuer},
			BearerMethodsSupported: []string{"header"},
			JWKSURI:                jwksURL,
			ScopesSupported:        supportedScopes,
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(metadata); err != nil {
			logger.Errorf("Failed to encode OAuth discovery response: %v", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
	})
}

// NewWellKnownHandler creates an HTTP handler that routes requests under the
// /.well-known/ path space to the appropriate handler.
//
// Per RFC 9728, the /.well-known/oauth-protected-resource endpoint and any
// subpaths under it must be accessible without authentication. Unknown
// /.well-known/ paths return 404.
//
// If authInfoHandler is nil, this function returns nil (no handler
// registration needed).
func NewWellKnownHandler(authInfoHandler http.Handler) http.Handler {
	if authInfoHandler == nil {
		return nil
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, WellKnownOAuthResourcePath) {
			authInfoHandler.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
	})
}
