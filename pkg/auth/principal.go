package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Principal represents a verified identity derived from a bearer token.
// It is immutable once constructed and lives for a single request.
type Principal struct {
	// Subject is the unique identifier for the principal (from 'sub' claim).
	Subject string

	// ClientID is the authorized party (from 'azp' claim, if present).
	ClientID string

	// Scopes are the granted scope strings, case-sensitive, split from the
	// space-delimited 'scope' claim.
	Scopes []string

	// ExpiresAt is the token expiry instant (from 'exp' claim).
	ExpiresAt time.Time

	// Token is the raw bearer token, forwarded as the outbound credential.
	// It is redacted in String() and MarshalJSON() to prevent leakage.
	Token string
}

// HasScope reports whether the principal carries the given scope.
func (p *Principal) HasScope(scope string) bool {
	return slices.Contains(p.Scopes, scope)
}

// String returns a representation of the Principal with the token redacted.
func (p *Principal) String() string {
	if p == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Principal{Subject:%q}", p.Subject)
}

// MarshalJSON implements json.Marshaler to redact the raw token, so a
// Principal can never leak credentials into structured logs or responses.
func (p *Principal) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}

	token := p.Token
	if token != "" {
		token = "REDACTED"
	}

	return json.Marshal(&struct {
		Subject   string    `json:"subject"`
		ClientID  string    `json:"clientId,omitempty"`
		Scopes    []string  `json:"scopes"`
		ExpiresAt time.Time `json:"expiresAt"`
		Token     string    `json:"token"`
	}{
		Subject:   p.Subject,
		ClientID:  p.ClientID,
		Scopes:    p.Scopes,
		ExpiresAt: p.ExpiresAt,
		Token:     token,
	})
}

// PrincipalContextKey is the key used to store a Principal in the request
// context. Using an empty struct as the key prevents collisions with other
// context keys.
type PrincipalContextKey struct{}

// WithPrincipal stores a Principal in the context.
// If principal is nil, the original context is returned unchanged.
func WithPrincipal(ctx context.Context, principal *Principal) context.Context {
	if principal == nil {
		return ctx
	}
	return context.WithValue(ctx, PrincipalContextKey{}, principal)
}

// PrincipalFromContext retrieves a Principal from the context.
// Returns the principal and true if present, nil and false otherwise.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	principal, ok := ctx.Value(PrincipalContextKey{}).(*Principal)
	return principal, ok
}
