package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// validSigningMethods lists the accepted signature algorithms. Only
// asymmetric algorithms appear here: a symmetric algorithm on an externally
// supplied token would let the caller forge signatures with public material.
var validSigningMethods = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
	"EdDSA",
}

// Verifier validates bearer tokens against a cached signing key set and the
// configured issuer and audience.
type Verifier struct {
	keys     *KeySetCache
	issuer   string
	audience string
	parser   *jwt.Parser

	// now is replaceable in tests.
	now func() time.Time
}

// NewVerifier creates a token verifier. The key set cache is shared across
// requests; the verifier itself holds no per-request state.
func NewVerifier(keys *KeySetCache, issuer, audience string) *Verifier {
	return &Verifier{
		keys:     keys,
		issuer:   issuer,
		audience: audience,
		parser: jwt.NewParser(
			jwt.WithValidMethods(validSigningMethods),
			// Claims are checked explicitly below so each failure maps to a
			// distinct error.
			jwt.WithoutClaimsValidation(),
		),
		now: time.Now,
	}
}

// Verify validates a raw bearer token and returns the verified principal.
//
// Checks run in order: header parse and algorithm, key resolution, signature,
// audience, issuer, expiry, then required scope. The first failure
// short-circuits with the matching error from this package.
func (v *Verifier) Verify(ctx context.Context, rawToken, requiredScope string) (*Principal, error) {
	if rawToken == "" {
		return nil, ErrNoToken
	}

	token, err := v.parser.Parse(rawToken, func(token *jwt.Token) (any, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("%w: token header missing kid", ErrMalformedToken)
		}
		return v.keys.Key(ctx, kid)
	})
	if err != nil {
		return nil, mapParseError(err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrMalformedToken)
	}

	if err := v.checkAudience(claims); err != nil {
		return nil, err
	}
	if err := v.checkIssuer(claims); err != nil {
		return nil, err
	}
	expiresAt, err := v.checkExpiry(claims)
	if err != nil {
		return nil, err
	}

	scopes := splitScopes(claims)
	principal := &Principal{
		Subject:   stringClaim(claims, "sub"),
		ClientID:  stringClaim(claims, "azp"),
		Scopes:    scopes,
		ExpiresAt: expiresAt,
		Token:     rawToken,
	}

	if requiredScope != "" && !principal.HasScope(requiredScope) {
		return nil, fmt.Errorf("%w: missing %q", ErrInsufficientScope, requiredScope)
	}

	return principal, nil
}

// mapParseError translates jwt parse failures into this package's errors.
// Key resolution errors from the keyfunc pass through untouched.
func mapParseError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownKey),
		errors.Is(err, ErrKeySourceUnavailable),
		errors.Is(err, ErrMalformedToken):
		return err
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
}

// checkAudience requires the configured audience to be an exact member of
// the 'aud' claim. No substring or prefix matching.
func (v *Verifier) checkAudience(claims jwt.MapClaims) error {
	audiences, err := claims.GetAudience()
	if err != nil || len(audiences) == 0 {
		return fmt.Errorf("%w: missing aud claim", ErrInvalidAudience)
	}
	for _, aud := range audiences {
		if aud == v.audience {
			return nil
		}
	}
	return fmt.Errorf("%w: expected %q", ErrInvalidAudience, v.audience)
}

func (v *Verifier) checkIssuer(claims jwt.MapClaims) error {
	issuer, err := claims.GetIssuer()
	if err != nil || issuer == "" {
		return fmt.Errorf("%w: missing iss claim", ErrInvalidIssuer)
	}
	if issuer != v.issuer {
		return fmt.Errorf("%w: expected %q", ErrInvalidIssuer, v.issuer)
	}
	return nil
}

// checkExpiry requires 'exp' to be strictly in the future.
func (v *Verifier) checkExpiry(claims jwt.MapClaims) (time.Time, error) {
	expiry, err := claims.GetExpirationTime()
	if err != nil || expiry == nil {
		return time.Time{}, fmt.Errorf("%w: missing exp claim", ErrTokenExpired)
	}
	if !expiry.After(v.now()) {
		return time.Time{}, ErrTokenExpired
	}
	return expiry.Time, nil
}

// splitScopes parses the space-delimited 'scope' claim into a slice.
// Scopes are case-sensitive; no normalization is applied.
func splitScopes(claims jwt.MapClaims) []string {
	raw, ok := claims["scope"].(string)
	if !ok || raw == "" {
		return nil
	}
	return strings.Fields(raw)
}

func stringClaim(claims jwt.MapClaims, name string) string {
	s, _ := claims[name].(string)
	return s
}
