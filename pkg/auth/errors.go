// Package auth provides bearer-token authentication for the gateway.
package auth

import "errors"

// Common errors. Callers distinguish them with errors.Is for diagnostics,
// but all of them mean the request is rejected.
var (
	ErrNoToken              = errors.New("no token provided")
	ErrMalformedToken       = errors.New("malformed token")
	ErrUnknownKey           = errors.New("signing key not found in key set")
	ErrInvalidSignature     = errors.New("invalid token signature")
	ErrInvalidAudience      = errors.New("invalid audience")
	ErrInvalidIssuer        = errors.New("invalid issuer")
	ErrTokenExpired         = errors.New("token expired")
	ErrInsufficientScope    = errors.New("insufficient scope")
	ErrKeySourceUnavailable = errors.New("key source unavailable")
)

// ErrorKind returns a stable machine-readable kind for an authentication
// error, suitable for client-facing responses. Internal detail stays in the
// wrapped error and is never sent verbatim to the caller.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrNoToken), errors.Is(err, ErrMalformedToken):
		return "malformed"
	case errors.Is(err, ErrUnknownKey):
		return "unknown_key"
	case errors.Is(err, ErrInvalidSignature):
		return "bad_signature"
	case errors.Is(err, ErrInvalidAudience):
		return "bad_audience"
	case errors.Is(err, ErrInvalidIssuer):
		return "bad_issuer"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrInsufficientScope):
		return "insufficient_scope"
	case errors.Is(err, ErrKeySourceUnavailable):
		return "key_source_unavailable"
	default:
		return "invalid_token"
	}
}
