package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://issuer.example.com"
	testAudience = "https://graph.konnektr.io"
	testKeyID    = "test-key-1"
)

// testKeys holds the signing material for one test verifier.
type testKeys struct {
	private *rsa.PrivateKey
	server  *httptest.Server
}

// newTestKeys generates an RSA key pair and serves its public half as a
// JWKS document.
func newTestKeys(t *testing.T) *testKeys {
	t.Helper()

	private, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "failed to generate RSA key")

	jwksJSON := marshalJWKS(t, private, testKeyID)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(jwksJSON)
	}))
	t.Cleanup(server.Close)

	return &testKeys{private: private, server: server}
}

func marshalJWKS(t *testing.T, private *rsa.PrivateKey, kid string) []byte {
	t.Helper()

	key, err := jwk.Import(&private.PublicKey)
	require.NoError(t, err, "failed to import public key")
	require.NoError(t, key.Set(jwk.KeyIDKey, kid))
	require.NoError(t, key.Set(jwk.AlgorithmKey, "RS256"))

	set := jwk.NewSet()
	require.NoError(t, set.AddKey(key))

	out, err := json.Marshal(set)
	require.NoError(t, err, "failed to marshal JWKS")
	return out
}

// sign creates a token with the default test header and the given claims,
// applying sensible defaults for any claim the test did not set.
func (k *testKeys) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	return signWith(t, k.private, testKeyID, claims)
}

func signWith(t *testing.T, private *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()

	if _, ok := claims["iss"]; !ok {
		claims["iss"] = testIssuer
	}
	if _, ok := claims["aud"]; !ok {
		claims["aud"] = testAudience
	}
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	if _, ok := claims["sub"]; !ok {
		claims["sub"] = "user-123"
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid

	signed, err := token.SignedString(private)
	require.NoError(t, err, "failed to sign token")
	return signed
}

func newTestVerifier(t *testing.T) (*Verifier, *testKeys) {
	t.Helper()
	keys := newTestKeys(t)
	cache := NewKeySetCache(keys.server.URL)
	return NewVerifier(cache, testIssuer, testAudience), keys
}

func TestVerifyValidToken(t *testing.T) {
	t.Parallel()

	verifier, keys := newTestVerifier(t)
	token := keys.sign(t, jwt.MapClaims{
		"scope": "mcp:tools graph:read",
		"azp":   "client-abc",
	})

	principal, err := verifier.Verify(context.Background(), token, "mcp:tools")
	require.NoError(t, err)
	require.NotNil(t, principal)

	assert.Equal(t, "user-123", principal.Subject)
	assert.Equal(t, "client-abc", principal.ClientID)
	assert.Contains(t, principal.Scopes, "mcp:tools")
	assert.Contains(t, principal.Scopes, "graph:read")
	assert.Equal(t, token, principal.Token)
}

func TestVerifyUntrustedKey(t *testing.T) {
	t.Parallel()

	verifier, _ := newTestVerifier(t)

	// Same kid, different private key: lookup succeeds, signature does not.
	forger, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	token := signWith(t, forger, testKeyID, jwt.MapClaims{"scope": "mcp:tools"})

	principal, err := verifier.Verify(context.Background(), token, "mcp:tools")
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Nil(t, principal)
}

func TestVerifyUnknownKeyID(t *testing.T) {
	t.Parallel()

	verifier, keys := newTestVerifier(t)
	token := signWith(t, keys.private, "no-such-kid", jwt.MapClaims{"scope": "mcp:tools"})

	principal, err := verifier.Verify(context.Background(), token, "mcp:tools")
	assert.ErrorIs(t, err, ErrUnknownKey)
	assert.Nil(t, principal)
}

func TestVerifyExpiredToken(t *testing.T) {
	t.Parallel()

	verifier, keys := newTestVerifier(t)
	token := keys.sign(t, jwt.MapClaims{
		"scope": "mcp:tools",
		"exp":   time.Now().Add(-time.Minute).Unix(),
	})

	principal, err := verifier.Verify(context.Background(), token, "mcp:tools")
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.Nil(t, principal)
}

func TestVerifyWrongAudience(t *testing.T) {
	t.Parallel()

	verifier, keys := newTestVerifier(t)
	token := keys.sign(t, jwt.MapClaims{
		"scope": "mcp:tools",
		"aud":   "https://other.example.com",
	})

	principal, err := verifier.Verify(context.Background(), token, "mcp:tools")
	assert.ErrorIs(t, err, ErrInvalidAudience)
	assert.Nil(t, principal)
}

func TestVerifyAudienceList(t *testing.T) {
	t.Parallel()

	verifier, keys := newTestVerifier(t)
	token := keys.sign(t, jwt.MapClaims{
		"scope": "mcp:tools",
		"aud":   []string{"https://other.example.com", testAudience},
	})

	principal, err := verifier.Verify(context.Background(), token, "mcp:tools")
	require.NoError(t, err)
	assert.NotNil(t, principal)
}

func TestVerifyWrongIssuer(t *testing.T) {
	t.Parallel()

	verifier, keys := newTestVerifier(t)
	token := keys.sign(t, jwt.MapClaims{
		"scope": "mcp:tools",
		"iss":   "https://evil.example.com",
	})

	principal, err := verifier.Verify(context.Background(), token, "mcp:tools")
	assert.ErrorIs(t, err, ErrInvalidIssuer)
	assert.Nil(t, principal)
}

func TestVerifyInsufficientScope(t *testing.T) {
	t.Parallel()

	verifier, keys := newTestVerifier(t)
	token := keys.sign(t, jwt.MapClaims{"scope": "graph:read"})

	principal, err := verifier.Verify(context.Background(), token, "mcp:tools")
	assert.ErrorIs(t, err, ErrInsufficientScope)
	assert.Nil(t, principal)
}

func TestVerifyNoScopeClaim(t *testing.T) {
	t.Parallel()

	verifier, keys := newTestVerifier(t)
	token := keys.sign(t, jwt.MapClaims{})

	principal, err := verifier.Verify(context.Background(), token, "mcp:tools")
	assert.ErrorIs(t, err, ErrInsufficientScope)
	assert.Nil(t, principal)
}

func TestVerifyEmptyToken(t *testing.T) {
	t.Parallel()

	verifier, _ := newTestVerifier(t)

	principal, err := verifier.Verify(context.Background(), "", "mcp:tools")
	assert.ErrorIs(t, err, ErrNoToken)
	assert.Nil(t, principal)
}

func TestVerifyGarbageToken(t *testing.T) {
	t.Parallel()

	verifier, _ := newTestVerifier(t)

	principal, err := verifier.Verify(context.Background(), "not-a-jwt", "mcp:tools")
	assert.ErrorIs(t, err, ErrMalformedToken)
	assert.Nil(t, principal)
}

func TestVerifyMissingKidHeader(t *testing.T) {
	t.Parallel()

	verifier, keys := newTestVerifier(t)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   testIssuer,
		"aud":   testAudience,
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": "mcp:tools",
	})
	signed, err := token.SignedString(keys.private)
	require.NoError(t, err)

	principal, err := verifier.Verify(context.Background(), signed, "mcp:tools")
	assert.ErrorIs(t, err, ErrMalformedToken)
	assert.Nil(t, principal)
}

func TestVerifyRejectsSymmetricAlgorithm(t *testing.T) {
	t.Parallel()

	verifier, _ := newTestVerifier(t)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":   testIssuer,
		"aud":   testAudience,
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": "mcp:tools",
	})
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString([]byte("shared-secret"))
	require.NoError(t, err)

	principal, err := verifier.Verify(context.Background(), signed, "mcp:tools")
	assert.Error(t, err)
	assert.Nil(t, principal)
}

func TestVerifyKeySourceUnavailable(t *testing.T) {
	t.Parallel()

	keys := newTestKeys(t)
	token := keys.sign(t, jwt.MapClaims{"scope": "mcp:tools"})

	// Point the cache at a dead endpoint.
	keys.server.Close()
	cache := NewKeySetCache(keys.server.URL)
	verifier := NewVerifier(cache, testIssuer, testAudience)

	principal, err := verifier.Verify(context.Background(), token, "mcp:tools")
	assert.ErrorIs(t, err, ErrKeySourceUnavailable)
	assert.Nil(t, principal)
}
