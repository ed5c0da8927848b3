package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"golang.org/x/sync/singleflight"

	"github.com/konnektr-io/graph-mcp/pkg/logger"
)

const (
	// defaultKeySetTTL is how long a fetched key set is considered fresh.
	defaultKeySetTTL = 15 * time.Minute

	// keyFetchTimeout bounds a single JWKS fetch against the discovery endpoint.
	keyFetchTimeout = 10 * time.Second

	// minRefreshInterval rate-limits miss-driven refetches. A kid that is
	// still unknown right after a fetch is reported as unknown instead of
	// triggering another fetch.
	minRefreshInterval = 30 * time.Second

	// maxJWKSResponseSize limits the JWKS document size (1 MB).
	maxJWKSResponseSize = 1 << 20
)

// OIDCDiscoveryDocument represents the OIDC discovery document structure.
type OIDCDiscoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
}

// DiscoverOIDCConfiguration fetches the OIDC discovery document from the
// issuer's well-known endpoint. It is used at startup to resolve the JWKS URL
// when only an issuer is configured.
func DiscoverOIDCConfiguration(ctx context.Context, client *http.Client, issuer string) (*OIDCDiscoveryDocument, error) {
	wellKnownURL := strings.TrimSuffix(issuer, "/") + "/.well-known/openid-configuration"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnownURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch OIDC configuration: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OIDC discovery endpoint returned status %d", resp.StatusCode)
	}

	var doc OIDCDiscoveryDocument
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJWKSResponseSize)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode OIDC configuration: %w", err)
	}
	if doc.JWKSURI == "" {
		return nil, fmt.Errorf("OIDC configuration missing jwks_uri")
	}

	return &doc, nil
}

// KeySetCache caches the signing key set published at a JWKS URL.
//
// The cached set is replaced wholesale on refresh and never mutated in place,
// so readers always observe a consistent generation. A lookup miss (unknown
// key ID or expired TTL) triggers at most one refetch per generation:
// concurrent misses against the same generation coalesce into a single fetch
// and all callers observe its result.
type KeySetCache struct {
	jwksURL string
	ttl     time.Duration
	client  *http.Client
	group   singleflight.Group

	mu        sync.RWMutex
	keys      jwk.Set
	gen       uint64
	fetchedAt time.Time
}

// KeySetCacheOption configures a KeySetCache.
type KeySetCacheOption func(*KeySetCache)

// WithKeySetTTL overrides the default key set TTL.
func WithKeySetTTL(ttl time.Duration) KeySetCacheOption {
	return func(c *KeySetCache) {
		c.ttl = ttl
	}
}

// WithHTTPClient overrides the HTTP client used for JWKS fetches.
func WithHTTPClient(client *http.Client) KeySetCacheOption {
	return func(c *KeySetCache) {
		c.client = client
	}
}

// NewKeySetCache creates a key set cache for the given JWKS URL. The cache
// starts empty; the first lookup performs the initial fetch.
func NewKeySetCache(jwksURL string, opts ...KeySetCacheOption) *KeySetCache {
	c := &KeySetCache{
		jwksURL: jwksURL,
		ttl:     defaultKeySetTTL,
		client:  &http.Client{Timeout: keyFetchTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the raw public key for the given key ID.
//
// On a cache miss or TTL expiry it refetches the key set once; a key ID that
// is still absent after the refetch yields ErrUnknownKey. The caller must
// treat that as a verification failure rather than retrying, otherwise a
// forged kid would drive unbounded refetch loops. A fetch failure yields
// ErrKeySourceUnavailable instead, so it is never mistaken for a missing key.
func (c *KeySetCache) Key(ctx context.Context, kid string) (any, error) {
	keys, gen := c.snapshot()

	if keys != nil {
		if key, found := keys.LookupKeyID(kid); found {
			return exportRaw(key)
		}
	}

	keys, err := c.refresh(ctx, gen)
	if err != nil {
		return nil, err
	}

	key, found := keys.LookupKeyID(kid)
	if !found {
		return nil, fmt.Errorf("%w: kid %q", ErrUnknownKey, kid)
	}
	return exportRaw(key)
}

// snapshot returns the current key set (nil if stale or never fetched) and
// the generation the caller observed.
func (c *KeySetCache) snapshot() (jwk.Set, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.keys == nil || time.Since(c.fetchedAt) > c.ttl {
		return nil, c.gen
	}
	return c.keys, c.gen
}

// refresh fetches the key set unless another caller already advanced past
// the observed generation. Concurrent callers that saw the same generation
// share a single fetch.
func (c *KeySetCache) refresh(ctx context.Context, observedGen uint64) (jwk.Set, error) {
	v, err, _ := c.group.Do(strconv.FormatUint(observedGen, 10), func() (any, error) {
		c.mu.RLock()
		current, gen, fetchedAt := c.keys, c.gen, c.fetchedAt
		c.mu.RUnlock()
		if gen != observedGen && current != nil {
			// Someone else refreshed while we queued; reuse their result.
			return current, nil
		}
		if current != nil && time.Since(fetchedAt) < min(minRefreshInterval, c.ttl) {
			// The set was fetched moments ago; a miss against it is a
			// genuinely unknown kid, not a rotation we raced.
			return current, nil
		}

		keys, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.keys = keys
		c.gen++
		c.fetchedAt = time.Now()
		c.mu.Unlock()

		logger.Debugw("refreshed signing key set", "url", c.jwksURL, "keys", keys.Len())
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(jwk.Set), nil
}

// fetch retrieves and parses the JWKS document. The fetch is detached from
// the caller's cancellation so a shared single-flight result is not torn
// down by one caller disconnecting, but it stays bounded by its own timeout.
func (c *KeySetCache) fetch(ctx context.Context) (jwk.Set, error) {
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), keyFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, c.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeySourceUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeySourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: JWKS endpoint returned status %d", ErrKeySourceUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeySourceUnavailable, err)
	}

	keys, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse JWKS document: %v", ErrKeySourceUnavailable, err)
	}

	return keys, nil
}

// exportRaw converts a JWK to the raw public key type the JWT library expects.
func exportRaw(key jwk.Key) (any, error) {
	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, fmt.Errorf("failed to export raw key: %w", err)
	}
	return raw, nil
}
