package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/mizusense/suimon/internal/logx"
)

// ErrKeySetUnavailable reports that the provider's key set could not be
// fetched and no fresh cached copy exists.
var ErrKeySetUnavailable = errors.New("signing key set unavailable")

const defaultKeyTTL = time.Hour

// KeyCache holds one fetched JWKS plus its fetch time and refreshes it after
// the freshness window expires. The cached set is replaced wholesale on a
// successful refresh; a failed refresh never falls back to a stale copy.
type KeyCache struct {
	url    string
	ttl    time.Duration
	client *http.Client
	now    func() time.Time

	mu        sync.RWMutex
	set       jwk.Set
	fetchedAt time.Time

	// Serializes refreshes so concurrent stale readers trigger one fetch.
	refreshMu sync.Mutex
}

// NewKeyCache returns a cache over the given JWKS endpoint with the standard
// one-hour freshness window.
func NewKeyCache(jwksURL string) *KeyCache {
	return &KeyCache{
		url:    jwksURL,
		ttl:    defaultKeyTTL,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// Keys returns the cached key set, refreshing it when the freshness window
// has passed. Readers holding a fresh copy are never blocked by a refresh in
// flight.
func (c *KeyCache) Keys(ctx context.Context) (jwk.Set, error) {
	if set, ok := c.fresh(); ok {
		return set, nil
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another caller may have refreshed while we waited.
	if set, ok := c.fresh(); ok {
		return set, nil
	}

	set, err := c.fetch(ctx)
	if err != nil {
		logx.Warnf("jwks refresh failed: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}

	c.mu.Lock()
	c.set = set
	c.fetchedAt = c.now()
	c.mu.Unlock()

	return set, nil
}

func (c *KeyCache) fresh() (jwk.Set, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.set == nil {
		return nil, false
	}
	if c.now().Sub(c.fetchedAt) >= c.ttl {
		return nil, false
	}
	return c.set, true
}

func (c *KeyCache) fetch(ctx context.Context) (jwk.Set, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create jwks request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read jwks body: %w", err)
	}

	set, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse jwks: %w", err)
	}
	return set, nil
}
