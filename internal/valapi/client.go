package valapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	verrors "github.com/valorwatch/valorwatch/internal/errors"
	"github.com/valorwatch/valorwatch/internal/logging"
	"github.com/valorwatch/valorwatch/internal/metrics"
	"github.com/valorwatch/valorwatch/internal/riot"
)

// Operation names an upstream game-data endpoint. The name doubles as the
// metric label and the TTL configuration key.
type Operation string

const (
	OpStorefront Operation = "storefront"
	OpWallet     Operation = "wallet"
	OpBundles    Operation = "bundles"
	OpLoadout    Operation = "loadout"
)

// DefaultTTLs returns the per-operation cache lifetimes used when the
// configuration does not override them.
func DefaultTTLs() map[string]time.Duration {
	return map[string]time.Duration{
		string(OpStorefront): 5 * time.Minute,
		string(OpWallet):     30 * time.Second,
		string(OpBundles):    12 * time.Hour,
		string(OpLoadout):    5 * time.Minute,
	}
}

// Client calls the player-data endpoints through the response cache. A
// 401 or 403 triggers one silent refresh of the session followed by a
// single retry; failures are never cached.
type Client struct {
	base    string
	riot    *riot.Client
	http    *http.Client
	cache   *Cache
	limiter *rate.Limiter
	logger  *logging.Logger
	metrics *metrics.Metrics

	mu   sync.RWMutex
	ttls map[string]time.Duration
}

// Options tune a Client beyond its required collaborators.
type Options struct {
	// TTLs overrides cache lifetimes per operation name.
	TTLs map[string]time.Duration
	// RequestsPerSecond paces outbound calls; zero disables pacing.
	RequestsPerSecond float64
	Burst             int
}

// New creates the cached game-data client. base is the player-data host,
// e.g. https://pd.eu.a.pvp.net.
func New(base string, rc *riot.Client, cache *Cache, logger *logging.Logger, m *metrics.Metrics, opts Options) *Client {
	ttls := DefaultTTLs()
	for op, ttl := range opts.TTLs {
		ttls[op] = ttl
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &Client{
		base:    base,
		riot:    rc,
		http:    rc.APIClient(),
		cache:   cache,
		limiter: limiter,
		logger:  logger,
		metrics: m,
		ttls:    ttls,
	}
}

// UpdateTTLs applies new per-operation lifetimes, typically after a config
// reload. Entries already cached keep their original expiry.
func (c *Client) UpdateTTLs(ttls map[string]time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for op, ttl := range ttls {
		c.ttls[op] = ttl
	}
}

// ClearCache drops every cached response.
func (c *Client) ClearCache() {
	c.cache.Clear()
	if c.logger != nil {
		c.logger.Info("response cache cleared")
	}
}

// Storefront returns the per-account daily store rotation.
func (c *Client) Storefront(ctx context.Context, session *riot.Session) ([]byte, error) {
	return c.Call(ctx, session, OpStorefront)
}

// Wallet returns the account's currency balances.
func (c *Client) Wallet(ctx context.Context, session *riot.Session) ([]byte, error) {
	return c.Call(ctx, session, OpWallet)
}

// Bundles returns the current offer catalog. The response is identical for
// every account, so it is cached once, not per account.
func (c *Client) Bundles(ctx context.Context, session *riot.Session) ([]byte, error) {
	return c.Call(ctx, session, OpBundles)
}

// Loadout returns the account's equipped loadout.
func (c *Client) Loadout(ctx context.Context, session *riot.Session) ([]byte, error) {
	return c.Call(ctx, session, OpLoadout)
}

// Call performs op for the session, serving from cache when a live entry
// exists and storing the response on success.
func (c *Client) Call(ctx context.Context, session *riot.Session, op Operation) ([]byte, error) {
	key := c.cacheKey(op, session.PUUID())

	if body, ok := c.cache.Get(key); ok {
		if c.metrics != nil {
			c.metrics.CacheHits.WithLabelValues(string(op)).Inc()
		}
		return body, nil
	}
	if c.metrics != nil {
		c.metrics.CacheMisses.WithLabelValues(string(op)).Inc()
	}

	body, err := c.fetch(ctx, session, op, false)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, body, c.ttlFor(op))
	return body, nil
}

func (c *Client) fetch(ctx context.Context, session *riot.Session, op Operation, retried bool) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	path, err := c.path(op, session.PUUID())
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, err
	}
	accessToken, entitlementToken := session.Tokens()
	c.riot.APIHeaders(req, accessToken, entitlementToken)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &verrors.ErrUpstreamTransient{Err: err}
	}
	defer resp.Body.Close()

	if c.metrics != nil {
		c.metrics.UpstreamRequests.WithLabelValues(string(op), strconv.Itoa(resp.StatusCode)).Inc()
		c.metrics.UpstreamLatency.WithLabelValues(string(op)).Observe(time.Since(start).Seconds())
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return io.ReadAll(resp.Body)

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, resp.Body)
		if retried {
			return nil, &verrors.ErrUpstreamStatus{StatusCode: resp.StatusCode}
		}
		if c.logger != nil {
			c.logger.InfoCtx(ctx, "token rejected, refreshing session",
				"operation", string(op), "status", resp.StatusCode)
		}
		if err := session.Reauthorize(ctx); err != nil {
			return nil, err
		}
		return c.fetch(ctx, session, op, true)

	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &verrors.ErrRateLimited{RetryAfter: retryAfter(resp)}

	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &verrors.ErrUpstreamStatus{StatusCode: resp.StatusCode, Body: string(body)}
	}
}

func (c *Client) path(op Operation, puuid string) (string, error) {
	switch op {
	case OpStorefront:
		return "/store/v2/storefront/" + puuid, nil
	case OpWallet:
		return "/store/v1/wallet/" + puuid, nil
	case OpBundles:
		return "/store/v1/offers/", nil
	case OpLoadout:
		return "/personalization/v10/players/" + puuid + "/playerloadout", nil
	default:
		return "", fmt.Errorf("unknown operation %q", op)
	}
}

// cacheKey scopes entries per account, except for the offer catalog which
// is account-agnostic.
func (c *Client) cacheKey(op Operation, puuid string) string {
	if op == OpBundles {
		return string(op)
	}
	return string(op) + ":" + puuid
}

func (c *Client) ttlFor(op Operation) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ttls[string(op)]
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
