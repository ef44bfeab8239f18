package riot

import (
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/valorwatch/valorwatch/internal/logging"
	"github.com/valorwatch/valorwatch/internal/metrics"
)

const (
	authClientID    = "play-valorant-web-prod"
	authRedirectURI = "https://playvalorant.com/opt_in"
	authScope       = "account openid"

	// clientPlatform is the base64 platform blob expected alongside the
	// version fingerprint.
	clientPlatform = "ewoJInBsYXRmb3JtVHlwZSI6ICJQQyIsCgkicGxhdGZvcm1PUyI6ICJXaW5kb3dzIiwKCSJwbGF0Zm9ybU9TVmVyc2lvbiI6ICIxMC4wLjE5MDQyLjEuMjU2LjY0Yml0IiwKCSJwbGF0Zm9ybUNoaXBzZXQiOiAiVW5rbm93biIKfQ=="
)

// Endpoints are the upstream URLs. Tests point them at httptest servers.
type Endpoints struct {
	AuthBase         string
	EntitlementsBase string
	VersionURL       string
}

// DefaultEndpoints returns the production upstream endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		AuthBase:         "https://auth.riotgames.com",
		EntitlementsBase: "https://entitlements.auth.riotgames.com",
		VersionURL:       "https://valorant-api.com/v1/version",
	}
}

// Client carries everything sessions share: endpoints, the version
// fingerprint, the transport, logging and metrics. It holds no per-account
// state; each Session keeps its own cookie jar.
type Client struct {
	endpoints Endpoints
	version   *ClientVersion
	logger    *logging.Logger
	metrics   *metrics.Metrics
	transport http.RoundTripper
	timeout   time.Duration

	// retryDelay is the pause after a stale-fingerprint retry. Tests shrink it.
	retryDelay time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithUTLS toggles the Chrome TLS fingerprint transport.
func WithUTLS(enabled bool) ClientOption {
	return func(c *Client) { c.transport = newTransport(enabled) }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithRetryDelay overrides the fingerprint-retry pause.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) { c.retryDelay = d }
}

// NewClient creates the shared upstream client.
func NewClient(endpoints Endpoints, version *ClientVersion, logger *logging.Logger, m *metrics.Metrics, opts ...ClientOption) *Client {
	c := &Client{
		endpoints:  endpoints,
		version:    version,
		logger:     logger,
		metrics:    m,
		transport:  newTransport(true),
		timeout:    15 * time.Second,
		retryDelay: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Version returns the shared fingerprint holder.
func (c *Client) Version() *ClientVersion {
	return c.version
}

// newHTTPClient builds an HTTP client with its own cookie jar. The jar is
// per session: the ssid cookie is account-scoped.
func (c *Client) newHTTPClient() (*http.Client, http.CookieJar) {
	jar, _ := cookiejar.New(nil)
	return &http.Client{
		Transport: c.transport,
		Jar:       jar,
		Timeout:   c.timeout,
	}, jar
}

// APIClient builds an HTTP client on the shared transport but without a
// cookie jar; game-data calls are purely header-authenticated.
func (c *Client) APIClient() *http.Client {
	return &http.Client{
		Transport: c.transport,
		Timeout:   c.timeout,
	}
}

// APIHeaders applies the headers for an authenticated game-data call.
func (c *Client) APIHeaders(req *http.Request, accessToken, entitlementToken string) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("X-Riot-Entitlements-JWT", entitlementToken)
	if v := c.version.Version(); v != "" {
		req.Header.Set("X-Riot-ClientVersion", v)
	}
	req.Header.Set("X-Riot-ClientPlatform", clientPlatform)
	req.Header.Set("Content-Type", "application/json")
}

// authHeaders applies the headers expected by the auth edge.
func (c *Client) authHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "RiotClient/"+c.version.Build()+" rso-auth (Windows;10;;Professional, x64)")
	if v := c.version.Version(); v != "" {
		req.Header.Set("X-Riot-ClientVersion", v)
	}
	req.Header.Set("X-Riot-ClientPlatform", clientPlatform)
}
