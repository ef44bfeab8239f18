package riot

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"context"

	"github.com/valorwatch/valorwatch/internal/logging"
	"github.com/valorwatch/valorwatch/internal/metrics"
)

// ClientVersion holds the shared client-build fingerprint sent in auth
// headers. It is process-wide: every session reads the same value, and the
// maintenance task refreshes it on a fixed schedule.
type ClientVersion struct {
	url        string
	httpClient *http.Client
	logger     *logging.Logger
	metrics    *metrics.Metrics

	mu      sync.RWMutex
	version string
	build   string

	ready     chan struct{}
	readyOnce sync.Once
}

type versionResponse struct {
	Data struct {
		RiotClientVersion string `json:"riotClientVersion"`
		RiotClientBuild   string `json:"riotClientBuild"`
	} `json:"data"`
}

// NewClientVersion creates a fingerprint holder backed by the given catalog
// version endpoint.
func NewClientVersion(url string, timeout time.Duration, logger *logging.Logger, m *metrics.Metrics) *ClientVersion {
	return &ClientVersion{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		metrics:    m,
		ready:      make(chan struct{}),
	}
}

// Refresh fetches the current fingerprint. It reports whether the value
// changed; re-running with no upstream change is a no-op.
func (v *ClientVersion) Refresh(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.url, nil)
	if err != nil {
		return false, err
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		if v.metrics != nil {
			v.metrics.VersionRefreshes.WithLabelValues("error").Inc()
		}
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if v.metrics != nil {
			v.metrics.VersionRefreshes.WithLabelValues("error").Inc()
		}
		return false, fmt.Errorf("version endpoint status %d: %s", resp.StatusCode, string(body))
	}

	var parsed versionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return false, err
	}
	if parsed.Data.RiotClientVersion == "" {
		return false, fmt.Errorf("version endpoint returned empty fingerprint")
	}

	v.mu.Lock()
	changed := v.version != parsed.Data.RiotClientVersion
	v.version = parsed.Data.RiotClientVersion
	v.build = parsed.Data.RiotClientBuild
	v.mu.Unlock()

	v.readyOnce.Do(func() { close(v.ready) })

	if v.metrics != nil {
		result := "unchanged"
		if changed {
			result = "changed"
		}
		v.metrics.VersionRefreshes.WithLabelValues(result).Inc()
	}
	if changed && v.logger != nil {
		v.logger.Info("client version fingerprint updated", "version", parsed.Data.RiotClientVersion)
	}
	return changed, nil
}

// Version returns the current fingerprint, or "" before the first refresh.
func (v *ClientVersion) Version() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.version
}

// Build returns the current client build number.
func (v *ClientVersion) Build() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.build
}

// Ready is closed after the first successful refresh. Background tasks gate
// on it so they never run against an uninitialized upstream.
func (v *ClientVersion) Ready() <-chan struct{} {
	return v.ready
}

// IsReady reports whether a fingerprint has ever been fetched.
func (v *ClientVersion) IsReady() bool {
	select {
	case <-v.ready:
		return true
	default:
		return false
	}
}
