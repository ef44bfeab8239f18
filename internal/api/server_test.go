package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valorwatch/valorwatch/internal/config"
	"github.com/valorwatch/valorwatch/internal/logging"
	"github.com/valorwatch/valorwatch/internal/metrics"
	"github.com/valorwatch/valorwatch/internal/models"
	"github.com/valorwatch/valorwatch/internal/riot"
	"github.com/valorwatch/valorwatch/internal/store"
	"github.com/valorwatch/valorwatch/internal/valapi"
)

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "admin.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := logging.New(logging.WithOutput(io.Discard))
	m := metrics.New("valorwatch")
	version := riot.NewClientVersion("http://127.0.0.1:0", time.Second, logger, nil)
	rc := riot.NewClient(riot.Endpoints{}, version, logger, m, riot.WithUTLS(false))
	gameData := valapi.New("http://127.0.0.1:0", rc, valapi.NewCache(m), logger, m, valapi.Options{})

	cfg := config.ServerConfig{Host: "127.0.0.1", HTTPPort: 0}
	return NewServer(cfg, m, gameData, version, st, logger), st
}

func doRequest(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["version_ready"])
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "valorwatch_cache_entries")
}

func TestCacheClear(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/admin/cache/clear")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cleared")

	// Clearing twice is fine.
	rec = doRequest(t, s, http.MethodPost, "/admin/cache/clear")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminAccounts(t *testing.T) {
	s, st := newTestServer(t)

	_, err := st.CreateUser(context.Background(), 1, "")
	require.NoError(t, err)
	require.NoError(t, st.CreateCredential(context.Background(), &models.CredentialRecord{
		PUUID:    "puuid-1",
		OwnerID:  1,
		GameName: "Player",
		TagLine:  "EUW",
		Region:   "eu",
		// Already expired, so the summary flags it.
		ExpiresAt: time.Now().Add(-time.Hour).Unix(),
	}))

	rec := doRequest(t, s, http.MethodGet, "/admin/accounts")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Accounts []struct {
			PUUID   string `json:"puuid"`
			RiotID  string `json:"riot_id"`
			Expired bool   `json:"expired"`
		} `json:"accounts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Accounts, 1)
	assert.Equal(t, "puuid-1", body.Accounts[0].PUUID)
	assert.Equal(t, "Player#EUW", body.Accounts[0].RiotID)
	assert.True(t, body.Accounts[0].Expired)

	// Token material must never appear in the admin payload.
	assert.NotContains(t, rec.Body.String(), "access_token")
	assert.NotContains(t, rec.Body.String(), "ssid")
}

func TestShutdownWithoutStart(t *testing.T) {
	s, _ := newTestServer(t)
	assert.NoError(t, s.Shutdown(context.Background()))
}
