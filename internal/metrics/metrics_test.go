package metrics

import (
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findFamily(t *testing.T, families []*dto.MetricFamily, name string) *dto.MetricFamily {
	t.Helper()
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func TestMetrics_RegistersAndCounts(t *testing.T) {
	m := New("valorwatch")

	m.CacheHits.WithLabelValues("wallet").Inc()
	m.CacheHits.WithLabelValues("wallet").Inc()
	m.CacheMisses.WithLabelValues("wallet").Inc()
	m.ReauthAttempts.WithLabelValues("success").Inc()

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	hits := findFamily(t, families, "valorwatch_cache_hits_total")
	require.NotNil(t, hits)
	require.Len(t, hits.Metric, 1)
	assert.Equal(t, float64(2), hits.Metric[0].GetCounter().GetValue())

	reauth := findFamily(t, families, "valorwatch_reauth_attempts_total")
	require.NotNil(t, reauth)
	assert.Equal(t, "success", reauth.Metric[0].GetLabel()[0].GetValue())
}

func TestMetrics_Handler(t *testing.T) {
	m := New("valorwatch")
	m.SessionsUnavailable.Inc()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}
