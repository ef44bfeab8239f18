package riot

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientVersion_RefreshDetectsChange(t *testing.T) {
	var current atomic.Value
	current.Store("release-08.01")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"data":{"riotClientVersion":"%s","riotClientBuild":"42"}}`, current.Load())
	}))
	defer srv.Close()

	v := NewClientVersion(srv.URL, 5*time.Second, nil, nil)
	assert.False(t, v.IsReady())

	changed, err := v.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, v.IsReady())
	assert.Equal(t, "release-08.01", v.Version())
	assert.Equal(t, "42", v.Build())

	// Re-running with no upstream change is a no-op.
	changed, err = v.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)

	current.Store("release-08.02")
	changed, err = v.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "release-08.02", v.Version())
}

func TestClientVersion_RefreshErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	v := NewClientVersion(srv.URL, 5*time.Second, nil, nil)
	_, err := v.Refresh(context.Background())
	assert.Error(t, err)
	assert.False(t, v.IsReady())
}

func TestClientVersion_ReadySignal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"riotClientVersion":"release-08.01","riotClientBuild":"1"}}`)
	}))
	defer srv.Close()

	v := NewClientVersion(srv.URL, 5*time.Second, nil, nil)

	select {
	case <-v.Ready():
		t.Fatal("ready before first refresh")
	default:
	}

	_, err := v.Refresh(context.Background())
	require.NoError(t, err)

	select {
	case <-v.Ready():
	case <-time.After(time.Second):
		t.Fatal("ready channel not closed after refresh")
	}
}
