package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = 2 * time.Second
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	})
	return NewManager(handler, cfg, zap.NewNop())
}

func TestManagerStartAndServe(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Start())
	defer m.Shutdown(context.Background())

	resp, err := http.Get("http://" + m.Addr() + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
	assert.True(t, m.IsRunning())
}

func TestManagerDoubleStart(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Start())
	defer m.Shutdown(context.Background())

	assert.Error(t, m.Start())
}

func TestManagerShutdownIdempotent(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Start())

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())

	assert.Error(t, m.Start(), "closed server must not restart")
}

func TestManagerBindFailure(t *testing.T) {
	first := newTestManager(t)
	require.NoError(t, first.Start())
	defer first.Shutdown(context.Background())

	cfg := DefaultConfig()
	cfg.Addr = first.Addr()
	second := NewManager(http.NewServeMux(), cfg, zap.NewNop())
	assert.Error(t, second.Start())
}
