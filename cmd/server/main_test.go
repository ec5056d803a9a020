package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remote-agent-hub/backend/internal/config"
	"github.com/remote-agent-hub/backend/internal/hub"
	"github.com/remote-agent-hub/backend/internal/ws"
)

func TestRouterHealthAndCORS(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := hub.New(hub.Config{}, nil, log)
	defer h.Close()

	r := newRouter(h, nil, config.Default(), ws.ConnOptions{}, log)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["agents"])
	assert.Equal(t, float64(0), body["states"])
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/agents", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/agents/tab-1/history", nil))
	assert.Equal(t, http.StatusNotFound, w.Code, "history is unavailable without a journal")
}

func TestRootCmdFlags(t *testing.T) {
	cmd := newRootCmd()
	for _, name := range []string{"config", "port", "stdio"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}
