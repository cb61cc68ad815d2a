package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubStatus struct {
	s   Summary
	err error
}

func (s stubStatus) summary() Summary { return s.s }
func (s stubStatus) healthy() error   { return s.err }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRouter_Healthz(t *testing.T) {
	w := get(t, newRouter(stubStatus{}, nil), "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"healthy"`)

	w = get(t, newRouter(stubStatus{err: errors.New("node1 is failed")}, nil), "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "node1 is failed")
}

func TestRouter_Nodes(t *testing.T) {
	want := Summary{
		Bitcoind: BitcoindSummary{RPC: "127.0.0.1:18443"},
		Nodes:    []NodeSummary{{ID: "02aa", P2P: "127.0.0.1:9735"}},
	}
	w := get(t, newRouter(stubStatus{s: want}, nil), "/nodes")
	require.Equal(t, http.StatusOK, w.Code)

	var got Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, want, got)
}

func TestRouter_Metrics(t *testing.T) {
	w := get(t, newRouter(stubStatus{}, nil), "/metrics")
	assert.Equal(t, http.StatusNotFound, w.Code)

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("daemon_live 2\n"))
	})
	w = get(t, newRouter(stubStatus{}, metrics), "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "daemon_live 2")
}
