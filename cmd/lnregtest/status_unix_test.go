//go:build unix

package main

import (
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lightningd "github.com/neverDefined/go-lightningd"
	"github.com/neverDefined/go-lightningd/lntest"
)

func TestHealthz_ReportsDeadNode(t *testing.T) {
	lntest.LightningdExe(t)
	btc := lntest.Bitcoind(t, 100)
	ld := lntest.Lightningd(t, btc, nil)
	nw := &network{btc: btc, nodes: []*lightningd.LightningD{ld}}

	w := get(t, newRouter(nw, nil), "/healthz")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.NoError(t, syscall.Kill(ld.Pid(), syscall.SIGKILL))
	require.Eventually(t, func() bool { return ld.State() == lightningd.StateFailed }, 5*time.Second, 20*time.Millisecond)

	w = get(t, newRouter(nw, nil), "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "node0 is failed")
}
