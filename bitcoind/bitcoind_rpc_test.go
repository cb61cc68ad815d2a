package bitcoind

import (
	"context"
	"crypto/rand"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// randomString generates a random string of the given length.
func randomString(length int) string {
	b := make([]byte, length+2)
	rand.Read(b)
	return fmt.Sprintf("%x", b)[2 : length+2]
}

var (
	minerWallet = "miner"
	userWallet  = "user"
)

// startNode starts a node on the bitcoind found by ExePath, or skips.
func startNode(t *testing.T) *Node {
	t.Helper()

	exe, err := ExePath()
	if err != nil {
		t.Skipf("bitcoind not available: %v", err)
	}

	node, err := New(exe, nil)
	require.NoError(t, err, "failed to create regtest node")
	require.NoError(t, node.Start(context.Background()), "failed to start bitcoin regtest")
	t.Cleanup(func() {
		assert.NoError(t, node.Stop(), "failed to stop bitcoind")
	})
	return node
}

func TestRPC_Connection(t *testing.T) {
	node := startNode(t)

	require.NoError(t, node.HealthCheck())
	assert.True(t, node.IsRunning())
}

func TestRPC_ConnConfigFromCookie(t *testing.T) {
	node := startNode(t)

	cfg, err := node.RPCConnConfig()
	require.NoError(t, err)
	assert.Equal(t, node.RPCAddr(), cfg.Host)
	assert.NotEmpty(t, cfg.User, "credentials from the cookie file")
	assert.NotEmpty(t, cfg.Pass, "credentials from the cookie file")
}

func TestRPC_StopIsIdempotent(t *testing.T) {
	node := startNode(t)
	dir := node.DataDir()
	require.NotEmpty(t, dir)

	require.NoError(t, node.Stop())
	require.NoError(t, node.Stop(), "second stop should be a no-op")
	assert.False(t, node.IsRunning())
	assert.Empty(t, node.DataDir())
	assert.NoDirExists(t, dir)
}

func TestRPC_TwoNodes(t *testing.T) {
	a := startNode(t)
	b := startNode(t)

	assert.NotEqual(t, a.RPCAddr(), b.RPCAddr())
	assert.NotEqual(t, a.DataDir(), b.DataDir())
}

func TestRPC_GenerateAddress(t *testing.T) {
	node := startNode(t)

	require.NoError(t, node.EnsureWallet(userWallet))
	defer node.UnloadWallet(userWallet)

	addr, err := node.GenerateBech32(userWallet)
	require.NoError(t, err)
	_, err = btcutil.DecodeAddress(addr, &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	bech32m, err := node.GenerateBech32m(randomString(10))
	require.NoError(t, err)
	_, err = btcutil.DecodeAddress(bech32m, &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	t.Logf("generated %s and %s", addr, bech32m)
}

func TestRPC_EnsureWalletTwice(t *testing.T) {
	node := startNode(t)

	require.NoError(t, node.EnsureWallet(minerWallet))
	require.NoError(t, node.EnsureWallet(minerWallet), "ensuring a loaded wallet should succeed")
}

func TestRPC_Warp(t *testing.T) {
	node := startNode(t)
	require.NoError(t, node.EnsureWallet(minerWallet))

	startHeight, err := node.GetBlockCount()
	require.NoError(t, err)

	minerAddr, err := node.GenerateBech32(minerWallet)
	require.NoError(t, err)
	require.NoError(t, node.Warp(10, minerAddr))

	endHeight, err := node.GetBlockCount()
	require.NoError(t, err)
	assert.Equal(t, startHeight+10, endHeight)
}

func TestRPC_SendToAddress(t *testing.T) {
	node := startNode(t)
	require.NoError(t, node.EnsureWallet(userWallet))

	fromAddr, err := node.GenerateBech32(userWallet)
	require.NoError(t, err)
	toAddr, err := node.GenerateBech32(userWallet)
	require.NoError(t, err)

	require.NoError(t, node.Warp(101, fromAddr))

	txid, err := node.SendToAddress(userWallet, toAddr, 100_000_000)
	require.NoError(t, err)
	t.Logf("sent to address: %s", txid)
}
