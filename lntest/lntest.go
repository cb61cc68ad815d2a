// Package lntest starts bitcoind and lightningd fixtures from tests.
//
// Every helper registers its cleanup with tb.Cleanup and skips the test when
// the daemon binaries are not installed, so integration tests can live next
// to unit tests without special build tags.
package lntest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	lightningd "github.com/neverDefined/go-lightningd"
	"github.com/neverDefined/go-lightningd/bitcoind"
)

// MinerWallet is the bitcoind wallet Bitcoind mines into.
const MinerWallet = "miner"

// BitcoindExe returns the bitcoind executable or skips tb.
func BitcoindExe(tb testing.TB) string {
	tb.Helper()
	exe, err := bitcoind.ExePath()
	if err != nil {
		tb.Skipf("bitcoind not available (set %s): %v", bitcoind.ExeEnv, err)
	}
	return exe
}

// LightningdExe returns the lightningd executable or skips tb.
func LightningdExe(tb testing.TB) string {
	tb.Helper()
	exe, err := lightningd.ExePath()
	if err != nil {
		tb.Skipf("lightningd not available (set %s): %v", lightningd.ExeEnv, err)
	}
	return exe
}

// Bitcoind starts a regtest bitcoind and mines blocks into MinerWallet.
// The node is stopped when the test ends.
func Bitcoind(tb testing.TB, blocks int64) *bitcoind.Node {
	tb.Helper()

	node, err := bitcoind.New(BitcoindExe(tb), nil)
	require.NoError(tb, err, "failed to create bitcoind")
	require.NoError(tb, node.Start(context.Background()), "failed to start bitcoind")
	tb.Cleanup(func() {
		assert.NoError(tb, node.Stop(), "failed to stop bitcoind")
	})

	if blocks > 0 {
		Mine(tb, node, blocks)
	}
	return node
}

// Mine generates blocks paying to a fresh MinerWallet address.
func Mine(tb testing.TB, node *bitcoind.Node, blocks int64) {
	tb.Helper()

	require.NoError(tb, node.EnsureWallet(MinerWallet), "failed to load miner wallet")
	addr, err := node.GenerateBech32(MinerWallet)
	require.NoError(tb, err, "failed to get miner address")
	require.NoError(tb, node.Warp(blocks, addr), "failed to mine %d blocks", blocks)
}

// Lightningd starts a lightningd backed by btc. conf may be nil. The node is
// closed when the test ends.
func Lightningd(tb testing.TB, btc lightningd.Backend, conf *lightningd.Conf) *lightningd.LightningD {
	tb.Helper()

	ld, err := lightningd.WithConf(context.Background(), LightningdExe(tb), btc, conf)
	require.NoError(tb, err, "failed to start lightningd")
	tb.Cleanup(func() {
		assert.NoError(tb, ld.Close(), "failed to stop lightningd")
	})
	return ld
}

// Network starts n listening lightningd nodes against btc in parallel. Every
// node after the first connects to the first one.
func Network(tb testing.TB, btc lightningd.Backend, n int) []*lightningd.LightningD {
	tb.Helper()
	if n < 1 {
		return nil
	}

	exe := LightningdExe(tb)
	hub := Lightningd(tb, btc, &lightningd.Conf{
		P2P: lightningd.P2P{ListenAnnounce: lightningd.Listen},
	})
	peer := hub.IDHost()

	nodes := make([]*lightningd.LightningD, n)
	nodes[0] = hub

	g, ctx := errgroup.WithContext(context.Background())
	for i := 1; i < n; i++ {
		g.Go(func() error {
			ld, err := lightningd.WithConf(ctx, exe, btc, &lightningd.Conf{
				P2P: lightningd.P2P{ListenAnnounce: lightningd.Listen, Connect: &peer},
			})
			if err != nil {
				return err
			}
			nodes[i] = ld
			return nil
		})
	}
	err := g.Wait()

	for _, ld := range nodes[1:] {
		if ld == nil {
			continue
		}
		tb.Cleanup(func() {
			assert.NoError(tb, ld.Close(), "failed to stop lightningd")
		})
	}
	require.NoError(tb, err, "failed to start lightningd network")
	return nodes
}
