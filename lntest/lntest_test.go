package lntest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lightningd "github.com/neverDefined/go-lightningd"
)

func TestOneLightningd(t *testing.T) {
	LightningdExe(t)
	btc := Bitcoind(t, 100)

	ld := Lightningd(t, btc, nil)

	info, err := ld.Client().GetInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint32(100), info.BlockHeight)
	assert.Equal(t, "regtest", info.Network)
}

func TestTwoLightningd(t *testing.T) {
	LightningdExe(t)
	btc := Bitcoind(t, 100)

	a := Lightningd(t, btc, nil)
	b := Lightningd(t, btc, nil)

	assert.NotEqual(t, a.LightningDir(), b.LightningDir())
	assert.NotEqual(t, a.Info().ID, b.Info().ID)
}

func TestNetwork(t *testing.T) {
	LightningdExe(t)
	btc := Bitcoind(t, 100)

	nodes := Network(t, btc, 3)
	require.Len(t, nodes, 3)

	info, err := nodes[0].Client().GetInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, info.NumPeers, "hub peers")
}

func TestStopRemovesEverything(t *testing.T) {
	LightningdExe(t)
	btc := Bitcoind(t, 100)

	ld := Lightningd(t, btc, &lightningd.Conf{})
	require.NoError(t, ld.Stop())
	require.Equal(t, lightningd.StateStopped, ld.State())

	_, err := ld.Client().GetInfo(context.Background())
	assert.Error(t, err, "getinfo should fail after stop")
	assert.NoDirExists(t, ld.LightningDir())
}
