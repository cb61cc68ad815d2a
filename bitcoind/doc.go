/*
Package bitcoind manages Bitcoin Core regtest nodes for integration tests.

Regtest mode creates a private blockchain whose blocks are mined on demand.
A Node spawns its own bitcoind process with an isolated data directory and
free loopback ports, so any number of nodes can run side by side in one test
binary. It is the chain backend for lightningd fixtures: *Node implements
lightningd.Backend.

Quick Start

	exe, err := bitcoind.ExePath()
	if err != nil {
		log.Fatal(err)
	}

	btc, err := bitcoind.New(exe, nil)
	if err != nil {
		log.Fatal(err)
	}
	if err := btc.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer btc.Stop()

	btc.EnsureWallet("miner")
	addr, _ := btc.GenerateBech32("miner")
	btc.Warp(101, addr) // Mine to maturity

	height, _ := btc.GetBlockCount()
	fmt.Printf("Block height: %d\n", height)

# Configuration

Default settings:
  - RPC host: 127.0.0.1 on a free port
  - RPC auth: the .cookie file in the data directory
  - Data directory: a temporary directory, removed on Stop

Customize via Config when creating nodes, or change the package default with
SetConfig / ResetConfig.

# Executable

ExePath reads BITCOIND_EXE and falls back to "bitcoind" on PATH.

# Lifecycle

Start blocks until getblockcount answers. If bitcoind exits first, Start
returns ErrProcessExited with the tail of its output; if it never answers,
ErrReadinessTimeout. Stop asks bitcoind to shut down over RPC, then signals the
process group and kills it after the grace period. Stop is idempotent.

# Thread Safety

All Node methods are safe for concurrent use.

# Prerequisites

Install Bitcoin Core:
  - macOS: brew install bitcoin
  - Ubuntu/Debian: sudo apt-get install bitcoind
  - Arch: sudo pacman -S bitcoin-core

NOT for production use.
*/
package bitcoind
