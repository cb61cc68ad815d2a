/*
Package lightningd spawns and manages regtest Core Lightning daemons for
integration tests.

Each LightningD owns one lightningd process, a private lightning dir, and a
reserved p2p port. It is backed by a bitcoind node (see package bitcoind)
that supplies the chain RPC connection. Construction blocks until the node
answers getinfo and has synced with bitcoind, and Stop always tears the
process and its directory down again.

Quick Start

	btc, err := bitcoind.New(bitcoindExe, nil)
	if err != nil {
		log.Fatal(err)
	}
	if err := btc.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer btc.Stop()

	ld, err := lightningd.New(lightningdExe, btc)
	if err != nil {
		log.Fatal(err)
	}
	defer ld.Close()

	info, _ := ld.Client().GetInfo(ctx)
	fmt.Printf("node %s at height %d\n", info.ID, info.BlockHeight)

# Architecture

A LightningD is created in these steps, each with its own error:

  - the executable is resolved (ErrExecutableNotFound)
  - a fresh lightning dir is created under Conf.TempRoot (ErrIO)
  - a free 127.0.0.1 port is reserved for p2p (ErrPortAllocation)
  - a config file with the bitcoind credentials is written (ErrIO)
  - lightningd is started in its own process group (ErrSpawn)
  - the lightning-rpc socket and getinfo are polled (ErrReadinessTimeout,
    ErrProcessExited)

If any step fails, everything acquired so far is released before the error
is returned.

# Configuration

Default settings:
  - Network: regtest
  - P2P: not listening (see P2P.ListenAnnounce)
  - Readiness: 30s total, probing every 500ms
  - Shutdown grace period: 5s before SIGKILL

Customize via Conf when calling WithConf.

# Multiple Nodes

	alice, _ := lightningd.WithConf(ctx, exe, btc, &lightningd.Conf{
		P2P: lightningd.P2P{ListenAnnounce: lightningd.Listen},
	})
	defer alice.Close()

	peer := alice.IDHost()
	bob, _ := lightningd.WithConf(ctx, exe, btc, &lightningd.Conf{
		P2P: lightningd.P2P{Connect: &peer},
	})
	defer bob.Close()

# Cleanup

Stop asks lightningd to stop over RPC, then sends SIGTERM to the process
group, then SIGKILL after the grace period. It is idempotent and never fails
because of directory cleanup. On Linux the child also gets SIGKILL if the
test binary dies, and a runtime cleanup kills the process of a LightningD
that is garbage collected without being stopped. Always defer Close anyway.

# Executable

ExePath reads LIGHTNINGD_EXE and falls back to "lightningd" on PATH.

# Known Limitations

Ports are found by binding port 0 and releasing it. Within one process the
reservation is exclusive, but another process can take the port before
lightningd binds it.

NOT for production use.
*/
package lightningd
