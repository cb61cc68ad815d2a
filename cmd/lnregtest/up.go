package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	lightningd "github.com/neverDefined/go-lightningd"
	"github.com/neverDefined/go-lightningd/bitcoind"
	"github.com/neverDefined/go-lightningd/internal/telemetry"
)

const minerWallet = "miner"

// network is everything `up` started. stop tears it down in reverse order.
type network struct {
	btc   *bitcoind.Node
	nodes []*lightningd.LightningD
}

func (n *network) stop() error {
	var errs []error
	for i := len(n.nodes) - 1; i >= 0; i-- {
		if ld := n.nodes[i]; ld != nil {
			errs = append(errs, ld.Close())
		}
	}
	if n.btc != nil {
		errs = append(errs, n.btc.Stop())
	}
	return errors.Join(errs...)
}

func (n *network) summary() Summary {
	s := Summary{Bitcoind: BitcoindSummary{
		RPC:     n.btc.RPCAddr(),
		DataDir: n.btc.DataDir(),
		Cookie:  n.btc.CookieFile(),
		Pid:     n.btc.Pid(),
	}}
	for i, ld := range n.nodes {
		node := NodeSummary{
			ID:  ld.Info().ID,
			RPC: ld.RPCPath(),
			P2P: ld.P2PAddr(),
			Dir: ld.LightningDir(),
			Pid: ld.Pid(),
		}
		if i > 0 {
			node.Peer = n.nodes[0].IDHost().String()
		}
		s.Nodes = append(s.Nodes, node)
	}
	return s
}

// bringUp starts bitcoind, mines the configured blocks and starts the
// lightningd nodes. On error everything already started is stopped.
func bringUp(ctx context.Context, env Env, logger *slog.Logger) (_ *network, err error) {
	nw := &network{}
	defer func() {
		if err != nil {
			if stopErr := nw.stop(); stopErr != nil {
				logger.Warn("failed to stop partial network", "error", stopErr)
			}
		}
	}()

	btcExe := env.Bitcoind.Exe
	if btcExe == "" {
		if btcExe, err = bitcoind.ExePath(); err != nil {
			return nil, err
		}
	}
	btc, err := bitcoind.New(btcExe, &bitcoind.Config{
		ExtraArgs: env.Bitcoind.Args,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	if err := btc.Start(ctx); err != nil {
		return nil, err
	}
	nw.btc = btc
	logger.Info("bitcoind up", "rpc", btc.RPCAddr())

	if env.Bitcoind.Blocks > 0 {
		if err := mine(btc, env.Bitcoind.Blocks); err != nil {
			return nil, err
		}
		logger.Info("mined blocks", "count", env.Bitcoind.Blocks)
	}

	lnExe := env.Lightningd.Exe
	if lnExe == "" {
		if lnExe, err = lightningd.ExePath(); err != nil {
			return nil, err
		}
	}

	conf := func(name string) *lightningd.Conf {
		return &lightningd.Conf{
			Args:         append([]string{"--alias=" + name}, env.Lightningd.Args...),
			P2P:          lightningd.P2P{ListenAnnounce: lightningd.Listen},
			ReadyTimeout: env.Lightningd.ReadyTimeout,
			KeepDir:      env.Lightningd.KeepDirs,
			Logger:       logger,
		}
	}

	nw.nodes = make([]*lightningd.LightningD, env.Lightningd.Nodes)
	hub, err := lightningd.WithConf(ctx, lnExe, btc, conf("node0"))
	if err != nil {
		return nil, err
	}
	nw.nodes[0] = hub
	peer := hub.IDHost()

	g, gctx := errgroup.WithContext(ctx)
	for i := 1; i < len(nw.nodes); i++ {
		g.Go(func() error {
			c := conf(fmt.Sprintf("node%d", i))
			c.P2P.Connect = &peer
			ld, err := lightningd.WithConf(gctx, lnExe, btc, c)
			if err != nil {
				return fmt.Errorf("node%d: %w", i, err)
			}
			nw.nodes[i] = ld
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return nw, nil
}

func mine(btc *bitcoind.Node, blocks int64) error {
	if err := btc.EnsureWallet(minerWallet); err != nil {
		return err
	}
	addr, err := btc.GenerateBech32(minerWallet)
	if err != nil {
		return err
	}
	return btc.Warp(blocks, addr)
}

// upOptions are the command line switches of `up` that are not part of
// the env file.
type upOptions struct {
	// HTTPAddr, if set, serves /healthz, /nodes and /metrics.
	HTTPAddr string
	// Traces is "none", "stdout" or "otlp".
	Traces       string
	OTLPEndpoint string
}

func runUp(ctx context.Context, env Env, opts upOptions, out io.Writer, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tcfg := telemetry.Config{
		ServiceName:    "lnregtest",
		ServiceVersion: version(),
		TraceExporter:  opts.Traces,
		OTLPEndpoint:   opts.OTLPEndpoint,
		Writer:         os.Stderr,
	}
	if opts.HTTPAddr != "" {
		tcfg.MetricExporter = telemetry.ExporterPrometheus
	}
	providers, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := providers.Shutdown(context.Background()); err != nil {
			logger.Warn("failed to flush telemetry", "error", err)
		}
	}()

	nw, err := bringUp(ctx, env, logger)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(nw.summary()); err != nil {
		_ = nw.stop()
		return err
	}
	if err := enc.Close(); err != nil {
		_ = nw.stop()
		return err
	}

	var srv *http.Server
	if opts.HTTPAddr != "" {
		srv = &http.Server{
			Addr:              opts.HTTPAddr,
			Handler:           newRouter(nw, providers.MetricsHandler()),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server failed", "addr", opts.HTTPAddr, "error", err)
			}
		}()
		logger.Info("serving status", "addr", opts.HTTPAddr)
	}

	logger.Info("network up, press ctrl-c to stop", "nodes", len(nw.nodes))
	<-ctx.Done()

	logger.Info("shutting down")
	if srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(sctx)
		cancel()
	}
	return nw.stop()
}
