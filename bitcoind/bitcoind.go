package bitcoind

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcd/rpcclient"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/neverDefined/go-lightningd/internal/ports"
	"github.com/neverDefined/go-lightningd/internal/proc"
	"github.com/neverDefined/go-lightningd/internal/telemetry"
)

const (
	daemonName = "bitcoind"

	// ExeEnv is the environment variable that points at the bitcoind binary.
	ExeEnv = "BITCOIND_EXE"

	confName = "bitcoin.conf"

	// dialTimeout bounds the TCP check that precedes each RPC probe.
	dialTimeout = time.Second
)

// ExePath locates the bitcoind executable: BITCOIND_EXE if set, else
// "bitcoind" on PATH.
func ExePath() (string, error) {
	exe := os.Getenv(ExeEnv)
	if exe == "" {
		exe = "bitcoind"
	}
	path, err := exec.LookPath(exe)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrExecutableNotFound, err)
	}
	return path, nil
}

// Node manages a single Bitcoin Core regtest node. Methods are safe for
// concurrent use.
type Node struct {
	exe      string
	cfg      *Config
	instance string
	logger   *slog.Logger

	mu       sync.Mutex
	dataDir  string
	ownsDir  bool
	rpcHost  string
	rpcPort  string
	reserved []uint16
	proc     *proc.Process
	client   *rpcclient.Client
	wallets  map[string]*rpcclient.Client
	running  bool
}

// New creates a Node for the bitcoind at exe. A nil cfg uses GetConfig().
// The node is not started.
//
// Returns:
//   - *Node: the unstarted node
//   - error: wraps ErrExecutableNotFound if exe is not runnable
//
// Example:
//
//	btc, err := bitcoind.New(exe, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := btc.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer btc.Stop()
func New(exe string, cfg *Config) (*Node, error) {
	if cfg == nil {
		cfg = GetConfig()
	}
	cfg = cfg.withDefaults()

	path, err := exec.LookPath(exe)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutableNotFound, err)
	}

	instance := uuid.NewString()
	return &Node{
		exe:      path,
		cfg:      cfg,
		instance: instance,
		logger:   cfg.Logger.With("component", daemonName, "instance", instance),
	}, nil
}

// Start launches bitcoind and blocks until its RPC server answers.
//
// The function:
//   - prepares the data directory (temporary unless Config.DataDir is set)
//   - reserves RPC and p2p ports on 127.0.0.1
//   - writes bitcoin.conf and spawns bitcoind in its own process group
//   - polls getblockcount until it succeeds, the process exits, or the
//     readiness timeout passes
//
// On failure everything acquired is released before returning.
func (n *Node) Start(ctx context.Context) (err error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.running {
		return ErrAlreadyRunning
	}

	ctx, span := telemetry.StartSpan(ctx, "bitcoind.start", daemonName,
		attribute.String("instance", n.instance))
	defer span.End()
	defer func() {
		telemetry.RecordSpawn(ctx, daemonName, outcomeOf(err))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			n.logger.Warn("bitcoind failed to start", "error", err)
			_ = n.release()
		}
	}()

	if err := n.prepareDataDir(); err != nil {
		return err
	}
	if err := n.reservePorts(); err != nil {
		return err
	}

	p2pAddr := net.JoinHostPort(ports.Host, strconv.Itoa(int(n.reserved[len(n.reserved)-1])))
	conf := renderConf(n.rpcHost, n.rpcPort, p2pAddr, n.cfg.User, n.cfg.Pass)
	confPath := filepath.Join(n.dataDir, confName)
	if err := os.WriteFile(confPath, conf, 0o600); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}

	args := append([]string{
		"-datadir=" + n.dataDir,
		"-conf=" + confPath,
	}, n.cfg.ExtraArgs...)

	p, err := proc.Start(proc.Spec{
		Path:    n.exe,
		Args:    args,
		Dir:     n.dataDir,
		Inherit: n.cfg.ViewStdout,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSpawn, err)
	}
	n.proc = p
	telemetry.AddLive(ctx, daemonName, 1)
	n.logger.Info("spawned bitcoind", "pid", p.Pid(), "datadir", n.dataDir, "rpc", n.rpcAddr())

	if err := n.waitReady(ctx); err != nil {
		return err
	}

	n.running = true
	telemetry.RecordReady(ctx, daemonName, time.Since(p.StartedAt()))
	n.logger.Info("bitcoind ready", "pid", p.Pid(), "took", time.Since(p.StartedAt()))
	return nil
}

func (n *Node) prepareDataDir() error {
	if n.cfg.DataDir != "" {
		if err := os.MkdirAll(n.cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("%w: %w", ErrIO, err)
		}
		n.dataDir = n.cfg.DataDir
		n.ownsDir = false
		return nil
	}

	dir, err := os.MkdirTemp("", "bitcoind-")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	n.dataDir = dir
	n.ownsDir = true
	return nil
}

// reservePorts fills rpcHost/rpcPort and reserved. The p2p port is always
// the last reserved entry.
func (n *Node) reservePorts() error {
	want := 1
	if n.cfg.Host == "" {
		want = 2
	}

	got, err := ports.Reserve(want, n.cfg.PortAttempts)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPortAllocation, err)
	}
	n.reserved = got

	if n.cfg.Host == "" {
		n.rpcHost = ports.Host
		n.rpcPort = strconv.Itoa(int(got[0]))
		return nil
	}

	host, port, err := net.SplitHostPort(n.cfg.Host)
	if err != nil {
		return fmt.Errorf("%w: rpc host %q: %w", ErrIO, n.cfg.Host, err)
	}
	n.rpcHost, n.rpcPort = host, port
	return nil
}

func (n *Node) waitReady(ctx context.Context) error {
	timeout := time.NewTimer(n.cfg.ReadyTimeout)
	defer timeout.Stop()
	tick := time.NewTicker(n.cfg.PollInterval)
	defer tick.Stop()

	for {
		if n.proc.Exited() {
			return fmt.Errorf("%w: %w", ErrProcessExited, n.proc.ExitErr())
		}

		err := n.probe()
		if err == nil {
			return nil
		}
		n.logger.Debug("bitcoind not ready", "error", err)

		select {
		case <-n.proc.Done():
			return fmt.Errorf("%w: %w", ErrProcessExited, n.proc.ExitErr())
		case <-timeout.C:
			return fmt.Errorf("%w after %s: %w", ErrReadinessTimeout, n.cfg.ReadyTimeout, err)
		case <-ctx.Done():
			return fmt.Errorf("waiting for bitcoind: %w", ctx.Err())
		case <-tick.C:
		}
	}
}

// probe checks the RPC port with a plain dial before handing off to
// rpcclient, whose HTTP transport retries refused connections with backoff.
func (n *Node) probe() error {
	conn, err := net.DialTimeout("tcp", n.rpcAddr(), dialTimeout)
	if err != nil {
		return err
	}
	conn.Close()

	if n.client == nil {
		cc, err := n.connConfig()
		if err != nil {
			return err
		}
		client, err := rpcclient.New(cc, nil)
		if err != nil {
			return err
		}
		n.client = client
	}

	_, err = n.client.GetBlockCount()
	return err
}

// Stop shuts bitcoind down and releases its ports and (temporary) data
// directory. Calling Stop on a stopped node is a no-op.
//
// The function:
//   - sends the stop RPC and waits up to the grace period
//   - sends SIGTERM to the process group, then SIGKILL after the grace period
//   - shuts down RPC clients, releases ports, removes an owned data dir
//
// Returns:
//   - error: only if the process survived SIGKILL
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.running {
		return nil
	}
	n.running = false

	start := time.Now()
	err := n.release()
	telemetry.RecordStop(context.Background(), daemonName, time.Since(start))
	n.logger.Info("bitcoind stopped", "took", time.Since(start))
	return err
}

// release tears down whatever Start acquired. Must be called with mu held.
func (n *Node) release() error {
	var err error

	if p := n.proc; p != nil {
		if !p.Exited() && n.client != nil {
			if _, rpcErr := n.client.RawRequest("stop", nil); rpcErr == nil {
				select {
				case <-p.Done():
				case <-time.After(n.cfg.GracePeriod):
					n.logger.Warn("bitcoind ignored stop rpc, signalling", "pid", p.Pid())
				}
			}
		}
		err = p.Terminate(n.cfg.GracePeriod)
		telemetry.AddLive(context.Background(), daemonName, -1)
		n.proc = nil
	}

	for name, wc := range n.wallets {
		wc.Shutdown()
		delete(n.wallets, name)
	}
	if n.client != nil {
		n.client.Shutdown()
		n.client = nil
	}

	ports.Release(n.reserved...)
	n.reserved = nil

	if n.ownsDir && n.dataDir != "" {
		if rmErr := os.RemoveAll(n.dataDir); rmErr != nil {
			n.logger.Warn("failed to remove bitcoind data dir", "error", rmErr)
		}
		n.dataDir = ""
	}

	return err
}

// IsRunning reports whether the node has been started and its process is
// still alive.
func (n *Node) IsRunning() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.running && n.proc != nil && !n.proc.Exited()
}

// Client returns the RPC client for the node. It is nil until Start
// succeeds.
//
// Example:
//
//	info, err := btc.Client().GetBlockChainInfo()
func (n *Node) Client() *rpcclient.Client {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.client
}

// HealthCheck verifies the RPC connection.
func (n *Node) HealthCheck() error {
	_, err := n.GetBlockCount()
	return err
}

// GetBlockCount returns the current chain height.
func (n *Node) GetBlockCount() (int64, error) {
	client, err := n.liveClient()
	if err != nil {
		return 0, err
	}
	return client.GetBlockCount()
}

func (n *Node) liveClient() (*rpcclient.Client, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.running || n.client == nil {
		return nil, ErrNotRunning
	}
	return n.client, nil
}

// RPCConnConfig returns connection parameters for the node's RPC server.
// With cookie auth the cookie file is read on every call, since bitcoind
// rewrites it on restart.
func (n *Node) RPCConnConfig() (*rpcclient.ConnConfig, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.running {
		return nil, ErrNotRunning
	}
	return n.connConfig()
}

func (n *Node) connConfig() (*rpcclient.ConnConfig, error) {
	user, pass := n.cfg.User, n.cfg.Pass
	if user == "" {
		var err error
		user, pass, err = readCookie(n.cookieFile())
		if err != nil {
			return nil, err
		}
	}
	return &rpcclient.ConnConfig{
		Host:         n.rpcAddr(),
		User:         user,
		Pass:         pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil
}

// readCookie parses a bitcoind .cookie file ("user:password").
func readCookie(path string) (string, string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", "", errCookieMissing
	}
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrIO, err)
	}

	user, pass, ok := strings.Cut(strings.TrimSpace(string(data)), ":")
	if !ok || user == "" {
		return "", "", fmt.Errorf("%w: malformed cookie file %s", ErrIO, path)
	}
	return user, pass, nil
}

func (n *Node) rpcAddr() string { return net.JoinHostPort(n.rpcHost, n.rpcPort) }

func (n *Node) cookieFile() string { return filepath.Join(n.dataDir, "regtest", ".cookie") }

// RPCAddr returns the RPC address as host:port.
func (n *Node) RPCAddr() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.rpcAddr()
}

// DataDir returns the node's data directory. It is empty before Start and
// after Stop when the directory was temporary.
func (n *Node) DataDir() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dataDir
}

// CookieFile returns the path of the RPC auth cookie.
func (n *Node) CookieFile() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cookieFile()
}

// Pid returns the bitcoind process id, or 0 when not started.
func (n *Node) Pid() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.proc == nil {
		return 0
	}
	return n.proc.Pid()
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return telemetry.OutcomeReady
	case errors.Is(err, ErrPortAllocation):
		return telemetry.OutcomePorts
	case errors.Is(err, ErrSpawn):
		return telemetry.OutcomeSpawn
	case errors.Is(err, ErrReadinessTimeout):
		return telemetry.OutcomeTimeout
	case errors.Is(err, ErrProcessExited):
		return telemetry.OutcomeExited
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return telemetry.OutcomeCanceled
	case errors.Is(err, ErrAlreadyRunning):
		return telemetry.OutcomeSpawn
	default:
		return telemetry.OutcomeIO
	}
}
