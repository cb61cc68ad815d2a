package lightningd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
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
	daemonName = "lightningd"

	// configName is the config file written into the lightning dir.
	configName = "config"

	// probeTimeout bounds a single getinfo readiness probe.
	probeTimeout = 2 * time.Second

	// stopRPCTimeout bounds the polite stop request sent before signalling.
	stopRPCTimeout = 2 * time.Second
)

// Backend supplies the bitcoind RPC connection parameters a lightningd node
// needs. *bitcoind.Node implements it.
type Backend interface {
	RPCConnConfig() (*rpcclient.ConnConfig, error)
}

// LightningD is a regtest lightningd process owned by the caller. It must be
// stopped with Stop or Close, normally via defer right after construction.
type LightningD struct {
	instance string
	exe      string
	dir      string
	conf     *Conf
	logger   *slog.Logger
	client   *Client
	p2pPort  uint16

	mu      sync.Mutex
	state   State
	failErr error
	proc    *proc.Process
	info    *Info
	stopped bool
	reaper  runtime.Cleanup
}

// New launches lightningd from exe against backend with the default Conf and
// waits until it is ready to accept RPC calls.
func New(exe string, backend Backend) (*LightningD, error) {
	return WithConf(context.Background(), exe, backend, nil)
}

// WithConf launches lightningd from exe against backend using conf, which
// may be nil.
//
// The function:
//   - validates exe (ErrExecutableNotFound)
//   - creates a fresh lightning dir (ErrIO)
//   - reserves a p2p port (ErrPortAllocation)
//   - writes the config file pointing at the backend (ErrIO)
//   - spawns the daemon in its own process group (ErrSpawn)
//   - polls the RPC socket and getinfo until the node is synced
//     (ErrReadinessTimeout, ErrProcessExited)
//   - connects to conf.P2P.Connect if set
//
// On any failure the process, ports and directory are released before the
// error is returned; nothing outlives the call.
//
// Example:
//
//	ld, err := lightningd.WithConf(ctx, exe, btc, &lightningd.Conf{
//	    P2P: lightningd.P2P{ListenAnnounce: lightningd.Listen},
//	})
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer ld.Close()
func WithConf(ctx context.Context, exe string, backend Backend, conf *Conf) (_ *LightningD, err error) {
	conf = conf.withDefaults()
	instance := uuid.NewString()
	logger := conf.Logger.With("component", daemonName, "instance", instance)

	ctx, span := telemetry.StartSpan(ctx, "lightningd.new", daemonName,
		attribute.String("instance", instance))
	defer span.End()
	defer func() {
		telemetry.RecordSpawn(ctx, daemonName, outcomeOf(err))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if backend == nil {
		return nil, fmt.Errorf("%w: nil backend", ErrInvalidConf)
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}

	path, err := resolveExe(exe)
	if err != nil {
		return nil, err
	}

	btc, err := backend.RPCConnConfig()
	if err != nil {
		return nil, fmt.Errorf("%w: backend connection parameters: %w", ErrIO, err)
	}

	dir, err := os.MkdirTemp(conf.TempRoot, "lightningd-")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	ld := &LightningD{
		instance: instance,
		exe:      path,
		dir:      dir,
		conf:     conf,
		logger:   logger.With("dir", dir),
		client:   NewClient(filepath.Join(dir, "regtest", "lightning-rpc")),
		state:    StateStarting,
	}
	defer func() {
		if err != nil {
			ld.abort(err)
		}
	}()

	reserved, err := ports.Reserve(1, conf.PortAttempts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPortAllocation, err)
	}
	ld.p2pPort = reserved[0]

	content, err := renderConfig(btc, conf.P2P.ListenAnnounce, ld.p2pPort)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(ld.ConfigPath(), content, 0o600); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	args := append([]string{
		"--lightning-dir=" + dir,
		"--conf=" + ld.ConfigPath(),
	}, conf.Args...)

	p, err := proc.Start(proc.Spec{
		Path:    path,
		Args:    args,
		Dir:     dir,
		Env:     conf.Env,
		Inherit: conf.ViewStdout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}
	ld.proc = p
	ld.reaper = runtime.AddCleanup(ld, reap, residue{
		proc:    p,
		dir:     dir,
		port:    ld.p2pPort,
		keepDir: conf.KeepDir,
	})
	telemetry.AddLive(ctx, daemonName, 1)

	ld.logger.Info("spawned lightningd", "pid", p.Pid(), "p2p_port", ld.p2pPort)

	info, err := ld.waitReady(ctx)
	if err != nil {
		return nil, err
	}

	if peer := conf.P2P.Connect; peer != nil {
		cctx, cancel := context.WithTimeout(ctx, conf.ReadyTimeout)
		_, err := ld.client.Connect(cctx, *peer)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("connect to %s: %w", peer, err)
		}
	}

	ld.mu.Lock()
	ld.state = StateRunning
	ld.info = info
	ld.mu.Unlock()

	ready := time.Since(p.StartedAt())
	telemetry.RecordReady(ctx, daemonName, ready)
	ld.logger.Info("lightningd ready", "pid", p.Pid(), "id", info.ID, "took", ready)

	return ld, nil
}

// waitReady polls until getinfo succeeds on a synced node, the process
// exits, the timeout passes, or ctx is cancelled.
func (ld *LightningD) waitReady(ctx context.Context) (*Info, error) {
	timeout := time.NewTimer(ld.conf.ReadyTimeout)
	defer timeout.Stop()
	tick := time.NewTicker(ld.conf.PollInterval)
	defer tick.Stop()

	for {
		if ld.proc.Exited() {
			return nil, ld.exitedErr()
		}

		info, err := ld.probe(ctx)
		if err == nil {
			return info, nil
		}
		ld.logger.Debug("lightningd not ready", "error", err)

		select {
		case <-ld.proc.Done():
			return nil, ld.exitedErr()
		case <-timeout.C:
			return nil, fmt.Errorf("%w after %s: %w", ErrReadinessTimeout, ld.conf.ReadyTimeout, err)
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for lightningd: %w", ctx.Err())
		case <-tick.C:
		}
	}
}

func (ld *LightningD) probe(ctx context.Context) (*Info, error) {
	if _, err := os.Stat(ld.client.Path()); err != nil {
		return nil, ErrSockPathNotExist
	}

	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	info, err := ld.client.GetInfo(pctx)
	if err != nil {
		return nil, err
	}
	if info.Syncing() {
		return nil, fmt.Errorf("%w: %s%s", ErrGetInfoSyncing, info.WarningBitcoindSync, info.WarningLightningdSync)
	}
	return info, nil
}

func (ld *LightningD) exitedErr() error {
	return fmt.Errorf("%w: %w", ErrProcessExited, ld.proc.ExitErr())
}

// abort records a construction failure and releases everything acquired so
// far. Cleanup problems are logged; the construction error is what the
// caller sees.
func (ld *LightningD) abort(cause error) {
	ld.mu.Lock()
	defer ld.mu.Unlock()

	ld.state = StateFailed
	ld.failErr = cause
	ld.stopped = true
	ld.logger.Warn("lightningd failed to start", "error", cause)

	if err := ld.shutdown(); err != nil {
		ld.logger.Error("failed to kill lightningd after failed start", "error", err)
	}
	ld.state = StateStopped
}

// Stop shuts the daemon down and frees its resources.
//
// The function:
//   - asks lightningd to stop over RPC and waits up to the grace period
//   - sends SIGTERM to the process group, waits again, then SIGKILL
//   - releases the p2p port and removes the lightning dir (unless KeepDir)
//
// Stop is idempotent; later calls return nil. The only error reported is a
// process that survived SIGKILL. Directory removal failures are logged.
func (ld *LightningD) Stop() error {
	ld.mu.Lock()
	defer ld.mu.Unlock()

	if ld.stopped {
		return nil
	}
	ld.stopped = true

	start := time.Now()
	err := ld.shutdown()
	ld.state = StateStopped

	telemetry.RecordStop(context.Background(), daemonName, time.Since(start))
	ld.logger.Info("lightningd stopped", "took", time.Since(start))

	return err
}

// Close is Stop, so a LightningD can be used as an io.Closer.
func (ld *LightningD) Close() error {
	return ld.Stop()
}

// shutdown must be called with mu held.
func (ld *LightningD) shutdown() error {
	var err error

	if p := ld.proc; p != nil {
		if !p.Exited() && ld.requestStop() {
			select {
			case <-p.Done():
			case <-time.After(ld.conf.GracePeriod):
				ld.logger.Warn("lightningd ignored stop rpc, signalling", "pid", p.Pid())
			}
		}
		err = p.Terminate(ld.conf.GracePeriod)
		ld.reaper.Stop()
		telemetry.AddLive(context.Background(), daemonName, -1)
	}

	if ld.p2pPort != 0 {
		ports.Release(ld.p2pPort)
	}

	if !ld.conf.KeepDir {
		if rmErr := os.RemoveAll(ld.dir); rmErr != nil {
			ld.logger.Warn("failed to remove lightning dir", "error", rmErr)
		}
	}

	return err
}

// requestStop sends the stop RPC if the socket is up. It reports whether the
// request was accepted.
func (ld *LightningD) requestStop() bool {
	if _, err := os.Stat(ld.client.Path()); err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), stopRPCTimeout)
	defer cancel()

	if err := ld.client.Stop(ctx); err != nil {
		ld.logger.Debug("stop rpc failed", "error", err)
		return false
	}
	return true
}

// residue is what the GC safety net needs to clean up an abandoned handle.
// It must not point back at the LightningD.
type residue struct {
	proc    *proc.Process
	dir     string
	port    uint16
	keepDir bool
}

// reap runs if a LightningD becomes unreachable without being stopped.
func reap(r residue) {
	_ = r.proc.Kill()
	telemetry.AddLive(context.Background(), daemonName, -1)
	ports.Release(r.port)
	if !r.keepDir {
		_ = os.RemoveAll(r.dir)
	}
}

// ConnectPeer opens a p2p connection to peer.
func (ld *LightningD) ConnectPeer(ctx context.Context, peer IDHost) error {
	if ld.State() != StateRunning {
		return ErrNotRunning
	}
	_, err := ld.client.Connect(ctx, peer)
	return err
}

// Client returns the RPC client bound to this node's socket.
func (ld *LightningD) Client() *Client { return ld.client }

// RPCPath returns the lightning-rpc unix socket path.
func (ld *LightningD) RPCPath() string { return ld.client.Path() }

// LightningDir returns the node's working directory.
func (ld *LightningD) LightningDir() string { return ld.dir }

// ConfigPath returns the generated config file.
func (ld *LightningD) ConfigPath() string { return filepath.Join(ld.dir, configName) }

// P2PPort returns the reserved p2p port. The node only binds it when
// listening is enabled.
func (ld *LightningD) P2PPort() uint16 { return ld.p2pPort }

// P2PAddr returns the p2p address as host:port.
func (ld *LightningD) P2PAddr() string {
	return net.JoinHostPort(ports.Host, strconv.Itoa(int(ld.p2pPort)))
}

// Exe returns the resolved executable path.
func (ld *LightningD) Exe() string { return ld.exe }

// Instance returns a unique id for this fixture, used in logs and traces.
func (ld *LightningD) Instance() string { return ld.instance }

// Info returns the getinfo reply captured when the node became ready.
func (ld *LightningD) Info() *Info {
	ld.mu.Lock()
	defer ld.mu.Unlock()
	if ld.info == nil {
		return nil
	}
	info := *ld.info
	return &info
}

// IDHost returns how other nodes can reach this one. Host is empty unless
// the node is listening.
func (ld *LightningD) IDHost() IDHost {
	var peer IDHost
	if info := ld.Info(); info != nil {
		peer.ID = info.ID
	}
	if ld.conf.P2P.ListenAnnounce != ListenNo {
		peer.Host = ld.P2PAddr()
	}
	return peer
}

// State returns the current readiness state. A running node whose process
// has since exited reports StateFailed.
func (ld *LightningD) State() State {
	ld.mu.Lock()
	defer ld.mu.Unlock()
	ld.checkExitedLocked()
	return ld.state
}

// FailureReason returns why the node failed, or nil.
func (ld *LightningD) FailureReason() error {
	ld.mu.Lock()
	defer ld.mu.Unlock()
	ld.checkExitedLocked()
	return ld.failErr
}

// checkExitedLocked moves a Running node whose daemon died to Failed.
func (ld *LightningD) checkExitedLocked() {
	if ld.state != StateRunning || !ld.proc.Exited() {
		return
	}
	ld.state = StateFailed
	ld.failErr = ld.exitedErr()
	ld.logger.Warn("lightningd exited unexpectedly", "error", ld.failErr)
}

// Pid returns the daemon's process id.
func (ld *LightningD) Pid() int {
	if ld.proc == nil {
		return 0
	}
	return ld.proc.Pid()
}

// Output returns the tail of the daemon's captured stdout and stderr. It is
// empty when Conf.ViewStdout is set.
func (ld *LightningD) Output() string {
	if ld.proc == nil {
		return ""
	}
	return ld.proc.Output()
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return telemetry.OutcomeReady
	case errors.Is(err, ErrExecutableNotFound):
		return telemetry.OutcomeExeNotFound
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
	case errors.Is(err, ErrIO), errors.Is(err, ErrInvalidConf):
		return telemetry.OutcomeIO
	default:
		return telemetry.OutcomeRPC
	}
}
