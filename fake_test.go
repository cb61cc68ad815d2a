//go:build unix

package lightningd

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/btcsuite/btcd/rpcclient"
	"github.com/stretchr/testify/require"
)

// fakeModeEnv switches the test binary into a fake lightningd.
const fakeModeEnv = "LIGHTNINGD_FAKE_MODE"

// Fake daemon behaviours.
const (
	fakeServe    = "serve"    // answers getinfo, stop, connect
	fakeExit     = "exit"     // dies immediately with status 3
	fakeHang     = "hang"     // never creates the socket
	fakeSyncing  = "syncing"  // answers getinfo with a sync warning
	fakeStubborn = "stubborn" // ignores SIGTERM and the stop rpc
)

func TestMain(m *testing.M) {
	if mode := os.Getenv(fakeModeEnv); mode != "" {
		os.Exit(runFake(mode, os.Args[1:]))
	}
	os.Exit(m.Run())
}

func runFake(mode string, args []string) int {
	var dir, confPath string
	for _, arg := range args {
		if v, ok := strings.CutPrefix(arg, "--lightning-dir="); ok {
			dir = v
		}
		if v, ok := strings.CutPrefix(arg, "--conf="); ok {
			confPath = v
		}
	}
	fmt.Println("fake lightningd starting in", dir)

	switch mode {
	case fakeExit:
		fmt.Fprintln(os.Stderr, "fatal: bitcoind unreachable")
		return 3
	case fakeHang:
		time.Sleep(time.Hour)
		return 0
	case fakeStubborn:
		signal.Ignore(syscall.SIGTERM)
	}

	binding := fakeBinding(confPath)

	sockDir := filepath.Join(dir, "regtest")
	if err := os.MkdirAll(sockDir, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	l, err := net.Listen("unix", filepath.Join(sockDir, "lightning-rpc"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	f := &fakeDaemon{mode: mode, dir: dir, binding: binding}
	for {
		conn, err := l.Accept()
		if err != nil {
			return 1
		}
		go f.serve(conn)
	}
}

type fakeDaemon struct {
	mode    string
	dir     string
	binding []Address
}

type fakeRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func (f *fakeDaemon) serve(conn net.Conn) {
	defer conn.Close()

	var req fakeRequest
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&req); err != nil {
		return
	}

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	exit := false

	switch req.Method {
	case "getinfo":
		info := Info{
			ID:          fakeNodeID(f.dir),
			Alias:       "fake",
			BlockHeight: 100,
			Network:     "regtest",
			Binding:     f.binding,
		}
		if f.mode == fakeSyncing {
			info.WarningBitcoindSync = "Bitcoind is not up-to-date with network."
		}
		resp["result"] = info
	case "stop":
		resp["result"] = "Shutdown complete"
		exit = f.mode != fakeStubborn
	case "connect":
		var params struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(req.Params, &params)
		_ = os.WriteFile(filepath.Join(f.dir, "connected"), []byte(params.ID), 0o600)
		id, _, _ := strings.Cut(params.ID, "@")
		resp["result"] = ConnectResult{ID: id, Direction: "out"}
	default:
		resp["error"] = RPCError{Code: -32601, Message: "Unknown command '" + req.Method + "'"}
	}

	// lightningd ends every response with a blank line.
	_ = json.NewEncoder(conn).Encode(resp)
	_, _ = conn.Write([]byte("\n"))
	if exit {
		conn.Close()
		os.Exit(0)
	}
}

// fakeBinding reports the address the config file asked us to bind.
func fakeBinding(confPath string) []Address {
	data, err := os.ReadFile(confPath)
	if err != nil {
		return nil
	}
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok || (key != "bind-addr" && key != "addr") {
			continue
		}
		host, port, err := net.SplitHostPort(value)
		if err != nil {
			continue
		}
		var p uint16
		fmt.Sscan(port, &p)
		return []Address{{Type: "ipv4", Address: host, Port: p}}
	}
	return nil
}

func fakeNodeID(dir string) string {
	sum := sha256.Sum256([]byte(dir))
	return "02" + hex.EncodeToString(sum[:])
}

// staticBackend is a Backend with fixed connection parameters.
type staticBackend struct {
	cfg *rpcclient.ConnConfig
	err error
}

func (b staticBackend) RPCConnConfig() (*rpcclient.ConnConfig, error) {
	if b.err != nil {
		return nil, b.err
	}
	cfg := *b.cfg
	return &cfg, nil
}

func testBackend() staticBackend {
	return staticBackend{cfg: &rpcclient.ConnConfig{
		Host:         "127.0.0.1:18443",
		User:         "__cookie__",
		Pass:         "hunter2",
		HTTPPostMode: true,
		DisableTLS:   true,
	}}
}

// fakeExe returns the path of the running test binary.
func fakeExe(t *testing.T) string {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err, "failed to locate test binary")
	return exe
}

// fakeConf configures a node that runs the test binary in the given mode
// with short timings.
func fakeConf(mode string) *Conf {
	return &Conf{
		Env:          []string{fakeModeEnv + "=" + mode},
		ReadyTimeout: 10 * time.Second,
		PollInterval: 20 * time.Millisecond,
		GracePeriod:  2 * time.Second,
	}
}
