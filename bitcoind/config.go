package bitcoind

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultReadyTimeout bounds RPC readiness polling.
	DefaultReadyTimeout = 30 * time.Second

	// DefaultPollInterval is the delay between readiness probes.
	DefaultPollInterval = 250 * time.Millisecond

	// DefaultGracePeriod is how long Stop waits before SIGKILL.
	DefaultGracePeriod = 10 * time.Second

	// DefaultPortAttempts bounds free-port probing.
	DefaultPortAttempts = 16
)

// Config holds the settings of a regtest node.
type Config struct {
	// Host is the RPC listen address as host:port. Empty picks a free
	// loopback port.
	Host string
	// User and Pass enable rpcuser/rpcpassword auth. Empty uses the
	// cookie file bitcoind writes into the data dir.
	User string
	Pass string
	// DataDir is the node's data directory. Empty creates a temporary one
	// which is removed on Stop.
	DataDir string
	// ExtraArgs are appended to the bitcoind command line, e.g. "-txindex=1".
	ExtraArgs []string

	// ViewStdout sends bitcoind output to our stdout instead of capturing it.
	ViewStdout bool

	ReadyTimeout time.Duration
	PollInterval time.Duration
	GracePeriod  time.Duration
	PortAttempts int

	Logger *slog.Logger
}

var (
	// configMu guards customConfig.
	configMu sync.RWMutex

	// customConfig replaces DefaultConfig for nodes created with New(exe, nil).
	customConfig *Config
)

// DefaultConfig returns the default regtest node configuration.
//
// Configuration details:
//   - Host: empty (a free 127.0.0.1 port is reserved at Start)
//   - Authentication: cookie file
//   - Data directory: a fresh temporary directory per node
func DefaultConfig() *Config {
	return &Config{}
}

// GetConfig returns a copy of the package-level configuration: the value
// set by SetConfig, or DefaultConfig.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()

	if customConfig == nil {
		return DefaultConfig()
	}
	return customConfig.clone()
}

// SetConfig replaces the package-level configuration used by New when no
// Config is given. The value is copied.
func SetConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	customConfig = cfg.clone()
}

// ResetConfig restores DefaultConfig as the package-level configuration.
func ResetConfig() {
	configMu.Lock()
	defer configMu.Unlock()
	customConfig = nil
}

func (c *Config) clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.ExtraArgs = append([]string(nil), c.ExtraArgs...)
	return &out
}

func (c *Config) withDefaults() *Config {
	out := c.clone()
	if out == nil {
		out = DefaultConfig()
	}
	if out.ReadyTimeout <= 0 {
		out.ReadyTimeout = DefaultReadyTimeout
	}
	if out.PollInterval <= 0 {
		out.PollInterval = DefaultPollInterval
	}
	if out.GracePeriod <= 0 {
		out.GracePeriod = DefaultGracePeriod
	}
	if out.PortAttempts <= 0 {
		out.PortAttempts = DefaultPortAttempts
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

// renderConf produces bitcoin.conf for a regtest node.
func renderConf(rpcHost, rpcPort, p2pAddr, user, pass string) []byte {
	var b bytes.Buffer
	fmt.Fprintln(&b, "regtest=1")
	fmt.Fprintln(&b, "server=1")
	fmt.Fprintln(&b, "txindex=1")
	fmt.Fprintln(&b, "fallbackfee=0.0002")
	fmt.Fprintln(&b, "listenonion=0")
	fmt.Fprintln(&b, "dnsseed=0")
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "[regtest]")
	fmt.Fprintf(&b, "rpcbind=%s\n", rpcHost)
	fmt.Fprintf(&b, "rpcallowip=%s\n", rpcHost)
	fmt.Fprintf(&b, "rpcport=%s\n", rpcPort)
	fmt.Fprintf(&b, "bind=%s\n", p2pAddr)
	if user != "" {
		fmt.Fprintf(&b, "rpcuser=%s\n", user)
		fmt.Fprintf(&b, "rpcpassword=%s\n", pass)
	}
	return b.Bytes()
}
