package lightningd

import (
	"bytes"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/btcsuite/btcd/rpcclient"

	"github.com/neverDefined/go-lightningd/internal/ports"
)

const (
	// DefaultReadyTimeout bounds readiness polling (60 probes of 500ms).
	DefaultReadyTimeout = 30 * time.Second

	// DefaultPollInterval is the delay between readiness probes.
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultGracePeriod is how long Stop waits before SIGKILL.
	DefaultGracePeriod = 5 * time.Second

	// DefaultPortAttempts bounds free-port probing.
	DefaultPortAttempts = 16
)

// ListenAnnounce selects whether the node accepts and advertises p2p
// connections.
type ListenAnnounce int

const (
	// ListenNo disables listening entirely.
	ListenNo ListenAnnounce = iota
	// Listen binds the reserved p2p port without announcing it.
	Listen
	// ListenAndAnnounce binds the reserved p2p port and announces it.
	ListenAndAnnounce
)

func (l ListenAnnounce) String() string {
	switch l {
	case ListenNo:
		return "no"
	case Listen:
		return "listen"
	case ListenAndAnnounce:
		return "listen-and-announce"
	default:
		return "unknown"
	}
}

// IDHost identifies a peer to connect to: its node id and, optionally, the
// host:port it listens on.
type IDHost struct {
	ID   string
	Host string
}

// String renders the peer as id@host, the form the connect RPC accepts.
func (p IDHost) String() string {
	if p.Host == "" {
		return p.ID
	}
	return p.ID + "@" + p.Host
}

// P2P holds the peer-to-peer settings of a node.
type P2P struct {
	// Connect, if set, is dialed once the node is ready. The peer must be
	// listening.
	Connect *IDHost
	// ListenAnnounce defaults to ListenNo.
	ListenAnnounce ListenAnnounce
}

// Conf configures a LightningD. The zero value is usable.
type Conf struct {
	// Args are extra lightningd command line arguments such as
	// "--alias=alice". --lightning-dir, --network and --conf are managed
	// here and may not be passed.
	Args []string

	// ViewStdout sends lightningd output to our stdout/stderr instead of
	// capturing it.
	ViewStdout bool

	P2P P2P

	// Env is added to the child's environment.
	Env []string

	ReadyTimeout time.Duration
	PollInterval time.Duration
	GracePeriod  time.Duration
	PortAttempts int

	// KeepDir leaves the lightning dir on disk after Stop.
	KeepDir bool

	// TempRoot is where the lightning dir is created. Defaults to
	// os.TempDir(). Keep it short: unix socket paths are limited to about
	// 100 bytes.
	TempRoot string

	Logger *slog.Logger
}

// DefaultConf returns a Conf with every default filled in.
func DefaultConf() *Conf {
	return (&Conf{}).withDefaults()
}

// withDefaults returns a copy of c with zero fields replaced by defaults.
func (c *Conf) withDefaults() *Conf {
	out := Conf{}
	if c != nil {
		out = *c
		out.Args = append([]string(nil), c.Args...)
		out.Env = append([]string(nil), c.Env...)
		if c.P2P.Connect != nil {
			peer := *c.P2P.Connect
			out.P2P.Connect = &peer
		}
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
	return &out
}

var reservedArgs = []string{"--lightning-dir", "--network", "--conf", "--regtest", "--testnet", "--mainnet", "--signet"}

func (c *Conf) validate() error {
	for _, arg := range c.Args {
		if strings.ContainsAny(arg, " \t\n") {
			return fmt.Errorf("%w: argument %q contains whitespace", ErrInvalidConf, arg)
		}
		for _, r := range reservedArgs {
			if arg == r || strings.HasPrefix(arg, r+"=") {
				return fmt.Errorf("%w: %s is set automatically", ErrInvalidConf, r)
			}
		}
	}
	if c.P2P.Connect != nil && c.P2P.Connect.ID == "" {
		return fmt.Errorf("%w: connect peer has no id", ErrInvalidConf)
	}
	switch c.P2P.ListenAnnounce {
	case ListenNo, Listen, ListenAndAnnounce:
	default:
		return fmt.Errorf("%w: unknown listen mode %d", ErrInvalidConf, c.P2P.ListenAnnounce)
	}
	return nil
}

// renderConfig produces the lightningd config file for a node backed by
// the given bitcoind connection and bound to p2pPort. Unusable connection
// parameters wrap ErrIO; values that would break out of their config line
// wrap ErrInvalidConf.
func renderConfig(backend *rpcclient.ConnConfig, mode ListenAnnounce, p2pPort uint16) ([]byte, error) {
	// rpcclient allows a wallet path after the host, lightningd does not.
	hostPort, _, _ := strings.Cut(backend.Host, "/")
	host, port, err := net.SplitHostPort(hostPort)
	if err != nil {
		return nil, fmt.Errorf("%w: bitcoind rpc host %q: %w", ErrIO, backend.Host, err)
	}
	if backend.User == "" || backend.Pass == "" {
		return nil, fmt.Errorf("%w: bitcoind rpc credentials are empty", ErrIO)
	}
	for name, v := range map[string]string{"host": host, "user": backend.User, "password": backend.Pass} {
		if strings.ContainsAny(v, "\r\n") {
			return nil, fmt.Errorf("%w: bitcoind rpc %s contains a line break", ErrInvalidConf, name)
		}
	}

	var b bytes.Buffer
	fmt.Fprintln(&b, "network=regtest")
	fmt.Fprintf(&b, "bitcoin-rpcconnect=%s\n", host)
	fmt.Fprintf(&b, "bitcoin-rpcport=%s\n", port)
	fmt.Fprintf(&b, "bitcoin-rpcuser=%s\n", backend.User)
	fmt.Fprintf(&b, "bitcoin-rpcpassword=%s\n", backend.Pass)

	addr := net.JoinHostPort(ports.Host, fmt.Sprint(p2pPort))
	switch mode {
	case ListenNo:
		fmt.Fprintln(&b, "autolisten=false")
	case Listen:
		fmt.Fprintf(&b, "bind-addr=%s\n", addr)
	case ListenAndAnnounce:
		fmt.Fprintf(&b, "addr=%s\n", addr)
	}

	return b.Bytes(), nil
}
