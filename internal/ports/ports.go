// Package ports hands out free loopback TCP ports to daemon fixtures.
//
// A port is found by binding 127.0.0.1:0 and releasing the listener. The
// port is then re-bound once to make sure it is still free, and recorded in a
// process-wide registry so that two live fixtures in the same test binary
// never get the same one. Another process can still grab the port between
// release and the daemon binding it; there is no portable way to hold a port
// across exec, so callers treat that window as a known limitation.
package ports

import (
	"errors"
	"fmt"
	"net"
	"sync"
)

// Host is the interface every fixture binds to.
const Host = "127.0.0.1"

// DefaultAttempts bounds Reserve when the caller passes zero.
const DefaultAttempts = 16

// ErrExhausted is returned when Reserve runs out of attempts.
var ErrExhausted = errors.New("no free port found")

var (
	mu   sync.Mutex
	live = make(map[uint16]struct{})
)

// Available returns a port the OS considered free a moment ago. It does not
// record the port in the registry.
func Available() (uint16, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(Host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()

	return uint16(l.Addr().(*net.TCPAddr).Port), nil
}

// Reserve returns n distinct ports that no other live reservation in this
// process holds. It gives up after attempts probes in total.
func Reserve(n, attempts int) ([]uint16, error) {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}

	got := make([]uint16, 0, n)
	var lastErr error

	for tries := 0; len(got) < n; tries++ {
		if tries >= attempts {
			Release(got...)
			if lastErr != nil {
				return nil, fmt.Errorf("%w: reserved %d of %d after %d attempts: %w",
					ErrExhausted, len(got), n, attempts, lastErr)
			}
			return nil, fmt.Errorf("%w: reserved %d of %d after %d attempts",
				ErrExhausted, len(got), n, attempts)
		}

		port, err := Available()
		if err != nil {
			lastErr = err
			continue
		}
		if err := recheck(port); err != nil {
			lastErr = err
			continue
		}
		if !claim(port) {
			continue
		}
		got = append(got, port)
	}

	return got, nil
}

// Release returns ports to the pool. Releasing an unknown port is a no-op.
func Release(ports ...uint16) {
	mu.Lock()
	defer mu.Unlock()
	for _, p := range ports {
		delete(live, p)
	}
}

// Held reports whether port is currently reserved in this process.
func Held(port uint16) bool {
	mu.Lock()
	defer mu.Unlock()
	_, ok := live[port]
	return ok
}

func claim(port uint16) bool {
	mu.Lock()
	defer mu.Unlock()
	if _, taken := live[port]; taken {
		return false
	}
	live[port] = struct{}{}
	return true
}

func recheck(port uint16) error {
	l, err := net.Listen("tcp", net.JoinHostPort(Host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	return l.Close()
}
