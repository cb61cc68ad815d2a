//go:build unix

package proc

import (
	"errors"

	"golang.org/x/sys/unix"
)

// signalGroup delivers sig to the whole process group led by pid. A group
// that is already gone is not an error.
func signalGroup(pid int, sig unix.Signal) error {
	err := unix.Kill(-pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func interrupt(p *Process) error { return signalGroup(p.pid, unix.SIGTERM) }

func kill(p *Process) error { return signalGroup(p.pid, unix.SIGKILL) }

// sweep kills whatever is left in the group once the leader is gone, such as
// subdaemons that ignored SIGTERM.
func sweep(p *Process) { _ = signalGroup(p.pid, unix.SIGKILL) }

// Alive reports whether pid still exists in the process table.
func Alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
