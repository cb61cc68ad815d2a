// Package proc supervises a single child daemon process.
//
// A Process is started in its own process group so that termination reaches
// any helpers the daemon forks (lightningd runs its subdaemons and plugins as
// children). Exit is observed by a monitor goroutine which closes Done, so
// callers can select on premature exit instead of discovering it on a timer.
package proc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	// DefaultGracePeriod is the time to wait after the terminate signal before
	// escalating to a kill.
	DefaultGracePeriod = 5 * time.Second

	// killWait bounds how long we wait for a killed process to be reaped.
	killWait = 2 * time.Second

	// waitDelay bounds how long Wait blocks on output pipes held open by
	// grandchildren after the daemon itself has exited.
	waitDelay = time.Second
)

// ErrNotTerminated is returned when a process is still alive after SIGKILL.
var ErrNotTerminated = errors.New("process did not terminate after SIGKILL")

// Spec describes the process to start.
type Spec struct {
	Path string
	Args []string
	Dir  string
	// Env is appended to the parent environment.
	Env []string
	// Inherit sends the child's stdout and stderr to ours instead of
	// capturing them.
	Inherit bool
}

// ExitError reports a process that exited, including the tail of what it
// wrote before dying.
type ExitError struct {
	Pid    int
	Err    error
	Output string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("pid %d exited", e.Pid)
	if e.Err != nil {
		msg = fmt.Sprintf("pid %d: %v", e.Pid, e.Err)
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode returns the exit status, or -1 if the process was killed by a
// signal or the status is unknown.
func (e *ExitError) ExitCode() int {
	var ee *exec.ExitError
	if errors.As(e.Err, &ee) {
		return ee.ExitCode()
	}
	if e.Err == nil {
		return 0
	}
	return -1
}

// Process is a running (or finished) child.
type Process struct {
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	output    *Tail

	done    chan struct{}
	waitErr error
}

// Start launches the process described by spec.
func Start(spec Spec) (*Process, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.SysProcAttr = sysProcAttr()
	cmd.WaitDelay = waitDelay

	p := &Process{
		cmd:    cmd,
		output: NewTail(DefaultTailSize),
		done:   make(chan struct{}),
	}

	if spec.Inherit {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	} else {
		cmd.Stdout = p.output
		cmd.Stderr = p.output
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p.pid = cmd.Process.Pid
	p.startedAt = time.Now()

	go p.monitor()

	return p, nil
}

func (p *Process) monitor() {
	p.waitErr = p.cmd.Wait()
	close(p.done)
}

// Pid returns the OS process id.
func (p *Process) Pid() int { return p.pid }

// StartedAt returns when the process was started.
func (p *Process) StartedAt() time.Time { return p.startedAt }

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

// Exited reports whether the process has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitErr describes how the process ended. It returns nil while the process
// is still running.
func (p *Process) ExitErr() *ExitError {
	if !p.Exited() {
		return nil
	}
	return &ExitError{Pid: p.pid, Err: p.waitErr, Output: p.output.String()}
}

// Output returns the captured tail of stdout and stderr.
func (p *Process) Output() string { return p.output.String() }

// OutputWriter exposes the capture buffer, mainly for tests.
func (p *Process) OutputWriter() io.Writer { return p.output }

// Terminate asks the process group to exit, waits up to grace, then kills it.
// Members of the group that outlive the leader are killed as well. Calling it
// on an exited process only sweeps the group.
func (p *Process) Terminate(grace time.Duration) error {
	if p.Exited() {
		sweep(p)
		return nil
	}
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	// A failed interrupt is not fatal: the kill below still runs.
	_ = interrupt(p)

	select {
	case <-p.done:
		sweep(p)
		return nil
	case <-time.After(grace):
	}

	return p.Kill()
}

// Kill sends SIGKILL to the process group and waits for the leader to be
// reaped.
func (p *Process) Kill() error {
	if p.Exited() {
		sweep(p)
		return nil
	}
	if err := kill(p); err != nil {
		return fmt.Errorf("failed to kill pid %d: %w", p.pid, err)
	}

	select {
	case <-p.done:
		sweep(p)
		return nil
	case <-time.After(killWait):
		return fmt.Errorf("%w (pid %d)", ErrNotTerminated, p.pid)
	}
}
