//go:build unix

package proc

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startShell(t *testing.T, script string) *Process {
	t.Helper()

	p, err := Start(Spec{Path: "/bin/sh", Args: []string{"-c", script}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Kill() })
	return p
}

func waitDone(t *testing.T, p *Process) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
}

func TestStart_ExitStatusAndOutput(t *testing.T) {
	p := startShell(t, "echo booting; echo broken >&2; exit 3")
	waitDone(t, p)

	exitErr := p.ExitErr()
	require.NotNil(t, exitErr)
	assert.Equal(t, 3, exitErr.ExitCode())
	assert.Contains(t, exitErr.Output, "booting")
	assert.Contains(t, exitErr.Output, "broken")
	assert.Contains(t, exitErr.Error(), "broken")
}

func TestStart_MissingBinary(t *testing.T) {
	_, err := Start(Spec{Path: "/nonexistent/daemon"})
	require.Error(t, err)
}

func TestExitErr_NilWhileRunning(t *testing.T) {
	p := startShell(t, "sleep 30")
	assert.Nil(t, p.ExitErr())
	assert.False(t, p.Exited())
	assert.True(t, Alive(p.Pid()))
}

func TestTerminate_Graceful(t *testing.T) {
	p := startShell(t, "sleep 30")
	pid := p.Pid()

	start := time.Now()
	require.NoError(t, p.Terminate(5*time.Second))
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.True(t, p.Exited())
	assert.False(t, Alive(pid))
}

func TestTerminate_EscalatesToKill(t *testing.T) {
	// Ignored signals are inherited across exec, so the sleep ignores TERM too.
	p := startShell(t, `trap "" TERM; sleep 30`)
	pid := p.Pid()

	// Give the shell time to install the trap.
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	require.NoError(t, p.Terminate(200*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)

	assert.False(t, Alive(pid))
}

func TestTerminate_Idempotent(t *testing.T) {
	p := startShell(t, "sleep 30")

	require.NoError(t, p.Terminate(time.Second))
	require.NoError(t, p.Terminate(time.Second))
	require.NoError(t, p.Kill())
}

// gone reports whether pid has exited. A zombie waiting for a reaper that is
// not us counts as gone.
func gone(pid int) bool {
	if !Alive(pid) {
		return true
	}
	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	i := strings.LastIndexByte(string(stat), ')')
	return i > 0 && i+2 < len(stat) && stat[i+2] == 'Z'
}

func TestTerminate_KillsGroupMembersOutlivingLeader(t *testing.T) {
	// The subshell ignores TERM, the leader does not.
	p := startShell(t, `(trap "" TERM; exec sleep 30) & echo "child=$!"; exec sleep 30`)

	var child int
	require.Eventually(t, func() bool {
		_, rest, ok := strings.Cut(p.Output(), "child=")
		if !ok {
			return false
		}
		line, _, ok := strings.Cut(rest, "\n")
		if !ok {
			return false
		}
		child, _ = strconv.Atoi(line)
		return child > 0
	}, 5*time.Second, 10*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	require.True(t, Alive(child))

	require.NoError(t, p.Terminate(5*time.Second))
	assert.True(t, p.Exited())
	assert.Eventually(t, func() bool { return gone(child) }, 2*time.Second, 20*time.Millisecond,
		"group member %d survived the leader", child)
}

func TestKill_SweepsGroupAfterLeaderExited(t *testing.T) {
	p := startShell(t, `(trap "" TERM; exec sleep 30) & echo "child=$!"; exit 0`)
	waitDone(t, p)

	_, rest, ok := strings.Cut(p.Output(), "child=")
	require.True(t, ok)
	child, err := strconv.Atoi(strings.TrimSpace(rest))
	require.NoError(t, err)

	require.NoError(t, p.Kill())
	assert.Eventually(t, func() bool { return gone(child) }, 2*time.Second, 20*time.Millisecond)
}

func TestTail_KeepsLastBytes(t *testing.T) {
	tail := NewTail(8)

	_, _ = tail.Write([]byte("0123"))
	_, _ = tail.Write([]byte("456789"))
	assert.Equal(t, "23456789", tail.String())

	_, _ = tail.Write([]byte(strings.Repeat("x", 20)))
	assert.Equal(t, strings.Repeat("x", 8), tail.String())
}
