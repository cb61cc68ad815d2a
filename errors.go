package lightningd

import (
	"errors"
	"fmt"
)

// Construction errors. Every failure returned by New and WithConf wraps
// exactly one of these, so callers can branch with errors.Is.
var (
	// ErrExecutableNotFound means the lightningd executable does not exist
	// or is not runnable.
	ErrExecutableNotFound = errors.New("lightningd executable not found")

	// ErrIO covers working directory and config file failures.
	ErrIO = errors.New("lightningd io error")

	// ErrPortAllocation means no free local port could be reserved within
	// the configured number of attempts.
	ErrPortAllocation = errors.New("lightningd port allocation failed")

	// ErrSpawn wraps the OS error from starting the child process.
	ErrSpawn = errors.New("failed to spawn lightningd")

	// ErrReadinessTimeout means the daemon did not become ready in time.
	ErrReadinessTimeout = errors.New("lightningd readiness timeout")

	// ErrProcessExited means the daemon exited before it became ready.
	ErrProcessExited = errors.New("lightningd exited prematurely")

	// ErrInvalidConf reports a Conf that cannot be used as given.
	ErrInvalidConf = errors.New("invalid lightningd conf")
)

// Readiness probe causes, wrapped inside ErrReadinessTimeout.
var (
	// ErrSockPathNotExist means the RPC socket was never created.
	ErrSockPathNotExist = errors.New("lightning-rpc socket does not exist")

	// ErrGetInfoSyncing means getinfo answered but the node is still
	// syncing with bitcoind.
	ErrGetInfoSyncing = errors.New("lightningd still syncing")
)

// ErrNotRunning is returned by operations that need a live daemon.
var ErrNotRunning = errors.New("lightningd not running")

// RPCError is an error object returned by lightningd over JSON-RPC.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("lightningd rpc error %d: %s", e.Code, e.Message)
}
