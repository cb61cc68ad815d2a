package bitcoind

import "errors"

var (
	// ErrExecutableNotFound means the bitcoind executable does not exist or
	// is not runnable.
	ErrExecutableNotFound = errors.New("bitcoind executable not found")

	// ErrIO covers data directory, config and cookie file failures.
	ErrIO = errors.New("bitcoind io error")

	// ErrPortAllocation means no free local port could be reserved.
	ErrPortAllocation = errors.New("bitcoind port allocation failed")

	// ErrSpawn wraps the OS error from starting bitcoind.
	ErrSpawn = errors.New("failed to spawn bitcoind")

	// ErrReadinessTimeout means RPC did not answer in time.
	ErrReadinessTimeout = errors.New("bitcoind readiness timeout")

	// ErrProcessExited means bitcoind exited before RPC became ready.
	ErrProcessExited = errors.New("bitcoind exited prematurely")

	// ErrNotRunning is returned by operations that need a started node.
	ErrNotRunning = errors.New("bitcoind not running")

	// ErrAlreadyRunning is returned by Start on a started node.
	ErrAlreadyRunning = errors.New("bitcoind already running")

	// errCookieMissing is a readiness probe cause.
	errCookieMissing = errors.New("rpc cookie file not written yet")
)
