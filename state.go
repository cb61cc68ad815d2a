package lightningd

// State is the readiness state of a LightningD.
type State int

const (
	// StateStarting means the process was spawned and is being probed.
	StateStarting State = iota

	// StateRunning means the daemon answered getinfo and is usable.
	StateRunning

	// StateStopped means the daemon was shut down and its resources freed.
	StateStopped

	// StateFailed means the daemon timed out, exited before it was ready, or
	// died while running.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
