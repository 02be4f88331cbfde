package process

// State represents where a handle is in its lifecycle.
// A handle only ever moves forward: Queued -> Running -> Ended, or
// Queued -> Ended when the process could not be spawned.
type State int

// Handle states.
const (
	StateQueued  State = iota // Registered, waiting for admission
	StateRunning              // Spawned, being polled
	StateEnded                // Exited or failed to spawn
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Queued        int
	Running       int
	Started       int
	Ended         int
	SpawnFailures int
}
