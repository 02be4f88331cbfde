package process

import (
	"time"

	"github.com/smazurov/procpool/internal/logging"
)

// DefaultPollBackoff is how long an idle poll pass waits for activity.
const DefaultPollBackoff = 10 * time.Millisecond

// StateChangeCallback is called on every handle state transition.
// Used for domain-specific reactions (e.g., events, metrics).
// It runs on the goroutine driving Pool.Run.
type StateChangeCallback func(h *Handle, from, to State)

// PoolOptions configures a new Pool.
type PoolOptions struct {
	// MaxConcurrency caps how many processes run at once. 0 means unbounded.
	MaxConcurrency int

	// PollBackoff bounds the wait after a poll pass that saw no activity.
	// Defaults to DefaultPollBackoff.
	PollBackoff time.Duration

	// Shell runs each command line as `shell -c line`. Nil selects DefaultShell;
	// a pointer to "" executes the split command line directly.
	Shell *string

	// OnStateChange is called when a handle changes state (optional).
	OnStateChange StateChangeCallback

	// Logger for pool operations. If nil, uses the "pool" module logger.
	Logger logging.Logger
}

// WithShell returns a Shell option value.
func WithShell(shell string) *string {
	return &shell
}
