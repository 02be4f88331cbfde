package events

import "time"

// Event type constants for kelindar/event.
const (
	TypeCommandQueued uint32 = iota + 1
	TypeCommandStarted
	TypeCommandEnded
	TypeCommandSpawnFailed
	TypeConcurrencyChanged
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// CommandQueuedEvent is published when a command line is added to the pool.
type CommandQueuedEvent struct {
	ID        int       `json:"id"`
	Command   string    `json:"command"`
	Timestamp time.Time `json:"timestamp"`
}

// Type returns the event type identifier for CommandQueuedEvent.
func (e CommandQueuedEvent) Type() uint32 { return TypeCommandQueued }

// CommandStartedEvent is published once a process has been spawned.
type CommandStartedEvent struct {
	ID        int       `json:"id"`
	Command   string    `json:"command"`
	PID       int       `json:"pid"`
	Timestamp time.Time `json:"timestamp"`
}

// Type returns the event type identifier for CommandStartedEvent.
func (e CommandStartedEvent) Type() uint32 { return TypeCommandStarted }

// CommandEndedEvent is published when a started process has exited and been reaped.
type CommandEndedEvent struct {
	ID        int           `json:"id"`
	Command   string        `json:"command"`
	PID       int           `json:"pid"`
	ExitCode  int           `json:"exit_code"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// Type returns the event type identifier for CommandEndedEvent.
func (e CommandEndedEvent) Type() uint32 { return TypeCommandEnded }

// Success reports whether the process exited with status 0.
func (e CommandEndedEvent) Success() bool { return e.ExitCode == 0 }

// CommandSpawnFailedEvent is published when a command could not be started.
// No CommandEndedEvent follows it.
type CommandSpawnFailedEvent struct {
	ID        int       `json:"id"`
	Command   string    `json:"command"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Type returns the event type identifier for CommandSpawnFailedEvent.
func (e CommandSpawnFailedEvent) Type() uint32 { return TypeCommandSpawnFailed }

// ConcurrencyChangedEvent is published when the pool's admission cap changes at runtime.
type ConcurrencyChangedEvent struct {
	Old       int       `json:"old"`
	New       int       `json:"new"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// Type returns the event type identifier for ConcurrencyChangedEvent.
func (e ConcurrencyChangedEvent) Type() uint32 { return TypeConcurrencyChanged }
