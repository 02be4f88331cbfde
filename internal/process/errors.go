package process

import (
	"errors"
	"fmt"
)

var (
	// ErrNotStarted is returned when input is written to a handle that has not been spawned yet.
	ErrNotStarted = errors.New("process not started")

	// ErrProcessEnded is returned when input is written to a handle whose process has ended.
	ErrProcessEnded = errors.New("process has ended")

	// ErrPoolRunning is returned by Run when another Run is already active on the pool.
	ErrPoolRunning = errors.New("pool is already running")

	// ErrEmptyCommand is returned when a command line contains no program.
	ErrEmptyCommand = errors.New("empty command")
)

// SpawnError describes a process that could not be created.
type SpawnError struct {
	Command string
	Cause   error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("Unable to start process: %s: %v", e.Command, e.Cause)
}

func (e *SpawnError) Unwrap() error {
	return e.Cause
}
