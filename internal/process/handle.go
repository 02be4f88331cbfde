package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/smazurov/procpool/internal/logging"
)

// Handle is one external program owned by a Pool: queued, running or ended.
//
// Callbacks run on the goroutine that drives Pool.Run. Terminate, Kill,
// WriteInput and CloseInput may also be called from other goroutines.
// Out, Err, ExitCode, SpawnError, StartedAt and TotalTime are not
// synchronized: read them from callbacks or after Run returns.
type Handle struct {
	id          int
	commandLine string
	state       atomic.Int32
	callbacks   Callbacks
	pool        *Pool // not owned; used for options and state reports
	logger      logging.Logger

	out strings.Builder
	err strings.Builder

	exitCode   int
	spawnErr   *SpawnError
	startedAt  time.Time
	lastTickAt time.Time
	totalTime  time.Duration

	procMu sync.Mutex // guards cmd, pid, reaped, stdin and callback registration
	cmd    *exec.Cmd
	pid    int
	reaped bool
	stdin  *os.File
	stdout *outputStream
	stderr *outputStream
}

func newHandle(id int, commandLine string, pool *Pool) *Handle {
	return &Handle{
		id:          id,
		commandLine: commandLine,
		pool:        pool,
		logger:      pool.processLogger,
		exitCode:    -1,
	}
}

// ID returns the pool-assigned sequence number of the handle.
func (h *Handle) ID() int { return h.id }

// CommandLine returns the command line the handle was created with.
func (h *Handle) CommandLine() string { return h.commandLine }

// State returns the current lifecycle state.
func (h *Handle) State() State { return State(h.state.Load()) }

// HasEnded reports whether the process has exited or failed to spawn.
func (h *Handle) HasEnded() bool { return h.State() == StateEnded }

// Out returns the stdout text collected by the default output callback.
func (h *Handle) Out() string { return h.out.String() }

// Err returns the stderr and spawn error text collected by the default error callback.
func (h *Handle) Err() string { return h.err.String() }

// ExitCode returns the exit code. Only meaningful once the handle has ended;
// -1 means the process could not be spawned.
func (h *Handle) ExitCode() int { return h.exitCode }

// SpawnError returns why the process could not be started, or nil if it was
// started or has not been admitted yet.
func (h *Handle) SpawnError() *SpawnError { return h.spawnErr }

// StartedAt returns when the process was spawned.
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// TotalTime returns how long the process ran. Set when the handle ends.
func (h *Handle) TotalTime() time.Duration { return h.totalTime }

// Pid returns the OS process id, or 0 if the process was never spawned.
func (h *Handle) Pid() int {
	h.procMu.Lock()
	defer h.procMu.Unlock()
	return h.pid
}

// OnError sets the callback for stderr text and spawn errors.
func (h *Handle) OnError(cb TextCallback) *Handle {
	return h.configure("error", func(c *Callbacks) { c.OnError = cb })
}

// OnOutput sets the callback for stdout text.
func (h *Handle) OnOutput(cb TextCallback) *Handle {
	return h.configure("output", func(c *Callbacks) { c.OnOutput = cb })
}

// OnStarted sets the callback invoked once the process is spawned.
func (h *Handle) OnStarted(cb HandleCallback) *Handle {
	return h.configure("started", func(c *Callbacks) { c.OnStarted = cb })
}

// OnEnded sets the callback invoked with the exit code when the handle ends.
func (h *Handle) OnEnded(cb EndedCallback) *Handle {
	return h.configure("ended", func(c *Callbacks) { c.OnEnded = cb })
}

// OnTick sets a callback invoked at least interval apart while the process runs.
// A non-positive interval selects DefaultTickInterval.
func (h *Handle) OnTick(cb HandleCallback, interval time.Duration) *Handle {
	return h.configure("tick", func(c *Callbacks) {
		c.OnTick = cb
		c.TickInterval = interval
	})
}

// SetCallbacks replaces the whole callback set.
func (h *Handle) SetCallbacks(cbs Callbacks) *Handle {
	return h.configure("all", func(c *Callbacks) { *c = cbs })
}

// configure applies a callback change while the handle is still queued.
// Once admitted the callback set is frozen and changes are dropped.
func (h *Handle) configure(name string, apply func(*Callbacks)) *Handle {
	h.procMu.Lock()
	defer h.procMu.Unlock()

	if h.State() != StateQueued {
		h.logger.Warn("Callback registered after admission, ignoring", "id", h.id, "callback", name)
		return h
	}
	apply(&h.callbacks)
	return h
}

// WriteInput writes p to the process's stdin. It may block while the pipe is full.
// Writing to a handle that has not started returns ErrNotStarted; writing to an
// ended handle returns ErrProcessEnded.
func (h *Handle) WriteInput(p []byte) (int, error) {
	h.procMu.Lock()
	state := h.State()
	stdin := h.stdin
	h.procMu.Unlock()

	switch state {
	case StateQueued:
		return 0, ErrNotStarted
	case StateEnded:
		return 0, ErrProcessEnded
	}
	if stdin == nil {
		return 0, fmt.Errorf("write input: %w", os.ErrClosed)
	}

	n, err := stdin.Write(p)
	if err != nil {
		return n, fmt.Errorf("write input: %w", err)
	}
	return n, nil
}

// CloseInput closes stdin so the process reads EOF. Safe to call more than once.
func (h *Handle) CloseInput() error {
	h.procMu.Lock()
	defer h.procMu.Unlock()

	if h.stdin == nil {
		return nil
	}
	err := h.stdin.Close()
	h.stdin = nil
	if err != nil {
		return fmt.Errorf("close input: %w", err)
	}
	return nil
}

// Terminate asks the process to exit with SIGTERM. The handle ends once a later
// poll observes the exit. No-op unless the process is running.
func (h *Handle) Terminate() error {
	return h.signal(unix.SIGTERM)
}

// Kill sends SIGKILL. No-op unless the process is running.
func (h *Handle) Kill() error {
	return h.signal(unix.SIGKILL)
}

func (h *Handle) signal(sig unix.Signal) error {
	h.procMu.Lock()
	defer h.procMu.Unlock()

	if h.State() != StateRunning || h.reaped || h.pid == 0 {
		return nil
	}

	h.logger.Info("Sending signal to process", "id", h.id, "pid", h.pid, "signal", sig.String())
	if err := unix.Kill(-h.pid, sig); err == nil {
		return nil
	}
	if err := unix.Kill(h.pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signal %s to pid %d: %w", sig, h.pid, err)
	}
	return nil
}

// spawn starts the process. On failure the handle goes straight to Ended with
// exit code -1 after reporting the cause through the error callback.
func (h *Handle) spawn() {
	cmd, err := buildCommand(h.pool.shell, h.commandLine)
	if err != nil {
		h.failSpawn(err)
		return
	}

	var opened []*os.File
	closeOpened := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}
	newPipe := func() (*os.File, *os.File, error) {
		r, w, pipeErr := os.Pipe()
		if pipeErr == nil {
			opened = append(opened, r, w)
		}
		return r, w, pipeErr
	}

	stdinR, stdinW, err := newPipe()
	if err != nil {
		h.failSpawn(fmt.Errorf("create stdin pipe: %w", err))
		return
	}
	stdoutR, stdoutW, err := newPipe()
	if err != nil {
		closeOpened()
		h.failSpawn(fmt.Errorf("create stdout pipe: %w", err))
		return
	}
	stderrR, stderrW, err := newPipe()
	if err != nil {
		closeOpened()
		h.failSpawn(fmt.Errorf("create stderr pipe: %w", err))
		return
	}

	stdout, err := newOutputStream("stdout", stdoutR)
	if err != nil {
		closeOpened()
		h.failSpawn(err)
		return
	}
	stderr, err := newOutputStream("stderr", stderrR)
	if err != nil {
		closeOpened()
		h.failSpawn(err)
		return
	}

	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		closeOpened()
		h.failSpawn(err)
		return
	}

	// The child holds its own copies now
	_ = stdinR.Close()
	_ = stdoutW.Close()
	_ = stderrW.Close()

	now := time.Now()

	h.procMu.Lock()
	h.cmd = cmd
	h.pid = cmd.Process.Pid
	h.stdin = stdinW
	h.stdout = stdout
	h.stderr = stderr
	h.startedAt = now
	h.lastTickAt = now
	h.state.Store(int32(StateRunning))
	h.procMu.Unlock()

	h.logger.Info("Process started", "id", h.id, "pid", h.pid, "command", h.commandLine)
	h.pool.notifyStateChange(h, StateQueued, StateRunning)
	h.callbacks.started(h)
}

func (h *Handle) failSpawn(cause error) {
	spawnErr := &SpawnError{Command: h.commandLine, Cause: cause}
	h.logger.Error("Failed to start process", "id", h.id, "command", h.commandLine, "error", cause)

	h.procMu.Lock()
	h.state.Store(int32(StateEnded))
	h.procMu.Unlock()

	h.spawnErr = spawnErr
	h.callbacks.error(h, spawnErr.Error())
	h.exitCode = -1
	h.pool.notifyStateChange(h, StateQueued, StateEnded)
	h.callbacks.ended(h, -1)
}

// poll pumps both output streams, checks for exit and fires a due tick.
// It reports whether anything observable happened.
func (h *Handle) poll() bool {
	if h.State() != StateRunning {
		return false
	}

	active := h.pump(h.stdout, h.callbacks.output)
	if h.pump(h.stderr, h.callbacks.error) {
		active = true
	}

	exited, exitCode := h.checkExit()
	if exited {
		// Bytes written right before exit are still in the pipes
		h.pump(h.stdout, h.callbacks.output)
		h.pump(h.stderr, h.callbacks.error)
		h.finish(exitCode)
		return true
	}

	now := time.Now()
	if h.callbacks.tickDue(h.lastTickAt, now) {
		h.lastTickAt = now
		h.callbacks.OnTick(h)
		active = true
	}

	return active
}

// pump reads whatever a stream has ready and hands it to deliver.
func (h *Handle) pump(s *outputStream, deliver func(*Handle, string)) bool {
	data, err := s.readAvailable()
	if err != nil {
		h.logger.Warn("Error reading output", "id", h.id, "source", s.name, "error", err)
		s.eof = true
	}
	if len(data) == 0 {
		return false
	}
	deliver(h, string(data))
	return true
}

// checkExit reaps the process if it has exited, without waiting.
func (h *Handle) checkExit() (bool, int) {
	h.procMu.Lock()
	defer h.procMu.Unlock()

	var ws unix.WaitStatus
	pid, err := unix.Wait4(h.pid, &ws, unix.WNOHANG, nil)
	switch {
	case errors.Is(err, unix.EINTR):
		return false, 0
	case err != nil:
		// Someone else reaped the child; the status is gone
		h.logger.Error("Failed to check process status", "id", h.id, "pid", h.pid, "error", err)
		h.reaped = true
		return true, -1
	case pid == 0:
		return false, 0
	}

	h.reaped = true
	return true, exitCodeFromStatus(ws)
}

// exitCodeFromStatus maps a wait status to an exit code.
// A process killed by signal N reports 128+N, the way shells do.
func exitCodeFromStatus(ws unix.WaitStatus) int {
	switch {
	case ws.Exited():
		return ws.ExitStatus()
	case ws.Signaled():
		return 128 + int(ws.Signal())
	default:
		return -1
	}
}

// finish releases the process resources and performs the Ended transition.
func (h *Handle) finish(exitCode int) {
	h.procMu.Lock()
	if h.stdin != nil {
		_ = h.stdin.Close()
		h.stdin = nil
	}
	if err := h.stdout.close(); err != nil {
		h.logger.Debug("Failed to close stdout", "id", h.id, "error", err)
	}
	if err := h.stderr.close(); err != nil {
		h.logger.Debug("Failed to close stderr", "id", h.id, "error", err)
	}
	if h.cmd != nil && h.cmd.Process != nil {
		_ = h.cmd.Process.Release()
	}
	h.totalTime = time.Since(h.startedAt)
	h.exitCode = exitCode
	h.state.Store(int32(StateEnded))
	h.procMu.Unlock()

	h.logger.Info("Process exited", "id", h.id, "pid", h.pid, "exit_code", exitCode, "duration", h.totalTime)
	h.pool.notifyStateChange(h, StateRunning, StateEnded)
	h.callbacks.ended(h, exitCode)
}

// waitDescriptors returns the output descriptors still worth waiting on.
func (h *Handle) waitDescriptors() []int {
	var fds []int
	for _, s := range []*outputStream{h.stdout, h.stderr} {
		if s != nil && s.pollable() {
			fds = append(fds, s.fd)
		}
	}
	return fds
}

// nextTick returns when the next tick is due, if a tick callback is set.
func (h *Handle) nextTick() (time.Time, bool) {
	if h.callbacks.OnTick == nil {
		return time.Time{}, false
	}
	return h.lastTickAt.Add(h.callbacks.tickInterval()), true
}
