package process

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPool(max int) *Pool {
	return NewPool(&PoolOptions{
		MaxConcurrency: max,
		PollBackoff:    time.Millisecond,
		Logger:         testLogger(),
	})
}

// runPool runs the pool to completion, failing the test if it takes longer than timeout.
func runPool(t *testing.T, p *Pool, timeout time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
}

func TestOutputCollected(t *testing.T) {
	p := newTestPool(0)
	h := p.AddCommand(`printf "START-"; printf "END"`)

	runPool(t, p, 5*time.Second)

	if got := h.Out(); got != "START-END" {
		t.Errorf("Out() = %q, want %q", got, "START-END")
	}
	if got := h.Err(); got != "" {
		t.Errorf("Err() = %q, want empty", got)
	}
	if h.ExitCode() != 0 {
		t.Errorf("expected exit code 0, got %d", h.ExitCode())
	}
	if h.SpawnError() != nil {
		t.Errorf("unexpected spawn error %v", h.SpawnError())
	}
}

func TestErrorCollected(t *testing.T) {
	p := newTestPool(0)
	h := p.AddCommand(`>&2 echo "error"`)

	runPool(t, p, 5*time.Second)

	if got := strings.TrimSpace(h.Err()); got != "error" {
		t.Errorf("Err() = %q, want %q", got, "error")
	}
	if got := h.Out(); got != "" {
		t.Errorf("Out() = %q, want empty", got)
	}
}

func TestExitCodeReported(t *testing.T) {
	p := newTestPool(0)

	calls := 0
	returnCode := 0
	endedInCallback := false
	h := p.AddCommand("exit 1").OnEnded(func(h *Handle, code int) {
		calls++
		returnCode = code
		endedInCallback = h.HasEnded()
	})

	if h.HasEnded() {
		t.Fatal("expected handle not to have ended before Run")
	}

	runPool(t, p, 5*time.Second)

	if calls != 1 {
		t.Errorf("expected OnEnded once, got %d", calls)
	}
	if returnCode != 1 {
		t.Errorf("expected exit code 1, got %d", returnCode)
	}
	if !endedInCallback {
		t.Error("expected HasEnded() to be true inside OnEnded")
	}
	if !h.HasEnded() || h.State() != StateEnded {
		t.Errorf("expected ended state, got %v", h.State())
	}
}

func TestSignalExitCode(t *testing.T) {
	p := newTestPool(0)
	h := p.AddCommand("kill -9 $$")

	runPool(t, p, 5*time.Second)

	if h.ExitCode() != 137 {
		t.Errorf("expected exit code 137, got %d", h.ExitCode())
	}
}

func TestMissingProgramUnderShell(t *testing.T) {
	p := newTestPool(0)

	started := false
	h := p.AddCommand("procpool-test-no-such-binary").OnStarted(func(*Handle) { started = true })

	runPool(t, p, 5*time.Second)

	if !started {
		t.Error("the shell itself starts, so OnStarted should fire")
	}
	if h.ExitCode() != 127 {
		t.Errorf("expected the shell's exit code 127, got %d", h.ExitCode())
	}
	if h.SpawnError() != nil {
		t.Errorf("unexpected spawn error %v", h.SpawnError())
	}
	if !strings.Contains(h.Err(), "procpool-test-no-such-binary") {
		t.Errorf("expected the shell's message on stderr, got %q", h.Err())
	}
}

func TestSpawnFailure(t *testing.T) {
	tests := []struct {
		name    string
		shell   string
		command string
	}{
		{"missing executable", "", "procpool-test-no-such-binary --flag"},
		{"missing shell", "/nonexistent/procpool/sh", "echo hi"},
		{"empty command", "", "   "},
		{"unclosed quote", "", `echo "oops`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var transitions []State
			p := NewPool(&PoolOptions{
				Shell:  WithShell(tt.shell),
				Logger: testLogger(),
				OnStateChange: func(_ *Handle, _, to State) {
					transitions = append(transitions, to)
				},
			})

			errorCalls, endedCalls, startedCalls := 0, 0, 0
			endedCode := 0
			var errText string
			h := p.AddCommand(tt.command).
				OnError(func(_ *Handle, text string) {
					errorCalls++
					errText = text
				}).
				OnStarted(func(*Handle) { startedCalls++ }).
				OnEnded(func(_ *Handle, code int) {
					endedCalls++
					endedCode = code
				})

			runPool(t, p, 5*time.Second)

			if errorCalls != 1 || endedCalls != 1 {
				t.Errorf("expected one error and one ended call, got %d and %d", errorCalls, endedCalls)
			}
			if startedCalls != 0 {
				t.Errorf("expected no started call, got %d", startedCalls)
			}
			if endedCode != -1 || h.ExitCode() != -1 {
				t.Errorf("expected exit code -1, got %d", endedCode)
			}
			if !strings.HasPrefix(errText, "Unable to start process: ") {
				t.Errorf("unexpected error text %q", errText)
			}
			if len(transitions) != 1 || transitions[0] != StateEnded {
				t.Errorf("expected a single transition to ended, got %v", transitions)
			}
			if h.Pid() != 0 {
				t.Errorf("expected no pid, got %d", h.Pid())
			}
			if se := h.SpawnError(); se == nil || se.Command != tt.command || se.Error() != errText {
				t.Errorf("SpawnError() = %v, want the text passed to OnError", se)
			}
		})
	}
}

func TestSpawnFailureDefaultCallbackCollectsError(t *testing.T) {
	p := NewPool(&PoolOptions{Shell: WithShell(""), Logger: testLogger()})
	h := p.AddCommand("procpool-test-no-such-binary")

	runPool(t, p, 5*time.Second)

	if !strings.Contains(h.Err(), "procpool-test-no-such-binary") {
		t.Errorf("expected Err() to mention the command, got %q", h.Err())
	}
}

func TestLargeOutputOnBothStreams(t *testing.T) {
	const size = 200000
	p := newTestPool(0)
	h := p.AddCommand(`head -c 200000 /dev/zero | tr '\0' a; head -c 200000 /dev/zero | tr '\0' b >&2`)

	runPool(t, p, 10*time.Second)

	if len(h.Out()) != size {
		t.Errorf("expected %d stdout bytes, got %d", size, len(h.Out()))
	}
	if len(h.Err()) != size {
		t.Errorf("expected %d stderr bytes, got %d", size, len(h.Err()))
	}
	if strings.Trim(h.Out(), "a") != "" || strings.Trim(h.Err(), "b") != "" {
		t.Error("streams were mixed up")
	}
}

func TestOutputChunksInOrder(t *testing.T) {
	p := newTestPool(0)

	var chunks []string
	p.AddCommand(`for i in 1 2 3; do echo "line $i"; sleep 0.05; done`).
		OnOutput(func(_ *Handle, text string) {
			chunks = append(chunks, text)
		})

	runPool(t, p, 5*time.Second)

	if got := strings.Join(chunks, ""); got != "line 1\nline 2\nline 3\n" {
		t.Errorf("unexpected output %q", got)
	}
}

func TestWriteInput(t *testing.T) {
	p := newTestPool(0)

	var writeErr error
	h := p.AddCommand("cat").OnStarted(func(h *Handle) {
		if _, err := h.WriteInput([]byte("hello")); err != nil {
			writeErr = err
		}
		if err := h.CloseInput(); err != nil {
			writeErr = err
		}
	})

	if _, err := h.WriteInput([]byte("early")); !errors.Is(err, ErrNotStarted) {
		t.Errorf("expected ErrNotStarted, got %v", err)
	}

	runPool(t, p, 5*time.Second)

	if writeErr != nil {
		t.Fatalf("write failed: %v", writeErr)
	}
	if h.Out() != "hello" {
		t.Errorf("Out() = %q, want %q", h.Out(), "hello")
	}
	if _, err := h.WriteInput([]byte("late")); !errors.Is(err, ErrProcessEnded) {
		t.Errorf("expected ErrProcessEnded, got %v", err)
	}
	if err := h.CloseInput(); err != nil {
		t.Errorf("expected CloseInput to be idempotent, got %v", err)
	}
}

func TestTerminate(t *testing.T) {
	p := newTestPool(0)

	h := p.AddCommand("sleep 10").OnStarted(func(h *Handle) {
		if err := h.Terminate(); err != nil {
			t.Errorf("Terminate failed: %v", err)
		}
	})

	start := time.Now()
	runPool(t, p, 5*time.Second)

	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("terminate took too long: %v", elapsed)
	}
	// 128 + SIGTERM
	if h.ExitCode() != 143 {
		t.Errorf("expected exit code 143, got %d", h.ExitCode())
	}
}

func TestTerminateOutsideRunningIsNoop(t *testing.T) {
	p := newTestPool(0)
	h := p.AddCommand("true")

	if err := h.Terminate(); err != nil {
		t.Errorf("Terminate on queued handle: %v", err)
	}

	runPool(t, p, 5*time.Second)

	if err := h.Terminate(); err != nil {
		t.Errorf("Terminate on ended handle: %v", err)
	}
	if err := h.Kill(); err != nil {
		t.Errorf("Kill on ended handle: %v", err)
	}
}

func TestTickFires(t *testing.T) {
	p := newTestPool(0)

	ticks := 0
	var last time.Time
	tooClose := false
	h := p.AddCommand("sleep 0.4").OnTick(func(*Handle) {
		now := time.Now()
		if !last.IsZero() && now.Sub(last) < 40*time.Millisecond {
			tooClose = true
		}
		last = now
		ticks++
	}, 50*time.Millisecond)

	runPool(t, p, 5*time.Second)

	if ticks < 3 {
		t.Errorf("expected at least 3 ticks, got %d", ticks)
	}
	if tooClose {
		t.Error("ticks fired closer together than the interval")
	}
	if h.TotalTime() < 400*time.Millisecond {
		t.Errorf("expected total time >= 400ms, got %v", h.TotalTime())
	}
}

func TestTickTerminatesAfterDeadline(t *testing.T) {
	p := newTestPool(0)

	h := p.AddCommand("sleep 10").OnTick(func(h *Handle) {
		if time.Since(h.StartedAt()) > 100*time.Millisecond {
			_ = h.Terminate()
		}
	}, 20*time.Millisecond)

	runPool(t, p, 5*time.Second)

	if h.ExitCode() != 143 {
		t.Errorf("expected exit code 143, got %d", h.ExitCode())
	}
}

func TestCallbacksFrozenAfterAdmission(t *testing.T) {
	p := newTestPool(0)

	replaced := false
	h := p.AddCommand("echo hi").OnStarted(func(h *Handle) {
		h.OnOutput(func(*Handle, string) { replaced = true })
	})

	runPool(t, p, 5*time.Second)

	if replaced {
		t.Error("expected late OnOutput registration to be ignored")
	}
	if h.Out() != "hi\n" {
		t.Errorf("Out() = %q, want %q", h.Out(), "hi\n")
	}
}

func TestSetCallbacks(t *testing.T) {
	p := newTestPool(0)

	var out strings.Builder
	started := false
	h := p.AddCommand("echo hi").SetCallbacks(Callbacks{
		OnOutput:  func(_ *Handle, text string) { out.WriteString(text) },
		OnStarted: func(*Handle) { started = true },
	})

	runPool(t, p, 5*time.Second)

	if !started {
		t.Error("expected OnStarted to be called")
	}
	if out.String() != "hi\n" {
		t.Errorf("expected custom output %q, got %q", "hi\n", out.String())
	}
	if h.Out() != "" {
		t.Errorf("expected default buffer to stay empty, got %q", h.Out())
	}
}
