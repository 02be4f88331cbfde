package cmd

import (
	"strconv"
	"sync"
	"time"

	"github.com/smazurov/procpool/internal/events"
	"github.com/smazurov/procpool/internal/logging"
)

// progressReporter logs one line per finished command from the event bus.
type progressReporter struct {
	logger logging.Logger
	total  int

	mu       sync.Mutex
	cond     *sync.Cond
	finished int

	unsubs []func()
}

func newProgressReporter(bus *events.Bus, logger logging.Logger, total int) *progressReporter {
	r := &progressReporter{logger: logger, total: total}
	r.cond = sync.NewCond(&r.mu)

	r.unsubs = append(r.unsubs,
		bus.Subscribe(func(e events.CommandStartedEvent) {
			r.logger.Debug("Command started", "id", e.ID, "pid", e.PID, "command", e.Command)
		}),
		bus.Subscribe(func(e events.CommandEndedEvent) {
			n := r.advance()
			if e.Success() {
				r.logger.Info("Command finished", "id", e.ID, "exit_code", e.ExitCode, "duration", e.Duration.Round(time.Millisecond), "progress", r.progress(n))
			} else {
				r.logger.Warn("Command failed", "id", e.ID, "exit_code", e.ExitCode, "duration", e.Duration.Round(time.Millisecond), "command", e.Command, "progress", r.progress(n))
			}
		}),
		bus.Subscribe(func(e events.CommandSpawnFailedEvent) {
			n := r.advance()
			r.logger.Error("Command did not start", "id", e.ID, "error", e.Error, "progress", r.progress(n))
		}),
		bus.Subscribe(func(e events.ConcurrencyChangedEvent) {
			r.logger.Info("Concurrency changed", "old", e.Old, "new", e.New, "source", e.Source)
		}),
	)
	return r
}

func (r *progressReporter) advance() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished++
	r.cond.Broadcast()
	return r.finished
}

func (r *progressReporter) progress(n int) string {
	r.mu.Lock()
	total := r.total
	r.mu.Unlock()
	return formatProgress(n, total)
}

// wait blocks until n completions were reported or timeout passes, so the
// last progress lines land before the summary.
func (r *progressReporter) wait(n int, timeout time.Duration) bool {
	timer := time.AfterFunc(timeout, func() {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	defer timer.Stop()

	deadline := time.Now().Add(timeout)
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.finished < n {
		if !time.Now().Before(deadline) {
			return false
		}
		r.cond.Wait()
	}
	return true
}

func (r *progressReporter) close() {
	for _, unsub := range r.unsubs {
		unsub()
	}
}

func formatProgress(n, total int) string {
	if total <= 0 {
		return ""
	}
	return strconv.Itoa(n) + "/" + strconv.Itoa(total)
}
