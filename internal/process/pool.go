package process

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/procpool/internal/logging"
)

const defaultGracefulTimeout = 5 * time.Second

// Pool runs queued commands with a cap on how many execute at once.
//
// A single goroutine drives everything through Run: admission, output
// pumping, exit detection and cleanup. AddCommand, SetMaxConcurrency and
// the counters are safe to use from other goroutines.
type Pool struct {
	maxConcurrency  atomic.Int64
	pollBackoff     time.Duration
	gracefulTimeout time.Duration // after cancellation, before Kill
	shell           string
	onStateChange   StateChangeCallback
	logger          logging.Logger
	processLogger   logging.Logger

	mu     sync.Mutex
	queue  []*Handle
	nextID int

	running      []*Handle // owned by the Run goroutine
	runningCount atomic.Int64
	active       atomic.Bool

	started       atomic.Int64
	ended         atomic.Int64
	spawnFailures atomic.Int64
}

// NewPool creates a new pool. A nil opts uses the defaults: unbounded
// concurrency, DefaultPollBackoff and DefaultShell.
func NewPool(opts *PoolOptions) *Pool {
	if opts == nil {
		opts = &PoolOptions{}
	}

	p := &Pool{
		pollBackoff:     opts.PollBackoff,
		gracefulTimeout: defaultGracefulTimeout,
		shell:           DefaultShell,
		onStateChange:   opts.OnStateChange,
		logger:          opts.Logger,
		processLogger:   opts.Logger,
	}
	if p.pollBackoff <= 0 {
		p.pollBackoff = DefaultPollBackoff
	}
	if opts.Shell != nil {
		p.shell = *opts.Shell
	}
	if p.logger == nil {
		p.logger = logging.GetLogger("pool")
		p.processLogger = logging.GetLogger("process")
	}
	if opts.MaxConcurrency > 0 {
		p.maxConcurrency.Store(int64(opts.MaxConcurrency))
	}

	return p
}

// SetMaxConcurrency sets the admission cap. 0 means unbounded and negative
// values are treated as 0. Takes effect on the next admission pass.
func (p *Pool) SetMaxConcurrency(n int) {
	if n < 0 {
		n = 0
	}
	if old := p.maxConcurrency.Swap(int64(n)); old != int64(n) {
		p.logger.Info("Max concurrency changed", "old", old, "new", n)
	}
}

// MaxConcurrency returns the current admission cap.
func (p *Pool) MaxConcurrency() int {
	return int(p.maxConcurrency.Load())
}

// AddCommand queues a command line and returns its handle. The process is
// not started until Run admits it, so callbacks can be attached first.
func (p *Pool) AddCommand(commandLine string) *Handle {
	p.mu.Lock()
	p.nextID++
	h := newHandle(p.nextID, commandLine, p)
	p.queue = append(p.queue, h)
	p.mu.Unlock()

	p.logger.Debug("Command queued", "id", h.id, "command", commandLine)
	return h
}

// QueueLen returns the number of handles waiting for admission.
func (p *Pool) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// RunningCount returns the number of admitted handles not yet cleaned up.
func (p *Pool) RunningCount() int {
	return int(p.runningCount.Load())
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Queued:        p.QueueLen(),
		Running:       p.RunningCount(),
		Started:       int(p.started.Load()),
		Ended:         int(p.ended.Load()),
		SpawnFailures: int(p.spawnFailures.Load()),
	}
}

// Run admits and polls commands until the queue and the running set are both
// empty. It blocks the caller; all callbacks run on this goroutine.
//
// When ctx is cancelled no further commands are admitted, running processes
// are terminated (and killed if they outlive the grace period) and Run returns
// ctx.Err() once they have all ended. Handles still queued stay queued.
func (p *Pool) Run(ctx context.Context) error {
	if !p.active.CompareAndSwap(false, true) {
		return ErrPoolRunning
	}
	defer p.active.Store(false)

	p.logger.Info("Pool run started", "queued", p.QueueLen(), "max_concurrency", p.MaxConcurrency())

	var stopping, killed bool
	var killAt time.Time

	for {
		if !stopping && ctx.Err() != nil {
			stopping = true
			killAt = time.Now().Add(p.gracefulTimeout)
			p.logger.Info("Context cancelled, terminating running processes", "running", len(p.running))
			p.signalRunning((*Handle).Terminate)
		}
		if stopping && !killed && time.Now().After(killAt) {
			killed = true
			p.logger.Warn("Graceful shutdown timeout, forcing kill", "timeout", p.gracefulTimeout)
			p.signalRunning((*Handle).Kill)
		}

		active := false
		if !stopping {
			active = p.admit()
		}
		if p.pollRunning() {
			active = true
		}
		p.cleanup()

		if len(p.running) == 0 {
			if stopping {
				p.logger.Info("Pool run stopped", "queued", p.QueueLen())
				return ctx.Err()
			}
			if p.QueueLen() == 0 {
				p.logger.Info("Pool run complete", "ended", p.ended.Load())
				return nil
			}
			continue
		}

		if !active {
			p.waitForActivity()
		}
	}
}

// admit moves handles from the head of the queue into the running set until
// the cap is reached, spawning each one.
func (p *Pool) admit() bool {
	admitted := false
	for {
		if limit := p.MaxConcurrency(); limit > 0 && len(p.running) >= limit {
			return admitted
		}

		h := p.popQueue()
		if h == nil {
			return admitted
		}

		p.running = append(p.running, h)
		p.runningCount.Store(int64(len(p.running)))
		h.spawn()
		admitted = true
	}
}

func (p *Pool) popQueue() *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.queue) == 0 {
		return nil
	}
	h := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	return h
}

// pollRunning polls every running handle once.
func (p *Pool) pollRunning() bool {
	active := false
	for _, h := range p.running {
		if h.poll() {
			active = true
		}
	}
	return active
}

// cleanup drops ended handles from the running set.
func (p *Pool) cleanup() {
	kept := p.running[:0]
	for _, h := range p.running {
		if !h.HasEnded() {
			kept = append(kept, h)
		}
	}
	for i := len(kept); i < len(p.running); i++ {
		p.running[i] = nil
	}
	p.running = kept
	p.runningCount.Store(int64(len(p.running)))
}

// waitForActivity blocks until a running handle's output becomes readable,
// the next tick is due, or the poll backoff elapses, whichever comes first.
func (p *Pool) waitForActivity() {
	timeout := p.pollBackoff
	now := time.Now()

	var fds []int
	for _, h := range p.running {
		if due, ok := h.nextTick(); ok {
			if d := due.Sub(now); d < timeout {
				timeout = d
			}
		}
		fds = append(fds, h.waitDescriptors()...)
	}

	if timeout <= 0 {
		return
	}
	if err := waitReadable(fds, timeout); err != nil {
		p.logger.Debug("Readiness wait failed, sleeping instead", "error", err)
		time.Sleep(timeout)
	}
}

func (p *Pool) signalRunning(send func(*Handle) error) {
	for _, h := range p.running {
		if err := send(h); err != nil {
			p.logger.Warn("Failed to signal process", "id", h.id, "error", err)
		}
	}
}

// notifyStateChange records a handle transition and invokes the OnStateChange callback if configured.
func (p *Pool) notifyStateChange(h *Handle, from, to State) {
	switch to {
	case StateRunning:
		p.started.Add(1)
	case StateEnded:
		p.ended.Add(1)
		if from == StateQueued {
			p.spawnFailures.Add(1)
		}
	}

	if p.onStateChange != nil {
		p.onStateChange(h, from, to)
	}
}
