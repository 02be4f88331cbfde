package process

import "time"

// DefaultTickInterval is used when OnTick is registered without a positive interval.
const DefaultTickInterval = 100 * time.Millisecond

// TextCallback receives a chunk of text read from one of the child's output streams.
type TextCallback func(h *Handle, text string)

// HandleCallback receives the handle an event happened on.
type HandleCallback func(h *Handle)

// EndedCallback receives the exit code of a finished process.
type EndedCallback func(h *Handle, exitCode int)

// Callbacks is the set of event handlers attached to a handle.
// A nil OnError or OnOutput appends to the handle's Err or Out buffer.
// A nil OnStarted, OnEnded or OnTick does nothing.
// The set is frozen once the handle leaves the queue.
type Callbacks struct {
	OnError      TextCallback
	OnOutput     TextCallback
	OnStarted    HandleCallback
	OnEnded      EndedCallback
	OnTick       HandleCallback
	TickInterval time.Duration
}

func (c *Callbacks) error(h *Handle, text string) {
	if c.OnError == nil {
		h.err.WriteString(text)
		return
	}
	c.OnError(h, text)
}

func (c *Callbacks) output(h *Handle, text string) {
	if c.OnOutput == nil {
		h.out.WriteString(text)
		return
	}
	c.OnOutput(h, text)
}

func (c *Callbacks) started(h *Handle) {
	if c.OnStarted != nil {
		c.OnStarted(h)
	}
}

func (c *Callbacks) ended(h *Handle, exitCode int) {
	if c.OnEnded != nil {
		c.OnEnded(h, exitCode)
	}
}

// tickDue reports whether a tick should fire at now.
func (c *Callbacks) tickDue(last, now time.Time) bool {
	return c.OnTick != nil && now.Sub(last) >= c.tickInterval()
}

func (c *Callbacks) tickInterval() time.Duration {
	if c.TickInterval <= 0 {
		return DefaultTickInterval
	}
	return c.TickInterval
}
