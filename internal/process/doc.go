// Package process runs external commands as child processes under a
// concurrency cap.
//
// The package offers two types:
//
// Handle owns one child process:
//   - Spawned with stdin, stdout and stderr pipes, in its own process group
//   - Output read without blocking, stdout and stderr drained every pass
//   - Callbacks for output, errors, start, end and periodic ticks
//   - Terminate/Kill signal the whole process group
//
// Pool schedules handles:
//   - FIFO admission queue, at most MaxConcurrency running at once
//   - Single-goroutine polling loop driven by Run
//   - Idle passes wait on pipe readiness (poll(2)) bounded by PollBackoff
//   - OnStateChange hook for domain-specific reactions (events, metrics)
//
// A process that fails to spawn reports the cause through its error
// callback and ends with exit code -1. With a shell (the default) the shell
// itself is what gets spawned, so a command it cannot find or execute ends
// with the shell's 127 or 126 and its message arrives on the error
// callback; only direct exec (WithShell("")) reports a missing program as
// -1. A process killed by signal N ends with 128+N.
//
// Example usage:
//
//	pool := process.NewPool(&process.PoolOptions{MaxConcurrency: 2})
//	h := pool.AddCommand(`printf "START-"; printf "END"`).
//	    OnEnded(func(h *process.Handle, code int) {
//	        log.Printf("command %d exited with %d", h.ID(), code)
//	    })
//	if err := pool.Run(ctx); err != nil {
//	    return err
//	}
//	fmt.Println(h.Out()) // START-END
package process
