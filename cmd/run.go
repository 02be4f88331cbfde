package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/smazurov/procpool/internal/config"
	"github.com/smazurov/procpool/internal/events"
	"github.com/smazurov/procpool/internal/logging"
	"github.com/smazurov/procpool/internal/metrics"
	"github.com/smazurov/procpool/internal/process"
	"github.com/smazurov/procpool/internal/stats"
	"github.com/spf13/cobra"
)

// reporterDrainTimeout bounds how long run waits for the last progress lines.
const reporterDrainTimeout = 2 * time.Second

// watchDebounce is the quiet period before --watch applies a config change.
var watchDebounce = config.DefaultDebounce

// runOptions holds flags for the run command. Tags drive config.LoadConfig.
type runOptions struct {
	Config      string
	MaxProcs    int           `toml:"pool.max_procs" env:"MAX_PROCS"`
	Shell       string        `toml:"pool.shell" env:"SHELL"`
	Backoff     time.Duration `toml:"pool.poll_backoff" env:"POLL_BACKOFF"`
	Tick        time.Duration `toml:"run.tick" env:"TICK"`
	Timeout     time.Duration `toml:"run.timeout" env:"TIMEOUT"`
	Prefix      bool          `toml:"output.prefix" env:"PREFIX"`
	Quiet       bool          `toml:"output.quiet" env:"QUIET"`
	MetricsAddr string        `toml:"metrics.addr" env:"METRICS_ADDR"`
	Watch       bool          `toml:"run.watch" env:"WATCH"`
	LogJSON     bool          `env:"LOG_JSON"`
	File        string        `env:"FILE"`
}

// CreateRunCmd creates the run command.
func CreateRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run [flags] [command...]",
		Short: "Run commands with at most --max-procs at a time",
		Long: `Runs each positional argument (and each line of --file) as a command line ` +
			`through the shell. At most --max-procs commands run at once; the rest wait in order. ` +
			`Exits with status 1 if any command fails or cannot be started.`,
		Example: `  procpool run -j 2 "sleep 1" "sleep 1" "sleep 1"
  procpool run --prefix --timeout 30s --file jobs.txt
  find . -name '*.png' | sed 's/.*/optipng "&"/' | procpool run --file -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadConfig(opts, cmd); err != nil {
				return err
			}
			return runCommands(cmd.Context(), opts, args, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.Config, "config", "c", "procpool.toml", "Path to configuration file")
	flags.IntVarP(&opts.MaxProcs, "max-procs", "j", 4, "Maximum commands running at once (0 = unbounded)")
	flags.StringVar(&opts.Shell, "shell", process.DefaultShell, `Shell used as "<shell> -c <command>"; empty runs commands directly`)
	flags.DurationVar(&opts.Backoff, "backoff", process.DefaultPollBackoff, "Longest idle wait between poll passes")
	flags.DurationVar(&opts.Tick, "tick", process.DefaultTickInterval, "How often the --timeout deadline is checked")
	flags.DurationVar(&opts.Timeout, "timeout", 0, "Terminate commands running longer than this (0 = no limit)")
	flags.BoolVar(&opts.Prefix, "prefix", false, "Prefix each output line with [id]")
	flags.BoolVarP(&opts.Quiet, "quiet", "q", false, "Suppress progress logs and the summary")
	flags.StringVar(&opts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	flags.BoolVar(&opts.Watch, "watch", false, "Apply [pool] max_procs and [logging] changes from the config file while running")
	flags.BoolVar(&opts.LogJSON, "log-json", false, "Log as JSON")
	flags.StringVar(&opts.File, "file", "", `Read commands from a file, one per line ("-" for stdin)`)

	return cmd
}

func runCommands(ctx context.Context, opts *runOptions, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	loggingConfig := config.LoadLoggingConfig(opts.Config)
	if opts.LogJSON {
		loggingConfig.Format = "json"
	}
	logging.Initialize(loggingConfig)
	logger := logging.GetLogger("run")

	commands := make([]string, 0, len(args))
	commands = append(commands, args...)
	if opts.File != "" {
		fromFile, err := readCommandFile(opts.File, stdin)
		if err != nil {
			return err
		}
		commands = append(commands, fromFile...)
	}
	if len(commands) == 0 {
		return errors.New("no commands given")
	}
	if opts.MaxProcs < 0 {
		return fmt.Errorf("--max-procs must be >= 0, got %d", opts.MaxProcs)
	}

	bus := events.New()
	defer bus.Close()

	var reporter *progressReporter
	if !opts.Quiet {
		reporter = newProgressReporter(bus, logger, len(commands))
		defer reporter.close()
	}

	summary := stats.NewSummary()
	var pool *process.Pool
	pool = process.NewPool(&process.PoolOptions{
		MaxConcurrency: opts.MaxProcs,
		PollBackoff:    opts.Backoff,
		Shell:          process.WithShell(opts.Shell),
		OnStateChange:  stateChangeRecorder(func() *process.Pool { return pool }, bus, summary),
	})
	metrics.SetPoolState(0, 0, pool.MaxConcurrency())

	if opts.MetricsAddr != "" {
		srv := metrics.NewServer(opts.MetricsAddr, logging.GetLogger("metrics"))
		if err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Metrics server shutdown failed", "error", err)
			}
		}()
	}

	if opts.Watch {
		stop, err := watchConfig(opts.Config, pool, bus, logger)
		if err != nil {
			return fmt.Errorf("failed to watch %s: %w", opts.Config, err)
		}
		defer stop()
	}

	for _, line := range commands {
		addCommand(pool, bus, opts, line, stdout, stderr)
	}

	ctx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	start := time.Now()
	runErr := pool.Run(ctx)
	summary.SetWallTime(time.Since(start))
	metrics.SetPoolState(pool.RunningCount(), pool.QueueLen(), pool.MaxConcurrency())

	snap := summary.Snapshot()
	if reporter != nil {
		if !reporter.wait(snap.Count(), reporterDrainTimeout) {
			logger.Debug("Progress reporter did not drain in time")
		}
		fmt.Fprintln(stderr, stats.Render(snap))
	}

	if runErr != nil {
		logger.Warn("Run interrupted", "error", runErr, "not_started", pool.QueueLen())
		return runErr
	}
	if !snap.OK() {
		return errCommandsFailed
	}
	return nil
}

// addCommand queues one command line with callbacks that stream its output
// and enforce --timeout.
func addCommand(pool *process.Pool, bus *events.Bus, opts *runOptions, line string, stdout, stderr io.Writer) *process.Handle {
	h := pool.AddCommand(line)

	prefix := ""
	if opts.Prefix {
		prefix = fmt.Sprintf("[%d] ", h.ID())
	}
	out := newLineWriter(stdout, prefix)
	errOut := newLineWriter(stderr, prefix)

	cbs := process.Callbacks{
		OnOutput: func(_ *process.Handle, text string) { out.WriteString(text) },
		OnError:  func(_ *process.Handle, text string) { errOut.WriteString(text) },
		OnEnded: func(h *process.Handle, _ int) {
			out.Flush()
			errOut.Flush()
			if h.SpawnError() != nil && !opts.Prefix {
				io.WriteString(stderr, "\n")
			}
		},
	}
	if opts.Timeout > 0 {
		terminated := false
		cbs.TickInterval = opts.Tick
		cbs.OnTick = func(h *process.Handle) {
			if terminated || time.Since(h.StartedAt()) < opts.Timeout {
				return
			}
			terminated = true
			logging.GetLogger("run").Warn("Command timed out, terminating", "id", h.ID(), "timeout", opts.Timeout)
			if err := h.Terminate(); err != nil {
				logging.GetLogger("run").Warn("Failed to terminate", "id", h.ID(), "error", err)
			}
		}
	}
	h.SetCallbacks(cbs)

	bus.Publish(events.CommandQueuedEvent{ID: h.ID(), Command: line, Timestamp: time.Now()})
	return h
}

// stateChangeRecorder fans pool transitions out to events, metrics and the summary.
func stateChangeRecorder(pool func() *process.Pool, bus *events.Bus, summary *stats.Summary) process.StateChangeCallback {
	return func(h *process.Handle, from, to process.State) {
		now := time.Now()

		p := pool()
		running := p.RunningCount()
		if to == process.StateEnded {
			// The handle stays in the running set until the pass's cleanup
			running--
		}
		metrics.SetPoolState(running, p.QueueLen(), p.MaxConcurrency())

		switch {
		case to == process.StateRunning:
			metrics.RecordStarted()
			bus.Publish(events.CommandStartedEvent{ID: h.ID(), Command: h.CommandLine(), PID: h.Pid(), Timestamp: now})

		case to == process.StateEnded && from == process.StateQueued:
			metrics.RecordSpawnFailure()
			summary.RecordSpawnFailure(h.ID(), h.CommandLine())
			bus.Publish(events.CommandSpawnFailedEvent{ID: h.ID(), Command: h.CommandLine(), Error: h.SpawnError().Error(), Timestamp: now})

		case to == process.StateEnded:
			metrics.RecordEnded(h.ExitCode(), h.TotalTime())
			summary.Record(h.ID(), h.CommandLine(), h.ExitCode(), h.TotalTime())
			bus.Publish(events.CommandEndedEvent{
				ID:        h.ID(),
				Command:   h.CommandLine(),
				PID:       h.Pid(),
				ExitCode:  h.ExitCode(),
				Duration:  h.TotalTime(),
				Timestamp: now,
			})
		}
	}
}

// watchConfig applies [pool] max_procs and [logging] levels from the config
// file to the running pool. The returned func stops both watchers.
func watchConfig(path string, pool *process.Pool, bus *events.Bus, logger logging.Logger) (func(), error) {
	poolWatcher := config.NewConfigWatcher(path, config.LoadPoolSettings, logger, config.WithDebounce[config.PoolSettings](watchDebounce))
	poolWatcher.OnReload(func(s config.PoolSettings) {
		// Without max_procs in the file the cap from the command line stands
		if !s.MaxProcsSet {
			return
		}
		old := pool.MaxConcurrency()
		if s.MaxProcs == old {
			return
		}
		pool.SetMaxConcurrency(s.MaxProcs)
		metrics.SetMaxConcurrency(s.MaxProcs)
		bus.Publish(events.ConcurrencyChangedEvent{Old: old, New: s.MaxProcs, Source: path, Timestamp: time.Now()})
	})
	if err := poolWatcher.Start(); err != nil {
		return nil, err
	}

	loggingWatcher := config.NewConfigWatcher(path, func(p string) (logging.Config, error) {
		return config.LoadLoggingConfig(p), nil
	}, logger, config.WithDebounce[logging.Config](watchDebounce))
	loggingWatcher.OnReload(func(cfg logging.Config) {
		if err := logging.SetLevel("", cfg.Level); err != nil {
			logger.Warn("Ignoring logging level", "error", err)
		}
		for module, level := range cfg.Modules {
			if err := logging.SetLevel(module, level); err != nil {
				logger.Warn("Ignoring module logging level", "module", module, "error", err)
			}
		}
	})
	if err := loggingWatcher.Start(); err != nil {
		_ = poolWatcher.Stop()
		return nil, err
	}

	return func() {
		if err := poolWatcher.Stop(); err != nil {
			logger.Debug("Pool config watcher stop failed", "error", err)
		}
		if err := loggingWatcher.Stop(); err != nil {
			logger.Debug("Logging config watcher stop failed", "error", err)
		}
	}, nil
}

// readCommandFile returns the non-blank, non-comment lines of path.
// A path of "-" reads from stdin.
func readCommandFile(path string, stdin io.Reader) ([]string, error) {
	var r io.Reader
	if path == "-" {
		r = stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var commands []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		commands = append(commands, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return commands, nil
}
