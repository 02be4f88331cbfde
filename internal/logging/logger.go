package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Logger is a duck-typed interface satisfied by *slog.Logger.
// Use this interface instead of *slog.Logger to decouple from the concrete type.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config represents logging configuration.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

var (
	mutex           sync.RWMutex
	moduleLoggers   = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	globalConfig    Config
	globalLevelVar  = &slog.LevelVar{}
	isInitialized   bool

	// Logs go to stderr so they never interleave with child stdout.
	output io.Writer = os.Stderr
)

// Initialize sets up the logging system. Loggers handed out before the call
// keep working; their levels are updated in place and the module map is
// rebuilt so later GetLogger calls pick up the new format.
func Initialize(config Config) {
	mutex.Lock()
	defer mutex.Unlock()

	globalConfig = config
	isInitialized = true

	globalLevel, err := ParseLevel(config.Level)
	if err != nil {
		globalLevel = slog.LevelInfo
	}
	globalLevelVar.Set(globalLevel)

	for module, levelVar := range moduleLevelVars {
		levelVar.Set(moduleLevel(module))
		moduleLoggers[module] = slog.New(createHandler(config.Format, levelVar)).With("module", module)
	}

	slog.SetDefault(slog.New(createHandler(config.Format, globalLevelVar)))
}

// GetLogger returns a logger for the specified module, creating it if needed.
func GetLogger(module string) *slog.Logger {
	mutex.RLock()
	logger, exists := moduleLoggers[module]
	mutex.RUnlock()
	if exists {
		return logger
	}

	mutex.Lock()
	defer mutex.Unlock()

	if logger, exists := moduleLoggers[module]; exists {
		return logger
	}

	levelVar := &slog.LevelVar{}
	levelVar.Set(moduleLevel(module))

	format := "text"
	if isInitialized {
		format = globalConfig.Format
	}

	logger = slog.New(createHandler(format, levelVar)).With("module", module)
	moduleLoggers[module] = logger
	moduleLevelVars[module] = levelVar
	return logger
}

// SetLevel changes the level of one module at runtime. An empty module
// changes the global level and every module without an override.
func SetLevel(module, level string) error {
	parsed, err := ParseLevel(level)
	if err != nil {
		return err
	}

	mutex.Lock()
	defer mutex.Unlock()

	if module == "" {
		globalConfig.Level = level
		globalLevelVar.Set(parsed)
		for name, levelVar := range moduleLevelVars {
			if _, overridden := globalConfig.Modules[name]; !overridden {
				levelVar.Set(parsed)
			}
		}
		return nil
	}

	if globalConfig.Modules == nil {
		globalConfig.Modules = make(map[string]string)
	}
	globalConfig.Modules[module] = level
	if levelVar, exists := moduleLevelVars[module]; exists {
		levelVar.Set(parsed)
	}
	return nil
}

// SetOutput redirects the console handler. It only affects loggers created
// afterwards, so call it before Initialize.
func SetOutput(w io.Writer) {
	mutex.Lock()
	defer mutex.Unlock()
	output = w
}

// moduleLevel resolves the effective level for module. Caller holds mutex.
func moduleLevel(module string) slog.Level {
	if !isInitialized {
		return slog.LevelInfo
	}
	if levelStr, exists := globalConfig.Modules[module]; exists {
		if parsed, err := ParseLevel(levelStr); err == nil {
			return parsed
		}
	}
	return globalLevelVar.Level()
}

// createHandler builds the console handler and, when journald is reachable,
// fans out to a JournalHandler as well.
func createHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var consoleHandler slog.Handler
	if format == "json" {
		consoleHandler = slog.NewJSONHandler(output, opts)
	} else {
		consoleHandler = slog.NewTextHandler(output, opts)
	}

	var handlers []slog.Handler
	if isOutputAvailable(output) {
		handlers = append(handlers, consoleHandler)
	}
	if IsJournalAvailable() {
		handlers = append(handlers, NewJournalHandler(level))
	}

	switch len(handlers) {
	case 0:
		return consoleHandler
	case 1:
		return handlers[0]
	default:
		return NewMultiHandler(handlers...)
	}
}

// isOutputAvailable checks if w is a terminal, pipe, socket or file.
func isOutputAvailable(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return true
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return (mode&os.ModeCharDevice) != 0 || (mode&os.ModeNamedPipe) != 0 || (mode&os.ModeSocket) != 0 || mode.IsRegular()
}

// ParseLevel converts a level name to slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}
