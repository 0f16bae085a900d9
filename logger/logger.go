// Package logger wraps log/slog behind a package-level default, the same
// shape bunbase's pkg/logger uses across its services.
package logger

import (
	"os"
	"sync"

	"log/slog"
)

var (
	once sync.Once
	def  *slog.Logger
	mu   sync.RWMutex
)

// Config selects verbosity and encoding for the default logger.
type Config struct {
	Level     string // DEBUG, INFO, WARN, ERROR
	Format    string // json, text
	AddSource bool
}

// Init installs the default logger. Only the first call takes effect;
// later calls are no-ops. SetVerbose changes the level at runtime by
// building a new handler.
func Init(cfg Config) {
	once.Do(func() {
		def = build(cfg)
		slog.SetDefault(def)
	})
}

func build(cfg Config) *slog.Logger {
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}

	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(h)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetVerbose toggles DEBUG/INFO at runtime, the hook
// Database.ApplyConfigChange uses when EnableDetailedLogging flips.
func SetVerbose(verbose bool) {
	mu.Lock()
	defer mu.Unlock()
	cfg := Config{Format: "json"}
	if verbose {
		cfg.Level = "DEBUG"
	} else {
		cfg.Level = "INFO"
	}
	def = build(cfg)
	slog.SetDefault(def)
}

// Get returns the process-wide logger, initializing a sane default on
// first use.
func Get() *slog.Logger {
	mu.RLock()
	l := def
	mu.RUnlock()
	if l != nil {
		return l
	}
	Init(Config{Level: "INFO", Format: "json"})
	mu.RLock()
	defer mu.RUnlock()
	return def
}

func Info(msg string, args ...any)  { Get().Info(msg, args...) }
func Error(msg string, args ...any) { Get().Error(msg, args...) }
func Debug(msg string, args ...any) { Get().Debug(msg, args...) }
func Warn(msg string, args ...any)  { Get().Warn(msg, args...) }
