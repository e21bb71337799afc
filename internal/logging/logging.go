package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	slogmulti "github.com/samber/slog-multi"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config contains logging configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// Format selects the stderr handler: "text" or "json".
	Format string
	// FilePath is the path to the log file. Empty means no file logging.
	// File output is always JSON and rotated.
	FilePath string
	// MaxSizeMB is the maximum file size in MB before rotation (default: 10).
	MaxSizeMB int
	// MaxFiles is the maximum number of rotated files to keep (default: 5).
	MaxFiles int
	// WriteToStderr whether to also write to stderr (default: true).
	WriteToStderr bool
}

// DefaultConfig returns stderr-only text logging at info level.
func DefaultConfig() Config {
	return Config{
		Level:         "info",
		Format:        "text",
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	}
}

// Manager owns the process logger. It starts in bootstrap mode (text to
// stderr) so early startup can log before configuration is loaded, then
// Upgrade swaps in the configured handler without invalidating loggers
// already handed out.
type Manager struct {
	handler *SwappableHandler
	logger  *slog.Logger
	level   *slog.LevelVar
	rotator *lumberjack.Logger
	mu      sync.Mutex
}

// NewManager creates a logging manager in bootstrap mode.
func NewManager() *Manager {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	opts := &slog.HandlerOptions{Level: level}
	bootstrap := slog.NewTextHandler(os.Stderr, opts)

	handler := NewSwappableHandler(bootstrap)
	logger := slog.New(handler)

	return &Manager{
		handler: handler,
		logger:  logger,
		level:   level,
	}
}

// Logger returns the current logger instance.
// The returned logger is stable across Upgrade calls.
func (m *Manager) Logger() *slog.Logger {
	return m.logger
}

// Upgrade transitions from bootstrap mode to the configured handler set:
// text or JSON to stderr, plus rotated JSON to a file when FilePath is set.
func (m *Manager) Upgrade(cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.level.Set(parseLevel(cfg.Level))
	opts := &slog.HandlerOptions{Level: m.level}

	var handlers []slog.Handler
	if cfg.WriteToStderr {
		handlers = append(handlers, stderrHandler(cfg.Format, opts))
	}

	if cfg.FilePath != "" {
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		maxFiles := cfg.MaxFiles
		if maxFiles <= 0 {
			maxFiles = 5
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    maxSize,
			MaxBackups: maxFiles,
			Compress:   true,
		}
		if m.rotator != nil {
			_ = m.rotator.Close()
		}
		m.rotator = rotator
		handlers = append(handlers, slog.NewJSONHandler(rotator, opts))
	}

	switch len(handlers) {
	case 0:
		m.handler.Swap(slog.NewTextHandler(io.Discard, opts))
	case 1:
		m.handler.Swap(handlers[0])
	default:
		m.handler.Swap(slogmulti.Fanout(handlers...))
	}

	return nil
}

// SetLevel changes the log level at runtime.
// Applies immediately to all future log calls.
func (m *Manager) SetLevel(level slog.Level) {
	m.level.Set(level)
}

// Close cleanly shuts down the logger, closing the rotated file if open.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rotator != nil {
		err := m.rotator.Close()
		m.rotator = nil
		return err
	}
	return nil
}

// Setup builds a logger from cfg, installs it as the process default, and
// returns it with a cleanup function.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	m := NewManager()
	if err := m.Upgrade(cfg); err != nil {
		return nil, nil, err
	}
	slog.SetDefault(m.Logger())
	return m.Logger(), func() { _ = m.Close() }, nil
}

func stderrHandler(format string, opts *slog.HandlerOptions) slog.Handler {
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.NewTextHandler(os.Stderr, opts)
}

// parseLevel converts string level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LevelFromString converts string level to slog.Level.
func LevelFromString(level string) slog.Level {
	return parseLevel(level)
}
