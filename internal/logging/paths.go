package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns the log directory (~/.petrel/logs), falling
// back to the temp directory when no home is available.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".petrel", "logs")
	}
	return filepath.Join(home, ".petrel", "logs")
}

// DefaultLogPath returns the service log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "petrel.log")
}

// EmbedLogPath returns the embedding sidecar's log path.
func EmbedLogPath() string {
	return filepath.Join(DefaultLogDir(), "embed-service.log")
}

// ParserLogPath returns the parser sidecar's log path.
func ParserLogPath() string {
	return filepath.Join(DefaultLogDir(), "parser-service.log")
}

// LogSource selects which log files to view.
type LogSource string

const (
	// LogSourceService is the petrel service log (default).
	LogSourceService LogSource = "service"
	// LogSourceEmbed is the embedding sidecar log.
	LogSourceEmbed LogSource = "embed"
	// LogSourceParser is the parser sidecar log.
	LogSourceParser LogSource = "parser"
	// LogSourceAll merges every source into one timeline.
	LogSourceAll LogSource = "all"
)

// ParseLogSource maps a flag value onto a LogSource. Unknown values
// default to the service log.
func ParseLogSource(s string) LogSource {
	switch s {
	case "embed":
		return LogSourceEmbed
	case "parser":
		return LogSourceParser
	case "all":
		return LogSourceAll
	default:
		return LogSourceService
	}
}

// FindLogFiles resolves the files to view. An explicit path wins; it
// must exist. Otherwise the source's default paths are checked and the
// existing ones returned.
func FindLogFiles(source LogSource, explicit string) ([]string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return nil, fmt.Errorf("log file not found: %s", explicit)
		}
		return []string{explicit}, nil
	}

	var candidates []string
	switch source {
	case LogSourceService:
		candidates = []string{DefaultLogPath()}
	case LogSourceEmbed:
		candidates = []string{EmbedLogPath()}
	case LogSourceParser:
		candidates = []string{ParserLogPath()}
	case LogSourceAll:
		candidates = []string{DefaultLogPath(), EmbedLogPath(), ParserLogPath()}
	default:
		return nil, fmt.Errorf("unknown log source %q (use: service, embed, parser, all)", source)
	}

	var paths []string
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no log files found for source %q; checked %v\n\nLogs appear once the service runs with LOG_FILE set (serve defaults to %s)",
			source, candidates, DefaultLogPath())
	}
	return paths, nil
}

// EnsureLogDir creates the log directory.
func EnsureLogDir() error {
	return os.MkdirAll(DefaultLogDir(), 0o755)
}
