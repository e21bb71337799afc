package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// Entry is one parsed JSON log line.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Msg     string         `json:"msg"`
	Source  string         `json:"source"`
	Attrs   map[string]any `json:"-"`
	Raw     string         `json:"-"`
	IsValid bool           `json:"-"`
}

// ViewerConfig filters and formats log output.
type ViewerConfig struct {
	Level      string         // minimum level, empty admits all
	Pattern    *regexp.Regexp // raw-line filter, nil admits all
	NoColor    bool
	ShowSource bool
}

// Viewer tails and follows the JSON log files.
type Viewer struct {
	config ViewerConfig
	out    io.Writer
}

// NewViewer creates a viewer writing formatted entries to out.
func NewViewer(cfg ViewerConfig, out io.Writer) *Viewer {
	return &Viewer{config: cfg, out: out}
}

// scanCapacity bounds a single log line.
const scanCapacity = 1024 * 1024

// Tail returns the last n matching entries across paths, merged into
// one timeline. Files that cannot be read are skipped.
func (v *Viewer) Tail(paths []string, n int) ([]Entry, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no log files to read")
	}

	var all []Entry
	for _, path := range paths {
		lines, err := readLastLines(path, n)
		if err != nil {
			if len(paths) == 1 {
				return nil, err
			}
			continue
		}
		source := sourceFromPath(path)
		for _, line := range lines {
			entry := v.parseLine(line, source)
			if v.matches(entry) {
				all = append(all, entry)
			}
		}
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].Time.Before(all[j].Time)
	})
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

// Follow streams new matching entries from every path until ctx is
// cancelled. Entries arrive in per-file order; cross-file ordering
// follows arrival time.
func (v *Viewer) Follow(ctx context.Context, paths []string, entries chan<- Entry) error {
	var wg sync.WaitGroup
	for _, path := range paths {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			v.followOne(ctx, p, entries)
		}(path)
	}
	wg.Wait()
	return ctx.Err()
}

func (v *Viewer) followOne(ctx context.Context, path string, entries chan<- Entry) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return
	}

	source := sourceFromPath(path)
	reader := bufio.NewReader(file)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				line, err := reader.ReadString('\n')
				if err != nil {
					break
				}
				line = strings.TrimSuffix(line, "\n")
				if line == "" {
					continue
				}
				entry := v.parseLine(line, source)
				if !v.matches(entry) {
					continue
				}
				select {
				case entries <- entry:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// Print writes formatted entries to the configured output.
func (v *Viewer) Print(entries []Entry) {
	for _, entry := range entries {
		_, _ = fmt.Fprintln(v.out, v.FormatEntry(entry))
	}
}

// FormatEntry renders one entry. Unparseable lines pass through raw.
func (v *Viewer) FormatEntry(entry Entry) string {
	if !entry.IsValid {
		return entry.Raw
	}

	timestamp := entry.Time.Format("15:04:05.000")
	level := v.formatLevel(entry.Level)

	sourceLabel := ""
	if v.config.ShowSource && entry.Source != "" {
		sourceLabel = v.formatSource(entry.Source) + " "
	}

	keys := make([]string, 0, len(entry.Attrs))
	for k := range entry.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var attrs []string
	for _, k := range keys {
		attrs = append(attrs, fmt.Sprintf("%s=%v", k, entry.Attrs[k]))
	}
	attrStr := ""
	if len(attrs) > 0 {
		attrStr = " " + strings.Join(attrs, " ")
	}

	return fmt.Sprintf("%s %s %s%s%s", timestamp, level, sourceLabel, entry.Msg, attrStr)
}

func readLastLines(path string, n int) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, scanCapacity), scanCapacity)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}

	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// sourceFromPath labels entries by originating file.
func sourceFromPath(path string) string {
	base := filepath.Base(path)
	switch {
	case strings.HasPrefix(base, "embed-service"):
		return string(LogSourceEmbed)
	case strings.HasPrefix(base, "parser-service"):
		return string(LogSourceParser)
	case strings.HasPrefix(base, "petrel"):
		return string(LogSourceService)
	default:
		return "unknown"
	}
}

func (v *Viewer) parseLine(line, defaultSource string) Entry {
	entry := Entry{Raw: line}

	var data map[string]any
	if err := json.Unmarshal([]byte(line), &data); err != nil {
		return entry
	}
	entry.IsValid = true

	if t, ok := data["time"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			entry.Time = parsed
		}
	}
	if l, ok := data["level"].(string); ok {
		entry.Level = l
	}
	if m, ok := data["msg"].(string); ok {
		entry.Msg = m
	}
	if s, ok := data["source"].(string); ok {
		entry.Source = s
	} else {
		entry.Source = defaultSource
	}

	entry.Attrs = make(map[string]any)
	for k, val := range data {
		switch k {
		case "time", "level", "msg", "source":
		default:
			entry.Attrs[k] = val
		}
	}
	return entry
}

func (v *Viewer) matches(entry Entry) bool {
	if v.config.Level != "" {
		if LevelFromString(entry.Level) < LevelFromString(v.config.Level) {
			return false
		}
	}
	if v.config.Pattern != nil && !v.config.Pattern.MatchString(entry.Raw) {
		return false
	}
	return true
}

func (v *Viewer) formatLevel(level string) string {
	levelStr := strings.ToUpper(level)
	if len(levelStr) > 5 {
		levelStr = levelStr[:5]
	}
	levelStr = fmt.Sprintf("%-5s", levelStr)

	if v.config.NoColor {
		return levelStr
	}
	switch strings.ToLower(level) {
	case "debug":
		return "\033[90m" + levelStr + "\033[0m"
	case "info":
		return "\033[32m" + levelStr + "\033[0m"
	case "warn", "warning":
		return "\033[33m" + levelStr + "\033[0m"
	case "error":
		return "\033[31m" + levelStr + "\033[0m"
	default:
		return levelStr
	}
}

func (v *Viewer) formatSource(source string) string {
	label := "[" + source + "]"
	if v.config.NoColor {
		return label
	}
	switch source {
	case string(LogSourceService):
		return "\033[36m" + label + "\033[0m"
	case string(LogSourceEmbed):
		return "\033[35m" + label + "\033[0m"
	case string(LogSourceParser):
		return "\033[34m" + label + "\033[0m"
	default:
		return "\033[90m" + label + "\033[0m"
	}
}
