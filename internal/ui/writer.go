package ui

import (
	"fmt"
	"io"
	"strings"
)

// Writer prints iconed status lines for CLI commands. Write errors on
// console output are ignored.
type Writer struct {
	out    io.Writer
	styles Styles
}

// NewWriter creates a Writer. noColor strips all styling.
func NewWriter(out io.Writer, noColor bool) *Writer {
	return &Writer{
		out:    out,
		styles: GetStyles(noColor),
	}
}

// Status prints one line with a leading icon column.
func (w *Writer) Status(icon, msg string) {
	if icon == "" {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
		return
	}
	_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
}

// Statusf is Status with formatting.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a checkmark line.
func (w *Writer) Success(msg string) {
	w.Status(w.styles.Success.Render("✓"), msg)
}

// Successf is Success with formatting.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning line.
func (w *Writer) Warning(msg string) {
	w.Status(w.styles.Warning.Render("!"), msg)
}

// Warningf is Warning with formatting.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error line.
func (w *Writer) Error(msg string) {
	w.Status(w.styles.Error.Render("✗"), msg)
}

// Errorf is Error with formatting.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Label prints an aligned "key: value" line.
func (w *Writer) Label(key, value string) {
	_, _ = fmt.Fprintf(w.out, "  %-14s %s\n", w.styles.Label.Render(key+":"), value)
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Bar renders a fixed-width horizontal bar scaled to value/max,
// annotated with the raw value. Used for histogram rows.
func (w *Writer) Bar(label string, value, max int64, width int) {
	if width <= 0 {
		width = 30
	}
	filled := 0
	if max > 0 {
		filled = int(float64(value) / float64(max) * float64(width))
	}
	if filled > width {
		filled = width
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	_, _ = fmt.Fprintf(w.out, "  %-10s %s %d\n", label, w.styles.Sparkline.Render(bar), value)
}

// Progress renders an in-place progress line. The caller must emit a
// final newline once done, or use a current >= total call.
func (w *Writer) Progress(current, total int, msg string) {
	if total <= 0 {
		return
	}
	pct := float64(current) / float64(total) * 100
	bar := progressCells(current, total, 30)
	_, _ = fmt.Fprintf(w.out, "\r[%s] %3.0f%% %s", w.styles.Sparkline.Render(bar), pct, msg)
	if current >= total {
		_, _ = fmt.Fprintln(w.out)
	}
}

func progressCells(current, total, width int) string {
	if total <= 0 {
		return strings.Repeat("░", width)
	}
	filled := int(float64(current) / float64(total) * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
