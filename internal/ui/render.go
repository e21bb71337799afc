package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/petrel-search/petrel/internal/search"
	"github.com/petrel-search/petrel/internal/status"
	"github.com/petrel-search/petrel/internal/store"
)

// Renderer formats API payloads for the terminal.
type Renderer struct {
	out    io.Writer
	styles Styles
}

// NewRenderer creates a renderer. noColor strips all styling.
func NewRenderer(out io.Writer, noColor bool) *Renderer {
	return &Renderer{
		out:    out,
		styles: GetStyles(noColor),
	}
}

// RenderJSON writes v as indented JSON, for --json flags.
func (r *Renderer) RenderJSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// RenderStatus prints a single document's processing card.
func (r *Renderer) RenderStatus(st status.ProcessingStatus) {
	_, _ = fmt.Fprintf(r.out, "%s %s\n",
		r.stateIcon(st.State), r.styles.Filename.Render(st.Filename))
	_, _ = fmt.Fprintf(r.out, "  %-10s %s\n", r.styles.Label.Render("doc_id:"), st.DocID)
	_, _ = fmt.Fprintf(r.out, "  %-10s %s\n", r.styles.Label.Render("state:"), r.renderState(st.State))

	if !st.State.Terminal() {
		bar := progressCells(int(st.Progress*100), 100, 30)
		_, _ = fmt.Fprintf(r.out, "  %-10s [%s] %3.0f%%\n",
			r.styles.Label.Render("progress:"), r.styles.Sparkline.Render(bar), st.Progress*100)
		if st.Stage != "" {
			_, _ = fmt.Fprintf(r.out, "  %-10s %s\n", r.styles.Label.Render("stage:"), st.Stage)
		}
	}
	if st.TotalPages > 0 {
		_, _ = fmt.Fprintf(r.out, "  %-10s %d/%d\n", r.styles.Label.Render("pages:"), st.Page, st.TotalPages)
	}
	if st.TotalChunks > 0 {
		_, _ = fmt.Fprintf(r.out, "  %-10s %d/%d\n", r.styles.Label.Render("chunks:"), st.Chunk, st.TotalChunks)
	}

	_, _ = fmt.Fprintf(r.out, "  %-10s %s\n",
		r.styles.Label.Render("started:"), formatAgo(st.StartedAt))
	if st.CompletedAt != nil {
		_, _ = fmt.Fprintf(r.out, "  %-10s %s (%s total)\n",
			r.styles.Label.Render("finished:"), formatAgo(*st.CompletedAt),
			formatSeconds(st.Elapsed))
	} else if st.Remaining > 0 {
		_, _ = fmt.Fprintf(r.out, "  %-10s ~%s\n",
			r.styles.Label.Render("remaining:"), formatSeconds(st.Remaining))
	}
	if st.Error != "" {
		_, _ = fmt.Fprintf(r.out, "  %-10s %s\n",
			r.styles.Label.Render("error:"), r.styles.Error.Render(st.Error))
	}
}

// RenderQueue prints the processing queue table with counters.
func (r *Renderer) RenderQueue(items []status.ProcessingStatus, active, completed, failed int) {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Processing Queue"))

	if len(items) == 0 {
		_, _ = fmt.Fprintln(r.out, "  queue is empty")
	}
	for _, st := range items {
		line := fmt.Sprintf("%s %-18s %3.0f%%  %s",
			r.stateIcon(st.State), st.State, st.Progress*100,
			truncatePath(st.Filename, 40))
		_, _ = fmt.Fprintf(r.out, "  %s  %s\n", line, r.styles.Dim.Render(shortID(st.DocID)))
	}

	_, _ = fmt.Fprintln(r.out)
	_, _ = fmt.Fprintf(r.out, "  %s %d   %s %d   %s %d\n",
		r.styles.Label.Render("active:"), active,
		r.styles.Label.Render("completed:"), completed,
		r.styles.Label.Render("failed:"), failed)
}

// RenderHealth prints the service health summary.
func (r *Renderer) RenderHealth(ok bool, collections map[string]int) {
	state := r.styles.Success.Render("healthy")
	if !ok {
		state = r.styles.Error.Render("unhealthy")
	}
	_, _ = fmt.Fprintf(r.out, "%s %s\n", r.styles.Header.Render("Service:"), state)
	for _, name := range []string{"visual", "text"} {
		if n, exists := collections[name]; exists {
			_, _ = fmt.Fprintf(r.out, "  %-8s %d records\n", r.styles.Label.Render(name+":"), n)
		}
	}
}

// RenderResults prints ranked search results.
func (r *Renderer) RenderResults(query string, resp search.Response, elapsed time.Duration) {
	header := fmt.Sprintf("%d results for %q", len(resp.Results), query)
	if elapsed > 0 {
		header += fmt.Sprintf(" (%s)", elapsed.Round(time.Millisecond))
	}
	_, _ = fmt.Fprintf(r.out, "%s\n", r.styles.Header.Render(header))
	if resp.Partial {
		_, _ = fmt.Fprintf(r.out, "%s\n",
			r.styles.Warning.Render("partial results: a search stage missed its deadline"))
	}
	_, _ = fmt.Fprintln(r.out)

	for i, res := range resp.Results {
		rank := r.styles.Active.Render(fmt.Sprintf("%2d.", i+1))
		score := r.styles.Score.Render(fmt.Sprintf("%.4f", res.Score))
		_, _ = fmt.Fprintf(r.out, "%s %s  %s\n",
			rank, r.styles.Filename.Render(res.Meta.Filename), score)
		_, _ = fmt.Fprintf(r.out, "    %s %s\n",
			r.styles.Dim.Render(describeRecord(res.Kind, res.Index, res.Meta.PageNumber)),
			r.styles.Dim.Render(shortID(res.DocID)))
		if res.Evidence != nil {
			_, _ = fmt.Fprintf(r.out, "    %s %s\n",
				r.styles.Label.Render("also:"),
				describeRecord(res.Evidence.Kind, res.Evidence.Index, res.Evidence.Meta.PageNumber))
		}
	}
}

func (r *Renderer) stateIcon(s status.State) string {
	switch s {
	case status.StateCompleted:
		return r.styles.Success.Render("✓")
	case status.StateFailed:
		return r.styles.Error.Render("✗")
	case status.StateQueued:
		return r.styles.Dim.Render("·")
	default:
		return r.styles.Active.Render("▸")
	}
}

func (r *Renderer) renderState(s status.State) string {
	switch s {
	case status.StateCompleted:
		return r.styles.Success.Render(string(s))
	case status.StateFailed:
		return r.styles.Error.Render(string(s))
	default:
		return r.styles.Active.Render(string(s))
	}
}

// describeRecord names a hit's source: "page 3" or "chunk 7 (page 2)".
func describeRecord(kind store.Collection, index, page int) string {
	if kind == store.CollectionVisual {
		return fmt.Sprintf("page %d", index)
	}
	if page > 0 {
		return fmt.Sprintf("chunk %d (page %d)", index, page)
	}
	return fmt.Sprintf("chunk %d", index)
}

func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}

// formatAgo renders a time relative to now.
func formatAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	diff := time.Since(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("2006-01-02 15:04")
	}
}

func formatSeconds(s float64) string {
	return FormatDuration(time.Duration(s * float64(time.Second)))
}

// FormatDuration renders a duration in a compact human form.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", h, m)
}

// FormatBytes renders byte counts in human form.
func FormatBytes(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// truncatePath shortens a path to maxLen keeping the filename visible.
func truncatePath(path string, maxLen int) string {
	if path == "" || len(path) <= maxLen {
		return path
	}
	parts := strings.Split(path, "/")
	if len(parts) == 1 {
		if maxLen < 4 {
			return "..."
		}
		return "..." + path[len(path)-maxLen+3:]
	}
	filename := parts[len(parts)-1]
	if len(filename)+4 > maxLen {
		return "..." + filename[len(filename)-maxLen+3:]
	}
	remaining := maxLen - len(filename) - 4
	prefix := strings.Join(parts[:len(parts)-1], "/")
	if len(prefix) <= remaining {
		return path
	}
	return "..." + prefix[len(prefix)-remaining:] + "/" + filename
}
