package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/petrel-search/petrel/internal/config"
	"github.com/petrel-search/petrel/internal/telemetry"
	"github.com/petrel-search/petrel/internal/ui"
)

type statsOptions struct {
	jsonOutput bool
	days       int
	terms      int
}

func newStatsCmd() *cobra.Command {
	var opts statsOptions

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show search telemetry",
		Long: `Show search telemetry collected by the server.

Reads the telemetry database in the data directory directly, so it works
whether or not a server is running. Covers query volume, latency
distribution, mode split, top query terms, and zero-hit queries.`,
		Example: `  # Last 7 days
  petrel stats

  # Last 30 days, as JSON
  petrel stats --days 30 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&opts.days, "days", 7, "Number of days to include")
	cmd.Flags().IntVar(&opts.terms, "terms", 10, "Number of top terms to list")

	return cmd
}

// statsOutput is the JSON shape for petrel stats.
type statsOutput struct {
	Summary    telemetry.Summary                 `json:"summary"`
	ModeCounts map[string]int64                  `json:"mode_counts"`
	Latency    map[telemetry.LatencyBucket]int64 `json:"latency_distribution"`
	TopTerms   []telemetry.TermCount             `json:"top_terms"`
	ZeroHits   []string                          `json:"zero_hit_queries"`
	WindowFrom time.Time                         `json:"window_from"`
	WindowTo   time.Time                         `json:"window_to"`
}

func runStats(cmd *cobra.Command, opts statsOptions) error {
	cfg, err := config.Load(".")
	if err != nil {
		return err
	}

	dbPath := filepath.Join(cfg.Paths.DataDir, "telemetry.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return fmt.Errorf("no telemetry recorded yet in %s, run some searches first", cfg.Paths.DataDir)
	}

	tstore, err := telemetry.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open telemetry store: %w", err)
	}
	defer func() { _ = tstore.Close() }()

	to := time.Now()
	from := to.AddDate(0, 0, -opts.days)

	out, err := collectStats(tstore, from, to, opts.terms)
	if err != nil {
		return err
	}

	if opts.jsonOutput {
		return ui.NewRenderer(cmd.OutOrStdout(), true).RenderJSON(out)
	}
	renderStats(cmd, out, opts.days)
	return nil
}

func collectStats(tstore *telemetry.Store, from, to time.Time, termLimit int) (statsOutput, error) {
	out := statsOutput{WindowFrom: from, WindowTo: to}

	summary, err := tstore.Summary(from, to)
	if err != nil {
		return out, fmt.Errorf("read summary: %w", err)
	}
	out.Summary = summary

	out.ModeCounts, err = tstore.ModeCounts(from, to)
	if err != nil {
		return out, fmt.Errorf("read mode counts: %w", err)
	}

	out.Latency, err = tstore.LatencyBuckets(from, to)
	if err != nil {
		return out, fmt.Errorf("read latency buckets: %w", err)
	}

	out.TopTerms, err = tstore.TopTerms(termLimit)
	if err != nil {
		return out, fmt.Errorf("read top terms: %w", err)
	}

	out.ZeroHits, err = tstore.ZeroHitQueries(10)
	if err != nil {
		return out, fmt.Errorf("read zero-hit queries: %w", err)
	}

	return out, nil
}

func renderStats(cmd *cobra.Command, out statsOutput, days int) {
	w := ui.NewWriter(cmd.OutOrStdout(), ui.DetectNoColor())

	w.Statusf("", "Search telemetry, last %d days", days)
	w.Newline()

	w.Label("queries", fmt.Sprintf("%d", out.Summary.Count))
	w.Label("mean latency", fmt.Sprintf("%.1f ms", out.Summary.MeanLatencyMs))
	w.Label("p95 latency", fmt.Sprintf("%.1f ms", out.Summary.P95LatencyMs))
	w.Label("partial rate", fmt.Sprintf("%.1f%%", out.Summary.PartialRate*100))
	w.Label("cache hit rate", fmt.Sprintf("%.1f%%", out.Summary.CacheHitRate*100))
	w.Label("zero-hit", fmt.Sprintf("%d", out.Summary.ZeroHitCount))
	w.Newline()

	if len(out.ModeCounts) > 0 {
		w.Status("", "By mode:")
		var max int64
		for _, n := range out.ModeCounts {
			if n > max {
				max = n
			}
		}
		for _, mode := range []string{"hybrid", "visual_only", "text_only"} {
			if n, ok := out.ModeCounts[mode]; ok {
				w.Bar(mode, n, max, 30)
			}
		}
		w.Newline()
	}

	if len(out.Latency) > 0 {
		w.Status("", "Latency distribution:")
		var max int64
		for _, n := range out.Latency {
			if n > max {
				max = n
			}
		}
		buckets := []struct {
			bucket telemetry.LatencyBucket
			label  string
		}{
			{telemetry.BucketP10, "<10ms"},
			{telemetry.BucketP50, "<50ms"},
			{telemetry.BucketP100, "<100ms"},
			{telemetry.BucketP500, "<500ms"},
			{telemetry.BucketP1000, ">=500ms"},
		}
		for _, b := range buckets {
			w.Bar(b.label, out.Latency[b.bucket], max, 30)
		}
		w.Newline()
	}

	if len(out.TopTerms) > 0 {
		w.Status("", "Top query terms:")
		for i, tc := range out.TopTerms {
			w.Statusf("", "%2d. %-24s %d", i+1, tc.Term, tc.Count)
		}
		w.Newline()
	}

	if len(out.ZeroHits) > 0 {
		w.Status("", "Recent zero-hit queries:")
		for _, q := range out.ZeroHits {
			w.Statusf("", "  %q", q)
		}
	}
}
