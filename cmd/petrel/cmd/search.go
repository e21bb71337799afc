package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/petrel-search/petrel/internal/config"
	"github.com/petrel-search/petrel/internal/embed"
	"github.com/petrel-search/petrel/internal/search"
	"github.com/petrel-search/petrel/internal/server"
	"github.com/petrel-search/petrel/internal/store"
	"github.com/petrel-search/petrel/internal/ui"
)

type searchOptions struct {
	k          int
	mode       string
	docIDs     []string
	formats    []string
	after      string
	before     string
	jsonOutput bool
	local      bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed documents",
		Long: `Search indexed documents with two-stage hybrid retrieval.

Queries run against a running server when one is up. With --local (or
when no server answers) the command opens the data directory directly
and embeds the query with the static provider; scores are then hash
approximations rather than model embeddings, so expect lower quality.

Modes:
  hybrid       page and chunk results fused per document (default)
  visual_only  rendered page embeddings only
  text_only    text chunk embeddings only`,
		Example: `  petrel search "quarterly revenue chart"
  petrel search "liability clause" --mode text_only -k 5
  petrel search "wiring diagram" --filetype pdf --after 2026-01-01
  petrel search "invoice total" --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearchCmd(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.k, "limit", "k", 0, "Maximum number of results (default from config)")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "", "Search mode: hybrid, visual_only, text_only")
	cmd.Flags().StringSliceVar(&opts.docIDs, "doc", nil, "Restrict to document IDs (repeatable)")
	cmd.Flags().StringSliceVar(&opts.formats, "filetype", nil, "Restrict by file extension (repeatable, e.g. pdf)")
	cmd.Flags().StringVar(&opts.after, "after", "", "Only documents ingested on or after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.before, "before", "", "Only documents ingested on or before this date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&opts.local, "local", false, "Search the data directory directly (bypass server)")

	return cmd
}

func runSearchCmd(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	cfg, err := config.Load(".")
	if err != nil {
		return err
	}

	filters, err := buildFilters(opts)
	if err != nil {
		return err
	}
	if _, err := search.ParseMode(opts.mode); err != nil {
		return err
	}

	renderer := ui.NewRenderer(cmd.OutOrStdout(), ui.DetectNoColor())
	out := ui.NewWriter(cmd.OutOrStdout(), ui.DetectNoColor())

	client := newAPIClient(resolveServer(cfg))
	if !opts.local && client.IsRunning() {
		started := time.Now()
		resp, err := client.Search(ctx, server.SearchRequest{
			Query:   query,
			K:       opts.k,
			Mode:    opts.mode,
			Filters: filters,
		})
		if err == nil {
			return renderSearch(renderer, query, resp, time.Since(started), opts.jsonOutput)
		}
		slog.Warn("server search failed, falling back to local",
			slog.String("error", err.Error()))
		out.Warning("server unavailable, searching locally with static embeddings")
	}

	return runLocalSearch(ctx, renderer, cfg, query, opts, filters)
}

// runLocalSearch opens the data directory directly and searches with the
// static provider. Read-only from the store's point of view; the data
// directory lock stays with the server.
func runLocalSearch(ctx context.Context, renderer *ui.Renderer, cfg *config.Config, query string, opts searchOptions, filters search.Filters) error {
	logger := slog.Default()

	embedder, err := embed.New(ctx, embed.Config{
		Provider:  "static",
		Model:     cfg.Embedding.Model,
		Precision: cfg.Embedding.Precision,
		ReprIndex: cfg.Embedding.RepresentativeTokenIndex,
		CacheSize: cfg.Embedding.CacheSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}
	defer func() { _ = embedder.Close() }()

	storeCfg := store.DefaultConfig(cfg.Paths.DataDir, embedder.Dimensions())
	storeCfg.Precision = cfg.Embedding.Precision
	storeCfg.ReprIndex = embedder.ReprIndex()
	st, err := store.Open(ctx, storeCfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	if st.Documents() == 0 {
		return fmt.Errorf("no documents indexed in %s, submit some with 'petrel process'", cfg.Paths.DataDir)
	}

	engine, err := search.New(embedder, st, search.ConfigFrom(cfg), search.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create search engine: %w", err)
	}

	mode, _ := search.ParseMode(opts.mode)
	started := time.Now()
	resp, err := engine.Search(ctx, query, search.Options{
		K:       opts.k,
		Mode:    mode,
		Filters: filters,
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	return renderSearch(renderer, query, resp, time.Since(started), opts.jsonOutput)
}

func renderSearch(renderer *ui.Renderer, query string, resp search.Response, elapsed time.Duration, jsonOutput bool) error {
	if jsonOutput {
		return renderer.RenderJSON(resp)
	}
	renderer.RenderResults(query, resp, elapsed)
	return nil
}

// buildFilters converts the flag values into search filters.
func buildFilters(opts searchOptions) (search.Filters, error) {
	filters := search.Filters{
		DocIDs:  opts.docIDs,
		Formats: opts.formats,
	}

	if opts.after != "" {
		t, err := time.Parse("2006-01-02", opts.after)
		if err != nil {
			return search.Filters{}, fmt.Errorf("invalid --after date %q: use YYYY-MM-DD", opts.after)
		}
		filters.After = t
	}
	if opts.before != "" {
		t, err := time.Parse("2006-01-02", opts.before)
		if err != nil {
			return search.Filters{}, fmt.Errorf("invalid --before date %q: use YYYY-MM-DD", opts.before)
		}
		// Inclusive day bound.
		filters.Before = t.Add(24*time.Hour - time.Nanosecond)
	}
	return filters, nil
}
