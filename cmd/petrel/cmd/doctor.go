package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/petrel-search/petrel/internal/config"
	"github.com/petrel-search/petrel/internal/preflight"
	"github.com/petrel-search/petrel/internal/ui"
)

type doctorOptions struct {
	verbose    bool
	jsonOutput bool
	offline    bool
	force      bool
}

func newDoctorCmd() *cobra.Command {
	var opts doctorOptions

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system requirements and diagnose issues",
		Long: `Run system diagnostics to ensure petrel can operate correctly.

Checks:
  - Data and upload directories writable
  - Disk space (500MB minimum)
  - Memory availability (1GB minimum)
  - File descriptor limits (1024 minimum)
  - Inference device availability
  - Embedding service reachability

Embedding service checks are warnings unless the provider is pinned to
colpali, in which case serve would refuse to start.`,
		Example: `  # Run diagnostics
  petrel doctor

  # Skip the embedding service probe
  petrel doctor --offline

  # JSON output for scripting
  petrel doctor --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&opts.offline, "offline", false, "Skip network probes")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Clear the preflight marker and re-check")

	return cmd
}

func runDoctor(cmd *cobra.Command, opts doctorOptions) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(".")
	if err != nil {
		return err
	}

	if opts.force {
		if err := preflight.ClearMarker(cfg.Paths.DataDir); err != nil {
			return fmt.Errorf("clear preflight marker: %w", err)
		}
	}

	checker := preflight.New(
		preflight.WithOffline(opts.offline),
		preflight.WithVerbose(opts.verbose),
		preflight.WithOutput(cmd.OutOrStdout()),
	)
	results := checker.RunAll(ctx, cfg)

	if opts.jsonOutput {
		return doctorJSON(cmd, checker, results)
	}

	checker.PrintResults(results)

	if !preflight.NeedsCheck(cfg.Paths.DataDir) {
		if age := preflight.MarkerAge(cfg.Paths.DataDir); age > 0 {
			out := ui.NewWriter(cmd.OutOrStdout(), ui.DetectNoColor())
			out.Newline()
			out.Statusf("", "Last successful check: %s ago", ui.FormatDuration(age))
		}
	}

	if checker.HasCriticalFailures(results) {
		return fmt.Errorf("system check failed")
	}
	return nil
}

// doctorReport is the JSON shape for petrel doctor.
type doctorReport struct {
	Status string              `json:"status"`
	Checks []doctorCheckResult `json:"checks"`
}

type doctorCheckResult struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	Required bool   `json:"required"`
	Details  string `json:"details,omitempty"`
}

func doctorJSON(cmd *cobra.Command, checker *preflight.Checker, results []preflight.CheckResult) error {
	report := doctorReport{
		Status: checker.SummaryStatus(results),
		Checks: make([]doctorCheckResult, len(results)),
	}
	for i, r := range results {
		report.Checks[i] = doctorCheckResult{
			Name:     r.Name,
			Status:   r.Status.String(),
			Message:  r.Message,
			Required: r.Required,
			Details:  r.Details,
		}
	}

	if err := ui.NewRenderer(cmd.OutOrStdout(), true).RenderJSON(report); err != nil {
		return err
	}
	if checker.HasCriticalFailures(results) {
		return fmt.Errorf("system check failed")
	}
	return nil
}
