package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/petrel-search/petrel/internal/config"
	"github.com/petrel-search/petrel/internal/status"
	"github.com/petrel-search/petrel/internal/ui"
)

const waitPollInterval = 500 * time.Millisecond

type processOptions struct {
	wait       bool
	jsonOutput bool
}

func newProcessCmd() *cobra.Command {
	var opts processOptions

	cmd := &cobra.Command{
		Use:   "process <path>...",
		Short: "Submit documents for ingestion",
		Long: `Submit one or more files to a running petrel server.

The server reads each file from the given path, so paths must be
reachable from the server process. Relative paths are resolved against
the current directory before submission.

With --wait the command polls each document until it completes or fails.`,
		Example: `  # Submit two files
  petrel process report.pdf slides.pptx

  # Submit and block until ingestion finishes
  petrel process --wait contract.pdf`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd.Context(), cmd, args, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.wait, "wait", "w", false, "Wait for ingestion to finish")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runProcess(ctx context.Context, cmd *cobra.Command, paths []string, opts processOptions) error {
	cfg, err := config.Load(".")
	if err != nil {
		return err
	}
	client := newAPIClient(resolveServer(cfg))
	if !client.IsRunning() {
		return fmt.Errorf("no petrel server at %s, start one with 'petrel serve'", client.base)
	}

	out := ui.NewWriter(cmd.OutOrStdout(), ui.DetectNoColor())
	renderer := ui.NewRenderer(cmd.OutOrStdout(), ui.DetectNoColor())

	var submitted []string
	var failed int
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			out.Errorf("%s: %v", path, err)
			failed++
			continue
		}

		resp, err := client.Process(ctx, abs, filepath.Base(abs))
		if err != nil {
			out.Errorf("%s: %v", path, err)
			failed++
			continue
		}

		if opts.jsonOutput {
			if err := renderer.RenderJSON(resp); err != nil {
				return err
			}
		} else {
			out.Statusf("▸", "%s queued as %s", filepath.Base(abs), resp.DocID[:12])
		}
		submitted = append(submitted, resp.DocID)
	}

	if opts.wait {
		for _, docID := range submitted {
			final, err := waitForDocument(ctx, client, docID, out, opts.jsonOutput)
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				if err := renderer.RenderJSON(final); err != nil {
					return err
				}
				continue
			}
			renderer.RenderStatus(final)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d submissions failed", failed, len(paths))
	}
	return nil
}

// waitForDocument polls the server until the document reaches a terminal
// state. Progress is drawn in place on a TTY.
func waitForDocument(ctx context.Context, client *apiClient, docID string, out *ui.Writer, quiet bool) (status.ProcessingStatus, error) {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		st, err := client.Status(ctx, docID)
		if err != nil {
			var apiErr *apiError
			if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
				return status.ProcessingStatus{}, fmt.Errorf("document %s expired from status tracking", docID)
			}
			return status.ProcessingStatus{}, err
		}
		if st.State.Terminal() {
			if !quiet {
				out.Newline()
			}
			return st, nil
		}

		if !quiet {
			out.Progress(int(st.Progress*100), 100,
				fmt.Sprintf("%s %s", st.Filename, st.State))
		}

		select {
		case <-ctx.Done():
			return status.ProcessingStatus{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
