package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petrel-search/petrel/internal/config"
	"github.com/petrel-search/petrel/internal/ui"
)

func newCancelCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "cancel <doc_id>...",
		Short: "Cancel in-flight document processing",
		Long: `Cancel documents that are queued or being processed.

Cancelled documents end in the failed state with a "cancelled" error and
leave no records in the store. Documents that already completed cannot
be cancelled; remove and re-submit instead.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCancel(cmd.Context(), cmd, args, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runCancel(ctx context.Context, cmd *cobra.Command, docIDs []string, jsonOutput bool) error {
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

	var failed int
	for _, docID := range docIDs {
		resp, err := client.Cancel(ctx, docID)
		if err != nil {
			out.Errorf("%s: %v", docID, err)
			failed++
			continue
		}

		if jsonOutput {
			if err := renderer.RenderJSON(resp); err != nil {
				return err
			}
			continue
		}
		if resp.Cancelled {
			out.Successf("cancelled %s", resp.DocID)
		} else {
			out.Warningf("%s not cancellable (already finished?)", resp.DocID)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d cancellations failed", failed, len(docIDs))
	}
	return nil
}
