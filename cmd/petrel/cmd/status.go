package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petrel-search/petrel/internal/config"
	"github.com/petrel-search/petrel/internal/status"
	"github.com/petrel-search/petrel/internal/ui"
)

type statusOptions struct {
	jsonOutput bool
	follow     bool
	limit      int
}

func newStatusCmd() *cobra.Command {
	var opts statusOptions

	cmd := &cobra.Command{
		Use:   "status [doc_id]",
		Short: "Show processing status",
		Long: `Show the processing status of one document, or the whole queue.

With a doc_id argument, shows that document's progress card. Without
arguments, lists recent submissions with aggregate counts.

--follow streams live status updates until interrupted.`,
		Example: `  # Queue overview
  petrel status

  # One document
  petrel status 4f6e2a91c3b8…

  # Stream every update as it happens
  petrel status --follow

  # Stream updates for one document
  petrel status 4f6e2a91c3b8… --follow`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docID := ""
			if len(args) == 1 {
				docID = args[0]
			}
			return runStatusCmd(cmd.Context(), cmd, docID, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Stream status updates")
	cmd.Flags().IntVar(&opts.limit, "limit", 50, "Maximum queue entries to list")

	return cmd
}

func runStatusCmd(ctx context.Context, cmd *cobra.Command, docID string, opts statusOptions) error {
	cfg, err := config.Load(".")
	if err != nil {
		return err
	}
	client := newAPIClient(resolveServer(cfg))
	if !client.IsRunning() {
		return fmt.Errorf("no petrel server at %s, start one with 'petrel serve'", client.base)
	}

	if opts.follow {
		return followStatus(ctx, cmd, client, docID, opts.jsonOutput)
	}

	renderer := ui.NewRenderer(cmd.OutOrStdout(), ui.DetectNoColor())

	if docID != "" {
		st, err := client.Status(ctx, docID)
		if err != nil {
			return err
		}
		if opts.jsonOutput {
			return renderer.RenderJSON(st)
		}
		renderer.RenderStatus(st)
		return nil
	}

	queue, err := client.Queue(ctx)
	if err != nil {
		return err
	}
	if opts.jsonOutput {
		return renderer.RenderJSON(queue)
	}
	renderer.RenderQueue(queue.Queue, queue.Active, queue.Completed, queue.Failed)
	return nil
}

// followStatus consumes the server-sent event stream and prints one line
// per update. JSON mode emits raw payloads for piping.
func followStatus(ctx context.Context, cmd *cobra.Command, client *apiClient, docID string, jsonOutput bool) error {
	endpoint := client.base + "/status/stream"
	if docID != "" {
		endpoint += "?doc_id=" + url.QueryEscape(docID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// No client timeout: the stream lives until interrupted.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return fmt.Errorf("connect to status stream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	out := ui.NewWriter(cmd.OutOrStdout(), ui.DetectNoColor())
	if !jsonOutput {
		out.Status("▸", "streaming status updates, Ctrl+C to stop")
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}

		if jsonOutput {
			fmt.Fprintln(cmd.OutOrStdout(), payload)
			continue
		}

		var st status.ProcessingStatus
		if err := json.Unmarshal([]byte(payload), &st); err != nil {
			continue
		}
		printStatusLine(out, st)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("status stream: %w", err)
	}
	return nil
}

func printStatusLine(out *ui.Writer, st status.ProcessingStatus) {
	switch st.State {
	case status.StateCompleted:
		out.Successf("%s completed in %.1fs", st.Filename, st.Elapsed)
	case status.StateFailed:
		out.Errorf("%s failed: %s", st.Filename, st.Error)
	default:
		msg := fmt.Sprintf("%s %s %3.0f%%", st.Filename, st.State, st.Progress*100)
		if st.Stage != "" {
			msg += " " + st.Stage
		}
		out.Status("·", msg)
	}
}
