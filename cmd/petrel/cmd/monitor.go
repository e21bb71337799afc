package cmd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/petrel-search/petrel/internal/config"
	"github.com/petrel-search/petrel/internal/status"
	"github.com/petrel-search/petrel/internal/ui"
)

const wsReconnectDelay = 2 * time.Second

func newMonitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Live ingestion dashboard",
		Long: `Show a live dashboard of ingestion activity.

Connects to the server's status WebSocket and renders active documents
with progress bars, recently finished documents, and an event-rate
sparkline. Reconnects automatically if the server restarts.

Press q to quit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMonitor(cmd.Context())
		},
	}

	return cmd
}

func runMonitor(ctx context.Context) error {
	cfg, err := config.Load(".")
	if err != nil {
		return err
	}
	client := newAPIClient(resolveServer(cfg))
	if !client.IsRunning() {
		return fmt.Errorf("no petrel server at %s, start one with 'petrel serve'", client.base)
	}

	monitor := ui.NewMonitor(ui.MonitorConfig{
		Output:  os.Stdout,
		NoColor: ui.DetectNoColor(),
		Server:  client.base,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go pumpStatusEvents(ctx, client.base, monitor)

	// Run owns the terminal; the pump feeds it until quit.
	err = monitor.Run()
	cancel()
	return err
}

// pumpStatusEvents keeps a WebSocket to the server's status feed and
// forwards every event to the dashboard, reconnecting on drop.
func pumpStatusEvents(ctx context.Context, base string, monitor *ui.Monitor) {
	wsURL, err := statusWebSocketURL(base)
	if err != nil {
		monitor.SetConnected(false)
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			monitor.SetConnected(false)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wsReconnectDelay):
				continue
			}
		}
		monitor.SetConnected(true)

		readStatusFeed(ctx, conn, monitor)
		monitor.SetConnected(false)
	}
}

// readStatusFeed drains one connection until it breaks or ctx ends.
func readStatusFeed(ctx context.Context, conn *websocket.Conn, monitor *ui.Monitor) {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = conn.Close()
	}()

	for {
		var st status.ProcessingStatus
		if err := conn.ReadJSON(&st); err != nil {
			return
		}
		monitor.Push(st)
	}
}

// statusWebSocketURL converts the HTTP base URL to its WS equivalent.
func statusWebSocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server address: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		if !strings.Contains(base, "://") {
			u.Scheme = "ws"
		}
	}
	u.Path = "/ws/status"
	return u.String(), nil
}
