package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/petrel-search/petrel/internal/errors"
	"github.com/petrel-search/petrel/internal/events"
	"github.com/petrel-search/petrel/internal/status"
)

func newStreamServer(t *testing.T) (*Server, *events.Bus[status.ProcessingStatus]) {
	t.Helper()
	bus := events.New[status.ProcessingStatus]()
	t.Cleanup(bus.Close)

	s, err := New(Config{}, Deps{
		Ingestor: &fakeIngestor{},
		Search:   &fakeSearch{},
		Status:   &fakeStatusReader{},
		Store:    &fakeCounter{},
		Bus:      bus,
	})
	require.NoError(t, err)
	return s, bus
}

func waitForSubscribers(t *testing.T, bus *events.Bus[status.ProcessingStatus], n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return bus.Stats().Subscribers == n
	}, 2*time.Second, 10*time.Millisecond)
}

// openStream starts an SSE request and returns a reader over its body.
// The request carries a timeout so a silent stream fails the test
// instead of hanging it.
func openStream(t *testing.T, srv *httptest.Server, path string) *bufio.Reader {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+path, nil)
	require.NoError(t, err)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		resp.Body.Close()
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	return bufio.NewReader(resp.Body)
}

func readSSEEvent(t *testing.T, r *bufio.Reader) status.ProcessingStatus {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var st status.ProcessingStatus
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &st))
		return st
	}
}

func TestStream_DeliversPublishedStatuses(t *testing.T) {
	s, bus := newStreamServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	r := openStream(t, srv, "/status/stream")
	waitForSubscribers(t, bus, 1)

	bus.Publish(status.ProcessingStatus{
		DocID:    "doc1",
		Filename: "report.pdf",
		State:    status.StateParsing,
		Progress: 0.2,
	})

	ev := readSSEEvent(t, r)
	assert.Equal(t, "doc1", ev.DocID)
	assert.Equal(t, "report.pdf", ev.Filename)
	assert.Equal(t, status.StateParsing, ev.State)
	assert.InDelta(t, 0.2, ev.Progress, 1e-9)
}

func TestStream_FiltersByDocID(t *testing.T) {
	s, bus := newStreamServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	r := openStream(t, srv, "/status/stream?doc_id=doc2")
	waitForSubscribers(t, bus, 1)

	bus.Publish(status.ProcessingStatus{DocID: "doc1", State: status.StateParsing})
	bus.Publish(status.ProcessingStatus{DocID: "doc2", State: status.StateStoring})

	ev := readSSEEvent(t, r)
	assert.Equal(t, "doc2", ev.DocID)
	assert.Equal(t, status.StateStoring, ev.State)
}

func TestWebSocket_DeliversPublishedStatuses(t *testing.T) {
	s, bus := newStreamServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/status"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	waitForSubscribers(t, bus, 1)
	bus.Publish(status.ProcessingStatus{DocID: "doc7", State: status.StateEmbeddingVisual})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var st status.ProcessingStatus
	require.NoError(t, conn.ReadJSON(&st))
	assert.Equal(t, "doc7", st.DocID)
	assert.Equal(t, status.StateEmbeddingVisual, st.State)
}

func TestWebSocket_FilterAndDetach(t *testing.T) {
	s, bus := newStreamServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/status?doc_id=doc9"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	waitForSubscribers(t, bus, 1)
	bus.Publish(status.ProcessingStatus{DocID: "doc1", State: status.StateParsing})
	bus.Publish(status.ProcessingStatus{DocID: "doc9", State: status.StateCompleted})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var st status.ProcessingStatus
	require.NoError(t, conn.ReadJSON(&st))
	assert.Equal(t, "doc9", st.DocID)

	conn.Close()
	waitForSubscribers(t, bus, 0)
}

func TestStreams_UnavailableWithoutBus(t *testing.T) {
	s, _ := newTestServer(t, Config{})

	rec := get(s.Handler(), "/status/stream")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	env := decodeInto[errorEnvelope](t, rec)
	assert.Equal(t, perrors.CodeServerError, env.Code)

	rec = get(s.Handler(), "/ws/status")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
