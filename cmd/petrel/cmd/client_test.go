package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrel-search/petrel/internal/config"
	"github.com/petrel-search/petrel/internal/search"
	"github.com/petrel-search/petrel/internal/server"
	"github.com/petrel-search/petrel/internal/status"
)

// newTestAPI spins up a fake petrel server with canned handlers.
func newTestAPI(t *testing.T, handlers map[string]http.HandlerFunc) *apiClient {
	t.Helper()

	mux := http.NewServeMux()
	for pattern, h := range handlers {
		mux.HandleFunc(pattern, h)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return newAPIClient(srv.URL)
}

func writeTestJSON(t *testing.T, w http.ResponseWriter, code int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestClient_IsRunning(t *testing.T) {
	// Given: a server answering on the health endpoint
	client := newTestAPI(t, map[string]http.HandlerFunc{
		"/status/health": func(w http.ResponseWriter, r *http.Request) {
			writeTestJSON(t, w, http.StatusOK, server.HealthResponse{OK: true})
		},
	})

	// Then: the probe reports it running
	assert.True(t, client.IsRunning())
}

func TestClient_IsRunning_NoServer(t *testing.T) {
	client := newAPIClient("http://127.0.0.1:1")
	assert.False(t, client.IsRunning())
}

func TestClient_Process(t *testing.T) {
	// Given: a server accepting submissions
	var got server.ProcessRequest
	client := newTestAPI(t, map[string]http.HandlerFunc{
		"/process": func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			writeTestJSON(t, w, http.StatusAccepted, server.ProcessResponse{
				DocID:  "abc123",
				Status: "queued",
			})
		},
	})

	// When: submitting a file
	resp, err := client.Process(context.Background(), "/tmp/report.pdf", "report.pdf")

	// Then: the request carries the path and the response decodes
	require.NoError(t, err)
	assert.Equal(t, "/tmp/report.pdf", got.FilePath)
	assert.Equal(t, "report.pdf", got.Filename)
	assert.Equal(t, "abc123", resp.DocID)
	assert.Equal(t, "queued", resp.Status)
}

func TestClient_Search(t *testing.T) {
	client := newTestAPI(t, map[string]http.HandlerFunc{
		"/search": func(w http.ResponseWriter, r *http.Request) {
			var req server.SearchRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "tax form", req.Query)
			assert.Equal(t, 5, req.K)

			writeTestJSON(t, w, http.StatusOK, search.Response{
				Results: []search.Result{
					{DocID: "doc1", Score: 0.9},
				},
			})
		},
	})

	resp, err := client.Search(context.Background(), server.SearchRequest{
		Query: "tax form",
		K:     5,
	})

	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "doc1", resp.Results[0].DocID)
	assert.False(t, resp.Partial)
}

func TestClient_Status(t *testing.T) {
	client := newTestAPI(t, map[string]http.HandlerFunc{
		"/status/doc42": func(w http.ResponseWriter, r *http.Request) {
			writeTestJSON(t, w, http.StatusOK, status.ProcessingStatus{
				DocID:    "doc42",
				Filename: "a.pdf",
				State:    status.StateParsing,
				Progress: 0.2,
			})
		},
	})

	st, err := client.Status(context.Background(), "doc42")

	require.NoError(t, err)
	assert.Equal(t, "doc42", st.DocID)
	assert.Equal(t, status.StateParsing, st.State)
}

func TestClient_Queue(t *testing.T) {
	client := newTestAPI(t, map[string]http.HandlerFunc{
		"/status/queue": func(w http.ResponseWriter, r *http.Request) {
			writeTestJSON(t, w, http.StatusOK, server.QueueResponse{
				Queue:     []status.ProcessingStatus{{DocID: "d1"}, {DocID: "d2"}},
				Total:     2,
				Active:    1,
				Completed: 1,
			})
		},
	})

	queue, err := client.Queue(context.Background())

	require.NoError(t, err)
	assert.Len(t, queue.Queue, 2)
	assert.Equal(t, 1, queue.Active)
	assert.Equal(t, 1, queue.Completed)
}

func TestClient_Cancel(t *testing.T) {
	client := newTestAPI(t, map[string]http.HandlerFunc{
		"/cancel/doc9": func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			writeTestJSON(t, w, http.StatusOK, server.CancelResponse{
				DocID:     "doc9",
				Cancelled: true,
			})
		},
	})

	resp, err := client.Cancel(context.Background(), "doc9")

	require.NoError(t, err)
	assert.True(t, resp.Cancelled)
}

func TestClient_DecodesErrorEnvelope(t *testing.T) {
	// Given: a server rejecting the document
	client := newTestAPI(t, map[string]http.HandlerFunc{
		"/status/missing": func(w http.ResponseWriter, r *http.Request) {
			writeTestJSON(t, w, http.StatusNotFound, map[string]any{
				"error": "document not found",
				"code":  "DOCUMENT_NOT_FOUND",
			})
		},
	})

	// When: fetching an unknown document
	_, err := client.Status(context.Background(), "missing")

	// Then: the envelope surfaces as a typed error
	require.Error(t, err)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "DOCUMENT_NOT_FOUND", apiErr.Code)
	assert.Contains(t, apiErr.Error(), "document not found")
	assert.Contains(t, apiErr.Error(), "DOCUMENT_NOT_FOUND")
}

func TestClient_NonJSONError(t *testing.T) {
	client := newTestAPI(t, map[string]http.HandlerFunc{
		"/status/queue": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream exploded"))
		},
	})

	_, err := client.Queue(context.Background())

	require.Error(t, err)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "502")
}

func TestClient_ContextCancellation(t *testing.T) {
	// Given: a server that never answers in time
	client := newTestAPI(t, map[string]http.HandlerFunc{
		"/status/queue": func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Queue(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResolveServer(t *testing.T) {
	cfg := config.NewConfig()

	t.Run("defaults to config bind address", func(t *testing.T) {
		serverAddr = ""
		assert.Equal(t, "http://"+cfg.Server.BindAddr, resolveServer(cfg))
	})

	t.Run("flag without scheme gains http", func(t *testing.T) {
		serverAddr = "10.0.0.5:9000"
		defer func() { serverAddr = "" }()
		assert.Equal(t, "http://10.0.0.5:9000", resolveServer(cfg))
	})

	t.Run("flag with scheme kept verbatim", func(t *testing.T) {
		serverAddr = "https://petrel.example.com"
		defer func() { serverAddr = "" }()
		assert.Equal(t, "https://petrel.example.com", resolveServer(cfg))
	})
}
