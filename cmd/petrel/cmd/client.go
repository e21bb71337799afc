package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/petrel-search/petrel/internal/config"
	"github.com/petrel-search/petrel/internal/search"
	"github.com/petrel-search/petrel/internal/server"
	"github.com/petrel-search/petrel/internal/status"
)

const (
	// clientTimeout bounds ordinary API calls. Searches get longer
	// because the server's own stage deadlines already cap them.
	clientTimeout = 10 * time.Second
	searchTimeout = 30 * time.Second
	probeTimeout  = 2 * time.Second
)

// apiClient talks to a running petrel server over its HTTP API.
type apiClient struct {
	base string
	http *http.Client
}

// newAPIClient creates a client for the given base URL, e.g.
// "http://127.0.0.1:8093".
func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: clientTimeout},
	}
}

// resolveServer picks the API address: the --server flag when set,
// otherwise the configured bind address.
func resolveServer(cfg *config.Config) string {
	if serverAddr != "" {
		if strings.Contains(serverAddr, "://") {
			return serverAddr
		}
		return "http://" + serverAddr
	}
	return "http://" + cfg.Server.BindAddr
}

// apiError is a decoded error envelope from the server.
type apiError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]string
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return e.Message
}

// IsRunning reports whether a server answers on the health endpoint.
func (c *apiClient) IsRunning() bool {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/status/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Health fetches collection counts from the server.
func (c *apiClient) Health(ctx context.Context) (server.HealthResponse, error) {
	var out server.HealthResponse
	err := c.do(ctx, http.MethodGet, "/status/health", nil, &out)
	return out, err
}

// Process submits a file for ingestion.
func (c *apiClient) Process(ctx context.Context, filePath, filename string) (server.ProcessResponse, error) {
	var out server.ProcessResponse
	req := server.ProcessRequest{FilePath: filePath, Filename: filename}
	err := c.do(ctx, http.MethodPost, "/process", req, &out)
	return out, err
}

// Search runs a query on the server.
func (c *apiClient) Search(ctx context.Context, req server.SearchRequest) (search.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	var out search.Response
	err := c.do(ctx, http.MethodPost, "/search", req, &out)
	return out, err
}

// Status fetches the processing status for one document.
func (c *apiClient) Status(ctx context.Context, docID string) (status.ProcessingStatus, error) {
	var out status.ProcessingStatus
	err := c.do(ctx, http.MethodGet, "/status/"+url.PathEscape(docID), nil, &out)
	return out, err
}

// Queue fetches the queue listing with aggregate counts.
func (c *apiClient) Queue(ctx context.Context) (server.QueueResponse, error) {
	var out server.QueueResponse
	err := c.do(ctx, http.MethodGet, "/status/queue", nil, &out)
	return out, err
}

// Cancel aborts an in-flight document.
func (c *apiClient) Cancel(ctx context.Context, docID string) (server.CancelResponse, error) {
	var out server.CancelResponse
	err := c.do(ctx, http.MethodPost, "/cancel/"+url.PathEscape(docID), nil, &out)
	return out, err
}

// do runs one request and decodes the JSON response into out. Non-2xx
// responses decode the error envelope into an *apiError.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &apiError{StatusCode: resp.StatusCode}

	var envelope struct {
		Error   string            `json:"error"`
		Code    string            `json:"code"`
		Details map[string]string `json:"details,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error != "" {
		apiErr.Message = envelope.Error
		apiErr.Code = envelope.Code
		apiErr.Details = envelope.Details
	} else {
		apiErr.Message = fmt.Sprintf("server returned %s", resp.Status)
	}
	return apiErr
}
