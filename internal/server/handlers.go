package server

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	perrors "github.com/petrel-search/petrel/internal/errors"
	"github.com/petrel-search/petrel/internal/search"
	"github.com/petrel-search/petrel/internal/status"
	"github.com/petrel-search/petrel/internal/store"
)

// Request bodies are metadata only (files arrive by path), so a small
// cap is plenty.
const maxBodyBytes = 1 << 20

// ProcessRequest submits one file for ingestion. Filename defaults to
// the path's base name; it carries the extension when the path is a
// temp upload name.
type ProcessRequest struct {
	FilePath string `json:"file_path"`
	Filename string `json:"filename,omitempty"`
}

// ProcessResponse acknowledges a submission.
type ProcessResponse struct {
	DocID  string `json:"doc_id"`
	Status string `json:"status"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.FilePath) == "" {
		writeBadRequest(w, "file_path is required")
		return
	}
	if req.Filename == "" {
		req.Filename = filepath.Base(req.FilePath)
	}

	st, err := s.deps.Ingestor.Submit(r.Context(), req.FilePath, req.Filename)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ProcessResponse{
		DocID:  st.DocID,
		Status: string(st.State),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "doc_id")

	st, err := s.deps.Status.Get(docID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// QueueResponse lists tracked documents most recently updated first.
type QueueResponse struct {
	Queue     []status.ProcessingStatus `json:"queue"`
	Total     int                       `json:"total"`
	Active    int                       `json:"active"`
	Completed int                       `json:"completed"`
	Failed    int                       `json:"failed"`
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	var filter status.State
	if v := r.URL.Query().Get("status"); v != "" {
		filter = status.State(v)
		if !filter.Valid() {
			writeBadRequest(w, "unknown status filter: "+v)
			return
		}
	}

	all := s.deps.Status.ListAll(0)
	queue := make([]status.ProcessingStatus, 0, len(all))
	for _, st := range all {
		if filter != "" && st.State != filter {
			continue
		}
		queue = append(queue, st)
		if limit > 0 && len(queue) == limit {
			break
		}
	}

	counts := s.deps.Status.CountByState()
	completed := counts[status.StateCompleted]
	failed := counts[status.StateFailed]
	total := 0
	for _, n := range counts {
		total += n
	}

	writeJSON(w, http.StatusOK, QueueResponse{
		Queue:     queue,
		Total:     total,
		Active:    total - completed - failed,
		Completed: completed,
		Failed:    failed,
	})
}

// HealthResponse reports liveness and store sizes.
type HealthResponse struct {
	OK          bool           `json:"ok"`
	Collections map[string]int `json:"collections"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		OK: true,
		Collections: map[string]int{
			string(store.CollectionVisual): s.deps.Store.Count(store.CollectionVisual),
			string(store.CollectionText):   s.deps.Store.Count(store.CollectionText),
		},
	})
}

// SearchRequest carries one query.
type SearchRequest struct {
	Query   string         `json:"query"`
	K       int            `json:"k,omitempty"`
	Mode    string         `json:"mode,omitempty"`
	Filters search.Filters `json:"filters,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !decodeBody(w, r, &req) {
		return
	}

	mode, err := search.ParseMode(req.Mode)
	if err != nil {
		writeError(w, err)
		return
	}

	resp, err := s.deps.Search.Search(r.Context(), req.Query, search.Options{
		K:       req.K,
		Mode:    mode,
		Filters: req.Filters,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// CancelResponse acknowledges a cancellation request. Cancelled is
// false when the document was not in flight.
type CancelResponse struct {
	DocID     string `json:"doc_id"`
	Cancelled bool   `json:"cancelled"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "doc_id")

	cancelled := s.deps.Ingestor.Cancel(docID)
	writeJSON(w, http.StatusAccepted, CancelResponse{
		DocID:     docID,
		Cancelled: cancelled,
	})
}

// decodeBody reads a JSON body with a size cap. Returns false after
// writing the error response.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, perrors.InvalidRequest("invalid request body"))
		return false
	}
	return true
}
