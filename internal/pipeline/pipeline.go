// Package pipeline drives document ingestion end to end: admission,
// parsing, embedding, and storage, with per-stage progress reported
// through the status manager. Documents are identified by the SHA-256
// of their bytes, so resubmitting identical content is cheap and
// re-ingesting changed content replaces the previous records wholesale.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petrel-search/petrel/internal/config"
	"github.com/petrel-search/petrel/internal/embed"
	perrors "github.com/petrel-search/petrel/internal/errors"
	"github.com/petrel-search/petrel/internal/metrics"
	"github.com/petrel-search/petrel/internal/parse"
	"github.com/petrel-search/petrel/internal/status"
	"github.com/petrel-search/petrel/internal/store"
	"github.com/petrel-search/petrel/internal/validate"
)

var (
	// ErrNotStarted reports a Submit before Start.
	ErrNotStarted = errors.New("pipeline: not started")

	// ErrStopped reports a Submit after Stop.
	ErrStopped = errors.New("pipeline: stopped")

	// ErrQueueFull reports a Submit rejected because the queue is at
	// capacity. The document's status is marked failed; resubmitting
	// later starts it fresh.
	ErrQueueFull = errors.New("pipeline: ingestion queue full")
)

// Defaults for unset Config fields.
const (
	DefaultWorkers       = 4
	DefaultQueueCapacity = 256
	DefaultMaxFileSizeMB = 100
	DefaultParseTimeout  = 60 * time.Second
	DefaultEmbedTimeout  = 300 * time.Second
	DefaultStoreTimeout  = 60 * time.Second
)

// Config tunes the pipeline. Zero values fall back to the defaults.
type Config struct {
	// Workers sizes the ingestion pool.
	Workers int

	// QueueCapacity bounds accepted-but-unstarted documents.
	QueueCapacity int

	// MaxFileSizeMB caps accepted upload size.
	MaxFileSizeMB int

	// BatchSizeVisual and BatchSizeText size the embedding batches.
	// Every batch boundary is a progress and cancellation checkpoint.
	BatchSizeVisual int
	BatchSizeText   int

	// ParseTimeout, EmbedTimeout and StoreTimeout bound one attempt of
	// the corresponding stage. A timed-out attempt counts as transient
	// and is retried within the stage budget.
	ParseTimeout time.Duration
	EmbedTimeout time.Duration
	StoreTimeout time.Duration

	// Retry is the per-stage retry budget. Only transient failures are
	// retried. Defaults to StageRetryConfig.
	Retry perrors.RetryConfig
}

// ConfigFrom derives pipeline settings from the application config.
// With the queue disabled the pool shrinks to a single worker, so
// documents process strictly one at a time.
func ConfigFrom(app *config.Config) Config {
	workers := app.Ingest.Workers
	if !app.Ingest.QueueEnabled {
		workers = 1
	}
	return Config{
		Workers:         workers,
		MaxFileSizeMB:   app.Ingest.MaxFileSizeMB,
		BatchSizeVisual: app.Embedding.BatchSizeVisual,
		BatchSizeText:   app.Embedding.BatchSizeText,
		ParseTimeout:    durationOr(app.Ingest.ParseTimeout, DefaultParseTimeout),
		EmbedTimeout:    durationOr(app.Ingest.EmbedTimeout, DefaultEmbedTimeout),
		StoreTimeout:    durationOr(app.Ingest.StoreTimeout, DefaultStoreTimeout),
	}
}

func durationOr(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Parser normalizes a file into pages and chunks. The path's extension
// selects the concrete parser; the bytes are already read.
type Parser interface {
	Parse(ctx context.Context, path string, data []byte) (*parse.Document, error)
}

// Embedder produces one tensor per input. The pipeline drives its own
// batch loop, so implementations see at most a batch per call.
type Embedder interface {
	EmbedImages(ctx context.Context, images [][]byte, batchSize int) ([]embed.Tensor, error)
	EmbedText(ctx context.Context, texts []string, batchSize int) ([]embed.Tensor, error)
}

// VectorStore persists and removes document records.
type VectorStore interface {
	UpsertVisual(ctx context.Context, docID string, embeddings []embed.Tensor, pages []store.PageMeta) error
	UpsertText(ctx context.Context, docID string, embeddings []embed.Tensor, chunks []store.ChunkMeta) error
	Delete(ctx context.Context, docID string) (int, error)
}

// Deps carries the pipeline's collaborators.
type Deps struct {
	Validator *validate.FileValidator
	Status    *status.Manager
	Parser    Parser
	Embedder  Embedder
	Store     VectorStore
	Logger    *slog.Logger
}

// Pipeline accepts documents and processes them on a bounded worker
// pool. Construct with New, then Start, Submit, and finally Stop.
type Pipeline struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	baseCtx context.Context
	queue   chan *task
	wg      sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]*task
	started  bool
	closed   bool
}

// task is one admitted document moving through the stages. The context
// is derived from the pipeline's base context; Cancel and Stop cut it.
type task struct {
	docID     string
	filename  string
	data      []byte
	ctx       context.Context
	cancelFn  context.CancelFunc
	cancelled atomic.Bool
}

// New builds a Pipeline. Start must be called before Submit.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	switch {
	case deps.Validator == nil:
		return nil, fmt.Errorf("pipeline: validator is required")
	case deps.Status == nil:
		return nil, fmt.Errorf("pipeline: status manager is required")
	case deps.Parser == nil:
		return nil, fmt.Errorf("pipeline: parser is required")
	case deps.Embedder == nil:
		return nil, fmt.Errorf("pipeline: embedder is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("pipeline: store is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = DefaultMaxFileSizeMB
	}
	if cfg.BatchSizeVisual <= 0 {
		cfg.BatchSizeVisual = 4
	}
	if cfg.BatchSizeText <= 0 {
		cfg.BatchSizeText = 8
	}
	if cfg.ParseTimeout <= 0 {
		cfg.ParseTimeout = DefaultParseTimeout
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = DefaultEmbedTimeout
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if cfg.Retry == (perrors.RetryConfig{}) {
		cfg.Retry = perrors.StageRetryConfig()
	}
	return &Pipeline{
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger,
		queue:    make(chan *task, cfg.QueueCapacity),
		inflight: make(map[string]*task),
	}, nil
}

// Start launches the worker pool. Tasks derive their lifetime from ctx;
// cancelling it aborts in-flight documents at their next checkpoint.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("pipeline: already started")
	}
	p.started = true
	p.baseCtx = ctx
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.logger.Info("pipeline started",
		slog.Int("workers", p.cfg.Workers),
		slog.Int("queue_capacity", p.cfg.QueueCapacity))
	return nil
}

// Stop refuses new submissions, drains queued documents, and waits for
// in-flight work up to drainTimeout. Documents still running after the
// timeout are cancelled and marked failed.
func (p *Pipeline) Stop(drainTimeout time.Duration) {
	p.mu.Lock()
	if !p.started || p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		p.logger.Warn("drain timeout reached, cancelling in-flight documents",
			slog.Duration("timeout", drainTimeout))
		p.mu.Lock()
		for _, t := range p.inflight {
			t.cancelled.Store(true)
			t.cancelFn()
		}
		p.mu.Unlock()
		<-done
	}
	p.logger.Info("pipeline stopped")
}

// Submit admits one file. The returned snapshot carries the
// content-derived document id and the state after admission: queued for
// fresh work, completed when identical content was already ingested and
// the file is unchanged on disk, failed when validation rejected it (the
// error then carries the rejection code). Concurrent submissions of the
// same content collapse onto the in-flight document.
func (p *Pipeline) Submit(ctx context.Context, path, filename string) (status.ProcessingStatus, error) {
	if err := ctx.Err(); err != nil {
		return status.ProcessingStatus{}, err
	}
	if filename == "" {
		filename = filepath.Base(path)
	}

	info, err := os.Stat(path)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
		return status.ProcessingStatus{}, perrors.InvalidRequest(fmt.Sprintf("cannot read file: %v", err))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
		return status.ProcessingStatus{}, perrors.InvalidRequest(fmt.Sprintf("cannot read file: %v", err))
	}

	docID := DocID(data)
	meta := map[string]string{
		"size":   strconv.Itoa(len(data)),
		"mtime":  strconv.FormatInt(info.ModTime().UnixNano(), 10),
		"format": strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), "."),
	}

	// Admission checks. Rejections leave a brief failed record so the
	// status API can answer for the id.
	if ok, msg := p.deps.Validator.ValidateType(filename); !ok {
		metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
		snap := p.deps.Status.CreateFailed(docID, filename, msg, meta)
		return snap, perrors.UnsupportedFormat(msg)
	}
	if ok, msg := p.deps.Validator.ValidateSize(int64(len(data)), p.cfg.MaxFileSizeMB); !ok {
		metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
		snap := p.deps.Status.CreateFailed(docID, filename, msg, meta)
		return snap, perrors.FileTooLarge(msg)
	}

	// Identical content already ingested and the file untouched: no-op.
	if existing, gerr := p.deps.Status.Get(docID); gerr == nil &&
		existing.State == status.StateCompleted &&
		existing.Metadata["mtime"] == meta["mtime"] {
		metrics.SubmissionsTotal.WithLabelValues("duplicate").Inc()
		return existing, nil
	}

	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return status.ProcessingStatus{}, ErrNotStarted
	}
	if p.closed {
		p.mu.Unlock()
		return status.ProcessingStatus{}, ErrStopped
	}
	if _, ok := p.inflight[docID]; ok {
		p.mu.Unlock()
		metrics.SubmissionsTotal.WithLabelValues("duplicate").Inc()
		if existing, gerr := p.deps.Status.Get(docID); gerr == nil {
			return existing, nil
		}
		return status.ProcessingStatus{DocID: docID, State: status.StateQueued}, nil
	}

	tctx, cancel := context.WithCancel(p.baseCtx)
	t := &task{docID: docID, filename: filename, data: data, ctx: tctx, cancelFn: cancel}
	p.inflight[docID] = t

	snap, cerr := p.deps.Status.Create(docID, filename, meta)
	if cerr != nil {
		// An active record without an in-flight task. Answer with the
		// record rather than racing it.
		delete(p.inflight, docID)
		cancel()
		p.mu.Unlock()
		metrics.SubmissionsTotal.WithLabelValues("duplicate").Inc()
		if existing, gerr := p.deps.Status.Get(docID); gerr == nil {
			return existing, nil
		}
		return status.ProcessingStatus{}, cerr
	}

	select {
	case p.queue <- t:
		p.mu.Unlock()
		metrics.SubmissionsTotal.WithLabelValues("accepted").Inc()
		metrics.QueueDepth.Inc()
		p.logger.Info("document accepted",
			slog.String("doc_id", docID),
			slog.String("filename", filename),
			slog.Int("bytes", len(data)))
		return snap, nil
	default:
		delete(p.inflight, docID)
		cancel()
		p.mu.Unlock()
		metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
		if _, ferr := p.deps.Status.MarkFailed(docID, "ingestion queue full"); ferr != nil {
			p.logger.Warn("failure status update rejected",
				slog.String("doc_id", docID), slog.String("error", ferr.Error()))
		}
		return status.ProcessingStatus{}, ErrQueueFull
	}
}

// Cancel requests cooperative cancellation of a queued or running
// document. The worker honors it at the next stage or batch boundary,
// removing any stored records and marking the status failed. Unknown or
// already-terminal ids are a no-op and return false.
func (p *Pipeline) Cancel(docID string) bool {
	p.mu.Lock()
	t, ok := p.inflight[docID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	t.cancelled.Store(true)
	t.cancelFn()
	p.logger.Info("cancellation requested", slog.String("doc_id", docID))
	return true
}

// InFlight reports how many documents are queued or processing.
func (p *Pipeline) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inflight)
}

// DocID derives the content-addressed document id: the lowercase hex
// SHA-256 of the file bytes.
func DocID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
