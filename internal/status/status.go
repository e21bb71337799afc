// Package status tracks per-document ingestion state. One manager owns
// every ProcessingStatus record from creation until TTL cleanup; reads
// always copy out, writes validate the lifecycle state machine and then
// notify subscribers once the state lock is released.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// State is an ingestion lifecycle state.
type State string

const (
	StateQueued          State = "queued"
	StateParsing         State = "parsing"
	StateEmbeddingVisual State = "embedding_visual"
	StateEmbeddingText   State = "embedding_text"
	StateStoring         State = "storing"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
)

// Terminal reports whether the state ends a document's lifecycle.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateQueued, StateParsing, StateEmbeddingVisual, StateEmbeddingText,
		StateStoring, StateCompleted, StateFailed:
		return true
	}
	return false
}

// forward lists the legal forward transitions. Failure is handled
// separately: any non-terminal state may fail (cancellation and admission
// errors use that edge).
var forward = map[State][]State{
	StateQueued:          {StateParsing},
	StateParsing:         {StateEmbeddingVisual, StateEmbeddingText},
	StateEmbeddingVisual: {StateEmbeddingText},
	StateEmbeddingText:   {StateStoring},
	StateStoring:         {StateCompleted},
}

// canTransition reports whether from → to is legal. Self-loops on
// non-terminal states carry progress updates within a stage.
func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	if from == to {
		return true
	}
	for _, next := range forward[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Manager errors. Callers treat all of them as recoverable.
var (
	ErrNotFound          = errors.New("status: unknown document")
	ErrActiveExists      = errors.New("status: document already being processed")
	ErrInvalidTransition = errors.New("status: invalid state transition")
	ErrInvalidProgress   = errors.New("status: progress out of range")
	ErrInvalidState      = errors.New("status: unknown state")
)

// ProcessingStatus is an immutable snapshot of one document's progress.
type ProcessingStatus struct {
	DocID       string            `json:"doc_id"`
	Filename    string            `json:"filename"`
	State       State             `json:"state"`
	Progress    float64           `json:"progress"`
	Stage       string            `json:"stage,omitempty"`
	Page        int               `json:"page,omitempty"`
	TotalPages  int               `json:"total_pages,omitempty"`
	Chunk       int               `json:"chunk,omitempty"`
	TotalChunks int               `json:"total_chunks,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Elapsed     float64           `json:"elapsed_seconds"`
	Remaining   float64           `json:"estimated_remaining_seconds,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// record is the manager-private mutable form.
type record struct {
	docID       string
	filename    string
	state       State
	progress    float64
	stage       string
	page        int
	totalPages  int
	chunk       int
	totalChunks int
	startedAt   time.Time
	updatedAt   time.Time
	completedAt time.Time
	metadata    map[string]string
	errMsg      string
}

func (r *record) snapshot(now time.Time) ProcessingStatus {
	snap := ProcessingStatus{
		DocID:       r.docID,
		Filename:    r.filename,
		State:       r.state,
		Progress:    r.progress,
		Stage:       r.stage,
		Page:        r.page,
		TotalPages:  r.totalPages,
		Chunk:       r.chunk,
		TotalChunks: r.totalChunks,
		StartedAt:   r.startedAt,
		UpdatedAt:   r.updatedAt,
		Error:       r.errMsg,
	}

	if len(r.metadata) > 0 {
		snap.Metadata = make(map[string]string, len(r.metadata))
		for k, v := range r.metadata {
			snap.Metadata[k] = v
		}
	}

	end := now
	if r.state.Terminal() {
		end = r.updatedAt
		if !r.completedAt.IsZero() {
			end = r.completedAt
			t := r.completedAt
			snap.CompletedAt = &t
		}
	}
	snap.Elapsed = end.Sub(r.startedAt).Seconds()
	if snap.Elapsed < 0 {
		snap.Elapsed = 0
	}

	if !r.state.Terminal() && r.progress > 0 && r.progress < 1 {
		snap.Remaining = snap.Elapsed * (1 - r.progress) / r.progress
	}

	return snap
}

// Manager tracks every active and recently finished document.
type Manager struct {
	// emitMu serializes notifications so subscribers observe writes in
	// the order they were applied. Always taken before mu.
	emitMu sync.Mutex
	mu     sync.RWMutex

	statuses map[string]*record
	notify   func(ProcessingStatus)
	logger   *slog.Logger
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithNotifier sets the callback invoked after each write; typically the
// event bus Publish. Never called while the state lock is held.
func WithNotifier(fn func(ProcessingStatus)) Option {
	return func(m *Manager) { m.notify = fn }
}

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithTTL sets how long terminal entries are retained.
func WithTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithCleanupInterval sets the background sweep period.
func WithCleanupInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// withClock overrides time for tests.
func withClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a status manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		statuses: make(map[string]*record),
		logger:   slog.Default(),
		ttl:      time.Hour,
		interval: 15 * time.Minute,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create registers a document in the queued state. An existing terminal
// record for the same id is replaced (resubmission); an active one is an
// error and left untouched.
func (m *Manager) Create(docID, filename string, metadata map[string]string) (ProcessingStatus, error) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	if existing, ok := m.statuses[docID]; ok && !existing.state.Terminal() {
		m.mu.Unlock()
		return ProcessingStatus{}, fmt.Errorf("%w: %s is %s", ErrActiveExists, docID, existing.state)
	}

	now := m.now()
	rec := &record{
		docID:     docID,
		filename:  filename,
		state:     StateQueued,
		startedAt: now,
		updatedAt: now,
	}
	if len(metadata) > 0 {
		rec.metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			rec.metadata[k] = v
		}
	}
	m.statuses[docID] = rec
	snap := rec.snapshot(now)
	m.mu.Unlock()

	m.emit(snap)
	return snap, nil
}

// CreateFailed registers a document directly in the failed state. Used for
// admission failures (unsupported type, oversized file) so the rejection
// stays visible until TTL cleanup.
func (m *Manager) CreateFailed(docID, filename, errMsg string, metadata map[string]string) ProcessingStatus {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	if existing, ok := m.statuses[docID]; ok && !existing.state.Terminal() {
		// An active run owns the record; leave it alone and report it.
		snap := existing.snapshot(m.now())
		m.mu.Unlock()
		return snap
	}

	now := m.now()
	rec := &record{
		docID:     docID,
		filename:  filename,
		state:     StateFailed,
		startedAt: now,
		updatedAt: now,
		errMsg:    errMsg,
	}
	if len(metadata) > 0 {
		rec.metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			rec.metadata[k] = v
		}
	}
	m.statuses[docID] = rec
	snap := rec.snapshot(now)
	m.mu.Unlock()

	m.emit(snap)
	return snap
}

// Get returns a snapshot of one document's status.
func (m *Manager) Get(docID string) (ProcessingStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.statuses[docID]
	if !ok {
		return ProcessingStatus{}, fmt.Errorf("%w: %s", ErrNotFound, docID)
	}
	return rec.snapshot(m.now()), nil
}

// UpdateOption attaches optional fields to an Update call.
type UpdateOption func(*record)

// WithStage labels the fine-grained step within a state.
func WithStage(stage string) UpdateOption {
	return func(r *record) { r.stage = stage }
}

// WithPages records visual progress counters.
func WithPages(page, total int) UpdateOption {
	return func(r *record) {
		r.page = page
		r.totalPages = total
	}
}

// WithChunks records text progress counters.
func WithChunks(chunk, total int) UpdateOption {
	return func(r *record) {
		r.chunk = chunk
		r.totalChunks = total
	}
}

// WithMetadata merges keys into the record metadata.
func WithMetadata(meta map[string]string) UpdateOption {
	return func(r *record) {
		if r.metadata == nil {
			r.metadata = make(map[string]string, len(meta))
		}
		for k, v := range meta {
			r.metadata[k] = v
		}
	}
}

// Update advances a document to state with the given progress. The
// transition must be legal and progress within [0,1]; progress never moves
// backwards (lower values are clamped to the stored maximum).
func (m *Manager) Update(docID string, state State, progress float64, opts ...UpdateOption) (ProcessingStatus, error) {
	if !state.Valid() {
		return ProcessingStatus{}, fmt.Errorf("%w: %q", ErrInvalidState, state)
	}
	if progress < 0 || progress > 1 {
		return ProcessingStatus{}, fmt.Errorf("%w: %.3f", ErrInvalidProgress, progress)
	}

	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	rec, ok := m.statuses[docID]
	if !ok {
		m.mu.Unlock()
		return ProcessingStatus{}, fmt.Errorf("%w: %s", ErrNotFound, docID)
	}
	if !canTransition(rec.state, state) {
		from := rec.state
		m.mu.Unlock()
		return ProcessingStatus{}, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, state)
	}

	now := m.now()
	rec.state = state
	if progress > rec.progress {
		rec.progress = progress
	}
	rec.updatedAt = now
	for _, opt := range opts {
		opt(rec)
	}
	if state == StateCompleted {
		rec.progress = 1
		rec.completedAt = now
	}
	snap := rec.snapshot(now)
	m.mu.Unlock()

	m.emit(snap)
	return snap, nil
}

// MarkCompleted moves a document from storing to completed.
func (m *Manager) MarkCompleted(docID string, opts ...UpdateOption) (ProcessingStatus, error) {
	return m.Update(docID, StateCompleted, 1, opts...)
}

// MarkFailed moves any non-terminal document to failed, keeping its last
// progress value.
func (m *Manager) MarkFailed(docID, errMsg string) (ProcessingStatus, error) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	rec, ok := m.statuses[docID]
	if !ok {
		m.mu.Unlock()
		return ProcessingStatus{}, fmt.Errorf("%w: %s", ErrNotFound, docID)
	}
	if rec.state.Terminal() {
		from := rec.state
		m.mu.Unlock()
		return ProcessingStatus{}, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, StateFailed)
	}

	rec.state = StateFailed
	rec.errMsg = errMsg
	rec.updatedAt = m.now()
	snap := rec.snapshot(rec.updatedAt)
	m.mu.Unlock()

	m.emit(snap)
	return snap, nil
}

// ListActive returns all non-terminal statuses, most recently updated first.
func (m *Manager) ListActive() []ProcessingStatus {
	return m.list(0, func(r *record) bool { return !r.state.Terminal() })
}

// ListAll returns up to limit statuses, most recently updated first.
// limit <= 0 means no limit.
func (m *Manager) ListAll(limit int) []ProcessingStatus {
	return m.list(limit, func(*record) bool { return true })
}

func (m *Manager) list(limit int, keep func(*record) bool) []ProcessingStatus {
	m.mu.RLock()
	now := m.now()
	out := make([]ProcessingStatus, 0, len(m.statuses))
	for _, rec := range m.statuses {
		if keep(rec) {
			out = append(out, rec.snapshot(now))
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].DocID < out[j].DocID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// CountByState returns a histogram over all tracked statuses.
func (m *Manager) CountByState() map[State]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[State]int)
	for _, rec := range m.statuses {
		counts[rec.state]++
	}
	return counts
}

// Cleanup removes terminal entries older than the given age (completed_at
// for completed, updated_at for failed) and returns how many were removed.
// In-progress entries are never removed.
func (m *Manager) Cleanup(olderThan time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, rec := range m.statuses {
		if !rec.state.Terminal() {
			continue
		}
		ref := rec.updatedAt
		if rec.state == StateCompleted && !rec.completedAt.IsZero() {
			ref = rec.completedAt
		}
		if now.Sub(ref) > olderThan {
			delete(m.statuses, id)
			removed++
		}
	}
	return removed
}

// StartCleanup runs the periodic TTL sweep until ctx is cancelled.
func (m *Manager) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.Cleanup(m.ttl); n > 0 {
					m.logger.Debug("status cleanup",
						slog.Int("removed", n),
						slog.Duration("ttl", m.ttl))
				}
			}
		}
	}()
}

// emit notifies the subscriber hook. Caller holds emitMu but never mu.
func (m *Manager) emit(snap ProcessingStatus) {
	if m.notify == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("status notifier panicked",
				slog.String("doc_id", snap.DocID),
				slog.Any("panic", r))
		}
	}()
	m.notify(snap)
}
