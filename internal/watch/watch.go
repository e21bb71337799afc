// Package watch feeds files dropped into the upload directory to the
// ingestion pipeline.
//
// fsnotify events for a path are debounced with a quiet period so that
// partially written files settle before submission. Deletes and renames
// away cancel whatever was pending for the path; nothing is ever removed
// from the store by the watcher.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/petrel-search/petrel/internal/status"
	"github.com/petrel-search/petrel/internal/validate"
)

// DefaultQuietPeriod is how long a path must stay silent before it is
// considered fully written.
const DefaultQuietPeriod = 2 * time.Second

// Submitter accepts a settled file for ingestion. *pipeline.Pipeline
// satisfies it.
type Submitter interface {
	Submit(ctx context.Context, path, filename string) (status.ProcessingStatus, error)
}

// Config controls the watcher.
type Config struct {
	// Dir is the upload directory. Created if missing.
	Dir string

	// QuietPeriod is the debounce window per path. Zero means
	// DefaultQuietPeriod.
	QuietPeriod time.Duration
}

// Deps are the watcher's collaborators.
type Deps struct {
	Sink      Submitter
	Validator *validate.FileValidator
	Logger    *slog.Logger
}

// Watcher submits settled uploads to the pipeline.
type Watcher struct {
	cfg  Config
	deps Deps

	fsw      *fsnotify.Watcher
	debounce *debouncer

	mu      sync.Mutex
	stopped bool
}

// New builds a watcher over cfg.Dir. The directory is created when
// absent so serve can start against an empty tree.
func New(cfg Config, deps Deps) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, errors.New("watch: upload directory not set")
	}
	if cfg.QuietPeriod <= 0 {
		cfg.QuietPeriod = DefaultQuietPeriod
	}
	if deps.Sink == nil {
		return nil, errors.New("watch: submitter not set")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		cfg:  cfg,
		deps: deps,
		fsw:  fsw,
	}
	w.debounce = newDebouncer(cfg.QuietPeriod)
	return w, nil
}

// Run watches until ctx is cancelled. Pre-existing files are swept and
// submitted first, then fsnotify events drive the debouncer. Run returns
// nil on cancellation; only a watcher setup failure is an error.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.addRecursive(w.cfg.Dir); err != nil {
		return err
	}

	go w.drain(ctx)

	if n := w.Sweep(ctx); n > 0 {
		w.deps.Logger.Info("upload_sweep_done", slog.Int("submitted", n))
	}

	for {
		select {
		case <-ctx.Done():
			w.close()
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.deps.Logger.Warn("watch_error", slog.String("error", err.Error()))
		}
	}
}

// handle routes one fsnotify event into the debouncer.
func (w *Watcher) handle(ev fsnotify.Event) {
	switch {
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		// A path that vanished mid-burst was a temp file or an
		// aborted copy. Drop whatever was pending for it.
		w.debounce.cancel(ev.Name)
		return
	case ev.Op.Has(fsnotify.Chmod):
		return
	}

	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if ev.Op.Has(fsnotify.Create) {
			if err := w.addRecursive(ev.Name); err != nil {
				w.deps.Logger.Warn("watch_subdir_failed",
					slog.String("path", ev.Name),
					slog.String("error", err.Error()))
			}
		}
		return
	}

	if !w.accepts(ev.Name) {
		return
	}
	w.debounce.touch(ev.Name)
}

// accepts filters out hidden files, editor droppings and unsupported
// extensions before they reach the pipeline's admission checks.
func (w *Watcher) accepts(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".tmp", ".part", ".partial", ".crdownload", ".swp":
		return false
	}
	if w.deps.Validator != nil {
		if ok, _ := w.deps.Validator.ValidateType(base); !ok {
			return false
		}
	}
	return true
}

// drain submits paths whose quiet period elapsed. Per-file failures are
// logged and the loop continues.
func (w *Watcher) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case path, ok := <-w.debounce.settled():
			if !ok {
				return
			}
			w.submit(ctx, path)
		}
	}
}

func (w *Watcher) submit(ctx context.Context, path string) {
	st, err := w.deps.Sink.Submit(ctx, path, filepath.Base(path))
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.deps.Logger.Warn("upload_submit_failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return
	}
	w.deps.Logger.Info("upload_submitted",
		slog.String("path", path),
		slog.String("doc_id", st.DocID),
		slog.String("state", string(st.State)))
}

// Sweep submits files already present under the upload directory. It
// runs once at startup so drops made while the service was down are not
// lost. Returns the number of files handed to the pipeline.
func (w *Watcher) Sweep(ctx context.Context) int {
	var submitted int
	err := filepath.WalkDir(w.cfg.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.deps.Logger.Warn("upload_sweep_error",
				slog.String("path", path),
				slog.String("error", err.Error()))
			return nil
		}
		if ctx.Err() != nil {
			return filepath.SkipAll
		}
		if d.IsDir() || !w.accepts(path) {
			return nil
		}
		w.submit(ctx, path)
		submitted++
		return nil
	})
	if err != nil && ctx.Err() == nil {
		w.deps.Logger.Warn("upload_sweep_aborted", slog.String("error", err.Error()))
	}
	return submitted
}

// addRecursive registers dir and every subdirectory with fsnotify.
// fsnotify does not watch recursively on its own.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(filepath.Base(path), ".") && path != dir {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	_ = w.fsw.Close()
	w.debounce.stop()
}
