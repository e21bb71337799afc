package watch

import (
	"sync"
	"time"
)

// debouncer holds a timer per path. Every touch resets that path's
// timer; only when a path stays quiet for the full window does it come
// out of settled(). Bursts of CREATE and WRITE events for one file
// therefore collapse into a single submission.
type debouncer struct {
	window time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	out     chan string
	stopped bool
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{
		window:  window,
		pending: make(map[string]*time.Timer),
		out:     make(chan string, 64),
	}
}

// touch marks activity on path, starting or resetting its quiet timer.
func (d *debouncer) touch(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if t, ok := d.pending[path]; ok {
		t.Reset(d.window)
		return
	}
	d.pending[path] = time.AfterFunc(d.window, func() {
		d.fire(path)
	})
}

// cancel drops any pending emission for path.
func (d *debouncer) cancel(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.pending[path]; ok {
		t.Stop()
		delete(d.pending, path)
	}
}

func (d *debouncer) fire(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	select {
	case d.out <- path:
		delete(d.pending, path)
	default:
		// Consumer is behind. Retry shortly rather than dropping an
		// upload on the floor.
		if t, ok := d.pending[path]; ok {
			t.Reset(50 * time.Millisecond)
		}
	}
}

func (d *debouncer) settled() <-chan string {
	return d.out
}

// stop cancels all timers and closes the settled channel. Paths still
// pending are discarded; the startup sweep picks them up next run.
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	for path, t := range d.pending {
		t.Stop()
		delete(d.pending, path)
	}
	close(d.out)
}
