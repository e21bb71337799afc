// Package profiling collects pprof data for the duration of a command.
package profiling

import (
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
)

// Options selects which profiles a session collects. Empty paths
// disable the corresponding profile.
type Options struct {
	CPUPath   string
	HeapPath  string
	TracePath string
}

func (o Options) enabled() bool {
	return o.CPUPath != "" || o.HeapPath != "" || o.TracePath != ""
}

// Session holds the profiles running for the current command. Stop
// flushes everything; it is safe to call on a nil session.
type Session struct {
	cpuFile   *os.File
	traceFile *os.File
	heapPath  string
}

// Start begins CPU and trace profiling as requested. The heap profile
// is a point-in-time snapshot, taken at Stop so it reflects the
// command's peak working set. Returns nil when no profile is enabled.
func Start(opts Options) (*Session, error) {
	if !opts.enabled() {
		return nil, nil
	}

	s := &Session{heapPath: opts.HeapPath}

	if opts.CPUPath != "" {
		f, err := os.Create(opts.CPUPath)
		if err != nil {
			return nil, fmt.Errorf("create cpu profile: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("start cpu profile: %w", err)
		}
		s.cpuFile = f
	}

	if opts.TracePath != "" {
		f, err := os.Create(opts.TracePath)
		if err != nil {
			s.Stop()
			return nil, fmt.Errorf("create trace file: %w", err)
		}
		if err := trace.Start(f); err != nil {
			_ = f.Close()
			s.Stop()
			return nil, fmt.Errorf("start trace: %w", err)
		}
		s.traceFile = f
	}

	return s, nil
}

// Stop ends the session: stops the CPU profile and trace, then writes
// the heap snapshot if one was requested.
func (s *Session) Stop() {
	if s == nil {
		return
	}
	if s.cpuFile != nil {
		pprof.StopCPUProfile()
		_ = s.cpuFile.Close()
		s.cpuFile = nil
	}
	if s.traceFile != nil {
		trace.Stop()
		_ = s.traceFile.Close()
		s.traceFile = nil
	}
	if s.heapPath != "" {
		if err := writeHeap(s.heapPath); err != nil {
			fmt.Fprintf(os.Stderr, "heap profile: %v\n", err)
		}
		s.heapPath = ""
	}
}

// writeHeap snapshots live allocations. A GC pass first keeps dead
// objects out of the profile.
func writeHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create heap profile: %w", err)
	}
	defer func() { _ = f.Close() }()

	runtime.GC()

	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("write heap profile: %w", err)
	}
	return nil
}
