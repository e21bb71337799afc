//go:build ignore

// Package main compares two `go test -bench` output files and reports
// performance regressions.
// Usage: go run scripts/bench-compare.go [options] <current.txt> <baseline.txt>
//
// A benchmark that got more than 20% slower in ns/op fails the comparison.
// Allocation deltas are reported alongside but do not gate.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
)

const (
	// defaultThreshold is the ns/op slowdown that counts as a regression.
	defaultThreshold = 0.20

	// improvementCutoff marks speedups worth calling out.
	improvementCutoff = 0.10
)

// measurement holds one parsed benchmark line.
type measurement struct {
	Name        string  `json:"name"`
	Iterations  int     `json:"iterations"`
	NsPerOp     float64 `json:"ns_per_op"`
	AllocsPerOp int     `json:"allocs_per_op"`
}

// delta is the comparison of one benchmark between the two files.
type delta struct {
	Name        string  `json:"name"`
	CurrentNs   float64 `json:"current_ns_per_op"`
	BaselineNs  float64 `json:"baseline_ns_per_op"`
	NsPct       float64 `json:"ns_delta_percent"`
	AllocsDelta int     `json:"allocs_delta"`
	Status      string  `json:"status"`
}

// report aggregates every comparison plus the final verdict.
type report struct {
	Total        int      `json:"total_benchmarks"`
	Regressions  int      `json:"regressions"`
	Improvements int      `json:"improvements"`
	Unchanged    int      `json:"unchanged"`
	OnlyCurrent  int      `json:"only_in_current"`
	OnlyBaseline int      `json:"only_in_baseline"`
	Deltas       []*delta `json:"deltas"`
	Failed       bool     `json:"failed"`
}

var (
	outputJSON = flag.Bool("json", false, "Output the report as JSON")
	threshold  = flag.Float64("threshold", defaultThreshold, "Regression threshold as a fraction (0.0-1.0)")
	verbose    = flag.Bool("verbose", false, "Include unchanged and unmatched benchmarks in the table")
	failFlag   = flag.Bool("fail", true, "Exit non-zero when a regression is found")
)

// benchLine matches `BenchmarkName-N  iterations  ns/op  [B/op]  [allocs/op]`.
var benchLine = regexp.MustCompile(`^(Benchmark\S+)\s+(\d+)\s+([\d.]+)\s+ns/op(?:\s+\d+\s+B/op)?(?:\s+(\d+)\s+allocs/op)?`)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <current.txt> <baseline.txt>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Compares go test -bench output files and flags regressions.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 2 {
		flag.Usage()
		os.Exit(1)
	}

	current, err := parseFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", flag.Arg(0), err)
		os.Exit(1)
	}
	baseline, err := parseFile(flag.Arg(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", flag.Arg(1), err)
		os.Exit(1)
	}

	rep := compare(current, baseline, *threshold)

	if *outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
			os.Exit(1)
		}
	} else {
		printReport(rep)
	}

	if *failFlag && rep.Failed {
		os.Exit(1)
	}
}

// parseFile collects every benchmark line in a go test -bench output file.
func parseFile(path string) (map[string]*measurement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string]*measurement)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m := parseLine(scanner.Text())
		if m != nil {
			out[m.Name] = m
		}
	}
	return out, scanner.Err()
}

func parseLine(line string) *measurement {
	groups := benchLine.FindStringSubmatch(line)
	if groups == nil {
		return nil
	}

	m := &measurement{Name: groups[1]}
	m.Iterations, _ = strconv.Atoi(groups[2])
	m.NsPerOp, _ = strconv.ParseFloat(groups[3], 64)
	if groups[4] != "" {
		m.AllocsPerOp, _ = strconv.Atoi(groups[4])
	}
	return m
}

// compare walks both result sets in sorted name order so the report is
// stable across runs.
func compare(current, baseline map[string]*measurement, threshold float64) *report {
	names := make([]string, 0, len(current))
	for name := range current {
		names = append(names, name)
	}
	sort.Strings(names)

	rep := &report{}
	for _, name := range names {
		rep.Total++
		curr := current[name]

		base, ok := baseline[name]
		if !ok {
			rep.OnlyCurrent++
			if *verbose {
				rep.Deltas = append(rep.Deltas, &delta{Name: name, CurrentNs: curr.NsPerOp, Status: "new"})
			}
			continue
		}

		var pct float64
		if base.NsPerOp > 0 {
			pct = (curr.NsPerOp - base.NsPerOp) / base.NsPerOp
		}

		d := &delta{
			Name:        name,
			CurrentNs:   curr.NsPerOp,
			BaselineNs:  base.NsPerOp,
			NsPct:       pct * 100,
			AllocsDelta: curr.AllocsPerOp - base.AllocsPerOp,
		}

		switch {
		case pct > threshold:
			d.Status = "regression"
			rep.Regressions++
			rep.Failed = true
		case pct < -improvementCutoff:
			d.Status = "improved"
			rep.Improvements++
		default:
			d.Status = "ok"
			rep.Unchanged++
		}

		if d.Status != "ok" || *verbose {
			rep.Deltas = append(rep.Deltas, d)
		}
	}

	baseNames := make([]string, 0, len(baseline))
	for name := range baseline {
		if _, ok := current[name]; !ok {
			baseNames = append(baseNames, name)
		}
	}
	sort.Strings(baseNames)
	for _, name := range baseNames {
		rep.OnlyBaseline++
		if *verbose {
			rep.Deltas = append(rep.Deltas, &delta{Name: name, BaselineNs: baseline[name].NsPerOp, Status: "missing"})
		}
	}

	return rep
}

func printReport(rep *report) {
	fmt.Println("Benchmark comparison")
	fmt.Println()
	fmt.Printf("  total:        %d\n", rep.Total)
	fmt.Printf("  regressions:  %d (more than %.0f%% slower)\n", rep.Regressions, *threshold*100)
	fmt.Printf("  improvements: %d (more than %.0f%% faster)\n", rep.Improvements, improvementCutoff*100)
	fmt.Printf("  unchanged:    %d\n", rep.Unchanged)
	if rep.OnlyCurrent > 0 {
		fmt.Printf("  new:          %d\n", rep.OnlyCurrent)
	}
	if rep.OnlyBaseline > 0 {
		fmt.Printf("  missing:      %d\n", rep.OnlyBaseline)
	}
	fmt.Println()

	if len(rep.Deltas) > 0 {
		fmt.Printf("  %-52s %12s %12s %9s %8s\n", "BENCHMARK", "CURRENT", "BASELINE", "DELTA", "ALLOCS")
		for _, d := range rep.Deltas {
			name := d.Name
			if len(name) > 52 {
				name = name[:49] + "..."
			}
			if d.BaselineNs > 0 && d.CurrentNs > 0 {
				fmt.Printf("  %-52s %9.0f ns %9.0f ns %+8.1f%% %+7d  %s\n",
					name, d.CurrentNs, d.BaselineNs, d.NsPct, d.AllocsDelta, d.Status)
			} else if d.CurrentNs > 0 {
				fmt.Printf("  %-52s %9.0f ns %12s %9s %8s  %s\n", name, d.CurrentNs, "-", "-", "-", d.Status)
			} else {
				fmt.Printf("  %-52s %12s %9.0f ns %9s %8s  %s\n", name, "-", d.BaselineNs, "-", "-", d.Status)
			}
		}
		fmt.Println()
	}

	if rep.Failed {
		fmt.Printf("FAIL: %d benchmark(s) regressed by more than %.0f%%\n", rep.Regressions, *threshold*100)
	} else {
		fmt.Println("PASS: no significant regressions")
	}
}
