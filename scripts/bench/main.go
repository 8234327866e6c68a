// Benchmark report tool for diskstats.
//
// Runs the benchmarks, writes a summary table plus the raw output to
// target/reports/bench.txt, and compares ns/op against the previous report
// when one exists. Exits non-zero if any benchmark fails, or if one slowed
// down by more than BENCH_MAX_REGRESSION percent (default: never).
//
// Usage:
//
//	go run ./scripts/bench
//	BENCH_TIME=10s go run ./scripts/bench
//	BENCH_PKG=./internal/collector/ go run ./scripts/bench
//	BENCH_MAX_REGRESSION=20 go run ./scripts/bench
package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// result is one benchmark line of `go test -bench` output.
type result struct {
	Package  string
	Name     string
	NsPerOp  float64
	BytesOp  int64
	AllocsOp int64
}

func (r result) key() string { return r.Package + "." + r.Name }

var (
	rePkg   = regexp.MustCompile(`^pkg: (\S+)`)
	reBench = regexp.MustCompile(`^(Benchmark\S+?)(?:-\d+)?\s+\d+\s+([\d.]+) ns/op(?:\s+(\d+) B/op)?(?:\s+(\d+) allocs/op)?`)
	// Summary rows written by a previous run.
	reRow = regexp.MustCompile(`^  (\S+)\s+([\d.]+)\s+\d+\s+\d+`)
)

const rawMarker = "Raw Output\n"

func main() {
	projectRoot := findProjectRoot()
	reportDir := filepath.Join(projectRoot, "target", "reports")
	reportPath := filepath.Join(reportDir, "bench.txt")

	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		log.Fatalf("creating report directory: %v", err)
	}

	benchTime := envOr("BENCH_TIME", "3s")
	pkg := envOr("BENCH_PKG", "./internal/...")
	maxRegression := -1.0
	if v := os.Getenv("BENCH_MAX_REGRESSION"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			log.Fatalf("parsing BENCH_MAX_REGRESSION: %v", err)
		}
		maxRegression = f
	}

	previous := readPrevious(reportPath)
	now := time.Now()
	goVer := captureGoVersion()

	fmt.Printf("Running benchmarks in %s (benchtime=%s)...\n\n", pkg, benchTime)

	cmd := exec.Command("go", "test",
		"-bench=.",
		"-benchmem",
		fmt.Sprintf("-benchtime=%s", benchTime),
		"-run=^$",
		pkg,
	)
	cmd.Dir = projectRoot

	var buf bytes.Buffer
	cmd.Stdout = io.MultiWriter(os.Stdout, &buf)
	cmd.Stderr = io.MultiWriter(os.Stderr, &buf)

	runErr := cmd.Run()
	results := parseResults(buf.String())

	var report strings.Builder
	sep := strings.Repeat("=", 72)
	thin := strings.Repeat("-", 72)
	report.WriteString("diskstats Benchmark Report\n")
	report.WriteString(sep + "\n")
	fmt.Fprintf(&report, "Generated:      %s\n", now.Format(time.RFC1123))
	fmt.Fprintf(&report, "Go Version:     %s\n", goVer)
	fmt.Fprintf(&report, "OS/Arch:        %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&report, "Benchmark Time: %s per benchmark\n", benchTime)
	fmt.Fprintf(&report, "Packages:       %s\n", pkg)
	report.WriteString(sep + "\n\n")

	report.WriteString("Summary\n")
	report.WriteString(thin + "\n")
	fmt.Fprintf(&report, "  %-44s %12s %8s %8s  %s\n", "Benchmark", "ns/op", "B/op", "allocs", "vs previous")
	report.WriteString(thin + "\n")
	regressions := 0
	for _, r := range results {
		delta := "new"
		if prev, ok := previous[r.key()]; ok && prev > 0 {
			pct := (r.NsPerOp - prev) / prev * 100
			delta = fmt.Sprintf("%+.1f%%", pct)
			if maxRegression >= 0 && pct > maxRegression {
				delta += "  REGRESSION"
				regressions++
			}
		}
		fmt.Fprintf(&report, "  %-44s %12.1f %8d %8d  %s\n", r.key(), r.NsPerOp, r.BytesOp, r.AllocsOp, delta)
	}
	report.WriteString(thin + "\n\n")

	report.WriteString(rawMarker)
	report.WriteString(sep + "\n")
	report.WriteString(buf.String())
	if runErr != nil {
		fmt.Fprintf(&report, "\n[ERROR] %v\n", runErr)
	}

	if err := os.WriteFile(reportPath, []byte(report.String()), 0o644); err != nil {
		log.Fatalf("writing bench report: %v", err)
	}
	fmt.Printf("\nBenchmark report: %s\n", reportPath)

	if runErr != nil {
		os.Exit(1)
	}
	if regressions > 0 {
		fmt.Printf("%d benchmark(s) slowed down by more than %.0f%%.\n", regressions, maxRegression)
		os.Exit(1)
	}
	fmt.Printf("Benchmark run complete (%d benchmarks).\n", len(results))
}

// parseResults extracts benchmark lines, attributing each to the preceding
// "pkg:" header. Package paths are shortened to their last element.
func parseResults(output string) []result {
	var (
		out []result
		pkg string
	)
	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		line := sc.Text()
		if m := rePkg.FindStringSubmatch(line); m != nil {
			pkg = filepath.Base(m[1])
			continue
		}
		m := reBench.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		r := result{Package: pkg, Name: m[1]}
		r.NsPerOp, _ = strconv.ParseFloat(m[2], 64)
		r.BytesOp, _ = strconv.ParseInt(m[3], 10, 64)
		r.AllocsOp, _ = strconv.ParseInt(m[4], 10, 64)
		out = append(out, r)
	}
	return out
}

// readPrevious returns ns/op per benchmark from the summary of an earlier
// report. A missing or unparsable report yields an empty map.
func readPrevious(path string) map[string]float64 {
	prev := make(map[string]float64)
	data, err := os.ReadFile(path)
	if err != nil {
		return prev
	}
	summary, _, _ := strings.Cut(string(data), rawMarker)
	for line := range strings.SplitSeq(summary, "\n") {
		if m := reRow.FindStringSubmatch(line); m != nil {
			if v, err := strconv.ParseFloat(m[2], 64); err == nil {
				prev[m[1]] = v
			}
		}
	}
	return prev
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func captureGoVersion() string {
	out, err := exec.Command("go", "version").Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(out))
}

func findProjectRoot() string {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		log.Fatal("could not determine script directory")
	}
	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			log.Fatal("could not find project root (no go.mod found)")
		}
		dir = parent
	}
}
