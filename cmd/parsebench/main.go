// Command parsebench measures catalog parser throughput on a local file
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/gaiadb/pkg/config"
	"github.com/ajitpratap0/gaiadb/pkg/logger"
	"github.com/ajitpratap0/gaiadb/pkg/parser"
)

var (
	file       = flag.String("file", "", "gzip CSV catalog file to parse")
	backends   = flag.String("backends", "csv,parallel", "comma separated parser backends")
	columns    = flag.String("columns", strings.Join(config.DefaultColumns, ","), "columns to project")
	chunkSize  = flag.Int("chunk", parser.DefaultChunkSize, "rows per batch")
	workers    = flag.Int("workers", runtime.NumCPU(), "parallel backend workers")
	iterations = flag.Int("count", 3, "iterations per backend")
	outputDir  = flag.String("output", "", "directory for the JSON report (empty = none)")
	cpuFile    = flag.String("cpuprofile", "", "write a CPU profile to file")
	memFile    = flag.String("memprofile", "", "write a heap profile to file")
)

// result is one backend iteration.
type result struct {
	Backend     string        `json:"backend"`
	Iteration   int           `json:"iteration"`
	Rows        int64         `json:"rows"`
	Batches     int           `json:"batches"`
	Elapsed     time.Duration `json:"elapsed_ns"`
	RowsPerSec  float64       `json:"rows_per_sec"`
	AllocatedMB float64       `json:"allocated_mb"`
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -file <catalog.csv.gz> [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -file GaiaSource_000000-003111.csv.gz\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -file part.csv.gz -backends parallel -workers 8 -cpuprofile cpu.prof\n", os.Args[0])
	}
	flag.Parse()

	if *file == "" {
		flag.Usage()
		os.Exit(2)
	}

	log, err := logger.New(logger.Config{Level: "warn", Encoding: "console"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	if *cpuFile != "" {
		f, err := os.Create(*cpuFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create CPU profile: %v\n", err)
			os.Exit(1)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to start CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer func() {
			pprof.StopCPUProfile()
			_ = f.Close()
		}()
	}

	fmt.Println("=== Catalog Parser Benchmark ===")
	fmt.Printf("File: %s\n", *file)
	fmt.Printf("Chunk size: %d\n\n", *chunkSize)

	opts := parser.Options{Columns: splitList(*columns), ChunkSize: *chunkSize}
	var results []result
	for _, name := range splitList(*backends) {
		p, err := parser.New(name, *workers, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Skipping %s: %v\n", name, err)
			continue
		}
		for i := 1; i <= *iterations; i++ {
			r, err := runOnce(context.Background(), p, opts)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s iteration %d failed: %v\n", name, i, err)
				break
			}
			r.Iteration = i
			results = append(results, r)
			fmt.Printf("  %-10s #%d  %10d rows  %5d batches  %10s  %12.0f rows/s  %8.1f MB\n",
				r.Backend, r.Iteration, r.Rows, r.Batches, r.Elapsed.Round(time.Millisecond), r.RowsPerSec, r.AllocatedMB)
		}
	}

	if *memFile != "" {
		if err := writeHeapProfile(*memFile); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write heap profile: %v\n", err)
		}
	}

	if *outputDir != "" {
		path, err := saveReport(*outputDir, results)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to save report: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\nReport saved to: %s\n", path)
	}
	_ = log.Sync()
}

// runOnce parses the whole file with p.
func runOnce(ctx context.Context, p parser.Parser, opts parser.Options) (result, error) {
	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)

	start := time.Now()
	it, err := p.Parse(ctx, parser.FileSource(*file), opts)
	if err != nil {
		return result{}, err
	}
	defer it.Close()

	r := result{Backend: p.Name()}
	for {
		batch, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return result{}, err
		}
		r.Rows += int64(len(batch))
		r.Batches++
	}
	r.Elapsed = time.Since(start)
	if s := r.Elapsed.Seconds(); s > 0 {
		r.RowsPerSec = float64(r.Rows) / s
	}

	runtime.ReadMemStats(&after)
	r.AllocatedMB = float64(after.TotalAlloc-before.TotalAlloc) / (1 << 20)
	return r, nil
}

func saveReport(dir string, results []result) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil { //nolint:gosec
		return "", err
	}
	data, err := gojson.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("parsebench_%s.json", time.Now().Format("20060102-150405")))
	if err := os.WriteFile(path, data, 0644); err != nil { //nolint:gosec
		return "", err
	}
	return path, nil
}

func writeHeapProfile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	runtime.GC()
	return pprof.WriteHeapProfile(f)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
