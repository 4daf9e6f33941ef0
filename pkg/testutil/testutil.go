// Package testutil provides testing utilities for gaiadb
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// TestLogger creates a test logger that writes to the test output.
// The logger is automatically cleaned up when the test completes.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext creates a test context with a 30-second timeout.
// The caller must call the returned cancel function to avoid leaks.
func TestContext(_ *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// AssertEventually asserts that a condition becomes true within the specified timeout.
// It checks the condition every 10ms until it succeeds or the timeout expires.
func AssertEventually(t *testing.T, condition func() bool, timeout time.Duration, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// Gzip compresses content in memory.
func Gzip(t *testing.T, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write([]byte(content)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

// WriteGzipFile writes gzip-compressed content to dir/name and returns the path.
func WriteGzipFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, Gzip(t, content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// CatalogRow is a synthetic Gaia source.
type CatalogRow struct {
	SourceID string
	RA       float64
	Dec      float64
	Flux     float64
}

// CatalogCSV renders rows in the Gaia archive layout: comment preamble,
// header, and a solution_id column that must stay a string.
func CatalogCSV(rows ...CatalogRow) string {
	var b strings.Builder
	b.WriteString("# Gaia DR3 gaia_source\n# generated for tests\n")
	b.WriteString("solution_id,source_id,ra,dec,parallax,phot_g_mean_flux,phot_variable_flag\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "375316653866487564,%s,%.10f,%.10f,null,%g,NOT_AVAILABLE\n", r.SourceID, r.RA, r.Dec, r.Flux)
	}
	return b.String()
}
