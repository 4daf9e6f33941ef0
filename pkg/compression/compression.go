// Package compression provides streaming decompression of archive files and
// compression of exported query results.
//
// # Overview
//
// The compression package provides:
//   - Streaming readers and writers for Gzip, Zstd, LZ4, Snappy and S2
//   - Detection by file extension with a magic-byte fallback
//   - Pooled gzip readers, the hot path for Gaia archive files
//
// # Basic Usage
//
//	algo := compression.Detect("GaiaSource_000000-003111.csv.gz")
//	r, err := compression.NewReader(algo, file)
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
//
// # Performance Characteristics
//
// Speed (fastest to slowest): LZ4 > Snappy/S2 > Zstd > Gzip
// Compression ratio (best to worst): Zstd > Gzip > Snappy/S2 > LZ4
package compression

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// Auto detects the algorithm from magic bytes
	Auto Algorithm = ""
	// None represents no compression
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Snappy represents framed snappy compression
	Snappy Algorithm = "snappy"
	// LZ4 represents lz4 frame compression
	LZ4 Algorithm = "lz4"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// S2 represents s2 compression (Snappy compatible)
	S2 Algorithm = "s2"
)

// Level represents compression level, controlling the trade-off between
// compression speed and compression ratio.
type Level int

const (
	// Fastest prioritizes speed over compression ratio.
	Fastest Level = 1
	// Default balances speed and compression.
	Default Level = 5
	// Best maximizes compression ratio.
	Best Level = 9
)

// ParseAlgorithm validates an algorithm name.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(name)); a {
	case None, Gzip, Snappy, LZ4, Zstd, S2:
		return a, nil
	case "", "auto":
		return Auto, nil
	case "gz":
		return Gzip, nil
	case "zst":
		return Zstd, nil
	default:
		return "", fmt.Errorf("unsupported compression algorithm: %s", name)
	}
}

// Extension returns the conventional file extension, including the dot.
func (a Algorithm) Extension() string {
	switch a {
	case Gzip:
		return ".gz"
	case Zstd:
		return ".zst"
	case LZ4:
		return ".lz4"
	case Snappy:
		return ".sz"
	case S2:
		return ".s2"
	default:
		return ""
	}
}

// Detect picks an algorithm from a file name or URL. Unknown extensions
// return Auto so the reader falls back to magic bytes.
func Detect(name string) Algorithm {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".gz", ".gzip":
		return Gzip
	case ".zst", ".zstd":
		return Zstd
	case ".lz4":
		return LZ4
	case ".sz", ".snappy":
		return Snappy
	case ".s2":
		return S2
	case ".csv", ".txt", ".psv":
		return None
	default:
		return Auto
	}
}

var (
	magicGzip = []byte{0x1f, 0x8b}
	magicZstd = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicLZ4  = []byte{0x04, 0x22, 0x4d, 0x18}
	// framed snappy and s2 share the stream identifier chunk type
	magicSnappy = []byte{0xff, 0x06, 0x00, 0x00}
)

// Sniff identifies the algorithm from the first bytes of br without
// consuming them.
func Sniff(br *bufio.Reader) Algorithm {
	head, _ := br.Peek(4)
	switch {
	case bytes.HasPrefix(head, magicGzip):
		return Gzip
	case bytes.HasPrefix(head, magicZstd):
		return Zstd
	case bytes.HasPrefix(head, magicLZ4):
		return LZ4
	case bytes.HasPrefix(head, magicSnappy):
		return S2
	default:
		return None
	}
}

var gzipReaderPool sync.Pool

// NewReader returns a streaming decompressor over r. Closing the returned
// reader releases decoder resources but does not close r.
func NewReader(algo Algorithm, r io.Reader) (io.ReadCloser, error) {
	if algo == Auto {
		br := bufio.NewReaderSize(r, 64*1024)
		algo = Sniff(br)
		r = br
	}

	switch algo {
	case None:
		return io.NopCloser(r), nil
	case Gzip:
		if pooled, ok := gzipReaderPool.Get().(*gzip.Reader); ok {
			if err := pooled.Reset(r); err != nil {
				gzipReaderPool.Put(pooled)
				return nil, err
			}
			return &gzipReadCloser{Reader: pooled}, nil
		}
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		return &gzipReadCloser{Reader: gr}, nil
	case Zstd:
		dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case Snappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	case S2:
		return io.NopCloser(s2.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algo)
	}
}

type gzipReadCloser struct {
	*gzip.Reader
	closed bool
}

func (g *gzipReadCloser) Close() error {
	if g.closed {
		return nil
	}
	g.closed = true
	err := g.Reader.Close()
	gzipReaderPool.Put(g.Reader)
	return err
}

// NewWriter returns a streaming compressor writing to w. Close flushes the
// compressed stream but does not close w.
func NewWriter(algo Algorithm, w io.Writer, level Level) (io.WriteCloser, error) {
	switch algo {
	case None, Auto:
		return nopWriteCloser{w}, nil
	case Gzip:
		return gzip.NewWriterLevel(w, mapGzipLevel(level))
	case Zstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(mapZstdLevel(level)))
	case LZ4:
		lw := lz4.NewWriter(w)
		if err := lw.Apply(lz4.CompressionLevelOption(mapLZ4Level(level))); err != nil {
			return nil, err
		}
		return lw, nil
	case Snappy:
		return snappy.NewBufferedWriter(w), nil
	case S2:
		return s2.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algo)
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// Helper functions to map compression levels

func mapGzipLevel(level Level) int {
	switch level {
	case Fastest:
		return gzip.BestSpeed
	case Best:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

func mapLZ4Level(level Level) lz4.CompressionLevel {
	switch level {
	case Fastest:
		return lz4.Fast
	case Best:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}

func mapZstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case Fastest:
		return zstd.SpeedFastest
	case Best:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}
