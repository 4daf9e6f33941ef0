// Package parser turns compressed delimited archive files into bounded
// batches of typed records.
//
// Every backend satisfies the same Parser contract: a compressed byte
// source, a column projection and a chunk size produce a lazy, finite,
// non-restartable Iterator of batches holding at most ChunkSize records.
// Backends are interchangeable; filtering always happens after parsing.
package parser

import (
	"context"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/gaiadb/pkg/compression"
	"github.com/ajitpratap0/gaiadb/pkg/errors"
	"github.com/ajitpratap0/gaiadb/pkg/models"
)

// CommentMarker starts comment lines preceding the header.
const CommentMarker = '#'

// DefaultChunkSize is used when Options.ChunkSize is not positive.
const DefaultChunkSize = 50000

// Source is a file on disk or a live byte stream.
type Source struct {
	// Name identifies the source in errors and drives compression detection
	Name string
	// Path is set for file sources
	Path string
	// Body is set for stream sources; the iterator takes ownership
	Body io.ReadCloser
}

// FileSource returns a Source reading a local file.
func FileSource(path string) Source {
	return Source{Name: path, Path: path}
}

// StreamSource returns a Source reading a live stream named by its URL.
func StreamSource(name string, body io.ReadCloser) Source {
	return Source{Name: name, Body: body}
}

// Options controls a parse.
type Options struct {
	// Columns is the projection; header-driven backends drop unknown columns
	Columns []string
	// ChunkSize bounds the records per batch
	ChunkSize int
	// Compression overrides detection from the source name
	Compression compression.Algorithm
}

func (o Options) chunkSize() int {
	if o.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return o.ChunkSize
}

// Iterator yields batches until it returns io.EOF. It is not restartable.
// Close releases the decompressor and the underlying file or stream and
// must be called even after io.EOF or an error.
type Iterator interface {
	Next() (models.Batch, error)
	Close() error
}

// Parser is a swappable parse backend.
type Parser interface {
	Name() string
	Parse(ctx context.Context, src Source, opts Options) (Iterator, error)
}

// Backend names accepted by New.
const (
	BackendCSV      = "csv"
	BackendParallel = "parallel"
)

// New returns the catalog parser backend selected by configuration.
func New(name string, workers int, logger *zap.Logger) (Parser, error) {
	switch name {
	case BackendCSV, "":
		return NewCSVParser(logger), nil
	case BackendParallel:
		return NewParallelParser(workers, logger), nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown parser backend %q", name)
	}
}

// IsCorrupt reports whether err came from a payload that failed to
// decompress. Callers delete such files so they are downloaded again.
func IsCorrupt(err error) bool {
	return errors.IsType(err, errors.ErrorTypeCorrupt)
}

// sourceError marks failures of the raw file or stream, as opposed to
// failures of the decompressor reading it.
type sourceError struct {
	err error
}

func (e *sourceError) Error() string { return e.err.Error() }
func (e *sourceError) Unwrap() error { return e.err }

type sourceReader struct {
	r io.Reader
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		err = &sourceError{err: err}
	}
	return n, err
}

// stream is a decompressed view of a Source.
type stream struct {
	name     string
	isFile   bool
	decoded  io.ReadCloser
	raw      io.Closer
	rawOnce  sync.Once
	rawErr   error
	closeErr error
	closed   bool
}

// open resolves the source, detects compression and wraps both layers so
// read failures are classified.
func open(src Source, algo compression.Algorithm) (*stream, error) {
	s := &stream{name: src.Name}

	var raw io.ReadCloser
	switch {
	case src.Body != nil:
		raw = src.Body
	case src.Path != "":
		f, err := os.Open(src.Path)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeFile, "failed to open %s", src.Path)
		}
		raw = f
		s.isFile = true
	default:
		return nil, errors.New(errors.ErrorTypeInternal, "source has neither path nor body")
	}
	s.raw = raw

	if algo == compression.Auto {
		algo = compression.Detect(src.Name)
	}

	decoded, err := compression.NewReader(algo, &sourceReader{r: raw})
	if err != nil {
		_ = s.closeRaw()
		return nil, s.classify(err)
	}
	s.decoded = decoded
	return s, nil
}

func (s *stream) Read(p []byte) (int, error) {
	n, err := s.decoded.Read(p)
	if err != nil && err != io.EOF {
		err = s.classify(err)
	}
	return n, err
}

// classify maps a read failure to a source error type or to corruption.
func (s *stream) classify(err error) error {
	var typed *errors.Error
	if errors.As(err, &typed) {
		return err
	}
	var se *sourceError
	if errors.As(err, &se) {
		if s.isFile {
			return errors.Wrapf(se.err, errors.ErrorTypeFile, "failed to read %s", s.name)
		}
		return errors.Wrapf(se.err, errors.ErrorTypeConnection, "failed to read stream %s", s.name)
	}
	return errors.Wrapf(err, errors.ErrorTypeCorrupt, "failed to decompress %s", s.name)
}

// closeRaw closes the underlying file or stream, unblocking pending reads.
func (s *stream) closeRaw() error {
	s.rawOnce.Do(func() {
		s.rawErr = s.raw.Close()
	})
	return s.rawErr
}

// Close releases both layers. It is idempotent. Decoder close errors
// repeat failures already returned by Read and are ignored.
func (s *stream) Close() error {
	if s.closed {
		return s.closeErr
	}
	s.closed = true
	if s.decoded != nil {
		_ = s.decoded.Close()
	}
	s.closeErr = s.closeRaw()
	return s.closeErr
}
