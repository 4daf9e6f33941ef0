package parser

import (
	"context"
	"encoding/csv"
	"io"

	"go.uber.org/zap"

	"github.com/ajitpratap0/gaiadb/pkg/errors"
	"github.com/ajitpratap0/gaiadb/pkg/models"
)

// CSVParser is the built-in backend: a single encoding/csv reader over the
// streaming decompressor.
type CSVParser struct {
	logger *zap.Logger
}

// NewCSVParser creates the built-in CSV backend.
func NewCSVParser(logger *zap.Logger) *CSVParser {
	return &CSVParser{logger: logger.With(zap.String("parser", BackendCSV))}
}

// Name returns the backend name.
func (p *CSVParser) Name() string { return BackendCSV }

// Parse opens src and resolves the header. A source without a header
// yields an iterator that is immediately exhausted.
func (p *CSVParser) Parse(ctx context.Context, src Source, opts Options) (Iterator, error) {
	s, err := open(src, opts.Compression)
	if err != nil {
		return nil, err
	}

	reader := newCSVReader(s, ',')
	it := &csvIterator{ctx: ctx, stream: s, reader: reader, chunkSize: opts.chunkSize()}

	header, err := reader.Read()
	if err == io.EOF {
		it.done = true
		return it, nil
	}
	if err != nil {
		_ = s.Close()
		return nil, wrapReadError(err, src.Name)
	}

	it.proj, err = resolveHeader(src.Name, header, opts.Columns, p.logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return it, nil
}

func newCSVReader(r io.Reader, comma rune) *csv.Reader {
	reader := csv.NewReader(r)
	reader.Comma = comma
	reader.Comment = CommentMarker
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = true
	return reader
}

// wrapReadError keeps classified stream errors and marks csv syntax errors
// as data errors.
func wrapReadError(err error, name string) error {
	var typed *errors.Error
	if errors.As(err, &typed) {
		return err
	}
	return errors.Wrapf(err, errors.ErrorTypeData, "failed to parse %s", name)
}

// csvIterator reads rows sequentially, projecting as it goes.
type csvIterator struct {
	ctx       context.Context
	stream    *stream
	reader    *csv.Reader
	proj      *projection
	chunkSize int
	done      bool
	err       error
}

func (it *csvIterator) Next() (models.Batch, error) {
	if it.err != nil {
		return nil, it.err
	}
	if it.done {
		return nil, io.EOF
	}
	if err := it.ctx.Err(); err != nil {
		it.err = err
		return nil, err
	}

	batch := make(models.Batch, 0, it.chunkSize)
	for len(batch) < it.chunkSize {
		fields, err := it.reader.Read()
		if err == io.EOF {
			it.done = true
			if len(batch) == 0 {
				return nil, io.EOF
			}
			return batch, nil
		}
		if err != nil {
			it.err = wrapReadError(err, it.stream.name)
			return nil, it.err
		}
		batch = append(batch, it.proj.record(fields))
	}
	return batch, nil
}

func (it *csvIterator) Close() error {
	it.done = true
	return it.stream.Close()
}
