// Package export renders query results as table, csv, jsonl, parquet or
// avro and delivers them to a local file, s3:// or gs:// destination.
//
// Writers share one contract: Write may be called repeatedly with batches
// of records bound to the same columns, and Close flushes any footer and
// compressor without closing the destination.
package export

import (
	"io"
	"strings"

	"github.com/ajitpratap0/gaiadb/pkg/compression"
	"github.com/ajitpratap0/gaiadb/pkg/errors"
	"github.com/ajitpratap0/gaiadb/pkg/models"
)

// Format names an output encoding.
type Format string

const (
	FormatTable   Format = "table"
	FormatCSV     Format = "csv"
	FormatJSONL   Format = "jsonl"
	FormatParquet Format = "parquet"
	FormatAvro    Format = "avro"
)

// ParseFormat validates a format name; empty means table.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(name)); f {
	case "":
		return FormatTable, nil
	case FormatTable, FormatCSV, FormatJSONL, FormatParquet, FormatAvro:
		return f, nil
	case "json", "ndjson":
		return FormatJSONL, nil
	default:
		return "", errors.Newf(errors.ErrorTypeValidation, "unknown export format %q (want table, csv, jsonl, parquet or avro)", name)
	}
}

// Extension returns the file extension of the format.
func (f Format) Extension() string {
	switch f {
	case FormatTable:
		return ".txt"
	default:
		return "." + string(f)
	}
}

// streamCompressed reports whether the format accepts stream compression.
// Parquet and avro compress their own pages and blocks.
func (f Format) streamCompressed() bool {
	return f == FormatCSV || f == FormatJSONL
}

// Writer encodes records.
type Writer interface {
	Write(records []*models.Record) error
	Close() error
}

// Options tune a writer.
type Options struct {
	// Compression applies to csv and jsonl; parquet and avro use it as
	// their internal codec where supported
	Compression compression.Algorithm
}

// NewWriter returns a writer of format for the given columns.
func NewWriter(format Format, w io.Writer, columns []string, opts Options) (Writer, error) {
	if len(columns) == 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "export requires at least one column")
	}
	schema := models.NewSchema(columns...)

	if !format.streamCompressed() {
		switch format {
		case FormatTable:
			return newTableWriter(w, schema), nil
		case FormatParquet:
			return newParquetWriter(w, schema, opts.Compression)
		case FormatAvro:
			return newAvroWriter(w, schema, opts.Compression)
		default:
			return nil, errors.Newf(errors.ErrorTypeValidation, "unknown export format %q", format)
		}
	}

	algo := opts.Compression
	if algo == compression.Auto {
		algo = compression.None
	}
	cw, err := compression.NewWriter(algo, w, compression.Default)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid export compression")
	}

	var inner Writer
	if format == FormatCSV {
		inner, err = newCSVWriter(cw, schema)
	} else {
		inner = newJSONLWriter(cw, schema)
	}
	if err != nil {
		_ = cw.Close()
		return nil, err
	}
	return &compressedWriter{Writer: inner, compressor: cw}, nil
}

// compressedWriter closes the encoder and then the compressor.
type compressedWriter struct {
	Writer
	compressor io.WriteCloser
}

func (c *compressedWriter) Close() error {
	if err := c.Writer.Close(); err != nil {
		_ = c.compressor.Close()
		return err
	}
	if err := c.compressor.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to flush compressed output")
	}
	return nil
}

// WriteAll encodes records in one call and closes the writer.
func WriteAll(format Format, w io.Writer, columns []string, records []*models.Record, opts Options) error {
	ew, err := NewWriter(format, w, columns, opts)
	if err != nil {
		return err
	}
	if err := ew.Write(records); err != nil {
		_ = ew.Close()
		return err
	}
	return ew.Close()
}

// value returns the named column of rec; absent columns are null.
func value(rec *models.Record, name string) models.Value {
	v, _ := rec.Get(name)
	return v
}

// nopCloser keeps encoders that close their sink away from the destination.
type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
