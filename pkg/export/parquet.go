package export

import (
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/ajitpratap0/gaiadb/pkg/compression"
	"github.com/ajitpratap0/gaiadb/pkg/errors"
	"github.com/ajitpratap0/gaiadb/pkg/models"
)

// arrowSchema maps string columns to utf8 and everything else to float64,
// all nullable.
func arrowSchema(schema *models.Schema) *arrow.Schema {
	fields := make([]arrow.Field, 0, schema.Len())
	for _, f := range schema.Fields() {
		var dt arrow.DataType = arrow.PrimitiveTypes.Float64
		if f.Type == models.FieldTypeString {
			dt = arrow.BinaryTypes.String
		}
		fields = append(fields, arrow.Field{Name: f.Name, Type: dt, Nullable: true})
	}
	return arrow.NewSchema(fields, nil)
}

func parquetCodec(algo compression.Algorithm) compress.Compression {
	switch algo {
	case compression.Gzip:
		return compress.Codecs.Gzip
	case compression.Zstd:
		return compress.Codecs.Zstd
	case compression.LZ4:
		return compress.Codecs.Lz4Raw
	case compression.None:
		return compress.Codecs.Uncompressed
	default:
		return compress.Codecs.Snappy
	}
}

type parquetWriter struct {
	schema  *arrow.Schema
	names   []string
	builder *array.RecordBuilder
	fw      *pqarrow.FileWriter
}

func newParquetWriter(w io.Writer, schema *models.Schema, algo compression.Algorithm) (*parquetWriter, error) {
	as := arrowSchema(schema)
	alloc := memory.NewGoAllocator()

	props := parquet.NewWriterProperties(parquet.WithCompression(parquetCodec(algo)))
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithAllocator(alloc))

	// the file writer closes its sink on Close
	fw, err := pqarrow.NewFileWriter(as, nopCloser{w}, props, arrowProps)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create parquet writer")
	}
	return &parquetWriter{
		schema:  as,
		names:   schema.Names(),
		builder: array.NewRecordBuilder(alloc, as),
		fw:      fw,
	}, nil
}

func (p *parquetWriter) Write(records []*models.Record) error {
	if len(records) == 0 {
		return nil
	}
	for _, rec := range records {
		for i, name := range p.names {
			v := value(rec, name)
			switch b := p.builder.Field(i).(type) {
			case *array.StringBuilder:
				if v.IsNull() {
					b.AppendNull()
				} else {
					b.Append(v.Text())
				}
			case *array.Float64Builder:
				if f, ok := v.Float(); ok {
					b.Append(f)
				} else {
					b.AppendNull()
				}
			}
		}
	}

	batch := p.builder.NewRecord()
	defer batch.Release()
	if err := p.fw.WriteBuffered(batch); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write parquet row group")
	}
	return nil
}

func (p *parquetWriter) Close() error {
	p.builder.Release()
	if err := p.fw.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to close parquet writer")
	}
	return nil
}
