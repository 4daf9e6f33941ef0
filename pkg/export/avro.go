package export

import (
	"io"

	gojson "github.com/goccy/go-json"
	"github.com/linkedin/goavro/v2"

	"github.com/ajitpratap0/gaiadb/pkg/compression"
	"github.com/ajitpratap0/gaiadb/pkg/errors"
	"github.com/ajitpratap0/gaiadb/pkg/models"
)

type avroField struct {
	Name    string      `json:"name"`
	Type    []string    `json:"type"`
	Default interface{} `json:"default"`
}

type avroRecord struct {
	Type      string      `json:"type"`
	Name      string      `json:"name"`
	Namespace string      `json:"namespace"`
	Fields    []avroField `json:"fields"`
}

// avroSchema builds a record schema of nullable string and double fields.
func avroSchema(schema *models.Schema) (string, error) {
	rec := avroRecord{Type: "record", Name: "Source", Namespace: "gaiadb"}
	for _, f := range schema.Fields() {
		t := "double"
		if f.Type == models.FieldTypeString {
			t = "string"
		}
		rec.Fields = append(rec.Fields, avroField{Name: f.Name, Type: []string{"null", t}})
	}
	b, err := gojson.Marshal(rec)
	return string(b), err
}

func avroCodecName(algo compression.Algorithm) string {
	switch algo {
	case compression.Snappy:
		return goavro.CompressionSnappyLabel
	case compression.None:
		return goavro.CompressionNullLabel
	default:
		return goavro.CompressionDeflateLabel
	}
}

type avroWriter struct {
	ocf    *goavro.OCFWriter
	fields []models.Field
}

func newAvroWriter(w io.Writer, schema *models.Schema, algo compression.Algorithm) (*avroWriter, error) {
	spec, err := avroSchema(schema)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to build avro schema")
	}
	codec, err := goavro.NewCodec(spec)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid avro schema")
	}
	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               w,
		Codec:           codec,
		CompressionName: avroCodecName(algo),
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create avro writer")
	}
	return &avroWriter{ocf: ocf, fields: schema.Fields()}, nil
}

// Write appends one OCF block per call.
func (a *avroWriter) Write(records []*models.Record) error {
	if len(records) == 0 {
		return nil
	}
	datums := make([]interface{}, 0, len(records))
	for _, rec := range records {
		datum := make(map[string]interface{}, len(a.fields))
		for _, f := range a.fields {
			v := value(rec, f.Name)
			switch {
			case f.Type == models.FieldTypeString && !v.IsNull():
				datum[f.Name] = goavro.Union("string", v.Text())
			case f.Type != models.FieldTypeString:
				if x, ok := v.Float(); ok {
					datum[f.Name] = goavro.Union("double", x)
				} else {
					datum[f.Name] = nil
				}
			default:
				datum[f.Name] = nil
			}
		}
		datums = append(datums, datum)
	}
	if err := a.ocf.Append(datums); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to append avro block")
	}
	return nil
}

// Close is a no-op; every Append writes a complete block.
func (a *avroWriter) Close() error { return nil }
