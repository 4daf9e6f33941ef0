package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/gaiadb/pkg/errors"
	"github.com/ajitpratap0/gaiadb/pkg/models"
)

// formatValue renders a value for text outputs; null is empty.
func formatValue(v models.Value) string {
	if f, ok := v.Float(); ok {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	if v.IsNull() {
		return ""
	}
	return v.Text()
}

type csvWriter struct {
	w     *csv.Writer
	names []string
	row   []string
}

func newCSVWriter(w io.Writer, schema *models.Schema) (*csvWriter, error) {
	names := schema.Names()
	cw := &csvWriter{w: csv.NewWriter(w), names: names, row: make([]string, len(names))}
	if err := cw.w.Write(names); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to write csv header")
	}
	return cw, nil
}

func (c *csvWriter) Write(records []*models.Record) error {
	for _, rec := range records {
		for i, n := range c.names {
			c.row[i] = formatValue(value(rec, n))
		}
		if err := c.w.Write(c.row); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to write csv row")
		}
	}
	return nil
}

func (c *csvWriter) Close() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to flush csv")
	}
	return nil
}

type jsonlWriter struct {
	enc   *gojson.Encoder
	names []string
}

func newJSONLWriter(w io.Writer, schema *models.Schema) *jsonlWriter {
	enc := gojson.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &jsonlWriter{enc: enc, names: schema.Names()}
}

func (j *jsonlWriter) Write(records []*models.Record) error {
	for _, rec := range records {
		row := make(map[string]interface{}, len(j.names))
		for _, n := range j.names {
			row[n] = value(rec, n).Interface()
		}
		if err := j.enc.Encode(row); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to write json line")
		}
	}
	return nil
}

func (j *jsonlWriter) Close() error { return nil }

// tableWriter aligns columns for terminal output. Rows are buffered until
// Close because column widths depend on every row.
type tableWriter struct {
	tw    *tabwriter.Writer
	names []string
	rows  int
}

func newTableWriter(w io.Writer, schema *models.Schema) *tableWriter {
	t := &tableWriter{tw: tabwriter.NewWriter(w, 0, 4, 2, ' ', 0), names: schema.Names()}
	t.line(t.names)
	return t
}

func (t *tableWriter) line(cells []string) {
	for i, c := range cells {
		if i > 0 {
			_, _ = io.WriteString(t.tw, "\t")
		}
		_, _ = io.WriteString(t.tw, c)
	}
	_, _ = io.WriteString(t.tw, "\n")
}

func (t *tableWriter) Write(records []*models.Record) error {
	cells := make([]string, len(t.names))
	for _, rec := range records {
		for i, n := range t.names {
			v := value(rec, n)
			switch {
			case v.IsNull():
				cells[i] = "-"
			default:
				if f, ok := v.Float(); ok {
					cells[i] = strconv.FormatFloat(f, 'f', 6, 64)
				} else {
					cells[i] = v.Text()
				}
			}
		}
		t.line(cells)
		t.rows++
	}
	return nil
}

func (t *tableWriter) Close() error {
	_, _ = fmt.Fprintf(t.tw, "(%d rows)\n", t.rows)
	if err := t.tw.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write table")
	}
	return nil
}
