package parser

import (
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/gaiadb/pkg/errors"
	"github.com/ajitpratap0/gaiadb/pkg/models"
)

// projection maps schema columns to field positions in a row.
type projection struct {
	schema    *models.Schema
	positions []int
	nullToken string
}

// resolveHeader resolves requested columns against a header row. Missing
// columns are dropped with a warning; an empty projection is an error.
func resolveHeader(name string, header, columns []string, logger *zap.Logger) (*projection, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		if _, dup := index[h]; !dup {
			index[h] = i
		}
	}

	if len(columns) == 0 {
		columns = header
	}

	found := make([]string, 0, len(columns))
	positions := make([]int, 0, len(columns))
	var missing []string
	seen := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		i, ok := index[c]
		if !ok {
			missing = append(missing, c)
			continue
		}
		found = append(found, c)
		positions = append(positions, i)
	}

	if len(missing) > 0 {
		logger.Warn("projected columns missing from header",
			zap.String("source", name),
			zap.Strings("columns", missing))
	}
	if len(found) == 0 {
		return nil, errors.Newf(errors.ErrorTypeData, "no projected columns present in header of %s", name)
	}

	return &projection{schema: models.NewSchema(found...), positions: positions}, nil
}

// resolveLayout resolves requested columns against a fixed field layout.
func resolveLayout(layout Layout, columns []string) (*projection, error) {
	if len(columns) == 0 {
		columns = layout.Columns()
	}
	found := make([]string, 0, len(columns))
	positions := make([]int, 0, len(columns))
	for _, c := range columns {
		i, ok := layout.Fields[c]
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeConfig, "column %q is not part of the %s layout", c, layout.Name)
		}
		found = append(found, c)
		positions = append(positions, i)
	}
	return &projection{schema: models.NewSchema(found...), positions: positions, nullToken: layout.NullToken}, nil
}

// record builds a typed record from a row. Short rows yield nulls.
func (p *projection) record(fields []string) *models.Record {
	values := make([]models.Value, len(p.positions))
	names := p.schema.Fields()
	for i, pos := range p.positions {
		if pos >= len(fields) {
			continue
		}
		raw := fields[pos]
		if p.nullToken != "" && raw == p.nullToken {
			continue
		}
		values[i] = models.Coerce(names[i].Name, raw)
	}
	rec, _ := models.NewRecordWithValues(p.schema, values)
	return rec
}
