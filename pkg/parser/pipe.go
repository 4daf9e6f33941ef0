package parser

import (
	"context"
	"sort"

	"github.com/ajitpratap0/gaiadb/pkg/models"
)

// Layout describes a headerless delimited format by field position.
type Layout struct {
	Name      string
	Delimiter rune
	// NullToken is the literal marking a missing value
	NullToken string
	// Fields maps column names to zero-based field indices
	Fields map[string]int
}

// Columns returns the layout's columns ordered by field index.
func (l Layout) Columns() []string {
	cols := make([]string, 0, len(l.Fields))
	for c := range l.Fields {
		cols = append(cols, c)
	}
	sort.Slice(cols, func(i, j int) bool { return l.Fields[cols[i]] < l.Fields[cols[j]] })
	return cols
}

// TwoMASSPSC is the 2MASS All-Sky Point Source Catalog layout.
var TwoMASSPSC = Layout{
	Name:      "2mass_psc",
	Delimiter: '|',
	NullToken: `\N`,
	Fields: map[string]int{
		models.ColumnRA:          0,
		models.ColumnDec:         1,
		models.ColumnDesignation: 5,
		models.ColumnJ:           6,
		models.ColumnH:           10,
		models.ColumnK:           14,
	},
}

// PipeParser reads headerless delimited rows and selects fields by index.
type PipeParser struct {
	layout Layout
}

// NewPipeParser creates a parser for layout.
func NewPipeParser(layout Layout) *PipeParser {
	if layout.Delimiter == 0 {
		layout.Delimiter = '|'
	}
	return &PipeParser{layout: layout}
}

// Name returns the layout name.
func (p *PipeParser) Name() string { return p.layout.Name }

// Parse opens src. Requested columns must all belong to the layout.
func (p *PipeParser) Parse(ctx context.Context, src Source, opts Options) (Iterator, error) {
	proj, err := resolveLayout(p.layout, opts.Columns)
	if err != nil {
		return nil, err
	}

	s, err := open(src, opts.Compression)
	if err != nil {
		return nil, err
	}

	reader := newCSVReader(s, p.layout.Delimiter)
	reader.Comment = 0
	reader.LazyQuotes = true
	return &csvIterator{ctx: ctx, stream: s, reader: reader, proj: proj, chunkSize: opts.chunkSize()}, nil
}

