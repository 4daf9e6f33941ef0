package parser

import (
	"context"
	"io"

	"github.com/jszwec/csvutil"

	"github.com/ajitpratap0/gaiadb/pkg/errors"
	"github.com/ajitpratap0/gaiadb/pkg/models"
)

// BackendCrossmatch names the best-neighbour decoder.
const BackendCrossmatch = "crossmatch"

// bestNeighbourRow is one row of the Gaia DR3 tmass_psc_xsc_best_neighbour table.
type bestNeighbourRow struct {
	SourceID        string           `csv:"source_id"`
	Designation     string           `csv:"original_ext_source_id"`
	AngularDistance models.NullFloat `csv:"angular_distance"`
}

// CrossmatchSchema is the record layout produced by CrossmatchParser.
var CrossmatchSchema = models.NewSchema(
	models.ColumnSourceID,
	models.ColumnTmassDesignation,
	models.ColumnAngularDistance,
)

// CrossmatchParser decodes the fixed-schema best-neighbour CSV. The
// projection is fixed, so Options.Columns is ignored.
type CrossmatchParser struct{}

// NewCrossmatchParser creates the best-neighbour decoder.
func NewCrossmatchParser() *CrossmatchParser { return &CrossmatchParser{} }

// Name returns the backend name.
func (p *CrossmatchParser) Name() string { return BackendCrossmatch }

// Parse opens src and reads its header.
func (p *CrossmatchParser) Parse(ctx context.Context, src Source, opts Options) (Iterator, error) {
	s, err := open(src, opts.Compression)
	if err != nil {
		return nil, err
	}

	it := &crossmatchIterator{ctx: ctx, stream: s, chunkSize: opts.chunkSize()}
	reader := newCSVReader(s, ',')
	reader.ReuseRecord = false
	dec, err := csvutil.NewDecoder(reader)
	if err == io.EOF {
		it.done = true
		return it, nil
	}
	if err != nil {
		_ = s.Close()
		return nil, wrapReadError(err, src.Name)
	}

	if err := requireHeader(dec.Header(), "source_id", "original_ext_source_id"); err != nil {
		_ = s.Close()
		return nil, errors.Wrapf(err, errors.ErrorTypeData, "unexpected header in %s", src.Name)
	}
	it.dec = dec
	return it, nil
}

func requireHeader(header []string, required ...string) error {
	present := make(map[string]struct{}, len(header))
	for _, h := range header {
		present[h] = struct{}{}
	}
	for _, r := range required {
		if _, ok := present[r]; !ok {
			return errors.Newf(errors.ErrorTypeData, "missing column %q", r)
		}
	}
	return nil
}

type crossmatchIterator struct {
	ctx       context.Context
	stream    *stream
	dec       *csvutil.Decoder
	chunkSize int
	done      bool
	err       error
}

func (it *crossmatchIterator) Next() (models.Batch, error) {
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
		var row bestNeighbourRow
		err := it.dec.Decode(&row)
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

		rec, _ := models.NewRecordWithValues(CrossmatchSchema, []models.Value{
			models.String(row.SourceID),
			models.String(row.Designation),
			row.AngularDistance.Value(),
		})
		batch = append(batch, rec)
	}
	return batch, nil
}

func (it *crossmatchIterator) Close() error {
	it.done = true
	return it.stream.Close()
}
