package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/gaiadb/pkg/config"
	"github.com/ajitpratap0/gaiadb/pkg/errors"
	"github.com/ajitpratap0/gaiadb/pkg/models"
	"github.com/ajitpratap0/gaiadb/pkg/parser"
	"github.com/ajitpratap0/gaiadb/pkg/photometry"
	"github.com/ajitpratap0/gaiadb/pkg/store"
)

// loader binds a dataset to its parser, filter and insert call.
type loader interface {
	Parser() parser.Parser
	Options() parser.Options
	// Transform filters one parsed batch into rows and returns how many
	// records it dropped.
	Transform(ctx context.Context, batch models.Batch, rows *batchRows) (int, error)
	// Insert writes rows in one transaction and returns the dataset's new rows.
	Insert(ctx context.Context, rows *batchRows) (int64, error)
}

func newLoader(dataset store.Dataset, cfg *config.Config, st Store, logger *zap.Logger) (loader, error) {
	switch dataset {
	case store.DatasetGaia:
		p, err := parser.New(cfg.Pipeline.Parser, cfg.Pipeline.GetWorkers(), logger)
		if err != nil {
			return nil, err
		}
		return &gaiaLoader{
			parser: p,
			store:  st,
			opts:   parser.Options{Columns: st.Columns(), ChunkSize: cfg.Pipeline.ChunkSize},
			filter: photometry.Filter{
				FluxColumn:     cfg.Catalog.FluxColumn,
				ZeroPoint:      cfg.Catalog.ZeroPoint,
				MagnitudeLimit: cfg.Catalog.MagnitudeLimit,
			},
		}, nil
	case store.DatasetCrossmatch:
		return &crossmatchLoader{
			parser: parser.NewCrossmatchParser(),
			store:  st,
			opts:   parser.Options{ChunkSize: cfg.Pipeline.ChunkSize},
		}, nil
	case store.DatasetPhotometry:
		return &photometryLoader{
			parser:    parser.NewPipeParser(parser.TwoMASSPSC),
			store:     st,
			opts:      parser.Options{Columns: parser.TwoMASSPSC.Columns(), ChunkSize: cfg.Pipeline.ChunkSize},
			radiusDeg: cfg.Crossmatch.PositionalRadiusDeg(),
			logger:    logger,
		}, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown dataset %q", dataset)
	}
}

// gaiaLoader keeps well-positioned sources within the magnitude limit.
type gaiaLoader struct {
	parser parser.Parser
	store  Store
	opts   parser.Options
	filter photometry.Filter
}

func (l *gaiaLoader) Parser() parser.Parser   { return l.parser }
func (l *gaiaLoader) Options() parser.Options { return l.opts }

func (l *gaiaLoader) Transform(_ context.Context, batch models.Batch, rows *batchRows) (int, error) {
	kept, dropped := l.filter.Apply(batch)
	rows.gaia = append(rows.gaia, kept...)
	return dropped, nil
}

func (l *gaiaLoader) Insert(ctx context.Context, rows *batchRows) (int64, error) {
	return l.store.InsertGaiaRecords(ctx, rows.gaia)
}

// crossmatchLoader keeps best-neighbour rows whose source is in the catalog.
type crossmatchLoader struct {
	parser parser.Parser
	store  Store
	opts   parser.Options
}

func (l *crossmatchLoader) Parser() parser.Parser   { return l.parser }
func (l *crossmatchLoader) Options() parser.Options { return l.opts }

func (l *crossmatchLoader) Transform(ctx context.Context, batch models.Batch, rows *batchRows) (int, error) {
	ids := make([]string, 0, len(batch))
	for _, r := range batch {
		if id := r.SourceID(); id != "" {
			ids = append(ids, id)
		}
	}
	existing, err := l.store.ExistingSourceIDs(ctx, ids)
	if err != nil {
		return 0, err
	}

	dropped := 0
	for _, r := range batch {
		id := r.SourceID()
		designation := r.StringValue(models.ColumnTmassDesignation)
		if _, ok := existing[id]; !ok || designation == "" {
			dropped++
			continue
		}
		rows.crossmatch = append(rows.crossmatch, models.CrossmatchRecord{
			SourceID:        id,
			Designation:     designation,
			AngularDistance: r.NullFloat(models.ColumnAngularDistance),
		})
	}
	return dropped, nil
}

func (l *crossmatchLoader) Insert(ctx context.Context, rows *batchRows) (int64, error) {
	n, _, err := l.store.InsertSecondary(ctx, rows.crossmatch, nil)
	return n, err
}

// photometryLoader attaches 2MASS magnitudes to catalog sources through the
// crossmatch table, falling back to a positional match when enabled.
type photometryLoader struct {
	parser    parser.Parser
	store     Store
	opts      parser.Options
	radiusDeg float64
	logger    *zap.Logger
}

func (l *photometryLoader) Parser() parser.Parser   { return l.parser }
func (l *photometryLoader) Options() parser.Options { return l.opts }

func (l *photometryLoader) Transform(ctx context.Context, batch models.Batch, rows *batchRows) (int, error) {
	designations := make([]string, 0, len(batch))
	for _, r := range batch {
		if d := r.StringValue(models.ColumnDesignation); d != "" {
			designations = append(designations, d)
		}
	}
	matched, err := l.store.SourceIDsForDesignations(ctx, designations)
	if err != nil {
		return 0, err
	}

	dropped := 0
	for _, r := range batch {
		designation := r.StringValue(models.ColumnDesignation)
		if designation == "" {
			dropped++
			continue
		}
		sourceID, ok := matched[designation]
		if !ok && l.radiusDeg > 0 {
			xm, err := l.positionalMatch(ctx, r, designation)
			if err != nil {
				return 0, err
			}
			if xm != nil {
				rows.crossmatch = append(rows.crossmatch, *xm)
				sourceID, ok = xm.SourceID, true
			}
		}
		if !ok {
			dropped++
			continue
		}
		rows.photometry = append(rows.photometry, models.PhotometryRecord{
			SourceID: sourceID,
			J:        r.NullFloat(models.ColumnJ),
			H:        r.NullFloat(models.ColumnH),
			K:        r.NullFloat(models.ColumnK),
		})
	}
	return dropped, nil
}

// positionalMatch returns a crossmatch to the nearest catalog source within
// the configured radius, or nil. Angular distance is stored in arcseconds.
func (l *photometryLoader) positionalMatch(ctx context.Context, r *models.Record, designation string) (*models.CrossmatchRecord, error) {
	ra, okRA := r.RA()
	dec, okDec := r.Dec()
	if !okRA || !okDec {
		return nil, nil
	}
	nearest, err := l.store.NearestSource(ctx, ra, dec, l.radiusDeg)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeValidation) {
			l.logger.Debug("skipping positional match", zap.String("designation", designation), zap.Error(err))
			return nil, nil
		}
		return nil, err
	}
	if nearest == nil {
		return nil, nil
	}
	xm := &models.CrossmatchRecord{SourceID: nearest.SourceID(), Designation: designation}
	if d, ok := nearest.Float(models.ColumnDistance); ok {
		xm.AngularDistance = models.NewNullFloat(d * 3600)
	}
	return xm, nil
}

func (l *photometryLoader) Insert(ctx context.Context, rows *batchRows) (int64, error) {
	_, n, err := l.store.InsertSecondary(ctx, rows.crossmatch, rows.photometry)
	return n, err
}
