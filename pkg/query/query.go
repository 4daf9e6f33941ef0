// Package query is the read surface over the catalog store shared by the
// CLI and the HTTP API.
package query

import (
	"context"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/gaiadb/pkg/errors"
	"github.com/ajitpratap0/gaiadb/pkg/models"
	"github.com/ajitpratap0/gaiadb/pkg/observability"
	"github.com/ajitpratap0/gaiadb/pkg/photometry"
	"github.com/ajitpratap0/gaiadb/pkg/store"
)

// Catalog is the part of the store the service reads.
type Catalog interface {
	ConeSearch(ctx context.Context, q store.ConeQuery) ([]*models.Record, error)
	ConeSchema(includeSecondary bool) *models.Schema
	Counts(ctx context.Context) (map[string]int64, error)
	GetTrackingProgress(ctx context.Context, dataset store.Dataset) (models.TrackingProgress, error)
	FluxColumn() string
	ZeroPoint() float64
}

// ConeRequest is a cone search with its output representation.
type ConeRequest struct {
	RA               float64
	Dec              float64
	Radius           float64
	MagMin           *float64
	MagMax           *float64
	IncludeSecondary bool
	Limit            int
	Representation   photometry.Representation
}

func (r ConeRequest) coneQuery() store.ConeQuery {
	return store.ConeQuery{
		RA:               r.RA,
		Dec:              r.Dec,
		Radius:           r.Radius,
		MagMin:           r.MagMin,
		MagMax:           r.MagMax,
		IncludeSecondary: r.IncludeSecondary,
		Limit:            r.Limit,
	}
}

// ConeResult holds the rows of a cone search.
type ConeResult struct {
	Columns []string
	Records []*models.Record
	Elapsed time.Duration
}

// Stats summarizes the store.
type Stats struct {
	Tables   map[string]int64                   `json:"tables"`
	Tracking map[string]models.TrackingProgress `json:"tracking"`
}

// BenchmarkResult reports repeated cone search timings.
type BenchmarkResult struct {
	Iterations int           `json:"iterations"`
	Rows       int           `json:"rows"`
	Average    time.Duration `json:"average"`
	Min        time.Duration `json:"min"`
	Max        time.Duration `json:"max"`
}

// Service answers catalog queries.
type Service struct {
	catalog  Catalog
	maxLimit int
	logger   *zap.Logger
}

// New creates a service. A positive maxLimit caps every cone result.
func New(catalog Catalog, maxLimit int, logger *zap.Logger) *Service {
	return &Service{
		catalog:  catalog,
		maxLimit: maxLimit,
		logger:   logger.With(zap.String("component", "query")),
	}
}

// ConeSearch runs a cone search and applies the requested representation.
func (s *Service) ConeSearch(ctx context.Context, req ConeRequest) (*ConeResult, error) {
	rep, ok := photometry.ParseRepresentation(string(req.Representation))
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeValidation, "unknown representation %q (want flux or magnitude)", req.Representation)
	}
	if s.maxLimit > 0 && (req.Limit <= 0 || req.Limit > s.maxLimit) {
		req.Limit = s.maxLimit
	}

	ctx, span := observability.StartSpan(ctx, "query.cone",
		attribute.Float64("ra", req.RA),
		attribute.Float64("dec", req.Dec),
		attribute.Float64("radius", req.Radius))
	defer span.End()

	start := time.Now()
	recs, err := s.catalog.ConeSearch(ctx, req.coneQuery())
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	columns := s.catalog.ConeSchema(req.IncludeSecondary).Names()
	if rep == photometry.RepresentationMagnitude {
		flux := s.catalog.FluxColumn()
		recs = photometry.ToMagnitudes(recs, flux, s.catalog.ZeroPoint())
		for i, c := range columns {
			if c == flux {
				columns[i] = photometry.MagnitudeColumn(flux)
			}
		}
	}

	res := &ConeResult{Columns: columns, Records: recs, Elapsed: time.Since(start)}
	span.SetAttributes(attribute.Int("rows", len(recs)))
	s.logger.Info("cone search",
		zap.Float64("ra", req.RA),
		zap.Float64("dec", req.Dec),
		zap.Float64("radius", req.Radius),
		zap.Int("rows", len(recs)),
		zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

// Stats returns table row counts and tracking progress per dataset.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	counts, err := s.catalog.Counts(ctx)
	if err != nil {
		return nil, err
	}
	out := &Stats{Tables: counts, Tracking: make(map[string]models.TrackingProgress, len(store.Datasets))}
	for _, d := range store.Datasets {
		p, err := s.catalog.GetTrackingProgress(ctx, d)
		if err != nil {
			return nil, err
		}
		out.Tracking[string(d)] = p
	}
	return out, nil
}

// Benchmark runs the same cone search iterations times.
func (s *Service) Benchmark(ctx context.Context, req ConeRequest, iterations int) (*BenchmarkResult, error) {
	if iterations <= 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "iterations must be positive")
	}
	res := &BenchmarkResult{Iterations: iterations, Min: time.Duration(math.MaxInt64)}
	var total time.Duration
	for i := 0; i < iterations; i++ {
		start := time.Now()
		recs, err := s.catalog.ConeSearch(ctx, req.coneQuery())
		if err != nil {
			return nil, err
		}
		elapsed := time.Since(start)
		total += elapsed
		if elapsed < res.Min {
			res.Min = elapsed
		}
		if elapsed > res.Max {
			res.Max = elapsed
		}
		res.Rows = len(recs)
	}
	res.Average = total / time.Duration(iterations)

	s.logger.Info("benchmark finished",
		zap.Int("iterations", iterations),
		zap.Int("rows", res.Rows),
		zap.Duration("average", res.Average),
		zap.Duration("min", res.Min),
		zap.Duration("max", res.Max))
	return res, nil
}
