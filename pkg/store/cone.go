package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/gaiadb/pkg/errors"
	"github.com/ajitpratap0/gaiadb/pkg/metrics"
	"github.com/ajitpratap0/gaiadb/pkg/models"
	"github.com/ajitpratap0/gaiadb/pkg/photometry"
)

// boxPadding widens the bounding box so rounding never drops a source
// that passes the exact test.
const boxPadding = 1e-9

// capTolerance absorbs rounding in the separation of sources on the rim.
const capTolerance = 1e-12

// ConeQuery selects catalog sources within Radius degrees of (RA, Dec).
type ConeQuery struct {
	RA     float64
	Dec    float64
	Radius float64
	// MagMin and MagMax bound the magnitude of the flux column; nil is unbounded
	MagMin *float64
	MagMax *float64
	// IncludeSecondary joins crossmatch designations and J/H/K photometry
	IncludeSecondary bool
	// Limit caps the result after sorting by distance (0 = unlimited)
	Limit int
}

// Validate checks coordinates and ranges.
func (q ConeQuery) Validate() error {
	switch {
	case math.IsNaN(q.RA) || math.IsInf(q.RA, 0):
		return errors.New(errors.ErrorTypeValidation, "ra must be a finite number")
	case math.IsNaN(q.Dec) || q.Dec < -90 || q.Dec > 90:
		return errors.Newf(errors.ErrorTypeValidation, "dec %v outside [-90, 90]", q.Dec)
	case math.IsNaN(q.Radius) || q.Radius <= 0 || q.Radius > 180:
		return errors.Newf(errors.ErrorTypeValidation, "radius %v outside (0, 180]", q.Radius)
	case q.Limit < 0:
		return errors.New(errors.ErrorTypeValidation, "limit must not be negative")
	case q.MagMin != nil && q.MagMax != nil && *q.MagMin > *q.MagMax:
		return errors.Newf(errors.ErrorTypeValidation, "mag_min %v greater than mag_max %v", *q.MagMin, *q.MagMax)
	}
	return nil
}

// raRange is an inclusive right ascension interval within [0, 360].
type raRange struct {
	lo, hi float64
}

// box is the prefilter of a cone. A nil ras means every right ascension.
type box struct {
	decLo, decHi float64
	ras          []raRange
}

// boundingBox returns a box containing the whole spherical cap.
func boundingBox(ra, dec, radius float64) box {
	b := box{
		decLo: math.Max(dec-radius-boxPadding, -90),
		decHi: math.Min(dec+radius+boxPadding, 90),
	}
	if dec+radius >= 90 || dec-radius <= -90 {
		return b
	}

	cosDec := math.Cos(rad(dec))
	sinR := math.Sin(rad(radius))
	if sinR >= cosDec {
		return b
	}
	dra := math.Max(radius/cosDec, deg(math.Asin(sinR/cosDec))) + boxPadding
	if dra >= 180 {
		return b
	}

	lo, hi := ra-dra, ra+dra
	switch {
	case lo < 0:
		b.ras = []raRange{{lo + 360, 360}, {0, hi}}
	case hi >= 360:
		b.ras = []raRange{{lo, 360}, {0, hi - 360}}
	default:
		b.ras = []raRange{{lo, hi}}
	}
	return b
}

// ConeSearch returns the sources within the cone sorted by increasing
// distance, each with a distance column in degrees. The bounding box is a
// superset of the cap, and every candidate then passes the exact
// great-circle test.
func (s *Store) ConeSearch(ctx context.Context, q ConeQuery) ([]*models.Record, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if (q.MagMin != nil || q.MagMax != nil) && s.cfg.FluxColumn == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "magnitude range requires a configured flux column")
	}
	timer := metrics.NewTimer()
	defer func() { metrics.ConeSearchDuration.Observe(timer.Stop().Seconds()) }()

	ra := math.Mod(q.RA, 360)
	if ra < 0 {
		ra += 360
	}

	query, args, schema := s.coneSQL(ra, q)
	candidates, err := s.scanCone(ctx, query, args, schema)
	if err != nil {
		return nil, err
	}

	sinDec, cosDec := math.Sincos(rad(q.Dec))
	type hit struct {
		rec  *models.Record
		dist float64
	}
	hits := make([]hit, 0, len(candidates))
	for _, rec := range candidates {
		sra, ok1 := rec.RA()
		sdec, ok2 := rec.Dec()
		if !ok1 || !ok2 {
			continue
		}
		d := separation(sinDec, cosDec, ra, sra, sdec)
		if d > q.Radius+capTolerance {
			continue
		}
		_ = rec.Set(models.ColumnDistance, models.Number(d))
		hits = append(hits, hit{rec: rec, dist: d})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].rec.SourceID() < hits[j].rec.SourceID()
	})
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}

	out := make([]*models.Record, len(hits))
	for i, h := range hits {
		out[i] = h.rec
	}
	s.logger.Debug("cone search",
		zap.Float64("ra", ra), zap.Float64("dec", q.Dec), zap.Float64("radius", q.Radius),
		zap.Int("candidates", len(candidates)), zap.Int("results", len(out)))
	return out, nil
}

// NearestSource returns the closest source within radius degrees, or nil.
func (s *Store) NearestSource(ctx context.Context, ra, dec, radius float64) (*models.Record, error) {
	recs, err := s.ConeSearch(ctx, ConeQuery{RA: ra, Dec: dec, Radius: radius, Limit: 1})
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

// ConeSchema returns the columns of a cone result.
func (s *Store) ConeSchema(includeSecondary bool) *models.Schema {
	cols := append([]string(nil), s.gaiaColumns...)
	if includeSecondary {
		cols = append(cols, models.ColumnTmassDesignation, models.ColumnJ, models.ColumnH, models.ColumnK)
	}
	return models.NewSchema(append(cols, models.ColumnDistance)...)
}

func (s *Store) coneSQL(ra float64, q ConeQuery) (string, []interface{}, *models.Schema) {
	d := s.dialect
	g := func(c string) string { return "g." + d.quote(c) }

	selects := make([]string, 0, len(s.gaiaColumns)+4)
	for _, c := range s.gaiaColumns {
		selects = append(selects, g(c))
	}
	from := d.quote(TableGaia) + " g"
	if q.IncludeSecondary {
		selects = append(selects,
			"x."+d.quote(models.ColumnTmassDesignation),
			"p."+d.quote(models.ColumnJ),
			"p."+d.quote(models.ColumnH),
			"p."+d.quote(models.ColumnK))
		from += fmt.Sprintf(" LEFT JOIN %s x ON x.%s = g.%s LEFT JOIN %s p ON p.%s = g.%s",
			d.quote(TableCrossmatch), d.quote(models.ColumnSourceID), d.quote(models.ColumnSourceID),
			d.quote(TablePhotometry), d.quote(models.ColumnSourceID), d.quote(models.ColumnSourceID))
	}

	var args []interface{}
	next := func(v float64) string {
		args = append(args, v)
		return d.placeholder(len(args))
	}

	b := boundingBox(ra, q.Dec, q.Radius)
	where := []string{fmt.Sprintf("%s BETWEEN %s AND %s", g(models.ColumnDec), next(b.decLo), next(b.decHi))}
	if len(b.ras) > 0 {
		parts := make([]string, len(b.ras))
		for i, r := range b.ras {
			parts[i] = fmt.Sprintf("%s BETWEEN %s AND %s", g(models.ColumnRA), next(r.lo), next(r.hi))
		}
		where = append(where, "("+strings.Join(parts, " OR ")+")")
	}

	fluxMin, fluxMax := photometry.FluxRange(q.MagMin, q.MagMax, s.cfg.ZeroPoint)
	if fluxMin != nil {
		where = append(where, fmt.Sprintf("%s >= %s", g(s.cfg.FluxColumn), next(*fluxMin)))
	}
	if fluxMax != nil {
		where = append(where, fmt.Sprintf("%s <= %s", g(s.cfg.FluxColumn), next(*fluxMax)))
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s", strings.Join(selects, ", "), from, strings.Join(where, " AND "))
	return query, args, s.ConeSchema(q.IncludeSecondary)
}

// scanCone reads every candidate row before returning.
func (s *Store) scanCone(ctx context.Context, query string, args []interface{}, schema *models.Schema) ([]*models.Record, error) {
	fields := schema.Fields()
	// the trailing distance column is computed, not selected
	selected := fields[:len(fields)-1]

	var out []*models.Record
	err := s.scanAll(ctx, query, args, func(rows *sql.Rows) error {
		strs := make([]sql.NullString, len(selected))
		nums := make([]sql.NullFloat64, len(selected))
		dest := make([]interface{}, len(selected))
		for i, f := range selected {
			if f.Type == models.FieldTypeString {
				dest[i] = &strs[i]
			} else {
				dest[i] = &nums[i]
			}
		}
		if err := rows.Scan(dest...); err != nil {
			return err
		}

		values := make([]models.Value, len(fields))
		for i, f := range selected {
			if f.Type == models.FieldTypeString {
				if strs[i].Valid {
					values[i] = models.String(strs[i].String)
				}
				continue
			}
			values[i] = models.NumberOrNull(nums[i].Float64, nums[i].Valid)
		}
		rec, err := models.NewRecordWithValues(schema, values)
		if err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "cone search failed")
	}
	return out, nil
}

// separation returns the great-circle distance in degrees between the
// center (given by the sine and cosine of its declination and its right
// ascension) and a source, using the Vincenty form, which stays accurate
// for tiny and antipodal separations.
func separation(sinDec1, cosDec1, ra1, ra2, dec2 float64) float64 {
	sinDec2, cosDec2 := math.Sincos(rad(dec2))
	sinDRA, cosDRA := math.Sincos(rad(ra2 - ra1))

	num1 := cosDec2 * sinDRA
	num2 := cosDec1*sinDec2 - sinDec1*cosDec2*cosDRA
	den := sinDec1*sinDec2 + cosDec1*cosDec2*cosDRA
	return deg(math.Atan2(math.Hypot(num1, num2), den))
}

func rad(d float64) float64 { return d * math.Pi / 180 }
func deg(r float64) float64 { return r * 180 / math.Pi }
