// Package photometry converts between fluxes and magnitudes and filters
// catalog batches by brightness.
package photometry

import (
	"math"

	"github.com/ajitpratap0/gaiadb/pkg/models"
)

// FluxToMagnitude converts a flux to a magnitude: zp - 2.5*log10(flux).
// ok is false for non-positive or non-finite flux.
func FluxToMagnitude(flux, zeroPoint float64) (float64, bool) {
	if !(flux > 0) || math.IsInf(flux, 0) {
		return 0, false
	}
	return zeroPoint - 2.5*math.Log10(flux), true
}

// MagnitudeToFlux converts a magnitude to a flux: 10^((zp - mag)/2.5).
func MagnitudeToFlux(mag, zeroPoint float64) float64 {
	return math.Pow(10, (zeroPoint-mag)/2.5)
}

// FluxRange converts an optional magnitude range into a flux range. The
// faint limit (magMax) bounds the flux from below and the bright limit
// (magMin) bounds it from above. Nil bounds stay open.
func FluxRange(magMin, magMax *float64, zeroPoint float64) (fluxMin, fluxMax *float64) {
	if magMax != nil {
		f := MagnitudeToFlux(*magMax, zeroPoint)
		fluxMin = &f
	}
	if magMin != nil {
		f := MagnitudeToFlux(*magMin, zeroPoint)
		fluxMax = &f
	}
	return fluxMin, fluxMax
}

// Filter keeps catalog records that are bright enough and well positioned.
type Filter struct {
	FluxColumn     string
	ZeroPoint      float64
	MagnitudeLimit float64
}

// Keep reports whether a record passes the magnitude limit. Records with
// null, zero or negative flux are always rejected.
func (f Filter) Keep(r *models.Record) bool {
	flux, ok := r.Float(f.FluxColumn)
	if !ok {
		return false
	}
	mag, ok := FluxToMagnitude(flux, f.ZeroPoint)
	if !ok {
		return false
	}
	return mag <= f.MagnitudeLimit
}

// FilterByMagnitude returns the records of batch kept by f, in order. The
// input slice is not modified.
func (f Filter) FilterByMagnitude(batch models.Batch) models.Batch {
	out := make(models.Batch, 0, len(batch))
	for _, r := range batch {
		if f.Keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// ValidPosition reports whether a record carries ra in [0,360) and dec in [-90,90].
func ValidPosition(r *models.Record) bool {
	ra, ok := r.RA()
	if !ok || !(ra >= 0 && ra < 360) {
		return false
	}
	dec, ok := r.Dec()
	return ok && dec >= -90 && dec <= 90
}

// Apply filters a catalog batch by position and magnitude and returns the
// kept records together with the number dropped.
func (f Filter) Apply(batch models.Batch) (models.Batch, int) {
	out := make(models.Batch, 0, len(batch))
	for _, r := range batch {
		if r.SourceID() == "" || !ValidPosition(r) || !f.Keep(r) {
			continue
		}
		out = append(out, r)
	}
	return out, len(batch) - len(out)
}

// Representation selects how brightness is returned from queries.
type Representation string

const (
	// RepresentationFlux returns the stored flux
	RepresentationFlux Representation = "flux"
	// RepresentationMagnitude replaces the flux with a derived magnitude
	RepresentationMagnitude Representation = "magnitude"
)

// ParseRepresentation validates a representation name; empty means flux.
func ParseRepresentation(s string) (Representation, bool) {
	switch Representation(s) {
	case "", RepresentationFlux:
		return RepresentationFlux, true
	case RepresentationMagnitude:
		return RepresentationMagnitude, true
	default:
		return "", false
	}
}

// MagnitudeColumn names the derived magnitude column for a flux column,
// e.g. phot_g_mean_flux -> phot_g_mean_mag.
func MagnitudeColumn(fluxColumn string) string {
	const suffix = "_flux"
	if n := len(fluxColumn); n > len(suffix) && fluxColumn[n-len(suffix):] == suffix {
		return fluxColumn[:n-len(suffix)] + "_mag"
	}
	return fluxColumn + "_mag"
}

// ToMagnitudes rewrites records so the flux column is replaced by its
// magnitude. Non-positive fluxes become null. Records are copied.
func ToMagnitudes(records []*models.Record, fluxColumn string, zeroPoint float64) []*models.Record {
	if len(records) == 0 {
		return records
	}
	src := records[0].Schema()
	fluxIdx, ok := src.Index(fluxColumn)
	if !ok {
		return records
	}
	magName := MagnitudeColumn(fluxColumn)
	fields := src.Fields()
	fields[fluxIdx] = models.Field{Name: magName, Type: models.FieldTypeFloat}
	schema := models.NewSchemaFromFields(fields...)

	out := make([]*models.Record, 0, len(records))
	for _, r := range records {
		values := make([]models.Value, len(r.Values()))
		copy(values, r.Values())
		flux, _ := values[fluxIdx].Float()
		values[fluxIdx] = models.NumberOrNull(FluxToMagnitude(flux, zeroPoint))
		rec, err := models.NewRecordWithValues(schema, values)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out
}
