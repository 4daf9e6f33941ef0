package query

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/gaiadb/pkg/errors"
	"github.com/ajitpratap0/gaiadb/pkg/models"
	"github.com/ajitpratap0/gaiadb/pkg/photometry"
	"github.com/ajitpratap0/gaiadb/pkg/store"
	"github.com/ajitpratap0/gaiadb/pkg/testutil"
)

const flux = "phot_g_mean_flux"

func newCatalog(ctx context.Context, t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(ctx, store.Config{
		Driver:     store.DriverSQLite,
		Path:       filepath.Join(t.TempDir(), "q.db"),
		Columns:    []string{flux},
		FluxColumn: flux,
		ZeroPoint:  25.6874,
	}, testutil.TestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Initialize(ctx))

	schema := models.NewSchema(models.ColumnSourceID, models.ColumnRA, models.ColumnDec, flux)
	var batch models.Batch
	for _, row := range []struct {
		id      string
		ra, dec float64
		flux    float64
	}{
		{"1", 120, -45, 1e4},
		{"2", 120.05, -45, 0},
		{"3", 120, -44.9, 100},
	} {
		rec, err := models.NewRecordWithValues(schema, []models.Value{
			models.String(row.id), models.Number(row.ra), models.Number(row.dec), models.Number(row.flux),
		})
		require.NoError(t, err)
		batch = append(batch, rec)
	}
	_, err = st.InsertGaiaRecords(ctx, batch)
	require.NoError(t, err)
	return st
}

func TestConeSearchFluxRepresentation(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	svc := New(newCatalog(ctx, t), 0, testutil.TestLogger(t))

	res, err := svc.ConeSearch(ctx, ConeRequest{RA: 120, Dec: -45, Radius: 0.2})
	require.NoError(t, err)
	assert.Equal(t, []string{"source_id", "ra", "dec", flux, "distance"}, res.Columns)
	require.Len(t, res.Records, 3)
	assert.Equal(t, "1", res.Records[0].SourceID())
	f, ok := res.Records[0].Float(flux)
	assert.True(t, ok)
	assert.Equal(t, 1e4, f)
}

func TestConeSearchMagnitudeRepresentation(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	svc := New(newCatalog(ctx, t), 0, testutil.TestLogger(t))

	res, err := svc.ConeSearch(ctx, ConeRequest{
		RA: 120, Dec: -45, Radius: 0.2,
		Representation: photometry.RepresentationMagnitude,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"source_id", "ra", "dec", "phot_g_mean_mag", "distance"}, res.Columns)
	require.Len(t, res.Records, 3)

	mag, ok := res.Records[0].Float("phot_g_mean_mag")
	require.True(t, ok)
	assert.InDelta(t, 15.6874, mag, 1e-9)

	byID := map[string]*models.Record{}
	for _, r := range res.Records {
		byID[r.SourceID()] = r
	}
	v, _ := byID["2"].Get("phot_g_mean_mag")
	assert.True(t, v.IsNull(), "zero flux has no magnitude")
	assert.Equal(t, res.Columns, res.Records[0].Schema().Names())
}

func TestConeSearchLimitCap(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	svc := New(newCatalog(ctx, t), 2, testutil.TestLogger(t))

	res, err := svc.ConeSearch(ctx, ConeRequest{RA: 120, Dec: -45, Radius: 0.2})
	require.NoError(t, err)
	assert.Len(t, res.Records, 2)

	res, err = svc.ConeSearch(ctx, ConeRequest{RA: 120, Dec: -45, Radius: 0.2, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, res.Records, 1)
}

func TestConeSearchValidation(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	svc := New(newCatalog(ctx, t), 0, testutil.TestLogger(t))

	_, err := svc.ConeSearch(ctx, ConeRequest{RA: 0, Dec: 0, Radius: -1})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = svc.ConeSearch(ctx, ConeRequest{RA: 0, Dec: 0, Radius: 1, Representation: "jansky"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestStats(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	st := newCatalog(ctx, t)
	require.NoError(t, st.InitializeTracking(ctx, store.DatasetGaia, []string{"a", "b"}))
	require.NoError(t, st.MarkFileCompleted(ctx, store.DatasetGaia, "a"))

	stats, err := New(st, 0, testutil.TestLogger(t)).Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Tables[store.TableGaia])
	assert.Equal(t, int64(0), stats.Tables[store.TablePhotometry])
	assert.Equal(t, models.TrackingProgress{Completed: 1, Pending: 1, Total: 2}, stats.Tracking["gaia"])
	assert.Equal(t, models.TrackingProgress{}, stats.Tracking["photometry"])
}

func TestBenchmark(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	svc := New(newCatalog(ctx, t), 0, testutil.TestLogger(t))

	res, err := svc.Benchmark(ctx, ConeRequest{RA: 120, Dec: -45, Radius: 0.2}, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Iterations)
	assert.Equal(t, 3, res.Rows)
	assert.LessOrEqual(t, res.Min, res.Average)
	assert.LessOrEqual(t, res.Average, res.Max)

	_, err = svc.Benchmark(ctx, ConeRequest{RA: 120, Dec: -45, Radius: 0.2}, 0)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}
