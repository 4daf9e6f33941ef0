package store

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/ajitpratap0/gaiadb/pkg/errors"
	"github.com/ajitpratap0/gaiadb/pkg/models"
	"github.com/ajitpratap0/gaiadb/pkg/testutil"
)

const (
	testFlux      = "phot_g_mean_flux"
	testZeroPoint = 25.6874
)

type StoreTestSuite struct {
	suite.Suite
	ctx    context.Context
	cancel context.CancelFunc
	store  *Store
	schema *models.Schema
}

func (s *StoreTestSuite) SetupTest() {
	s.ctx, s.cancel = testutil.TestContext(s.T())

	cfg := Config{
		Driver:     DriverSQLite,
		Path:       filepath.Join(s.T().TempDir(), "catalog.db"),
		Columns:    []string{"parallax", testFlux},
		FluxColumn: testFlux,
		ZeroPoint:  testZeroPoint,
	}
	st, err := Open(s.ctx, cfg, testutil.TestLogger(s.T()))
	s.Require().NoError(err)
	s.Require().NoError(st.Initialize(s.ctx))
	s.store = st
	s.schema = models.NewSchema(models.ColumnSourceID, models.ColumnRA, models.ColumnDec, "parallax", testFlux)
}

func (s *StoreTestSuite) TearDownTest() {
	if s.store != nil {
		s.NoError(s.store.Close())
	}
	s.cancel()
}

func (s *StoreTestSuite) source(id string, ra, dec, flux float64) *models.Record {
	rec, err := models.NewRecordWithValues(s.schema, []models.Value{
		models.String(id), models.Number(ra), models.Number(dec), models.Number(1.5), models.Number(flux),
	})
	s.Require().NoError(err)
	return rec
}

func (s *StoreTestSuite) insert(recs ...*models.Record) {
	_, err := s.store.InsertGaiaRecords(s.ctx, recs)
	s.Require().NoError(err)
}

func (s *StoreTestSuite) ids(recs []*models.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.SourceID()
	}
	return out
}

func (s *StoreTestSuite) TestInitializeIsIdempotent() {
	s.Require().NoError(s.store.Initialize(s.ctx))

	counts, err := s.store.Counts(s.ctx)
	s.Require().NoError(err)
	s.Equal(map[string]int64{TableGaia: 0, TableCrossmatch: 0, TablePhotometry: 0}, counts)
}

func (s *StoreTestSuite) TestInitializeAddsConfiguredColumns() {
	cfg := s.store.cfg
	cfg.Columns = append(cfg.Columns, "pmra")
	s.Require().NoError(s.store.Close())

	st, err := Open(s.ctx, cfg, testutil.TestLogger(s.T()))
	s.Require().NoError(err)
	s.store = st
	s.Require().NoError(st.Initialize(s.ctx))

	cols, err := st.tableColumns(s.ctx, TableGaia)
	s.Require().NoError(err)
	s.Contains(cols, "pmra")
	s.Contains(cols, testFlux)
}

func (s *StoreTestSuite) TestInsertIgnoresExistingSourceIDs() {
	batch := models.Batch{
		s.source("1", 10, 10, 100),
		s.source("2", 11, 10, 100),
		s.source("3", 12, 10, 100),
	}
	n, err := s.store.InsertGaiaRecords(s.ctx, batch)
	s.Require().NoError(err)
	s.Equal(int64(3), n)

	n, err = s.store.InsertGaiaRecords(s.ctx, append(batch, s.source("4", 13, 10, 100)))
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	count, err := s.store.Count(s.ctx, TableGaia)
	s.Require().NoError(err)
	s.Equal(int64(4), count)

	n, err = s.store.InsertGaiaRecords(s.ctx, nil)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *StoreTestSuite) TestNonNumericValuesAreStoredAsNull() {
	rec := s.source("7", 1, 1, 100)
	s.Require().NoError(rec.Set("parallax", models.String("NOT_AVAILABLE")))
	partial, err := models.NewRecordWithValues(
		models.NewSchema(models.ColumnSourceID, models.ColumnRA, models.ColumnDec),
		[]models.Value{models.String("8"), models.Number(2), models.Number(2)})
	s.Require().NoError(err)
	s.insert(rec, partial)

	var nulls int64
	s.Require().NoError(s.store.DB().QueryRowContext(s.ctx,
		`SELECT COUNT(*) FROM gaia_source WHERE parallax IS NULL`).Scan(&nulls))
	s.Equal(int64(2), nulls)

	var fluxNulls int64
	s.Require().NoError(s.store.DB().QueryRowContext(s.ctx,
		`SELECT COUNT(*) FROM gaia_source WHERE phot_g_mean_flux IS NULL`).Scan(&fluxNulls))
	s.Equal(int64(1), fluxNulls)
}

func (s *StoreTestSuite) TestSecondaryInserts() {
	xmatch := []models.CrossmatchRecord{
		{SourceID: "1", Designation: "00000001+0000001", AngularDistance: models.NewNullFloat(0.12)},
		{SourceID: "2", Designation: "00000002+0000002"},
	}
	phot := []models.PhotometryRecord{
		{SourceID: "1", J: models.NewNullFloat(12.1), H: models.NewNullFloat(11.8)},
	}
	nx, np, err := s.store.InsertSecondary(s.ctx, xmatch, phot)
	s.Require().NoError(err)
	s.Equal(int64(2), nx)
	s.Equal(int64(1), np)

	nx, err = s.store.InsertCrossmatchRecords(s.ctx, xmatch)
	s.Require().NoError(err)
	s.Zero(nx)
	np, err = s.store.InsertPhotometryRecords(s.ctx, phot)
	s.Require().NoError(err)
	s.Zero(np)

	ok, err := s.store.HasCrossmatch(s.ctx, "1")
	s.Require().NoError(err)
	s.True(ok)
	ok, err = s.store.HasCrossmatch(s.ctx, "9")
	s.Require().NoError(err)
	s.False(ok)

	ids, err := s.store.SourceIDsForDesignations(s.ctx, []string{"00000002+0000002", "missing", ""})
	s.Require().NoError(err)
	s.Equal(map[string]string{"00000002+0000002": "2"}, ids)
}

func (s *StoreTestSuite) TestLookupSpansChunks() {
	batch := make(models.Batch, 0, 1200)
	for i := 0; i < 1200; i++ {
		batch = append(batch, s.source(fmt.Sprintf("%d", 1000+i), 5, 5, 100))
	}
	s.insert(batch...)

	query := make([]string, 0, 1300)
	for i := 0; i < 1300; i++ {
		query = append(query, fmt.Sprintf("%d", 1000+i))
	}
	query = append(query, "1000", "1000")

	found, err := s.store.ExistingSourceIDs(s.ctx, query)
	s.Require().NoError(err)
	s.Len(found, 1200)
	s.Contains(found, "2199")
	s.NotContains(found, "2200")
}

func (s *StoreTestSuite) TestTrackingNeverRegresses() {
	urls := []string{"https://x/a.csv.gz", "https://x/b.csv.gz", "https://x/c.csv.gz"}
	s.Require().NoError(s.store.InitializeTracking(s.ctx, DatasetGaia, urls))

	s.Require().NoError(s.store.MarkFileCompleted(s.ctx, DatasetGaia, urls[0]))
	s.Require().NoError(s.store.MarkFileFailed(s.ctx, DatasetGaia, urls[1], "connection reset"))
	s.Require().NoError(s.store.MarkFileFailed(s.ctx, DatasetGaia, urls[1], strings.Repeat("x", 5000)))

	// a later listing re-initializes every url
	s.Require().NoError(s.store.InitializeTracking(s.ctx, DatasetGaia, append(urls, "https://x/d.csv.gz")))

	done, err := s.store.IsFileProcessed(s.ctx, DatasetGaia, urls[0])
	s.Require().NoError(err)
	s.True(done)
	done, err = s.store.IsFileProcessed(s.ctx, DatasetGaia, urls[1])
	s.Require().NoError(err)
	s.False(done)
	done, err = s.store.IsFileProcessed(s.ctx, DatasetGaia, "https://x/unknown.csv.gz")
	s.Require().NoError(err)
	s.False(done)

	entries, err := s.store.TrackingEntries(s.ctx, DatasetGaia)
	s.Require().NoError(err)
	s.Require().Len(entries, 4)
	s.Equal(models.FileStatusCompleted, entries[0].Status)
	s.Equal(1, entries[0].Attempts)
	s.Equal(models.FileStatusFailed, entries[1].Status)
	s.Equal(2, entries[1].Attempts)
	s.Len(entries[1].LastError, maxErrorLength)
	s.Equal(models.FileStatusPending, entries[2].Status)
	s.Zero(entries[2].Attempts)
	s.False(entries[0].UpdatedAt.IsZero())

	progress, err := s.store.GetTrackingProgress(s.ctx, DatasetGaia)
	s.Require().NoError(err)
	s.Equal(models.TrackingProgress{Completed: 1, Failed: 1, Pending: 2, Total: 4}, progress)
	s.Equal(int64(3), progress.Remaining())

	completed, err := s.store.CompletedURLs(s.ctx, DatasetGaia)
	s.Require().NoError(err)
	s.Equal(map[string]struct{}{urls[0]: {}}, completed)

	// a failed file completes on a later run
	s.Require().NoError(s.store.MarkFilesCompleted(s.ctx, DatasetGaia, []string{urls[1]}))
	progress, err = s.store.GetTrackingProgress(s.ctx, DatasetGaia)
	s.Require().NoError(err)
	s.Equal(int64(2), progress.Completed)
	s.Zero(progress.Failed)
}

func (s *StoreTestSuite) TestTrackingTablesAreSeparate() {
	s.Require().NoError(s.store.InitializeTracking(s.ctx, DatasetCrossmatch, []string{"u"}))
	s.Require().NoError(s.store.MarkFileCompleted(s.ctx, DatasetCrossmatch, "u"))

	done, err := s.store.IsFileProcessed(s.ctx, DatasetPhotometry, "u")
	s.Require().NoError(err)
	s.False(done)

	n, err := s.store.Count(s.ctx, DatasetCrossmatch.TrackingTable())
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	_, err = s.store.Count(s.ctx, "sqlite_master")
	s.True(errors.IsType(err, errors.ErrorTypeValidation))
}

func (s *StoreTestSuite) TestConeSearchSortsByDistance() {
	s.insert(
		s.source("10", 100.0, 20.0, 100),
		s.source("11", 100.3, 20.0, 100),
		s.source("12", 100.0, 20.1, 100),
		s.source("13", 101.0, 20.0, 100),
		s.source("14", 100.0, 21.0, 100),
	)

	recs, err := s.store.ConeSearch(s.ctx, ConeQuery{RA: 100, Dec: 20, Radius: 0.5})
	s.Require().NoError(err)
	s.Equal([]string{"10", "12", "11"}, s.ids(recs))

	d, ok := recs[0].Float(models.ColumnDistance)
	s.True(ok)
	s.InDelta(0, d, 1e-9)
	d, _ = recs[1].Float(models.ColumnDistance)
	s.InDelta(0.1, d, 1e-9)
	s.Equal(s.store.ConeSchema(false).Names(), recs[0].Schema().Names())

	recs, err = s.store.ConeSearch(s.ctx, ConeQuery{RA: 100, Dec: 20, Radius: 0.5, Limit: 2})
	s.Require().NoError(err)
	s.Equal([]string{"10", "12"}, s.ids(recs))
}

func (s *StoreTestSuite) TestConeSearchAcrossZeroRA() {
	s.insert(
		s.source("20", 359.8, 10.0, 100),
		s.source("21", 0.1, 10.0, 100),
		s.source("22", 1.5, 10.0, 100),
		s.source("23", 358.0, 10.0, 100),
	)

	for _, ra := range []float64{0, 360, -360, 720} {
		recs, err := s.store.ConeSearch(s.ctx, ConeQuery{RA: ra, Dec: 10, Radius: 0.5})
		s.Require().NoError(err)
		s.Equal([]string{"21", "20"}, s.ids(recs), "center ra %v", ra)
	}

	recs, err := s.store.ConeSearch(s.ctx, ConeQuery{RA: 359.9, Dec: 10, Radius: 0.5})
	s.Require().NoError(err)
	s.ElementsMatch([]string{"20", "21"}, s.ids(recs))
}

func (s *StoreTestSuite) TestConeSearchNearPoles() {
	s.insert(
		s.source("30", 0, 89.9, 100),
		s.source("31", 180, 89.9, 100),
		s.source("32", 90, 89.5, 100),
		s.source("33", 45, -89.95, 100),
		s.source("34", 225, -89.95, 100),
	)

	recs, err := s.store.ConeSearch(s.ctx, ConeQuery{RA: 0, Dec: 90, Radius: 0.2})
	s.Require().NoError(err)
	// equal distances break ties on source_id
	s.Equal([]string{"30", "31"}, s.ids(recs))

	// the cap contains the pole but is not centered on it
	recs, err = s.store.ConeSearch(s.ctx, ConeQuery{RA: 0, Dec: 89.85, Radius: 0.3})
	s.Require().NoError(err)
	s.Equal([]string{"30", "31"}, s.ids(recs))

	recs, err = s.store.ConeSearch(s.ctx, ConeQuery{RA: 300, Dec: -89.99, Radius: 0.1})
	s.Require().NoError(err)
	s.ElementsMatch([]string{"33", "34"}, s.ids(recs))
}

func (s *StoreTestSuite) TestConeSearchWholeSky() {
	s.insert(
		s.source("40", 0, 0, 100),
		s.source("41", 180, 0, 100),
		s.source("42", 90, -60, 100),
	)
	recs, err := s.store.ConeSearch(s.ctx, ConeQuery{RA: 0, Dec: 0, Radius: 180})
	s.Require().NoError(err)
	s.Equal([]string{"40", "42", "41"}, s.ids(recs))
}

func (s *StoreTestSuite) TestConeSearchMagnitudeRange() {
	s.insert(
		s.source("50", 10, 10, 1e4),    // G = 15.69
		s.source("51", 10, 10.01, 100), // G = 20.69
	)

	bright := 17.0
	recs, err := s.store.ConeSearch(s.ctx, ConeQuery{RA: 10, Dec: 10, Radius: 1, MagMax: &bright})
	s.Require().NoError(err)
	s.Equal([]string{"50"}, s.ids(recs))

	recs, err = s.store.ConeSearch(s.ctx, ConeQuery{RA: 10, Dec: 10, Radius: 1, MagMin: &bright})
	s.Require().NoError(err)
	s.Equal([]string{"51"}, s.ids(recs))
}

func (s *StoreTestSuite) TestConeSearchIncludesSecondary() {
	s.insert(s.source("60", 50, 50, 100), s.source("61", 50, 50.01, 100))
	_, _, err := s.store.InsertSecondary(s.ctx,
		[]models.CrossmatchRecord{{SourceID: "60", Designation: "03200000+5000000"}},
		[]models.PhotometryRecord{{SourceID: "60", J: models.NewNullFloat(9.5), K: models.NewNullFloat(8.75)}})
	s.Require().NoError(err)

	recs, err := s.store.ConeSearch(s.ctx, ConeQuery{RA: 50, Dec: 50, Radius: 0.1, IncludeSecondary: true})
	s.Require().NoError(err)
	s.Require().Len(recs, 2)

	s.Equal("03200000+5000000", recs[0].StringValue(models.ColumnTmassDesignation))
	j, ok := recs[0].Float(models.ColumnJ)
	s.True(ok)
	s.Equal(9.5, j)
	_, ok = recs[0].Float(models.ColumnH)
	s.False(ok)

	v, _ := recs[1].Get(models.ColumnTmassDesignation)
	s.True(v.IsNull())
}

func (s *StoreTestSuite) TestNearestSource() {
	s.insert(s.source("70", 200, -30, 100), s.source("71", 200.001, -30, 100))

	rec, err := s.store.NearestSource(s.ctx, 200.0009, -30, 0.01)
	s.Require().NoError(err)
	s.Require().NotNil(rec)
	s.Equal("71", rec.SourceID())

	rec, err = s.store.NearestSource(s.ctx, 10, 10, 0.01)
	s.Require().NoError(err)
	s.Nil(rec)
}

func (s *StoreTestSuite) TestFailureReasonKeepsRunesWhole() {
	s.Require().NoError(s.store.InitializeTracking(s.ctx, DatasetGaia, []string{"u"}))

	// 3-byte runes with one leading byte put the limit inside a rune
	reason := "x" + strings.Repeat("界", maxErrorLength)
	s.Require().NoError(s.store.MarkFileFailed(s.ctx, DatasetGaia, "u", reason))

	entries, err := s.store.TrackingEntries(s.ctx, DatasetGaia)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	stored := entries[0].LastError
	s.True(utf8.ValidString(stored))
	s.LessOrEqual(len(stored), maxErrorLength)
	s.Greater(len(stored), maxErrorLength-utf8.UTFMax)
	s.True(strings.HasPrefix(reason, stored))
}

// greatCircle is the haversine separation in degrees.
func greatCircle(ra1, dec1, ra2, dec2 float64) float64 {
	sinDDec := math.Sin(rad(dec2-dec1) / 2)
	sinDRA := math.Sin(rad(ra2-ra1) / 2)
	h := sinDDec*sinDDec + math.Cos(rad(dec1))*math.Cos(rad(dec2))*sinDRA*sinDRA
	return deg(2 * math.Asin(math.Sqrt(math.Min(1, h))))
}

func (s *StoreTestSuite) TestConeSearchMatchesBruteForce() {
	rng := rand.New(rand.NewSource(20220613))

	type point struct{ ra, dec float64 }
	var catalog []point
	uniform := func() point {
		return point{360 * rng.Float64(), deg(math.Asin(2*rng.Float64() - 1))}
	}
	for i := 0; i < 2000; i++ {
		catalog = append(catalog, uniform())
	}
	for i := 0; i < 400; i++ {
		catalog = append(catalog,
			point{360 * rng.Float64(), 90 - 2*rng.Float64()},
			point{360 * rng.Float64(), -90 + 2*rng.Float64()},
			point{math.Mod(359+2*rng.Float64(), 360), 60*rng.Float64() - 30},
		)
	}
	catalog = append(catalog, point{0, 90}, point{0, -90}, point{0, 0}, point{359.9999999, 0})

	recs := make(models.Batch, len(catalog))
	for i, p := range catalog {
		recs[i] = s.source(strconv.Itoa(i+1), p.ra, p.dec, 100)
	}
	s.insert(recs...)

	const eps = 1e-9
	for q := 0; q < 150; q++ {
		var center point
		switch q % 4 {
		case 0:
			center = uniform()
		case 1:
			center = point{360 * rng.Float64(), 90 - 3*rng.Float64()}
		case 2:
			center = point{360 * rng.Float64(), -90 + 3*rng.Float64()}
		default:
			center = point{math.Mod(358+4*rng.Float64(), 360), 60*rng.Float64() - 30}
		}
		if q%25 == 0 {
			center.dec = math.Copysign(90, center.dec)
		}
		radius := 0.1 * math.Pow(450, rng.Float64())

		got, err := s.store.ConeSearch(s.ctx, ConeQuery{RA: center.ra, Dec: center.dec, Radius: radius})
		s.Require().NoError(err)

		returned := make(map[string]bool, len(got))
		last := -1.0
		for _, rec := range got {
			id := rec.SourceID()
			idx, err := strconv.Atoi(id)
			s.Require().NoError(err)
			p := catalog[idx-1]
			want := greatCircle(center.ra, center.dec, p.ra, p.dec)
			s.LessOrEqual(want, radius+eps, "query %d returned %s outside the cone", q, id)

			d, ok := rec.Float(models.ColumnDistance)
			s.Require().True(ok)
			s.InDelta(want, d, 1e-8, "query %d distance of %s", q, id)
			s.GreaterOrEqual(d, last, "query %d is not sorted", q)
			last = d
			returned[id] = true
		}

		for i, p := range catalog {
			if greatCircle(center.ra, center.dec, p.ra, p.dec) < radius-eps {
				s.True(returned[strconv.Itoa(i+1)],
					"query %d (ra %v dec %v r %v) missed source %d at (%v, %v)",
					q, center.ra, center.dec, radius, i+1, p.ra, p.dec)
			}
		}
	}
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func TestTruncateReason(t *testing.T) {
	assert.Equal(t, "short", truncateReason("short"))

	ascii := strings.Repeat("a", maxErrorLength+10)
	assert.Len(t, truncateReason(ascii), maxErrorLength)

	for pad := 0; pad < utf8.UTFMax; pad++ {
		reason := strings.Repeat("a", pad) + strings.Repeat("ñ界😀", maxErrorLength)
		got := truncateReason(reason)
		assert.True(t, utf8.ValidString(got), "pad %d", pad)
		assert.LessOrEqual(t, len(got), maxErrorLength)
		assert.True(t, strings.HasPrefix(reason, got))
	}
}

func TestConeQueryValidation(t *testing.T) {
	mag := 12.0
	lower := 14.0
	cases := map[string]ConeQuery{
		"zero radius":     {RA: 0, Dec: 0, Radius: 0},
		"negative radius": {RA: 0, Dec: 0, Radius: -1},
		"radius too big":  {RA: 0, Dec: 0, Radius: 180.5},
		"dec too high":    {RA: 0, Dec: 90.1, Radius: 1},
		"dec too low":     {RA: 0, Dec: -91, Radius: 1},
		"negative limit":  {RA: 0, Dec: 0, Radius: 1, Limit: -1},
		"inverted mags":   {RA: 0, Dec: 0, Radius: 1, MagMin: &lower, MagMax: &mag},
	}
	for name, q := range cases {
		t.Run(name, func(t *testing.T) {
			err := q.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
		})
	}

	assert.NoError(t, ConeQuery{RA: -10, Dec: -90, Radius: 180}.Validate())
}

func TestMagnitudeRangeNeedsFluxColumn(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	st, err := Open(ctx, Config{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "c.db")}, testutil.TestLogger(t))
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.Initialize(ctx))

	mag := 15.0
	_, err = st.ConeSearch(ctx, ConeQuery{RA: 1, Dec: 1, Radius: 1, MagMax: &mag})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestBoundingBox(t *testing.T) {
	b := boundingBox(10, 0, 1)
	require.Len(t, b.ras, 1)
	assert.InDelta(t, 9, b.ras[0].lo, 1e-6)
	assert.InDelta(t, 11, b.ras[0].hi, 1e-6)

	b = boundingBox(0.5, 0, 1)
	require.Len(t, b.ras, 2)
	assert.InDelta(t, 359.5, b.ras[0].lo, 1e-6)
	assert.Equal(t, 360.0, b.ras[0].hi)
	assert.Equal(t, 0.0, b.ras[1].lo)

	b = boundingBox(359.5, 0, 1)
	require.Len(t, b.ras, 2)
	assert.InDelta(t, 0.5, b.ras[1].hi, 1e-6)

	// widening grows with declination
	b = boundingBox(100, 60, 1)
	require.Len(t, b.ras, 1)
	assert.Greater(t, b.ras[0].hi-100, 1.99)

	assert.Nil(t, boundingBox(100, 89.5, 1).ras)
	assert.Nil(t, boundingBox(100, 0, 120).ras)
}

func TestDialectStatements(t *testing.T) {
	pg := dialects[DriverPostgres]
	assert.Equal(t, `INSERT INTO "t" ("a", "b") VALUES ($1, $2) ON CONFLICT ("a") DO NOTHING`,
		pg.insertIgnore("t", "a", []string{"a", "b"}))
	assert.Contains(t, pg.upsertTracking("p"), `attempts = "p".attempts + 1`)

	my := dialects[DriverMySQL]
	assert.Equal(t, "INSERT IGNORE INTO `t` (`a`, `b`) VALUES (?, ?)", my.insertIgnore("t", "a", []string{"a", "b"}))
	assert.Equal(t, "CREATE INDEX `i` ON `t` (`ra`, `dec`)", my.createIndex("i", "t", "ra", "dec"))
	assert.Equal(t, []string{"OPTIMIZE TABLE `a`, `b`"}, my.maintenance([]string{"a", "b"}))

	lite := dialects[DriverSQLite]
	assert.Equal(t, `CREATE INDEX IF NOT EXISTS "i" ON "t" ("ra")`, lite.createIndex("i", "t", "ra"))

	_, err := dialectFor("oracle")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestMaintenanceOnSQLite(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	st, err := Open(ctx, Config{
		Driver:     DriverSQLite,
		Path:       filepath.Join(t.TempDir(), "m.db"),
		Columns:    []string{testFlux},
		FluxColumn: testFlux,
	}, testutil.TestLogger(t))
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.Initialize(ctx))

	st.CreateIndices(ctx)
	st.CreateIndices(ctx)
	st.Optimize(ctx)

	var n int
	require.NoError(t, st.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name LIKE 'idx_%'`).Scan(&n))
	assert.Equal(t, 4, n)
}
