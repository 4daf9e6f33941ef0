package server

import (
	"context"
	"encoding/csv"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/gaiadb/pkg/config"
	"github.com/ajitpratap0/gaiadb/pkg/models"
	"github.com/ajitpratap0/gaiadb/pkg/query"
	"github.com/ajitpratap0/gaiadb/pkg/store"
	"github.com/ajitpratap0/gaiadb/pkg/testutil"
)

const flux = "phot_g_mean_flux"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx, cancel := testutil.TestContext(t)
	t.Cleanup(cancel)

	st, err := store.Open(ctx, store.Config{
		Driver:     store.DriverSQLite,
		Path:       filepath.Join(t.TempDir(), "gaia.db"),
		Columns:    []string{flux},
		FluxColumn: flux,
		ZeroPoint:  config.DefaultZeroPoint,
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
		{"100", 56.75, 24.12, 1e5},
		{"101", 56.76, 24.12, 2e4},
		{"102", 56.75, 24.20, 3e4},
		{"900", 200, -10, 1e5},
	} {
		rec, err := models.NewRecordWithValues(schema, []models.Value{
			models.String(row.id), models.Number(row.ra), models.Number(row.dec), models.Number(row.flux),
		})
		require.NoError(t, err)
		batch = append(batch, rec)
	}
	_, err = st.InsertGaiaRecords(ctx, batch)
	require.NoError(t, err)
	require.NoError(t, st.InitializeTracking(ctx, store.DatasetGaia, []string{"https://cdn/a.csv.gz", "https://cdn/b.csv.gz"}))
	require.NoError(t, st.MarkFileCompleted(ctx, store.DatasetGaia, "https://cdn/a.csv.gz"))

	cfg := config.NewDefault().Server
	s := New(cfg, query.New(st, cfg.MaxLimit, testutil.TestLogger(t)), testutil.TestLogger(t))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, srv *httptest.Server, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestConeReturnsJSONRows(t *testing.T) {
	srv := newTestServer(t)

	resp, body := get(t, srv, "/api/v1/cone?ra=56.75&dec=24.12&radius=0.05")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var out coneResponse
	require.NoError(t, gojson.Unmarshal(body, &out))
	assert.Equal(t, []string{"source_id", "ra", "dec", flux, "distance"}, out.Columns)
	require.Equal(t, 2, out.Count)
	assert.Equal(t, "100", out.Rows[0]["source_id"])
	assert.Equal(t, "101", out.Rows[1]["source_id"])
	assert.Equal(t, 0.0, out.Rows[0]["distance"])
}

func TestConeMagnitudeAndLimit(t *testing.T) {
	srv := newTestServer(t)

	resp, body := get(t, srv, "/api/v1/cone?ra=56.75&dec=24.12&radius=0.5&photometry=magnitude&limit=1")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out coneResponse
	require.NoError(t, gojson.Unmarshal(body, &out))
	assert.Contains(t, out.Columns, "phot_g_mean_mag")
	assert.NotContains(t, out.Columns, flux)
	require.Len(t, out.Rows, 1)
	assert.InDelta(t, config.DefaultZeroPoint-12.5, out.Rows[0]["phot_g_mean_mag"], 1e-9)
}

func TestConeCSVFormat(t *testing.T) {
	srv := newTestServer(t)

	resp, body := get(t, srv, "/api/v1/cone?ra=56.75&dec=24.12&radius=0.5&format=csv")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))

	rows, err := csv.NewReader(strings.NewReader(string(body))).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 4)
	assert.Equal(t, "source_id", rows[0][0])
}

func TestConeValidation(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{
		"/api/v1/cone?ra=10&dec=10&radius=0",
		"/api/v1/cone?ra=10&dec=10&radius=200",
		"/api/v1/cone?ra=10&dec=95&radius=1",
		"/api/v1/cone?dec=10&radius=1",
		"/api/v1/cone?ra=abc&dec=10&radius=1",
		"/api/v1/cone?ra=10&dec=10&radius=1&mag_min=15&mag_max=12",
		"/api/v1/cone?ra=10&dec=10&radius=1&photometry=jansky",
		"/api/v1/cone?ra=10&dec=10&radius=1&format=xlsx",
		"/api/v1/cone?ra=10&dec=10&radius=1&tmass=maybe",
	} {
		resp, body := get(t, srv, path)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)

		var out map[string]string
		require.NoError(t, gojson.Unmarshal(body, &out), path)
		assert.NotEmpty(t, out["error"], path)
	}
}

func TestStats(t *testing.T) {
	srv := newTestServer(t)

	resp, body := get(t, srv, "/api/v1/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out query.Stats
	require.NoError(t, gojson.Unmarshal(body, &out))
	assert.Equal(t, int64(4), out.Tables[store.TableGaia])
	assert.Equal(t, models.TrackingProgress{Completed: 1, Pending: 1, Total: 2}, out.Tracking["gaia"])
	assert.Equal(t, int64(0), out.Tracking["photometry"].Total)
}

func TestHealthMetricsAndNotFound(t *testing.T) {
	srv := newTestServer(t)

	resp, body := get(t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	resp, body = get(t, srv, "/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")

	resp, _ = get(t, srv, "/api/v1/nothing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	cfg := config.NewDefault().Server
	cfg.Addr = "127.0.0.1:0"
	s := New(cfg, nil, testutil.TestLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
