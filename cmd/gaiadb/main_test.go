package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/gaiadb/pkg/config"
	"github.com/ajitpratap0/gaiadb/pkg/models"
	"github.com/ajitpratap0/gaiadb/pkg/store"
	"github.com/ajitpratap0/gaiadb/pkg/testutil"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

// seedCatalog creates a catalog with two sources near (56.75, 24.12).
func seedCatalog(t *testing.T) string {
	t.Helper()
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	cfg := config.NewDefault()
	cfg.Store.Path = filepath.Join(t.TempDir(), "gaia.db")
	st, err := store.Open(ctx, store.FromConfig(cfg), testutil.TestLogger(t))
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.Initialize(ctx))

	schema := models.NewSchema(models.ColumnSourceID, models.ColumnRA, models.ColumnDec, config.DefaultFluxColumn)
	var batch models.Batch
	for _, id := range []string{"100", "101"} {
		rec, err := models.NewRecordWithValues(schema, []models.Value{
			models.String(id), models.Number(56.75), models.Number(24.12), models.Number(1e5),
		})
		require.NoError(t, err)
		batch = append(batch, rec)
	}
	_, err = st.InsertGaiaRecords(ctx, batch)
	require.NoError(t, err)
	require.NoError(t, st.InitializeTracking(ctx, store.DatasetGaia, []string{"https://cdn/a.csv.gz"}))
	require.NoError(t, st.MarkFileCompleted(ctx, store.DatasetGaia, "https://cdn/a.csv.gz"))
	return cfg.Store.Path
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "gaiadb version "+version)
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gaiadb.yaml")

	_, err := execute(t, "config", "init", path)
	require.NoError(t, err)

	_, err = execute(t, "config", "init", path)
	require.Error(t, err)

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.NewDefault().Download.Parallelism, cfg.Download.Parallelism)

	out, err := execute(t, "--config", path, "--db", "other.db", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "path: other.db")
}

func TestInvalidConfigIsRejected(t *testing.T) {
	_, err := execute(t, "--driver", "oracle", "stats")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle")
}

func TestStatsAndTrackingCSV(t *testing.T) {
	db := seedCatalog(t)
	csvPath := filepath.Join(t.TempDir(), "tracking.csv")

	out, err := execute(t, "--db", db, "stats", "--tracking-csv", csvPath)
	require.NoError(t, err)
	assert.Contains(t, out, store.TableGaia)
	assert.Regexp(t, `gaia\s+1\s+0\s+0\s+1\s+100\.0%`, out)

	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "dataset,url,status,attempts"), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "gaia,https://cdn/a.csv.gz,completed"), lines[1])
}

func TestConeCSV(t *testing.T) {
	db := seedCatalog(t)

	out, err := execute(t, "--db", db, "cone", "--ra", "56.75", "--dec", "24.12", "--radius", "0.1", "--format", "csv")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "source_id,ra,dec"), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "100,"), lines[1])
}

func TestConeRejectsUnknownFormat(t *testing.T) {
	db := seedCatalog(t)

	_, err := execute(t, "--db", db, "cone", "--ra", "1", "--dec", "1", "--radius", "1", "--format", "xlsx")
	require.Error(t, err)
}

func TestBenchmark(t *testing.T) {
	db := seedCatalog(t)

	out, err := execute(t, "--db", db, "benchmark", "--ra", "56.75", "--dec", "24.12", "--radius", "0.1", "-n", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "iterations: 3")
	assert.Contains(t, out, "rows:       2")
}
