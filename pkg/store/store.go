// Package store persists the catalog, its secondary datasets and per-file
// ingestion tracking in a relational database.
//
// The store is used only through a fixed set of access patterns: bulk
// insert-ignore keyed on source_id, tracking upserts, id lookups and the
// cone search. sqlite is the default; postgres and mysql share the schema.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/gaiadb/pkg/config"
	"github.com/ajitpratap0/gaiadb/pkg/errors"
	"github.com/ajitpratap0/gaiadb/pkg/models"
)

// Table names.
const (
	TableGaia       = "gaia_source"
	TableCrossmatch = "tmass_xmatch"
	TablePhotometry = "tmass_photometry"
)

// Dataset identifies an ingestible dataset and its tracking table.
type Dataset string

const (
	DatasetGaia       Dataset = "gaia"
	DatasetCrossmatch Dataset = "crossmatch"
	DatasetPhotometry Dataset = "photometry"
)

// Datasets lists every dataset in ingestion order.
var Datasets = []Dataset{DatasetGaia, DatasetCrossmatch, DatasetPhotometry}

// ParseDataset validates a dataset name.
func ParseDataset(name string) (Dataset, error) {
	for _, d := range Datasets {
		if string(d) == name {
			return d, nil
		}
	}
	return "", errors.Newf(errors.ErrorTypeValidation, "unknown dataset %q (want gaia, crossmatch or photometry)", name)
}

// TrackingTable returns the dataset's tracking table.
func (d Dataset) TrackingTable() string {
	return "processed_files_" + string(d)
}

// Config configures a Store.
type Config struct {
	Driver       string
	Path         string
	DSN          string
	MaxOpenConns int
	// Columns are the numeric catalog columns besides source_id, ra and dec
	Columns    []string
	FluxColumn string
	ZeroPoint  float64
}

// FromConfig maps the application config.
func FromConfig(cfg *config.Config) Config {
	return Config{
		Driver:       cfg.Store.Driver,
		Path:         cfg.Store.Path,
		DSN:          cfg.Store.DSN,
		MaxOpenConns: cfg.Store.MaxOpenConns,
		Columns:      cfg.Catalog.Columns,
		FluxColumn:   cfg.Catalog.FluxColumn,
		ZeroPoint:    cfg.Catalog.ZeroPoint,
	}
}

// Store is the catalog database.
type Store struct {
	db      *sql.DB
	dialect *dialect
	cfg     Config
	logger  *zap.Logger

	// gaiaColumns is source_id, ra, dec and the configured columns
	gaiaColumns []string
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	dsn, err := dataSourceName(d, cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driverName, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeStore, "failed to open %s store", d.name)
	}

	if d.name == DriverSQLite {
		// one writer; queries never hold a connection across another statement
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		maxConns := cfg.MaxOpenConns
		if maxConns <= 0 {
			maxConns = 4
		}
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, errors.ErrorTypeStore, "failed to ping %s store", d.name)
	}

	columns := make([]string, 0, len(cfg.Columns)+3)
	columns = append(columns, models.ColumnSourceID, models.ColumnRA, models.ColumnDec)
	columns = append(columns, cfg.Columns...)

	s := &Store{
		db:          db,
		dialect:     d,
		cfg:         cfg,
		logger:      logger.With(zap.String("component", "store"), zap.String("driver", d.name)),
		gaiaColumns: columns,
	}
	s.logger.Info("store opened", zap.Int("columns", len(columns)))
	return s, nil
}

func dataSourceName(d *dialect, cfg Config) (string, error) {
	if d.name != DriverSQLite {
		if cfg.DSN == "" {
			return "", errors.Newf(errors.ErrorTypeConfig, "%s store requires a dsn", d.name)
		}
		return cfg.DSN, nil
	}
	if cfg.Path == "" {
		return "", errors.New(errors.ErrorTypeConfig, "sqlite store requires a path")
	}
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(10000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + cfg.Path + "?" + q.Encode(), nil
}

// DB exposes the underlying pool.
func (s *Store) DB() *sql.DB { return s.db }

// Driver returns the dialect name.
func (s *Store) Driver() string { return s.dialect.name }

// Columns returns the catalog table columns in insert order.
func (s *Store) Columns() []string { return append([]string(nil), s.gaiaColumns...) }

// FluxColumn returns the flux column used for magnitude ranges.
func (s *Store) FluxColumn() string { return s.cfg.FluxColumn }

// ZeroPoint returns the photometric zero-point.
func (s *Store) ZeroPoint() float64 { return s.cfg.ZeroPoint }

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Initialize creates every table that does not exist yet and adds missing
// configured columns to an existing catalog table. Statement errors are
// logged and not returned.
func (s *Store) Initialize(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStore, "store unavailable")
	}

	for _, stmt := range s.schemaStatements() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			s.logger.Warn("schema statement failed", zap.String("sql", stmt), zap.Error(err))
		}
	}
	s.addMissingColumns(ctx)
	return nil
}

func (s *Store) schemaStatements() []string {
	d := s.dialect
	q := d.quote

	var cols strings.Builder
	fmt.Fprintf(&cols, "%s %s PRIMARY KEY, %s %s NOT NULL, %s %s NOT NULL",
		q(models.ColumnSourceID), d.keyType, q(models.ColumnRA), d.realType, q(models.ColumnDec), d.realType)
	for _, c := range s.cfg.Columns {
		fmt.Fprintf(&cols, ", %s %s", q(c), d.realType)
	}

	stmts := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", q(TableGaia), cols.String()),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s %s PRIMARY KEY, %s %s NOT NULL, %s %s)",
			q(TableCrossmatch),
			q(models.ColumnSourceID), d.keyType,
			q(models.ColumnTmassDesignation), d.shortText,
			q(models.ColumnAngularDistance), d.realType),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s %s PRIMARY KEY, %s %s, %s %s, %s %s)",
			q(TablePhotometry),
			q(models.ColumnSourceID), d.keyType,
			q(models.ColumnJ), d.realType,
			q(models.ColumnH), d.realType,
			q(models.ColumnK), d.realType),
	}
	for _, ds := range Datasets {
		stmts = append(stmts, fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s (url %s PRIMARY KEY, status %s NOT NULL, attempts %s NOT NULL DEFAULT 0, last_error %s, updated_at %s NOT NULL)",
			q(ds.TrackingTable()), d.urlType, d.shortText, d.intType, d.textType, d.shortText))
	}
	return stmts
}

// addMissingColumns brings an existing catalog table up to the configured
// column set.
func (s *Store) addMissingColumns(ctx context.Context) {
	existing, err := s.tableColumns(ctx, TableGaia)
	if err != nil {
		s.logger.Warn("failed to inspect catalog columns", zap.Error(err))
		return
	}
	for _, c := range s.cfg.Columns {
		if _, ok := existing[c]; ok {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", s.dialect.quote(TableGaia), s.dialect.quote(c), s.dialect.realType)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			s.logger.Warn("failed to add column", zap.String("column", c), zap.Error(err))
			continue
		}
		s.logger.Info("added catalog column", zap.String("column", c))
	}
}

func (s *Store) tableColumns(ctx context.Context, table string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s WHERE 1 = 0", s.dialect.quote(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[strings.ToLower(n)] = struct{}{}
	}
	return out, rows.Err()
}

// Tables lists every data table; tracking tables excluded.
var Tables = []string{TableGaia, TableCrossmatch, TablePhotometry}

// Count returns the number of rows in a data or tracking table.
func (s *Store) Count(ctx context.Context, table string) (int64, error) {
	if !knownTable(table) {
		return 0, errors.Newf(errors.ErrorTypeValidation, "unknown table %q", table)
	}
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.dialect.quote(table)).Scan(&n)
	if err != nil {
		return 0, errors.Wrapf(err, errors.ErrorTypeStore, "failed to count %s", table)
	}
	return n, nil
}

// Counts returns the row count of every data table.
func (s *Store) Counts(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, len(Tables))
	for _, t := range Tables {
		n, err := s.Count(ctx, t)
		if err != nil {
			return nil, err
		}
		out[t] = n
	}
	return out, nil
}

func knownTable(table string) bool {
	for _, t := range Tables {
		if t == table {
			return true
		}
	}
	for _, d := range Datasets {
		if d.TrackingTable() == table {
			return true
		}
	}
	return false
}

// CreateIndices creates the query indexes. Failures are logged.
func (s *Store) CreateIndices(ctx context.Context) {
	d := s.dialect
	stmts := []string{
		d.createIndex("idx_gaia_source_ra_dec", TableGaia, models.ColumnRA, models.ColumnDec),
		d.createIndex("idx_gaia_source_dec", TableGaia, models.ColumnDec),
		d.createIndex("idx_tmass_xmatch_designation", TableCrossmatch, models.ColumnTmassDesignation),
	}
	if s.cfg.FluxColumn != "" {
		stmts = append(stmts, d.createIndex("idx_gaia_source_"+s.cfg.FluxColumn, TableGaia, s.cfg.FluxColumn))
	}

	for _, stmt := range stmts {
		start := time.Now()
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			s.logger.Warn("index creation failed", zap.String("sql", stmt), zap.Error(err))
			continue
		}
		s.logger.Info("index ready", zap.String("sql", stmt), zap.Duration("duration", time.Since(start)))
	}
}

// Optimize refreshes statistics and reclaims space. Failures are logged.
func (s *Store) Optimize(ctx context.Context) {
	tables := append([]string(nil), Tables...)
	for _, ds := range Datasets {
		tables = append(tables, ds.TrackingTable())
	}
	for _, stmt := range s.dialect.maintenance(tables) {
		start := time.Now()
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			s.logger.Warn("maintenance statement failed", zap.String("sql", stmt), zap.Error(err))
			continue
		}
		s.logger.Info("maintenance done", zap.String("sql", stmt), zap.Duration("duration", time.Since(start)))
	}
}
