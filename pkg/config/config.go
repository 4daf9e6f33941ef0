// Package config provides the configuration system for gaiadb.
// A single Config structure drives the CLI, the ingestion pipeline and the
// query surface.
//
// The configuration is organized into logical sections:
//   - Store: relational backend and persisted catalog location
//   - Catalog: stored columns, flux column and photometric zero-point
//   - Sources: remote archive listings per dataset
//   - Download: parallelism, retry and temp directory settings
//   - Pipeline: parser backend, chunk size and execution mode
//   - Observability: logging, metrics and tracing
//
// Example usage:
//
//	cfg := config.NewDefault()
//	cfg.Download.Parallelism = 8
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"math"
	"regexp"
	"runtime"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/ajitpratap0/gaiadb/pkg/errors"
)

// Default photometric constants for the Gaia G band.
const (
	DefaultZeroPoint      = 25.6874
	DefaultFluxColumn     = "phot_g_mean_flux"
	DefaultMagnitudeLimit = 17.0
)

// Config is the root configuration structure.
type Config struct {
	// Store selects the relational backend holding the catalog
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Catalog describes the stored columns and photometric calibration
	Catalog CatalogConfig `yaml:"catalog" mapstructure:"catalog"`

	// Sources lists the remote archive listings per dataset
	Sources SourcesConfig `yaml:"sources" mapstructure:"sources"`

	// Download controls transfer concurrency and retries
	Download DownloadConfig `yaml:"download" mapstructure:"download"`

	// Pipeline controls parsing and batch execution
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`

	// Crossmatch controls positional matching of secondary photometry
	Crossmatch CrossmatchConfig `yaml:"crossmatch" mapstructure:"crossmatch"`

	// Observability settings for logging, metrics and tracing
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`

	// Events configures the run event publisher
	Events EventsConfig `yaml:"events" mapstructure:"events"`

	// Server configures the HTTP query API
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Export configures cloud sinks for query results
	Export ExportConfig `yaml:"export" mapstructure:"export"`
}

// StoreConfig selects and tunes the catalog store.
type StoreConfig struct {
	// Driver is one of sqlite, postgres or mysql
	Driver string `yaml:"driver" mapstructure:"driver"`
	// Path is the sqlite file location
	Path string `yaml:"path" mapstructure:"path"`
	// DSN is the connection string for postgres and mysql
	DSN string `yaml:"dsn" mapstructure:"dsn"`
	// MaxOpenConns caps the connection pool (forced to 1 for sqlite)
	MaxOpenConns int `yaml:"max_open_conns" mapstructure:"max_open_conns"`
}

// CatalogConfig describes the main catalog table.
type CatalogConfig struct {
	// Columns are the additional numeric columns stored next to source_id, ra and dec
	Columns []string `yaml:"columns" mapstructure:"columns"`
	// FluxColumn is the brightness column used for filtering and cone magnitude ranges
	FluxColumn string `yaml:"flux_column" mapstructure:"flux_column"`
	// ZeroPoint converts FluxColumn to magnitudes
	ZeroPoint float64 `yaml:"zero_point" mapstructure:"zero_point"`
	// MagnitudeLimit drops sources fainter than this magnitude
	MagnitudeLimit float64 `yaml:"magnitude_limit" mapstructure:"magnitude_limit"`
}

// SourceConfig describes one remote dataset listing.
type SourceConfig struct {
	// ListingURL is an HTML directory listing
	ListingURL string `yaml:"listing_url" mapstructure:"listing_url"`
	// Suffix selects linked files by extension
	Suffix string `yaml:"suffix" mapstructure:"suffix"`
	// Prefix optionally restricts linked files by basename
	Prefix string `yaml:"prefix" mapstructure:"prefix"`
}

// SourcesConfig lists the three datasets.
type SourcesConfig struct {
	Gaia       SourceConfig `yaml:"gaia" mapstructure:"gaia"`
	Crossmatch SourceConfig `yaml:"crossmatch" mapstructure:"crossmatch"`
	Photometry SourceConfig `yaml:"photometry" mapstructure:"photometry"`
}

// DownloadConfig controls the downloader.
type DownloadConfig struct {
	// TempDir receives partial and complete downloads
	TempDir string `yaml:"temp_dir" mapstructure:"temp_dir"`
	// Parallelism bounds in-flight transfers and the files per insert batch
	Parallelism int `yaml:"parallelism" mapstructure:"parallelism"`
	// MaxAttempts is the total number of attempts per transfer
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
	// RetryDelay is the base backoff delay, doubled per attempt
	RetryDelay time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`
	// MaxRetryDelay caps the backoff delay
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" mapstructure:"max_retry_delay"`
	// RequestTimeout bounds response headers, not the body transfer
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	// UserAgent is sent with every request
	UserAgent string `yaml:"user_agent" mapstructure:"user_agent"`
	// HTTP2 negotiates HTTP/2 over TLS
	HTTP2 bool `yaml:"http2" mapstructure:"http2"`
	// KeepFiles retains downloaded files after a successful insert
	KeepFiles bool `yaml:"keep_files" mapstructure:"keep_files"`
	// AutoParallelism lowers parallelism in streaming mode when memory is short
	AutoParallelism bool `yaml:"auto_parallelism" mapstructure:"auto_parallelism"`
	// MemoryPerStreamMB estimates decompressed bytes held per streaming file
	MemoryPerStreamMB int `yaml:"memory_per_stream_mb" mapstructure:"memory_per_stream_mb"`
}

// PipelineConfig controls parsing and batch execution.
type PipelineConfig struct {
	// Parser selects the catalog parser backend: csv or parallel
	Parser string `yaml:"parser" mapstructure:"parser"`
	// ParserWorkers sizes the parallel parser worker pool
	ParserWorkers int `yaml:"parser_workers" mapstructure:"parser_workers"`
	// ChunkSize bounds rows per parsed batch
	ChunkSize int `yaml:"chunk_size" mapstructure:"chunk_size"`
	// Streaming parses directly from live downloads instead of temp files
	Streaming bool `yaml:"streaming" mapstructure:"streaming"`
	// MaxFiles caps the number of listed files per run (0 = all)
	MaxFiles int `yaml:"max_files" mapstructure:"max_files"`
	// SkipMaintenance skips index creation and optimize at the end of a run
	SkipMaintenance bool `yaml:"skip_maintenance" mapstructure:"skip_maintenance"`
	// ProgressInterval is the minimum delay between progress log lines
	ProgressInterval time.Duration `yaml:"progress_interval" mapstructure:"progress_interval"`
}

// CrossmatchConfig controls photometry association.
type CrossmatchConfig struct {
	// PositionalRadiusArcsec enables nearest-source matching for photometry rows
	// missing from the crossmatch table (0 disables)
	PositionalRadiusArcsec float64 `yaml:"positional_radius_arcsec" mapstructure:"positional_radius_arcsec"`
}

// ObservabilityConfig contains monitoring and observability settings.
type ObservabilityConfig struct {
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
	// LogEncoding is json or console
	LogEncoding string `yaml:"log_encoding" mapstructure:"log_encoding"`
	// Development enables colored levels and error stack traces
	Development bool `yaml:"development" mapstructure:"development"`
	// EnableMetrics exposes Prometheus metrics
	EnableMetrics bool `yaml:"enable_metrics" mapstructure:"enable_metrics"`
	// MetricsAddr serves /metrics during ingestion when non-empty
	MetricsAddr string `yaml:"metrics_addr" mapstructure:"metrics_addr"`
	// EnableTracing activates span export
	EnableTracing bool `yaml:"enable_tracing" mapstructure:"enable_tracing"`
	// TracingSampleRate controls trace sampling (0.0-1.0)
	TracingSampleRate float64 `yaml:"tracing_sample_rate" mapstructure:"tracing_sample_rate"`
	// TracingOutput is a file path for exported spans (empty = stdout)
	TracingOutput string `yaml:"tracing_output" mapstructure:"tracing_output"`
}

// EventsConfig configures run events.
type EventsConfig struct {
	// Brokers enables Kafka publishing when non-empty
	Brokers []string `yaml:"brokers" mapstructure:"brokers"`
	// Topic receives the events
	Topic string `yaml:"topic" mapstructure:"topic"`
	// ClientID identifies the producer
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
}

// ServerConfig configures the query API.
type ServerConfig struct {
	Addr         string        `yaml:"addr" mapstructure:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	// MaxLimit caps the rows returned by one cone request
	MaxLimit int `yaml:"max_limit" mapstructure:"max_limit"`
}

// ExportConfig configures cloud sinks.
type ExportConfig struct {
	// S3Region overrides the AWS default region
	S3Region string `yaml:"s3_region" mapstructure:"s3_region"`
	// GCSCredentialsFile points at a service account key (empty = ADC)
	GCSCredentialsFile string `yaml:"gcs_credentials_file" mapstructure:"gcs_credentials_file"`
}

// DefaultColumns are the Gaia DR3 columns stored when none are configured.
var DefaultColumns = []string{
	"parallax",
	"parallax_error",
	"pmra",
	"pmdec",
	"phot_g_mean_flux",
	"phot_bp_mean_flux",
	"phot_rp_mean_flux",
	"radial_velocity",
	"teff_gspphot",
	"logg_gspphot",
	"mh_gspphot",
	"distance_gspphot",
	"ruwe",
}

// NewDefault creates a Config with defaults suitable for a full Gaia DR3 ingest.
func NewDefault() *Config {
	return &Config{
		Store: StoreConfig{
			Driver:       "sqlite",
			Path:         "gaia.db",
			MaxOpenConns: 4,
		},
		Catalog: CatalogConfig{
			Columns:        append([]string(nil), DefaultColumns...),
			FluxColumn:     DefaultFluxColumn,
			ZeroPoint:      DefaultZeroPoint,
			MagnitudeLimit: DefaultMagnitudeLimit,
		},
		Sources: SourcesConfig{
			Gaia: SourceConfig{
				ListingURL: "https://cdn.gea.esa.int/Gaia/gdr3/gaia_source/",
				Suffix:     ".csv.gz",
			},
			Crossmatch: SourceConfig{
				ListingURL: "https://cdn.gea.esa.int/Gaia/gdr3/cross_match/tmass_psc_xsc_best_neighbour/",
				Suffix:     ".csv.gz",
			},
			Photometry: SourceConfig{
				ListingURL: "https://irsa.ipac.caltech.edu/2MASS/download/allsky/",
				Suffix:     ".gz",
				Prefix:     "psc_",
			},
		},
		Download: DownloadConfig{
			TempDir:           "gaia_tmp",
			Parallelism:       4,
			MaxAttempts:       5,
			RetryDelay:        2 * time.Second,
			MaxRetryDelay:     2 * time.Minute,
			RequestTimeout:    60 * time.Second,
			UserAgent:         "gaiadb/1.0",
			HTTP2:             true,
			AutoParallelism:   true,
			MemoryPerStreamMB: 512,
		},
		Pipeline: PipelineConfig{
			Parser:           "csv",
			ParserWorkers:    runtime.NumCPU(),
			ChunkSize:        50000,
			ProgressInterval: 10 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogEncoding:       "console",
			EnableMetrics:     true,
			TracingSampleRate: 0.1,
		},
		Events: EventsConfig{
			Topic:    "gaiadb.ingest",
			ClientID: "gaiadb",
		},
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			MaxLimit:     100000,
		},
	}
}

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// reservedColumns are always present in the catalog table.
var reservedColumns = map[string]struct{}{
	"source_id": {},
	"ra":        {},
	"dec":       {},
}

// Validate checks the configuration for correctness. It runs before any
// network or store activity and every failure is an ErrorTypeConfig error.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return errors.New(errors.ErrorTypeConfig, "store.path is required for sqlite")
		}
	case "postgres", "mysql":
		if c.Store.DSN == "" {
			return errors.Newf(errors.ErrorTypeConfig, "store.dsn is required for %s", c.Store.Driver)
		}
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown store driver %q", c.Store.Driver)
	}

	if err := c.Catalog.validate(); err != nil {
		return err
	}

	if c.Download.Parallelism <= 0 {
		return errors.New(errors.ErrorTypeConfig, "download.parallelism must be positive")
	}
	if c.Download.MaxAttempts <= 0 {
		return errors.New(errors.ErrorTypeConfig, "download.max_attempts must be positive")
	}
	if c.Download.RetryDelay < 0 || c.Download.MaxRetryDelay < 0 {
		return errors.New(errors.ErrorTypeConfig, "download retry delays cannot be negative")
	}
	if c.Download.TempDir == "" {
		return errors.New(errors.ErrorTypeConfig, "download.temp_dir is required")
	}
	if c.Download.MemoryPerStreamMB < 0 {
		return errors.New(errors.ErrorTypeConfig, "download.memory_per_stream_mb cannot be negative")
	}

	switch c.Pipeline.Parser {
	case "csv", "parallel":
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown parser backend %q", c.Pipeline.Parser)
	}
	if c.Pipeline.ChunkSize <= 0 {
		return errors.New(errors.ErrorTypeConfig, "pipeline.chunk_size must be positive")
	}
	if c.Pipeline.MaxFiles < 0 {
		return errors.New(errors.ErrorTypeConfig, "pipeline.max_files cannot be negative")
	}

	r := c.Crossmatch.PositionalRadiusArcsec
	if r < 0 || math.IsNaN(r) || r > 3600 {
		return errors.New(errors.ErrorTypeConfig, "crossmatch.positional_radius_arcsec must be within [0, 3600]")
	}

	if _, err := zapcore.ParseLevel(c.Observability.LogLevel); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeConfig, "invalid log level %q", c.Observability.LogLevel)
	}
	switch c.Observability.LogEncoding {
	case "json", "console":
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown log encoding %q", c.Observability.LogEncoding)
	}
	if c.Observability.TracingSampleRate < 0 || c.Observability.TracingSampleRate > 1 {
		return errors.New(errors.ErrorTypeConfig, "observability.tracing_sample_rate must be within [0, 1]")
	}

	if len(c.Events.Brokers) > 0 && c.Events.Topic == "" {
		return errors.New(errors.ErrorTypeConfig, "events.topic is required when brokers are set")
	}
	if c.Server.MaxLimit < 0 {
		return errors.New(errors.ErrorTypeConfig, "server.max_limit cannot be negative")
	}
	return nil
}

func (c *CatalogConfig) validate() error {
	seen := make(map[string]struct{}, len(c.Columns))
	for _, col := range c.Columns {
		if !identifierPattern.MatchString(col) {
			return errors.Newf(errors.ErrorTypeConfig, "invalid column name %q", col)
		}
		if _, ok := reservedColumns[col]; ok {
			return errors.Newf(errors.ErrorTypeConfig, "column %q is always stored and cannot be listed", col)
		}
		if _, ok := seen[col]; ok {
			return errors.Newf(errors.ErrorTypeConfig, "duplicate column %q", col)
		}
		seen[col] = struct{}{}
	}
	if _, ok := seen[c.FluxColumn]; !ok {
		return errors.Newf(errors.ErrorTypeConfig, "flux column %q must be one of catalog.columns", c.FluxColumn)
	}
	if math.IsNaN(c.ZeroPoint) || math.IsInf(c.ZeroPoint, 0) || c.ZeroPoint <= 0 {
		return errors.New(errors.ErrorTypeConfig, "catalog.zero_point must be a positive finite number")
	}
	if math.IsNaN(c.MagnitudeLimit) || c.MagnitudeLimit < -30 || c.MagnitudeLimit > 40 {
		return errors.New(errors.ErrorTypeConfig, "catalog.magnitude_limit must be within [-30, 40]")
	}
	return nil
}

// Source returns the listing configuration for a dataset name.
func (s *SourcesConfig) Source(dataset string) (SourceConfig, error) {
	switch dataset {
	case "gaia":
		return s.Gaia, nil
	case "crossmatch":
		return s.Crossmatch, nil
	case "photometry":
		return s.Photometry, nil
	default:
		return SourceConfig{}, errors.Newf(errors.ErrorTypeConfig, "unknown dataset %q", dataset)
	}
}

// GetWorkers returns the parser worker count, ensuring it's at least 1
func (p *PipelineConfig) GetWorkers() int {
	if p.ParserWorkers <= 0 {
		return runtime.NumCPU()
	}
	return p.ParserWorkers
}

// PositionalRadiusDeg returns the positional crossmatch radius in degrees.
func (c *CrossmatchConfig) PositionalRadiusDeg() float64 {
	return c.PositionalRadiusArcsec / 3600
}
