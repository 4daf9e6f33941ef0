// Package gaiadb ingests the Gaia DR3 source catalog, the 2MASS best-neighbour
// crossmatch and the 2MASS point source photometry into a relational store
// and answers cone searches over the result.
//
// # Architecture
//
// Ingestion is a resumable batch loop. For each dataset the coordinator
// lists the remote archive, seeds a per-dataset tracking table and
// processes the files that are not yet completed in batches of the
// download parallelism:
//
//	listing -> tracking -> download | stream -> parse -> filter -> insert -> mark
//
// Every batch is written with a single insert. A failed insert fails the
// whole batch; a failed download or a corrupt file fails only that file.
// Failed and pending files are picked up again by the next run.
//
// # Quick Start
//
// Load a few catalog files into a local sqlite database and search it:
//
//	gaiadb ingest gaia --max-files 4
//	gaiadb ingest crossmatch
//	gaiadb ingest photometry
//	gaiadb cone --ra 56.75 --dec 24.12 --radius 0.5 --tmass --photometry magnitude
//
// Programmatic use:
//
//	cfg := config.NewDefault()
//	st, _ := store.Open(ctx, store.FromConfig(cfg), log)
//	dl, _ := downloader.New(downloader.FromConfig(cfg.Download), log)
//	stats, err := pipeline.New(cfg, st, dl, nil, log).Run(ctx, store.DatasetGaia)
//
// # Key Packages
//
//	internal/pipeline - Batch coordinator, resume and per-file accounting
//	internal/server   - HTTP cone search API
//	pkg/downloader    - Resumable, retrying, concurrency-bounded transfers
//	pkg/parser        - Streaming gzip CSV and pipe-delimited parsers
//	pkg/store         - Catalog tables, tracking tables and cone search
//	pkg/photometry    - Flux and magnitude conversion, magnitude filter
//	pkg/query         - Read surface shared by the CLI and the API
//	pkg/export        - csv, jsonl, parquet and avro output to file, s3 or gcs
//	pkg/events        - Run events published to Kafka
//	pkg/config        - YAML, environment and flag configuration
//	pkg/errors        - Typed errors with retry classification
//	pkg/logger        - Structured logging
//	pkg/metrics       - Prometheus collectors
//
// # Configuration
//
// Configuration layers defaults, an optional YAML file, GAIADB_* environment
// variables and command-line flags. Environment variables are also
// substituted in the YAML file with ${VAR_NAME} syntax:
//
//	gaiadb config init gaiadb.yaml
//	GAIADB_DOWNLOAD_PARALLELISM=8 gaiadb --config gaiadb.yaml ingest gaia --streaming
package gaiadb
