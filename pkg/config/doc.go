// Package config provides configuration management for gaiadb.
//
// # Sources
//
// Values are layered in increasing order of precedence:
//
//   - NewDefault: defaults for a full Gaia DR3 ingest into a local sqlite file
//   - An optional YAML file, with ${VAR_NAME} environment substitution
//   - GAIADB_* environment variables (dots become underscores, e.g.
//     GAIADB_DOWNLOAD_PARALLELISM=8)
//   - Explicitly set command-line flags bound through Loader.BindFlag
//
// # Usage
//
//	loader, err := config.NewLoader()
//	if err != nil {
//		return err
//	}
//	cfg, err := loader.Load("gaiadb.yaml")
//	if err != nil {
//		return err
//	}
//	if err := cfg.Validate(); err != nil {
//		return err // errors.ErrorTypeConfig
//	}
//
// Validate must run before any network or store activity: an invalid column
// name, numeric range or log level aborts the process at startup.
//
// # Example YAML
//
//	store:
//	  driver: sqlite
//	  path: gaia.db
//	catalog:
//	  columns: [parallax, pmra, pmdec, phot_g_mean_flux]
//	  flux_column: phot_g_mean_flux
//	  zero_point: 25.6874
//	  magnitude_limit: 17
//	download:
//	  parallelism: 8
//	  temp_dir: ${TMPDIR}/gaia
//	pipeline:
//	  parser: parallel
//	  chunk_size: 50000
//	  streaming: false
package config
