package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/gaiadb/internal/pipeline"
	"github.com/ajitpratap0/gaiadb/pkg/downloader"
	"github.com/ajitpratap0/gaiadb/pkg/events"
	"github.com/ajitpratap0/gaiadb/pkg/observability"
	"github.com/ajitpratap0/gaiadb/pkg/store"
)

func newIngestCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "ingest <gaia|crossmatch|photometry>",
		Short:     "Download and load one dataset",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"gaia", "crossmatch", "photometry"},
		RunE: func(cmd *cobra.Command, args []string) error {
			dataset, err := store.ParseDataset(args[0])
			if err != nil {
				return err
			}
			return runIngest(cmd.Context(), a, dataset, cmd.OutOrStdout())
		},
	}

	cmd.Flags().Bool("streaming", false, "parse directly from the network instead of temp files")
	cmd.Flags().IntP("parallelism", "p", 0, "concurrent transfers and files per insert batch")
	cmd.Flags().Int("chunk-size", 0, "rows per parsed batch")
	cmd.Flags().String("parser", "", "catalog parser backend (csv, parallel)")
	cmd.Flags().Float64("mag-limit", 0, "drop sources fainter than this G magnitude")
	cmd.Flags().Bool("keep-files", false, "keep downloaded files after a successful insert")
	cmd.Flags().Int("max-files", 0, "process at most this many listed files (0 = all)")
	cmd.Flags().String("temp-dir", "", "directory for downloads")
	cmd.Flags().String("metrics-addr", "", "serve /metrics on this address during the run")
	a.bind(cmd, "pipeline.streaming", "streaming")
	a.bind(cmd, "download.parallelism", "parallelism")
	a.bind(cmd, "pipeline.chunk_size", "chunk-size")
	a.bind(cmd, "pipeline.parser", "parser")
	a.bind(cmd, "catalog.magnitude_limit", "mag-limit")
	a.bind(cmd, "download.keep_files", "keep-files")
	a.bind(cmd, "pipeline.max_files", "max-files")
	a.bind(cmd, "download.temp_dir", "temp-dir")
	a.bind(cmd, "observability.metrics_addr", "metrics-addr")

	return cmd
}

// runIngest wires the store, downloader, event publisher and tracing into a
// coordinator and runs one dataset.
func runIngest(ctx context.Context, a *app, dataset store.Dataset, out io.Writer) error {
	cfg := a.cfg
	log := a.log

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		Enabled:        cfg.Observability.EnableTracing,
		ServiceName:    "gaiadb",
		ServiceVersion: version,
		SamplingRate:   cfg.Observability.TracingSampleRate,
		Output:         cfg.Observability.TracingOutput,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	st, err := store.Open(ctx, store.FromConfig(cfg), log)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("failed to close store", zap.Error(err))
		}
	}()

	dl, err := downloader.New(downloader.FromConfig(cfg.Download), log)
	if err != nil {
		return err
	}
	defer func() { _ = dl.Close() }()

	publisher, err := events.New(cfg.Events, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Warn("failed to close event publisher", zap.Error(err))
		}
	}()

	if cfg.Observability.EnableMetrics && cfg.Observability.MetricsAddr != "" {
		stopMetrics := serveMetrics(cfg.Observability.MetricsAddr, log)
		defer stopMetrics()
	}

	stats, err := pipeline.New(cfg, st, dl, publisher, log).Run(ctx, dataset)
	if stats != nil {
		printSummary(out, stats)
	}
	return err
}

// serveMetrics exposes the default Prometheus registry until the returned
// function is called.
func serveMetrics(addr string, log *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		log.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func printSummary(w io.Writer, s *pipeline.RunStatistics) {
	fmt.Fprintf(w, "run %s (%s)\n", s.RunID, s.Dataset)
	fmt.Fprintf(w, "  files:   %d listed, %d skipped, %d attempted, %d completed, %d failed\n",
		s.FilesTotal, s.FilesSkipped, s.FilesAttempted, s.FilesCompleted, s.FilesFailed)
	fmt.Fprintf(w, "  rows:    %d parsed, %d filtered, %d inserted\n",
		s.RowsParsed, s.RowsFiltered, s.RowsInserted)
	fmt.Fprintf(w, "  bytes:   %d\n", s.BytesDownloaded)
	fmt.Fprintf(w, "  elapsed: %s (%.0f rows/s)\n", s.Elapsed.Round(time.Millisecond), s.RowsPerSecond())
}
