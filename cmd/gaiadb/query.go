package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/jszwec/csvutil"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/gaiadb/pkg/compression"
	"github.com/ajitpratap0/gaiadb/pkg/errors"
	"github.com/ajitpratap0/gaiadb/pkg/export"
	"github.com/ajitpratap0/gaiadb/pkg/models"
	"github.com/ajitpratap0/gaiadb/pkg/photometry"
	"github.com/ajitpratap0/gaiadb/pkg/query"
	"github.com/ajitpratap0/gaiadb/pkg/store"
)

// coneFlags holds the cone search flags shared by cone and benchmark.
type coneFlags struct {
	ra, dec, radius float64
	magMin, magMax  float64
	tmass           bool
	limit           int
	photometry      string
}

func (f *coneFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.ra, "ra", 0, "cone center right ascension in degrees")
	cmd.Flags().Float64Var(&f.dec, "dec", 0, "cone center declination in degrees")
	cmd.Flags().Float64Var(&f.radius, "radius", 0, "cone radius in degrees")
	cmd.Flags().Float64Var(&f.magMin, "mag-min", 0, "brightest magnitude to return")
	cmd.Flags().Float64Var(&f.magMax, "mag-max", 0, "faintest magnitude to return")
	cmd.Flags().BoolVar(&f.tmass, "tmass", false, "join 2MASS crossmatch and photometry")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "maximum rows (0 = server maximum)")
	cmd.Flags().StringVar(&f.photometry, "photometry", string(photometry.RepresentationFlux), "flux or magnitude")
	_ = cmd.MarkFlagRequired("ra")
	_ = cmd.MarkFlagRequired("dec")
	_ = cmd.MarkFlagRequired("radius")
}

// request builds a ConeRequest; magnitude bounds apply only when set.
func (f *coneFlags) request(cmd *cobra.Command) query.ConeRequest {
	req := query.ConeRequest{
		RA:               f.ra,
		Dec:              f.dec,
		Radius:           f.radius,
		IncludeSecondary: f.tmass,
		Limit:            f.limit,
		Representation:   photometry.Representation(f.photometry),
	}
	if cmd.Flags().Changed("mag-min") {
		v := f.magMin
		req.MagMin = &v
	}
	if cmd.Flags().Changed("mag-max") {
		v := f.magMax
		req.MagMax = &v
	}
	return req
}

func newConeCmd(a *app) *cobra.Command {
	var (
		flags  coneFlags
		format string
		output string
		codec  string
	)

	cmd := &cobra.Command{
		Use:   "cone",
		Short: "Search the catalog around a sky position",
		Example: `  gaiadb cone --ra 56.75 --dec 24.12 --radius 0.5
  gaiadb cone --ra 56.75 --dec 24.12 --radius 0.5 --tmass --photometry magnitude
  gaiadb cone --ra 56.75 --dec 24.12 --radius 2 --format parquet --output s3://bucket/pleiades.parquet`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			algo, err := compression.ParseAlgorithm(codec)
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeValidation, "invalid --compression")
			}

			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			res, err := query.New(st, a.cfg.Server.MaxLimit, a.log).ConeSearch(ctx, flags.request(cmd))
			if err != nil {
				return err
			}

			opener := export.NewOpener(a.cfg.Export, a.log)
			opener.Stdout = cmd.OutOrStdout()
			if err := opener.Export(ctx, output, f, res.Columns, res.Records, export.Options{Compression: algo}); err != nil {
				return err
			}
			a.log.Debug("cone search finished",
				zap.Int("rows", len(res.Records)),
				zap.Duration("elapsed", res.Elapsed))
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&format, "format", "f", string(export.FormatTable), "table, csv, jsonl, parquet or avro")
	cmd.Flags().StringVarP(&output, "output", "o", "", "local path, s3://bucket/key or gs://bucket/object (default stdout)")
	cmd.Flags().StringVar(&codec, "compression", string(compression.None), "none, gzip, zstd, lz4, snappy or s2")
	return cmd
}

func newBenchmarkCmd(a *app) *cobra.Command {
	var (
		flags      coneFlags
		iterations int
	)

	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Time a repeated cone search",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			res, err := query.New(st, a.cfg.Server.MaxLimit, a.log).Benchmark(ctx, flags.request(cmd), iterations)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "iterations: %d\n", res.Iterations)
			fmt.Fprintf(out, "rows:       %d\n", res.Rows)
			fmt.Fprintf(out, "average:    %s\n", res.Average)
			fmt.Fprintf(out, "min:        %s\n", res.Min)
			fmt.Fprintf(out, "max:        %s\n", res.Max)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().IntVarP(&iterations, "iterations", "n", 10, "number of searches")
	return cmd
}

// trackingRow is one line of the --tracking-csv dump.
type trackingRow struct {
	Dataset string `csv:"dataset"`
	models.FileTrackingEntry
}

func newStatsCmd(a *app) *cobra.Command {
	var trackingCSV string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show row counts and ingestion progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			stats, err := query.New(st, a.cfg.Server.MaxLimit, a.log).Stats(ctx)
			if err != nil {
				return err
			}
			if err := printStats(cmd.OutOrStdout(), stats); err != nil {
				return err
			}
			if trackingCSV != "" {
				return dumpTracking(ctx, st, trackingCSV)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&trackingCSV, "tracking-csv", "", "write every tracking entry to this CSV file")
	return cmd
}

func printStats(w io.Writer, stats *query.Stats) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tROWS")
	for _, table := range []string{store.TableGaia, store.TableCrossmatch, store.TablePhotometry} {
		fmt.Fprintf(tw, "%s\t%d\n", table, stats.Tables[table])
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "DATASET\tCOMPLETED\tFAILED\tPENDING\tTOTAL\tDONE")
	for _, ds := range store.Datasets {
		p := stats.Tracking[string(ds)]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%.1f%%\n", ds, p.Completed, p.Failed, p.Pending, p.Total, p.Percent())
	}
	return tw.Flush()
}

func dumpTracking(ctx context.Context, st *store.Store, path string) error {
	var rows []trackingRow
	for _, ds := range store.Datasets {
		entries, err := st.TrackingEntries(ctx, ds)
		if err != nil {
			return err
		}
		for _, e := range entries {
			rows = append(rows, trackingRow{Dataset: string(ds), FileTrackingEntry: e})
		}
	}

	f, err := os.Create(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeFile, "failed to create %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	enc := csvutil.NewEncoder(w)
	if err := enc.EncodeHeader(trackingRow{}); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write tracking header")
	}
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to write tracking entry")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeFile, "failed to write %s", path)
	}
	return nil
}
