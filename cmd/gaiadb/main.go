package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/gaiadb/pkg/config"
	"github.com/ajitpratap0/gaiadb/pkg/logger"
	"github.com/ajitpratap0/gaiadb/pkg/store"
)

var version = "0.1.0"

// app carries the state shared by every command once PersistentPreRunE ran.
type app struct {
	loader     *config.Loader
	configPath string
	cfg        *config.Config
	log        *zap.Logger
}

// bind ties a config key to a flag of cmd. A missing flag is a programming
// error and panics at startup.
func (a *app) bind(cmd *cobra.Command, key, flag string) {
	f := cmd.Flags().Lookup(flag)
	if f == nil {
		f = cmd.PersistentFlags().Lookup(flag)
	}
	if err := a.loader.BindFlag(key, f); err != nil {
		panic(err)
	}
}

// setup loads and validates the configuration and installs the logger.
func (a *app) setup() error {
	cfg, err := a.loader.Load(a.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Development: cfg.Observability.Development,
		Encoding:    cfg.Observability.LogEncoding,
	}); err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logger.Get().With(zap.String("component", "gaiadb-cli"))
	return nil
}

// openStore opens and initializes the configured catalog.
func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	st, err := store.Open(ctx, store.FromConfig(a.cfg), a.log)
	if err != nil {
		return nil, err
	}
	if err := st.Initialize(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func newRootCmd() *cobra.Command {
	loader, err := config.NewLoader()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	a := &app{loader: loader}

	root := &cobra.Command{
		Use:   "gaiadb",
		Short: "Gaia DR3 catalog ingestion and cone search",
		Long: `gaiadb downloads the Gaia DR3 source catalog and the 2MASS crossmatch and
photometry tables, loads them into a relational store and answers cone
searches over the result. Ingestion is resumable: completed files are
tracked per dataset and skipped on the next run.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" || cmd.Name() == "init" {
				return nil
			}
			return a.setup()
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().String("db", "", "sqlite catalog path")
	root.PersistentFlags().String("driver", "", "store driver (sqlite, postgres, mysql)")
	root.PersistentFlags().String("dsn", "", "connection string for postgres and mysql")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	a.bind(root, "store.path", "db")
	a.bind(root, "store.driver", "driver")
	a.bind(root, "store.dsn", "dsn")
	a.bind(root, "observability.log_level", "log-level")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gaiadb version %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}

	root.AddCommand(
		versionCmd,
		newIngestCmd(a),
		newConeCmd(a),
		newStatsCmd(a),
		newBenchmarkCmd(a),
		newServeCmd(a),
		newConfigCmd(a),
	)
	return root
}

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)
	stop()
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
