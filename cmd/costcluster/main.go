// Command costcluster clusters applications by their cloud cost profile.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nicktill/costcluster/pkg/config"
	"github.com/nicktill/costcluster/pkg/server"
	"github.com/nicktill/costcluster/pkg/storage"
)

// app is the state shared by every subcommand.
type app struct {
	configPath string
	logLevel   string
	backend    string
	dataDir    string

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "costcluster",
		Short: "Cluster applications by how they spend on cloud services",
		Long: `costcluster pivots per-application cloud costs into an
entity x resource matrix, runs a battery of clustering methods on it and
reports which grouping separates the applications best.

Data comes from the synthetic generator or from a store filled through
the HTTP API, the import command or the generate command.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "costcluster.yaml", "Config file (missing file = defaults)")
	flags.StringVar(&a.logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	flags.StringVar(&a.backend, "storage", "", "Override storage.backend (memory, badger, sqlite)")
	flags.StringVar(&a.dataDir, "data-dir", "", "Override storage.data_dir")

	root.AddCommand(
		newRunCmd(a),
		newGenerateCmd(a),
		newImportCmd(a),
		newExportCmd(a),
		newSchemaCmd(a),
		newServeCmd(a),
		newInitConfigCmd(a),
	)
	return root
}

// setup loads the config, applies flag overrides and builds the logger.
func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.backend != "" {
		cfg.Storage.Backend = a.backend
	}
	if a.dataDir != "" {
		cfg.Storage.DataDir = a.dataDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	zap.ReplaceGlobals(logger)

	a.cfg = cfg
	a.logger = logger
	return nil
}

// openStorage opens the configured store. Callers close it.
func (a *app) openStorage() (storage.Storage, error) {
	return server.OpenStorage(a.cfg.Storage, a.logger.Named("storage"))
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zc zap.Config
	switch cfg.Format {
	case "json":
		zc = zap.NewProductionConfig()
	default:
		zc = zap.NewDevelopmentConfig()
	}

	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = level
	}
	// Reports go to stdout; keep logs off it
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
