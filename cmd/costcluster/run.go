package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nicktill/costcluster/pkg/config"
	"github.com/nicktill/costcluster/pkg/pipeline"
	"github.com/nicktill/costcluster/pkg/report"
	"github.com/nicktill/costcluster/pkg/server"
	"github.com/nicktill/costcluster/pkg/storage"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		source    string
		normalize bool
		outputDir string
		noReport  bool
		plots     bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the clustering pipeline once and print the report",
		Long: `Loads cost data, pivots it into the entity x resource matrix and runs
every clustering method. The best method by silhouette score is reported
along with the dominant resources of each of its clusters.

Examples:
  costcluster run
  costcluster run --source storage --storage badger --normalize
  costcluster run --output-dir ./out --plots`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("normalize") {
				a.cfg.Analysis.Normalize = normalize
			}
			if outputDir != "" {
				a.cfg.Report.OutputDir = outputDir
			}
			if plots {
				a.cfg.Report.Plots = true
			}
			opts := pipeline.FromConfig(a.cfg)
			if noReport {
				opts.WriteReport = false
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, config.RunTimeout)
			defer cancel()

			var src pipeline.Source
			switch source {
			case server.SourceSynthetic:
				src = pipeline.SyntheticSource(a.cfg.Generator)
			case server.SourceStorage:
				store, err := a.openStorage()
				if err != nil {
					return err
				}
				defer store.Close()
				src = pipeline.StorageSource{Store: store, Request: storage.QueryRequest{}}
			default:
				return fmt.Errorf("invalid --source %q, must be 'synthetic' or 'storage'", source)
			}

			log := a.logger.Named("pipeline")
			sink := pipeline.SinkFunc(func(e pipeline.Event) {
				log.Debug("stage", zap.String("stage", string(e.Stage)), zap.String("message", e.Message))
			})

			run, err := pipeline.NewRunner(opts, log, sink).Run(ctx, src)
			if err != nil {
				return err
			}
			return printRun(cmd, a.cfg, run)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&source, "source", server.SourceSynthetic, "Data source: synthetic or storage")
	flags.BoolVar(&normalize, "normalize", false, "Cluster on percentage composition instead of absolute cost")
	flags.StringVar(&outputDir, "output-dir", "", "Override report.output_dir")
	flags.BoolVar(&noReport, "no-report", false, "Skip writing report files")
	flags.BoolVar(&plots, "plots", false, "Also write silhouette and BIC plots")
	return cmd
}

func printRun(cmd *cobra.Command, cfg *config.Config, run *pipeline.Run) error {
	out := cmd.OutOrStdout()
	if cfg.Report.Console {
		fmt.Fprint(out, report.Render(run.ReportInput(), cfg.Report.TopN, cfg.Report.ClusterNames))
	}

	fmt.Fprintf(out, "run %s: %d entities, %d resources, best method %s (%s)\n",
		run.ID, len(run.Entities), len(run.Resources), run.BestMethod, run.Duration().Round(time.Millisecond))
	if run.Files != nil {
		for _, path := range append([]string{run.Files.Methods, run.Files.Summary, run.Files.TopResources, run.Files.UsagePattern}, run.Files.Plots...) {
			if path != "" {
				fmt.Fprintf(out, "  wrote %s\n", path)
			}
		}
	}
	return nil
}
