package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nicktill/costcluster/pkg/client"
	"github.com/nicktill/costcluster/pkg/client/batch"
	"github.com/nicktill/costcluster/pkg/config"
	"github.com/nicktill/costcluster/pkg/export"
	"github.com/nicktill/costcluster/pkg/generator"
	"github.com/nicktill/costcluster/pkg/observation"
	"github.com/nicktill/costcluster/pkg/pipeline"
	"github.com/nicktill/costcluster/pkg/storage"
	"github.com/nicktill/costcluster/pkg/storage/memory"
)

func newGenerateCmd(a *app) *cobra.Command {
	var (
		out    string
		format string
		seed   uint64
		days   int
		target string
		apiKey string
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate synthetic cost observations",
		Long: `Draws a synthetic data set from the generator settings. Without --out
the observations are written to the configured store; with --out they are
exported to a JSON or CSV file instead. With --server they are pushed to a
running costcluster server.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gen := pipeline.SyntheticSource(a.cfg.Generator)
			if cmd.Flags().Changed("seed") {
				gen.Seed = seed
			}
			if days > 0 {
				gen.Config.Days = days
			}
			obs := generator.Generate(gen.Config, gen.Seed)

			if target != "" {
				return push(cmd, a, target, apiKey, obs)
			}

			var store storage.Storage
			if out == "" {
				s, err := a.openStorage()
				if err != nil {
					return err
				}
				store = s
			} else {
				store = memory.New()
			}
			defer store.Close()

			if err := store.Write(cmd.Context(), obs); err != nil {
				return fmt.Errorf("failed to write observations: %w", err)
			}
			a.logger.Info("generated observations",
				zap.Int("observations", len(obs)),
				zap.Int("entities", len(gen.Config.Entities)),
				zap.Int("days", gen.Config.Days),
				zap.Uint64("seed", gen.Seed))

			if out == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d observations to %s storage\n", len(obs), a.cfg.Storage.Backend)
				return nil
			}
			res, err := exportFile(cmd, store, out, export.ExportOptions{Format: format})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d observations to %s\n", res.ObservationsExported, out)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&out, "out", "o", "", "Export to this file instead of storage")
	flags.StringVar(&format, "format", "", "File format: json or csv (default: from extension)")
	flags.Uint64Var(&seed, "seed", 0, "Override generator.seed")
	flags.IntVar(&days, "days", 0, "Override generator.days")
	flags.StringVar(&target, "server", "", "Push to the costcluster server at this URL")
	flags.StringVar(&apiKey, "api-key", os.Getenv("COSTCLUSTER_API_KEY"), "Bearer token for --server")
	cmd.MarkFlagsMutuallyExclusive("out", "server")
	return cmd
}

// push sends obs to a server through a batcher and reports what landed.
func push(cmd *cobra.Command, a *app, target, apiKey string, obs []observation.Observation) error {
	c := client.New(target, apiKey)
	b := c.NewBatcher(batch.Config{}, a.logger.Named("batch"))
	b.Start(cmd.Context())
	for _, o := range obs {
		b.Add(o)
	}
	err := b.Stop()

	stats := b.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "pushed %d observations to %s in %d batches (%d failed)\n",
		stats.Sent, target, stats.Batches, stats.Failed)
	if err != nil {
		return fmt.Errorf("push failed: %w", err)
	}
	return nil
}

func newImportCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import observations from a JSON export or a cost CSV",
		Long: `Reads a JSON export document or a CSV file into the configured store.
CSV files may use either the export header or the cost report header
(applications, service, eur_total_costs, day).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if format == "" {
				format = formatFromPath(path)
			}

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			store, err := a.openStorage()
			if err != nil {
				return err
			}
			defer store.Close()

			importer := export.NewImporter(store)
			importer.Strict = a.cfg.Storage.StrictCost
			res, err := importer.Import(cmd.Context(), f, format)
			if err != nil {
				return err
			}
			for _, msg := range res.Errors {
				a.logger.Warn("skipped observation", zap.String("reason", msg))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d observations in %d batches (%d skipped)\n",
				res.ObservationsImported, res.BatchesWritten, len(res.Errors))
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "File format: json or csv (default: from extension)")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var (
		out       string
		format    string
		entities  []string
		resources []string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored observations to JSON or CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStorage()
			if err != nil {
				return err
			}
			defer store.Close()

			if out == "" || out == "-" {
				if format == "" {
					format = export.FormatJSON
				}
				_, err := export.NewExporter(store).Export(cmd.Context(), cmd.OutOrStdout(), export.ExportOptions{
					Entities:  entities,
					Resources: resources,
					Format:    format,
				})
				return err
			}

			res, err := exportFile(cmd, store, out, export.ExportOptions{
				Entities:  entities,
				Resources: resources,
				Format:    format,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d observations (%s) to %s\n",
				res.ObservationsExported, res.TimeRange, out)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&out, "out", "o", "", "Output file (default: stdout)")
	flags.StringVar(&format, "format", "", "File format: json or csv (default: from extension)")
	flags.StringSliceVar(&entities, "entity", nil, "Only export these entities")
	flags.StringSliceVar(&resources, "resource", nil, "Only export these resources")
	return cmd
}

func newSchemaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the relational schema of the store (sqlite only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStorage()
			if err != nil {
				return err
			}
			defer store.Close()

			inspector, ok := store.(storage.SchemaInspector)
			if !ok {
				return fmt.Errorf("storage backend %q has no schema", a.cfg.Storage.Backend)
			}
			schema, err := inspector.Schema(cmd.Context())
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(schema)
		},
	}
}

func newInitConfigCmd(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init-config [FILE]",
		Short: "Write the default configuration to a YAML file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.configPath
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.DefaultConfig().Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

// exportFile writes store to path, picking the format from the extension
// when opts has none.
func exportFile(cmd *cobra.Command, store storage.Storage, path string, opts export.ExportOptions) (*export.ExportResult, error) {
	if opts.Format == "" {
		opts.Format = formatFromPath(path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	res, err := export.NewExporter(store).Export(cmd.Context(), f, opts)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, errors.Join(err, os.Remove(path))
	}
	return res, nil
}

func formatFromPath(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return export.FormatCSV
	}
	return export.FormatJSON
}
