package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nicktill/costcluster/pkg/server"
)

func newServeCmd(a *app) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Starts the HTTP API:
  POST /v1/observations   - Ingest observations
  GET  /v1/observations   - Query observations
  GET  /v1/stats          - Storage and cardinality statistics
  POST /v1/runs           - Run the pipeline (?source=synthetic|storage)
  GET  /v1/runs           - Recent runs
  GET  /v1/runs/{id}      - One run (/report renders it as text)
  GET  /v1/schema         - Relational schema (sqlite)
  GET  /v1/storage        - Disk usage
  GET  /v1/health         - Health check
  GET  /v1/export         - Backup as JSON or CSV
  POST /v1/import         - Restore a backup
  GET  /v1/ws             - Run stage events`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if port != "" {
				a.cfg.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := a.openStorage()
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					a.logger.Warn("failed to close storage", zap.Error(err))
				}
			}()

			srv, err := server.New(ctx, a.cfg, store, a.logger)
			if err != nil {
				return err
			}
			if err := srv.ListenAndServe(ctx); err != nil {
				return err
			}
			a.logger.Info("costcluster server exited cleanly")
			return nil
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "Override server.port")
	return cmd
}
