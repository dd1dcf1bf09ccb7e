package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"igharvest/internal/api"
)

var (
	serveHost    string
	servePort    int
	serveWorkers int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API backed by a single Instagram session.

A saved session is restored on start when session.restore_on_start is set.
When an llm api key and pipeline targets are configured the extraction
pipeline also runs every pipeline.interval_seconds.

The server shuts down gracefully on SIGINT or SIGTERM.`,
	Example: `  # Serve on the default address
  igharvest serve

  # Serve on another port with a larger worker pool
  igharvest serve --port 9000 --workers 8`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "address to listen on")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "port to listen on")
	serveCmd.Flags().IntVarP(&serveWorkers, "workers", "w", 0, "size of the session worker pool")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(map[string]interface{}{
		"host":    serveHost,
		"port":    servePort,
		"workers": serveWorkers,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.WithError(err).Warn("Failed to close application")
		}
	}()

	var wg sync.WaitGroup
	deps := api.Deps{
		Session:            a.session,
		Products:           a.store,
		Health:             a.store,
		Recorder:           a.metrics,
		Gatherer:           a.registry,
		LoginRatePerMinute: cfg.Server.LoginRatePerMinute,
		LoginBurst:         cfg.Server.LoginBurst,
		BaseContext:        ctx,
		Jobs:               &wg,
		Logger:             log,
	}

	if a.pipeline != nil {
		deps.Pipeline = a.pipeline
		if len(cfg.Pipeline.Targets) > 0 || len(cfg.Pipeline.SnapshotTargets) > 0 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := a.pipeline.Loop(ctx, cfg.Pipeline.Interval(), cfg.Pipeline.RunOnStart); err != nil {
					log.WithError(err).Error("Pipeline loop failed")
				}
			}()
		}
	}

	srv := api.NewServer(cfg.Server, api.NewRouter(deps))
	err = api.Serve(ctx, srv, cfg.Server.ShutdownTimeout, log)

	stop()
	wg.Wait()
	return err
}
