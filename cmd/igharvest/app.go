package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"igharvest/internal/extract"
	"igharvest/internal/metrics"
	"igharvest/internal/pipeline"
	"igharvest/internal/session"
	"igharvest/internal/store"
	"igharvest/pkg/auth"
	"igharvest/pkg/config"
	"igharvest/pkg/instagram"
	"igharvest/pkg/llm"
	"igharvest/pkg/logger"
	"igharvest/pkg/ratelimit"
	"igharvest/pkg/storage"
)

// app holds the long-lived components shared by serve and run.
type app struct {
	cfg      *config.Config
	log      logger.Logger
	store    *store.Store
	creds    *auth.Manager
	session  *session.Service
	pipeline *pipeline.Pipeline
	registry *prometheus.Registry
	metrics  *metrics.Collector
}

// newApp opens the database and wires the session service and, when an
// llm api key is configured, the extraction pipeline.
func newApp(ctx context.Context, cfg *config.Config, log logger.Logger) (*app, error) {
	db, err := store.Open(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, store: db}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.NewCollector(a.registry)

	savers := []session.SessionSaver{db}
	if creds, err := auth.NewManager(); err != nil {
		log.WarnWithFields("Credential manager unavailable, sessions are saved to the database only", map[string]interface{}{
			"error": err.Error(),
		})
	} else {
		a.creds = creds
		savers = append(savers, session.CredentialStore{Manager: creds})
	}

	limiter := ratelimit.New(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
	factory := func() (session.Loader, error) {
		c, err := instagram.NewClient(instagram.OptionsFromConfig(cfg, limiter, log))
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	a.session, err = session.New(session.Options{
		Factory:     factory,
		Workers:     cfg.Session.Workers,
		CallTimeout: cfg.Session.CallTimeout,
		Savers:      savers,
		Observer:    a.metrics,
		Logger:      log,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create session service: %w", err)
	}
	a.metrics.RegisterPoolStats(a.session.PoolStats)

	if cfg.Session.RestoreOnStart {
		a.restore(ctx)
	}

	if cfg.LLM.APIKey == "" {
		log.Warn("No llm api key configured, extraction pipeline disabled")
		return a, nil
	}
	if a.pipeline, err = a.newPipeline(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) newPipeline() (*pipeline.Pipeline, error) {
	completer, err := llm.NewClient(llm.OptionsFromConfig(a.cfg.LLM, a.log))
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}
	adapter, err := extract.New(extract.OptionsFromConfig(a.cfg.LLM, completer, a.log))
	if err != nil {
		return nil, fmt.Errorf("failed to create extraction adapter: %w", err)
	}

	opts := pipeline.OptionsFromConfig(a.cfg.Pipeline, a.log)
	opts.Session = a.session
	opts.Extractor = adapter
	opts.Products = a.store
	opts.Snapshots = a.store
	opts.Recorder = a.metrics
	if dir := a.cfg.Pipeline.ArchiveDir; dir != "" {
		archive, err := storage.NewManager(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to open media archive: %w", err)
		}
		removed, err := archive.CleanOrphanedSidecars()
		if err != nil {
			a.log.WithError(err).Warn("Failed to clean media archive")
		}
		a.log.InfoWithFields("Media archive ready", map[string]interface{}{
			"dir":             archive.GetOutputDir(),
			"archived":        archive.GetArchivedCount(),
			"orphans_removed": removed,
		})
		opts.Archive = archive
	}

	p, err := pipeline.New(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	return p, nil
}

// restore logs in from the first usable saved session.
func (a *app) restore(ctx context.Context) {
	sources := []session.SessionSource{a.store}
	if a.creds != nil {
		sources = append(sources, session.CredentialStore{Manager: a.creds})
	}
	sources = append(sources, session.ImportDir{Dir: a.cfg.Session.ImportDir})

	if _, err := a.session.RestoreSaved(ctx, sources...); err != nil {
		a.log.WarnWithFields("Starting without a session", map[string]interface{}{"error": err.Error()})
	}
}

// Close releases the session and the database.
func (a *app) Close() error {
	var errs []error
	if a.session != nil {
		errs = append(errs, a.session.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
