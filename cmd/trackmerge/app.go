package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/sydlexius/trackmerge/internal/archive"
	"github.com/sydlexius/trackmerge/internal/config"
	"github.com/sydlexius/trackmerge/internal/database"
	"github.com/sydlexius/trackmerge/internal/logging"
	"github.com/sydlexius/trackmerge/internal/maintenance"
	"github.com/sydlexius/trackmerge/internal/pipeline"
	"github.com/sydlexius/trackmerge/internal/sink"
	"github.com/sydlexius/trackmerge/internal/source"
)

// app holds the wired services for one command invocation.
type app struct {
	cfg        *config.Config
	logManager *logging.Manager
	logger     *slog.Logger

	db      *sql.DB
	nomDB   *sql.DB
	runs    *sink.RunStore
	maint   *maintenance.Service
	service *pipeline.Service

	closers []io.Closer
}

// loadApp reads the configuration and sets up logging. It does not touch
// the database.
func loadApp(opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath, opts.envPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logManager, logger := logging.NewManager(cfg.Logging)
	slog.SetDefault(logger)

	return &app{
		cfg:        cfg,
		logManager: logManager,
		logger:     logger,
	}, nil
}

// openDB opens and migrates the sink database.
func (a *app) openDB() error {
	dsn := a.cfg.Database.Path
	if a.cfg.Database.Driver == database.Postgres {
		dsn = a.cfg.Database.DSN
	}
	db, err := database.Open(a.cfg.Database.Driver, dsn)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, db)

	if err := database.Migrate(db, a.cfg.Database.Driver); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	a.runs = sink.NewRunStore(db, a.cfg.Database.Driver)
	a.maint = maintenance.NewService(db, a.cfg.Database.Driver, a.cfg.Database.Path, a.logger)
	return nil
}

// pruneRuns trims the run history to the configured size. Failures are
// logged only.
func (a *app) pruneRuns(ctx context.Context) {
	if _, err := a.maint.PruneRuns(ctx, a.cfg.Maintenance.KeepRuns); err != nil {
		a.logger.Warn("pruning run history failed", slog.String("error", err.Error()))
	}
}

// build wires the full pipeline: sink, nomination database, archive
// backends and the pipeline service.
func (a *app) build(ctx context.Context) error {
	if err := a.openDB(); err != nil {
		return err
	}

	if in := a.cfg.Inputs; in.NominationsTable != "" {
		a.nomDB = a.db
		if in.NominationsDSN != "" {
			db, err := database.Open(in.NominationsDriver, in.NominationsDSN)
			if err != nil {
				return fmt.Errorf("opening nominations database: %w", err)
			}
			a.nomDB = db
			a.closers = append(a.closers, db)
		}
	}

	backends, err := a.archiveBackends(ctx)
	if err != nil {
		return err
	}

	mapper, err := a.cfg.GenreMapper()
	if err != nil {
		return err
	}
	a.logger.Debug("genre categories",
		slog.Any("categories", mapper.Categories()),
		slog.String("fallback", string(mapper.Fallback())))

	svc := pipeline.NewService(mapper, a.cfg.JoinKey(), source.NewLoader(a.logger), a.logger)
	svc.SetSink(sink.NewWriter(a.db, a.cfg.Database.Driver, a.cfg.Database.BatchSize, a.logger), a.runs)
	svc.SetArchive(
		archive.NewUploader(backends, archive.NewRateLimiterMap(a.cfg.Archive.MinInterval), a.logger),
		a.cfg.Archive.Prefix,
	)
	a.service = svc
	return nil
}

func (a *app) archiveBackends(ctx context.Context) ([]archive.Backend, error) {
	ac := a.cfg.Archive
	var backends []archive.Backend

	if ac.LocalDir != "" {
		backends = append(backends, archive.NewLocalBackend(ac.LocalDir))
	}
	if ac.GCS.Bucket != "" {
		b, err := archive.NewGCSBackend(ctx, ac.GCS.Bucket, ac.GCS.Prefix, ac.GCS.Credentials)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, b)
		backends = append(backends, b)
	}
	if ac.Drive.FolderID != "" {
		b, err := archive.NewDriveBackend(ctx, ac.Drive.FolderID, archive.DriveAuth{
			ServiceAccount: ac.Drive.ServiceAccount,
			ClientSecrets:  ac.Drive.ClientSecrets,
			TokenFile:      ac.Drive.TokenFile,
		})
		if err != nil {
			return nil, err
		}
		backends = append(backends, b)
	}

	if len(backends) == 0 {
		a.logger.Info("no archive destinations configured")
	}
	return backends, nil
}

// paths returns the input locations from cfg.
func (a *app) paths(cfg *config.Config) source.Paths {
	p := source.Paths{
		Catalog:     cfg.Inputs.Catalog,
		Artists:     cfg.Inputs.Artists,
		Nominations: cfg.Inputs.Nominations,
	}
	if cfg.Inputs.NominationsTable != "" && a.nomDB != nil {
		p.NominationsDB = a.nomDB
		p.NominationsTable = cfg.Inputs.NominationsTable
	}
	return p
}

// Close releases everything opened by the app, in reverse order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.logManager != nil {
		if err := a.logManager.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// withApp loads the app, runs fn and closes the app, logging close errors.
func withApp(opts *rootOptions, fn func(a *app) error) error {
	a, err := loadApp(opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			a.logger.Error("closing resources", slog.String("error", cerr.Error()))
		}
	}()
	return fn(a)
}
