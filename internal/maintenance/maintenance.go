package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sydlexius/trackmerge/internal/database"
)

// Status holds database maintenance status information.
type Status struct {
	Driver      string `json:"driver"`
	DBFileSize  int64  `json:"db_file_size"`
	WALFileSize int64  `json:"wal_file_size"`
	PageCount   int64  `json:"page_count"`
	PageSize    int64  `json:"page_size"`
	MergedRows  int64  `json:"merged_rows"`
	Runs        int64  `json:"runs"`
	LastRunAt   string `json:"last_run_at,omitempty"`
}

// Service provides database maintenance operations for the sink database.
type Service struct {
	db     *sql.DB
	driver string
	dbPath string
	logger *slog.Logger
}

// NewService creates a maintenance service. dbPath is only used for sqlite
// file sizes.
func NewService(db *sql.DB, driver, dbPath string, logger *slog.Logger) *Service {
	if driver == "" {
		driver = database.SQLite
	}
	return &Service{
		db:     db,
		driver: driver,
		dbPath: dbPath,
		logger: logger.With(slog.String("component", "maintenance")),
	}
}

// Status returns current database maintenance status.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	st := &Status{Driver: s.driver}

	if s.driver == database.Postgres {
		if err := s.db.QueryRowContext(ctx, "SELECT pg_database_size(current_database())").Scan(&st.DBFileSize); err != nil {
			s.logger.Warn("reading database size", "error", err)
		}
	} else {
		if info, err := os.Stat(s.dbPath); err == nil {
			st.DBFileSize = info.Size()
		}
		if info, err := os.Stat(s.dbPath + "-wal"); err == nil {
			st.WALFileSize = info.Size()
		}
		if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&st.PageCount); err != nil {
			s.logger.Warn("reading page_count", "error", err)
		}
		if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&st.PageSize); err != nil {
			s.logger.Warn("reading page_size", "error", err)
		}
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM merged_tracks").Scan(&st.MergedRows); err != nil {
		return nil, fmt.Errorf("counting merged rows: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pipeline_runs").Scan(&st.Runs); err != nil {
		return nil, fmt.Errorf("counting runs: %w", err)
	}

	var last sql.NullString
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(started_at) FROM pipeline_runs").Scan(&last); err != nil {
		return nil, fmt.Errorf("reading last run: %w", err)
	}
	st.LastRunAt = last.String

	return st, nil
}

// Optimize refreshes planner statistics. On sqlite it also truncates the
// WAL, which grows with every full table replace.
func (s *Service) Optimize(ctx context.Context) error {
	if s.driver == database.Postgres {
		s.logger.Info("running ANALYZE")
		if _, err := s.db.ExecContext(ctx, "ANALYZE merged_tracks"); err != nil {
			return fmt.Errorf("ANALYZE: %w", err)
		}
		return nil
	}

	s.logger.Info("running PRAGMA optimize")
	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return fmt.Errorf("PRAGMA optimize: %w", err)
	}

	s.logger.Info("running WAL checkpoint")
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("WAL checkpoint: %w", err)
	}

	s.logger.Info("optimize complete")
	return nil
}

// Vacuum rebuilds the database file (sqlite) or the merged table (postgres).
func (s *Service) Vacuum(ctx context.Context) error {
	stmt := "VACUUM"
	if s.driver == database.Postgres {
		stmt = "VACUUM ANALYZE merged_tracks"
	}
	s.logger.Info("running vacuum", slog.String("statement", stmt))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("%s: %w", stmt, err)
	}
	s.logger.Info("vacuum complete")
	return nil
}

// PruneRuns deletes all but the keep most recent pipeline runs. keep <= 0
// disables pruning.
func (s *Service) PruneRuns(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, database.Rebind(s.driver, `
		DELETE FROM pipeline_runs
		WHERE id NOT IN (
			SELECT id FROM pipeline_runs ORDER BY started_at DESC LIMIT ?
		)
	`), keep)
	if err != nil {
		return 0, fmt.Errorf("pruning runs: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("pruned run history", slog.Int64("deleted", n), slog.Int("kept", keep))
	}
	return n, nil
}

// StartScheduler runs optimize on a fixed interval until the context is canceled.
func (s *Service) StartScheduler(ctx context.Context, interval time.Duration) {
	s.logger.Info("maintenance scheduler started",
		slog.String("interval", interval.String()))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("maintenance scheduler stopped")
			return
		case <-ticker.C:
			if err := s.Optimize(ctx); err != nil {
				s.logger.Error("scheduled optimize failed", slog.Any("error", err))
			}
		}
	}
}
