package sink

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sydlexius/trackmerge/internal/database"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run is one pipeline execution.
type Run struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"` // "running", "completed", "failed"
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CatalogRows    int        `json:"catalog_rows"`
	OutputRows     int        `json:"output_rows"`
	Exact          int        `json:"exact_matches"`
	Fallback       int        `json:"fallback_matches"`
	Unmatched      int        `json:"unmatched"`
	WithNomination int        `json:"with_nomination"`
	ArchiveName    string     `json:"archive_name,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// RunStore records pipeline runs.
type RunStore struct {
	db     *sql.DB
	driver string
}

// NewRunStore creates a RunStore.
func NewRunStore(db *sql.DB, driver string) *RunStore {
	return &RunStore{db: db, driver: driver}
}

// Start inserts a running row and returns it.
func (s *RunStore) Start(ctx context.Context) (*Run, error) {
	r := &Run{
		ID:        uuid.New().String(),
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, database.Rebind(s.driver, `
		INSERT INTO pipeline_runs (id, status, started_at)
		VALUES (?, ?, ?)
	`), r.ID, r.Status, r.StartedAt.Format(database.TimeLayout))
	if err != nil {
		return nil, fmt.Errorf("inserting run: %w", err)
	}
	return r, nil
}

// Finish stamps r with its completion time and stores its final state.
func (s *RunStore) Finish(ctx context.Context, r *Run) error {
	now := time.Now().UTC()
	r.CompletedAt = &now

	result, err := s.db.ExecContext(ctx, database.Rebind(s.driver, `
		UPDATE pipeline_runs SET status = ?, completed_at = ?, catalog_rows = ?, output_rows = ?,
			exact_matches = ?, fallback_matches = ?, unmatched = ?, with_nomination = ?,
			archive_name = ?, error = ?
		WHERE id = ?
	`), r.Status, now.Format(database.TimeLayout), r.CatalogRows, r.OutputRows,
		r.Exact, r.Fallback, r.Unmatched, r.WithNomination,
		r.ArchiveName, r.Error, r.ID)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}

	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run %s not found", r.ID)
	}
	return nil
}

// List returns the most recent runs, newest first. A non-positive limit
// means 20.
func (s *RunStore) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, database.Rebind(s.driver, `
		SELECT id, status, started_at, completed_at, catalog_rows, output_rows,
			exact_matches, fallback_matches, unmatched, with_nomination, archive_name, error
		FROM pipeline_runs ORDER BY started_at DESC, id LIMIT ?
	`), limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var runs []Run
	for rows.Next() {
		var (
			r           Run
			startedAt   string
			completedAt sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Status, &startedAt, &completedAt, &r.CatalogRows, &r.OutputRows,
			&r.Exact, &r.Fallback, &r.Unmatched, &r.WithNomination, &r.ArchiveName, &r.Error); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		if completedAt.Valid {
			t, _ := time.Parse(time.RFC3339, completedAt.String)
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
