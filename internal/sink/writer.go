// Package sink persists merged records and run history to the relational
// database.
package sink

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sydlexius/trackmerge/internal/database"
	"github.com/sydlexius/trackmerge/internal/merge"
)

// DefaultBatchSize is the number of rows per INSERT statement.
const DefaultBatchSize = 500

// mergedTable is the destination table for merged records.
const mergedTable = "merged_tracks"

// Writer replaces the merged table contents.
type Writer struct {
	db        *sql.DB
	driver    string
	batchSize int
	logger    *slog.Logger
}

// NewWriter creates a Writer. A non-positive batchSize means
// DefaultBatchSize.
func NewWriter(db *sql.DB, driver string, batchSize int, logger *slog.Logger) *Writer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	// Keep each statement under SQLite's 32766 bound-parameter limit.
	if limit := 32766 / len(merge.Columns); batchSize > limit {
		batchSize = limit
	}
	return &Writer{
		db:        db,
		driver:    driver,
		batchSize: batchSize,
		logger:    logger.With(slog.String("component", "sink")),
	}
}

// Replace deletes every row of the merged table and inserts records, all in
// one transaction. Empty input leaves the table untouched and returns 0.
func (w *Writer) Replace(ctx context.Context, records []merge.Record) (int, error) {
	if len(records) == 0 {
		w.logger.Warn("no records to write, leaving table unchanged", slog.String("table", mergedTable))
		return 0, nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+mergedTable); err != nil {
		return 0, fmt.Errorf("clearing %s: %w", mergedTable, err)
	}

	written := 0
	for start := 0; start < len(records); start += w.batchSize {
		end := min(start+w.batchSize, len(records))
		batch := records[start:end]

		query, args := w.insertBatch(batch)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("inserting rows %d-%d: %w", start, end-1, err)
		}
		written += len(batch)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing %s: %w", mergedTable, err)
	}

	w.logger.Info("merged table replaced",
		slog.String("table", mergedTable),
		slog.Int("rows", written))
	return written, nil
}

func (w *Writer) insertBatch(batch []merge.Record) (string, []any) {
	row := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(merge.Columns)), ", ") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mergedTable)
	b.WriteString(" (")
	b.WriteString(strings.Join(merge.Columns, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(batch)*len(merge.Columns))
	for i, rec := range batch {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(row)
		args = append(args, rec.Args()...)
	}
	return database.Rebind(w.driver, b.String()), args
}

// Count returns the number of rows in the merged table.
func (w *Writer) Count(ctx context.Context) (int, error) {
	var n int
	if err := w.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+mergedTable).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", mergedTable, err)
	}
	return n, nil
}
