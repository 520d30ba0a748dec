package source

import (
	"log/slog"
	"sort"
)

// Report describes what a loader read and what it had to default.
type Report struct {
	Source         string         `json:"source"`
	Rows           int            `json:"rows"`
	MissingColumns []string       `json:"missing_columns,omitempty"`
	Coerced        map[string]int `json:"coerced,omitempty"`
}

func newReport(source string) *Report {
	return &Report{Source: source, Coerced: make(map[string]int)}
}

func (r *Report) coerceFailed(col string) {
	r.Coerced[col]++
}

// LogWarnings emits one warning per missing column and one per column with
// coercion failures.
func (r *Report) LogWarnings(logger *slog.Logger) {
	for _, col := range r.MissingColumns {
		logger.Warn("column missing from source, using defaults",
			slog.String("source", r.Source),
			slog.String("column", col))
	}

	cols := make([]string, 0, len(r.Coerced))
	for col := range r.Coerced {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	for _, col := range cols {
		logger.Warn("unparseable values coerced to zero",
			slog.String("source", r.Source),
			slog.String("column", col),
			slog.Int("count", r.Coerced[col]))
	}
}
