package source

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/sydlexius/trackmerge/internal/catalog"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidTableName reports whether name is a plain [schema.]identifier.
func ValidTableName(name string) bool {
	return tableName.MatchString(name)
}

// SQLNominations reads nominations from a relational table with year,
// category, nominee and artist columns.
func SQLNominations(ctx context.Context, db *sql.DB, table string) ([]catalog.Nomination, *Report, error) {
	if !ValidTableName(table) {
		return nil, nil, fmt.Errorf("loading nominations: invalid table name %q", table)
	}

	query := "SELECT year, category, nominee, artist FROM " + table //nolint:gosec // table name validated above
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("querying nominations from %s: %w", table, err)
	}
	defer rows.Close() //nolint:errcheck

	report := newReport("nominations")
	var noms []catalog.Nomination
	for rows.Next() {
		var year, category, nominee, artist sql.NullString
		if err := rows.Scan(&year, &category, &nominee, &artist); err != nil {
			return nil, nil, fmt.Errorf("scanning nomination: %w", err)
		}
		noms = append(noms, nominationFrom(report, category.String, nominee.String, artist.String, year.String))
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterating nominations: %w", err)
	}

	report.Rows = len(noms)
	return noms, report, nil
}
