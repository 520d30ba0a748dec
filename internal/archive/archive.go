// Package archive serializes merged records to delimited text and uploads
// the result to one or more storage backends.
package archive

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sydlexius/trackmerge/internal/merge"
)

// ErrEmptyOutput is returned when there is nothing to archive.
var ErrEmptyOutput = errors.New("no records to archive")

// ContentType is the MIME type of archived files.
const ContentType = "text/csv"

// Backend stores one archived file.
type Backend interface {
	Name() string
	Upload(ctx context.Context, name string, data []byte) error
}

// EncodeCSV writes a header row of merge.Columns followed by one line per
// record.
func EncodeCSV(w io.Writer, records []merge.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(merge.Columns); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, r := range records {
		if err := cw.Write(r.Values()); err != nil {
			return fmt.Errorf("writing record %s: %w", r.TrackID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Marshal returns the CSV encoding of records. Empty input is
// ErrEmptyOutput.
func Marshal(records []merge.Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, ErrEmptyOutput
	}
	var buf bytes.Buffer
	if err := EncodeCSV(&buf, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FileName returns the archive object name for a run started at t.
func FileName(prefix string, t time.Time) string {
	if prefix == "" {
		prefix = "merged_tracks"
	}
	return fmt.Sprintf("%s_%s.csv", prefix, t.UTC().Format("20060102T150405Z"))
}
