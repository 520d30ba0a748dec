// Package source loads the catalog, artist metadata and nomination inputs
// from delimited text files or a relational table.
package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/sydlexius/trackmerge/internal/catalog"
	"github.com/sydlexius/trackmerge/internal/normalize"
)

// ErrNotFound is returned when an input file does not exist.
var ErrNotFound = errors.New("input not found")

// Column aliases accepted by the artist loader.
var (
	followerColumns   = []string{"followers", "artist_followers", "follower_count"}
	popularityColumns = []string{"popularity", "artist_popularity", "popularity_score"}
)

const ctxCheckEvery = 1024

// table is an open CSV file with a header index.
type table struct {
	f     *os.File
	r     *csv.Reader
	index map[string]int
}

func openTable(path string) (*table, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from operator config
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true

	t := &table{f: f, r: r, index: make(map[string]int)}

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return t, nil
	}
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("reading header of %s: %w", path, err)
	}
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		h = strings.ToLower(strings.TrimSpace(h))
		if _, dup := t.index[h]; !dup && h != "" {
			t.index[h] = i
		}
	}
	return t, nil
}

func (t *table) Close() error {
	return t.f.Close()
}

func (t *table) has(cols ...string) bool {
	for _, c := range cols {
		if _, ok := t.index[c]; ok {
			return true
		}
	}
	return false
}

// get returns the value of the first alias present in the header, or "".
func (t *table) get(rec []string, cols ...string) string {
	for _, c := range cols {
		if i, ok := t.index[c]; ok {
			if i < len(rec) {
				return rec[i]
			}
			return ""
		}
	}
	return ""
}

func (t *table) schema() catalog.Schema {
	s := make(catalog.Schema, len(t.index))
	for c := range t.index {
		s[c] = true
	}
	return s
}

// each calls fn for every data row, checking ctx periodically.
func (t *table) each(ctx context.Context, fn func(rec []string)) error {
	for n := 0; ; n++ {
		if n%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		rec, err := t.r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading row: %w", err)
		}
		fn(rec)
	}
}

func (t *table) missing(report *Report, groups ...[]string) {
	if len(t.index) == 0 {
		return
	}
	for _, g := range groups {
		if !t.has(g...) {
			report.MissingColumns = append(report.MissingColumns, g[0])
		}
	}
}

// LoadTracks reads the catalog CSV at path. The returned schema lists the
// columns the file carried.
func LoadTracks(ctx context.Context, path string) ([]catalog.Track, catalog.Schema, *Report, error) {
	t, err := openTable(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading catalog: %w", err)
	}
	defer t.Close() //nolint:errcheck

	report := newReport("catalog")
	t.missing(report,
		[]string{catalog.ColTrackID},
		[]string{catalog.ColTrackName},
		[]string{catalog.ColAlbumName},
		[]string{catalog.ColArtists},
		[]string{catalog.ColPopularity},
		[]string{catalog.ColDurationMS, catalog.ColDurationMin},
		[]string{catalog.ColTrackGenre},
	)

	var tracks []catalog.Track
	err = t.each(ctx, func(rec []string) {
		tr := catalog.Track{
			TrackID:   t.get(rec, catalog.ColTrackID),
			TrackName: t.get(rec, catalog.ColTrackName),
			AlbumName: t.get(rec, catalog.ColAlbumName),
			Artists:   normalize.SplitArtists(t.get(rec, catalog.ColArtists)),
			Genre:     t.get(rec, catalog.ColTrackGenre),
		}

		var ok bool
		if tr.Popularity, ok = parseInt(t.get(rec, catalog.ColPopularity)); !ok {
			report.coerceFailed(catalog.ColPopularity)
		}
		if tr.Explicit, ok = parseBool(t.get(rec, catalog.ColExplicit)); !ok {
			report.coerceFailed(catalog.ColExplicit)
		}
		if tr.Danceability, ok = parseFloat(t.get(rec, catalog.ColDanceability)); !ok {
			report.coerceFailed(catalog.ColDanceability)
		}
		if tr.Energy, ok = parseFloat(t.get(rec, catalog.ColEnergy)); !ok {
			report.coerceFailed(catalog.ColEnergy)
		}

		if t.has(catalog.ColDurationMS) {
			ms, ok := parseFloat(t.get(rec, catalog.ColDurationMS))
			if !ok {
				report.coerceFailed(catalog.ColDurationMS)
			}
			tr.DurationMin = msToMinutes(ms)
		} else {
			if tr.DurationMin, ok = parseFloat(t.get(rec, catalog.ColDurationMin)); !ok {
				report.coerceFailed(catalog.ColDurationMin)
			}
		}

		tracks = append(tracks, tr)
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading catalog %s: %w", path, err)
	}

	report.Rows = len(tracks)
	return tracks, t.schema(), report, nil
}

// LoadArtists reads the artist metadata CSV at path.
func LoadArtists(ctx context.Context, path string) ([]catalog.ArtistProfile, *Report, error) {
	t, err := openTable(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading artists: %w", err)
	}
	defer t.Close() //nolint:errcheck

	report := newReport("artists")
	t.missing(report,
		[]string{"artist_id"},
		[]string{"artist_name"},
		followerColumns,
		popularityColumns,
	)

	var profiles []catalog.ArtistProfile
	err = t.each(ctx, func(rec []string) {
		p := catalog.ArtistProfile{
			TrackID:    strings.TrimSpace(t.get(rec, catalog.ColTrackID)),
			ArtistID:   strings.TrimSpace(t.get(rec, "artist_id")),
			ArtistName: strings.TrimSpace(t.get(rec, "artist_name")),
		}

		var ok bool
		if p.Followers, ok = parseInt(t.get(rec, followerColumns...)); !ok {
			report.coerceFailed(followerColumns[1])
		}
		if p.Popularity, ok = parseInt(t.get(rec, popularityColumns...)); !ok {
			report.coerceFailed(popularityColumns[1])
		}
		p.Followers = max(p.Followers, 0)
		p.Popularity = max(p.Popularity, 0)

		profiles = append(profiles, p)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("loading artists %s: %w", path, err)
	}

	report.Rows = len(profiles)
	return profiles, report, nil
}

// LoadNominations reads the nomination CSV at path. Columns other than
// category, nominee, artist and year are ignored.
func LoadNominations(ctx context.Context, path string) ([]catalog.Nomination, *Report, error) {
	t, err := openTable(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading nominations: %w", err)
	}
	defer t.Close() //nolint:errcheck

	report := newReport("nominations")
	t.missing(report, []string{"category"}, []string{"nominee"}, []string{"artist"}, []string{"year"})

	var noms []catalog.Nomination
	err = t.each(ctx, func(rec []string) {
		noms = append(noms, nominationFrom(report,
			t.get(rec, "category"),
			t.get(rec, "nominee"),
			t.get(rec, "artist"),
			t.get(rec, "year"),
		))
	})
	if err != nil {
		return nil, nil, fmt.Errorf("loading nominations %s: %w", path, err)
	}

	report.Rows = len(noms)
	return noms, report, nil
}

func nominationFrom(report *Report, category, nominee, artist, year string) catalog.Nomination {
	n := catalog.Nomination{Category: category, Nominee: nominee, Artist: artist}
	y, ok := parseInt(year)
	if !ok {
		report.coerceFailed("year")
	}
	n.Year = max(y, 0)
	return n
}
