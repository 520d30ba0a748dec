// Package catalog holds the track, artist-profile and nomination models
// together with the cleaning and artist-enrichment stages.
package catalog

import (
	"strings"

	"github.com/sydlexius/trackmerge/internal/genre"
)

// TextFields names the text fields Prepare trims. Fields outside this
// list are passed through untouched.
var TextFields = []string{ColTrackID, ColTrackName, ColAlbumName, ColArtists, ColTrackGenre}

// RequiredFields names the fields whose blank value drops a row, provided
// the column was present in the source.
var RequiredFields = []string{ColTrackName, ColAlbumName, ColArtists}

// PrepareStats counts what the cleaning stage removed.
type PrepareStats struct {
	Input           int `json:"input"`
	MissingID       int `json:"missing_id"`
	MissingRequired int `json:"missing_required"`
	Duplicates      int `json:"duplicates"`
	Output          int `json:"output"`
}

// Prepare trims the cleaned fields, drops rows without a track id or with a
// blank required field, collapses duplicate track ids (first seen wins) and
// assigns each row its genre category. The input slice is not modified.
func Prepare(tracks []Track, schema Schema, mapper *genre.Mapper) ([]Track, PrepareStats) {
	stats := PrepareStats{Input: len(tracks)}
	out := make([]Track, 0, len(tracks))
	seen := make(map[string]bool, len(tracks))

	for _, src := range tracks {
		t := cleanTrack(src)

		if t.TrackID == "" {
			stats.MissingID++
			continue
		}
		if missingRequired(t, schema) {
			stats.MissingRequired++
			continue
		}
		if seen[t.TrackID] {
			stats.Duplicates++
			continue
		}
		seen[t.TrackID] = true

		t.GenreCategory = mapper.Categorize(t.Genre)
		out = append(out, t)
	}

	stats.Output = len(out)
	return out, stats
}

func cleanTrack(t Track) Track {
	for _, field := range TextFields {
		switch field {
		case ColTrackID:
			t.TrackID = strings.TrimSpace(t.TrackID)
		case ColTrackName:
			t.TrackName = strings.TrimSpace(t.TrackName)
		case ColAlbumName:
			t.AlbumName = strings.TrimSpace(t.AlbumName)
		case ColArtists:
			artists := make([]string, 0, len(t.Artists))
			for _, a := range t.Artists {
				if a = strings.TrimSpace(a); a != "" {
					artists = append(artists, a)
				}
			}
			t.Artists = artists
		case ColTrackGenre:
			t.Genre = strings.TrimSpace(t.Genre)
		}
	}
	return t
}

func missingRequired(t Track, schema Schema) bool {
	for _, field := range RequiredFields {
		if !schema.Has(field) {
			continue
		}
		switch field {
		case ColTrackName:
			if t.TrackName == "" {
				return true
			}
		case ColAlbumName:
			if t.AlbumName == "" {
				return true
			}
		case ColArtists:
			if len(t.Artists) == 0 {
				return true
			}
		}
	}
	return false
}

// NominationTextFields names the nomination fields CleanNominations trims.
var NominationTextFields = []string{"category", "nominee", "artist"}

// CleanNominations returns a copy of noms with the NominationTextFields
// trimmed.
func CleanNominations(noms []Nomination) []Nomination {
	out := make([]Nomination, len(noms))
	for i, n := range noms {
		for _, field := range NominationTextFields {
			switch field {
			case "category":
				n.Category = strings.TrimSpace(n.Category)
			case "nominee":
				n.Nominee = strings.TrimSpace(n.Nominee)
			case "artist":
				n.Artist = strings.TrimSpace(n.Artist)
			}
		}
		out[i] = n
	}
	return out
}
