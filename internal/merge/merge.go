// Package merge projects linked rows onto the fixed output record.
package merge

import (
	"strconv"
	"strings"

	"github.com/sydlexius/trackmerge/internal/genre"
	"github.com/sydlexius/trackmerge/internal/linkage"
	"github.com/sydlexius/trackmerge/internal/normalize"
)

// Unknown fills empty categorical text fields.
const Unknown = "unknown"

// Columns is the output column order shared by the sink and the archive.
var Columns = []string{
	"track_id",
	"track_name",
	"album_name",
	"artists",
	"popularity",
	"explicit",
	"danceability",
	"energy",
	"duration_min",
	"genre_category",
	"artist_id",
	"artist_name",
	"artist_followers",
	"artist_popularity",
	"has_nomination",
	"track_nomination_count",
	"album_nomination_count",
	"nomination_category",
	"nomination_year",
	"match_type",
}

// Record is one output row.
type Record struct {
	TrackID              string            `json:"track_id"`
	TrackName            string            `json:"track_name"`
	AlbumName            string            `json:"album_name"`
	Artists              string            `json:"artists"`
	Popularity           int               `json:"popularity"`
	Explicit             bool              `json:"explicit"`
	Danceability         float64           `json:"danceability"`
	Energy               float64           `json:"energy"`
	DurationMin          float64           `json:"duration_min"`
	GenreCategory        genre.Category    `json:"genre_category"`
	ArtistID             string            `json:"artist_id"`
	ArtistName           string            `json:"artist_name"`
	ArtistFollowers      int               `json:"artist_followers"`
	ArtistPopularity     int               `json:"artist_popularity"`
	HasNomination        bool              `json:"has_nomination"`
	TrackNominationCount int               `json:"track_nomination_count"`
	AlbumNominationCount int               `json:"album_nomination_count"`
	NominationCategory   string            `json:"nomination_category"`
	NominationYear       int               `json:"nomination_year"`
	MatchType            linkage.MatchType `json:"match_type"`
}

// Finalize converts linked rows to records, keeping the first row for each
// track id and filling defaults for absent values.
func Finalize(rows []linkage.Row) []Record {
	out := make([]Record, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, r := range rows {
		if seen[r.TrackID] {
			continue
		}
		seen[r.TrackID] = true
		out = append(out, project(r))
	}
	return out
}

func project(r linkage.Row) Record {
	rec := Record{
		TrackID:              r.TrackID,
		TrackName:            orUnknown(r.TrackName),
		AlbumName:            orUnknown(r.AlbumName),
		Artists:              orUnknown(normalize.JoinArtists(r.Artists)),
		Popularity:           max(r.Popularity, 0),
		Explicit:             r.Explicit,
		Danceability:         r.Danceability,
		Energy:               r.Energy,
		DurationMin:          r.DurationMin,
		GenreCategory:        r.GenreCategory,
		ArtistID:             strings.TrimSpace(r.ArtistID),
		ArtistName:           orUnknown(r.ArtistName),
		ArtistFollowers:      max(r.ArtistFollowers, 0),
		ArtistPopularity:     max(r.ArtistPopularity, 0),
		TrackNominationCount: max(r.TrackNominations, 0),
		AlbumNominationCount: max(r.AlbumNominations, 0),
		NominationCategory:   strings.TrimSpace(r.Category),
		NominationYear:       max(r.Year, 0),
		MatchType:            r.MatchType,
	}
	if rec.GenreCategory == "" {
		rec.GenreCategory = genre.Other
	}
	if rec.MatchType == "" {
		rec.MatchType = linkage.Unmatched
	}
	rec.HasNomination = rec.TrackNominationCount > 0 || rec.AlbumNominationCount > 0
	return rec
}

func orUnknown(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return Unknown
	}
	return s
}

// Values renders the record as text in Columns order.
func (r Record) Values() []string {
	return []string{
		r.TrackID,
		r.TrackName,
		r.AlbumName,
		r.Artists,
		strconv.Itoa(r.Popularity),
		strconv.FormatBool(r.Explicit),
		strconv.FormatFloat(r.Danceability, 'f', -1, 64),
		strconv.FormatFloat(r.Energy, 'f', -1, 64),
		strconv.FormatFloat(r.DurationMin, 'f', 2, 64),
		string(r.GenreCategory),
		r.ArtistID,
		r.ArtistName,
		strconv.Itoa(r.ArtistFollowers),
		strconv.Itoa(r.ArtistPopularity),
		strconv.FormatBool(r.HasNomination),
		strconv.Itoa(r.TrackNominationCount),
		strconv.Itoa(r.AlbumNominationCount),
		r.NominationCategory,
		strconv.Itoa(r.NominationYear),
		string(r.MatchType),
	}
}

// Args returns the record's fields in Columns order for SQL binding.
// Booleans are bound as 0/1 so the same statement works on every driver.
func (r Record) Args() []any {
	return []any{
		r.TrackID,
		r.TrackName,
		r.AlbumName,
		r.Artists,
		r.Popularity,
		boolInt(r.Explicit),
		r.Danceability,
		r.Energy,
		r.DurationMin,
		string(r.GenreCategory),
		r.ArtistID,
		r.ArtistName,
		r.ArtistFollowers,
		r.ArtistPopularity,
		boolInt(r.HasNomination),
		r.TrackNominationCount,
		r.AlbumNominationCount,
		r.NominationCategory,
		r.NominationYear,
		string(r.MatchType),
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
