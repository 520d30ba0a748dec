package catalog

import "github.com/sydlexius/trackmerge/internal/genre"

// Source column names shared by the loaders and the cleaning stage.
const (
	ColTrackID      = "track_id"
	ColTrackName    = "track_name"
	ColAlbumName    = "album_name"
	ColArtists      = "artists"
	ColPopularity   = "popularity"
	ColExplicit     = "explicit"
	ColDanceability = "danceability"
	ColEnergy       = "energy"
	ColDurationMS   = "duration_ms"
	ColDurationMin  = "duration_min"
	ColTrackGenre   = "track_genre"
)

// VariousArtists is the artist name used when no profile name is available.
const VariousArtists = "Various Artists"

// Track is one streaming-service catalog entry.
type Track struct {
	TrackID       string         `json:"track_id"`
	TrackName     string         `json:"track_name"`
	AlbumName     string         `json:"album_name"`
	Artists       []string       `json:"artists"` // primary artist first
	Popularity    int            `json:"popularity"`
	Explicit      bool           `json:"explicit"`
	Danceability  float64        `json:"danceability"`
	Energy        float64        `json:"energy"`
	DurationMin   float64        `json:"duration_min"`
	Genre         string         `json:"track_genre"`
	GenreCategory genre.Category `json:"genre_category"`
}

// PrimaryArtist returns the first credited artist, or "".
func (t Track) PrimaryArtist() string {
	if len(t.Artists) == 0 {
		return ""
	}
	return t.Artists[0]
}

// ArtistProfile is per-artist metadata from the enrichment source.
type ArtistProfile struct {
	TrackID    string `json:"track_id,omitempty"`
	ArtistID   string `json:"artist_id"`
	ArtistName string `json:"artist_name"`
	Followers  int    `json:"follower_count"`
	Popularity int    `json:"popularity_score"`
}

// Nomination is one awards-registry entry. It has no identifier beyond its
// natural key (category, nominee, artist, year).
type Nomination struct {
	Category string `json:"category"`
	Nominee  string `json:"nominee"`
	Artist   string `json:"artist"`
	Year     int    `json:"year"`
}

// EnrichedTrack is a Track left-joined with its artist profile.
type EnrichedTrack struct {
	Track
	ArtistID         string `json:"artist_id"`
	ArtistName       string `json:"artist_name"`
	ArtistFollowers  int    `json:"artist_followers"`
	ArtistPopularity int    `json:"artist_popularity"`
	ProfileMatched   bool   `json:"-"`
}

// Schema records which columns a source actually carried. A nil Schema
// reports every column as present.
type Schema map[string]bool

// Has reports whether col was present in the source.
func (s Schema) Has(col string) bool {
	if s == nil {
		return true
	}
	return s[col]
}
