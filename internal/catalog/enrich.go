package catalog

import (
	"fmt"
	"strings"

	"github.com/sydlexius/trackmerge/internal/normalize"
)

// JoinKey selects how tracks are matched to artist profiles.
type JoinKey string

// Join keys.
const (
	JoinByTrackID    JoinKey = "track_id"
	JoinByArtistName JoinKey = "artist_name"
)

// ParseJoinKey validates a configured join key. Blank means JoinByTrackID.
func ParseJoinKey(s string) (JoinKey, error) {
	switch JoinKey(strings.TrimSpace(s)) {
	case "", JoinByTrackID:
		return JoinByTrackID, nil
	case JoinByArtistName:
		return JoinByArtistName, nil
	default:
		return "", fmt.Errorf("unknown join key %q (want %q or %q)", s, JoinByTrackID, JoinByArtistName)
	}
}

// Enrich left-joins tracks with profiles. The result has exactly one row
// per input track, in input order. When several profiles share a key the
// first one wins. Unmatched rows keep zero metrics and the VariousArtists
// name.
func Enrich(tracks []Track, profiles []ArtistProfile, key JoinKey) []EnrichedTrack {
	index := make(map[string]ArtistProfile, len(profiles))
	for _, p := range profiles {
		k := profileKey(p, key)
		if !normalize.Usable(k) {
			continue
		}
		if _, exists := index[k]; exists {
			continue
		}
		index[k] = p
	}

	out := make([]EnrichedTrack, len(tracks))
	for i, t := range tracks {
		row := EnrichedTrack{Track: t, ArtistName: VariousArtists}
		if p, ok := index[trackKey(t, key)]; ok {
			row.ProfileMatched = true
			row.ArtistID = p.ArtistID
			row.ArtistFollowers = max(p.Followers, 0)
			row.ArtistPopularity = max(p.Popularity, 0)
			if name := strings.TrimSpace(p.ArtistName); name != "" {
				row.ArtistName = name
			}
		}
		out[i] = row
	}
	return out
}

func profileKey(p ArtistProfile, key JoinKey) string {
	if key == JoinByArtistName {
		return normalize.Key(p.ArtistName)
	}
	return strings.TrimSpace(p.TrackID)
}

func trackKey(t Track, key JoinKey) string {
	if key == JoinByArtistName {
		return normalize.Key(t.PrimaryArtist())
	}
	return strings.TrimSpace(t.TrackID)
}
