// Package linkage matches catalog rows against award nominations and
// annotates each row with aggregated nomination counts.
//
// Matching is deterministic. A row is first tried against nominations that
// credit one of its collaborators (exact stage), then against uncredited
// nominations by title alone (fallback stage). Rows matched by neither stage
// pass through as unmatched.
package linkage

import (
	"strings"

	"github.com/sydlexius/trackmerge/internal/catalog"
	"github.com/sydlexius/trackmerge/internal/normalize"
)

// MatchType records which stage resolved a row.
type MatchType string

// Match outcomes.
const (
	Exact     MatchType = "exact"
	Fallback  MatchType = "fallback"
	Unmatched MatchType = "unmatched"
)

// Group is the aggregate of all nominations sharing a normalized
// (artist, work) pair.
type Group struct {
	ArtistKey string
	WorkKey   string
	Count     int
	Category  string // first seen
	Year      int    // earliest known, 0 when none parsed
}

// Row is one catalog row annotated with its nomination signals.
type Row struct {
	catalog.EnrichedTrack
	TrackNominations int
	AlbumNominations int
	MatchType        MatchType
	Category         string
	Year             int

	// MatchedArtist is the collaborator key that won variant selection.
	MatchedArtist string
}

// HasNomination reports whether either count is positive.
func (r Row) HasNomination() bool {
	return r.TrackNominations > 0 || r.AlbumNominations > 0
}

// Aggregate groups nominations by normalized (artist, nominee), preserving
// first-seen order. Groups with an empty work key are discarded.
func Aggregate(noms []catalog.Nomination) []Group {
	groups := make([]Group, 0, len(noms))
	index := make(map[[2]string]int, len(noms))

	for _, n := range noms {
		work := normalize.Key(n.Nominee)
		if !normalize.Usable(work) {
			continue
		}
		key := [2]string{normalize.Key(n.Artist), work}

		i, ok := index[key]
		if !ok {
			index[key] = len(groups)
			groups = append(groups, Group{
				ArtistKey: key[0],
				WorkKey:   work,
				Category:  strings.TrimSpace(n.Category),
			})
			i = len(groups) - 1
		}

		g := &groups[i]
		g.Count++
		if g.Category == "" {
			g.Category = strings.TrimSpace(n.Category)
		}
		if n.Year > 0 && (g.Year == 0 || n.Year < g.Year) {
			g.Year = n.Year
		}
	}
	return groups
}

// Engine links rows against a fixed set of nomination groups. It is
// immutable after construction.
type Engine struct {
	groups []Group
	byWork map[string][]int
}

// NewEngine aggregates noms and indexes the groups by work key. A nil or
// empty noms yields an engine that leaves every row unmatched.
func NewEngine(noms []catalog.Nomination) *Engine {
	groups := Aggregate(noms)
	byWork := make(map[string][]int, len(groups))
	for i, g := range groups {
		byWork[g.WorkKey] = append(byWork[g.WorkKey], i)
	}
	return &Engine{groups: groups, byWork: byWork}
}

// Groups returns the number of aggregated nomination groups.
func (e *Engine) Groups() int {
	return len(e.groups)
}

// Link annotates every row. The result has one row per input row, in input
// order. Rows are expected to be unique by track id.
func (e *Engine) Link(rows []catalog.EnrichedTrack) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = e.link(r)
	}
	return out
}

// tally is the outcome of counting one side (track or album) of a row.
type tally struct {
	count int
	first int // index of the first matched group, -1 when none
}

func (e *Engine) link(r catalog.EnrichedTrack) Row {
	trackWork := normalize.Key(r.TrackName)
	albumWork := normalize.Key(r.AlbumName)

	row := Row{EnrichedTrack: r, MatchType: Unmatched}

	var (
		bestTrack, bestAlbum tally
		bestArtist           string
		bestTotal            = -1
	)
	for _, c := range variants(r.Artists) {
		track := e.count(trackWork, c, true)
		album := e.count(albumWork, c, true)
		if total := track.count + album.count; total > bestTotal {
			bestTrack, bestAlbum, bestArtist, bestTotal = track, album, c, total
		}
	}

	if bestTotal > 0 {
		row.MatchType = Exact
		row.MatchedArtist = bestArtist
		e.annotate(&row, bestTrack, bestAlbum)
		return row
	}

	track := e.count(trackWork, "", false)
	album := e.count(albumWork, "", false)
	if track.count+album.count > 0 {
		row.MatchType = Fallback
		e.annotate(&row, track, album)
	}
	return row
}

// count sums group counts for work. When credited is set only groups whose
// artist key is contained in artist qualify; otherwise only uncredited groups
// qualify.
func (e *Engine) count(work, artist string, credited bool) tally {
	t := tally{first: -1}
	if !normalize.Usable(work) {
		return t
	}
	if credited && !normalize.Usable(artist) {
		return t
	}
	for _, i := range e.byWork[work] {
		g := e.groups[i]
		if credited {
			if g.ArtistKey == "" || !strings.Contains(artist, g.ArtistKey) {
				continue
			}
		} else if g.ArtistKey != "" {
			continue
		}
		t.count += g.Count
		if t.first < 0 {
			t.first = i
		}
	}
	return t
}

func (e *Engine) annotate(row *Row, track, album tally) {
	row.TrackNominations = track.count
	row.AlbumNominations = album.count

	first := track.first
	if first < 0 {
		first = album.first
	}
	if first >= 0 {
		row.Category = e.groups[first].Category
		row.Year = e.groups[first].Year
	}
}

// variants returns the normalized collaborator keys of a row. A row without
// collaborators yields a single empty variant.
func variants(artists []string) []string {
	if len(artists) == 0 {
		return []string{""}
	}
	out := make([]string, len(artists))
	for i, a := range artists {
		out[i] = normalize.Key(a)
	}
	return out
}
