// Package genre collapses the catalog's large genre-tag vocabulary into a
// small closed set of categories.
package genre

import (
	"fmt"
	"sort"
	"strings"
)

// Category is one of the closed set of genre buckets.
type Category string

// Other is the catch-all bucket for tags absent from the taxonomy.
const Other Category = "Other"

// Taxonomy lists the raw tags collapsed into each category.
type Taxonomy map[Category][]string

// DefaultTaxonomy returns the built-in taxonomy. The caller owns the result.
func DefaultTaxonomy() Taxonomy {
	return Taxonomy{
		"Rock":                   {"alt-rock", "alternative", "emo", "goth", "grunge", "hard-rock", "indie", "punk-rock", "punk", "psych-rock", "rock", "rock-n-roll", "rockabilly"},
		"Pop":                    {"cantopop", "indie-pop", "j-pop", "k-pop", "mandopop", "pop", "pop-film", "power-pop", "synth-pop"},
		"Electronic":             {"breakbeat", "chicago-house", "club", "dance", "deep-house", "detroit-techno", "disco", "drum-and-bass", "dub", "dubstep", "edm", "electro", "electronic", "garage", "hardstyle", "house", "idm", "minimal-techno", "progressive-house", "techno", "trance", "trip-hop"},
		"Hip-Hop/R&B":            {"hip-hop", "r-n-b", "soul"},
		"Metal":                  {"black-metal", "death-metal", "grindcore", "heavy-metal", "metal", "metalcore"},
		"Folk/Acoustic":          {"acoustic", "bluegrass", "folk", "singer-songwriter"},
		"Jazz/Blues":             {"blues", "jazz"},
		"Classical/Instrumental": {"classical", "new-age", "opera", "piano", "sleep", "study"},
		"Latin":                  {"forro", "latin", "latino", "mpb", "pagode", "salsa", "samba", "sertanejo", "tango"},
		"Reggae/Dancehall":       {"dancehall", "reggae", "reggaeton"},
		"Country":                {"country", "honky-tonk"},
		"World/Regional":         {"afrobeat", "brazil", "french", "german", "indian", "iranian", "malay", "spanish", "swedish", "turkish", "world-music"},
		"Anime/Japanese":         {"anime", "j-dance", "j-idol", "j-rock"},
		"Kids/Comedy":            {"children", "comedy", "disney", "kids", "show-tunes"},
		Other:                    {"ambient", "british", "chill", "funk", "gospel", "groove", "guitar", "happy", "hardcore", "party", "romance", "sad", "ska"},
	}
}

// Mapper resolves raw tags to categories. It is immutable after
// construction and safe for concurrent use.
type Mapper struct {
	lookup     map[string]Category
	categories []Category
	fallback   Category
}

// NewMapper builds a Mapper from taxonomy. Tags resolving to the same lookup
// key under two different categories are rejected. An empty fallback means
// Other.
func NewMapper(taxonomy Taxonomy, fallback Category) (*Mapper, error) {
	if fallback == "" {
		fallback = Other
	}
	m := &Mapper{
		lookup:   make(map[string]Category),
		fallback: fallback,
	}

	seen := map[Category]bool{fallback: true}
	m.categories = append(m.categories, fallback)

	names := make([]string, 0, len(taxonomy))
	for c := range taxonomy {
		names = append(names, string(c))
	}
	sort.Strings(names)

	for _, name := range names {
		c := Category(name)
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("category name is required")
		}
		if !seen[c] {
			seen[c] = true
			m.categories = append(m.categories, c)
		}
		for _, tag := range taxonomy[c] {
			key := lookupKey(tag)
			if key == "" {
				continue
			}
			if prev, ok := m.lookup[key]; ok && prev != c {
				return nil, fmt.Errorf("tag %q listed under both %q and %q", tag, prev, c)
			}
			m.lookup[key] = c
		}
	}
	return m, nil
}

// Default returns a Mapper over DefaultTaxonomy.
func Default() *Mapper {
	m, err := NewMapper(DefaultTaxonomy(), Other)
	if err != nil {
		panic(fmt.Sprintf("default genre taxonomy: %v", err))
	}
	return m
}

// Categorize returns the category for rawTag, or the fallback category when
// the tag is unknown or blank.
func (m *Mapper) Categorize(rawTag string) Category {
	if c, ok := m.lookup[lookupKey(rawTag)]; ok {
		return c
	}
	return m.fallback
}

// Fallback returns the catch-all category.
func (m *Mapper) Fallback() Category {
	return m.fallback
}

// Categories returns every category the mapper can produce, fallback first.
func (m *Mapper) Categories() []Category {
	out := make([]Category, len(m.categories))
	copy(out, m.categories)
	return out
}

func lookupKey(tag string) string {
	return strings.Join(strings.Fields(strings.ToLower(tag)), " ")
}
