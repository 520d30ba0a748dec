// Package normalize builds the comparison keys used to match free-text
// titles and artist credits across datasets.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// ArtistDelimiter separates collaborators in a catalog artists field.
const ArtistDelimiter = ";"

// innermostAside matches a bracketed aside that contains no other bracket.
// Applied repeatedly so nested asides are removed from the inside out.
var innermostAside = regexp.MustCompile(`[(\[{][^()\[\]{}]*[)\]}]`)

// creditTokens are standalone words that only introduce a guest credit.
var creditTokens = map[string]bool{
	"featuring": true,
	"feat":      true,
	"ft":        true,
}

// Key returns the canonical comparison form of text. It lowercases, removes
// bracketed asides, drops "feat"/"ft"/"featuring" tokens, turns "&" into a
// space, removes everything that is not a letter, digit or space, and
// collapses whitespace. Key is idempotent and returns "" for blank input.
func Key(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	s := norm.NFC.String(text)
	// cases.Caser is stateful and not safe for concurrent use.
	s = cases.Lower(language.Und).String(s)

	for {
		next := innermostAside.ReplaceAllString(s, " ")
		if next == s {
			break
		}
		s = next
	}

	s = strings.ReplaceAll(s, "&", " ")

	fields := strings.Fields(s)
	kept := fields[:0]
	for _, f := range fields {
		// Stripping can leave combinable sequences adjacent, e.g. Hangul jamo.
		f = norm.NFC.String(stripPunctuation(f))
		if f == "" || creditTokens[f] {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

// Usable reports whether key may be used as a match target. The empty key
// never matches anything, not even another empty key.
func Usable(key string) bool {
	return key != ""
}

// SplitArtists splits a delimited collaborator list into trimmed, non-empty
// names in their original order.
func SplitArtists(list string) []string {
	if strings.TrimSpace(list) == "" {
		return nil
	}
	parts := strings.Split(list, ArtistDelimiter)
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			names = append(names, p)
		}
	}
	return names
}

// JoinArtists is the inverse of SplitArtists.
func JoinArtists(names []string) string {
	return strings.Join(names, ArtistDelimiter)
}

func stripPunctuation(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}
