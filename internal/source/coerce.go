package source

import (
	"math"
	"strconv"
	"strings"
)

// parseInt accepts plain integers, integral floats ("12.0") and thousands
// separators (" 1,234 "). Fractional values truncate toward zero. A blank
// value yields 0 and ok; anything unparseable yields 0 and !ok.
func parseInt(s string) (int, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, true
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if f >= math.MaxInt64 || f <= math.MinInt64 {
		return 0, false
	}
	return int(f), true
}

// parseFloat mirrors parseInt for real-valued columns.
func parseFloat(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// parseBool accepts the strconv spellings plus yes/no. Blank is false.
func parseBool(s string) (bool, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return false, true
	case "yes", "y":
		return true, true
	case "no", "n":
		return false, true
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, false
	}
	return b, true
}

// msToMinutes converts milliseconds to minutes rounded to two decimals.
func msToMinutes(ms float64) float64 {
	return math.Round(ms/60000*100) / 100
}
