package source

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sydlexius/trackmerge/internal/database"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func testLogger(buf *bytes.Buffer) *slog.Logger {
	if buf == nil {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

const catalogCSV = "\ufefftrack_id,Track_Name,album_name,artists,popularity,explicit,danceability,energy,duration_ms,track_genre,key\n" +
	"t1,Thriller,Thriller,Michael Jackson,\" 1,234 \",True,0.8,0.9,357000,pop,5\n" +
	"t2,Umbrella,Good Girl Gone Bad,Rihanna;Jay-Z,12.0,false,x,0.5,275986,r-n-b,1\n" +
	"t3,Short,Row\n"

func TestLoadTracks(t *testing.T) {
	path := writeFile(t, t.TempDir(), "tracks.csv", catalogCSV)

	tracks, schema, rep, err := LoadTracks(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if len(tracks) != 3 {
		t.Fatalf("got %d tracks, want 3", len(tracks))
	}

	first := tracks[0]
	if first.TrackID != "t1" || first.TrackName != "Thriller" {
		t.Errorf("first = %q/%q, want t1/Thriller", first.TrackID, first.TrackName)
	}
	if first.Popularity != 1234 {
		t.Errorf("Popularity = %d, want 1234", first.Popularity)
	}
	if !first.Explicit {
		t.Error("Explicit = false, want true")
	}
	if first.DurationMin != 5.95 {
		t.Errorf("DurationMin = %v, want 5.95", first.DurationMin)
	}

	second := tracks[1]
	if len(second.Artists) != 2 || second.Artists[1] != "Jay-Z" {
		t.Errorf("Artists = %v, want [Rihanna Jay-Z]", second.Artists)
	}
	if second.Popularity != 12 {
		t.Errorf("Popularity = %d, want 12", second.Popularity)
	}
	if second.Danceability != 0 {
		t.Errorf("Danceability = %v, want 0 for unparseable value", second.Danceability)
	}
	if rep.Coerced["danceability"] != 1 {
		t.Errorf("coerced danceability = %d, want 1", rep.Coerced["danceability"])
	}

	if tracks[2].AlbumName != "Row" || tracks[2].Artists != nil {
		t.Errorf("short row = %+v, want album Row and no artists", tracks[2])
	}

	if !schema.Has("track_name") || schema.Has("duration_min") {
		t.Errorf("schema = %v, want header-derived columns", schema)
	}
	if rep.Rows != 3 || len(rep.MissingColumns) != 0 {
		t.Errorf("report = %+v", rep)
	}
}

func TestLoadTracks_DurationMinutesColumn(t *testing.T) {
	path := writeFile(t, t.TempDir(), "tracks.csv", "track_id,duration_min\nt1,3.25\n")
	tracks, _, rep, err := LoadTracks(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if tracks[0].DurationMin != 3.25 {
		t.Errorf("DurationMin = %v, want 3.25", tracks[0].DurationMin)
	}
	if len(rep.MissingColumns) == 0 {
		t.Error("expected missing columns to be reported")
	}
}

func TestLoadTracks_NotFound(t *testing.T) {
	_, _, _, err := LoadTracks(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestLoadTracks_Cancelled(t *testing.T) {
	path := writeFile(t, t.TempDir(), "tracks.csv", catalogCSV)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, _, err := LoadTracks(ctx, path); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestLoadArtists_Aliases(t *testing.T) {
	path := writeFile(t, t.TempDir(), "artists.csv",
		"track_id,artist_id,artist_name,artist_followers,artist_popularity\n"+
			"t1,a1,Michael Jackson,100,90\n"+
			"t2,a2,Nobody,lots,-5\n")

	profiles, rep, err := LoadArtists(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if len(profiles) != 2 {
		t.Fatalf("got %d profiles, want 2", len(profiles))
	}
	if profiles[0].Followers != 100 || profiles[0].Popularity != 90 || profiles[0].TrackID != "t1" {
		t.Errorf("profiles[0] = %+v", profiles[0])
	}
	if profiles[1].Followers != 0 || profiles[1].Popularity != 0 {
		t.Errorf("profiles[1] metrics = %d/%d, want 0/0", profiles[1].Followers, profiles[1].Popularity)
	}
	if rep.Coerced["artist_followers"] != 1 {
		t.Errorf("coerced = %v, want one artist_followers failure", rep.Coerced)
	}
}

func TestLoadNominations(t *testing.T) {
	path := writeFile(t, t.TempDir(), "noms.csv",
		"year,title,category,nominee,artist,winner\n"+
			"1984,26th,Album Of The Year,Thriller,Michael Jackson,True\n"+
			"n/a,26th,Best New Artist,Culture Club,,False\n")

	noms, rep, err := LoadNominations(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if len(noms) != 2 {
		t.Fatalf("got %d nominations, want 2", len(noms))
	}
	if noms[0].Year != 1984 || noms[0].Nominee != "Thriller" {
		t.Errorf("noms[0] = %+v", noms[0])
	}
	if noms[1].Year != 0 || rep.Coerced["year"] != 1 {
		t.Errorf("noms[1].Year = %d coerced = %v, want 0 and one failure", noms[1].Year, rep.Coerced)
	}
}

func TestLoadNominations_EmptyFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "noms.csv", "")
	noms, _, err := LoadNominations(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if len(noms) != 0 {
		t.Errorf("got %d nominations, want 0", len(noms))
	}
}

func TestSQLNominations(t *testing.T) {
	db, err := database.Open(database.SQLite, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, `CREATE TABLE grammy_awards (year INTEGER, category TEXT, nominee TEXT, artist TEXT, img TEXT)`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO grammy_awards VALUES (1984, 'Album Of The Year', 'Thriller', 'Michael Jackson', ''), (2016, 'Best Musical Theater Album', 'Hamilton', NULL, '')`); err != nil {
		t.Fatal(err)
	}

	noms, rep, err := SQLNominations(ctx, db, "grammy_awards")
	if err != nil {
		t.Fatal(err)
	}
	if len(noms) != 2 || rep.Rows != 2 {
		t.Fatalf("got %d nominations, want 2", len(noms))
	}
	if noms[0].Year != 1984 || noms[1].Artist != "" {
		t.Errorf("noms = %+v", noms)
	}

	if _, _, err := SQLNominations(ctx, db, "grammy_awards; DROP TABLE x"); err == nil {
		t.Error("expected error for invalid table name")
	}
}

func TestValidTableName(t *testing.T) {
	for name, want := range map[string]bool{
		"grammy_awards":         true,
		"grammys.grammy_awards": true,
		"1table":                false,
		"a.b.c":                 false,
		"t; drop":               false,
		"":                      false,
	} {
		if got := ValidTableName(name); got != want {
			t.Errorf("ValidTableName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestLoadAll_DegradesOptionalInputs(t *testing.T) {
	dir := t.TempDir()
	catalogPath := writeFile(t, dir, "tracks.csv", catalogCSV)

	var buf bytes.Buffer
	l := NewLoader(testLogger(&buf))
	in, err := l.LoadAll(context.Background(), Paths{
		Catalog:     catalogPath,
		Artists:     filepath.Join(dir, "missing-artists.csv"),
		Nominations: filepath.Join(dir, "missing-noms.csv"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(in.Tracks) != 3 {
		t.Errorf("got %d tracks, want 3", len(in.Tracks))
	}
	if len(in.Artists) != 0 || len(in.Nominations) != 0 {
		t.Errorf("optional inputs = %d/%d, want empty", len(in.Artists), len(in.Nominations))
	}
	if !strings.Contains(buf.String(), "artist source unavailable") {
		t.Errorf("expected artist warning, log = %s", buf.String())
	}
	if !strings.Contains(buf.String(), "column=danceability") {
		t.Errorf("expected coercion warning, log = %s", buf.String())
	}
}

func TestLoadAll_CatalogMissing(t *testing.T) {
	l := NewLoader(testLogger(nil))
	_, err := l.LoadAll(context.Background(), Paths{Catalog: filepath.Join(t.TempDir(), "nope.csv")})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestParseInt(t *testing.T) {
	tests := []struct {
		in     string
		want   int
		wantOK bool
	}{
		{"12", 12, true},
		{"12.0", 12, true},
		{" 1,234 ", 1234, true},
		{"", 0, true},
		{"abc", 0, false},
		{"NaN", 0, false},
		{"-3", -3, true},
	}
	for _, tt := range tests {
		got, ok := parseInt(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("parseInt(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
