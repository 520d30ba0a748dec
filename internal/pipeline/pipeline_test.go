package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sydlexius/trackmerge/internal/archive"
	"github.com/sydlexius/trackmerge/internal/catalog"
	"github.com/sydlexius/trackmerge/internal/database"
	"github.com/sydlexius/trackmerge/internal/genre"
	"github.com/sydlexius/trackmerge/internal/linkage"
	"github.com/sydlexius/trackmerge/internal/sink"
	"github.com/sydlexius/trackmerge/internal/source"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(database.SQLite, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	if err := database.Migrate(db, database.SQLite); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	logger := testLogger()
	return NewService(genre.Default(), catalog.JoinByTrackID, source.NewLoader(logger), logger)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeInputs(t *testing.T) source.Paths {
	t.Helper()
	dir := t.TempDir()
	return source.Paths{
		Catalog: writeFile(t, dir, "tracks.csv",
			"track_id,track_name,album_name,artists,popularity,explicit,danceability,energy,duration_ms,track_genre\n"+
				"t1,Thriller,Thriller,Michael Jackson,80,false,0.8,0.9,357000,pop\n"+
				"t2,Thriller,Thriller,Prince,50,false,0.5,0.5,240000,funk\n"+
				"t1,Thriller (copy),Thriller,Michael Jackson,1,false,0,0,1,pop\n"+
				"t3,Alexander Hamilton,Hamilton,Lin-Manuel Miranda,60,false,0.4,0.6,236000,show-tunes\n"+
				"t4,,Missing Title,Someone,1,false,0,0,1,rock\n"),
		Artists: writeFile(t, dir, "artists.csv",
			"track_id,artist_id,artist_name,followers,popularity\n"+
				"t1,a1,Michael Jackson,\"25,000,000\",90\n"),
		Nominations: writeFile(t, dir, "noms.csv",
			"year,category,nominee,artist\n"+
				"1984,Album Of The Year,Thriller,Michael Jackson\n"+
				"2016,Best Musical Theater Album,Hamilton,\n"),
	}
}

func TestMerge_Scenarios(t *testing.T) {
	svc := newTestService(t)
	in := &source.Inputs{
		Tracks: []catalog.Track{
			{TrackID: "t1", TrackName: "Thriller", AlbumName: "Thriller", Artists: []string{"Michael Jackson"}, Genre: "pop"},
			{TrackID: "t2", TrackName: "Thriller", AlbumName: "Thriller", Artists: []string{"Prince"}, Genre: "funk"},
			{TrackID: "dup", TrackName: "First", AlbumName: "A", Artists: []string{"X"}},
			{TrackID: "dup", TrackName: "Second", AlbumName: "A", Artists: []string{"X"}},
		},
		Nominations: []catalog.Nomination{
			{Category: "Album Of The Year", Nominee: "Thriller", Artist: "Michael Jackson", Year: 1984},
		},
	}

	res, err := svc.Merge(in)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Records) != 3 {
		t.Fatalf("got %d records, want 3", len(res.Records))
	}

	mj := res.Records[0]
	if mj.TrackNominationCount != 1 || mj.AlbumNominationCount != 1 || !mj.HasNomination {
		t.Errorf("t1 = %d/%d/%v, want 1/1/true", mj.TrackNominationCount, mj.AlbumNominationCount, mj.HasNomination)
	}
	if mj.ArtistName != catalog.VariousArtists || mj.ArtistFollowers != 0 {
		t.Errorf("t1 enrichment = %q/%d, want defaults", mj.ArtistName, mj.ArtistFollowers)
	}

	prince := res.Records[1]
	if prince.HasNomination || prince.MatchType != linkage.Unmatched {
		t.Errorf("t2 = %+v, want unmatched", prince)
	}

	if res.Records[2].TrackName != "First" {
		t.Errorf("dup kept %q, want First", res.Records[2].TrackName)
	}
	if res.Stats.Cleaning.Duplicates != 1 || res.Stats.Exact != 1 || res.Stats.Unmatched != 2 {
		t.Errorf("stats = %+v", res.Stats)
	}

	if len(in.Tracks) != 4 || in.Tracks[3].TrackName != "Second" {
		t.Error("Merge modified its input")
	}
}

func TestMerge_EmptyCatalog(t *testing.T) {
	svc := newTestService(t)

	if _, err := svc.Merge(&source.Inputs{}); !errors.Is(err, ErrEmptyCatalog) {
		t.Errorf("err = %v, want ErrEmptyCatalog", err)
	}

	onlyBlank := &source.Inputs{Tracks: []catalog.Track{{TrackID: " "}}}
	if _, err := svc.Merge(onlyBlank); !errors.Is(err, ErrEmptyCatalog) {
		t.Errorf("err = %v, want ErrEmptyCatalog after cleaning", err)
	}
}

func TestRun_EndToEnd(t *testing.T) {
	db := setupTestDB(t)
	logger := testLogger()
	svc := newTestService(t)

	writer := sink.NewWriter(db, database.SQLite, 2, logger)
	runs := sink.NewRunStore(db, database.SQLite)
	svc.SetSink(writer, runs)

	archiveDir := t.TempDir()
	uploader := archive.NewUploader([]archive.Backend{archive.NewLocalBackend(archiveDir)}, nil, logger)
	svc.SetArchive(uploader, "spotify_merged")

	ctx := context.Background()
	res, err := svc.Run(ctx, Options{Paths: writeInputs(t)})
	if err != nil {
		t.Fatal(err)
	}
	if res.RunID == "" {
		t.Error("RunID not set")
	}

	if res.Stats.TableRows != 3 {
		t.Errorf("TableRows = %d, want 3", res.Stats.TableRows)
	}
	if res.Stats.OutputRows != 3 {
		t.Errorf("OutputRows = %d, want 3", res.Stats.OutputRows)
	}
	if res.Stats.Exact != 1 || res.Stats.Fallback != 1 || res.Stats.Unmatched != 1 {
		t.Errorf("match stats = %d/%d/%d, want 1/1/1", res.Stats.Exact, res.Stats.Fallback, res.Stats.Unmatched)
	}
	if res.Records[0].ArtistFollowers != 25000000 {
		t.Errorf("t1 followers = %d, want 25000000", res.Records[0].ArtistFollowers)
	}
	if res.Records[2].GenreCategory != "Kids/Comedy" {
		t.Errorf("t3 genre = %q, want Kids/Comedy", res.Records[2].GenreCategory)
	}

	count, err := writer.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("merged_tracks rows = %d, want 3", count)
	}

	history, err := runs.List(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Status != sink.StatusCompleted || history[0].OutputRows != 3 {
		t.Fatalf("history = %+v", history)
	}
	if !strings.HasPrefix(history[0].ArchiveName, "spotify_merged_") {
		t.Errorf("ArchiveName = %q", history[0].ArchiveName)
	}
	if _, err := os.Stat(filepath.Join(archiveDir, history[0].ArchiveName)); err != nil {
		t.Errorf("archive file missing: %v", err)
	}

	if st := svc.Status(); st == nil || st.Status != sink.StatusCompleted || st.CompletedAt == nil {
		t.Errorf("Status() = %+v, want completed", st)
	}
}

func TestRun_DryRunWritesOutputOnly(t *testing.T) {
	db := setupTestDB(t)
	logger := testLogger()
	svc := newTestService(t)
	writer := sink.NewWriter(db, database.SQLite, 0, logger)
	svc.SetSink(writer, sink.NewRunStore(db, database.SQLite))

	out := filepath.Join(t.TempDir(), "merged.csv")
	if _, err := svc.Run(context.Background(), Options{Paths: writeInputs(t), DryRun: true, OutputPath: out}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 4 {
		t.Errorf("output has %d lines, want header + 3", lines)
	}
	if n, _ := writer.Count(context.Background()); n != 0 {
		t.Errorf("merged_tracks rows = %d, want 0 for dry run", n)
	}
}

func TestRun_MissingCatalogRecordsFailure(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t)
	runs := sink.NewRunStore(db, database.SQLite)
	svc.SetSink(sink.NewWriter(db, database.SQLite, 0, testLogger()), runs)

	_, err := svc.Run(context.Background(), Options{Paths: source.Paths{Catalog: filepath.Join(t.TempDir(), "none.csv")}})
	if !errors.Is(err, source.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	history, err := runs.List(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Status != sink.StatusFailed || history[0].Error == "" {
		t.Errorf("history = %+v, want one failed run with error", history)
	}
}

func TestRun_RejectsConcurrentRun(t *testing.T) {
	svc := newTestService(t)
	svc.current = &sink.Run{ID: "busy", Status: sink.StatusRunning}

	if _, err := svc.Run(context.Background(), Options{}); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("err = %v, want ErrRunInProgress", err)
	}
}
