// Package pipeline wires the loaders, the core merge stages, the sink and
// the archive into one batch run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sydlexius/trackmerge/internal/archive"
	"github.com/sydlexius/trackmerge/internal/catalog"
	"github.com/sydlexius/trackmerge/internal/filesystem"
	"github.com/sydlexius/trackmerge/internal/genre"
	"github.com/sydlexius/trackmerge/internal/linkage"
	"github.com/sydlexius/trackmerge/internal/merge"
	"github.com/sydlexius/trackmerge/internal/sink"
	"github.com/sydlexius/trackmerge/internal/source"
)

var (
	// ErrEmptyCatalog is returned when the catalog has no usable rows.
	ErrEmptyCatalog = errors.New("catalog has no usable rows")

	// ErrRunInProgress is returned when Run is called while another run is
	// still executing.
	ErrRunInProgress = errors.New("pipeline run already in progress")
)

// Stats summarizes one merge.
type Stats struct {
	CatalogRows      int                  `json:"catalog_rows"`
	Cleaning         catalog.PrepareStats `json:"cleaning"`
	ArtistProfiles   int                  `json:"artist_profiles"`
	ProfilesMatched  int                  `json:"profiles_matched"`
	Nominations      int                  `json:"nominations"`
	NominationGroups int                  `json:"nomination_groups"`
	OutputRows       int                  `json:"output_rows"`
	Exact            int                  `json:"exact"`
	Fallback         int                  `json:"fallback"`
	Unmatched        int                  `json:"unmatched"`
	WithNomination   int                  `json:"with_nomination"`
	// TableRows is the merged table's row count after the sink write.
	TableRows int `json:"table_rows"`
}

// Result is the outcome of a merge.
type Result struct {
	RunID   string
	Records []merge.Record
	Stats   Stats
}

// Options controls one Run.
type Options struct {
	Paths source.Paths

	// DryRun skips the sink and the archive.
	DryRun bool

	// OutputPath, when set, also writes the CSV serialization to this file.
	OutputPath string
}

// Service runs the pipeline. Only one run executes at a time.
type Service struct {
	mapper  *genre.Mapper
	joinKey catalog.JoinKey
	loader  *source.Loader
	logger  *slog.Logger

	writer        *sink.Writer
	runs          *sink.RunStore
	uploader      *archive.Uploader
	archivePrefix string

	mu      sync.Mutex
	current *sink.Run
}

// NewService creates a pipeline service. The sink and archive are optional
// and attached with SetSink and SetArchive.
func NewService(mapper *genre.Mapper, joinKey catalog.JoinKey, loader *source.Loader, logger *slog.Logger) *Service {
	if mapper == nil {
		mapper = genre.Default()
	}
	return &Service{
		mapper:  mapper,
		joinKey: joinKey,
		loader:  loader,
		logger:  logger.With(slog.String("component", "pipeline")),
	}
}

// SetSink attaches the merged-table writer and the run history store.
func (s *Service) SetSink(w *sink.Writer, runs *sink.RunStore) {
	s.writer = w
	s.runs = runs
}

// SetArchive attaches the archive uploader. prefix names archived files.
func (s *Service) SetArchive(u *archive.Uploader, prefix string) {
	s.uploader = u
	s.archivePrefix = prefix
}

// Merge runs the core stages over fully loaded inputs. It never mutates in.
func (s *Service) Merge(in *source.Inputs) (*Result, error) {
	return s.merge(s.logger, in)
}

func (s *Service) merge(logger *slog.Logger, in *source.Inputs) (*Result, error) {
	if in == nil || len(in.Tracks) == 0 {
		return nil, ErrEmptyCatalog
	}

	var st Stats
	st.CatalogRows = len(in.Tracks)
	st.ArtistProfiles = len(in.Artists)
	st.Nominations = len(in.Nominations)

	tracks, cleaning := catalog.Prepare(in.Tracks, in.Schema, s.mapper)
	st.Cleaning = cleaning
	logger.Info("catalog cleaned",
		slog.Int("input", cleaning.Input),
		slog.Int("missing_id", cleaning.MissingID),
		slog.Int("missing_required", cleaning.MissingRequired),
		slog.Int("duplicates", cleaning.Duplicates),
		slog.Int("output", cleaning.Output))
	if len(tracks) == 0 {
		return nil, fmt.Errorf("after cleaning %d rows: %w", cleaning.Input, ErrEmptyCatalog)
	}

	enriched := catalog.Enrich(tracks, in.Artists, s.joinKey)
	for _, e := range enriched {
		if e.ProfileMatched {
			st.ProfilesMatched++
		}
	}
	logger.Info("artists enriched",
		slog.String("join_key", string(s.joinKey)),
		slog.Int("profiles", st.ArtistProfiles),
		slog.Int("matched", st.ProfilesMatched))

	engine := linkage.NewEngine(catalog.CleanNominations(in.Nominations))
	st.NominationGroups = engine.Groups()
	linked := engine.Link(enriched)

	records := merge.Finalize(linked)
	st.OutputRows = len(records)
	for _, r := range records {
		switch r.MatchType {
		case linkage.Exact:
			st.Exact++
		case linkage.Fallback:
			st.Fallback++
		default:
			st.Unmatched++
		}
		if r.HasNomination {
			st.WithNomination++
		}
	}
	logger.Info("nominations linked",
		slog.Int("nominations", st.Nominations),
		slog.Int("groups", st.NominationGroups),
		slog.Int("exact", st.Exact),
		slog.Int("fallback", st.Fallback),
		slog.Int("unmatched", st.Unmatched),
		slog.Int("with_nomination", st.WithNomination))

	return &Result{Records: records, Stats: st}, nil
}

// Run loads the inputs, merges them, replaces the merged table and uploads
// the archive, recording the run in the history table when one is attached.
func (s *Service) Run(ctx context.Context, opts Options) (*Result, error) {
	run, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}

	logger := s.logger.With(slog.String("run_id", run.ID))
	logger.Info("pipeline run starting", slog.Bool("dry_run", opts.DryRun))

	res, err := s.execute(ctx, logger, run, opts)

	s.finish(logger, run, res, err)
	if err != nil {
		return nil, err
	}
	res.RunID = run.ID
	return res, nil
}

// Status returns a snapshot of the current or most recent run, or nil.
func (s *Service) Status() *sink.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	snapshot := *s.current
	return &snapshot
}

func (s *Service) begin(ctx context.Context) (*sink.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && s.current.Status == sink.StatusRunning {
		return nil, ErrRunInProgress
	}

	var run *sink.Run
	if s.runs != nil {
		r, err := s.runs.Start(ctx)
		if err != nil {
			return nil, fmt.Errorf("recording run start: %w", err)
		}
		run = r
	} else {
		run = &sink.Run{
			ID:        uuid.New().String(),
			Status:    sink.StatusRunning,
			StartedAt: time.Now().UTC(),
		}
	}
	s.current = run
	return run, nil
}

func (s *Service) execute(ctx context.Context, logger *slog.Logger, run *sink.Run, opts Options) (*Result, error) {
	in, err := s.loader.LoadAll(ctx, opts.Paths)
	if err != nil {
		return nil, fmt.Errorf("loading inputs: %w", err)
	}

	res, err := s.merge(logger, in)
	if err != nil {
		return nil, err
	}

	if opts.OutputPath != "" {
		if err := writeCSV(opts.OutputPath, res.Records); err != nil {
			return res, fmt.Errorf("writing output file: %w", err)
		}
		logger.Info("output written", slog.String("path", opts.OutputPath), slog.Int("records", len(res.Records)))
	}

	if opts.DryRun {
		logger.Info("dry run, skipping sink and archive")
		return res, nil
	}

	if s.writer != nil {
		if _, err := s.writer.Replace(ctx, res.Records); err != nil {
			return res, fmt.Errorf("writing merged table: %w", err)
		}
		n, err := s.writer.Count(ctx)
		if err != nil {
			return res, err
		}
		res.Stats.TableRows = n
	}

	if s.uploader != nil && len(s.uploader.Backends()) > 0 {
		name := archive.FileName(s.archivePrefix, run.StartedAt)
		if err := s.uploader.Upload(ctx, name, res.Records); err != nil {
			return res, fmt.Errorf("archiving: %w", err)
		}
		s.mu.Lock()
		run.ArchiveName = name
		s.mu.Unlock()
	}

	return res, nil
}

func (s *Service) finish(logger *slog.Logger, run *sink.Run, res *Result, runErr error) {
	s.mu.Lock()
	if res != nil {
		st := res.Stats
		run.CatalogRows = st.CatalogRows
		run.OutputRows = st.OutputRows
		run.Exact = st.Exact
		run.Fallback = st.Fallback
		run.Unmatched = st.Unmatched
		run.WithNomination = st.WithNomination
	}
	if runErr != nil {
		run.Status = sink.StatusFailed
		run.Error = runErr.Error()
	} else {
		run.Status = sink.StatusCompleted
	}
	final := *run
	s.mu.Unlock()

	if s.runs != nil {
		// The run's own context may already be canceled; history is still
		// recorded.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.runs.Finish(ctx, &final); err != nil {
			logger.Error("recording run result failed", slog.String("error", err.Error()))
		}
	}
	if final.CompletedAt == nil {
		now := time.Now().UTC()
		final.CompletedAt = &now
	}

	s.mu.Lock()
	run.CompletedAt = final.CompletedAt
	s.mu.Unlock()

	if runErr != nil {
		logger.Error("pipeline run failed", slog.String("error", runErr.Error()))
		return
	}
	logger.Info("pipeline run completed",
		slog.Int("output_rows", final.OutputRows),
		slog.Int("with_nomination", final.WithNomination),
		slog.String("archive", final.ArchiveName))
}

// writeCSV writes records to path atomically.
func writeCSV(path string, records []merge.Record) error {
	data, err := archive.Marshal(records)
	if err != nil {
		return err
	}
	return filesystem.WriteFileAtomic(path, data, 0o640)
}
