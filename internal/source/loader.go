package source

import (
	"context"
	"database/sql"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/sydlexius/trackmerge/internal/catalog"
)

// Paths locates the three inputs. When NominationsDB is set the nominations
// are read from NominationsTable instead of NominationsPath.
type Paths struct {
	Catalog          string
	Artists          string
	Nominations      string
	NominationsDB    *sql.DB
	NominationsTable string
}

// Inputs is everything the merge needs, fully materialized.
type Inputs struct {
	Tracks      []catalog.Track
	Schema      catalog.Schema
	Artists     []catalog.ArtistProfile
	Nominations []catalog.Nomination
	Reports     []*Report
}

// Loader reads the inputs concurrently.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a Loader.
func NewLoader(logger *slog.Logger) *Loader {
	return &Loader{logger: logger.With(slog.String("component", "source"))}
}

// LoadAll loads all three inputs in parallel. A catalog failure is returned
// as an error. Artist and nomination failures are logged and degrade to
// empty inputs.
func (l *Loader) LoadAll(ctx context.Context, p Paths) (*Inputs, error) {
	g, gctx := errgroup.WithContext(ctx)

	var (
		in                         Inputs
		trackRep, artRep, nominRep *Report
	)

	g.Go(func() error {
		tracks, schema, rep, err := LoadTracks(gctx, p.Catalog)
		if err != nil {
			return err
		}
		in.Tracks, in.Schema, trackRep = tracks, schema, rep
		return nil
	})

	g.Go(func() error {
		if p.Artists == "" {
			l.logger.Warn("no artist source configured, enrichment uses defaults")
			return nil
		}
		profiles, rep, err := LoadArtists(gctx, p.Artists)
		if err != nil {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			l.logger.Warn("artist source unavailable, enrichment uses defaults", slog.String("error", err.Error()))
			return nil
		}
		in.Artists, artRep = profiles, rep
		return nil
	})

	g.Go(func() error {
		var (
			noms []catalog.Nomination
			rep  *Report
			err  error
		)
		switch {
		case p.NominationsDB != nil:
			noms, rep, err = SQLNominations(gctx, p.NominationsDB, p.NominationsTable)
		case p.Nominations != "":
			noms, rep, err = LoadNominations(gctx, p.Nominations)
		default:
			l.logger.Warn("no nomination source configured, every row is unmatched")
			return nil
		}
		if err != nil {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			l.logger.Warn("nomination source unavailable, every row is unmatched", slog.String("error", err.Error()))
			return nil
		}
		in.Nominations, nominRep = noms, rep
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, rep := range []*Report{trackRep, artRep, nominRep} {
		if rep == nil {
			continue
		}
		rep.LogWarnings(l.logger)
		in.Reports = append(in.Reports, rep)
	}
	return &in, nil
}
