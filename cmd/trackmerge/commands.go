package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sydlexius/trackmerge/internal/config"
	"github.com/sydlexius/trackmerge/internal/maintenance"
	"github.com/sydlexius/trackmerge/internal/pipeline"
	"github.com/sydlexius/trackmerge/internal/sink"
	"github.com/sydlexius/trackmerge/internal/watcher"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		dryRun bool
		output string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the merge pipeline once",
		Long: `Load the three inputs, merge them, replace the merged_tracks table and
upload the archive to every configured destination.

With --dry-run the database table and the archive are left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, func(a *app) error {
				if err := a.build(cmd.Context()); err != nil {
					return err
				}
				res, err := a.service.Run(cmd.Context(), pipeline.Options{
					Paths:      a.paths(a.cfg),
					DryRun:     dryRun,
					OutputPath: output,
				})
				a.pruneRuns(cmd.Context())
				if err != nil {
					return err
				}
				printStats(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "merge without writing the table or the archive")
	cmd.Flags().StringVarP(&output, "output", "o", "", "also write the merged CSV to this file")
	return cmd
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withApp(opts, func(a *app) error {
				if err := a.openDB(); err != nil {
					return err
				}
				a.logger.Info("database migrated", slog.String("driver", a.cfg.Database.Driver))
				return nil
			})
		},
	}
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var (
		noInitial bool
		poll      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rerun the pipeline whenever an input file changes",
		Long: `Run the pipeline, then watch the input files and rerun after each burst
of changes. The configuration file is reread before every run; database and
archive settings take effect on restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, func(a *app) error {
				ctx := cmd.Context()
				if err := a.build(ctx); err != nil {
					return err
				}

				runOnce := func(ctx context.Context) error {
					cfg := a.reload(opts)
					res, err := a.service.Run(ctx, pipeline.Options{Paths: a.paths(cfg)})
					a.pruneRuns(ctx)
					if err != nil {
						if errors.Is(err, pipeline.ErrRunInProgress) {
							if cur := a.service.Status(); cur != nil {
								a.logger.Info("change ignored, run in progress",
									slog.String("run_id", cur.ID),
									slog.Time("started_at", cur.StartedAt))
							}
							return nil
						}
						return err
					}
					printStats(cmd.OutOrStdout(), res)
					return nil
				}

				if !noInitial {
					if err := runOnce(ctx); err != nil {
						a.logger.Error("initial run failed", slog.String("error", err.Error()))
					}
				}

				if every := a.cfg.Maintenance.Interval; every > 0 {
					go a.maint.StartScheduler(ctx, every)
				}

				w := watcher.NewService(runOnce, a.cfg.WatchedFiles(), a.logger)
				w.SetDebounce(a.cfg.Watch.Debounce)
				w.SetPollInterval(poll)
				a.logger.Info("watching inputs", slog.Any("files", w.Files()))
				w.Start(ctx)
				a.logger.Info("watch stopped", slog.Int("runs", w.Runs()))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&noInitial, "no-initial-run", false, "wait for the first change before running")
	cmd.Flags().DurationVar(&poll, "poll", 30*time.Second, "polling interval where file notifications are unavailable")
	return cmd
}

// reload rereads the configuration and applies its logging settings. On
// error the previous configuration stays in effect.
func (a *app) reload(opts *rootOptions) *config.Config {
	cfg, err := config.Load(opts.configPath, opts.envPath)
	if err != nil {
		a.logger.Warn("config reload failed, keeping previous settings", slog.String("error", err.Error()))
		return a.cfg
	}
	if cfg.Logging.String() != a.logManager.Config().String() {
		a.logManager.Reconfigure(cfg.Logging)
	}
	a.cfg = cfg
	return cfg
}

func newMaintainCmd(opts *rootOptions) *cobra.Command {
	var vacuum bool

	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Optimize the sink database and trim the run history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, func(a *app) error {
				ctx := cmd.Context()
				if err := a.openDB(); err != nil {
					return err
				}
				if _, err := a.maint.PruneRuns(ctx, a.cfg.Maintenance.KeepRuns); err != nil {
					return err
				}
				if err := a.maint.Optimize(ctx); err != nil {
					return err
				}
				if vacuum {
					if err := a.maint.Vacuum(ctx); err != nil {
						return err
					}
				}
				st, err := a.maint.Status(ctx)
				if err != nil {
					return err
				}
				printStatus(cmd.OutOrStdout(), st)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&vacuum, "vacuum", false, "also rebuild the database file")
	return cmd
}

func newRunsCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent pipeline runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, func(a *app) error {
				if err := a.openDB(); err != nil {
					return err
				}
				runs, err := a.runs.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				return printRuns(cmd.OutOrStdout(), runs)
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	return cmd
}

func printStats(out io.Writer, res *pipeline.Result) {
	st := res.Stats
	w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintf(w, "run\t%s\n", res.RunID)
	fmt.Fprintf(w, "catalog rows\t%s\n", humanize.Comma(int64(st.CatalogRows)))
	fmt.Fprintf(w, "output rows\t%s\n", humanize.Comma(int64(st.OutputRows)))
	fmt.Fprintf(w, "artist profiles matched\t%s of %s\n", humanize.Comma(int64(st.ProfilesMatched)), humanize.Comma(int64(st.ArtistProfiles)))
	fmt.Fprintf(w, "nomination groups\t%s\n", humanize.Comma(int64(st.NominationGroups)))
	fmt.Fprintf(w, "exact / fallback / unmatched\t%d / %d / %d\n", st.Exact, st.Fallback, st.Unmatched)
	fmt.Fprintf(w, "with nomination\t%s\n", humanize.Comma(int64(st.WithNomination)))
	if st.TableRows > 0 {
		fmt.Fprintf(w, "table rows\t%s\n", humanize.Comma(int64(st.TableRows)))
	}
	w.Flush() //nolint:errcheck
}

func printRuns(out io.Writer, runs []sink.Run) error {
	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs recorded")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tDURATION\tROWS\tEXACT\tFALLBACK\tARCHIVE\tERROR")
	for _, r := range runs {
		duration := "-"
		if r.CompletedAt != nil {
			duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.ID[:min(8, len(r.ID))],
			r.Status,
			humanize.Time(r.StartedAt),
			duration,
			humanize.Comma(int64(r.OutputRows)),
			r.Exact,
			r.Fallback,
			orDash(r.ArchiveName),
			orDash(r.Error),
		)
	}
	return w.Flush()
}

func printStatus(out io.Writer, st *maintenance.Status) {
	w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintf(w, "driver\t%s\n", st.Driver)
	fmt.Fprintf(w, "database size\t%s\n", humanize.IBytes(uint64(max(st.DBFileSize, 0))))
	if st.Driver != "postgres" {
		fmt.Fprintf(w, "wal size\t%s\n", humanize.IBytes(uint64(max(st.WALFileSize, 0))))
		fmt.Fprintf(w, "pages\t%s x %s\n", humanize.Comma(st.PageCount), humanize.IBytes(uint64(max(st.PageSize, 0))))
	}
	fmt.Fprintf(w, "merged rows\t%s\n", humanize.Comma(st.MergedRows))
	fmt.Fprintf(w, "runs recorded\t%s\n", humanize.Comma(st.Runs))
	fmt.Fprintf(w, "last run\t%s\n", orDash(st.LastRunAt))
	w.Flush() //nolint:errcheck
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
