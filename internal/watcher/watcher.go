// Package watcher reruns the batch when one of its input files changes.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// fileStamp identifies one version of a file for polling.
type fileStamp struct {
	size    int64
	modTime time.Time
	exists  bool
}

// Service watches a fixed set of files. Changes reset a debounce timer and
// the run function fires once the files have been quiet for the debounce
// interval. Directories where fsnotify does not deliver events are polled.
type Service struct {
	runFn        func(ctx context.Context) error
	files        map[string]bool // absolute paths
	logger       *slog.Logger
	debounce     time.Duration
	pollInterval time.Duration
	probeTimeout time.Duration

	mu       sync.Mutex
	watching map[string]bool      // directories registered with fsnotify
	polled   map[string]fileStamp // files checked on each poll tick
	runs     int
}

// NewService creates a watcher for files. Relative paths are resolved
// against the working directory.
func NewService(runFn func(ctx context.Context) error, files []string, logger *slog.Logger) *Service {
	set := make(map[string]bool, len(files))
	for _, f := range files {
		if abs, err := filepath.Abs(f); err == nil {
			set[abs] = true
		}
	}
	return &Service{
		runFn:        runFn,
		files:        set,
		logger:       logger.With(slog.String("component", "watcher")),
		debounce:     2 * time.Second,
		pollInterval: 30 * time.Second,
		probeTimeout: 2 * time.Second,
		watching:     make(map[string]bool),
		polled:       make(map[string]fileStamp),
	}
}

// SetDebounce overrides the debounce interval. Non-positive values are
// ignored.
func (s *Service) SetDebounce(d time.Duration) {
	if d > 0 {
		s.debounce = d
	}
}

// SetPollInterval overrides the polling interval used where fsnotify is
// unavailable.
func (s *Service) SetPollInterval(d time.Duration) {
	if d > 0 {
		s.pollInterval = d
	}
}

// Runs returns how many times the run function has fired.
func (s *Service) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// Files returns the watched file paths, sorted.
func (s *Service) Files() []string {
	out := make([]string, 0, len(s.files))
	for f := range s.files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Start blocks until ctx is canceled. Runs are serialized: changes seen
// while a run is in progress produce exactly one follow-up run.
func (s *Service) Start(ctx context.Context) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("fsnotify unavailable, polling input files", slog.String("error", err.Error()))
	} else {
		defer w.Close() //nolint:errcheck
	}
	s.register(w)

	s.logger.Info("watching input files",
		slog.Any("files", s.Files()),
		slog.Duration("debounce", s.debounce))

	pollTicker := time.NewTicker(s.pollInterval)
	defer pollTicker.Stop()

	// Debounce timer for coalescing change events into a single run.
	// Starts stopped; reset on each relevant event.
	debounceTimer := time.NewTimer(0)
	if !debounceTimer.Stop() {
		<-debounceTimer.C
	}
	runPending := false

	// When fsnotify is unavailable, use nil channels (never receive).
	var eventCh <-chan fsnotify.Event
	var errCh <-chan error
	if w != nil {
		eventCh = w.Events
		errCh = w.Errors
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("watcher stopping")
			return

		case ev, ok := <-eventCh:
			if !ok {
				return
			}
			if s.relevant(ev) {
				s.logger.Debug("input changed", slog.String("path", ev.Name), slog.String("op", ev.Op.String()))
				resetTimer(debounceTimer, s.debounce)
				runPending = true
			}

		case err, ok := <-errCh:
			if !ok {
				return
			}
			s.logger.Error("fsnotify error", slog.String("error", err.Error()))

		case <-pollTicker.C:
			if s.poll() {
				resetTimer(debounceTimer, s.debounce)
				runPending = true
			}

		case <-debounceTimer.C:
			if !runPending {
				continue
			}
			runPending = false
			s.logger.Info("inputs settled, rerunning pipeline")
			s.mu.Lock()
			s.runs++
			s.mu.Unlock()
			if err := s.runFn(ctx); err != nil {
				s.logger.Error("pipeline run triggered by watcher failed", slog.String("error", err.Error()))
			}
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// register adds an fsnotify watch on each input directory that delivers
// events. Files in other directories are polled.
func (s *Service) register(w *fsnotify.Watcher) {
	dirs := make(map[string][]string)
	for f := range s.files {
		dirs[filepath.Dir(f)] = append(dirs[filepath.Dir(f)], f)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for dir, files := range dirs {
		if w != nil && ProbeFSNotify(dir, s.probeTimeout) {
			err := w.Add(dir)
			if err == nil {
				s.watching[dir] = true
				s.logger.Debug("watching directory", slog.String("path", dir))
				continue
			}
			s.logger.Warn("failed to watch directory, polling instead",
				slog.String("path", dir),
				slog.String("error", err.Error()))
		}
		for _, f := range files {
			s.polled[f] = stat(f)
		}
		s.logger.Info("polling input directory", slog.String("path", dir), slog.Duration("interval", s.pollInterval))
	}
}

// relevant reports whether ev touches one of the input files.
func (s *Service) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
		return false
	}
	return s.files[filepath.Clean(ev.Name)]
}

// poll compares the polled files against their last stamp and reports
// whether any changed.
func (s *Service) poll() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for f, old := range s.polled {
		cur := stat(f)
		if cur != old {
			s.logger.Debug("poll: input changed", slog.String("path", f))
			s.polled[f] = cur
			changed = true
		}
	}
	return changed
}

func stat(path string) fileStamp {
	info, err := os.Stat(path)
	if err != nil {
		return fileStamp{}
	}
	return fileStamp{size: info.Size(), modTime: info.ModTime(), exists: true}
}
