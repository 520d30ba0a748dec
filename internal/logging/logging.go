// Package logging builds the process slog.Logger and lets the watch loop
// swap its level and output without rebuilding child loggers.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log formats.
const (
	FormatJSON = "json"
	FormatText = "text"
	FormatAuto = "auto"
)

// Config describes the desired logging configuration.
type Config struct {
	Level      string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format     string `yaml:"format" validate:"omitempty,oneof=json text auto"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"gte=0"`

	// Console receives log lines in addition to File. Nil means stderr.
	Console io.Writer `yaml:"-"`
}

// DefaultConfig returns the logging defaults.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     FormatAuto,
		MaxSizeMB:  50,
		MaxBackups: 5,
		MaxAgeDays: 14,
	}
}

// String returns a one-line summary of the config.
func (c Config) String() string {
	s := fmt.Sprintf("level=%s format=%s", c.Level, c.Format)
	if c.File != "" {
		s += fmt.Sprintf(" file=%s max_size=%dMB max_backups=%d max_age=%dd",
			c.File, c.MaxSizeMB, c.MaxBackups, c.MaxAgeDays)
	}
	return s
}

// swappableHandler delegates to an inner handler that can be replaced at
// runtime. Loggers derived with With or WithGroup replay their derivation
// on the current inner handler, so they follow swaps of the root.
type swappableHandler struct {
	inner  *atomic.Pointer[slog.Handler]
	derive []func(slog.Handler) slog.Handler
}

func newSwappableHandler(h slog.Handler) *swappableHandler {
	p := &atomic.Pointer[slog.Handler]{}
	p.Store(&h)
	return &swappableHandler{inner: p}
}

func (s *swappableHandler) swap(h slog.Handler) {
	s.inner.Store(&h)
}

func (s *swappableHandler) current() slog.Handler {
	h := *s.inner.Load()
	for _, fn := range s.derive {
		h = fn(h)
	}
	return h
}

func (s *swappableHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return (*s.inner.Load()).Enabled(ctx, level)
}

func (s *swappableHandler) Handle(ctx context.Context, r slog.Record) error {
	return s.current().Handle(ctx, r)
}

func (s *swappableHandler) with(fn func(slog.Handler) slog.Handler) *swappableHandler {
	derive := make([]func(slog.Handler) slog.Handler, 0, len(s.derive)+1)
	derive = append(derive, s.derive...)
	derive = append(derive, fn)
	return &swappableHandler{inner: s.inner, derive: derive}
}

func (s *swappableHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return s.with(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (s *swappableHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return s
	}
	return s.with(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

// Manager owns the logger lifecycle.
type Manager struct {
	levelVar *slog.LevelVar
	handler  *swappableHandler
	config   Config
	mu       sync.Mutex
	closer   io.Closer // lumberjack writer, if any
}

// NewManager creates a Manager and returns it along with the root logger.
func NewManager(cfg Config) (*Manager, *slog.Logger) {
	lvl := &slog.LevelVar{}
	lvl.Set(ParseLevel(cfg.Level))

	writer, closer := buildWriter(cfg)
	handler := newSwappableHandler(buildHandler(writer, lvl, resolveFormat(cfg)))

	m := &Manager{
		levelVar: lvl,
		handler:  handler,
		config:   cfg,
		closer:   closer,
	}
	return m, slog.New(handler)
}

// Reconfigure applies cfg. A level change takes effect immediately; a
// format or file change rebuilds the handler behind every derived logger.
func (m *Manager) Reconfigure(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.levelVar.Set(ParseLevel(cfg.Level))

	needSwap := cfg.Format != m.config.Format ||
		cfg.File != m.config.File ||
		cfg.MaxSizeMB != m.config.MaxSizeMB ||
		cfg.MaxBackups != m.config.MaxBackups ||
		cfg.MaxAgeDays != m.config.MaxAgeDays ||
		cfg.Console != m.config.Console

	if needSwap {
		if m.closer != nil {
			m.closer.Close() //nolint:errcheck
			m.closer = nil
		}
		writer, closer := buildWriter(cfg)
		m.handler.swap(buildHandler(writer, m.levelVar, resolveFormat(cfg)))
		m.closer = closer
	}

	m.config = cfg
}

// Config returns the current configuration snapshot.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Close releases the log file, if any. It is safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closer != nil {
		err := m.closer.Close()
		m.closer = nil
		return err
	}
	return nil
}

// ParseLevel converts a level name to slog.Level, defaulting to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func console(cfg Config) io.Writer {
	if cfg.Console != nil {
		return cfg.Console
	}
	return os.Stderr
}

// resolveFormat turns "auto" into text when the console is a terminal and
// json otherwise.
func resolveFormat(cfg Config) string {
	switch cfg.Format {
	case FormatText, FormatJSON:
		return cfg.Format
	}
	if f, ok := console(cfg).(*os.File); ok && term.IsTerminal(int(f.Fd())) { //nolint:gosec // fd fits in int
		return FormatText
	}
	return FormatJSON
}

// buildWriter returns the console writer, teed with a rotating file when
// one is configured.
func buildWriter(cfg Config) (io.Writer, io.Closer) {
	out := console(cfg)
	if cfg.File == "" {
		return out, nil
	}

	lj := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    positiveOr(cfg.MaxSizeMB, 50),
		MaxBackups: positiveOr(cfg.MaxBackups, 5),
		MaxAge:     positiveOr(cfg.MaxAgeDays, 14),
	}
	return io.MultiWriter(out, lj), lj
}

func positiveOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func buildHandler(w io.Writer, leveler slog.Leveler, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: leveler}
	if format == FormatText {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}
