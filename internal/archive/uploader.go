package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sydlexius/trackmerge/internal/merge"
)

// Uploader sends one serialized archive to every configured backend.
type Uploader struct {
	backends []Backend
	limits   *RateLimiterMap
	logger   *slog.Logger
}

// NewUploader creates an Uploader. A nil limits map uses the defaults.
func NewUploader(backends []Backend, limits *RateLimiterMap, logger *slog.Logger) *Uploader {
	if limits == nil {
		limits = NewRateLimiterMap(nil)
	}
	return &Uploader{
		backends: backends,
		limits:   limits,
		logger:   logger.With(slog.String("component", "archive")),
	}
}

// Backends returns the configured backend names.
func (u *Uploader) Backends() []string {
	names := make([]string, len(u.backends))
	for i, b := range u.backends {
		names[i] = b.Name()
	}
	return names
}

// Upload serializes records and uploads them under name. Every backend is
// attempted; failures are joined into the returned error.
func (u *Uploader) Upload(ctx context.Context, name string, records []merge.Record) error {
	data, err := Marshal(records)
	if err != nil {
		return err
	}

	var errs []error
	for _, b := range u.backends {
		if err := u.limits.Wait(ctx, b.Name()); err != nil {
			return fmt.Errorf("waiting for %s upload slot: %w", b.Name(), err)
		}
		if err := b.Upload(ctx, name, data); err != nil {
			u.logger.Error("archive upload failed",
				slog.String("backend", b.Name()),
				slog.String("name", name),
				slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
			continue
		}
		u.logger.Info("archive uploaded",
			slog.String("backend", b.Name()),
			slog.String("name", name),
			slog.Int("bytes", len(data)),
			slog.Int("records", len(records)))
	}
	return errors.Join(errs...)
}
