package archive

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sydlexius/trackmerge/internal/filesystem"
)

// LocalBackend writes archives into a directory.
type LocalBackend struct {
	dir string
}

// NewLocalBackend creates a LocalBackend rooted at dir.
func NewLocalBackend(dir string) *LocalBackend {
	return &LocalBackend{dir: dir}
}

// Name implements Backend.
func (b *LocalBackend) Name() string { return "local" }

// Upload writes data to dir/name atomically.
func (b *LocalBackend) Upload(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if name != filepath.Base(name) {
		return fmt.Errorf("invalid archive name %q", name)
	}
	if err := filesystem.WriteFileAtomic(filepath.Join(b.dir, name), data, 0o640); err != nil {
		return fmt.Errorf("writing archive: %w", err)
	}
	return nil
}
