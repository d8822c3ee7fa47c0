package alias

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zots0127/gallery/internal/domain"
)

// Publisher maps record titles and derivative names to stable public
// paths via symlinks under a per-title directory. Publishing is
// idempotent: already-exists and already-gone are not errors, which
// also makes the delete-then-recreate race on a title benign.
type Publisher struct {
	baseDir string
}

// New creates a publisher rooted at the symlink base directory.
func New(baseDir string) *Publisher {
	return &Publisher{baseDir: baseDir}
}

// Dir returns the alias directory for a title.
func (p *Publisher) Dir(title string) string {
	return filepath.Join(p.baseDir, title)
}

// Publish creates an alias pointing at sourcePath under the title's
// directory, creating the directory on demand.
func (p *Publisher) Publish(title, aliasName, sourcePath string) error {
	dir := p.Dir(title)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageIO, err)
	}

	if err := os.Symlink(sourcePath, filepath.Join(dir, aliasName)); err != nil && !os.IsExist(err) {
		return fmt.Errorf("%w: %v", domain.ErrStorageIO, err)
	}
	return nil
}

// UnpublishAll removes the entire alias directory for a title.
func (p *Publisher) UnpublishAll(title string) error {
	if err := os.RemoveAll(p.Dir(title)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageIO, err)
	}
	return nil
}
