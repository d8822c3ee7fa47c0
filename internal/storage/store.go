package storage

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/zots0127/gallery/internal/domain"
)

var digestRegex = regexp.MustCompile("^[a-f0-9]{40}$")

// ValidDigest reports whether s is a well-formed content digest.
func ValidDigest(s string) bool {
	return digestRegex.MatchString(s)
}

const (
	originalsDir = "originals"
	thumbsDir    = "thumbnails"
	symlinksDir  = "symlinks"
	tempDir      = "tmp"
)

// Store is a content-addressed blob store rooted at a local directory.
// Originals live at originals/aa/bb/<digest>; directory fan-out is
// bounded by the two-level digest prefix shard.
type Store struct {
	basePath string
}

// New creates the storage layout under basePath.
func New(basePath string) (*Store, error) {
	for _, dir := range []string{originalsDir, thumbsDir, symlinksDir, tempDir} {
		if err := os.MkdirAll(filepath.Join(basePath, dir), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}
	return &Store{basePath: basePath}, nil
}

// BasePath returns the storage root.
func (s *Store) BasePath() string {
	return s.basePath
}

// WalkBlobs calls fn for every stored original with its digest, full
// path and modification time. Files whose names are not well-formed
// digests are skipped.
func (s *Store) WalkBlobs(fn func(digest, path string, modTime time.Time) error) error {
	root := filepath.Join(s.basePath, originalsDir)
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !ValidDigest(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return fn(d.Name(), path, info.ModTime())
	})
}

// BlobPath returns the content-addressed path for a digest.
func (s *Store) BlobPath(digest string) string {
	return filepath.Join(s.basePath, originalsDir, digest[:2], digest[2:4], digest)
}

// DerivativePath returns the path for a generated derivative of the
// given original digest. Derivatives share the original's shard.
func (s *Store) DerivativePath(digest, name string) string {
	return filepath.Join(s.basePath, thumbsDir, digest[:2], digest[2:4], name)
}

// SymlinksRoot returns the base directory holding all alias dirs.
func (s *Store) SymlinksRoot() string {
	return filepath.Join(s.basePath, symlinksDir)
}

// SymlinkDir returns the alias directory for a record title.
func (s *Store) SymlinkDir(title string) string {
	return filepath.Join(s.basePath, symlinksDir, title)
}

// NewSpill creates a temporary file for an in-progress upload.
func (s *Store) NewSpill() (*os.File, error) {
	f, err := os.CreateTemp(filepath.Join(s.basePath, tempDir), "upload-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageIO, err)
	}
	return f, nil
}

// Commit moves a spill file to its permanent content-addressed path.
// It is safe to retry: if the destination already exists the spill is
// discarded and the existing bytes win (two identical uploads landing
// concurrently both succeed). Transient rename failures are retried
// once before surfacing a storage error.
func (s *Store) Commit(spillPath, digest string) (string, error) {
	targetPath := s.BlobPath(digest)

	if _, err := os.Stat(targetPath); err == nil {
		os.Remove(spillPath)
		return targetPath, nil
	}

	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrStorageIO, err)
	}

	if err := os.Rename(spillPath, targetPath); err != nil {
		if err = os.Rename(spillPath, targetPath); err != nil {
			if _, statErr := os.Stat(targetPath); statErr == nil {
				os.Remove(spillPath)
				return targetPath, nil
			}
			return "", fmt.Errorf("%w: %v", domain.ErrStorageIO, err)
		}
	}

	if err := os.Chmod(targetPath, 0o644); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrStorageIO, err)
	}

	return targetPath, nil
}

// WriteDerivative persists derivative bytes next to the original's
// shard and returns the written path.
func (s *Store) WriteDerivative(digest, name string, r io.Reader) (string, error) {
	path := s.DerivativePath(digest, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrStorageIO, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrStorageIO, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("%w: %v", domain.ErrStorageIO, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrStorageIO, err)
	}
	return path, nil
}

// Open returns a reader over the stored original.
func (s *Store) Open(digest string) (*os.File, error) {
	f, err := os.Open(s.BlobPath(digest))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: content %s", domain.ErrNotFound, digest)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageIO, err)
	}
	return f, nil
}

// Exists checks whether the original bytes are present on disk.
func (s *Store) Exists(digest string) bool {
	_, err := os.Stat(s.BlobPath(digest))
	return err == nil
}

// Remove deletes the original bytes. Already-gone is not an error.
func (s *Store) Remove(digest string) error {
	if err := os.Remove(s.BlobPath(digest)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", domain.ErrStorageIO, err)
	}
	return nil
}

// RemovePath deletes an arbitrary stored file (derivatives).
func (s *Store) RemovePath(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", domain.ErrStorageIO, err)
	}
	return nil
}

// HashFile computes the content digest of a file on disk.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", domain.ErrStorageIO, err)
	}
	defer f.Close()

	hasher := sha1.New()
	n, err := io.Copy(hasher, f)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", domain.ErrStorageIO, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), n, nil
}
