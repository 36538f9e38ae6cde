package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// FileSystemStore stores images on the local filesystem.
type FileSystemStore struct {
	basePath string
}

// NewFileSystemStore creates a new filesystem storage backend.
func NewFileSystemStore(basePath string) *FileSystemStore {
	return &FileSystemStore{basePath: basePath}
}

// EnsureReady creates the storage directory if it doesn't exist.
func (fs *FileSystemStore) EnsureReady(ctx context.Context) error {
	if err := os.MkdirAll(fs.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", fs.basePath, err)
	}
	return nil
}

// Write stages data in a temp file, syncs it and hard-links it into place.
// The link fails if the name is taken, so a published file is always
// complete and never replaced.
func (fs *FileSystemStore) Write(ctx context.Context, path string, data []byte) error {
	target, err := fs.filePath(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".incoming-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	if err := os.Link(tmp.Name(), target); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
		return fmt.Errorf("failed to publish file %s: %w", path, err)
	}
	return nil
}

// Open returns the stored file. The resolved location is re-checked
// against the root so a symlink cannot lead outside it.
func (fs *FileSystemStore) Open(ctx context.Context, path string) (*Object, error) {
	target, err := fs.filePath(path)
	if err != nil {
		return nil, err
	}

	resolved, err := filepath.EvalSymlinks(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	root, err := filepath.EvalSymlinks(fs.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}
	if !within(root, resolved) {
		return nil, ErrInvalidPath
	}

	f, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, ErrNotFound
	}

	return &Object{Body: f, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Delete removes the stored files. Missing files are logged and skipped.
func (fs *FileSystemStore) Delete(ctx context.Context, paths ...string) error {
	var errs []error
	for _, p := range distinct(paths) {
		target, err := fs.filePath(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		if err := os.Remove(target); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				slog.Debug("file already gone", "path", p)
				continue
			}
			errs = append(errs, fmt.Errorf("failed to delete file %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

func (fs *FileSystemStore) filePath(path string) (string, error) {
	clean, err := CleanPath(path)
	if err != nil {
		return "", err
	}
	return filepath.Join(fs.basePath, filepath.FromSlash(clean)), nil
}

func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
