package local

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/openpuc/scrapers/pkg/storage"
)

// Backend stores objects as files below a base directory
type Backend struct {
	name     string
	basePath string
}

func init() {
	storage.RegisterBackend("local", func(ctx context.Context, cfg storage.Config) (storage.Backend, error) {
		return New(cfg)
	})
}

// New creates a new local filesystem backend
func New(cfg storage.Config) (*Backend, error) {
	path, err := storage.StringOption(cfg.Options, "path", true)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, storage.WrapError(cfg.Name, "init", storage.ErrInvalidConfig)
	}

	// Ensure directory exists
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, storage.WrapError(cfg.Name, "init", err)
	}

	return &Backend{
		name:     cfg.Name,
		basePath: path,
	}, nil
}

func (b *Backend) Name() string { return b.name }
func (b *Backend) Type() string { return "local" }

// Write stores data atomically through a temp file and rename
func (b *Backend) Write(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	destFullPath := b.fullPath(key)
	destDir := filepath.Dir(destFullPath)
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return storage.WrapError(b.name, "write", err)
	}

	tmp, err := os.CreateTemp(destDir, ".tmp-*")
	if err != nil {
		return storage.WrapError(b.name, "write", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return storage.WrapError(b.name, "write", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return storage.WrapError(b.name, "write", err)
	}
	if err := os.Rename(tmpName, destFullPath); err != nil {
		os.Remove(tmpName)
		return storage.WrapError(b.name, "write", err)
	}

	return nil
}

// Read returns the content of a stored object
func (b *Backend) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(b.fullPath(key))
	if err != nil {
		return nil, storage.WrapError(b.name, "read", err)
	}
	return data, nil
}

// Delete removes a file from the backend
func (b *Backend) Delete(ctx context.Context, key string) error {
	if err := os.Remove(b.fullPath(key)); err != nil {
		return storage.WrapError(b.name, "delete", err)
	}
	return nil
}

// List walks the tree below the pattern prefix and returns matching files
func (b *Backend) List(ctx context.Context, pattern string) ([]storage.FileInfo, error) {
	var files []storage.FileInfo

	err := filepath.WalkDir(b.basePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(b.basePath, p)
		if err != nil {
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		if !storage.MatchGlob(relPath, pattern) {
			return nil
		}

		info, err := d.Info()
		if err != nil || info.Size() == 0 {
			return nil // unreadable or still being written
		}

		files = append(files, storage.FileInfo{
			Path:    relPath,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, storage.WrapError(b.name, "list", err)
	}

	// Sort by modification time (newest first)
	sort.Slice(files, func(i, j int) bool {
		return files[i].ModTime.After(files[j].ModTime)
	})

	return files, nil
}

// Stat returns metadata about a file
func (b *Backend) Stat(ctx context.Context, key string) (*storage.FileInfo, error) {
	info, err := os.Stat(b.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, storage.WrapError(b.name, "stat", err)
	}

	return &storage.FileInfo{
		Path:    key,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// Exists checks if a file exists
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(b.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, storage.WrapError(b.name, "exists", err)
	}
	return true, nil
}

// Close is a no-op for local backend
func (b *Backend) Close() error {
	return nil
}

func (b *Backend) fullPath(key string) string {
	return filepath.Join(b.basePath, filepath.FromSlash(key))
}
