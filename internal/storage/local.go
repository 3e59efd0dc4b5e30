package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/therealutkarshpriyadarshi/hlsvault/pkg/models"
)

// LocalBackend stores objects as files under a root directory
type LocalBackend struct {
	root string
}

// NewLocal creates the root directory if needed
func NewLocal(root string) (*LocalBackend, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &LocalBackend{root: abs}, nil
}

// Name identifies the backend
func (l *LocalBackend) Name() string { return string(models.StorageProviderLocal) }

// Root returns the absolute root directory
func (l *LocalBackend) Root() string { return l.root }

// LocalPath maps key onto a path confined to the root
func (l *LocalBackend) LocalPath(key string) (string, error) {
	if strings.Contains(key, "\\") {
		return "", fmt.Errorf("%w: key contains backslash: %s", models.ErrInvalidParameter, key)
	}
	clean := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(key, "/")))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: key escapes storage root: %s", models.ErrInvalidParameter, key)
	}
	return filepath.Join(l.root, clean), nil
}

// Put writes r to key atomically
func (l *LocalBackend) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	p, err := l.LocalPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("%w: mkdir for %s: %v", models.ErrStorage, key, err)
	}

	pending, err := renameio.NewPendingFile(p, renameio.WithPermissions(0640))
	if err != nil {
		return fmt.Errorf("%w: create pending file %s: %v", models.ErrStorage, key, err)
	}
	defer pending.Cleanup()

	if _, err := io.Copy(pending, r); err != nil {
		return fmt.Errorf("%w: write %s: %v", models.ErrStorage, key, err)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("%w: replace %s: %v", models.ErrStorage, key, err)
	}
	return nil
}

// PutFromLocalPath copies a local file into the backend
func (l *LocalBackend) PutFromLocalPath(ctx context.Context, localPath, key, contentType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", models.ErrStorage, localPath, err)
	}
	defer f.Close()

	return l.Put(ctx, key, f, -1, contentType)
}

// GetStream opens the file stored under key
func (l *LocalBackend) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := l.LocalPath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("%w: open %s: %v", models.ErrStorage, key, err)
	}
	info, err := f.Stat()
	if err == nil && info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return f, nil
}

// Exists reports whether a regular file is stored under key
func (l *LocalBackend) Exists(ctx context.Context, key string) (bool, error) {
	p, err := l.LocalPath(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: stat %s: %v", models.ErrStorage, key, err)
	}
	return !info.IsDir(), nil
}

// List returns every file key under prefix
func (l *LocalBackend) List(ctx context.Context, prefix string) ([]string, error) {
	dir, err := l.LocalPath(prefix)
	if err != nil {
		return nil, err
	}

	var keys []string
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: list %s: %v", models.ErrStorage, prefix, err)
	}
	return keys, nil
}

// Delete removes the file under key
func (l *LocalBackend) Delete(ctx context.Context, key string) error {
	p, err := l.LocalPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: delete %s: %v", models.ErrStorage, key, err)
	}
	return nil
}

// DeletePrefix removes the directory tree under prefix
func (l *LocalBackend) DeletePrefix(ctx context.Context, prefix string) error {
	if normalizePrefix(prefix) == "" {
		return fmt.Errorf("%w: refusing to delete storage root", models.ErrInvalidParameter)
	}
	p, err := l.LocalPath(prefix)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(p); err != nil {
		return fmt.Errorf("%w: delete prefix %s: %v", models.ErrStorage, prefix, err)
	}
	return nil
}
