package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/therealutkarshpriyadarshi/hlsvault/pkg/models"
)

// reservedPrefixes hold output and keys on the local backend and are never staging
var reservedPrefixes = []string{"owners", "keys"}

// Staging is the directory uploads are staged in before encoding.
// Absolute staging paths must resolve strictly inside it.
type Staging struct {
	root string
}

// NewStaging creates dir if needed
func NewStaging(dir string) (*Staging, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("invalid staging dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging dir: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return &Staging{root: abs}, nil
}

// Root returns the resolved staging directory
func (s *Staging) Root() string { return s.root }

// Confine resolves an absolute path, following symlinks, and checks that it
// lies below the staging root. The root itself is rejected.
func (s *Staging) Confine(p string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("%w: no staging directory configured for %s", models.ErrInvalidParameter, p)
	}
	if strings.Contains(p, "\\") {
		return "", fmt.Errorf("%w: path contains backslash: %s", models.ErrInvalidParameter, p)
	}
	if !filepath.IsAbs(p) {
		return "", fmt.Errorf("%w: staging path must be absolute: %s", models.ErrInvalidParameter, p)
	}

	resolved, err := resolveExisting(filepath.Clean(p))
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrInvalidParameter, err)
	}

	rel, err := filepath.Rel(s.root, resolved)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside the staging directory", models.ErrInvalidParameter, p)
	}
	return resolved, nil
}

// resolveExisting follows symlinks on p, or on its parent when p does not exist yet
func resolveExisting(p string) (string, error) {
	if _, err := os.Lstat(p); err == nil {
		resolved, err := filepath.EvalSymlinks(p)
		if err != nil {
			return "", fmt.Errorf("failed to resolve %s: %v", p, err)
		}
		return resolved, nil
	}

	dir := filepath.Dir(p)
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		return filepath.Join(resolved, filepath.Base(p)), nil
	}
	if _, err := os.Stat(dir); err == nil {
		return "", fmt.Errorf("failed to resolve parent of %s", p)
	}
	return p, nil
}

// CheckStagingPath validates a video's storage path. Absolute paths must be
// inside the staging directory; relative keys may not escape the local root
// or point into output and key prefixes.
func (p *Providers) CheckStagingPath(storagePath string) error {
	if storagePath == "" {
		return nil
	}
	if filepath.IsAbs(storagePath) {
		_, err := p.Staging.Confine(storagePath)
		return err
	}
	return checkStagingKey(storagePath)
}

func checkStagingKey(key string) error {
	if strings.Contains(key, "\\") {
		return fmt.Errorf("%w: path contains backslash: %s", models.ErrInvalidParameter, key)
	}
	clean := path.Clean(key)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%w: invalid staging key: %s", models.ErrInvalidParameter, key)
	}
	first := strings.SplitN(clean, "/", 2)[0]
	for _, reserved := range reservedPrefixes {
		if first == reserved {
			return fmt.Errorf("%w: staging key %s is inside reserved prefix %s", models.ErrInvalidParameter, key, reserved)
		}
	}
	return nil
}

// RemoveStaging deletes an uploaded source. Paths that fail CheckStagingPath
// are never touched.
func (p *Providers) RemoveStaging(ctx context.Context, storagePath string) error {
	if storagePath == "" {
		return nil
	}
	if filepath.IsAbs(storagePath) {
		resolved, err := p.Staging.Confine(storagePath)
		if err != nil {
			return err
		}
		return os.RemoveAll(resolved)
	}
	if err := checkStagingKey(storagePath); err != nil {
		return err
	}
	return p.Local.DeletePrefix(ctx, storagePath)
}
