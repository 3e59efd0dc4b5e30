package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/therealutkarshpriyadarshi/hlsvault/pkg/models"
	"golang.org/x/sync/errgroup"
)

// ErrNotFound is returned by every backend when a key does not exist
var ErrNotFound = fmt.Errorf("object %w", models.ErrNotFound)

// Backend provides uniform operations over a hierarchical key namespace
type Backend interface {
	// Name identifies the backend in logs and metrics
	Name() string
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	PutFromLocalPath(ctx context.Context, localPath, key, contentType string) error
	// GetStream returns ErrNotFound when the key is absent. Caller closes the reader.
	GetStream(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete is a no-op for absent keys
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every object under prefix before returning nil
	DeletePrefix(ctx context.Context, prefix string) error
}

// LocalPather is implemented by backends whose keys map onto local files
type LocalPather interface {
	LocalPath(key string) (string, error)
}

// AsLocal unwraps decorators and reports whether b is filesystem-backed
func AsLocal(b Backend) (LocalPather, bool) {
	for {
		if lp, ok := b.(LocalPather); ok {
			return lp, true
		}
		u, ok := b.(interface{ Unwrap() Backend })
		if !ok {
			return nil, false
		}
		b = u.Unwrap()
	}
}

// PutBytes stores data under key
func PutBytes(ctx context.Context, b Backend, key string, data []byte, contentType string) error {
	return b.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
}

// ReadAll fetches the whole object stored under key
func ReadAll(ctx context.Context, b Backend, key string) ([]byte, error) {
	rc, err := b.GetStream(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", models.ErrStorage, key, err)
	}
	return data, nil
}

// UploadDirectory publishes every regular file under localDir to keyPrefix,
// preserving relative paths. It returns the total number of bytes uploaded.
func UploadDirectory(ctx context.Context, b Backend, localDir, keyPrefix string, concurrency int) (int64, error) {
	type upload struct {
		path string
		key  string
		size int64
	}

	var uploads []upload
	err := filepath.WalkDir(localDir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		uploads = append(uploads, upload{
			path: p,
			key:  path.Join(keyPrefix, filepath.ToSlash(rel)),
			size: info.Size(),
		})
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to walk %s: %w", localDir, err)
	}

	if concurrency <= 0 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var total int64
	for _, u := range uploads {
		u := u
		total += u.size
		g.Go(func() error {
			return b.PutFromLocalPath(gctx, u.path, u.key, getContentType(u.path))
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}

	return total, nil
}

// normalizePrefix guarantees a trailing slash so "videos/a" never matches "videos/ab"
func normalizePrefix(prefix string) string {
	prefix = strings.TrimPrefix(prefix, "/")
	if prefix == "" {
		return ""
	}
	return strings.TrimSuffix(prefix, "/") + "/"
}

// getContentType returns the content type based on file extension
func getContentType(filePath string) string {
	ext := filepath.Ext(filePath)
	switch ext {
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	default:
		return "application/octet-stream"
	}
}

// ContentType is the exported form of getContentType used by HTTP handlers
func ContentType(key string) string {
	return getContentType(key)
}
