package keystore

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/therealutkarshpriyadarshi/hlsvault/internal/storage"
	"github.com/therealutkarshpriyadarshi/hlsvault/pkg/models"
)

// KeySize is the AES-128 key length used for segment encryption
const KeySize = 16

// ErrKeyNotFound is returned when no key is stored for a video
var ErrKeyNotFound = fmt.Errorf("encryption key %w", models.ErrNotFound)

// Store persists one symmetric key per video at keys/<videoId>/enc.key
type Store struct {
	backend storage.Backend
}

// New creates a key store over backend
func New(backend storage.Backend) *Store {
	return &Store{backend: backend}
}

// SelectBackend picks the key backend: "local", "object", or "auto" (object when available)
func SelectBackend(mode string, providers *storage.Providers) (storage.Backend, error) {
	switch mode {
	case "", "auto":
		if providers.ObjectEnabled() {
			return providers.Object, nil
		}
		return providers.Local, nil
	case "local":
		return providers.Local, nil
	case "object":
		return providers.For(models.StorageProviderObject)
	default:
		return nil, fmt.Errorf("%w: unknown key backend %q", models.ErrInvalidParameter, mode)
	}
}

// GenerateKey returns KeySize random bytes
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// SaveKey writes key for videoID
func (s *Store) SaveKey(ctx context.Context, videoID string, key []byte) error {
	if videoID == "" {
		return fmt.Errorf("%w: video id is required", models.ErrInvalidParameter)
	}
	if len(key) != KeySize {
		return fmt.Errorf("%w: key must be %d bytes, got %d", models.ErrInvalidParameter, KeySize, len(key))
	}
	return storage.PutBytes(ctx, s.backend, models.KeyPath(videoID), key, "application/octet-stream")
}

// GetKey returns the stored key or ErrKeyNotFound
func (s *Store) GetKey(ctx context.Context, videoID string) ([]byte, error) {
	key, err := storage.ReadAll(ctx, s.backend, models.KeyPath(videoID))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: video %s", ErrKeyNotFound, videoID)
		}
		return nil, err
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: stored key for video %s has %d bytes", models.ErrStorage, videoID, len(key))
	}
	return key, nil
}

// Exists reports whether a key is stored for videoID
func (s *Store) Exists(ctx context.Context, videoID string) (bool, error) {
	return s.backend.Exists(ctx, models.KeyPath(videoID))
}

// EnsureKey returns the existing key, generating and saving one only when absent.
// An existing key is never replaced.
func (s *Store) EnsureKey(ctx context.Context, videoID string) ([]byte, bool, error) {
	key, err := s.GetKey(ctx, videoID)
	if err == nil {
		return key, false, nil
	}
	if !errors.Is(err, ErrKeyNotFound) {
		return nil, false, err
	}

	key, err = GenerateKey()
	if err != nil {
		return nil, false, err
	}
	if err := s.SaveKey(ctx, videoID, key); err != nil {
		return nil, false, err
	}
	return key, true, nil
}

// LocalFile copies the key into targetDir and returns its path.
// The copy belongs to the caller, who removes it when done.
func (s *Store) LocalFile(ctx context.Context, videoID, targetDir string) (string, error) {
	key, err := s.GetKey(ctx, videoID)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(targetDir, 0700); err != nil {
		return "", fmt.Errorf("%w: create key dir: %v", models.ErrStorage, err)
	}

	p := filepath.Join(targetDir, path.Base(models.KeyPath(videoID)))
	if err := os.WriteFile(p, key, 0600); err != nil {
		return "", fmt.Errorf("%w: write local key: %v", models.ErrStorage, err)
	}

	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return abs, nil
}

// Delete removes the key directory for videoID; absent keys are not an error
func (s *Store) Delete(ctx context.Context, videoID string) error {
	return s.backend.DeletePrefix(ctx, path.Dir(models.KeyPath(videoID)))
}
