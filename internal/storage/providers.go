package storage

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/therealutkarshpriyadarshi/hlsvault/internal/config"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsvault/pkg/models"
)

// Providers holds one backend per storage provider. Object is nil in local-only mode.
type Providers struct {
	Local   Backend
	Object  Backend
	Staging *Staging
}

// NewProviders builds the local backend and, when configured, the object backend.
// Missing object store credentials are not an error.
func NewProviders(ctx context.Context, cfg config.StorageConfig, logger *logging.Logger) (*Providers, error) {
	local, err := NewLocal(cfg.Local.RootDir)
	if err != nil {
		return nil, err
	}

	stagingDir := cfg.Local.StagingDir
	if stagingDir == "" {
		stagingDir = filepath.Join(local.Root(), "staging")
	}
	staging, err := NewStaging(stagingDir)
	if err != nil {
		return nil, err
	}

	p := &Providers{Local: Instrument(local, logger), Staging: staging}

	if !cfg.Object.Enabled() {
		logger.Info("Object store credentials not configured, running in local-only mode")
		return p, nil
	}

	object, err := NewObject(ctx, cfg.Object)
	if err != nil {
		return nil, err
	}
	p.Object = Instrument(object, logger)

	return p, nil
}

// ObjectEnabled reports whether an object backend is available
func (p *Providers) ObjectEnabled() bool {
	return p.Object != nil
}

// For returns the backend for a video's storage provider
func (p *Providers) For(provider models.StorageProvider) (Backend, error) {
	switch provider {
	case models.StorageProviderLocal, "":
		return p.Local, nil
	case models.StorageProviderObject:
		if p.Object == nil {
			return nil, fmt.Errorf("%w: object storage is not configured", models.ErrStorage)
		}
		return p.Object, nil
	default:
		return nil, fmt.Errorf("%w: unknown storage provider %q", models.ErrInvalidParameter, provider)
	}
}

// ForVideo returns the backend holding v's output
func (p *Providers) ForVideo(v *models.Video) (Backend, error) {
	return p.For(v.StorageProvider)
}

// Resolve downgrades an object-store request to local when the object store is disabled
func (p *Providers) Resolve(requested models.StorageProvider) models.StorageProvider {
	if requested == models.StorageProviderObject && p.ObjectEnabled() {
		return models.StorageProviderObject
	}
	return models.StorageProviderLocal
}
