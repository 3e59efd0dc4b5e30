package access

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/config"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/metrics"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/signedlink"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/storage"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/tracing"
	"github.com/therealutkarshpriyadarshi/hlsvault/pkg/models"
)

// Repository is the persistence the gateway needs
type Repository interface {
	CreateVideo(ctx context.Context, video *models.Video) error
	GetVideo(ctx context.Context, id string) (*models.Video, error)
	DeleteVideo(ctx context.Context, id string) error
	UpsertPermission(ctx context.Context, perm *models.UserPermission) error
	GetPermission(ctx context.Context, userID, videoID string) (*models.UserPermission, error)
	DeletePermissionsForVideo(ctx context.Context, videoID string) error
}

// VideoCache caches video rows between segment fetches
type VideoCache interface {
	GetVideo(ctx context.Context, videoID string) (*models.Video, error)
	SetVideo(ctx context.Context, video *models.Video, ttl time.Duration) error
	DeleteVideo(ctx context.Context, videoID string) error
}

// KeyStore is the subset of keystore.Store used here
type KeyStore interface {
	EnsureKey(ctx context.Context, videoID string) ([]byte, bool, error)
	GetKey(ctx context.Context, videoID string) ([]byte, error)
	Delete(ctx context.Context, videoID string) error
}

// Options configures link generation and grant defaults
type Options struct {
	DefaultGrantDuration time.Duration
	SignedLinkTTL        time.Duration
	StreamPathPrefix     string
	MediaPathPrefix      string
	PublicBaseURL        string
	CacheTTL             time.Duration
}

// OptionsFromConfig maps configuration onto gateway options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		DefaultGrantDuration: cfg.Access.DefaultGrantDuration,
		SignedLinkTTL:        cfg.Access.SignedLinkTTL,
		StreamPathPrefix:     cfg.Access.StreamPathPrefix,
		MediaPathPrefix:      cfg.Access.MediaPathPrefix,
		PublicBaseURL:        cfg.Storage.Local.PublicBaseURL,
		CacheTTL:             cfg.Redis.VideoTTL,
	}
}

// Gateway decides who may see a video and hands out its key, manifest and segments
type Gateway struct {
	repo      Repository
	cache     VideoCache
	keys      KeyStore
	providers *storage.Providers
	signer    *signedlink.Signer
	opts      Options
	logger    *logging.Logger
	now       func() time.Time
}

// NewGateway creates a gateway. cache may be nil.
func NewGateway(repo Repository, cache VideoCache, keys KeyStore, providers *storage.Providers, opts Options, logger *logging.Logger) *Gateway {
	if opts.DefaultGrantDuration <= 0 {
		opts.DefaultGrantDuration = 24 * time.Hour
	}
	if opts.SignedLinkTTL <= 0 {
		opts.SignedLinkTTL = time.Hour
	}
	if opts.StreamPathPrefix == "" {
		opts.StreamPathPrefix = "/api/v1/videos"
	}
	if opts.MediaPathPrefix == "" {
		opts.MediaPathPrefix = "/media"
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &Gateway{
		repo:      repo,
		cache:     cache,
		keys:      keys,
		providers: providers,
		signer:    signedlink.New(),
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the clock used for grants and links
func (g *Gateway) WithClock(now func() time.Time) *Gateway {
	g.now = now
	g.signer = signedlink.NewWithClock(now)
	return g
}

// CreateVideoParams are the caller-supplied fields of a new video
type CreateVideoParams struct {
	Title           string
	OwnerID         string
	LessonID        *string
	Order           int
	StoragePath     string
	StorageProvider models.StorageProvider
	Status          string
}

// CreateVideo inserts a video and generates its encryption key
func (g *Gateway) CreateVideo(ctx context.Context, params CreateVideoParams) (*models.Video, error) {
	if err := models.ValidateOwnership(params.OwnerID, params.LessonID); err != nil {
		return nil, err
	}
	if params.Status != "" && !models.ValidVideoStatus(params.Status) {
		return nil, fmt.Errorf("%w: unknown video status %q", models.ErrInvalidParameter, params.Status)
	}
	if params.StorageProvider != "" && !params.StorageProvider.Valid() {
		return nil, fmt.Errorf("%w: unknown storage provider %q", models.ErrInvalidParameter, params.StorageProvider)
	}
	if err := g.providers.CheckStagingPath(params.StoragePath); err != nil {
		return nil, err
	}

	secret, err := newSigningSecret()
	if err != nil {
		return nil, err
	}

	video := &models.Video{
		ID:              uuid.New().String(),
		Title:           params.Title,
		OwnerID:         params.OwnerID,
		LessonID:        params.LessonID,
		Order:           params.Order,
		StoragePath:     params.StoragePath,
		StorageProvider: g.providers.Resolve(params.StorageProvider),
		SigningSecret:   secret,
		Status:          params.Status,
	}
	switch {
	case video.Status != "":
	case video.StoragePath != "":
		// source is staged but not yet transcoded
		video.Status = models.VideoStatusStagingPlaceholder
	default:
		video.Status = models.VideoStatusPendingCreation
	}
	if video.StorageProvider == models.StorageProviderObject {
		prefix := models.OutputPrefixFor(video.OwnerID, video.LessonID, video.ID)
		video.RemoteKey = &prefix
	}
	if params.StorageProvider == models.StorageProviderObject && video.StorageProvider != models.StorageProviderObject {
		g.logger.WithVideoID(video.ID).Warn("Object storage not configured, storing video locally")
	}

	if err := g.repo.CreateVideo(ctx, video); err != nil {
		return nil, err
	}

	if _, _, err := g.keys.EnsureKey(ctx, video.ID); err != nil {
		return nil, fmt.Errorf("failed to create encryption key: %w", err)
	}

	g.logger.WithVideoID(video.ID).WithField("storage_provider", video.StorageProvider).Info("Video created")
	return video, nil
}

func newSigningSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate signing secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GrantPermission gives userID access to videoID until now+duration.
// A non-positive duration uses the default; re-granting replaces the expiry.
func (g *Gateway) GrantPermission(ctx context.Context, userID, videoID string, duration time.Duration) (*models.UserPermission, error) {
	if userID == "" || videoID == "" {
		return nil, fmt.Errorf("%w: user_id and video_id are required", models.ErrInvalidParameter)
	}
	if duration <= 0 {
		duration = g.opts.DefaultGrantDuration
	}

	if _, err := g.video(ctx, videoID); err != nil {
		return nil, err
	}

	perm := &models.UserPermission{
		UserID:    userID,
		VideoID:   videoID,
		ExpiresAt: g.now().Add(duration).UTC(),
	}
	if err := g.repo.UpsertPermission(ctx, perm); err != nil {
		return nil, err
	}

	g.logger.WithVideoID(videoID).WithUserID(userID).
		WithField("expires_at", perm.ExpiresAt).Info("Permission granted")
	return perm, nil
}

// CheckPermission reports whether userID holds a live grant. Ownership is not considered.
func (g *Gateway) CheckPermission(ctx context.Context, userID, videoID string) (bool, error) {
	perm, err := g.repo.GetPermission(ctx, userID, videoID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return perm.ActiveAt(g.now()), nil
}

// authorize returns the video when userID owns it or holds a live grant
func (g *Gateway) authorize(ctx context.Context, userID, videoID string) (*models.Video, error) {
	video, err := g.video(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if video.IsOwnedBy(userID) {
		return video, nil
	}

	ok, err := g.CheckPermission(ctx, userID, videoID)
	if err != nil {
		return nil, err
	}
	if !ok {
		g.logger.WithVideoID(videoID).WithUserID(userID).Debug("Access denied")
		return nil, fmt.Errorf("video %s: %w", videoID, models.ErrAccessDenied)
	}
	return video, nil
}

// GetKeyForViewer returns the raw 16-byte key to the owner or a grantee
func (g *Gateway) GetKeyForViewer(ctx context.Context, userID, videoID string) ([]byte, error) {
	span, ctx := tracing.StartSpan(ctx, "access.get_key")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "video_id", videoID)

	if _, err := g.authorize(ctx, userID, videoID); err != nil {
		metrics.RecordKeyRequest(outcome(err))
		return nil, err
	}

	key, err := g.keys.GetKey(ctx, videoID)
	if err != nil {
		metrics.RecordKeyRequest(outcome(err))
		if !errors.Is(err, models.ErrNotFound) {
			tracing.LogError(span, err)
		}
		return nil, err
	}

	metrics.RecordKeyRequest("granted")
	return key, nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, models.ErrAccessDenied):
		return "denied"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// GetSignedManifestURL returns a playable master manifest URL.
// Local videos get a signed media link; object-store videos go through the
// token-gated stream endpoint so every segment fetch is checked.
func (g *Gateway) GetSignedManifestURL(ctx context.Context, userID, videoID string) (string, error) {
	video, err := g.authorize(ctx, userID, videoID)
	if err != nil {
		return "", err
	}

	if video.StorageProvider == models.StorageProviderObject {
		return g.opts.PublicBaseURL + path.Join(g.opts.StreamPathPrefix, video.ID, "stream", models.MasterManifestName), nil
	}

	mediaPath := path.Join(g.opts.MediaPathPrefix, video.MasterManifestKey())
	return g.opts.PublicBaseURL + g.signer.Sign(mediaPath, video.SigningSecret, g.opts.SignedLinkTTL), nil
}

// Media is a stored file ready to be written to a response
type Media struct {
	Body        io.ReadCloser
	ContentType string
}

// OpenStream returns a manifest or segment under the video's output prefix
func (g *Gateway) OpenStream(ctx context.Context, userID, videoID, subpath string) (*Media, error) {
	video, err := g.authorize(ctx, userID, videoID)
	if err != nil {
		return nil, err
	}

	rel := strings.TrimPrefix(path.Clean("/"+subpath), "/")
	if rel == "" {
		return nil, fmt.Errorf("%w: empty stream path", models.ErrInvalidParameter)
	}

	backend, err := g.providers.ForVideo(video)
	if err != nil {
		return nil, err
	}

	key := path.Join(video.OutputPrefix(), rel)
	body, err := backend.GetStream(ctx, key)
	if err != nil {
		return nil, err
	}
	return &Media{Body: body, ContentType: storage.ContentType(key)}, nil
}

// DeleteVideo removes a video owned by ownerID. Remote output goes first and a
// failure there aborts before any database row is touched.
func (g *Gateway) DeleteVideo(ctx context.Context, videoID, ownerID string) error {
	video, err := g.repo.GetVideo(ctx, videoID)
	if err != nil {
		return err
	}
	if !video.IsOwnedBy(ownerID) {
		return fmt.Errorf("video %s: %w", videoID, models.ErrAccessDenied)
	}

	logger := g.logger.WithVideoID(videoID)

	if video.StorageProvider == models.StorageProviderObject {
		backend, err := g.providers.ForVideo(video)
		if err != nil {
			return err
		}
		if err := backend.DeletePrefix(ctx, video.OutputPrefix()); err != nil {
			logger.WithError(err).Error("Remote delete failed, video kept")
			return fmt.Errorf("failed to delete remote output: %w", err)
		}
	}

	if err := g.providers.Local.DeletePrefix(ctx, video.OutputPrefix()); err != nil {
		logger.WithError(err).Warn("Failed to delete local output")
	}
	g.removeStaging(ctx, video, logger)
	if err := g.keys.Delete(ctx, videoID); err != nil {
		logger.WithError(err).Warn("Failed to delete encryption key")
	}

	if err := g.repo.DeletePermissionsForVideo(ctx, videoID); err != nil {
		return err
	}
	if err := g.repo.DeleteVideo(ctx, videoID); err != nil {
		return err
	}

	if g.cache != nil {
		if err := g.cache.DeleteVideo(ctx, videoID); err != nil {
			logger.WithError(err).Warn("Failed to invalidate cached video")
		}
	}

	logger.Info("Video deleted")
	return nil
}

func (g *Gateway) removeStaging(ctx context.Context, video *models.Video, logger *logging.Logger) {
	if err := g.providers.RemoveStaging(ctx, video.StoragePath); err != nil {
		logger.WithError(err).WithField("storage_path", video.StoragePath).Warn("Failed to delete staging directory")
	}
}

// video loads a row, through the cache when one is configured
func (g *Gateway) video(ctx context.Context, videoID string) (*models.Video, error) {
	if g.cache != nil {
		cached, err := g.cache.GetVideo(ctx, videoID)
		if err != nil {
			g.logger.WithError(err).Debug("Video cache read failed")
		} else if cached != nil {
			return cached, nil
		}
	}

	video, err := g.repo.GetVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}

	if g.cache != nil {
		if err := g.cache.SetVideo(ctx, video, g.opts.CacheTTL); err != nil {
			g.logger.WithError(err).Debug("Video cache write failed")
		}
	}
	return video, nil
}
