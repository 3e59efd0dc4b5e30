package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/config"
	"github.com/therealutkarshpriyadarshi/hlsvault/pkg/models"
)

// multipart uploads kick in above this size
const uploadPartSize = 16 * 1024 * 1024

// ObjectBackend stores objects in an S3-compatible bucket
type ObjectBackend struct {
	client     *minio.Client
	bucketName string
}

// NewObject creates a new object storage client
func NewObject(ctx context.Context, cfg config.ObjectStoreConfig) (*ObjectBackend, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{
			Region: cfg.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &ObjectBackend{
		client:     client,
		bucketName: cfg.BucketName,
	}, nil
}

// Name identifies the backend
func (s *ObjectBackend) Name() string { return string(models.StorageProviderObject) }

// Put uploads a stream; size -1 means unknown
func (s *ObjectBackend) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucketName, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
		PartSize:    uploadPartSize,
	})
	if err != nil {
		return fmt.Errorf("%w: upload %s: %v", models.ErrStorage, key, err)
	}

	return nil
}

// PutFromLocalPath uploads a file from local filesystem
func (s *ObjectBackend) PutFromLocalPath(ctx context.Context, localPath, key, contentType string) error {
	if contentType == "" {
		contentType = getContentType(localPath)
	}

	_, err := s.client.FPutObject(ctx, s.bucketName, key, localPath, minio.PutObjectOptions{
		ContentType: contentType,
		PartSize:    uploadPartSize,
	})
	if err != nil {
		return fmt.Errorf("%w: upload file %s: %v", models.ErrStorage, key, err)
	}

	return nil
}

// GetStream downloads an object. Missing keys surface as ErrNotFound.
func (s *ObjectBackend) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	object, err := s.client.GetObject(ctx, s.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.classify(key, err)
	}

	// GetObject is lazy; Stat forces the request so not-found is reported here
	if _, err := object.Stat(); err != nil {
		object.Close()
		return nil, s.classify(key, err)
	}

	return object, nil
}

// Exists reports whether key is present in the bucket
func (s *ObjectBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucketName, key, minio.StatObjectOptions{})
	if err != nil {
		if isMissing(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: stat %s: %v", models.ErrStorage, key, err)
	}
	return true, nil
}

// List lists objects with a prefix
func (s *ObjectBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var objects []string

	for object := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("%w: list %s: %v", models.ErrStorage, prefix, object.Err)
		}
		objects = append(objects, object.Key)
	}

	return objects, nil
}

// Delete deletes an object from storage
func (s *ObjectBackend) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucketName, key, minio.RemoveObjectOptions{})
	if err != nil && !isMissing(err) {
		return fmt.Errorf("%w: delete %s: %v", models.ErrStorage, key, err)
	}

	return nil
}

// DeletePrefix removes every object under prefix and verifies none remain
func (s *ObjectBackend) DeletePrefix(ctx context.Context, prefix string) error {
	prefix = normalizePrefix(prefix)
	if prefix == "" {
		return fmt.Errorf("%w: refusing to delete whole bucket", models.ErrInvalidParameter)
	}

	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	objectsCh := make(chan minio.ObjectInfo)
	var listErr error
	go func() {
		defer close(objectsCh)
		for object := range s.client.ListObjects(listCtx, s.bucketName, minio.ListObjectsOptions{
			Prefix:    prefix,
			Recursive: true,
		}) {
			if object.Err != nil {
				listErr = object.Err
				return
			}
			select {
			case objectsCh <- object:
			case <-listCtx.Done():
				return
			}
		}
	}()

	var firstErr error
	for rErr := range s.client.RemoveObjects(ctx, s.bucketName, objectsCh, minio.RemoveObjectsOptions{}) {
		if firstErr == nil {
			firstErr = fmt.Errorf("%w: delete %s: %v", models.ErrStorage, rErr.ObjectName, rErr.Err)
		}
	}
	if firstErr != nil {
		return firstErr
	}
	if listErr != nil {
		return fmt.Errorf("%w: list %s: %v", models.ErrStorage, prefix, listErr)
	}

	remaining, err := s.List(ctx, prefix)
	if err != nil {
		return err
	}
	if len(remaining) > 0 {
		return fmt.Errorf("%w: %d objects still present under %s", models.ErrStorage, len(remaining), prefix)
	}

	return nil
}

func (s *ObjectBackend) classify(key string, err error) error {
	if isMissing(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return fmt.Errorf("%w: get %s: %v", models.ErrStorage, key, err)
}

func isMissing(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}
