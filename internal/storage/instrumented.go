package storage

import (
	"context"
	"io"
	"time"

	"github.com/therealutkarshpriyadarshi/hlsvault/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/metrics"
)

// instrumented records metrics and debug logs around every backend call
type instrumented struct {
	next   Backend
	logger *logging.Logger
}

// Instrument decorates b with metrics and logging
func Instrument(b Backend, logger *logging.Logger) Backend {
	if logger == nil {
		logger = logging.Nop()
	}
	return &instrumented{next: b, logger: logger}
}

// Unwrap returns the decorated backend
func (i *instrumented) Unwrap() Backend { return i.next }

func (i *instrumented) Name() string { return i.next.Name() }

func (i *instrumented) observe(op, key string, size int64, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	elapsed := time.Since(start)
	metrics.RecordStorageOperation(i.next.Name(), op, status, elapsed.Seconds())
	i.logger.LogStorageOperation(op, i.next.Name(), key, size, elapsed, err)
}

func (i *instrumented) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	start := time.Now()
	err := i.next.Put(ctx, key, r, size, contentType)
	i.observe("put", key, size, start, err)
	return err
}

func (i *instrumented) PutFromLocalPath(ctx context.Context, localPath, key, contentType string) error {
	start := time.Now()
	err := i.next.PutFromLocalPath(ctx, localPath, key, contentType)
	i.observe("put_file", key, -1, start, err)
	return err
}

func (i *instrumented) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := i.next.GetStream(ctx, key)
	i.observe("get", key, -1, start, err)
	return rc, err
}

func (i *instrumented) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := i.next.Exists(ctx, key)
	i.observe("exists", key, -1, start, err)
	return ok, err
}

func (i *instrumented) List(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	keys, err := i.next.List(ctx, prefix)
	i.observe("list", prefix, int64(len(keys)), start, err)
	return keys, err
}

func (i *instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := i.next.Delete(ctx, key)
	i.observe("delete", key, -1, start, err)
	return err
}

func (i *instrumented) DeletePrefix(ctx context.Context, prefix string) error {
	start := time.Now()
	err := i.next.DeletePrefix(ctx, prefix)
	i.observe("delete_prefix", prefix, -1, start, err)
	return err
}
