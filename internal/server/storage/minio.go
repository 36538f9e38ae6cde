package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"imghost/internal/server/config"
)

// MinIOStore keeps images in an S3-compatible bucket.
// It is safe for concurrent use by multiple goroutines.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

// NewMinIOStore creates the client; the bucket is checked by EnsureReady.
func NewMinIOStore(cfg config.MinIOConfig) (*MinIOStore, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("minio endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("minio bucket is required")
	}

	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinIOStore{client: cli, bucket: cfg.Bucket}, nil
}

// EnsureReady creates the bucket if it is missing.
func (m *MinIOStore) EnsureReady(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

// Write uploads an object unless the key is already taken. The check and
// the put are separate requests, so two writers racing on one key can both
// pass it; unlike FileSystemStore this is best-effort and relies on the
// random part of allocated names.
func (m *MinIOStore) Write(ctx context.Context, key string, data []byte) error {
	key, err := CleanPath(key)
	if err != nil {
		return err
	}

	_, err = m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", ErrExists, key)
	case !isNoSuchKey(err):
		return fmt.Errorf("stat %s: %w", key, err)
	}

	_, err = m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: ContentType(key),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Open returns a seekable handle on the object.
func (m *MinIOStore) Open(ctx context.Context, key string) (*Object, error) {
	key, err := CleanPath(key)
	if err != nil {
		return nil, err
	}

	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	st, err := obj.Stat()
	if err != nil {
		obj.Close()
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat %s: %w", key, err)
	}

	return &Object{Body: obj, Size: st.Size, ModTime: st.LastModified}, nil
}

// Delete removes each distinct key. S3 treats missing keys as deleted.
func (m *MinIOStore) Delete(ctx context.Context, keys ...string) error {
	var errs []error
	for _, k := range distinct(keys) {
		key, err := CleanPath(k)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
			continue
		}
		if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil && !isNoSuchKey(err) {
			errs = append(errs, fmt.Errorf("remove %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
