package sourcearchive

import (
	"context"
	"fmt"
	"io"

	"github.com/animus-labs/dispatch-gateway/internal/platform/objectstore"
	"github.com/minio/minio-go/v7"
)

// MinioObjects adapts a MinIO client bound to one bucket to Objects.
type MinioObjects struct {
	client *minio.Client
	bucket string
}

func NewMinioObjects(client *minio.Client, bucket string) (*MinioObjects, error) {
	if client == nil {
		return nil, fmt.Errorf("minio client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	return &MinioObjects{client: client, bucket: bucket}, nil
}

func (m *MinioObjects) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string, meta map[string]string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, body, size, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: meta,
	})
	return err
}

func (m *MinioObjects) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	info, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if objectstore.IsNotFound(err) {
			return nil, ObjectInfo{}, ErrNotFound
		}
		return nil, ObjectInfo{}, err
	}
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	return obj, ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
		UserMetadata: info.UserMetadata,
	}, nil
}
