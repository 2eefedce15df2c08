package s3

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/wb-go/wbf/retry"
)

// Storage mirrors renditions to an S3-compatible bucket using MinIO.
// Objects are stored under an optional key prefix.
type Storage struct {
	client     *minio.Client
	bucketName string
	prefix     string
	strategy   retry.Strategy
}

// NewStorage creates a new Storage instance connected to the specified MinIO server.
// If the bucket does not exist, it will be created automatically.
func NewStorage(
	ctx context.Context,
	endpoint, accessKey, secretKey, bucketName, prefix string,
	useSSL bool,
	s retry.Strategy,
) (*Storage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &Storage{
		client:     client,
		bucketName: bucketName,
		prefix:     prefix,
		strategy:   s,
	}, nil
}

// ObjectName returns the key name is stored under.
func ObjectName(prefix, name string) string {
	return path.Join(prefix, name)
}

// Save uploads data as name, replacing any existing object.
// Returns the object key within the bucket.
func (s *Storage) Save(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	objectName := ObjectName(s.prefix, name)

	err := retry.Do(func() error {
		_, putErr := s.client.PutObject(ctx, s.bucketName, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType: contentType,
		})
		return putErr
	}, s.strategy)
	if err != nil {
		return "", fmt.Errorf("failed to save object %s: %w", objectName, err)
	}

	return objectName, nil
}
