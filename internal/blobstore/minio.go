package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioConfig struct {
	Endpoint  string // host:port, no scheme
	Bucket    string
	AccessKey string
	SecretKey string
	Secure    bool
}

// MinioStore keeps blobs in a MinIO bucket under "blobs/<cid>".
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects and creates the bucket if it is missing.
func NewMinioStore(ctx context.Context, c MinioConfig) (*MinioStore, error) {
	client, err := minio.New(c.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.AccessKey, c.SecretKey, ""),
		Secure: c.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, c.Bucket)
	if err != nil {
		return nil, fmt.Errorf("error checking if bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, c.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("error creating bucket: %w", err)
		}
	}
	return &MinioStore{client: client, bucket: c.Bucket}, nil
}

func (s *MinioStore) Put(ctx context.Context, data []byte) (string, error) {
	c, err := ComputeCID(data)
	if err != nil {
		return "", err
	}
	_, err = s.client.PutObject(ctx, s.bucket, objectKey(c), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", fmt.Errorf("put blob %s: %w", c, err)
	}
	return c, nil
}

func (s *MinioStore) Get(ctx context.Context, c string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(c), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w", c, err)
	}
	defer obj.Close()

	b, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("read blob %s: %w", c, err)
	}
	return b, nil
}

func (s *MinioStore) Has(ctx context.Context, c string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, objectKey(c), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, fmt.Errorf("stat blob %s: %w", c, err)
}
