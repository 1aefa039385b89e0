package blobstore

import (
	"context"
	"fmt"
)

const (
	DriverMemory = "memory"
	DriverS3     = "s3"
	DriverMinio  = "minio"
)

type Config struct {
	Driver string
	S3     S3Config
	Minio  MinioConfig
}

// Open builds the Store selected by c.Driver.
func Open(ctx context.Context, c Config) (Store, error) {
	switch c.Driver {
	case DriverMemory, "":
		return NewMemoryStore(), nil
	case DriverS3:
		return NewS3Store(ctx, c.S3)
	case DriverMinio:
		return NewMinioStore(ctx, c.Minio)
	}
	return nil, fmt.Errorf("unknown blob driver %q", c.Driver)
}
