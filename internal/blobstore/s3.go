package blobstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/netx"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
	presignHeadObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignHeadObject(ctx, in, optFns...)
	}
)

const presignExpiry = 15 * time.Minute

type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// S3Store keeps blobs in an S3-compatible bucket under "blobs/<cid>". Bytes
// move over presigned URLs.
type S3Store struct {
	bucket  string
	presign *s3.PresignClient
	http    *http.Client
}

func NewS3Store(ctx context.Context, c S3Config) (*S3Store, error) {
	if c.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(c.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			c.AccessKey,
			c.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		bucket:  c.Bucket,
		presign: s3.NewPresignClient(client),
		http:    &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

func objectKey(c string) string { return "blobs/" + c }

func (s *S3Store) Put(ctx context.Context, data []byte) (string, error) {
	c, err := ComputeCID(data)
	if err != nil {
		return "", err
	}
	key := objectKey(c)
	req, err := presignPutObject(s.presign, ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	}, s3.WithPresignExpires(presignExpiry))
	if err != nil {
		return "", fmt.Errorf("presign put: %w", err)
	}
	if err := netx.UploadToPresignedURL(ctx, s.http, req.URL, data); err != nil {
		return "", fmt.Errorf("put blob %s: %w", c, err)
	}
	return c, nil
}

func (s *S3Store) Get(ctx context.Context, c string) ([]byte, error) {
	if err := ValidateCID(c); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrorValidation, err)
	}
	key := objectKey(c)
	req, err := presignGetObject(s.presign, ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	}, s3.WithPresignExpires(presignExpiry))
	if err != nil {
		return nil, fmt.Errorf("presign get: %w", err)
	}
	b, err := netx.DownloadFromPresignedURL(ctx, s.http, req.URL)
	if errors.Is(err, netx.ErrObjectNotFound) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w", c, err)
	}
	return b, nil
}

func (s *S3Store) Has(ctx context.Context, c string) (bool, error) {
	if err := ValidateCID(c); err != nil {
		return false, nil
	}
	key := objectKey(c)
	req, err := presignHeadObject(s.presign, ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	}, s3.WithPresignExpires(presignExpiry))
	if err != nil {
		return false, fmt.Errorf("presign head: %w", err)
	}
	ok, err := netx.ExistsAtPresignedURL(ctx, s.http, req.URL)
	if err != nil {
		return false, fmt.Errorf("head blob %s: %w", c, err)
	}
	return ok, nil
}
