package report

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kailas-cloud/vecmigrate/internal/domain/migration"
)

// MinioConfig holds object storage parameters.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	Secure    bool
	Region    string
}

// objectPutter is the consumer interface for object uploads (ISP).
type objectPutter interface {
	PutObject(
		ctx context.Context, bucketName, objectName string,
		reader io.Reader, objectSize int64, opts minio.PutObjectOptions,
	) (minio.UploadInfo, error)
}

// MinioSink uploads reports to an S3-compatible bucket.
type MinioSink struct {
	client objectPutter
	bucket string
	prefix string
}

// NewMinioSink connects a minio client from cfg.
func NewMinioSink(cfg MinioConfig) (*MinioSink, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return NewMinioSinkWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewMinioSinkWithClient wraps an existing client.
func NewMinioSinkWithClient(c objectPutter, bucket, prefix string) *MinioSink {
	return &MinioSink{client: c, bucket: bucket, prefix: prefix}
}

// Put uploads <prefix><migrationId>.json and returns its s3:// location.
func (s *MinioSink) Put(ctx context.Context, res migration.Result) (string, error) {
	data, err := encode(res)
	if err != nil {
		return "", err
	}
	key := s.prefix + ObjectName(res)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("upload report %s/%s: %w", s.bucket, key, err)
	}
	return "s3://" + s.bucket + "/" + key, nil
}
