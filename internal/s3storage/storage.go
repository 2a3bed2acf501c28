package s3storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/PlanCheck/internal/config"
)

// ErrDisabled is returned by New when no object storage endpoint is
// configured.
var ErrDisabled = errors.New("object storage not configured")

// Storage wraps MinIO/S3 interactions for exported reports.
type Storage struct {
	client *minio.Client
	bucket string
	region string
	ttl    time.Duration
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	if !cfg.ObjectStorageEnabled() {
		return nil, ErrDisabled
	}
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client: client,
		bucket: cfg.ExportBucket,
		region: cfg.S3Region,
		ttl:    cfg.ExportURLTTL,
	}, nil
}

// Bucket is the bucket reports are written to.
func (s *Storage) Bucket() string { return s.bucket }

// EnsureBucket makes sure the export bucket exists before use.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("make bucket %s: %w", s.bucket, err)
	}
	return nil
}

// ReportKey names an export object by its creation time.
func ReportKey(now time.Time, ext string) string {
	return path.Join("reports", now.UTC().Format("2006/01/02"), fmt.Sprintf("results-%s.%s", now.UTC().Format("150405.000"), ext))
}

// UploadReport stores a rendered report.
func (s *Storage) UploadReport(ctx context.Context, objectKey string, data []byte, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	_, err := s.client.PutObject(ctx, s.bucket, objectKey, bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		return fmt.Errorf("upload report: %w", err)
	}
	return nil
}

// PresignReportURL returns a signed GET URL for a stored report, valid for
// the configured TTL.
func (s *Storage) PresignReportURL(ctx context.Context, objectKey string) (string, error) {
	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", path.Base(objectKey)))
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey, s.ttl, params)
	if err != nil {
		return "", fmt.Errorf("presign report: %w", err)
	}
	return u.String(), nil
}

// Publish uploads a report and returns its object key and presigned URL.
func (s *Storage) Publish(ctx context.Context, now time.Time, ext string, data []byte, contentType string) (string, string, error) {
	key := ReportKey(now, ext)
	if err := s.UploadReport(ctx, key, data, contentType); err != nil {
		return "", "", err
	}
	link, err := s.PresignReportURL(ctx, key)
	if err != nil {
		return key, "", err
	}
	return key, link, nil
}
