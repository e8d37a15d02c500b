package artifact

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/medicare-plus/frontdesk/internal/apperr"
)

// MinIOConfig configures an S3-compatible artifact bucket
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicBaseURL is used for plain object URLs when PresignTTL is zero
	PublicBaseURL string
	PresignTTL    time.Duration
}

// MinIOHost stores artifacts in an object bucket
type MinIOHost struct {
	client     *minio.Client
	bucket     string
	publicBase string
	presignTTL time.Duration
}

// NewMinIOHost connects and makes sure the bucket exists. Without presigning
// the gateway fetches plain object URLs, so PublicBaseURL must be absolute.
func NewMinIOHost(ctx context.Context, cfg MinIOConfig) (*MinIOHost, error) {
	if cfg.PresignTTL <= 0 {
		u, err := url.Parse(cfg.PublicBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, apperr.Configuration("minio: an absolute public url is required when presigning is off, got %q", cfg.PublicBaseURL)
		}
	}

	c, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := c.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := c.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &MinIOHost{
		client:     c,
		bucket:     cfg.Bucket,
		publicBase: strings.TrimRight(cfg.PublicBaseURL, "/"),
		presignTTL: cfg.PresignTTL,
	}, nil
}

// Put uploads data and returns a presigned URL, or a plain bucket URL when
// presigning is disabled.
func (m *MinIOHost) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	_, err := m.client.PutObject(ctx, m.bucket, name, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("upload artifact: %w", err)
	}

	if m.presignTTL > 0 {
		u, err := m.client.PresignedGetObject(ctx, m.bucket, name, m.presignTTL, url.Values{})
		if err != nil {
			return "", fmt.Errorf("presign artifact: %w", err)
		}
		return u.String(), nil
	}

	u, err := url.Parse(m.publicBase)
	if err != nil {
		return "", fmt.Errorf("parse public base: %w", err)
	}
	u.Path = path.Join(u.Path, m.bucket, name)
	return u.String(), nil
}

// Delete removes an object
func (m *MinIOHost) Delete(ctx context.Context, name string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, name, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return nil
}

// Sweep removes artifact objects older than cutoff
func (m *MinIOHost) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: "rx-", Recursive: true}) {
		if obj.Err != nil {
			return removed, fmt.Errorf("list artifacts: %w", obj.Err)
		}
		if !obj.LastModified.Before(cutoff) {
			continue
		}
		if err := m.client.RemoveObject(ctx, m.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return removed, fmt.Errorf("sweep %s: %w", obj.Key, err)
		}
		removed++
	}
	return removed, nil
}
