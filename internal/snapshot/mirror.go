// Package snapshot mirrors prefetch snapshot files to S3-compatible storage.
// When S3 is not configured (empty bucket), the NoopMirror is used and all
// S3 operations are skipped, keeping the system in local-only mode.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hyperengineering/spinsync/internal/config"
)

// ErrNotConfigured is returned when S3 snapshot storage is not configured.
var ErrNotConfigured = errors.New("snapshot storage not configured")

// ErrObjectMissing is returned when the mirror holds no copy of a snapshot.
var ErrObjectMissing = errors.New("snapshot not found in mirror")

// Mirror copies prefetch snapshot files to and from remote storage.
type Mirror interface {
	// Upload stores the local file at filePath under the snapshot name.
	Upload(ctx context.Context, name, filePath string) error

	// Download fetches the snapshot name into filePath.
	// Returns ErrNotConfigured when S3 is not configured.
	Download(ctx context.Context, name, filePath string) error

	// Remove deletes the snapshot name. Missing objects are not an error.
	Remove(ctx context.Context, name string) error
}

// s3Client defines the minimal minio.Client operations used by S3Mirror.
type s3Client interface {
	FPutObject(ctx context.Context, bucket, objectName, filePath string) error
	FGetObject(ctx context.Context, bucket, objectName, filePath string) error
	RemoveObject(ctx context.Context, bucket, objectName string) error
}

// minioClientWrapper adapts *minio.Client to s3Client.
type minioClientWrapper struct {
	client *minio.Client
}

func (w *minioClientWrapper) FPutObject(ctx context.Context, bucket, objectName, filePath string) error {
	_, err := w.client.FPutObject(ctx, bucket, objectName, filePath, minio.PutObjectOptions{
		ContentType: "application/json",
	})
	return err
}

func (w *minioClientWrapper) FGetObject(ctx context.Context, bucket, objectName, filePath string) error {
	err := w.client.FGetObject(ctx, bucket, objectName, filePath, minio.GetObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrObjectMissing
	}
	return err
}

func (w *minioClientWrapper) RemoveObject(ctx context.Context, bucket, objectName string) error {
	return w.client.RemoveObject(ctx, bucket, objectName, minio.RemoveObjectOptions{})
}

// S3Mirror mirrors snapshots to S3-compatible storage.
type S3Mirror struct {
	client s3Client
	bucket string
	prefix string
}

// Upload uploads the snapshot file at filePath.
func (m *S3Mirror) Upload(ctx context.Context, name, filePath string) error {
	if err := m.client.FPutObject(ctx, m.bucket, m.objectKey(name), filePath); err != nil {
		return fmt.Errorf("upload snapshot to S3: %w", err)
	}
	return nil
}

// Download fetches the snapshot into filePath.
func (m *S3Mirror) Download(ctx context.Context, name, filePath string) error {
	if err := m.client.FGetObject(ctx, m.bucket, m.objectKey(name), filePath); err != nil {
		return fmt.Errorf("download snapshot from S3: %w", err)
	}
	return nil
}

// Remove deletes the mirrored snapshot.
func (m *S3Mirror) Remove(ctx context.Context, name string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, m.objectKey(name)); err != nil {
		return fmt.Errorf("remove snapshot from S3: %w", err)
	}
	return nil
}

// objectKey returns the S3 object key for a snapshot.
// Convention: {prefix}/{name}
func (m *S3Mirror) objectKey(name string) string {
	if m.prefix == "" {
		return name
	}
	return path.Join(m.prefix, name)
}

// NoopMirror is used when S3 storage is not configured.
type NoopMirror struct{}

// Upload is a no-op when S3 is not configured.
func (NoopMirror) Upload(ctx context.Context, name, filePath string) error { return nil }

// Download returns ErrNotConfigured.
func (NoopMirror) Download(ctx context.Context, name, filePath string) error {
	return ErrNotConfigured
}

// Remove is a no-op when S3 is not configured.
func (NoopMirror) Remove(ctx context.Context, name string) error { return nil }

// NewMirror creates the appropriate Mirror based on configuration.
// Returns NoopMirror when bucket is empty, S3Mirror otherwise.
func NewMirror(cfg config.SnapshotStorageConfig) (Mirror, error) {
	if cfg.Bucket == "" {
		return NoopMirror{}, nil
	}

	useSSL := true
	if cfg.UseSSL != nil {
		useSSL = *cfg.UseSSL
	}
	endpoint := stripScheme(cfg.Endpoint, &useSSL)

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	return &S3Mirror{
		client: &minioClientWrapper{client: client},
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// stripScheme removes an http(s):// prefix from endpoint, which minio does
// not accept, and sets ssl to match the scheme.
func stripScheme(endpoint string, ssl *bool) string {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		*ssl = true
		return strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		*ssl = false
		return strings.TrimPrefix(endpoint, "http://")
	}
	return endpoint
}
