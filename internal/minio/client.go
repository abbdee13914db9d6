// Package minio uploads store snapshots to S3-compatible object storage.
package minio

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
)

// Snapshotter writes a consistent copy of the store to a local path
type Snapshotter interface {
	Snapshot(ctx context.Context, dest string) error
}

type objectPutter interface {
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Client handles snapshot uploads.
type Client struct {
	putter objectPutter
	bucket string
	prefix string
	now    func() time.Time
}

// NewClient creates a client for a snapshot URL of the form https://host[:port]/bucket[/prefix].
func NewClient(snapshotURL string) (*Client, error) {
	accessKey := os.Getenv("MINIO_ACCESS_KEY")
	if accessKey == "" {
		// Also check for AWS/MinIO standard variable name
		accessKey = os.Getenv("MINIO_ACCESS_KEY_ID")
	}

	secretKey := os.Getenv("MINIO_SECRET_KEY")
	if secretKey == "" {
		// Also check for AWS/MinIO standard variable name
		secretKey = os.Getenv("MINIO_SECRET_ACCESS_KEY")
	}

	logrus.WithFields(logrus.Fields{
		"snapshot_url":    snapshotURL,
		"accessKey_found": accessKey != "",
		"secretKey_found": secretKey != "",
	}).Debug("MinIO environment variable check")

	if accessKey == "" {
		return nil, fmt.Errorf("MINIO_ACCESS_KEY or MINIO_ACCESS_KEY_ID environment variable is required")
	}

	if secretKey == "" {
		return nil, fmt.Errorf("MINIO_SECRET_KEY or MINIO_SECRET_ACCESS_KEY environment variable is required")
	}

	u, err := url.Parse(snapshotURL)
	if err != nil {
		return nil, fmt.Errorf("invalid snapshot URL '%s': %w (expected format: https://hostname:port/bucket/prefix)", snapshotURL, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid snapshot URL scheme '%s': must be http or https", u.Scheme)
	}

	if u.Host == "" {
		return nil, fmt.Errorf("invalid snapshot URL '%s': missing hostname", snapshotURL)
	}

	bucket, prefix, _ := strings.Cut(strings.Trim(u.Path, "/"), "/")
	if bucket == "" {
		return nil, fmt.Errorf("invalid snapshot URL path '%s': missing bucket", u.Path)
	}

	minioClient, err := minio.New(u.Host, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client for %s: %w", u.Host, err)
	}

	return &Client{
		putter: minioClient,
		bucket: bucket,
		prefix: prefix,
		now:    time.Now,
	}, nil
}

// ObjectName returns the key a snapshot of the given run is stored under
func (c *Client) ObjectName(runID string) string {
	name := fmt.Sprintf("cloudsize-%s-%s.db", c.now().UTC().Format("20060102T150405Z"), runID)
	if c.prefix == "" {
		return name
	}
	return path.Join(c.prefix, name)
}

// UploadSnapshot snapshots the store into a temporary file and uploads it.
// It returns the object name.
func (c *Client) UploadSnapshot(ctx context.Context, store Snapshotter, runID string) (string, error) {
	tempDir, err := os.MkdirTemp("", "cloudsize-snapshot-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(tempDir) // Cleanup errors are not critical
	}()

	// VACUUM INTO refuses an existing file
	tempPath := filepath.Join(tempDir, "snapshot.db")
	if err := store.Snapshot(ctx, tempPath); err != nil {
		return "", err
	}

	objectName := c.ObjectName(runID)
	info, err := c.putter.FPutObject(ctx, c.bucket, objectName, tempPath, minio.PutObjectOptions{
		ContentType: "application/vnd.sqlite3",
		UserMetadata: map[string]string{
			"run-id": runID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload snapshot to %s/%s: %w", c.bucket, objectName, err)
	}

	logrus.WithFields(logrus.Fields{
		"bucket": c.bucket,
		"object": objectName,
		"size":   info.Size,
		"run_id": runID,
	}).Info("Uploaded store snapshot")

	return objectName, nil
}
