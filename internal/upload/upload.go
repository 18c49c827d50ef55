// Package upload transfers a bundle archive to the destination named by an
// upload authorization: an HTTP PUT for presigned URLs, or the S3 client
// for s3:// destinations.
package upload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"edgectl/internal/fault"
	gos3 "edgectl/pkg/s3"
)

// ObjectPutter is the slice of the S3 client the uploader needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, sha256Hex string) error
}

// Uploader streams archive bytes to an authorized upload destination.
type Uploader struct {
	http  *http.Client
	s3    ObjectPutter
	newS3 func(context.Context) (ObjectPutter, error)
}

// Config configures an Uploader. Zero values fall back to a long-timeout
// HTTP client and an env-configured S3 client built on first use.
type Config struct {
	HTTPClient *http.Client
	S3         ObjectPutter
}

// New builds an Uploader.
func New(cfg Config) *Uploader {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Uploader{
		http: httpClient,
		s3:   cfg.S3,
		newS3: func(ctx context.Context) (ObjectPutter, error) {
			return gos3.NewClientFromEnv(ctx)
		},
	}
}

// Upload sends the archive at archivePath to uploadURL. The sha256Hex digest
// accompanies S3 uploads as checksum metadata. Returns true on success; an
// io-kind fault when the archive cannot be read, an api-kind fault on a
// non-success response.
func (u *Uploader) Upload(ctx context.Context, uploadURL, archivePath, sha256Hex string) (bool, error) {
	info, err := os.Stat(archivePath)
	if err != nil {
		return false, fault.Wrap(fault.IO, err, "stat bundle archive")
	}

	file, err := os.Open(archivePath)
	if err != nil {
		return false, fault.Wrap(fault.IO, err, "open bundle archive")
	}
	defer file.Close()

	if strings.HasPrefix(uploadURL, "s3://") {
		return u.putS3(ctx, uploadURL, file, info.Size(), sha256Hex)
	}
	return u.putHTTP(ctx, uploadURL, file, info.Size())
}

func (u *Uploader) putS3(ctx context.Context, uploadURL string, r io.Reader, size int64, sha256Hex string) (bool, error) {
	bucket, key, err := parseS3URL(uploadURL)
	if err != nil {
		return false, fault.Wrap(fault.API, err, "parse upload destination")
	}

	client := u.s3
	if client == nil {
		client, err = u.newS3(ctx)
		if err != nil {
			return false, fmt.Errorf("s3 client: %w", err)
		}
		u.s3 = client
	}

	if err := client.PutObject(ctx, bucket, key, r, size, sha256Hex); err != nil {
		return false, fault.Wrap(fault.API, err, "upload bundle to s3://%s/%s", bucket, key)
	}
	return true, nil
}

func (u *Uploader) putHTTP(ctx context.Context, uploadURL string, r io.Reader, size int64) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, r)
	if err != nil {
		return false, fmt.Errorf("create upload request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := u.http.Do(req)
	if err != nil {
		return false, fault.Wrap(fault.API, err, "upload bundle")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return false, fault.New(fault.API, "upload bundle failed (status %d): %s",
			resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return true, nil
}

func parseS3URL(url string) (string, string, error) {
	trimmed := strings.TrimPrefix(url, "s3://")
	bucket, key, ok := strings.Cut(trimmed, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 url %q", url)
	}
	return bucket, key, nil
}
