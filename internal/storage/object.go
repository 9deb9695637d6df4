package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/streamvault/streamvault/internal/config"
	"github.com/streamvault/streamvault/pkg/models"
)

// Object stores media in an S3-compatible object store.
type Object struct {
	client         *minio.Client
	bucket         string
	region         string
	publicEndpoint string
}

// NewObject creates an object-store backend and ensures the bucket exists.
func NewObject(cfg config.StorageConfig) (*Object, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &Object{
		client:         client,
		bucket:         cfg.Bucket,
		region:         cfg.Region,
		publicEndpoint: cfg.PublicEndpoint,
	}, nil
}

// Name returns the backend identifier.
func (o *Object) Name() string {
	return models.BackendObject
}

// Save uploads the object and returns its key.
func (o *Object) Save(ctx context.Context, req SaveRequest) (StoredFile, error) {
	key, err := BuildKey(req.Folder, req.Filename, req.RelativePath)
	if err != nil {
		return StoredFile{}, err
	}

	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = ContentTypeFor(req.Filename)
	}

	_, err = o.client.PutObject(ctx, o.bucket, key, bytes.NewReader(req.Data), int64(len(req.Data)), minio.PutObjectOptions{
		ContentType: mimeType,
	})
	if err != nil {
		return StoredFile{}, fmt.Errorf("failed to upload object: %w", err)
	}

	return StoredFile{
		Backend:  models.BackendObject,
		Key:      key,
		Size:     int64(len(req.Data)),
		MimeType: mimeType,
	}, nil
}

// PublicURL resolves a key for the given audience. Browsers get the
// gateway path the server redirects from; server-side callers get the
// fully qualified backend URL.
func (o *Object) PublicURL(key string, aud Audience) string {
	if aud == AudienceBrowser {
		return GatewayPath(key)
	}
	return o.BackendURL(key)
}

// BackendURL builds the fully qualified object URL, honoring an
// explicit public endpoint (bucket in host or in path) when configured.
func (o *Object) BackendURL(key string) string {
	normalized := strings.TrimLeft(key, "/")

	if o.publicEndpoint != "" {
		u, err := url.Parse(o.publicEndpoint)
		if err == nil && u.Host != "" {
			basePath := strings.TrimRight(u.Path, "/")
			if strings.HasPrefix(u.Hostname(), o.bucket+".") {
				return u.Scheme + "://" + u.Host + basePath + "/" + normalized
			}
			return u.Scheme + "://" + u.Host + basePath + "/" + o.bucket + "/" + normalized
		}
	}

	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", o.bucket, o.region, normalized)
}

// LocalPath always reports false; object-store keys have no local path.
func (o *Object) LocalPath(key string) (string, bool) {
	return "", false
}

// Download fetches an object to destPath.
func (o *Object) Download(ctx context.Context, key, destPath string) error {
	if err := o.client.FGetObject(ctx, o.bucket, key, destPath, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("failed to download object: %w", err)
	}
	return nil
}

// Open returns a reader over the stored object.
func (o *Object) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	object, err := o.client.GetObject(ctx, o.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to open object: %w", err)
	}
	return object, nil
}
