package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/streamvault/streamvault/pkg/models"
)

// Local stores objects under a single media root on the filesystem.
type Local struct {
	baseDir string
}

// NewLocal creates a local backend rooted at baseDir.
func NewLocal(baseDir string) (*Local, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve media root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create media root: %w", err)
	}
	return &Local{baseDir: abs}, nil
}

// Name returns the backend identifier.
func (l *Local) Name() string {
	return models.BackendLocal
}

// BaseDir returns the resolved media root.
func (l *Local) BaseDir() string {
	return l.baseDir
}

// Save writes the object under the media root and returns its key.
func (l *Local) Save(ctx context.Context, req SaveRequest) (StoredFile, error) {
	key, err := BuildKey(req.Folder, req.Filename, req.RelativePath)
	if err != nil {
		return StoredFile{}, err
	}

	absPath, err := SafeJoin(l.baseDir, key)
	if err != nil {
		return StoredFile{}, err
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return StoredFile{}, fmt.Errorf("failed to create storage directory: %w", err)
	}
	if err := os.WriteFile(absPath, req.Data, 0644); err != nil {
		return StoredFile{}, fmt.Errorf("failed to write object: %w", err)
	}

	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = ContentTypeFor(req.Filename)
	}

	return StoredFile{
		Backend:  models.BackendLocal,
		Key:      key,
		Size:     int64(len(req.Data)),
		MimeType: mimeType,
	}, nil
}

// PublicURL resolves a key to its gateway path. The local backend is
// always proxied, regardless of audience.
func (l *Local) PublicURL(key string, aud Audience) string {
	return GatewayPath(key)
}

// LocalPath resolves a key to an absolute path under the media root.
func (l *Local) LocalPath(key string) (string, bool) {
	absPath, err := SafeJoin(l.baseDir, key)
	if err != nil {
		return "", false
	}
	return absPath, true
}

// Download copies an object to destPath.
func (l *Local) Download(ctx context.Context, key, destPath string) error {
	src, err := l.Open(ctx, key)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	dest, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, src); err != nil {
		return fmt.Errorf("failed to copy object: %w", err)
	}
	return nil
}

// Open returns a reader over the stored object.
func (l *Local) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	absPath, err := SafeJoin(l.baseDir, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open object: %w", err)
	}
	return f, nil
}
