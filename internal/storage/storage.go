package storage

import (
	"context"
	"errors"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/streamvault/streamvault/internal/config"
	"github.com/streamvault/streamvault/internal/logging"
)

// Audience identifies who a resolved location is for. Server-side
// callers may receive fully-qualified backend URLs; browser-facing
// callers only ever see gateway paths, because backend credentials
// never leave the server.
type Audience string

// Audiences
const (
	AudienceServer  Audience = "server"
	AudienceBrowser Audience = "browser"
)

// GatewayPrefix is the path the media fetch surface serves keys under.
const GatewayPrefix = "/api/media/"

// ErrInvalidKey is returned for keys that would escape the storage root.
var ErrInvalidKey = errors.New("invalid storage key")

// SaveRequest describes one object to persist.
type SaveRequest struct {
	Data     []byte
	Filename string
	MimeType string
	Folder   string
	// RelativePath, when set, is used verbatim under Folder so a group
	// of files (e.g. an HLS tree) keeps its internal layout. When empty
	// a unique name is synthesized from Filename.
	RelativePath string
}

// StoredFile describes one persisted object.
type StoredFile struct {
	Backend  string
	Key      string
	Size     int64
	MimeType string
}

// Backend is the uniform save/resolve contract over the local
// filesystem and the object store.
type Backend interface {
	Name() string
	Save(ctx context.Context, req SaveRequest) (StoredFile, error)
	PublicURL(key string, aud Audience) string
	LocalPath(key string) (string, bool)
	Download(ctx context.Context, key, destPath string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// New selects the configured backend. The object store is only used
// when its endpoint, bucket and credentials are all present; otherwise
// the local backend is chosen and the decision is logged rather than
// silently hidden.
func New(cfg config.StorageConfig, logger *logging.Logger) (Backend, error) {
	if strings.EqualFold(cfg.Backend, "s3") {
		if objectCredentialsComplete(cfg) {
			return NewObject(cfg)
		}
		logger.Warnf("object storage selected but credentials incomplete, falling back to local backend at %s", cfg.LocalDir)
	}
	return NewLocal(cfg.LocalDir)
}

func objectCredentialsComplete(cfg config.StorageConfig) bool {
	return cfg.Endpoint != "" && cfg.Bucket != "" && cfg.AccessKeyID != "" && cfg.SecretAccessKey != ""
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// SanitizeFilename reduces an attacker-controlled filename to a safe
// character set. Directory components are stripped first.
func SanitizeFilename(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	safe := unsafeFilenameChars.ReplaceAllString(base, "-")
	if safe == "" || safe == "." || safe == ".." {
		return "file"
	}
	return safe
}

// BuildKey derives a backend-relative key for a new object. Without an
// explicit relative path it synthesizes folder/{uuid}-{sanitized-name}.
// Keys that would escape the logical root are rejected, not truncated.
func BuildKey(folder, filename, relativePath string) (string, error) {
	cleanFolder := strings.TrimLeft(strings.ReplaceAll(folder, "\\", "/"), "/")

	rel := relativePath
	if rel == "" {
		rel = uuid.New().String() + "-" + SanitizeFilename(filename)
	} else {
		rel = strings.TrimLeft(strings.ReplaceAll(rel, "\\", "/"), "/")
	}

	joined := path.Clean(path.Join(cleanFolder, rel))
	if joined == "." || joined == ".." || strings.HasPrefix(joined, "../") || path.IsAbs(joined) {
		return "", ErrInvalidKey
	}
	return joined, nil
}

// SafeJoin resolves key under baseDir and rejects any result outside
// it. Used by the local backend and the media fetch surface.
func SafeJoin(baseDir, key string) (string, error) {
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", err
	}
	resolved := filepath.Join(absBase, filepath.FromSlash(strings.TrimLeft(key, "/")))
	rel, err := filepath.Rel(absBase, resolved)
	if err != nil {
		return "", ErrInvalidKey
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", ErrInvalidKey
	}
	return resolved, nil
}

// ContentTypeFor returns the content type based on file extension
func ContentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".vtt":
		return "text/vtt"
	default:
		return "application/octet-stream"
	}
}

// GatewayPath renders the browser-facing path for a key, escaping each
// segment individually so slashes survive.
func GatewayPath(key string) string {
	segments := strings.Split(strings.TrimLeft(key, "/"), "/")
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return GatewayPrefix + strings.Join(escaped, "/")
}
