package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamvault/streamvault/internal/storage"
)

func seedMedia(t *testing.T, ta *testAPI, key string, data []byte) {
	t.Helper()
	// Split at the first slash so Save reproduces the exact key.
	parts := strings.SplitN(key, "/", 2)
	folder, rel := "", key
	if len(parts) == 2 {
		folder, rel = parts[0], parts[1]
	}
	stored, err := ta.backend.Save(context.Background(), storage.SaveRequest{
		Data:         data,
		Filename:     rel,
		Folder:       folder,
		RelativePath: rel,
	})
	require.NoError(t, err)
	require.Equal(t, key, stored.Key)
}

func TestServeMediaFullFile(t *testing.T) {
	ta := newTestAPI(t)
	content := []byte("#EXTM3U\n#EXT-X-VERSION:3\n")
	seedMedia(t, ta, "hls/job-1/master.m3u8", content)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/media/hls/job-1/master.m3u8", nil)
	ta.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.apple.mpegurl", w.Header().Get("Content-Type"))
	assert.Equal(t, content, w.Body.Bytes())
	assert.Equal(t, "bytes", w.Header().Get("Accept-Ranges"))
}

func TestServeMediaRange(t *testing.T) {
	ta := newTestAPI(t)

	content := make([]byte, 1000)
	for i := range content {
		content[i] = byte(i % 251)
	}
	seedMedia(t, ta, "uploads/video.mp4", content)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/media/uploads/video.mp4", nil)
	req.Header.Set("Range", "bytes=100-199")
	ta.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "bytes 100-199/1000", w.Header().Get("Content-Range"))
	assert.Equal(t, "100", w.Header().Get("Content-Length"))
	assert.Equal(t, "bytes", w.Header().Get("Accept-Ranges"))

	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Equal(t, content[100:200], body)
}

func TestServeMediaOpenEndedRange(t *testing.T) {
	ta := newTestAPI(t)

	content := make([]byte, 500)
	for i := range content {
		content[i] = byte(i % 200)
	}
	seedMedia(t, ta, "uploads/clip.mp4", content)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/media/uploads/clip.mp4", nil)
	req.Header.Set("Range", "bytes=400-")
	ta.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "bytes 400-499/500", w.Header().Get("Content-Range"))
	assert.Equal(t, content[400:], w.Body.Bytes())
}

func TestServeMediaRejectsTraversal(t *testing.T) {
	ta := newTestAPI(t)

	for _, key := range []string{
		"../etc/passwd",
		"uploads/../../etc/passwd",
		"uploads/..",
	} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/api/media/"+key, nil)
		ta.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, "key %q must be rejected", key)
	}
}

func TestServeMediaNotFound(t *testing.T) {
	ta := newTestAPI(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/media/uploads/nope.mp4", nil)
	ta.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// objectStub mimics the object backend's gateway behavior: no local
// path, server-audience URLs point at the backing store.
type objectStub struct{}

func (objectStub) Name() string { return "s3" }
func (objectStub) Save(ctx context.Context, req storage.SaveRequest) (storage.StoredFile, error) {
	return storage.StoredFile{}, nil
}
func (objectStub) PublicURL(key string, aud storage.Audience) string {
	if aud == storage.AudienceBrowser {
		return storage.GatewayPath(key)
	}
	return "https://media.example.s3.us-east-1.amazonaws.com/" + key
}
func (objectStub) LocalPath(key string) (string, bool) { return "", false }
func (objectStub) Download(ctx context.Context, key, destPath string) error {
	return nil
}
func (objectStub) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, nil
}

func TestServeMediaObjectBackendRedirects(t *testing.T) {
	ta := newTestAPI(t)
	ta.api.backend = objectStub{}

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/media/hls/job-1/master.m3u8", nil)
	ta.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://media.example.s3.us-east-1.amazonaws.com/hls/job-1/master.m3u8",
		w.Header().Get("Location"))
}
