package main

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/streamvault/streamvault/internal/metrics"
	"github.com/streamvault/streamvault/internal/storage"
)

// serveMedia is the byte-serving gateway addressed by backend-relative
// key. Local keys are served from disk with full Range support; object
// keys redirect to the backend URL so segment traffic never proxies
// through this process.
func (api *API) serveMedia(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("mediaKey"), "/")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Media key required"})
		return
	}
	if keyEscapes(key) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid media key"})
		return
	}

	started := time.Now()

	localPath, ok := api.backend.LocalPath(key)
	if !ok {
		url := api.backend.PublicURL(key, storage.AudienceServer)
		metrics.StorageOperationsTotal.WithLabelValues("redirect", api.backend.Name()).Inc()
		c.Redirect(http.StatusFound, url)
		return
	}

	file, err := os.Open(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Media not found"})
			return
		}
		api.log.WithError(err).Errorf("failed to open media %s", key)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read media"})
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil || info.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"error": "Media not found"})
		return
	}

	c.Header("Content-Type", storage.ContentTypeFor(key))
	// ServeContent handles Range requests, emitting 206 with
	// Content-Range/Accept-Ranges/Content-Length for the span.
	http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), file)

	api.log.LogStorageOperation("serve", api.backend.Name(), key, info.Size(), time.Since(started), nil)
	metrics.StorageOperationsTotal.WithLabelValues("serve", api.backend.Name()).Inc()
}

// keyEscapes reports whether any path segment would climb out of the
// media root. Rejection beats silent normalization here.
func keyEscapes(key string) bool {
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." {
			return true
		}
	}
	return false
}
