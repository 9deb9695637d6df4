// Package resolver maps stored asset descriptors to fetchable URLs.
package resolver

import (
	"strings"

	"github.com/streamvault/streamvault/internal/storage"
	"github.com/streamvault/streamvault/pkg/models"
)

// Resolver turns asset descriptors into playback URLs. It is a pure
// function over the storage backends and safe to call from both
// page-render and browser-facing contexts.
type Resolver struct {
	backends map[string]storage.Backend
}

// New creates a resolver. Backends are looked up by the asset's own
// backend field, not the process-wide selection, so assets written
// under a previous configuration still resolve.
func New(backends ...storage.Backend) *Resolver {
	m := make(map[string]storage.Backend, len(backends))
	for _, b := range backends {
		m[b.Name()] = b
	}
	return &Resolver{backends: m}
}

// ResolveURL returns the URL for an asset, or "" when the asset has no
// key. Values already shaped like absolute URLs pass through unchanged.
func (r *Resolver) ResolveURL(asset *models.Asset, aud storage.Audience) string {
	if asset == nil || asset.Key == "" {
		return ""
	}
	if LooksLikeURL(asset.Key) {
		return asset.Key
	}

	backend, ok := r.backends[asset.Backend]
	if !ok {
		// Unknown backend: serve through the gateway so the key at
		// least stays opaque to the caller.
		return storage.GatewayPath(asset.Key)
	}
	return backend.PublicURL(asset.Key, aud)
}

// LooksLikeURL reports whether a value is already an absolute or
// self-contained URL and must not be re-keyed.
func LooksLikeURL(value string) bool {
	return strings.HasPrefix(value, "http://") ||
		strings.HasPrefix(value, "https://") ||
		strings.HasPrefix(value, "//") ||
		strings.HasPrefix(value, "data:") ||
		strings.HasPrefix(value, "blob:")
}
