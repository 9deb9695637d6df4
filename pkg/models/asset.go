package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Asset is an immutable reference to one stored media object.
// A re-transcode produces a new Asset; the old one is superseded by
// pointer reassignment, never edited in place.
type Asset struct {
	ID        string    `json:"id" db:"id"`
	Kind      AssetKind `json:"kind" db:"kind"`
	Backend   string    `json:"backend" db:"backend"`
	Key       string    `json:"key" db:"key"`
	Meta      AssetMeta `json:"meta,omitempty" db:"meta"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// AssetKind identifies what a stored object is.
type AssetKind string

// Asset kinds
const (
	AssetKindRawVideo  AssetKind = "video/raw"
	AssetKindHLSMaster AssetKind = "hls/master"
	AssetKindThumbnail AssetKind = "thumbnail"
	AssetKindSubtitle  AssetKind = "subtitle"
	AssetKindPoster    AssetKind = "poster"
	AssetKindBackdrop  AssetKind = "backdrop"
)

// Storage backend identifiers
const (
	BackendLocal  = "local"
	BackendObject = "s3"
)

// AssetMeta holds free-form asset metadata (size, mime type, variant list).
type AssetMeta map[string]interface{}

// Value implements driver.Valuer for database storage
func (m AssetMeta) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for database retrieval
func (m *AssetMeta) Scan(value interface{}) error {
	if value == nil {
		*m = make(AssetMeta)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, m)
}
