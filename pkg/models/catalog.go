package models

import "time"

// Title is a playable catalog entry (a movie or a series container).
// Metadata editing is handled outside this service; the transcode core
// only touches VideoAssetID.
type Title struct {
	ID              string    `json:"id" db:"id"`
	Name            string    `json:"name" db:"name"`
	VideoAssetID    *string   `json:"video_asset_id,omitempty" db:"video_asset_id"`
	PosterAssetID   *string   `json:"poster_asset_id,omitempty" db:"poster_asset_id"`
	BackdropAssetID *string   `json:"backdrop_asset_id,omitempty" db:"backdrop_asset_id"`
	SubtitleAssetID *string   `json:"subtitle_asset_id,omitempty" db:"subtitle_asset_id"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// Episode is a playable entry inside a series season.
type Episode struct {
	ID              string    `json:"id" db:"id"`
	SeasonID        string    `json:"season_id" db:"season_id"`
	Name            string    `json:"name" db:"name"`
	Number          int       `json:"number" db:"number"`
	VideoAssetID    *string   `json:"video_asset_id,omitempty" db:"video_asset_id"`
	SubtitleAssetID *string   `json:"subtitle_asset_id,omitempty" db:"subtitle_asset_id"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// WatchProgress records how far a profile got into an asset.
// Upserts are keyed by (profile, asset).
type WatchProgress struct {
	ID              string    `json:"id" db:"id"`
	ProfileID       string    `json:"profile_id" db:"profile_id"`
	AssetID         string    `json:"asset_id" db:"asset_id"`
	TitleID         *string   `json:"title_id,omitempty" db:"title_id"`
	EpisodeID       *string   `json:"episode_id,omitempty" db:"episode_id"`
	PositionSeconds int       `json:"position_seconds" db:"position_seconds"`
	DurationSeconds int       `json:"duration_seconds" db:"duration_seconds"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}
