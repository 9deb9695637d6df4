package models

import (
	"fmt"
	"time"
)

// MediaJob tracks one transcode attempt through its lifecycle.
type MediaJob struct {
	ID                    string    `json:"id" db:"id"`
	TitleID               *string   `json:"title_id,omitempty" db:"title_id"`
	EpisodeID             *string   `json:"episode_id,omitempty" db:"episode_id"`
	InputAssetID          string    `json:"input_asset_id" db:"input_asset_id"`
	OutputManifestAssetID *string   `json:"output_manifest_asset_id,omitempty" db:"output_manifest_asset_id"`
	OutputThumbAssetID    *string   `json:"output_thumb_asset_id,omitempty" db:"output_thumb_asset_id"`
	Status                string    `json:"status" db:"status"`
	ErrorMessage          *string   `json:"error_message,omitempty" db:"error_message"`
	CreatedAt             time.Time `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time `json:"updated_at" db:"updated_at"`
}

// Job status constants. There is no cancelled state; jobs only move
// forward along QUEUED -> PROCESSING -> {READY|FAILED}.
const (
	JobStatusQueued     = "QUEUED"
	JobStatusProcessing = "PROCESSING"
	JobStatusReady      = "READY"
	JobStatusFailed     = "FAILED"
)

// Validate checks the playable-target invariant: exactly one of
// title or episode must be referenced.
func (j *MediaJob) Validate() error {
	if j.TitleID == nil && j.EpisodeID == nil {
		return fmt.Errorf("media job must reference a title or an episode")
	}
	if j.TitleID != nil && j.EpisodeID != nil {
		return fmt.Errorf("media job cannot reference both a title and an episode")
	}
	return nil
}

// Terminal reports whether the job reached a terminal state.
func (j *MediaJob) Terminal() bool {
	return j.Status == JobStatusReady || j.Status == JobStatusFailed
}

// ValidTransition reports whether moving from one status to another is
// allowed by the job state machine.
func ValidTransition(from, to string) bool {
	switch from {
	case JobStatusQueued:
		return to == JobStatusProcessing
	case JobStatusProcessing:
		return to == JobStatusReady || to == JobStatusFailed
	default:
		return false
	}
}
