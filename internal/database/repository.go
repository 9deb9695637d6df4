package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/streamvault/streamvault/pkg/models"
)

// Sentinel errors
var (
	ErrNotFound = errors.New("record not found")
)

// Repository provides data access operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Assets

// CreateAsset inserts a new asset record. Assets are immutable after
// creation; there is no update path.
func (r *Repository) CreateAsset(ctx context.Context, asset *models.Asset) error {
	if asset.ID == "" {
		asset.ID = uuid.New().String()
	}

	query := `
		INSERT INTO assets (id, kind, backend, key, meta)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		asset.ID, asset.Kind, asset.Backend, asset.Key, asset.Meta,
	).Scan(&asset.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create asset: %w", err)
	}
	return nil
}

// GetAsset retrieves an asset by id.
func (r *Repository) GetAsset(ctx context.Context, id string) (*models.Asset, error) {
	query := `
		SELECT id, kind, backend, key, meta, created_at
		FROM assets
		WHERE id = $1
	`

	var asset models.Asset
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&asset.ID, &asset.Kind, &asset.Backend, &asset.Key, &asset.Meta, &asset.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	return &asset, nil
}

// Media jobs

const jobColumns = `id, title_id, episode_id, input_asset_id,
	output_manifest_asset_id, output_thumb_asset_id,
	status, error_message, created_at, updated_at`

func scanJob(row pgx.Row) (*models.MediaJob, error) {
	var job models.MediaJob
	err := row.Scan(
		&job.ID, &job.TitleID, &job.EpisodeID, &job.InputAssetID,
		&job.OutputManifestAssetID, &job.OutputThumbAssetID,
		&job.Status, &job.ErrorMessage, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

// CreateJob inserts a new media job in the QUEUED state.
func (r *Repository) CreateJob(ctx context.Context, job *models.MediaJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = models.JobStatusQueued
	}

	query := `
		INSERT INTO media_jobs (id, title_id, episode_id, input_asset_id, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		job.ID, job.TitleID, job.EpisodeID, job.InputAssetID, job.Status,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create media job: %w", err)
	}
	return nil
}

// GetJob retrieves a media job by id.
func (r *Repository) GetJob(ctx context.Context, id string) (*models.MediaJob, error) {
	query := `SELECT ` + jobColumns + ` FROM media_jobs WHERE id = $1`

	job, err := scanJob(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get media job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs newest first.
func (r *Repository) ListJobs(ctx context.Context, limit int) ([]*models.MediaJob, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + jobColumns + ` FROM media_jobs ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list media jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.MediaJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan media job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClaimJob atomically moves a job into PROCESSING and clears any stale
// error. The conditional update is the single-writer guard: concurrent
// claims of the same job succeed at most once. When the claim misses,
// the current row is returned with claimed=false and no side effects.
func (r *Repository) ClaimJob(ctx context.Context, id string) (*models.MediaJob, bool, error) {
	query := `
		UPDATE media_jobs
		SET status = $2, error_message = NULL, updated_at = now()
		WHERE id = $1 AND status <> $2
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.Pool.QueryRow(ctx, query, id, models.JobStatusProcessing))
	if err == nil {
		return job, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("failed to claim media job: %w", err)
	}

	// Either the job does not exist or it is already PROCESSING.
	current, err := r.GetJob(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// CompleteJob applies the success transition in one transaction: output
// pointers, READY status, and the target's playable-asset pointer move
// together so a reader never observes READY without outputs.
func (r *Repository) CompleteJob(ctx context.Context, id, manifestAssetID, thumbAssetID string) (*models.MediaJob, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE media_jobs
		SET status = $2, output_manifest_asset_id = $3, output_thumb_asset_id = $4, updated_at = now()
		WHERE id = $1 AND status = $5
		RETURNING ` + jobColumns

	job, err := scanJob(tx.QueryRow(ctx, query, id, models.JobStatusReady, manifestAssetID, thumbAssetID, models.JobStatusProcessing))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("media job %s is not processing", id)
		}
		return nil, fmt.Errorf("failed to complete media job: %w", err)
	}

	if job.TitleID != nil {
		if _, err := tx.Exec(ctx,
			`UPDATE titles SET video_asset_id = $2, updated_at = now() WHERE id = $1`,
			*job.TitleID, manifestAssetID,
		); err != nil {
			return nil, fmt.Errorf("failed to update title pointer: %w", err)
		}
	}
	if job.EpisodeID != nil {
		if _, err := tx.Exec(ctx,
			`UPDATE episodes SET video_asset_id = $2, updated_at = now() WHERE id = $1`,
			*job.EpisodeID, manifestAssetID,
		); err != nil {
			return nil, fmt.Errorf("failed to update episode pointer: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return job, nil
}

// FailJob records a failure message and moves the job to FAILED. The
// catalog is never touched on failure.
func (r *Repository) FailJob(ctx context.Context, id, message string) (*models.MediaJob, error) {
	query := `
		UPDATE media_jobs
		SET status = $2, error_message = $3, updated_at = now()
		WHERE id = $1
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.Pool.QueryRow(ctx, query, id, models.JobStatusFailed, message))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fail media job: %w", err)
	}
	return job, nil
}

// Catalog

// GetTitle retrieves a title by id.
func (r *Repository) GetTitle(ctx context.Context, id string) (*models.Title, error) {
	query := `
		SELECT id, name, video_asset_id, poster_asset_id, backdrop_asset_id, subtitle_asset_id, created_at, updated_at
		FROM titles WHERE id = $1
	`

	var title models.Title
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&title.ID, &title.Name, &title.VideoAssetID, &title.PosterAssetID,
		&title.BackdropAssetID, &title.SubtitleAssetID, &title.CreatedAt, &title.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get title: %w", err)
	}
	return &title, nil
}

// GetEpisode retrieves an episode by id.
func (r *Repository) GetEpisode(ctx context.Context, id string) (*models.Episode, error) {
	query := `
		SELECT id, season_id, name, number, video_asset_id, subtitle_asset_id, created_at, updated_at
		FROM episodes WHERE id = $1
	`

	var episode models.Episode
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&episode.ID, &episode.SeasonID, &episode.Name, &episode.Number,
		&episode.VideoAssetID, &episode.SubtitleAssetID, &episode.CreatedAt, &episode.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get episode: %w", err)
	}
	return &episode, nil
}

// SetTitleAssetPointer updates one of a title's asset pointers. Column
// names are restricted to a fixed set; caller input never reaches SQL.
func (r *Repository) SetTitleAssetPointer(ctx context.Context, titleID, column, assetID string) error {
	switch column {
	case "poster_asset_id", "backdrop_asset_id", "subtitle_asset_id", "video_asset_id":
	default:
		return fmt.Errorf("unknown title asset column %q", column)
	}

	query := fmt.Sprintf(`UPDATE titles SET %s = $2, updated_at = now() WHERE id = $1`, column)
	tag, err := r.db.Pool.Exec(ctx, query, titleID, assetID)
	if err != nil {
		return fmt.Errorf("failed to update title pointer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetEpisodeAssetPointer updates one of an episode's asset pointers.
func (r *Repository) SetEpisodeAssetPointer(ctx context.Context, episodeID, column, assetID string) error {
	switch column {
	case "subtitle_asset_id", "video_asset_id":
	default:
		return fmt.Errorf("unknown episode asset column %q", column)
	}

	query := fmt.Sprintf(`UPDATE episodes SET %s = $2, updated_at = now() WHERE id = $1`, column)
	tag, err := r.db.Pool.Exec(ctx, query, episodeID, assetID)
	if err != nil {
		return fmt.Errorf("failed to update episode pointer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Watch progress

// UpsertProgress records playback position keyed by (profile, asset).
// Repeated reports overwrite; the operation is idempotent.
func (r *Repository) UpsertProgress(ctx context.Context, progress *models.WatchProgress) error {
	if progress.ID == "" {
		progress.ID = uuid.New().String()
	}

	query := `
		INSERT INTO watch_progress (id, profile_id, asset_id, title_id, episode_id, position_seconds, duration_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (profile_id, asset_id) DO UPDATE
		SET position_seconds = EXCLUDED.position_seconds,
		    duration_seconds = EXCLUDED.duration_seconds,
		    title_id = EXCLUDED.title_id,
		    episode_id = EXCLUDED.episode_id,
		    updated_at = now()
		RETURNING id, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		progress.ID, progress.ProfileID, progress.AssetID, progress.TitleID,
		progress.EpisodeID, progress.PositionSeconds, progress.DurationSeconds,
	).Scan(&progress.ID, &progress.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert watch progress: %w", err)
	}
	return nil
}

// GetProgress retrieves progress for (profile, asset).
func (r *Repository) GetProgress(ctx context.Context, profileID, assetID string) (*models.WatchProgress, error) {
	query := `
		SELECT id, profile_id, asset_id, title_id, episode_id, position_seconds, duration_seconds, updated_at
		FROM watch_progress
		WHERE profile_id = $1 AND asset_id = $2
	`

	var progress models.WatchProgress
	err := r.db.Pool.QueryRow(ctx, query, profileID, assetID).Scan(
		&progress.ID, &progress.ProfileID, &progress.AssetID, &progress.TitleID,
		&progress.EpisodeID, &progress.PositionSeconds, &progress.DurationSeconds, &progress.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get watch progress: %w", err)
	}
	return &progress, nil
}
