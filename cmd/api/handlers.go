package main

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/streamvault/streamvault/internal/cache"
	"github.com/streamvault/streamvault/internal/database"
	"github.com/streamvault/streamvault/internal/jobs"
	"github.com/streamvault/streamvault/internal/logging"
	"github.com/streamvault/streamvault/internal/metrics"
	"github.com/streamvault/streamvault/internal/middleware"
	"github.com/streamvault/streamvault/internal/resolver"
	"github.com/streamvault/streamvault/internal/storage"
	"github.com/streamvault/streamvault/pkg/models"
)

// jobCacheTTL bounds job status reads served from redis. Only terminal
// rows are cached, so jobs finished by the dispatcher or a worker are
// never shadowed by a stale QUEUED/PROCESSING entry; an explicit retry
// of a FAILED job may read stale for at most this long.
const jobCacheTTL = 30 * time.Second

// store is the slice of the repository the handlers need.
type store interface {
	CreateAsset(ctx context.Context, asset *models.Asset) error
	GetAsset(ctx context.Context, id string) (*models.Asset, error)
	GetJob(ctx context.Context, id string) (*models.MediaJob, error)
	ListJobs(ctx context.Context, limit int) ([]*models.MediaJob, error)
	GetTitle(ctx context.Context, id string) (*models.Title, error)
	GetEpisode(ctx context.Context, id string) (*models.Episode, error)
	SetTitleAssetPointer(ctx context.Context, titleID, column, assetID string) error
	SetEpisodeAssetPointer(ctx context.Context, episodeID, column, assetID string) error
	UpsertProgress(ctx context.Context, progress *models.WatchProgress) error
	GetProgress(ctx context.Context, profileID, assetID string) (*models.WatchProgress, error)
}

// jobDriver is the slice of the job driver the handlers need.
type jobDriver interface {
	Enqueue(ctx context.Context, input jobs.EnqueueInput) (*models.MediaJob, error)
	Process(ctx context.Context, jobID string) (*models.MediaJob, error)
}

type pinger interface {
	Health(ctx context.Context) error
}

type API struct {
	repo     store
	db       pinger
	cache    *cache.Cache
	backend  storage.Backend
	resolver *resolver.Resolver
	driver   jobDriver
	dispatch func(jobID string)
	log      *logging.Logger
}

func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if api.db != nil {
		if err := api.db.Health(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// upload ingests catalog media for exactly one title or episode. A
// video file creates a transcode job and returns it; companion files
// (poster, backdrop, subtitle) are stored and pointed at immediately.
func (api *API) upload(c *gin.Context) {
	titleID := c.PostForm("titleId")
	episodeID := c.PostForm("episodeId")

	if (titleID == "") == (episodeID == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Exactly one of titleId or episodeId is required"})
		return
	}

	ctx := c.Request.Context()
	if titleID != "" {
		if _, err := api.repo.GetTitle(ctx, titleID); err != nil {
			api.respondNotFoundOrError(c, err, "Title not found")
			return
		}
	} else {
		if _, err := api.repo.GetEpisode(ctx, episodeID); err != nil {
			api.respondNotFoundOrError(c, err, "Episode not found")
			return
		}
	}

	type companion struct {
		field  string
		kind   models.AssetKind
		folder string
		column string
	}
	companions := []companion{
		{"poster", models.AssetKindPoster, "posters", "poster_asset_id"},
		{"backdrop", models.AssetKindBackdrop, "backdrops", "backdrop_asset_id"},
		{"subtitle", models.AssetKindSubtitle, "subtitles", "subtitle_asset_id"},
	}

	savedAssets := gin.H{}
	anyFile := false

	for _, comp := range companions {
		file, err := c.FormFile(comp.field)
		if err != nil {
			continue
		}
		anyFile = true

		if episodeID != "" && comp.field != "subtitle" {
			c.JSON(http.StatusBadRequest, gin.H{"error": comp.field + " is not supported for episodes"})
			return
		}

		asset, err := api.saveUpload(ctx, file, comp.kind, comp.folder)
		if err != nil {
			api.log.WithError(err).Errorf("failed to store %s upload", comp.field)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store " + comp.field})
			return
		}

		if titleID != "" {
			err = api.repo.SetTitleAssetPointer(ctx, titleID, comp.column, asset.ID)
		} else {
			err = api.repo.SetEpisodeAssetPointer(ctx, episodeID, comp.column, asset.ID)
		}
		if err != nil {
			api.log.WithError(err).Errorf("failed to update %s pointer", comp.field)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update catalog"})
			return
		}
		savedAssets[comp.field+"AssetId"] = asset.ID
	}

	video, err := c.FormFile("video")
	if err != nil {
		if !anyFile {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No files provided"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"assets": savedAssets})
		return
	}

	asset, err := api.saveUpload(ctx, video, models.AssetKindRawVideo, "uploads")
	if err != nil {
		api.log.WithError(err).Error("failed to store video upload")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store video"})
		return
	}
	metrics.VideoUploadsTotal.Inc()
	metrics.VideoUploadSizeBytes.Observe(float64(video.Size))
	savedAssets["videoAssetId"] = asset.ID

	input := jobs.EnqueueInput{InputAssetID: asset.ID}
	if titleID != "" {
		input.TitleID = &titleID
	} else {
		input.EpisodeID = &episodeID
	}

	job, err := api.driver.Enqueue(ctx, input)
	if err != nil {
		api.log.WithError(err).Error("failed to enqueue transcode job")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue transcode job"})
		return
	}

	// Transcoding runs detached; the upload response does not wait.
	api.dispatch(job.ID)

	c.JSON(http.StatusCreated, gin.H{
		"jobId":  job.ID,
		"status": job.Status,
		"assets": savedAssets,
	})
}

func (api *API) saveUpload(ctx context.Context, file *multipart.FileHeader, kind models.AssetKind, folder string) (*models.Asset, error) {
	src, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}

	stored, err := api.backend.Save(ctx, storage.SaveRequest{
		Data:     data,
		Filename: file.Filename,
		MimeType: file.Header.Get("Content-Type"),
		Folder:   folder,
	})
	if err != nil {
		return nil, err
	}

	asset := &models.Asset{
		Kind:    kind,
		Backend: stored.Backend,
		Key:     stored.Key,
		Meta: models.AssetMeta{
			"original_filename": file.Filename,
			"size":              stored.Size,
		},
	}
	if err := api.repo.CreateAsset(ctx, asset); err != nil {
		return nil, err
	}
	return asset, nil
}

func (api *API) listJobs(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = parsed
	}

	jobList, err := api.repo.ListJobs(c.Request.Context(), limit)
	if err != nil {
		api.log.WithError(err).Error("failed to list jobs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list jobs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobList, "count": len(jobList)})
}

func (api *API) getJob(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	if api.cache != nil {
		if cached, err := api.cache.GetJob(ctx, id); err == nil && cached != nil {
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	job, err := api.repo.GetJob(ctx, id)
	if err != nil {
		api.respondNotFoundOrError(c, err, "Job not found")
		return
	}

	if api.cache != nil && job.Terminal() {
		if err := api.cache.SetJob(ctx, job, jobCacheTTL); err != nil {
			api.log.WithError(err).Debug("failed to cache job")
		}
	}

	c.JSON(http.StatusOK, job)
}

// processJob triggers a job synchronously and returns the state it
// reached. A failed transcode is a valid outcome here, not a transport
// error: the FAILED row is returned with 200.
func (api *API) processJob(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	job, err := api.driver.Process(ctx, id)
	if api.cache != nil {
		if delErr := api.cache.DeleteJob(context.Background(), id); delErr != nil {
			api.log.WithError(delErr).Debug("failed to invalidate job cache")
		}
	}
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) || errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		api.log.WithJobID(id).ErrorWithErr("job processing failed", err)
		failed, getErr := api.repo.GetJob(ctx, id)
		if getErr != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Job processing failed"})
			return
		}
		c.JSON(http.StatusOK, failed)
		return
	}

	c.JSON(http.StatusOK, job)
}

type progressRequest struct {
	AssetID         string  `json:"assetId" binding:"required"`
	TitleID         *string `json:"titleId"`
	EpisodeID       *string `json:"episodeId"`
	PositionSeconds int     `json:"positionSeconds"`
	DurationSeconds int     `json:"durationSeconds"`
}

// upsertProgress records how far the authenticated profile got. The
// write is keyed by (profile, asset) so repeated reports replace the
// previous position.
func (api *API) upsertProgress(c *gin.Context) {
	profileID, ok := middleware.GetProfileID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	var req progressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.PositionSeconds < 0 || req.DurationSeconds < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Position and duration must be non-negative"})
		return
	}

	progress := &models.WatchProgress{
		ProfileID:       profileID,
		AssetID:         req.AssetID,
		TitleID:         req.TitleID,
		EpisodeID:       req.EpisodeID,
		PositionSeconds: req.PositionSeconds,
		DurationSeconds: req.DurationSeconds,
	}

	ctx := c.Request.Context()
	if err := api.repo.UpsertProgress(ctx, progress); err != nil {
		api.log.WithError(err).Error("failed to upsert progress")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record progress"})
		return
	}
	metrics.ProgressUpsertsTotal.Inc()

	if api.cache != nil {
		if err := api.cache.SetProgress(ctx, progress, cache.DefaultProgressTTL); err != nil {
			api.log.WithError(err).Debug("failed to cache progress")
		}
	}

	c.JSON(http.StatusOK, progress)
}

func (api *API) getProgress(c *gin.Context) {
	profileID, ok := middleware.GetProfileID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}
	assetID := c.Param("assetId")
	ctx := c.Request.Context()

	if api.cache != nil {
		if cached, err := api.cache.GetProgress(ctx, profileID, assetID); err == nil && cached != nil {
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	progress, err := api.repo.GetProgress(ctx, profileID, assetID)
	if err != nil {
		api.respondNotFoundOrError(c, err, "No progress recorded")
		return
	}

	if api.cache != nil {
		if err := api.cache.SetProgress(ctx, progress, cache.DefaultProgressTTL); err != nil {
			api.log.WithError(err).Debug("failed to cache progress")
		}
	}

	c.JSON(http.StatusOK, progress)
}

// getPlayback resolves an asset to the URL a client should load. The
// audience query switches between gateway-relative URLs for browsers
// and direct backend URLs for server-side rendering.
func (api *API) getPlayback(c *gin.Context) {
	asset, err := api.repo.GetAsset(c.Request.Context(), c.Param("assetId"))
	if err != nil {
		api.respondNotFoundOrError(c, err, "Asset not found")
		return
	}

	audience := storage.AudienceBrowser
	if c.Query("audience") == "server" {
		audience = storage.AudienceServer
	}

	url := api.resolver.ResolveURL(asset, audience)
	if url == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "Asset has no playable location"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"assetId": asset.ID,
		"kind":    asset.Kind,
		"url":     url,
	})
}

func (api *API) respondNotFoundOrError(c *gin.Context, err error, notFoundMsg string) {
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": notFoundMsg})
		return
	}
	api.log.WithError(err).Error("database lookup failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
}
