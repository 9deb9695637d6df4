// Package jobs owns the media job state machine and its execution driver.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/streamvault/streamvault/internal/database"
	"github.com/streamvault/streamvault/internal/logging"
	"github.com/streamvault/streamvault/internal/metrics"
	"github.com/streamvault/streamvault/internal/storage"
	"github.com/streamvault/streamvault/internal/tracing"
	"github.com/streamvault/streamvault/internal/transcoder"
	"github.com/streamvault/streamvault/pkg/models"
)

// Sentinel errors
var (
	ErrJobNotFound      = errors.New("media job not found")
	ErrMissingManifest  = errors.New("stream package master manifest missing")
	ErrInvalidJobTarget = errors.New("media job must target exactly one of title or episode")
)

// Store is the persistence the driver depends on. The claim must be
// atomic with respect to concurrent calls for the same job id. Missing
// rows surface as database.ErrNotFound; the driver translates that to
// ErrJobNotFound for its callers.
type Store interface {
	CreateAsset(ctx context.Context, asset *models.Asset) error
	GetAsset(ctx context.Context, id string) (*models.Asset, error)
	CreateJob(ctx context.Context, job *models.MediaJob) error
	GetJob(ctx context.Context, id string) (*models.MediaJob, error)
	ClaimJob(ctx context.Context, id string) (*models.MediaJob, bool, error)
	CompleteJob(ctx context.Context, id, manifestAssetID, thumbAssetID string) (*models.MediaJob, error)
	FailJob(ctx context.Context, id, message string) (*models.MediaJob, error)
}

// Invoker produces the stream package for one input file.
type Invoker interface {
	ProduceStreamPackage(ctx context.Context, inputPath, outputDir string) (*transcoder.StreamPackage, error)
}

// Driver orchestrates fetch input -> transcode -> persist outputs ->
// update catalog pointers, with idempotent re-entry per job.
type Driver struct {
	store   Store
	backend storage.Backend
	invoker Invoker
	tempDir string
	log     *logging.Logger
}

// NewDriver creates a job driver. tempDir may be empty to use the
// system default.
func NewDriver(store Store, backend storage.Backend, invoker Invoker, tempDir string, logger *logging.Logger) *Driver {
	return &Driver{
		store:   store,
		backend: backend,
		invoker: invoker,
		tempDir: tempDir,
		log:     logger,
	}
}

// EnqueueInput describes one upload to transcode.
type EnqueueInput struct {
	TitleID      *string
	EpisodeID    *string
	InputAssetID string
}

// Enqueue creates a QUEUED job for an uploaded input asset. Invalid
// targets are rejected and no job row is created.
func (d *Driver) Enqueue(ctx context.Context, input EnqueueInput) (*models.MediaJob, error) {
	if input.InputAssetID == "" {
		return nil, fmt.Errorf("input asset is required")
	}

	job := &models.MediaJob{
		TitleID:      input.TitleID,
		EpisodeID:    input.EpisodeID,
		InputAssetID: input.InputAssetID,
		Status:       models.JobStatusQueued,
	}
	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJobTarget, err)
	}

	if err := d.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	metrics.JobsCreatedTotal.Inc()
	d.log.LogJobEvent(job.ID, "enqueued", job.Status, nil)
	return job, nil
}

// Process runs one job to a terminal state. Calling it on a job that
// is already PROCESSING returns the current row without side effects;
// that guard is the idempotency barrier against duplicate triggers.
// Failures are recorded on the job and returned to the caller; nothing
// is retried automatically.
func (d *Driver) Process(ctx context.Context, jobID string) (*models.MediaJob, error) {
	span, ctx := tracing.StartSpan(ctx, "jobs.process")
	span.SetTag("job_id", jobID)
	defer span.Finish()

	job, claimed, err := d.store.ClaimJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			err = ErrJobNotFound
		}
		tracing.LogError(span, err)
		return nil, err
	}
	if !claimed {
		d.log.WithJobID(jobID).Debugf("job already %s, skipping", job.Status)
		return job, nil
	}

	metrics.JobsInProgress.Inc()
	started := time.Now()
	defer func() {
		metrics.JobsInProgress.Dec()
		metrics.JobDuration.Observe(time.Since(started).Seconds())
	}()

	d.log.LogJobEvent(jobID, "processing", job.Status, nil)

	result, err := d.runPipeline(ctx, job)
	if err != nil {
		tracing.LogError(span, err)
		metrics.JobsCompletedTotal.WithLabelValues(models.JobStatusFailed).Inc()
		if _, failErr := d.store.FailJob(ctx, jobID, trimMessage(err.Error())); failErr != nil {
			return nil, fmt.Errorf("failed to record job failure: %v (original error: %w)", failErr, err)
		}
		d.log.WithJobID(jobID).ErrorWithErr("job failed", err)
		return nil, err
	}

	metrics.JobsCompletedTotal.WithLabelValues(models.JobStatusReady).Inc()
	d.log.LogJobEvent(jobID, "ready", result.Status, map[string]interface{}{
		"manifest_asset_id": *result.OutputManifestAssetID,
		"thumb_asset_id":    *result.OutputThumbAssetID,
	})
	return result, nil
}

// runPipeline does the actual work between the claim and the terminal
// transition. The scoped temp directory is removed on every exit path.
func (d *Driver) runPipeline(ctx context.Context, job *models.MediaJob) (*models.MediaJob, error) {
	inputAsset, err := d.store.GetAsset(ctx, job.InputAssetID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve input asset: %w", err)
	}

	tmpRoot, err := os.MkdirTemp(d.tempDir, "job-"+job.ID+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create working directory: %w", err)
	}
	defer os.RemoveAll(tmpRoot)

	inputPath, err := d.materializeInput(ctx, inputAsset, tmpRoot)
	if err != nil {
		return nil, err
	}

	outputDir := filepath.Join(tmpRoot, "output")
	pkg, err := d.invoker.ProduceStreamPackage(ctx, inputPath, outputDir)
	if err != nil {
		return nil, fmt.Errorf("transcode failed: %w", err)
	}

	manifestAsset, err := d.persistStreamTree(ctx, job, pkg)
	if err != nil {
		return nil, err
	}

	thumbAsset, err := d.persistThumbnail(ctx, job, pkg.ThumbnailPath)
	if err != nil {
		return nil, err
	}

	return d.store.CompleteJob(ctx, job.ID, manifestAsset.ID, thumbAsset.ID)
}

// materializeInput returns a local path for the input asset, downloading
// from the object store into the working directory when necessary.
func (d *Driver) materializeInput(ctx context.Context, asset *models.Asset, tmpRoot string) (string, error) {
	if asset.Backend == models.BackendLocal {
		if localPath, ok := d.backend.LocalPath(asset.Key); ok {
			if _, err := os.Stat(localPath); err == nil {
				return localPath, nil
			}
		}
	}

	ext := path.Ext(asset.Key)
	if ext == "" {
		ext = ".mp4"
	}
	inputPath := filepath.Join(tmpRoot, "input"+ext)
	if err := d.backend.Download(ctx, asset.Key, inputPath); err != nil {
		return "", fmt.Errorf("failed to materialize input: %w", err)
	}
	return inputPath, nil
}

// persistStreamTree saves every produced file under hls/<jobID>,
// preserving relative paths so the master's rendition references
// remain valid after relocation, and creates the manifest asset.
func (d *Driver) persistStreamTree(ctx context.Context, job *models.MediaJob, pkg *transcoder.StreamPackage) (*models.Asset, error) {
	folder := "hls/" + job.ID
	var masterKey, masterBackend string

	err := filepath.WalkDir(pkg.HLSDir, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(pkg.HLSDir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("failed to read output %s: %w", rel, err)
		}

		stored, err := d.backend.Save(ctx, storage.SaveRequest{
			Data:         data,
			Filename:     path.Base(rel),
			MimeType:     storage.ContentTypeFor(rel),
			Folder:       folder,
			RelativePath: rel,
		})
		if err != nil {
			return fmt.Errorf("failed to persist output %s: %w", rel, err)
		}
		metrics.StorageBytesTransferred.WithLabelValues("save").Add(float64(stored.Size))

		if rel == transcoder.MasterPlaylistName {
			masterKey = stored.Key
			masterBackend = stored.Backend
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if masterKey == "" {
		return nil, ErrMissingManifest
	}

	variants := make([]map[string]string, 0, len(pkg.Renditions))
	for _, r := range pkg.Renditions {
		variants = append(variants, map[string]string{
			"label": r.Label,
			"path":  folder + "/" + r.Label + "/" + transcoder.RenditionPlaylistName,
		})
	}

	asset := &models.Asset{
		Kind:    models.AssetKindHLSMaster,
		Backend: masterBackend,
		Key:     masterKey,
		Meta:    models.AssetMeta{"variants": variants},
	}
	if err := d.store.CreateAsset(ctx, asset); err != nil {
		return nil, fmt.Errorf("failed to create manifest asset: %w", err)
	}
	return asset, nil
}

// persistThumbnail saves the poster frame and creates its asset.
func (d *Driver) persistThumbnail(ctx context.Context, job *models.MediaJob, thumbPath string) (*models.Asset, error) {
	data, err := os.ReadFile(thumbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read thumbnail: %w", err)
	}

	stored, err := d.backend.Save(ctx, storage.SaveRequest{
		Data:         data,
		Filename:     filepath.Base(thumbPath),
		MimeType:     "image/jpeg",
		Folder:       "thumbnails",
		RelativePath: job.ID + ".jpg",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist thumbnail: %w", err)
	}

	asset := &models.Asset{
		Kind:    models.AssetKindThumbnail,
		Backend: stored.Backend,
		Key:     stored.Key,
		Meta:    models.AssetMeta{"size": stored.Size, "mime": stored.MimeType},
	}
	if err := d.store.CreateAsset(ctx, asset); err != nil {
		return nil, fmt.Errorf("failed to create thumbnail asset: %w", err)
	}
	return asset, nil
}

// trimMessage keeps persisted error messages readable.
func trimMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	if len(msg) > 1024 {
		return msg[:1024]
	}
	return msg
}
