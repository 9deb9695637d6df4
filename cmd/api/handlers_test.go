package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamvault/streamvault/internal/cache"
	"github.com/streamvault/streamvault/internal/database"
	"github.com/streamvault/streamvault/internal/jobs"
	"github.com/streamvault/streamvault/internal/logging"
	"github.com/streamvault/streamvault/internal/middleware"
	"github.com/streamvault/streamvault/internal/resolver"
	"github.com/streamvault/streamvault/internal/storage"
	"github.com/streamvault/streamvault/pkg/models"
)

type fakeStore struct {
	assets        map[string]*models.Asset
	jobsByID      map[string]*models.MediaJob
	titles        map[string]*models.Title
	episodes      map[string]*models.Episode
	progress      map[string]*models.WatchProgress
	titlePointers map[string]string // column -> asset id
	seq           int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		assets:        make(map[string]*models.Asset),
		jobsByID:      make(map[string]*models.MediaJob),
		titles:        make(map[string]*models.Title),
		episodes:      make(map[string]*models.Episode),
		progress:      make(map[string]*models.WatchProgress),
		titlePointers: make(map[string]string),
	}
}

func (s *fakeStore) CreateAsset(ctx context.Context, asset *models.Asset) error {
	s.seq++
	asset.ID = fmt.Sprintf("asset-%d", s.seq)
	s.assets[asset.ID] = asset
	return nil
}

func (s *fakeStore) GetAsset(ctx context.Context, id string) (*models.Asset, error) {
	asset, ok := s.assets[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return asset, nil
}

func (s *fakeStore) GetJob(ctx context.Context, id string) (*models.MediaJob, error) {
	job, ok := s.jobsByID[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return job, nil
}

func (s *fakeStore) ListJobs(ctx context.Context, limit int) ([]*models.MediaJob, error) {
	out := make([]*models.MediaJob, 0, len(s.jobsByID))
	for _, job := range s.jobsByID {
		out = append(out, job)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) GetTitle(ctx context.Context, id string) (*models.Title, error) {
	title, ok := s.titles[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return title, nil
}

func (s *fakeStore) GetEpisode(ctx context.Context, id string) (*models.Episode, error) {
	episode, ok := s.episodes[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return episode, nil
}

func (s *fakeStore) SetTitleAssetPointer(ctx context.Context, titleID, column, assetID string) error {
	if _, ok := s.titles[titleID]; !ok {
		return database.ErrNotFound
	}
	s.titlePointers[column] = assetID
	return nil
}

func (s *fakeStore) SetEpisodeAssetPointer(ctx context.Context, episodeID, column, assetID string) error {
	if _, ok := s.episodes[episodeID]; !ok {
		return database.ErrNotFound
	}
	return nil
}

func (s *fakeStore) UpsertProgress(ctx context.Context, progress *models.WatchProgress) error {
	key := progress.ProfileID + ":" + progress.AssetID
	progress.UpdatedAt = time.Now()
	s.progress[key] = progress
	return nil
}

func (s *fakeStore) GetProgress(ctx context.Context, profileID, assetID string) (*models.WatchProgress, error) {
	progress, ok := s.progress[profileID+":"+assetID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return progress, nil
}

type fakeDriver struct {
	store       *fakeStore
	processErr  error
	notFoundErr error
	processed   []string
}

func (d *fakeDriver) Enqueue(ctx context.Context, input jobs.EnqueueInput) (*models.MediaJob, error) {
	job := &models.MediaJob{
		ID:           fmt.Sprintf("job-%d", len(d.store.jobsByID)+1),
		TitleID:      input.TitleID,
		EpisodeID:    input.EpisodeID,
		InputAssetID: input.InputAssetID,
		Status:       models.JobStatusQueued,
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	d.store.jobsByID[job.ID] = job
	return job, nil
}

func (d *fakeDriver) Process(ctx context.Context, jobID string) (*models.MediaJob, error) {
	d.processed = append(d.processed, jobID)
	job, ok := d.store.jobsByID[jobID]
	if !ok {
		return nil, jobs.ErrJobNotFound
	}
	if d.notFoundErr != nil {
		return nil, d.notFoundErr
	}
	if d.processErr != nil {
		msg := d.processErr.Error()
		job.Status = models.JobStatusFailed
		job.ErrorMessage = &msg
		return nil, d.processErr
	}
	job.Status = models.JobStatusReady
	return job, nil
}

type testAPI struct {
	api        *API
	router     *gin.Engine
	store      *fakeStore
	driver     *fakeDriver
	backend    *storage.Local
	dispatched []string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	middleware.SetJWTSecret("test-secret")

	backend, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	logger, err := logging.NewLogger(logging.Config{Level: "error", Output: "stderr"})
	require.NoError(t, err)

	ta := &testAPI{
		store:   newFakeStore(),
		backend: backend,
	}
	ta.driver = &fakeDriver{store: ta.store}
	ta.api = &API{
		repo:     ta.store,
		backend:  backend,
		resolver: resolver.New(backend),
		driver:   ta.driver,
		dispatch: func(jobID string) { ta.dispatched = append(ta.dispatched, jobID) },
		log:      logger,
	}
	ta.router = setupRouter(ta.api, logger)
	return ta
}

func adminToken(t *testing.T) string {
	t.Helper()
	token, err := middleware.GenerateToken("admin-1", middleware.RoleAdmin, time.Hour)
	require.NoError(t, err)
	return token
}

func viewerToken(t *testing.T, profileID string) string {
	t.Helper()
	token, err := middleware.GenerateToken(profileID, middleware.RoleViewer, time.Hour)
	require.NoError(t, err)
	return token
}

func multipartBody(t *testing.T, fields map[string]string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for name, value := range fields {
		require.NoError(t, writer.WriteField(name, value))
	}
	for name, data := range files {
		part, err := writer.CreateFormFile(name, name+".bin")
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestUploadRequiresExactlyOneTarget(t *testing.T) {
	ta := newTestAPI(t)
	token := adminToken(t)

	cases := map[string]map[string]string{
		"neither": {},
		"both":    {"titleId": "t1", "episodeId": "e1"},
	}
	for name, fields := range cases {
		t.Run(name, func(t *testing.T) {
			body, contentType := multipartBody(t, fields, map[string][]byte{"video": []byte("data")})
			w := httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/api/admin/upload", body)
			req.Header.Set("Content-Type", contentType)
			req.Header.Set("Authorization", "Bearer "+token)
			ta.router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestUploadRequiresAdmin(t *testing.T) {
	ta := newTestAPI(t)

	body, contentType := multipartBody(t, map[string]string{"titleId": "t1"}, nil)
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/admin/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+viewerToken(t, "p1"))
	ta.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestUploadVideoCreatesAndDispatchesJob(t *testing.T) {
	ta := newTestAPI(t)
	ta.store.titles["t1"] = &models.Title{ID: "t1", Name: "Some Movie"}

	body, contentType := multipartBody(t,
		map[string]string{"titleId": "t1"},
		map[string][]byte{
			"video":  []byte("raw video bytes"),
			"poster": []byte("poster bytes"),
		})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/admin/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	ta.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		JobID  string            `json:"jobId"`
		Status string            `json:"status"`
		Assets map[string]string `json:"assets"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.JobStatusQueued, resp.Status)
	assert.NotEmpty(t, resp.Assets["videoAssetId"])
	assert.NotEmpty(t, resp.Assets["posterAssetId"])

	// The upload returns before transcoding: the job is dispatched,
	// not processed inline.
	assert.Equal(t, []string{resp.JobID}, ta.dispatched)
	assert.Empty(t, ta.driver.processed)

	// The poster pointer moved immediately.
	assert.Equal(t, resp.Assets["posterAssetId"], ta.store.titlePointers["poster_asset_id"])

	// The stored video asset round-trips through the backend.
	asset := ta.store.assets[resp.Assets["videoAssetId"]]
	require.NotNil(t, asset)
	path, ok := ta.backend.LocalPath(asset.Key)
	require.True(t, ok)
	assert.FileExists(t, path)
}

func TestUploadCompanionsOnlySkipsJob(t *testing.T) {
	ta := newTestAPI(t)
	ta.store.titles["t1"] = &models.Title{ID: "t1"}

	body, contentType := multipartBody(t,
		map[string]string{"titleId": "t1"},
		map[string][]byte{"subtitle": []byte("WEBVTT\n")})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/admin/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	ta.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, ta.dispatched)
	assert.Empty(t, ta.store.jobsByID)
}

func TestUploadUnknownTitle(t *testing.T) {
	ta := newTestAPI(t)

	body, contentType := multipartBody(t,
		map[string]string{"titleId": "missing"},
		map[string][]byte{"video": []byte("data")})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/admin/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	ta.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProcessJobNotFound(t *testing.T) {
	ta := newTestAPI(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/admin/media/jobs/missing/process", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	ta.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProcessJobRepositoryNotFoundIsStill404(t *testing.T) {
	ta := newTestAPI(t)
	titleID := "t1"
	ta.store.jobsByID["job-1"] = &models.MediaJob{
		ID: "job-1", TitleID: &titleID, InputAssetID: "a1", Status: models.JobStatusQueued,
	}
	// A driver surfacing the repository's own sentinel must not be
	// mistaken for a processing failure.
	ta.driver.notFoundErr = fmt.Errorf("claim failed: %w", database.ErrNotFound)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/admin/media/jobs/job-1/process", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	ta.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code, w.Body.String())
}

func TestProcessJobReturnsFailedState(t *testing.T) {
	ta := newTestAPI(t)
	titleID := "t1"
	ta.store.jobsByID["job-1"] = &models.MediaJob{
		ID: "job-1", TitleID: &titleID, InputAssetID: "a1", Status: models.JobStatusQueued,
	}
	ta.driver.processErr = errors.New("ffmpeg exited with code 1")

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/admin/media/jobs/job-1/process", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	ta.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var job models.MediaJob
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "ffmpeg")
}

func TestGetJob(t *testing.T) {
	ta := newTestAPI(t)
	titleID := "t1"
	ta.store.jobsByID["job-1"] = &models.MediaJob{
		ID: "job-1", TitleID: &titleID, InputAssetID: "a1", Status: models.JobStatusReady,
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/admin/media/jobs/job-1", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	ta.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var job models.MediaJob
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, models.JobStatusReady, job.Status)
}

func TestGetJobCachesOnlyTerminalStates(t *testing.T) {
	ta := newTestAPI(t)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	jobCache, err := cache.NewCache(mr.Host(), mr.Server().Addr().Port, "", 0)
	require.NoError(t, err)
	defer jobCache.Close()
	ta.api.cache = jobCache

	titleID := "t1"
	ta.store.jobsByID["job-1"] = &models.MediaJob{
		ID: "job-1", TitleID: &titleID, InputAssetID: "a1", Status: models.JobStatusQueued,
	}

	getJob := func() models.MediaJob {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/api/admin/media/jobs/job-1", nil)
		req.Header.Set("Authorization", "Bearer "+adminToken(t))
		ta.router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		var job models.MediaJob
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
		return job
	}

	assert.Equal(t, models.JobStatusQueued, getJob().Status)

	// A detached worker finishes the job without touching this node's
	// cache; the next read must see the terminal row, not a stale one.
	ta.store.jobsByID["job-1"].Status = models.JobStatusReady
	assert.Equal(t, models.JobStatusReady, getJob().Status)

	// The terminal row is now cache-served.
	cached, err := jobCache.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, models.JobStatusReady, cached.Status)
}

func TestProgressUpsertAndFetch(t *testing.T) {
	ta := newTestAPI(t)
	token := viewerToken(t, "profile-1")

	payload := `{"assetId":"asset-1","positionSeconds":312,"durationSeconds":5400}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/progress", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	ta.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Re-reporting replaces the position for the same (profile, asset).
	payload = `{"assetId":"asset-1","positionSeconds":320,"durationSeconds":5400}`
	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/api/progress", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	ta.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/api/progress/asset-1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	ta.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var progress models.WatchProgress
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &progress))
	assert.Equal(t, 320, progress.PositionSeconds)
	assert.Equal(t, "profile-1", progress.ProfileID)

	// Another profile sees nothing.
	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/api/progress/asset-1", nil)
	req.Header.Set("Authorization", "Bearer "+viewerToken(t, "profile-2"))
	ta.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProgressRejectsNegativeValues(t *testing.T) {
	ta := newTestAPI(t)

	payload := `{"assetId":"asset-1","positionSeconds":-5,"durationSeconds":100}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/progress", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+viewerToken(t, "p1"))
	ta.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetPlaybackResolvesGatewayURL(t *testing.T) {
	ta := newTestAPI(t)
	ta.store.assets["asset-1"] = &models.Asset{
		ID:      "asset-1",
		Kind:    models.AssetKindHLSMaster,
		Backend: models.BackendLocal,
		Key:     "hls/job-1/master.m3u8",
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/playback/asset-1", nil)
	req.Header.Set("Authorization", "Bearer "+viewerToken(t, "p1"))
	ta.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "/api/media/hls/job-1/master.m3u8", resp["url"])
}

func TestGetPlaybackUnknownAsset(t *testing.T) {
	ta := newTestAPI(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/playback/missing", nil)
	req.Header.Set("Authorization", "Bearer "+viewerToken(t, "p1"))
	ta.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProgressRequiresAuth(t *testing.T) {
	ta := newTestAPI(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/progress", bytes.NewBufferString(`{"assetId":"a"}`))
	req.Header.Set("Content-Type", "application/json")
	ta.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
