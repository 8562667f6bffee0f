package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/datapump/internal/apperrors"
	"github.com/kiranshivaraju/datapump/internal/store"
	"github.com/kiranshivaraju/datapump/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- mocks ---

type mockJobs struct {
	analysis      *models.AnalysisJob
	versionUpdate *models.VersionUpdateJob
	job           models.Job
	status        models.JobStatus
	err           error
	gotID         uuid.UUID
}

func (m *mockJobs) SubmitAnalysis(_ context.Context, p models.AnalysisJob) (models.Job, error) {
	m.analysis = &p
	return m.job, m.err
}

func (m *mockJobs) SubmitVersionUpdate(_ context.Context, p models.VersionUpdateJob) (models.Job, error) {
	m.versionUpdate = &p
	return m.job, m.err
}

func (m *mockJobs) Get(_ context.Context, id uuid.UUID) (models.Job, error) {
	m.gotID = id
	return m.job, m.err
}

func (m *mockJobs) Status(_ context.Context, id uuid.UUID) (models.JobStatus, error) {
	m.gotID = id
	return m.status, m.err
}

func (m *mockJobs) Tick(_ context.Context, id uuid.UUID) (models.Job, error) {
	m.gotID = id
	return m.job, m.err
}

type mockSyncLister struct {
	configs []*models.SyncConfig
	filter  store.SyncFilter
	err     error
}

func (m *mockSyncLister) ListSyncConfigs(_ context.Context, f store.SyncFilter) ([]*models.SyncConfig, error) {
	m.filter = f
	return m.configs, m.err
}

type mockKeyAdmin struct {
	created   *models.APIKey
	keys      []*models.APIKey
	revoked   uuid.UUID
	revokeErr error
}

func (m *mockKeyAdmin) CreateAPIKey(_ context.Context, k *models.APIKey) error {
	m.created = k
	return nil
}

func (m *mockKeyAdmin) ListAPIKeys(_ context.Context) ([]*models.APIKey, error) {
	return m.keys, nil
}

func (m *mockKeyAdmin) RevokeAPIKey(_ context.Context, id uuid.UUID) error {
	m.revoked = id
	return m.revokeErr
}

// --- helpers ---

// serve routes a request through chi so URL params resolve.
func serve(method, pattern, target string, h http.HandlerFunc, body any) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Method(method, pattern, h)

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		json.NewEncoder(&buf).Encode(b)
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	env := struct {
		Data any `json:"data"`
	}{Data: v}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env), rec.Body.String())
}

func decodeErr(t *testing.T, rec *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env.Error.Code, env.Error.Message
}

// --- submit ---

func TestSubmitAnalysis_Accepted(t *testing.T) {
	job := models.NewAnalysisJob(models.AnalysisJob{Version: "v2"})
	svc := &mockJobs{job: job}

	rec := serve(http.MethodPost, "/api/v1/jobs/analysis", "/api/v1/jobs/analysis",
		NewSubmitAnalysisHandler(svc), map[string]any{
			"table":              map[string]any{"dataset": "wdpa", "version": "v202010", "analysis": "glad"},
			"version":            "v20201012",
			"features_1x1":       "s3://bucket/wdpa/1x1.tsv",
			"geotrellis_version": "1.2.1",
			"change_only":        true,
			"sync":               true,
			"cluster_id":         "j-ignored",
		})

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, svc.analysis)
	assert.Equal(t, models.AnalysisGLAD, svc.analysis.Table.Analysis)
	assert.Equal(t, "s3://bucket/wdpa/1x1.tsv", svc.analysis.FeaturesURI)
	assert.Equal(t, "1.2.1", svc.analysis.JarVersion)
	assert.True(t, svc.analysis.ChangeOnly)
	assert.Empty(t, svc.analysis.ClusterID)

	var got models.Job
	decodeData(t, rec, &got)
	assert.Equal(t, job.ID, got.ID)
}

func TestSubmitAnalysis_InvalidJSON(t *testing.T) {
	svc := &mockJobs{}
	rec := serve(http.MethodPost, "/j", "/j", NewSubmitAnalysisHandler(svc), "{not json")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	code, _ := decodeErr(t, rec)
	assert.Equal(t, "INVALID_REQUEST", code)
	assert.Nil(t, svc.analysis)
}

func TestSubmitAnalysis_ValidationError(t *testing.T) {
	svc := &mockJobs{err: apperrors.Validation("analysis", "table.dataset is required")}
	rec := serve(http.MethodPost, "/j", "/j", NewSubmitAnalysisHandler(svc), map[string]any{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	code, msg := decodeErr(t, rec)
	assert.Equal(t, "INVALID_REQUEST", code)
	assert.Equal(t, "table.dataset is required", msg)
}

func TestSubmitVersionUpdate_Accepted(t *testing.T) {
	svc := &mockJobs{job: models.NewVersionUpdateJob(models.VersionUpdateJob{Dataset: "ds", Version: "v1"})}

	rec := serve(http.MethodPost, "/j", "/j", NewSubmitVersionUpdateHandler(svc), map[string]any{
		"dataset": "umd_glad_alerts",
		"version": "v20201012",
		"tile_set_parameters": map[string]any{
			"source_uri": []string{"s3://bucket/tiles.geojson"},
			"grid":       "10/40000",
			"data_type":  "uint16",
		},
		"tile_cache_parameters":   map[string]any{"max_zoom": 12},
		"aux_tile_set_parameters": []map[string]any{{"grid": "90/27008", "calc": "A > 0"}},
	})

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, svc.versionUpdate)
	assert.Equal(t, "umd_glad_alerts", svc.versionUpdate.Dataset)
	assert.Equal(t, "10/40000", svc.versionUpdate.TileSet.Grid)
	require.NotNil(t, svc.versionUpdate.TileCache)
	assert.Equal(t, 12, svc.versionUpdate.TileCache.MaxZoom)
	require.Len(t, svc.versionUpdate.AuxTileSets, 1)
	assert.Equal(t, "A > 0", svc.versionUpdate.AuxTileSets[0].Calc)
}

// --- get / status / tick ---

func TestGetJob(t *testing.T) {
	job := models.NewAnalysisJob(models.AnalysisJob{Version: "v2"})
	svc := &mockJobs{job: job}

	rec := serve(http.MethodGet, "/api/v1/jobs/{jobID}", "/api/v1/jobs/"+job.ID.String(), NewGetJobHandler(svc), nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, job.ID, svc.gotID)
}

func TestGetJob_InvalidID(t *testing.T) {
	rec := serve(http.MethodGet, "/api/v1/jobs/{jobID}", "/api/v1/jobs/not-a-uuid", NewGetJobHandler(&mockJobs{}), nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJob_NotFound(t *testing.T) {
	id := uuid.New()
	svc := &mockJobs{err: apperrors.NotFound("job", id.String())}

	rec := serve(http.MethodGet, "/api/v1/jobs/{jobID}", "/api/v1/jobs/"+id.String(), NewGetJobHandler(svc), nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	code, _ := decodeErr(t, rec)
	assert.Equal(t, "NOT_FOUND", code)
}

func TestJobStatus(t *testing.T) {
	id := uuid.New()
	svc := &mockJobs{status: models.JobStatusExecuting}

	rec := serve(http.MethodGet, "/api/v1/jobs/{jobID}/status", "/api/v1/jobs/"+id.String()+"/status", NewJobStatusHandler(svc), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]string
	decodeData(t, rec, &got)
	assert.Equal(t, "executing", got["status"])
	assert.Equal(t, id.String(), got["id"])
}

func TestTickJob_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"halted", apperrors.InvalidState("jobs.tick", "job is halted"), http.StatusConflict, "INVALID_STATE"},
		{"submission", apperrors.Submission("emr.runJobFlow", errors.New("throttled")), http.StatusBadGateway, "SUBMISSION_FAILED"},
		{"upstream", apperrors.ServiceResponse("dataapi.getAsset", errors.New("502")), http.StatusBadGateway, "UPSTREAM_ERROR"},
		{"internal", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := uuid.New()
			rec := serve(http.MethodPost, "/api/v1/jobs/{jobID}/tick", "/api/v1/jobs/"+id.String()+"/tick",
				NewTickJobHandler(&mockJobs{err: tt.err}), nil)

			assert.Equal(t, tt.wantCode, rec.Code)
			code, msg := decodeErr(t, rec)
			assert.Equal(t, tt.wantErr, code)
			if tt.wantCode == http.StatusInternalServerError {
				assert.NotContains(t, msg, "boom")
			}
		})
	}
}

func TestTickJob_Success(t *testing.T) {
	job := models.NewAnalysisJob(models.AnalysisJob{Version: "v2"})
	job.Status = models.JobStatusExecuting
	svc := &mockJobs{job: job}

	rec := serve(http.MethodPost, "/api/v1/jobs/{jobID}/tick", "/api/v1/jobs/"+job.ID.String()+"/tick", NewTickJobHandler(svc), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Job
	decodeData(t, rec, &got)
	assert.Equal(t, models.JobStatusExecuting, got.Status)
}

// --- sync configs ---

func TestListSyncConfigs_Filters(t *testing.T) {
	lister := &mockSyncLister{configs: []*models.SyncConfig{{Dataset: "geostore", SyncType: models.SyncTypeRWAreas}}}

	rec := serve(http.MethodGet, "/s", "/s?sync_type=rw_areas&dataset=geostore&limit=10", NewListSyncConfigsHandler(lister), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, store.SyncFilter{SyncType: models.SyncTypeRWAreas, Dataset: "geostore", Limit: 10}, lister.filter)
	var got []models.SyncConfig
	decodeData(t, rec, &got)
	require.Len(t, got, 1)
	assert.Equal(t, "geostore", got[0].Dataset)
}

func TestListSyncConfigs_EmptyIsArray(t *testing.T) {
	rec := serve(http.MethodGet, "/s", "/s", NewListSyncConfigsHandler(&mockSyncLister{}), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[],"meta":{"count":0}}`, rec.Body.String())
}

func TestListSyncConfigs_BadLimit(t *testing.T) {
	lister := &mockSyncLister{}
	rec := serve(http.MethodGet, "/s", "/s?limit=zero", NewListSyncConfigsHandler(lister), nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// --- keys ---

func TestCreateKey_ReturnsRawKeyOnce(t *testing.T) {
	admin := &mockKeyAdmin{}

	rec := serve(http.MethodPost, "/k", "/k", NewCreateKeyHandler(admin), map[string]any{
		"name":   "ci",
		"scopes": []string{"jobs:write"},
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	var got struct {
		ID        uuid.UUID `json:"id"`
		Key       string    `json:"key"`
		KeyPrefix string    `json:"key_prefix"`
		Scopes    []string  `json:"scopes"`
	}
	decodeData(t, rec, &got)

	require.NotNil(t, admin.created)
	assert.Equal(t, admin.created.ID, got.ID)
	assert.Equal(t, got.Key[:8], got.KeyPrefix)
	assert.Equal(t, []string{"jobs:write"}, got.Scopes)
	assert.NotContains(t, rec.Body.String(), admin.created.KeyHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(admin.created.KeyHash), []byte(got.Key)))
}

func TestCreateKey_Validation(t *testing.T) {
	tests := map[string]any{
		"missing name":  map[string]any{"scopes": []string{"jobs:read"}},
		"unknown scope": map[string]any{"name": "x", "scopes": []string{"root"}},
		"bad json":      "{",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			admin := &mockKeyAdmin{}
			rec := serve(http.MethodPost, "/k", "/k", NewCreateKeyHandler(admin), body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Nil(t, admin.created)
		})
	}
}

func TestListKeys_EmptyIsArray(t *testing.T) {
	rec := serve(http.MethodGet, "/k", "/k", NewListKeysHandler(&mockKeyAdmin{}), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[]}`, rec.Body.String())
}

func TestRevokeKey(t *testing.T) {
	id := uuid.New()
	admin := &mockKeyAdmin{}

	rec := serve(http.MethodDelete, "/k/{keyID}", "/k/"+id.String(), NewRevokeKeyHandler(admin), nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, id, admin.revoked)
}

func TestRevokeKey_NotFound(t *testing.T) {
	admin := &mockKeyAdmin{revokeErr: store.ErrNotFound}

	rec := serve(http.MethodDelete, "/k/{keyID}", "/k/"+uuid.NewString(), NewRevokeKeyHandler(admin), nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
