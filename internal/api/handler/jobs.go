package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/datapump/internal/api/response"
	"github.com/kiranshivaraju/datapump/pkg/models"
)

// JobService is the job API the handlers depend on.
type JobService interface {
	SubmitAnalysis(ctx context.Context, payload models.AnalysisJob) (models.Job, error)
	SubmitVersionUpdate(ctx context.Context, payload models.VersionUpdateJob) (models.Job, error)
	Get(ctx context.Context, id uuid.UUID) (models.Job, error)
	Status(ctx context.Context, id uuid.UUID) (models.JobStatus, error)
	Tick(ctx context.Context, id uuid.UUID) (models.Job, error)
}

type analysisRequest struct {
	Table       models.AnalysisTable `json:"table"`
	Version     string               `json:"version"`
	FeaturesURI string               `json:"features_1x1"`
	FeatureType string               `json:"feature_type"`
	JarVersion  string               `json:"geotrellis_version"`
	ChangeOnly  bool                 `json:"change_only"`
	Sync        bool                 `json:"sync"`
}

type versionUpdateRequest struct {
	Dataset     string                      `json:"dataset"`
	Version     string                      `json:"version"`
	TileSet     models.TileSetParameters    `json:"tile_set_parameters"`
	TileCache   *models.TileCacheParameters `json:"tile_cache_parameters"`
	AuxTileSets []models.TileSetParameters  `json:"aux_tile_set_parameters"`
}

// NewSubmitAnalysisHandler returns an http.HandlerFunc for
// POST /api/v1/jobs/analysis.
func NewSubmitAnalysisHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req analysisRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		job, err := svc.SubmitAnalysis(r.Context(), models.AnalysisJob{
			Table:       req.Table,
			Version:     req.Version,
			FeaturesURI: req.FeaturesURI,
			FeatureType: req.FeatureType,
			JarVersion:  req.JarVersion,
			ChangeOnly:  req.ChangeOnly,
			Sync:        req.Sync,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Accepted(w, job)
	}
}

// NewSubmitVersionUpdateHandler returns an http.HandlerFunc for
// POST /api/v1/jobs/version-update.
func NewSubmitVersionUpdateHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req versionUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		job, err := svc.SubmitVersionUpdate(r.Context(), models.VersionUpdateJob{
			Dataset:     req.Dataset,
			Version:     req.Version,
			TileSet:     req.TileSet,
			TileCache:   req.TileCache,
			AuxTileSets: req.AuxTileSets,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Accepted(w, job)
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobID(w, r)
		if !ok {
			return
		}
		job, err := svc.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, job)
	}
}

// NewJobStatusHandler returns an http.HandlerFunc for
// GET /api/v1/jobs/{jobID}/status.
func NewJobStatusHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobID(w, r)
		if !ok {
			return
		}
		status, err := svc.Status(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, map[string]any{"id": id, "status": status})
	}
}

// NewTickJobHandler returns an http.HandlerFunc for
// POST /api/v1/jobs/{jobID}/tick. It advances the job by one step outside
// the scheduler.
func NewTickJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobID(w, r)
		if !ok {
			return
		}
		job, err := svc.Tick(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, job)
	}
}

func jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}
