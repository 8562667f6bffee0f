package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/datapump/internal/apperrors"
	"github.com/kiranshivaraju/datapump/pkg/models"
)

// AssetService is the dataset/asset management collaborator. All methods
// return errors matching apperrors.ErrServiceResponse on unexpected
// responses.
type AssetService interface {
	// The create calls are idempotent: an existing dataset, version or
	// asset is not an error, so a step whose effects partly ran can be
	// retried.
	CreateDataset(ctx context.Context, dataset string) error
	CreateVersion(ctx context.Context, dataset, version string, creationOptions any) error
	CreateAuxAsset(ctx context.Context, dataset, version string, req models.AssetRequest) (string, error)
	GetAsset(ctx context.Context, dataset, version, assetType string) (models.Asset, error)
	GetAssets(ctx context.Context, dataset, version string) ([]models.Asset, error)
	SetLatest(ctx context.Context, dataset, version string) error
	GetLatestVersion(ctx context.Context, dataset string) (string, error)
}

// Engine advances version-update jobs. It holds no per-job state.
type Engine struct {
	assets AssetService
}

func NewEngine(assets AssetService) *Engine {
	return &Engine{assets: assets}
}

// Advance performs exactly one transition and returns the updated job.
// Terminal jobs are returned unchanged without external calls. On error the
// input job is returned unchanged so the next call retries the same step.
func (e *Engine) Advance(ctx context.Context, job models.Job) (models.Job, error) {
	if job.Kind != models.JobKindVersionUpdate || job.VersionUpdate == nil {
		return job, apperrors.InvalidState("pipeline.advance",
			fmt.Sprintf("job %s of kind %s has no version update payload", job.ID, job.Kind))
	}
	if job.Status.IsTerminal() {
		return job, nil
	}

	v := job.VersionUpdate
	logger := slog.With("job_id", job.ID, "dataset", v.Dataset, "version", v.Version, "step", v.Step)

	obs, err := e.observe(ctx, v)
	if err != nil {
		return job, err
	}

	d, err := Transition(v.Step, obs, shapeOf(v))
	if err != nil {
		return job, err
	}

	for _, effect := range d.Effects {
		if err := e.apply(ctx, effect, v, obs); err != nil {
			logger.Error("pipeline effect failed", "effect", effect, "error", err)
			return job, err
		}
	}

	next := job.Clone()
	next.VersionUpdate.Step = d.Next
	next.Status = d.Status

	if d.Next != v.Step || d.Status != job.Status {
		logger.Info("pipeline advanced", "next_step", d.Next, "status", d.Status)
	}
	return next, nil
}

// observe performs the single status read for the current step.
func (e *Engine) observe(ctx context.Context, v *models.VersionUpdateJob) (Observation, error) {
	switch v.Step {
	case models.StepStarting:
		return Observation{}, nil

	case models.StepCreatingPrimaryAsset:
		asset, err := e.assets.GetAsset(ctx, v.Dataset, v.Version, models.AssetTypeRasterTileSet)
		if err != nil {
			return Observation{}, err
		}
		return Observation{Status: AssetStatus(asset.Status), PrimaryAssetID: asset.ID}, nil

	case models.StepCreatingCacheAsset:
		asset, err := e.assets.GetAsset(ctx, v.Dataset, v.Version, models.AssetTypeRasterTileCache)
		if err != nil {
			return Observation{}, err
		}
		return Observation{Status: AssetStatus(asset.Status)}, nil

	case models.StepMarkingLatest:
		latest, err := e.assets.GetLatestVersion(ctx, v.Dataset)
		if err != nil {
			return Observation{}, err
		}
		if latest == v.Version {
			return Observation{Status: models.JobStatusComplete}, nil
		}
		return Observation{Status: models.JobStatusFailed}, nil

	case models.StepCreatingAuxiliaryAssets:
		assets, err := e.assets.GetAssets(ctx, v.Dataset, v.Version)
		if err != nil {
			return Observation{}, err
		}
		statuses := make([]models.AssetStatus, len(assets))
		for i, a := range assets {
			statuses[i] = a.Status
		}
		status, err := Aggregate(statuses)
		if err != nil {
			return Observation{}, err
		}
		return Observation{Status: status}, nil

	default:
		return Observation{}, apperrors.InvalidState("pipeline.observe", fmt.Sprintf("unknown step %q", v.Step))
	}
}

func (e *Engine) apply(ctx context.Context, effect Effect, v *models.VersionUpdateJob, obs Observation) error {
	switch effect {
	case EffectCreateDataset:
		return e.assets.CreateDataset(ctx, v.Dataset)

	case EffectCreatePrimary:
		return e.assets.CreateVersion(ctx, v.Dataset, v.Version, primaryOptions(v.TileSet))

	case EffectCreateCache:
		if obs.PrimaryAssetID == "" {
			return apperrors.InvalidState("pipeline.createCache", "primary asset has no id")
		}
		_, err := e.assets.CreateAuxAsset(ctx, v.Dataset, v.Version, cacheRequest(obs.PrimaryAssetID, *v.TileCache))
		return err

	case EffectSetLatest:
		return e.assets.SetLatest(ctx, v.Dataset, v.Version)

	case EffectCreateAuxiliary:
		for _, params := range v.AuxTileSets {
			id, err := e.assets.CreateAuxAsset(ctx, v.Dataset, v.Version, auxRequest(params))
			if err != nil {
				return err
			}
			slog.Debug("auxiliary asset requested", "dataset", v.Dataset, "version", v.Version, "asset_id", id)
		}
		return nil

	default:
		return apperrors.InvalidState("pipeline.apply", fmt.Sprintf("unknown effect %q", effect))
	}
}
