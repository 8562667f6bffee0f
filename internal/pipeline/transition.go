// Package pipeline drives version-update jobs through the asset service,
// one step per call.
package pipeline

import (
	"fmt"

	"github.com/kiranshivaraju/datapump/internal/apperrors"
	"github.com/kiranshivaraju/datapump/pkg/models"
)

// Effect is an external call to perform after a transition is decided.
type Effect string

const (
	EffectCreateDataset   Effect = "create_dataset"
	EffectCreatePrimary   Effect = "create_primary"
	EffectCreateCache     Effect = "create_cache"
	EffectSetLatest       Effect = "set_latest"
	EffectCreateAuxiliary Effect = "create_auxiliary"
)

// Observation is what one status read found for the current step.
// Status is complete, executing, or failed. It is unused at StepStarting.
type Observation struct {
	Status models.JobStatus

	// PrimaryAssetID is the primary tile set, read at StepCreatingPrimaryAsset.
	PrimaryAssetID string
}

// Shape is the part of a job's parameters that decides which optional steps
// it passes through.
type Shape struct {
	HasCache     bool
	HasAuxiliary bool
}

func shapeOf(v *models.VersionUpdateJob) Shape {
	return Shape{
		HasCache:     v.TileCache != nil,
		HasAuxiliary: len(v.AuxTileSets) > 0,
	}
}

// Decision is the outcome of one transition. Effects run in order; if any
// fails the whole decision is discarded.
type Decision struct {
	Next    models.Step
	Status  models.JobStatus
	Effects []Effect
}

// Transition decides the next step and status of a non-terminal job at step
// given what was observed. It performs no I/O.
func Transition(step models.Step, obs Observation, shape Shape) (Decision, error) {
	if step == models.StepStarting {
		return Decision{
			Next:    models.StepCreatingPrimaryAsset,
			Status:  models.JobStatusExecuting,
			Effects: []Effect{EffectCreateDataset, EffectCreatePrimary},
		}, nil
	}

	if !step.Valid() {
		return Decision{}, apperrors.InvalidState("pipeline.transition", fmt.Sprintf("unknown step %q", step))
	}

	switch obs.Status {
	case models.JobStatusExecuting:
		// Version-pointer equality has no pending state.
		if step == models.StepMarkingLatest {
			return Decision{}, apperrors.InvalidState("pipeline.transition",
				"latest version check cannot be pending")
		}
		return stay(step), nil
	case models.JobStatusFailed:
		return Decision{Next: step, Status: models.JobStatusFailed}, nil
	case models.JobStatusComplete:
	default:
		return Decision{}, apperrors.InvalidState("pipeline.transition",
			fmt.Sprintf("unknown observed status %q at step %s", obs.Status, step))
	}

	switch step {
	case models.StepCreatingPrimaryAsset:
		if shape.HasCache {
			return enter(models.StepCreatingCacheAsset, EffectCreateCache), nil
		}
		return enter(models.StepMarkingLatest, EffectSetLatest), nil
	case models.StepCreatingCacheAsset:
		return enter(models.StepMarkingLatest, EffectSetLatest), nil
	case models.StepMarkingLatest:
		if shape.HasAuxiliary {
			return enter(models.StepCreatingAuxiliaryAssets, EffectCreateAuxiliary), nil
		}
		return Decision{Next: step, Status: models.JobStatusComplete}, nil
	default:
		return Decision{Next: step, Status: models.JobStatusComplete}, nil
	}
}

func stay(step models.Step) Decision {
	return Decision{Next: step, Status: models.JobStatusExecuting}
}

func enter(step models.Step, effects ...Effect) Decision {
	return Decision{Next: step, Status: models.JobStatusExecuting, Effects: effects}
}

// AssetStatus maps a single asset's status onto a job status. Anything other
// than saved or pending counts as failed.
func AssetStatus(s models.AssetStatus) models.JobStatus {
	switch s {
	case models.AssetStatusSaved:
		return models.JobStatusComplete
	case models.AssetStatusPending:
		return models.JobStatusExecuting
	default:
		return models.JobStatusFailed
	}
}

// Aggregate combines the statuses of assets that are built in parallel: any
// failed asset fails the whole, otherwise any pending asset keeps it
// executing, otherwise all must be saved. A status outside the known set is
// an invalid state.
func Aggregate(statuses []models.AssetStatus) (models.JobStatus, error) {
	var pending bool
	for _, s := range statuses {
		switch s {
		case models.AssetStatusFailed:
			return models.JobStatusFailed, nil
		case models.AssetStatusPending:
			pending = true
		}
	}
	if pending {
		return models.JobStatusExecuting, nil
	}
	for _, s := range statuses {
		if s != models.AssetStatusSaved {
			return "", apperrors.InvalidState("pipeline.aggregate",
				fmt.Sprintf("undefined asset status in %v", statuses))
		}
	}
	return models.JobStatusComplete, nil
}
