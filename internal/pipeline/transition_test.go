package pipeline

import (
	"testing"

	"github.com/kiranshivaraju/datapump/internal/apperrors"
	"github.com/kiranshivaraju/datapump/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	complete  = Observation{Status: models.JobStatusComplete}
	executing = Observation{Status: models.JobStatusExecuting}
	failed    = Observation{Status: models.JobStatusFailed}
)

func TestTransition(t *testing.T) {
	full := Shape{HasCache: true, HasAuxiliary: true}
	bare := Shape{}

	tests := []struct {
		name  string
		step  models.Step
		obs   Observation
		shape Shape
		want  Decision
	}{
		{
			name: "starting submits dataset and primary",
			step: models.StepStarting,
			want: Decision{
				Next:    models.StepCreatingPrimaryAsset,
				Status:  models.JobStatusExecuting,
				Effects: []Effect{EffectCreateDataset, EffectCreatePrimary},
			},
		},
		{
			name: "primary pending stays",
			step: models.StepCreatingPrimaryAsset, obs: executing, shape: full,
			want: Decision{Next: models.StepCreatingPrimaryAsset, Status: models.JobStatusExecuting},
		},
		{
			name: "primary saved with cache",
			step: models.StepCreatingPrimaryAsset, obs: complete, shape: full,
			want: Decision{Next: models.StepCreatingCacheAsset, Status: models.JobStatusExecuting, Effects: []Effect{EffectCreateCache}},
		},
		{
			name: "primary saved without cache",
			step: models.StepCreatingPrimaryAsset, obs: complete, shape: bare,
			want: Decision{Next: models.StepMarkingLatest, Status: models.JobStatusExecuting, Effects: []Effect{EffectSetLatest}},
		},
		{
			name: "primary failed freezes step",
			step: models.StepCreatingPrimaryAsset, obs: failed, shape: full,
			want: Decision{Next: models.StepCreatingPrimaryAsset, Status: models.JobStatusFailed},
		},
		{
			name: "cache pending stays",
			step: models.StepCreatingCacheAsset, obs: executing, shape: full,
			want: Decision{Next: models.StepCreatingCacheAsset, Status: models.JobStatusExecuting},
		},
		{
			name: "cache saved marks latest",
			step: models.StepCreatingCacheAsset, obs: complete, shape: full,
			want: Decision{Next: models.StepMarkingLatest, Status: models.JobStatusExecuting, Effects: []Effect{EffectSetLatest}},
		},
		{
			name: "cache failed",
			step: models.StepCreatingCacheAsset, obs: failed, shape: full,
			want: Decision{Next: models.StepCreatingCacheAsset, Status: models.JobStatusFailed},
		},
		{
			name: "latest with auxiliary",
			step: models.StepMarkingLatest, obs: complete, shape: full,
			want: Decision{Next: models.StepCreatingAuxiliaryAssets, Status: models.JobStatusExecuting, Effects: []Effect{EffectCreateAuxiliary}},
		},
		{
			name: "latest without auxiliary completes",
			step: models.StepMarkingLatest, obs: complete, shape: bare,
			want: Decision{Next: models.StepMarkingLatest, Status: models.JobStatusComplete},
		},
		{
			name: "latest mismatch fails",
			step: models.StepMarkingLatest, obs: failed, shape: bare,
			want: Decision{Next: models.StepMarkingLatest, Status: models.JobStatusFailed},
		},
		{
			name: "auxiliary pending stays",
			step: models.StepCreatingAuxiliaryAssets, obs: executing, shape: full,
			want: Decision{Next: models.StepCreatingAuxiliaryAssets, Status: models.JobStatusExecuting},
		},
		{
			name: "auxiliary saved completes",
			step: models.StepCreatingAuxiliaryAssets, obs: complete, shape: full,
			want: Decision{Next: models.StepCreatingAuxiliaryAssets, Status: models.JobStatusComplete},
		},
		{
			name: "auxiliary failed",
			step: models.StepCreatingAuxiliaryAssets, obs: failed, shape: full,
			want: Decision{Next: models.StepCreatingAuxiliaryAssets, Status: models.JobStatusFailed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Transition(tt.step, tt.obs, tt.shape)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransition_NeverMovesBackwards(t *testing.T) {
	shapes := []Shape{{}, {HasCache: true}, {HasAuxiliary: true}, {HasCache: true, HasAuxiliary: true}}
	observations := []Observation{complete, executing, failed}

	for _, step := range stepOrderForTest {
		for _, shape := range shapes {
			for _, obs := range observations {
				d, err := Transition(step, obs, shape)
				if err != nil {
					continue
				}
				assert.GreaterOrEqual(t, d.Next.Order(), step.Order(), "step=%s obs=%s", step, obs.Status)
			}
		}
	}
}

var stepOrderForTest = []models.Step{
	models.StepStarting,
	models.StepCreatingPrimaryAsset,
	models.StepCreatingCacheAsset,
	models.StepMarkingLatest,
	models.StepCreatingAuxiliaryAssets,
}

func TestTransition_InvalidInputs(t *testing.T) {
	_, err := Transition("unknown", complete, Shape{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)

	_, err = Transition(models.StepCreatingPrimaryAsset, Observation{Status: "weird"}, Shape{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)

	_, err = Transition(models.StepMarkingLatest, executing, Shape{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name     string
		statuses []models.AssetStatus
		want     models.JobStatus
	}{
		{"one pending", []models.AssetStatus{"saved", "pending", "saved"}, models.JobStatusExecuting},
		{"one failed", []models.AssetStatus{"saved", "failed", "saved"}, models.JobStatusFailed},
		{"failed beats pending", []models.AssetStatus{"pending", "failed"}, models.JobStatusFailed},
		{"all saved", []models.AssetStatus{"saved", "saved"}, models.JobStatusComplete},
		{"none", nil, models.JobStatusComplete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Aggregate(tt.statuses)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAggregate_UnknownStatus(t *testing.T) {
	_, err := Aggregate([]models.AssetStatus{"saved", "archived"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
	assert.Contains(t, err.Error(), "archived")
}

func TestAssetStatus(t *testing.T) {
	assert.Equal(t, models.JobStatusComplete, AssetStatus(models.AssetStatusSaved))
	assert.Equal(t, models.JobStatusExecuting, AssetStatus(models.AssetStatusPending))
	assert.Equal(t, models.JobStatusFailed, AssetStatus(models.AssetStatusFailed))
	assert.Equal(t, models.JobStatusFailed, AssetStatus("deleted"))
}
