// Package cluster submits one-shot analysis jobs to an elastic compute
// cluster and interprets the cluster's terminal state.
package cluster

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/datapump/internal/apperrors"
	"github.com/kiranshivaraju/datapump/internal/launchplan"
	"github.com/kiranshivaraju/datapump/pkg/models"
)

// Cluster states and state-change reasons reported by the cluster service.
const (
	StateTerminated           = "TERMINATED"
	StateTerminatedWithErrors = "TERMINATED_WITH_ERRORS"
	ReasonAllStepsCompleted   = "ALL_STEPS_COMPLETED"
)

// State is a snapshot of a running cluster.
type State struct {
	State  string
	Reason string
}

// Service is the compute-cluster collaborator.
type Service interface {
	// Submit launches a cluster running steps and returns its handle.
	// Errors match apperrors.ErrSubmission.
	Submit(ctx context.Context, plan launchplan.Plan, steps []launchplan.Step) (string, error)
	// Describe returns the current state of the cluster behind handle.
	Describe(ctx context.Context, handle string) (State, error)
}

// WorkerSizer computes the worker count for an input artifact.
type WorkerSizer interface {
	WorkerCountFor(ctx context.Context, featuresURI string, analysis models.Analysis, changeOnly bool) (int, error)
}

// PlanBuilder builds the launch plan for a worker count.
type PlanBuilder interface {
	Build(workerCount int, jobName string, meta launchplan.Meta) launchplan.Plan
}

// StepConfig locates the analysis jar and the results bucket.
type StepConfig struct {
	ResultBucket string
	JarPath      string
}

// Engine drives analysis jobs. It holds no per-job state: every call takes
// a job and returns the updated copy.
type Engine struct {
	sizer    WorkerSizer
	builder  PlanBuilder
	clusters Service
	steps    StepConfig
}

func NewEngine(sizer WorkerSizer, builder PlanBuilder, clusters Service, steps StepConfig) *Engine {
	return &Engine{
		sizer:    sizer,
		builder:  builder,
		clusters: clusters,
		steps:    steps,
	}
}

// Start sizes, plans, and submits a pending job, returning it executing with
// its cluster handle set. On error the input job is returned unchanged, still
// pending, so the caller may resubmit.
func (e *Engine) Start(ctx context.Context, job models.Job) (models.Job, error) {
	a, err := payload(job)
	if err != nil {
		return job, err
	}
	if job.Status != models.JobStatusPending {
		return job, apperrors.InvalidState("cluster.start",
			fmt.Sprintf("job %s is %s, want %s", job.ID, job.Status, models.JobStatusPending))
	}

	logger := slog.With("job_id", job.ID, "dataset", a.Table.Dataset, "analysis", a.Table.Analysis)

	workers, err := e.sizer.WorkerCountFor(ctx, a.FeaturesURI, a.Table.Analysis, a.ChangeOnly)
	if err != nil {
		return job, err
	}

	name := JobName(job)
	plan := e.builder.Build(workers, name, launchplan.Meta{Tags: map[string]string{
		"Analysis": string(a.Table.Analysis),
		"Dataset":  a.Table.Dataset,
	}})
	step := e.Step(*a)

	handle, err := e.clusters.Submit(ctx, plan, []launchplan.Step{step})
	if err != nil {
		logger.Error("cluster submission failed", "error", err)
		return job, err
	}

	next := job.Clone()
	next.Analysis.ClusterID = handle
	next.Status = models.JobStatusExecuting
	logger.Info("cluster submitted", "cluster_id", handle, "workers", workers)
	return next, nil
}

// PollStatus reads the cluster state of an executing job. Terminal jobs are
// returned as-is without an external call.
func (e *Engine) PollStatus(ctx context.Context, job models.Job) (models.Job, error) {
	a, err := payload(job)
	if err != nil {
		return job, err
	}
	if job.Status.IsTerminal() {
		return job, nil
	}
	if job.Status != models.JobStatusExecuting || a.ClusterID == "" {
		return job, apperrors.InvalidState("cluster.pollStatus",
			fmt.Sprintf("job %s is %s without a cluster handle", job.ID, job.Status))
	}

	state, err := e.clusters.Describe(ctx, a.ClusterID)
	if err != nil {
		return job, err
	}

	status := Interpret(state)
	if status == job.Status {
		return job, nil
	}

	next := job.Clone()
	next.Status = status
	slog.Info("cluster finished",
		"job_id", job.ID,
		"cluster_id", a.ClusterID,
		"state", state.State,
		"reason", state.Reason,
		"status", status,
	)
	return next, nil
}

// Interpret maps a cluster state onto a job status. Only a cluster that
// terminated after completing all steps is a success; any other terminal
// state is a failure and everything else is still executing.
func Interpret(s State) models.JobStatus {
	switch s.State {
	case StateTerminated:
		if s.Reason == ReasonAllStepsCompleted {
			return models.JobStatusComplete
		}
		return models.JobStatusFailed
	case StateTerminatedWithErrors:
		return models.JobStatusFailed
	default:
		return models.JobStatusExecuting
	}
}

// JobName is the cluster name for a job: dataset_analysis_version__id.
func JobName(job models.Job) string {
	a := job.Analysis
	return fmt.Sprintf("%s_%s_%s__%s", a.Table.Dataset, a.Table.Analysis, a.Version, job.ID)
}

// Step builds the single processing step for an analysis job.
func (e *Engine) Step(a models.AnalysisJob) launchplan.Step {
	resultPath := fmt.Sprintf("s3://%s/geotrellis/results/%s/%s", e.steps.ResultBucket, a.Version, a.Table.Dataset)

	args := []string{
		"spark-submit",
		"--deploy-mode", "cluster",
		"--class", "org.globalforestwatch.summarystats.SummaryMain",
		e.steps.JarPath + "/" + a.JarVersion,
		"--output", resultPath,
		"--feature_type", a.FeatureType,
		"--analysis", string(a.Table.Analysis),
	}

	// Limit the extent scanned by these analyses.
	switch a.Table.Analysis {
	case models.AnalysisTCL:
		args = append(args, "--tcl")
	case models.AnalysisGLAD:
		args = append(args, "--glad")
	}

	if a.ChangeOnly {
		args = append(args, "--change_only")
	}

	return launchplan.Step{
		Name:            string(a.Table.Analysis),
		ActionOnFailure: "TERMINATE_CLUSTER",
		Jar:             "command-runner.jar",
		Args:            args,
	}
}

func payload(job models.Job) (*models.AnalysisJob, error) {
	if job.Kind != models.JobKindAnalysis || job.Analysis == nil {
		return nil, apperrors.InvalidState("cluster",
			fmt.Sprintf("job %s of kind %s has no analysis payload", job.ID, job.Kind))
	}
	return job.Analysis, nil
}
