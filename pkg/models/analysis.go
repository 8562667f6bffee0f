package models

import "fmt"

// Analysis is a supported summary analysis to run over a dataset.
type Analysis string

const (
	AnalysisTCL   Analysis = "tcl"
	AnalysisGLAD  Analysis = "glad"
	AnalysisVIIRS Analysis = "viirs"
	AnalysisMODIS Analysis = "modis"
)

func (a Analysis) Valid() bool {
	switch a {
	case AnalysisTCL, AnalysisGLAD, AnalysisVIIRS, AnalysisMODIS:
		return true
	}
	return false
}

// AnalysisTable identifies the source of an analysis run: this dataset, this
// version, run this analysis. Immutable once attached to a job.
type AnalysisTable struct {
	Dataset  string   `json:"dataset"`
	Version  string   `json:"version"`
	Analysis Analysis `json:"analysis"`
}

const defaultFeatureType = "feature"

// AnalysisJob is the payload of a cluster job: a one-shot analysis run on an
// elastic compute cluster.
type AnalysisJob struct {
	Table       AnalysisTable `json:"table"`
	Version     string        `json:"version"`
	FeaturesURI string        `json:"features_1x1"`
	FeatureType string        `json:"feature_type"`
	JarVersion  string        `json:"geotrellis_version"`
	ChangeOnly  bool          `json:"change_only"`
	Sync        bool          `json:"sync"`

	// ClusterID is the handle of the running cluster, set on submission.
	ClusterID string `json:"cluster_id,omitempty"`
}

// Normalize fills defaults that the original request may omit.
func (a *AnalysisJob) Normalize() {
	if a.FeatureType == "" {
		a.FeatureType = defaultFeatureType
	}
}

func (a AnalysisJob) Validate() error {
	if a.Table.Dataset == "" {
		return fmt.Errorf("table.dataset is required")
	}
	if a.Table.Version == "" {
		return fmt.Errorf("table.version is required")
	}
	if !a.Table.Analysis.Valid() {
		return fmt.Errorf("table.analysis %q is not supported", a.Table.Analysis)
	}
	if a.Version == "" {
		return fmt.Errorf("version is required")
	}
	if a.FeaturesURI == "" {
		return fmt.Errorf("features_1x1 is required")
	}
	if a.JarVersion == "" {
		return fmt.Errorf("geotrellis_version is required")
	}
	return nil
}
