package models

import "time"

// SyncType names a downstream consumer of completed analysis results.
type SyncType string

const (
	SyncTypeGLAD    SyncType = "glad"
	SyncTypeVIIRS   SyncType = "viirs"
	SyncTypeMODIS   SyncType = "modis"
	SyncTypeRWAreas SyncType = "rw_areas"
)

// geostoreDataset holds user-drawn areas; its fire and deforestation alert
// results additionally feed the areas service.
const geostoreDataset = "geostore"

// IsGeostore reports whether the table covers user-drawn areas.
func (t AnalysisTable) IsGeostore() bool {
	return t.Dataset == geostoreDataset
}

// SyncTypesFor returns every sync type associated with a dataset/analysis
// pair. A table may need zero, one, or several registry entries.
func SyncTypesFor(dataset string, analysis Analysis) []SyncType {
	var types []SyncType
	switch analysis {
	case AnalysisGLAD:
		types = append(types, SyncTypeGLAD)
	case AnalysisVIIRS:
		types = append(types, SyncTypeVIIRS)
	case AnalysisMODIS:
		types = append(types, SyncTypeMODIS)
	default:
		return nil
	}
	if dataset == geostoreDataset {
		types = append(types, SyncTypeRWAreas)
	}
	return types
}

// SyncConfig is a registry entry recording a completed, sync-enabled result
// for downstream consumption.
type SyncConfig struct {
	AnalysisVersion string            `db:"analysis_version" json:"analysis_version"`
	Dataset         string            `db:"dataset"          json:"dataset"`
	DatasetVersion  string            `db:"dataset_version"  json:"dataset_version"`
	Analysis        Analysis          `db:"analysis"         json:"analysis"`
	Sync            bool              `db:"sync"             json:"sync"`
	SyncType        SyncType          `db:"sync_type"        json:"sync_type"`
	Metadata        map[string]string `db:"metadata"         json:"metadata"`
	CreatedAt       time.Time         `db:"created_at"       json:"created_at"`
}
