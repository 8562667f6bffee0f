package models

import (
	"fmt"
	"slices"
)

// Step is a position in the version-update pipeline.
type Step string

const (
	StepStarting                Step = "starting"
	StepCreatingPrimaryAsset    Step = "creating_primary_asset"
	StepCreatingCacheAsset      Step = "creating_cache_asset"
	StepMarkingLatest           Step = "marking_latest"
	StepCreatingAuxiliaryAssets Step = "creating_auxiliary_assets"
)

var stepOrder = []Step{
	StepStarting,
	StepCreatingPrimaryAsset,
	StepCreatingCacheAsset,
	StepMarkingLatest,
	StepCreatingAuxiliaryAssets,
}

// Order returns the position of s in the fixed forward-only sequence, or -1
// for an unknown step.
func (s Step) Order() int {
	return slices.Index(stepOrder, s)
}

func (s Step) Valid() bool {
	return s.Order() >= 0
}

// Asset types understood by the dataset/asset service.
const (
	AssetTypeRasterTileSet   = "Raster tile set"
	AssetTypeRasterTileCache = "Raster tile cache"
)

// AssetStatus is the raw status string reported by the asset service.
type AssetStatus string

const (
	AssetStatusSaved   AssetStatus = "saved"
	AssetStatusPending AssetStatus = "pending"
	AssetStatusFailed  AssetStatus = "failed"
)

// TileSetParameters are the creation options of a raster tile set, either
// the primary asset of a version or an auxiliary one.
type TileSetParameters struct {
	SourceURI        []string `json:"source_uri,omitempty"`
	DataType         string   `json:"data_type"`
	NoData           *float64 `json:"no_data,omitempty"`
	PixelMeaning     string   `json:"pixel_meaning"`
	Grid             string   `json:"grid"`
	Calc             string   `json:"calc,omitempty"`
	BandCount        int      `json:"band_count"`
	UnionBands       bool     `json:"union_bands"`
	ComputeStats     bool     `json:"compute_stats"`
	ComputeHistogram bool     `json:"compute_histogram"`
	TimeoutSec       int      `json:"timeout_sec,omitempty"`
	NumProcesses     int      `json:"num_processes,omitempty"`
}

// TileCacheParameters are the creation options of the derived tile cache.
type TileCacheParameters struct {
	MaxZoom   int            `json:"max_zoom"`
	Symbology map[string]any `json:"symbology,omitempty"`
}

// VersionUpdateJob is the payload of a pipeline job: publish a new dataset
// version, optionally with a tile cache and auxiliary tile sets.
type VersionUpdateJob struct {
	Dataset     string               `json:"dataset"`
	Version     string               `json:"version"`
	Step        Step                 `json:"step"`
	TileSet     TileSetParameters    `json:"tile_set_parameters"`
	TileCache   *TileCacheParameters `json:"tile_cache_parameters,omitempty"`
	AuxTileSets []TileSetParameters  `json:"aux_tile_set_parameters,omitempty"`
}

func (v VersionUpdateJob) Validate() error {
	if v.Dataset == "" {
		return fmt.Errorf("dataset is required")
	}
	if v.Version == "" {
		return fmt.Errorf("version is required")
	}
	if len(v.TileSet.SourceURI) == 0 {
		return fmt.Errorf("tile_set_parameters.source_uri is required")
	}
	if v.TileSet.Grid == "" {
		return fmt.Errorf("tile_set_parameters.grid is required")
	}
	return nil
}

func (v VersionUpdateJob) clone() VersionUpdateJob {
	c := v
	c.TileSet = v.TileSet.clone()
	if v.TileCache != nil {
		tc := *v.TileCache
		if v.TileCache.Symbology != nil {
			tc.Symbology = make(map[string]any, len(v.TileCache.Symbology))
			for k, val := range v.TileCache.Symbology {
				tc.Symbology[k] = val
			}
		}
		c.TileCache = &tc
	}
	if v.AuxTileSets != nil {
		c.AuxTileSets = make([]TileSetParameters, len(v.AuxTileSets))
		for i, p := range v.AuxTileSets {
			c.AuxTileSets[i] = p.clone()
		}
	}
	return c
}

func (p TileSetParameters) clone() TileSetParameters {
	c := p
	c.SourceURI = slices.Clone(p.SourceURI)
	if p.NoData != nil {
		nd := *p.NoData
		c.NoData = &nd
	}
	return c
}
