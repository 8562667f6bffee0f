package pipeline

import "github.com/kiranshivaraju/datapump/pkg/models"

const (
	sourceTypeRaster    = "raster"
	sourceDriverGeoTIFF = "GeoTIFF"

	cacheMinZoom       = 0
	cacheMaxStaticZoom = 9
)

// tileSetOptions are the creation options of a raster tile set. Source
// fields are only sent for the primary asset; auxiliary tile sets are
// derived from it.
type tileSetOptions struct {
	SourceType       string   `json:"source_type,omitempty"`
	SourceURI        []string `json:"source_uri,omitempty"`
	SourceDriver     string   `json:"source_driver,omitempty"`
	DataType         string   `json:"data_type"`
	NoData           *float64 `json:"no_data"`
	PixelMeaning     string   `json:"pixel_meaning"`
	Grid             string   `json:"grid"`
	Calc             *string  `json:"calc"`
	BandCount        int      `json:"band_count"`
	UnionBands       bool     `json:"union_bands"`
	ComputeStats     bool     `json:"compute_stats"`
	ComputeHistogram bool     `json:"compute_histogram"`
	TimeoutSec       *int     `json:"timeout_sec"`
	NumProcesses     *int     `json:"num_processes,omitempty"`
}

type tileCacheOptions struct {
	SourceAssetID string         `json:"source_asset_id"`
	MinZoom       int            `json:"min_zoom"`
	MaxZoom       int            `json:"max_zoom"`
	MaxStaticZoom int            `json:"max_static_zoom"`
	Symbology     map[string]any `json:"symbology"`
}

func baseOptions(p models.TileSetParameters) tileSetOptions {
	o := tileSetOptions{
		DataType:         p.DataType,
		NoData:           p.NoData,
		PixelMeaning:     p.PixelMeaning,
		Grid:             p.Grid,
		BandCount:        p.BandCount,
		UnionBands:       p.UnionBands,
		ComputeStats:     p.ComputeStats,
		ComputeHistogram: p.ComputeHistogram,
	}
	if p.Calc != "" {
		calc := p.Calc
		o.Calc = &calc
	}
	if p.TimeoutSec > 0 {
		timeout := p.TimeoutSec
		o.TimeoutSec = &timeout
	}
	return o
}

func primaryOptions(p models.TileSetParameters) tileSetOptions {
	o := baseOptions(p)
	o.SourceType = sourceTypeRaster
	o.SourceURI = p.SourceURI
	o.SourceDriver = sourceDriverGeoTIFF
	return o
}

func auxRequest(p models.TileSetParameters) models.AssetRequest {
	o := baseOptions(p)
	if p.NumProcesses > 0 {
		n := p.NumProcesses
		o.NumProcesses = &n
	}
	return models.AssetRequest{
		AssetType:       models.AssetTypeRasterTileSet,
		CreationOptions: o,
	}
}

func cacheRequest(sourceAssetID string, p models.TileCacheParameters) models.AssetRequest {
	return models.AssetRequest{
		AssetType: models.AssetTypeRasterTileCache,
		IsManaged: true,
		CreationOptions: tileCacheOptions{
			SourceAssetID: sourceAssetID,
			MinZoom:       cacheMinZoom,
			MaxZoom:       p.MaxZoom,
			MaxStaticZoom: cacheMaxStaticZoom,
			Symbology:     p.Symbology,
		},
	}
}
