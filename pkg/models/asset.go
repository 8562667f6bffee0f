package models

// Asset is a derived artifact of a dataset version as reported by the asset
// service.
type Asset struct {
	ID     string      `json:"asset_id"`
	Type   string      `json:"asset_type"`
	Status AssetStatus `json:"status"`
}

// AssetRequest asks the asset service to derive a new asset from a version.
type AssetRequest struct {
	AssetType       string `json:"asset_type"`
	IsManaged       bool   `json:"is_managed,omitempty"`
	CreationOptions any    `json:"creation_options"`
}
