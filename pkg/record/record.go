// Package record defines the canonical row schema that flows through the
// ingestion pipeline. Upstream payloads are normalized into CanonicalRow,
// enriched into IndexedRow, and dictionary-encoded by pkg/table.
package record

import "time"

// CanonicalRow is the fixed schema every upstream availability record is
// coerced into. Field values are already validated: Latitude is in [-90, 90],
// Longitude in [-180, 180], and ID is unique within a batch.
type CanonicalRow struct {
	// ID identifies the serviced location within one ingestion batch
	ID string `json:"id"`

	// Coordinates of the serviced location
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	// Provider and technology as reported upstream (low cardinality)
	Provider   string `json:"provider"`
	Technology string `json:"technology"`

	// CommonTech and Category are derived classifications
	// (see normalize.ClassifyTech / normalize.Categorize)
	CommonTech string `json:"common_tech"`
	Category   string `json:"category"`

	// ResidentialCode is the upstream business/residential flag (R, B, or X)
	ResidentialCode string `json:"residential_code"`

	// Maximum advertised speeds in Mbps
	DownMbps float64 `json:"down_mbps"`
	UpMbps   float64 `json:"up_mbps"`

	// Timestamp is the upstream as-of date for this record
	Timestamp time.Time `json:"timestamp"`
}

// IndexedRow is a CanonicalRow with its hierarchical spatial cell index
// attached. The index is stored in compact integer form rather than the
// geocoder's native hex string; this roughly halves per-row footprint for
// large tables.
//
// Same (lat, lon, resolution) always yields the same index. Indices computed
// at different resolutions must never be mixed within one table.
type IndexedRow struct {
	CanonicalRow

	SpatialIndex uint64 `json:"spatial_index"`
}

// Residential reports whether the row covers residential service.
// Upstream uses R for residential-only and X for mixed business/residential.
func (r *CanonicalRow) Residential() bool {
	return r.ResidentialCode == "R" || r.ResidentialCode == "X"
}
