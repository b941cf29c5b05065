// Package spatial attaches hierarchical spatial cell indices to canonical
// rows. The index computation itself is delegated to an external geocoding
// library and treated as a black box; this package only validates inputs and
// re-encodes the geocoder's hex-string output as a compact uint64.
package spatial

import (
	"fmt"
	"strconv"

	h3 "github.com/uber/h3-go/v4"

	"github.com/openbdc/broadbandsync/pkg/record"
)

// Geocoder computes a hierarchical spatial cell index for a coordinate at a
// given resolution, returning the index in its native hex-string form.
// Implementations must be pure: same (lat, lon, resolution) always yields
// the same index.
type Geocoder interface {
	Geocode(lat, lon float64, resolution int) (string, error)
}

// H3 is the production geocoder, backed by the H3 hexagonal grid.
type H3 struct{}

// Geocode returns the H3 cell containing (lat, lon) at the given resolution.
func (H3) Geocode(lat, lon float64, resolution int) (string, error) {
	cell, err := h3.LatLngToCell(h3.NewLatLng(lat, lon), resolution)
	if err != nil {
		return "", fmt.Errorf("h3 indexing failed: %w", err)
	}
	return cell.String(), nil
}

// UnindexableError reports a coordinate that cannot be indexed. Post
// normalization this should not occur; it is a defensive invariant check
// that is fatal for that row only.
type UnindexableError struct {
	Lat, Lon float64
	Reason   string
}

func (e *UnindexableError) Error() string {
	return fmt.Sprintf("unindexable coordinate (%v, %v): %s", e.Lat, e.Lon, e.Reason)
}

// Indexer attaches spatial indices at a fixed resolution. The resolution is
// per-layer configuration; indices computed at different resolutions must
// not be mixed within one table.
type Indexer struct {
	geo        Geocoder
	resolution int
}

// New creates an indexer (nil geocoder = H3).
func New(geo Geocoder, resolution int) *Indexer {
	if geo == nil {
		geo = H3{}
	}
	return &Indexer{geo: geo, resolution: resolution}
}

// Resolution returns the configured cell resolution.
func (ix *Indexer) Resolution() int { return ix.resolution }

// Index computes the row's spatial cell index and attaches it in integer
// form, discarding the geocoder's string representation.
func (ix *Indexer) Index(row record.CanonicalRow) (record.IndexedRow, error) {
	if row.Latitude < -90 || row.Latitude > 90 || row.Longitude < -180 || row.Longitude > 180 {
		return record.IndexedRow{}, &UnindexableError{
			Lat: row.Latitude, Lon: row.Longitude,
			Reason: "coordinate out of valid range",
		}
	}

	hex, err := ix.geo.Geocode(row.Latitude, row.Longitude, ix.resolution)
	if err != nil {
		return record.IndexedRow{}, &UnindexableError{
			Lat: row.Latitude, Lon: row.Longitude,
			Reason: err.Error(),
		}
	}

	index, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return record.IndexedRow{}, &UnindexableError{
			Lat: row.Latitude, Lon: row.Longitude,
			Reason: fmt.Sprintf("geocoder returned non-hex index %q", hex),
		}
	}

	return record.IndexedRow{CanonicalRow: row, SpatialIndex: index}, nil
}

// IndexAll indexes a batch. Unindexable rows are skipped and counted, never
// batch-fatal.
func (ix *Indexer) IndexAll(rows []record.CanonicalRow) (indexed []record.IndexedRow, skipped int) {
	indexed = make([]record.IndexedRow, 0, len(rows))
	for _, row := range rows {
		ir, err := ix.Index(row)
		if err != nil {
			skipped++
			continue
		}
		indexed = append(indexed, ir)
	}
	return indexed, skipped
}

// Center returns the center coordinate of a cell index.
func Center(index uint64) (lat, lon float64, err error) {
	latLng, err := h3.Cell(index).LatLng()
	if err != nil {
		return 0, 0, fmt.Errorf("cell center: %w", err)
	}
	return latLng.Lat, latLng.Lng, nil
}

// ToParent rolls a cell index up to a coarser parent resolution.
func ToParent(index uint64, resolution int) (uint64, error) {
	parent, err := h3.Cell(index).Parent(resolution)
	if err != nil {
		return 0, fmt.Errorf("parent cell at resolution %d: %w", resolution, err)
	}
	return uint64(parent), nil
}
