// Package publish syncs compacted tables into target feature layers.
//
// The remote feature-service wire protocol is out of scope; FeatureService
// is the boundary. Two implementations ship with the pipeline: an in-memory
// store for tests and development, and a Badger-backed store for a local
// feature cache. Both honor stage-then-swap semantics for full replaces.
package publish

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Feature is one published row, with categorical codes decoded back to their
// string values. Dictionaries are run-scoped, so nothing code-shaped ever
// crosses the publishing boundary.
type Feature struct {
	ID           string            `json:"id"`
	SpatialIndex uint64            `json:"spatial_index"`
	Latitude     float64           `json:"latitude"`
	Longitude    float64           `json:"longitude"`
	DownMbps     float64           `json:"down_mbps"`
	UpMbps       float64           `json:"up_mbps"`
	Timestamp    time.Time         `json:"timestamp"`
	Attributes   map[string]string `json:"attributes"`
}

// ErrSchemaMismatch is returned by a FeatureService when incoming features
// do not match the layer's established attribute schema.
var ErrSchemaMismatch = errors.New("feature schema mismatch")

// FeatureService is the publishing boundary.
//
// TruncateAndLoad must be atomic: if the write fails partway, readers keep
// seeing the layer's prior contents. Append adds features without touching
// existing ones; identifier-level dedup is the syncer's job.
type FeatureService interface {
	TruncateAndLoad(ctx context.Context, layer string, features []Feature) (int, error)
	Append(ctx context.Context, layer string, features []Feature) (int, error)

	// ExistingIDs returns the identifiers currently present in the layer.
	ExistingIDs(ctx context.Context, layer string) ([]string, error)
}

// ConflictError reports a second sync targeting a layer that already has a
// sync in flight. Safe to retry on the next trigger.
type ConflictError struct {
	Layer string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("publish conflict: a sync is already in flight for layer %q", e.Layer)
}

// RejectedError reports a permanent publish failure (schema drift); operator
// attention is required.
type RejectedError struct {
	Layer string
	Err   error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("publish rejected for layer %q: %v", e.Layer, e.Err)
}

func (e *RejectedError) Unwrap() error { return e.Err }
