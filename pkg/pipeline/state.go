package pipeline

import "time"

// Stage is a step in a layer's pipeline state machine:
//
//	Pending -> Fetching -> Normalizing -> Indexing -> Compacting -> Publishing -> Done
//
// with Failed reachable from any state.
type Stage string

const (
	StagePending     Stage = "pending"
	StageFetching    Stage = "fetching"
	StageNormalizing Stage = "normalizing"
	StageIndexing    Stage = "indexing"
	StageCompacting  Stage = "compacting"
	StagePublishing  Stage = "publishing"
	StageDone        Stage = "done"
	StageFailed      Stage = "failed"
)

// Event is one progress notification emitted as a layer moves between
// stages. The server streams these to watchers.
type Event struct {
	RunID   string    `json:"run_id"`
	Layer   string    `json:"layer"`
	Stage   Stage     `json:"stage"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// Skip reasons recorded per layer, beyond those from normalization.
const (
	SkipUnindexable = "unindexable"
	SkipDeduped     = "deduped"
	SkipExisting    = "already_published"
)
