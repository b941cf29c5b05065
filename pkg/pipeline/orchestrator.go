// Package pipeline orchestrates the per-layer ingestion pipeline: fetch,
// normalize, index, compact, publish. Layers are independent; one layer's
// failure never aborts its siblings, and transient upstream failures leave a
// resume checkpoint behind.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openbdc/broadbandsync/pkg/checkpoint"
	"github.com/openbdc/broadbandsync/pkg/config"
	"github.com/openbdc/broadbandsync/pkg/normalize"
	"github.com/openbdc/broadbandsync/pkg/publish"
	"github.com/openbdc/broadbandsync/pkg/record"
	"github.com/openbdc/broadbandsync/pkg/spatial"
	"github.com/openbdc/broadbandsync/pkg/table"
	"github.com/openbdc/broadbandsync/pkg/upstream"
)

// LayerResult is the terminal report for one layer's run.
type LayerResult struct {
	Layer string `json:"layer"`
	State Stage  `json:"state"`

	// FailedDuring is the stage at which the run failed (failed runs only)
	FailedDuring Stage `json:"failed_during,omitempty"`

	RowsFetched      int `json:"rows_fetched"`
	RowsPublished    int `json:"rows_published"`
	SummaryPublished int `json:"summary_published,omitempty"`

	// Skipped counts dropped rows by reason; drops are never silent
	Skipped map[string]int `json:"skipped,omitempty"`

	// ResumeToken is the checkpoint saved for a resumable failure
	ResumeToken     string `json:"resume_token,omitempty"`
	CheckpointSaved bool   `json:"checkpoint_saved"`

	// ResumedReplace marks a replace-mode layer that was resumed from a
	// mid-stream checkpoint: only pages from the checkpoint onward were
	// republished, so the layer holds a partial snapshot until the next
	// run that starts from page one.
	ResumedReplace bool `json:"resumed_replace,omitempty"`

	Error string `json:"error,omitempty"`

	err error
}

// Err returns the layer's failure, if any.
func (r *LayerResult) Err() error { return r.err }

// Orchestrator runs the configured layers' pipelines.
type Orchestrator struct {
	cfg         *config.Config
	client      *upstream.Client
	normalizer  *normalize.Normalizer
	geocoder    spatial.Geocoder
	syncer      *publish.Syncer
	checkpoints checkpoint.Store
	notify      func(Event)
}

// Option adjusts orchestrator construction.
type Option func(*Orchestrator)

// WithGeocoder overrides the default H3 geocoder.
func WithGeocoder(geo spatial.Geocoder) Option {
	return func(o *Orchestrator) { o.geocoder = geo }
}

// WithNotify registers a progress event sink. The callback must not block.
func WithNotify(fn func(Event)) Option {
	return func(o *Orchestrator) { o.notify = fn }
}

// WithRules overrides the default normalization rules.
func WithRules(rules []normalize.Rule) Option {
	return func(o *Orchestrator) { o.normalizer = normalize.New(rules) }
}

// New creates an orchestrator over a feature service and checkpoint store.
func New(cfg *config.Config, svc publish.FeatureService, checkpoints checkpoint.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg: cfg,
		client: upstream.New(upstream.Config{
			BaseURL:        cfg.BaseURL,
			Token:          cfg.Token,
			MaxAttempts:    cfg.MaxAttempts,
			RetryWaitMin:   cfg.RetryWaitMin,
			RetryWaitMax:   cfg.RetryWaitMax,
			RequestTimeout: cfg.RequestTimeout,
		}),
		normalizer:  normalize.New(nil),
		syncer:      publish.NewSyncer(svc),
		checkpoints: checkpoints,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one orchestrator run across all configured layers with
// bounded fan-out. Layer failures are collected, not propagated; the
// returned error is non-nil only when the run as a whole could not proceed.
func (o *Orchestrator) Run(ctx context.Context, runID string) (*Summary, error) {
	summary := &Summary{
		RunID:   runID,
		Start:   time.Now(),
		Results: make([]LayerResult, len(o.cfg.Layers)),
	}

	var group errgroup.Group
	group.SetLimit(o.cfg.MaxParallelLayers)

	for i := range o.cfg.Layers {
		i := i
		layer := o.cfg.Layers[i]
		group.Go(func() error {
			summary.Results[i] = o.runLayer(ctx, runID, layer)
			// Failures are isolated per layer; never cancel siblings.
			return nil
		})
	}
	group.Wait()

	summary.End = time.Now()
	log.Print(summary.Format())
	return summary, ctx.Err()
}

// runLayer drives one layer through the state machine. Cancellation is
// checked between stages so an aborted run never leaves a layer mid-replace.
func (o *Orchestrator) runLayer(ctx context.Context, runID string, layer config.Layer) LayerResult {
	result := LayerResult{
		Layer:   layer.Name,
		State:   StagePending,
		Skipped: make(map[string]int),
	}
	o.emit(runID, layer.Name, StagePending, "")

	fail := func(during Stage, err error) LayerResult {
		result.State = StageFailed
		result.FailedDuring = during
		result.err = err
		result.Error = err.Error()
		o.emit(runID, layer.Name, StageFailed, err.Error())
		log.Printf("pipeline: layer %s failed during %s: %v", layer.Name, during, err)
		return result
	}

	// Fetching. A prior resumable failure leaves a token to pick up from.
	o.emit(runID, layer.Name, StageFetching, "")
	resumeToken, err := o.checkpoints.Token(layer.Name)
	if err != nil {
		return fail(StageFetching, err)
	}
	if resumeToken != "" {
		log.Printf("pipeline: layer %s resuming from checkpoint token %q", layer.Name, resumeToken)
		if layer.Mode != config.ModeAppend {
			result.ResumedReplace = true
		}
	}

	sess := o.client.Resume(layer.Endpoint, layer.PageSize, resumeToken)
	var raws []upstream.RawRecord
	for sess.Next(ctx) {
		raws = append(raws, sess.Records()...)
	}
	if err := sess.Err(); err != nil {
		var unavailable *upstream.UnavailableError
		if errors.As(err, &unavailable) {
			// Save the failed page's token so the next run resumes here
			// instead of refetching from page one.
			if saveErr := o.checkpoints.Save(layer.Name, unavailable.LastToken); saveErr != nil {
				log.Printf("pipeline: layer %s: failed to save checkpoint: %v", layer.Name, saveErr)
			} else {
				result.ResumeToken = unavailable.LastToken
				result.CheckpointSaved = true
			}
		}
		return fail(StageFetching, err)
	}
	result.RowsFetched = len(raws)
	if err := ctx.Err(); err != nil {
		return fail(StageFetching, err)
	}

	// Normalizing
	o.emit(runID, layer.Name, StageNormalizing, "")
	batch := o.normalizer.NormalizeBatch(raws, nil)
	for reason, n := range batch.Skipped {
		result.Skipped[reason] += n
	}
	if err := ctx.Err(); err != nil {
		return fail(StageNormalizing, err)
	}

	// Indexing
	o.emit(runID, layer.Name, StageIndexing, "")
	indexer := spatial.New(o.geocoder, layer.Resolution)
	indexed, unindexable := indexer.IndexAll(batch.Rows)
	if unindexable > 0 {
		result.Skipped[SkipUnindexable] += unindexable
	}
	if err := ctx.Err(); err != nil {
		return fail(StageIndexing, err)
	}

	// Compacting
	o.emit(runID, layer.Name, StageCompacting, "")
	columns, err := table.ParseColumns(layer.Categorical)
	if err != nil {
		return fail(StageCompacting, err)
	}
	if len(columns) == 0 {
		columns = table.DefaultColumns
	}
	tbl := table.Compact(indexed, columns)
	if err := ctx.Err(); err != nil {
		return fail(StageCompacting, err)
	}

	// Publishing
	o.emit(runID, layer.Name, StagePublishing, "")
	mode := publish.FullReplace
	if layer.Mode == config.ModeAppend {
		mode = publish.IncrementalAppend
	}
	syncResult, err := o.syncer.Sync(ctx, layer.Name, tbl, mode)
	if err != nil {
		return fail(StagePublishing, err)
	}
	result.RowsPublished = syncResult.Written
	if syncResult.Deduped > 0 {
		result.Skipped[SkipDeduped] += syncResult.Deduped
	}
	if syncResult.SkippedExisting > 0 {
		result.Skipped[SkipExisting] += syncResult.SkippedExisting
	}

	if layer.SummaryLayer != "" {
		published, err := o.publishSummary(ctx, layer, indexed)
		if err != nil {
			return fail(StagePublishing, err)
		}
		result.SummaryPublished = published
	}

	// The layer is fully published; its resume state is obsolete.
	if err := o.checkpoints.Clear(layer.Name); err != nil {
		log.Printf("pipeline: layer %s: failed to clear checkpoint: %v", layer.Name, err)
	}

	result.State = StageDone
	o.emit(runID, layer.Name, StageDone, fmt.Sprintf("%d features", result.RowsPublished))
	return result
}

// publishSummary builds and replaces the layer's max-service summary table.
func (o *Orchestrator) publishSummary(ctx context.Context, layer config.Layer, indexed []record.IndexedRow) (int, error) {
	summaryRows, err := table.MaxService(indexed, layer.SummaryResolution)
	if err != nil {
		return 0, fmt.Errorf("failed to build summary for %q: %w", layer.SummaryLayer, err)
	}

	summaryTable := table.Compact(summaryRows, []table.Column{
		table.ColProvider, table.ColCommonTech, table.ColCategory,
	})
	syncResult, err := o.syncer.Sync(ctx, layer.SummaryLayer, summaryTable, publish.FullReplace)
	if err != nil {
		return 0, err
	}
	return syncResult.Written, nil
}

func (o *Orchestrator) emit(runID, layer string, stage Stage, message string) {
	if o.notify == nil {
		return
	}
	o.notify(Event{
		RunID:   runID,
		Layer:   layer,
		Stage:   stage,
		Message: message,
		Time:    time.Now(),
	})
}
