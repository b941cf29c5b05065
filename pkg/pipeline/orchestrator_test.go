package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openbdc/broadbandsync/pkg/checkpoint"
	"github.com/openbdc/broadbandsync/pkg/config"
	"github.com/openbdc/broadbandsync/pkg/publish"
	"github.com/openbdc/broadbandsync/pkg/upstream"
)

func rawRecord(id string) map[string]interface{} {
	return map[string]interface{}{
		"location_id":                   id,
		"latitude":                      40.77,
		"longitude":                     -111.89,
		"brand_name":                    "UTOPIA",
		"technology_name":               "Fiber to the Premises",
		"business_residential_code":     "R",
		"max_advertised_download_speed": 1000.0,
		"max_advertised_upload_speed":   1000.0,
		"as_of_date":                    "2025-12-31",
	}
}

// fakeUpstream serves canned pages keyed by continuation token and can be
// told to fail a token with a status code.
type fakeUpstream struct {
	mu     sync.Mutex
	pages  map[string]pagePayload
	fail   map[string]int // token -> status to return instead of the page
	tokens []string       // tokens in request order
}

type pagePayload struct {
	Data      []map[string]interface{} `json:"data"`
	NextToken string                   `json:"next_token,omitempty"`
}

func (f *fakeUpstream) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("page_token")

		f.mu.Lock()
		f.tokens = append(f.tokens, token)
		status, failing := f.fail[token]
		page := f.pages[token]
		f.mu.Unlock()

		if failing {
			w.WriteHeader(status)
			return
		}
		json.NewEncoder(w).Encode(page)
	}
}

func (f *fakeUpstream) requestedTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tokens...)
}

func testConfig(baseURL string, layers ...config.Layer) *config.Config {
	return &config.Config{
		BaseURL:           baseURL,
		MaxAttempts:       2,
		RetryWaitMin:      time.Millisecond,
		RetryWaitMax:      5 * time.Millisecond,
		RequestTimeout:    time.Second,
		MaxParallelLayers: 2,
		Layers:            layers,
	}
}

func serviceLayer(name string) config.Layer {
	return config.Layer{
		Name:       name,
		Endpoint:   "/" + name,
		PageSize:   5,
		Resolution: 8,
		Mode:       config.ModeReplace,
	}
}

func TestRun_EndToEnd(t *testing.T) {
	// Two pages, ten records, two of them malformed.
	first := make([]map[string]interface{}, 0, 5)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		first = append(first, rawRecord(id))
	}
	second := make([]map[string]interface{}, 0, 5)
	for _, id := range []string{"f", "g", "h"} {
		second = append(second, rawRecord(id))
	}
	bad1 := rawRecord("bad-1")
	bad1["latitude"] = "north-ish"
	bad2 := rawRecord("bad-2")
	delete(bad2, "location_id")
	second = append(second, bad1, bad2)

	fake := &fakeUpstream{pages: map[string]pagePayload{
		"":   {Data: first, NextToken: "T2"},
		"T2": {Data: second},
	}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	svc := publish.NewMemory()
	checkpoints := checkpoint.NewMemory()
	orch := New(testConfig(srv.URL, serviceLayer("service-hexes")), svc, checkpoints)

	summary, err := orch.Run(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	result := summary.Results[0]
	if result.State != StageDone {
		t.Fatalf("expected done, got %s (%s)", result.State, result.Error)
	}
	if result.RowsFetched != 10 {
		t.Errorf("expected 10 rows fetched, got %d", result.RowsFetched)
	}
	if result.RowsPublished != 8 {
		t.Errorf("expected 8 rows published, got %d", result.RowsPublished)
	}
	if result.Skipped["malformed"] != 2 {
		t.Errorf("expected 2 malformed skips, got %d", result.Skipped["malformed"])
	}

	features := svc.Features("service-hexes")
	if len(features) != 8 {
		t.Errorf("expected 8 features in layer, got %d", len(features))
	}
	for _, f := range features {
		if f.SpatialIndex == 0 {
			t.Errorf("feature %s missing spatial index", f.ID)
		}
	}

	// A completed layer leaves no resume state behind.
	token, _ := checkpoints.Token("service-hexes")
	if token != "" {
		t.Errorf("expected cleared checkpoint, got %q", token)
	}
}

func TestRun_ResumableFailureSavesCheckpoint(t *testing.T) {
	fake := &fakeUpstream{
		pages: map[string]pagePayload{
			"":  {Data: []map[string]interface{}{rawRecord("a")}, NextToken: "T"},
			"T": {Data: []map[string]interface{}{rawRecord("b")}},
		},
		fail: map[string]int{"T": http.StatusInternalServerError},
	}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	svc := publish.NewMemory()
	checkpoints := checkpoint.NewMemory()
	orch := New(testConfig(srv.URL, serviceLayer("service-hexes")), svc, checkpoints)

	summary, err := orch.Run(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	result := summary.Results[0]
	if result.State != StageFailed {
		t.Fatalf("expected failed, got %s", result.State)
	}
	if result.FailedDuring != StageFetching {
		t.Errorf("expected failure during fetching, got %s", result.FailedDuring)
	}
	var unavailable *upstream.UnavailableError
	if !errors.As(result.Err(), &unavailable) {
		t.Fatalf("expected UnavailableError, got %v", result.Err())
	}
	if !result.CheckpointSaved || result.ResumeToken != "T" {
		t.Fatalf("expected checkpoint saved at T, got saved=%v token=%q", result.CheckpointSaved, result.ResumeToken)
	}
	token, _ := checkpoints.Token("service-hexes")
	if token != "T" {
		t.Fatalf("expected stored checkpoint T, got %q", token)
	}

	// Nothing was published for the failed layer.
	if n := len(svc.Features("service-hexes")); n != 0 {
		t.Errorf("expected no features after failed run, got %d", n)
	}

	// The next run picks up at the failed page, not page one.
	fake.mu.Lock()
	delete(fake.fail, "T")
	fake.tokens = nil
	fake.mu.Unlock()

	summary, err = orch.Run(context.Background(), "run-2")
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if summary.Results[0].State != StageDone {
		t.Fatalf("expected done, got %s (%s)", summary.Results[0].State, summary.Results[0].Error)
	}
	tokens := fake.requestedTokens()
	if len(tokens) == 0 || tokens[0] != "T" {
		t.Errorf("expected resume to start at token T, got %v", tokens)
	}

	// A resumed replace republishes only the tail pages, and the summary
	// says so.
	if !summary.Results[0].ResumedReplace {
		t.Error("expected resumed run to be flagged as a partial replace")
	}
	if !strings.Contains(summary.Format(), "resumed partial replace") {
		t.Error("expected summary report to flag the partial replace")
	}
}

func TestRun_LayerFailureDoesNotAbortSiblings(t *testing.T) {
	fake := &fakeUpstream{pages: map[string]pagePayload{
		"": {Data: []map[string]interface{}{rawRecord("a"), rawRecord("b")}},
	}}
	mux := http.NewServeMux()
	mux.HandleFunc("/service-hexes", fake.handler())
	mux.HandleFunc("/service-records", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	svc := publish.NewMemory()
	orch := New(
		testConfig(srv.URL, serviceLayer("service-hexes"), serviceLayer("service-records")),
		svc, checkpoint.NewMemory(),
	)

	summary, err := orch.Run(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	byLayer := make(map[string]LayerResult)
	for _, r := range summary.Results {
		byLayer[r.Layer] = r
	}

	if byLayer["service-hexes"].State != StageDone {
		t.Errorf("expected service-hexes done, got %s", byLayer["service-hexes"].State)
	}
	failed := byLayer["service-records"]
	if failed.State != StageFailed {
		t.Fatalf("expected service-records failed, got %s", failed.State)
	}
	var rejected *upstream.RejectedError
	if !errors.As(failed.Err(), &rejected) {
		t.Errorf("expected RejectedError, got %v", failed.Err())
	}
	// A permanent rejection is not resumable.
	if failed.CheckpointSaved {
		t.Error("expected no checkpoint for a rejected layer")
	}
	if summary.Succeeded() != 1 || summary.Failed() != 1 {
		t.Errorf("expected 1 succeeded / 1 failed, got %d / %d", summary.Succeeded(), summary.Failed())
	}
}

func TestRun_PublishesSummaryLayer(t *testing.T) {
	fake := &fakeUpstream{pages: map[string]pagePayload{
		"": {Data: []map[string]interface{}{rawRecord("a"), rawRecord("b")}},
	}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	layer := serviceLayer("service-hexes")
	layer.SummaryLayer = "service-hexes-summary"
	layer.SummaryResolution = 6

	svc := publish.NewMemory()
	orch := New(testConfig(srv.URL, layer), svc, checkpoint.NewMemory())

	summary, err := orch.Run(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	result := summary.Results[0]
	if result.State != StageDone {
		t.Fatalf("expected done, got %s (%s)", result.State, result.Error)
	}
	// Both records share a provider, tech, and res-6 cell, so they roll up
	// into one summary feature.
	if result.SummaryPublished != 1 {
		t.Errorf("expected 1 summary feature, got %d", result.SummaryPublished)
	}
	if n := len(svc.Features("service-hexes-summary")); n != 1 {
		t.Errorf("expected 1 feature in summary layer, got %d", n)
	}
}

func TestRun_Cancellation(t *testing.T) {
	fake := &fakeUpstream{pages: map[string]pagePayload{
		"": {Data: []map[string]interface{}{rawRecord("a")}},
	}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	orch := New(testConfig(srv.URL, serviceLayer("service-hexes")), publish.NewMemory(), checkpoint.NewMemory())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := orch.Run(ctx, "run-1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if summary.Results[0].State != StageFailed {
		t.Errorf("expected failed layer after cancellation, got %s", summary.Results[0].State)
	}
}

func TestRun_EmitsStageEvents(t *testing.T) {
	fake := &fakeUpstream{pages: map[string]pagePayload{
		"": {Data: []map[string]interface{}{rawRecord("a")}},
	}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	var mu sync.Mutex
	var stages []Stage
	notify := func(e Event) {
		mu.Lock()
		stages = append(stages, e.Stage)
		mu.Unlock()
	}

	orch := New(
		testConfig(srv.URL, serviceLayer("service-hexes")),
		publish.NewMemory(), checkpoint.NewMemory(),
		WithNotify(notify),
	)
	if _, err := orch.Run(context.Background(), "run-1"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []Stage{
		StagePending, StageFetching, StageNormalizing,
		StageIndexing, StageCompacting, StagePublishing, StageDone,
	}
	mu.Lock()
	defer mu.Unlock()
	if len(stages) != len(want) {
		t.Fatalf("expected %d events, got %d: %v", len(want), len(stages), stages)
	}
	for i, s := range want {
		if stages[i] != s {
			t.Errorf("event %d: expected %s, got %s", i, s, stages[i])
		}
	}
}
