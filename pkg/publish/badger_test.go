package publish

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{InMemory: true})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func storeFeatures(n int, prefix string) []Feature {
	features := make([]Feature, n)
	for i := range features {
		features[i] = Feature{
			ID:           fmt.Sprintf("%s-%d", prefix, i),
			SpatialIndex: 0x8828308281fffff,
			Latitude:     40.76,
			Longitude:    -111.89,
			DownMbps:     100,
			UpMbps:       20,
			Timestamp:    time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
			Attributes:   map[string]string{"provider": "UTOPIA", "common_tech": "Fiber"},
		}
	}
	return features
}

func TestStore_TruncateAndLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	written, err := store.TruncateAndLoad(ctx, "service-hexes", storeFeatures(5, "a"))
	if err != nil {
		t.Fatalf("TruncateAndLoad failed: %v", err)
	}
	if written != 5 {
		t.Errorf("expected 5 written, got %d", written)
	}

	features, err := store.Features(ctx, "service-hexes")
	if err != nil {
		t.Fatalf("Features failed: %v", err)
	}
	if len(features) != 5 {
		t.Fatalf("expected 5 features, got %d", len(features))
	}
	if features[0].Attributes["provider"] != "UTOPIA" {
		t.Errorf("attributes did not survive the round trip: %+v", features[0])
	}
}

func TestStore_ReplaceSwapsGenerations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.TruncateAndLoad(ctx, "service-hexes", storeFeatures(3, "old")); err != nil {
		t.Fatalf("first load failed: %v", err)
	}
	if _, err := store.TruncateAndLoad(ctx, "service-hexes", storeFeatures(2, "new")); err != nil {
		t.Fatalf("second load failed: %v", err)
	}

	features, err := store.Features(ctx, "service-hexes")
	if err != nil {
		t.Fatalf("Features failed: %v", err)
	}
	if len(features) != 2 {
		t.Fatalf("expected 2 features after replace, got %d", len(features))
	}
	for _, f := range features {
		if f.ID == "old-0" || f.ID == "old-1" || f.ID == "old-2" {
			t.Errorf("stale feature %q visible after replace", f.ID)
		}
	}
}

func TestStore_AppendAndExistingIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Append(ctx, "service-records", storeFeatures(2, "a")); err != nil {
		t.Fatalf("first append failed: %v", err)
	}
	if _, err := store.Append(ctx, "service-records", storeFeatures(2, "b")); err != nil {
		t.Fatalf("second append failed: %v", err)
	}

	ids, err := store.ExistingIDs(ctx, "service-records")
	if err != nil {
		t.Fatalf("ExistingIDs failed: %v", err)
	}
	if len(ids) != 4 {
		t.Errorf("expected 4 ids, got %v", ids)
	}
}

func TestStore_SchemaMismatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.TruncateAndLoad(ctx, "service-hexes", storeFeatures(1, "a")); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	drifted := storeFeatures(1, "b")
	drifted[0].Attributes = map[string]string{"completely": "different"}

	_, err := store.Append(ctx, "service-hexes", drifted)
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("expected schema mismatch, got %v", err)
	}
}

func TestStore_EmptyLayer(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ids, err := store.ExistingIDs(ctx, "never-written")
	if err != nil {
		t.Fatalf("ExistingIDs failed: %v", err)
	}
	if ids != nil {
		t.Errorf("expected no ids, got %v", ids)
	}
}

func TestStore_RejectsInvalidLayerName(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.TruncateAndLoad(context.Background(), "bad!name", storeFeatures(1, "a")); err == nil {
		t.Error("expected invalid layer name to be rejected")
	}
}
