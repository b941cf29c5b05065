package table

import (
	"testing"

	"github.com/openbdc/broadbandsync/pkg/record"
	"github.com/openbdc/broadbandsync/pkg/spatial"
)

func indexedRow(t *testing.T, id string, lat, lon float64, provider, commonTech, resCode string, down, up float64) record.IndexedRow {
	t.Helper()
	row, err := spatial.New(nil, 8).Index(record.CanonicalRow{
		ID:              id,
		Latitude:        lat,
		Longitude:       lon,
		Provider:        provider,
		CommonTech:      commonTech,
		Category:        "wired",
		ResidentialCode: resCode,
		DownMbps:        down,
		UpMbps:          up,
	})
	if err != nil {
		t.Fatalf("indexing fixture %s: %v", id, err)
	}
	return row
}

func TestMaxService_TakesMaxPerGroup(t *testing.T) {
	// Two records for the same provider/tech in the same neighborhood,
	// different advertised tiers.
	rows := []record.IndexedRow{
		indexedRow(t, "a", 40.7608, -111.8910, "UTOPIA", "Fiber", "R", 250, 250),
		indexedRow(t, "b", 40.7608, -111.8910, "UTOPIA", "Fiber", "X", 1000, 500),
	}

	summary, err := MaxService(rows, 8)
	if err != nil {
		t.Fatalf("MaxService failed: %v", err)
	}
	if len(summary) != 1 {
		t.Fatalf("expected 1 summary row, got %d", len(summary))
	}
	if summary[0].DownMbps != 1000 || summary[0].UpMbps != 500 {
		t.Errorf("expected max speeds 1000/500, got %v/%v", summary[0].DownMbps, summary[0].UpMbps)
	}
}

func TestMaxService_ExcludesBusinessOnly(t *testing.T) {
	rows := []record.IndexedRow{
		indexedRow(t, "a", 40.7608, -111.8910, "UTOPIA", "Fiber", "B", 1000, 1000),
		indexedRow(t, "b", 40.7608, -111.8910, "UTOPIA", "Fiber", "R", 250, 250),
	}

	summary, err := MaxService(rows, 8)
	if err != nil {
		t.Fatalf("MaxService failed: %v", err)
	}
	if len(summary) != 1 {
		t.Fatalf("expected 1 summary row, got %d", len(summary))
	}
	// The business-only tier must not leak into the residential summary.
	if summary[0].DownMbps != 250 {
		t.Errorf("expected 250, got %v", summary[0].DownMbps)
	}
}

func TestMaxService_GroupsByProviderAndTech(t *testing.T) {
	rows := []record.IndexedRow{
		indexedRow(t, "a", 40.7608, -111.8910, "UTOPIA", "Fiber", "R", 1000, 1000),
		indexedRow(t, "b", 40.7608, -111.8910, "CenturyLink", "DSL", "R", 80, 10),
		indexedRow(t, "c", 40.7608, -111.8910, "CenturyLink", "Fiber", "R", 940, 940),
	}

	summary, err := MaxService(rows, 8)
	if err != nil {
		t.Fatalf("MaxService failed: %v", err)
	}
	if len(summary) != 3 {
		t.Errorf("expected 3 summary rows, got %d", len(summary))
	}
}

func TestMaxService_RollsUpToParentResolution(t *testing.T) {
	// Two nearby locations in different res-8 cells but the same res-6 cell.
	rows := []record.IndexedRow{
		indexedRow(t, "a", 40.7608, -111.8910, "UTOPIA", "Fiber", "R", 250, 250),
		indexedRow(t, "b", 40.7700, -111.9000, "UTOPIA", "Fiber", "R", 1000, 1000),
	}

	atEight, err := MaxService(rows, 8)
	if err != nil {
		t.Fatalf("MaxService at 8 failed: %v", err)
	}
	atSix, err := MaxService(rows, 6)
	if err != nil {
		t.Fatalf("MaxService at 6 failed: %v", err)
	}

	if len(atEight) != 2 {
		t.Errorf("expected 2 rows at resolution 8, got %d", len(atEight))
	}
	if len(atSix) != 1 {
		t.Fatalf("expected 1 row at resolution 6, got %d", len(atSix))
	}
	if atSix[0].DownMbps != 1000 {
		t.Errorf("expected rolled-up max 1000, got %v", atSix[0].DownMbps)
	}
}

func TestMaxService_DeterministicOrder(t *testing.T) {
	rows := []record.IndexedRow{
		indexedRow(t, "a", 40.7608, -111.8910, "Xfinity", "Cable", "R", 1200, 35),
		indexedRow(t, "b", 40.7608, -111.8910, "UTOPIA", "Fiber", "R", 1000, 1000),
		indexedRow(t, "c", 40.7608, -111.8910, "CenturyLink", "DSL", "R", 80, 10),
	}

	first, err := MaxService(rows, 8)
	if err != nil {
		t.Fatalf("MaxService failed: %v", err)
	}
	second, err := MaxService(rows, 8)
	if err != nil {
		t.Fatalf("MaxService failed: %v", err)
	}

	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("order not deterministic: %q vs %q at %d", first[i].ID, second[i].ID, i)
		}
	}
}
