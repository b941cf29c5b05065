package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/openbdc/broadbandsync/pkg/upstream"
)

func validRaw(id string) upstream.RawRecord {
	return upstream.RawRecord{
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

func TestNormalize_ValidRecord(t *testing.T) {
	row, err := New(nil).Normalize(validRaw("loc-1"))
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if row.ID != "loc-1" {
		t.Errorf("expected id loc-1, got %q", row.ID)
	}
	if row.Provider != "UTOPIA" {
		t.Errorf("expected provider UTOPIA, got %q", row.Provider)
	}
	if row.CommonTech != TechFiber {
		t.Errorf("expected common tech %q, got %q", TechFiber, row.CommonTech)
	}
	if row.Category != CategoryWired {
		t.Errorf("expected category %q, got %q", CategoryWired, row.Category)
	}
	want := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	if !row.Timestamp.Equal(want) {
		t.Errorf("expected timestamp %v, got %v", want, row.Timestamp)
	}
	if !row.Residential() {
		t.Error("expected residential record")
	}
}

func TestNormalize_CoercesStringSpeeds(t *testing.T) {
	raw := validRaw("loc-1")
	raw["max_advertised_download_speed"] = "250"

	row, err := New(nil).Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if row.DownMbps != 250 {
		t.Errorf("expected 250, got %v", row.DownMbps)
	}
}

func TestNormalize_MalformedRecords(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(upstream.RawRecord)
	}{
		{"missing required field", func(r upstream.RawRecord) { delete(r, "location_id") }},
		{"non-numeric latitude", func(r upstream.RawRecord) { r["latitude"] = "not-a-number" }},
		{"latitude out of range", func(r upstream.RawRecord) { r["latitude"] = 91.0 }},
		{"longitude out of range", func(r upstream.RawRecord) { r["longitude"] = -200.0 }},
		{"unparseable date", func(r upstream.RawRecord) { r["as_of_date"] = "yesterday" }},
	}

	n := New(nil)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := validRaw("loc-1")
			tc.mutate(raw)

			_, err := n.Normalize(raw)
			var malformed *MalformedRecordError
			if !errors.As(err, &malformed) {
				t.Fatalf("expected MalformedRecordError, got %v", err)
			}
		})
	}
}

func TestNormalize_DropsUnknownFields(t *testing.T) {
	raw := validRaw("loc-1")
	raw["some_future_field"] = "ignored"

	if _, err := New(nil).Normalize(raw); err != nil {
		t.Fatalf("unknown field should be dropped, got %v", err)
	}
}

func TestNormalizeBatch_SkipsWithCount(t *testing.T) {
	raws := make([]upstream.RawRecord, 0, 10)
	for i := 0; i < 8; i++ {
		raws = append(raws, validRaw("loc-"+string(rune('a'+i))))
	}
	bad1 := validRaw("bad-1")
	bad1["latitude"] = "north-ish"
	bad2 := validRaw("bad-2")
	bad2["latitude"] = "very north"
	raws = append(raws, bad1, bad2)

	result := New(nil).NormalizeBatch(raws, nil)

	if len(result.Rows) != 8 {
		t.Errorf("expected 8 rows, got %d", len(result.Rows))
	}
	if result.Skipped[SkipMalformed] != 2 {
		t.Errorf("expected 2 malformed skips, got %d", result.Skipped[SkipMalformed])
	}
	if result.SkippedTotal() != 2 {
		t.Errorf("expected skip total 2, got %d", result.SkippedTotal())
	}
}

func TestNormalizeBatch_DeduplicatesAcrossPages(t *testing.T) {
	seen := make(map[string]bool)
	n := New(nil)

	first := n.NormalizeBatch([]upstream.RawRecord{validRaw("loc-1"), validRaw("loc-2")}, seen)
	second := n.NormalizeBatch([]upstream.RawRecord{validRaw("loc-2"), validRaw("loc-3")}, seen)

	if len(first.Rows) != 2 {
		t.Errorf("expected 2 rows in first batch, got %d", len(first.Rows))
	}
	if len(second.Rows) != 1 {
		t.Errorf("expected 1 row in second batch, got %d", len(second.Rows))
	}
	if second.Skipped[SkipDuplicateID] != 1 {
		t.Errorf("expected 1 duplicate skip, got %d", second.Skipped[SkipDuplicateID])
	}
}
