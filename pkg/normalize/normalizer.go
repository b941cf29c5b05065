// Package normalize maps raw upstream payloads into the canonical row schema.
//
// Coercion is driven by an enumerated rule list (source field -> target field
// + kind) rather than reflective access, so every possible coercion failure
// is enumerable and testable.
package normalize

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/openbdc/broadbandsync/pkg/record"
	"github.com/openbdc/broadbandsync/pkg/upstream"
)

// Kind is the coercion applied to a source field.
type Kind int

const (
	KindString Kind = iota
	KindFloat
	KindTime
)

// Rule maps one upstream field onto one canonical target.
type Rule struct {
	Source   string
	Target   Target
	Kind     Kind
	Required bool
}

// Target names a CanonicalRow field a rule may populate.
type Target string

const (
	TargetID          Target = "id"
	TargetLatitude    Target = "latitude"
	TargetLongitude   Target = "longitude"
	TargetProvider    Target = "provider"
	TargetTechnology  Target = "technology"
	TargetResidential Target = "residential_code"
	TargetDownMbps    Target = "down_mbps"
	TargetUpMbps      Target = "up_mbps"
	TargetTimestamp   Target = "timestamp"
)

// DefaultRules covers the availability endpoint's current schema. Unknown
// extra fields in a payload are dropped, never propagated.
var DefaultRules = []Rule{
	{Source: "location_id", Target: TargetID, Kind: KindString, Required: true},
	{Source: "latitude", Target: TargetLatitude, Kind: KindFloat, Required: true},
	{Source: "longitude", Target: TargetLongitude, Kind: KindFloat, Required: true},
	{Source: "brand_name", Target: TargetProvider, Kind: KindString, Required: true},
	{Source: "technology_name", Target: TargetTechnology, Kind: KindString, Required: true},
	{Source: "business_residential_code", Target: TargetResidential, Kind: KindString},
	{Source: "max_advertised_download_speed", Target: TargetDownMbps, Kind: KindFloat},
	{Source: "max_advertised_upload_speed", Target: TargetUpMbps, Kind: KindFloat},
	{Source: "as_of_date", Target: TargetTimestamp, Kind: KindTime},
}

// MalformedRecordError reports a single record that failed normalization.
// It is row-fatal only; batches skip and count it.
type MalformedRecordError struct {
	Field  string
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record: field %q: %s", e.Field, e.Reason)
}

// Normalizer applies coercion rules to raw records.
type Normalizer struct {
	rules []Rule
}

// New creates a normalizer with the given rules (nil = DefaultRules).
func New(rules []Rule) *Normalizer {
	if rules == nil {
		rules = DefaultRules
	}
	return &Normalizer{rules: rules}
}

// Normalize coerces one raw record into the canonical schema. It is a pure
// function of its input: no network, no storage, deterministic.
func (n *Normalizer) Normalize(raw upstream.RawRecord) (record.CanonicalRow, error) {
	var row record.CanonicalRow

	for _, rule := range n.rules {
		value, present := raw[rule.Source]
		if !present || value == nil {
			if rule.Required {
				return row, &MalformedRecordError{Field: rule.Source, Reason: "required field missing"}
			}
			continue
		}

		if err := apply(&row, rule, value); err != nil {
			return row, err
		}
	}

	if row.Latitude < -90 || row.Latitude > 90 {
		return row, &MalformedRecordError{Field: "latitude", Reason: fmt.Sprintf("value %v out of range [-90, 90]", row.Latitude)}
	}
	if row.Longitude < -180 || row.Longitude > 180 {
		return row, &MalformedRecordError{Field: "longitude", Reason: fmt.Sprintf("value %v out of range [-180, 180]", row.Longitude)}
	}

	row.CommonTech = ClassifyTech(row.Technology)
	row.Category = Categorize(row.CommonTech)

	return row, nil
}

// BatchResult reports what a batch normalization produced. A malformed record
// never aborts a batch; it is skipped with its reason counted so drops are
// never silent.
type BatchResult struct {
	Rows    []record.CanonicalRow
	Skipped map[string]int
}

// SkippedTotal returns the total number of dropped records.
func (b *BatchResult) SkippedTotal() int {
	total := 0
	for _, n := range b.Skipped {
		total += n
	}
	return total
}

// Skip reasons recorded by NormalizeBatch.
const (
	SkipMalformed   = "malformed"
	SkipDuplicateID = "duplicate_id"
)

// NormalizeBatch normalizes a batch, skipping malformed records and
// duplicate identifiers (identifier must be unique within a batch; the first
// occurrence wins).
func (n *Normalizer) NormalizeBatch(raws []upstream.RawRecord, seen map[string]bool) *BatchResult {
	result := &BatchResult{
		Rows:    make([]record.CanonicalRow, 0, len(raws)),
		Skipped: make(map[string]int),
	}
	if seen == nil {
		seen = make(map[string]bool, len(raws))
	}

	for _, raw := range raws {
		row, err := n.Normalize(raw)
		if err != nil {
			log.Printf("normalize: skipping record: %v", err)
			result.Skipped[SkipMalformed]++
			continue
		}
		if seen[row.ID] {
			result.Skipped[SkipDuplicateID]++
			continue
		}
		seen[row.ID] = true
		result.Rows = append(result.Rows, row)
	}

	return result
}

func apply(row *record.CanonicalRow, rule Rule, value interface{}) error {
	switch rule.Kind {
	case KindString:
		s, err := coerceString(value)
		if err != nil {
			return &MalformedRecordError{Field: rule.Source, Reason: err.Error()}
		}
		setString(row, rule.Target, s)
	case KindFloat:
		f, err := coerceFloat(value)
		if err != nil {
			return &MalformedRecordError{Field: rule.Source, Reason: err.Error()}
		}
		setFloat(row, rule.Target, f)
	case KindTime:
		ts, err := coerceTime(value)
		if err != nil {
			return &MalformedRecordError{Field: rule.Source, Reason: err.Error()}
		}
		row.Timestamp = ts
	default:
		return &MalformedRecordError{Field: rule.Source, Reason: fmt.Sprintf("unknown coercion kind %d", rule.Kind)}
	}
	return nil
}

func setString(row *record.CanonicalRow, target Target, v string) {
	switch target {
	case TargetID:
		row.ID = v
	case TargetProvider:
		row.Provider = v
	case TargetTechnology:
		row.Technology = v
	case TargetResidential:
		row.ResidentialCode = v
	}
}

func setFloat(row *record.CanonicalRow, target Target, v float64) {
	switch target {
	case TargetLatitude:
		row.Latitude = v
	case TargetLongitude:
		row.Longitude = v
	case TargetDownMbps:
		row.DownMbps = v
	case TargetUpMbps:
		row.UpMbps = v
	}
}

func coerceString(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case float64:
		// Upstream occasionally serializes identifiers as numbers.
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("cannot coerce %T to string", value)
	}
}

func coerceFloat(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot coerce %q to float", v)
		}
		return f, nil
	case int:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("cannot coerce %T to float", value)
	}
}

// timeFormats accepted for upstream date fields, most specific first.
var timeFormats = []string{
	time.RFC3339,
	"2006-01-02",
}

func coerceTime(value interface{}) (time.Time, error) {
	s, ok := value.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("cannot coerce %T to time", value)
	}
	for _, layout := range timeFormats {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
