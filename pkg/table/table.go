// Package table implements the dictionary-encoded in-memory table that sits
// between ingestion and publishing. Low-cardinality string columns are stored
// once in a per-column dictionary and referenced by compact per-row codes,
// so footprint is O(distinct values) + O(rows * code width) rather than
// O(rows * string length).
package table

import (
	"fmt"
	"time"

	"github.com/openbdc/broadbandsync/pkg/record"
)

// Column names a categorical column eligible for dictionary encoding.
// Columns are designated by configuration, never auto-detected from observed
// cardinality, so the encoded schema is deterministic across runs.
type Column string

const (
	ColProvider    Column = "provider"
	ColTechnology  Column = "technology"
	ColCommonTech  Column = "common_tech"
	ColCategory    Column = "category"
	ColResidential Column = "residential_code"
)

// ParseColumns converts configured column names, rejecting unknown ones.
func ParseColumns(names []string) ([]Column, error) {
	columns := make([]Column, 0, len(names))
	for _, name := range names {
		col := Column(name)
		switch col {
		case ColProvider, ColTechnology, ColCommonTech, ColCategory, ColResidential:
			columns = append(columns, col)
		default:
			return nil, fmt.Errorf("unknown categorical column %q", name)
		}
	}
	return columns, nil
}

// Dictionary holds the distinct values of one categorical column in
// first-seen order. Codes are positions in that order and are stable only
// within the owning table's lifetime; they are never persisted across runs.
type Dictionary struct {
	values []string
	codes  map[string]uint32
}

// NewDictionary creates an empty dictionary.
func NewDictionary() *Dictionary {
	return &Dictionary{codes: make(map[string]uint32)}
}

// Code returns the code for a value, assigning the next position on first
// sight.
func (d *Dictionary) Code(value string) uint32 {
	if code, ok := d.codes[value]; ok {
		return code
	}
	code := uint32(len(d.values))
	d.values = append(d.values, value)
	d.codes[value] = code
	return code
}

// Value decodes a code back to its original string.
func (d *Dictionary) Value(code uint32) (string, bool) {
	if int(code) >= len(d.values) {
		return "", false
	}
	return d.values[code], true
}

// Len returns the number of distinct values observed.
func (d *Dictionary) Len() int { return len(d.values) }

// Values returns the dictionary contents in first-seen order.
func (d *Dictionary) Values() []string {
	out := make([]string, len(d.values))
	copy(out, d.values)
	return out
}

// Row is one table row with categorical fields replaced by dictionary codes.
// Codes is parallel to the owning table's Columns.
type Row struct {
	ID           string
	SpatialIndex uint64
	Latitude     float64
	Longitude    float64
	DownMbps     float64
	UpMbps       float64
	Timestamp    time.Time
	Codes        []uint32
}

// CompactTable is an ordered sequence of rows plus the per-column
// dictionaries needed to decode them.
type CompactTable struct {
	Columns []Column
	Rows    []Row

	dicts []*Dictionary
}

// Len returns the number of rows.
func (t *CompactTable) Len() int { return len(t.Rows) }

// Dictionary returns the dictionary for a column, or nil if the column is
// not encoded in this table.
func (t *CompactTable) Dictionary(col Column) *Dictionary {
	for i, c := range t.Columns {
		if c == col {
			return t.dicts[i]
		}
	}
	return nil
}

// Decode returns the original string value for one cell.
func (t *CompactTable) Decode(rowIdx int, col Column) (string, error) {
	for i, c := range t.Columns {
		if c != col {
			continue
		}
		value, ok := t.dicts[i].Value(t.Rows[rowIdx].Codes[i])
		if !ok {
			return "", fmt.Errorf("row %d: code %d out of range for column %q", rowIdx, t.Rows[rowIdx].Codes[i], col)
		}
		return value, nil
	}
	return "", fmt.Errorf("column %q not encoded in table", col)
}

// DecodeRow reconstructs the full indexed row, proving the encoding lossless.
func (t *CompactTable) DecodeRow(rowIdx int) (record.IndexedRow, error) {
	row := t.Rows[rowIdx]
	out := record.IndexedRow{
		CanonicalRow: record.CanonicalRow{
			ID:        row.ID,
			Latitude:  row.Latitude,
			Longitude: row.Longitude,
			DownMbps:  row.DownMbps,
			UpMbps:    row.UpMbps,
			Timestamp: row.Timestamp,
		},
		SpatialIndex: row.SpatialIndex,
	}

	for i, col := range t.Columns {
		value, ok := t.dicts[i].Value(row.Codes[i])
		if !ok {
			return out, fmt.Errorf("row %d: code %d out of range for column %q", rowIdx, row.Codes[i], col)
		}
		switch col {
		case ColProvider:
			out.Provider = value
		case ColTechnology:
			out.Technology = value
		case ColCommonTech:
			out.CommonTech = value
		case ColCategory:
			out.Category = value
		case ColResidential:
			out.ResidentialCode = value
		}
	}
	return out, nil
}
