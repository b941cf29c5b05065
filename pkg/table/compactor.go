package table

import "github.com/openbdc/broadbandsync/pkg/record"

// DefaultColumns are the categorical columns encoded when a layer does not
// designate its own set.
var DefaultColumns = []Column{ColProvider, ColTechnology, ColCommonTech, ColCategory, ColResidential}

// Compact re-encodes rows into a dictionary-encoded table in a single pass.
// The input is not mutated; row order is preserved. Compaction is lossless:
// decoding every row reproduces the original categorical values exactly.
func Compact(rows []record.IndexedRow, columns []Column) *CompactTable {
	if columns == nil {
		columns = DefaultColumns
	}

	t := &CompactTable{
		Columns: columns,
		Rows:    make([]Row, 0, len(rows)),
		dicts:   make([]*Dictionary, len(columns)),
	}
	for i := range t.dicts {
		t.dicts[i] = NewDictionary()
	}

	for _, ir := range rows {
		row := Row{
			ID:           ir.ID,
			SpatialIndex: ir.SpatialIndex,
			Latitude:     ir.Latitude,
			Longitude:    ir.Longitude,
			DownMbps:     ir.DownMbps,
			UpMbps:       ir.UpMbps,
			Timestamp:    ir.Timestamp,
			Codes:        make([]uint32, len(columns)),
		}
		for i, col := range columns {
			row.Codes[i] = t.dicts[i].Code(categoricalValue(&ir, col))
		}
		t.Rows = append(t.Rows, row)
	}

	return t
}

func categoricalValue(ir *record.IndexedRow, col Column) string {
	switch col {
	case ColProvider:
		return ir.Provider
	case ColTechnology:
		return ir.Technology
	case ColCommonTech:
		return ir.CommonTech
	case ColCategory:
		return ir.Category
	case ColResidential:
		return ir.ResidentialCode
	default:
		return ""
	}
}
