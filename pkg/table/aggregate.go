package table

import (
	"fmt"
	"sort"

	"github.com/openbdc/broadbandsync/pkg/record"
	"github.com/openbdc/broadbandsync/pkg/spatial"
)

// maxServiceKey groups residential records for the summary table.
type maxServiceKey struct {
	cell       uint64
	provider   string
	commonTech string
}

// MaxService aggregates residential records into one row per
// (cell, provider, common tech) carrying the maximum advertised down/up
// speeds. This backs the summary layer a map user clicks through to see the
// best offer per provider and technology in a hex.
//
// When summaryResolution is coarser than the rows' resolution, cell indices
// are rolled up to parent cells before grouping. Output order is
// deterministic (sorted by identifier).
func MaxService(rows []record.IndexedRow, summaryResolution int) ([]record.IndexedRow, error) {
	groups := make(map[maxServiceKey]*record.IndexedRow)

	for _, row := range rows {
		if !row.Residential() {
			continue
		}

		cell := row.SpatialIndex
		if summaryResolution > 0 {
			parent, err := spatial.ToParent(cell, summaryResolution)
			if err != nil {
				return nil, fmt.Errorf("rolling up cell %x: %w", cell, err)
			}
			cell = parent
		}

		key := maxServiceKey{cell: cell, provider: row.Provider, commonTech: row.CommonTech}
		agg, ok := groups[key]
		if !ok {
			lat, lon, err := spatial.Center(cell)
			if err != nil {
				return nil, fmt.Errorf("center of cell %x: %w", cell, err)
			}
			summary := row
			summary.ID = fmt.Sprintf("%x:%s:%s", cell, row.Provider, row.CommonTech)
			summary.SpatialIndex = cell
			summary.Latitude = lat
			summary.Longitude = lon
			groups[key] = &summary
			continue
		}

		if row.DownMbps > agg.DownMbps {
			agg.DownMbps = row.DownMbps
		}
		if row.UpMbps > agg.UpMbps {
			agg.UpMbps = row.UpMbps
		}
		if row.Timestamp.After(agg.Timestamp) {
			agg.Timestamp = row.Timestamp
		}
	}

	out := make([]record.IndexedRow, 0, len(groups))
	for _, agg := range groups {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
