package rollup

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FactRow is one qualifying input row as delivered by a fact source.
// Values is keyed by source value column; a column absent from the map did
// not qualify for that measure (e.g. a NULL duration).
type FactRow struct {
	Timestamp time.Time
	Dims      map[string]string
	Values    map[string]decimal.Decimal
}

// Row is one output row of a rollup snapshot. (Bucket, Dims) is the row's
// unique key within the snapshot.
type Row struct {
	Bucket   time.Time                  `json:"bucket"`
	Dims     map[string]string          `json:"dims"`
	Measures map[string]decimal.Decimal `json:"measures"`
}

// DimKey returns the canonical dimension-tuple key of the row, following the
// definition's dimension order. Combined with the bucket it uniquely
// identifies the row.
func (r Row) DimKey(dims []Dimension) string {
	if len(dims) == 0 {
		return ""
	}
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = r.Dims[d.Name]
	}
	return strings.Join(parts, "\x1f")
}

// Snapshot is one complete, internally consistent materialization of a
// rollup. Every refresh produces a full replacement; Version increases with
// each swap and readers observe versions monotonically.
type Snapshot struct {
	Rollup      string    `json:"rollup"`
	Version     int64     `json:"version"`
	RefreshedAt time.Time `json:"refreshed_at"`
	Rows        []Row     `json:"rows"`
}
