package query

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mesa-analytics/mesa/internal/refresh"
)

// RollupInfo describes one registered rollup and its refresh state.
type RollupInfo struct {
	Name        string         `json:"name"`
	Granularity string         `json:"granularity"`
	Dimensions  []string       `json:"dimensions"`
	Measures    []string       `json:"measures"`
	Cadence     string         `json:"cadence"`
	Status      refresh.Status `json:"status"`
}

// ListResponse is the body of GET /v1/rollups.
type ListResponse struct {
	Rollups []RollupInfo `json:"rollups"`
}

// SnapshotRow is one output row of a snapshot response.
type SnapshotRow struct {
	Bucket   time.Time                  `json:"bucket"`
	Dims     map[string]string          `json:"dims"`
	Measures map[string]decimal.Decimal `json:"measures"`
}

// SnapshotResponse is the body of GET /v1/rollups/:name. Staleness is
// explicit: readers always get a complete snapshot, possibly an old one.
type SnapshotResponse struct {
	Rollup           string        `json:"rollup"`
	Version          int64         `json:"version"`
	RefreshedAt      *time.Time    `json:"refreshed_at"`
	StalenessSeconds int           `json:"staleness_seconds"`
	Rows             []SnapshotRow `json:"rows"`
}

// SnapshotQuery carries the optional slicing parameters of a snapshot read:
// a bucket range and dimension equality filters over dimensions already
// present in the snapshot.
type SnapshotQuery struct {
	Start      time.Time
	End        time.Time
	DimFilters map[string]string
}
