package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mesa-analytics/mesa/internal/refresh"
	"github.com/mesa-analytics/mesa/internal/rollup"
)

// ErrInvalidQuery marks request validation errors that map to HTTP 400.
var ErrInvalidQuery = errors.New("invalid snapshot query")

// SnapshotReader reads the current snapshot of a rollup. The query layer is
// a read-only consumer: it never mutates snapshots and never triggers a
// refresh as part of serving a read.
type SnapshotReader interface {
	Current(ctx context.Context, name string) (*rollup.Snapshot, error)
}

// StatusReader reports refresh job state for staleness/health endpoints.
type StatusReader interface {
	Status(name string) (refresh.Status, bool)
	Statuses() []refresh.Status
}

// Refresher triggers a refresh. Used only by the explicit operator endpoint,
// never by snapshot reads.
type Refresher interface {
	Refresh(ctx context.Context, name string) error
}

// Service serves rollup snapshots and refresh status over HTTP.
type Service struct {
	registry  *rollup.Registry
	snapshots SnapshotReader
	status    StatusReader
	refresher Refresher
	nowFn     func() time.Time
}

// NewService creates the query service. refresher may be nil to disable the
// manual refresh endpoint.
func NewService(registry *rollup.Registry, snapshots SnapshotReader, status StatusReader, refresher Refresher) *Service {
	return &Service{
		registry:  registry,
		snapshots: snapshots,
		status:    status,
		refresher: refresher,
		nowFn:     func() time.Time { return time.Now().UTC() },
	}
}

// List returns all registered rollups with their refresh status.
func (s *Service) List() ListResponse {
	defs := s.registry.List()
	out := ListResponse{Rollups: make([]RollupInfo, 0, len(defs))}
	for _, def := range defs {
		info := RollupInfo{
			Name:        def.Name,
			Granularity: string(def.Granularity),
			Cadence:     def.Cadence.String(),
		}
		for _, dim := range def.Dimensions {
			info.Dimensions = append(info.Dimensions, dim.Name)
		}
		for _, m := range def.Measures {
			info.Measures = append(info.Measures, m.Name)
		}
		if st, ok := s.status.Status(def.Name); ok {
			info.Status = st
		}
		out.Rollups = append(out.Rollups, info)
	}
	return out
}

// Snapshot returns the current snapshot of a rollup, optionally sliced by
// bucket range and dimension equality filters.
func (s *Service) Snapshot(ctx context.Context, name string, q SnapshotQuery) (*SnapshotResponse, error) {
	def, ok := s.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, rollup.ErrUnknownRollup)
	}

	for dim := range q.DimFilters {
		if !def.HasDimension(dim) {
			return nil, fmt.Errorf("%w: rollup %s has no dimension %q", ErrInvalidQuery, name, dim)
		}
	}
	if !q.Start.IsZero() && !q.End.IsZero() && q.End.Before(q.Start) {
		return nil, fmt.Errorf("%w: end before start", ErrInvalidQuery)
	}

	snap, err := s.snapshots.Current(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", name, err)
	}

	resp := &SnapshotResponse{Rollup: name, Rows: []SnapshotRow{}}
	if snap == nil {
		// Registered but never refreshed: an empty, version-zero snapshot.
		return resp, nil
	}

	resp.Version = snap.Version
	refreshedAt := snap.RefreshedAt
	resp.RefreshedAt = &refreshedAt
	resp.StalenessSeconds = int(s.nowFn().Sub(snap.RefreshedAt).Seconds())

	for _, row := range snap.Rows {
		if !q.Start.IsZero() && row.Bucket.Before(q.Start) {
			continue
		}
		if !q.End.IsZero() && !row.Bucket.Before(q.End) {
			continue
		}
		if !matchesDims(row, q.DimFilters) {
			continue
		}
		resp.Rows = append(resp.Rows, SnapshotRow{
			Bucket:   row.Bucket,
			Dims:     row.Dims,
			Measures: row.Measures,
		})
	}
	return resp, nil
}

// RollupStatus returns the refresh status for one rollup.
func (s *Service) RollupStatus(name string) (refresh.Status, error) {
	if _, ok := s.registry.Get(name); !ok {
		return refresh.Status{}, fmt.Errorf("%s: %w", name, rollup.ErrUnknownRollup)
	}
	st, _ := s.status.Status(name)
	return st, nil
}

func matchesDims(row rollup.Row, filters map[string]string) bool {
	for dim, want := range filters {
		if row.Dims[dim] != want {
			return false
		}
	}
	return true
}
