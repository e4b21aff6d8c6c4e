// Package memory provides an in-process snapshot store backed by a
// double-buffered pointer: each refresh builds a fresh immutable snapshot and
// a single map store makes it current. Readers always dereference one
// complete snapshot, and versions per rollup are strictly increasing.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/mesa-analytics/mesa/internal/rollup"
)

// SnapshotStore implements refresh.SnapshotStore and query.SnapshotReader
// in memory. Suitable for tests and single-process deployments without a
// database.
type SnapshotStore struct {
	snapshots *xsync.Map[string, *rollup.Snapshot]

	// mu serializes swaps so versions stay monotonic; reads never take it.
	mu sync.Mutex
}

// NewSnapshotStore creates an empty store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		snapshots: xsync.NewMap[string, *rollup.Snapshot](),
	}
}

// Swap installs rows as the current snapshot of the rollup and returns the
// new version. The stored snapshot is never mutated afterwards, so readers
// holding the previous pointer keep a complete consistent view.
func (s *SnapshotStore) Swap(_ context.Context, def rollup.Definition, rows []rollup.Row, refreshedAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	version := int64(1)
	if prev, ok := s.snapshots.Load(def.Name); ok {
		version = prev.Version + 1
	}

	s.snapshots.Store(def.Name, &rollup.Snapshot{
		Rollup:      def.Name,
		Version:     version,
		RefreshedAt: refreshedAt,
		Rows:        rows,
	})
	return version, nil
}

// Current returns the live snapshot of the rollup, or nil if it has never
// been refreshed.
func (s *SnapshotStore) Current(_ context.Context, name string) (*rollup.Snapshot, error) {
	snap, ok := s.snapshots.Load(name)
	if !ok {
		return nil, nil
	}
	return snap, nil
}
