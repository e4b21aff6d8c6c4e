package refresh

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mesa-analytics/mesa/internal/rollup"
)

// FactSource fetches the qualifying fact rows for one rollup definition.
// Implementations must read under a consistent point-in-time view so every
// row of the resulting snapshot reflects the same logical base-table state.
type FactSource interface {
	FetchFacts(ctx context.Context, def rollup.Definition) ([]rollup.FactRow, error)
}

// SnapshotStore persists rollup snapshots. Swap must be atomic relative to
// readers: a reader sees the previous complete snapshot or the new complete
// snapshot, never a mix, and versions are monotonically increasing per
// rollup. Current must read version and rows from one consistent view.
type SnapshotStore interface {
	Swap(ctx context.Context, def rollup.Definition, rows []rollup.Row, refreshedAt time.Time) (version int64, err error)
	Current(ctx context.Context, name string) (*rollup.Snapshot, error)
}

// JobState is the execution state of one rollup's refresh job.
type JobState string

const (
	StateIdle    JobState = "idle"
	StateRunning JobState = "running"
	StateFailed  JobState = "failed"
)

// Status is the last-known execution state of one rollup's refresh job,
// exposed for staleness and health reporting.
type Status struct {
	Rollup              string        `json:"rollup"`
	State               JobState      `json:"state"`
	Version             int64         `json:"version"`
	LastRefreshedAt     time.Time     `json:"last_refreshed_at"`
	LastDuration        time.Duration `json:"last_duration"`
	LastRows            int           `json:"last_rows"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastError           string        `json:"last_error,omitempty"`
}

type jobStatus struct {
	running bool
	status  Status
}

// Executor computes full replacement snapshots and swaps them in atomically.
// At most one refresh per rollup runs at a time; failures leave the previous
// snapshot live.
type Executor struct {
	registry  *rollup.Registry
	facts     FactSource
	snapshots SnapshotStore
	sink      Sink

	mu   sync.Mutex
	jobs map[string]*jobStatus

	nowFn func() time.Time
}

// NewExecutor wires the refresh executor. sink may be nil.
func NewExecutor(registry *rollup.Registry, facts FactSource, snapshots SnapshotStore, sink Sink) *Executor {
	if sink == nil {
		sink = Sinks{}
	}
	return &Executor{
		registry:  registry,
		facts:     facts,
		snapshots: snapshots,
		sink:      sink,
		jobs:      make(map[string]*jobStatus),
		nowFn:     func() time.Time { return time.Now().UTC() },
	}
}

// Refresh recomputes the named rollup and atomically swaps the new snapshot
// in. Returns rollup.ErrUnknownRollup for unregistered names and
// rollup.ErrRefreshInProgress when a refresh of the same rollup is already
// running. Overlapping triggers are skipped, not queued, since a fresher
// run makes a queued one moot.
//
// The refresh runs under the caller's context plus the definition's
// MaxDuration deadline. A run past the deadline is discarded and reported as
// a timeout; the next tick retries.
func (e *Executor) Refresh(ctx context.Context, name string) error {
	def, ok := e.registry.Get(name)
	if !ok {
		return fmt.Errorf("%s: %w", name, rollup.ErrUnknownRollup)
	}

	js, err := e.acquire(name)
	if err != nil {
		return err
	}

	if def.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, def.MaxDuration)
		defer cancel()
	}

	start := e.nowFn()
	e.sink.RefreshStarted(name)

	facts, err := e.facts.FetchFacts(ctx, def)
	if err != nil {
		return e.fail(js, name, start, fmt.Errorf("fetch facts: %w", err))
	}

	rows, err := rollup.BuildRows(def, facts)
	if err != nil {
		return e.fail(js, name, start, fmt.Errorf("build snapshot: %w", err))
	}

	refreshedAt := e.nowFn()
	version, err := e.snapshots.Swap(ctx, def, rows, refreshedAt)
	if err != nil {
		return e.fail(js, name, start, fmt.Errorf("swap snapshot: %w", err))
	}

	took := e.nowFn().Sub(start)

	e.mu.Lock()
	js.running = false
	js.status.State = StateIdle
	js.status.Version = version
	js.status.LastRefreshedAt = refreshedAt
	js.status.LastDuration = took
	js.status.LastRows = len(rows)
	js.status.ConsecutiveFailures = 0
	js.status.LastError = ""
	e.mu.Unlock()

	e.sink.RefreshCompleted(name, version, len(rows), took)
	return nil
}

// acquire claims the per-rollup refresh slot or reports it busy.
func (e *Executor) acquire(name string) (*jobStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	js, ok := e.jobs[name]
	if !ok {
		js = &jobStatus{status: Status{Rollup: name, State: StateIdle}}
		e.jobs[name] = js
	}
	if js.running {
		return nil, fmt.Errorf("%s: %w", name, rollup.ErrRefreshInProgress)
	}
	js.running = true
	js.status.State = StateRunning
	return js, nil
}

func (e *Executor) fail(js *jobStatus, name string, start time.Time, cause error) error {
	took := e.nowFn().Sub(start)
	timeout := errors.Is(cause, context.DeadlineExceeded)
	rerr := &rollup.RefreshError{Rollup: name, Timeout: timeout, Err: cause}

	e.mu.Lock()
	js.running = false
	js.status.State = StateFailed
	js.status.LastDuration = took
	js.status.ConsecutiveFailures++
	js.status.LastError = rerr.Error()
	e.mu.Unlock()

	e.sink.RefreshFailed(name, took, timeout, cause)
	return rerr
}

// Status returns the last-known job state for one rollup. The second return
// is false if the rollup has never been refreshed and is not registered.
func (e *Executor) Status(name string) (Status, bool) {
	e.mu.Lock()
	if js, ok := e.jobs[name]; ok {
		st := js.status
		e.mu.Unlock()
		return st, true
	}
	e.mu.Unlock()

	if _, ok := e.registry.Get(name); ok {
		return Status{Rollup: name, State: StateIdle}, true
	}
	return Status{}, false
}

// Statuses returns job states for all registered rollups, sorted by name.
func (e *Executor) Statuses() []Status {
	defs := e.registry.List()
	out := make([]Status, 0, len(defs))
	for _, def := range defs {
		st, _ := e.Status(def.Name)
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rollup < out[j].Rollup })
	return out
}
