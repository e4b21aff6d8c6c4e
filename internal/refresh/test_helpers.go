package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/mesa-analytics/mesa/internal/rollup"
)

// stubFactSource is a test helper implementing FactSource with a function.
type stubFactSource struct {
	fn func(ctx context.Context, def rollup.Definition) ([]rollup.FactRow, error)
}

func (s stubFactSource) FetchFacts(ctx context.Context, def rollup.Definition) ([]rollup.FactRow, error) {
	return s.fn(ctx, def)
}

// recordingSink is a test helper that captures refresh events.
type recordingSink struct {
	mu        sync.Mutex
	started   []string
	completed []string
	failed    []string
	timeouts  int
}

func (r *recordingSink) RefreshStarted(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, name)
}

func (r *recordingSink) RefreshCompleted(name string, _ int64, _ int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, name)
}

func (r *recordingSink) RefreshFailed(name string, _ time.Duration, timeout bool, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, name)
	if timeout {
		r.timeouts++
	}
}

func (r *recordingSink) counts() (started, completed, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.started), len(r.completed), len(r.failed)
}
