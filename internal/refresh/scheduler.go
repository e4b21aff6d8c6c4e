package refresh

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mesa-analytics/mesa/internal/rollup"
)

const defaultStopTimeout = 30 * time.Second

// Scheduler drives one refresh loop per registered rollup at its configured
// cadence. Each loop fires refreshes as background operations and keeps
// ticking regardless of how long a refresh takes; a tick landing while the
// previous refresh is still running is skipped, not queued.
//
// The set of loops is fixed at Start from the registry's contents. Changing
// cadences or definitions means re-registering and restarting the scheduler,
// not hot-swapping a running job's parameters.
type Scheduler struct {
	registry    *rollup.Registry
	executor    *Executor
	stopTimeout time.Duration

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	loops    *errgroup.Group
	inflight sync.WaitGroup
}

// NewScheduler creates a scheduler over the registry and executor.
// stopTimeout bounds how long Stop waits for in-flight refreshes; zero means
// the default of 30s.
func NewScheduler(registry *rollup.Registry, executor *Executor, stopTimeout time.Duration) *Scheduler {
	if stopTimeout <= 0 {
		stopTimeout = defaultStopTimeout
	}
	return &Scheduler{
		registry:    registry,
		executor:    executor,
		stopTimeout: stopTimeout,
	}
}

// Start launches the per-rollup refresh loops. Idempotent while running.
// Every rollup is refreshed once immediately so a fresh deployment serves
// data before the first cadence elapses.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	s.cancel = cancel
	s.loops = group
	s.running = true

	defs := s.registry.List()
	for _, def := range defs {
		def := def
		group.Go(func() error {
			s.runLoop(gctx, def)
			return nil
		})
	}

	slog.Info("[Scheduler] Started", "rollups", len(defs), "stop_timeout", s.stopTimeout)
}

func (s *Scheduler) runLoop(ctx context.Context, def rollup.Definition) {
	slog.Info("[Scheduler] Loop running", "rollup", def.Name, "cadence", def.Cadence)

	ticker := time.NewTicker(def.Cadence)
	defer ticker.Stop()

	s.trigger(def.Name)

	for {
		select {
		case <-ticker.C:
			s.trigger(def.Name)
		case <-ctx.Done():
			slog.Info("[Scheduler] Loop stopping", "rollup", def.Name)
			return
		}
	}
}

// trigger fires one refresh in the background. The refresh context is
// detached from the loop context: shutdown stops triggering new refreshes
// but never aborts one mid-swap; in-flight runs complete or time out on
// their own deadline.
func (s *Scheduler) trigger(name string) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		err := s.executor.Refresh(context.Background(), name)
		switch {
		case err == nil:
		case errors.Is(err, rollup.ErrRefreshInProgress):
			slog.Debug("[Scheduler] Tick skipped, refresh still running", "rollup", name)
		default:
			// Already reported through the sink; the next tick retries.
			slog.Warn("[Scheduler] Refresh failed, keeping last-good snapshot", "rollup", name, "error", err)
		}
	}()
}

// Stop requests graceful shutdown: loops stop ticking, in-flight refreshes
// run to completion, and Stop returns once the last one finishes or the stop
// timeout elapses.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	loops := s.loops
	s.mu.Unlock()

	cancel()
	_ = loops.Wait()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("[Scheduler] Stopped, all refreshes drained")
	case <-time.After(s.stopTimeout):
		slog.Warn("[Scheduler] Stop timeout elapsed with refreshes still in flight", "timeout", s.stopTimeout)
	}
}
