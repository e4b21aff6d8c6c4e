package refresh

import (
	"log/slog"
	"time"
)

// Sink receives refresh lifecycle events. Used for alerting on stale or
// repeatedly-failing rollups; implementations must not block the refresh
// path for long.
type Sink interface {
	RefreshStarted(rollup string)
	RefreshCompleted(rollup string, version int64, rows int, took time.Duration)
	RefreshFailed(rollup string, took time.Duration, timeout bool, err error)
}

// LogSink writes refresh events to the structured log.
type LogSink struct{}

func (LogSink) RefreshStarted(rollup string) {
	slog.Info("[Refresh] Started", "rollup", rollup)
}

func (LogSink) RefreshCompleted(rollup string, version int64, rows int, took time.Duration) {
	slog.Info("[Refresh] Completed",
		"rollup", rollup,
		"version", version,
		"rows", rows,
		"took", took,
	)
}

func (LogSink) RefreshFailed(rollup string, took time.Duration, timeout bool, err error) {
	slog.Error("[Refresh] Failed",
		"rollup", rollup,
		"took", took,
		"timeout", timeout,
		"error", err,
	)
}

// Sinks fans one event stream out to several sinks.
type Sinks []Sink

func (s Sinks) RefreshStarted(rollup string) {
	for _, sink := range s {
		sink.RefreshStarted(rollup)
	}
}

func (s Sinks) RefreshCompleted(rollup string, version int64, rows int, took time.Duration) {
	for _, sink := range s {
		sink.RefreshCompleted(rollup, version, rows, took)
	}
}

func (s Sinks) RefreshFailed(rollup string, took time.Duration, timeout bool, err error) {
	for _, sink := range s {
		sink.RefreshFailed(rollup, took, timeout, err)
	}
}
