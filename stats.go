package main

import "sync/atomic"

// statCounters are process-lifetime conversion counters exposed by the
// metrics endpoint. Purely in-memory, reset on restart.
type statCounters struct {
	started   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64
	stalled   atomic.Int64
	reaped    atomic.Int64
	busy      atomic.Int64
}

func (c *statCounters) snapshot() map[string]int64 {
	return map[string]int64{
		"tasks_started":   c.started.Load(),
		"tasks_completed": c.completed.Load(),
		"tasks_failed":    c.failed.Load(),
		"tasks_cancelled": c.cancelled.Load(),
		"tasks_stalled":   c.stalled.Load(),
		"files_reaped":    c.reaped.Load(),
		"rejected_busy":   c.busy.Load(),
	}
}
