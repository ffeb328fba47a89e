package main

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// errServerBusy is surfaced when the admission wait expires. No job is
// queued past this wait; it is rejected.
var errServerBusy = errors.New("server busy, too many concurrent downloads, try again")

// AdmissionGate bounds the number of concurrently running conversion
// pipelines. Acquisition waits at most AdmissionWait before giving up.
type AdmissionGate struct {
	sem      *semaphore.Weighted
	capacity int64
	inFlight atomic.Int64
	wait     time.Duration
}

func newAdmissionGate(capacity int64, wait time.Duration) *AdmissionGate {
	return &AdmissionGate{
		sem:      semaphore.NewWeighted(capacity),
		capacity: capacity,
		wait:     wait,
	}
}

// Acquire blocks until a permit is free or the bounded wait expires.
func (g *AdmissionGate) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, g.wait)
	defer cancel()
	if err := g.sem.Acquire(waitCtx, 1); err != nil {
		return errServerBusy
	}
	g.inFlight.Add(1)
	return nil
}

func (g *AdmissionGate) Release() {
	g.inFlight.Add(-1)
	g.sem.Release(1)
}

// Available returns the number of free permits, for diagnostics.
func (g *AdmissionGate) Available() int64 {
	free := g.capacity - g.inFlight.Load()
	if free < 0 {
		free = 0
	}
	return free
}
