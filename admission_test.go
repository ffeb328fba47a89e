package main

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmissionGateRejectsWhenFull(t *testing.T) {
	g := newAdmissionGate(2, 50*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, g.Acquire(ctx))
	require.NoError(t, g.Acquire(ctx))
	assert.Equal(t, int64(0), g.Available())

	err := g.Acquire(ctx)
	assert.ErrorIs(t, err, errServerBusy)

	g.Release()
	assert.Equal(t, int64(1), g.Available())
	assert.NoError(t, g.Acquire(ctx))
}

func TestAdmissionGateWaitsForPermit(t *testing.T) {
	g := newAdmissionGate(1, 2*time.Second)
	ctx := context.Background()
	require.NoError(t, g.Acquire(ctx))

	go func() {
		time.Sleep(50 * time.Millisecond)
		g.Release()
	}()

	// Blocks until the in-flight permit frees up, well within the wait.
	assert.NoError(t, g.Acquire(ctx))
}

func TestAdmissionGateBoundsConcurrency(t *testing.T) {
	const capacity = 3
	g := newAdmissionGate(capacity, 5*time.Second)

	var current, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.Acquire(context.Background()); err != nil {
				return
			}
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			current.Add(-1)
			g.Release()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(capacity))
	assert.Equal(t, int64(capacity), g.Available())
}
