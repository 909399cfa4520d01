package pool

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPool_Validation(t *testing.T) {
	_, err := NewPool(0, nil)
	assert.Error(t, err)
}

func TestSubmit_NeverExceedsCeiling(t *testing.T) {
	p, err := NewPool(2, nil)
	require.NoError(t, err)

	// Sample concurrency while workers run.
	maxActive := 0
	var mu sync.Mutex
	quit := make(chan struct{})
	var sampler sync.WaitGroup
	sampler.Add(1)
	go func() {
		defer sampler.Done()
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				mu.Lock()
				if active := p.Active(); active > maxActive {
					maxActive = active
				}
				mu.Unlock()
			}
		}
	}()

	for i := 0; i < 4; i++ {
		w := newTestWorker(t, fmt.Sprintf("task-%d", i), "sh", "-c", "sleep 0.2")
		require.NoError(t, p.Submit(w))
	}

	results := p.CollectResults(10 * time.Second)
	close(quit)
	sampler.Wait()
	assert.Len(t, results, 4)

	assert.LessOrEqual(t, maxActive, 2)

	for _, w := range p.Workers() {
		assert.Equal(t, StateCompleted, w.State())
	}
}

func TestCollectResults_KillsOverdueWorkers(t *testing.T) {
	p, err := NewPool(2, nil)
	require.NoError(t, err)

	fast := newTestWorker(t, "fast", "sh", "-c", "exit 0")
	slow := newTestWorker(t, "slow", "sleep", "30")
	require.NoError(t, p.Submit(fast))
	require.NoError(t, p.Submit(slow))

	results := p.CollectResults(500 * time.Millisecond)
	require.Len(t, results, 2)
	assert.Equal(t, StateCompleted, results["fast"].State)
	assert.Equal(t, StateTimeout, results["slow"].State)
}

func TestSubmit_DuplicateTaskID(t *testing.T) {
	p, err := NewPool(2, nil)
	require.NoError(t, err)

	first := newTestWorker(t, "t1", "sh", "-c", "exit 0")
	require.NoError(t, p.Submit(first))

	err = p.Submit(newTestWorker(t, "t1", "sh", "-c", "exit 0"))
	assert.ErrorIs(t, err, ErrDuplicateTask)

	results := p.CollectResults(5 * time.Second)
	assert.Len(t, results, 1)
}

func TestSubmit_AfterCollectFails(t *testing.T) {
	p, err := NewPool(1, nil)
	require.NoError(t, err)

	w := newTestWorker(t, "t1", "sh", "-c", "exit 0")
	require.NoError(t, p.Submit(w))
	p.CollectResults(5 * time.Second)

	err = p.Submit(newTestWorker(t, "t2", "sh", "-c", "exit 0"))
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestSubmit_StartFailureReleasesSlot(t *testing.T) {
	p, err := NewPool(1, nil)
	require.NoError(t, err)

	bad := newTestWorker(t, "bad", "/nonexistent/binary")
	assert.Error(t, p.Submit(bad))
	assert.Zero(t, p.Active())

	// The slot is free for the next worker.
	good := newTestWorker(t, "good", "sh", "-c", "exit 0")
	require.NoError(t, p.Submit(good))
	p.CollectResults(5 * time.Second)
	assert.Equal(t, StateCompleted, good.State())
}
