package resilience

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkerPoolExecutesJobs(t *testing.T) {
	pool := NewWorkerPool(3, 6)
	defer pool.Close()

	var count int32
	for i := 0; i < 10; i++ {
		if err := pool.Submit(context.Background(), func() {
			atomic.AddInt32(&count, 1)
		}); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	pool.Close()
	pool.Wait()

	if got := atomic.LoadInt32(&count); got != 10 {
		t.Fatalf("expected 10 jobs executed, got %d", got)
	}
}

func TestWorkerPoolSubmitAfterClose(t *testing.T) {
	pool := NewWorkerPool(1, 1)
	pool.Close()
	if err := pool.Submit(context.Background(), func() {}); err != ErrWorkerPoolClosed {
		t.Fatalf("expected ErrWorkerPoolClosed, got %v", err)
	}
	assert.ErrorIs(t, pool.TrySubmit(func() {}), ErrWorkerPoolClosed)
}

func TestWorkerPoolTrySubmitRejectsWhenFull(t *testing.T) {
	pool := NewWorkerPool(1, 1)
	release := make(chan struct{})
	started := make(chan struct{})

	assert.NoError(t, pool.TrySubmit(func() {
		close(started)
		<-release
	}))
	<-started
	assert.NoError(t, pool.TrySubmit(func() {}))
	assert.ErrorIs(t, pool.TrySubmit(func() {}), ErrWorkerPoolFull)
	assert.Equal(t, int64(1), pool.Dropped())
	assert.Equal(t, 1, pool.Queued())

	close(release)
	pool.Close()
	pool.Wait()
}
