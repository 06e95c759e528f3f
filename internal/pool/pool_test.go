package pool

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestSubmitRunsAll(t *testing.T) {
	p := New(testLogger())
	var n int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		p.Submit(func() {
			defer wg.Done()
			atomic.AddInt64(&n, 1)
		})
	}
	wg.Wait()
	p.Shutdown(time.Second)
	assert.Equal(t, int64(50), atomic.LoadInt64(&n))
}

func TestCallerRunsWhenSaturated(t *testing.T) {
	p := New(testLogger())
	block := make(chan struct{})

	// Occupy every worker and fill the queue.
	for i := 0; i < maxWorkers+queueSize; i++ {
		p.Submit(func() { <-block })
	}

	// The next submission must run on the calling goroutine rather than
	// waiting for a worker.
	ran := make(chan struct{})
	done := make(chan struct{})
	go func() {
		p.Submit(func() { close(ran) })
		close(done)
	}()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("expected caller-runs execution under saturation")
	}
	<-done
	close(block)
	p.Shutdown(time.Second)
}

func TestSubmitRacingShutdown(t *testing.T) {
	p := New(testLogger())

	var ran int64
	const tasks = 200
	var wg sync.WaitGroup
	for i := 0; i < tasks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Submit(func() { atomic.AddInt64(&ran, 1) })
		}()
	}
	p.Shutdown(time.Second)
	wg.Wait()

	// Every task ran somewhere: on a worker before the close, or inline on
	// its submitter after it. None may panic on a closed queue.
	assert.Equal(t, int64(tasks), atomic.LoadInt64(&ran))
}

func TestSubmitDelayed(t *testing.T) {
	p := New(testLogger())
	defer p.Shutdown(time.Second)

	ran := make(chan struct{})
	p.SubmitDelayed(context.Background(), 10*time.Millisecond, func() { close(ran) })
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("delayed task did not run")
	}
}

func TestSubmitDelayedCancelled(t *testing.T) {
	p := New(testLogger())
	defer p.Shutdown(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	var ran int64
	p.SubmitDelayed(ctx, 50*time.Millisecond, func() { atomic.AddInt64(&ran, 1) })
	cancel()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(0), atomic.LoadInt64(&ran))
}

func TestPanicContained(t *testing.T) {
	p := New(testLogger())
	defer p.Shutdown(time.Second)

	done := make(chan struct{})
	p.Submit(func() { panic("boom") })
	p.Submit(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool died after panic")
	}
}
