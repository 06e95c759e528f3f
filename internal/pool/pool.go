// Package pool runs scheduled jobs and fire-and-forget follow-ups on a
// bounded set of workers: 5 resident workers, up to 10 under load, a queue
// of 100, and caller-runs overflow so a saturated pool throttles producers
// instead of dropping work.
package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	coreWorkers = 5
	maxWorkers  = 10
	queueSize   = 100
)

type Pool struct {
	queue  chan func()
	log    *slog.Logger
	wg     sync.WaitGroup
	mu     sync.Mutex
	extra  int
	closed bool
}

func New(log *slog.Logger) *Pool {
	p := &Pool{
		queue: make(chan func(), queueSize),
		log:   log,
	}
	for i := 0; i < coreWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit enqueues fn. When the queue is full it first tries to grow the
// pool toward maxWorkers; if already at the ceiling the caller runs fn
// itself (backpressure, matching the thread pool's caller-runs policy).
// Every send happens under the mutex that also guards close, so a task
// submitted during shutdown runs inline instead of hitting a closed queue.
func (p *Pool) Submit(fn func()) {
	run := p.wrap(fn)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		run()
		return
	}

	select {
	case p.queue <- run:
		p.mu.Unlock()
		return
	default:
	}

	if p.extra < maxWorkers-coreWorkers {
		p.extra++
		p.wg.Add(1)
		go p.extraWorker()
		// The fresh worker drains without taking the mutex, so this send
		// completes even though the queue was full a moment ago.
		p.queue <- run
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	run()
}

// SubmitDelayed schedules fn after d. The delay timer itself is not a
// worker; the work lands on the pool when it fires. ctx cancellation drops
// the pending task.
func (p *Pool) SubmitDelayed(ctx context.Context, d time.Duration, fn func()) {
	t := time.NewTimer(d)
	go func() {
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
			p.Submit(fn)
		}
	}()
}

// Shutdown stops accepting work and waits up to wait for in-flight tasks.
func (p *Pool) Shutdown(wait time.Duration) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(wait):
		p.log.Warn("worker pool shutdown timed out", "wait", wait)
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for fn := range p.queue {
		fn()
	}
}

// extraWorker drains the queue and exits once it idles.
func (p *Pool) extraWorker() {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		p.extra--
		p.mu.Unlock()
	}()
	for {
		select {
		case fn, ok := <-p.queue:
			if !ok {
				return
			}
			fn()
		default:
			return
		}
	}
}

func (p *Pool) wrap(fn func()) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				p.log.Error("task panicked", "panic", r)
			}
		}()
		fn()
	}
}
