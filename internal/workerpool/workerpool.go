// Package workerpool implements the bounded, reusable worker pool
// (C6, "thread cache" in the original) that consumes a slot FIFO of
// jobs with an overflow-by-spawning policy.
//
// thread_cache.c hand-manages a circular array of packet pointers
// plus condition variables for idle workers. The Go idiom for a
// bounded FIFO with blocking producers/consumers is a buffered
// channel, and the idiom for "at most N idle waiters" is
// golang.org/x/sync/semaphore.Weighted — both are used here instead
// of reimplementing a circular buffer and condition variable by hand.
package workerpool

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Callback processes one job. Implementations must not retain job
// beyond the call.
type Callback func(job interface{})

// Pool is a bounded worker pool with reuse and overflow-by-spawn.
type Pool struct {
	callback Callback
	slots    chan interface{}
	maxReuse int
	idleSem  *semaphore.Weighted

	mu        sync.Mutex
	liveCount int
	idleCount int64

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a pool. nSlots bounds the pending-job FIFO; maxIdle
// bounds how many workers may sit idle waiting for the next job
// before self-exiting; maxReuse bounds how many jobs a single worker
// goroutine processes before it exits (0 means no bound).
func New(callback Callback, nSlots, maxIdle, maxReuse int) *Pool {
	if maxReuse <= 0 {
		maxReuse = 1 << 30
	}
	return &Pool{
		callback: callback,
		slots:    make(chan interface{}, nSlots),
		maxReuse: maxReuse,
		idleSem:  semaphore.NewWeighted(int64(maxIdle)),
		stopCh:   make(chan struct{}),
	}
}

// Submit hands job to an idle worker if one is available and the
// slot FIFO is not full; otherwise it spawns a new worker goroutine
// with job as its first task. Submit never blocks.
func (p *Pool) Submit(job interface{}) {
	if p.idleWorkers() > 0 {
		select {
		case p.slots <- job:
			return
		default:
		}
	}
	p.spawn(job)
}

func (p *Pool) idleWorkers() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idleCount
}

func (p *Pool) spawn(first interface{}) {
	p.mu.Lock()
	p.liveCount++
	p.mu.Unlock()
	p.wg.Add(1)
	go p.run(first)
}

func (p *Pool) run(job interface{}) {
	defer p.finish()
	processed := 0
	for {
		p.callback(job)
		processed++
		if processed >= p.maxReuse {
			return
		}

		if !p.idleSem.TryAcquire(1) {
			// Already maxIdle workers parked; this one exits
			// rather than piling up further idle goroutines.
			return
		}
		p.mu.Lock()
		p.idleCount++
		p.mu.Unlock()

		select {
		case next, ok := <-p.slots:
			p.mu.Lock()
			p.idleCount--
			p.mu.Unlock()
			p.idleSem.Release(1)
			if !ok {
				return
			}
			job = next
		case <-p.stopCh:
			p.mu.Lock()
			p.idleCount--
			p.mu.Unlock()
			p.idleSem.Release(1)
			return
		}
	}
}

func (p *Pool) finish() {
	p.mu.Lock()
	p.liveCount--
	p.mu.Unlock()
	p.wg.Done()
}

// LiveCount returns the number of worker goroutines currently alive
// (processing a job or idling), for tests and diagnostics.
func (p *Pool) LiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.liveCount
}

// Stop signals every idle worker to exit and waits, with escalating
// timeouts (1s, 3s, 5s, mirroring the original's bounded shutdown
// wait), for all workers to drain. It returns false if workers were
// still live after the full wait.
func (p *Pool) Stop() bool {
	p.stopOnce.Do(func() { close(p.stopCh) })

	for _, timeout := range []time.Duration{time.Second, 3 * time.Second, 5 * time.Second} {
		if p.waitLive(timeout) {
			return true
		}
	}
	return p.LiveCount() == 0
}

func (p *Pool) waitLive(timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
