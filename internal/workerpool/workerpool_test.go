package workerpool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitProcessesAllJobs(t *testing.T) {
	var processed int64
	var wg sync.WaitGroup
	const n = 200
	wg.Add(n)

	p := New(func(job interface{}) {
		atomic.AddInt64(&processed, 1)
		wg.Done()
	}, 16, 4, 0)

	for i := 0; i < n; i++ {
		p.Submit(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("only %d/%d jobs processed before timeout", atomic.LoadInt64(&processed), n)
	}
}

func TestStopDrainsWorkers(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{}, 1)

	p := New(func(job interface{}) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
	}, 4, 2, 0)

	p.Submit(1)
	<-started
	close(block)

	if !p.Stop() {
		t.Fatal("Stop() returned false, want all workers drained")
	}
	if got := p.LiveCount(); got != 0 {
		t.Fatalf("LiveCount() = %d after Stop, want 0", got)
	}
}

func TestIdleWorkersExitBeyondMaxIdle(t *testing.T) {
	p := New(func(job interface{}) {}, 8, 1, 0)

	for i := 0; i < 5; i++ {
		p.Submit(i)
		time.Sleep(20 * time.Millisecond)
	}

	// Give goroutines time to settle into idle/exit.
	time.Sleep(100 * time.Millisecond)
	if got := p.LiveCount(); got > 2 {
		t.Fatalf("LiveCount() = %d, want workers beyond maxIdle to have exited", got)
	}
	p.Stop()
}
