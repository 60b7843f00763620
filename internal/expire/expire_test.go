package expire

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeIoctl struct {
	mu        sync.Mutex
	remaining int
}

func (f *fakeIoctl) ExpireMulti() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remaining <= 0 {
		return ErrNoMore
	}
	f.remaining--
	return nil
}

func waitWithTimeout(t *testing.T, d *Driver, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		d.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("Driver.Wait() did not return in time")
	}
}

func TestStartZeroTimeoutIsNoop(t *testing.T) {
	d := New(&fakeIoctl{}, nil)
	d.Start(0)
	waitWithTimeout(t, d, time.Second)
}

func TestMainLoopStopsAndCallsOnDrained(t *testing.T) {
	var drained int32
	d := New(&fakeIoctl{}, func() { atomic.StoreInt32(&drained, 1) })
	d.pollInterval = time.Millisecond

	d.Start(time.Minute)
	d.StopSet()
	waitWithTimeout(t, d, time.Second)

	if atomic.LoadInt32(&drained) != 1 {
		t.Fatal("onDrained was not called after stop")
	}
}

func TestStopAfterFullDrainCallsOnDrained(t *testing.T) {
	var drained int32
	d := New(&fakeIoctl{remaining: expireMax}, func() { atomic.StoreInt32(&drained, 1) })
	d.pollInterval = 2 * time.Millisecond

	d.Start(time.Minute)

	// Give the burst worker time to run through its life countdown
	// (burstDefaultLife rounds at pollInterval each) and exit on its
	// own before we ask the main loop to stop.
	time.Sleep(50 * time.Millisecond)

	d.StopSet()
	waitWithTimeout(t, d, time.Second)

	if atomic.LoadInt32(&drained) != 1 {
		t.Fatal("onDrained was not called after stop")
	}
}
