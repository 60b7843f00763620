// Package expire implements the periodic expire driver (C10): a main
// loop goroutine that repeatedly asks the kernel to expire idle
// autofs mounts via AUTOFS_IOC_EXPIRE_MULTI, each success delivered to
// the dispatcher as an expire_multi packet on the kernel pipe. When a
// cycle drains a full EXPIRE_MAX batch, a bounded pool of burst
// goroutines keeps asking in parallel until the mount table goes
// quiet again.
//
// expire.c hand-rolls this with a fixed pthread_t[10] slot table and a
// mutex; golang.org/x/sync/semaphore.Weighted is the direct idiomatic
// replacement here for that slot table, since it already does "at
// most N concurrent" without a manual round-robin scan.
package expire

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/fpl/autodird/internal/clock"
)

// expireMax mirrors EXPIRE_MAX: the most expire hits the main loop
// will take in a single pass before handing off to a burst worker.
const expireMax = 500

// maxBurstWorkers mirrors EXPIRE_MAX_THREADS.
const maxBurstWorkers = 10

// burstMaxRounds bounds how long a burst worker keeps polling before
// giving up regardless of hit rate (expire.c's `for (j = 0; j < 100; j++)`).
const burstMaxRounds = 100

// burstDefaultLife mirrors DEFAULT_LIFE: a burst worker tolerates this
// many consecutive near-empty rounds (fewer than 2 hits) before
// exiting early.
const burstDefaultLife = 5

// ErrNoMore is returned by Ioctl.ExpireMulti when the kernel currently
// has no further mount to expire.
var ErrNoMore = errors.New("expire: no candidate mounts")

// Ioctl is the AUTOFS_IOC_EXPIRE_MULTI call, abstracted so tests can
// drive the driver without a real autofs mount.
type Ioctl interface {
	// ExpireMulti asks the kernel to expire one idle mount. A nil
	// error means a mount was found and an expire_multi packet will
	// follow on the kernel pipe; ErrNoMore means none is currently
	// eligible.
	ExpireMulti() error
}

// Driver runs the expire loop described above.
type Driver struct {
	ioctl     Ioctl
	onDrained func()

	pollInterval time.Duration

	mu   sync.Mutex
	stop bool

	burstSem *semaphore.Weighted
	wg       sync.WaitGroup
	mainDone chan struct{}
}

// New creates a Driver. onDrained, if non-nil, is called exactly once
// when the main loop has stopped and every burst worker it waited on
// has exited — the Go analogue of expire.c setting *shutdown = 1 so
// the rest of the daemon can finish its own graceful exit.
func New(ioctl Ioctl, onDrained func()) *Driver {
	return &Driver{
		ioctl:        ioctl,
		onDrained:    onDrained,
		pollInterval: time.Second,
		burstSem:     semaphore.NewWeighted(maxBurstWorkers),
		mainDone:     make(chan struct{}),
	}
}

// Start launches the main expire loop. If timeout is zero or
// negative, expiry is disabled for this run (mirroring
// expire_start's early return when -t/--timeout is 0) and Wait
// returns immediately.
func (d *Driver) Start(timeout time.Duration) {
	if timeout <= 0 {
		close(d.mainDone)
		return
	}
	go d.mainLoop()
}

// StopSet requests a graceful stop: the main loop finishes its
// current pass and, once the mount table is no longer saturating
// EXPIRE_MAX, waits for outstanding burst workers and exits.
func (d *Driver) StopSet() {
	d.mu.Lock()
	d.stop = true
	d.mu.Unlock()
}

func (d *Driver) stopping() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stop
}

// Wait blocks until the main loop (and any burst worker it waited on
// during shutdown) has exited.
func (d *Driver) Wait() {
	<-d.mainDone
}

func (d *Driver) mainLoop() {
	defer close(d.mainDone)
	for {
		hits := d.drainUpTo(expireMax)

		if d.stopping() {
			if hits == expireMax {
				// Mount table was still saturated; give it
				// another pass before declaring quiet.
				continue
			}
			d.wg.Wait()
			if d.onDrained != nil {
				d.onDrained()
			}
			return
		}

		switch {
		case hits == expireMax:
			d.startBurst()
		case hits < 2:
			clock.Sleep(d.pollInterval)
		}
	}
}

// drainUpTo calls ExpireMulti repeatedly until it fails or n calls
// have succeeded, returning the hit count.
func (d *Driver) drainUpTo(n int) int {
	hits := 0
	for hits < n {
		if err := d.ioctl.ExpireMulti(); err != nil {
			break
		}
		hits++
	}
	return hits
}

// drainAll calls ExpireMulti until it fails, with no upper bound —
// the burst worker's EXPIRE_MULTI_EXTRA loop in expire.c has none
// either.
func (d *Driver) drainAll() int {
	hits := 0
	for {
		if err := d.ioctl.ExpireMulti(); err != nil {
			return hits
		}
		hits++
	}
}

// startBurst acquires a burst slot and runs one burst worker if a
// slot is free; otherwise it is a no-op, matching
// start_extra_expire_thread's "no free slot, log and move on".
func (d *Driver) startBurst() {
	if !d.burstSem.TryAcquire(1) {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.burstSem.Release(1)
		d.burst()
	}()
}

func (d *Driver) burst() {
	life := burstDefaultLife
	for round := 0; round < burstMaxRounds; round++ {
		if d.stopping() {
			return
		}

		hits := d.drainAll()
		if hits < 2 {
			life--
		} else {
			life = burstDefaultLife
		}
		if life == 0 {
			return
		}
		clock.Sleep(d.pollInterval)
	}
}
