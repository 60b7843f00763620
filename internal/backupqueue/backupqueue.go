// Package backupqueue implements the deferred backup-start queue
// (C8): on unmount, the dispatcher enqueues a name; after it has aged
// past a quiet period, a single watcher goroutine launches backup
// children for it (and as many other due entries as the backup-child
// cap allows), in time order.
//
// backup_queue.c hand-rolls a name-keyed hash plus a separate
// enqueue-time doubly linked list. The list is the stdlib
// container/list.List here — the direct idiomatic replacement for
// the hand-rolled next_t/prev_t pointers.
package backupqueue

import (
	"container/list"
	"sync"
	"time"

	"github.com/fpl/autodird/internal/argvtemplate"
	"github.com/fpl/autodird/internal/clock"
	"github.com/fpl/autodird/internal/logging"
)

// backStartMax mirrors BACK_START_MAX: the most entries a single
// launch batch will fork in one pass.
const backStartMax = 300

// forkPacing mirrors the 100ms sleep between forks within a batch.
const forkPacing = 100 * time.Millisecond

type state int

const (
	stateQueued state = iota
	stateInBatch
)

type entry struct {
	name       string
	realPath   string
	enqueuedAt time.Time
	state      state
	elem       *list.Element
}

// ChildStarter is the subset of backupchild.Registry the queue needs:
// start a backup child and report how many are currently live, so
// the watcher can bound a launch batch by max_proc - live_count.
type ChildStarter interface {
	Start(name string, argv []string) error
	Count() int
}

// Queue is the deferred backup-start queue.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	entries map[string]*entry
	order   *list.List // front = oldest

	wait    time.Duration
	maxProc int

	starter ChildStarter
	tpl     *argvtemplate.Template

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a queue and starts its watcher goroutine. wait is the
// quiet period (spec.md's -w/--wait) before a queued entry becomes
// eligible; maxProc bounds total concurrent backup children
// (spec.md's -c/--max-backups).
func New(wait time.Duration, maxProc int, starter ChildStarter, tpl *argvtemplate.Template) *Queue {
	q := &Queue{
		entries: make(map[string]*entry),
		order:   list.New(),
		wait:    wait,
		maxProc: maxProc,
		starter: starter,
		tpl:     tpl,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.watch()
	return q
}

// Enqueue records that name's mount (backed by realPath) became
// eligible for backup just now. A name already queued is left
// untouched (the first expire wins the enqueue time).
func (q *Queue) Enqueue(name, realPath string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.entries[name]; exists {
		return
	}
	e := &entry{name: name, realPath: realPath, enqueuedAt: clock.Now(), state: stateQueued}
	e.elem = q.order.PushBack(e)
	q.entries[name] = e
}

// DequeueOrWait removes name from the queue if it is still merely
// queued. If name is currently part of an in-flight launch batch, it
// blocks until that batch completes (per spec.md §9's resolution of
// the ambiguous "cancel vs wait" open question: wait, don't cancel)
// and then returns without starting anything new for name.
func (q *Queue) DequeueOrWait(name string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		e, ok := q.entries[name]
		if !ok {
			return
		}
		if e.state != stateInBatch {
			delete(q.entries, name)
			q.order.Remove(e.elem)
			return
		}
		q.cond.Wait()
	}
}

// Len reports how many entries are currently queued or in flight, for
// tests and diagnostics.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Stop signals the watcher to exit and waits for it to do so. It does
// not cancel an in-flight launch batch; callers that need all backup
// children gone should follow Stop with backupchild.Registry.Stop.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
	<-q.done
}

func (q *Queue) watch() {
	defer close(q.done)
	for {
		select {
		case <-q.stopCh:
			return
		default:
		}

		delay, batch := q.nextBatch()
		if delay > 0 {
			select {
			case <-q.stopCh:
				return
			case <-time.After(delay):
			}
			continue
		}
		if len(batch) == 0 {
			select {
			case <-q.stopCh:
				return
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}

		q.launch(batch)
	}
}

// nextBatch decides what the watcher should do next: either wait
// `delay` before checking again, or launch `batch` now. Exactly one
// of the two is meaningful at a time (delay > 0 implies an empty
// batch).
func (q *Queue) nextBatch() (time.Duration, []*entry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.order.Len() == 0 {
		return 200 * time.Millisecond, nil
	}

	head := q.order.Front().Value.(*entry)
	age := clock.Elapsed(head.enqueuedAt)
	if age < q.wait {
		return q.wait - age, nil
	}

	avail := q.maxProc - q.starter.Count()
	if avail <= 0 {
		return 200 * time.Millisecond, nil
	}

	batch := make([]*entry, 0, backStartMax)
	for el := q.order.Front(); el != nil && len(batch) < backStartMax && len(batch) < avail; el = el.Next() {
		e := el.Value.(*entry)
		if clock.Elapsed(e.enqueuedAt) < q.wait {
			break
		}
		e.state = stateInBatch
		batch = append(batch, e)
	}
	return 0, batch
}

func (q *Queue) launch(batch []*entry) {
	now := clock.Now()
	for i, e := range batch {
		argv := q.tpl.Expand(e.name, e.realPath, now)
		if err := q.starter.Start(e.name, argv); err != nil {
			logging.Warning("backupqueue: start backup for %s: %v", e.name, err)
		}
		if i != len(batch)-1 {
			time.Sleep(forkPacing)
		}
	}

	q.mu.Lock()
	for _, e := range batch {
		delete(q.entries, e.name)
		q.order.Remove(e.elem)
	}
	q.cond.Broadcast()
	q.mu.Unlock()
}
