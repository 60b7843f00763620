package protocol

import "sync"

// defaultCacheMax mirrors PACKET_CACHE_MAX: the soft cap above which
// freed buffers are handed back to the allocator instead of being
// kept around.
const defaultCacheMax = 64

// Pool is a bounded freelist of fixed-size kernel packet buffers. The
// original hand-rolls a singly linked freelist with a
// take-the-whole-list fast path for its single reader (the
// dispatcher); in Go, sync.Pool already gives every goroutine a
// per-P private cache with the same "usually lock-free" property, so
// it is used here instead of reimplementing the linked list — the
// bounded high-water cap is layered on top with a mutex-guarded
// counter since sync.Pool itself has no cap (see DESIGN.md).
type Pool struct {
	pool    sync.Pool
	mu      sync.Mutex
	pooled  int // buffers currently sitting in pool, best-effort count
	maxSize int
}

// NewPool returns a packet buffer pool capped at maxSize live pooled
// buffers. A maxSize <= 0 uses defaultCacheMax.
func NewPool(maxSize int) *Pool {
	if maxSize <= 0 {
		maxSize = defaultCacheMax
	}
	p := &Pool{maxSize: maxSize}
	p.pool.New = func() interface{} {
		buf := make([]byte, PacketSize)
		return &buf
	}
	return p
}

// Allocate returns a PacketSize buffer, reused from the pool when
// possible.
func (p *Pool) Allocate() *[]byte {
	p.mu.Lock()
	if p.pooled > 0 {
		p.pooled--
	}
	p.mu.Unlock()
	return p.pool.Get().(*[]byte)
}

// Free returns buf to the pool if it is below the high-water cap;
// otherwise it is dropped for the garbage collector to reclaim,
// mirroring "push under lock if below cap, else release to the
// allocator".
func (p *Pool) Free(buf *[]byte) {
	p.mu.Lock()
	if p.pooled >= p.maxSize {
		p.mu.Unlock()
		return
	}
	p.pooled++
	p.mu.Unlock()
	p.pool.Put(buf)
}
