package ports

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// MemoryPhysPool is a reference PhysPool backed by a fixed arena and
// a weighted semaphore bounding how many frames are in use: a
// fixed-size backing store plus a free list, with the semaphore
// gating concurrent claims.
type MemoryPhysPool struct {
	sem    *semaphore.Weighted
	mu     sync.Mutex
	arena  [][]byte
	free   []uintptr
	byAddr map[uintptr][]byte
	cap    int
}

const pageSize = 4096

// NewMemoryPhysPool builds a pool of n page-sized frames.
func NewMemoryPhysPool(n int) *MemoryPhysPool {
	p := &MemoryPhysPool{
		sem:    semaphore.NewWeighted(int64(n)),
		byAddr: make(map[uintptr][]byte, n),
		cap:    n,
	}
	p.arena = make([][]byte, n)
	p.free = make([]uintptr, 0, n)
	for i := 0; i < n; i++ {
		buf := make([]byte, pageSize)
		p.arena[i] = buf
		addr := uintptr(i + 1) // synthetic kernel-virtual "address"; never dereferenced as a real pointer
		p.byAddr[addr] = buf
		p.free = append(p.free, addr)
	}
	return p
}

// AllocPage claims one frame without blocking, returning ok=false if
// the pool is exhausted.
func (p *MemoryPhysPool) AllocPage() (uintptr, bool) {
	if !p.sem.TryAcquire(1) {
		return 0, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	addr := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	buf := p.byAddr[addr]
	for i := range buf {
		buf[i] = 0
	}
	return addr, true
}

// FreePage returns a frame to the pool.
func (p *MemoryPhysPool) FreePage(addr uintptr) {
	p.mu.Lock()
	p.free = append(p.free, addr)
	p.mu.Unlock()
	p.sem.Release(1)
}

// Bytes returns the backing storage for addr, for code (the fault
// handler, eviction) that needs to read or write frame contents.
func (p *MemoryPhysPool) Bytes(addr uintptr) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.byAddr[addr]
}

// Capacity returns the total number of frames in the pool.
func (p *MemoryPhysPool) Capacity() int { return p.cap }

// InUse returns the number of frames currently allocated, acquired
// via a non-blocking probe against the weighted semaphore.
func (p *MemoryPhysPool) InUse() int {
	if p.sem.TryAcquire(int64(p.cap)) {
		p.sem.Release(int64(p.cap))
		return 0
	}
	p.mu.Lock()
	free := len(p.free)
	p.mu.Unlock()
	return p.cap - free
}

// acquireBlocking is kept for callers that legitimately want to wait
// for the pool rather than fail fast; it is not part of the PhysPool
// interface, which is non-blocking.
func (p *MemoryPhysPool) acquireBlocking(ctx context.Context) error {
	return p.sem.Acquire(ctx, 1)
}
