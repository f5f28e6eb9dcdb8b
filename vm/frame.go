package vm

import (
	"sync"

	"github.com/sirupsen/logrus"

	"wafer/common"
)

// Frame is a physical-frame descriptor: the kernel virtual address of
// the frame plus a back-pointer to its page descriptor (nil if free).
type Frame struct {
	Kva  uintptr
	Page *Page
}

// Pool is the subset of ports.PhysPool the frame table needs, plus a
// Bytes accessor so claim/eviction can read and write frame contents.
// ports.MemoryPhysPool satisfies it; a concrete DMA-backed pool in a
// real kernel would too.
type Pool interface {
	AllocPage() (kva uintptr, ok bool)
	FreePage(kva uintptr)
	Capacity() int
	InUse() int
	Bytes(kva uintptr) []byte
}

// EvictionPolicy picks a victim among currently resident frames when
// the pool is exhausted. The policy is pluggable; FIFOPolicy is the
// working default, so workloads larger than the pool can make
// progress instead of failing on the first exhausted allocation.
type EvictionPolicy interface {
	SelectVictim(resident []*Frame) *Frame
}

// FIFOPolicy evicts whichever resident frame was claimed longest ago.
type FIFOPolicy struct{}

func (FIFOPolicy) SelectVictim(resident []*Frame) *Frame {
	if len(resident) == 0 {
		return nil
	}
	return resident[0]
}

// SwapStore stands in for the disk-backed swap area the ANON eviction
// path writes to; an in-memory slot table plays the role here, the
// same way ports.MemoryPhysPool does for physical memory.
type SwapStore struct {
	mu    sync.Mutex
	slots map[int][]byte
	next  int
}

func NewSwapStore() *SwapStore {
	return &SwapStore{slots: make(map[int][]byte)}
}

func (s *SwapStore) Write(buf []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := s.next
	s.next++
	cp := make([]byte, len(buf))
	copy(cp, buf)
	s.slots[slot] = cp
	return slot
}

func (s *SwapStore) Read(slot int, dst []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(dst, s.slots[slot])
}

func (s *SwapStore) Free(slot int) {
	s.mu.Lock()
	delete(s.slots, slot)
	s.mu.Unlock()
}

// Dup copies a slot's contents into a fresh slot, so a forked child's
// swapped-out page never shares storage with the parent's.
func (s *SwapStore) Dup(slot int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(s.slots[slot]))
	copy(cp, s.slots[slot])
	n := s.next
	s.next++
	s.slots[n] = cp
	return n
}

// FrameTable is the kernel-wide frame allocator every AddressSpace
// shares, tracking residency for the eviction hook.
type FrameTable struct {
	mu       sync.Mutex
	pool     Pool
	swap     SwapStore
	policy   EvictionPolicy
	resident []*Frame // FIFO order: index 0 is the oldest claim
	byKva    map[uintptr]*Frame
	log      *logrus.Entry
}

func NewFrameTable(pool Pool, policy EvictionPolicy, log *logrus.Entry) *FrameTable {
	if policy == nil {
		policy = FIFOPolicy{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &FrameTable{
		pool:   pool,
		swap:   SwapStore{slots: make(map[int][]byte)},
		policy: policy,
		byKva:  make(map[uintptr]*Frame),
		log:    log,
	}
}

// getFrame allocates a zero-filled frame, evicting a resident victim
// per the table's policy if the pool is exhausted.
func (ft *FrameTable) getFrame() (*Frame, common.Err_t) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	kva, ok := ft.pool.AllocPage()
	if !ok {
		if errt := ft.evictLocked(); errt != 0 {
			return nil, errt
		}
		kva, ok = ft.pool.AllocPage()
		if !ok {
			return nil, common.ENOMEM
		}
	}
	fr := &Frame{Kva: kva}
	ft.byKva[kva] = fr
	return fr, 0
}

// evictLocked picks a victim via the policy, writes it back, and
// frees its frame so the caller's retry of AllocPage succeeds. Caller
// holds ft.mu.
func (ft *FrameTable) evictLocked() common.Err_t {
	victim := ft.policy.SelectVictim(ft.resident)
	if victim == nil {
		return common.ENOMEM
	}
	p := victim.Page
	buf := ft.pool.Bytes(victim.Kva)

	ft.log.WithFields(logrus.Fields{"va": p.Va, "kind": p.Kind.String()}).Debug("evicting frame")

	switch p.Kind {
	case Anon:
		p.swapSlot = ft.swap.Write(buf)
	case File:
		if p.Writable {
			n := p.readBytes
			if n > int64(len(buf)) {
				n = int64(len(buf))
			}
			p.file.WriteAt(buf[:n], p.fileOff)
		}
	case Uninit:
		// Uninit pages are never resident (claim transitions them to
		// ANON/FILE before binding a frame), so they cannot be victims.
		return common.ENOMEM
	}

	p.Frame = nil
	ft.removeResidentLocked(victim)
	delete(ft.byKva, victim.Kva)
	ft.pool.FreePage(victim.Kva)
	return 0
}

func (ft *FrameTable) removeResidentLocked(fr *Frame) {
	for i, r := range ft.resident {
		if r == fr {
			ft.resident = append(ft.resident[:i], ft.resident[i+1:]...)
			return
		}
	}
}

func (ft *FrameTable) markResident(fr *Frame) {
	ft.mu.Lock()
	ft.resident = append(ft.resident, fr)
	ft.mu.Unlock()
}

// Claim binds p to a freshly allocated frame (if not already
// resident) and swaps its contents in: an UNINIT page runs its
// initializer and transitions to ANON or FILE; an already-typed page
// re-reads its eviction-time contents.
func (ft *FrameTable) Claim(p *Page) common.Err_t {
	if p.Frame != nil {
		return 0
	}
	fr, errt := ft.getFrame()
	if errt != 0 {
		return errt
	}
	buf := ft.pool.Bytes(fr.Kva)

	switch p.Kind {
	case Uninit:
		if errt := p.target.Fn(buf, p.target.Aux); errt != 0 {
			ft.mu.Lock()
			delete(ft.byKva, fr.Kva)
			ft.mu.Unlock()
			ft.pool.FreePage(fr.Kva)
			return errt
		}
		if aux, ok := p.target.Aux.(FileAux); ok && p.target.Kind == File {
			p.file = aux.File
			p.fileOff = aux.Offset
			p.readBytes = aux.ReadBytes
			p.zeroBytes = aux.ZeroBytes
		}
		if p.target.Kind == Anon {
			p.swapSlot = -1
		}
		p.Kind = p.target.Kind
	case Anon:
		if p.swapSlot >= 0 {
			ft.swap.Read(p.swapSlot, buf)
			ft.swap.Free(p.swapSlot)
			p.swapSlot = -1
		}
	case File:
		n := p.readBytes
		if n > int64(len(buf)) {
			n = int64(len(buf))
		}
		p.file.ReadAt(buf[:n], p.fileOff)
		for i := n; i < int64(len(buf)); i++ {
			buf[i] = 0
		}
	}

	p.Frame = fr
	fr.Page = p
	ft.markResident(fr)
	return 0
}

// Release unbinds p's frame (destroy or explicit unmap), freeing it
// back to the pool without writing back (the caller decides whether
// a write-back happened already, e.g. munmap's dirty-page flush).
func (ft *FrameTable) Release(p *Page) {
	if p.Frame == nil {
		return
	}
	ft.mu.Lock()
	ft.removeResidentLocked(p.Frame)
	delete(ft.byKva, p.Frame.Kva)
	ft.mu.Unlock()
	ft.pool.FreePage(p.Frame.Kva)
	p.Frame = nil
}

// Bytes exposes a resident page's frame contents, for callers (fork's
// byte-for-byte ANON copy) that need to read or write through the
// frame table rather than the pool directly.
func (ft *FrameTable) Bytes(p *Page) []byte {
	if p.Frame == nil {
		return nil
	}
	return ft.pool.Bytes(p.Frame.Kva)
}
