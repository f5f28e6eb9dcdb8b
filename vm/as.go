package vm

import (
	"sync"

	"github.com/sirupsen/logrus"

	"wafer/common"
)

// UserStack is the fixed high user address the stack starts at;
// MaxStackSize bounds how far it may grow down.
const (
	UserStack    common.Va_t = 0x0000_7FFF_FFFF_F000
	MaxStackSize             = 8 * 1024 * 1024 // 8 MiB, a conventional default stack ulimit
)

// AddressSpace is one process's virtual-memory state: the page-map
// root's stand-in, the supplemental page table, and the stack-growth
// bookkeeping.
type AddressSpace struct {
	mu sync.Mutex

	spt *SPT
	ft  *FrameTable

	stackBottom common.Va_t // lowest address the stack has grown to
	lastRsp     common.Va_t // most recent user rsp captured at syscall/fault entry
	nextMmapID  int64

	log *logrus.Entry
}

// NewAddressSpace builds an empty address space over the given shared
// frame table. The initial stack page is installed lazily by the
// caller (normally proc's loader, before abi.LoadSegments) via
// InstallStack.
func NewAddressSpace(ft *FrameTable, log *logrus.Entry) *AddressSpace {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &AddressSpace{
		spt:         newSPT(),
		ft:          ft,
		stackBottom: UserStack,
		lastRsp:     UserStack,
		log:         log,
	}
}

// LockPmap / UnlockPmap bracket any SPT/page-table mutation by
// callers that compose several operations atomically.
func (as *AddressSpace) LockPmap()   { as.mu.Lock() }
func (as *AddressSpace) UnlockPmap() { as.mu.Unlock() }

// CaptureRsp records the most recent user-mode rsp, used by the
// stack-growth fault rule.
func (as *AddressSpace) CaptureRsp(rsp common.Va_t) {
	as.mu.Lock()
	as.lastRsp = rsp
	as.mu.Unlock()
}

// InstallUninit inserts a lazily-initialized page at va. Used for
// ELF segments (anon zero-fill or file-backed), the initial stack
// page, and mmap regions.
func (as *AddressSpace) InstallUninit(va common.Va_t, writable bool, init Initer, isStack bool, mmapID int64) common.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	p := &Page{
		Va:       va,
		Writable: writable,
		Kind:     Uninit,
		target:   init,
		swapSlot: -1,
		isStack:  isStack,
		mmapID:   mmapID,
	}
	return as.spt.insert(p)
}

// InstallStack installs the first (highest) stack page, anonymous and
// zero-filled.
func (as *AddressSpace) InstallStack() common.Err_t {
	base := roundDown(UserStack - 1)
	errt := as.InstallUninit(base, true, Initer{Kind: Anon, Fn: zeroInit}, true, 0)
	if errt != 0 {
		return errt
	}
	as.mu.Lock()
	as.stackBottom = base
	as.mu.Unlock()
	return 0
}

func zeroInit(dst []byte, _ any) common.Err_t {
	for i := range dst {
		dst[i] = 0
	}
	return 0
}

// GrowStackTo ensures every stack page down to and including
// round_down(target) is resident, inserting and claiming new pages as
// needed. Unlike the fault path in fault.go, this does not check the
// saved-rsp window: it is used by process setup (argv layout) before
// any user instruction has run, so there is no meaningful rsp yet.
func (as *AddressSpace) GrowStackTo(target common.Va_t) common.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	if roundDown(target) >= as.stackBottom {
		p := as.spt.find(target)
		if p == nil {
			return common.EFAULT
		}
		return as.ft.Claim(p)
	}
	return as.growStackLocked(target)
}

// ClaimRange claims every page in [round_down(low), round_down(high)],
// inclusive, failing if any page in the range has no SPT entry. Used
// after GrowStackTo to make a whole argv write range resident, since
// GrowStackTo itself only guarantees the lowest page is claimed.
func (as *AddressSpace) ClaimRange(low, high common.Va_t) common.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	for va := roundDown(low); va <= roundDown(high); va += common.PGSIZE {
		p := as.spt.find(va)
		if p == nil {
			return common.EFAULT
		}
		if errt := as.ft.Claim(p); errt != 0 {
			return errt
		}
	}
	return 0
}

// WriteBytes copies data into user memory starting at addr. Every
// page touched must already be resident (see GrowStackTo/ClaimRange
// or a prior fault); this is process setup's equivalent of a
// kernel-side memcpy into user space, not a fault-servicing path.
func (as *AddressSpace) WriteBytes(addr common.Va_t, data []byte) common.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	for len(data) > 0 {
		p := as.spt.find(addr)
		if p == nil || p.Frame == nil {
			return common.EFAULT
		}
		buf := as.ft.Bytes(p)
		off := int(addr - p.Va)
		n := copy(buf[off:], data)
		data = data[n:]
		addr += common.Va_t(n)
	}
	return 0
}

// ReadBytes copies n bytes out of user memory starting at addr. Every
// page touched must already be resident, as for WriteBytes.
func (as *AddressSpace) ReadBytes(addr common.Va_t, n int) ([]byte, common.Err_t) {
	as.mu.Lock()
	defer as.mu.Unlock()
	out := make([]byte, n)
	rest := out
	cur := addr
	for len(rest) > 0 {
		p := as.spt.find(cur)
		if p == nil || p.Frame == nil {
			return nil, common.EFAULT
		}
		buf := as.ft.Bytes(p)
		off := int(cur - p.Va)
		c := copy(rest, buf[off:])
		rest = rest[c:]
		cur += common.Va_t(c)
	}
	return out, 0
}

// Destroy tears down every SPT entry and releases resident frames;
// the address space is unusable afterward.
func (as *AddressSpace) Destroy() {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.spt.kill(as.ft)
}

// ForkCopy builds a fresh AddressSpace that is a byte-for-byte copy of
// as at this instant. The two address spaces share the same FrameTable
// (frames are a kernel-wide resource; only the SPT contents and
// residency are private per process).
func (as *AddressSpace) ForkCopy() (*AddressSpace, common.Err_t) {
	as.mu.Lock()
	defer as.mu.Unlock()

	child := &AddressSpace{
		spt:         newSPT(),
		ft:          as.ft,
		stackBottom: as.stackBottom,
		lastRsp:     as.lastRsp,
		nextMmapID:  as.nextMmapID,
		log:         as.log,
	}
	if errt := copySPT(as.ft, child.spt, as.spt); errt != 0 {
		child.spt.kill(as.ft)
		return nil, errt
	}
	return child, 0
}
