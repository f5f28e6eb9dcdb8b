package vm

import (
	"github.com/sirupsen/logrus"

	"wafer/common"
)

// TryHandleFault classifies and services one page fault: protection
// violations fail, a hit in the supplemental page table claims the
// page, and a miss inside the stack-growth window extends the stack.
//
// addr is the faulting address, user reports whether the fault
// occurred in user mode, write/notPresent are the error-code bits a
// real x86-64 #PF pushes. A non-zero return means the fault is
// unrecoverable and the caller must kill the process with status -1.
func (as *AddressSpace) TryHandleFault(addr common.Va_t, user, write, notPresent bool) common.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()

	if !notPresent {
		// The page is mapped; this is a protection violation. Without
		// copy-on-write the only such violation is a write to a
		// read-only page, which is never recoverable.
		return common.EFAULT
	}

	if p := as.spt.find(addr); p != nil {
		if write && !p.Writable {
			return common.EFAULT
		}
		as.log.WithFields(logrus.Fields{"addr": addr, "kind": p.Kind.String(), "write": write}).
			Debug("page fault")
		return as.ft.Claim(p)
	}

	if as.isStackGrowth(addr) {
		as.log.WithFields(logrus.Fields{"addr": addr, "rsp": as.lastRsp}).Debug("stack growth")
		return as.growStackLocked(addr)
	}

	return common.EFAULT
}

// isStackGrowth: addr >= saved_rsp-8 and within
// [UserStack-MaxStackSize, UserStack).
func (as *AddressSpace) isStackGrowth(addr common.Va_t) bool {
	low := UserStack - MaxStackSize
	if addr < low || addr >= UserStack {
		return false
	}
	return addr >= as.lastRsp-8
}

// growStackLocked extends the stack one page at a time downward from
// the current bottom to round_down(addr), failing once the next page
// would cross the growth limit. Caller holds as.mu.
func (as *AddressSpace) growStackLocked(addr common.Va_t) common.Err_t {
	target := roundDown(addr)
	low := UserStack - MaxStackSize
	for va := as.stackBottom - common.PGSIZE; va >= target; va -= common.PGSIZE {
		if va < low {
			return common.EFAULT
		}
		p := &Page{
			Va:       va,
			Writable: true,
			Kind:     Uninit,
			target:   Initer{Kind: Anon, Fn: zeroInit},
			swapSlot: -1,
			isStack:  true,
		}
		if errt := as.spt.insert(p); errt != 0 {
			return errt
		}
		as.stackBottom = va
	}
	p := as.spt.find(target)
	if p == nil {
		return common.EFAULT
	}
	return as.ft.Claim(p)
}
