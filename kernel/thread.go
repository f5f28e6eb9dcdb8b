// Package kernel implements the thread scheduler and its
// synchronization primitives: semaphores, locks with one-level
// priority donation, and condition variables. Kernel threads are
// backed by real goroutines; the scheduler hands a single "turn"
// baton between them so that at most one thread ever runs, giving the
// single-CPU semantics a teaching kernel assumes.
package kernel

import (
	"fmt"

	"wafer/common"
	"wafer/fixed"
)

// Status is a thread's scheduling state.
type Status int

const (
	Running Status = iota
	Ready
	Blocked
	Dying
)

func (s Status) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Ready:
		return "READY"
	case Blocked:
		return "BLOCKED"
	case Dying:
		return "DYING"
	default:
		return "UNKNOWN"
	}
}

const (
	PriMin = 0
	PriMax = 63

	// TimeSlice is the number of ticks a thread runs before the
	// scheduler requests a yield.
	TimeSlice = 4

	nameMax = 16

	// donationDepthMax bounds the transitive priority-donation walk.
	donationDepthMax = 8
)

// Thread is a kernel thread descriptor. One exists per goroutine the
// scheduler manages; magic is the descriptor's stack-sentinel
// analogue, guarding against use of a freed or corrupted descriptor.
type Thread struct {
	Tid  common.Tid_t
	Name string

	status         Status
	originPriority int
	donations      map[*Lock]int // lock -> donated priority, bounded depth
	waitingOn      *Lock
	nice           int
	recentCPU      fixed.T
	wakeUpTime     uint64

	threadTicks int

	turn chan struct{}
	k    *Kernel

	magic uint32

	// Address space fields are attached by the proc/vm packages via
	// the opaque UserData slot rather than embedded here, keeping
	// kernel free of vm and proc imports (proc already imports kernel).
	UserData any

	entry func(*Thread)
	arg   any

	exited chan struct{}
}

const threadMagic = 0xc0ffee17

func newThread(k *Kernel, tid common.Tid_t, name string, pri int, entry func(*Thread), arg any) *Thread {
	if len(name) > nameMax {
		name = name[:nameMax]
	}
	return &Thread{
		Tid:            tid,
		Name:           name,
		status:         Blocked,
		originPriority: pri,
		donations:      make(map[*Lock]int),
		turn:           make(chan struct{}),
		k:              k,
		magic:          threadMagic,
		entry:          entry,
		arg:            arg,
		exited:         make(chan struct{}),
	}
}

func (t *Thread) checkMagic() {
	if t.magic != threadMagic {
		panic(fmt.Sprintf("thread %d: corrupt descriptor (bad magic)", t.Tid))
	}
}

// EffectivePriority returns max(origin, active donations).
func (t *Thread) EffectivePriority() int {
	eff := t.originPriority
	for _, d := range t.donations {
		if d > eff {
			eff = d
		}
	}
	return eff
}

// Status reports the thread's current scheduling state.
func (t *Thread) Status() Status { return t.status }

// Nice returns the thread's niceness, used by MLFQ.
func (t *Thread) Nice() int { return t.nice }

// K returns the Kernel this thread belongs to, for packages (proc)
// that need to build kernel-level primitives (semaphores) scoped to
// the same Kernel without kernel importing them back.
func (t *Thread) K() *Kernel { return t.k }

func (t *Thread) goroutine() {
	<-t.turn // wait for the scheduler to hand us the baton the first time
	t.entry(t)
	t.k.Exit(t)
}
