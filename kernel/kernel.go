package kernel

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"wafer/common"
	"wafer/fixed"
	"wafer/klist"
)

// Mode selects the scheduling policy, mirroring the "-o mlfqs" CLI
// flag of the original system: present selects MLFQ, absent selects
// priority round-robin.
type Mode int

const (
	RoundRobin Mode = iota
	MLFQ
)

// Config configures a Kernel at construction.
type Config struct {
	Mode Mode
	// TicksPerSecond governs how often recent_cpu/load_avg are
	// recomputed in MLFQ mode; defaults to 100 if zero.
	TicksPerSecond int
	Log            *logrus.Entry
}

func (c Config) ticksPerSecond() int {
	if c.TicksPerSecond <= 0 {
		return 100
	}
	return c.TicksPerSecond
}

// byPriority orders a klist by effective priority descending, FIFO
// among ties. Every ready and waiter list in the kernel uses this
// discipline.
func byPriority(a, b *Thread) bool {
	return a.EffectivePriority() > b.EffectivePriority()
}

// Kernel is the scheduler's state: ready queue, sleep queue, the
// thread table and the "interrupts disabled" guard. There are no
// package-level globals; an explicit Kernel is passed to every
// caller so tests can run isolated instances side by side.
type Kernel struct {
	mu sync.Mutex // stands in for "interrupts masked"

	ready    *klist.List[*Thread]
	sleeping *klist.List[*Thread]
	all      map[common.Tid_t]*Thread

	current *Thread
	idle    *Thread
	nextTid common.Tid_t

	ticks uint64
	cfg   Config

	loadAvg fixed.T

	log    *logrus.Entry
	bootID uuid.UUID
}

// New constructs a Kernel and its initial thread. The initial thread
// represents the calling goroutine and starts out Running without
// waiting on its turn channel — it already holds the baton by
// construction, the way the boot CPU is "running" before any other
// thread exists.
func New(cfg Config) (*Kernel, *Thread) {
	k := &Kernel{
		ready:    klist.New[*Thread](byPriority),
		sleeping: klist.New[*Thread](func(a, b *Thread) bool { return a.wakeUpTime < b.wakeUpTime }),
		all:      make(map[common.Tid_t]*Thread),
		cfg:      cfg,
		bootID:   uuid.New(),
	}
	if cfg.Log != nil {
		k.log = cfg.Log
	} else {
		k.log = logrus.NewEntry(logrus.StandardLogger())
	}
	k.log = k.log.WithField("boot_id", k.bootID.String())

	main := newThread(k, k.nextTid, "main", PriMin+31, nil, nil)
	k.nextTid++
	main.status = Running
	k.all[main.Tid] = main
	k.current = main

	idle := newThread(k, k.nextTid, "idle", PriMin, idleLoop, nil)
	k.nextTid++
	k.all[idle.Tid] = idle
	k.idle = idle
	k.readyInsert(idle)
	go idle.goroutine()

	k.log.WithField("tid", main.Tid).Info("kernel initialized")
	return k, main
}

// idleLoop is the lowest-priority thread: it exists only so that the
// ready queue is never empty, playing the role of the idle thread a
// real kernel parks in `sti; hlt`.
func idleLoop(t *Thread) {
	for {
		t.k.Yield()
	}
}

// Pushcli masks "interrupts" for the duration of a critical section.
// Call as `defer k.Pushcli()()`.
func (k *Kernel) Pushcli() func() {
	k.mu.Lock()
	return k.mu.Unlock
}

// Current returns the calling CPU's currently running thread.
func (k *Kernel) Current() *Thread {
	defer k.Pushcli()()
	return k.current
}

// Ticks returns the number of timer ticks observed so far.
func (k *Kernel) Ticks() uint64 {
	defer k.Pushcli()()
	return k.ticks
}

func (k *Kernel) readyInsert(t *Thread) {
	t.status = Ready
	k.ready.Insert(t)
}

// repositionReady re-sorts t within the ready list after its effective
// priority changes out from under it (donation applied to a holder
// that is currently runnable rather than blocked), preserving the
// list's non-increasing-priority invariant.
func (k *Kernel) repositionReady(t *Thread) {
	if t.status != Ready {
		return
	}
	if _, ok := k.ready.RemoveFunc(func(x *Thread) bool { return x == t }); ok {
		k.ready.Insert(t)
	}
}

// pickNext pops the highest-priority ready thread, or nil if none is
// ready (the idle case).
func (k *Kernel) pickNext() *Thread {
	t, ok := k.ready.PopFront()
	if !ok {
		return nil
	}
	return t
}

// schedule performs a context switch. It must be called with mu held
// (i.e. from inside a Pushcli section) and returns with mu held, the
// moral equivalent of switching with interrupts disabled.
//
// Kernel threads are goroutines, so "saving all GPRs, rip, rsp" is
// replaced by a baton handoff: the outgoing goroutine unlocks mu,
// wakes the incoming goroutine on its private turn channel, and then
// (unless it is exiting) blocks on its own turn channel until it is
// handed the baton again.
func (k *Kernel) schedule() {
	next := k.pickNext()
	old := k.current
	if next == nil {
		panic("schedule: no ready thread (idle thread missing)")
	}
	if next == old {
		next.status = Running
		return
	}

	k.current = next
	next.status = Running

	dying := old.status == Dying
	k.mu.Unlock()

	next.turn <- struct{}{}
	if !dying {
		<-old.turn
	}

	k.mu.Lock()
}

// Create starts a new thread at the given priority and blocks
// immediately until the scheduler grants it the baton. If the new
// thread's effective priority exceeds the caller's, the caller yields
// immediately.
func (k *Kernel) Create(name string, priority int, entry func(*Thread), arg any) (*Thread, common.Err_t) {
	unlock := k.Pushcli()
	defer unlock()

	if priority < PriMin || priority > PriMax {
		return nil, common.EINVAL
	}

	tid := k.nextTid
	k.nextTid++
	th := newThread(k, tid, name, priority, entry, arg)
	k.all[tid] = th
	k.readyInsert(th)
	go th.goroutine()

	k.log.WithFields(logrus.Fields{"tid": tid, "name": name, "priority": priority}).Debug("thread created")

	cur := k.current
	if th.EffectivePriority() > cur.EffectivePriority() {
		k.yieldLocked()
	}
	return th, 0
}

// yieldLocked reinserts the current thread into the ready queue and
// switches. Caller must hold mu.
func (k *Kernel) yieldLocked() {
	cur := k.current
	cur.checkMagic()
	k.readyInsert(cur)
	k.schedule()
}

// Yield voluntarily gives up the CPU.
func (k *Kernel) Yield() {
	unlock := k.Pushcli()
	defer unlock()
	k.yieldLocked()
}

// block marks th Blocked (caller must already have placed it on the
// appropriate waiter list) and switches away from it. Caller must hold
// mu and th must be the current thread.
func (k *Kernel) block(th *Thread) {
	th.status = Blocked
	k.schedule()
}

// unblock moves th from Blocked to Ready without preempting the
// running thread, so callers may atomically unblock-then-update;
// callers that want preemption yield explicitly afterward.
func (k *Kernel) unblock(th *Thread) {
	k.readyInsert(th)
}

// Exit terminates th: marks it Dying, drops it from the thread table
// and switches away permanently. The goroutine's stack stays valid
// through this final switch; reclamation is the collector's problem
// once the last reference is gone.
func (k *Kernel) Exit(th *Thread) {
	unlock := k.Pushcli()
	defer unlock()
	th.status = Dying
	delete(k.all, th.Tid)
	close(th.exited)
	k.log.WithField("tid", th.Tid).Debug("thread exiting")
	k.schedule()
}

// Wait blocks the calling goroutine (outside the baton system) until
// th has exited. The process-level wait() is built on semaphores
// instead; this helper exists for harnesses that need to observe
// completion without participating in scheduling.
func (k *Kernel) Wait(th *Thread) {
	<-th.exited
}

// Tick simulates one timer interrupt. Timer plumbing is an external
// collaborator, so callers (tests, or a real driver) call Tick
// explicitly instead of wiring an APIC.
func (k *Kernel) Tick() {
	unlock := k.Pushcli()
	defer unlock()

	k.ticks++
	cur := k.current
	cur.threadTicks++
	if k.cfg.Mode == MLFQ && cur != k.idle {
		cur.recentCPU = cur.recentCPU.AddInt(1)
	}

	woken := k.sleeping.PopAllFunc(func(t *Thread) bool { return t.wakeUpTime <= k.ticks })
	preempt := false
	for _, t := range woken {
		k.unblock(t)
		if t.EffectivePriority() > cur.EffectivePriority() {
			preempt = true
		}
	}

	if k.cfg.Mode == MLFQ {
		tps := uint64(k.cfg.ticksPerSecond())
		if k.ticks%tps == 0 {
			k.recomputeLoadAndRecentCPU()
		}
		if k.ticks%4 == 0 {
			k.recomputeMLFQPriorities()
		}
	}

	if cur.threadTicks >= TimeSlice {
		preempt = true
	}
	if preempt {
		cur.threadTicks = 0
		k.yieldLocked()
	}
}

// SleepUntil blocks the current thread until Ticks() >= wake.
func (k *Kernel) SleepUntil(wake uint64) {
	unlock := k.Pushcli()
	defer unlock()
	cur := k.current
	cur.wakeUpTime = wake
	k.sleeping.Insert(cur)
	k.block(cur)
}

// SetPriority updates th's origin priority. Effective priority is
// recomputed as max(origin, active donations), and the thread yields
// if the new effective priority is surpassed by the ready head.
func (k *Kernel) SetPriority(th *Thread, p int) common.Err_t {
	if p < PriMin || p > PriMax {
		return common.EINVAL
	}
	unlock := k.Pushcli()
	defer unlock()
	th.originPriority = p
	k.repositionReady(th)
	if head, ok := k.ready.Front(); ok && head.EffectivePriority() > th.EffectivePriority() && th == k.current {
		k.yieldLocked()
	}
	return 0
}

// GetPriority returns th's effective priority.
func (k *Kernel) GetPriority(th *Thread) int {
	defer k.Pushcli()()
	return th.EffectivePriority()
}

// SetNice sets th's niceness, used only by the MLFQ formulas. The
// thread's priority is recomputed immediately, and the caller yields
// if it no longer outranks the ready head.
func (k *Kernel) SetNice(th *Thread, n int) {
	unlock := k.Pushcli()
	defer unlock()
	th.nice = n
	if k.cfg.Mode == MLFQ {
		k.recomputeOnePriority(th)
		k.repositionReady(th)
		if head, ok := k.ready.Front(); ok && th == k.current && head.EffectivePriority() > th.EffectivePriority() {
			k.yieldLocked()
		}
	}
}

// GetNice returns th's niceness.
func (k *Kernel) GetNice(th *Thread) int {
	defer k.Pushcli()()
	return th.nice
}

// GetLoadAvg returns 100*load_avg, rounded.
func (k *Kernel) GetLoadAvg() int64 {
	defer k.Pushcli()()
	return k.loadAvg.MulInt(100).ToIntRound()
}

// GetRecentCPU returns 100*recent_cpu for th, rounded.
func (k *Kernel) GetRecentCPU(th *Thread) int64 {
	defer k.Pushcli()()
	return th.recentCPU.MulInt(100).ToIntRound()
}

// ReadyLen reports how many threads are ready to run (diagnostic use,
// e.g. asserting "ready queue is empty during the wait" in tests).
func (k *Kernel) ReadyLen() int {
	defer k.Pushcli()()
	return k.ready.Len()
}
