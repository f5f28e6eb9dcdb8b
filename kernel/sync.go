package kernel

import "wafer/klist"

// Sema is a counting semaphore with a priority-ordered waiters list,
// FIFO among equal priorities.
type Sema struct {
	k       *Kernel
	count   int
	waiters *klist.List[*Thread]
}

// NewSema constructs a semaphore with the given initial count.
func NewSema(k *Kernel, count int) *Sema {
	return &Sema{k: k, count: count, waiters: klist.New[*Thread](byPriority)}
}

// Down decrements the counter, blocking the caller if it is zero.
// Executes with interrupts masked for atomicity against the timer.
func (s *Sema) Down() {
	unlock := s.k.Pushcli()
	defer unlock()
	for s.count == 0 {
		cur := s.k.current
		s.waiters.Insert(cur)
		s.k.block(cur)
	}
	s.count--
}

// Up increments the counter and wakes the highest-priority waiter, if
// any. If the woken thread outranks the running thread, the caller
// yields.
func (s *Sema) Up() {
	unlock := s.k.Pushcli()
	defer unlock()
	s.count++
	if w, ok := s.waiters.PopFront(); ok {
		s.k.unblock(w)
		if w.EffectivePriority() > s.k.current.EffectivePriority() {
			s.k.yieldLocked()
		}
	}
}

// TryDown decrements the counter only if already nonzero, without
// blocking, and reports whether it did.
func (s *Sema) TryDown() bool {
	unlock := s.k.Pushcli()
	defer unlock()
	if s.count == 0 {
		return false
	}
	s.count--
	return true
}

// Lock is a semaphore-backed mutex with priority donation: a waiter
// that outranks the holder lends it its priority until release.
type Lock struct {
	k       *Kernel
	sema    *Sema
	holder  *Thread
}

// NewLock constructs an unheld lock.
func NewLock(k *Kernel) *Lock {
	return &Lock{k: k, sema: NewSema(k, 1)}
}

// Acquire takes the lock, donating the caller's priority to the
// holder (and transitively, bounded by donationDepthMax) if the
// holder's effective priority is lower. Re-entrant acquisition is a
// programmer error, asserted via panic.
func (l *Lock) Acquire() {
	unlock := l.k.Pushcli()
	cur := l.k.current
	if l.holder == cur {
		unlock()
		panic("Lock.Acquire: re-entrant acquisition")
	}

	if l.holder != nil && l.holder.EffectivePriority() < cur.EffectivePriority() {
		l.donate(cur, l)
	}
	cur.waitingOn = l
	unlock()

	l.sema.Down()

	unlock = l.k.Pushcli()
	defer unlock()
	cur.waitingOn = nil
	l.holder = cur
}

// donate walks the lock-wait chain, applying cur's priority to each
// holder in turn, bounded to donationDepthMax hops.
func (l *Lock) donate(cur *Thread, lk *Lock) {
	depth := 0
	for lk != nil && lk.holder != nil && depth < donationDepthMax {
		lk.holder.donations[lk] = cur.EffectivePriority()
		l.k.repositionReady(lk.holder)
		next := lk.holder.waitingOn
		if next == nil {
			break
		}
		lk = next
		depth++
	}
}

// Release revokes donations this lock caused, restores the holder's
// priority to max(origin, remaining donations), and wakes the next
// waiter. Releasing a lock the caller does not hold is a programmer
// error, asserted via panic per the kernel's invariant policy.
func (l *Lock) Release() {
	unlock := l.k.Pushcli()
	defer unlock()

	holder := l.holder
	if holder != l.k.current {
		panic("Lock.Release: lock not held by caller")
	}
	delete(holder.donations, l)
	l.holder = nil
	l.sema.up_locked()

	// Revoking the donation may have dropped the caller below a thread
	// already in the ready queue; release is a "yields on priority"
	// operation, so give way now.
	if head, ok := l.k.ready.Front(); ok && head.EffectivePriority() > l.k.current.EffectivePriority() {
		l.k.yieldLocked()
	}
}

// up_locked is Up's body for callers that already hold the Pushcli
// guard, avoiding a recursive (non-reentrant) mutex acquire from
// Lock.Release.
func (s *Sema) up_locked() {
	s.count++
	if w, ok := s.waiters.PopFront(); ok {
		s.k.unblock(w)
		if w.EffectivePriority() > s.k.current.EffectivePriority() {
			s.k.yieldLocked()
		}
	}
}

// Held reports whether th currently holds l (diagnostic use).
func (l *Lock) Held(th *Thread) bool {
	return l.holder == th
}

// condWaiter is a per-waiter semaphore linked into a condition
// variable's waiters list, ordered by the waiting thread's priority.
type condWaiter struct {
	pri  int
	sema *Sema
}

// Cond is a condition variable. Unlike Sema/Lock it has no internal
// mutex of its own; the caller's Lock protects the predicate.
type Cond struct {
	k       *Kernel
	waiters *klist.List[*condWaiter]
}

// NewCond constructs a condition variable.
func NewCond(k *Kernel) *Cond {
	return &Cond{
		k: k,
		waiters: klist.New[*condWaiter](func(a, b *condWaiter) bool {
			return a.pri > b.pri
		}),
	}
}

// Wait atomically releases lock and blocks, reacquiring lock before
// returning.
func (c *Cond) Wait(lock *Lock) {
	cur := c.k.current
	w := &condWaiter{pri: cur.EffectivePriority(), sema: NewSema(c.k, 0)}

	unlock := c.k.Pushcli()
	c.waiters.Insert(w)
	unlock()

	lock.Release()
	w.sema.Down()
	lock.Acquire()
}

// Signal wakes the highest-priority waiter, if any.
func (c *Cond) Signal() {
	unlock := c.k.Pushcli()
	w, ok := c.waiters.PopFront()
	unlock()
	if ok {
		w.sema.Up()
	}
}

// Broadcast wakes every waiter.
func (c *Cond) Broadcast() {
	for {
		unlock := c.k.Pushcli()
		w, ok := c.waiters.PopFront()
		unlock()
		if !ok {
			return
		}
		w.sema.Up()
	}
}
