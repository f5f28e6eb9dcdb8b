package proc

import (
	"github.com/sirupsen/logrus"

	"wafer/common"
)

// Wait: if childTid is not among p's children, fail immediately.
// Otherwise down the child's wait semaphore (the child ups it as its
// last act before blocking for destruction), detach the child from
// p's child array, up the child's free semaphore to let it proceed to
// destruction, and return its exit status. A second wait on the same
// tid returns -1, since the slot was already cleared.
func (s *System) Wait(p *Process, childTid common.Tid_t) int64 {
	p.mu.Lock()
	slot := -1
	for i, c := range p.children {
		if c == childTid {
			slot = i
			break
		}
	}
	p.mu.Unlock()
	if slot == -1 {
		return -1
	}

	child, ok := s.Table.get(childTid)
	if !ok {
		// Child already exited and was reaped by nothing else reaching
		// it first is impossible under single-waiter semantics, but a
		// vanished descriptor is still a programmer-visible -1 rather
		// than a panic.
		p.mu.Lock()
		p.children[slot] = -1
		p.mu.Unlock()
		return -1
	}

	child.waitSema.Down()

	p.mu.Lock()
	p.children[slot] = -1
	p.mu.Unlock()

	status := child.exitStatus
	child.freeSema.Up()
	s.log.WithFields(logrus.Fields{"tid": p.Tid, "child": childTid, "status": status}).Debug("wait")
	return status
}
