package proc

import (
	"github.com/sirupsen/logrus"

	"wafer/common"
	"wafer/kernel"
)

// Fork snapshots the parent's address space and fd table into a new
// child process, which resumes running childMain with syscall return
// value 0, while the parent observes the child's tid (or -1 on
// failure). The parent blocks on the child's fork semaphore until the
// child has started and reported in.
func (s *System) Fork(parent *Process, name string, childMain UserMain) (common.Tid_t, common.Err_t) {
	parent.mu.Lock()
	slot := -1
	for i, c := range parent.children {
		if c == -1 {
			slot = i
			break
		}
	}
	parent.mu.Unlock()
	if slot == -1 {
		return -1, common.ENOMEM
	}

	childAS, errt := parent.AS.ForkCopy()
	if errt != 0 {
		return -1, errt
	}

	c := s.newProcess(childAS)
	c.parent = parent.Tid
	c.hasParent = true
	c.Frame = parent.Frame
	c.Frame.Rax = 0 // child observes 0 as the fork return value

	parent.mu.Lock()
	if errt := s.dupFdsLocked(parent, c); errt != 0 {
		parent.mu.Unlock()
		childAS.Destroy()
		return -1, errt
	}
	parent.mu.Unlock()

	if parent.exe != nil {
		dup, errt := parent.exe.Duplicate()
		if errt != 0 {
			childAS.Destroy()
			return -1, errt
		}
		c.exe = dup
		c.exe.DenyWrite()
	}

	priority := s.K.GetPriority(parent.Thread)
	th, errt := s.K.Create(name, priority, func(th *kernel.Thread) {
		c.Thread = th
		c.Tid = th.Tid
		th.UserData = c
		s.Table.put(c)
		c.forkSema.Up()
		s.runAndExit(c, childMain)
	}, nil)
	if errt != 0 {
		childAS.Destroy()
		return -1, errt
	}
	c.Thread = th
	c.Tid = th.Tid
	th.UserData = c
	s.Table.put(c)

	parent.mu.Lock()
	parent.children[slot] = th.Tid
	parent.mu.Unlock()

	s.log.WithFields(logrus.Fields{"parent": parent.Tid, "child": th.Tid, "name": name}).Debug("fork")

	c.forkSema.Down()
	return th.Tid, 0
}

// dupFdsLocked duplicates every open fd from parent into child, fd
// index for fd index, so descriptor numbers survive the fork. Caller
// holds parent.mu.
func (s *System) dupFdsLocked(parent, child *Process) common.Err_t {
	for fd, f := range parent.fds {
		if f == nil {
			continue
		}
		dup, errt := f.Duplicate()
		if errt != 0 {
			return errt
		}
		child.fds[fd] = dup
	}
	return 0
}
