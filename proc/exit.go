package proc

import (
	"wafer/common"
)

// finishExit runs every exit step up to, but not including, the final
// switch to DYING (performed by the caller's kernel.Thread goroutine
// wrapper once this returns): print the exit line, close every fd,
// re-enable writes on the executable, release any children still
// alive so they are not stranded waiting on a dead parent, up the
// wait semaphore, then block on the free semaphore until the parent
// (if any) has observed the status. After the free semaphore returns,
// or immediately for an orphan with no live parent, destroy the
// address space and drop out of the process table.
//
// Idempotent: the first caller wins. The EXIT syscall runs it from
// inside the process's own UserMain, after which runAndExit's
// unconditional call on return is a no-op.
func (s *System) finishExit(p *Process, status int64) {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return
	}
	p.exited = true
	p.exitStatus = status
	hasParent := p.hasParent
	kids := p.children
	p.mu.Unlock()

	s.log.WithFields(map[string]any{"tid": p.Tid, "status": status}).
		Infof("%s: exit(%d)", p.Thread.Name, status)

	for fd := common.FdStdin + 2; fd < common.FdMax; fd++ {
		p.closeFd(fd)
	}
	if p.exe != nil {
		p.exe.AllowWrite()
		p.exe.Close()
	}

	// Orphan any remaining children: mark them parentless and up their
	// free semaphores so their own exits proceed straight to teardown
	// instead of waiting for a wait() that can never come.
	for _, tid := range kids {
		if tid == -1 {
			continue
		}
		if c, ok := s.Table.get(tid); ok {
			c.mu.Lock()
			c.hasParent = false
			c.mu.Unlock()
			c.freeSema.Up()
		}
	}

	p.waitSema.Up()
	if hasParent {
		p.freeSema.Down()
	}

	p.AS.Destroy()
	s.Table.remove(p.Tid)
}

// Exit is the explicit exit(status) syscall: it performs the full
// exit sequence (close fds, release the executable, rendezvous with
// the parent, tear down the address space) synchronously, then
// returns the status. The calling UserMain MUST immediately `return`
// that status, exactly as control never returns past a real exit;
// the thread's own cleanup on return is then a no-op.
func (s *System) Exit(p *Process, status int64) int64 {
	s.finishExit(p, status)
	return status
}
