package proc

import (
	"github.com/sirupsen/logrus"

	"wafer/common"
)

// PageFault is the kernel's page-fault entry for a user process: the
// trap handler's stand-in. It captures the faulting frame's user rsp
// (the stack-growth rule needs the value at fault time, not at the
// last syscall) and asks the address space to service the fault. A
// non-zero return means the fault is unhandled and the caller must
// terminate the process with status -1.
func (s *System) PageFault(p *Process, addr common.Va_t, write bool) common.Err_t {
	p.AS.CaptureRsp(common.Va_t(p.Frame.Rsp))
	errt := p.AS.TryHandleFault(addr, true, write, true)
	if errt != 0 {
		s.log.WithFields(logrus.Fields{"tid": p.Tid, "addr": addr, "write": write}).
			Warn("unhandled page fault")
	}
	return errt
}
