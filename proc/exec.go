package proc

import (
	"github.com/sirupsen/logrus"

	"wafer/abi"
)

// Exec destroys p's current address space and replaces it with a
// freshly loaded path, running newMain instead. Because this port has
// no instruction interpreter (package doc), exec cannot transfer
// control non-locally the way a real iret does; instead it runs
// newMain to completion itself and returns its status with ok=true.
// The calling UserMain MUST immediately `return` that status, exactly
// as control never returns past a real exec on success. ok=false
// means the new image failed to load; the new image is validated
// fully before the old one is touched, so on failure the caller's old
// address space and control flow are untouched and may continue.
func (s *System) Exec(p *Process, path string, argv []string, newMain UserMain) (status int64, ok bool) {
	as, exe, _, entry, errt := s.load(path)
	if errt != 0 {
		return -1, false
	}
	rsp, argvAddr, errt := abi.SetupUserStack(as, argv)
	if errt != 0 {
		exe.Close()
		as.Destroy()
		return -1, false
	}
	as.CaptureRsp(rsp)

	s.log.WithFields(logrus.Fields{"tid": p.Tid, "path": path}).Debug("exec")

	p.mu.Lock()
	oldAS := p.AS
	oldExe := p.exe
	p.AS = as
	p.exe = exe
	p.exe.DenyWrite()
	p.Frame = abi.Frame{Rip: uint64(entry), Rsp: uint64(rsp), Rdi: uint64(len(argv)), Rsi: uint64(argvAddr)}
	p.mu.Unlock()

	oldAS.Destroy()
	if oldExe != nil {
		oldExe.AllowWrite()
		oldExe.Close()
	}

	return newMain(p), true
}
