package proc

import (
	"wafer/abi"
	"wafer/common"
)

// Args bundles the Go-native parameters for one numbered syscall. A
// real instruction stream would pass these packed into abi.Frame's
// six argument registers, with pointer-valued arguments (paths,
// buffers) being user virtual addresses the kernel reads or writes
// through the faulting process's AddressSpace. Since this port has no
// instruction interpreter (package doc in process.go), a caller that
// only has a human-typed command line has no register file and no
// user memory to marshal through; Dispatch therefore takes each
// call's arguments already as Go values. It is still the single place
// that maps a numbered abi.Call onto its System operation, the role
// rax dispatch plays in a real syscall trampoline.
type Args struct {
	Path     string
	Size     int64
	Fd       common.Fd_t
	Buf      []byte
	N        int
	Pos      int64
	Status   int64
	ChildTid common.Tid_t
	Addr     common.Va_t
	Length   int64
	Writable bool
	Offset   int64
	Main     UserMain
	Name     string
}

// Dispatch runs one numbered syscall against p and returns its rax-style
// result (negative Err_t on failure, per common.Err_t.Neg) and, for
// READ, the bytes read. Syscall entry is where the kernel last sees a
// trustworthy user rsp, so it is captured here for the stack-growth
// fault rule.
func (s *System) Dispatch(p *Process, call abi.Call, a Args) (int64, []byte) {
	p.AS.CaptureRsp(common.Va_t(p.Frame.Rsp))

	switch call {
	case abi.HALT:
		return 0, nil

	case abi.EXIT:
		return s.Exit(p, a.Status), nil

	case abi.FORK:
		tid, errt := s.Fork(p, a.Name, a.Main)
		if errt != 0 {
			return errt.Neg(), nil
		}
		return int64(tid), nil

	case abi.EXEC:
		status, ok := s.Exec(p, a.Path, nil, a.Main)
		if !ok {
			return -1, nil
		}
		return status, nil

	case abi.WAIT:
		return s.Wait(p, a.ChildTid), nil

	case abi.CREATE:
		return s.Create(a.Path, a.Size).Neg(), nil

	case abi.REMOVE:
		return s.Remove(a.Path).Neg(), nil

	case abi.OPEN:
		fd, errt := s.Open(p, a.Path)
		if errt != 0 {
			return errt.Neg(), nil
		}
		return int64(fd), nil

	case abi.FILESIZE:
		return s.Filesize(p, a.Fd), nil

	case abi.READ:
		buf, n := s.Read(p, a.Fd, a.N)
		return n, buf

	case abi.WRITE:
		return s.Write(p, a.Fd, a.Buf), nil

	case abi.SEEK:
		return s.Seek(p, a.Fd, a.Pos).Neg(), nil

	case abi.TELL:
		return s.Tell(p, a.Fd), nil

	case abi.CLOSE:
		s.Close(p, a.Fd)
		return 0, nil

	case abi.MMAP:
		errt := s.Mmap(p, a.Addr, a.Length, a.Writable, a.Fd, a.Offset)
		if errt != 0 {
			return errt.Neg(), nil
		}
		return int64(a.Addr), nil

	case abi.MUNMAP:
		errt := s.Munmap(p, a.Addr)
		return errt.Neg(), nil

	default:
		return common.EINVAL.Neg(), nil
	}
}
