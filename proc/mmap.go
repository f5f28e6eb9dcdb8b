package proc

import "wafer/common"

// Mmap and Munmap implement the MMAP/MUNMAP numbered syscalls,
// delegating to the process's AddressSpace.
func (s *System) Mmap(p *Process, addr common.Va_t, length int64, writable bool, fd common.Fd_t, offset int64) common.Err_t {
	f, ok := p.fileAt(fd)
	if !ok {
		return common.EINVAL
	}
	return p.AS.Mmap(addr, length, writable, f, offset)
}

func (s *System) Munmap(p *Process, addr common.Va_t) common.Err_t {
	return p.AS.Munmap(addr)
}
