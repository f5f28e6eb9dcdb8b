package proc

import (
	"wafer/common"
	"wafer/ports"
)

// Create, Remove and Open correspond to the CREATE/REMOVE/OPEN
// numbered syscalls, delegating to the filesystem port.

func (s *System) Create(path string, size int64) common.Err_t {
	return s.FS.Create(path, size)
}

func (s *System) Remove(path string) common.Err_t {
	return s.FS.Remove(path)
}

// Open assigns the lowest free fd >= 3 to a freshly opened file.
func (s *System) Open(p *Process, path string) (common.Fd_t, common.Err_t) {
	f, errt := s.FS.Open(path)
	if errt != 0 {
		return -1, errt
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for fd := common.FdStdin + 3; fd < common.FdMax; fd++ {
		if p.fds[fd] == nil {
			p.fds[fd] = f
			return fd, 0
		}
	}
	f.Close()
	return -1, common.ENOMEM
}

func (p *Process) fileAt(fd common.Fd_t) (ports.File, bool) {
	if fd < 0 || int(fd) >= len(p.fds) {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	f := p.fds[fd]
	return f, f != nil
}

func (p *Process) closeFd(fd common.Fd_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fd < 0 || int(fd) >= len(p.fds) {
		return
	}
	if f := p.fds[fd]; f != nil {
		f.Close()
		p.fds[fd] = nil
	}
}

func (s *System) Close(p *Process, fd common.Fd_t) {
	p.closeFd(fd)
}

func (s *System) Filesize(p *Process, fd common.Fd_t) int64 {
	f, ok := p.fileAt(fd)
	if !ok {
		return -1
	}
	return f.Size()
}

func (s *System) Read(p *Process, fd common.Fd_t, n int) ([]byte, int64) {
	f, ok := p.fileAt(fd)
	if !ok {
		return nil, -1
	}
	buf := make([]byte, n)
	c, errt := f.ReadAt(buf, f.Tell())
	if errt != 0 {
		return nil, -1
	}
	f.Seek(f.Tell() + int64(c))
	return buf[:c], int64(c)
}

func (s *System) Write(p *Process, fd common.Fd_t, buf []byte) int64 {
	f, ok := p.fileAt(fd)
	if !ok {
		return -1
	}
	c, errt := f.WriteAt(buf, f.Tell())
	if errt != 0 {
		return -1
	}
	f.Seek(f.Tell() + int64(c))
	return int64(c)
}

func (s *System) Seek(p *Process, fd common.Fd_t, pos int64) common.Err_t {
	f, ok := p.fileAt(fd)
	if !ok {
		return common.EINVAL
	}
	return f.Seek(pos)
}

func (s *System) Tell(p *Process, fd common.Fd_t) int64 {
	f, ok := p.fileAt(fd)
	if !ok {
		return -1
	}
	return f.Tell()
}
