package abi

// Frame is a process's saved user interrupt frame: the subset of the
// register file that fork, exec and the syscall dispatcher actually
// need to read or patch. Call number and arguments follow the x86-64
// syscall convention: number in rax, arguments in
// rdi/rsi/rdx/r10/r8/r9, return value in rax.
type Frame struct {
	Rax uint64
	Rdi uint64
	Rsi uint64
	Rdx uint64
	R10 uint64
	R8  uint64
	R9  uint64
	Rip uint64
	Rsp uint64
}

// Call is a numbered syscall.
type Call int64

const (
	HALT Call = iota
	EXIT
	FORK
	EXEC
	WAIT
	CREATE
	REMOVE
	OPEN
	FILESIZE
	READ
	WRITE
	SEEK
	TELL
	CLOSE
	MMAP
	MUNMAP
)

func (c Call) String() string {
	names := [...]string{
		"HALT", "EXIT", "FORK", "EXEC", "WAIT", "CREATE", "REMOVE",
		"OPEN", "FILESIZE", "READ", "WRITE", "SEEK", "TELL", "CLOSE",
		"MMAP", "MUNMAP",
	}
	if int(c) < 0 || int(c) >= len(names) {
		return "UNKNOWN"
	}
	return names[c]
}
