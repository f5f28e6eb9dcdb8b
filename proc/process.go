// Package proc implements process lifecycle on top of package kernel
// (threads/scheduling) and package vm (address spaces): fork, exec,
// wait and exit, plus the numbered syscall dispatch table.
//
// A real x86-64 kernel never executes Go closures as "user code"; this
// port has no instruction interpreter, so a user program is modeled as
// a UserMain closure the caller supplies at Spawn/Fork/Exec time. ELF
// parsing, segment loading and stack setup still run for real against
// the closure's AddressSpace, so page faults, fork-copy and mmap are
// exercised exactly as they would be against real code — only the
// instruction stream itself is stood in for.
package proc

import (
	"sync"

	"github.com/sirupsen/logrus"

	"wafer/abi"
	"wafer/common"
	"wafer/kernel"
	"wafer/ports"
	"wafer/vm"
)

// ChildMax bounds the fixed-size child array.
const ChildMax = 16

// UserMain is a process's simulated instruction stream: it runs with
// the process's AddressSpace installed and returns its exit status.
type UserMain func(p *Process) int64

// Process is one user process's descriptor: the per-thread
// address-space fields, lifted out of kernel.Thread (which stays
// vm/proc-agnostic) and attached via kernel.Thread.UserData.
type Process struct {
	mu sync.Mutex

	Tid    common.Tid_t
	Thread *kernel.Thread
	AS     *vm.AddressSpace

	exe ports.File // write-denied for the process's lifetime

	fds       [common.FdMax]ports.File
	nextFd    common.Fd_t
	parent    common.Tid_t
	hasParent bool
	children  [ChildMax]common.Tid_t // -1: empty slot

	exitStatus int64
	exited     bool

	sys *System

	forkSema *kernel.Sema
	waitSema *kernel.Sema
	freeSema *kernel.Sema

	Frame abi.Frame
}

// Table is a tid-indexed process arena. Parent and child slots hold
// tids rather than direct pointers (which would form reference
// cycles), resolved here through a presence check.
type Table struct {
	mu    sync.Mutex
	byTid map[common.Tid_t]*Process
}

func newTable() *Table {
	return &Table{byTid: make(map[common.Tid_t]*Process)}
}

func (t *Table) put(p *Process) {
	t.mu.Lock()
	t.byTid[p.Tid] = p
	t.mu.Unlock()
}

func (t *Table) get(tid common.Tid_t) (*Process, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.byTid[tid]
	return p, ok
}

func (t *Table) remove(tid common.Tid_t) {
	t.mu.Lock()
	delete(t.byTid, tid)
	t.mu.Unlock()
}

// System bundles the shared kernel-wide collaborators every process
// operation needs: the scheduler, the frame table, the filesystem and
// the process arena.
type System struct {
	K     *kernel.Kernel
	FT    *vm.FrameTable
	FS    ports.FileSystem
	Table *Table
	log   *logrus.Entry
}

// NewSystem wires a process subsystem on top of an already-constructed
// Kernel and FrameTable.
func NewSystem(k *kernel.Kernel, ft *vm.FrameTable, fs ports.FileSystem, log *logrus.Entry) *System {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &System{K: k, FT: ft, FS: fs, Table: newTable(), log: log}
}

// newProcess builds a Process not yet bound to a kernel.Thread. Its
// Thread/Tid fields are filled in by the entry closure passed to
// kernel.Kernel.Create, from the *kernel.Thread that closure receives
// as its own argument, never from a variable captured before Create
// runs: Create may run a new higher-priority thread to completion
// before it returns, which would otherwise race the assignment.
func (s *System) newProcess(as *vm.AddressSpace) *Process {
	p := &Process{
		AS:       as,
		sys:      s,
		nextFd:   common.FdStdin + 3, // fd 2 reserved, user files start at 3
		forkSema: kernel.NewSema(s.K, 0),
		waitSema: kernel.NewSema(s.K, 0),
		freeSema: kernel.NewSema(s.K, 0),
	}
	for i := range p.children {
		p.children[i] = -1
	}
	return p
}

// Spawn loads path as a fresh top-level process (no parent) and
// starts it running main at the given scheduling priority. Used for
// the init process; every other process is created by Fork.
func (s *System) Spawn(name string, priority int, path string, argv []string, main UserMain) (*Process, common.Err_t) {
	as, exe, segs, entry, errt := s.load(path)
	if errt != 0 {
		return nil, errt
	}
	rsp, argvAddr, errt := abi.SetupUserStack(as, argv)
	if errt != 0 {
		exe.Close()
		return nil, errt
	}
	as.CaptureRsp(rsp)
	_ = segs

	p := s.newProcess(as)
	p.exe = exe
	p.exe.DenyWrite()
	p.Frame = abi.Frame{Rip: uint64(entry), Rsp: uint64(rsp), Rdi: uint64(len(argv)), Rsi: uint64(argvAddr)}

	th, errt := s.K.Create(name, priority, func(th *kernel.Thread) {
		p.Thread = th
		p.Tid = th.Tid
		th.UserData = p
		s.Table.put(p)
		s.runAndExit(p, main)
	}, nil)
	if errt != 0 {
		exe.Close()
		return nil, errt
	}
	// Redundant with the entry closure's own assignment (safe: the
	// baton model serializes every goroutine, so whichever of the two
	// runs first, the other's write happens strictly after, never
	// concurrently) — but guarantees p.Tid/p.Thread are set before
	// Spawn returns even if Create() returned without running the new
	// thread at all (the common case when it does not outrank the
	// caller).
	p.Thread = th
	p.Tid = th.Tid
	th.UserData = p
	s.Table.put(p)
	s.log.WithFields(logrus.Fields{"tid": p.Tid, "name": name, "path": path}).Debug("spawn")
	return p, 0
}

// load opens path, parses its ELF segments, builds a fresh
// AddressSpace and installs the segments and initial stack page.
func (s *System) load(path string) (*vm.AddressSpace, ports.File, []ports.ELFSegment, common.Va_t, common.Err_t) {
	f, errt := s.FS.Open(path)
	if errt != 0 {
		return nil, nil, nil, 0, errt
	}
	size := f.Size()
	image := make([]byte, size)
	if _, errt := f.ReadAt(image, 0); errt != 0 {
		f.Close()
		return nil, nil, nil, 0, errt
	}
	segs, entry, errt := abi.ParseSegments(image)
	if errt != 0 {
		f.Close()
		return nil, nil, nil, 0, errt
	}
	as := vm.NewAddressSpace(s.FT, s.log)
	if errt := as.InstallStack(); errt != 0 {
		f.Close()
		return nil, nil, nil, 0, errt
	}
	if errt := abi.LoadSegments(as, segs, f); errt != 0 {
		f.Close()
		return nil, nil, nil, 0, errt
	}
	return as, f, segs, entry, 0
}

// runAndExit runs a process's UserMain to completion and performs
// every exit cleanup step except the final switch to DYING, which
// kernel.Thread's own goroutine wrapper performs unconditionally once
// this function returns.
func (s *System) runAndExit(p *Process, main UserMain) {
	status := main(p)
	s.finishExit(p, status)
}

func (p *Process) K() *kernel.Kernel { return p.Thread.K() }

// Sys returns the System this process belongs to, so user-code
// closures can reach the syscall and fault entry points with only
// their *Process in hand.
func (p *Process) Sys() *System { return p.sys }
