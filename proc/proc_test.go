package proc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wafer/common"
	"wafer/kernel"
	"wafer/ports"
	"wafer/proc"
	"wafer/vm"
)

// childPriority is above the test goroutine's own "main" thread
// priority (PriMin+31 == 31), forcing kernel.Create to yield
// immediately to a Spawned process so the whole fork/wait/exit dance
// under test runs to completion synchronously within one Spawn call,
// per the baton model (kernel/kernel.go's schedule/Create).
const childPriority = 40

func newTestSystem(t *testing.T, frames int) (*proc.System, *ports.MemFS) {
	t.Helper()
	k, _ := kernel.New(kernel.Config{})
	pool := ports.NewMemoryPhysPool(frames)
	ft := vm.NewFrameTable(pool, nil, nil)
	fs := ports.NewMemFS()
	return proc.NewSystem(k, ft, fs, nil), fs
}

func mkExe(t *testing.T, fs *ports.MemFS, path string) {
	t.Helper()
	image := buildMiniELF(0x400000, []byte{0x90, 0x90, 0x90, 0x90}, 0x1000)
	require.Zero(t, fs.Create(path, int64(len(image))))
	f, errt := fs.Open(path)
	require.Zero(t, errt)
	_, errt = f.WriteAt(image, 0)
	require.Zero(t, errt)
	require.Zero(t, f.Close())
}

func TestForkWaitScenario(t *testing.T) {
	sys, fs := newTestSystem(t, 64)
	mkExe(t, fs, "/init")

	var childStatus int64
	childMain := func(p *proc.Process) int64 {
		childStatus = 0x42
		return childStatus
	}

	var result int64 = -99
	parentMain := func(p *proc.Process) int64 {
		tid, errt := sys.Fork(p, "child", childMain)
		require.Zero(t, errt)
		require.NotEqual(t, common.Tid_t(-1), tid)

		status := sys.Wait(p, tid)
		assert.Equal(t, int64(0x42), status)

		second := sys.Wait(p, tid)
		assert.Equal(t, int64(-1), second)

		result = 0
		return 0
	}

	_, errt := sys.Spawn("parent", childPriority, "/init", nil, parentMain)
	require.Zero(t, errt)
	assert.Equal(t, int64(0x42), childStatus)
	assert.Equal(t, int64(0), result)
}

func TestForkDuplicatesFdsByIndex(t *testing.T) {
	sys, fs := newTestSystem(t, 64)
	mkExe(t, fs, "/init")
	require.Zero(t, fs.Create("/data", 16))

	var childFd common.Fd_t
	var childWriteOK bool
	childMain := func(p *proc.Process) int64 {
		n := sys.Write(p, childFd, []byte("hello"))
		childWriteOK = n == 5
		return 0
	}

	var parentFd common.Fd_t
	parentMain := func(p *proc.Process) int64 {
		var errt common.Err_t
		parentFd, errt = sys.Open(p, "/data")
		require.Zero(t, errt)
		childFd = parentFd

		tid, errt := sys.Fork(p, "child", childMain)
		require.Zero(t, errt)
		sys.Wait(p, tid)

		// Parent's own fd survived the fork independently and still
		// reads back what the child wrote through its duplicate, since
		// both duplicates share the same backing inode.
		buf, n := sys.Read(p, parentFd, 5)
		require.EqualValues(t, 5, n)
		assert.Equal(t, "hello", string(buf))
		return 0
	}

	_, errt := sys.Spawn("parent", childPriority, "/init", nil, parentMain)
	require.Zero(t, errt)
	assert.True(t, childWriteOK)
}

func TestExecutableWriteDeniedForProcessLifetime(t *testing.T) {
	sys, fs := newTestSystem(t, 64)
	mkExe(t, fs, "/init")

	var writeDeniedWhileRunning bool
	parentMain := func(p *proc.Process) int64 {
		dup, errt := fs.Open("/init")
		require.Zero(t, errt)
		_, errt = dup.WriteAt([]byte{0x90}, 0)
		writeDeniedWhileRunning = errt != 0
		dup.Close()
		return 0
	}

	_, errt := sys.Spawn("parent", childPriority, "/init", nil, parentMain)
	require.Zero(t, errt)
	assert.True(t, writeDeniedWhileRunning, "write to a running process's executable must be denied")

	dup, errt := fs.Open("/init")
	require.Zero(t, errt)
	_, errt = dup.WriteAt([]byte{0x90}, 0)
	assert.Zero(t, errt, "write must be allowed again once the process has exited")
	dup.Close()
}

func TestForkPageParallelEviction(t *testing.T) {
	const nChildren = 4
	const pagesPerChild = 5
	// A pool smaller than the total working set (4*5 pages) across a
	// shared FrameTable forces eviction/reclaim to actually run,
	// rather than merely being reachable code.
	sys, fs := newTestSystem(t, 3)
	mkExe(t, fs, "/init")

	statuses := make([]int64, nChildren)

	makeChildMain := func(idx int) proc.UserMain {
		return func(p *proc.Process) int64 {
			base := common.Va_t(0x20000000 + idx*0x00100000)
			for j := 0; j < pagesPerChild; j++ {
				va := base + common.Va_t(j*common.PGSIZE)
				init := vm.Initer{Kind: vm.Anon, Fn: func(dst []byte, _ any) common.Err_t {
					for i := range dst {
						dst[i] = byte(idx)
					}
					return 0
				}}
				errt := p.AS.InstallUninit(va, true, init, false, 0)
				require.Zero(t, errt)
				errt = p.AS.TryHandleFault(va, true, true, true)
				require.Zero(t, errt)
			}
			return int64(0x42 + idx)
		}
	}

	parentMain := func(p *proc.Process) int64 {
		tids := make([]common.Tid_t, nChildren)
		for i := 0; i < nChildren; i++ {
			tid, errt := sys.Fork(p, "child", makeChildMain(i))
			require.Zero(t, errt)
			tids[i] = tid
		}
		for i, tid := range tids {
			statuses[i] = sys.Wait(p, tid)
		}
		return 0
	}

	_, errt := sys.Spawn("parent", childPriority, "/init", nil, parentMain)
	require.Zero(t, errt)
	for i := 0; i < nChildren; i++ {
		assert.Equal(t, int64(0x42+i), statuses[i])
	}
}

// TestStackGrowthViaFaultEntry drives the stack-growth branch through
// the kernel's fault entry: the process pushes rsp down a page at a
// time and faults on the new top of stack.
func TestStackGrowthViaFaultEntry(t *testing.T) {
	sys, fs := newTestSystem(t, 64)
	mkExe(t, fs, "/init")

	var grown bool
	main := func(p *proc.Process) int64 {
		for i := 0; i < 3; i++ {
			p.Frame.Rsp -= common.PGSIZE
			if errt := sys.PageFault(p, common.Va_t(p.Frame.Rsp), true); errt != 0 {
				return -1
			}
		}
		grown = true
		return 0
	}
	_, errt := sys.Spawn("p", childPriority, "/init", nil, main)
	require.Zero(t, errt)
	require.True(t, grown, "faults at the pushed rsp must grow the stack")
}
