package vm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"wafer/common"
	"wafer/ports"
	"wafer/vm"
)

func newAS(t *testing.T, poolFrames int) (*vm.AddressSpace, *vm.FrameTable) {
	t.Helper()
	pool := ports.NewMemoryPhysPool(poolFrames)
	ft := vm.NewFrameTable(pool, nil, nil)
	return vm.NewAddressSpace(ft, nil), ft
}

func TestStackFaultInResidentPage(t *testing.T) {
	as, _ := newAS(t, 8)
	require.Zero(t, as.InstallStack())

	addr := vm.UserStack - 8
	as.CaptureRsp(addr)
	errt := as.TryHandleFault(addr, true, true, true)
	require.Zero(t, errt)
}

func TestStackGrowthExtendsDownward(t *testing.T) {
	as, _ := newAS(t, 8)
	require.Zero(t, as.InstallStack())
	as.CaptureRsp(vm.UserStack - 8)

	target := vm.UserStack - common.Va_t(3*common.PGSIZE) - 16
	errt := as.TryHandleFault(target, true, true, true)
	require.Zero(t, errt)

	// A second fault just below the first growth must also succeed,
	// extending one more page.
	errt = as.TryHandleFault(target-common.Va_t(common.PGSIZE), true, true, true)
	require.Zero(t, errt)
}

func TestStackGrowthBeyondMaxFails(t *testing.T) {
	as, _ := newAS(t, 64)
	require.Zero(t, as.InstallStack())
	as.CaptureRsp(vm.UserStack - 8)

	tooFar := vm.UserStack - vm.MaxStackSize - common.PGSIZE
	errt := as.TryHandleFault(tooFar, true, true, true)
	require.NotZero(t, errt)
}

func TestWriteToReadOnlyPageFails(t *testing.T) {
	as, _ := newAS(t, 8)
	va := common.Va_t(0x1000)
	require.Zero(t, as.InstallUninit(va, false, vm.Initer{Kind: vm.Anon, Fn: constInit(7)}, false, 0))
	require.Zero(t, as.TryHandleFault(va, true, false, true)) // first touch: read fault claims it

	errt := as.TryHandleFault(va, true, true, false) // present + write => protection fault
	require.NotZero(t, errt)
}

func TestUnmappedAddressFails(t *testing.T) {
	as, _ := newAS(t, 8)
	errt := as.TryHandleFault(0x9999000, true, false, true)
	require.NotZero(t, errt)
}

func TestForkCopyAnonPageIsIndependent(t *testing.T) {
	as, ft := newAS(t, 8)
	va := common.Va_t(0x2000)
	require.Zero(t, as.InstallUninit(va, true, vm.Initer{Kind: vm.Anon, Fn: constInit(1)}, false, 0))
	require.Zero(t, as.TryHandleFault(va, true, true, true))

	child, errt := as.ForkCopy()
	require.Zero(t, errt)

	errt = child.TryHandleFault(va, true, true, true)
	require.Zero(t, errt)

	// A write through the child must not show up in the parent.
	require.Zero(t, child.WriteBytes(va, []byte{9}))
	got, errt := as.ReadBytes(va, 1)
	require.Zero(t, errt)
	require.Equal(t, byte(1), got[0])

	_ = ft
}

func TestMmapMunmapRoundTrip(t *testing.T) {
	as, _ := newAS(t, 8)
	fs := ports.NewMemFS()
	require.Zero(t, fs.Create("data", common.PGSIZE))
	f, errt := fs.Open("data")
	require.Zero(t, errt)
	f.WriteAt([]byte("hello"), 0)

	addr := common.Va_t(0x4000)
	require.Zero(t, as.Mmap(addr, common.PGSIZE, true, f, 0))

	errt = as.TryHandleFault(addr, true, false, true)
	require.Zero(t, errt)

	require.Zero(t, as.Munmap(addr))
	// A second munmap at the same address is no longer a live mapping.
	require.NotZero(t, as.Munmap(addr))
}

func TestMmapRejectsOverlap(t *testing.T) {
	as, _ := newAS(t, 8)
	fs := ports.NewMemFS()
	require.Zero(t, fs.Create("data", common.PGSIZE*2))
	f, _ := fs.Open("data")

	addr := common.Va_t(0x5000)
	require.Zero(t, as.Mmap(addr, common.PGSIZE, false, f, 0))
	require.NotZero(t, as.Mmap(addr, common.PGSIZE, false, f, 0))
}

func TestEvictionUnderSmallPool(t *testing.T) {
	as, _ := newAS(t, 2)
	for i := 0; i < 5; i++ {
		va := common.Va_t(0x10000 + i*common.PGSIZE)
		require.Zero(t, as.InstallUninit(va, true, vm.Initer{Kind: vm.Anon, Fn: constInit(byte(i))}, false, 0))
		errt := as.TryHandleFault(va, true, true, true)
		require.Zero(t, errt, "claim %d must succeed by evicting an older frame", i)
	}
}

func constInit(b byte) vm.Initializer {
	return func(dst []byte, _ any) common.Err_t {
		for i := range dst {
			dst[i] = b
		}
		return 0
	}
}

func TestMunmapRequiresMappingStart(t *testing.T) {
	as, _ := newAS(t, 8)
	fs := ports.NewMemFS()
	require.Zero(t, fs.Create("data", common.PGSIZE*2))
	f, errt := fs.Open("data")
	require.Zero(t, errt)

	addr := common.Va_t(0x6000)
	require.Zero(t, as.Mmap(addr, 2*common.PGSIZE, false, f, 0))

	// An address inside the mapping but past its first page is not a
	// previous mmap return value.
	require.NotZero(t, as.Munmap(addr+common.PGSIZE))
	require.Zero(t, as.Munmap(addr))
}
