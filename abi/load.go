package abi

import (
	"wafer/common"
	"wafer/ports"
	"wafer/vm"
)

// LoadSegments installs each PT_LOAD segment into as as a sequence of
// per-page UNINIT entries: file-backed for the filesz portion,
// zero-fill anonymous for the memsz-filesz remainder (typically .bss).
// Nothing is read from the executable until the pages fault in.
func LoadSegments(as *vm.AddressSpace, segs []ports.ELFSegment, exe ports.File) common.Err_t {
	for _, seg := range segs {
		if !common.Page_aligned(seg.Vaddr) {
			return common.EINVAL
		}
		pages := (seg.MemSize + common.PGSIZE - 1) / common.PGSIZE
		for i := int64(0); i < pages; i++ {
			va := seg.Vaddr + common.Va_t(i*common.PGSIZE)
			pageStart := i * common.PGSIZE

			var readBytes int64
			if pageStart < seg.FileSize {
				readBytes = seg.FileSize - pageStart
				if readBytes > common.PGSIZE {
					readBytes = common.PGSIZE
				}
			}

			var init vm.Initer
			if readBytes > 0 {
				dup, errt := exe.Duplicate()
				if errt != 0 {
					return errt
				}
				init = vm.Initer{
					Kind: vm.File,
					Fn:   fileSegmentInit,
					Aux: vm.FileAux{
						File:      dup,
						Offset:    seg.FileOff + pageStart,
						ReadBytes: readBytes,
						ZeroBytes: common.PGSIZE - readBytes,
					},
				}
			} else {
				init = vm.Initer{Kind: vm.Anon, Fn: zeroFillInit}
			}

			if errt := as.InstallUninit(va, seg.Writable, init, false, 0); errt != 0 {
				return errt
			}
		}
	}
	return 0
}

func fileSegmentInit(dst []byte, aux any) common.Err_t {
	a := aux.(vm.FileAux)
	n := a.ReadBytes
	if n > int64(len(dst)) {
		n = int64(len(dst))
	}
	if _, errt := a.File.ReadAt(dst[:n], a.Offset); errt != 0 {
		return errt
	}
	for i := n; i < int64(len(dst)); i++ {
		dst[i] = 0
	}
	return 0
}

func zeroFillInit(dst []byte, _ any) common.Err_t {
	for i := range dst {
		dst[i] = 0
	}
	return 0
}
