// Package abi implements the user-facing binary interface: the
// numbered syscall table, ELF64 program-header parsing, and the user
// stack layout built at process entry. ELF parsing reads the fixed
// header field offsets directly via encoding/binary rather than
// pulling in debug/elf, since only a handful of fields matter.
package abi

import (
	"encoding/binary"

	"wafer/common"
	"wafer/ports"
)

const (
	elfMagic0, elfMagic1, elfMagic2, elfMagic3 = 0x7f, 'E', 'L', 'F'

	elfClass64   = 2
	elfData2LSB  = 1
	elfTypeExec  = 2
	elfMachineX86_64 = 0x3E

	ptLoad    = 1
	ptDynamic = 2
	ptInterp  = 3
	ptShlib   = 5

	pfWrite = 0x2

	maxProgHeaders = 1024

	ehsize = 64 // ELF64 header size
	phsize = 56 // ELF64 program header entry size
)

// ParseSegments reads an ELF64 little-endian EXEC image and returns
// its PT_LOAD segments. Any PT_DYNAMIC, PT_INTERP or PT_SHLIB program
// header fails the whole load; other non-LOAD types are ignored.
func ParseSegments(image []byte) ([]ports.ELFSegment, common.Va_t, common.Err_t) {
	if len(image) < ehsize {
		return nil, 0, common.EINVAL
	}
	if image[0] != elfMagic0 || image[1] != elfMagic1 || image[2] != elfMagic2 || image[3] != elfMagic3 {
		return nil, 0, common.EINVAL
	}
	if image[4] != elfClass64 || image[5] != elfData2LSB {
		return nil, 0, common.EINVAL
	}

	byteOrder := binary.LittleEndian
	etype := byteOrder.Uint16(image[16:18])
	machine := byteOrder.Uint16(image[18:20])
	if etype != elfTypeExec || machine != elfMachineX86_64 {
		return nil, 0, common.EINVAL
	}

	entry := byteOrder.Uint64(image[24:32])
	phoff := byteOrder.Uint64(image[32:40])
	phentsize := byteOrder.Uint16(image[54:56])
	phnum := byteOrder.Uint16(image[56:58])

	if phentsize != phsize || int(phnum) > maxProgHeaders {
		return nil, 0, common.EINVAL
	}

	segs := make([]ports.ELFSegment, 0, phnum)
	for i := 0; i < int(phnum); i++ {
		off := phoff + uint64(i)*uint64(phentsize)
		if off+uint64(phsize) > uint64(len(image)) {
			return nil, 0, common.EINVAL
		}
		ph := image[off : off+phsize]
		ptype := byteOrder.Uint32(ph[0:4])
		switch ptype {
		case ptDynamic, ptInterp, ptShlib:
			return nil, 0, common.EINVAL
		case ptLoad:
			flags := byteOrder.Uint32(ph[4:8])
			fileOff := byteOrder.Uint64(ph[8:16])
			vaddr := byteOrder.Uint64(ph[16:24])
			filesz := byteOrder.Uint64(ph[32:40])
			memsz := byteOrder.Uint64(ph[40:48])
			segs = append(segs, ports.ELFSegment{
				Vaddr:    common.Va_t(vaddr),
				Writable: flags&pfWrite != 0,
				FileOff:  int64(fileOff),
				FileSize: int64(filesz),
				MemSize:  int64(memsz),
			})
		}
	}
	return segs, common.Va_t(entry), 0
}
