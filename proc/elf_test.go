package proc_test

import "encoding/binary"

// buildMiniELF constructs a minimal valid ELF64 little-endian EXEC
// image with a single PT_LOAD segment, for tests that need a real
// executable byte stream to drive abi.ParseSegments/LoadSegments.
func buildMiniELF(vaddr uint64, data []byte, memsz int64) []byte {
	const ehsize, phsize = 64, 56
	phoff := uint64(ehsize)
	fileOff := phoff + phsize

	buf := make([]byte, fileOff+uint64(len(data)))
	e := binary.LittleEndian

	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EI_VERSION

	e.PutUint16(buf[16:18], 2)      // e_type = EXEC
	e.PutUint16(buf[18:20], 0x3E)   // e_machine = x86-64
	e.PutUint32(buf[20:24], 1)      // e_version
	e.PutUint64(buf[24:32], vaddr)  // e_entry
	e.PutUint64(buf[32:40], phoff)  // e_phoff
	e.PutUint16(buf[52:54], ehsize) // e_ehsize
	e.PutUint16(buf[54:56], phsize) // e_phentsize
	e.PutUint16(buf[56:58], 1)      // e_phnum

	ph := buf[phoff : phoff+phsize]
	e.PutUint32(ph[0:4], 1)               // p_type = PT_LOAD
	e.PutUint32(ph[4:8], 0x1|0x2)         // p_flags = R|W
	e.PutUint64(ph[8:16], fileOff)        // p_offset
	e.PutUint64(ph[16:24], vaddr)         // p_vaddr
	e.PutUint64(ph[32:40], uint64(len(data))) // p_filesz
	e.PutUint64(ph[40:48], uint64(memsz)) // p_memsz

	copy(buf[fileOff:], data)
	return buf
}
