package main

import (
	"fmt"

	"wafer/common"
	"wafer/ports"
	"wafer/proc"
	"wafer/vm"
)

// program bundles a named executable's ELF image (so fork/exec still
// drive the real ABI loader and page-fault path) with the UserMain
// closure that stands in for its instruction stream, per
// proc.UserMain's package doc: this port has no instruction
// interpreter, so a "binary" is a Go closure plus a stub image just
// large enough to exercise ParseSegments/LoadSegments faithfully.
type program struct {
	image []byte
	main  proc.UserMain
}

// registry is the shell's fixed set of built-in programs.
var registry = map[string]program{
	"true": {
		image: stubImage(0x400000, nil, 0),
		main:  func(p *proc.Process) int64 { return 0 },
	},
	"false": {
		image: stubImage(0x400000, nil, 0),
		main:  func(p *proc.Process) int64 { return 1 },
	},
	"child-linear": {
		// Touches a large anonymous region sequentially, enough to
		// force eviction under a small frame pool, then exits with a
		// recognizable sentinel status.
		image: stubImage(0x400000, nil, 0),
		main: func(p *proc.Process) int64 {
			const pages = 16
			base := common.Va_t(0x30000000)
			for i := 0; i < pages; i++ {
				va := base + common.Va_t(i*common.PGSIZE)
				init := vm.Initer{Kind: vm.Anon, Fn: func(dst []byte, _ any) common.Err_t {
					for j := range dst {
						dst[j] = byte(i)
					}
					return 0
				}}
				if errt := p.AS.InstallUninit(va, true, init, false, 0); errt != 0 {
					return -1
				}
				if errt := p.Sys().PageFault(p, va, true); errt != 0 {
					return -1
				}
			}
			return 0x42
		},
	},
	"stack-deep": {
		// Pushes the stack pointer down a page at a time and touches
		// each new frame, driving the stack-growth branch of the fault
		// handler the way a deeply recursive program would.
		image: stubImage(0x400000, nil, 0),
		main: func(p *proc.Process) int64 {
			const pages = 6
			for i := 0; i < pages; i++ {
				p.Frame.Rsp -= common.PGSIZE
				if errt := p.Sys().PageFault(p, common.Va_t(p.Frame.Rsp), true); errt != 0 {
					return -1
				}
			}
			return 0
		},
	},
}

// stubImage builds a minimal valid ELF64 little-endian EXEC image
// with a single PT_LOAD segment, the same field layout
// abi.ParseSegments expects, so the shell's built-in programs load
// through the real loader rather than bypassing it. Mirrors
// proc/elf_test.go's buildMiniELF, duplicated here because it is
// bootstrap/demo code rather than kernel logic.
func stubImage(vaddr uint64, data []byte, memsz int64) []byte {
	const ehsize, phsize = 64, 56
	phoff := uint64(ehsize)
	fileOff := phoff + phsize
	if memsz == 0 {
		memsz = common.PGSIZE
	}

	buf := make([]byte, fileOff+uint64(len(data)))
	putU16 := func(b []byte, v uint16) {
		b[0], b[1] = byte(v), byte(v>>8)
	}
	putU32 := func(b []byte, v uint32) {
		for i := 0; i < 4; i++ {
			b[i] = byte(v >> (8 * i))
		}
	}
	putU64 := func(b []byte, v uint64) {
		for i := 0; i < 8; i++ {
			b[i] = byte(v >> (8 * i))
		}
	}

	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EI_VERSION

	putU16(buf[16:18], 2)      // e_type = EXEC
	putU16(buf[18:20], 0x3E)   // e_machine = x86-64
	putU32(buf[20:24], 1)      // e_version
	putU64(buf[24:32], vaddr)  // e_entry
	putU64(buf[32:40], phoff)  // e_phoff
	putU16(buf[52:54], ehsize) // e_ehsize
	putU16(buf[54:56], phsize) // e_phentsize
	putU16(buf[56:58], 1)      // e_phnum

	ph := buf[phoff : phoff+phsize]
	putU32(ph[0:4], 1)                    // p_type = PT_LOAD
	putU32(ph[4:8], 0x1|0x2)              // p_flags = R|W
	putU64(ph[8:16], fileOff)             // p_offset
	putU64(ph[16:24], vaddr)              // p_vaddr
	putU64(ph[32:40], uint64(len(data)))  // p_filesz
	putU64(ph[40:48], uint64(memsz))      // p_memsz

	copy(buf[fileOff:], data)
	return buf
}

// installPrograms writes every registry entry into fs at /bin/<name>
// so Spawn/Fork/Exec can Open and load it exactly as they would a
// real on-disk executable.
func installPrograms(fs ports.FileSystem) error {
	for name, prog := range registry {
		path := programPath(name)
		if errt := fs.Create(path, int64(len(prog.image))); errt != 0 {
			return fmt.Errorf("install %s: %w", path, errt)
		}
		f, errt := fs.Open(path)
		if errt != 0 {
			return fmt.Errorf("open %s: %w", path, errt)
		}
		if _, errt := f.WriteAt(prog.image, 0); errt != 0 {
			f.Close()
			return fmt.Errorf("write %s: %w", path, errt)
		}
		f.Close()
	}
	return nil
}

// programPath is where a built-in program's stub image lives once
// installed.
func programPath(name string) string { return fmt.Sprintf("/bin/%s", name) }
