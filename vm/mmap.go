package vm

import (
	"wafer/common"
	"wafer/ports"
)

// Mmap installs length bytes of file, starting at offset, as
// lazily-loaded FILE pages beginning at addr. Returns EINVAL for a
// non-page-aligned addr, a zero length, an SPT region that is
// already occupied, or a zero-length backing file.
func (as *AddressSpace) Mmap(addr common.Va_t, length int64, writable bool, file ports.File, offset int64) common.Err_t {
	if !common.Page_aligned(addr) || length == 0 {
		return common.EINVAL
	}
	if file.Size() == 0 {
		return common.EINVAL
	}

	as.mu.Lock()
	defer as.mu.Unlock()

	npages := (length + common.PGSIZE - 1) / common.PGSIZE
	for i := int64(0); i < npages; i++ {
		if as.spt.find(addr + common.Va_t(i*common.PGSIZE)) != nil {
			return common.EINVAL
		}
	}

	dup, errt := file.Duplicate()
	if errt != 0 {
		return errt
	}

	id := as.nextMmapID + 1
	as.nextMmapID = id

	remaining := length
	for i := int64(0); i < npages; i++ {
		va := addr + common.Va_t(i*common.PGSIZE)
		readBytes := remaining
		if readBytes > common.PGSIZE {
			readBytes = common.PGSIZE
		}
		zeroBytes := common.PGSIZE - readBytes
		remaining -= readBytes

		p := &Page{
			Va:       va,
			Writable: writable,
			Kind:     Uninit,
			swapSlot: -1,
			mmapID:   id,
			isAnchor: i == 0,
			target: Initer{
				Kind: File,
				Fn:   fileInit,
				Aux: FileAux{
					File:      dup,
					Offset:    offset + i*common.PGSIZE,
					ReadBytes: readBytes,
					ZeroBytes: zeroBytes,
				},
			},
		}
		if errt := as.spt.insert(p); errt != 0 {
			return errt
		}
	}
	return 0
}

func fileInit(dst []byte, aux any) common.Err_t {
	a := aux.(FileAux)
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

// Munmap writes back every resident writable page of the mapping that
// starts at addr, then unmaps and destroys its descriptors. addr must
// equal a previous Mmap return: an address inside the mapping but
// past its first page fails with EINVAL.
func (as *AddressSpace) Munmap(addr common.Va_t) common.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()

	anchor := as.spt.find(addr)
	if anchor == nil || anchor.mmapID == 0 || !anchor.isAnchor {
		return common.EINVAL
	}
	id := anchor.mmapID

	var toRemove []*Page
	var handle ports.File
	as.spt.each(func(p *Page) {
		if p.mmapID != id {
			return
		}
		toRemove = append(toRemove, p)
		if handle == nil {
			if p.file != nil {
				handle = p.file
			} else if a, ok := p.target.Aux.(FileAux); ok {
				handle = a.File
			}
		}
	})

	for _, p := range toRemove {
		if p.Frame != nil {
			if p.Writable && p.Kind == File {
				buf := as.ft.Bytes(p)
				n := p.readBytes
				if n > int64(len(buf)) {
					n = int64(len(buf))
				}
				p.file.WriteAt(buf[:n], p.fileOff)
			}
			as.ft.Release(p)
		}
		as.spt.remove(p)
	}
	if handle != nil {
		handle.Close()
	}
	return 0
}
