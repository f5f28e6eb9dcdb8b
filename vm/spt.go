package vm

import (
	"wafer/common"
)

// SPT is the supplemental page table: a per-address-space hash map
// from page-aligned user virtual address to page descriptor.
type SPT struct {
	pages map[common.Va_t]*Page
}

func newSPT() *SPT {
	return &SPT{pages: make(map[common.Va_t]*Page)}
}

func (s *SPT) find(va common.Va_t) *Page {
	return s.pages[roundDown(va)]
}

func (s *SPT) insert(p *Page) common.Err_t {
	key := roundDown(p.Va)
	if _, exists := s.pages[key]; exists {
		return common.EEXIST
	}
	s.pages[key] = p
	return 0
}

func (s *SPT) remove(p *Page) {
	delete(s.pages, roundDown(p.Va))
}

func (s *SPT) each(fn func(*Page)) {
	for _, p := range s.pages {
		fn(p)
	}
}

// copySPT duplicates every entry of src into dst:
//   - UNINIT entries duplicate with a fresh aux record (file-backed
//     aux gets its own duplicated handle), so the child's first fault
//     runs its own initializer independently of the parent.
//   - resident ANON entries allocate a fresh frame in the child and
//     copy the parent's bytes across, byte for byte.
//   - FILE-backed entries share a duplicated file handle (an
//     independent cursor over the same bytes) with their own
//     lazy-load descriptor, so eviction/writeback in one process
//     never disturbs the other's resident state.
func copySPT(ft *FrameTable, dst, src *SPT) common.Err_t {
	var errt common.Err_t
	src.each(func(p *Page) {
		if errt != 0 {
			return
		}
		child := &Page{
			Va:       p.Va,
			Writable: p.Writable,
			Kind:     p.Kind,
			isStack:  p.isStack,
			mmapID:   p.mmapID,
			isAnchor: p.isAnchor,
			swapSlot: -1,
		}

		switch p.Kind {
		case Uninit:
			aux := p.target.Aux
			if fa, ok := aux.(FileAux); ok {
				dup, e := fa.File.Duplicate()
				if e != 0 {
					errt = e
					return
				}
				fa.File = dup
				aux = fa
			}
			child.target = Initer{
				Kind: p.target.Kind,
				Fn:   p.target.Fn,
				Aux:  aux,
			}

		case File:
			dup, e := p.file.Duplicate()
			if e != 0 {
				errt = e
				return
			}
			child.file = dup
			child.fileOff = p.fileOff
			child.readBytes = p.readBytes
			child.zeroBytes = p.zeroBytes
			// Resident FILE pages re-fault lazily in the child rather
			// than eagerly claiming a second frame; first touch
			// re-reads from the file, so parent-side dirty state never
			// propagates.

		case Anon:
			if p.Frame == nil {
				if p.swapSlot >= 0 {
					child.swapSlot = ft.swap.Dup(p.swapSlot)
				}
				break
			}
			// Snapshot first: claiming the child's frame may evict p.
			src := append([]byte(nil), ft.Bytes(p)...)
			if e := ft.Claim(child); e != 0 {
				errt = e
				return
			}
			copy(ft.Bytes(child), src)
		}

		if e := dst.insert(child); e != 0 {
			errt = e
		}
	})
	return errt
}

// kill destroys every entry in s, releasing resident frames, swapped
// contents and file handles along the way.
func (s *SPT) kill(ft *FrameTable) {
	s.each(func(p *Page) {
		if p.Frame != nil {
			ft.Release(p)
		}
		if p.Kind == Anon && p.swapSlot >= 0 {
			ft.swap.Free(p.swapSlot)
		}
		if p.file != nil {
			p.file.Close()
		}
		if a, ok := p.target.Aux.(FileAux); ok && p.Kind == Uninit {
			a.File.Close()
		}
	})
	s.pages = make(map[common.Va_t]*Page)
}
