// Package vm implements the per-process address space: the
// supplemental page table, frame table, page-fault classification and
// lazy loading, and memory-mapped files. Page state is a tagged
// UNINIT/ANON/FILE variant rather than a vtable; operations dispatch
// on the tag.
package vm

import (
	"wafer/common"
	"wafer/ports"
)

// Kind tags which variant a Page currently is. An UNINIT page becomes
// ANON or FILE in place on first fault.
type Kind int

const (
	Uninit Kind = iota
	Anon
	File
)

func (k Kind) String() string {
	switch k {
	case Uninit:
		return "UNINIT"
	case Anon:
		return "ANON"
	case File:
		return "FILE"
	default:
		return "?"
	}
}

// Initializer fills a freshly claimed frame for an UNINIT page. aux is
// a per-page payload passed back to the initializer at claim time;
// ForkCopy gives the child its own copy (with a duplicated file handle
// for file-backed aux) so the child never aliases the parent's.
type Initializer func(dst []byte, aux any) common.Err_t

// Page is one supplemental-page-table entry.
type Page struct {
	Va       common.Va_t
	Writable bool
	Kind     Kind
	Frame    *Frame // nil when not resident

	// target is which Kind an UNINIT page becomes on first fault.
	target Initer

	// Anon payload.
	swapSlot int // -1: never evicted yet

	// File payload.
	file      ports.File
	fileOff   int64
	readBytes int64
	zeroBytes int64

	// isStack marks a page installed by stack growth, so eviction can
	// tell a growable stack page from an ordinary anonymous page if a
	// policy cares to distinguish them.
	isStack bool

	// mmapID groups every page created by one mmap() call so munmap
	// can find and unwind all of them together; isAnchor marks the
	// mapping's first page, the only address munmap accepts.
	mmapID   int64
	isAnchor bool
}

// Initer bundles the closure+aux pair an UNINIT page carries, and the
// Kind it becomes once the closure has run.
type Initer struct {
	Kind Kind
	Fn   Initializer
	Aux  any
}

// FileAux is the aux payload for an UNINIT page that will become
// FILE-backed: the backing handle, its byte offset, and the
// read/zero split.
type FileAux struct {
	File      ports.File
	Offset    int64
	ReadBytes int64
	ZeroBytes int64
}

func roundDown(va common.Va_t) common.Va_t { return common.Round_down(va) }
