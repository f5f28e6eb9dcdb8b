package ports

import (
	"sync"

	"wafer/common"
)

// MemFS is a reference in-memory FileSystem, standing in for the
// on-disk filesystem the kernel treats as an opaque collaborator.
type MemFS struct {
	mu    sync.Mutex
	files map[string]*memInode
}

type memInode struct {
	mu          sync.Mutex
	data        []byte
	writeDenied int
}

// NewMemFS constructs an empty filesystem.
func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string]*memInode)}
}

// Create adds a zero-filled file of the given size.
func (fs *MemFS) Create(path string, size int64) common.Err_t {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.files[path]; ok {
		return common.EEXIST
	}
	fs.files[path] = &memInode{data: make([]byte, size)}
	return 0
}

// Remove deletes a file. Existing open handles keep their own
// reference to the inode, so a file outlives its Remove while
// referenced.
func (fs *MemFS) Remove(path string) common.Err_t {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.files[path]; !ok {
		return common.ENOENT
	}
	delete(fs.files, path)
	return 0
}

// Open returns a File handle with its own cursor over the named
// file's bytes.
func (fs *MemFS) Open(path string) (File, common.Err_t) {
	fs.mu.Lock()
	ino, ok := fs.files[path]
	fs.mu.Unlock()
	if !ok {
		return nil, common.ENOENT
	}
	return &memFile{ino: ino}, 0
}

// memFile is a cursor over a memInode, implementing File.
type memFile struct {
	ino *memInode
	pos int64
}

func (f *memFile) ReadAt(buf []byte, off int64) (int, common.Err_t) {
	f.ino.mu.Lock()
	defer f.ino.mu.Unlock()
	if off >= int64(len(f.ino.data)) {
		return 0, 0
	}
	n := copy(buf, f.ino.data[off:])
	return n, 0
}

func (f *memFile) WriteAt(buf []byte, off int64) (int, common.Err_t) {
	f.ino.mu.Lock()
	defer f.ino.mu.Unlock()
	if f.ino.writeDenied > 0 {
		return 0, common.EBUSY
	}
	end := off + int64(len(buf))
	if end > int64(len(f.ino.data)) {
		grown := make([]byte, end)
		copy(grown, f.ino.data)
		f.ino.data = grown
	}
	n := copy(f.ino.data[off:end], buf)
	return n, 0
}

func (f *memFile) Seek(pos int64) common.Err_t {
	if pos < 0 {
		return common.EINVAL
	}
	f.pos = pos
	return 0
}

func (f *memFile) Tell() int64 { return f.pos }

func (f *memFile) Size() int64 {
	f.ino.mu.Lock()
	defer f.ino.mu.Unlock()
	return int64(len(f.ino.data))
}

func (f *memFile) Close() common.Err_t { return 0 }

func (f *memFile) Duplicate() (File, common.Err_t) {
	return &memFile{ino: f.ino, pos: 0}, 0
}

func (f *memFile) DenyWrite() {
	f.ino.mu.Lock()
	f.ino.writeDenied++
	f.ino.mu.Unlock()
}

func (f *memFile) AllowWrite() {
	f.ino.mu.Lock()
	if f.ino.writeDenied > 0 {
		f.ino.writeDenied--
	}
	f.ino.mu.Unlock()
}
