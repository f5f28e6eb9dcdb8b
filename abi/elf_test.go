package abi_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wafer/abi"
	"wafer/common"
)

// buildELF constructs a minimal valid ELF64 little-endian EXEC image
// with a single PT_LOAD segment; ptype lets callers build a rejected
// PT_DYNAMIC/PT_INTERP/PT_SHLIB header instead.
func buildELF(ptype uint32, vaddr uint64, data []byte, memsz int64) []byte {
	const ehsize, phsize = 64, 56
	phoff := uint64(ehsize)
	fileOff := phoff + phsize

	buf := make([]byte, fileOff+uint64(len(data)))
	e := binary.LittleEndian

	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4] = 2
	buf[5] = 1
	buf[6] = 1

	e.PutUint16(buf[16:18], 2)
	e.PutUint16(buf[18:20], 0x3E)
	e.PutUint32(buf[20:24], 1)
	e.PutUint64(buf[24:32], vaddr)
	e.PutUint64(buf[32:40], phoff)
	e.PutUint16(buf[52:54], ehsize)
	e.PutUint16(buf[54:56], phsize)
	e.PutUint16(buf[56:58], 1)

	ph := buf[phoff : phoff+phsize]
	e.PutUint32(ph[0:4], ptype)
	e.PutUint32(ph[4:8], 0x1|0x2)
	e.PutUint64(ph[8:16], fileOff)
	e.PutUint64(ph[16:24], vaddr)
	e.PutUint64(ph[32:40], uint64(len(data)))
	e.PutUint64(ph[40:48], uint64(memsz))

	copy(buf[fileOff:], data)
	return buf
}

func TestParseSegmentsAcceptsValidImage(t *testing.T) {
	img := buildELF(1, 0x400000, []byte{1, 2, 3, 4}, 0x2000)
	segs, entry, errt := abi.ParseSegments(img)
	require.Zero(t, errt)
	assert.EqualValues(t, 0x400000, entry)
	require.Len(t, segs, 1)
	assert.EqualValues(t, 0x400000, segs[0].Vaddr)
	assert.True(t, segs[0].Writable)
	assert.EqualValues(t, 4, segs[0].FileSize)
	assert.EqualValues(t, 0x2000, segs[0].MemSize)
}

func TestParseSegmentsRejectsBadMagic(t *testing.T) {
	img := buildELF(1, 0x400000, []byte{1}, 0x1000)
	img[0] = 0
	_, _, errt := abi.ParseSegments(img)
	assert.Equal(t, common.EINVAL, errt)
}

func TestParseSegmentsRejectsDynamic(t *testing.T) {
	img := buildELF(2, 0x400000, []byte{1}, 0x1000) // PT_DYNAMIC
	_, _, errt := abi.ParseSegments(img)
	assert.Equal(t, common.EINVAL, errt)
}

func TestParseSegmentsRejectsInterp(t *testing.T) {
	img := buildELF(3, 0x400000, []byte{1}, 0x1000) // PT_INTERP
	_, _, errt := abi.ParseSegments(img)
	assert.Equal(t, common.EINVAL, errt)
}

func TestParseSegmentsRejectsShortImage(t *testing.T) {
	_, _, errt := abi.ParseSegments([]byte{0x7f, 'E', 'L', 'F'})
	assert.Equal(t, common.EINVAL, errt)
}

func TestParseSegmentsRejectsTruncatedProgramHeader(t *testing.T) {
	img := buildELF(1, 0x400000, []byte{1}, 0x1000)
	truncated := img[:90] // cuts into the single program header entry
	_, _, errt := abi.ParseSegments(truncated)
	assert.Equal(t, common.EINVAL, errt)
}
