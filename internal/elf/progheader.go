package elf

import (
	"encoding/binary"

	"github.com/xyproto/aarch64ld/internal/elfconst"
)

// ProgramHeader is one 56-byte ELF64 program header table entry. The linker
// only ever emits PT_LOAD entries: one per merged output section that
// received at least one contribution.
type ProgramHeader struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	VAddr  uint64
	PAddr  uint64
	FileSz uint64
	MemSz  uint64
	Align  uint64
}

// DecodeProgramHeaders parses count consecutive 56-byte program header
// entries starting at off.
func DecodeProgramHeaders(buf []byte, off uint64, count uint16) ([]ProgramHeader, error) {
	const sz = elfconst.Elf64ProgramHeaderSize
	end := off + uint64(count)*sz
	if end > uint64(len(buf)) {
		return nil, errf(TruncatedTable, "program header table at %#x (%d entries) exceeds file length %d", off, count, len(buf))
	}
	phs := make([]ProgramHeader, count)
	for i := 0; i < int(count); i++ {
		b := buf[off+uint64(i)*sz:]
		phs[i] = ProgramHeader{
			Type:   binary.LittleEndian.Uint32(b[0:4]),
			Flags:  binary.LittleEndian.Uint32(b[4:8]),
			Offset: binary.LittleEndian.Uint64(b[8:16]),
			VAddr:  binary.LittleEndian.Uint64(b[16:24]),
			PAddr:  binary.LittleEndian.Uint64(b[24:32]),
			FileSz: binary.LittleEndian.Uint64(b[32:40]),
			MemSz:  binary.LittleEndian.Uint64(b[40:48]),
			Align:  binary.LittleEndian.Uint64(b[48:56]),
		}
	}
	return phs, nil
}

// Encode serializes one program header entry to its fixed 56-byte layout.
func (p *ProgramHeader) Encode() []byte {
	buf := make([]byte, elfconst.Elf64ProgramHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], p.Type)
	binary.LittleEndian.PutUint32(buf[4:8], p.Flags)
	binary.LittleEndian.PutUint64(buf[8:16], p.Offset)
	binary.LittleEndian.PutUint64(buf[16:24], p.VAddr)
	binary.LittleEndian.PutUint64(buf[24:32], p.PAddr)
	binary.LittleEndian.PutUint64(buf[32:40], p.FileSz)
	binary.LittleEndian.PutUint64(buf[40:48], p.MemSz)
	binary.LittleEndian.PutUint64(buf[48:56], p.Align)
	return buf
}
