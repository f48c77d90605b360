package elf

import (
	"encoding/binary"

	"github.com/xyproto/aarch64ld/internal/elfconst"
)

// Rela is one 24-byte RELA relocation entry with an explicit addend.
type Rela struct {
	Offset uint64
	Info   uint64
	Addend int64
}

// Sym returns the symbol table index this relocation refers to.
func (r Rela) Sym() uint32 { return elfconst.RelaSym(r.Info) }

// Type returns the AArch64 relocation type.
func (r Rela) Type() uint32 { return elfconst.RelaType(r.Info) }

// DecodeRelas parses count consecutive 24-byte RELA entries starting at off.
func DecodeRelas(buf []byte, off uint64, count uint64) ([]Rela, error) {
	const sz = elfconst.Elf64RelaSize
	end := off + count*sz
	if end > uint64(len(buf)) {
		return nil, errf(TruncatedTable, "RELA table at %#x (%d entries) exceeds file length %d", off, count, len(buf))
	}
	relas := make([]Rela, count)
	for i := 0; i < int(count); i++ {
		b := buf[off+uint64(i)*sz:]
		relas[i] = Rela{
			Offset: binary.LittleEndian.Uint64(b[0:8]),
			Info:   binary.LittleEndian.Uint64(b[8:16]),
			Addend: int64(binary.LittleEndian.Uint64(b[16:24])),
		}
	}
	return relas, nil
}

// Encode serializes one RELA entry to its fixed 24-byte layout.
func (r *Rela) Encode() []byte {
	buf := make([]byte, elfconst.Elf64RelaSize)
	binary.LittleEndian.PutUint64(buf[0:8], r.Offset)
	binary.LittleEndian.PutUint64(buf[8:16], r.Info)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(r.Addend))
	return buf
}
