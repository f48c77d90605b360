package elf

import (
	"encoding/binary"

	"github.com/xyproto/aarch64ld/internal/elfconst"
)

// Symbol is one 24-byte ELF64 symbol table entry.
type Symbol struct {
	NameOff uint32
	Info    uint8
	Other   uint8
	Shndx   uint16
	Value   uint64
	Size    uint64
}

// Bind returns the symbol's binding (STB_LOCAL/GLOBAL/WEAK).
func (s Symbol) Bind() uint8 { return elfconst.SymBind(s.Info) }

// Type returns the symbol's type (STT_NOTYPE/OBJECT/FUNC/SECTION/FILE).
func (s Symbol) Type() uint8 { return elfconst.SymType(s.Info) }

// Defined reports whether the symbol has a section, i.e. isn't SHN_UNDEF.
func (s Symbol) Defined() bool { return s.Shndx != elfconst.SHN_UNDEF }

// DecodeSymbols parses count consecutive 24-byte symbol entries starting at
// off.
func DecodeSymbols(buf []byte, off uint64, count uint64) ([]Symbol, error) {
	const sz = elfconst.Elf64SymbolSize
	end := off + count*sz
	if end > uint64(len(buf)) {
		return nil, errf(TruncatedTable, "symbol table at %#x (%d entries) exceeds file length %d", off, count, len(buf))
	}
	syms := make([]Symbol, count)
	for i := 0; i < int(count); i++ {
		b := buf[off+uint64(i)*sz:]
		syms[i] = Symbol{
			NameOff: binary.LittleEndian.Uint32(b[0:4]),
			Info:    b[4],
			Other:   b[5],
			Shndx:   binary.LittleEndian.Uint16(b[6:8]),
			Value:   binary.LittleEndian.Uint64(b[8:16]),
			Size:    binary.LittleEndian.Uint64(b[16:24]),
		}
	}
	return syms, nil
}

// Encode serializes one symbol entry to its fixed 24-byte layout.
func (s *Symbol) Encode() []byte {
	buf := make([]byte, elfconst.Elf64SymbolSize)
	binary.LittleEndian.PutUint32(buf[0:4], s.NameOff)
	buf[4] = s.Info
	buf[5] = s.Other
	binary.LittleEndian.PutUint16(buf[6:8], s.Shndx)
	binary.LittleEndian.PutUint64(buf[8:16], s.Value)
	binary.LittleEndian.PutUint64(buf[16:24], s.Size)
	return buf
}
