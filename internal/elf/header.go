package elf

import (
	"encoding/binary"

	"github.com/xyproto/aarch64ld/internal/elfconst"
)

// Header is the 64-byte ELF64 file header (System V gABI, figure "ELF
// Header"). Field order matches the on-disk layout exactly so Encode can
// write it byte-for-byte.
type Header struct {
	Class      uint8
	Data       uint8
	Version    uint8
	OSABI      uint8
	Type       uint16
	Machine    uint16
	EVersion   uint32
	Entry      uint64
	PhOff      uint64
	ShOff      uint64
	Flags      uint32
	EhSize     uint16
	PhEntSize  uint16
	PhNum      uint16
	ShEntSize  uint16
	ShNum      uint16
	ShStrNdx   uint16
}

// DecodeHeader validates and parses the 64-byte ELF header at the start of
// buf. It fails with MalformedHeader if the magic, class, or data encoding
// don't match a little-endian ELF64 file, and UnsupportedMachine if the
// machine field isn't EM_AARCH64.
func DecodeHeader(buf []byte) (*Header, error) {
	if len(buf) < elfconst.Elf64HeaderSize {
		return nil, errf(TruncatedTable, "file of %d bytes too short for ELF header", len(buf))
	}
	if buf[0] != elfconst.Magic0 || buf[1] != elfconst.Magic1 || buf[2] != elfconst.Magic2 || buf[3] != elfconst.Magic3 {
		return nil, errf(MalformedHeader, "missing \\x7fELF magic")
	}
	h := &Header{
		Class:   buf[4],
		Data:    buf[5],
		Version: buf[6],
		OSABI:   buf[7],
	}
	if h.Class != elfconst.Class64 {
		return nil, errf(MalformedHeader, "unsupported EI_CLASS %d, want ELFCLASS64", h.Class)
	}
	if h.Data != elfconst.DataLittleEndian {
		return nil, errf(MalformedHeader, "unsupported EI_DATA %d, want ELFDATA2LSB", h.Data)
	}

	h.Type = binary.LittleEndian.Uint16(buf[16:18])
	h.Machine = binary.LittleEndian.Uint16(buf[18:20])
	if h.Machine != elfconst.EM_AARCH64 {
		return nil, errf(UnsupportedMachine, "e_machine %d, want EM_AARCH64 (%d)", h.Machine, elfconst.EM_AARCH64)
	}
	h.EVersion = binary.LittleEndian.Uint32(buf[20:24])
	h.Entry = binary.LittleEndian.Uint64(buf[24:32])
	h.PhOff = binary.LittleEndian.Uint64(buf[32:40])
	h.ShOff = binary.LittleEndian.Uint64(buf[40:48])
	h.Flags = binary.LittleEndian.Uint32(buf[48:52])
	h.EhSize = binary.LittleEndian.Uint16(buf[52:54])
	h.PhEntSize = binary.LittleEndian.Uint16(buf[54:56])
	h.PhNum = binary.LittleEndian.Uint16(buf[56:58])
	h.ShEntSize = binary.LittleEndian.Uint16(buf[58:60])
	h.ShNum = binary.LittleEndian.Uint16(buf[60:62])
	h.ShStrNdx = binary.LittleEndian.Uint16(buf[62:64])
	return h, nil
}

// Encode serializes h into the fixed 64-byte ELF header layout, zero-padding
// e_ident's unused bytes (8..15).
func (h *Header) Encode() []byte {
	buf := make([]byte, elfconst.Elf64HeaderSize)
	buf[0], buf[1], buf[2], buf[3] = elfconst.Magic0, elfconst.Magic1, elfconst.Magic2, elfconst.Magic3
	buf[4] = h.Class
	buf[5] = h.Data
	buf[6] = h.Version
	buf[7] = h.OSABI
	// buf[8:16] is EI_ABIVERSION + padding, left zero.
	binary.LittleEndian.PutUint16(buf[16:18], h.Type)
	binary.LittleEndian.PutUint16(buf[18:20], h.Machine)
	binary.LittleEndian.PutUint32(buf[20:24], h.EVersion)
	binary.LittleEndian.PutUint64(buf[24:32], h.Entry)
	binary.LittleEndian.PutUint64(buf[32:40], h.PhOff)
	binary.LittleEndian.PutUint64(buf[40:48], h.ShOff)
	binary.LittleEndian.PutUint32(buf[48:52], h.Flags)
	binary.LittleEndian.PutUint16(buf[52:54], h.EhSize)
	binary.LittleEndian.PutUint16(buf[54:56], h.PhEntSize)
	binary.LittleEndian.PutUint16(buf[56:58], h.PhNum)
	binary.LittleEndian.PutUint16(buf[58:60], h.ShEntSize)
	binary.LittleEndian.PutUint16(buf[60:62], h.ShNum)
	binary.LittleEndian.PutUint16(buf[62:64], h.ShStrNdx)
	return buf
}

// NewExecHeader builds the header for an ET_EXEC output, leaving Entry,
// PhOff, ShOff, PhNum, ShNum, ShStrNdx for the caller (internal/link) to
// fill in once layout is known.
func NewExecHeader() *Header {
	return &Header{
		Class:     elfconst.Class64,
		Data:      elfconst.DataLittleEndian,
		Version:   elfconst.ELFVersionCurrent,
		OSABI:     elfconst.OSABISystemV,
		Type:      elfconst.ET_EXEC,
		Machine:   elfconst.EM_AARCH64,
		EVersion:  elfconst.ELFVersionCurrent,
		EhSize:    elfconst.Elf64HeaderSize,
		PhEntSize: elfconst.Elf64ProgramHeaderSize,
		ShEntSize: elfconst.Elf64SectionHeaderSize,
	}
}
