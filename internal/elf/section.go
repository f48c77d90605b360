package elf

import (
	"encoding/binary"

	"github.com/xyproto/aarch64ld/internal/elfconst"
)

// SectionHeader is one 64-byte section header table entry.
type SectionHeader struct {
	NameOff   uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Off       uint64
	Size      uint64
	Link      uint32
	Info      uint32
	AddrAlign uint64
	EntSize   uint64
}

// DecodeSectionHeaders parses count consecutive 64-byte section header
// entries starting at off. It fails with TruncatedTable if the table runs
// past the end of buf.
func DecodeSectionHeaders(buf []byte, off uint64, count uint16) ([]SectionHeader, error) {
	const sz = elfconst.Elf64SectionHeaderSize
	end := off + uint64(count)*sz
	if end > uint64(len(buf)) {
		return nil, errf(TruncatedTable, "section header table at %#x (%d entries) exceeds file length %d", off, count, len(buf))
	}
	shs := make([]SectionHeader, count)
	for i := 0; i < int(count); i++ {
		b := buf[off+uint64(i)*sz:]
		shs[i] = SectionHeader{
			NameOff:   binary.LittleEndian.Uint32(b[0:4]),
			Type:      binary.LittleEndian.Uint32(b[4:8]),
			Flags:     binary.LittleEndian.Uint64(b[8:16]),
			Addr:      binary.LittleEndian.Uint64(b[16:24]),
			Off:       binary.LittleEndian.Uint64(b[24:32]),
			Size:      binary.LittleEndian.Uint64(b[32:40]),
			Link:      binary.LittleEndian.Uint32(b[40:44]),
			Info:      binary.LittleEndian.Uint32(b[44:48]),
			AddrAlign: binary.LittleEndian.Uint64(b[48:56]),
			EntSize:   binary.LittleEndian.Uint64(b[56:64]),
		}
	}
	return shs, nil
}

// Encode serializes one section header entry to its fixed 64-byte layout.
func (s *SectionHeader) Encode() []byte {
	buf := make([]byte, elfconst.Elf64SectionHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], s.NameOff)
	binary.LittleEndian.PutUint32(buf[4:8], s.Type)
	binary.LittleEndian.PutUint64(buf[8:16], s.Flags)
	binary.LittleEndian.PutUint64(buf[16:24], s.Addr)
	binary.LittleEndian.PutUint64(buf[24:32], s.Off)
	binary.LittleEndian.PutUint64(buf[32:40], s.Size)
	binary.LittleEndian.PutUint32(buf[40:44], s.Link)
	binary.LittleEndian.PutUint32(buf[44:48], s.Info)
	binary.LittleEndian.PutUint64(buf[48:56], s.AddrAlign)
	binary.LittleEndian.PutUint64(buf[56:64], s.EntSize)
	return buf
}
