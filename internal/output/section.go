// Package output implements OutputSection, the accumulator for one merged
// output section's contents: a byte buffer plus the record of which input
// section contributed which byte range, with alignment-respecting
// concatenation.
package output

import "github.com/xyproto/aarch64ld/internal/elfconst"

// Contribution records where one (input file, input section) pair's bytes
// ended up inside an OutputSection's merged buffer.
type Contribution struct {
	FileIndex    int
	SectionIndex int
	BaseOffset   uint64
	Length       uint64
	// MemLength is the address-space span the contribution occupies,
	// which for an SHT_NOBITS (.bss) input section exceeds Length (see
	// Section.AppendNobits).
	MemLength uint64
}

// Section accumulates the merged content of one output section such as
// .text, .rodata, or .data.
type Section struct {
	Name  string
	Flags uint64
	Align uint64

	bytes []byte
	// memSize tracks the address-space size including any trailing
	// zero-init (.bss) region that contributes no file bytes.
	memSize uint64

	Contributions []Contribution

	// Addr and Off are filled in by Pass 2 layout once this section's
	// position in the final file is known.
	Addr uint64
	Off  uint64
}

// New returns an empty output section with the given name and no required
// alignment yet (grows to the max of its contributors' alignments).
func New(name string) *Section {
	return &Section{Name: name, Align: 1}
}

// Size returns the number of file bytes accumulated so far.
func (s *Section) Size() uint64 { return uint64(len(s.bytes)) }

// MemSize returns the address-space size, including any trailing .bss
// zero-init region (MemSize >= Size always).
func (s *Section) MemSize() uint64 { return s.memSize }

// Bytes returns the accumulated file contents.
func (s *Section) Bytes() []byte { return s.bytes }

// Append pads the buffer with zero bytes to the next multiple of align,
// records the resulting offset as fileIndex/sectionIndex's base offset
// within this output section, appends data, and widens the section's
// required alignment to max(current, align). Returns the base offset the
// bytes were placed at.
func (s *Section) Append(fileIndex, sectionIndex int, data []byte, align uint64) uint64 {
	base := s.padTo(align)
	s.bytes = append(s.bytes, data...)
	s.memSize = uint64(len(s.bytes))
	s.Contributions = append(s.Contributions, Contribution{
		FileIndex:    fileIndex,
		SectionIndex: sectionIndex,
		BaseOffset:   base,
		Length:       uint64(len(data)),
		MemLength:    uint64(len(data)),
	})
	return base
}

// AppendNobits reserves size bytes of address space for an SHT_NOBITS
// (.bss-like) input section without writing any file bytes: it widens
// memSize but leaves the file buffer untouched, so the resulting PT_LOAD
// has p_memsz > p_filesz and the kernel zero-fills the gap.
func (s *Section) AppendNobits(fileIndex, sectionIndex int, size uint64, align uint64) uint64 {
	base := s.padToMem(align)
	s.memSize = base + size
	s.Contributions = append(s.Contributions, Contribution{
		FileIndex:    fileIndex,
		SectionIndex: sectionIndex,
		BaseOffset:   base,
		Length:       0,
		MemLength:    size,
	})
	return base
}

func (s *Section) padTo(align uint64) uint64 {
	if align == 0 {
		align = 1
	}
	if align > s.Align {
		s.Align = align
	}
	// An earlier AppendNobits may have reserved address space past the end
	// of the file buffer without writing any bytes for it. Back-fill that
	// gap with real zero bytes now, before placing more file content, so
	// this contribution's base offset never lands inside address space a
	// prior NOBITS contribution already claimed.
	if s.memSize > uint64(len(s.bytes)) {
		s.bytes = append(s.bytes, make([]byte, s.memSize-uint64(len(s.bytes)))...)
	}
	rem := uint64(len(s.bytes)) % align
	if rem != 0 {
		s.bytes = append(s.bytes, make([]byte, align-rem)...)
	}
	s.memSize = uint64(len(s.bytes))
	return uint64(len(s.bytes))
}

// padToMem is like padTo but only advances memSize, used when a NOBITS
// section follows PROGBITS content without itself having file bytes.
func (s *Section) padToMem(align uint64) uint64 {
	if align == 0 {
		align = 1
	}
	if align > s.Align {
		s.Align = align
	}
	base := s.memSize
	rem := base % align
	if rem != 0 {
		base += align - rem
	}
	s.memSize = base
	return base
}

// PatchAt overwrites the bytes at [offset, offset+len(data)) within the
// accumulated buffer, used to write a relocated instruction word or address
// back into the merged section.
func (s *Section) PatchAt(offset uint64, data []byte) {
	copy(s.bytes[offset:offset+uint64(len(data))], data)
}

// AddFlags folds in an input section's SHF_* flags (union of contributors).
func (s *Section) AddFlags(flags uint64) { s.Flags |= flags }

// ProgramHeaderFlags maps this output section's kind to PT_LOAD p_flags:
// R+X for .text, R for .rodata, R+W for .data.
func (s *Section) ProgramHeaderFlags() uint32 {
	flags := uint32(elfconst.PF_R)
	if s.Flags&elfconst.SHF_WRITE != 0 {
		flags |= elfconst.PF_W
	}
	if s.Flags&elfconst.SHF_EXECINSTR != 0 {
		flags |= elfconst.PF_X
	}
	return flags
}
