package link

import (
	"sort"

	"github.com/xyproto/aarch64ld/internal/diag"
	"github.com/xyproto/aarch64ld/internal/elf"
	"github.com/xyproto/aarch64ld/internal/elfconst"
)

// emit is Pass 4: serialize the ELF header, one PT_LOAD program header per
// merged output section, the section payloads themselves at their
// assigned file offsets, a debug .symtab/.strtab pair covering every
// resolved global symbol, and the trailing section header table.
func (c *Context) emit() ([]byte, error) {
	entry, ok := c.globals[c.Opts.EntrySymbol]
	if !ok || !entry.Defined {
		return nil, diag.MissingEntryOf(c.Opts.EntrySymbol)
	}

	var loaded []string
	for _, name := range outputSectionOrder {
		if len(c.sections[name].Contributions) > 0 {
			loaded = append(loaded, name)
		}
	}

	hdr := elf.NewExecHeader()
	hdr.Entry = entry.Addr
	hdr.PhOff = elfconst.Elf64HeaderSize
	hdr.PhNum = uint16(len(loaded))

	buf := make([]byte, 0, c.pageSize())
	buf = writeAt(buf, 0, hdr.Encode())

	phOff := uint64(elfconst.Elf64HeaderSize)
	var fileEnd uint64
	for i, name := range loaded {
		s := c.sections[name]
		ph := &elf.ProgramHeader{
			Type:   elfconst.PT_LOAD,
			Flags:  s.ProgramHeaderFlags(),
			Offset: s.Off,
			VAddr:  s.Addr,
			PAddr:  s.Addr,
			FileSz: s.Size(),
			MemSz:  s.MemSize(),
			Align:  c.pageSize(),
		}
		buf = writeAt(buf, phOff+uint64(i)*elfconst.Elf64ProgramHeaderSize, ph.Encode())
		buf = writeAt(buf, s.Off, s.Bytes())
		if end := s.Off + s.Size(); end > fileEnd {
			fileEnd = end
		}
	}

	// Debug symbol table and section header table follow the loaded
	// image; they carry no PT_LOAD entry and aren't mapped at runtime.
	shstrtab := elf.NewStringTableBuilder()
	var sectionHeaders []elf.SectionHeader
	sectionHeaders = append(sectionHeaders, elf.SectionHeader{}) // SHN_UNDEF

	shndxFor := make(map[string]uint16)
	for _, name := range loaded {
		s := c.sections[name]
		shndxFor[name] = uint16(len(sectionHeaders))
		sectionHeaders = append(sectionHeaders, elf.SectionHeader{
			NameOff:   shstrtab.Add(name),
			Type:      elfconst.SHT_PROGBITS,
			Flags:     s.Flags,
			Addr:      s.Addr,
			Off:       s.Off,
			Size:      s.Size(),
			AddrAlign: s.Align,
		})
	}

	symtabOff := fileEnd
	symBytes, strBytes := c.buildDebugSymbols(shndxFor)
	strtabOff := symtabOff + uint64(len(symBytes))
	buf = writeAt(buf, symtabOff, symBytes)
	buf = writeAt(buf, strtabOff, strBytes)

	symtabShndx := uint16(len(sectionHeaders))
	sectionHeaders = append(sectionHeaders, elf.SectionHeader{
		NameOff: shstrtab.Add(".symtab"),
		Type:    elfconst.SHT_SYMTAB,
		Off:     symtabOff,
		Size:    uint64(len(symBytes)),
		Link:    uint32(symtabShndx + 1), // .strtab immediately follows
		EntSize: elfconst.Elf64SymbolSize,
	})
	sectionHeaders = append(sectionHeaders, elf.SectionHeader{
		NameOff: shstrtab.Add(".strtab"),
		Type:    elfconst.SHT_STRTAB,
		Off:     strtabOff,
		Size:    uint64(len(strBytes)),
	})

	shstrndx := uint16(len(sectionHeaders))
	shstrtabNameOff := shstrtab.Add(".shstrtab")
	shstrtabOff := strtabOff + uint64(len(strBytes))
	sectionHeaders = append(sectionHeaders, elf.SectionHeader{
		NameOff: shstrtabNameOff,
		Type:    elfconst.SHT_STRTAB,
		Off:     shstrtabOff,
		Size:    uint64(shstrtab.Len()),
	})
	buf = writeAt(buf, shstrtabOff, shstrtab.Bytes())

	shOff := alignUp(shstrtabOff+uint64(shstrtab.Len()), 8)
	for i := range sectionHeaders {
		buf = writeAt(buf, shOff+uint64(i)*elfconst.Elf64SectionHeaderSize, sectionHeaders[i].Encode())
	}

	hdr.ShOff = shOff
	hdr.ShNum = uint16(len(sectionHeaders))
	hdr.ShStrNdx = shstrndx
	buf = writeAt(buf, 0, hdr.Encode())

	return buf, nil
}

func (c *Context) pageSize() uint64 {
	if c.Opts.PageSize == 0 {
		return elfconst.PageSize
	}
	return c.Opts.PageSize
}

// buildDebugSymbols serializes a STT_FILE entry per input plus every
// resolved global symbol into a .symtab/.strtab pair, for post-mortem
// inspection with tools like readelf; none of it is required for the
// executable to run. FILE entries appear first, in input order; global
// symbols follow in name order, so two runs over the same inputs produce
// byte-identical output.
func (c *Context) buildDebugSymbols(shndxFor map[string]uint16) ([]byte, []byte) {
	strtab := elf.NewStringTableBuilder()

	names := make([]string, 0, len(c.globals))
	for name, g := range c.globals {
		if g.Defined {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	syms := []elf.Symbol{{}} // index 0 is always the null entry
	for _, f := range c.inputs {
		syms = append(syms, elf.Symbol{
			NameOff: strtab.Add(f.Path),
			Info:    elfconst.SymInfo(elfconst.STB_LOCAL, elfconst.STT_FILE),
			Shndx:   elfconst.SHN_ABS,
		})
	}
	for _, name := range names {
		g := c.globals[name]
		bind := uint8(elfconst.STB_GLOBAL)
		if g.Weak {
			bind = elfconst.STB_WEAK
		}
		var shndx uint16
		if g.SectionIndex < 0 {
			shndx = elfconst.SHN_ABS
		} else if loc, ok := c.locations[[2]int{g.FileIndex, g.SectionIndex}]; ok {
			shndx = shndxFor[loc.section.Name]
		}
		syms = append(syms, elf.Symbol{
			NameOff: strtab.Add(name),
			Info:    elfconst.SymInfo(bind, elfconst.STT_NOTYPE),
			Shndx:   shndx,
			Value:   g.Addr,
			Size:    g.Size,
		})
	}

	symBuf := make([]byte, 0, len(syms)*elfconst.Elf64SymbolSize)
	for i := range syms {
		symBuf = append(symBuf, syms[i].Encode()...)
	}
	return symBuf, strtab.Bytes()
}

// writeAt grows buf as needed and copies data in at offset, zero-filling any
// gap. Used throughout emit to place content at its final, possibly
// non-contiguous, file offset.
func writeAt(buf []byte, offset uint64, data []byte) []byte {
	need := offset + uint64(len(data))
	if uint64(len(buf)) < need {
		buf = append(buf, make([]byte, need-uint64(len(buf)))...)
	}
	copy(buf[offset:need], data)
	return buf
}
