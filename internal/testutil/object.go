// Package testutil builds minimal synthetic AArch64 ET_REL object files in
// memory, for exercising internal/object and internal/link without needing
// a real assembler/toolchain in the test environment.
package testutil

import (
	"github.com/xyproto/aarch64ld/internal/elf"
	"github.com/xyproto/aarch64ld/internal/elfconst"
)

// Sym describes one symbol table entry to synthesize.
type Sym struct {
	Name    string
	Bind    uint8
	Type    uint8
	Section int // index into Sections, or -1 for SHN_UNDEF
	Value   uint64
	Size    uint64
}

// RelaSpec describes one relocation entry targeting a given section.
type RelaSpec struct {
	Section int // section the relocation patches
	Offset  uint64
	SymIdx  uint32
	Type    uint32
	Addend  int64
}

// SectionSpec describes one input section to synthesize.
type SectionSpec struct {
	Name      string
	Type      uint32
	Flags     uint64
	Data      []byte // ignored (zero length) for SHT_NOBITS
	Size      uint64 // used instead of len(Data) for SHT_NOBITS
	AddrAlign uint64
}

// Builder assembles an ET_REL object byte buffer section by section.
type Builder struct {
	Sections []SectionSpec
	Symbols  []Sym
	Relas    []RelaSpec
}

// Build serializes the described object into a byte slice following the
// layout: ELF header, then each section's raw bytes back-to-back (8-byte
// aligned), then .symtab, .strtab, one .rela<name> section per relocated
// section, .shstrtab, then the section header table. This is a from-scratch test fixture, not a format the real linker
// itself would emit (it emits ET_EXEC, not ET_REL).
func (b *Builder) Build() []byte {
	type laidOutSection struct {
		spec SectionSpec
		off  uint64
	}

	var buf []byte
	// Section 0 is the mandatory null section.
	laid := []laidOutSection{{SectionSpec{Name: "", Type: elfconst.SHT_NULL}, 0}}

	align8 := func() {
		for len(buf)%8 != 0 {
			buf = append(buf, 0)
		}
	}

	// Reserve space for the header; real offsets are patched in once we
	// know the full length.
	buf = make([]byte, elfconst.Elf64HeaderSize)

	for _, s := range b.Sections {
		align8()
		off := uint64(len(buf))
		if s.Type != elfconst.SHT_NOBITS {
			buf = append(buf, s.Data...)
		}
		laid = append(laid, laidOutSection{s, off})
	}

	shstrtab := elf.NewStringTableBuilder()
	symNameOff := make([]uint32, len(b.Symbols))
	strtab := elf.NewStringTableBuilder()
	for i, sym := range b.Symbols {
		symNameOff[i] = strtab.Add(sym.Name)
	}

	align8()
	symtabOff := uint64(len(buf))
	// Null symbol first, per gABI convention.
	buf = append(buf, (&elf.Symbol{}).Encode()...)
	for i, sym := range b.Symbols {
		shndx := uint16(elfconst.SHN_UNDEF)
		if sym.Section >= 0 {
			shndx = uint16(sym.Section + 1) // +1 for the null section
		}
		s := elf.Symbol{
			NameOff: symNameOff[i],
			Info:    elfconst.SymInfo(sym.Bind, sym.Type),
			Shndx:   shndx,
			Value:   sym.Value,
			Size:    sym.Size,
		}
		buf = append(buf, s.Encode()...)
	}
	symtabSize := uint64(len(buf)) - symtabOff

	align8()
	strtabOff := uint64(len(buf))
	buf = append(buf, strtab.Bytes()...)
	strtabSize := uint64(len(buf)) - strtabOff

	// One RELA section per distinct target, in first-seen order.
	type relaGroup struct {
		target int
		name   string
		relas  []RelaSpec
	}
	var groups []relaGroup
	index := map[int]int{}
	for _, r := range b.Relas {
		gi, ok := index[r.Section]
		if !ok {
			gi = len(groups)
			index[r.Section] = gi
			groups = append(groups, relaGroup{target: r.Section, name: ".rela" + b.Sections[r.Section].Name})
		}
		groups[gi].relas = append(groups[gi].relas, r)
	}

	type relaLaid struct {
		name   string
		target int
		off    uint64
		size   uint64
	}
	var relaSections []relaLaid
	for _, g := range groups {
		align8()
		off := uint64(len(buf))
		for _, r := range g.relas {
			e := elf.Rela{Offset: r.Offset, Info: elfconst.RelaInfo(r.SymIdx, r.Type), Addend: r.Addend}
			buf = append(buf, e.Encode()...)
		}
		relaSections = append(relaSections, relaLaid{g.name, g.target, off, uint64(len(buf)) - off})
	}

	// Section header string table: build its own name set, including the
	// synthetic section names below.
	type shdrPlan struct {
		name  string
		sh    elf.SectionHeader
	}
	var plans []shdrPlan
	plans = append(plans, shdrPlan{"", elf.SectionHeader{}})
	for _, ls := range laid[1:] {
		sh := elf.SectionHeader{
			Type:      ls.spec.Type,
			Flags:     ls.spec.Flags,
			Off:       ls.off,
			AddrAlign: ls.spec.AddrAlign,
		}
		if ls.spec.Type == elfconst.SHT_NOBITS {
			sh.Size = ls.spec.Size
		} else {
			sh.Size = uint64(len(ls.spec.Data))
		}
		plans = append(plans, shdrPlan{ls.spec.Name, sh})
	}

	symtabIdx := len(plans)
	plans = append(plans, shdrPlan{".symtab", elf.SectionHeader{
		Type: elfconst.SHT_SYMTAB, Off: symtabOff, Size: symtabSize, EntSize: elfconst.Elf64SymbolSize,
	}})
	strtabIdx := len(plans)
	plans = append(plans, shdrPlan{".strtab", elf.SectionHeader{
		Type: elfconst.SHT_STRTAB, Off: strtabOff, Size: strtabSize,
	}})
	plans[symtabIdx].sh.Link = uint32(strtabIdx)

	for _, rl := range relaSections {
		plans = append(plans, shdrPlan{rl.name, elf.SectionHeader{
			Type: elfconst.SHT_RELA, Off: rl.off, Size: rl.size, EntSize: elfconst.Elf64RelaSize,
			Link: uint32(symtabIdx), Info: uint32(rl.target + 1),
		}})
	}

	shstrndx := len(plans)
	for i := range plans {
		plans[i].sh.NameOff = shstrtab.Add(plans[i].name)
	}
	plans = append(plans, shdrPlan{".shstrtab", elf.SectionHeader{
		Type: elfconst.SHT_STRTAB, NameOff: shstrtab.Add(".shstrtab"),
	}})
	plans[shstrndx].sh.Off = 0 // patched below once its bytes are appended

	align8()
	shstrtabOff := uint64(len(buf))
	buf = append(buf, shstrtab.Bytes()...)
	plans[shstrndx].sh.Off = shstrtabOff
	plans[shstrndx].sh.Size = uint64(len(shstrtab.Bytes()))

	align8()
	shoff := uint64(len(buf))
	for _, p := range plans {
		sh := p.sh
		buf = append(buf, sh.Encode()...)
	}

	hdr := elf.Header{
		Class: elfconst.Class64, Data: elfconst.DataLittleEndian, Version: elfconst.ELFVersionCurrent,
		Type: elfconst.ET_REL, Machine: elfconst.EM_AARCH64, EVersion: elfconst.ELFVersionCurrent,
		PhOff: 0, ShOff: shoff, EhSize: elfconst.Elf64HeaderSize,
		ShEntSize: elfconst.Elf64SectionHeaderSize, ShNum: uint16(len(plans)), ShStrNdx: uint16(shstrndx),
	}
	copy(buf[:elfconst.Elf64HeaderSize], hdr.Encode())

	return buf
}
