// Package object provides InputFile, the owned, parsed view of one AArch64
// ET_REL object file: its raw bytes, decoded section/symbol tables, and
// per-section RELA entries.
package object

import (
	"fmt"

	"github.com/xyproto/aarch64ld/internal/elf"
	"github.com/xyproto/aarch64ld/internal/elfconst"
)

// InputFile owns the raw bytes of one relocatable object for the lifetime
// of the linker run, plus everything parsed out of it.
type InputFile struct {
	Path string
	data []byte

	Header   *elf.Header
	Sections []elf.SectionHeader

	shstrtab elf.StringTable
	strtab   elf.StringTable
	symtab   []elf.Symbol

	// relasBySection maps a target section index to the RELA entries that
	// patch it.
	relasBySection map[int][]elf.Rela

	// assignedBase[i] is the final virtual address layout assigns to
	// Sections[i]; assignedSet[i] guards against a section's address being
	// written more than once.
	assignedBase []uint64
	assignedSet  []bool
}

// Parse validates the ELF header, locates the section header table, decodes
// every section header, then resolves the section-header string table, the
// symbol table and its string table, and every SHT_RELA section's entries.
func Parse(path string, data []byte) (*InputFile, error) {
	hdr, err := elf.DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	if hdr.Type != elfconst.ET_REL {
		return nil, &elf.ParseError{Kind: elf.MalformedHeader, Detail: fmt.Sprintf("e_type %d is not ET_REL", hdr.Type)}
	}

	sections, err := elf.DecodeSectionHeaders(data, hdr.ShOff, hdr.ShNum)
	if err != nil {
		return nil, err
	}

	f := &InputFile{
		Path:         path,
		data:         data,
		Header:       hdr,
		Sections:     sections,
		assignedBase: make([]uint64, len(sections)),
		assignedSet:  make([]bool, len(sections)),
	}

	if int(hdr.ShStrNdx) >= len(sections) {
		return nil, &elf.ParseError{Kind: elf.MalformedHeader, Detail: fmt.Sprintf("e_shstrndx %d out of range", hdr.ShStrNdx)}
	}
	f.shstrtab = elf.StringTable(f.rawSectionBytes(int(hdr.ShStrNdx)))

	if err := f.loadSymtab(); err != nil {
		return nil, err
	}
	if err := f.loadRelas(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *InputFile) loadSymtab() error {
	for i, sh := range f.Sections {
		if sh.Type != elfconst.SHT_SYMTAB {
			continue
		}
		count := sh.Size / elfconst.Elf64SymbolSize
		syms, err := elf.DecodeSymbols(f.data, sh.Off, count)
		if err != nil {
			return err
		}
		f.symtab = syms
		if int(sh.Link) >= len(f.Sections) {
			return &elf.ParseError{Kind: elf.MalformedHeader, Detail: fmt.Sprintf("symtab %d has out-of-range sh_link %d", i, sh.Link)}
		}
		f.strtab = elf.StringTable(f.rawSectionBytes(int(sh.Link)))
		return nil
	}
	// No SHT_SYMTAB is unusual but not itself an error at parse time; an
	// empty symbol table simply contributes nothing to Pass 1.
	return nil
}

func (f *InputFile) loadRelas() error {
	f.relasBySection = make(map[int][]elf.Rela)
	for _, sh := range f.Sections {
		if sh.Type != elfconst.SHT_RELA {
			continue
		}
		count := sh.Size / elfconst.Elf64RelaSize
		relas, err := elf.DecodeRelas(f.data, sh.Off, count)
		if err != nil {
			return err
		}
		f.relasBySection[int(sh.Info)] = append(f.relasBySection[int(sh.Info)], relas...)
	}
	return nil
}

// rawSectionBytes returns the file bytes backing section i without the
// SHT_NOBITS special case SectionBytes applies.
func (f *InputFile) rawSectionBytes(i int) []byte {
	sh := f.Sections[i]
	return f.data[sh.Off : sh.Off+sh.Size]
}

// SectionName resolves the name of section i via the section-header string
// table.
func (f *InputFile) SectionName(i int) (string, error) {
	if i < 0 || i >= len(f.Sections) {
		return "", fmt.Errorf("section index %d out of range", i)
	}
	return f.shstrtab.Name(f.Sections[i].NameOff)
}

// Symbol returns the symbol table entry at index i.
func (f *InputFile) Symbol(i int) (elf.Symbol, error) {
	if i < 0 || i >= len(f.symtab) {
		return elf.Symbol{}, fmt.Errorf("symbol index %d out of range", i)
	}
	return f.symtab[i], nil
}

// NumSymbols returns the number of entries in the symbol table.
func (f *InputFile) NumSymbols() int { return len(f.symtab) }

// SymbolName resolves the name of symbol i via the string table.
func (f *InputFile) SymbolName(i int) (string, error) {
	sym, err := f.Symbol(i)
	if err != nil {
		return "", err
	}
	if sym.NameOff == 0 {
		return "", nil
	}
	return f.strtab.Name(sym.NameOff)
}

// RelasFor returns the RELA entries whose target is sectionIndex, possibly
// empty.
func (f *InputFile) RelasFor(sectionIndex int) []elf.Rela {
	return f.relasBySection[sectionIndex]
}

// SectionBytes returns the raw file bytes of section i, or an empty slice
// for SHT_NOBITS sections.
func (f *InputFile) SectionBytes(i int) []byte {
	sh := f.Sections[i]
	if sh.Type == elfconst.SHT_NOBITS {
		return nil
	}
	return f.data[sh.Off : sh.Off+sh.Size]
}

// AssignedBase returns the virtual address Pass 2 assigned to section i, and
// whether it has been assigned yet.
func (f *InputFile) AssignedBase(i int) (uint64, bool) {
	if i < 0 || i >= len(f.assignedBase) {
		return 0, false
	}
	return f.assignedBase[i], f.assignedSet[i]
}

// SetAssignedBase records section i's final virtual address. It must be
// called exactly once per section, written during layout and read-only
// thereafter; a second call panics, since a repeat write is a linker
// programming error, not a user-facing one.
func (f *InputFile) SetAssignedBase(i int, addr uint64) {
	if f.assignedSet[i] {
		panic(fmt.Sprintf("assigned base for section %d of %s set twice", i, f.Path))
	}
	f.assignedBase[i] = addr
	f.assignedSet[i] = true
}

// ResolveLocalValue returns the final virtual address of a LOCAL symbol
// (one never entered into the global table): its value for an SHN_ABS
// symbol, otherwise its section's assigned base plus its value (for a
// SECTION symbol, whose value is normally 0, that is the section's base).
func (f *InputFile) ResolveLocalValue(sym elf.Symbol) (uint64, bool) {
	if sym.Shndx == elfconst.SHN_ABS {
		return sym.Value, true
	}
	base, ok := f.AssignedBase(int(sym.Shndx))
	if !ok {
		return 0, false
	}
	return base + sym.Value, true
}
