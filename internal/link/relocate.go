package link

import (
	"github.com/xyproto/aarch64ld/internal/diag"
	"github.com/xyproto/aarch64ld/internal/elf"
	"github.com/xyproto/aarch64ld/internal/elfconst"
	"github.com/xyproto/aarch64ld/internal/object"
	"github.com/xyproto/aarch64ld/internal/reloc"
)

// relocate is Pass 3: for every RELA entry targeting a merged section,
// resolve its symbol to a final virtual address, compute the patch site's
// own address, and apply the relocation's bit-packing in place inside the
// owning OutputSection's buffer.
func (c *Context) relocate() error {
	for fi, f := range c.inputs {
		for si := range f.Sections {
			relas := f.RelasFor(si)
			if len(relas) == 0 {
				continue
			}
			loc, ok := c.locations[[2]int{fi, si}]
			if !ok {
				continue // target section wasn't merged: its relocations are moot
			}
			targetBase, _ := f.AssignedBase(si)
			sectionName, _ := f.SectionName(si)

			for _, r := range relas {
				if err := c.applyOne(f, loc, targetBase, sectionName, r); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// applyOne resolves a single relocation's S and P, locates its patch site,
// invokes internal/reloc, and writes the patched bytes back.
func (c *Context) applyOne(f *object.InputFile, loc patchLocation, targetBase uint64, sectionName string, r elf.Rela) error {
	sym, err := f.Symbol(int(r.Sym()))
	if err != nil {
		return err
	}
	symName, err := f.SymbolName(int(r.Sym()))
	if err != nil {
		return err
	}

	S, derr := c.resolveSymbolAddress(f, sym, symName)
	if derr != nil {
		return derr
	}

	P := targetBase + r.Offset

	siteOff := loc.base + r.Offset
	siteLen := patchSiteLength(r.Type())
	bytes := loc.section.Bytes()
	if siteOff+siteLen > uint64(len(bytes)) {
		return diag.ParseFailureOf(diag.TruncatedTable, f.Path, nil)
	}
	site := bytes[siteOff : siteOff+siteLen]

	patched, err := reloc.Apply(r.Type(), site, S, r.Addend, P)
	if err != nil {
		if relErr, ok := err.(*reloc.Error); ok && !relErr.Overflow {
			return diag.UnsupportedRelocationOf(r.Type(), f.Path, sectionName)
		}
		return diag.RelocationOverflowOf(r.Type(), int64(S)+r.Addend, f.Path, sectionName)
	}
	loc.section.PatchAt(siteOff, patched)
	return nil
}

// resolveSymbolAddress resolves a relocation's referenced symbol to a final
// virtual address: a LOCAL symbol resolves through its own InputFile's
// section assignments, a GLOBAL or WEAK symbol resolves through the shared
// global symbol table. A LOCAL symbol whose defining section never
// received an assigned base (its name didn't match a known output
// section and was silently dropped by layout) is a MissingSection, not an
// UndefinedReference: the symbol itself is perfectly defined, only its
// home section never made it into the output.
func (c *Context) resolveSymbolAddress(f *object.InputFile, sym elf.Symbol, name string) (uint64, *diag.Diagnostic) {
	if sym.Bind() == elfconst.STB_LOCAL {
		addr, ok := f.ResolveLocalValue(sym)
		if !ok {
			secName, _ := f.SectionName(int(sym.Shndx))
			return 0, diag.MissingSectionOf(secName, f.Path)
		}
		return addr, nil
	}
	g, ok := c.globals[name]
	if !ok || !g.Defined {
		return 0, diag.UndefinedReferenceOf(name, f.Path)
	}
	return g.Addr, nil
}

func patchSiteLength(typ uint32) uint64 {
	if typ == elfconst.R_AARCH64_ABS64 {
		return 8
	}
	return 4
}
