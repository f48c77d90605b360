package link

import (
	"github.com/xyproto/aarch64ld/internal/diag"
	"github.com/xyproto/aarch64ld/internal/elf"
	"github.com/xyproto/aarch64ld/internal/elfconst"
)

// ingest is Pass 1: register every defined global, resolve every undefined
// reference against them, and report every MultipleDefinition and
// UndefinedReference together before aborting.
func (c *Context) ingest() error {
	var diags diag.Diagnostics

	for fi, f := range c.inputs {
		for si := 1; si < f.NumSymbols(); si++ { // symbol 0 is always the null entry
			sym, err := f.Symbol(si)
			if err != nil {
				return err
			}
			bind := sym.Bind()
			if bind != elfconst.STB_GLOBAL && bind != elfconst.STB_WEAK {
				continue // LOCAL symbols never enter the global table
			}
			name, err := f.SymbolName(si)
			if err != nil {
				return err
			}
			if name == "" {
				continue
			}

			if sym.Shndx == elfconst.SHN_UNDEF {
				c.recordUndefined(name, f.Path)
				continue
			}
			if d := c.recordDefined(fi, f.Path, name, sym); d != nil {
				diags.Add(d)
			}
		}
	}

	for name, g := range c.globals {
		if !g.Defined {
			for _, ref := range g.RefInputs {
				diags.Add(diag.UndefinedReferenceOf(name, ref))
			}
			if len(g.RefInputs) == 0 {
				diags.Add(diag.UndefinedReferenceOf(name, ""))
			}
		}
	}

	return diags.Err()
}

// recordDefined handles one GLOBAL or WEAK defined symbol: insert if
// absent, report MultipleDefinition on a non-weak collision, applying a
// conservative weak-symbol policy where the first non-weak definition
// wins and a weak definition never conflicts with a strong one in either
// arrival order.
func (c *Context) recordDefined(fileIndex int, path, name string, sym elf.Symbol) *diag.Diagnostic {
	weak := sym.Bind() == elfconst.STB_WEAK
	sectionIndex := int(sym.Shndx)
	if sym.Shndx == elfconst.SHN_ABS {
		sectionIndex = -1
	}

	existing, ok := c.globals[name]
	if !ok {
		c.globals[name] = &GlobalSymbol{
			Name: name, FileIndex: fileIndex, SectionIndex: sectionIndex,
			Value: sym.Value, Size: sym.Size, Weak: weak, Defined: true,
		}
		return nil
	}

	if !existing.Defined {
		// A placeholder created by an earlier undefined reference: fill it
		// in now.
		existing.FileIndex, existing.SectionIndex = fileIndex, sectionIndex
		existing.Value, existing.Size, existing.Weak, existing.Defined = sym.Value, sym.Size, weak, true
		return nil
	}

	switch {
	case existing.Weak && !weak:
		// A strong definition arrives after a weak one: it wins, no error.
		existing.FileIndex, existing.SectionIndex = fileIndex, sectionIndex
		existing.Value, existing.Size, existing.Weak = sym.Value, sym.Size, false
		return nil
	case !existing.Weak && weak:
		// A weak definition arrives after a strong one: the strong
		// definition already in place is kept.
		return nil
	case existing.Weak && weak:
		// Both weak: conservative first-definition-wins.
		return nil
	default:
		firstPath := c.inputs[existing.FileIndex].Path
		return diag.MultipleDefinitionOf(name, firstPath, path)
	}
}

func (c *Context) recordUndefined(name, path string) {
	g, ok := c.globals[name]
	if !ok {
		c.globals[name] = &GlobalSymbol{Name: name, Defined: false, RefInputs: []string{path}}
		return
	}
	if !g.Defined {
		g.RefInputs = append(g.RefInputs, path)
	}
	// An existing defined entry already satisfies this reference.
}
