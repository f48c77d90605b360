package link

import (
	"github.com/xyproto/aarch64ld/internal/elfconst"
)

// layout is Pass 2: append every contributing input section into its
// merged OutputSection, assign each OutputSection a virtual address as the
// aligned continuation of the previous one, and propagate that address
// back to every contributing InputFile section and defined global symbol.
func (c *Context) layout() {
	for fi, f := range c.inputs {
		for si, sh := range f.Sections {
			if si == 0 {
				continue // the null section never contributes
			}
			name, err := f.SectionName(si)
			if err != nil {
				continue
			}
			outName, nobitsTail, ok := outputNameForInputSection(name)
			if !ok {
				continue // unrecognized section name: silently dropped
			}
			out := c.sections[outName]
			out.AddFlags(sh.Flags)

			align := sh.AddrAlign
			if align == 0 {
				align = 1
			}

			var base uint64
			if nobitsTail || sh.Type == elfconst.SHT_NOBITS {
				base = out.AppendNobits(fi, si, sh.Size, align)
			} else {
				base = out.Append(fi, si, f.SectionBytes(si), align)
			}
			c.locations[[2]int{fi, si}] = patchLocation{section: out, base: base}
		}
	}

	base := c.Opts.BaseAddress
	pageSize := c.Opts.PageSize
	if pageSize == 0 {
		pageSize = elfconst.PageSize
	}

	headersSize := uint64(elfconst.Elf64HeaderSize) + uint64(c.numEmittedSections())*elfconst.Elf64ProgramHeaderSize
	addr := base + alignUp(headersSize, pageSize)

	for _, name := range outputSectionOrder {
		s := c.sections[name]
		if len(s.Contributions) == 0 {
			continue
		}
		addr = alignUp(addr, s.Align)
		s.Addr = addr
		s.Off = addr - base
		addr += s.MemSize()

		for _, contrib := range s.Contributions {
			f := c.inputs[contrib.FileIndex]
			f.SetAssignedBase(contrib.SectionIndex, s.Addr+contrib.BaseOffset)
		}
	}

	for _, g := range c.globals {
		if !g.Defined {
			continue
		}
		if g.SectionIndex < 0 {
			g.Addr = g.Value // SHN_ABS: value is already the final address
			continue
		}
		f := c.inputs[g.FileIndex]
		sectionBase, ok := f.AssignedBase(g.SectionIndex)
		if !ok {
			continue // section wasn't merged into any output (unrecognized name): leaves Addr at 0
		}
		g.Addr = sectionBase + g.Value
	}
}

// numEmittedSections returns how many of the three fixed output sections
// received at least one contribution — exactly the number of PT_LOAD
// program headers Pass 4 will emit.
func (c *Context) numEmittedSections() int {
	n := 0
	for _, name := range outputSectionOrder {
		if len(c.sections[name].Contributions) > 0 {
			n++
		}
	}
	return n
}

func alignUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	rem := v % align
	if rem == 0 {
		return v
	}
	return v + (align - rem)
}
