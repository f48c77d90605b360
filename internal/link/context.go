// Package link implements LinkerContext, the orchestrator of the linker's
// four-pass pipeline: ingest the global symbol table, lay out merged output
// sections and assign addresses, apply AArch64 relocations, and emit the
// final ELF64 executable.
package link

import (
	"context"

	"github.com/xyproto/aarch64ld/internal/elfconst"
	"github.com/xyproto/aarch64ld/internal/object"
	"github.com/xyproto/aarch64ld/internal/output"
)

// outputSectionOrder is the fixed set and order of merged output sections
// Pass 2 produces.
var outputSectionOrder = []string{".text", ".rodata", ".data"}

// Options carries the tunables the CLI exposes, written once at
// construction and read-only thereafter.
type Options struct {
	BaseAddress uint64
	PageSize    uint64
	EntrySymbol string
	Verbose     bool
}

// DefaultOptions returns the linker's fixed defaults: base 0x400000, page
// size 4096, entry symbol "_start".
func DefaultOptions() Options {
	return Options{BaseAddress: 0x400000, PageSize: elfconst.PageSize, EntrySymbol: "_start"}
}

// GlobalSymbol is one entry in the global symbol table: a back-reference
// to the owning InputFile (by index, not pointer) plus the defining
// section index, filled in as resolution proceeds.
type GlobalSymbol struct {
	Name         string
	FileIndex    int
	SectionIndex int // -1 for an absolute (SHN_ABS) symbol
	Value        uint64
	Size         uint64
	Weak         bool
	Defined      bool
	Addr         uint64 // resolved by Pass 2

	// RefInputs lists every input file that referenced this symbol while
	// undefined, used to enrich the UndefinedReference diagnostic.
	RefInputs []string
}

// patchLocation records where a given (file, input section) pair's bytes
// live inside a merged OutputSection, so Pass 3 can find a relocation's
// patch site without re-scanning every OutputSection's contribution list.
type patchLocation struct {
	section *output.Section
	base    uint64
}

// Context is the linker orchestrator: the global symbol table, the merged
// output-section map, and the InputFiles it owns after ingest.
type Context struct {
	Opts   Options
	inputs []*object.InputFile

	globals map[string]*GlobalSymbol
	// sections maps each of the three fixed output section names to its
	// accumulator. ".bss" input sections merge into ".data"'s entry as a
	// zero-filled tail that contributes no file bytes (see
	// outputNameForInputSection).
	sections map[string]*output.Section

	locations map[[2]int]patchLocation
}

// New builds an empty Context. Call AddInput for each parsed InputFile, then
// Link to run Pass 1 through Pass 4.
func New(opts Options) *Context {
	c := &Context{
		Opts:      opts,
		globals:   make(map[string]*GlobalSymbol),
		sections:  make(map[string]*output.Section),
		locations: make(map[[2]int]patchLocation),
	}
	for _, name := range outputSectionOrder {
		c.sections[name] = output.New(name)
	}
	return c
}

// AddInput takes ownership of a parsed InputFile for the remainder of the
// run: LinkerContext owns every input file once it has been added.
func (c *Context) AddInput(f *object.InputFile) {
	c.inputs = append(c.inputs, f)
}

// Link runs all four passes in order and returns the serialized ET_EXEC
// bytes, or the first/accumulated diagnostic on failure. An error aborts
// the pipeline and no partial output is returned. ctx is checked once up
// front, mirroring the I/O boundary a caller observes immediately before
// handing off already-read input: the passes themselves run straight
// through without further cancellation checks.
func (c *Context) Link(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.ingest(); err != nil {
		return nil, err
	}
	c.layout()
	if err := c.relocate(); err != nil {
		return nil, err
	}
	return c.emit()
}

// outputNameForInputSection maps an input section's name to the output
// section it merges into. Sections not matching a known output name are
// silently dropped. A NOBITS .bss section merges into .data's address
// space without contributing file bytes.
func outputNameForInputSection(name string) (outputName string, isNobitsTail bool, ok bool) {
	switch name {
	case ".text":
		return ".text", false, true
	case ".rodata":
		return ".rodata", false, true
	case ".data":
		return ".data", false, true
	case ".bss":
		return ".data", true, true
	default:
		return "", false, false
	}
}
