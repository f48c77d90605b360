// Package diag implements the linker's structured error values: every
// failure kind is a *Diagnostic carrying enough context (input path,
// section, symbol, relocation type) to render a precise one-line message,
// and the two kinds that accumulate across all inputs before aborting
// (MultipleDefinition, UndefinedReference) collect into a Diagnostics
// slice that itself satisfies error.
package diag

import (
	"fmt"
	"strings"
)

// Kind enumerates the exhaustive set of error kinds the linker can report.
type Kind int

const (
	MalformedHeader Kind = iota
	UnsupportedMachine
	TruncatedTable
	BadStringIndex
	MissingSection
	MultipleDefinition
	UndefinedReference
	MissingEntry
	UnsupportedRelocation
	RelocationOverflow
	IoFailure
)

func (k Kind) String() string {
	switch k {
	case MalformedHeader:
		return "malformed ELF header"
	case UnsupportedMachine:
		return "unsupported machine"
	case TruncatedTable:
		return "truncated table"
	case BadStringIndex:
		return "bad string index"
	case MissingSection:
		return "missing section"
	case MultipleDefinition:
		return "multiple definition"
	case UndefinedReference:
		return "undefined reference"
	case MissingEntry:
		return "missing entry symbol"
	case UnsupportedRelocation:
		return "unsupported relocation"
	case RelocationOverflow:
		return "relocation overflow"
	case IoFailure:
		return "I/O failure"
	default:
		return fmt.Sprintf("diag.Kind(%d)", int(k))
	}
}

// Diagnostic is the single structured error value used throughout the
// linker. Fields that don't apply to a given Kind are left zero.
type Diagnostic struct {
	Kind         Kind
	Input        string // offending input file path, if any
	Section      string // section name, if any
	Symbol       string // symbol name, if any
	RelocType    uint32 // relocation type, for UnsupportedRelocation/RelocationOverflow
	Value        int64  // computed value, for RelocationOverflow
	Cause        error  // underlying error, for IoFailure / wrapped parse errors
}

func (d *Diagnostic) Error() string {
	var b strings.Builder
	b.WriteString(d.Kind.String())
	if d.Input != "" {
		fmt.Fprintf(&b, " in %s", d.Input)
	}
	if d.Section != "" {
		fmt.Fprintf(&b, ", section %s", d.Section)
	}
	if d.Symbol != "" {
		fmt.Fprintf(&b, ": symbol %q", d.Symbol)
	}
	if d.Kind == UnsupportedRelocation {
		fmt.Fprintf(&b, ": type %d", d.RelocType)
	}
	if d.Kind == RelocationOverflow {
		fmt.Fprintf(&b, ": type %d value %#x out of range", d.RelocType, d.Value)
	}
	if d.Cause != nil {
		fmt.Fprintf(&b, ": %v", d.Cause)
	}
	return b.String()
}

func (d *Diagnostic) Unwrap() error { return d.Cause }

// Diagnostics is a set of accumulated Diagnostic values, used by Pass 1 to
// report every MultipleDefinition and UndefinedReference before aborting so
// a user sees all symbol problems from one run instead of one at a time.
type Diagnostics []*Diagnostic

func (ds Diagnostics) Error() string {
	lines := make([]string, len(ds))
	for i, d := range ds {
		lines[i] = d.Error()
	}
	return strings.Join(lines, "\n")
}

// Add appends a diagnostic. Useful as a one-liner from pipeline code.
func (ds *Diagnostics) Add(d *Diagnostic) { *ds = append(*ds, d) }

// Err returns ds as an error, or nil if no diagnostics were accumulated.
func (ds Diagnostics) Err() error {
	if len(ds) == 0 {
		return nil
	}
	return ds
}

func New(kind Kind) *Diagnostic { return &Diagnostic{Kind: kind} }

func MultipleDefinitionOf(symbol string, firstInput, secondInput string) *Diagnostic {
	return &Diagnostic{Kind: MultipleDefinition, Symbol: symbol, Input: fmt.Sprintf("%s, %s", firstInput, secondInput)}
}

func UndefinedReferenceOf(symbol string, input string) *Diagnostic {
	return &Diagnostic{Kind: UndefinedReference, Symbol: symbol, Input: input}
}

func MissingEntryOf(entrySymbol string) *Diagnostic {
	return &Diagnostic{Kind: MissingEntry, Symbol: entrySymbol}
}

func UnsupportedRelocationOf(typ uint32, input, section string) *Diagnostic {
	return &Diagnostic{Kind: UnsupportedRelocation, RelocType: typ, Input: input, Section: section}
}

func RelocationOverflowOf(typ uint32, value int64, input, section string) *Diagnostic {
	return &Diagnostic{Kind: RelocationOverflow, RelocType: typ, Value: value, Input: input, Section: section}
}

func MissingSectionOf(name, input string) *Diagnostic {
	return &Diagnostic{Kind: MissingSection, Section: name, Input: input}
}

func IoFailureOf(input string, cause error) *Diagnostic {
	return &Diagnostic{Kind: IoFailure, Input: input, Cause: cause}
}

func ParseFailureOf(kind Kind, input string, cause error) *Diagnostic {
	return &Diagnostic{Kind: kind, Input: input, Cause: cause}
}
