package elf

import "fmt"

// ParseError is the sum type for every way raw bytes can fail to decode as
// an ELF64 record. Detail carries the human-readable specifics.
type ParseError struct {
	Kind   ParseErrorKind
	Detail string
}

// ParseErrorKind enumerates the ELF-model-level failure modes.
type ParseErrorKind int

const (
	MalformedHeader ParseErrorKind = iota
	UnsupportedMachine
	TruncatedTable
	BadStringIndex
)

func (k ParseErrorKind) String() string {
	switch k {
	case MalformedHeader:
		return "MalformedHeader"
	case UnsupportedMachine:
		return "UnsupportedMachine"
	case TruncatedTable:
		return "TruncatedTable"
	case BadStringIndex:
		return "BadStringIndex"
	default:
		return fmt.Sprintf("ParseErrorKind(%d)", int(k))
	}
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func errf(kind ParseErrorKind, format string, args ...interface{}) error {
	return &ParseError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}
