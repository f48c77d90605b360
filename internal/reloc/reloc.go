// Package reloc implements the AArch64 RELA relocation arithmetic and
// instruction-field packing: pure functions from (site bytes, S, A, P) to
// patched site bytes, dispatched by relocation type number. The
// bit-packing idiom (read-modify-write of a 32-bit little-endian
// instruction word) adapts an instruction encoder from emission to
// patching: every function preserves the opcode bits outside its target
// immediate field.
package reloc

import (
	"encoding/binary"
	"fmt"

	"github.com/xyproto/aarch64ld/internal/elfconst"
)

// Error is returned when a relocation can't be applied: either the type is
// unrecognized, or the computed value doesn't fit the target field.
type Error struct {
	Type     uint32
	Overflow bool
	Value    int64
	Detail   string
}

func (e *Error) Error() string {
	if e.Overflow {
		return fmt.Sprintf("relocation type %d value %#x out of range: %s", e.Type, e.Value, e.Detail)
	}
	return fmt.Sprintf("unsupported relocation type %d", e.Type)
}

func unsupported(typ uint32) error {
	return &Error{Type: typ, Detail: "no handler registered"}
}

func overflow(typ uint32, value int64, detail string) error {
	return &Error{Type: typ, Overflow: true, Value: value, Detail: detail}
}

// ApplyFunc computes and packs a relocation's value into the site's 32-bit
// or 64-bit word. S is the resolved symbol address, A the signed addend, P
// the patch site's own virtual address.
type ApplyFunc func(site []byte, S uint64, A int64, P uint64) ([]byte, error)

// table is keyed by AArch64 relocation type. Unknown types are absent,
// surfaced as UnsupportedRelocation rather than silently no-op'd.
var table = map[uint32]ApplyFunc{
	elfconst.R_AARCH64_ABS64:              applyAbs64,
	elfconst.R_AARCH64_ABS32:              applyAbs32,
	elfconst.R_AARCH64_ADR_PREL_PG_HI21:   applyAdrpPage,
	elfconst.R_AARCH64_ADD_ABS_LO12_NC:    applyAddLo12,
	elfconst.R_AARCH64_CALL26:             applyBranch26,
	elfconst.R_AARCH64_JUMP26:             applyBranch26,
	elfconst.R_AARCH64_LDST8_ABS_LO12_NC:  applyLdst8Lo12,
	elfconst.R_AARCH64_LDST16_ABS_LO12_NC: applyLdst16Lo12,
	elfconst.R_AARCH64_LDST32_ABS_LO12_NC: applyLdst32Lo12,
	elfconst.R_AARCH64_LDST64_ABS_LO12_NC: applyLdst64Lo12,
}

// Apply dispatches to the handler registered for typ, or fails with an
// unsupported-relocation Error.
func Apply(typ uint32, site []byte, S uint64, A int64, P uint64) ([]byte, error) {
	fn, ok := table[typ]
	if !ok {
		return nil, unsupported(typ)
	}
	return fn(site, S, A, P)
}

// Supported reports whether typ has a registered handler.
func Supported(typ uint32) bool {
	_, ok := table[typ]
	return ok
}

// Page implements Page(x) = x & ~0xFFF from the glossary: x with its low 12
// bits cleared.
func Page(x uint64) uint64 { return x &^ 0xfff }

func instrWord(site []byte) (uint32, error) {
	if len(site) < 4 {
		return 0, fmt.Errorf("instruction patch site shorter than 4 bytes (%d)", len(site))
	}
	return binary.LittleEndian.Uint32(site[:4]), nil
}

func putInstrWord(site []byte, w uint32) []byte {
	out := make([]byte, len(site))
	copy(out, site)
	binary.LittleEndian.PutUint32(out[:4], w)
	return out
}

func applyAbs64(site []byte, S uint64, A int64, P uint64) ([]byte, error) {
	if len(site) < 8 {
		return nil, fmt.Errorf("ABS64 patch site shorter than 8 bytes (%d)", len(site))
	}
	out := make([]byte, len(site))
	copy(out, site)
	binary.LittleEndian.PutUint64(out[:8], uint64(int64(S)+A))
	return out, nil
}

func applyAbs32(site []byte, S uint64, A int64, P uint64) ([]byte, error) {
	if len(site) < 4 {
		return nil, fmt.Errorf("ABS32 patch site shorter than 4 bytes (%d)", len(site))
	}
	value := int64(S) + A
	if value < 0 || value > 0xffffffff {
		return nil, overflow(elfconst.R_AARCH64_ABS32, value, "does not fit in 32 bits")
	}
	out := make([]byte, len(site))
	copy(out, site)
	binary.LittleEndian.PutUint32(out[:4], uint32(value))
	return out, nil
}

// applyAdrpPage packs X = Page(S+A) - Page(P) into an ADRP instruction's
// immhi (bits 23:5) / immlo (bits 30:29) fields, verifying the page delta
// fits the ±4GiB range ADRP can express.
func applyAdrpPage(site []byte, S uint64, A int64, P uint64) ([]byte, error) {
	w, err := instrWord(site)
	if err != nil {
		return nil, err
	}
	target := uint64(int64(S) + A)
	pageDelta := int64(Page(target)) - int64(Page(P))
	pages := pageDelta >> 12
	if pages < -(1<<20) || pages >= (1<<20) {
		return nil, overflow(elfconst.R_AARCH64_ADR_PREL_PG_HI21, pageDelta, "page delta does not fit ADRP's ±4GiB range")
	}
	imm := uint32(pages) & 0x1fffff // 21-bit field
	immlo := imm & 0x3
	immhi := (imm >> 2) & 0x7ffff

	const mask = (uint32(0x3) << 29) | (uint32(0x7ffff) << 5)
	w = (w &^ mask) | (immlo << 29) | (immhi << 5)
	return putInstrWord(site, w), nil
}

// applyAddLo12 packs X = (S+A)&0xFFF into an ADD (immediate) instruction's
// imm12 field (bits 21:10). No overflow check: the low 12 bits always fit.
func applyAddLo12(site []byte, S uint64, A int64, P uint64) ([]byte, error) {
	w, err := instrWord(site)
	if err != nil {
		return nil, err
	}
	target := uint64(int64(S) + A)
	imm := uint32(target & 0xfff)
	const mask = uint32(0xfff) << 10
	w = (w &^ mask) | (imm << 10)
	return putInstrWord(site, w), nil
}

// applyBranch26 packs X = (S+A-P)>>2 into a BL/B instruction's signed imm26
// field (bits 25:0), verifying 4-byte alignment and the ±128MiB range.
func applyBranch26(site []byte, S uint64, A int64, P uint64) ([]byte, error) {
	w, err := instrWord(site)
	if err != nil {
		return nil, err
	}
	delta := int64(S) + A - int64(P)
	if delta%4 != 0 {
		return nil, overflow(elfconst.R_AARCH64_CALL26, delta, "branch target not 4-byte aligned")
	}
	imm26 := delta >> 2
	if imm26 < -(1<<25) || imm26 >= (1<<25) {
		return nil, overflow(elfconst.R_AARCH64_CALL26, delta, "branch target out of ±128MiB range")
	}
	const mask = uint32(0x3ffffff)
	w = (w &^ mask) | (uint32(imm26) & mask)
	return putInstrWord(site, w), nil
}

func ldstLo12(site []byte, S uint64, A int64, shift uint, typ uint32) ([]byte, error) {
	w, err := instrWord(site)
	if err != nil {
		return nil, err
	}
	target := uint64(int64(S) + A)
	off := target & 0xfff
	if off&((1<<shift)-1) != 0 {
		return nil, overflow(typ, int64(off), "offset not aligned to access size")
	}
	imm := uint32(off >> shift)
	const mask = uint32(0xfff) << 10
	w = (w &^ mask) | (imm << 10)
	return putInstrWord(site, w), nil
}

func applyLdst8Lo12(site []byte, S uint64, A int64, P uint64) ([]byte, error) {
	return ldstLo12(site, S, A, 0, elfconst.R_AARCH64_LDST8_ABS_LO12_NC)
}

func applyLdst16Lo12(site []byte, S uint64, A int64, P uint64) ([]byte, error) {
	return ldstLo12(site, S, A, 1, elfconst.R_AARCH64_LDST16_ABS_LO12_NC)
}

func applyLdst32Lo12(site []byte, S uint64, A int64, P uint64) ([]byte, error) {
	return ldstLo12(site, S, A, 2, elfconst.R_AARCH64_LDST32_ABS_LO12_NC)
}

func applyLdst64Lo12(site []byte, S uint64, A int64, P uint64) ([]byte, error) {
	return ldstLo12(site, S, A, 3, elfconst.R_AARCH64_LDST64_ABS_LO12_NC)
}
