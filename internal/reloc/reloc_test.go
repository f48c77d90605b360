package reloc

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xyproto/aarch64ld/internal/elfconst"
)

func word(w uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, w)
	return b
}

func TestApplyAbs64RoundTrip(t *testing.T) {
	site := make([]byte, 8)
	out, err := Apply(elfconst.R_AARCH64_ABS64, site, 0x401000, 8, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x401008), binary.LittleEndian.Uint64(out))
}

func TestApplyAbs32Overflow(t *testing.T) {
	site := make([]byte, 4)
	_, err := Apply(elfconst.R_AARCH64_ABS32, site, 0x1_0000_0000, 0, 0)
	require.Error(t, err)
	var relErr *Error
	require.ErrorAs(t, err, &relErr)
	assert.True(t, relErr.Overflow)
}

func TestApplyAddAbsLo12PreservesOpcode(t *testing.T) {
	// ADD (immediate, 64-bit): sf=1 op=0 S=0 | imm12 | Rn=x1 | Rd=x0
	base := uint32(0x91000000) | (1 << 5)
	site := word(base)
	out, err := Apply(elfconst.R_AARCH64_ADD_ABS_LO12_NC, site, 0x4011_23, 0, 0)
	require.NoError(t, err)

	w := binary.LittleEndian.Uint32(out)
	assert.Equal(t, uint32(0x123), (w>>10)&0xfff)
	// Bits outside the imm12 field (opcode, Rn, Rd) are unchanged.
	assert.Equal(t, base&^(uint32(0xfff)<<10), w&^(uint32(0xfff)<<10))
}

func TestApplyBranch26RoundTrip(t *testing.T) {
	base := uint32(0x94000000) // BL #0
	site := word(base)
	// Target 0x1000 bytes ahead of P=0x400000.
	out, err := Apply(elfconst.R_AARCH64_CALL26, site, 0x401000, 0, 0x400000)
	require.NoError(t, err)
	w := binary.LittleEndian.Uint32(out)
	imm26 := int32(w&0x3ffffff) << 6 >> 6 // sign-extend from 26 bits
	assert.Equal(t, int32(0x1000/4), imm26)
	assert.Equal(t, uint32(0x94000000), w&0xfc000000)
}

func TestApplyBranch26RejectsUnaligned(t *testing.T) {
	site := word(0x94000000)
	_, err := Apply(elfconst.R_AARCH64_CALL26, site, 0x401001, 0, 0x400000)
	require.Error(t, err)
}

func TestApplyBranch26RejectsOutOfRange(t *testing.T) {
	site := word(0x94000000)
	_, err := Apply(elfconst.R_AARCH64_CALL26, site, 0x500000000, 0, 0x400000)
	require.Error(t, err)
}

func TestApplyAdrpPagePreservesRd(t *testing.T) {
	base := uint32(0x90000000) | 2 // ADRP x2, #0
	site := word(base)
	out, err := Apply(elfconst.R_AARCH64_ADR_PREL_PG_HI21, site, 0x500000, 0, 0x400000)
	require.NoError(t, err)
	w := binary.LittleEndian.Uint32(out)
	assert.Equal(t, uint32(2), w&0x1f, "Rd preserved")
	assert.Equal(t, uint32(1), w>>31, "op bit preserved")
	assert.Equal(t, uint32(0x10), (w>>24)&0x1f, "fixed bits preserved")
}

func TestApplyLdst64Lo12Shift(t *testing.T) {
	base := uint32(0xf9400000) // LDR Xt, [Xn]
	site := word(base)
	out, err := Apply(elfconst.R_AARCH64_LDST64_ABS_LO12_NC, site, 0x408, 0, 0)
	require.NoError(t, err)
	w := binary.LittleEndian.Uint32(out)
	assert.Equal(t, uint32(0x408/8), (w>>10)&0xfff)
}

func TestApplyLdst64Lo12RejectsMisaligned(t *testing.T) {
	site := word(0xf9400000)
	_, err := Apply(elfconst.R_AARCH64_LDST64_ABS_LO12_NC, site, 0x401, 0, 0)
	require.Error(t, err)
}

func TestUnsupportedRelocationType(t *testing.T) {
	site := word(0)
	_, err := Apply(999, site, 0, 0, 0)
	require.Error(t, err)
	var relErr *Error
	require.ErrorAs(t, err, &relErr)
	assert.False(t, relErr.Overflow)
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported(elfconst.R_AARCH64_ABS64))
	assert.False(t, Supported(12345))
}

func TestPage(t *testing.T) {
	assert.Equal(t, uint64(0x401000), Page(0x401abc))
	assert.Equal(t, uint64(0x401000), Page(0x401000))
}
