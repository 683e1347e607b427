package arm64asm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadImm64RoundTrips(t *testing.T) {
	var a Assembler
	off := len(a.Code)
	a.LoadImm64(X0, 0x1122334455667788)
	assert.Len(t, a.Code, 16)
	want := append([]byte(nil), a.Code...)
	a.PatchImm64(off, 0x1122334455667788)
	assert.Len(t, a.Code, 16)
	assert.Equal(t, want, a.Code)
}

func TestBranchFixupDistanceEncodesAsInstructionCount(t *testing.T) {
	var a Assembler
	off := a.B()
	a.Nop()
	a.Nop()
	target := len(a.Code)
	a.PatchB(off, target)
	inst := getU32(a.Code[off : off+4])
	assert.Equal(t, uint32(0x14000000)|uint32(3), inst)
}

func TestVAddArrangementSetsQBit(t *testing.T) {
	var a Assembler
	a.VAdd(Arr2S, 0, 1, 2)
	a.VAdd(Arr4S, 0, 1, 2)
	two := getU32(a.Code[0:4])
	four := getU32(a.Code[4:8])
	assert.Equal(t, uint32(0), (two>>30)&1)
	assert.Equal(t, uint32(1), (four>>30)&1)
}

func TestCsetInvertsCondition(t *testing.T) {
	var a Assembler
	a.Cset(X0, CondEQ)
	inst := getU32(a.Code[0:4])
	assert.Equal(t, uint32(0x9A9F07E0)|(uint32(CondEQ^1)<<12), inst)
}
