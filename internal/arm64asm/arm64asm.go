// Package arm64asm encodes AArch64 machine instructions (component C9
// groundwork for codegen, §4.5/§4.6). Fixed-width 32-bit little-endian
// instructions, generalized directly from the teacher's aarch64.go (the
// register/condition constants and the MOVZ/MOVK/STP/LDP/branch encoders
// keep their shapes and magic numbers) plus backend_aarch64.go's
// CallFixup-based patch helpers. NEON vector-arrangement encodings for the
// PAIR/QUAD/FPAIR/FQUAD SIMD value types (§3 VarType, §4.5) have no teacher
// analogue — they're grounded on the arrangement-parameterized vector op
// shape (vecArrangement/asVecRRR) from the retrieved wazero arm64 backend
// (internal/engine/wazevo/backend/isa/arm64/lower_instr.go in the pack).
package arm64asm

// Register constants (X0-X30, SP/XZR=31).
const (
	X0  = 0
	X1  = 1
	X2  = 2
	X3  = 3
	X4  = 4
	X5  = 5
	X6  = 6
	X7  = 7
	X8  = 8
	X9  = 9
	X10 = 10
	X11 = 11
	X16 = 16 // IP0, intra-procedure scratch
	X17 = 17 // IP1
	X19 = 19
	X28 = 28
	FP  = 29
	LR  = 30
	SP  = 31
	XZR = 31
)

// Condition codes for B.cond / CSET.
const (
	CondEQ = 0x0
	CondNE = 0x1
	CondCS = 0x2
	CondCC = 0x3
	CondMI = 0x4
	CondPL = 0x5
	CondVS = 0x6
	CondVC = 0x7
	CondHI = 0x8
	CondLS = 0x9
	CondGE = 0xA
	CondLT = 0xB
	CondGT = 0xC
	CondLE = 0xD
)

// Arrangement selects the NEON lane layout for a vector instruction.
type Arrangement int

const (
	Arr2S Arrangement = iota // 2x32-bit lanes (PAIR, FPAIR)
	Arr4S                    // 4x32-bit lanes (QUAD, FQUAD)
)

func (a Arrangement) q() uint32 {
	if a == Arr4S {
		return 1
	}
	return 0
}

// Assembler accumulates encoded instruction bytes plus the fixup records
// needed to patch branch targets and PC-relative loads after layout.
type Assembler struct {
	Code        []byte
	CallFixups  []CallFixup
	JumpFixups  []JumpFixup
}

// CallFixup records a PC-relative ADRP/ADRP+ADD/ADRP+LDR site awaiting a
// resolved target address (§4.5 veneer resolution).
type CallFixup struct {
	CodeOffset int
	Target     string
	Value      uint64
}

// JumpFixup records a B/BL/B.cond site awaiting a resolved block target.
type JumpFixup struct {
	CodeOffset int
	Target     string
	IsCond     bool
	Cond       int
}

func (a *Assembler) emit(inst uint32) {
	a.Code = append(a.Code, byte(inst), byte(inst>>8), byte(inst>>16), byte(inst>>24))
}

// --- Immediate loading ---

func (a *Assembler) MovZ(rd int, imm16 uint16, shift int) {
	hw := uint32(shift / 16)
	a.emit(0xD2800000 | (hw << 21) | (uint32(imm16) << 5) | uint32(rd&0x1f))
}

func (a *Assembler) MovK(rd int, imm16 uint16, shift int) {
	hw := uint32(shift / 16)
	a.emit(0xF2800000 | (hw << 21) | (uint32(imm16) << 5) | uint32(rd&0x1f))
}

func (a *Assembler) MovN(rd int, imm16 uint16, shift int) {
	hw := uint32(shift / 16)
	a.emit(0x92800000 | (hw << 21) | (uint32(imm16) << 5) | uint32(rd&0x1f))
}

// LoadImm64 emits a fixed 4-instruction MOVZ/MOVK sequence (16 bytes),
// always the same length so the sequence stays patchable (§4.5).
func (a *Assembler) LoadImm64(rd int, val uint64) {
	a.MovZ(rd, uint16(val&0xFFFF), 0)
	a.MovK(rd, uint16((val>>16)&0xFFFF), 16)
	a.MovK(rd, uint16((val>>32)&0xFFFF), 32)
	a.MovK(rd, uint16((val>>48)&0xFFFF), 48)
}

// LoadImm64Compact loads val using as few instructions as possible; not
// patchable, use only for constants that need no fixup.
func (a *Assembler) LoadImm64Compact(rd int, val uint64) {
	if val == 0 {
		a.MovZ(rd, 0, 0)
		return
	}
	inv := ^val
	if inv&0xFFFF == inv {
		a.MovN(rd, uint16(inv), 0)
		return
	}
	first := true
	for shift := 0; shift < 64; shift += 16 {
		chunk := uint16((val >> uint(shift)) & 0xFFFF)
		if chunk != 0 || shift == 0 {
			if first {
				a.MovZ(rd, chunk, shift)
				first = false
			} else {
				a.MovK(rd, chunk, shift)
			}
		}
	}
}

// --- Scalar arithmetic/logic ---

func (a *Assembler) AddRR(rd, rn, rm int) {
	a.emit(0x8B000000 | (uint32(rm&0x1f) << 16) | (uint32(rn&0x1f) << 5) | uint32(rd&0x1f))
}
func (a *Assembler) SubRR(rd, rn, rm int) {
	a.emit(0xCB000000 | (uint32(rm&0x1f) << 16) | (uint32(rn&0x1f) << 5) | uint32(rd&0x1f))
}
func (a *Assembler) AddImm(rd, rn int, imm12 uint32) {
	a.emit(0x91000000 | ((imm12 & 0xFFF) << 10) | (uint32(rn&0x1f) << 5) | uint32(rd&0x1f))
}
func (a *Assembler) SubImm(rd, rn int, imm12 uint32) {
	a.emit(0xD1000000 | ((imm12 & 0xFFF) << 10) | (uint32(rn&0x1f) << 5) | uint32(rd&0x1f))
}
func (a *Assembler) Mul(rd, rn, rm int) {
	a.emit(0x9B007C00 | (uint32(rm&0x1f) << 16) | (uint32(rn&0x1f) << 5) | uint32(rd&0x1f))
}
func (a *Assembler) Sdiv(rd, rn, rm int) {
	a.emit(0x9AC00C00 | (uint32(rm&0x1f) << 16) | (uint32(rn&0x1f) << 5) | uint32(rd&0x1f))
}
func (a *Assembler) Msub(rd, rn, rm, ra int) {
	a.emit(0x9B008000 | (uint32(rm&0x1f) << 16) | (uint32(ra&0x1f) << 10) | (uint32(rn&0x1f) << 5) | uint32(rd&0x1f))
}
func (a *Assembler) Neg(rd, rm int) { a.SubRR(rd, XZR, rm) }

func (a *Assembler) AndRR(rd, rn, rm int) {
	a.emit(0x8A000000 | (uint32(rm&0x1f) << 16) | (uint32(rn&0x1f) << 5) | uint32(rd&0x1f))
}
func (a *Assembler) OrrRR(rd, rn, rm int) {
	a.emit(0xAA000000 | (uint32(rm&0x1f) << 16) | (uint32(rn&0x1f) << 5) | uint32(rd&0x1f))
}
func (a *Assembler) EorRR(rd, rn, rm int) {
	a.emit(0xCA000000 | (uint32(rm&0x1f) << 16) | (uint32(rn&0x1f) << 5) | uint32(rd&0x1f))
}
func (a *Assembler) LslRR(rd, rn, rm int) {
	a.emit(0x9AC02000 | (uint32(rm&0x1f) << 16) | (uint32(rn&0x1f) << 5) | uint32(rd&0x1f))
}
func (a *Assembler) AsrRR(rd, rn, rm int) {
	a.emit(0x9AC02800 | (uint32(rm&0x1f) << 16) | (uint32(rn&0x1f) << 5) | uint32(rd&0x1f))
}

// Ubfx emits UBFX Xd, Xn, #lsb, #width (unsigned bitfield extract), used to
// unpack PAIR lanes in destructuring FOREACH (§4.3).
func (a *Assembler) Ubfx(rd, rn int, lsb, width uint32) {
	immr := lsb & 0x3F
	imms := (lsb + width - 1) & 0x3F
	a.emit(0xD3400000 | (immr << 16) | (imms << 10) | (uint32(rn&0x1f) << 5) | uint32(rd&0x1f))
}

// --- Compare ---

func (a *Assembler) CmpRR(rn, rm int) {
	a.emit(0xEB000000 | (uint32(rm&0x1f) << 16) | (uint32(rn&0x1f) << 5) | uint32(XZR&0x1f))
}
func (a *Assembler) CmpImm(rn int, imm12 uint32) {
	a.emit(0xF1000000 | ((imm12 & 0xFFF) << 10) | (uint32(rn&0x1f) << 5) | uint32(XZR&0x1f))
}
func (a *Assembler) Cset(rd int, cond int) {
	inv := uint32(cond ^ 1)
	a.emit(0x9A9F07E0 | (inv << 12) | uint32(rd&0x1f))
}

// --- Memory ---

func (a *Assembler) Ldr(rt, rn int, offset int) {
	switch {
	case offset == 0:
		a.emit(0xF9400000 | (uint32(rn&0x1f) << 5) | uint32(rt&0x1f))
	case offset > 0 && offset%8 == 0 && offset/8 < 4096:
		a.emit(0xF9400000 | (uint32(offset/8) << 10) | (uint32(rn&0x1f) << 5) | uint32(rt&0x1f))
	case offset >= -256 && offset <= 255:
		a.emit(0xF8400000 | ((uint32(offset) & 0x1FF) << 12) | (uint32(rn&0x1f) << 5) | uint32(rt&0x1f))
	default:
		a.LoadImm64Compact(X16, uint64(int64(offset)))
		a.AddRR(X16, rn, X16)
		a.emit(0xF9400000 | (uint32(X16&0x1f) << 5) | uint32(rt&0x1f))
	}
}

func (a *Assembler) Str(rt, rn int, offset int) {
	switch {
	case offset == 0:
		a.emit(0xF9000000 | (uint32(rn&0x1f) << 5) | uint32(rt&0x1f))
	case offset > 0 && offset%8 == 0 && offset/8 < 4096:
		a.emit(0xF9000000 | (uint32(offset/8) << 10) | (uint32(rn&0x1f) << 5) | uint32(rt&0x1f))
	case offset >= -256 && offset <= 255:
		a.emit(0xF8000000 | ((uint32(offset) & 0x1FF) << 12) | (uint32(rn&0x1f) << 5) | uint32(rt&0x1f))
	default:
		a.LoadImm64Compact(X16, uint64(int64(offset)))
		a.AddRR(X16, rn, X16)
		a.emit(0xF9000000 | (uint32(X16&0x1f) << 5) | uint32(rt&0x1f))
	}
}

func (a *Assembler) Stp(rt1, rt2, rn int, offset int) {
	imm7 := uint32(offset/8) & 0x7F
	a.emit(0xA9800000 | (imm7 << 15) | (uint32(rt2&0x1f) << 10) | (uint32(rn&0x1f) << 5) | uint32(rt1&0x1f))
}

func (a *Assembler) Ldp(rt1, rt2, rn int, offset int) {
	imm7 := uint32(offset/8) & 0x7F
	a.emit(0xA8C00000 | (imm7 << 15) | (uint32(rt2&0x1f) << 10) | (uint32(rn&0x1f) << 5) | uint32(rt1&0x1f))
}

// --- Branch ---

func (a *Assembler) B() int {
	off := len(a.Code)
	a.emit(0x14000000)
	return off
}
func (a *Assembler) BL() int {
	off := len(a.Code)
	a.emit(0x94000000)
	return off
}
func (a *Assembler) BCond(cond int) int {
	off := len(a.Code)
	a.emit(0x54000000 | uint32(cond&0xF))
	return off
}
func (a *Assembler) Blr(rn int) { a.emit(0xD63F0000 | (uint32(rn&0x1f) << 5)) }

// Br emits BR Xn, an unconditional register branch with no link — the
// terminator of a veneer trampoline (§4.7), once the callee's absolute
// address has been materialized into rn.
func (a *Assembler) Br(rn int) { a.emit(0xD61F0000 | (uint32(rn&0x1f) << 5)) }
func (a *Assembler) Ret()       { a.emit(0xD65F03C0) }
func (a *Assembler) Brk()       { a.emit(0xD4200000) }
func (a *Assembler) Nop()       { a.emit(0xD503201F) }

func (a *Assembler) MovRR(rd, rm int) {
	if rd == SP || rm == SP {
		a.AddImm(rd, rm, 0)
		return
	}
	a.OrrRR(rd, XZR, rm)
}

// --- NEON vector ops (PAIR/QUAD/FPAIR/FQUAD, §3/§4.5) ---
//
// Encoding shape follows the teacher's scalar encoders: a fixed opcode
// skeleton OR'd with operand fields, just with an extra "Q" bit selecting
// 2-lane vs 4-lane width and a "size" field fixed at 0b10 for 32-bit
// lanes — the arrangement parameter the wazero backend threads through
// asVecRRR.

func vecRRR(base uint32, arr Arrangement, rd, rn, rm int) uint32 {
	return base | (arr.q() << 30) | (uint32(rm&0x1f) << 16) | (uint32(rn&0x1f) << 5) | uint32(rd&0x1f)
}

// VAdd emits ADD Vd.<arr>, Vn.<arr>, Vm.<arr> (integer lanes: PAIR/QUAD).
func (a *Assembler) VAdd(arr Arrangement, rd, rn, rm int) { a.emit(vecRRR(0x0EA08400, arr, rd, rn, rm)) }

// VSub emits SUB Vd.<arr>, Vn.<arr>, Vm.<arr>.
func (a *Assembler) VSub(arr Arrangement, rd, rn, rm int) { a.emit(vecRRR(0x2EA08400, arr, rd, rn, rm)) }

// VMul emits MUL Vd.<arr>, Vn.<arr>, Vm.<arr>.
func (a *Assembler) VMul(arr Arrangement, rd, rn, rm int) { a.emit(vecRRR(0x0EA09C00, arr, rd, rn, rm)) }

// VFAdd emits FADD Vd.<arr>, Vn.<arr>, Vm.<arr> (float lanes: FPAIR/FQUAD).
func (a *Assembler) VFAdd(arr Arrangement, rd, rn, rm int) { a.emit(vecRRR(0x0E20D400, arr, rd, rn, rm)) }

// VFSub emits FSUB Vd.<arr>, Vn.<arr>, Vm.<arr>.
func (a *Assembler) VFSub(arr Arrangement, rd, rn, rm int) { a.emit(vecRRR(0x0EA0D400, arr, rd, rn, rm)) }

// VFMul emits FMUL Vd.<arr>, Vn.<arr>, Vm.<arr>.
func (a *Assembler) VFMul(arr Arrangement, rd, rn, rm int) { a.emit(vecRRR(0x2E20DC00, arr, rd, rn, rm)) }

// VSMax / VSMin emit SMAX/SMIN Vd.<arr>, Vn.<arr>, Vm.<arr>, used by the
// vectorized MIN/MAX reduction path (§4.3).
func (a *Assembler) VSMax(arr Arrangement, rd, rn, rm int) { a.emit(vecRRR(0x0EA06400, arr, rd, rn, rm)) }
func (a *Assembler) VSMin(arr Arrangement, rd, rn, rm int) { a.emit(vecRRR(0x0EA06C00, arr, rd, rn, rm)) }

// VAddp emits ADDP Vd.<arr>, Vn.<arr>, Vm.<arr> (pairwise add — one step of
// a pairwise reduction, §4.3 PairwiseReductionLoopStatement).
func (a *Assembler) VAddp(arr Arrangement, rd, rn, rm int) { a.emit(vecRRR(0x0EA0BC00, arr, rd, rn, rm)) }

// VFDiv emits FDIV Vd.<arr>, Vn.<arr>, Vm.<arr> (float lanes: FPAIR/FQUAD).
func (a *Assembler) VFDiv(arr Arrangement, rd, rn, rm int) { a.emit(vecRRR(0x2E20FC00, arr, rd, rn, rm)) }

// FmovToVector emits FMOV Dd, Xn, moving a GPR's raw 64 bits into the low
// lanes of a NEON register — the "pack" half of the PAIR/FPAIR bridge
// §4.6's SIMD expression codegen keys off.
func (a *Assembler) FmovToVector(rd, rn int) {
	a.emit(0x9E670000 | (uint32(rn&0x1f) << 5) | uint32(rd&0x1f))
}

// FmovFromVector emits FMOV Xd, Dn, the "unpack" counterpart of
// FmovToVector: a vector register's low 64 bits back into a GPR.
func (a *Assembler) FmovFromVector(rd, rn int) {
	a.emit(0x9E660000 | (uint32(rn&0x1f) << 5) | uint32(rd&0x1f))
}

// Dup emits DUP Vd.<arr>, Wn: broadcasts a general-purpose register into
// every 32-bit lane, used for scalar⊕vector PAIR/QUAD arithmetic (§4.6).
func (a *Assembler) Dup(arr Arrangement, rd, rn int) {
	a.emit(0x0E000C00 | (arr.q() << 30) | (0x04 << 16) | (uint32(rn&0x1f) << 5) | uint32(rd&0x1f))
}

// Ins emits INS Vd.S[index], Wn: writes a general-purpose register into one
// 32-bit lane without touching the others, used to pack the second/third/
// fourth lane of a PAIR/QUAD value constructor (§4.6) after FmovToVector
// has placed the first lane.
func (a *Assembler) Ins(rd, index, rn int) {
	imm5 := (uint32(index) << 3) | 0x4
	a.emit(0x4E001C00 | (imm5 << 16) | (uint32(rn&0x1f) << 5) | uint32(rd&0x1f))
}

// --- Fixup application ---

func getU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// PatchB patches a B/BL instruction at codeOffset to branch to target
// (both absolute code offsets), preserving the opcode bits.
func (a *Assembler) PatchB(codeOffset, target int) {
	delta := (target - codeOffset) / 4
	existing := getU32(a.Code[codeOffset : codeOffset+4])
	opcode := existing & 0xFC000000
	imm26 := uint32(delta) & 0x03FFFFFF
	putU32(a.Code[codeOffset:], opcode|imm26)
}

// PatchBCond patches a B.cond instruction at codeOffset.
func (a *Assembler) PatchBCond(codeOffset, target int) {
	delta := (target - codeOffset) / 4
	existing := getU32(a.Code[codeOffset : codeOffset+4])
	cond := existing & 0xF
	imm19 := (uint32(delta) & 0x7FFFF) << 5
	putU32(a.Code[codeOffset:], 0x54000000|imm19|cond)
}

// PatchImm64 patches a 4-instruction MOVZ/MOVK sequence at codeOffset with
// val, leaving the opcode/register fields of each instruction untouched.
func (a *Assembler) PatchImm64(codeOffset int, val uint64) {
	chunks := [4]uint16{
		uint16(val & 0xFFFF),
		uint16((val >> 16) & 0xFFFF),
		uint16((val >> 32) & 0xFFFF),
		uint16((val >> 48) & 0xFFFF),
	}
	for i, chunk := range chunks {
		off := codeOffset + i*4
		existing := getU32(a.Code[off : off+4])
		cleared := existing & 0xFFE0001F
		putU32(a.Code[off:], cleared|(uint32(chunk)<<5))
	}
}

// PatchAdrpAdd patches an ADRP+ADD pair at codeOffset to address
// targetAddr, given pcAddr (the virtual address of the ADRP instruction).
func (a *Assembler) PatchAdrpAdd(codeOffset int, pcAddr, targetAddr uint64) {
	pageDelta := int64(targetAddr>>12) - int64(pcAddr>>12)
	pageOff := targetAddr & 0xFFF

	immlo := uint32(pageDelta) & 0x3
	immhi := (uint32(pageDelta) >> 2) & 0x7FFFF
	adrp := getU32(a.Code[codeOffset:])
	adrp = (adrp & 0x9F00001F) | (immlo << 29) | (immhi << 5)
	putU32(a.Code[codeOffset:], adrp)

	addOff := codeOffset + 4
	add := getU32(a.Code[addOff:])
	add = (add & 0xFFC003FF) | (uint32(pageOff) << 10)
	putU32(a.Code[addOff:], add)
}

// Adrp emits ADRP Xd, #0 (placeholder), returning its code offset.
func (a *Assembler) Adrp(rd int) int {
	off := len(a.Code)
	a.emit(0x90000000 | uint32(rd&0x1f))
	return off
}

// AdrpAdd emits an ADRP+ADD pair and records a CallFixup for it.
func (a *Assembler) AdrpAdd(rd int, target string, rawOff uint64) {
	off := a.Adrp(rd)
	a.AddImm(rd, rd, 0)
	a.CallFixups = append(a.CallFixups, CallFixup{CodeOffset: off, Target: target, Value: rawOff})
}
