// Package codegen emits ARM64 machine code for one function at a time
// (component C9, §4.5/§4.6), consuming a CFG, its liveness intervals, and
// its register allocation, and writing into a stream.InstructionStream.
//
// Grounded on the teacher's compileFuncArm64/compileInstArm64
// (backend_aarch64.go): the STP/MOV/SUB-SP prologue shape, the frame-size
// rounding to 16 bytes, and the per-function jump-fixup resolution loop
// are kept as-is, generalized from the teacher's operand-stack IR
// (Inst/IRFunc, params popped off X28 into frame slots) to this package's
// register-allocated CFG model (params arrive already bound to physical
// registers or frame slots per the allocator's decision, §4.4).
package codegen

import (
	"strconv"

	"github.com/tinyrange/bcplc/internal/arm64asm"
	"github.com/tinyrange/bcplc/internal/ast"
	"github.com/tinyrange/bcplc/internal/cfg"
	"github.com/tinyrange/bcplc/internal/classtable"
	"github.com/tinyrange/bcplc/internal/regalloc"
	"github.com/tinyrange/bcplc/internal/stream"
	"github.com/tinyrange/bcplc/internal/types"
	"github.com/tinyrange/bcplc/internal/veneer"
)

// CallFrameManager holds one function's frame layout: the frame size
// computed from the allocator's spill-slot count and the offset of the
// spill area (§4.4/§4.5). Which locals live in registers and which in
// spill slots is read from the allocator's Result, not from here.
type CallFrameManager struct {
	FrameBytes int
	SpillBase  int // offset of the spill area within the frame, post-alignment
}

// NewCallFrameManager rounds the spill area up to a 16-byte-aligned frame
// size, mirroring compileFuncArm64's frameBytes rounding.
func NewCallFrameManager(alloc *regalloc.Result, paramCount int) *CallFrameManager {
	slots := alloc.SpillSlots
	if paramCount > slots {
		slots = paramCount
	}
	frameBytes := slots * 8
	if frameBytes%16 != 0 {
		frameBytes += 16 - frameBytes%16
	}
	return &CallFrameManager{FrameBytes: frameBytes, SpillBase: 0}
}

// FunctionUnit is everything codegen needs to emit one function.
type FunctionUnit struct {
	Name       string
	ParamNames []string
	CFG        *cfg.ControlFlowGraph
	Alloc      *regalloc.Result
	Frame      *CallFrameManager
	VarTypes   map[string]types.VarType
	Scanner    *veneer.Scanner
	IsLeaf     bool
	IsTrivialAccessor  bool
	IsTrivialSetter    bool
	AccessedMemberName string

	ClassName string           // declaring class, "" for free functions/routines
	Classes   *classtable.Table // vtable slot / SUPER resolution (§4.6)
}

// Generate emits fu into s, using asm as the shared instruction encoder.
// s is shared across every function (and the veneer table) in the program,
// so Generate only marks fu.Name as the label other functions' calls target
// — it does not resolve branches itself. The caller (internal/compiler)
// resolves the whole program's branches once, after every function and
// veneer trampoline has been emitted, since a direct call or BL to a
// not-yet-emitted function is otherwise unresolvable mid-program.
func Generate(s *stream.InstructionStream, asm *arm64asm.Assembler, fu *FunctionUnit) error {
	g := &funcGen{s: s, asm: asm, fu: fu, blockLabel: map[string]string{}}

	s.MarkLabel(fu.Name)

	if fu.IsTrivialAccessor {
		g.emitTrivialAccessor()
		return nil
	}
	if fu.IsTrivialSetter {
		g.emitTrivialSetter()
		return nil
	}

	g.emitPrologue()

	rpo := fu.CFG.ReversePostOrder()
	for _, id := range rpo {
		g.blockLabel[id] = fu.Name + "$" + id
	}
	for _, id := range rpo {
		block := fu.CFG.Blocks[id]
		s.MarkLabel(g.blockLabel[id])
		g.emitBlock(block)
	}

	return nil
}

type funcGen struct {
	s          *stream.InstructionStream
	asm        *arm64asm.Assembler
	fu         *FunctionUnit
	blockLabel map[string]string
	labelSeq   int
}

// newLabel mints a function-unique label for control flow synthesized
// within expression codegen (short-circuit AND/OR, §4.6) rather than by
// the CFG builder.
func (g *funcGen) newLabel(tag string) string {
	g.labelSeq++
	return g.fu.Name + "$" + tag + "$" + strconv.Itoa(g.labelSeq)
}

// emitPrologue emits STP FP/LR, MOV FP,SP, SUB SP,#frameBytes — the same
// shape as compileFuncArm64's prologue, generalized to the allocator's
// frame size instead of "len(f.Locals)".
func (g *funcGen) emitPrologue() {
	g.s.EmitScalar(g.asm, func(a *arm64asm.Assembler) {
		a.Stp(arm64asm.FP, arm64asm.LR, arm64asm.SP, -16)
		a.MovRR(arm64asm.FP, arm64asm.SP)
		if g.fu.Frame.FrameBytes > 0 {
			if g.fu.Frame.FrameBytes < 4096 {
				a.SubImm(arm64asm.SP, arm64asm.SP, uint32(g.fu.Frame.FrameBytes))
			} else {
				a.LoadImm64Compact(arm64asm.X16, uint64(g.fu.Frame.FrameBytes))
				a.SubRR(arm64asm.SP, arm64asm.SP, arm64asm.X16)
			}
		}
	})
	for _, reg := range g.fu.Alloc.CalleeSavedUsed {
		g.emitPush(regNumber(reg.Name))
	}
	g.bindParams()
}

// bindParams moves each incoming argument out of its ABI register (X0.. for
// a free function, or X0 = _this followed by X1.. for a method, per AAPCS64)
// into wherever the allocator placed it — a different register, or a spill
// slot — mirroring the way loadVar/storeVar already resolve every other
// variable reference (§4.4/§4.5).
func (g *funcGen) bindParams() {
	argRegs := []int{arm64asm.X0, arm64asm.X1, arm64asm.X2, arm64asm.X3, arm64asm.X4, arm64asm.X5, arm64asm.X6, arm64asm.X7}
	idx := 0
	if g.fu.ClassName != "" && idx < len(argRegs) {
		g.storeVar("_this", argRegs[idx])
		idx++
	}
	for _, name := range g.fu.ParamNames {
		if idx >= len(argRegs) {
			break
		}
		g.storeVar(name, argRegs[idx])
		idx++
	}
}

func (g *funcGen) emitEpilogue() {
	for i := len(g.fu.Alloc.CalleeSavedUsed) - 1; i >= 0; i-- {
		g.emitPop(regNumber(g.fu.Alloc.CalleeSavedUsed[i].Name))
	}
	g.s.EmitScalar(g.asm, func(a *arm64asm.Assembler) {
		if g.fu.Frame.FrameBytes > 0 {
			if g.fu.Frame.FrameBytes < 4096 {
				a.AddImm(arm64asm.SP, arm64asm.SP, uint32(g.fu.Frame.FrameBytes))
			} else {
				a.LoadImm64Compact(arm64asm.X16, uint64(g.fu.Frame.FrameBytes))
				a.AddRR(arm64asm.SP, arm64asm.SP, arm64asm.X16)
			}
		}
		a.Ldp(arm64asm.FP, arm64asm.LR, arm64asm.SP, 16)
		a.Ret()
	})
}

func (g *funcGen) emitPush(reg int) {
	g.s.EmitScalar(g.asm, func(a *arm64asm.Assembler) {
		a.Str(reg, arm64asm.SP, 0)
		a.SubImm(arm64asm.SP, arm64asm.SP, 16)
	})
}

func (g *funcGen) emitPop(reg int) {
	g.s.EmitScalar(g.asm, func(a *arm64asm.Assembler) {
		a.AddImm(arm64asm.SP, arm64asm.SP, 16)
		a.Ldr(reg, arm64asm.SP, 0)
	})
}

// emitTrivialAccessor implements §4.2's "RESULTIS SELF.member" fast path:
// a single LDR from the _this pointer, no frame at all. "RESULTIS SELF"
// (the analyzer's ThisPointerSentinel, "_this_ptr") already has its result
// in X0 and emits the RET alone.
func (g *funcGen) emitTrivialAccessor() {
	g.s.EmitScalar(g.asm, func(a *arm64asm.Assembler) {
		if g.fu.AccessedMemberName != "_this_ptr" {
			a.Ldr(arm64asm.X0, arm64asm.X0, g.memberOffset(g.fu.AccessedMemberName))
		}
		a.Ret()
	})
}

// emitTrivialSetter implements the matching "member := value" fast path.
func (g *funcGen) emitTrivialSetter() {
	g.s.EmitScalar(g.asm, func(a *arm64asm.Assembler) {
		a.Str(arm64asm.X1, arm64asm.X0, g.memberOffset(g.fu.AccessedMemberName))
		a.Ret()
	})
}

// memberOffset resolves name's byte offset within g.fu.ClassName's instance
// layout (§3 ClassTableEntry.MemberVariables), via the class table wired in
// by internal/compiler. ThisPointerSentinel ("RESULTIS SELF") needs no
// offset at all; this is unreachable for that case since the caller only
// asks for a real field name.
func (g *funcGen) memberOffset(name string) int {
	return g.memberOffsetIn(g.fu.ClassName, name)
}

// memberOffsetIn is memberOffset generalized to an explicit owning class,
// for member accesses on a receiver that isn't the current method's own
// SELF (§4.2 member access).
func (g *funcGen) memberOffsetIn(className, name string) int {
	if g.fu.Classes == nil {
		return 0
	}
	entry, ok := g.fu.Classes.Entry(className)
	if !ok {
		return 0
	}
	mv, ok := entry.MemberVariables[name]
	if !ok {
		return 0
	}
	return mv.Offset
}

func (g *funcGen) emitBlock(b *cfg.BasicBlock) {
	for _, stmt := range b.Statements {
		g.emitStmt(stmt)
	}
	g.emitTerminator(b)
}

func (g *funcGen) emitTerminator(b *cfg.BasicBlock) {
	if last := lastStmt(b); last != nil && last.Kind == ast.SwitchOnStmt {
		g.emitSwitchDispatch(b, last)
		return
	}
	switch len(b.Successors) {
	case 0:
		if b.IsExit {
			g.emitEpilogue()
		}
	case 1:
		g.s.EmitBranch(g.asm, g.blockLabel[b.Successors[0]], false)
	case 2:
		// emitStmt already evaluated the block's condition-bearing last
		// statement into flags (CMP), uniformly leaving Successors[0] as the
		// condition-true edge across every construct (IF/WHILE/FOR/REPEAT,
		// including REPEATUNTIL whose successor order the builder documents
		// as [exit, loop-back] — exit is exactly the true edge there too).
		g.s.EmitCondBranch(g.asm, g.branchCond(b), g.blockLabel[b.Successors[0]])
		g.s.EmitBranch(g.asm, g.blockLabel[b.Successors[1]], false)
	}
}

// branchCond derives the condition code for a two-successor block from its
// last statement's comparison operator, defaulting to CondNE (the code left
// by emitCondition's CmpImm #0 fallback for non-comparison conditions).
func (g *funcGen) branchCond(b *cfg.BasicBlock) int {
	if len(b.Statements) == 0 {
		return arm64asm.CondNE
	}
	last := b.Statements[len(b.Statements)-1]
	if bop, ok := asComparison(condOf(last)); ok {
		return condCodeFor(bop.Op)
	}
	return arm64asm.CondNE
}

func lastStmt(b *cfg.BasicBlock) *ast.Node {
	if len(b.Statements) == 0 {
		return nil
	}
	return b.Statements[len(b.Statements)-1]
}

// emitSwitchDispatch lowers a SWITCHON header block (§4.3): one successor
// per stmt.Nodes entry, in the same order the CFG builder wired them, plus
// a trailing join successor when no CASE supplied a default label.
func (g *funcGen) emitSwitchDispatch(b *cfg.BasicBlock, stmt *ast.Node) {
	g.emitExpr(stmt.X, arm64asm.X9)
	defaultIdx := -1
	for i, c := range stmt.Nodes {
		if c.Kind == ast.DefaultLabel {
			defaultIdx = i
			continue
		}
		g.s.EmitScalar(g.asm, func(a *arm64asm.Assembler) {
			a.LoadImm64Compact(arm64asm.X10, uint64(c.IntVal))
			a.CmpRR(arm64asm.X9, arm64asm.X10)
		})
		g.s.EmitCondBranch(g.asm, arm64asm.CondEQ, g.blockLabel[b.Successors[i]])
	}
	if defaultIdx >= 0 {
		g.s.EmitBranch(g.asm, g.blockLabel[b.Successors[defaultIdx]], false)
		return
	}
	g.s.EmitBranch(g.asm, g.blockLabel[b.Successors[len(stmt.Nodes)]], false)
}

func regNumber(name string) int {
	n := 0
	for _, c := range name[1:] {
		n = n*10 + int(c-'0')
	}
	return n
}
