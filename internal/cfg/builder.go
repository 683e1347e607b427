package cfg

import (
	"fmt"

	"github.com/tinyrange/bcplc/internal/analyzer"
	"github.com/tinyrange/bcplc/internal/ast"
)

// gotoRef records a GOTO whose target label block isn't known yet; resolved
// after the whole body has been walked (§4.3).
type gotoRef struct {
	fromBlock string
	label     string
}

// Builder lowers one function body into a CFG at a time, tracking the
// stacks the spec names: break/loop/endcase targets, unresolved gotos, and
// the per-block owning-locals stack used for scope-exit cleanup.
type Builder struct {
	cfg *ControlFlowGraph

	current *BasicBlock

	breakTargets   []string
	loopTargets    []string
	endcaseTargets []string

	unresolvedGotos []gotoRef
	labelBlocks     map[string]string

	deferStmts []*ast.Node

	blockLocalsStack [][]string // per open Block scope: owning local var names, declaration order

	sammEnabled bool
	isLeafAllocFree bool

	constVecSizes map[string]int

	tempSeq int
}

// BuildFunction lowers decl's body into a CFG. metrics provides the leaf /
// performs-heap-allocation flags used to skip SAMM injection for
// allocation-free leaf functions (§4.3 Optimization).
func BuildFunction(functionName string, body *ast.Node, metrics *analyzer.FunctionMetrics, sammEnabled bool) (*ControlFlowGraph, error) {
	b := &Builder{
		cfg:           newCFG(functionName),
		labelBlocks:   make(map[string]string),
		sammEnabled:   sammEnabled,
		constVecSizes: make(map[string]int),
	}
	if metrics != nil {
		b.isLeafAllocFree = metrics.IsLeaf && !metrics.PerformsHeapAllocation
	}

	entry := b.cfg.NewBlock("entry")
	entry.IsEntry = true
	b.cfg.EntryBlock = entry.ID
	b.current = entry

	if body == nil {
		return nil, fmt.Errorf("missing function body for %s", functionName)
	}

	exit := b.cfg.NewBlock("exit")
	exit.IsExit = true
	b.cfg.ExitBlock = exit.ID

	b.lowerStmt(body)

	if b.current != nil && b.current.Terminator() == nil {
		b.cfg.AddEdge(b.current.ID, exit.ID)
	}

	if len(b.deferStmts) > 0 {
		cleanup := b.cfg.NewBlock("DeferCleanup")
		for i := len(b.deferStmts) - 1; i >= 0; i-- {
			cleanup.Append(b.deferStmts[i])
		}
		cleanup.Successors = []string{exit.ID}
		for id, blk := range b.cfg.Blocks {
			if id == cleanup.ID {
				continue
			}
			for i, s := range blk.Successors {
				if s == exit.ID {
					blk.Successors[i] = cleanup.ID
				}
			}
		}
	}

	if err := b.resolveGotos(); err != nil {
		return nil, err
	}
	return b.cfg, nil
}

func (b *Builder) resolveGotos() error {
	for _, g := range b.unresolvedGotos {
		target, ok := b.labelBlocks[g.label]
		if !ok {
			return fmt.Errorf("unresolved GOTO label %q", g.label)
		}
		b.cfg.AddEdge(g.fromBlock, target)
	}
	return nil
}

func (b *Builder) newTemp(prefix string) string {
	b.tempSeq++
	return fmt.Sprintf("_%s_%d", prefix, b.tempSeq)
}

// lowerStmt appends/branches stmt into the builder's current block,
// dispatching on its kind (§4.3).
func (b *Builder) lowerStmt(stmt *ast.Node) {
	if stmt == nil || b.current == nil {
		return
	}
	switch stmt.Kind {
	case ast.Block:
		b.lowerBlock(stmt)
	case ast.ValofExpr, ast.FloatValofExpr:
		b.lowerStmt(stmt.Body)
	case ast.IfStmt:
		b.lowerIf(stmt)
	case ast.UnlessStmt:
		b.lowerIf(negate(stmt))
	case ast.TestStmt:
		b.lowerTest(stmt)
	case ast.WhileStmt:
		b.lowerWhile(stmt)
	case ast.UntilStmt:
		b.lowerUntil(stmt)
	case ast.RepeatWhileStmt:
		b.lowerRepeatWhile(stmt)
	case ast.RepeatUntilStmt:
		b.lowerRepeatUntil(stmt)
	case ast.ForStmt:
		b.lowerFor(stmt)
	case ast.ForEachVecStmt:
		b.lowerForEachVec(stmt)
	case ast.ForEachListStmt:
		b.lowerForEachList(stmt)
	case ast.ForEachDestructureStmt:
		b.lowerForEachDestructure(stmt)
	case ast.ReductionStmt:
		b.lowerReduction(stmt)
	case ast.SwitchOnStmt:
		b.lowerSwitchOn(stmt)
	case ast.GotoStmt:
		b.unresolvedGotos = append(b.unresolvedGotos, gotoRef{fromBlock: b.current.ID, label: stmt.Name})
		b.current.Append(stmt)
		b.current = nil
	case ast.BreakStmt:
		b.emitCleanupAndTerminate(stmt, last(b.breakTargets))
	case ast.LoopStmt:
		b.emitCleanupAndTerminate(stmt, last(b.loopTargets))
	case ast.EndCaseStmt:
		b.emitCleanupAndTerminate(stmt, last(b.endcaseTargets))
	case ast.FinishStmt, ast.ReturnStmt, ast.ResultIsStmt:
		b.emitCleanupAndTerminate(stmt, b.cfg.ExitBlock)
	case ast.LabelTargetStmt:
		b.lowerLabelTarget(stmt)
	case ast.DeferStmt:
		b.deferStmts = append(b.deferStmts, stmt.Body)
	default:
		b.current.Append(stmt)
	}
}

func last(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}

func negate(unless *ast.Node) *ast.Node {
	return &ast.Node{Kind: ast.IfStmt, X: &ast.Node{Kind: ast.UnaryOp, UOp: ast.OpNot, X: unless.X}, Y: unless.Y}
}

// lowerBlock opens a scope, lowers each statement, and on normal
// fall-through emits cleanup for owning locals declared in this block, in
// reverse declaration order (§4.3 BlockStatement). If SAMM is active (and
// the function isn't leaf+alloc-free) it brackets the block with
// HeapManager_enter_scope/_exit_scope call-site markers instead.
func (b *Builder) lowerBlock(block *ast.Node) {
	b.blockLocalsStack = append(b.blockLocalsStack, nil)
	useSAMM := b.sammEnabled && !b.isLeafAllocFree
	if useSAMM {
		b.current.Append(&ast.Node{Kind: ast.RoutineCallStmt, Name: "HeapManager_enter_scope"})
	}

	for _, stmt := range block.Nodes {
		if stmt.Kind == ast.LetDecl && stmt.Y != nil && ast.IsAllocationExpr(stmt.Y.Kind) {
			top := len(b.blockLocalsStack) - 1
			b.blockLocalsStack[top] = append(b.blockLocalsStack[top], stmt.Name)
		}
		b.lowerStmt(stmt)
		if b.current == nil {
			break // diverged (RETURN/FINISH/etc within this block)
		}
	}

	top := len(b.blockLocalsStack) - 1
	locals := b.blockLocalsStack[top]
	b.blockLocalsStack = b.blockLocalsStack[:top]

	if b.current != nil {
		if useSAMM {
			b.current.Append(&ast.Node{Kind: ast.RoutineCallStmt, Name: "HeapManager_exit_scope"})
		} else {
			b.emitLegacyCleanup(locals)
		}
	}
}

// emitLegacyCleanup appends BCPL_FREE_LIST/FREEVEC/.RELEASE() calls for
// owning locals, reverse order, used only when SAMM is inactive (§4.3).
func (b *Builder) emitLegacyCleanup(locals []string) {
	for i := len(locals) - 1; i >= 0; i-- {
		name := locals[i]
		b.current.Append(&ast.Node{Kind: ast.RoutineCallStmt, Name: "$cleanup$", StrVal: name})
	}
}

// emitCleanupAndTerminate walks the live scope stack in reverse, emitting
// cleanup before the terminator, then terminates the current block with an
// edge to target (§5 "Acquisition of scoped resources").
func (b *Builder) emitCleanupAndTerminate(stmt *ast.Node, target string) {
	useSAMM := b.sammEnabled && !b.isLeafAllocFree
	for i := len(b.blockLocalsStack) - 1; i >= 0; i-- {
		if useSAMM {
			b.current.Append(&ast.Node{Kind: ast.RoutineCallStmt, Name: "HeapManager_exit_scope"})
		} else {
			b.emitLegacyCleanup(b.blockLocalsStack[i])
		}
	}
	b.current.Append(stmt)
	if target != "" {
		b.cfg.AddEdge(b.current.ID, target)
	}
	b.current = nil
}

func (b *Builder) lowerLabelTarget(stmt *ast.Node) {
	if b.current != nil && b.current.Terminator() == nil {
		labelBlk := b.cfg.NewBlock("label_" + stmt.Name)
		b.cfg.AddEdge(b.current.ID, labelBlk.ID)
		b.labelBlocks[stmt.Name] = labelBlk.ID
		b.current = labelBlk
	} else if b.current != nil {
		b.labelBlocks[stmt.Name] = b.current.ID
	} else {
		labelBlk := b.cfg.NewBlock("label_" + stmt.Name)
		b.labelBlocks[stmt.Name] = labelBlk.ID
		b.current = labelBlk
	}
	if stmt.Body != nil {
		b.lowerStmt(stmt.Body)
	}
}
