// Package cfg implements the Control-Flow Graph and CFG Builder (component
// C6, §3/§4.3): lowering AST statements into basic blocks, including
// high-level loop and reduction expansion.
//
// Grounded on the teacher's ir.go Compiler, whose compileStmt dispatch
// tracks labelSeq/breaks/continues stacks while lowering structured control
// flow to a linear jump-target IR; here the same per-construct lowering is
// generalized from "linear code with jump targets" to explicit blocks with
// successor edges, per the spec's CFG contract. Back-pointers follow the §9
// design note: predecessors are derived on demand from the successor map,
// never stored as a mutable field, so AddEdge only ever updates one side.
package cfg

import (
	"fmt"

	"github.com/tinyrange/bcplc/internal/ast"
)

// BasicBlock is a maximal straight-line statement sequence (§3).
type BasicBlock struct {
	ID              string
	LabelName       string
	Statements      []*ast.Node
	Successors      []string
	IsEntry         bool
	IsExit          bool
	IsLoopHeader    bool
	IsIncrementBlock bool
	LoopVariable    string
}

// Append adds a statement to the block.
func (b *BasicBlock) Append(stmt *ast.Node) {
	b.Statements = append(b.Statements, stmt)
}

// Terminator returns the block's control-flow terminator statement, if its
// last statement is one (§3 invariant: at most one, always last).
func (b *BasicBlock) Terminator() *ast.Node {
	if len(b.Statements) == 0 {
		return nil
	}
	last := b.Statements[len(b.Statements)-1]
	if ast.IsControlFlowTerminator(last.Kind) {
		return last
	}
	return nil
}

// ControlFlowGraph is one function/routine/method's CFG (§3).
type ControlFlowGraph struct {
	FunctionName string
	Blocks       map[string]*BasicBlock
	EntryBlock   string
	ExitBlock    string

	blockIDCounter int
	order          []string // block creation order, used for deterministic RPO fallback
}

func newCFG(functionName string) *ControlFlowGraph {
	return &ControlFlowGraph{FunctionName: functionName, Blocks: make(map[string]*BasicBlock)}
}

// NewBlock allocates a fresh block with an auto-generated id
// "{func}_{prefix}_{n}".
func (g *ControlFlowGraph) NewBlock(prefix string) *BasicBlock {
	id := fmt.Sprintf("%s_%s_%d", g.FunctionName, prefix, g.blockIDCounter)
	g.blockIDCounter++
	b := &BasicBlock{ID: id}
	g.Blocks[id] = b
	g.order = append(g.order, id)
	return b
}

// AddEdge adds a successor edge from -> to. Only the successor side is
// mutated; predecessors are always derived (see Predecessors).
func (g *ControlFlowGraph) AddEdge(from, to string) {
	b, ok := g.Blocks[from]
	if !ok {
		return
	}
	for _, s := range b.Successors {
		if s == to {
			return
		}
	}
	b.Successors = append(b.Successors, to)
}

// Predecessors computes, on demand, every block with an edge into id.
func (g *ControlFlowGraph) Predecessors(id string) []string {
	var preds []string
	for _, bid := range g.order {
		b := g.Blocks[bid]
		for _, s := range b.Successors {
			if s == id {
				preds = append(preds, bid)
				break
			}
		}
	}
	return preds
}

// ReversePostOrder returns block ids in RPO starting at EntryBlock, the
// traversal order §4.6 codegen and §4.4 liveness both specify.
func (g *ControlFlowGraph) ReversePostOrder() []string {
	visited := make(map[string]bool)
	var post []string
	var visit func(id string)
	visit = func(id string) {
		if id == "" || visited[id] {
			return
		}
		visited[id] = true
		b := g.Blocks[id]
		if b == nil {
			return
		}
		for _, s := range b.Successors {
			visit(s)
		}
		post = append(post, id)
	}
	visit(g.EntryBlock)
	// Reverse post to get RPO.
	rpo := make([]string, len(post))
	for i, id := range post {
		rpo[len(post)-1-i] = id
	}
	// Any unreached blocks (shouldn't normally happen) appended deterministically.
	for _, bid := range g.order {
		if !visited[bid] {
			rpo = append(rpo, bid)
		}
	}
	return rpo
}
