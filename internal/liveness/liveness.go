// Package liveness computes live-variable sets and live intervals over a
// function's CFG (component C7, §3/§4.4), feeding the register allocator.
//
// Grounded on the retrieved fkuehnel/golang-cfg regalloc.go computeLive: we
// keep its backward USE/DEF dataflow shape (IN[B] = USE[B] ∪ (OUT[B] \
// DEF[B])) and its "iterate over postorder until no change" fallback path,
// but drop the SCC-partitioned fast paths that file layers on top — this
// compiler's basic blocks are small enough that the unconditional iterative
// pass is the right trade.
package liveness

import (
	"sort"

	"github.com/tinyrange/bcplc/internal/ast"
	"github.com/tinyrange/bcplc/internal/cfg"
)

// Interval is a variable's live range expressed in monotonic instruction
// indices (§4.4), the unit the register allocator partitions on.
type Interval struct {
	Name         string
	Start        int
	End          int
	CrossesCall  bool
	IsFloat      bool
}

// Result is the liveness analysis output for one function.
type Result struct {
	LiveIn  map[string]map[string]bool
	LiveOut map[string]map[string]bool

	// BlockStart maps a block id to the monotonic index of its first
	// instruction, in reverse-postorder numbering; BlockEnd to the index
	// one past its last.
	BlockStart map[string]int
	BlockEnd   map[string]int

	Intervals []Interval
}

type blockSets struct {
	use map[string]bool
	def map[string]bool
}

// Analyze runs backward liveness dataflow over g, then derives merged live
// intervals per variable (§4.4).
func Analyze(g *cfg.ControlFlowGraph, floatVars map[string]bool) *Result {
	rpo := g.ReversePostOrder()

	sets := make(map[string]*blockSets, len(rpo))
	for _, id := range rpo {
		sets[id] = defUse(g.Blocks[id])
	}

	in := make(map[string]map[string]bool, len(rpo))
	out := make(map[string]map[string]bool, len(rpo))
	for _, id := range rpo {
		in[id] = map[string]bool{}
		out[id] = map[string]bool{}
	}

	for {
		changed := false
		for i := len(rpo) - 1; i >= 0; i-- {
			id := rpo[i]
			block := g.Blocks[id]
			newOut := map[string]bool{}
			for _, succ := range block.Successors {
				for v := range in[succ] {
					newOut[v] = true
				}
			}
			newIn := map[string]bool{}
			for v := range sets[id].use {
				newIn[v] = true
			}
			for v := range newOut {
				if !sets[id].def[v] {
					newIn[v] = true
				}
			}
			if !sameSet(newIn, in[id]) || !sameSet(newOut, out[id]) {
				changed = true
			}
			in[id] = newIn
			out[id] = newOut
		}
		if !changed {
			break
		}
	}

	blockStart := map[string]int{}
	blockEnd := map[string]int{}
	idx := 0
	firstUse := map[string]int{}
	lastUse := map[string]int{}
	crossesCall := map[string]bool{}

	for _, id := range rpo {
		block := g.Blocks[id]
		blockStart[id] = idx
		for v := range in[id] {
			recordTouch(firstUse, lastUse, v, idx)
		}
		for _, stmt := range block.Statements {
			isCall := isCallStmt(stmt)
			defs, uses := defUse1(stmt)
			for v := range uses {
				recordTouch(firstUse, lastUse, v, idx)
			}
			for v := range defs {
				recordTouch(firstUse, lastUse, v, idx)
			}
			if isCall {
				for v := range out[id] {
					crossesCall[v] = true
				}
			}
			idx++
		}
		for v := range out[id] {
			recordTouch(firstUse, lastUse, v, idx)
		}
		blockEnd[id] = idx
	}

	names := make([]string, 0, len(firstUse))
	for v := range firstUse {
		names = append(names, v)
	}
	sort.Strings(names)

	intervals := make([]Interval, 0, len(names))
	for _, v := range names {
		intervals = append(intervals, Interval{
			Name:        v,
			Start:       firstUse[v],
			End:         lastUse[v],
			CrossesCall: crossesCall[v],
			IsFloat:     floatVars[v],
		})
	}

	return &Result{
		LiveIn:     in,
		LiveOut:    out,
		BlockStart: blockStart,
		BlockEnd:   blockEnd,
		Intervals:  intervals,
	}
}

func recordTouch(first, last map[string]int, name string, idx int) {
	if _, ok := first[name]; !ok {
		first[name] = idx
	}
	last[name] = idx
}

func sameSet(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

// defUse computes the classic per-block USE/DEF sets: USE is every
// variable read before any write to it within the block; DEF is every
// variable written anywhere in the block (§4.4).
func defUse(b *cfg.BasicBlock) *blockSets {
	s := &blockSets{use: map[string]bool{}, def: map[string]bool{}}
	for _, stmt := range b.Statements {
		defs, uses := defUse1(stmt)
		for v := range uses {
			if !s.def[v] {
				s.use[v] = true
			}
		}
		for v := range defs {
			s.def[v] = true
		}
	}
	return s
}

// defUse1 extracts the def/use sets of a single statement.
func defUse1(stmt *ast.Node) (defs, uses map[string]bool) {
	defs = map[string]bool{}
	uses = map[string]bool{}
	if stmt == nil {
		return
	}
	switch stmt.Kind {
	case ast.AssignStmt:
		if stmt.X != nil && stmt.X.Kind == ast.VarAccess {
			defs[stmt.X.Name] = true
		} else {
			collectUses(stmt.X, uses)
		}
		collectUses(stmt.Y, uses)
	case ast.LetDecl:
		defs[stmt.Name] = true
		collectUses(stmt.Y, uses)
	case ast.ReductionStmt:
		defs[stmt.Name] = true
		collectUses(stmt.X, uses)
		uses[stmt.Name] = true
	default:
		collectUses(stmt.X, uses)
		collectUses(stmt.Y, uses)
		collectUses(stmt.Z, uses)
		collectUses(stmt.Body, uses)
		for _, n := range stmt.Nodes {
			collectUses(n, uses)
		}
	}
	return
}

func collectUses(n *ast.Node, uses map[string]bool) {
	if n == nil {
		return
	}
	ast.Walk(n, func(node *ast.Node) bool {
		if node.Kind == ast.VarAccess {
			uses[node.Name] = true
		}
		return true
	})
}

func isCallStmt(stmt *ast.Node) bool {
	found := false
	ast.Walk(stmt, func(n *ast.Node) bool {
		switch n.Kind {
		case ast.FuncCall, ast.MethodCall, ast.SuperCall, ast.RoutineCallStmt:
			found = true
		}
		return true
	})
	return found
}
