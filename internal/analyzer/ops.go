package analyzer

import (
	"github.com/tinyrange/bcplc/internal/ast"
	"github.com/tinyrange/bcplc/internal/diag"
	"github.com/tinyrange/bcplc/internal/types"
)

// inferBinaryOp implements the §4.2 binary-op typing rules: INTEGER+FLOAT
// promotes to FLOAT; comparisons return INTEGER (boolean 0/-1); equality on
// PAIR/QUAD/FQUAD requires identical types on both sides; ordering
// comparisons on PAIR/QUAD/FQUAD are rejected; PAIR/QUAD arithmetic follows
// the scalar-broadcast promotion table.
func (a *Analyzer) inferBinaryOp(n *ast.Node, m *FunctionMetrics) types.VarType {
	lt := a.inferExpr(n.X, m)
	rt := a.inferExpr(n.Y, m)

	if isComparison(n.Op) {
		return a.inferComparison(n, lt, rt)
	}

	if lt.IsSIMDValue() || rt.IsSIMDValue() {
		return a.inferSIMDArith(lt, rt)
	}

	if lt.Base() == types.BaseFloat || rt.Base() == types.BaseFloat {
		return types.BaseFloat
	}
	return types.BaseInteger
}

func isComparison(op ast.BinOp) bool {
	switch op {
	case ast.OpEq, ast.OpNeq, ast.OpLt, ast.OpGt, ast.OpLeq, ast.OpGeq:
		return true
	}
	return false
}

func (a *Analyzer) inferComparison(n *ast.Node, lt, rt types.VarType) types.VarType {
	simdL, simdR := lt.IsSIMDValue(), rt.IsSIMDValue()
	if simdL || simdR {
		if n.Op == ast.OpEq || n.Op == ast.OpNeq {
			if lt.Container() != rt.Container() {
				a.Errors.Add(diag.PhaseAnalyzer, a.currentFunction, "equality comparison requires both sides be the same PAIR/QUAD/FPAIR/FQUAD type")
			}
		} else {
			a.Errors.Add(diag.PhaseAnalyzer, a.currentFunction, "ordering comparison is not defined for PAIR/QUAD types")
		}
	}
	return types.BaseInteger
}

// inferSIMDArith implements the PAIR/QUAD/FPAIR/FQUAD promotion table of
// §4.2: same-container ops stay in that container; PAIR (+)/(-) INTEGER
// stays PAIR; PAIR (+)/(-) FLOAT promotes to FPAIR; FPAIR with
// FLOAT/INTEGER stays FPAIR; QUAD/FQUAD analogous.
func (a *Analyzer) inferSIMDArith(lt, rt types.VarType) types.VarType {
	lc, rc := lt.Container(), rt.Container()
	if lc == rc && lt.IsSIMDValue() {
		return lt
	}
	// scalar ⊕ vector or vector ⊕ scalar: find the vector side.
	vec, scalar := lt, rt
	if !lt.IsSIMDValue() {
		vec, scalar = rt, lt
	}
	switch vec.Container() {
	case types.Pair:
		if scalar.Base() == types.BaseFloat {
			return types.BaseFloat.WithContainer(types.FPair)
		}
		return types.BaseInteger.WithContainer(types.Pair)
	case types.Quad:
		if scalar.Base() == types.BaseFloat {
			return types.BaseFloat.WithContainer(types.FQuad)
		}
		return types.BaseInteger.WithContainer(types.Quad)
	case types.FPair:
		return types.BaseFloat.WithContainer(types.FPair)
	case types.FQuad:
		return types.BaseFloat.WithContainer(types.FQuad)
	}
	return vec
}

// inferUnaryOp implements §4.2's unary-op rules.
func (a *Analyzer) inferUnaryOp(n *ast.Node, m *FunctionMetrics) types.VarType {
	xt := a.inferExpr(n.X, m)
	switch n.UOp {
	case ast.OpAddrOf:
		return xt.WithContainer(types.PointerTo)
	case ast.OpDeref:
		return xt.Dereference()
	case ast.OpHead:
		if xt.Base() == types.BaseFloat {
			return types.BaseFloat
		}
		return types.BaseInteger
	case ast.OpTail, ast.OpTailBang:
		return xt
	case ast.OpLen:
		return types.BaseInteger
	case ast.OpFloatToInt:
		return types.BaseInteger
	case ast.OpIntToFloat:
		return types.BaseFloat
	case ast.OpNeg:
		return xt
	case ast.OpNot:
		return types.BaseInteger
	}
	return xt
}

// inferUnresolvedParameterTypes is the §4.2 parameter-type-inference
// sub-phase: unused parameters become NOTUSED; used parameters with
// UNKNOWN type get the function's return type. No type is propagated
// from arithmetic or assignment context.
func (a *Analyzer) inferUnresolvedParameterTypes(prog *ast.Node) {
	for _, decl := range prog.Nodes {
		switch decl.Kind {
		case ast.FunctionDecl, ast.RoutineDecl:
			a.resolveParams(decl, "")
		case ast.ClassDecl:
			for _, member := range decl.Members {
				if member.Kind == ast.FunctionDecl || member.Kind == ast.RoutineDecl {
					a.resolveParams(member, decl.Name)
				}
			}
		}
	}
}

func (a *Analyzer) resolveParams(decl *ast.Node, className string) {
	qualified := decl.Name
	if className != "" {
		qualified = className + "::" + decl.Name
	}
	m, ok := a.Metrics[qualified]
	if !ok {
		return
	}
	used := make(map[string]bool)
	ast.Walk(decl.Body, func(nd *ast.Node) bool {
		if nd.Kind == ast.VarAccess {
			used[nd.Name] = true
		}
		return true
	})
	for i, name := range m.ParamNames {
		if !used[name] {
			m.ParamTypes[i] = types.BaseNotUsed
			continue
		}
		if m.ParamTypes[i].Base() == types.BaseUnknown {
			m.ParamTypes[i] = m.RetType
		}
	}
}

// propagateLeafAndHeap iterates the call graph to a fixed point: a caller
// of an allocating callee becomes allocating itself (§4.2).
func (a *Analyzer) propagateLeafAndHeap() {
	changed := true
	for changed {
		changed = false
		for _, m := range a.Metrics {
			if m.PerformsHeapAllocation {
				continue
			}
			for _, callee := range m.callees {
				if cm, ok := a.Metrics[callee]; ok && cm.PerformsHeapAllocation {
					m.PerformsHeapAllocation = true
					changed = true
					break
				}
			}
		}
	}
}
