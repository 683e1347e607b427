package analyzer

import "github.com/tinyrange/bcplc/internal/ast"

// EvaluateConstantExpression implements evaluate_constant_expression
// (§4.2): recognizes integer literals, MANIFEST symbol references, and
// folds +, -, *, /, |, OR. It is pure — the same AST input yields the same
// (value, ok) regardless of invocation order (§8 property 10) because it
// only reads constManifests, never mutates analyzer state.
func (a *Analyzer) EvaluateConstantExpression(n *ast.Node) (int64, bool) {
	if n == nil {
		return 0, false
	}
	switch n.Kind {
	case ast.IntLit:
		return n.IntVal, true

	case ast.VarAccess:
		if v, ok := a.constManifests[n.Name]; ok {
			return v, true
		}
		return 0, false

	case ast.UnaryOp:
		if n.UOp == ast.OpNeg {
			if v, ok := a.EvaluateConstantExpression(n.X); ok {
				return -v, true
			}
		}
		return 0, false

	case ast.BinaryOp:
		lv, lok := a.EvaluateConstantExpression(n.X)
		rv, rok := a.EvaluateConstantExpression(n.Y)
		if !lok || !rok {
			return 0, false
		}
		switch n.Op {
		case ast.OpAdd:
			return lv + rv, true
		case ast.OpSub:
			return lv - rv, true
		case ast.OpMul:
			return lv * rv, true
		case ast.OpDiv:
			if rv == 0 {
				return 0, false
			}
			return lv / rv, true
		case ast.OpBitOr, ast.OpLogOr:
			return lv | rv, true
		case ast.OpBitAnd, ast.OpLogAnd:
			return lv & rv, true
		}
		return 0, false
	}
	return 0, false
}
