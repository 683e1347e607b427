package analyzer

import (
	"github.com/tinyrange/bcplc/internal/ast"
	"github.com/tinyrange/bcplc/internal/diag"
	"github.com/tinyrange/bcplc/internal/symtab"
	"github.com/tinyrange/bcplc/internal/types"
)

// walkStmt recursively type-checks and annotates a statement and its
// children, recording call/allocation effects on m.
func (a *Analyzer) walkStmt(n *ast.Node, m *FunctionMetrics) {
	if n == nil {
		return
	}
	switch n.Kind {
	case ast.Block:
		a.Symbols.PushScope()
		for _, s := range n.Nodes {
			a.walkStmt(s, m)
		}
		a.Symbols.PopScope()

	case ast.IfStmt, ast.UnlessStmt:
		a.inferExpr(n.X, m)
		a.walkStmt(n.Y, m)

	case ast.TestStmt:
		a.inferExpr(n.X, m)
		a.walkStmt(n.Y, m)
		a.walkStmt(n.Z, m)

	case ast.WhileStmt, ast.UntilStmt, ast.RepeatWhileStmt, ast.RepeatUntilStmt:
		a.inferExpr(n.X, m)
		a.walkStmt(n.Body, m)

	case ast.ForStmt:
		a.declareLocal(n.Name, types.BaseInteger, m)
		a.inferExpr(n.X, m)
		a.inferExpr(n.Y, m)
		if n.Z != nil {
			a.inferExpr(n.Z, m)
		}
		if v, ok := a.EvaluateConstantExpression(n.Y); ok {
			n.IsEndConstant = true
			n.ConstEndValue = v
		}
		a.walkStmt(n.Body, m)

	case ast.ForEachVecStmt, ast.ForEachListStmt:
		a.inferExpr(n.X, m)
		elemType := a.forEachElementType(n.X)
		a.declareLocal(n.Name, elemType, m)
		a.walkStmt(n.Body, m)

	case ast.ForEachDestructureStmt:
		a.inferExpr(n.X, m)
		a.declareLocal(n.Name, types.BaseInteger, m)
		if n.Params != nil && len(n.Params) > 0 {
			a.declareLocal(n.Params[0].Name, types.BaseInteger, m)
		}
		a.walkStmt(n.Body, m)

	case ast.ReductionStmt:
		a.inferExpr(n.X, m)
		a.inferExpr(n.Y, m)

	case ast.SwitchOnStmt:
		a.inferExpr(n.X, m)
		for _, c := range n.Nodes {
			if c.Kind == ast.CaseLabel {
				if _, ok := a.EvaluateConstantExpression(c.X); !ok {
					a.Errors.Add(diag.PhaseAnalyzer, a.currentFunction, "CASE label is not a compile-time constant")
				}
			}
			a.walkStmt(c.Body, m)
		}

	case ast.GotoStmt, ast.BreakStmt, ast.LoopStmt, ast.FinishStmt, ast.EndCaseStmt:
		// no operand to infer

	case ast.ReturnStmt:
		if n.X != nil {
			a.inferExpr(n.X, m)
		}

	case ast.ResultIsStmt:
		if n.X != nil {
			t := a.inferExpr(n.X, m)
			if m.RetType == types.BaseInteger && t.Base() == types.BaseFloat {
				m.RetType = types.BaseFloat
			}
		}

	case ast.AssignStmt:
		rt := a.inferExpr(n.Y, m)
		a.checkConstMutation(n.X, m)
		a.inferExpr(n.X, m)
		if n.X != nil && n.X.Kind == ast.VarAccess {
			if sym, ok := a.Symbols.Lookup(n.X.Name); ok && sym.Type.Base() == types.BaseUnknown {
				sym.Type = rt
				m.VarTypes[n.X.Name] = rt
			}
		}

	case ast.RoutineCallStmt:
		a.inferExpr(n, m)

	case ast.LabelTargetStmt:
		a.walkStmt(n.Body, m)

	case ast.DeferStmt:
		a.walkStmt(n.Body, m)

	case ast.LetDecl:
		t := types.BaseUnknown
		if n.Y != nil {
			t = a.inferExpr(n.Y, m)
		}
		owns := n.Y != nil && ast.IsAllocationExpr(n.Y.Kind)
		a.Symbols.Declare(&symtab.Symbol{Name: n.Name, Kind: symtab.LocalVar, Type: t, FunctionContext: a.currentFunction, OwnsHeapMemory: owns})
		m.VarTypes[n.Name] = t

	case ast.RetainStmt:
		if sym, ok := a.Symbols.Lookup(n.Name); ok {
			sym.OwnsHeapMemory = true
		}
	case ast.RemanageStmt:
		if sym, ok := a.Symbols.Lookup(n.Name); ok {
			sym.OwnsHeapMemory = false
		}
	}
}

func (a *Analyzer) declareLocal(name string, t types.VarType, m *FunctionMetrics) {
	if name == "" {
		return
	}
	a.Symbols.Declare(&symtab.Symbol{Name: name, Kind: symtab.LocalVar, Type: t, FunctionContext: a.currentFunction})
	m.VarTypes[name] = t
}

func (a *Analyzer) forEachElementType(collection *ast.Node) types.VarType {
	t := collection.Type
	if t.Container() == types.List || t.Container() == types.Vec {
		elem := t.Dereference().WithContainer(0)
		if elem.Base() == types.BaseFloat {
			return types.BaseFloat
		}
		return types.BaseInteger
	}
	return types.BaseInteger
}

func (a *Analyzer) checkConstMutation(lhs *ast.Node, m *FunctionMetrics) {
	if lhs == nil || lhs.Kind != ast.VarAccess {
		return
	}
	if sym, ok := a.Symbols.Lookup(lhs.Name); ok && sym.Type.IsConst() {
		a.Errors.Add(diag.PhaseAnalyzer, a.currentFunction, "mutating function called on a CONST %s", sym.Type)
	}
}

// inferExpr implements infer_expression_type (§4.2 Pass 2): a table of
// handlers dispatched on AST NodeType, annotating n.Type and returning it.
func (a *Analyzer) inferExpr(n *ast.Node, m *FunctionMetrics) types.VarType {
	if n == nil {
		return types.BaseUnknown
	}
	var t types.VarType
	switch n.Kind {
	case ast.IntLit:
		t = types.BaseInteger
	case ast.FloatLit:
		t = types.BaseFloat
	case ast.StringLit:
		t = types.BaseString

	case ast.VarAccess:
		t = a.inferVarAccess(n)

	case ast.ThisRef, ast.SelfRef:
		t = types.BaseObject.WithContainer(types.PointerTo)

	case ast.FuncCall:
		t = a.inferFuncCall(n, m)
	case ast.MethodCall:
		t = a.inferMethodCall(n, m)
	case ast.SuperCall:
		t = a.inferSuperCall(n, m)

	case ast.BinaryOp:
		t = a.inferBinaryOp(n, m)
	case ast.UnaryOp:
		t = a.inferUnaryOp(n, m)

	case ast.VecLit, ast.PairsLit, ast.ListLit, ast.TableLit:
		t = a.inferCollection(n, m)

	case ast.MemberAccess:
		t = a.inferMemberAccess(n, m)
	case ast.IndexAccess:
		a.inferExpr(n.X, m)
		a.inferExpr(n.Y, m)
		elem := n.X.Type.Dereference().WithContainer(0)
		t = elem

	case ast.NewExpr:
		t = types.BaseObject.WithContainer(types.PointerTo)
		if m != nil {
			m.PerformsHeapAllocation = true
		}
		for _, arg := range n.Nodes {
			a.inferExpr(arg, m)
		}

	case ast.AllocExpr:
		t = n.Type
		if m != nil {
			m.PerformsHeapAllocation = true
		}

	case ast.CondExpr:
		a.inferExpr(n.X, m)
		tY := a.inferExpr(n.Y, m)
		tZ := a.inferExpr(n.Z, m)
		t = tY
		if tY.Base() == types.BaseFloat || tZ.Base() == types.BaseFloat {
			t = types.BaseFloat
		}

	case ast.ValofExpr:
		a.walkStmt(n.Body, m)
		t = types.BaseInteger
	case ast.FloatValofExpr:
		a.walkStmt(n.Body, m)
		t = types.BaseFloat

	case ast.TypeOfExpr:
		inner := a.inferExpr(n.X, m)
		n.StrVal = inner.String()
		t = types.BaseString

	default:
		t = types.BaseUnknown
	}
	n.Type = t
	return t
}

func (a *Analyzer) inferVarAccess(n *ast.Node) types.VarType {
	if sym, ok := a.Symbols.Lookup(n.Name); ok {
		return sym.Type
	}
	if v, ok := a.constManifests[n.Name]; ok {
		n.IntVal = v
		return types.BaseInteger
	}
	return types.BaseUnknown
}

// simdConstructors maps a value-type constructor's call name (e.g.
// "PAIR(1,2)") to the container it builds (§4.2/§4.6 value-type
// construction). These are synthetic calls, not user-defined functions —
// recognized by name the same way the CFG builder's "$UBFX" pseudo-call is.
var simdConstructors = map[string]types.VarType{
	"PAIR":  types.Pair,
	"FPAIR": types.FPair,
	"QUAD":  types.Quad,
	"FQUAD": types.FQuad,
}

func (a *Analyzer) inferFuncCall(n *ast.Node, m *FunctionMetrics) types.VarType {
	if container, ok := simdConstructors[n.Name]; ok {
		base := types.BaseInteger
		if container == types.FPair || container == types.FQuad {
			base = types.BaseFloat
		}
		for _, arg := range n.Nodes {
			a.inferExpr(arg, m)
		}
		return base.WithContainer(container)
	}
	if m != nil {
		m.IsLeaf = false
		m.callees = append(m.callees, n.Name)
	}
	for _, arg := range n.Nodes {
		argT := a.inferExpr(arg, m)
		if m != nil {
			a.propagateParamTypeFromArg(n.Name, arg, argT)
		}
	}
	if fm, ok := a.Metrics[n.Name]; ok {
		return fm.RetType
	}
	return types.BaseInteger
}

func (a *Analyzer) inferMethodCall(n *ast.Node, m *FunctionMetrics) types.VarType {
	if m != nil {
		m.IsLeaf = false
	}
	recvClass := a.classOf(n.X, m)
	for _, arg := range n.Nodes {
		a.inferExpr(arg, m)
	}
	if a.Classes != nil {
		if method, ok := a.Classes.FindMethod(recvClass, n.Name); ok {
			if fm, ok := a.Metrics[method.QualifiedName]; ok {
				return fm.RetType
			}
		} else {
			a.Errors.Add(diag.PhaseAnalyzer, a.currentFunction, "unknown method %s on class %s", n.Name, recvClass)
		}
	}
	return types.BaseInteger
}

func (a *Analyzer) inferSuperCall(n *ast.Node, m *FunctionMetrics) types.VarType {
	if m != nil {
		m.IsLeaf = false
	}
	if a.currentClass == "" {
		a.Errors.Add(diag.PhaseAnalyzer, a.currentFunction, "SUPER used outside a method")
		return types.BaseInteger
	}
	if entry, ok := a.Classes.Entry(a.currentClass); !ok || entry.ParentName == "" {
		a.Errors.Add(diag.PhaseAnalyzer, a.currentFunction, "SUPER in a class with no parent")
		return types.BaseInteger
	}
	if _, ok := a.Classes.FindParentMethod(a.currentClass, n.Name); !ok {
		a.Errors.Add(diag.PhaseAnalyzer, a.currentFunction, "missing parent method %s", n.Name)
	}
	for _, arg := range n.Nodes {
		a.inferExpr(arg, m)
	}
	return types.BaseInteger
}

// classOf implements the §4.2 member-access class resolution: (a) a
// variable's declared class, (b) _this/SELF -> current class, (c) NEW C ->
// C, (d) a function call's return-class hint.
func (a *Analyzer) classOf(recv *ast.Node, m *FunctionMetrics) string {
	if recv == nil {
		return a.currentClass
	}
	switch recv.Kind {
	case ast.ThisRef, ast.SelfRef:
		return a.currentClass
	case ast.NewExpr:
		return recv.Name
	case ast.VarAccess:
		if sym, ok := a.Symbols.Lookup(recv.Name); ok {
			return sym.ClassName
		}
	case ast.FuncCall:
		if fm, ok := a.Metrics[recv.Name]; ok {
			return fm.ClassName
		}
	}
	return recv.ClassName
}

func (a *Analyzer) inferMemberAccess(n *ast.Node, m *FunctionMetrics) types.VarType {
	recvClass := a.classOf(n.X, m)
	if n.X != nil {
		a.inferExpr(n.X, m)
	}
	n.ClassName = recvClass
	if a.Classes == nil {
		return types.BaseUnknown
	}
	entry, ok := a.Classes.Entry(recvClass)
	if !ok {
		return types.BaseUnknown
	}
	mv, ok := entry.MemberVariables[n.Name]
	if !ok {
		a.Errors.Add(diag.PhaseAnalyzer, a.currentFunction, "unknown member %s on class %s", n.Name, recvClass)
		return types.BaseUnknown
	}
	if !a.Classes.VisibilityAllowed(recvClass, mv.Visibility, a.currentClass) {
		a.Errors.Add(diag.PhaseAnalyzer, a.currentFunction, "member %s of class %s is not accessible here", n.Name, recvClass)
	}
	return mv.Type
}

func (a *Analyzer) inferCollection(n *ast.Node, m *FunctionMetrics) types.VarType {
	if m != nil {
		m.PerformsHeapAllocation = true
	}
	var container types.VarType
	switch n.Kind {
	case ast.VecLit:
		container = types.Vec
	case ast.PairsLit:
		container = types.Pairs
	case ast.ListLit:
		container = types.List
	case ast.TableLit:
		container = types.Table
	}
	elemBase := types.BaseInteger
	for _, e := range n.Nodes {
		t := a.inferExpr(e, m)
		if t.Base() == types.BaseFloat {
			elemBase = types.BaseFloat
		}
	}
	if len(n.Nodes) > 0 {
		n.HasConstSize = true
		n.ConstSize = len(n.Nodes)
	} else {
		n.HasConstSize = true
		n.ConstSize = 0
	}
	return elemBase.WithContainer(container)
}

func (a *Analyzer) propagateParamTypeFromArg(funcName string, arg *ast.Node, argT types.VarType) {
	fm, ok := a.Metrics[funcName]
	if !ok {
		return
	}
	for i, pn := range fm.ParamNames {
		if arg.Kind == ast.VarAccess && arg.Name == pn {
			if fm.ParamTypes[i].Base() == types.BaseUnknown {
				fm.ParamTypes[i] = argT
			}
		}
	}
}
