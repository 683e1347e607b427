package cfg

import "github.com/tinyrange/bcplc/internal/ast"

// lowerReduction implements §4.3 MIN/MAX/SUM reduction lowering. stmt.X is
// the source collection, stmt.Name the result variable, stmt.RedOp the
// reduction kind. When the element type is a SIMD-eligible pair/quad value
// (stmt.Type.IsSIMDValue()), the loop body holds a single ReductionStmt
// tagged StrVal "pairwise", which codegen lowers to one NEON lane-wise op
// per element; no separate lane names are carried. Otherwise the
// ReductionStmt is tagged "scalar" and accumulates one element per
// iteration with scalar ops.
func (b *Builder) lowerReduction(stmt *ast.Node) {
	coll := stmt.X
	resultName := stmt.Name

	b.current.Append(&ast.Node{
		Kind: ast.AssignStmt,
		X:    &ast.Node{Kind: ast.VarAccess, Name: resultName},
		Y:    identityFor(stmt.RedOp),
	})

	if coll.Kind == ast.VecLit && coll.HasConstSize && coll.ConstSize == 0 {
		return // empty collection; result stays at identity
	}

	vecName := coll.Name
	if coll.Kind != ast.VarAccess {
		vecName = b.newTemp("reduce_vec")
		b.current.Append(&ast.Node{Kind: ast.AssignStmt, X: &ast.Node{Kind: ast.VarAccess, Name: vecName}, Y: coll})
	}

	var lenExpr *ast.Node
	if coll.HasConstSize {
		lenExpr = &ast.Node{Kind: ast.IntLit, IntVal: int64(coll.ConstSize)}
	} else {
		lenName := b.newTemp("reduce_len")
		b.current.Append(&ast.Node{
			Kind: ast.AssignStmt,
			X:    &ast.Node{Kind: ast.VarAccess, Name: lenName},
			Y:    &ast.Node{Kind: ast.UnaryOp, UOp: ast.OpLen, X: &ast.Node{Kind: ast.VarAccess, Name: vecName}},
		})
		lenExpr = &ast.Node{Kind: ast.VarAccess, Name: lenName}
	}

	idxName := b.newTemp("reduce_idx")
	b.current.Append(&ast.Node{Kind: ast.AssignStmt, X: &ast.Node{Kind: ast.VarAccess, Name: idxName}, Y: &ast.Node{Kind: ast.IntLit, IntVal: 0}})

	header := b.cfg.NewBlock("reduce_header")
	header.IsLoopHeader = true
	bodyBlk := b.cfg.NewBlock("reduce_body")
	incBlk := b.cfg.NewBlock("reduce_inc")
	incBlk.IsIncrementBlock = true
	exit := b.cfg.NewBlock("reduce_exit")

	b.cfg.AddEdge(b.current.ID, header.ID)
	header.Append(&ast.Node{
		Kind: ast.IfStmt,
		X: &ast.Node{Kind: ast.BinaryOp, Op: ast.OpLt,
			X: &ast.Node{Kind: ast.VarAccess, Name: idxName}, Y: lenExpr},
	})
	b.cfg.AddEdge(header.ID, bodyBlk.ID)
	b.cfg.AddEdge(header.ID, exit.ID)

	elem := &ast.Node{Kind: ast.IndexAccess, X: &ast.Node{Kind: ast.VarAccess, Name: vecName}, Y: &ast.Node{Kind: ast.VarAccess, Name: idxName}}

	if stmt.Type.IsSIMDValue() {
		bodyBlk.Append(&ast.Node{
			Kind:  ast.ReductionStmt,
			Name:  resultName,
			RedOp: stmt.RedOp,
			X:     elem,
			Type:  stmt.Type,
			StrVal: "pairwise",
		})
	} else {
		bodyBlk.Append(&ast.Node{
			Kind:  ast.ReductionStmt,
			Name:  resultName,
			RedOp: stmt.RedOp,
			X:     elem,
			Type:  stmt.Type,
			StrVal: "scalar",
		})
	}
	b.cfg.AddEdge(bodyBlk.ID, incBlk.ID)

	incBlk.Append(&ast.Node{
		Kind: ast.AssignStmt,
		X:    &ast.Node{Kind: ast.VarAccess, Name: idxName},
		Y:    &ast.Node{Kind: ast.BinaryOp, Op: ast.OpAdd, X: &ast.Node{Kind: ast.VarAccess, Name: idxName}, Y: &ast.Node{Kind: ast.IntLit, IntVal: 1}},
	})
	b.cfg.AddEdge(incBlk.ID, header.ID)

	b.current = exit
}

func identityFor(op ast.ReductionOp) *ast.Node {
	switch op {
	case ast.ReduceMin:
		return &ast.Node{Kind: ast.IntLit, IntVal: 1<<63 - 1}
	case ast.ReduceMax:
		return &ast.Node{Kind: ast.IntLit, IntVal: -(1 << 63)}
	default: // ReduceSum
		return &ast.Node{Kind: ast.IntLit, IntVal: 0}
	}
}
