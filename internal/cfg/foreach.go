package cfg

import "github.com/tinyrange/bcplc/internal/ast"

// lowerForEachVec implements §4.3 FOREACH over VEC/STRING/TABLE:
// header/body/increment/exit, with three optimizations:
//   - a constant-size collection folds LEN into an immediate (no LEN temp);
//   - an empty VEC/TABLE/FTABLE literal elides the whole loop;
//   - a simple-variable collection reuses the pointer directly instead of
//     copying it into a temp.
func (b *Builder) lowerForEachVec(stmt *ast.Node) {
	coll := stmt.X
	if (coll.Kind == ast.VecLit || coll.Kind == ast.TableLit) && coll.HasConstSize && coll.ConstSize == 0 {
		return // entire loop elided; surrounding code stays contiguous
	}

	var vecName string
	if coll.Kind == ast.VarAccess {
		vecName = coll.Name
	} else {
		vecName = b.newTemp("forEach_vec")
		b.current.Append(&ast.Node{Kind: ast.AssignStmt, X: &ast.Node{Kind: ast.VarAccess, Name: vecName}, Y: coll})
	}

	var lenExpr *ast.Node
	if coll.HasConstSize {
		lenExpr = &ast.Node{Kind: ast.IntLit, IntVal: int64(coll.ConstSize)}
	} else if size, ok := b.constVecSizes[vecName]; ok {
		lenExpr = &ast.Node{Kind: ast.IntLit, IntVal: int64(size)}
	} else {
		lenName := b.newTemp("forEach_len")
		b.current.Append(&ast.Node{
			Kind: ast.AssignStmt,
			X:    &ast.Node{Kind: ast.VarAccess, Name: lenName},
			Y:    &ast.Node{Kind: ast.UnaryOp, UOp: ast.OpLen, X: &ast.Node{Kind: ast.VarAccess, Name: vecName}},
		})
		lenExpr = &ast.Node{Kind: ast.VarAccess, Name: lenName}
	}

	idxName := b.newTemp("forEach_idx")
	b.current.Append(&ast.Node{
		Kind: ast.AssignStmt,
		X:    &ast.Node{Kind: ast.VarAccess, Name: idxName},
		Y:    &ast.Node{Kind: ast.IntLit, IntVal: 0},
	})

	header := b.cfg.NewBlock("forEach_header")
	header.IsLoopHeader = true
	bodyBlk := b.cfg.NewBlock("forEach_body")
	incBlk := b.cfg.NewBlock("forEach_inc")
	incBlk.IsIncrementBlock = true
	exit := b.cfg.NewBlock("forEach_exit")

	b.cfg.AddEdge(b.current.ID, header.ID)
	header.Append(&ast.Node{
		Kind: ast.IfStmt,
		X: &ast.Node{Kind: ast.BinaryOp, Op: ast.OpLt,
			X: &ast.Node{Kind: ast.VarAccess, Name: idxName}, Y: lenExpr},
	})
	b.cfg.AddEdge(header.ID, bodyBlk.ID)
	b.cfg.AddEdge(header.ID, exit.ID)

	b.breakTargets = append(b.breakTargets, exit.ID)
	b.loopTargets = append(b.loopTargets, incBlk.ID)

	b.current = bodyBlk
	b.current.Append(&ast.Node{
		Kind: ast.AssignStmt,
		X:    &ast.Node{Kind: ast.VarAccess, Name: stmt.Name},
		Y:    &ast.Node{Kind: ast.IndexAccess, X: &ast.Node{Kind: ast.VarAccess, Name: vecName}, Y: &ast.Node{Kind: ast.VarAccess, Name: idxName}},
	})
	b.lowerStmt(stmt.Body)
	if b.current != nil && b.current.Terminator() == nil {
		b.cfg.AddEdge(b.current.ID, incBlk.ID)
	}

	incBlk.Append(&ast.Node{
		Kind: ast.AssignStmt,
		X:    &ast.Node{Kind: ast.VarAccess, Name: idxName},
		Y:    &ast.Node{Kind: ast.BinaryOp, Op: ast.OpAdd, X: &ast.Node{Kind: ast.VarAccess, Name: idxName}, Y: &ast.Node{Kind: ast.IntLit, IntVal: 1}},
	})
	b.cfg.AddEdge(incBlk.ID, header.ID)

	b.breakTargets = b.breakTargets[:len(b.breakTargets)-1]
	b.loopTargets = b.loopTargets[:len(b.loopTargets)-1]

	b.current = exit
}

// lowerForEachList implements §4.3 FOREACH over LIST: a collection-header
// temp (unless collection is a simple variable) and a cursor temp. Header
// compares cursor to null; body assigns loop_var := HD(cursor); advance
// sets cursor := TL!(cursor) (non-destructive) and edges back to header. An
// empty list literal elides the loop.
func (b *Builder) lowerForEachList(stmt *ast.Node) {
	coll := stmt.X
	if coll.Kind == ast.ListLit && coll.HasConstSize && coll.ConstSize == 0 {
		return
	}

	var headName string
	if coll.Kind == ast.VarAccess {
		headName = coll.Name
	} else {
		headName = b.newTemp("forEach_list")
		b.current.Append(&ast.Node{Kind: ast.AssignStmt, X: &ast.Node{Kind: ast.VarAccess, Name: headName}, Y: coll})
	}

	cursorName := b.newTemp("forEach_cursor")
	b.current.Append(&ast.Node{Kind: ast.AssignStmt, X: &ast.Node{Kind: ast.VarAccess, Name: cursorName}, Y: &ast.Node{Kind: ast.VarAccess, Name: headName}})

	header := b.cfg.NewBlock("forEachList_header")
	header.IsLoopHeader = true
	bodyBlk := b.cfg.NewBlock("forEachList_body")
	advBlk := b.cfg.NewBlock("forEachList_advance")
	advBlk.IsIncrementBlock = true
	exit := b.cfg.NewBlock("forEachList_exit")

	b.cfg.AddEdge(b.current.ID, header.ID)
	header.Append(&ast.Node{
		Kind: ast.IfStmt,
		X: &ast.Node{Kind: ast.BinaryOp, Op: ast.OpNeq,
			X: &ast.Node{Kind: ast.VarAccess, Name: cursorName}, Y: &ast.Node{Kind: ast.IntLit, IntVal: 0}},
	})
	b.cfg.AddEdge(header.ID, bodyBlk.ID)
	b.cfg.AddEdge(header.ID, exit.ID)

	b.breakTargets = append(b.breakTargets, exit.ID)
	b.loopTargets = append(b.loopTargets, advBlk.ID)

	headOp := ast.OpHead
	_ = headOp
	b.current = bodyBlk
	b.current.Append(&ast.Node{
		Kind: ast.AssignStmt,
		X:    &ast.Node{Kind: ast.VarAccess, Name: stmt.Name},
		Y:    &ast.Node{Kind: ast.UnaryOp, UOp: ast.OpHead, X: &ast.Node{Kind: ast.VarAccess, Name: cursorName}},
	})
	b.lowerStmt(stmt.Body)
	if b.current != nil && b.current.Terminator() == nil {
		b.cfg.AddEdge(b.current.ID, advBlk.ID)
	}

	advBlk.Append(&ast.Node{
		Kind: ast.AssignStmt,
		X:    &ast.Node{Kind: ast.VarAccess, Name: cursorName},
		Y:    &ast.Node{Kind: ast.UnaryOp, UOp: ast.OpTailBang, X: &ast.Node{Kind: ast.VarAccess, Name: cursorName}},
	})
	b.cfg.AddEdge(advBlk.ID, header.ID)

	b.breakTargets = b.breakTargets[:len(b.breakTargets)-1]
	b.loopTargets = b.loopTargets[:len(b.loopTargets)-1]

	b.current = exit
}

// lowerForEachDestructure implements the §4.3 destructuring
// `(X,Y) IN pairs_list` form: cursor as above; the body unpacks the node's
// packed 64-bit value into X = UBFX(v,0,32) and Y = UBFX(v,32,32).
func (b *Builder) lowerForEachDestructure(stmt *ast.Node) {
	coll := stmt.X
	cursorName := b.newTemp("forEach_pcursor")
	b.current.Append(&ast.Node{Kind: ast.AssignStmt, X: &ast.Node{Kind: ast.VarAccess, Name: cursorName}, Y: coll})

	header := b.cfg.NewBlock("forEachDestr_header")
	header.IsLoopHeader = true
	bodyBlk := b.cfg.NewBlock("forEachDestr_body")
	advBlk := b.cfg.NewBlock("forEachDestr_advance")
	advBlk.IsIncrementBlock = true
	exit := b.cfg.NewBlock("forEachDestr_exit")

	b.cfg.AddEdge(b.current.ID, header.ID)
	header.Append(&ast.Node{
		Kind: ast.IfStmt,
		X: &ast.Node{Kind: ast.BinaryOp, Op: ast.OpNeq,
			X: &ast.Node{Kind: ast.VarAccess, Name: cursorName}, Y: &ast.Node{Kind: ast.IntLit, IntVal: 0}},
	})
	b.cfg.AddEdge(header.ID, bodyBlk.ID)
	b.cfg.AddEdge(header.ID, exit.ID)

	b.breakTargets = append(b.breakTargets, exit.ID)
	b.loopTargets = append(b.loopTargets, advBlk.ID)

	xName := stmt.Name
	yName := ""
	if len(stmt.Params) > 0 {
		yName = stmt.Params[0].Name
	}
	packed := &ast.Node{Kind: ast.UnaryOp, UOp: ast.OpHead, X: &ast.Node{Kind: ast.VarAccess, Name: cursorName}}

	b.current = bodyBlk
	b.current.Append(&ast.Node{Kind: ast.AssignStmt, X: &ast.Node{Kind: ast.VarAccess, Name: xName},
		Y: &ast.Node{Kind: ast.FuncCall, Name: "$UBFX", Nodes: []*ast.Node{packed, {Kind: ast.IntLit, IntVal: 0}, {Kind: ast.IntLit, IntVal: 32}}}})
	if yName != "" {
		b.current.Append(&ast.Node{Kind: ast.AssignStmt, X: &ast.Node{Kind: ast.VarAccess, Name: yName},
			Y: &ast.Node{Kind: ast.FuncCall, Name: "$UBFX", Nodes: []*ast.Node{packed, {Kind: ast.IntLit, IntVal: 32}, {Kind: ast.IntLit, IntVal: 32}}}})
	}
	b.lowerStmt(stmt.Body)
	if b.current != nil && b.current.Terminator() == nil {
		b.cfg.AddEdge(b.current.ID, advBlk.ID)
	}

	advBlk.Append(&ast.Node{
		Kind: ast.AssignStmt,
		X:    &ast.Node{Kind: ast.VarAccess, Name: cursorName},
		Y:    &ast.Node{Kind: ast.UnaryOp, UOp: ast.OpTailBang, X: &ast.Node{Kind: ast.VarAccess, Name: cursorName}},
	})
	b.cfg.AddEdge(advBlk.ID, header.ID)

	b.breakTargets = b.breakTargets[:len(b.breakTargets)-1]
	b.loopTargets = b.loopTargets[:len(b.loopTargets)-1]

	b.current = exit
}

// lowerSwitchOn implements §4.3 SWITCHON: one header block (holds the
// cloned SwitchonStatement); one block per CASE; an optional default
// block; a join block for ENDCASE targets.
func (b *Builder) lowerSwitchOn(stmt *ast.Node) {
	header := b.current
	header.Append(stmt)

	join := b.cfg.NewBlock("switch_join")
	b.endcaseTargets = append(b.endcaseTargets, join.ID)

	var defaultID string
	for _, c := range stmt.Nodes {
		caseBlk := b.cfg.NewBlock("case")
		b.cfg.AddEdge(header.ID, caseBlk.ID)
		if c.Kind == ast.DefaultLabel {
			defaultID = caseBlk.ID
		}
		b.current = caseBlk
		b.lowerStmt(c.Body)
		if b.current != nil && b.current.Terminator() == nil {
			b.cfg.AddEdge(b.current.ID, join.ID)
		}
	}
	if defaultID != "" {
		b.cfg.AddEdge(header.ID, defaultID)
	} else {
		b.cfg.AddEdge(header.ID, join.ID)
	}

	b.endcaseTargets = b.endcaseTargets[:len(b.endcaseTargets)-1]
	b.current = join
}
