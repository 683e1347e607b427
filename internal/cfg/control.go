package cfg

import "github.com/tinyrange/bcplc/internal/ast"

// lowerIf implements §4.3 IF: condition block (holds the cloned IfStatement
// for codegen), then-block, join-block.
func (b *Builder) lowerIf(stmt *ast.Node) {
	cond := b.current
	cond.Append(stmt)

	thenBlk := b.cfg.NewBlock("then")
	join := b.cfg.NewBlock("join")

	b.cfg.AddEdge(cond.ID, thenBlk.ID)
	b.cfg.AddEdge(cond.ID, join.ID)

	b.current = thenBlk
	b.lowerStmt(stmt.Y)
	if b.current != nil && b.current.Terminator() == nil {
		b.cfg.AddEdge(b.current.ID, join.ID)
	}

	b.current = join
}

// lowerTest implements §4.3 TEST: condition, then, else, join — both
// branches flow to join unless terminated.
func (b *Builder) lowerTest(stmt *ast.Node) {
	cond := b.current
	cond.Append(stmt)

	thenBlk := b.cfg.NewBlock("then")
	elseBlk := b.cfg.NewBlock("else")
	join := b.cfg.NewBlock("join")

	b.cfg.AddEdge(cond.ID, thenBlk.ID)
	b.cfg.AddEdge(cond.ID, elseBlk.ID)

	b.current = thenBlk
	b.lowerStmt(stmt.Y)
	if b.current != nil && b.current.Terminator() == nil {
		b.cfg.AddEdge(b.current.ID, join.ID)
	}

	b.current = elseBlk
	b.lowerStmt(stmt.Z)
	if b.current != nil && b.current.Terminator() == nil {
		b.cfg.AddEdge(b.current.ID, join.ID)
	}

	b.current = join
}

// lowerWhile implements §4.3 WHILE: pre -> header -> body -> (back to
// header); header -> exit. break_targets <- exit, loop_targets <- header.
func (b *Builder) lowerWhile(stmt *ast.Node) {
	header := b.cfg.NewBlock("while_header")
	header.IsLoopHeader = true
	bodyBlk := b.cfg.NewBlock("while_body")
	exit := b.cfg.NewBlock("while_exit")

	b.cfg.AddEdge(b.current.ID, header.ID)
	header.Append(stmt)
	b.cfg.AddEdge(header.ID, bodyBlk.ID)
	b.cfg.AddEdge(header.ID, exit.ID)

	b.breakTargets = append(b.breakTargets, exit.ID)
	b.loopTargets = append(b.loopTargets, header.ID)

	b.current = bodyBlk
	b.lowerStmt(stmt.Body)
	if b.current != nil && b.current.Terminator() == nil {
		b.cfg.AddEdge(b.current.ID, header.ID)
	}

	b.breakTargets = b.breakTargets[:len(b.breakTargets)-1]
	b.loopTargets = b.loopTargets[:len(b.loopTargets)-1]

	b.current = exit
}

// lowerUntil is WHILE with the condition inverted (UNTIL loops while the
// condition is false).
func (b *Builder) lowerUntil(stmt *ast.Node) {
	b.lowerWhile(&ast.Node{Kind: ast.WhileStmt, X: &ast.Node{Kind: ast.UnaryOp, UOp: ast.OpNot, X: stmt.X}, Body: stmt.Body})
}

// lowerRepeatWhile implements REPEAT..WHILE (§4.3): body runs at least
// once, loops back while condition holds.
func (b *Builder) lowerRepeatWhile(stmt *ast.Node) {
	bodyBlk := b.cfg.NewBlock("repeat_body")
	condBlk := b.cfg.NewBlock("repeat_cond")
	exit := b.cfg.NewBlock("repeat_exit")

	b.cfg.AddEdge(b.current.ID, bodyBlk.ID)

	b.breakTargets = append(b.breakTargets, exit.ID)
	b.loopTargets = append(b.loopTargets, condBlk.ID)

	b.current = bodyBlk
	b.lowerStmt(stmt.Body)
	if b.current != nil && b.current.Terminator() == nil {
		b.cfg.AddEdge(b.current.ID, condBlk.ID)
	}

	condBlk.Append(stmt)
	b.cfg.AddEdge(condBlk.ID, bodyBlk.ID)
	b.cfg.AddEdge(condBlk.ID, exit.ID)

	b.breakTargets = b.breakTargets[:len(b.breakTargets)-1]
	b.loopTargets = b.loopTargets[:len(b.loopTargets)-1]

	b.current = exit
}

// lowerRepeatUntil implements REPEAT..UNTIL with edge order [exit,
// loop-back] so the block epilogue can emit BNE exit then B loop (§4.3).
func (b *Builder) lowerRepeatUntil(stmt *ast.Node) {
	bodyBlk := b.cfg.NewBlock("repeat_body")
	condBlk := b.cfg.NewBlock("repeat_cond")
	exit := b.cfg.NewBlock("repeat_exit")

	b.cfg.AddEdge(b.current.ID, bodyBlk.ID)

	b.breakTargets = append(b.breakTargets, exit.ID)
	b.loopTargets = append(b.loopTargets, condBlk.ID)

	b.current = bodyBlk
	b.lowerStmt(stmt.Body)
	if b.current != nil && b.current.Terminator() == nil {
		b.cfg.AddEdge(b.current.ID, condBlk.ID)
	}

	condBlk.Append(stmt)
	b.cfg.AddEdge(condBlk.ID, exit.ID)
	b.cfg.AddEdge(condBlk.ID, bodyBlk.ID)

	b.breakTargets = b.breakTargets[:len(b.breakTargets)-1]
	b.loopTargets = b.loopTargets[:len(b.loopTargets)-1]

	b.current = exit
}

// lowerFor implements §4.3 FOR: synthesizes init (unique_loop_variable_name
// := start), header, body, increment, exit blocks. The increment block
// (var := var + step, default 1) is flagged IsIncrementBlock. Constant
// folding for the end expression is annotated directly on the ForStatement
// node by the analyzer before this runs; this function only consumes it.
func (b *Builder) lowerFor(stmt *ast.Node) {
	if stmt.X == nil || stmt.Y == nil {
		panic("cfg: FOR statement missing start or end expression")
	}

	loopVar := stmt.Name
	initBlk := b.cfg.NewBlock("for_init")
	header := b.cfg.NewBlock("for_header")
	header.IsLoopHeader = true
	header.LoopVariable = loopVar
	bodyBlk := b.cfg.NewBlock("for_body")
	incBlk := b.cfg.NewBlock("for_inc")
	incBlk.IsIncrementBlock = true
	incBlk.LoopVariable = loopVar
	exit := b.cfg.NewBlock("for_exit")

	b.cfg.AddEdge(b.current.ID, initBlk.ID)
	initBlk.Append(&ast.Node{Kind: ast.AssignStmt, X: &ast.Node{Kind: ast.VarAccess, Name: loopVar}, Y: stmt.X})
	b.cfg.AddEdge(initBlk.ID, header.ID)

	header.Append(stmt)
	b.cfg.AddEdge(header.ID, bodyBlk.ID)
	b.cfg.AddEdge(header.ID, exit.ID)

	b.breakTargets = append(b.breakTargets, exit.ID)
	b.loopTargets = append(b.loopTargets, incBlk.ID)

	b.current = bodyBlk
	b.lowerStmt(stmt.Body)
	if b.current != nil && b.current.Terminator() == nil {
		b.cfg.AddEdge(b.current.ID, incBlk.ID)
	}

	step := stmt.Z
	if step == nil {
		step = &ast.Node{Kind: ast.IntLit, IntVal: 1}
	}
	incBlk.Append(&ast.Node{
		Kind: ast.AssignStmt,
		X:    &ast.Node{Kind: ast.VarAccess, Name: loopVar},
		Y:    &ast.Node{Kind: ast.BinaryOp, Op: ast.OpAdd, X: &ast.Node{Kind: ast.VarAccess, Name: loopVar}, Y: step},
	})
	b.cfg.AddEdge(incBlk.ID, header.ID)

	b.breakTargets = b.breakTargets[:len(b.breakTargets)-1]
	b.loopTargets = b.loopTargets[:len(b.loopTargets)-1]

	b.current = exit
}
