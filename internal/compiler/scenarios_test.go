package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyrange/bcplc/internal/ast"
	"github.com/tinyrange/bcplc/internal/classtable"
	"github.com/tinyrange/bcplc/internal/config"
	"github.com/tinyrange/bcplc/internal/diag"
	"github.com/tinyrange/bcplc/internal/types"
)

// resultIs wraps expr in a VALOF $( RESULTIS expr $) body shape.
func resultIs(expr *ast.Node) *ast.Node {
	return &ast.Node{
		Kind: ast.ValofExpr,
		Body: &ast.Node{Kind: ast.Block, Nodes: []*ast.Node{
			{Kind: ast.ResultIsStmt, X: expr},
		}},
	}
}

// pointClass builds `CLASS Point { DECL x; FUNC getX() = VALOF $( RESULTIS
// _this.x $) }`, the S1 trivial-method fixture (§8 S1).
func pointClass() *ast.Node {
	getX := &ast.Node{
		Kind: ast.FunctionDecl,
		Name: "getX",
		Body: resultIs(&ast.Node{Kind: ast.MemberAccess, Name: "x", X: &ast.Node{Kind: ast.ThisRef}}),
	}
	xField := &ast.Node{Kind: ast.MemberVarDecl, Name: "x", Type: types.BaseInteger, Visible: ast.Public}
	return &ast.Node{
		Kind:    ast.ClassDecl,
		Name:    "Point",
		Members: []*ast.Node{xField, getX},
	}
}

// addOne builds a free function `FUNC add_one(x) = VALOF $( y := x + 1;
// RESULTIS y $)`, exercising parameter binding and a straight-line body with
// no class context.
func addOne() *ast.Node {
	return &ast.Node{
		Kind:   ast.FunctionDecl,
		Name:   "add_one",
		Params: []*ast.Param{{Name: "x", Type: types.BaseInteger}},
		Body: &ast.Node{
			Kind: ast.ValofExpr,
			Body: &ast.Node{Kind: ast.Block, Nodes: []*ast.Node{
				{
					Kind: ast.AssignStmt,
					X:    &ast.Node{Kind: ast.VarAccess, Name: "y"},
					Y: &ast.Node{
						Kind: ast.BinaryOp, Op: ast.OpAdd,
						X: &ast.Node{Kind: ast.VarAccess, Name: "x"},
						Y: &ast.Node{Kind: ast.IntLit, IntVal: 1},
					},
				},
				{Kind: ast.ResultIsStmt, X: &ast.Node{Kind: ast.VarAccess, Name: "y"}},
			}},
		},
	}
}

func TestCompileFreeFunction(t *testing.T) {
	prog := &ast.Node{Kind: ast.Program, Nodes: []*ast.Node{addOne()}}
	out, result := Compile(prog, config.Default())
	require.True(t, result.IsOK(), "unexpected rejection: %+v", result)
	assert.NotEmpty(t, out.Text)
}

// TestCompileTrivialAccessor exercises S1 end to end: Point::getX must reach
// codegen's trivial-accessor fast path, and Point::CREATE/RELEASE (both
// synthesized by the class pass, since Point defines neither) must also
// compile without error.
func TestCompileTrivialAccessor(t *testing.T) {
	prog := &ast.Node{Kind: ast.Program, Nodes: []*ast.Node{pointClass()}}
	out, result := Compile(prog, config.Default())
	require.True(t, result.IsOK(), "unexpected rejection: %+v", result)
	assert.NotEmpty(t, out.Text)
}

// TestAttachSynthesizedMembersIsIdempotent guards against double-appending
// a synthesized CREATE/RELEASE into decl.Members across repeated calls,
// which would otherwise double-compile the same qualified name.
func TestAttachSynthesizedMembersIsIdempotent(t *testing.T) {
	decl := pointClass()
	prog := &ast.Node{Kind: ast.Program, Nodes: []*ast.Node{decl}}

	classes := classtable.New(false)
	classes.Discover(prog)
	require.NoError(t, classes.FinalizeAll())

	attachSynthesizedMembers(prog, classes)
	first := len(decl.Members)
	attachSynthesizedMembers(prog, classes)
	assert.Equal(t, first, len(decl.Members))
}

func TestCompileRejectsCircularInheritance(t *testing.T) {
	a := &ast.Node{Kind: ast.ClassDecl, Name: "A", ParentName: "B"}
	b := &ast.Node{Kind: ast.ClassDecl, Name: "B", ParentName: "A"}
	prog := &ast.Node{Kind: ast.Program, Nodes: []*ast.Node{a, b}}

	_, result := Compile(prog, config.Default())
	require.Equal(t, diag.OutcomeFatal, result.Outcome)
	assert.ErrorIs(t, result.Fatal, diag.ErrCircularInheritance)
}

// TestCompileInvalidConfigIsFatalBeforeAnyPassRuns checks Validate() is
// consulted before the class pass even runs (§6/§7 ordering).
func TestCompileInvalidConfigIsFatalBeforeAnyPassRuns(t *testing.T) {
	prog := &ast.Node{Kind: ast.Program}
	cfg := config.Config{JITMode: true, DataSegmentBaseAddr: 0}
	_, result := Compile(prog, cfg)
	require.Equal(t, diag.OutcomeFatal, result.Outcome)
}
