package liveness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyrange/bcplc/internal/analyzer"
	"github.com/tinyrange/bcplc/internal/ast"
	"github.com/tinyrange/bcplc/internal/cfg"
)

func TestAnalyzeStraightLine(t *testing.T) {
	// LET x = 1; y := x + 1; RESULTIS y
	body := &ast.Node{Kind: ast.Block, Nodes: []*ast.Node{
		{Kind: ast.LetDecl, Name: "x", Y: &ast.Node{Kind: ast.IntLit, IntVal: 1}},
		{Kind: ast.AssignStmt,
			X: &ast.Node{Kind: ast.VarAccess, Name: "y"},
			Y: &ast.Node{Kind: ast.BinaryOp, Op: ast.OpAdd, X: &ast.Node{Kind: ast.VarAccess, Name: "x"}, Y: &ast.Node{Kind: ast.IntLit, IntVal: 1}}},
		{Kind: ast.ResultIsStmt, X: &ast.Node{Kind: ast.VarAccess, Name: "y"}},
	}}

	g, err := cfg.BuildFunction("f", body, &analyzer.FunctionMetrics{}, false)
	require.NoError(t, err)

	res := Analyze(g, nil)
	require.NotNil(t, res)

	names := map[string]Interval{}
	for _, iv := range res.Intervals {
		names[iv.Name] = iv
	}
	assert.Contains(t, names, "x")
	assert.Contains(t, names, "y")
	assert.LessOrEqual(t, names["x"].Start, names["x"].End)
}

func TestAnalyzeAcrossLoopBackEdge(t *testing.T) {
	// WHILE cond DO acc := acc + 1
	body := &ast.Node{Kind: ast.Block, Nodes: []*ast.Node{
		{Kind: ast.LetDecl, Name: "acc", Y: &ast.Node{Kind: ast.IntLit, IntVal: 0}},
		{Kind: ast.WhileStmt,
			X: &ast.Node{Kind: ast.VarAccess, Name: "cond"},
			Body: &ast.Node{Kind: ast.Block, Nodes: []*ast.Node{
				{Kind: ast.AssignStmt,
					X: &ast.Node{Kind: ast.VarAccess, Name: "acc"},
					Y: &ast.Node{Kind: ast.BinaryOp, Op: ast.OpAdd, X: &ast.Node{Kind: ast.VarAccess, Name: "acc"}, Y: &ast.Node{Kind: ast.IntLit, IntVal: 1}}},
			}},
		},
	}}

	g, err := cfg.BuildFunction("loopy", body, &analyzer.FunctionMetrics{}, false)
	require.NoError(t, err)

	res := Analyze(g, nil)
	names := map[string]Interval{}
	for _, iv := range res.Intervals {
		names[iv.Name] = iv
	}
	require.Contains(t, names, "acc")
	// acc is live across the whole loop, so its interval must span more
	// than a single instruction.
	assert.Greater(t, names["acc"].End, names["acc"].Start)
}
