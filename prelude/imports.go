package prelude

import (
	"github.com/yuin/gopher-lua/ast"
)

// requireIDs returns the literal module ids passed to require in chunk,
// in first-seen order. Calls with a non-literal argument are left to the
// runtime and not reported.
func requireIDs(chunk []ast.Stmt) []string {
	w := &importWalker{seen: make(map[string]bool)}
	w.stmts(chunk)
	return w.ids
}

type importWalker struct {
	ids  []string
	seen map[string]bool
}

func (w *importWalker) add(id string) {
	if !w.seen[id] {
		w.seen[id] = true
		w.ids = append(w.ids, id)
	}
}

func (w *importWalker) stmts(stmts []ast.Stmt) {
	for _, s := range stmts {
		w.stmt(s)
	}
}

func (w *importWalker) stmt(s ast.Stmt) {
	switch s := s.(type) {
	case *ast.AssignStmt:
		w.exprs(s.Lhs)
		w.exprs(s.Rhs)
	case *ast.LocalAssignStmt:
		w.exprs(s.Exprs)
	case *ast.FuncCallStmt:
		w.expr(s.Expr)
	case *ast.DoBlockStmt:
		w.stmts(s.Stmts)
	case *ast.WhileStmt:
		w.expr(s.Condition)
		w.stmts(s.Stmts)
	case *ast.RepeatStmt:
		w.stmts(s.Stmts)
		w.expr(s.Condition)
	case *ast.IfStmt:
		w.expr(s.Condition)
		w.stmts(s.Then)
		w.stmts(s.Else)
	case *ast.NumberForStmt:
		w.expr(s.Init)
		w.expr(s.Limit)
		w.expr(s.Step)
		w.stmts(s.Stmts)
	case *ast.GenericForStmt:
		w.exprs(s.Exprs)
		w.stmts(s.Stmts)
	case *ast.FuncDefStmt:
		if s.Name != nil {
			w.expr(s.Name.Func)
			w.expr(s.Name.Receiver)
		}
		w.expr(s.Func)
	case *ast.ReturnStmt:
		w.exprs(s.Exprs)
	}
}

func (w *importWalker) exprs(exprs []ast.Expr) {
	for _, e := range exprs {
		w.expr(e)
	}
}

func (w *importWalker) expr(e ast.Expr) {
	switch e := e.(type) {
	case nil:
	case *ast.FuncCallExpr:
		if id, ok := literalRequire(e); ok {
			w.add(id)
		}
		w.expr(e.Func)
		w.expr(e.Receiver)
		w.exprs(e.Args)
	case *ast.AttrGetExpr:
		w.expr(e.Object)
		w.expr(e.Key)
	case *ast.TableExpr:
		for _, f := range e.Fields {
			w.expr(f.Key)
			w.expr(f.Value)
		}
	case *ast.FunctionExpr:
		w.stmts(e.Stmts)
	case *ast.LogicalOpExpr:
		w.expr(e.Lhs)
		w.expr(e.Rhs)
	case *ast.RelationalOpExpr:
		w.expr(e.Lhs)
		w.expr(e.Rhs)
	case *ast.StringConcatOpExpr:
		w.expr(e.Lhs)
		w.expr(e.Rhs)
	case *ast.ArithmeticOpExpr:
		w.expr(e.Lhs)
		w.expr(e.Rhs)
	case *ast.UnaryMinusOpExpr:
		w.expr(e.Expr)
	case *ast.UnaryNotOpExpr:
		w.expr(e.Expr)
	case *ast.UnaryLenOpExpr:
		w.expr(e.Expr)
	}
}

// literalRequire matches require("id") and require "id".
func literalRequire(call *ast.FuncCallExpr) (string, bool) {
	if call.Receiver != nil || len(call.Args) != 1 {
		return "", false
	}
	fn, ok := call.Func.(*ast.IdentExpr)
	if !ok || fn.Value != "require" {
		return "", false
	}
	arg, ok := call.Args[0].(*ast.StringExpr)
	if !ok {
		return "", false
	}
	return arg.Value, true
}
