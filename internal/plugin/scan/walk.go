package scan

import "github.com/yuin/gopher-lua/ast"

// walkStmts visits every call expression reachable from stmts, including
// calls nested in function bodies, table constructors and call arguments.
func walkStmts(stmts []ast.Stmt, visit func(*ast.FuncCallExpr)) {
	for _, stmt := range stmts {
		walkStmt(stmt, visit)
	}
}

func walkStmt(stmt ast.Stmt, visit func(*ast.FuncCallExpr)) {
	switch st := stmt.(type) {
	case *ast.AssignStmt:
		walkExprs(st.Lhs, visit)
		walkExprs(st.Rhs, visit)
	case *ast.LocalAssignStmt:
		walkExprs(st.Exprs, visit)
	case *ast.FuncCallStmt:
		walkExpr(st.Expr, visit)
	case *ast.DoBlockStmt:
		walkStmts(st.Stmts, visit)
	case *ast.WhileStmt:
		walkExpr(st.Condition, visit)
		walkStmts(st.Stmts, visit)
	case *ast.RepeatStmt:
		walkStmts(st.Stmts, visit)
		walkExpr(st.Condition, visit)
	case *ast.IfStmt:
		walkExpr(st.Condition, visit)
		walkStmts(st.Then, visit)
		walkStmts(st.Else, visit)
	case *ast.NumberForStmt:
		walkExpr(st.Init, visit)
		walkExpr(st.Limit, visit)
		walkExpr(st.Step, visit)
		walkStmts(st.Stmts, visit)
	case *ast.GenericForStmt:
		walkExprs(st.Exprs, visit)
		walkStmts(st.Stmts, visit)
	case *ast.FuncDefStmt:
		if st.Name != nil {
			walkExpr(st.Name.Func, visit)
			walkExpr(st.Name.Receiver, visit)
		}
		if st.Func != nil {
			walkExpr(st.Func, visit)
		}
	case *ast.ReturnStmt:
		walkExprs(st.Exprs, visit)
	}
}

func walkExprs(exprs []ast.Expr, visit func(*ast.FuncCallExpr)) {
	for _, expr := range exprs {
		walkExpr(expr, visit)
	}
}

func walkExpr(expr ast.Expr, visit func(*ast.FuncCallExpr)) {
	switch ex := expr.(type) {
	case *ast.FuncCallExpr:
		visit(ex)
		walkExpr(ex.Func, visit)
		walkExpr(ex.Receiver, visit)
		walkExprs(ex.Args, visit)
	case *ast.AttrGetExpr:
		walkExpr(ex.Object, visit)
		walkExpr(ex.Key, visit)
	case *ast.TableExpr:
		for _, field := range ex.Fields {
			if field == nil {
				continue
			}
			walkExpr(field.Key, visit)
			walkExpr(field.Value, visit)
		}
	case *ast.FunctionExpr:
		walkStmts(ex.Stmts, visit)
	case *ast.LogicalOpExpr:
		walkExpr(ex.Lhs, visit)
		walkExpr(ex.Rhs, visit)
	case *ast.RelationalOpExpr:
		walkExpr(ex.Lhs, visit)
		walkExpr(ex.Rhs, visit)
	case *ast.StringConcatOpExpr:
		walkExpr(ex.Lhs, visit)
		walkExpr(ex.Rhs, visit)
	case *ast.ArithmeticOpExpr:
		walkExpr(ex.Lhs, visit)
		walkExpr(ex.Rhs, visit)
	case *ast.UnaryMinusOpExpr:
		walkExpr(ex.Expr, visit)
	case *ast.UnaryNotOpExpr:
		walkExpr(ex.Expr, visit)
	case *ast.UnaryLenOpExpr:
		walkExpr(ex.Expr, visit)
	}
}
