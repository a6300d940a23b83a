package eval

import (
	"fmt"
	"strings"

	"chainindexer/internal/lang"
)

// CompileSQL compiles a filter expression into a SQL boolean fragment,
// for conditions where at least one variable carries the table source
// (lang.Expr.HasTableReferences reports this) and must therefore be
// evaluated server-side during the upsert rather than in-process.
//
// qualifiedTable is used verbatim as the left-hand side of a table
// variable's column reference; it may already be schema-qualified (e.g.
// `"myschema"."token_balances"`) and is never re-quoted here.
func CompileSQL(expr *lang.Expr, qualifiedTable string) (string, error) {
	if expr == nil {
		return "", fmt.Errorf("eval: nil filter expression")
	}
	switch expr.Kind {
	case lang.ExprLogical:
		left, err := CompileSQL(expr.Left, qualifiedTable)
		if err != nil {
			return "", err
		}
		right, err := CompileSQL(expr.Right, qualifiedTable)
		if err != nil {
			return "", err
		}
		var joiner string
		switch expr.LogicalOp {
		case lang.LogicalAnd:
			joiner = "AND"
		case lang.LogicalOr:
			joiner = "OR"
		default:
			return "", fmt.Errorf("eval: unknown logical operator %q", expr.LogicalOp)
		}
		return fmt.Sprintf("(%s %s %s)", left, joiner, right), nil

	case lang.ExprComparison:
		left, err := compileArithSQL(expr.CmpLeft, qualifiedTable)
		if err != nil {
			return "", err
		}
		right, err := compileArithSQL(expr.CmpRight, qualifiedTable)
		if err != nil {
			return "", err
		}
		op, err := sqlComparisonOperator(expr.CmpOp)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s %s", left, op, right), nil

	default:
		return "", fmt.Errorf("eval: unknown expression kind %d", expr.Kind)
	}
}

func sqlComparisonOperator(op lang.CmpOp) (string, error) {
	switch op {
	case lang.CmpEq:
		return "=", nil
	case lang.CmpNeq, lang.CmpGt, lang.CmpGte, lang.CmpLt, lang.CmpLte:
		return string(op), nil
	default:
		return "", fmt.Errorf("eval: unknown comparison operator %q", op)
	}
}

func compileArithSQL(node *lang.ArithNode, qualifiedTable string) (string, error) {
	if node == nil {
		return "", fmt.Errorf("eval: nil arithmetic node")
	}
	switch node.Kind {
	case lang.ArithLiteral:
		return sqlLiteral(node.Literal)

	case lang.ArithVariable:
		return sqlColumnRef(node.Variable, qualifiedTable)

	case lang.ArithBinary:
		left, err := compileArithSQL(node.Left, qualifiedTable)
		if err != nil {
			return "", err
		}
		right, err := compileArithSQL(node.Right, qualifiedTable)
		if err != nil {
			return "", err
		}
		if node.Op == "^" {
			return fmt.Sprintf("POWER(%s, %s)", left, right), nil
		}
		return fmt.Sprintf("(%s %s %s)", left, node.Op, right), nil

	default:
		return "", fmt.Errorf("eval: unknown arithmetic node kind %d", node.Kind)
	}
}

func sqlColumnRef(v lang.VariablePath, qualifiedTable string) (string, error) {
	if len(v.Accessors) > 0 {
		return "", fmt.Errorf("eval: SQL push-down does not support accessor paths (%q has %d)", v.Base, len(v.Accessors))
	}
	switch v.Source {
	case lang.SourceEvent:
		return "EXCLUDED." + quoteIdent(v.Base), nil
	case lang.SourceTable:
		return qualifiedTable + "." + quoteIdent(v.Base), nil
	default:
		return "", fmt.Errorf("eval: unknown variable source %q", v.Source.String())
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sqlLiteral(lit lang.Literal) (string, error) {
	switch lit.Kind {
	case lang.LitNumber, lang.LitHex:
		return lit.Raw, nil
	case lang.LitBool:
		if lit.Bool {
			return "TRUE", nil
		}
		return "FALSE", nil
	case lang.LitString:
		return "'" + strings.ReplaceAll(lit.Str, "'", "''") + "'", nil
	default:
		return "", fmt.Errorf("eval: unknown literal kind %d", lit.Kind)
	}
}
