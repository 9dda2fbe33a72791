package ir

import (
	"fmt"
	"strings"
)

// Print renders stmt as an indented S-expression-ish tree, used by
// cmd/irpass's output and by test failure messages. It follows
// corani-cubit's per-node-kind String() convention, adapted from a
// Visitor dispatch to a type switch since Stmt/Expr no longer carry an
// Accept method (spec §9 steers this module away from visitor dispatch).
func Print(stmt Stmt) string {
	var b strings.Builder
	printStmt(&b, stmt, 0)
	return b.String()
}

func indent(b *strings.Builder, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
}

func printStmt(b *strings.Builder, s Stmt, depth int) {
	indent(b, depth)
	if s == nil {
		b.WriteString("<nil>\n")
		return
	}

	switch n := s.(type) {
	case *Allocate:
		fmt.Fprintf(b, "allocate %s[%s](%s)\n", n.Buffer.Name, joinExprs(n.Extents), n.Dtype)
		printStmt(b, n.Body, depth+1)
	case *Store:
		fmt.Fprintf(b, "store %s[%s] = %s\n", n.Buffer.Name, PrintExpr(n.Index), PrintExpr(n.Value))
	case *For:
		fmt.Fprintf(b, "for %s in [%s, %s+%s)\n", n.LoopVar.Name, PrintExpr(n.Min), PrintExpr(n.Min), PrintExpr(n.Extent))
		printStmt(b, n.Body, depth+1)
	case *LetStmt:
		fmt.Fprintf(b, "let %s = %s\n", n.Var.Name, PrintExpr(n.Value))
		printStmt(b, n.Body, depth)
	case *IfThenElse:
		fmt.Fprintf(b, "if %s\n", PrintExpr(n.Cond))
		printStmt(b, n.Then, depth+1)
		if n.Else != nil {
			indent(b, depth)
			b.WriteString("else\n")
			printStmt(b, n.Else, depth+1)
		}
	case *Block:
		printStmt(b, n.First, depth)
		if n.Rest != nil {
			printStmt(b, n.Rest, depth)
		}
	case *Evaluate:
		fmt.Fprintf(b, "evaluate %s\n", PrintExpr(n.Value))
	case *AttrStmt:
		fmt.Fprintf(b, "attr[%s] %s = %s\n", attrNodeName(n.Node), n.Key, PrintExpr(n.Value))
		printStmt(b, n.Body, depth)
	case *AssertStmt:
		fmt.Fprintf(b, "assert %s, %q\n", PrintExpr(n.Cond), n.Message)
		printStmt(b, n.Body, depth)
	case *Provide:
		fmt.Fprintf(b, "provide %s[%s] = %s\n", n.Buffer.Name, joinExprs(n.Args), PrintExpr(n.Value))
	default:
		fmt.Fprintf(b, "<unknown stmt %T>\n", s)
	}
}

func attrNodeName(node any) string {
	switch n := node.(type) {
	case *Var:
		return n.Name
	case *IterVar:
		return n.Var.Name + ":" + n.ThreadTag
	default:
		return "?"
	}
}

func joinExprs(exprs []Expr) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = PrintExpr(e)
	}
	return strings.Join(parts, ", ")
}

// PrintExpr renders e inline.
func PrintExpr(e Expr) string {
	if e == nil {
		return "<nil>"
	}

	switch n := e.(type) {
	case *VarExpr:
		return n.V.Name
	case *IntConst:
		return fmt.Sprintf("%d", n.Value)
	case *Cast:
		return fmt.Sprintf("(%s)%s", n.To, PrintExpr(n.Value))
	case *BinExpr:
		return fmt.Sprintf("(%s %s %s)", PrintExpr(n.A), n.Op, PrintExpr(n.B))
	case *Not:
		return fmt.Sprintf("!%s", PrintExpr(n.Value))
	case *Load:
		return fmt.Sprintf("%s[%s]", n.Buffer.Name, PrintExpr(n.Index))
	case *Ramp:
		return fmt.Sprintf("ramp(%s, %s, %d)", PrintExpr(n.Base), PrintExpr(n.Stride), n.Lanes)
	case *Call:
		return fmt.Sprintf("%s(%s)", n.Name, joinExprs(n.Args))
	default:
		return fmt.Sprintf("<unknown expr %T>", e)
	}
}

func (d DataType) String() string {
	if d.Lanes > 1 {
		return fmt.Sprintf("%s%dx%d", d.Code, d.Bits, d.Lanes)
	}
	return fmt.Sprintf("%s%d", d.Code, d.Bits)
}
