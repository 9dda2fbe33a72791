// Package boundcheck implements the bound-checker pass (spec §4.1, §4.2):
// a read-only collection traversal followed by a mutating rewrite that
// wraps every instrumentable Store/Load with a dynamic range check.
package boundcheck

import (
	"github.com/corani/tirpass/internal/attr"
	"github.com/corani/tirpass/internal/ir"
)

// shapeMap maps a buffer variable identity to the scalar expression
// denoting its byte extent. Per spec invariant 3, when two buffer_bound
// attributes for the same buffer are in scope the later one (in
// traversal order) wins; see collect.
type shapeMap map[*ir.Var]ir.Expr

// collect runs the one-pass, read-only Bound Attribute Collector (spec
// §4.1): for every AttrStmt keyed buffer_bound whose node is a *ir.Var,
// bind var -> attr.value, with later occurrences overwriting earlier
// ones.
func collect(stmt ir.Stmt) shapeMap {
	shapes := shapeMap{}
	collectStmt(stmt, shapes)
	return shapes
}

func collectStmt(s ir.Stmt, shapes shapeMap) {
	switch n := s.(type) {
	case nil:
		return
	case *ir.AttrStmt:
		if n.Key == attr.BufferBound {
			if v, ok := n.Node.(*ir.Var); ok {
				shapes[v] = n.Value
			}
		}
		collectStmt(n.Body, shapes)
	case *ir.Allocate:
		collectStmt(n.Body, shapes)
	case *ir.For:
		collectStmt(n.Body, shapes)
	case *ir.LetStmt:
		collectStmt(n.Body, shapes)
	case *ir.IfThenElse:
		collectStmt(n.Then, shapes)
		collectStmt(n.Else, shapes)
	case *ir.Block:
		collectStmt(n.First, shapes)
		collectStmt(n.Rest, shapes)
	case *ir.AssertStmt:
		collectStmt(n.Body, shapes)
	default:
		// Store, Evaluate, Provide: no nested statements to visit.
	}
}
