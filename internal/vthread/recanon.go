package vthread

import (
	"fmt"

	"github.com/corani/tirpass/internal/ir"
)

// recanonicalize is the SSA re-canonicaliser (spec §4.5): an external
// collaborator contract the spec assumes ("for every IR variable with
// multiple binding sites, rename to make binding sites unique") that
// nothing else in this module supplies, since InjectVTLoop's unroll path
// duplicates whatever local bindings (For/LetStmt/Allocate) live inside
// the replicated subtree without renaming them — the same *Var identity
// ends up bound N times. Grounded on corani-cubit/internal/analyzer's
// scope-stack-of-maps pattern (scope.go), adapted here from a
// type-checking symbol table into a rename-on-redefinition counter: the
// first binding of a Var passes through untouched, every subsequent one
// gets a freshly allocated identity substituted through its own subtree.
func recanonicalize(stmt ir.Stmt) ir.Stmt {
	seen := map[*ir.Var]int{}
	return recanonStmt(stmt, seen)
}

func freshen(v *ir.Var, seen map[*ir.Var]int) (*ir.Var, bool) {
	n := seen[v]
	seen[v] = n + 1
	if n == 0 {
		return v, false
	}
	return ir.NewVar(fmt.Sprintf("%s.v%d", v.Name, n), v.Dtype), true
}

func recanonStmt(s ir.Stmt, seen map[*ir.Var]int) ir.Stmt {
	switch n := s.(type) {
	case nil:
		return nil
	case *ir.For:
		if fresh, renamed := freshen(n.LoopVar, seen); renamed {
			n = ir.SubstituteVar(n, n.LoopVar, fresh).(*ir.For)
		}
		return ir.NewFor(n.LoopVar, n.Min, n.Extent, n.Kind, recanonStmt(n.Body, seen))
	case *ir.LetStmt:
		if fresh, renamed := freshen(n.Var, seen); renamed {
			n = ir.SubstituteVar(n, n.Var, fresh).(*ir.LetStmt)
		}
		return ir.NewLetStmt(n.Var, n.Value, recanonStmt(n.Body, seen))
	case *ir.Allocate:
		if fresh, renamed := freshen(n.Buffer, seen); renamed {
			n = ir.SubstituteVar(n, n.Buffer, fresh).(*ir.Allocate)
		}
		out := *n
		out.Body = recanonStmt(n.Body, seen)
		return &out
	case *ir.IfThenElse:
		return ir.NewIfThenElse(n.Cond, recanonStmt(n.Then, seen), recanonStmt(n.Else, seen))
	case *ir.Block:
		return ir.NewBlock(recanonStmt(n.First, seen), recanonStmt(n.Rest, seen))
	case *ir.AttrStmt:
		return ir.NewAttrStmt(n.Node, n.Key, n.Value, recanonStmt(n.Body, seen))
	case *ir.AssertStmt:
		return ir.NewAssertStmt(n.Cond, n.Message, recanonStmt(n.Body, seen))
	default:
		return s
	}
}
