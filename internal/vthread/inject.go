// Package vthread implements the virtual-thread injection pass (spec
// §4.3-§4.5): for every virtual_thread-tagged AttrStmt it finds, it
// determines which bindings depend on the thread index, replicates the
// subtree once per thread (unrolling small counts, looping larger ones),
// widens any buffer that needs one private copy per thread, and
// re-canonicalises the result back into single-assignment form.
package vthread

import (
	"tlog.app/go/errors"

	"github.com/corani/tirpass/internal/attr"
	"github.com/corani/tirpass/internal/ir"
)

// Inject is the inject_virtual_thread public operation (spec §6). It
// walks the whole tree bottom-up so that nested virtual_thread regions
// are resolved innermost-first, runs the touched-variable analysis and
// rewriter for each one it finds, and re-canonicalises the final result.
// A Provide node anywhere in the tree (not just inside a virtual_thread
// region) is fatal: flattening must run before this pass (spec §7).
func Inject(stmt ir.Stmt) (ir.Stmt, error) {
	out, err := processTree(stmt)
	if err != nil {
		return nil, err
	}
	return recanonicalize(out), nil
}

func processTree(s ir.Stmt) (ir.Stmt, error) {
	switch n := s.(type) {
	case nil:
		return nil, nil
	case *ir.Provide:
		return nil, errors.New("Provide reached the virtual-thread pass; run storage flattening first")
	case *ir.Store, *ir.Evaluate:
		return s, nil
	case *ir.Allocate:
		body, err := processTree(n.Body)
		if err != nil {
			return nil, err
		}
		out := *n
		out.Body = body
		return &out, nil
	case *ir.For:
		body, err := processTree(n.Body)
		if err != nil {
			return nil, err
		}
		return ir.NewFor(n.LoopVar, n.Min, n.Extent, n.Kind, body), nil
	case *ir.LetStmt:
		body, err := processTree(n.Body)
		if err != nil {
			return nil, err
		}
		return ir.NewLetStmt(n.Var, n.Value, body), nil
	case *ir.IfThenElse:
		thenCase, err := processTree(n.Then)
		if err != nil {
			return nil, err
		}
		elseCase, err := processTree(n.Else)
		if err != nil {
			return nil, err
		}
		return ir.NewIfThenElse(n.Cond, thenCase, elseCase), nil
	case *ir.Block:
		first, err := processTree(n.First)
		if err != nil {
			return nil, err
		}
		rest, err := processTree(n.Rest)
		if err != nil {
			return nil, err
		}
		return ir.NewBlock(first, rest), nil
	case *ir.AssertStmt:
		body, err := processTree(n.Body)
		if err != nil {
			return nil, err
		}
		return ir.NewAssertStmt(n.Cond, n.Message, body), nil
	case *ir.AttrStmt:
		return processAttrStmt(n)
	default:
		return s, nil
	}
}

// processAttrStmt recurses into the body first (so a nested
// virtual_thread attribute is resolved before this one), then, if this
// attribute itself is virtual_thread, hands the already-processed body
// to a fresh touched-variable analysis and injector and returns their
// result in place of the AttrStmt entirely.
func processAttrStmt(n *ir.AttrStmt) (ir.Stmt, error) {
	body, err := processTree(n.Body)
	if err != nil {
		return nil, err
	}

	if n.Key != attr.VirtualThread {
		return ir.NewAttrStmt(n.Node, n.Key, n.Value, body), nil
	}

	iv, ok := n.Node.(*ir.IterVar)
	if !ok {
		return nil, errors.New("virtual_thread attribute's node must be an IterVar")
	}

	nthread, ok := ir.GetConstInt(n.Value)
	if !ok {
		return nil, errors.New("virtual_thread attribute's thread count must be a compile-time constant")
	}

	touched, err := TouchedVars(body, iv.Var)
	if err != nil {
		return nil, err
	}

	allowShare := iv.ThreadTag == "vthread"
	inj := newInjector(iv.Var, int(nthread), touched, allowShare)
	out := inj.rewriteStmt(body)
	if inj.err != nil {
		return nil, inj.err
	}

	return out, nil
}
