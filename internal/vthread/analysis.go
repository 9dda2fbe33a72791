package vthread

import (
	"tlog.app/go/errors"

	"github.com/corani/tirpass/internal/attr"
	"github.com/corani/tirpass/internal/ir"
)

// touchReport is one expression subtree's contribution to the touched-
// variable analysis (spec §4.3): whether it was found to reference an
// already-touched variable, which variables it used (read) if not, and
// (for the Evaluate/check_write case) which variables it wrote.
type touchReport struct {
	touched   bool
	usedVars  []*ir.Var
	writeVars []*ir.Var
}

// touchWalker computes one touchReport over an expression. checkWrite
// mirrors the original's ExprTouched(touched_var, check_write): normal
// traversal (check_write=false) stops descending once touched becomes
// true; Evaluate's call-for-side-effects traversal (check_write=true)
// never short-circuits, since it needs the complete write_vars list.
type touchWalker struct {
	touchedVar map[*ir.Var]bool
	checkWrite bool
	report     touchReport
	err        error
}

func (w *touchWalker) stop() bool {
	return w.err != nil || (w.report.touched && !w.checkWrite)
}

func (w *touchWalker) use(v *ir.Var) {
	if w.touchedVar[v] {
		w.report.touched = true
	}
	if !w.report.touched {
		w.report.usedVars = append(w.report.usedVars, v)
	}
}

func (w *touchWalker) write(v *ir.Var) {
	w.report.writeVars = append(w.report.writeVars, v)
}

func (w *touchWalker) visit(e ir.Expr) {
	if w.stop() || e == nil {
		return
	}

	switch n := e.(type) {
	case *ir.VarExpr:
		w.use(n.V)
	case *ir.IntConst:
	case *ir.Cast:
		w.visit(n.Value)
	case *ir.BinExpr:
		w.visit(n.A)
		w.visit(n.B)
	case *ir.Not:
		w.visit(n.Value)
	case *ir.Ramp:
		w.visit(n.Base)
		w.visit(n.Stride)
	case *ir.Load:
		w.use(n.Buffer)
		w.visit(n.Index)
		w.visit(n.Predicate)
	case *ir.Call:
		w.visitCall(n)
	}
}

// visitCall special-cases tvm_access_ptr: its rw_mask selects whether the
// buffer argument counts as a use, a write, or both, and only the offset
// argument (not extent or dtype) is itself a subexpression to recurse
// into (spec §4.3).
func (w *touchWalker) visitCall(n *ir.Call) {
	if n.IsIntrinsic(attr.AccessPtr) {
		parsed, err := parseAccessPtr(n)
		if err != nil {
			w.err = err
			return
		}
		if parsed.rwMask&attr.RWRead != 0 {
			w.use(parsed.buffer)
		}
		if parsed.rwMask&attr.RWWrite != 0 {
			w.write(parsed.buffer)
		}
		w.visit(parsed.offset)
		return
	}
	for _, a := range n.Args {
		w.visit(a)
	}
}

// touchAnalysis is the VarTouchedAnalysis equivalent: it walks the whole
// statement tree once, recording which binding sites transitively
// reference the seed variable, then closes the affects-relation to a
// fixed point (spec §4.3).
type touchAnalysis struct {
	touchedVar map[*ir.Var]bool
	affect     map[*ir.Var][]*ir.Var
	err        error
}

func (a *touchAnalysis) exprTouched(e ir.Expr, checkWrite bool) touchReport {
	w := &touchWalker{touchedVar: a.touchedVar, checkWrite: checkWrite}
	w.visit(e)
	if w.err != nil && a.err == nil {
		a.err = w.err
	}
	return w.report
}

// record binds a statement's introduced variable to the report collected
// over its defining expression(s): if the report is touched, v joins the
// touched set outright; otherwise every variable v's definition used gets
// an edge v' -> v in the affects relation, to be closed later.
func (a *touchAnalysis) record(v *ir.Var, r touchReport) {
	if a.touchedVar[v] {
		return
	}
	if r.touched {
		a.touchedVar[v] = true
		return
	}
	for _, u := range r.usedVars {
		if u != v {
			a.affect[u] = append(a.affect[u], v)
		}
	}
}

// visitStmt mirrors VarTouchedAnalysis's StmtVisitor overrides exactly:
// only LetStmt, Store, For, Evaluate and Allocate inspect their
// expression children (the base StmtVisitor never visits embedded
// expressions of IfThenElse/AttrStmt/AssertStmt for this analysis, so
// those conditions/attribute values are not scanned here at all — this
// is a grounded detail of original_source/src/pass/inject_virtual_thread.cc,
// not an oversight).
func (a *touchAnalysis) visitStmt(s ir.Stmt) {
	if a.err != nil || s == nil {
		return
	}

	switch n := s.(type) {
	case *ir.LetStmt:
		r := a.exprTouched(n.Value, false)
		a.record(n.Var, r)
		a.visitStmt(n.Body)
	case *ir.Store:
		w := &touchWalker{touchedVar: a.touchedVar}
		w.visit(n.Value)
		w.visit(n.Index)
		if w.err != nil {
			a.err = w.err
			return
		}
		a.record(n.Buffer, w.report)
	case *ir.For:
		w := &touchWalker{touchedVar: a.touchedVar}
		w.visit(n.Min)
		w.visit(n.Extent)
		if w.err != nil {
			a.err = w.err
			return
		}
		a.record(n.LoopVar, w.report)
		a.visitStmt(n.Body)
	case *ir.Evaluate:
		r := a.exprTouched(n.Value, true)
		for _, v := range r.writeVars {
			a.record(v, r)
		}
	case *ir.Allocate:
		w := &touchWalker{touchedVar: a.touchedVar}
		for _, e := range n.Extents {
			w.visit(e)
		}
		w.visit(n.Condition)
		if n.NewExpr != nil {
			w.visit(n.NewExpr)
		}
		if w.err != nil {
			a.err = w.err
			return
		}
		a.record(n.Buffer, w.report)
		a.visitStmt(n.Body)
	case *ir.IfThenElse:
		a.visitStmt(n.Then)
		a.visitStmt(n.Else)
	case *ir.Block:
		a.visitStmt(n.First)
		a.visitStmt(n.Rest)
	case *ir.AttrStmt:
		a.visitStmt(n.Body)
	case *ir.AssertStmt:
		a.visitStmt(n.Body)
	case *ir.Provide:
		a.err = errors.New("Provide reached the virtual-thread pass; run storage flattening first")
	}
}

// TouchedVars computes the full set of variables whose binding
// transitively depends on v (spec §4.3): local propagation followed by a
// DFS closure of the affects relation.
func TouchedVars(stmt ir.Stmt, v *ir.Var) (map[*ir.Var]bool, error) {
	a := &touchAnalysis{
		touchedVar: map[*ir.Var]bool{v: true},
		affect:     map[*ir.Var][]*ir.Var{},
	}
	a.visitStmt(stmt)
	if a.err != nil {
		return nil, a.err
	}

	pending := make([]*ir.Var, 0, len(a.touchedVar))
	for tv := range a.touchedVar {
		pending = append(pending, tv)
	}
	for len(pending) > 0 {
		cur := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		for _, r := range a.affect[cur] {
			if !a.touchedVar[r] {
				a.touchedVar[r] = true
				pending = append(pending, r)
			}
		}
	}

	return a.touchedVar, nil
}
