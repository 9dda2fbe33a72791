package boundcheck

import (
	"tlog.app/go/errors"

	"github.com/corani/tirpass/internal/attr"
	"github.com/corani/tirpass/internal/ir"
)

// outOfBoundsMessage is the literal assert message spec §6 pins byte-exact
// (tests match on it).
const outOfBoundsMessage = "OUT OF THE BOUNDS"

// pendingCheck pairs an index expression with the upper bound it must
// stay under, collected while rewriting a single Store's value/index
// subtree (spec §4.2).
type pendingCheck struct {
	index ir.Expr
	upper ir.Expr
}

// rewriter carries the state the Bound Check Rewriter (spec §4.2) threads
// across one mutating traversal.
type rewriter struct {
	shapes shapeMap

	insideStoreValue bool
	unsafeRewritten  bool
	pending          []pendingCheck
}

func newRewriter(shapes shapeMap) *rewriter {
	return &rewriter{shapes: shapes}
}

func (r *rewriter) rewriteStmt(s ir.Stmt) (ir.Stmt, error) {
	switch n := s.(type) {
	case nil:
		return nil, nil
	case *ir.Allocate:
		return r.rewriteAllocate(n)
	case *ir.Store:
		return r.rewriteStore(n)
	case *ir.For:
		min, err := r.rewriteExpr(n.Min)
		if err != nil {
			return nil, err
		}
		extent, err := r.rewriteExpr(n.Extent)
		if err != nil {
			return nil, err
		}
		body, err := r.rewriteStmt(n.Body)
		if err != nil {
			return nil, err
		}
		return ir.NewFor(n.LoopVar, min, extent, n.Kind, body), nil
	case *ir.LetStmt:
		value, err := r.rewriteExpr(n.Value)
		if err != nil {
			return nil, err
		}
		body, err := r.rewriteStmt(n.Body)
		if err != nil {
			return nil, err
		}
		return ir.NewLetStmt(n.Var, value, body), nil
	case *ir.IfThenElse:
		cond, err := r.rewriteExpr(n.Cond)
		if err != nil {
			return nil, err
		}
		thenCase, err := r.rewriteStmt(n.Then)
		if err != nil {
			return nil, err
		}
		elseCase, err := r.rewriteStmt(n.Else)
		if err != nil {
			return nil, err
		}
		return ir.NewIfThenElse(cond, thenCase, elseCase), nil
	case *ir.Block:
		first, err := r.rewriteStmt(n.First)
		if err != nil {
			return nil, err
		}
		rest, err := r.rewriteStmt(n.Rest)
		if err != nil {
			return nil, err
		}
		return ir.NewBlock(first, rest), nil
	case *ir.Evaluate:
		value, err := r.rewriteExpr(n.Value)
		if err != nil {
			return nil, err
		}
		return ir.NewEvaluate(value), nil
	case *ir.AttrStmt:
		value, err := r.rewriteExpr(n.Value)
		if err != nil {
			return nil, err
		}
		body, err := r.rewriteStmt(n.Body)
		if err != nil {
			return nil, err
		}
		return ir.NewAttrStmt(n.Node, n.Key, value, body), nil
	case *ir.AssertStmt:
		cond, err := r.rewriteExpr(n.Cond)
		if err != nil {
			return nil, err
		}
		body, err := r.rewriteStmt(n.Body)
		if err != nil {
			return nil, err
		}
		return ir.NewAssertStmt(cond, n.Message, body), nil
	default:
		// Provide and anything else pass through unchanged (spec §4.2
		// "the pass is total").
		return s, nil
	}
}

// rewriteAllocate updates the tracked shape for buf when its extents are
// all scalar, defined and not provably negative (spec §4.2 "Allocation
// handling"), then recurses into the body.
func (r *rewriter) rewriteAllocate(n *ir.Allocate) (ir.Stmt, error) {
	if _, tracked := r.shapes[n.Buffer]; tracked {
		if shape, ok := scalarizeShape(n.Extents, n.Dtype); ok {
			r.shapes[n.Buffer] = shape
		}
	}

	body, err := r.rewriteStmt(n.Body)
	if err != nil {
		return nil, err
	}

	out := *n
	out.Body = body
	return &out, nil
}

// scalarizeShape computes lanes(dtype) * prod(extents) in 64-bit unsigned
// arithmetic (spec §4.2, §9 "Integer overflow in shape scalarisation").
// It returns ok=false when the extents list is empty or any extent is
// undefined, non-scalar or provably negative — the allocation's shape binding is then
// left untouched rather than corrupted (spec §7 "empty extents list" is a
// skippable condition).
func scalarizeShape(extents []ir.Expr, dtype ir.DataType) (ir.Expr, bool) {
	if len(extents) == 0 {
		return nil, false
	}
	for _, e := range extents {
		if e == nil || !ir.TypeOf(e).IsScalar() || ir.IsNegativeConst(e) {
			return nil, false
		}
	}

	u64 := ir.UInt64()
	shape := ir.Expr(ir.NewCast(u64, ir.MakeConst(u64, int64(dtype.Lanes))))
	for _, e := range extents {
		shape = ir.NewMul(shape, ir.NewCast(u64, e))
	}
	return shape, true
}

// rewriteStore implements spec §4.2's Store handling, steps 1-3.
func (r *rewriter) rewriteStore(n *ir.Store) (ir.Stmt, error) {
	r.pending = nil
	r.insideStoreValue = true
	r.unsafeRewritten = false

	value, err := r.rewriteExpr(n.Value)
	if err != nil {
		return nil, err
	}
	index, err := r.rewriteExpr(n.Index)
	if err != nil {
		return nil, err
	}

	r.insideStoreValue = false

	if r.canInstrument(n.Index, n.Buffer) {
		r.collect(n.Index, n.Buffer)
	}

	store := ir.NewStore(n.Buffer, value, index, n.Predicate)

	if len(r.pending) == 0 {
		return store, nil
	}

	cond, ok := makeCondition(r.pending)
	if !ok {
		return store, nil
	}

	nop := ir.NewEvaluate(ir.MakeConst(ir.Int64(), 1))
	assert := ir.NewAssertStmt(cond, outOfBoundsMessage, nop)

	return ir.NewIfThenElse(cond, store, assert), nil
}

// rewriteExpr walks expressions looking for Loads to instrument and
// tvm_if_then_else calls that suppress instrumentation of their store
// (spec §4.2's unsafe_rewritten flag).
func (r *rewriter) rewriteExpr(e ir.Expr) (ir.Expr, error) {
	switch n := e.(type) {
	case nil:
		return nil, nil
	case *ir.Load:
		if r.canInstrument(n.Index, n.Buffer) {
			r.collect(n.Index, n.Buffer)
		}
		index, err := r.rewriteExpr(n.Index)
		if err != nil {
			return nil, err
		}
		predicate, err := r.rewriteExpr(n.Predicate)
		if err != nil {
			return nil, err
		}
		return ir.NewLoad(n.Dtype, n.Buffer, index, predicate), nil
	case *ir.Call:
		if r.insideStoreValue && n.IsIntrinsic(attr.IfThenElse) {
			r.unsafeRewritten = true
		}
		if n.IsIntrinsic(attr.AccessPtr) {
			if err := checkAccessPtrShape(n); err != nil {
				return nil, err
			}
		}
		args := make([]ir.Expr, len(n.Args))
		for i, a := range n.Args {
			rewritten, err := r.rewriteExpr(a)
			if err != nil {
				return nil, err
			}
			args[i] = rewritten
		}
		return &ir.Call{Name: n.Name, Args: args, Kind: n.Kind}, nil
	case *ir.Cast:
		value, err := r.rewriteExpr(n.Value)
		if err != nil {
			return nil, err
		}
		return ir.NewCast(n.To, value), nil
	case *ir.BinExpr:
		a, err := r.rewriteExpr(n.A)
		if err != nil {
			return nil, err
		}
		b, err := r.rewriteExpr(n.B)
		if err != nil {
			return nil, err
		}
		return &ir.BinExpr{Op: n.Op, A: a, B: b}, nil
	case *ir.Not:
		value, err := r.rewriteExpr(n.Value)
		if err != nil {
			return nil, err
		}
		return ir.NewNot(value), nil
	case *ir.Ramp:
		base, err := r.rewriteExpr(n.Base)
		if err != nil {
			return nil, err
		}
		stride, err := r.rewriteExpr(n.Stride)
		if err != nil {
			return nil, err
		}
		return ir.NewRamp(base, stride, n.Lanes), nil
	default:
		// VarExpr, IntConst: no children.
		return e, nil
	}
}

// checkAccessPtrShape enforces the two fatal malformed-IR conditions spec
// §7 assigns to access_ptr: a non-constant rw_mask, and a non-Var buffer
// argument.
func checkAccessPtrShape(c *ir.Call) error {
	if len(c.Args) != attr.AccessPtrArity {
		return errors.New("tvm_access_ptr: expected %d args, got %d", attr.AccessPtrArity, len(c.Args))
	}
	if _, ok := ir.GetConstInt(c.Args[attr.AccessPtrRWMask]); !ok {
		return errors.New("tvm_access_ptr: rw_mask must be a compile-time constant")
	}
	if ve, ok := c.Args[attr.AccessPtrBuffer].(*ir.VarExpr); !ok || ve == nil {
		return errors.New("tvm_access_ptr: buffer argument must be a Var")
	}
	return nil
}

func (r *rewriter) canInstrument(index ir.Expr, buffer *ir.Var) bool {
	if buffer == nil || r.unsafeRewritten {
		return false
	}
	if _, ok := r.shapes[buffer]; !ok {
		return false
	}
	return isWellFormedIndex(index)
}

func (r *rewriter) collect(index ir.Expr, buffer *ir.Var) {
	r.pending = append(r.pending, pendingCheck{index: index, upper: r.shapes[buffer]})
}

// isWellFormedIndex accepts a plain scalar index, or a Ramp with defined
// scalar base/stride and a positive lane count and a non-negative stride
// (spec §9's "Ramp lower bound" open question is resolved here: a
// negative-stride Ramp is treated as not well-formed rather than
// extending the check to min(base, base+stride*(lanes-1))).
func isWellFormedIndex(index ir.Expr) bool {
	if index == nil {
		return false
	}
	ramp, ok := index.(*ir.Ramp)
	if !ok {
		return ir.TypeOf(index).IsScalar()
	}
	if ramp.Base == nil || ramp.Stride == nil || ramp.Lanes <= 0 {
		return false
	}
	if !ir.TypeOf(ramp.Base).IsScalar() || !ir.TypeOf(ramp.Stride).IsScalar() {
		return false
	}
	if ir.IsNegativeConst(ramp.Stride) {
		return false
	}
	return true
}

// makeCondition implements spec §4.2's MakeCondition. It returns ok=false
// when there is nothing to check, standing in for the original's
// StringImm "trivially discarded" sentinel (internal/ir has no string
// literal node, so the empty-input case is the Go-idiomatic equivalent).
func makeCondition(pending []pendingCheck) (ir.Expr, bool) {
	if len(pending) == 0 {
		return nil, false
	}

	var cond ir.Expr
	for i, p := range pending {
		index := p.index
		if ramp, ok := index.(*ir.Ramp); ok {
			last := ir.NewMul(ramp.Stride, ir.MakeConst(exprDtype(ramp.Stride), int64(ramp.Lanes-1)))
			index = ir.NewAdd(ramp.Base, last)
		}

		index = ir.Simplify(index)
		upper := ir.Simplify(p.upper)

		index = ir.NewCast(ir.Int64(), index)
		upper = ir.NewCast(ir.Int64(), upper)

		lower := ir.MakeZero(ir.Int64())
		current := ir.NewAnd(ir.NewGE(index, lower), ir.NewLT(index, upper))

		if i == 0 {
			cond = current
		} else {
			cond = ir.NewAnd(cond, current)
		}
	}

	return cond, true
}

// exprDtype best-efforts a dtype for a freshly synthesised constant; the
// stride's own dtype if known, Int64 otherwise. Mirrors the original's
// `make_const(ramp_index->stride.dtype(), ...)`.
func exprDtype(e ir.Expr) ir.DataType {
	switch n := e.(type) {
	case *ir.IntConst:
		return n.Dtype
	case *ir.Cast:
		return n.To
	default:
		return ir.Int64()
	}
}
