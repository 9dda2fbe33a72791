package vthread

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corani/tirpass/internal/attr"
	"github.com/corani/tirpass/internal/ir"
)

func i32() ir.DataType { return ir.NewDataType(ir.Int, 32, 1) }

// S4 — vthread unroll (spec §8): N=2, allow_share=true, A touched. The
// Store (the only statement referencing the thread variable) is the
// injection point; Allocate itself stays singular with its shape
// prepended by N, and its body becomes a two-way unrolled Block with no
// enclosing For.
func TestInject_VThreadUnroll(t *testing.T) {
	v := ir.NewVar("v", i32())
	a := ir.NewVar("A", i32())

	store := ir.NewStore(a, ir.NewVarExpr(v), ir.NewIntConst(i32(), 0), nil)
	alloc := ir.NewAllocate(a, i32(), []ir.Expr{ir.NewIntConst(i32(), 10)}, nil, store)

	touched := map[*ir.Var]bool{v: true, a: true}
	inj := newInjector(v, 2, touched, true)
	out := inj.rewriteStmt(alloc)
	require.NoError(t, inj.err)

	got := ir.Print(out)
	require.NotContains(t, got, "for ")
	require.Contains(t, got, "allocate A[2, 10]")
	require.Contains(t, got, "= 0")
	require.Contains(t, got, "= 1")
}

// S5 — vthread loop (spec §8): same shape as S4 but N=32, which exceeds
// the unroll threshold, so the injector emits a serial For over a fresh
// index variable instead of unrolling.
func TestInject_VThreadLoop(t *testing.T) {
	v := ir.NewVar("v", i32())
	a := ir.NewVar("A", i32())

	store := ir.NewStore(a, ir.NewVarExpr(v), ir.NewIntConst(i32(), 0), nil)
	alloc := ir.NewAllocate(a, i32(), []ir.Expr{ir.NewIntConst(i32(), 10)}, nil, store)

	touched := map[*ir.Var]bool{v: true, a: true}
	inj := newInjector(v, 32, touched, true)
	out := inj.rewriteStmt(alloc)
	require.NoError(t, inj.err)

	got := ir.Print(out)
	require.Contains(t, got, "for v.s in [0, 0+32)")
}

// S6 — cthread privatises untouched (spec §8): B does not depend on v,
// but allow_share=false (cthread) forces widening anyway, and
// tvm_context_id calls inside the body are replaced by the thread index.
func TestInject_CThreadPrivatisesUntouched(t *testing.T) {
	v := ir.NewVar("v", i32())
	b := ir.NewVar("B", i32())

	contextID := ir.NewIntrinsic(attr.ContextID, nil)
	body := ir.NewEvaluate(contextID)
	alloc := ir.NewAllocate(b, i32(), []ir.Expr{ir.NewIntConst(i32(), 3)}, nil, body)

	touched := map[*ir.Var]bool{v: true} // B is NOT touched
	inj := newInjector(v, 4, touched, false)
	out := inj.rewriteStmt(alloc)
	require.NoError(t, inj.err)

	got := ir.Print(out)
	require.Contains(t, got, "allocate B[4, 3]")
	require.Contains(t, got, "evaluate 0")
	require.Contains(t, got, "evaluate 1")
	require.Contains(t, got, "evaluate 2")
	require.Contains(t, got, "evaluate 3")
}

// End-to-end: Inject on a tree where touched-ness must be derived via
// the analysis (not hand-supplied), exercising TouchedVars, the
// injector, and the final re-canonicalisation pass together. Store
// treats its buffer var as a record target (spec §4.3): since this
// Store's index references v directly, A itself becomes touched and
// gets widened, not just the index substituted.
func TestInject_EndToEndDerivesTouchedSet(t *testing.T) {
	v := ir.NewVar("v", i32())
	a := ir.NewVar("A", i32())
	iv := ir.NewIterVar(v, "vthread")

	store := ir.NewStore(a, ir.NewIntConst(i32(), 1), ir.NewVarExpr(v), nil)
	alloc := ir.NewAllocate(a, i32(), []ir.Expr{ir.NewIntConst(i32(), 10)}, nil, store)
	program := ir.NewAttrStmt(iv, attr.VirtualThread, ir.NewIntConst(i32(), 2), alloc)

	out, err := Inject(program)
	require.NoError(t, err)

	got := ir.Print(out)
	require.NotContains(t, got, "virtual_thread")
	require.Contains(t, got, "allocate A[2, 10]")
	require.NotContains(t, got, "for ")
}

// A Provide statement anywhere in the tree is a fatal malformed-IR
// condition for this pass (spec §7): flattening must run first.
func TestInject_ProvideIsFatal(t *testing.T) {
	a := ir.NewVar("A", i32())
	program := ir.NewProvide(a, []ir.Expr{ir.NewIntConst(i32(), 0)}, ir.NewIntConst(i32(), 1))

	_, err := Inject(program)
	require.Error(t, err)
}

// Re-canonicalisation renames a variable's second binding site so two
// unrolled copies of the same local LetStmt don't collide (spec §4.5,
// invariant 5).
func TestRecanonicalize_RenamesDuplicateBindingSite(t *testing.T) {
	x := ir.NewVar("x", i32())
	mkBody := func(n int64) ir.Stmt {
		return ir.NewLetStmt(x, ir.NewIntConst(i32(), n),
			ir.NewEvaluate(ir.NewVarExpr(x)))
	}

	dup := ir.NewBlock(mkBody(0), mkBody(1))
	out := recanonicalize(dup)

	first, ok := out.(*ir.Block).First.(*ir.LetStmt)
	require.True(t, ok)
	rest, ok := out.(*ir.Block).Rest.(*ir.LetStmt)
	require.True(t, ok)

	require.Same(t, x, first.Var)
	require.NotSame(t, x, rest.Var)
	require.NotEqual(t, first.Var.Name, rest.Var.Name)
}

// Alias freedom (invariant 4): the two unrolled copies of a widened
// store index must differ, since each reads/writes a disjoint per-thread
// slice.
func TestInject_WidenedIndicesDifferAcrossThreads(t *testing.T) {
	v := ir.NewVar("v", i32())
	a := ir.NewVar("A", i32())

	store := ir.NewStore(a, ir.NewIntConst(i32(), 7), ir.NewIntConst(i32(), 0), nil)
	alloc := ir.NewAllocate(a, i32(), []ir.Expr{ir.NewIntConst(i32(), 10)}, nil, store)

	touched := map[*ir.Var]bool{v: true, a: true}
	inj := newInjector(v, 2, touched, true)
	out := inj.rewriteStmt(alloc)
	require.NoError(t, inj.err)

	block, ok := out.(*ir.Allocate).Body.(*ir.Block)
	require.True(t, ok)

	s0 := block.First.(*ir.Store)
	s1 := block.Rest.(*ir.Store)
	require.NotEqual(t, ir.PrintExpr(s0.Index), ir.PrintExpr(s1.Index))
}

// tvm_access_ptr against a widened buffer (spec §4.4 "Intrinsic
// handling"): its offset is shifted by v*stride and it is unconditionally
// reported touched, whether or not its own arguments reference v.
func TestInject_AccessPtrRewrittenForWidenedBuffer(t *testing.T) {
	v := ir.NewVar("v", i32())
	a := ir.NewVar("A", i32())

	accessPtr := ir.NewIntrinsic(attr.AccessPtr, []ir.Expr{
		ir.NewIntConst(i32(), 0),
		ir.NewVarExpr(a),
		ir.NewVarExpr(v),
		ir.NewIntConst(i32(), 5),
		ir.NewIntConst(i32(), attr.RWRead),
	})
	body := ir.NewEvaluate(accessPtr)
	alloc := ir.NewAllocate(a, i32(), []ir.Expr{ir.NewIntConst(i32(), 10)}, nil, body)

	touched := map[*ir.Var]bool{v: true, a: true}
	inj := newInjector(v, 2, touched, true)
	out := inj.rewriteStmt(alloc)
	require.NoError(t, inj.err)

	got := ir.Print(out)
	require.Contains(t, got, "allocate A[2, 10]")
	require.Equal(t, 2, strings.Count(got, "tvm_access_ptr"))
	require.NotContains(t, got, "for ")
}

// A bare Var reference to a widened buffer escaping outside a Load or
// tvm_access_ptr is a fatal malformed-IR condition (spec §7): the
// buffer's address can no longer be taken directly once it has been
// widened with a per-thread stride.
func TestInject_EscapingWidenedBufferVarIsFatal(t *testing.T) {
	v := ir.NewVar("v", i32())
	a := ir.NewVar("A", i32())

	body := ir.NewEvaluate(ir.NewVarExpr(a))
	alloc := ir.NewAllocate(a, i32(), []ir.Expr{ir.NewIntConst(i32(), 10)}, nil, body)

	touched := map[*ir.Var]bool{v: true, a: true}
	inj := newInjector(v, 2, touched, true)
	inj.rewriteStmt(alloc)

	require.Error(t, inj.err)
}

// coproc_scope / coproc_uop_scope force injection at a cthread (spec
// §4.4) even when nothing inside the region references the thread
// variable, because those regions must never be shared across threads.
func TestInject_CoprocScopeForcesInjectionWhenNotShared(t *testing.T) {
	v := ir.NewVar("v", i32())
	marker := ir.NewVar("marker", i32())

	region := ir.NewAttrStmt(marker, attr.CoprocScope, ir.NewIntConst(i32(), 0),
		ir.NewEvaluate(ir.NewIntConst(i32(), 1)))

	touched := map[*ir.Var]bool{} // nothing references v
	inj := newInjector(v, 3, touched, false)
	out := inj.rewriteStmt(region)
	require.NoError(t, inj.err)

	got := ir.Print(out)
	require.Equal(t, 3, strings.Count(got, "coproc_scope"))
	require.NotContains(t, got, "for ")
}
