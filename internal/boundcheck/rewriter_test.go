package boundcheck

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corani/tirpass/internal/attr"
	"github.com/corani/tirpass/internal/ir"
)

func i32() ir.DataType { return ir.NewDataType(ir.Int, 32, 1) }

// S1 — Scalar in-bounds instrumentation (spec §8).
func TestInstrument_ScalarInBounds(t *testing.T) {
	a := ir.NewVar("A", i32())

	program := ir.NewAttrStmt(a, attr.BufferBound, ir.NewIntConst(i32(), 100),
		ir.NewStore(a, ir.NewIntConst(i32(), 1), ir.NewIntConst(i32(), 5), nil))

	out, err := Instrument(program)
	require.NoError(t, err)

	expected := ir.NewAttrStmt(a, attr.BufferBound, ir.NewIntConst(i32(), 100),
		ir.NewIfThenElse(
			ir.NewAnd(
				ir.NewGE(ir.NewCast(ir.Int64(), ir.NewIntConst(i32(), 5)), ir.MakeZero(ir.Int64())),
				ir.NewLT(ir.NewCast(ir.Int64(), ir.NewIntConst(i32(), 5)), ir.NewCast(ir.Int64(), ir.NewIntConst(i32(), 100))),
			),
			ir.NewStore(a, ir.NewIntConst(i32(), 1), ir.NewIntConst(i32(), 5), nil),
			ir.NewAssertStmt(
				ir.NewAnd(
					ir.NewGE(ir.NewCast(ir.Int64(), ir.NewIntConst(i32(), 5)), ir.MakeZero(ir.Int64())),
					ir.NewLT(ir.NewCast(ir.Int64(), ir.NewIntConst(i32(), 5)), ir.NewCast(ir.Int64(), ir.NewIntConst(i32(), 100))),
				),
				outOfBoundsMessage,
				ir.NewEvaluate(ir.MakeConst(ir.Int64(), 1)),
			),
		))

	require.Equal(t, ir.Print(expected), ir.Print(out))
}

// S2 — Ramp expansion (spec §8): Ramp(base=2, stride=1, lanes=4) against
// bound 10 checks int64(2 + 1*3) < int64(10).
func TestInstrument_RampExpansion(t *testing.T) {
	b := ir.NewVar("B", i32().WithLanes(4))

	ramp := ir.NewRamp(ir.NewIntConst(i32(), 2), ir.NewIntConst(i32(), 1), 4)
	program := ir.NewAttrStmt(b, attr.BufferBound, ir.NewIntConst(i32(), 10),
		ir.NewStore(b, ir.NewIntConst(i32(), 1), ramp, nil))

	out, err := Instrument(program)
	require.NoError(t, err)

	wantUpper := ir.NewCast(ir.Int64(), ir.NewIntConst(i32(), 5))
	gotStr := ir.Print(out)

	require.Contains(t, gotStr, ir.PrintExpr(wantUpper))
	require.Contains(t, gotStr, "if ")
}

// S3 — store-value guard suppresses instrumentation of the enclosing
// store (spec §8). Per original_source/src/pass/bound_checker.cc, the
// unsafe_rewritten flag is set the moment the tvm_if_then_else call is
// visited, before its own arguments are walked — so a Load nested inside
// that same intrinsic's arguments is suppressed too, not just the store
// around it. A Load against the same buffer in an unrelated, later store
// is unaffected: the flag is reset at the start of every Store (DESIGN.md
// documents this as the grounded, not-guessed, reading of spec §8's S3).
func TestInstrument_IfThenElseGuardSuppressesStore(t *testing.T) {
	a := ir.NewVar("A", i32())
	b := ir.NewVar("B", i32())
	condVar := ir.NewVar("cond", ir.NewDataType(ir.UInt, 1, 1))

	guarded := ir.NewIntrinsic(attr.IfThenElse, []ir.Expr{
		ir.NewVarExpr(condVar),
		ir.NewLoad(i32(), b, ir.NewIntConst(i32(), 1), nil),
		ir.NewIntConst(i32(), 0),
	})

	guardedStore := ir.NewStore(a, guarded, ir.NewIntConst(i32(), 3), nil)
	laterStore := ir.NewStore(a, ir.NewLoad(i32(), b, ir.NewIntConst(i32(), 2), nil), ir.NewIntConst(i32(), 4), nil)

	program := ir.NewAttrStmt(a, attr.BufferBound, ir.NewIntConst(i32(), 100),
		ir.NewAttrStmt(b, attr.BufferBound, ir.NewIntConst(i32(), 100),
			ir.NewBlock(guardedStore, laterStore)))

	out, err := Instrument(program)
	require.NoError(t, err)

	got := ir.Print(out)

	// The guarded store itself is not wrapped: it prints at the top level,
	// not indented under an if.
	require.Contains(t, got, "\nstore A[3]")
	// The later, unguarded store against the same buffer is instrumented.
	require.Contains(t, got, "assert")
}

// A malformed tvm_access_ptr (spec §7) is fatal wherever it appears,
// including nested in a For's extent rather than a Store.
func TestInstrument_MalformedAccessPtrIsFatal(t *testing.T) {
	a := ir.NewVar("A", i32())
	i := ir.NewVar("i", i32())

	badAccessPtr := ir.NewIntrinsic(attr.AccessPtr, []ir.Expr{
		ir.NewIntConst(i32(), 0),
		ir.NewIntConst(i32(), 0), // buffer argument must be a Var, not a constant
		ir.NewIntConst(i32(), 0),
		ir.NewIntConst(i32(), 0),
		ir.NewIntConst(i32(), attr.RWRead),
	})

	loop := ir.NewFor(i, ir.NewIntConst(i32(), 0), badAccessPtr, ir.Serial,
		ir.NewStore(a, ir.NewIntConst(i32(), 1), ir.NewVarExpr(i), nil))

	_, err := Instrument(loop)
	require.Error(t, err)
}

// A malformed tvm_access_ptr nested in an IfThenElse's condition, a
// LetStmt's value, and an AssertStmt's condition are all still fatal
// (spec §4.2's general access-handling rule applies wherever an
// expression appears, not just inside a Store).
func TestInstrument_MalformedAccessPtrFatalInOtherExprPositions(t *testing.T) {
	l := ir.NewVar("l", i32())

	badAccessPtr := func() ir.Expr {
		return ir.NewIntrinsic(attr.AccessPtr, []ir.Expr{
			ir.NewIntConst(i32(), 0),
			ir.NewIntConst(i32(), 0), // buffer argument must be a Var, not a constant
			ir.NewIntConst(i32(), 0),
			ir.NewIntConst(i32(), 0),
			ir.NewIntConst(i32(), attr.RWRead),
		})
	}
	nop := ir.NewEvaluate(ir.MakeConst(i32(), 1))

	ifProgram := ir.NewIfThenElse(badAccessPtr(), nop, nil)
	_, err := Instrument(ifProgram)
	require.Error(t, err)

	letProgram := ir.NewLetStmt(l, badAccessPtr(), nop)
	_, err = Instrument(letProgram)
	require.Error(t, err)

	assertProgram := ir.NewAssertStmt(badAccessPtr(), outOfBoundsMessage, nop)
	_, err = Instrument(assertProgram)
	require.Error(t, err)
}
