// Command irpass drives the two lowering passes in this module against a
// handful of illustrative IR trees built directly in Go (spec §1 puts the
// front end that would otherwise parse these from source out of scope).
// It exists so the passes can be exercised end to end from a terminal
// instead of only from unit tests.
package main

import (
	"context"
	"fmt"
	"os"

	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/corani/tirpass/internal/attr"
	"github.com/corani/tirpass/internal/boundcheck"
	"github.com/corani/tirpass/internal/ir"
	"github.com/corani/tirpass/internal/vthread"
)

func main() {
	checkCmd := &cli.Command{
		Name:        "check",
		Description: "run the bound-check instrumentation pass over a sample tree",
		Action:      checkAct,
		Args:        cli.Args{},
	}

	vthreadCmd := &cli.Command{
		Name:        "vthread",
		Description: "run the virtual-thread injection pass over a sample tree",
		Action:      vthreadAct,
		Args:        cli.Args{},
	}

	app := &cli.Command{
		Name:        "irpass",
		Description: "irpass runs the bound-check and virtual-thread IR passes over sample trees",
		Commands: []*cli.Command{
			checkCmd,
			vthreadCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func i32() ir.DataType { return ir.NewDataType(ir.Int, 32, 1) }

// sampleBoundCheck builds a buffer_bound-annotated store whose index can
// exceed the declared bound, the shape instrument is meant to catch.
func sampleBoundCheck() ir.Stmt {
	a := ir.NewVar("A", i32())
	i := ir.NewVar("i", i32())

	store := ir.NewStore(a, ir.NewVarExpr(i), ir.NewVarExpr(i), nil)
	loop := ir.NewFor(i, ir.NewIntConst(i32(), 0), ir.NewIntConst(i32(), 16), ir.Serial, store)

	return ir.NewAttrStmt(a, attr.BufferBound, ir.NewIntConst(ir.UInt64(), 10), loop)
}

// sampleVThread builds a virtual_thread region where the store's index
// depends on the thread variable, forcing the enclosing buffer to widen.
func sampleVThread() ir.Stmt {
	v := ir.NewVar("v", i32())
	a := ir.NewVar("A", i32())
	iv := ir.NewIterVar(v, "vthread")

	store := ir.NewStore(a, ir.NewIntConst(i32(), 1), ir.NewVarExpr(v), nil)
	alloc := ir.NewAllocate(a, i32(), []ir.Expr{ir.NewIntConst(i32(), 10)}, nil, store)

	return ir.NewAttrStmt(iv, attr.VirtualThread, ir.NewIntConst(i32(), 2), alloc)
}

func checkAct(c *cli.Command) error {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	in := sampleBoundCheck()
	tlog.SpanFromContext(ctx).Printw("input", "tree", ir.Print(in))

	out, err := boundcheck.Instrument(in)
	if err != nil {
		return errors.Wrap(err, "instrument bound checks")
	}

	fmt.Printf("%s\n", ir.Print(out))

	return nil
}

func vthreadAct(c *cli.Command) error {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	in := sampleVThread()
	tlog.SpanFromContext(ctx).Printw("input", "tree", ir.Print(in))

	out, err := vthread.Inject(in)
	if err != nil {
		return errors.Wrap(err, "inject virtual threads")
	}

	fmt.Printf("%s\n", ir.Print(out))

	return nil
}
