package vthread

import (
	"tlog.app/go/errors"

	"github.com/corani/tirpass/internal/attr"
	"github.com/corani/tirpass/internal/ir"
)

// accessPtrArgs is the parsed argument list of a tvm_access_ptr call
// (spec §6: arity 5, order dtype, buffer_var, offset, extent, rw_mask).
type accessPtrArgs struct {
	dtype         ir.DataType
	buffer        *ir.Var
	offset, extent ir.Expr
	rwMask        int64
}

// parseAccessPtr validates and extracts a tvm_access_ptr call's
// arguments. Both a non-constant rw_mask and a non-Var buffer argument
// are fatal malformed-IR conditions (spec §7).
func parseAccessPtr(c *ir.Call) (accessPtrArgs, error) {
	if len(c.Args) != attr.AccessPtrArity {
		return accessPtrArgs{}, errors.New("tvm_access_ptr: expected %d args, got %d", attr.AccessPtrArity, len(c.Args))
	}

	rwMask, ok := ir.GetConstInt(c.Args[attr.AccessPtrRWMask])
	if !ok {
		return accessPtrArgs{}, errors.New("tvm_access_ptr: rw_mask must be a compile-time constant")
	}

	ve, ok := c.Args[attr.AccessPtrBuffer].(*ir.VarExpr)
	if !ok {
		return accessPtrArgs{}, errors.New("tvm_access_ptr: buffer argument must be a Var")
	}

	return accessPtrArgs{
		dtype:  ir.TypeOf(c.Args[attr.AccessPtrDtype]),
		buffer: ve.V,
		offset: c.Args[attr.AccessPtrOffset],
		extent: c.Args[attr.AccessPtrExtent],
		rwMask: rwMask,
	}, nil
}
