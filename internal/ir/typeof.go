package ir

// TypeOf best-effort infers the dtype an expression computes. It exists
// for the handful of call sites (tvm_access_ptr lane-width arithmetic and
// allocation widening in internal/vthread, scalar checks in
// internal/boundcheck) that need an expression's width without threading a
// separate type-checking pass through the whole module; every concrete
// node below either carries its dtype directly or defers to a child's.
func TypeOf(e Expr) DataType {
	switch n := e.(type) {
	case *VarExpr:
		return n.V.Dtype
	case *IntConst:
		return n.Dtype
	case *Cast:
		return n.To
	case *Load:
		return n.Dtype
	case *Ramp:
		return TypeOf(n.Base).WithLanes(n.Lanes)
	case *BinExpr:
		return TypeOf(n.A)
	case *Not:
		return TypeOf(n.Value)
	default:
		return Int64()
	}
}
