package ir

// This file is the "IR construction API" spec §6 requires from a
// collaborator: a constructor per node kind plus the small predicates and
// scalar builders the two passes call directly (IsZero, IsNegativeConst,
// MakeConst, MakeZero, GetConstInt).

// NewVarExpr wraps a variable identity as an expression.
func NewVarExpr(v *Var) *VarExpr { return &VarExpr{V: v} }

// NewIntConst builds an integer literal.
func NewIntConst(dtype DataType, value int64) *IntConst {
	return &IntConst{Dtype: dtype, Value: value}
}

// NewCast builds a Cast node. Casting to the same type is still
// constructed (callers that want to avoid the no-op should check first);
// Simplify folds it away.
func NewCast(to DataType, value Expr) *Cast {
	return &Cast{To: to, Value: value}
}

func bin(op BinOp, a, b Expr) *BinExpr { return &BinExpr{Op: op, A: a, B: b} }

func NewAdd(a, b Expr) *BinExpr { return bin(OpAdd, a, b) }
func NewSub(a, b Expr) *BinExpr { return bin(OpSub, a, b) }
func NewMul(a, b Expr) *BinExpr { return bin(OpMul, a, b) }
func NewDiv(a, b Expr) *BinExpr { return bin(OpDiv, a, b) }
func NewMod(a, b Expr) *BinExpr { return bin(OpMod, a, b) }
func NewAnd(a, b Expr) *BinExpr { return bin(OpAnd, a, b) }
func NewOr(a, b Expr) *BinExpr  { return bin(OpOr, a, b) }
func NewGE(a, b Expr) *BinExpr  { return bin(OpGE, a, b) }
func NewLT(a, b Expr) *BinExpr  { return bin(OpLT, a, b) }
func NewEQ(a, b Expr) *BinExpr  { return bin(OpEQ, a, b) }

// NewNot builds a logical negation.
func NewNot(value Expr) *Not { return &Not{Value: value} }

// NewLoad builds a Load. predicate may be nil.
func NewLoad(dtype DataType, buffer *Var, index, predicate Expr) *Load {
	return &Load{Dtype: dtype, Buffer: buffer, Index: index, Predicate: predicate}
}

// NewRamp builds a Ramp index. Base and stride must be scalar per spec §3.
func NewRamp(base, stride Expr, lanes int) *Ramp {
	return &Ramp{Base: base, Stride: stride, Lanes: lanes}
}

// NewCall builds an opaque (non-intrinsic) call.
func NewCall(name string, args []Expr) *Call {
	return &Call{Name: name, Args: args, Kind: CallExtern}
}

// NewIntrinsic builds a call to one of the named intrinsics
// (internal/attr holds the recognised names).
func NewIntrinsic(name string, args []Expr) *Call {
	return &Call{Name: name, Args: args, Kind: CallIntrinsic}
}

// IsIntrinsic reports whether c is the named intrinsic.
func (c *Call) IsIntrinsic(name string) bool {
	return c.Kind == CallIntrinsic && c.Name == name
}

// NewAllocate builds an Allocate statement.
func NewAllocate(buffer *Var, dtype DataType, extents []Expr, condition Expr, body Stmt) *Allocate {
	return &Allocate{Buffer: buffer, Dtype: dtype, Extents: extents, Condition: condition, Body: body}
}

// WithExternStorage attaches an externally-managed allocator/free pair,
// marking this allocation as non-replicable storage (spec §4.4 "Allocation
// widening": a defined NewExpr always forces injection at this node).
func (a *Allocate) WithExternStorage(newExpr Expr, freeFn string) *Allocate {
	out := *a
	out.NewExpr = newExpr
	out.FreeFn = freeFn
	return &out
}

// NewStore builds a Store statement. predicate may be nil.
func NewStore(buffer *Var, value, index, predicate Expr) *Store {
	return &Store{Buffer: buffer, Value: value, Index: index, Predicate: predicate}
}

// NewFor builds a For loop over [min, min+extent). min is not required to
// be zero.
func NewFor(loopVar *Var, min, extent Expr, kind ForKind, body Stmt) *For {
	return &For{LoopVar: loopVar, Min: min, Extent: extent, Kind: kind, Body: body}
}

// NewLetStmt builds a let-binding statement.
func NewLetStmt(v *Var, value Expr, body Stmt) *LetStmt {
	return &LetStmt{Var: v, Value: value, Body: body}
}

// NewIfThenElse builds a conditional statement. elseCase may be nil.
func NewIfThenElse(cond Expr, thenCase, elseCase Stmt) *IfThenElse {
	return &IfThenElse{Cond: cond, Then: thenCase, Else: elseCase}
}

// NewBlock chains first before rest. rest may be nil.
func NewBlock(first, rest Stmt) *Block {
	if first == nil {
		return &Block{First: rest}
	}
	return &Block{First: first, Rest: rest}
}

// Seq builds a right-leaning Block chain out of a statement list, dropping
// nil entries. It returns nil for an empty list and the bare statement for
// a single-element list (spec §3's Block is a pair, never a 0- or 1-ary
// node).
func Seq(stmts ...Stmt) Stmt {
	var filtered []Stmt
	for _, s := range stmts {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	out := filtered[len(filtered)-1]
	for i := len(filtered) - 2; i >= 0; i-- {
		out = NewBlock(filtered[i], out)
	}
	return out
}

// NewEvaluate builds an expression-statement.
func NewEvaluate(value Expr) *Evaluate { return &Evaluate{Value: value} }

// NewAttrStmt builds an attribute statement.
func NewAttrStmt(node any, key string, value Expr, body Stmt) *AttrStmt {
	return &AttrStmt{Node: node, Key: key, Value: value, Body: body}
}

// NewAssertStmt builds an assertion statement.
func NewAssertStmt(cond Expr, message string, body Stmt) *AssertStmt {
	return &AssertStmt{Cond: cond, Message: message, Body: body}
}

// NewProvide builds a pre-flattening Provide node, used only by tests that
// exercise the "Provide reached the vthread pass" fatal condition.
func NewProvide(buffer *Var, args []Expr, value Expr) *Provide {
	return &Provide{Buffer: buffer, Args: args, Value: value}
}

// MakeConst builds a constant of the given scalar dtype.
func MakeConst(dtype DataType, n int64) Expr {
	return NewIntConst(dtype, n)
}

// MakeZero builds the zero constant of dtype.
func MakeZero(dtype DataType) Expr {
	return MakeConst(dtype, 0)
}

// IsZero reports whether e is syntactically the constant zero.
func IsZero(e Expr) bool {
	n, ok := GetConstInt(e)
	return ok && n == 0
}

// IsNegativeConst reports whether e is syntactically a negative integer
// constant.
func IsNegativeConst(e Expr) bool {
	n, ok := GetConstInt(e)
	return ok && n < 0
}

// GetConstInt extracts the value of an IntConst, looking through Cast
// nodes (a cast of a constant is still a compile-time constant).
func GetConstInt(e Expr) (int64, bool) {
	switch n := e.(type) {
	case *IntConst:
		return n.Value, true
	case *Cast:
		return GetConstInt(n.Value)
	default:
		return 0, false
	}
}
