package ir

// Substitute is the pure substitution spec §6 requires from a
// collaborator (`substitute(stmt, {var->expr, ...})`). It replaces every
// VarExpr referencing one of the given variable identities with the
// paired expression, recursing through the whole statement tree.
// Buffer/loop-var binding sites themselves are never substituted (a
// substitution target is always a value-position variable, never a
// buffer or loop-variable identity being renamed in place — renaming a
// binding site is SubstituteVar's job).
func Substitute(stmt Stmt, repl map[*Var]Expr) Stmt {
	if len(repl) == 0 || stmt == nil {
		return stmt
	}
	return substStmt(stmt, repl)
}

// SubstituteExpr applies the same substitution to a bare expression.
func SubstituteExpr(e Expr, repl map[*Var]Expr) Expr {
	if len(repl) == 0 {
		return e
	}
	return substExpr(e, repl)
}

// SubstituteVar renames every binding site (and VarExpr reference) of
// `from` to `to` throughout stmt. Used by the SSA re-canonicaliser (spec
// §4.5) to make a duplicated variable unique again.
func SubstituteVar(stmt Stmt, from, to *Var) Stmt {
	return renameStmt(stmt, from, to)
}

func substExpr(e Expr, repl map[*Var]Expr) Expr {
	switch n := e.(type) {
	case *VarExpr:
		if r, ok := repl[n.V]; ok {
			return r
		}
		return n
	case *IntConst:
		return n
	case *Cast:
		return NewCast(n.To, substExpr(n.Value, repl))
	case *BinExpr:
		return &BinExpr{Op: n.Op, A: substExpr(n.A, repl), B: substExpr(n.B, repl)}
	case *Not:
		return NewNot(substExpr(n.Value, repl))
	case *Load:
		return NewLoad(n.Dtype, n.Buffer, substExpr(n.Index, repl), substExprMaybe(n.Predicate, repl))
	case *Ramp:
		return NewRamp(substExpr(n.Base, repl), substExpr(n.Stride, repl), n.Lanes)
	case *Call:
		args := make([]Expr, len(n.Args))
		for i, a := range n.Args {
			args[i] = substExpr(a, repl)
		}
		return &Call{Name: n.Name, Args: args, Kind: n.Kind}
	default:
		return e
	}
}

func substExprMaybe(e Expr, repl map[*Var]Expr) Expr {
	if e == nil {
		return nil
	}
	return substExpr(e, repl)
}

func substStmt(s Stmt, repl map[*Var]Expr) Stmt {
	switch n := s.(type) {
	case *Allocate:
		extents := make([]Expr, len(n.Extents))
		for i, e := range n.Extents {
			extents[i] = substExpr(e, repl)
		}
		out := &Allocate{
			Buffer:    n.Buffer,
			Dtype:     n.Dtype,
			Extents:   extents,
			Condition: substExprMaybe(n.Condition, repl),
			Body:      substStmt(n.Body, repl),
			NewExpr:   substExprMaybe(n.NewExpr, repl),
			FreeFn:    n.FreeFn,
		}
		return out
	case *Store:
		return NewStore(n.Buffer, substExpr(n.Value, repl), substExpr(n.Index, repl), substExprMaybe(n.Predicate, repl))
	case *For:
		return NewFor(n.LoopVar, substExpr(n.Min, repl), substExpr(n.Extent, repl), n.Kind, substStmt(n.Body, repl))
	case *LetStmt:
		return NewLetStmt(n.Var, substExpr(n.Value, repl), substStmt(n.Body, repl))
	case *IfThenElse:
		var elseCase Stmt
		if n.Else != nil {
			elseCase = substStmt(n.Else, repl)
		}
		return NewIfThenElse(substExpr(n.Cond, repl), substStmt(n.Then, repl), elseCase)
	case *Block:
		var rest Stmt
		if n.Rest != nil {
			rest = substStmt(n.Rest, repl)
		}
		return NewBlock(substStmt(n.First, repl), rest)
	case *Evaluate:
		return NewEvaluate(substExpr(n.Value, repl))
	case *AttrStmt:
		return NewAttrStmt(n.Node, n.Key, substExprMaybe(n.Value, repl), substStmt(n.Body, repl))
	case *AssertStmt:
		return NewAssertStmt(substExpr(n.Cond, repl), n.Message, substStmt(n.Body, repl))
	case *Provide:
		args := make([]Expr, len(n.Args))
		for i, a := range n.Args {
			args[i] = substExpr(a, repl)
		}
		return &Provide{Buffer: n.Buffer, Args: args, Value: substExpr(n.Value, repl)}
	default:
		return s
	}
}

func renameExpr(e Expr, from, to *Var) Expr {
	switch n := e.(type) {
	case *VarExpr:
		if n.V == from {
			return NewVarExpr(to)
		}
		return n
	case *Cast:
		return NewCast(n.To, renameExpr(n.Value, from, to))
	case *BinExpr:
		return &BinExpr{Op: n.Op, A: renameExpr(n.A, from, to), B: renameExpr(n.B, from, to)}
	case *Not:
		return NewNot(renameExpr(n.Value, from, to))
	case *Load:
		buf := n.Buffer
		if buf == from {
			buf = to
		}
		return NewLoad(n.Dtype, buf, renameExpr(n.Index, from, to), renameExprMaybe(n.Predicate, from, to))
	case *Ramp:
		return NewRamp(renameExpr(n.Base, from, to), renameExpr(n.Stride, from, to), n.Lanes)
	case *Call:
		args := make([]Expr, len(n.Args))
		for i, a := range n.Args {
			args[i] = renameExpr(a, from, to)
		}
		return &Call{Name: n.Name, Args: args, Kind: n.Kind}
	default:
		return e
	}
}

func renameExprMaybe(e Expr, from, to *Var) Expr {
	if e == nil {
		return nil
	}
	return renameExpr(e, from, to)
}

func renameStmt(s Stmt, from, to *Var) Stmt {
	switch n := s.(type) {
	case *Allocate:
		buf := n.Buffer
		if buf == from {
			buf = to
		}
		extents := make([]Expr, len(n.Extents))
		for i, e := range n.Extents {
			extents[i] = renameExpr(e, from, to)
		}
		return &Allocate{
			Buffer:    buf,
			Dtype:     n.Dtype,
			Extents:   extents,
			Condition: renameExprMaybe(n.Condition, from, to),
			Body:      renameStmt(n.Body, from, to),
			NewExpr:   renameExprMaybe(n.NewExpr, from, to),
			FreeFn:    n.FreeFn,
		}
	case *Store:
		buf := n.Buffer
		if buf == from {
			buf = to
		}
		return NewStore(buf, renameExpr(n.Value, from, to), renameExpr(n.Index, from, to), renameExprMaybe(n.Predicate, from, to))
	case *For:
		loopVar := n.LoopVar
		if loopVar == from {
			loopVar = to
		}
		return NewFor(loopVar, renameExpr(n.Min, from, to), renameExpr(n.Extent, from, to), n.Kind, renameStmt(n.Body, from, to))
	case *LetStmt:
		v := n.Var
		if v == from {
			v = to
		}
		return NewLetStmt(v, renameExpr(n.Value, from, to), renameStmt(n.Body, from, to))
	case *IfThenElse:
		var elseCase Stmt
		if n.Else != nil {
			elseCase = renameStmt(n.Else, from, to)
		}
		return NewIfThenElse(renameExpr(n.Cond, from, to), renameStmt(n.Then, from, to), elseCase)
	case *Block:
		var rest Stmt
		if n.Rest != nil {
			rest = renameStmt(n.Rest, from, to)
		}
		return NewBlock(renameStmt(n.First, from, to), rest)
	case *Evaluate:
		return NewEvaluate(renameExpr(n.Value, from, to))
	case *AttrStmt:
		node := n.Node
		if iv, ok := node.(*IterVar); ok && iv.Var == from {
			node = &IterVar{Var: to, ThreadTag: iv.ThreadTag}
		} else if v, ok := node.(*Var); ok && v == from {
			node = to
		}
		return NewAttrStmt(node, n.Key, renameExprMaybe(n.Value, from, to), renameStmt(n.Body, from, to))
	case *AssertStmt:
		return NewAssertStmt(renameExpr(n.Cond, from, to), n.Message, renameStmt(n.Body, from, to))
	default:
		return s
	}
}
