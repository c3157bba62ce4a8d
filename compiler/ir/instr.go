package ir

// Uses returns the variables read by the instruction in operand order.
// A variable is listed once per operand position it occupies.
func Uses(x Instr) []Var {
	switch x := x.(type) {
	case Let:
		return nil
	case Move:
		return []Var{x.Src}
	case Prim:
		return x.Args
	case Apply:
		return x.Args
	case ApplyIndirect:
		return append([]Var{x.Closure}, x.Args...)
	case Closure:
		return x.Captures
	case Construct:
		return x.Args
	case Project:
		return []Var{x.Src}
	case Tag:
		return []Var{x.Src}
	case Inc:
		return []Var{x.Var}
	case Dec:
		return []Var{x.Var}
	case Reset:
		return []Var{x.Var}
	case Reuse:
		return append([]Var{x.Token}, x.Args...)
	case IsShared:
		return []Var{x.Var}
	case Set:
		return []Var{x.Var, x.Value}
	case SetTag:
		return []Var{x.Var}
	default:
		panic(x)
	}
}

func Def(x Instr) (Var, bool) {
	switch x := x.(type) {
	case Let:
		return x.Dst, true
	case Move:
		return x.Dst, true
	case Prim:
		return x.Dst, true
	case Apply:
		return x.Dst, true
	case ApplyIndirect:
		return x.Dst, true
	case Closure:
		return x.Dst, true
	case Construct:
		return x.Dst, true
	case Project:
		return x.Dst, true
	case Tag:
		return x.Dst, true
	case Reset:
		return x.Token, true
	case Reuse:
		return x.Dst, true
	case IsShared:
		return x.Dst, true
	case Inc, Dec, Set, SetTag:
		return 0, false
	default:
		panic(x)
	}
}

func UsesVar(x Instr, v Var) bool {
	for _, u := range Uses(x) {
		if u == v {
			return true
		}
	}

	return false
}

// IsRC reports whether x is an explicit count operation.
func IsRC(x Instr) bool {
	switch x.(type) {
	case Inc, Dec:
		return true
	}

	return false
}

// Substitute rewrites the operands of x. Definitions are kept.
func Substitute(x Instr, m func(Var) Var) Instr {
	switch x := x.(type) {
	case Let:
		return x
	case Move:
		x.Src = m(x.Src)
		return x
	case Prim:
		x.Args = mapVars(x.Args, m)
		return x
	case Apply:
		x.Args = mapVars(x.Args, m)
		return x
	case ApplyIndirect:
		x.Closure = m(x.Closure)
		x.Args = mapVars(x.Args, m)
		return x
	case Closure:
		x.Captures = mapVars(x.Captures, m)
		return x
	case Construct:
		x.Args = mapVars(x.Args, m)
		return x
	case Project:
		x.Src = m(x.Src)
		return x
	case Tag:
		x.Src = m(x.Src)
		return x
	case Inc:
		x.Var = m(x.Var)
		return x
	case Dec:
		x.Var = m(x.Var)
		return x
	case Reset:
		x.Var = m(x.Var)
		return x
	case Reuse:
		x.Token = m(x.Token)
		x.Args = mapVars(x.Args, m)
		return x
	case IsShared:
		x.Var = m(x.Var)
		return x
	case Set:
		x.Var = m(x.Var)
		x.Value = m(x.Value)
		return x
	case SetTag:
		x.Var = m(x.Var)
		return x
	default:
		panic(x)
	}
}

func TermUses(t Term) []Var {
	switch t := t.(type) {
	case Return:
		return []Var{t.Value}
	case Jump:
		return t.Args
	case Branch:
		return []Var{t.Cond}
	case Switch:
		return []Var{t.Value}
	case Unreachable, nil:
		return nil
	default:
		panic(t)
	}
}

func TermUsesVar(t Term, v Var) bool {
	for _, u := range TermUses(t) {
		if u == v {
			return true
		}
	}

	return false
}

func SubstituteTerm(t Term, m func(Var) Var) Term {
	switch t := t.(type) {
	case Return:
		t.Value = m(t.Value)
		return t
	case Jump:
		t.Args = mapVars(t.Args, m)
		return t
	case Branch:
		t.Cond = m(t.Cond)
		return t
	case Switch:
		t.Value = m(t.Value)
		return t
	case Unreachable:
		return t
	default:
		panic(t)
	}
}

// Successors lists distinct successor blocks in edge order.
func Successors(t Term) []BlockID {
	var r []BlockID

	add := func(b BlockID) {
		if b == NoBlock {
			return
		}

		for _, x := range r {
			if x == b {
				return
			}
		}

		r = append(r, b)
	}

	switch t := t.(type) {
	case Return, Unreachable, nil:
	case Jump:
		add(t.Target)
	case Branch:
		add(t.Then)
		add(t.Else)
	case Switch:
		for _, c := range t.Cases {
			add(c.Target)
		}

		add(t.Default)
	default:
		panic(t)
	}

	return r
}

// Retarget redirects every edge of t that leads to from.
func Retarget(t Term, from, to BlockID) Term {
	re := func(b BlockID) BlockID {
		if b == from {
			return to
		}

		return b
	}

	switch t := t.(type) {
	case Jump:
		t.Target = re(t.Target)
		return t
	case Branch:
		t.Then = re(t.Then)
		t.Else = re(t.Else)
		return t
	case Switch:
		cs := make([]Case, len(t.Cases))
		for i, c := range t.Cases {
			cs[i] = Case{Value: c.Value, Target: re(c.Target)}
		}

		t.Cases = cs
		t.Default = re(t.Default)

		return t
	case Return, Unreachable:
		return t
	default:
		panic(t)
	}
}

func mapVars(vs []Var, m func(Var) Var) []Var {
	if vs == nil {
		return nil
	}

	r := make([]Var, len(vs))

	for i, v := range vs {
		r[i] = m(v)
	}

	return r
}

// Replace returns a substitution function mapping from to to.
func Replace(from, to Var) func(Var) Var {
	return func(v Var) Var {
		if v == from {
			return to
		}

		return v
	}
}
