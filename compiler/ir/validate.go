package ir

import (
	"tlog.app/go/errors"
	"tlog.app/go/loc"
)

type (
	// Stage says which instruction kinds may be present.
	Stage int
)

const (
	Lowered Stage = iota // no Inc/Dec/Reset/Reuse/IsShared/Set/SetTag
	Counted              // after rc insertion and reuse annotation
	Expanded             // no Reset/Reuse
)

// Validate checks structural well-formedness of f.
// Violations are internal errors wrapping ErrMalformed.
func Validate(f *Func, st Stage) error {
	bad := func(format string, args ...any) error {
		return errors.Wrap(ErrMalformed, "%v: "+format+" (checked at %v)", append(append([]any{f.Name}, args...), loc.Caller(1))...)
	}

	if f.Block(f.Entry) == nil {
		return bad("no entry block %v", f.Entry)
	}

	defined := make([]bool, len(f.Types))
	site := make([]defSite, len(f.Types))

	def := func(v Var, b BlockID, pos int) error {
		if int(v) >= len(defined) {
			return bad("var %v out of range", v)
		}

		if defined[v] {
			return bad("var %v defined twice", v)
		}

		defined[v] = true
		site[v] = defSite{b: b, pos: pos}

		return nil
	}

	for _, p := range f.Params {
		if err := def(p.Var, f.Entry, -1); err != nil {
			return err
		}
	}

	for i, b := range f.Blocks {
		if b.ID != BlockID(i) {
			return bad("block %d has id %v", i, b.ID)
		}

		for _, v := range b.Params {
			if err := def(v, b.ID, -1); err != nil {
				return err
			}
		}

		for j, x := range b.Code {
			if err := stageAllows(st, x); err != nil {
				return bad("%v: %v", b.ID, err)
			}

			if v, ok := Def(x); ok {
				if err := def(v, b.ID, j); err != nil {
					return err
				}
			}
		}

		if b.Term == nil {
			return bad("%v: not terminated", b.ID)
		}
	}

	preds := f.Preds()

	if len(preds[f.Entry]) != 0 {
		return bad("entry block %v is a jump target", f.Entry)
	}

	for _, b := range f.Blocks {
		for _, x := range b.Code {
			for _, v := range Uses(x) {
				if int(v) >= len(defined) || !defined[v] {
					return bad("%v: use of undefined var %v", b.ID, v)
				}
			}
		}

		for _, v := range TermUses(b.Term) {
			if int(v) >= len(defined) || !defined[v] {
				return bad("%v: terminator uses undefined var %v", b.ID, v)
			}
		}

		for _, s := range Successors(b.Term) {
			sb := f.Block(s)
			if sb == nil {
				return bad("%v: jump to missing block %v", b.ID, s)
			}

			j, ok := b.Term.(Jump)

			switch {
			case ok && len(j.Args) != len(sb.Params):
				return bad("%v: jump to %v with %d args, want %d", b.ID, s, len(j.Args), len(sb.Params))
			case !ok && len(sb.Params) != 0:
				return bad("%v: branch to %v which has params", b.ID, s)
			}
		}
	}

	dom := f.Dominators()

	available := func(v Var, b BlockID, pos int) bool {
		s := site[v]

		if s.b == b {
			return s.pos < pos
		}

		return dom.Dominates(s.b, b)
	}

	for _, b := range f.Blocks {
		if !dom.Reachable(b.ID) {
			continue
		}

		for j, x := range b.Code {
			for _, v := range Uses(x) {
				if !available(v, b.ID, j) {
					return bad("%v: var %v is not defined on every path to its use", b.ID, v)
				}
			}
		}

		for _, v := range TermUses(b.Term) {
			if !available(v, b.ID, len(b.Code)) {
				return bad("%v: terminator var %v is not defined on every path to its use", b.ID, v)
			}
		}
	}

	return nil
}

type defSite struct {
	b   BlockID
	pos int
}

func stageAllows(st Stage, x Instr) error {
	switch x.(type) {
	case Inc, Dec, IsShared, Set, SetTag:
		if st == Lowered {
			return errors.New("unexpected %T before rc insertion", x)
		}
	case Reset, Reuse:
		if st != Counted {
			return errors.New("unexpected %T", x)
		}
	}

	return nil
}
