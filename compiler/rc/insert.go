package rc

import (
	"context"
	"slices"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/upstat-io/sigil-lang-sub011/compiler/borrow"
	"github.com/upstat-io/sigil-lang-sub011/compiler/classify"
	"github.com/upstat-io/sigil-lang-sub011/compiler/df"
	"github.com/upstat-io/sigil-lang-sub011/compiler/ir"
)

type (
	inserter struct {
		f    *ir.Func
		cls  *classify.Snapshot
		sigs borrow.Sigs

		derived df.Vars
		live    *df.Liveness
	}

	useCount struct {
		v ir.Var

		consume int
		borrow  int
	}
)

// Insert adds Inc and Dec operations to f so that every reference counted
// variable is released exactly once on every path.
func Insert(ctx context.Context, f *ir.Func, cls *classify.Snapshot, sigs borrow.Sigs) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "rc: insert", "func", f.Name)
	defer tr.Finish("err", &err)

	if err = ir.Validate(f, ir.Lowered); err != nil {
		return err
	}

	s := &inserter{
		f:       f,
		cls:     cls,
		sigs:    sigs,
		derived: borrow.Derived(f),
	}

	s.live, err = df.Compute(ctx, f, s.tracked)
	if err != nil {
		return errors.Wrap(err, "liveness")
	}

	nblocks := len(f.Blocks)

	for _, b := range f.Blocks[:nblocks] {
		s.block(b)
	}

	s.edges(nblocks)

	if tr.If("dump_rc") {
		tr.Printw("rc inserted", "incs", f.Count(isInc), "decs", f.Count(isDec), "blocks", len(f.Blocks))
	}

	return nil
}

// tracked variables own a reference which has to be released.
func (s *inserter) tracked(v ir.Var) bool {
	return s.cls.NeedsRC(s.f.Types[v]) && !s.derived.IsSet(v)
}

// needsInc is true for variables whose consumption requires a new reference.
func (s *inserter) needsInc(v ir.Var) bool {
	return s.cls.NeedsRC(s.f.Types[v])
}

func (s *inserter) block(b *ir.Block) {
	live := s.live.Out[b.ID].Copy()

	var code []ir.Instr // reversed

	// terminator
	{
		var pre []ir.Instr

		// terminators consume or branch on scalars so nothing goes after them
		for _, u := range s.countTerm(b.Term) {
			pre, _ = s.useInstr(pre, nil, u, live.IsSet(u.v))
		}

		for _, v := range ir.TermUses(b.Term) {
			if s.tracked(v) {
				live.Set(v)
			}
		}

		code = appendReversed(code, pre)
	}

	for i := len(b.Code) - 1; i >= 0; i-- {
		x := b.Code[i]

		var pre, post []ir.Instr

		if d, ok := ir.Def(x); ok && s.tracked(d) {
			p, isProj := x.(ir.Project)

			switch {
			case !live.IsSet(d):
				if !isProj || !s.tracked(p.Src) {
					post = append(post, ir.Dec{Var: d})
				}
			case isProj && s.tracked(p.Src):
				post = append(post, ir.Inc{Var: d})
			}

			live.Clear(d)
		}

		for _, u := range s.count(x) {
			pre, post = s.useInstr(pre, post, u, live.IsSet(u.v))
		}

		for _, v := range ir.Uses(x) {
			if s.tracked(v) {
				live.Set(v)
			}
		}

		code = appendReversed(code, post)
		code = append(code, x)
		code = appendReversed(code, pre)
	}

	var start []ir.Instr

	params := b.Params
	if b.ID == s.f.Entry {
		params = nil

		for _, p := range s.f.Params {
			params = append(params, p.Var)
		}
	}

	for _, v := range params {
		if s.tracked(v) && !live.IsSet(v) {
			start = append(start, ir.Dec{Var: v})
		}
	}

	slices.Reverse(code)

	b.Code = append(start, code...)
}

// useInstr adds operations needed for an instruction operand.
// Consuming positions take over a reference, borrowing ones don't.
func (s *inserter) useInstr(pre, post []ir.Instr, u useCount, liveAfter bool) ([]ir.Instr, []ir.Instr) {
	v := u.v

	switch {
	case s.tracked(v):
		incs := u.consume

		switch {
		case liveAfter:
		case u.consume == 0:
			post = append(post, ir.Dec{Var: v})
		case u.borrow == 0:
			incs--
		default:
			post = append(post, ir.Dec{Var: v})
		}

		for range incs {
			pre = append(pre, ir.Inc{Var: v})
		}
	case s.needsInc(v):
		for range u.consume {
			pre = append(pre, ir.Inc{Var: v})
		}
	}

	return pre, post
}

// count classifies operands of x into consuming and borrowing uses.
func (s *inserter) count(x ir.Instr) []useCount {
	var res []useCount

	add := func(v ir.Var, consume bool) {
		i := slices.IndexFunc(res, func(u useCount) bool { return u.v == v })
		if i < 0 {
			i = len(res)
			res = append(res, useCount{v: v})
		}

		if consume {
			res[i].consume++
		} else {
			res[i].borrow++
		}
	}

	all := func(vs []ir.Var, consume bool) {
		for _, v := range vs {
			add(v, consume)
		}
	}

	switch x := x.(type) {
	case ir.Construct:
		all(x.Args, true)
	case ir.Closure:
		all(x.Captures, true)
	case ir.ApplyIndirect:
		add(x.Closure, false)
		all(x.Args, true)
	case ir.Apply:
		ms := s.sigs[x.Func]

		for i, a := range x.Args {
			add(a, i >= len(ms) || ms[i] == ir.Owned)
		}
	case ir.Move:
		// moving a borrowed alias produces another borrowed alias
		add(x.Src, !s.derived.IsSet(x.Src))
	default:
		all(ir.Uses(x), false)
	}

	return res
}

func (s *inserter) countTerm(t ir.Term) []useCount {
	var res []useCount

	consume := false

	switch t.(type) {
	case ir.Return, ir.Jump:
		consume = true
	}

	for _, v := range ir.TermUses(t) {
		i := slices.IndexFunc(res, func(u useCount) bool { return u.v == v })
		if i < 0 {
			i = len(res)
			res = append(res, useCount{v: v})
		}

		if consume {
			res[i].consume++
		} else {
			res[i].borrow++
		}
	}

	return res
}

// edges releases variables which die along a control flow edge:
// live out of the predecessor but not live into the successor.
func (s *inserter) edges(nblocks int) {
	type edge struct {
		from ir.BlockID
		gap  []ir.Var
	}

	in := make([][]edge, nblocks)

	for _, b := range s.f.Blocks[:nblocks] {
		for _, succ := range ir.Successors(b.Term) {
			gap := s.live.Out[b.ID].Copy()
			gap.Subtract(s.live.In[succ])

			in[succ] = append(in[succ], edge{from: b.ID, gap: gap.Slice()})
		}
	}

	for succ, es := range in {
		same := true
		empty := true

		for _, e := range es {
			same = same && slices.Equal(e.gap, es[0].gap)
			empty = empty && len(e.gap) == 0
		}

		if empty {
			continue
		}

		sb := s.f.Blocks[succ]

		if same {
			sb.Code = append(decs(es[0].gap), sb.Code...)
			continue
		}

		for _, e := range es {
			if len(e.gap) == 0 {
				continue
			}

			s.trampoline(s.f.Blocks[e.from], sb, e.gap)
		}
	}
}

// trampoline puts a block releasing gap on the edge from -> to.
func (s *inserter) trampoline(from, to *ir.Block, gap []ir.Var) {
	t := s.f.NewBlock()
	t.Code = decs(gap)

	args := make([]ir.Var, len(to.Params))

	for i, p := range to.Params {
		args[i] = s.f.NewVar(s.f.Types[p])
	}

	t.Params = args
	t.Term = ir.Jump{Target: to.ID, Args: args}

	from.Term = ir.Retarget(from.Term, to.ID, t.ID)
}

func decs(vs []ir.Var) []ir.Instr {
	r := make([]ir.Instr, len(vs))

	for i, v := range vs {
		r[i] = ir.Dec{Var: v}
	}

	return r
}

func appendReversed(code, xs []ir.Instr) []ir.Instr {
	for i := len(xs) - 1; i >= 0; i-- {
		code = append(code, xs[i])
	}

	return code
}

func isInc(x ir.Instr) bool { _, ok := x.(ir.Inc); return ok }
func isDec(x ir.Instr) bool { _, ok := x.(ir.Dec); return ok }
