package reuse

import (
	"context"
	"slices"

	"tlog.app/go/tlog"

	"github.com/upstat-io/sigil-lang-sub011/compiler/classify"
	"github.com/upstat-io/sigil-lang-sub011/compiler/ir"
	"github.com/upstat-io/sigil-lang-sub011/compiler/tp"
)

type (
	Stats struct {
		Expanded int // Reset/Reuse pairs turned into a uniqueness test
		Fallback int // pairs lowered back to Dec and Construct
		Claimed  int // projection increments erased
		SelfSets int // Sets skipped since the field already holds the value
	}

	expander struct {
		f    *ir.Func
		pool *tp.Pool
		cls  *classify.Snapshot

		variant map[ir.Var]int // by token
		stats   Stats
	}
)

// Expand replaces Reset/Reuse pairs by an explicit uniqueness test.
// The fast path, taken when the value is not shared, updates it in place.
// The slow path releases it and allocates a new one.
func Expand(ctx context.Context, f *ir.Func, pool *tp.Pool, cls *classify.Snapshot) (st Stats) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "reuse: expand", "func", f.Name)
	defer tr.Finish()

	e := &expander{
		f:       f,
		pool:    pool,
		cls:     cls,
		variant: map[ir.Var]int{},
	}

	preds := f.Preds()

	for _, b := range f.Blocks {
		for i, x := range b.Code {
			r, ok := x.(ir.Reset)
			if !ok {
				continue
			}

			if v, ok := knownVariant(f, preds, pool, b, i, r.Var); ok {
				e.variant[r.Token] = v
			}
		}
	}

	var q []ir.BlockID

	for _, b := range f.Blocks {
		q = append(q, b.ID)
	}

	for len(q) != 0 {
		id := q[len(q)-1]
		q = q[:len(q)-1]

		q = append(q, e.block(f.Blocks[id])...)
	}

	tr.V("reuse").Printw("expanded", "stats", e.stats)

	return e.stats
}

// block expands the first pair in b. It returns blocks which may have more pairs.
func (e *expander) block(b *ir.Block) []ir.BlockID {
	i, j := -1, -1

	for k, x := range b.Code {
		if r, ok := x.(ir.Reset); ok {
			i = k
			j = findReuse(b.Code[k+1:], r.Token)
			break
		}
	}

	if i < 0 {
		return nil
	}

	reset := b.Code[i].(ir.Reset)

	if j < 0 {
		b.Code[i] = ir.Dec{Var: reset.Var}
		e.stats.Fallback++

		return []ir.BlockID{b.ID}
	}

	j += i + 1
	reuse := b.Code[j].(ir.Reuse)

	old, ok := e.variant[reset.Token]
	if !ok {
		b.Code[i] = ir.Dec{Var: reset.Var}
		b.Code[j] = ir.Construct{Dst: reuse.Dst, Type: reuse.Type, Variant: reuse.Variant, Args: reuse.Args}
		e.stats.Fallback++

		return []ir.BlockID{b.ID}
	}

	e.stats.Expanded++

	v := reset.Var

	prefix := slices.Concat(b.Code[:i], b.Code[i+1:j])
	suffix := slices.Clone(b.Code[j+1:])
	term := b.Term

	claimed := e.claim(b.Code[:i], b.Code[i+1:j], v)

	prefix = slices.DeleteFunc(prefix, func(x ir.Instr) bool {
		inc, ok := x.(ir.Inc)
		return ok && claimed[inc.Var] != nil
	})

	fast := e.f.NewBlock()
	slow := e.f.NewBlock()

	shared := e.f.NewVar(tp.Bool)

	b.Code = append(prefix, ir.IsShared{Dst: shared, Var: v})
	b.Term = ir.Branch{Cond: shared, Then: slow.ID, Else: fast.ID}

	e.fastPath(fast, v, old, reuse, claimed)

	// slow path
	for _, p := range claimedOrder(claimed) {
		slow.Code = append(slow.Code, ir.Inc{Var: p.Dst})
	}

	slow.Code = append(slow.Code, ir.Dec{Var: v})

	// Both paths may share the terminator only if no successor reads the new value.
	if len(suffix) == 0 && !e.usedOutside(reuse.Dst, b.ID) {
		slow.Code = append(slow.Code, construct(reuse.Dst, reuse))
		slow.Term = term
		fast.Term = ir.SubstituteTerm(term, ir.Replace(reuse.Dst, v))

		return []ir.BlockID{b.ID}
	}

	r := e.f.NewVar(e.f.Types[reuse.Dst])
	slow.Code = append(slow.Code, construct(r, reuse))

	m := e.f.NewBlock()
	m.Params = []ir.Var{reuse.Dst}
	m.Code = suffix
	m.Term = term

	slow.Term = ir.Jump{Target: m.ID, Args: []ir.Var{r}}
	fast.Term = ir.Jump{Target: m.ID, Args: []ir.Var{v}}

	return []ir.BlockID{b.ID, m.ID}
}

// fastPath updates v in place.
// Old fields are released unless they are claimed or stay in place.
func (e *expander) fastPath(fast *ir.Block, v ir.Var, old int, reuse ir.Reuse, claimed map[ir.Var]*ir.Project) {
	oldFields, _ := e.pool.Fields(e.f.Types[v], old)

	byField := map[int]bool{}
	for _, p := range claimed {
		byField[p.Field] = true
	}

	self := make([]bool, len(reuse.Args))

	for k, a := range reuse.Args {
		p, ok := claimed[a]
		if !ok {
			p = e.projection(a)
		}

		self[k] = p != nil && p.Src == v && p.Field == k && k < len(oldFields)
	}

	for k, ft := range oldFields {
		switch {
		case k < len(self) && self[k]:
			if claimed[reuse.Args[k]] == nil && e.cls.NeedsRC(ft) {
				fast.Code = append(fast.Code, ir.Dec{Var: reuse.Args[k]})
			}
		case byField[k]:
		case e.cls.NeedsRC(ft):
			o := e.f.NewVar(ft)
			fast.Code = append(fast.Code,
				ir.Project{Dst: o, Src: v, Variant: old, Field: k},
				ir.Dec{Var: o},
			)
		}
	}

	for k, a := range reuse.Args {
		if self[k] {
			e.stats.SelfSets++
			continue
		}

		fast.Code = append(fast.Code, ir.Set{Var: v, Field: k, Value: a})
	}

	if reuse.Variant != old {
		fast.Code = append(fast.Code, ir.SetTag{Var: v, Variant: reuse.Variant})
	}
}

// claim finds projections of v whose increment can be erased.
// Their field reference is transferred on the fast path
// and restored by an Inc on the slow path.
func (e *expander) claim(before, between []ir.Instr, v ir.Var) map[ir.Var]*ir.Project {
	claimed := map[ir.Var]*ir.Project{}
	fields := map[int]bool{}

	for k, x := range before {
		p, ok := x.(ir.Project)
		if !ok || p.Src != v || fields[p.Field] {
			continue
		}

		uses := 0
		incs := 0

		for _, y := range slices.Concat(before[k+1:], between) {
			if !ir.UsesVar(y, p.Dst) {
				continue
			}

			if inc, ok := y.(ir.Inc); ok && inc.Var == p.Dst && uses == 0 {
				incs++
				continue
			}

			uses++
		}

		if incs != 1 || uses != 0 {
			continue
		}

		claimed[p.Dst] = &p
		fields[p.Field] = true
		e.stats.Claimed++
	}

	return claimed
}

// projection finds the instruction defining a in the whole function
// if it's a projection.
func (e *expander) usedOutside(v ir.Var, b ir.BlockID) bool {
	for _, c := range e.f.Blocks {
		if c.ID == b {
			continue
		}

		if ir.TermUsesVar(c.Term, v) || slices.ContainsFunc(c.Code, func(x ir.Instr) bool { return ir.UsesVar(x, v) }) {
			return true
		}
	}

	return false
}

func (e *expander) projection(a ir.Var) *ir.Project {
	for _, b := range e.f.Blocks {
		for _, x := range b.Code {
			if p, ok := x.(ir.Project); ok && p.Dst == a {
				return &p
			}
		}
	}

	return nil
}

func claimedOrder(claimed map[ir.Var]*ir.Project) []*ir.Project {
	r := make([]*ir.Project, 0, len(claimed))

	for _, p := range claimed {
		r = append(r, p)
	}

	slices.SortFunc(r, func(a, b *ir.Project) int { return int(a.Dst) - int(b.Dst) })

	return r
}

func findReuse(code []ir.Instr, tok ir.Var) int {
	for j, x := range code {
		if r, ok := x.(ir.Reuse); ok && r.Token == tok {
			return j
		}
	}

	return -1
}

func construct(dst ir.Var, r ir.Reuse) ir.Construct {
	return ir.Construct{Dst: dst, Type: r.Type, Variant: r.Variant, Args: r.Args}
}
