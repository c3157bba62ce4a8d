package df

import (
	"context"

	"nikand.dev/go/heap"
	"tlog.app/go/tlog"

	"github.com/upstat-io/sigil-lang-sub011/compiler/ir"
	"github.com/upstat-io/sigil-lang-sub011/compiler/set"
)

type (
	Vars = set.Bits[ir.Var]

	// Liveness holds live-in and live-out sets of tracked variables by block.
	Liveness struct {
		In  []Vars
		Out []Vars

		Iterations int
	}

	worklist struct {
		heap.Heap[ir.BlockID]

		queued []bool
	}
)

// Compute runs backward liveness over variables for which track is true.
func Compute(ctx context.Context, f *ir.Func, track func(ir.Var) bool) (l *Liveness, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "df: liveness", "func", f.Name, "blocks", len(f.Blocks))
	defer tr.Finish("err", &err)

	n := len(f.Blocks)

	l = &Liveness{
		In:  make([]Vars, n),
		Out: make([]Vars, n),
	}

	gen := make([]Vars, n)
	kill := make([]Vars, n)

	for _, b := range f.Blocks {
		gen[b.ID], kill[b.ID] = GenKill(b, track)
	}

	po := f.Postorder()

	// blocks are processed in postorder so successors usually go first
	rank := make([]int, n)
	for i, b := range po {
		rank[b] = i
	}

	wl := worklist{
		Heap: heap.Heap[ir.BlockID]{Less: func(d []ir.BlockID, i, j int) bool {
			return rank[d[i]] < rank[d[j]]
		}},
		queued: make([]bool, n),
	}

	for _, b := range po {
		wl.push(b)
	}

	preds := f.Preds()

	for wl.Len() != 0 {
		b := wl.pop()
		l.Iterations++

		var out Vars

		for _, s := range ir.Successors(f.Blocks[b].Term) {
			out.Merge(l.In[s])
		}

		in := out.Copy()
		in.Subtract(kill[b])
		in.Merge(gen[b])

		l.Out[b] = out

		if in.Equal(l.In[b]) {
			continue
		}

		l.In[b] = in

		for _, p := range preds[b] {
			wl.push(p)
		}
	}

	tr.V("liveness").Printw("liveness done", "iterations", l.Iterations)

	if tr.If("dump_liveness") {
		for _, b := range po {
			tr.Printw("liveness", "block", b, "in", l.In[b], "out", l.Out[b])
		}
	}

	return l, nil
}

// GenKill returns variables used before being defined in b
// and variables defined in b.
func GenKill(b *ir.Block, track func(ir.Var) bool) (gen, kill Vars) {
	for _, v := range ir.TermUses(b.Term) {
		if track(v) {
			gen.Set(v)
		}
	}

	for i := len(b.Code) - 1; i >= 0; i-- {
		x := b.Code[i]

		if v, ok := ir.Def(x); ok && track(v) {
			gen.Clear(v)
			kill.Set(v)
		}

		for _, v := range ir.Uses(x) {
			if track(v) {
				gen.Set(v)
			}
		}
	}

	for _, v := range b.Params {
		if track(v) {
			gen.Clear(v)
			kill.Set(v)
		}
	}

	return gen, kill
}

func (w *worklist) push(b ir.BlockID) {
	if w.queued[b] {
		return
	}

	w.queued[b] = true
	w.Push(b)
}

func (w *worklist) pop() ir.BlockID {
	b := w.Pop()
	w.queued[b] = false

	return b
}
