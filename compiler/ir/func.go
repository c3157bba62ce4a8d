package ir

import (
	"slices"

	"github.com/upstat-io/sigil-lang-sub011/compiler/tp"
)

func (f *Func) NewVar(t tp.ID) Var {
	f.Types = append(f.Types, t)

	return Var(len(f.Types) - 1)
}

func (f *Func) NewBlock() *Block {
	b := &Block{ID: BlockID(len(f.Blocks))}

	f.Blocks = append(f.Blocks, b)

	return b
}

func (f *Func) Block(id BlockID) *Block {
	if int(id) >= len(f.Blocks) {
		return nil
	}

	return f.Blocks[id]
}

func (f *Func) Type(v Var) tp.ID {
	if int(v) >= len(f.Types) {
		return tp.None
	}

	return f.Types[v]
}

func (f *Func) Param(v Var) (Param, bool) {
	for _, p := range f.Params {
		if p.Var == v {
			return p, true
		}
	}

	return Param{}, false
}

func (f *Func) Modes() []Mode {
	ms := make([]Mode, len(f.Params))

	for i, p := range f.Params {
		ms[i] = p.Mode
	}

	return ms
}

// Preds returns distinct predecessors of each block.
func (f *Func) Preds() [][]BlockID {
	ps := make([][]BlockID, len(f.Blocks))

	for _, b := range f.Blocks {
		for _, s := range Successors(b.Term) {
			if int(s) < len(ps) {
				ps[s] = append(ps[s], b.ID)
			}
		}
	}

	return ps
}

// Postorder lists blocks reachable from the entry, successors first.
func (f *Func) Postorder() []BlockID {
	type frame struct {
		b    BlockID
		next int
	}

	seen := make([]bool, len(f.Blocks))
	var order []BlockID

	stack := []frame{{b: f.Entry}}
	seen[f.Entry] = true

	for len(stack) != 0 {
		top := &stack[len(stack)-1]
		succ := Successors(f.Blocks[top.b].Term)

		if top.next == len(succ) {
			order = append(order, top.b)
			stack = stack[:len(stack)-1]

			continue
		}

		s := succ[top.next]
		top.next++

		if int(s) >= len(seen) || seen[s] {
			continue
		}

		seen[s] = true
		stack = append(stack, frame{b: s})
	}

	return order
}

// ReversePostorder is Postorder reversed: the entry comes first.
func (f *Func) ReversePostorder() []BlockID {
	po := f.Postorder()
	slices.Reverse(po)

	return po
}

// Dominators computes the dominator tree of the blocks reachable from the entry.
func (f *Func) Dominators() Dom {
	rpo := f.ReversePostorder()
	preds := f.Preds()

	order := make([]int, len(f.Blocks))
	idom := make(Dom, len(f.Blocks))

	for i := range idom {
		idom[i] = NoBlock
	}

	for i, b := range rpo {
		order[b] = i
	}

	idom[f.Entry] = f.Entry

	intersect := func(a, b BlockID) BlockID {
		for a != b {
			for order[a] > order[b] {
				a = idom[a]
			}

			for order[b] > order[a] {
				b = idom[b]
			}
		}

		return a
	}

	for changed := true; changed; {
		changed = false

		for _, b := range rpo[1:] {
			n := NoBlock

			for _, p := range preds[b] {
				switch {
				case idom[p] == NoBlock:
				case n == NoBlock:
					n = p
				default:
					n = intersect(p, n)
				}
			}

			if n != idom[b] {
				idom[b] = n
				changed = true
			}
		}
	}

	return idom
}

// Dominates reports whether every path from the entry to b goes through a.
func (d Dom) Dominates(a, b BlockID) bool {
	if !d.Reachable(a) || !d.Reachable(b) {
		return false
	}

	for b != a {
		p := d[b]
		if p == b {
			return false
		}

		b = p
	}

	return true
}

func (d Dom) Reachable(b BlockID) bool {
	return int(b) < len(d) && d[b] != NoBlock
}

// Clone returns a deep copy of f.
func (f *Func) Clone() *Func {
	c := &Func{
		Name:   f.Name,
		Params: slices.Clone(f.Params),
		Result: f.Result,
		Entry:  f.Entry,
		Types:  slices.Clone(f.Types),
		Blocks: make([]*Block, len(f.Blocks)),
	}

	id := func(v Var) Var { return v }

	for i, b := range f.Blocks {
		nb := &Block{
			ID:     b.ID,
			Params: slices.Clone(b.Params),
			Code:   make([]Instr, len(b.Code)),
		}

		for j, x := range b.Code {
			nb.Code[j] = Substitute(x, id)
		}

		if b.Term != nil {
			nb.Term = Retarget(SubstituteTerm(b.Term, id), NoBlock, NoBlock)
		}

		c.Blocks[i] = nb
	}

	return c
}

// Count returns the number of instructions matching pred.
func (f *Func) Count(pred func(Instr) bool) (n int) {
	for _, b := range f.Blocks {
		for _, x := range b.Code {
			if pred(x) {
				n++
			}
		}
	}

	return n
}

// MarkTailCalls flags calls whose result is returned right away
// and clears the flag on others.
func MarkTailCalls(f *Func) {
	for _, b := range f.Blocks {
		r, isRet := b.Term.(Return)

		for i, x := range b.Code {
			a, ok := x.(Apply)
			if !ok {
				continue
			}

			a.Tail = isRet && i == len(b.Code)-1 && a.Dst == r.Value
			b.Code[i] = a
		}
	}
}
