package reuse

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/upstat-io/sigil-lang-sub011/compiler/ir"
	"github.com/upstat-io/sigil-lang-sub011/compiler/tp"
)

// Annotate pairs a Dec of a heap value with a later Construct of the same type
// in the same block and replaces them with Reset and Reuse.
// Only values whose current variant is statically known are paired.
// It returns the number of pairs.
func Annotate(ctx context.Context, f *ir.Func, pool *tp.Pool) (pairs int) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "reuse: annotate", "func", f.Name)
	defer tr.Finish()

	preds := f.Preds()

	for _, b := range f.Blocks {
		for i := 0; i < len(b.Code); i++ {
			d, ok := b.Code[i].(ir.Dec)
			if !ok {
				continue
			}

			t := f.Types[d.Var]
			if !pool.Boxed(t) {
				continue
			}

			j := findConstruct(b.Code[i+1:], d.Var, t)
			if j < 0 {
				continue
			}

			j += i + 1

			if _, ok := knownVariant(f, preds, pool, b, i, d.Var); !ok {
				tr.V("reuse").Printw("variant unknown", "var", d.Var, "block", b.ID)
				continue
			}

			c := b.Code[j].(ir.Construct)
			tok := f.NewVar(tp.Unit)

			b.Code[i] = ir.Reset{Var: d.Var, Token: tok}
			b.Code[j] = ir.Reuse{Dst: c.Dst, Token: tok, Type: c.Type, Variant: c.Variant, Args: c.Args}

			pairs++
		}
	}

	tr.V("reuse").Printw("annotated", "pairs", pairs)

	return pairs
}

// findConstruct returns the first Construct of type t before v is used again.
// Pairs don't cross already paired Reuse instructions so they nest.
func findConstruct(code []ir.Instr, v ir.Var, t tp.ID) int {
	for j, x := range code {
		switch x := x.(type) {
		case ir.Reuse:
			return -1
		case ir.Construct:
			if x.Type == t && !ir.UsesVar(x, v) {
				return j
			}
		}

		if ir.UsesVar(x, v) {
			return -1
		}
	}

	return -1
}

// knownVariant finds the variant v is known to have at instruction i of b.
// Evidence is a projection out of v on the way to i or
// a switch on the tag of v selecting the path.
func knownVariant(f *ir.Func, preds [][]ir.BlockID, pool *tp.Pool, b *ir.Block, i int, v ir.Var) (int, bool) {
	if u := pool.Get(pool.Underlying(f.Types[v])); u.Kind == tp.KindRecord {
		return 0, true
	}

	for steps := 0; steps <= len(f.Blocks); steps++ {
		for k := i - 1; k >= 0; k-- {
			if p, ok := b.Code[k].(ir.Project); ok && p.Src == v {
				return p.Variant, true
			}
		}

		if len(preds[b.ID]) != 1 {
			return 0, false
		}

		pb := f.Blocks[preds[b.ID][0]]

		if sw, ok := pb.Term.(ir.Switch); ok && isTagOf(pb.Code, sw.Value, v) {
			return caseOf(sw, b.ID)
		}

		b, i = pb, len(pb.Code)
	}

	return 0, false
}

func isTagOf(code []ir.Instr, t, v ir.Var) bool {
	for _, x := range code {
		if tg, ok := x.(ir.Tag); ok && tg.Dst == t && tg.Src == v {
			return true
		}
	}

	return false
}

// caseOf returns the switch value leading to b if it's unique.
func caseOf(sw ir.Switch, b ir.BlockID) (int, bool) {
	if sw.Default == b {
		return 0, false
	}

	val, n := int64(0), 0

	for _, c := range sw.Cases {
		if c.Target == b {
			val = c.Value
			n++
		}
	}

	return int(val), n == 1
}
