package reuse

import (
	"context"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/tlog"

	"github.com/upstat-io/sigil-lang-sub011/compiler/ir"
	"github.com/upstat-io/sigil-lang-sub011/compiler/tp"
)

type (
	// Report lists reuse pairs found in an annotated function
	// and heap values released without being reused.
	Report struct {
		Achieved []Pair
		Missed   []Miss
	}

	Pair struct {
		Var   ir.Var // reset
		Dst   ir.Var // reuse
		Type  tp.ID
		Block ir.BlockID
	}

	Miss struct {
		Var   ir.Var
		Block ir.BlockID

		Construct      ir.Var // candidate, if Reason names one
		ConstructBlock ir.BlockID
		ConstructType  tp.ID

		Reason Reason
	}

	Reason uint8

	site struct {
		b ir.BlockID
		i int
		v ir.Var
		t tp.ID
	}
)

const (
	NoConstruct    Reason = iota // nothing of the type is ever built
	NotDominated                 // a construct of the type exists but not after the release
	TypeMismatch                 // only constructs of other types follow
	OtherBlock                   // the construct is in a later block
	UsedBetween                  // the value is used between release and construct
	VariantUnknown               // the variant of the value is not known statically
	Nested                       // another pair is in between
)

var reasonNames = []string{
	NoConstruct:    "no_construct",
	NotDominated:   "not_dominated",
	TypeMismatch:   "type_mismatch",
	OtherBlock:     "other_block",
	UsedBetween:    "used_between",
	VariantUnknown: "variant_unknown",
	Nested:         "nested",
}

// FBIP reports achieved and missed reuse of f after Annotate.
func FBIP(ctx context.Context, f *ir.Func, pool *tp.Pool) (r Report) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "reuse: fbip", "func", f.Name)
	defer tr.Finish()

	var cons []site

	for _, b := range f.Blocks {
		resets := map[ir.Var]ir.Var{}

		for i, x := range b.Code {
			switch x := x.(type) {
			case ir.Reset:
				resets[x.Token] = x.Var
			case ir.Reuse:
				r.Achieved = append(r.Achieved, Pair{Var: resets[x.Token], Dst: x.Dst, Type: x.Type, Block: b.ID})
			case ir.Construct:
				if pool.Boxed(x.Type) {
					cons = append(cons, site{b: b.ID, i: i, v: x.Dst, t: x.Type})
				}
			}
		}
	}

	dom := f.Dominators()
	preds := f.Preds()

	after := func(d, c site) bool {
		if d.b == c.b {
			return c.i > d.i
		}

		return dom.Dominates(d.b, c.b)
	}

	for _, b := range f.Blocks {
		for i, x := range b.Code {
			d, ok := x.(ir.Dec)
			if !ok || !pool.Boxed(f.Types[d.Var]) {
				continue
			}

			ds := site{b: b.ID, i: i, v: d.Var, t: f.Types[d.Var]}
			m := Miss{Var: d.Var, Block: b.ID, ConstructBlock: ir.NoBlock, ConstructType: tp.None}

			var same, other, anywhere *site

			for k := range cons {
				c := &cons[k]

				switch {
				case c.t == ds.t && after(ds, *c) && same == nil:
					same = c
				case c.t != ds.t && after(ds, *c) && other == nil:
					other = c
				case c.t == ds.t && anywhere == nil:
					anywhere = c
				}
			}

			switch {
			case same != nil:
				m.Reason = sameTypeReason(f, preds, pool, b, ds, *same)
				m.Construct, m.ConstructBlock, m.ConstructType = same.v, same.b, same.t
			case other != nil:
				m.Reason = TypeMismatch
				m.Construct, m.ConstructBlock, m.ConstructType = other.v, other.b, other.t
			case anywhere != nil:
				m.Reason = NotDominated
				m.Construct, m.ConstructBlock, m.ConstructType = anywhere.v, anywhere.b, anywhere.t
			default:
				m.Reason = NoConstruct
			}

			r.Missed = append(r.Missed, m)
		}
	}

	tr.V("reuse").Printw("fbip", "achieved", len(r.Achieved), "missed", len(r.Missed))

	return r
}

// IsFBIP reports whether the function allocates only by reusing released memory.
func (r Report) IsFBIP() bool {
	return len(r.Missed) == 0 && len(r.Achieved) != 0
}

func sameTypeReason(f *ir.Func, preds [][]ir.BlockID, pool *tp.Pool, b *ir.Block, d, c site) Reason {
	if d.b != c.b {
		return OtherBlock
	}

	for _, x := range b.Code[d.i+1 : c.i] {
		if ir.UsesVar(x, d.v) {
			return UsedBetween
		}

		if _, ok := x.(ir.Reuse); ok {
			return Nested
		}
	}

	if _, ok := knownVariant(f, preds, pool, b, d.i, d.v); !ok {
		return VariantUnknown
	}

	return UsedBetween
}

func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}

	return string(hfmt.Appendf(nil, "Reason(%d)", int(r)))
}
