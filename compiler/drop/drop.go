// Package drop describes what to release when a reference count reaches zero.
package drop

import (
	"context"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/tlog"

	"github.com/upstat-io/sigil-lang-sub011/compiler/classify"
	"github.com/upstat-io/sigil-lang-sub011/compiler/ir"
	"github.com/upstat-io/sigil-lang-sub011/compiler/tp"
)

type (
	Kind uint8

	Field struct {
		Index int
		Type  tp.ID
	}

	// Info is the drop descriptor of a heap type.
	Info struct {
		Type tp.ID
		Kind Kind

		Fields   []Field   // KindFields, KindClosure
		Variants [][]Field // KindEnum, by variant
		Elem     tp.ID     // KindList
	}

	// Table holds descriptors of the types a program releases
	// and of the environments of its closures.
	Table struct {
		Types map[tp.ID]Info
		Envs  map[string]Info // by closure function
	}
)

const (
	KindTrivial Kind = iota
	KindFields
	KindEnum
	KindList
	KindClosure
)

var kindNames = []string{
	KindTrivial: "trivial",
	KindFields:  "fields",
	KindEnum:    "enum",
	KindList:    "list",
	KindClosure: "closure",
}

// Of computes the descriptor of t. Scalars have none.
func Of(t tp.ID, pool *tp.Pool, cls *classify.Snapshot) (Info, bool) {
	if !cls.NeedsRC(t) {
		return Info{}, false
	}

	d := Info{Type: t, Elem: tp.None}

	u := pool.Underlying(t)
	if u == tp.None {
		return d, true
	}

	ut := pool.Get(u)

	switch ut.Kind {
	case tp.KindList:
		if cls.NeedsRC(ut.Elem) {
			d.Kind = KindList
			d.Elem = ut.Elem
		}
	case tp.KindTuple:
		d.Fields = rcFields(ut.Params, cls)
	case tp.KindRecord:
		fs, _ := pool.Fields(u, 0)
		d.Fields = rcFields(fs, cls)
	case tp.KindEnum:
		rc := false
		d.Variants = make([][]Field, len(ut.Variants))

		for i := range ut.Variants {
			fs, _ := pool.Fields(u, i)
			d.Variants[i] = rcFields(fs, cls)

			rc = rc || len(d.Variants[i]) != 0
		}

		if rc {
			d.Kind = KindEnum
		} else {
			d.Variants = nil
		}
	}

	if len(d.Fields) != 0 {
		d.Kind = KindFields
	}

	return d, true
}

// Env computes the descriptor of a closure environment with the given captures.
func Env(t tp.ID, captures []tp.ID, cls *classify.Snapshot) Info {
	d := Info{Type: t, Elem: tp.None, Fields: rcFields(captures, cls)}

	if len(d.Fields) != 0 {
		d.Kind = KindClosure
	}

	return d
}

// Collect computes descriptors for every type released by a Dec in funcs
// and for every closure environment they build.
func Collect(ctx context.Context, funcs []*ir.Func, pool *tp.Pool, cls *classify.Snapshot) Table {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "drop: collect", "funcs", len(funcs))
	defer tr.Finish()

	tab := Table{
		Types: map[tp.ID]Info{},
		Envs:  map[string]Info{},
	}

	for _, f := range funcs {
		for _, b := range f.Blocks {
			for _, x := range b.Code {
				switch x := x.(type) {
				case ir.Dec:
					t := f.Types[x.Var]

					if _, ok := tab.Types[t]; ok {
						continue
					}

					if d, ok := Of(t, pool, cls); ok {
						tab.Types[t] = d
					}
				case ir.Closure:
					if _, ok := tab.Envs[x.Func]; ok {
						continue
					}

					caps := make([]tp.ID, len(x.Captures))
					for i, c := range x.Captures {
						caps[i] = f.Types[c]
					}

					tab.Envs[x.Func] = Env(f.Types[x.Dst], caps, cls)
				}
			}
		}
	}

	tr.V("drop").Printw("collected", "types", len(tab.Types), "envs", len(tab.Envs))

	return tab
}

// Release lists fields to release for an object of the variant.
func (d Info) Release(variant int) []Field {
	switch d.Kind {
	case KindFields, KindClosure:
		return d.Fields
	case KindEnum:
		if variant < 0 || variant >= len(d.Variants) {
			return nil
		}

		return d.Variants[variant]
	}

	return nil
}

func rcFields(ts []tp.ID, cls *classify.Snapshot) (r []Field) {
	for i, t := range ts {
		if cls.NeedsRC(t) {
			r = append(r, Field{Index: i, Type: t})
		}
	}

	return r
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}

	return string(hfmt.Appendf(nil, "Kind(%d)", int(k)))
}
