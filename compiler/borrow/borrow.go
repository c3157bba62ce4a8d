package borrow

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/upstat-io/sigil-lang-sub011/compiler/classify"
	"github.com/upstat-io/sigil-lang-sub011/compiler/ir"
	"github.com/upstat-io/sigil-lang-sub011/compiler/set"
)

type (
	// Sigs maps function names to parameter modes.
	Sigs map[string][]ir.Mode

	Result struct {
		Sigs Sigs

		// History is the number of owned candidate params after each iteration.
		History []int
	}
)

var ErrNoFixpoint = errors.New("borrow inference did not reach fixpoint")

// Infer decides parameter modes for all functions of the package.
// Externs carry declared modes and are never changed.
// Functions not found in either are callees whose params are all owned.
func Infer(ctx context.Context, pkg *ir.Package, externs Sigs, cls *classify.Snapshot) (res *Result, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "borrow: infer", "funcs", len(pkg.Funcs))
	defer tr.Finish("err", &err)

	sigs := make(Sigs, len(pkg.Funcs)+len(externs))

	for name, ms := range externs {
		sigs[name] = ms
	}

	// called indirectly with owned arguments
	indirect := map[string]bool{}

	for _, f := range pkg.Funcs {
		for _, b := range f.Blocks {
			for _, x := range b.Code {
				if c, ok := x.(ir.Closure); ok {
					indirect[c.Func] = true
				}
			}
		}
	}

	candidates := 0

	for _, f := range pkg.Funcs {
		ms := make([]ir.Mode, len(f.Params))

		for i, p := range f.Params {
			if cls.NeedsRC(p.Type) && !indirect[f.Name] {
				ms[i] = ir.Borrowed
				candidates++
			}
		}

		sigs[f.Name] = ms
	}

	res = &Result{Sigs: sigs}

	for iter := 0; ; iter++ {
		if iter > candidates {
			return nil, errors.Wrap(ErrNoFixpoint, "after %d iterations, %d candidates", iter, candidates)
		}

		changed := false
		owned := 0

		for _, f := range pkg.Funcs {
			ms := sigs[f.Name]

			esc := escaping(f, sigs, cls)

			for i, p := range f.Params {
				if ms[i] == ir.Borrowed && esc.IsSet(p.Var) {
					ms[i] = ir.Owned
					changed = true

					tr.V("borrow").Printw("promote", "func", f.Name, "param", i, "iter", iter)
				}

				if ms[i] == ir.Owned && cls.NeedsRC(p.Type) {
					owned++
				}
			}
		}

		res.History = append(res.History, owned)

		if !changed {
			break
		}
	}

	tr.Printw("borrow inferred", "candidates", candidates, "iterations", len(res.History))

	return res, nil
}

// Apply writes inferred modes into function params.
func Apply(pkg *ir.Package, sigs Sigs) {
	for _, f := range pkg.Funcs {
		ms := sigs[f.Name]

		for i := range f.Params {
			f.Params[i].Mode = ms[i]
		}
	}
}

// escaping returns params of f some alias of which escapes.
// Scalars carry no reference so they never make a param escape.
func escaping(f *ir.Func, sigs Sigs, cls *classify.Snapshot) set.Bits[ir.Var] {
	root := Roots(f)

	var esc set.Bits[ir.Var]

	mark := func(v ir.Var) {
		if r := root[v]; r != noRoot && cls.NeedsRC(f.Types[v]) {
			esc.Set(r)
		}
	}

	for _, b := range f.Blocks {
		for _, x := range b.Code {
			switch x := x.(type) {
			case ir.Construct:
				for _, a := range x.Args {
					mark(a)
				}
			case ir.Reuse:
				for _, a := range x.Args {
					mark(a)
				}
			case ir.Closure:
				for _, a := range x.Captures {
					mark(a)
				}
			case ir.ApplyIndirect:
				for _, a := range x.Args {
					mark(a)
				}
			case ir.Set:
				mark(x.Value)
			case ir.Apply:
				ms, ok := sigs[x.Func]

				for i, a := range x.Args {
					if !ok || i >= len(ms) || ms[i] == ir.Owned {
						mark(a)
					}
				}
			}
		}

		switch t := b.Term.(type) {
		case ir.Return:
			mark(t.Value)
		case ir.Jump:
			for _, a := range t.Args {
				mark(a)
			}
		}
	}

	return esc
}

const noRoot = ir.Var(1<<32 - 1)

// Roots maps each variable to the param it aliases through moves
// and projections, or to noRoot.
func Roots(f *ir.Func) []ir.Var {
	root := make([]ir.Var, len(f.Types))

	for i := range root {
		root[i] = noRoot
	}

	for _, p := range f.Params {
		root[p.Var] = p.Var
	}

	for changed := true; changed; {
		changed = false

		for _, b := range f.Blocks {
			for _, x := range b.Code {
				var dst, src ir.Var

				switch x := x.(type) {
				case ir.Move:
					dst, src = x.Dst, x.Src
				case ir.Project:
					dst, src = x.Dst, x.Src
				default:
					continue
				}

				if root[src] != noRoot && root[dst] != root[src] {
					root[dst] = root[src]
					changed = true
				}
			}
		}
	}

	return root
}

// Derived returns borrowed params of f and variables aliasing them.
func Derived(f *ir.Func) set.Bits[ir.Var] {
	var d set.Bits[ir.Var]

	root := Roots(f)

	for v, r := range root {
		if r == noRoot {
			continue
		}

		if p, _ := f.Param(r); p.Mode == ir.Borrowed {
			d.Set(ir.Var(v))
		}
	}

	return d
}
