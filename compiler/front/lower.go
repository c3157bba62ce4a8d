package front

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/upstat-io/sigil-lang-sub011/compiler/canon"
	"github.com/upstat-io/sigil-lang-sub011/compiler/ir"
	"github.com/upstat-io/sigil-lang-sub011/compiler/tp"
)

type (
	lowerer struct {
		pool *tp.Pool
		f    *ir.Func

		cur *ir.Block // nil after control left the expression

		loops []loopFrame
	}

	loopFrame struct {
		header ir.BlockID
	}

	env struct {
		name string
		v    ir.Var
		up   *env
	}

	// exit is an edge into the join block of a conditional.
	exit struct {
		b *ir.Block
		v ir.Var
	}
)

// Lower lowers every function of the program.
func Lower(ctx context.Context, p *canon.Program) (pkg *ir.Package, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "front: lower", "funcs", len(p.Funcs))
	defer tr.Finish("err", &err)

	pkg = &ir.Package{Pool: p.Pool}

	for _, f := range p.Funcs {
		irf, err := LowerFunc(ctx, p.Pool, f)
		if err != nil {
			return nil, errors.Wrap(err, "lower %v", f.Name)
		}

		pkg.Funcs = append(pkg.Funcs, irf)
	}

	return pkg, nil
}

func LowerFunc(ctx context.Context, pool *tp.Pool, cf *canon.Func) (f *ir.Func, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "front: lower func", "name", cf.Name)
	defer tr.Finish("err", &err)

	l := &lowerer{
		pool: pool,
		f: &ir.Func{
			Name:   cf.Name,
			Result: cf.Result,
		},
	}

	entry := l.f.NewBlock()
	l.f.Entry = entry.ID
	l.cur = entry

	var e *env

	for _, p := range cf.Params {
		v := l.f.NewVar(p.Type)
		l.f.Params = append(l.f.Params, ir.Param{Var: v, Type: p.Type})

		e = e.bind(p.Name, v)
	}

	v, err := l.expr(cf.Body, e)
	if err != nil {
		return nil, err
	}

	if l.cur != nil {
		l.cur.Term = ir.Return{Value: v}
	}

	ir.MarkTailCalls(l.f)

	if err = ir.Validate(l.f, ir.Lowered); err != nil {
		return nil, err
	}

	if tr.If("dump_lowered") {
		tr.Printw("lowered", "blocks", len(l.f.Blocks), "vars", len(l.f.Types))
	}

	return l.f, nil
}

func (l *lowerer) expr(x canon.Expr, e *env) (v ir.Var, err error) {
	switch x := x.(type) {
	case canon.Lit:
		v = l.f.NewVar(x.T)
		l.emit(ir.Let{Dst: v, Value: x.Value})
	case canon.Ref:
		b := e.lookup(x.Name)
		if b == nil {
			return 0, errors.New("undefined: %v", x.Name)
		}

		v = b.v
	case canon.Let:
		val, err := l.expr(x.Value, e)
		if err != nil || l.cur == nil {
			return 0, err
		}

		return l.expr(x.Body, e.bind(x.Name, val))
	case canon.Seq:
		for _, s := range x.Exprs {
			v, err = l.expr(s, e)
			if err != nil || l.cur == nil {
				return 0, err
			}
		}
	case canon.Prim:
		args, err := l.exprs(x.Args, e)
		if err != nil || l.cur == nil {
			return 0, err
		}

		v = l.f.NewVar(x.T)
		l.emit(ir.Prim{Dst: v, Op: x.Op, Args: args})
	case canon.Call:
		args, err := l.exprs(x.Args, e)
		if err != nil || l.cur == nil {
			return 0, err
		}

		v = l.f.NewVar(x.T)
		l.emit(ir.Apply{Dst: v, Func: x.Func, Args: args})
	case canon.CallIndirect:
		fn, err := l.expr(x.Fn, e)
		if err != nil || l.cur == nil {
			return 0, err
		}

		args, err := l.exprs(x.Args, e)
		if err != nil || l.cur == nil {
			return 0, err
		}

		v = l.f.NewVar(x.T)
		l.emit(ir.ApplyIndirect{Dst: v, Closure: fn, Args: args})
	case canon.MakeClosure:
		caps, err := l.exprs(x.Captures, e)
		if err != nil || l.cur == nil {
			return 0, err
		}

		v = l.f.NewVar(x.T)
		l.emit(ir.Closure{Dst: v, Func: x.Func, Captures: caps})
	case canon.New:
		args, err := l.exprs(x.Args, e)
		if err != nil || l.cur == nil {
			return 0, err
		}

		v = l.f.NewVar(x.T)
		l.emit(ir.Construct{Dst: v, Type: x.T, Variant: x.Variant, Args: args})
	case canon.Field:
		src, err := l.expr(x.Of, e)
		if err != nil || l.cur == nil {
			return 0, err
		}

		v = l.f.NewVar(x.T)
		l.emit(ir.Project{Dst: v, Src: src, Variant: x.Variant, Field: x.Index})
	case canon.If:
		return l.ifExpr(x, e)
	case canon.Match:
		return l.match(x, e)
	case canon.Loop:
		return l.loop(x, e)
	case canon.Recur:
		if len(l.loops) == 0 {
			return 0, errors.New("recur outside of loop")
		}

		args, err := l.exprs(x.Args, e)
		if err != nil || l.cur == nil {
			return 0, err
		}

		l.cur.Term = ir.Jump{Target: l.loops[len(l.loops)-1].header, Args: args}
		l.cur = nil
	case canon.Return:
		val, err := l.expr(x.Value, e)
		if err != nil || l.cur == nil {
			return 0, err
		}

		l.cur.Term = ir.Return{Value: val}
		l.cur = nil
	default:
		return 0, errors.New("unsupported expression: %T", x)
	}

	return v, nil
}

func (l *lowerer) exprs(xs []canon.Expr, e *env) ([]ir.Var, error) {
	vs := make([]ir.Var, len(xs))

	for i, x := range xs {
		v, err := l.expr(x, e)
		if err != nil || l.cur == nil {
			return nil, err
		}

		vs[i] = v
	}

	return vs, nil
}

func (l *lowerer) ifExpr(x canon.If, e *env) (ir.Var, error) {
	c, err := l.expr(x.Cond, e)
	if err != nil || l.cur == nil {
		return 0, err
	}

	thenB := l.f.NewBlock()
	elseB := l.f.NewBlock()

	l.cur.Term = ir.Branch{Cond: c, Then: thenB.ID, Else: elseB.ID}

	var exits []exit

	for _, br := range []struct {
		b *ir.Block
		x canon.Expr
	}{{thenB, x.Then}, {elseB, x.Else}} {
		l.cur = br.b

		v, err := l.expr(br.x, e)
		if err != nil {
			return 0, err
		}

		if l.cur != nil {
			exits = append(exits, exit{b: l.cur, v: v})
		}
	}

	return l.join(exits, x.T), nil
}

// join terminates all exits with a jump to a fresh block receiving the value.
func (l *lowerer) join(exits []exit, t tp.ID) ir.Var {
	if len(exits) == 0 {
		l.cur = nil
		return 0
	}

	b := l.f.NewBlock()
	v := l.f.NewVar(t)
	b.Params = []ir.Var{v}

	for _, x := range exits {
		x.b.Term = ir.Jump{Target: b.ID, Args: []ir.Var{x.v}}
	}

	l.cur = b

	return v
}

func (l *lowerer) loop(x canon.Loop, e *env) (ir.Var, error) {
	inits := make([]ir.Var, len(x.Binds))

	for i, b := range x.Binds {
		v, err := l.expr(b.Init, e)
		if err != nil || l.cur == nil {
			return 0, err
		}

		inits[i] = v
	}

	header := l.f.NewBlock()
	l.cur.Term = ir.Jump{Target: header.ID, Args: inits}

	for i, b := range x.Binds {
		p := l.f.NewVar(l.f.Types[inits[i]])
		header.Params = append(header.Params, p)

		e = e.bind(b.Name, p)
	}

	l.loops = append(l.loops, loopFrame{header: header.ID})
	defer func() { l.loops = l.loops[:len(l.loops)-1] }()

	l.cur = header

	return l.expr(x.Body, e)
}

func (l *lowerer) emit(x ir.Instr) {
	l.cur.Code = append(l.cur.Code, x)
}

func (e *env) bind(name string, v ir.Var) *env {
	return &env{name: name, v: v, up: e}
}

func (e *env) lookup(name string) *env {
	for ; e != nil; e = e.up {
		if e.name == name {
			return e
		}
	}

	return nil
}
