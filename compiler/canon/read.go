package canon

import (
	"context"
	"os"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/upstat-io/sigil-lang-sub011/compiler/ast"
	"github.com/upstat-io/sigil-lang-sub011/compiler/ir"
	"github.com/upstat-io/sigil-lang-sub011/compiler/parse"
	"github.com/upstat-io/sigil-lang-sub011/compiler/tp"
)

type (
	reader struct {
		st   *parse.State
		p    *Program
		pool *tp.Pool

		sigs map[string]sig

		loops []loopCtx
	}

	sig struct {
		params []tp.ID
		result tp.ID
	}

	scope struct {
		name string
		t    tp.ID
		up   *scope
	}

	loopCtx struct {
		binds []tp.ID
	}
)

var prims = map[string]ir.Op{
	"+":      ir.OpAdd,
	"-":      ir.OpSub,
	"*":      ir.OpMul,
	"/":      ir.OpDiv,
	"%":      ir.OpRem,
	"neg":    ir.OpNeg,
	"<":      ir.OpLt,
	"<=":     ir.OpLe,
	">":      ir.OpGt,
	">=":     ir.OpGe,
	"==":     ir.OpEq,
	"!=":     ir.OpNe,
	"and":    ir.OpAnd,
	"or":     ir.OpOr,
	"not":    ir.OpNot,
	"concat": ir.OpConcat,
	"strlen": ir.OpStrLen,
}

func ReadFile(ctx context.Context, name string) (*Program, error) {
	text, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	tlog.SpanFromContext(ctx).Printw("read file", "size", len(text), "name", name)

	return read(ctx, name, text)
}

// Read parses the textual canonical form of a program.
func Read(ctx context.Context, text []byte) (*Program, error) {
	return read(ctx, "", text)
}

func read(ctx context.Context, name string, text []byte) (p *Program, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "canon: read", "name", name)
	defer tr.Finish("err", &err)

	st := parse.New()
	st.AddFile(name, text)

	forms, err := st.Parse(ctx)
	if err != nil {
		return nil, err
	}

	r := &reader{
		st:   st,
		pool: tp.NewPool(),
		sigs: map[string]sig{},
	}

	r.p = &Program{Pool: r.pool}

	err = r.program(forms)
	if err != nil {
		return nil, err
	}

	tr.V("canon").Printw("program", "types", r.pool.Len(), "externs", len(r.p.Externs), "funcs", len(r.p.Funcs))

	return r.p, nil
}

func (r *reader) program(forms []ast.Node) (err error) {
	kinds := map[string]tp.Kind{
		"record": tp.KindRecord,
		"enum":   tp.KindEnum,
		"alias":  tp.KindAlias,
	}

	type decl struct {
		l  ast.List
		id tp.ID
	}

	var types []decl

	for _, f := range forms {
		l, head, err := r.form(f)
		if err != nil {
			return err
		}

		k, ok := kinds[head]
		if !ok {
			continue
		}

		name, err := r.name(l, 1)
		if err != nil {
			return err
		}

		id, err := r.pool.Declare(name, k)
		if err != nil {
			return r.errorf(l, "%v", err)
		}

		types = append(types, decl{l: l, id: id})
	}

	for _, d := range types {
		err = r.defineType(d.l, d.id)
		if err != nil {
			return err
		}
	}

	var funcs []ast.List

	for _, f := range forms {
		l, head, _ := r.form(f)

		switch head {
		case "record", "enum", "alias":
		case "extern":
			err = r.extern(l)
		case "func":
			err = r.funcSig(l)
			funcs = append(funcs, l)
		default:
			err = r.errorf(l, "unexpected top level form: %v", head)
		}

		if err != nil {
			return err
		}
	}

	for i, l := range funcs {
		err = r.funcBody(l, r.p.Funcs[i])
		if err != nil {
			return errors.Wrap(err, "func %v", r.p.Funcs[i].Name)
		}
	}

	return nil
}

func (r *reader) defineType(l ast.List, id tp.ID) (err error) {
	head, _ := l.Head()

	switch head {
	case "record":
		fs, err := r.fields(l.Items[2:])
		if err != nil {
			return err
		}

		err = r.pool.DefineRecord(id, fs)
		if err != nil {
			return r.errorf(l, "%v", err)
		}
	case "enum":
		var vs []tp.Variant

		for _, x := range l.Items[2:] {
			vl, ok := x.(ast.List)
			if !ok {
				return r.errorf(x, "variant expected")
			}

			name, err := r.name(vl, 0)
			if err != nil {
				return err
			}

			fs, err := r.fields(vl.Items[1:])
			if err != nil {
				return err
			}

			vs = append(vs, tp.Variant{Name: name, Fields: fs})
		}

		err = r.pool.DefineEnum(id, vs)
		if err != nil {
			return r.errorf(l, "%v", err)
		}
	case "alias":
		if len(l.Items) != 3 {
			return r.errorf(l, "alias: want (alias Name Type)")
		}

		t, err := r.typ(l.Items[2])
		if err != nil {
			return err
		}

		err = r.pool.Resolve(id, t)
		if err != nil {
			return r.errorf(l, "%v", err)
		}
	}

	return nil
}

func (r *reader) fields(xs []ast.Node) (fs []tp.Field, err error) {
	for _, x := range xs {
		fl, ok := x.(ast.List)
		if !ok || len(fl.Items) != 2 {
			return nil, r.errorf(x, "field: want (name Type)")
		}

		name, err := r.name(fl, 0)
		if err != nil {
			return nil, err
		}

		t, err := r.typ(fl.Items[1])
		if err != nil {
			return nil, err
		}

		fs = append(fs, tp.Field{Name: name, Type: t})
	}

	return fs, nil
}

func (r *reader) typ(x ast.Node) (tp.ID, error) {
	switch x := x.(type) {
	case ast.Ident:
		id, ok := r.pool.ByName(x.Name)
		if !ok {
			return tp.None, r.errorf(x, "unknown type: %v", x.Name)
		}

		return id, nil
	case ast.List:
		head, _ := x.Head()

		args := func(xs []ast.Node) ([]tp.ID, error) {
			ids := make([]tp.ID, len(xs))

			for i, a := range xs {
				id, err := r.typ(a)
				if err != nil {
					return nil, err
				}

				ids[i] = id
			}

			return ids, nil
		}

		switch {
		case head == "list" && len(x.Items) == 2:
			e, err := r.typ(x.Items[1])
			if err != nil {
				return tp.None, err
			}

			return r.pool.List(e), nil
		case head == "tuple":
			ids, err := args(x.Items[1:])
			if err != nil {
				return tp.None, err
			}

			return r.pool.Tuple(ids...), nil
		case head == "fn" && len(x.Items) == 3:
			pl, ok := x.Items[1].(ast.List)
			if !ok {
				return tp.None, r.errorf(x, "fn: params list expected")
			}

			ps, err := args(pl.Items)
			if err != nil {
				return tp.None, err
			}

			res, err := r.typ(x.Items[2])
			if err != nil {
				return tp.None, err
			}

			return r.pool.Func(ps, res), nil
		case head == "var" && len(x.Items) == 2:
			name, err := r.name(x, 1)
			if err != nil {
				return tp.None, err
			}

			return r.pool.TypeVar(name), nil
		}
	}

	return tp.None, r.errorf(x, "type expected")
}

func (r *reader) extern(l ast.List) error {
	if len(l.Items) != 4 {
		return r.errorf(l, "extern: want (extern name (params...) Result)")
	}

	name, err := r.name(l, 1)
	if err != nil {
		return err
	}

	pl, ok := l.Items[2].(ast.List)
	if !ok {
		return r.errorf(l.Items[2], "params expected")
	}

	e := Extern{Name: name}

	for _, x := range pl.Items {
		px, ok := x.(ast.List)
		if !ok || len(px.Items) < 2 || len(px.Items) > 3 {
			return r.errorf(x, "param: want (name Type [borrowed])")
		}

		t, err := r.typ(px.Items[1])
		if err != nil {
			return err
		}

		mode := ir.Owned

		if len(px.Items) == 3 {
			m, _ := px.Items[2].(ast.Ident)

			switch m.Name {
			case "borrowed":
				mode = ir.Borrowed
			case "owned":
			default:
				return r.errorf(px.Items[2], "mode expected")
			}
		}

		e.Params = append(e.Params, t)
		e.Modes = append(e.Modes, mode)
	}

	e.Result, err = r.typ(l.Items[3])
	if err != nil {
		return err
	}

	if _, ok := r.sigs[name]; ok {
		return r.errorf(l, "redefined: %v", name)
	}

	r.sigs[name] = sig{params: e.Params, result: e.Result}
	r.p.Externs = append(r.p.Externs, e)

	return nil
}

func (r *reader) funcSig(l ast.List) error {
	if len(l.Items) != 5 {
		return r.errorf(l, "func: want (func name (params...) Result body)")
	}

	name, err := r.name(l, 1)
	if err != nil {
		return err
	}

	pl, ok := l.Items[2].(ast.List)
	if !ok {
		return r.errorf(l.Items[2], "params expected")
	}

	f := &Func{Name: name}

	for _, x := range pl.Items {
		px, ok := x.(ast.List)
		if !ok || len(px.Items) != 2 {
			return r.errorf(x, "param: want (name Type)")
		}

		pname, err := r.name(px, 0)
		if err != nil {
			return err
		}

		t, err := r.typ(px.Items[1])
		if err != nil {
			return err
		}

		f.Params = append(f.Params, Param{Name: pname, Type: t})
	}

	f.Result, err = r.typ(l.Items[3])
	if err != nil {
		return err
	}

	if _, ok := r.sigs[name]; ok {
		return r.errorf(l, "redefined: %v", name)
	}

	s := sig{result: f.Result}
	for _, p := range f.Params {
		s.params = append(s.params, p.Type)
	}

	r.sigs[name] = s
	r.p.Funcs = append(r.p.Funcs, f)

	return nil
}

func (r *reader) funcBody(l ast.List, f *Func) (err error) {
	var sc *scope

	for _, p := range f.Params {
		sc = &scope{name: p.Name, t: p.Type, up: sc}
	}

	f.Body, err = r.expr(l.Items[4], sc)
	if err != nil {
		return err
	}

	if t := f.Body.Type(); t != f.Result && t != tp.Never {
		return r.errorf(l.Items[4], "body type %v, want %v", r.pool.String(t), r.pool.String(f.Result))
	}

	return nil
}

func (r *reader) expr(x ast.Node, sc *scope) (Expr, error) {
	switch x := x.(type) {
	case ast.Int:
		return Lit{Typed{tp.Int}, x.Value}, nil
	case ast.Float:
		return Lit{Typed{tp.Float}, x.Value}, nil
	case ast.Str:
		return Lit{Typed{tp.Str}, x.Value}, nil
	case ast.Ident:
		switch x.Name {
		case "true", "false":
			return Lit{Typed{tp.Bool}, x.Name == "true"}, nil
		case "unit":
			return Lit{Typed{tp.Unit}, nil}, nil
		}

		if s := sc.lookup(x.Name); s != nil {
			return Ref{Typed{s.t}, x.Name}, nil
		}

		return nil, r.errorf(x, "undefined: %v", x.Name)
	case ast.List:
		return r.list(x, sc)
	default:
		return nil, r.errorf(x, "unexpected %T", x)
	}
}

func (r *reader) list(l ast.List, sc *scope) (Expr, error) {
	head, ok := l.Head()
	if !ok {
		return nil, r.errorf(l, "form expected")
	}

	args := l.Items[1:]

	if op, ok := prims[head]; ok {
		return r.prim(l, op, args, sc)
	}

	switch head {
	case "let":
		if len(args) != 3 {
			return nil, r.errorf(l, "let: want (let name value body)")
		}

		name, err := r.name(l, 1)
		if err != nil {
			return nil, err
		}

		v, err := r.expr(args[1], sc)
		if err != nil {
			return nil, err
		}

		body, err := r.expr(args[2], &scope{name: name, t: v.Type(), up: sc})
		if err != nil {
			return nil, err
		}

		return Let{Typed{body.Type()}, name, v, body}, nil
	case "do":
		es, err := r.exprs(args, sc)
		if err != nil {
			return nil, err
		}

		if len(es) == 0 {
			return Lit{Typed{tp.Unit}, nil}, nil
		}

		return Seq{Typed{es[len(es)-1].Type()}, es}, nil
	case "apply":
		if len(args) == 0 {
			return nil, r.errorf(l, "apply: closure expected")
		}

		fn, err := r.expr(args[0], sc)
		if err != nil {
			return nil, err
		}

		ft := r.under(fn.Type())
		if ft.Kind != tp.KindFunc || len(ft.Params) != len(args)-1 {
			return nil, r.errorf(l, "apply: %v with %d args", r.pool.String(fn.Type()), len(args)-1)
		}

		as, err := r.exprs(args[1:], sc)
		if err != nil {
			return nil, err
		}

		return CallIndirect{Typed{ft.Result}, fn, as}, nil
	case "closure":
		name, err := r.name(l, 1)
		if err != nil {
			return nil, err
		}

		s, ok := r.sigs[name]
		if !ok || len(s.params) < len(args)-1 {
			return nil, r.errorf(l, "closure: bad function %v", name)
		}

		caps, err := r.exprs(args[1:], sc)
		if err != nil {
			return nil, err
		}

		t := r.pool.Func(s.params[len(caps):], s.result)

		return MakeClosure{Typed{t}, name, caps}, nil
	case "new":
		return r.construct(l, sc)
	case "tuple":
		es, err := r.exprs(args, sc)
		if err != nil {
			return nil, err
		}

		ts := make([]tp.ID, len(es))
		for i, e := range es {
			ts[i] = e.Type()
		}

		return New{Typed{r.pool.Tuple(ts...)}, 0, es}, nil
	case "get":
		return r.get(l, sc)
	case "if":
		if len(args) != 3 {
			return nil, r.errorf(l, "if: want (if cond then else)")
		}

		es, err := r.exprs(args, sc)
		if err != nil {
			return nil, err
		}

		if es[0].Type() != tp.Bool {
			return nil, r.errorf(args[0], "if: condition is %v", r.pool.String(es[0].Type()))
		}

		return If{Typed{join(es[1].Type(), es[2].Type())}, es[0], es[1], es[2]}, nil
	case "match":
		return r.match(l, sc)
	case "loop":
		return r.loop(l, sc)
	case "recur":
		if len(r.loops) == 0 {
			return nil, r.errorf(l, "recur outside of loop")
		}

		lc := r.loops[len(r.loops)-1]
		if len(args) != len(lc.binds) {
			return nil, r.errorf(l, "recur: %d args, want %d", len(args), len(lc.binds))
		}

		es, err := r.exprs(args, sc)
		if err != nil {
			return nil, err
		}

		return Recur{Typed{tp.Never}, es}, nil
	case "return":
		if len(args) != 1 {
			return nil, r.errorf(l, "return: want (return value)")
		}

		v, err := r.expr(args[0], sc)
		if err != nil {
			return nil, err
		}

		return Return{Typed{tp.Never}, v}, nil
	}

	s, ok := r.sigs[head]
	if !ok {
		return nil, r.errorf(l, "unknown function: %v", head)
	}

	if len(s.params) != len(args) {
		return nil, r.errorf(l, "%v: %d args, want %d", head, len(args), len(s.params))
	}

	es, err := r.exprs(args, sc)
	if err != nil {
		return nil, err
	}

	return Call{Typed{s.result}, head, es}, nil
}

func (r *reader) prim(l ast.List, op ir.Op, args []ast.Node, sc *scope) (Expr, error) {
	es, err := r.exprs(args, sc)
	if err != nil {
		return nil, err
	}

	want := 2
	if op == ir.OpNeg || op == ir.OpNot || op == ir.OpStrLen {
		want = 1
	}

	if len(es) != want {
		return nil, r.errorf(l, "%v: %d args, want %d", op, len(es), want)
	}

	var t tp.ID

	switch op {
	case ir.OpLt, ir.OpLe, ir.OpGt, ir.OpGe, ir.OpEq, ir.OpNe, ir.OpAnd, ir.OpOr, ir.OpNot:
		t = tp.Bool
	case ir.OpConcat:
		t = tp.Str
	case ir.OpStrLen:
		t = tp.Int
	default:
		t = es[0].Type()
	}

	return Prim{Typed{t}, op, es}, nil
}

func (r *reader) construct(l ast.List, sc *scope) (Expr, error) {
	if len(l.Items) < 2 {
		return nil, r.errorf(l, "new: type expected")
	}

	t, err := r.typ(l.Items[1])
	if err != nil {
		return nil, err
	}

	u := r.under(t)
	args := l.Items[2:]
	variant := 0

	switch u.Kind {
	case tp.KindRecord:
	case tp.KindEnum:
		name, err := r.name(l, 2)
		if err != nil {
			return nil, err
		}

		variant = r.pool.VariantIndex(t, name)
		if variant < 0 {
			return nil, r.errorf(l.Items[2], "%v has no variant %v", r.pool.String(t), name)
		}

		args = args[1:]
	default:
		return nil, r.errorf(l, "new: %v is not a record or enum", r.pool.String(t))
	}

	fs, err := r.pool.Fields(t, variant)
	if err != nil {
		return nil, r.errorf(l, "%v", err)
	}

	if len(fs) != len(args) {
		return nil, r.errorf(l, "new: %d args, want %d", len(args), len(fs))
	}

	es, err := r.exprs(args, sc)
	if err != nil {
		return nil, err
	}

	return New{Typed{t}, variant, es}, nil
}

func (r *reader) get(l ast.List, sc *scope) (Expr, error) {
	if len(l.Items) != 3 {
		return nil, r.errorf(l, "get: want (get value field)")
	}

	v, err := r.expr(l.Items[1], sc)
	if err != nil {
		return nil, err
	}

	idx := -1

	switch f := l.Items[2].(type) {
	case ast.Int:
		idx = int(f.Value)
	case ast.Ident:
		idx = r.pool.FieldIndex(v.Type(), 0, f.Name)
	}

	u := r.under(v.Type())
	if u.Kind != tp.KindRecord && u.Kind != tp.KindTuple {
		return nil, r.errorf(l, "get: %v is not a record or tuple", r.pool.String(v.Type()))
	}

	fs, err := r.pool.Fields(v.Type(), 0)
	if err != nil || idx < 0 || idx >= len(fs) {
		return nil, r.errorf(l.Items[2], "get: no such field in %v", r.pool.String(v.Type()))
	}

	return Field{Typed{fs[idx]}, v, 0, idx}, nil
}

func (r *reader) match(l ast.List, sc *scope) (Expr, error) {
	if len(l.Items) < 3 {
		return nil, r.errorf(l, "match: want (match value arms...)")
	}

	v, err := r.expr(l.Items[1], sc)
	if err != nil {
		return nil, err
	}

	m := Match{Typed: Typed{tp.Never}, Scrutinee: v}

	for _, x := range l.Items[2:] {
		al, ok := x.(ast.List)
		if !ok || len(al.Items) != 2 && len(al.Items) != 4 {
			return nil, r.errorf(x, "arm: want (pattern body) or (pattern when guard body)")
		}

		binds := map[string]tp.ID{}

		pat, err := r.pattern(al.Items[0], v.Type(), binds)
		if err != nil {
			return nil, err
		}

		asc := sc
		for name, t := range binds {
			asc = &scope{name: name, t: t, up: asc}
		}

		arm := Arm{Pattern: pat}

		body := al.Items[1]

		if len(al.Items) == 4 {
			if kw, _ := al.Items[1].(ast.Ident); kw.Name != "when" {
				return nil, r.errorf(al.Items[1], "when expected")
			}

			arm.Guard, err = r.expr(al.Items[2], asc)
			if err != nil {
				return nil, err
			}

			body = al.Items[3]
		}

		arm.Body, err = r.expr(body, asc)
		if err != nil {
			return nil, err
		}

		m.T = join(m.T, arm.Body.Type())
		m.Arms = append(m.Arms, arm)
	}

	return m, nil
}

func (r *reader) pattern(x ast.Node, t tp.ID, binds map[string]tp.ID) (Pattern, error) {
	switch x := x.(type) {
	case ast.Int:
		return PLit{x.Value}, nil
	case ast.Str:
		return PLit{x.Value}, nil
	case ast.Ident:
		switch x.Name {
		case "_":
			return PWild{}, nil
		case "true", "false":
			return PLit{x.Name == "true"}, nil
		}

		if r.under(t).Kind == tp.KindEnum {
			if v := r.pool.VariantIndex(t, x.Name); v >= 0 {
				if fs, _ := r.pool.Fields(t, v); len(fs) == 0 {
					return PVariant{Type: t, Variant: v}, nil
				}
			}
		}

		binds[x.Name] = t

		return PBind{x.Name}, nil
	case ast.List:
		head, ok := x.Head()
		if !ok {
			return nil, r.errorf(x, "pattern expected")
		}

		switch head {
		case "as":
			if len(x.Items) != 3 {
				return nil, r.errorf(x, "as: want (as name pattern)")
			}

			name, err := r.name(x, 1)
			if err != nil {
				return nil, err
			}

			binds[name] = t

			p, err := r.pattern(x.Items[2], t, binds)
			if err != nil {
				return nil, err
			}

			return PAs{name, p}, nil
		case "or":
			var alts []Pattern

			for _, a := range x.Items[1:] {
				p, err := r.pattern(a, t, binds)
				if err != nil {
					return nil, err
				}

				alts = append(alts, p)
			}

			return POr{alts}, nil
		case "range":
			if len(x.Items) != 3 {
				return nil, r.errorf(x, "range: want (range lo hi)")
			}

			lo, lok := x.Items[1].(ast.Int)
			hi, hok := x.Items[2].(ast.Int)

			if !lok || !hok {
				return nil, r.errorf(x, "range: bounds must be ints")
			}

			return PRange{lo.Value, hi.Value}, nil
		}

		u := r.under(t)
		variant := 0

		switch {
		case u.Kind == tp.KindTuple && head == "tuple":
		case u.Kind == tp.KindRecord && head == u.Name:
		case u.Kind == tp.KindEnum:
			variant = r.pool.VariantIndex(t, head)
			if variant < 0 {
				return nil, r.errorf(x, "%v has no variant %v", r.pool.String(t), head)
			}
		default:
			return nil, r.errorf(x, "pattern %v does not match %v", head, r.pool.String(t))
		}

		fs, err := r.pool.Fields(t, variant)
		if err != nil {
			return nil, r.errorf(x, "%v", err)
		}

		if len(fs) != len(x.Items)-1 {
			return nil, r.errorf(x, "%v: %d fields, want %d", head, len(x.Items)-1, len(fs))
		}

		p := PVariant{Type: t, Variant: variant}

		for i, f := range x.Items[1:] {
			fp, err := r.pattern(f, fs[i], binds)
			if err != nil {
				return nil, err
			}

			p.Fields = append(p.Fields, fp)
		}

		return p, nil
	}

	return nil, r.errorf(x, "pattern expected")
}

func (r *reader) loop(l ast.List, sc *scope) (Expr, error) {
	if len(l.Items) != 3 {
		return nil, r.errorf(l, "loop: want (loop ((name init)...) body)")
	}

	bl, ok := l.Items[1].(ast.List)
	if !ok {
		return nil, r.errorf(l.Items[1], "bindings expected")
	}

	lp := Loop{}
	lc := loopCtx{}
	bsc := sc

	for _, x := range bl.Items {
		b, ok := x.(ast.List)
		if !ok || len(b.Items) != 2 {
			return nil, r.errorf(x, "binding: want (name init)")
		}

		name, err := r.name(b, 0)
		if err != nil {
			return nil, err
		}

		init, err := r.expr(b.Items[1], sc)
		if err != nil {
			return nil, err
		}

		lp.Binds = append(lp.Binds, Bind{name, init})
		lc.binds = append(lc.binds, init.Type())
		bsc = &scope{name: name, t: init.Type(), up: bsc}
	}

	r.loops = append(r.loops, lc)
	defer func() { r.loops = r.loops[:len(r.loops)-1] }()

	body, err := r.expr(l.Items[2], bsc)
	if err != nil {
		return nil, err
	}

	lp.Body = body
	lp.T = body.Type()

	return lp, nil
}

func (r *reader) exprs(xs []ast.Node, sc *scope) ([]Expr, error) {
	es := make([]Expr, len(xs))

	for i, x := range xs {
		e, err := r.expr(x, sc)
		if err != nil {
			return nil, err
		}

		es[i] = e
	}

	return es, nil
}

func (r *reader) form(x ast.Node) (ast.List, string, error) {
	l, ok := x.(ast.List)
	if !ok {
		return l, "", r.errorf(x, "form expected")
	}

	head, ok := l.Head()
	if !ok {
		return l, "", r.errorf(x, "form expected")
	}

	return l, head, nil
}

func (r *reader) name(l ast.List, i int) (string, error) {
	if i >= len(l.Items) {
		return "", r.errorf(l, "name expected")
	}

	id, ok := l.Items[i].(ast.Ident)
	if !ok {
		return "", r.errorf(l.Items[i], "name expected")
	}

	return id.Name, nil
}

func (r *reader) errorf(x ast.Node, format string, args ...any) error {
	var pos int
	if x != nil {
		pos = x.Span().Pos
	}

	name, line, col := r.st.Position(pos)

	return parse.PosError{Err: errors.New(format, args...), File: name, Line: line, Col: col}
}

func (s *scope) lookup(name string) *scope {
	for ; s != nil; s = s.up {
		if s.name == name {
			return s
		}
	}

	return nil
}

func join(a, b tp.ID) tp.ID {
	if a == tp.Never {
		return b
	}

	return a
}

func (r *reader) under(t tp.ID) *tp.Type {
	u := r.pool.Underlying(t)
	if u == tp.None {
		return &tp.Type{Kind: tp.KindVar}
	}

	return r.pool.Get(u)
}
