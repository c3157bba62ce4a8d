package front

import (
	"maps"
	"strconv"
	"strings"

	"tlog.app/go/errors"

	"github.com/upstat-io/sigil-lang-sub011/compiler/canon"
	"github.com/upstat-io/sigil-lang-sub011/compiler/ir"
	"github.com/upstat-io/sigil-lang-sub011/compiler/tp"
)

type (
	// occVars maps scrutinee positions to variables already projected
	// on the current path.
	occVars map[string]ir.Var

	matchEmitter struct {
		*lowerer

		m     canon.Match
		e     *env
		exits []exit
	}
)

func (l *lowerer) match(x canon.Match, e *env) (ir.Var, error) {
	root, err := l.expr(x.Scrutinee, e)
	if err != nil || l.cur == nil {
		return 0, err
	}

	t, err := compileMatch(l.pool, x)
	if err != nil {
		return 0, errors.Wrap(err, "decision tree")
	}

	me := &matchEmitter{lowerer: l, m: x, e: e}

	err = me.emitTree(t, occVars{"": root})
	if err != nil {
		return 0, err
	}

	return l.join(me.exits, x.T), nil
}

func (me *matchEmitter) emitTree(t tree, vars occVars) (err error) {
	switch t := t.(type) {
	case fail:
		me.cur.Term = ir.Unreachable{}
	case leaf:
		return me.emitLeaf(t, vars)
	case multi:
		v := me.occVar(t.occ, vars)

		if t.tag {
			tag := me.f.NewVar(tp.Int)
			me.emit(ir.Tag{Dst: tag, Src: v})
			v = tag
		}

		sw := ir.Switch{Value: v, Default: ir.NoBlock}
		from := me.cur

		var subs []tree
		var blocks []*ir.Block

		for _, c := range t.cases {
			b := me.f.NewBlock()

			sw.Cases = append(sw.Cases, ir.Case{Value: c.value, Target: b.ID})
			subs = append(subs, c.sub)
			blocks = append(blocks, b)
		}

		if t.def != nil {
			b := me.f.NewBlock()

			sw.Default = b.ID
			subs = append(subs, t.def)
			blocks = append(blocks, b)
		}

		from.Term = sw

		for i, sub := range subs {
			me.cur = blocks[i]

			err = me.emitTree(sub, maps.Clone(vars))
			if err != nil {
				return err
			}
		}
	case test:
		v := me.occVar(t.occ, vars)
		c := me.cond(v, t.pat)

		thenB := me.f.NewBlock()
		elseB := me.f.NewBlock()

		me.cur.Term = ir.Branch{Cond: c, Then: thenB.ID, Else: elseB.ID}

		me.cur = thenB

		err = me.emitTree(t.then, maps.Clone(vars))
		if err != nil {
			return err
		}

		me.cur = elseB

		return me.emitTree(t.els, maps.Clone(vars))
	default:
		panic(t)
	}

	return nil
}

func (me *matchEmitter) emitLeaf(t leaf, vars occVars) (err error) {
	e := me.e

	for _, b := range t.binds {
		e = e.bind(b.name, me.occVar(b.occ, vars))
	}

	arm := me.m.Arms[t.arm]

	if arm.Guard != nil {
		g, err := me.expr(arm.Guard, e)
		if err != nil {
			return err
		}

		if me.cur == nil {
			return nil
		}

		bodyB := me.f.NewBlock()
		elseB := me.f.NewBlock()

		me.cur.Term = ir.Branch{Cond: g, Then: bodyB.ID, Else: elseB.ID}

		me.cur = elseB

		if t.next == nil {
			me.cur.Term = ir.Unreachable{}
		} else if err = me.emitTree(t.next, maps.Clone(vars)); err != nil {
			return err
		}

		me.cur = bodyB
	}

	v, err := me.expr(arm.Body, e)
	if err != nil {
		return err
	}

	if me.cur != nil {
		me.exits = append(me.exits, exit{b: me.cur, v: v})
	}

	return nil
}

// occVar projects the position out of the scrutinee in the current block
// unless it's already available on this path.
func (me *matchEmitter) occVar(o occ, vars occVars) ir.Var {
	key := pathKey(o.path)

	if v, ok := vars[key]; ok {
		return v
	}

	parent := occ{path: o.path[:len(o.path)-1]}
	pv := me.occVar(parent, vars)

	last := o.path[len(o.path)-1]

	v := me.f.NewVar(o.t)
	me.emit(ir.Project{Dst: v, Src: pv, Variant: last.Variant, Field: last.Field})

	vars[key] = v

	return v
}

func (me *matchEmitter) cond(v ir.Var, p canon.Pattern) ir.Var {
	lit := func(x any, t tp.ID) ir.Var {
		c := me.f.NewVar(t)
		me.emit(ir.Let{Dst: c, Value: x})

		return c
	}

	prim := func(op ir.Op, args ...ir.Var) ir.Var {
		r := me.f.NewVar(tp.Bool)
		me.emit(ir.Prim{Dst: r, Op: op, Args: args})

		return r
	}

	switch p := p.(type) {
	case canon.PLit:
		return prim(ir.OpEq, v, lit(p.Value, me.f.Types[v]))
	case canon.PRange:
		lo := prim(ir.OpLe, lit(p.Lo, tp.Int), v)
		hi := prim(ir.OpLe, v, lit(p.Hi, tp.Int))

		return prim(ir.OpAnd, lo, hi)
	default:
		panic(p)
	}
}

func pathKey(path []step) string {
	var b strings.Builder

	for _, s := range path {
		b.WriteString(strconv.Itoa(s.Variant))
		b.WriteByte('.')
		b.WriteString(strconv.Itoa(s.Field))
		b.WriteByte('/')
	}

	return b.String()
}
