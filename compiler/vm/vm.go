// Package vm executes ARC IR on a simulated reference counted heap.
// It checks that counts are balanced and no object is used after it's freed.
package vm

import (
	"context"
	"io"
	"strconv"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/upstat-io/sigil-lang-sub011/compiler/drop"
	"github.com/upstat-io/sigil-lang-sub011/compiler/ir"
	"github.com/upstat-io/sigil-lang-sub011/compiler/tp"
)

type (
	Kind uint8

	Value struct {
		Kind  Kind
		Int   int64
		Float float64
		Ptr   Ptr
		Elems []Value // tuples
	}

	// Extern is a host function. Owned arguments are released by the machine
	// after it returns.
	Extern func(m *Machine, args []Value) (Value, error)

	Machine struct {
		Pool    *tp.Pool
		Heap    *Heap
		Funcs   map[string]*ir.Func
		Sigs    map[string][]ir.Mode
		Externs map[string]Extern

		// Drops says which fields to release when an object is freed.
		// Objects without a descriptor release all their fields.
		Drops *drop.Table

		Out io.Writer

		MaxDepth int

		Stats Stats

		depth int
	}

	Stats struct {
		Steps   int
		Calls   int
		Resets  int
		Reuses  int // Reuse instructions which got memory back
		Sets    int
		SetTags int
	}

	frame struct {
		f    *ir.Func
		vars []Value
		set  []bool // vars assigned on the path taken
	}
)

const (
	KindUnit Kind = iota
	KindInt
	KindFloat
	KindRef
	KindTuple
)

var (
	ErrUnreachable = errors.New("unreachable executed")
	ErrNoFunc      = errors.New("no such function")
	ErrTooDeep     = errors.New("call stack overflow")
	ErrBadValue    = errors.New("unexpected value")
	ErrUndefined   = errors.New("read of unassigned var")
)

func New(pool *tp.Pool, funcs []*ir.Func, sigs map[string][]ir.Mode) *Machine {
	m := &Machine{
		Pool:     pool,
		Heap:     NewHeap(),
		Funcs:    make(map[string]*ir.Func, len(funcs)),
		Sigs:     sigs,
		Externs:  Builtins(),
		MaxDepth: 10000,
	}

	for _, f := range funcs {
		m.Funcs[f.Name] = f
	}

	return m
}

func Unit() Value           { return Value{} }
func Int(x int64) Value     { return Value{Kind: KindInt, Int: x} }
func Float(x float64) Value { return Value{Kind: KindFloat, Float: x} }
func Tuple(xs ...Value) Value {
	return Value{Kind: KindTuple, Elems: xs}
}

func Bool(x bool) Value {
	if x {
		return Int(1)
	}

	return Int(0)
}

// Str allocates a string. The caller owns the reference.
func (m *Machine) Str(s string) Value {
	p := m.Heap.Allocate(len(s), 1, &Object{Type: tp.Str, Str: s})

	return Value{Kind: KindRef, Ptr: p}
}

// New allocates a record or enum payload object.
func (m *Machine) New(t tp.ID, variant int, fields ...Value) Value {
	size := wordSize * (1 + len(fields))
	p := m.Heap.Allocate(size, wordSize, &Object{Type: t, Variant: variant, Fields: fields})

	return Value{Kind: KindRef, Ptr: p}
}

// Call runs the function. Arguments are passed according to its param modes:
// owned arguments are consumed, borrowed ones stay with the caller.
func (m *Machine) Call(ctx context.Context, name string, args ...Value) (res Value, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "vm: call", "func", name)
	defer tr.Finish("err", &err)

	res, err = m.call(ctx, name, args)
	if err != nil {
		return Value{}, err
	}

	tr.V("vm").Printw("call done", "allocs", m.Heap.Allocs, "frees", m.Heap.Frees, "stats", m.Stats)

	return res, nil
}

// ReleaseBorrowed releases arguments a function has only borrowed
// once the caller is done with them.
func (m *Machine) ReleaseBorrowed(name string, args []Value) error {
	ms := m.Sigs[name]

	for i, a := range args {
		if i >= len(ms) || ms[i] != ir.Borrowed {
			continue
		}

		if err := m.Release(a); err != nil {
			return errors.Wrap(err, "arg %d", i)
		}
	}

	return nil
}

func (m *Machine) call(ctx context.Context, name string, args []Value) (Value, error) {
	m.Stats.Calls++

	if ext, ok := m.Externs[name]; ok {
		if _, ok := m.Funcs[name]; !ok {
			return m.callExtern(name, ext, args)
		}
	}

	f, ok := m.Funcs[name]
	if !ok {
		return Value{}, errors.Wrap(ErrNoFunc, "%v", name)
	}

	if len(args) != len(f.Params) {
		return Value{}, errors.New("%v: %d args, expected %d", name, len(args), len(f.Params))
	}

	if m.depth >= m.MaxDepth {
		return Value{}, errors.Wrap(ErrTooDeep, "%v", name)
	}

	m.depth++
	defer func() { m.depth-- }()

	fr := &frame{f: f, vars: make([]Value, len(f.Types)), set: make([]bool, len(f.Types))}

	for i, p := range f.Params {
		fr.vars[p.Var] = args[i]
		fr.set[p.Var] = true
	}

	return m.run(ctx, fr)
}

func (m *Machine) callExtern(name string, ext Extern, args []Value) (Value, error) {
	res, err := ext(m, args)
	if err != nil {
		return Value{}, errors.Wrap(err, "extern %v", name)
	}

	ms := m.Sigs[name]

	for i, a := range args {
		if i < len(ms) && ms[i] == ir.Borrowed {
			continue
		}

		if err := m.Release(a); err != nil {
			return Value{}, errors.Wrap(err, "extern %v: release arg %d", name, i)
		}
	}

	return res, nil
}

func (m *Machine) run(ctx context.Context, fr *frame) (Value, error) {
	f := fr.f
	b := f.Blocks[f.Entry]

	for {
		for _, x := range b.Code {
			m.Stats.Steps++

			err := fr.check(ir.Uses(x))
			if err == nil {
				err = m.exec(ctx, fr, x)
			}
			if err != nil {
				return Value{}, errors.Wrap(err, "%v: %v", f.Name, b.ID)
			}

			if v, ok := ir.Def(x); ok {
				fr.set[v] = true
			}
		}

		if err := fr.check(ir.TermUses(b.Term)); err != nil {
			return Value{}, errors.Wrap(err, "%v: %v: terminator", f.Name, b.ID)
		}

		switch t := b.Term.(type) {
		case ir.Return:
			return fr.vars[t.Value], nil
		case ir.Jump:
			next := f.Blocks[t.Target]

			vals := make([]Value, len(t.Args))
			for i, a := range t.Args {
				vals[i] = fr.vars[a]
			}

			for i, p := range next.Params {
				fr.vars[p] = vals[i]
				fr.set[p] = true
			}

			b = next
		case ir.Branch:
			if fr.vars[t.Cond].Int != 0 {
				b = f.Blocks[t.Then]
			} else {
				b = f.Blocks[t.Else]
			}
		case ir.Switch:
			v := fr.vars[t.Value].Int
			target := t.Default

			for _, c := range t.Cases {
				if c.Value == v {
					target = c.Target
					break
				}
			}

			if target == ir.NoBlock {
				return Value{}, errors.Wrap(ErrUnreachable, "%v: %v: switch on %d", f.Name, b.ID, v)
			}

			b = f.Blocks[target]
		case ir.Unreachable:
			return Value{}, errors.Wrap(ErrUnreachable, "%v: %v", f.Name, b.ID)
		default:
			panic(t)
		}
	}
}

func (fr *frame) check(vs []ir.Var) error {
	for _, v := range vs {
		if int(v) >= len(fr.set) || !fr.set[v] {
			return errors.Wrap(ErrUndefined, "%v", v)
		}
	}

	return nil
}

func (m *Machine) exec(ctx context.Context, fr *frame, x ir.Instr) (err error) {
	vars := fr.vars

	switch x := x.(type) {
	case ir.Let:
		vars[x.Dst], err = m.literal(x.Value)
	case ir.Move:
		vars[x.Dst] = vars[x.Src]
	case ir.Prim:
		vars[x.Dst], err = m.prim(x.Op, pick(vars, x.Args))
	case ir.Apply:
		vars[x.Dst], err = m.call(ctx, x.Func, pick(vars, x.Args))
	case ir.ApplyIndirect:
		vars[x.Dst], err = m.callIndirect(ctx, vars[x.Closure], pick(vars, x.Args))
	case ir.Closure:
		caps := pick(vars, x.Captures)
		p := m.Heap.Allocate(wordSize*(1+len(caps)), wordSize, &Object{Type: fr.f.Types[x.Dst], Func: x.Func, Fields: caps})

		vars[x.Dst] = Value{Kind: KindRef, Ptr: p}
	case ir.Construct:
		vars[x.Dst] = m.construct(x.Type, x.Variant, pick(vars, x.Args))
	case ir.Project:
		vars[x.Dst], err = m.project(vars[x.Src], x.Variant, x.Field)
	case ir.Tag:
		vars[x.Dst], err = m.tag(vars[x.Src])
	case ir.Inc:
		err = m.Retain(vars[x.Var])
	case ir.Dec:
		err = m.Release(vars[x.Var])
	case ir.Reset:
		vars[x.Token], err = m.reset(vars[x.Var])
	case ir.Reuse:
		vars[x.Dst], err = m.reuse(vars[x.Token], x.Type, x.Variant, pick(vars, x.Args))
	case ir.IsShared:
		var n int64

		n, err = m.Heap.Count(vars[x.Var].Ptr)
		vars[x.Dst] = Bool(n > 1)
	case ir.Set:
		var o *Object

		o, err = m.Heap.Object(vars[x.Var].Ptr)
		if err != nil {
			break
		}

		for len(o.Fields) <= x.Field {
			o.Fields = append(o.Fields, Value{})
		}

		o.Fields[x.Field] = vars[x.Value]
		m.Stats.Sets++
	case ir.SetTag:
		var o *Object

		o, err = m.Heap.Object(vars[x.Var].Ptr)
		if err != nil {
			break
		}

		fs, _ := m.Pool.Fields(o.Type, x.Variant)

		o.Variant = x.Variant
		o.Fields = resize(o.Fields, len(fs))
		m.Stats.SetTags++
	default:
		panic(x)
	}

	return err
}

func (m *Machine) callIndirect(ctx context.Context, c Value, args []Value) (Value, error) {
	o, err := m.Heap.Object(c.Ptr)
	if err != nil {
		return Value{}, errors.Wrap(err, "closure")
	}

	ms := m.Sigs[o.Func]

	full := make([]Value, 0, len(o.Fields)+len(args))

	for i, v := range o.Fields {
		if i >= len(ms) || ms[i] == ir.Owned {
			if err := m.Retain(v); err != nil {
				return Value{}, errors.Wrap(err, "capture %d", i)
			}
		}

		full = append(full, v)
	}

	full = append(full, args...)

	res, err := m.call(ctx, o.Func, full)
	if err != nil {
		return Value{}, err
	}

	// arguments of indirect calls are always passed owned
	for i, a := range args {
		j := len(o.Fields) + i

		if j < len(ms) && ms[j] == ir.Borrowed {
			if err := m.Release(a); err != nil {
				return Value{}, err
			}
		}
	}

	return res, nil
}

func (m *Machine) literal(v any) (Value, error) {
	switch v := v.(type) {
	case nil:
		return Unit(), nil
	case int64:
		return Int(v), nil
	case bool:
		return Bool(v), nil
	case rune:
		return Int(int64(v)), nil
	case float64:
		return Float(v), nil
	case string:
		return m.Str(v), nil
	default:
		return Value{}, errors.Wrap(ErrBadValue, "literal %T", v)
	}
}

func (m *Machine) construct(t tp.ID, variant int, args []Value) Value {
	u := m.Pool.Get(m.Pool.Underlying(t))

	switch {
	case u.Kind == tp.KindTuple:
		return Tuple(args...)
	case m.Pool.Boxed(t):
		return m.New(t, variant, args...)
	default:
		return Int(int64(variant))
	}
}

func (m *Machine) project(v Value, variant, field int) (Value, error) {
	if v.Kind == KindTuple {
		if field >= len(v.Elems) {
			return Value{}, errors.Wrap(ErrBadValue, "tuple field %d of %d", field, len(v.Elems))
		}

		return v.Elems[field], nil
	}

	if v.Kind != KindRef {
		return Value{}, errors.Wrap(ErrBadValue, "project from kind %d", v.Kind)
	}

	o, err := m.Heap.Object(v.Ptr)
	if err != nil {
		return Value{}, err
	}

	if o.Variant != variant || field >= len(o.Fields) {
		return Value{}, errors.Wrap(ErrBadValue, "project %d.%d of variant %d", variant, field, o.Variant)
	}

	return o.Fields[field], nil
}

func (m *Machine) tag(v Value) (Value, error) {
	switch v.Kind {
	case KindInt:
		return v, nil
	case KindRef:
		o, err := m.Heap.Object(v.Ptr)
		if err != nil {
			return Value{}, err
		}

		return Int(int64(o.Variant)), nil
	default:
		return Value{}, errors.Wrap(ErrBadValue, "tag of kind %d", v.Kind)
	}
}

// Retain increments every reference v holds.
func (m *Machine) Retain(v Value) error {
	switch v.Kind {
	case KindRef:
		return m.Heap.Increment(v.Ptr)
	case KindTuple:
		for _, e := range v.Elems {
			if err := m.Retain(e); err != nil {
				return err
			}
		}
	}

	return nil
}

// Release decrements every reference v holds, freeing objects recursively.
func (m *Machine) Release(v Value) error {
	switch v.Kind {
	case KindRef:
		o, err := m.Heap.Decrement(v.Ptr)
		if err != nil || o == nil {
			return err
		}

		return m.free(v.Ptr, o)
	case KindTuple:
		for _, e := range v.Elems {
			if err := m.Release(e); err != nil {
				return err
			}
		}
	}

	return nil
}

func (m *Machine) free(p Ptr, o *Object) error {
	fields := o.Fields

	m.Heap.Free(p)

	d, ok := m.drop(o)
	if !ok {
		for _, f := range fields {
			if err := m.Release(f); err != nil {
				return err
			}
		}

		return nil
	}

	for _, f := range d.Release(o.Variant) {
		if f.Index >= len(fields) {
			return errors.Wrap(ErrBadValue, "drop %v: field %d of %d", m.Pool.String(o.Type), f.Index, len(fields))
		}

		if err := m.Release(fields[f.Index]); err != nil {
			return err
		}
	}

	return nil
}

func (m *Machine) drop(o *Object) (d drop.Info, ok bool) {
	if m.Drops == nil {
		return
	}

	if o.Func != "" {
		d, ok = m.Drops.Envs[o.Func]
	} else {
		d, ok = m.Drops.Types[o.Type]
	}

	return d, ok && d.Kind != drop.KindList
}

// reset returns v's memory as a token if v is unique. Otherwise v is released.
func (m *Machine) reset(v Value) (Value, error) {
	n, err := m.Heap.Count(v.Ptr)
	if err != nil {
		return Value{}, err
	}

	m.Stats.Resets++

	if n != 1 {
		return Unit(), m.Release(v)
	}

	o, _ := m.Heap.Object(v.Ptr)

	for _, f := range o.Fields {
		if err := m.Release(f); err != nil {
			return Value{}, err
		}
	}

	o.Fields = nil

	return v, nil
}

func (m *Machine) reuse(tok Value, t tp.ID, variant int, args []Value) (Value, error) {
	if tok.Kind != KindRef {
		return m.construct(t, variant, args), nil
	}

	o, err := m.Heap.Object(tok.Ptr)
	if err != nil {
		return Value{}, err
	}

	o.Type = t
	o.Variant = variant
	o.Fields = args

	m.Stats.Reuses++

	return tok, nil
}

func (m *Machine) prim(op ir.Op, a []Value) (Value, error) {
	if op == ir.OpConcat || op == ir.OpStrLen || (op == ir.OpEq || op == ir.OpNe) && a[0].Kind == KindRef {
		return m.strPrim(op, a)
	}

	if len(a) != 0 && a[0].Kind == KindFloat {
		return floatPrim(op, a)
	}

	x := a[0].Int

	var y int64
	if len(a) > 1 {
		y = a[1].Int
	}

	switch op {
	case ir.OpAdd:
		return Int(x + y), nil
	case ir.OpSub:
		return Int(x - y), nil
	case ir.OpMul:
		return Int(x * y), nil
	case ir.OpDiv, ir.OpRem:
		if y == 0 {
			return Value{}, errors.New("division by zero")
		}

		if op == ir.OpDiv {
			return Int(x / y), nil
		}

		return Int(x % y), nil
	case ir.OpNeg:
		return Int(-x), nil
	case ir.OpLt:
		return Bool(x < y), nil
	case ir.OpLe:
		return Bool(x <= y), nil
	case ir.OpGt:
		return Bool(x > y), nil
	case ir.OpGe:
		return Bool(x >= y), nil
	case ir.OpEq:
		return Bool(x == y), nil
	case ir.OpNe:
		return Bool(x != y), nil
	case ir.OpAnd:
		return Bool(x != 0 && y != 0), nil
	case ir.OpOr:
		return Bool(x != 0 || y != 0), nil
	case ir.OpNot:
		return Bool(x == 0), nil
	default:
		return Value{}, errors.New("unsupported op %v", op)
	}
}

func floatPrim(op ir.Op, a []Value) (Value, error) {
	x := a[0].Float

	var y float64
	if len(a) > 1 {
		y = a[1].Float
	}

	switch op {
	case ir.OpAdd:
		return Float(x + y), nil
	case ir.OpSub:
		return Float(x - y), nil
	case ir.OpMul:
		return Float(x * y), nil
	case ir.OpDiv:
		return Float(x / y), nil
	case ir.OpNeg:
		return Float(-x), nil
	case ir.OpLt:
		return Bool(x < y), nil
	case ir.OpLe:
		return Bool(x <= y), nil
	case ir.OpGt:
		return Bool(x > y), nil
	case ir.OpGe:
		return Bool(x >= y), nil
	case ir.OpEq:
		return Bool(x == y), nil
	case ir.OpNe:
		return Bool(x != y), nil
	default:
		return Value{}, errors.New("unsupported float op %v", op)
	}
}

// strPrim borrows its string arguments.
func (m *Machine) strPrim(op ir.Op, a []Value) (Value, error) {
	ss := make([]string, len(a))

	for i, v := range a {
		o, err := m.Heap.Object(v.Ptr)
		if err != nil {
			return Value{}, errors.Wrap(err, "%v arg %d", op, i)
		}

		ss[i] = o.Str
	}

	switch op {
	case ir.OpConcat:
		return m.Str(ss[0] + ss[1]), nil
	case ir.OpStrLen:
		return Int(int64(len(ss[0]))), nil
	case ir.OpEq:
		return Bool(ss[0] == ss[1]), nil
	case ir.OpNe:
		return Bool(ss[0] != ss[1]), nil
	default:
		return Value{}, errors.New("unsupported string op %v", op)
	}
}

// AppendValue formats v following heap references.
func (m *Machine) AppendValue(b []byte, v Value) []byte {
	switch v.Kind {
	case KindUnit:
		return append(b, "unit"...)
	case KindInt:
		return strconv.AppendInt(b, v.Int, 10)
	case KindFloat:
		return strconv.AppendFloat(b, v.Float, 'g', -1, 64)
	case KindTuple:
		b = append(b, "(tuple"...)

		for _, e := range v.Elems {
			b = append(b, ' ')
			b = m.AppendValue(b, e)
		}

		return append(b, ')')
	}

	o, err := m.Heap.Object(v.Ptr)
	if err != nil {
		return hfmt.Appendf(b, "<%v>", err)
	}

	switch {
	case o.Type == tp.Str:
		return strconv.AppendQuote(b, o.Str)
	case o.Func != "":
		return hfmt.Appendf(b, "<closure %s>", o.Func)
	}

	b = append(b, '(')

	t := m.Pool.Get(m.Pool.Underlying(o.Type))
	if o.Variant < len(t.Variants) && t.Variants[o.Variant].Name != "" {
		b = append(b, t.Variants[o.Variant].Name...)
	} else {
		b = m.Pool.AppendName(b, o.Type)
	}

	for _, f := range o.Fields {
		b = append(b, ' ')
		b = m.AppendValue(b, f)
	}

	return append(b, ')')
}

func pick(vars []Value, vs []ir.Var) []Value {
	r := make([]Value, len(vs))

	for i, v := range vs {
		r[i] = vars[v]
	}

	return r
}

func resize(fs []Value, n int) []Value {
	for len(fs) < n {
		fs = append(fs, Value{})
	}

	return fs[:n]
}
