package compiler

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upstat-io/sigil-lang-sub011/compiler/cache"
	"github.com/upstat-io/sigil-lang-sub011/compiler/canon"
	"github.com/upstat-io/sigil-lang-sub011/compiler/drop"
	"github.com/upstat-io/sigil-lang-sub011/compiler/format"
	"github.com/upstat-io/sigil-lang-sub011/compiler/ir"
	"github.com/upstat-io/sigil-lang-sub011/compiler/tp"
	"github.com/upstat-io/sigil-lang-sub011/compiler/vm"
)

const optProgram = `
(enum Opt (None) (Some (x Int)))

(func f ((x Int)) Int (+ x 1))

(func map_opt ((o Opt)) Opt
  (match o
    ((Some x) (new Opt Some (f x)))
    (None o)))

(func map_new ((o Opt)) Opt
  (match o
    ((Some x) (new Opt Some (f x)))
    (None (new Opt None))))
`

const listProgram = `
(enum List (Nil) (Cons (head Int) (tail List)))

(func build ((n Int)) List
  (loop ((i n) (acc (new List Nil)))
    (if (<= i 0) acc (recur (- i 1) (new List Cons i acc)))))

(func sum ((xs List)) Int
  (loop ((l xs) (acc 0))
    (match l
      (Nil acc)
      ((Cons h t) (recur t (+ acc h))))))

(func len ((xs List)) Int
  (match xs
    (Nil 0)
    ((Cons h t) (+ 1 (len t)))))

(func incs ((xs List)) List
  (match xs
    (Nil xs)
    ((Cons h t) (new List Cons (+ h 1) (incs t)))))

(func bump_head ((xs List)) List
  (match xs
    (Nil xs)
    ((Cons h t) (new List Cons (+ h 1) t))))
`

func compile(t testing.TB, src string, opts Options) *Result {
	t.Helper()

	ctx := context.Background()

	p, err := canon.Read(ctx, []byte(src))
	require.NoError(t, err)

	res, err := Compile(ctx, p, opts)
	require.NoError(t, err)

	return res
}

func machine(t testing.TB, res *Result) *vm.Machine {
	t.Helper()

	m := vm.New(res.Pool, res.Funcs, res.Sigs)
	m.Drops = &res.Drops

	return m
}

func typeID(t testing.TB, res *Result, name string) tp.ID {
	t.Helper()

	id, ok := res.Pool.ByName(name)
	require.True(t, ok, "type %v", name)

	return id
}

func funcText(t testing.TB, res *Result, name string) string {
	t.Helper()

	for _, f := range res.Funcs {
		if f.Name == name {
			return string(format.Func(nil, res.Pool, f))
		}
	}

	t.Fatalf("no func %v", name)

	return ""
}

func funcStats(t testing.TB, res *Result, name string) FuncStats {
	t.Helper()

	for _, s := range res.Stats {
		if s.Name == name {
			return s
		}
	}

	t.Fatalf("no func %v", name)

	return FuncStats{}
}

func newList(m *vm.Machine, t tp.ID, xs ...int64) vm.Value {
	l := m.New(t, 0)

	for i := len(xs) - 1; i >= 0; i-- {
		l = m.New(t, 1, vm.Int(xs[i]), l)
	}

	return l
}

func listInts(t testing.TB, m *vm.Machine, v vm.Value) (r []int64) {
	t.Helper()

	for {
		o, err := m.Heap.Object(v.Ptr)
		require.NoError(t, err)

		if o.Variant == 0 {
			return r
		}

		r = append(r, o.Fields[0].Int)
		v = o.Fields[1]
	}
}

func TestOptionUnique(t *testing.T) {
	ctx := context.Background()
	res := compile(t, optProgram, Options{})
	m := machine(t, res)

	opt := typeID(t, res, "Opt")

	txt := funcText(t, res, "map_opt")
	assert.Contains(t, txt, "is_shared v0")
	assert.Contains(t, txt, "set v0.0 = ")

	arg := m.New(opt, 1, vm.Int(5))

	r, err := m.Call(ctx, "map_opt", arg)
	require.NoError(t, err)

	assert.Equal(t, arg.Ptr, r.Ptr, "result reuses argument memory")
	assert.Equal(t, 1, m.Heap.Allocs)
	assert.Equal(t, 1, m.Stats.Sets)

	o, err := m.Heap.Object(r.Ptr)
	require.NoError(t, err)
	assert.Equal(t, 1, o.Variant)
	assert.Equal(t, int64(6), o.Fields[0].Int)

	require.NoError(t, m.Release(r))
	assert.Equal(t, 0, m.Heap.Live())
}

func TestOptionShared(t *testing.T) {
	ctx := context.Background()
	res := compile(t, optProgram, Options{})
	m := machine(t, res)

	opt := typeID(t, res, "Opt")

	arg := m.New(opt, 1, vm.Int(5))
	require.NoError(t, m.Retain(arg))

	r, err := m.Call(ctx, "map_opt", arg)
	require.NoError(t, err)

	assert.NotEqual(t, arg.Ptr, r.Ptr)
	assert.Equal(t, 2, m.Heap.Allocs)
	assert.Equal(t, 0, m.Stats.Sets)

	n, err := m.Heap.Count(arg.Ptr)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	o, err := m.Heap.Object(arg.Ptr)
	require.NoError(t, err)
	assert.Equal(t, int64(5), o.Fields[0].Int, "shared original is untouched")

	o, err = m.Heap.Object(r.Ptr)
	require.NoError(t, err)
	assert.Equal(t, int64(6), o.Fields[0].Int)

	require.NoError(t, m.Release(r))
	require.NoError(t, m.Release(arg))
	assert.Equal(t, 0, m.Heap.Live())
}

func TestOptionBorrowedNoReuse(t *testing.T) {
	ctx := context.Background()
	res := compile(t, optProgram, Options{})
	m := machine(t, res)

	assert.Equal(t, []ir.Mode{ir.Borrowed}, res.Sigs["map_new"])
	assert.Equal(t, []ir.Mode{ir.Owned}, res.Sigs["map_opt"])

	st := funcStats(t, res, "map_new")
	assert.Zero(t, st.Reuse)
	assert.NotContains(t, funcText(t, res, "map_new"), "is_shared")

	arg := m.New(typeID(t, res, "Opt"), 1, vm.Int(5))

	r, err := m.Call(ctx, "map_new", arg)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Heap.Allocs)

	require.NoError(t, m.Release(r))
	require.NoError(t, m.ReleaseBorrowed("map_new", []vm.Value{arg}))
	assert.Equal(t, 0, m.Heap.Live())
}

func TestOptionNone(t *testing.T) {
	ctx := context.Background()
	res := compile(t, optProgram, Options{})
	m := machine(t, res)

	arg := m.New(typeID(t, res, "Opt"), 0)

	r, err := m.Call(ctx, "map_opt", arg)
	require.NoError(t, err)
	assert.Equal(t, arg.Ptr, r.Ptr)

	require.NoError(t, m.Release(r))
	assert.Equal(t, 0, m.Heap.Live())
}

func TestListBuildSum(t *testing.T) {
	ctx := context.Background()
	res := compile(t, listProgram, Options{})
	m := machine(t, res)

	l, err := m.Call(ctx, "build", vm.Int(4))
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3, 4}, listInts(t, m, l))
	assert.Equal(t, 5, m.Heap.Live())

	s, err := m.Call(ctx, "sum", l)
	require.NoError(t, err)
	assert.Equal(t, int64(10), s.Int)

	assert.Equal(t, 0, m.Heap.Live(), "sum consumes the list")
}

func TestListBorrowedLen(t *testing.T) {
	ctx := context.Background()
	res := compile(t, listProgram, Options{})
	m := machine(t, res)

	assert.Equal(t, []ir.Mode{ir.Borrowed}, res.Sigs["len"])

	txt := funcText(t, res, "len")
	assert.NotContains(t, txt, "inc ")
	assert.NotContains(t, txt, "dec ")

	l := newList(m, typeID(t, res, "List"), 7, 8, 9)

	n, err := m.Call(ctx, "len", l)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n.Int)

	assert.Equal(t, 4, m.Heap.Live())

	require.NoError(t, m.ReleaseBorrowed("len", []vm.Value{l}))
	assert.Equal(t, 0, m.Heap.Live())
}

func TestListMapRecursive(t *testing.T) {
	ctx := context.Background()
	res := compile(t, listProgram, Options{})
	m := machine(t, res)

	l := newList(m, typeID(t, res, "List"), 1, 2, 3)
	allocs := m.Heap.Allocs

	r, err := m.Call(ctx, "incs", l)
	require.NoError(t, err)

	assert.Equal(t, []int64{2, 3, 4}, listInts(t, m, r))
	assert.Equal(t, l.Ptr, r.Ptr, "head cell is updated in place")
	assert.Less(t, m.Heap.Allocs-allocs, 3)

	require.NoError(t, m.Release(r))
	assert.Equal(t, 0, m.Heap.Live())
}

func TestListSelfSet(t *testing.T) {
	ctx := context.Background()
	res := compile(t, listProgram, Options{})
	m := machine(t, res)

	st := funcStats(t, res, "bump_head")
	assert.Equal(t, 1, st.Expand.Expanded)
	assert.Equal(t, 1, st.Expand.Claimed)
	assert.Equal(t, 1, st.Expand.SelfSets)

	list := typeID(t, res, "List")

	t.Run("unique", func(t *testing.T) {
		m := machine(t, res)
		l := newList(m, list, 1, 2)

		r, err := m.Call(ctx, "bump_head", l)
		require.NoError(t, err)

		assert.Equal(t, []int64{2, 2}, listInts(t, m, r))
		assert.Equal(t, 3, m.Heap.Allocs)
		assert.Equal(t, 1, m.Stats.Sets, "tail is left in place")

		require.NoError(t, m.Release(r))
		assert.Equal(t, 0, m.Heap.Live())
	})

	t.Run("shared", func(t *testing.T) {
		l := newList(m, list, 1, 2)
		require.NoError(t, m.Retain(l))

		r, err := m.Call(ctx, "bump_head", l)
		require.NoError(t, err)

		assert.Equal(t, []int64{2, 2}, listInts(t, m, r))
		assert.Equal(t, []int64{1, 2}, listInts(t, m, l))
		assert.Equal(t, 4, m.Heap.Allocs)

		require.NoError(t, m.Release(l))
		assert.Equal(t, 3, m.Heap.Live(), "tail is shared by the new cell")

		require.NoError(t, m.Release(r))
		assert.Equal(t, 0, m.Heap.Live())
	})
}

func TestVariantChange(t *testing.T) {
	ctx := context.Background()
	res := compile(t, `
(enum Shape (Circle (r Int)) (Square (s Int)) (Dot))

(func flip ((s Shape)) Shape
  (match s
    ((Circle r) (new Shape Square r))
    ((Square x) (new Shape Circle x))
    (Dot s)))
`, Options{})
	m := machine(t, res)

	st := funcStats(t, res, "flip")
	assert.Equal(t, 2, st.Expand.Expanded)
	assert.Equal(t, 2, st.Expand.SelfSets)

	arg := m.New(typeID(t, res, "Shape"), 0, vm.Int(3))

	r, err := m.Call(ctx, "flip", arg)
	require.NoError(t, err)

	assert.Equal(t, arg.Ptr, r.Ptr)
	assert.Equal(t, 1, m.Stats.SetTags)
	assert.Equal(t, 0, m.Stats.Sets)

	o, err := m.Heap.Object(r.Ptr)
	require.NoError(t, err)
	assert.Equal(t, 1, o.Variant)
	assert.Equal(t, int64(3), o.Fields[0].Int)

	require.NoError(t, m.Release(r))
	assert.Equal(t, 0, m.Heap.Live())
}

func TestRecordUpdate(t *testing.T) {
	ctx := context.Background()
	res := compile(t, `
(record Point (x Int) (y Int))

(func move_x ((p Point) (d Int)) Point
  (if (== d 0)
    p
    (new Point (+ (get p x) d) (get p y))))
`, Options{})
	m := machine(t, res)

	txt := funcText(t, res, "move_x")
	assert.Contains(t, txt, "set v0.0 = ")
	assert.NotContains(t, txt, "set v0.1", "y stays in place")

	arg := m.New(typeID(t, res, "Point"), 0, vm.Int(1), vm.Int(2))

	r, err := m.Call(ctx, "move_x", arg, vm.Int(10))
	require.NoError(t, err)

	assert.Equal(t, arg.Ptr, r.Ptr)

	o, err := m.Heap.Object(r.Ptr)
	require.NoError(t, err)
	assert.Equal(t, []vm.Value{vm.Int(11), vm.Int(2)}, o.Fields)

	require.NoError(t, m.Release(r))
	assert.Equal(t, 0, m.Heap.Live())
}

func TestPossibleRef(t *testing.T) {
	ctx := context.Background()
	res := compile(t, `
(func dup ((x (var T))) (tuple (var T) (var T)) (tuple x x))
`, Options{})
	m := machine(t, res)

	assert.Equal(t, []ir.Mode{ir.Owned}, res.Sigs["dup"])
	assert.Contains(t, funcText(t, res, "dup"), "inc v0")

	s := m.Str("abc")

	r, err := m.Call(ctx, "dup", s)
	require.NoError(t, err)

	n, err := m.Heap.Count(s.Ptr)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, m.Release(r))
	assert.Equal(t, 0, m.Heap.Live())
}

func TestClosures(t *testing.T) {
	ctx := context.Background()
	res := compile(t, `
(func add ((a Int) (b Int)) Int (+ a b))

(func twice ((f (fn (Int) Int)) (x Int)) Int
  (apply f (apply f x)))

(func add_twice ((n Int)) Int
  (twice (closure add n) 1))

(func prefix ((p Str) (s Str)) Str (concat p s))

(func with_prefix ((p Str)) Str
  (let g (closure prefix p) (apply g "x")))
`, Options{})

	assert.Equal(t, []ir.Mode{ir.Borrowed, ir.Owned}, res.Sigs["twice"])
	assert.Equal(t, []ir.Mode{ir.Owned, ir.Owned}, res.Sigs["prefix"], "closure targets take owned params")

	t.Run("scalar", func(t *testing.T) {
		m := machine(t, res)

		r, err := m.Call(ctx, "add_twice", vm.Int(5))
		require.NoError(t, err)
		assert.Equal(t, int64(11), r.Int)
		assert.Equal(t, 0, m.Heap.Live())
	})

	t.Run("captured", func(t *testing.T) {
		m := machine(t, res)

		r, err := m.Call(ctx, "with_prefix", m.Str("p"))
		require.NoError(t, err)
		assert.Equal(t, `"px"`, string(m.AppendValue(nil, r)))

		require.NoError(t, m.Release(r))
		assert.Equal(t, 0, m.Heap.Live())
	})
}

func TestExterns(t *testing.T) {
	ctx := context.Background()
	res := compile(t, `
(extern print ((s Str borrowed)) Unit)
(extern int_to_str ((x Int)) Str)

(func greet ((name Str)) Unit
  (print (concat "hello " name)))

(func show ((x Int)) Unit
  (print (int_to_str x)))
`, Options{})
	m := machine(t, res)

	var out bytes.Buffer
	m.Out = &out

	name := m.Str("bob")

	_, err := m.Call(ctx, "greet", name)
	require.NoError(t, err)

	require.NoError(t, m.ReleaseBorrowed("greet", []vm.Value{name}))

	_, err = m.Call(ctx, "show", vm.Int(42))
	require.NoError(t, err)

	assert.Equal(t, "hello bob\n42\n", out.String())
	assert.Equal(t, 0, m.Heap.Live())
}

func TestDeterministicParallel(t *testing.T) {
	src := optProgram + listProgram

	text := func(res *Result) string {
		var b []byte

		for _, f := range res.Funcs {
			b = format.Func(b, res.Pool, f)
		}

		return string(b)
	}

	one := text(compile(t, src, Options{Workers: 1}))

	for range 4 {
		assert.Equal(t, one, text(compile(t, src, Options{Workers: 8})))
	}
}

func TestCache(t *testing.T) {
	c := cache.New()

	first := compile(t, listProgram, Options{Cache: c})
	second := compile(t, listProgram, Options{Cache: c})

	for i, st := range first.Stats {
		assert.False(t, st.Cached, "%v", st.Name)
		assert.True(t, second.Stats[i].Cached, "%v", st.Name)

		assert.Equal(t,
			string(format.Func(nil, first.Pool, first.Funcs[i])),
			string(format.Func(nil, second.Pool, second.Funcs[i])))

		assert.Equal(t, st.FBIP, second.Stats[i].FBIP, "%v", st.Name)
	}

	assert.Equal(t, first.Drops, second.Drops)

	hits, misses := c.Stats()
	assert.Equal(t, len(first.Funcs), hits)
	assert.Equal(t, len(first.Funcs), misses)

	other := compile(t, listProgram, Options{Cache: c, Version: "other"})

	for _, st := range other.Stats {
		assert.False(t, st.Cached, "%v", st.Name)
	}
}

func TestReports(t *testing.T) {
	res := compile(t, listProgram, Options{})

	list := typeID(t, res, "List")

	bump := funcStats(t, res, "bump_head").FBIP
	assert.True(t, bump.IsFBIP(), "%+v", bump)
	require.Len(t, bump.Achieved, 1)
	assert.Equal(t, list, bump.Achieved[0].Type)

	build := funcStats(t, res, "build").FBIP
	assert.Empty(t, build.Achieved)
	assert.False(t, build.IsFBIP(), "build only allocates")

	length := funcStats(t, res, "len").FBIP
	assert.Empty(t, length.Missed, "borrowed lists are not released")

	d, ok := res.Drops.Types[list]
	require.True(t, ok, "%v", res.Drops.Types)

	assert.Equal(t, drop.KindEnum, d.Kind)
	assert.Equal(t, [][]drop.Field{nil, {{Index: 1, Type: list}}}, d.Variants)

	_, ok = res.Drops.Types[tp.Int]
	assert.False(t, ok)
}

func TestCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, err := canon.Read(context.Background(), []byte(listProgram))
	require.NoError(t, err)

	_, err = Compile(ctx, p, Options{Workers: 1})
	assert.ErrorIs(t, err, context.Canceled)
}
