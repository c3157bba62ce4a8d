package rc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upstat-io/sigil-lang-sub011/compiler/borrow"
	"github.com/upstat-io/sigil-lang-sub011/compiler/canon"
	"github.com/upstat-io/sigil-lang-sub011/compiler/classify"
	"github.com/upstat-io/sigil-lang-sub011/compiler/format"
	"github.com/upstat-io/sigil-lang-sub011/compiler/front"
	"github.com/upstat-io/sigil-lang-sub011/compiler/ir"
	"github.com/upstat-io/sigil-lang-sub011/compiler/tp"
	"github.com/upstat-io/sigil-lang-sub011/compiler/vm"
)

const balanceProgram = `
(enum List (Nil) (Cons (head Int) (tail List)))

(func len ((xs List)) Int
  (match xs
    (Nil 0)
    ((Cons _ t) (+ 1 (len t)))))

(func tail_of ((xs List)) List
  (match xs
    (Nil xs)
    ((Cons _ t) t)))

(func dup_head ((xs List)) List
  (match xs
    (Nil xs)
    ((Cons h t) (new List Cons h (new List Cons h t)))))

(func swap ((a Str) (b Str)) (tuple Str Str) (tuple b a))

(func ignore ((s Str) (n Int)) Int n)

(func pick ((c Bool) (a Str) (b Str)) Str (if c a b))
`

func TestInsertBalanced(t *testing.T) {
	ctx := context.Background()

	p, err := canon.Read(ctx, []byte(balanceProgram))
	require.NoError(t, err)

	pkg, err := front.Lower(ctx, p)
	require.NoError(t, err)

	cls, err := classify.New(p.Pool).Freeze()
	require.NoError(t, err)

	res, err := borrow.Infer(ctx, pkg, nil, cls)
	require.NoError(t, err)

	borrow.Apply(pkg, res.Sigs)

	for _, f := range pkg.Funcs {
		err = Insert(ctx, f, cls, res.Sigs)
		require.NoError(t, err, "%v", f.Name)

		require.NoError(t, ir.Validate(f, ir.Counted), "%s", format.Func(nil, p.Pool, f))
	}

	list, ok := p.Pool.ByName("List")
	require.True(t, ok)

	newList := func(m *vm.Machine) vm.Value {
		return m.New(list, 1, vm.Int(1), m.New(list, 1, vm.Int(2), m.New(list, 0)))
	}

	for _, tc := range []struct {
		fn   string
		args func(m *vm.Machine) []vm.Value
	}{
		{"len", func(m *vm.Machine) []vm.Value { return []vm.Value{newList(m)} }},
		{"tail_of", func(m *vm.Machine) []vm.Value { return []vm.Value{newList(m)} }},
		{"tail_of", func(m *vm.Machine) []vm.Value { return []vm.Value{m.New(list, 0)} }},
		{"dup_head", func(m *vm.Machine) []vm.Value { return []vm.Value{newList(m)} }},
		{"swap", func(m *vm.Machine) []vm.Value { return []vm.Value{m.Str("a"), m.Str("b")} }},
		{"ignore", func(m *vm.Machine) []vm.Value { return []vm.Value{m.Str("a"), vm.Int(3)} }},
		{"pick", func(m *vm.Machine) []vm.Value { return []vm.Value{vm.Bool(true), m.Str("a"), m.Str("b")} }},
		{"pick", func(m *vm.Machine) []vm.Value { return []vm.Value{vm.Bool(false), m.Str("a"), m.Str("b")} }},
	} {
		m := vm.New(p.Pool, pkg.Funcs, res.Sigs)

		args := tc.args(m)

		r, err := m.Call(ctx, tc.fn, args...)
		require.NoError(t, err, "%v", tc.fn)

		require.NoError(t, m.Release(r))
		require.NoError(t, m.ReleaseBorrowed(tc.fn, args))

		assert.Zero(t, m.Heap.Live(), "%v: allocs %d frees %d", tc.fn, m.Heap.Allocs, m.Heap.Frees)
	}
}

// branchFunc releases its string only on one of two edges into the join block.
//
//	b0: branch c b1 b2
//	b1: n = strlen s; jump b2
//	b2: r = 0; return r
func branchFunc() *ir.Func {
	f := &ir.Func{Name: "f", Result: tp.Int}

	s := f.NewVar(tp.Str)
	c := f.NewVar(tp.Bool)

	f.Params = []ir.Param{{Var: s, Type: tp.Str}, {Var: c, Type: tp.Bool}}

	b0 := f.NewBlock()
	b1 := f.NewBlock()
	b2 := f.NewBlock()

	n := f.NewVar(tp.Int)
	r := f.NewVar(tp.Int)

	b0.Term = ir.Branch{Cond: c, Then: b1.ID, Else: b2.ID}

	b1.Code = []ir.Instr{ir.Prim{Dst: n, Op: ir.OpStrLen, Args: []ir.Var{s}}}
	b1.Term = ir.Jump{Target: b2.ID}

	b2.Code = []ir.Instr{ir.Let{Dst: r, Value: int64(0)}}
	b2.Term = ir.Return{Value: r}

	return f
}

func TestInsertTrampoline(t *testing.T) {
	ctx := context.Background()

	pool := tp.NewPool()

	cls, err := classify.New(pool).Freeze()
	require.NoError(t, err)

	f := branchFunc()

	err = Insert(ctx, f, cls, borrow.Sigs{})
	require.NoError(t, err)

	require.Len(t, f.Blocks, 4)

	assert.Equal(t, ir.Branch{Cond: 1, Then: 1, Else: 3}, f.Blocks[0].Term)
	assert.Equal(t, []ir.Instr{ir.Dec{Var: 0}}, f.Blocks[3].Code)
	assert.Equal(t, ir.BlockID(2), f.Blocks[3].Term.(ir.Jump).Target)
	assert.Equal(t, ir.Dec{Var: 0}, f.Blocks[1].Code[1])

	require.NoError(t, ir.Validate(f, ir.Counted))

	for _, c := range []bool{true, false} {
		m := vm.New(pool, []*ir.Func{f}, nil)

		_, err := m.Call(ctx, "f", m.Str("abc"), vm.Bool(c))
		require.NoError(t, err)

		assert.Zero(t, m.Heap.Live(), "cond %v", c)
	}
}

func TestInsertDeadParam(t *testing.T) {
	f := &ir.Func{Name: "g", Result: tp.Int}

	s := f.NewVar(tp.Str)
	r := f.NewVar(tp.Int)

	f.Params = []ir.Param{{Var: s, Type: tp.Str}}

	b := f.NewBlock()
	b.Code = []ir.Instr{ir.Let{Dst: r, Value: int64(1)}}
	b.Term = ir.Return{Value: r}

	cls, err := classify.New(tp.NewPool()).Freeze()
	require.NoError(t, err)

	err = Insert(context.Background(), f, cls, borrow.Sigs{})
	require.NoError(t, err)

	assert.Equal(t, []ir.Instr{ir.Dec{Var: s}, ir.Let{Dst: r, Value: int64(1)}}, b.Code)

	f.Params[0].Mode = ir.Borrowed
	b.Code = []ir.Instr{ir.Let{Dst: r, Value: int64(1)}}

	err = Insert(context.Background(), f, cls, borrow.Sigs{})
	require.NoError(t, err)

	assert.Equal(t, []ir.Instr{ir.Let{Dst: r, Value: int64(1)}}, b.Code, "borrowed params are not released")
}

func TestEliminateBlock(t *testing.T) {
	ctx := context.Background()

	newFunc := func(code ...ir.Instr) *ir.Func {
		f := &ir.Func{Name: "f", Types: []tp.ID{tp.Str, tp.Int, tp.Int}}

		b := f.NewBlock()
		b.Code = code
		b.Term = ir.Return{Value: 1}

		return f
	}

	for _, tc := range []struct {
		name  string
		code  []ir.Instr
		pairs int
		left  int
	}{
		{"inc_dec", []ir.Instr{ir.Inc{Var: 0}, ir.Let{Dst: 1, Value: int64(0)}, ir.Dec{Var: 0}}, 1, 1},
		{"dec_inc", []ir.Instr{ir.Dec{Var: 0}, ir.Let{Dst: 1, Value: int64(0)}, ir.Inc{Var: 0}}, 1, 1},
		{"used", []ir.Instr{ir.Inc{Var: 0}, ir.Prim{Dst: 1, Op: ir.OpStrLen, Args: []ir.Var{0}}, ir.Dec{Var: 0}}, 0, 3},
		{"call", []ir.Instr{ir.Inc{Var: 0}, ir.Apply{Dst: 1, Func: "g"}, ir.Dec{Var: 0}}, 0, 3},
		{"is_shared", []ir.Instr{ir.Inc{Var: 0}, ir.IsShared{Dst: 1, Var: 2}, ir.Dec{Var: 0}}, 0, 3},
		{"dec_construct_inc", []ir.Instr{ir.Dec{Var: 0}, ir.Construct{Dst: 1}, ir.Inc{Var: 0}}, 0, 3},
		{"nested", []ir.Instr{ir.Inc{Var: 0}, ir.Inc{Var: 0}, ir.Dec{Var: 0}, ir.Dec{Var: 0}}, 2, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFunc(tc.code...)

			assert.Equal(t, tc.pairs, Eliminate(ctx, f))
			assert.Len(t, f.Blocks[0].Code, tc.left)
		})
	}
}

func TestEliminateEdges(t *testing.T) {
	f := &ir.Func{Name: "f", Types: []tp.ID{tp.Str, tp.Bool, tp.Int}}

	b0 := f.NewBlock()
	b1 := f.NewBlock()
	b2 := f.NewBlock()

	b0.Code = []ir.Instr{ir.Inc{Var: 0}}
	b0.Term = ir.Branch{Cond: 1, Then: b1.ID, Else: b2.ID}

	b1.Code = []ir.Instr{ir.Dec{Var: 0}, ir.Let{Dst: 2, Value: int64(1)}}
	b1.Term = ir.Return{Value: 2}

	b2.Code = []ir.Instr{ir.Dec{Var: 0}}
	b2.Term = ir.Return{Value: 0}

	assert.Equal(t, 1, Eliminate(context.Background(), f))

	assert.Empty(t, b0.Code)
	assert.Equal(t, []ir.Instr{ir.Let{Dst: 2, Value: int64(1)}}, b1.Code)
	assert.Empty(t, b2.Code)

	b0.Code = []ir.Instr{ir.Inc{Var: 0}}
	b1.Code = []ir.Instr{ir.Dec{Var: 0}}
	b2.Code = []ir.Instr{ir.Apply{Dst: 2, Func: "g"}, ir.Dec{Var: 0}}

	assert.Zero(t, Eliminate(context.Background(), f), "call before the dec")
}
