package front

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upstat-io/sigil-lang-sub011/compiler/canon"
	"github.com/upstat-io/sigil-lang-sub011/compiler/format"
	"github.com/upstat-io/sigil-lang-sub011/compiler/ir"
	"github.com/upstat-io/sigil-lang-sub011/compiler/vm"
)

const matchProgram = `
(enum Color (Red) (Green) (Blue))
(enum Shape (Circle (r Int)) (Rect (w Int) (h Int)))

(func bucket ((n Int)) Int
  (match n
    ((range 0 9) 1)
    ((or 10 20 30) 2)
    (x when (< x 0) 3)
    (_ 4)))

(func both ((a Bool) (b Bool)) Int
  (match (tuple a b)
    ((tuple true true) 1)
    ((tuple _ false) 2)
    (_ 3)))

(func word ((s Str)) Int
  (match s
    ("one" 1)
    ("two" 2)
    (_ 0)))

(func warm ((c Color)) Bool
  (match c
    ((or Red Green) true)
    (Blue false)))

(func area ((s Shape)) Int
  (match s
    ((Circle 0) 0)
    ((Circle r) (* 3 (* r r)))
    ((Rect w h) when (== w h) (* w w))
    ((Rect w h) (* w h))))

(func fact ((n Int)) Int
  (loop ((i n) (acc 1))
    (if (<= i 1) acc (recur (- i 1) (* acc i)))))

(func early ((n Int)) Int
  (do
    (if (< n 0) (return 0) unit)
    (* n 2)))

(func tail ((n Int)) Int (fact n))
`

func lower(t testing.TB, src string) (*canon.Program, *ir.Package) {
	t.Helper()

	ctx := context.Background()

	p, err := canon.Read(ctx, []byte(src))
	require.NoError(t, err)

	pkg, err := Lower(ctx, p)
	require.NoError(t, err)

	return p, pkg
}

func TestLowerMatch(t *testing.T) {
	ctx := context.Background()
	p, pkg := lower(t, matchProgram)

	m := vm.New(p.Pool, pkg.Funcs, nil)

	shape, ok := p.Pool.ByName("Shape")
	require.True(t, ok)

	for _, tc := range []struct {
		fn   string
		args []vm.Value
		res  int64
	}{
		{"bucket", []vm.Value{vm.Int(0)}, 1},
		{"bucket", []vm.Value{vm.Int(9)}, 1},
		{"bucket", []vm.Value{vm.Int(20)}, 2},
		{"bucket", []vm.Value{vm.Int(-5)}, 3},
		{"bucket", []vm.Value{vm.Int(15)}, 4},

		{"both", []vm.Value{vm.Bool(true), vm.Bool(true)}, 1},
		{"both", []vm.Value{vm.Bool(true), vm.Bool(false)}, 2},
		{"both", []vm.Value{vm.Bool(false), vm.Bool(false)}, 2},
		{"both", []vm.Value{vm.Bool(false), vm.Bool(true)}, 3},

		{"word", []vm.Value{m.Str("one")}, 1},
		{"word", []vm.Value{m.Str("two")}, 2},
		{"word", []vm.Value{m.Str("three")}, 0},

		{"warm", []vm.Value{vm.Int(0)}, 1},
		{"warm", []vm.Value{vm.Int(1)}, 1},
		{"warm", []vm.Value{vm.Int(2)}, 0},

		{"area", []vm.Value{m.New(shape, 0, vm.Int(0))}, 0},
		{"area", []vm.Value{m.New(shape, 0, vm.Int(2))}, 12},
		{"area", []vm.Value{m.New(shape, 1, vm.Int(3), vm.Int(3))}, 9},
		{"area", []vm.Value{m.New(shape, 1, vm.Int(2), vm.Int(5))}, 10},

		{"fact", []vm.Value{vm.Int(5)}, 120},
		{"early", []vm.Value{vm.Int(-3)}, 0},
		{"early", []vm.Value{vm.Int(4)}, 8},
		{"tail", []vm.Value{vm.Int(3)}, 6},
	} {
		r, err := m.Call(ctx, tc.fn, tc.args...)
		if assert.NoError(t, err, "%v %v", tc.fn, tc.args) {
			assert.Equal(t, tc.res, r.Int, "%v %v", tc.fn, tc.args)
		}
	}
}

func TestLowerValid(t *testing.T) {
	_, pkg := lower(t, matchProgram)

	for _, f := range pkg.Funcs {
		assert.NoError(t, ir.Validate(f, ir.Lowered), "%v", f.Name)

		assert.Zero(t, f.Count(ir.IsRC), "%v", f.Name)
	}
}

func TestLowerTailCall(t *testing.T) {
	_, pkg := lower(t, matchProgram)

	txt := string(format.Package(nil, pkg))

	assert.Contains(t, txt, "call fact v0 tail")
}

func TestLowerSwitchOnTag(t *testing.T) {
	_, pkg := lower(t, matchProgram)

	var warm *ir.Func

	for _, f := range pkg.Funcs {
		if f.Name == "warm" {
			warm = f
		}
	}

	require.NotNil(t, warm)

	sw, ok := warm.Blocks[warm.Entry].Term.(ir.Switch)
	require.True(t, ok, "%T", warm.Blocks[warm.Entry].Term)

	assert.Len(t, sw.Cases, 3)
	assert.Equal(t, ir.NoBlock, sw.Default, "all variants are covered")
}

func TestLowerUnsupported(t *testing.T) {
	p, _ := lower(t, `(func f ((n Int)) Int n)`)

	p.Funcs[0].Body = canon.Recur{}

	_, err := Lower(context.Background(), p)
	assert.Error(t, err)
}
