package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upstat-io/sigil-lang-sub011/compiler/tp"
)

// diamond is
//
//	b0: br c b1 b2
//	b1: x = 1; jump b3(x)
//	b2: y = 2; jump b3(y)
//	b3(r): return r
func diamond() (f *Func, c, x, y, r Var) {
	f = &Func{Name: "diamond", Result: tp.Int}

	c = f.NewVar(tp.Bool)
	x = f.NewVar(tp.Int)
	y = f.NewVar(tp.Int)
	r = f.NewVar(tp.Int)

	f.Params = []Param{{Var: c, Type: tp.Bool}}

	b0 := f.NewBlock()
	b1 := f.NewBlock()
	b2 := f.NewBlock()
	b3 := f.NewBlock()

	b0.Term = Branch{Cond: c, Then: b1.ID, Else: b2.ID}

	b1.Code = []Instr{Let{Dst: x, Value: int64(1)}}
	b1.Term = Jump{Target: b3.ID, Args: []Var{x}}

	b2.Code = []Instr{Let{Dst: y, Value: int64(2)}}
	b2.Term = Jump{Target: b3.ID, Args: []Var{y}}

	b3.Params = []Var{r}
	b3.Term = Return{Value: r}

	return f, c, x, y, r
}

func TestValidateDiamond(t *testing.T) {
	f, _, _, _, _ := diamond()

	assert.NoError(t, Validate(f, Lowered))
	assert.NoError(t, Validate(f, Counted))
	assert.NoError(t, Validate(f, Expanded))
}

func TestValidateDominance(t *testing.T) {
	t.Run("use_at_join", func(t *testing.T) {
		f, _, x, _, _ := diamond()

		f.Blocks[3].Term = Return{Value: x}

		err := Validate(f, Lowered)
		assert.ErrorIs(t, err, ErrMalformed)
		assert.ErrorContains(t, err, "not defined on every path")
	})

	t.Run("use_in_sibling", func(t *testing.T) {
		f, _, x, _, _ := diamond()

		z := f.NewVar(tp.Int)
		f.Blocks[2].Code = append(f.Blocks[2].Code, Prim{Dst: z, Op: OpAdd, Args: []Var{x, x}})

		assert.ErrorIs(t, Validate(f, Lowered), ErrMalformed)
	})

	t.Run("use_before_def", func(t *testing.T) {
		f, _, x, _, _ := diamond()

		z := f.NewVar(tp.Int)
		b1 := f.Blocks[1]
		b1.Code = append([]Instr{Move{Dst: z, Src: x}}, b1.Code...)

		assert.ErrorIs(t, Validate(f, Lowered), ErrMalformed)
	})

	t.Run("dominating_def", func(t *testing.T) {
		f, c, _, _, _ := diamond()

		k := f.NewVar(tp.Int)
		z := f.NewVar(tp.Int)

		f.Blocks[0].Code = []Instr{Let{Dst: k, Value: int64(3)}}
		f.Blocks[3].Code = []Instr{Prim{Dst: z, Op: OpAdd, Args: []Var{k, k}}}
		f.Blocks[3].Term = Branch{Cond: c, Then: 4, Else: 5}

		b4 := f.NewBlock()
		b4.Term = Return{Value: z}

		b5 := f.NewBlock()
		b5.Term = Return{Value: k}

		assert.NoError(t, Validate(f, Lowered))
	})

	t.Run("unreachable_block", func(t *testing.T) {
		f, _, x, _, _ := diamond()

		b := f.NewBlock()
		b.Term = Return{Value: x}

		assert.NoError(t, Validate(f, Lowered), "unreachable blocks are not checked for dominance")
	})
}

func TestValidateStructure(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(f *Func, c, x, y, r Var)
		msg    string
	}{
		{"twice", func(f *Func, c, x, y, r Var) {
			f.Blocks[2].Code = []Instr{Let{Dst: x, Value: int64(2)}}
		}, "defined twice"},
		{"out_of_range", func(f *Func, c, x, y, r Var) {
			f.Blocks[3].Term = Return{Value: Var(len(f.Types) + 5)}
		}, "undefined var"},
		{"never_defined", func(f *Func, c, x, y, r Var) {
			f.Blocks[2].Code = nil
		}, "undefined var"},
		{"missing_block", func(f *Func, c, x, y, r Var) {
			f.Blocks[1].Term = Jump{Target: 9, Args: []Var{x}}
		}, "missing block"},
		{"arity", func(f *Func, c, x, y, r Var) {
			f.Blocks[1].Term = Jump{Target: 3}
		}, "with 0 args"},
		{"branch_to_params", func(f *Func, c, x, y, r Var) {
			f.Blocks[0].Term = Branch{Cond: c, Then: 3, Else: 2}
		}, "which has params"},
		{"entry_target", func(f *Func, c, x, y, r Var) {
			f.Blocks[2].Term = Jump{Target: 0}
		}, "jump target"},
		{"unterminated", func(f *Func, c, x, y, r Var) {
			f.Blocks[3].Term = nil
		}, "not terminated"},
		{"block_id", func(f *Func, c, x, y, r Var) {
			f.Blocks[2].ID = 7
		}, "has id"},
		{"rc_before_insertion", func(f *Func, c, x, y, r Var) {
			f.Blocks[3].Code = []Instr{Inc{Var: r}}
		}, "before rc insertion"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f, c, x, y, r := diamond()
			tc.mutate(f, c, x, y, r)

			err := Validate(f, Lowered)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformed)
			assert.ErrorContains(t, err, tc.msg)
		})
	}
}

func TestValidateStages(t *testing.T) {
	f, _, _, _, r := diamond()

	tok := f.NewVar(tp.Int)
	f.Blocks[3].Code = []Instr{Reset{Var: r, Token: tok}}

	assert.NoError(t, Validate(f, Counted))
	assert.ErrorIs(t, Validate(f, Lowered), ErrMalformed)
	assert.ErrorIs(t, Validate(f, Expanded), ErrMalformed)
}

func TestDominators(t *testing.T) {
	f, _, _, _, _ := diamond()

	extra := f.NewBlock()
	extra.Term = Return{Value: 0}

	d := f.Dominators()

	assert.Equal(t, Dom{0, 0, 0, 0, NoBlock}, d)

	assert.True(t, d.Dominates(0, 3))
	assert.True(t, d.Dominates(3, 3))
	assert.False(t, d.Dominates(1, 3))
	assert.False(t, d.Dominates(3, 0))

	assert.False(t, d.Reachable(extra.ID))
	assert.False(t, d.Dominates(0, extra.ID))
}
