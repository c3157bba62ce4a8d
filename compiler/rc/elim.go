package rc

import (
	"context"
	"slices"

	"tlog.app/go/tlog"

	"github.com/upstat-io/sigil-lang-sub011/compiler/ir"
)

// Eliminate removes Inc/Dec pairs on the same variable which cancel out.
// It returns the number of removed pairs.
//
// Inc x followed by Dec x is removed if x is not used in between
// and no call or uniqueness test is in between.
// Dec x followed by Inc x is removed if only instructions which
// never touch a count are in between.
// A trailing Inc x of a block is cancelled with leading Dec x
// of all its successors if it's their only predecessor.
func Eliminate(ctx context.Context, f *ir.Func) (pairs int) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "rc: eliminate", "func", f.Name)
	defer tr.Finish()

	for {
		n := 0

		for _, b := range f.Blocks {
			n += elimBlock(b)
		}

		n += elimEdges(f)

		if n == 0 {
			break
		}

		pairs += n
	}

	tr.V("rc_elim").Printw("eliminated", "pairs", pairs)

	return pairs
}

func elimBlock(b *ir.Block) (pairs int) {
	for {
		i, j, ok := findPair(b.Code)
		if !ok {
			return pairs
		}

		pairs++

		b.Code = slices.Delete(b.Code, j, j+1)
		b.Code = slices.Delete(b.Code, i, i+1)
	}
}

func findPair(code []ir.Instr) (int, int, bool) {
	for i, x := range code {
		switch x := x.(type) {
		case ir.Inc:
			for j := i + 1; j < len(code); j++ {
				if d, ok := code[j].(ir.Dec); ok && d.Var == x.Var {
					return i, j, true
				}

				if ir.UsesVar(code[j], x.Var) || observes(code[j]) {
					break
				}
			}
		case ir.Dec:
			for j := i + 1; j < len(code); j++ {
				if d, ok := code[j].(ir.Inc); ok && d.Var == x.Var {
					return i, j, true
				}

				if !countFree(code[j]) {
					break
				}
			}
		}
	}

	return 0, 0, false
}

// observes reports whether x may look at counts of values it doesn't name.
func observes(x ir.Instr) bool {
	switch x.(type) {
	case ir.Apply, ir.ApplyIndirect, ir.IsShared, ir.Reset:
		return true
	}

	return false
}

// countFree instructions neither change nor observe reference counts.
func countFree(x ir.Instr) bool {
	switch x.(type) {
	case ir.Let, ir.Prim, ir.Tag, ir.Project:
		return true
	}

	return false
}

func elimEdges(f *ir.Func) (pairs int) {
	preds := f.Preds()

	for _, b := range f.Blocks {
		succs := ir.Successors(b.Term)
		if len(succs) == 0 {
			continue
		}

		single := true

		for _, s := range succs {
			single = single && len(preds[s]) == 1
		}

		if !single {
			continue
		}

	incs:
		for i := len(b.Code) - 1; i >= 0; i-- {
			inc, ok := b.Code[i].(ir.Inc)
			if !ok {
				continue
			}

			if ir.TermUsesVar(b.Term, inc.Var) || touched(b.Code[i+1:], inc.Var) {
				continue
			}

			at := make([]int, len(succs))

			for k, s := range succs {
				j := leadingDec(f.Blocks[s].Code, inc.Var)
				if j < 0 {
					continue incs
				}

				at[k] = j
			}

			for k, s := range succs {
				sb := f.Blocks[s]
				sb.Code = slices.Delete(sb.Code, at[k], at[k]+1)
			}

			b.Code = slices.Delete(b.Code, i, i+1)
			pairs++
		}
	}

	return pairs
}

// leadingDec finds Dec v before any other use of v or a call.
func leadingDec(code []ir.Instr, v ir.Var) int {
	for j, x := range code {
		if d, ok := x.(ir.Dec); ok && d.Var == v {
			return j
		}

		if ir.UsesVar(x, v) || observes(x) {
			break
		}
	}

	return -1
}

func touched(code []ir.Instr, v ir.Var) bool {
	for _, x := range code {
		if ir.UsesVar(x, v) || observes(x) {
			return true
		}
	}

	return false
}
