package format

import (
	"context"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"

	"github.com/upstat-io/sigil-lang-sub011/compiler/ir"
	"github.com/upstat-io/sigil-lang-sub011/compiler/tp"
)

// Format appends textual representation of *ir.Package or *ir.Func.
// The output is deterministic and used as a content key.
func Format(ctx context.Context, b []byte, pool *tp.Pool, x any) ([]byte, error) {
	switch x := x.(type) {
	case *ir.Package:
		return Package(b, x), nil
	case *ir.Func:
		return Func(b, pool, x), nil
	default:
		return nil, errors.New("unsupported type: %T", x)
	}
}

func Package(b []byte, pkg *ir.Package) []byte {
	for i, f := range pkg.Funcs {
		if i != 0 {
			b = append(b, '\n')
		}

		b = Func(b, pkg.Pool, f)
	}

	return b
}

func Func(b []byte, pool *tp.Pool, f *ir.Func) []byte {
	b = app(b, 0, "func %s(", f.Name)

	for i, p := range f.Params {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = app(b, 0, "%v ", p.Var)
		b = pool.AppendName(b, p.Type)

		if p.Mode == ir.Borrowed {
			b = append(b, " borrowed"...)
		}
	}

	b = append(b, ") "...)
	b = pool.AppendName(b, f.Result)
	b = app(b, 0, " entry %v {\n", f.Entry)

	for _, bl := range f.Blocks {
		b = block(b, pool, f, bl, 1)
	}

	b = append(b, "}\n"...)

	return b
}

func block(b []byte, pool *tp.Pool, f *ir.Func, bl *ir.Block, d int) []byte {
	b = app(b, d-1, "%v(", bl.ID)

	for i, v := range bl.Params {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = app(b, 0, "%v ", v)
		b = pool.AppendName(b, f.Types[v])
	}

	b = append(b, "):\n"...)

	for _, x := range bl.Code {
		b = app(b, d, "")
		b = Instr(b, pool, x)
		b = append(b, '\n')
	}

	b = app(b, d, "")
	b = Term(b, bl.Term)
	b = append(b, '\n')

	return b
}

func Instr(b []byte, pool *tp.Pool, x ir.Instr) []byte {
	switch x := x.(type) {
	case ir.Let:
		b = app(b, 0, "%v = ", x.Dst)
		b = literal(b, x.Value)
	case ir.Move:
		b = app(b, 0, "%v = move %v", x.Dst, x.Src)
	case ir.Prim:
		b = app(b, 0, "%v = %s", x.Dst, x.Op)
		b = vars(b, x.Args)
	case ir.Apply:
		b = app(b, 0, "%v = call %s", x.Dst, x.Func)
		b = vars(b, x.Args)

		if x.Tail {
			b = append(b, " tail"...)
		}
	case ir.ApplyIndirect:
		b = app(b, 0, "%v = call_indirect %v", x.Dst, x.Closure)
		b = vars(b, x.Args)
	case ir.Closure:
		b = app(b, 0, "%v = closure %s", x.Dst, x.Func)
		b = vars(b, x.Captures)
	case ir.Construct:
		b = app(b, 0, "%v = new ", x.Dst)
		b = pool.AppendName(b, x.Type)
		b = app(b, 0, ".%d", x.Variant)
		b = vars(b, x.Args)
	case ir.Project:
		b = app(b, 0, "%v = proj %v.%d.%d", x.Dst, x.Src, x.Variant, x.Field)
	case ir.Tag:
		b = app(b, 0, "%v = tag %v", x.Dst, x.Src)
	case ir.Inc:
		b = app(b, 0, "inc %v", x.Var)
	case ir.Dec:
		b = app(b, 0, "dec %v", x.Var)
	case ir.Reset:
		b = app(b, 0, "%v = reset %v", x.Token, x.Var)
	case ir.Reuse:
		b = app(b, 0, "%v = reuse %v ", x.Dst, x.Token)
		b = pool.AppendName(b, x.Type)
		b = app(b, 0, ".%d", x.Variant)
		b = vars(b, x.Args)
	case ir.IsShared:
		b = app(b, 0, "%v = is_shared %v", x.Dst, x.Var)
	case ir.Set:
		b = app(b, 0, "set %v.%d = %v", x.Var, x.Field, x.Value)
	case ir.SetTag:
		b = app(b, 0, "set_tag %v = %d", x.Var, x.Variant)
	default:
		panic(x)
	}

	return b
}

func Term(b []byte, t ir.Term) []byte {
	switch t := t.(type) {
	case ir.Return:
		b = app(b, 0, "return %v", t.Value)
	case ir.Jump:
		b = app(b, 0, "jump %v", t.Target)
		b = vars(b, t.Args)
	case ir.Branch:
		b = app(b, 0, "branch %v %v %v", t.Cond, t.Then, t.Else)
	case ir.Switch:
		b = app(b, 0, "switch %v", t.Value)

		for _, c := range t.Cases {
			b = app(b, 0, " %d:%v", c.Value, c.Target)
		}

		if t.Default != ir.NoBlock {
			b = app(b, 0, " default:%v", t.Default)
		}
	case ir.Unreachable:
		b = append(b, "unreachable"...)
	case nil:
		b = append(b, "<no terminator>"...)
	default:
		panic(t)
	}

	return b
}

func literal(b []byte, v any) []byte {
	switch v := v.(type) {
	case nil:
		return append(b, "unit"...)
	case string:
		return app(b, 0, "%q", v)
	case rune:
		return app(b, 0, "char %d", v)
	default:
		return app(b, 0, "%v", v)
	}
}

func vars(b []byte, vs []ir.Var) []byte {
	for _, v := range vs {
		b = app(b, 0, " %v", v)
	}

	return b
}

func app(b []byte, d int, f string, args ...any) []byte {
	const tabs = "\t\t\t\t\t\t\t\t\t\t\t\t\t\t\t"
	b = append(b, tabs[:d]...)
	b = hfmt.Appendf(b, f, args...)
	return b
}
