package parse

import (
	"context"
	"fmt"
	"strings"

	"tlog.app/go/errors"

	"github.com/upstat-io/sigil-lang-sub011/compiler/ast"
)

type (
	AnyOf []Parser

	// Form is any single s-expression: a list or an atom.
	Form struct{}

	// List is a parenthesized sequence of forms.
	List struct{}
)

var atom = AnyOf{Num{}, Str{}, Symbol{}}

func (Form) Parse(ctx context.Context, b []byte, st int) (x ast.Node, i int, err error) {
	if st < len(b) && b[st] == '(' {
		return List{}.Parse(ctx, b, st)
	}

	return atom.Parse(ctx, b, st)
}

func (List) Parse(ctx context.Context, b []byte, st int) (x ast.Node, i int, err error) {
	_, i, err = Const("(").Parse(ctx, b, st)
	if err != nil {
		return nil, st, err
	}

	var items []ast.Node

	for {
		i = Blank.Skip(b, i)

		if i == len(b) {
			return nil, i, errors.New("unclosed list opened at %d", st)
		}

		if b[i] == ')' {
			i++
			break
		}

		x, i, err = Form{}.Parse(ctx, b, i)
		if err != nil {
			return nil, i, err
		}

		items = append(items, x)
	}

	return ast.List{Base: ast.Base{Pos: st, End: i}, Items: items}, i, nil
}

func (p AnyOf) Parse(ctx context.Context, b []byte, st int) (_ ast.Node, i int, err error) {
	for _, r := range p {
		x, j, e := r.Parse(ctx, b, st)
		if e == nil {
			return x, j, nil
		}
		if j == st {
			continue
		}
		if err == nil {
			i = j
			err = errors.Wrap(e, "%T", r)
		}
	}

	if err != nil {
		return
	}

	return nil, st, errors.New("expected %v", joinHuman(p...))
}

func joinHuman(l ...Parser) string {
	switch len(l) {
	case 0:
		return "<none>"
	case 1:
		return fmt.Sprintf("%T", l[0])
	}

	var b strings.Builder

	for i, r := range l {
		if i+1 == len(l) {
			b.WriteString(" or ")
		} else if i != 0 {
			b.WriteString(", ")
		}

		fmt.Fprintf(&b, "%T", r)
	}

	return b.String()
}
