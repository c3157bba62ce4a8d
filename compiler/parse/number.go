package parse

import (
	"context"
	"strconv"

	"tlog.app/go/errors"

	"github.com/upstat-io/sigil-lang-sub011/compiler/ast"
)

type (
	Num struct{}
)

func (p Num) Parse(ctx context.Context, b []byte, st int) (x ast.Node, i int, err error) {
	i = st

	if i < len(b) && (b[i] == '-' || b[i] == '+') {
		i++
	}

	dst := i
	dot := false
	exp := false

loop:
	for ; i < len(b); i++ {
		switch {
		case b[i] >= '0' && b[i] <= '9':
		case !dot && !exp && b[i] == '.':
			dot = true
		case !exp && i > dst && (b[i] == 'e' || b[i] == 'E'):
			exp = true

			if i+1 < len(b) && (b[i+1] == '-' || b[i+1] == '+') {
				i++
			}
		default:
			break loop
		}
	}

	if i == dst || i == dst+1 && b[dst] == '.' || b[dst] < '0' || b[dst] > '9' {
		return nil, st, errors.New("Num expected")
	}

	if !isDelim(b, i) {
		return nil, st, errors.New("Num expected")
	}

	base := ast.Base{
		Pos: st,
		End: i,
	}

	text := string(b[st:i])

	if dot || exp {
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, i, errors.Wrap(err, "float")
		}

		return ast.Float{Base: base, Value: v}, i, nil
	}

	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return nil, i, errors.Wrap(err, "int")
	}

	return ast.Int{Base: base, Value: v}, i, nil
}
