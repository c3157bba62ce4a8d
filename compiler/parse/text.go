package parse

import (
	"bytes"
	"context"
	"strconv"
	"unicode/utf8"

	"tlog.app/go/errors"

	"github.com/upstat-io/sigil-lang-sub011/compiler/ast"
)

type (
	Const []byte

	Symbol struct{}

	Str struct{}
)

func (p Const) Parse(ctx context.Context, b []byte, st int) (x ast.Node, i int, err error) {
	if bytes.HasPrefix(b[st:], p) {
		return ast.Ident{Base: ast.Base{Pos: st, End: st + len(p)}, Name: string(p)}, st + len(p), nil
	}

	return nil, st, errors.New("%q expected", []byte(p))
}

func (Symbol) Parse(ctx context.Context, b []byte, st int) (x ast.Node, i int, err error) {
	i = st

	for !isDelim(b, i) {
		c := b[i]

		switch {
		case c == '"':
			return nil, st, errors.New("quote in symbol")
		case c >= utf8.RuneSelf:
			r, w := utf8.DecodeRune(b[i:])
			if r == utf8.RuneError {
				return nil, i, errors.New("bad rune")
			}

			i += w
		default:
			i++
		}
	}

	if i == st {
		return nil, st, errors.New("Symbol expected")
	}

	return ast.Ident{Base: ast.Base{Pos: st, End: i}, Name: string(b[st:i])}, i, nil
}

func (Str) Parse(ctx context.Context, b []byte, st int) (x ast.Node, i int, err error) {
	if st == len(b) || b[st] != '"' {
		return nil, st, errors.New("Str expected")
	}

	i = st + 1

	for i < len(b) && b[i] != '"' {
		if b[i] == '\\' {
			i++
		}

		i++
	}

	if i >= len(b) {
		return nil, i, errors.New("unterminated string")
	}

	i++

	s, err := strconv.Unquote(string(b[st:i]))
	if err != nil {
		return nil, i, errors.Wrap(err, "string literal")
	}

	return ast.Str{Base: ast.Base{Pos: st, End: i}, Value: s}, i, nil
}
