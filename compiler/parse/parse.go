package parse

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/upstat-io/sigil-lang-sub011/compiler/ast"
)

type (
	State struct {
		b []byte // all files concatenated

		Grammar Parser

		files []file
	}

	file struct {
		base int
		size int
		name string
	}

	Parser interface {
		Parse(ctx context.Context, b []byte, st int) (x ast.Node, i int, err error)
	}

	PosError struct {
		Err error

		File string
		Line int
		Col  int
	}
)

// Forms reads whitespace separated s-expressions until the end of input.
type Forms struct{}

func ParseFile(ctx context.Context, name string) ([]ast.Node, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	s := New()
	s.AddFile(name, data)

	return s.Parse(ctx)
}

func Parse(ctx context.Context, text []byte) ([]ast.Node, error) {
	s := New()
	s.AddFile("", text)

	return s.Parse(ctx)
}

func New() *State {
	return &State{
		Grammar: Forms{},
	}
}

func (s *State) Parse(ctx context.Context) (_ []ast.Node, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "parse", "files", len(s.files), "size", len(s.b))
	defer tr.Finish("err", &err)

	x, i, err := s.Grammar.Parse(ctx, s.b, 0)
	if err != nil {
		return nil, s.posError(err, i)
	}

	l, ok := x.(ast.List)
	if !ok {
		return []ast.Node{x}, nil
	}

	return l.Items, nil
}

func (s *State) AddFile(name string, text []byte) {
	f := file{
		name: name,
		base: len(s.b),
		size: len(text),
	}

	s.b = append(s.b, text...)
	s.b = append(s.b, '\n')

	s.files = append(s.files, f)
}

func (s *State) Text(pos, end int) []byte {
	return s.b[pos:end]
}

// Position resolves an offset into a file name, line and column (1-based).
func (s *State) Position(pos int) (name string, line, col int) {
	for _, f := range s.files {
		if pos < f.base || pos > f.base+f.size {
			continue
		}

		text := s.b[f.base:pos]
		line = bytes.Count(text, []byte{'\n'}) + 1
		col = pos - f.base - bytes.LastIndexByte(text, '\n')

		return f.name, line, col
	}

	return "", 0, 0
}

func (s *State) posError(err error, pos int) error {
	name, line, col := s.Position(pos)

	return PosError{Err: err, File: name, Line: line, Col: col}
}

func (Forms) Parse(ctx context.Context, b []byte, st int) (x ast.Node, i int, err error) {
	var items []ast.Node

	i = Blank.Skip(b, st)

	for i < len(b) {
		x, i, err = (Form{}).Parse(ctx, b, i)
		if err != nil {
			return nil, i, err
		}

		items = append(items, x)

		i = Blank.Skip(b, i)
	}

	return ast.List{Base: ast.Base{Pos: st, End: i}, Items: items}, i, nil
}

func (e PosError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("%d:%d: %v", e.Line, e.Col, e.Err)
	}

	return fmt.Sprintf("%s:%d:%d: %v", e.File, e.Line, e.Col, e.Err)
}

func (e PosError) Unwrap() error { return e.Err }
