package parse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upstat-io/sigil-lang-sub011/compiler/ast"
)

func TestParseForms(t *testing.T) {
	xs, err := Parse(context.Background(), []byte(`(a 1 -2 2.5 "s\n" - (b)) ; comment
; another
c`))
	require.NoError(t, err)
	require.Len(t, xs, 2)

	l, ok := xs[0].(ast.List)
	require.True(t, ok, "%T", xs[0])

	head, ok := l.Head()
	assert.True(t, ok)
	assert.Equal(t, "a", head)

	require.Len(t, l.Items, 7)

	assert.Equal(t, int64(1), l.Items[1].(ast.Int).Value)
	assert.Equal(t, int64(-2), l.Items[2].(ast.Int).Value)
	assert.Equal(t, 2.5, l.Items[3].(ast.Float).Value)
	assert.Equal(t, "s\n", l.Items[4].(ast.Str).Value)
	assert.Equal(t, "-", l.Items[5].(ast.Ident).Name)
	assert.Len(t, l.Items[6].(ast.List).Items, 1)

	assert.Equal(t, ast.Base{Pos: 0, End: 24}, l.Span())

	assert.Equal(t, "c", xs[1].(ast.Ident).Name)
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{
		`(a (b)`,
		`(a "open`,
		`(a)) `,
	} {
		_, err := Parse(context.Background(), []byte(src))
		assert.Error(t, err, "%q", src)
	}
}

func TestPosition(t *testing.T) {
	s := New()
	s.AddFile("a", []byte("x\nyz"))
	s.AddFile("b", []byte("w"))

	name, line, col := s.Position(3)
	assert.Equal(t, "a", name)
	assert.Equal(t, 2, line)
	assert.Equal(t, 2, col)

	name, line, col = s.Position(5)
	assert.Equal(t, "b", name)
	assert.Equal(t, 1, line)
	assert.Equal(t, 1, col)
}
