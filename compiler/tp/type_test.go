package tp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolIntern(t *testing.T) {
	p := NewPool()

	assert.Equal(t, p.Tuple(Int, Str), p.Tuple(Int, Str))
	assert.NotEqual(t, p.Tuple(Int, Str), p.Tuple(Str, Int))
	assert.Equal(t, p.List(Int), p.List(Int))
	assert.Equal(t, p.TypeVar("T"), p.TypeVar("T"))
	assert.Equal(t, p.Func([]ID{Int}, Bool), p.Func([]ID{Int}, Bool))

	id, ok := p.ByName("Str")
	assert.True(t, ok)
	assert.Equal(t, Str, id)

	assert.Equal(t, "(fn (Int) Bool)", p.String(p.Func([]ID{Int}, Bool)))
	assert.Equal(t, "(tuple Int (var T))", p.String(p.Tuple(Int, p.TypeVar("T"))))
}

func TestPoolRecursiveEnum(t *testing.T) {
	p := NewPool()

	list, err := p.Declare("List", KindEnum)
	require.NoError(t, err)

	err = p.DefineEnum(list, []Variant{
		{Name: "Nil"},
		{Name: "Cons", Fields: []Field{{Name: "head", Type: Int}, {Name: "tail", Type: list}}},
	})
	require.NoError(t, err)

	assert.True(t, p.Boxed(list))
	assert.Equal(t, 1, p.VariantIndex(list, "Cons"))
	assert.Equal(t, 1, p.FieldIndex(list, 1, "tail"))

	fs, err := p.Fields(list, 1)
	require.NoError(t, err)
	assert.Equal(t, []ID{Int, list}, fs)

	_, err = p.Fields(list, 2)
	assert.Error(t, err)

	assert.Equal(t, "(enum List (Nil) (Cons (head Int) (tail List)))", string(p.AppendDef(nil, list)))
	assert.Equal(t, []ID{Int, list}, p.Reachable(list))
}

func TestPoolBoxed(t *testing.T) {
	p := NewPool()

	color := p.NewEnum("Color", Variant{Name: "Red"}, Variant{Name: "Green"})
	point := p.NewRecord("Point", Field{Name: "x", Type: Int})

	assert.False(t, p.Boxed(color))
	assert.True(t, p.Boxed(point))
	assert.False(t, p.Boxed(p.Tuple(Int, Int)))
	assert.False(t, p.Boxed(Str))
}

func TestPoolAlias(t *testing.T) {
	p := NewPool()

	a, err := p.Declare("A", KindAlias)
	require.NoError(t, err)

	assert.Equal(t, None, p.Underlying(a), "unresolved")

	b, err := p.Declare("B", KindAlias)
	require.NoError(t, err)

	require.NoError(t, p.Resolve(a, b))
	require.NoError(t, p.Resolve(b, a))

	assert.Equal(t, None, p.Underlying(a), "cyclic")

	c, err := p.Declare("C", KindAlias)
	require.NoError(t, err)

	require.NoError(t, p.Resolve(c, Int))
	assert.Equal(t, Int, p.Underlying(c))

	_, err = p.Declare("C", KindRecord)
	assert.Error(t, err)

	_, err = p.Lookup(ID(p.Len()))
	assert.ErrorIs(t, err, ErrUnknownType)
}
