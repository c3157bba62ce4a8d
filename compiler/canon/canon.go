// Package canon defines the canonical, fully type-resolved form of a program
// that the ARC pipeline lowers into IR.
package canon

import (
	"github.com/upstat-io/sigil-lang-sub011/compiler/ir"
	"github.com/upstat-io/sigil-lang-sub011/compiler/tp"
)

type (
	Program struct {
		Pool *tp.Pool

		Externs []Extern
		Funcs   []*Func
	}

	Extern struct {
		Name   string
		Params []tp.ID
		Modes  []ir.Mode
		Result tp.ID
	}

	Func struct {
		Name   string
		Params []Param
		Result tp.ID

		Body Expr
	}

	Param struct {
		Name string
		Type tp.ID
	}

	Expr interface {
		Type() tp.ID
	}

	Typed struct {
		T tp.ID
	}
)

// Expressions.
type (
	// Lit value is int64, float64, bool, rune, string or nil for Unit.
	Lit struct {
		Typed
		Value any
	}

	Ref struct {
		Typed
		Name string
	}

	Let struct {
		Typed
		Name  string
		Value Expr
		Body  Expr
	}

	Seq struct {
		Typed
		Exprs []Expr
	}

	Prim struct {
		Typed
		Op   ir.Op
		Args []Expr
	}

	Call struct {
		Typed
		Func string
		Args []Expr
	}

	CallIndirect struct {
		Typed
		Fn   Expr
		Args []Expr
	}

	// MakeClosure captures values for the leading params of a lifted function.
	MakeClosure struct {
		Typed
		Func     string
		Captures []Expr
	}

	New struct {
		Typed
		Variant int
		Args    []Expr
	}

	Field struct {
		Typed
		Of      Expr
		Variant int
		Index   int
	}

	If struct {
		Typed
		Cond Expr
		Then Expr
		Else Expr
	}

	Match struct {
		Typed
		Scrutinee Expr
		Arms      []Arm
	}

	Arm struct {
		Pattern Pattern
		Guard   Expr // optional
		Body    Expr
	}

	Loop struct {
		Typed
		Binds []Bind
		Body  Expr
	}

	Bind struct {
		Name string
		Init Expr
	}

	Recur struct {
		Typed
		Args []Expr
	}

	Return struct {
		Typed
		Value Expr
	}
)

// Patterns.
type (
	Pattern interface {
		pattern()
	}

	PWild struct{}

	PBind struct {
		Name string
	}

	// PLit value is int64, bool, rune or string.
	PLit struct {
		Value any
	}

	// PVariant matches a variant of an enum, a record or a tuple (variant 0).
	PVariant struct {
		Type    tp.ID
		Variant int
		Fields  []Pattern
	}

	PAs struct {
		Name string
		Pat  Pattern
	}

	POr struct {
		Alts []Pattern
	}

	// PRange matches Lo <= x <= Hi.
	PRange struct {
		Lo, Hi int64
	}
)

func (t Typed) Type() tp.ID { return t.T }

func (PWild) pattern()    {}
func (PBind) pattern()    {}
func (PLit) pattern()     {}
func (PVariant) pattern() {}
func (PAs) pattern()      {}
func (POr) pattern()      {}
func (PRange) pattern()   {}
