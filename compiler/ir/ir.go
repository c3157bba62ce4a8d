package ir

import (
	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"

	"github.com/upstat-io/sigil-lang-sub011/compiler/tp"
)

type (
	Var     uint32
	BlockID uint32

	Mode uint8

	Op string

	Package struct {
		Pool  *tp.Pool
		Funcs []*Func
	}

	Func struct {
		Name   string
		Params []Param
		Result tp.ID

		Blocks []*Block
		Entry  BlockID

		Types []tp.ID // by Var
	}

	Param struct {
		Var  Var
		Type tp.ID
		Mode Mode
	}

	Block struct {
		ID     BlockID
		Params []Var

		Code []Instr
		Term Term
	}

	Instr interface {
		instr()
	}

	Term interface {
		term()
	}

	// Dom is the immediate dominator by block.
	// The entry is its own dominator, unreachable blocks have NoBlock.
	Dom []BlockID
)

// Instructions.
type (
	// Let defines a literal. Value is int64, float64, bool, rune, string or nil for Unit.
	Let struct {
		Dst   Var
		Value any
	}

	Move struct {
		Dst Var
		Src Var
	}

	Prim struct {
		Dst  Var
		Op   Op
		Args []Var
	}

	Apply struct {
		Dst  Var
		Func string
		Args []Var
		Tail bool
	}

	ApplyIndirect struct {
		Dst     Var
		Closure Var
		Args    []Var
	}

	Closure struct {
		Dst      Var
		Func     string
		Captures []Var
	}

	Construct struct {
		Dst     Var
		Type    tp.ID
		Variant int
		Args    []Var
	}

	Project struct {
		Dst     Var
		Src     Var
		Variant int
		Field   int
	}

	Tag struct {
		Dst Var
		Src Var
	}

	Inc struct {
		Var Var
	}

	Dec struct {
		Var Var
	}

	Reset struct {
		Var   Var
		Token Var
	}

	Reuse struct {
		Dst     Var
		Token   Var
		Type    tp.ID
		Variant int
		Args    []Var
	}

	IsShared struct {
		Dst Var
		Var Var
	}

	Set struct {
		Var   Var
		Field int
		Value Var
	}

	SetTag struct {
		Var     Var
		Variant int
	}
)

// Terminators.
type (
	Return struct {
		Value Var
	}

	Jump struct {
		Target BlockID
		Args   []Var
	}

	Branch struct {
		Cond Var
		Then BlockID
		Else BlockID
	}

	Switch struct {
		Value   Var
		Cases   []Case
		Default BlockID
	}

	Case struct {
		Value  int64
		Target BlockID
	}

	Unreachable struct{}
)

const (
	Owned Mode = iota
	Borrowed
)

const NoBlock BlockID = 1<<32 - 1

const (
	OpAdd    Op = "add"
	OpSub    Op = "sub"
	OpMul    Op = "mul"
	OpDiv    Op = "div"
	OpRem    Op = "rem"
	OpNeg    Op = "neg"
	OpLt     Op = "lt"
	OpLe     Op = "le"
	OpGt     Op = "gt"
	OpGe     Op = "ge"
	OpEq     Op = "eq"
	OpNe     Op = "ne"
	OpAnd    Op = "and"
	OpOr     Op = "or"
	OpNot    Op = "not"
	OpConcat Op = "concat"
	OpStrLen Op = "strlen"
)

var ErrMalformed = errors.New("malformed ir")

func (Let) instr()           {}
func (Move) instr()          {}
func (Prim) instr()          {}
func (Apply) instr()         {}
func (ApplyIndirect) instr() {}
func (Closure) instr()       {}
func (Construct) instr()     {}
func (Project) instr()       {}
func (Tag) instr()           {}
func (Inc) instr()           {}
func (Dec) instr()           {}
func (Reset) instr()         {}
func (Reuse) instr()         {}
func (IsShared) instr()      {}
func (Set) instr()           {}
func (SetTag) instr()        {}

func (Return) term()      {}
func (Jump) term()        {}
func (Branch) term()      {}
func (Switch) term()      {}
func (Unreachable) term() {}

func (v Var) String() string { return string(hfmt.Appendf(nil, "v%d", uint32(v))) }

func (b BlockID) String() string {
	if b == NoBlock {
		return "-"
	}

	return string(hfmt.Appendf(nil, "b%d", uint32(b)))
}

func (m Mode) String() string {
	if m == Borrowed {
		return "borrowed"
	}

	return "owned"
}

