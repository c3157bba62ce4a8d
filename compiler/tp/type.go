package tp

import (
	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"
)

type (
	ID int32

	Kind uint8

	Type struct {
		Kind Kind
		Name string

		Elem   ID   // List element, Alias target
		Params []ID // Func params, Tuple elements
		Result ID   // Func result

		Variants []Variant // Record has exactly one

		defined bool
	}

	Variant struct {
		Name   string
		Fields []Field
	}

	Field struct {
		Name string
		Type ID
	}

	Pool struct {
		types []Type

		names   map[string]ID
		interns map[string]ID
	}
)

const None ID = -1

const (
	Unit ID = iota
	Never
	Bool
	Int
	Float
	Char
	Str

	numBuiltin
)

const (
	KindUnit Kind = iota
	KindNever
	KindBool
	KindInt
	KindFloat
	KindChar
	KindStr
	KindList
	KindFunc
	KindTuple
	KindRecord
	KindEnum
	KindAlias
	KindVar
)

var ErrUnknownType = errors.New("unknown type")

var kindNames = []string{
	KindUnit:   "Unit",
	KindNever:  "Never",
	KindBool:   "Bool",
	KindInt:    "Int",
	KindFloat:  "Float",
	KindChar:   "Char",
	KindStr:    "Str",
	KindList:   "list",
	KindFunc:   "fn",
	KindTuple:  "tuple",
	KindRecord: "record",
	KindEnum:   "enum",
	KindAlias:  "alias",
	KindVar:    "var",
}

func NewPool() *Pool {
	p := &Pool{
		names:   map[string]ID{},
		interns: map[string]ID{},
	}

	for k := KindUnit; k <= KindStr; k++ {
		id := p.add(Type{Kind: k, Name: kindNames[k], Elem: None, Result: None, defined: true})

		p.names[kindNames[k]] = id
	}

	if len(p.types) != int(numBuiltin) {
		panic(len(p.types))
	}

	return p
}

func (p *Pool) Len() int { return len(p.types) }

func (p *Pool) Lookup(id ID) (*Type, error) {
	if id < 0 || int(id) >= len(p.types) {
		return nil, errors.Wrap(ErrUnknownType, "id %d", id)
	}

	return &p.types[id], nil
}

// Get is Lookup for ids already known to be valid.
func (p *Pool) Get(id ID) *Type {
	t, err := p.Lookup(id)
	if err != nil {
		panic(err)
	}

	return t
}

func (p *Pool) ByName(name string) (ID, bool) {
	id, ok := p.names[name]
	return id, ok
}

func (p *Pool) List(elem ID) ID {
	return p.intern(Type{Kind: KindList, Elem: elem, Result: None})
}

func (p *Pool) Func(params []ID, res ID) ID {
	return p.intern(Type{Kind: KindFunc, Elem: None, Params: params, Result: res})
}

func (p *Pool) Tuple(elems ...ID) ID {
	return p.intern(Type{Kind: KindTuple, Elem: None, Params: elems, Result: None})
}

func (p *Pool) TypeVar(name string) ID {
	return p.intern(Type{Kind: KindVar, Name: name, Elem: None, Result: None})
}

// Declare reserves a named type so it can be referenced before it's defined.
func (p *Pool) Declare(name string, k Kind) (ID, error) {
	switch k {
	case KindRecord, KindEnum, KindAlias:
	default:
		return None, errors.New("can't declare %v type %v", kindNames[k], name)
	}

	if _, ok := p.names[name]; ok {
		return None, errors.New("type redeclared: %v", name)
	}

	id := p.add(Type{Kind: k, Name: name, Elem: None, Result: None})
	p.names[name] = id

	return id, nil
}

func (p *Pool) DefineRecord(id ID, fields []Field) error {
	t, err := p.declared(id, KindRecord)
	if err != nil {
		return err
	}

	t.Variants = []Variant{{Name: t.Name, Fields: fields}}
	t.defined = true

	return nil
}

func (p *Pool) DefineEnum(id ID, vs []Variant) error {
	t, err := p.declared(id, KindEnum)
	if err != nil {
		return err
	}

	if len(vs) == 0 {
		return errors.New("enum %v: no variants", t.Name)
	}

	t.Variants = vs
	t.defined = true

	return nil
}

func (p *Pool) Resolve(alias, target ID) error {
	t, err := p.declared(alias, KindAlias)
	if err != nil {
		return err
	}

	if _, err := p.Lookup(target); err != nil {
		return errors.Wrap(err, "alias %v", t.Name)
	}

	t.Elem = target
	t.defined = true

	return nil
}

func (p *Pool) NewRecord(name string, fields ...Field) ID {
	id, err := p.Declare(name, KindRecord)
	if err == nil {
		err = p.DefineRecord(id, fields)
	}
	if err != nil {
		panic(err)
	}

	return id
}

func (p *Pool) NewEnum(name string, vs ...Variant) ID {
	id, err := p.Declare(name, KindEnum)
	if err == nil {
		err = p.DefineEnum(id, vs)
	}
	if err != nil {
		panic(err)
	}

	return id
}

// Underlying follows aliases. It returns None for unresolved or cyclic aliases.
func (p *Pool) Underlying(id ID) ID {
	for range len(p.types) + 1 {
		t, err := p.Lookup(id)
		if err != nil {
			return None
		}

		if t.Kind != KindAlias {
			return id
		}

		if !t.defined {
			return None
		}

		id = t.Elem
	}

	return None
}

// Boxed reports whether values of the type live in refcounted heap records
// with a header, fields and a tag.
func (p *Pool) Boxed(id ID) bool {
	id = p.Underlying(id)
	if id == None {
		return false
	}

	t := &p.types[id]

	switch t.Kind {
	case KindRecord:
		return true
	case KindEnum:
		for _, v := range t.Variants {
			if len(v.Fields) != 0 {
				return true
			}
		}
	}

	return false
}

// Fields returns field types of the variant of an aggregate type.
func (p *Pool) Fields(id ID, variant int) ([]ID, error) {
	u := p.Underlying(id)
	if u == None {
		return nil, errors.Wrap(ErrUnknownType, "not an aggregate: %v", p.String(id))
	}

	t := &p.types[u]

	switch t.Kind {
	case KindTuple:
		if variant != 0 {
			break
		}

		return t.Params, nil
	case KindRecord, KindEnum:
		if variant < 0 || variant >= len(t.Variants) {
			break
		}

		fs := make([]ID, len(t.Variants[variant].Fields))
		for i, f := range t.Variants[variant].Fields {
			fs[i] = f.Type
		}

		return fs, nil
	}

	return nil, errors.New("%v: no variant %d", p.String(id), variant)
}

func (p *Pool) VariantIndex(id ID, name string) int {
	u := p.Underlying(id)
	if u == None {
		return -1
	}

	for i, v := range p.types[u].Variants {
		if v.Name == name {
			return i
		}
	}

	return -1
}

func (p *Pool) FieldIndex(id ID, variant int, name string) int {
	u := p.Underlying(id)
	if u == None || variant >= len(p.types[u].Variants) {
		return -1
	}

	for i, f := range p.types[u].Variants[variant].Fields {
		if f.Name == name {
			return i
		}
	}

	return -1
}

func (p *Pool) String(id ID) string {
	return string(p.AppendName(nil, id))
}

func (p *Pool) AppendName(b []byte, id ID) []byte {
	t, err := p.Lookup(id)
	if err != nil {
		return hfmt.Appendf(b, "?%d", id)
	}

	switch t.Kind {
	case KindList:
		b = append(b, "(list "...)
		b = p.AppendName(b, t.Elem)
		b = append(b, ')')
	case KindFunc:
		b = append(b, "(fn ("...)
		b = p.appendList(b, t.Params)
		b = append(b, ") "...)
		b = p.AppendName(b, t.Result)
		b = append(b, ')')
	case KindTuple:
		b = append(b, "(tuple"...)
		if len(t.Params) != 0 {
			b = append(b, ' ')
		}
		b = p.appendList(b, t.Params)
		b = append(b, ')')
	case KindVar:
		b = hfmt.Appendf(b, "(var %s)", t.Name)
	default:
		b = append(b, t.Name...)
	}

	return b
}

// AppendDef appends the structural definition of a named type.
func (p *Pool) AppendDef(b []byte, id ID) []byte {
	t, err := p.Lookup(id)
	if err != nil {
		return hfmt.Appendf(b, "?%d", id)
	}

	switch t.Kind {
	case KindRecord, KindEnum:
		b = hfmt.Appendf(b, "(%s %s", kindNames[t.Kind], t.Name)

		for _, v := range t.Variants {
			if t.Kind == KindRecord {
				b = p.appendFields(b, v.Fields)
				continue
			}

			b = hfmt.Appendf(b, " (%s", v.Name)
			b = p.appendFields(b, v.Fields)
			b = append(b, ')')
		}

		b = append(b, ')')
	case KindAlias:
		b = hfmt.Appendf(b, "(alias %s ", t.Name)

		if t.defined {
			b = p.AppendName(b, t.Elem)
		} else {
			b = append(b, '_')
		}

		b = append(b, ')')
	default:
		b = p.AppendName(b, id)
	}

	return b
}

// Reachable returns all types mentioned by roots, transitively, in id order.
func (p *Pool) Reachable(roots ...ID) []ID {
	seen := make(map[ID]bool)
	q := append([]ID{}, roots...)

	for len(q) != 0 {
		id := q[len(q)-1]
		q = q[:len(q)-1]

		t, err := p.Lookup(id)
		if err != nil || seen[id] {
			continue
		}

		seen[id] = true

		if t.Elem != None {
			q = append(q, t.Elem)
		}
		if t.Result != None {
			q = append(q, t.Result)
		}

		q = append(q, t.Params...)

		for _, v := range t.Variants {
			for _, f := range v.Fields {
				q = append(q, f.Type)
			}
		}
	}

	res := make([]ID, 0, len(seen))

	for id := range ID(len(p.types)) {
		if seen[id] {
			res = append(res, id)
		}
	}

	return res
}

func (p *Pool) appendList(b []byte, ids []ID) []byte {
	for i, id := range ids {
		if i != 0 {
			b = append(b, ' ')
		}

		b = p.AppendName(b, id)
	}

	return b
}

func (p *Pool) appendFields(b []byte, fs []Field) []byte {
	for _, f := range fs {
		b = hfmt.Appendf(b, " (%s ", f.Name)
		b = p.AppendName(b, f.Type)
		b = append(b, ')')
	}

	return b
}

func (p *Pool) declared(id ID, k Kind) (*Type, error) {
	t, err := p.Lookup(id)
	if err != nil {
		return nil, err
	}

	if t.Kind != k {
		return nil, errors.New("%v: is %v, not %v", t.Name, kindNames[t.Kind], kindNames[k])
	}

	if t.defined {
		return nil, errors.New("%v: already defined", t.Name)
	}

	return t, nil
}

func (p *Pool) intern(t Type) ID {
	key := string(p.AppendName(hfmt.Appendf(nil, "%d:", t.Kind), p.add(t)))

	if id, ok := p.interns[key]; ok {
		p.types = p.types[:len(p.types)-1]
		return id
	}

	id := ID(len(p.types) - 1)
	p.types[id].defined = true
	p.interns[key] = id

	return id
}

func (p *Pool) add(t Type) ID {
	p.types = append(p.types, t)

	return ID(len(p.types) - 1)
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}

	return string(hfmt.Appendf(nil, "Kind(%d)", int(k)))
}
