package classify

import (
	"tlog.app/go/errors"

	"github.com/upstat-io/sigil-lang-sub011/compiler/tp"
)

type (
	Class uint8

	// Table classifies types of a pool on demand, memoizing results.
	// Not safe for concurrent use, Freeze it first.
	Table struct {
		pool *tp.Pool

		memo  map[tp.ID]Class
		stack map[tp.ID]int // in progress: type -> descent depth
	}

	// Snapshot is an immutable classification of every type in a pool.
	Snapshot struct {
		classes []Class
	}
)

const (
	Scalar Class = iota
	PossibleRef
	DefiniteRef
)

const noLow = int(^uint(0) >> 1)

var ErrUnknownType = errors.New("unknown type")

func New(pool *tp.Pool) *Table {
	return &Table{
		pool:  pool,
		memo:  map[tp.ID]Class{},
		stack: map[tp.ID]int{},
	}
}

func (t *Table) Classify(id tp.ID) (Class, error) {
	c, _, err := t.classify(id)

	return c, err
}

func (t *Table) NeedsRC(id tp.ID) (bool, error) {
	c, err := t.Classify(id)

	return c.NeedsRC(), err
}

// classify returns the class of id and the lowest descent depth of an
// in-progress type the result depends on. Results depending on a type that is
// still being classified are provisional and not memoized.
func (t *Table) classify(id tp.ID) (c Class, low int, err error) {
	if c, ok := t.memo[id]; ok {
		return c, noLow, nil
	}

	if d, ok := t.stack[id]; ok {
		return DefiniteRef, d, nil
	}

	typ, err := t.pool.Lookup(id)
	if err != nil {
		return 0, noLow, errors.Wrap(ErrUnknownType, "type %d", id)
	}

	depth := len(t.stack)
	t.stack[id] = depth
	low = noLow

	defer delete(t.stack, id)

	sub := func(ids ...tp.ID) error {
		for _, s := range ids {
			sc, sl, err := t.classify(s)
			if err != nil {
				return err
			}

			c = max(c, sc)
			low = min(low, sl)
		}

		return nil
	}

	switch typ.Kind {
	case tp.KindUnit, tp.KindNever, tp.KindBool, tp.KindInt, tp.KindFloat, tp.KindChar:
		c = Scalar
	case tp.KindStr, tp.KindList, tp.KindFunc, tp.KindRecord:
		c = DefiniteRef
	case tp.KindEnum:
		c = Scalar

		if t.pool.Boxed(id) {
			c = DefiniteRef
		}
	case tp.KindTuple:
		err = sub(typ.Params...)
	case tp.KindAlias:
		if typ.Elem == tp.None {
			c = PossibleRef
			break
		}

		err = sub(typ.Elem)
	case tp.KindVar:
		c = PossibleRef
	default:
		return 0, noLow, errors.New("type %d: unsupported kind %v", id, typ.Kind)
	}

	if err != nil {
		return 0, noLow, errors.Wrap(err, "%v", t.pool.String(id))
	}

	if low >= depth {
		t.memo[id] = c
		low = noLow
	}

	return c, low, nil
}

// Freeze classifies every type of the pool.
func (t *Table) Freeze() (*Snapshot, error) {
	s := &Snapshot{classes: make([]Class, t.pool.Len())}

	for id := range tp.ID(t.pool.Len()) {
		c, err := t.Classify(id)
		if err != nil {
			return nil, err
		}

		s.classes[id] = c
	}

	return s, nil
}

func (s *Snapshot) Len() int { return len(s.classes) }

func (s *Snapshot) Lookup(id tp.ID) (Class, error) {
	if id < 0 || int(id) >= len(s.classes) {
		return 0, errors.Wrap(ErrUnknownType, "type %d", id)
	}

	return s.classes[id], nil
}

// NeedsRC is false for unknown ids, validate types with Lookup first.
func (s *Snapshot) NeedsRC(id tp.ID) bool {
	c, err := s.Lookup(id)

	return err == nil && c.NeedsRC()
}

// NeedsRC treats PossibleRef as DefiniteRef.
func (c Class) NeedsRC() bool { return c != Scalar }

func (c Class) String() string {
	switch c {
	case Scalar:
		return "scalar"
	case PossibleRef:
		return "possible_ref"
	case DefiniteRef:
		return "definite_ref"
	default:
		return "?"
	}
}
