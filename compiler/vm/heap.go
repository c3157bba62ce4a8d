package vm

import (
	"tlog.app/go/errors"

	"github.com/upstat-io/sigil-lang-sub011/compiler/tp"
)

type (
	Ptr int64

	// Object is the payload of a heap allocation.
	// The count lives in the header word at HeaderOffset from its pointer.
	Object struct {
		Type    tp.ID
		Variant int
		Fields  []Value

		Str  string
		Func string // closures

		Size  int
		Freed bool
	}

	// Heap implements the runtime contract: allocate, increment, decrement.
	// Addresses are never reused so a stale pointer is always detected.
	Heap struct {
		words map[Ptr]int64
		objs  map[Ptr]*Object

		next Ptr

		Allocs int
		Frees  int
		Bytes  int
	}
)

// HeaderOffset is the position of the count relative to the object pointer.
const HeaderOffset = -8

const wordSize = 8

var (
	ErrUseAfterFree = errors.New("use after free")
	ErrBadPointer   = errors.New("bad pointer")
)

func NewHeap() *Heap {
	return &Heap{
		words: map[Ptr]int64{},
		objs:  map[Ptr]*Object{},
		next:  0x1000,
	}
}

// Allocate returns a new object with count 1.
func (h *Heap) Allocate(size, align int, o *Object) Ptr {
	if align < wordSize {
		align = wordSize
	}

	base := (h.next + Ptr(align) - 1) &^ (Ptr(align) - 1)
	p := base - HeaderOffset

	h.next = p + Ptr(size)

	o.Size = size

	h.words[p+HeaderOffset] = 1
	h.objs[p] = o

	h.Allocs++
	h.Bytes += size - HeaderOffset

	return p
}

func (h *Heap) Object(p Ptr) (*Object, error) {
	o, ok := h.objs[p]
	if !ok {
		return nil, errors.Wrap(ErrBadPointer, "%#x", int64(p))
	}

	if o.Freed {
		return nil, errors.Wrap(ErrUseAfterFree, "%#x", int64(p))
	}

	return o, nil
}

// Count loads the header word.
func (h *Heap) Count(p Ptr) (int64, error) {
	if _, err := h.Object(p); err != nil {
		return 0, err
	}

	return h.words[p+HeaderOffset], nil
}

func (h *Heap) Increment(p Ptr) error {
	if _, err := h.Object(p); err != nil {
		return err
	}

	h.words[p+HeaderOffset]++

	return nil
}

// Decrement returns the object if its count dropped to zero.
// The caller releases its fields and calls Free.
func (h *Heap) Decrement(p Ptr) (*Object, error) {
	o, err := h.Object(p)
	if err != nil {
		return nil, err
	}

	h.words[p+HeaderOffset]--

	if h.words[p+HeaderOffset] != 0 {
		return nil, nil
	}

	return o, nil
}

func (h *Heap) Free(p Ptr) {
	o := h.objs[p]
	o.Freed = true
	o.Fields = nil

	h.words[p+HeaderOffset] = 0
	h.Frees++
}

// Live returns the number of allocated and not yet freed objects.
func (h *Heap) Live() int {
	return h.Allocs - h.Frees
}
