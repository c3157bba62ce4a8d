// Package cache keeps annotated functions by the content of their inputs.
package cache

import (
	"encoding/hex"
	"slices"
	"strconv"
	"sync"

	"golang.org/x/crypto/blake2b"
	"tlog.app/go/tlog/tlwire"

	"github.com/upstat-io/sigil-lang-sub011/compiler/borrow"
	"github.com/upstat-io/sigil-lang-sub011/compiler/format"
	"github.com/upstat-io/sigil-lang-sub011/compiler/ir"
	"github.com/upstat-io/sigil-lang-sub011/compiler/reuse"
	"github.com/upstat-io/sigil-lang-sub011/compiler/tp"
)

type (
	Key [blake2b.Size256]byte

	// Entry is an analyzed function with its reuse report.
	Entry struct {
		Func *ir.Func
		FBIP reuse.Report
	}

	// Cache is safe for concurrent use.
	// Stored and returned entries are copies.
	Cache struct {
		mu sync.Mutex
		m  map[Key]Entry

		hits, misses int
	}
)

func New() *Cache {
	return &Cache{m: map[Key]Entry{}}
}

// KeyOf hashes everything the analysis of f depends on:
// its lowered code with param modes, definitions of the types it mentions,
// signatures of its callees and the pipeline version.
func KeyOf(pool *tp.Pool, f *ir.Func, sigs borrow.Sigs, version string) Key {
	var b []byte

	b = append(b, "version "...)
	b = append(b, version...)
	b = append(b, '\n')

	b = format.Func(b, pool, f)

	for _, t := range pool.Reachable(usedTypes(f)...) {
		b = strconv.AppendInt(b, int64(t), 10)
		b = append(b, ' ')
		b = pool.AppendDef(b, t)
		b = append(b, '\n')
	}

	for _, name := range callees(f) {
		b = append(b, "sig "...)
		b = append(b, name...)

		ms, ok := sigs[name]
		if !ok {
			b = append(b, " unknown"...)
		}

		for _, m := range ms {
			b = append(b, ' ')
			b = append(b, m.String()...)
		}

		b = append(b, '\n')
	}

	return blake2b.Sum256(b)
}

func (c *Cache) Get(k Key) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.m[k]
	if !ok {
		c.misses++
		return Entry{}, false
	}

	c.hits++

	return e.clone(), true
}

func (c *Cache) Put(k Key, e Entry) {
	e = e.clone()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.m[k] = e
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.m)
}

// Stats returns the number of hits and misses.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.hits, c.misses
}

func (e Entry) clone() Entry {
	return Entry{
		Func: e.Func.Clone(),
		FBIP: reuse.Report{
			Achieved: slices.Clone(e.FBIP.Achieved),
			Missed:   slices.Clone(e.FBIP.Missed),
		},
	}
}

func (k Key) String() string { return hex.EncodeToString(k[:]) }

func (k Key) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendSemantic(b, tlwire.Hex)
	b = e.AppendBytes(b, k[:])

	return b
}

func usedTypes(f *ir.Func) []tp.ID {
	ts := append([]tp.ID{f.Result}, f.Types...)

	for _, b := range f.Blocks {
		for _, x := range b.Code {
			switch x := x.(type) {
			case ir.Construct:
				ts = append(ts, x.Type)
			case ir.Reuse:
				ts = append(ts, x.Type)
			}
		}
	}

	return ts
}

func callees(f *ir.Func) []string {
	seen := map[string]bool{}

	var r []string

	for _, b := range f.Blocks {
		for _, x := range b.Code {
			var name string

			switch x := x.(type) {
			case ir.Apply:
				name = x.Func
			case ir.Closure:
				name = x.Func
			default:
				continue
			}

			if !seen[name] {
				seen[name] = true
				r = append(r, name)
			}
		}
	}

	return r
}
