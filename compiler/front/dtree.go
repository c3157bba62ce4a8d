package front

import (
	"slices"

	"tlog.app/go/errors"

	"github.com/upstat-io/sigil-lang-sub011/compiler/canon"
	"github.com/upstat-io/sigil-lang-sub011/compiler/tp"
)

type (
	step struct {
		Variant int
		Field   int
	}

	// occ is a position inside the scrutinee.
	occ struct {
		path []step
		t    tp.ID
	}

	binding struct {
		name string
		occ  occ
	}

	row struct {
		pats  []canon.Pattern
		binds []binding
		arm   int
	}

	tree interface{}

	// leaf selects an arm. When the arm is guarded next is taken if the guard fails.
	leaf struct {
		arm   int
		binds []binding
		next  tree
	}

	fail struct{}

	// multi switches on the tag of an enum or on an int or bool value.
	multi struct {
		occ   occ
		tag   bool
		cases []mcase
		def   tree // nil if cases are exhaustive
	}

	mcase struct {
		value int64
		sub   tree
	}

	// test is a binary test of a value against a literal or a range.
	test struct {
		occ  occ
		pat  canon.Pattern
		then tree
		els  tree
	}

	dtreeCompiler struct {
		pool   *tp.Pool
		guards []bool
	}
)

// compileMatch builds a decision tree for the match arms.
func compileMatch(pool *tp.Pool, m canon.Match) (tree, error) {
	c := &dtreeCompiler{pool: pool}

	root := occ{t: m.Scrutinee.Type()}

	rows := make([]row, len(m.Arms))

	for i, a := range m.Arms {
		c.guards = append(c.guards, a.Guard != nil)
		rows[i] = row{pats: []canon.Pattern{a.Pattern}, arm: i}
	}

	return c.compile(rows, []occ{root})
}

func (c *dtreeCompiler) compile(rows []row, occs []occ) (tree, error) {
	rows = c.normalize(rows, occs)

	if len(rows) == 0 {
		return fail{}, nil
	}

	r0 := rows[0]

	col := c.pickColumn(rows)
	if col < 0 {
		lf := leaf{arm: r0.arm, binds: r0.binds}

		if c.guards[r0.arm] {
			next, err := c.compile(rows[1:], occs)
			if err != nil {
				return nil, err
			}

			lf.next = next
		}

		return lf, nil
	}

	o := occs[col]
	u := c.pool.Get(c.pool.Underlying(o.t))

	switch head := r0.pats[col].(type) {
	case canon.PVariant:
		if u.Kind == tp.KindEnum {
			return c.enumSwitch(rows, occs, col)
		}

		return c.compile(c.specialize(rows, occs, col, 0), c.expandOccs(occs, col, 0))
	case canon.PLit:
		if c.onlyLits(rows, col) {
			switch head.Value.(type) {
			case int64, bool, rune:
				return c.valueSwitch(rows, occs, col)
			}
		}

		return c.binaryTest(rows, occs, col)
	case canon.PRange:
		return c.binaryTest(rows, occs, col)
	default:
		return nil, errors.New("unexpected pattern %T", head)
	}
}

// normalize records bindings and expands or-patterns so that every
// pattern left is a wildcard or a constructor test.
func (c *dtreeCompiler) normalize(rows []row, occs []occ) []row {
	var res []row

	q := slices.Clone(rows)
	slices.Reverse(q)

	for len(q) != 0 {
		r := q[len(q)-1]
		q = q[:len(q)-1]

		r.pats = slices.Clone(r.pats)
		r.binds = slices.Clip(r.binds)

		split := false

	cols:
		for i := range r.pats {
			for {
				switch p := r.pats[i].(type) {
				case canon.PBind:
					r.binds = append(r.binds, binding{name: p.Name, occ: occs[i]})
					r.pats[i] = canon.PWild{}
				case canon.PAs:
					r.binds = append(r.binds, binding{name: p.Name, occ: occs[i]})
					r.pats[i] = p.Pat

					continue
				case canon.POr:
					for j := len(p.Alts) - 1; j >= 0; j-- {
						nr := row{pats: slices.Clone(r.pats), binds: slices.Clip(r.binds), arm: r.arm}
						nr.pats[i] = p.Alts[j]

						q = append(q, nr)
					}

					split = true

					break cols
				}

				break
			}
		}

		if !split {
			res = append(res, r)
		}
	}

	return res
}

// pickColumn returns the column to test next or -1 if the first row matches.
func (c *dtreeCompiler) pickColumn(rows []row) int {
	best, bestN := -1, -1

	for col, p := range rows[0].pats {
		if isWild(p) {
			continue
		}

		seen := map[any]struct{}{}

		for _, r := range rows {
			if k := headKey(r.pats[col]); k != nil {
				seen[k] = struct{}{}
			}
		}

		if len(seen) > bestN {
			best, bestN = col, len(seen)
		}
	}

	return best
}

func (c *dtreeCompiler) enumSwitch(rows []row, occs []occ, col int) (tree, error) {
	o := occs[col]
	u := c.pool.Get(c.pool.Underlying(o.t))

	m := multi{occ: o, tag: true}
	covered := map[int]bool{}

	for _, r := range rows {
		p, ok := r.pats[col].(canon.PVariant)
		if !ok || covered[p.Variant] {
			continue
		}

		covered[p.Variant] = true

		sub, err := c.compile(c.specialize(rows, occs, col, p.Variant), c.expandOccs(occs, col, p.Variant))
		if err != nil {
			return nil, err
		}

		m.cases = append(m.cases, mcase{value: int64(p.Variant), sub: sub})
	}

	if len(covered) == len(u.Variants) {
		return m, nil
	}

	def, err := c.compile(c.defaults(rows, col), dropOcc(occs, col))
	if err != nil {
		return nil, err
	}

	m.def = def

	return m, nil
}

func (c *dtreeCompiler) valueSwitch(rows []row, occs []occ, col int) (tree, error) {
	m := multi{occ: occs[col]}
	covered := map[int64]bool{}

	for _, r := range rows {
		p, ok := r.pats[col].(canon.PLit)
		if !ok {
			continue
		}

		v := litInt(p.Value)
		if covered[v] {
			continue
		}

		covered[v] = true

		var sub []row

		for _, r := range rows {
			switch q := r.pats[col].(type) {
			case canon.PWild:
			case canon.PLit:
				if litInt(q.Value) != v {
					continue
				}
			default:
				continue
			}

			sub = append(sub, dropPat(r, col))
		}

		st, err := c.compile(sub, dropOcc(occs, col))
		if err != nil {
			return nil, err
		}

		m.cases = append(m.cases, mcase{value: v, sub: st})
	}

	if occs[col].t == tp.Bool && len(covered) == 2 {
		return m, nil
	}

	def, err := c.compile(c.defaults(rows, col), dropOcc(occs, col))
	if err != nil {
		return nil, err
	}

	m.def = def

	return m, nil
}

// specialize replaces the column by the fields of the variant.
// Rows testing other variants are dropped.
func (c *dtreeCompiler) specialize(rows []row, occs []occ, col, variant int) []row {
	var res []row

	arity, _ := c.pool.Fields(occs[col].t, variant)

	for _, r := range rows {
		var fields []canon.Pattern

		switch p := r.pats[col].(type) {
		case canon.PVariant:
			if p.Variant != variant {
				continue
			}

			fields = p.Fields
		case canon.PWild:
			fields = make([]canon.Pattern, len(arity))

			for i := range fields {
				fields[i] = canon.PWild{}
			}
		default:
			continue
		}

		pats := make([]canon.Pattern, 0, len(r.pats)-1+len(fields))
		pats = append(pats, r.pats[:col]...)
		pats = append(pats, fields...)
		pats = append(pats, r.pats[col+1:]...)

		res = append(res, row{pats: pats, binds: r.binds, arm: r.arm})
	}

	return res
}

func (c *dtreeCompiler) defaults(rows []row, col int) []row {
	var res []row

	for _, r := range rows {
		if isWild(r.pats[col]) {
			res = append(res, dropPat(r, col))
		}
	}

	return res
}

// binaryTest tests the value against the first row's pattern.
// The column stays in both subtrees for rows which may still match.
func (c *dtreeCompiler) binaryTest(rows []row, occs []occ, col int) (tree, error) {
	tpat := rows[0].pats[col]

	var then, els []row

	for _, r := range rows {
		p := r.pats[col]

		if isWild(p) {
			then = append(then, r)
			els = append(els, r)

			continue
		}

		switch {
		case covers(p, tpat):
			nr := r
			nr.pats = slices.Clone(r.pats)
			nr.pats[col] = canon.PWild{}

			then = append(then, nr)
		case !disjoint(p, tpat):
			then = append(then, r)
		}

		if !covers(tpat, p) {
			els = append(els, r)
		}
	}

	tt, err := c.compile(then, occs)
	if err != nil {
		return nil, err
	}

	et, err := c.compile(els, occs)
	if err != nil {
		return nil, err
	}

	return test{occ: occs[col], pat: tpat, then: tt, els: et}, nil
}

func (c *dtreeCompiler) onlyLits(rows []row, col int) bool {
	for _, r := range rows {
		switch r.pats[col].(type) {
		case canon.PWild, canon.PLit:
		default:
			return false
		}
	}

	return true
}

func (c *dtreeCompiler) expandOccs(occs []occ, col, variant int) []occ {
	o := occs[col]
	fs, _ := c.pool.Fields(o.t, variant)

	res := make([]occ, 0, len(occs)-1+len(fs))
	res = append(res, occs[:col]...)

	for i, ft := range fs {
		path := append(slices.Clip(o.path), step{Variant: variant, Field: i})
		res = append(res, occ{path: path, t: ft})
	}

	res = append(res, occs[col+1:]...)

	return res
}

func dropPat(r row, col int) row {
	pats := make([]canon.Pattern, 0, len(r.pats)-1)
	pats = append(pats, r.pats[:col]...)
	pats = append(pats, r.pats[col+1:]...)

	return row{pats: pats, binds: r.binds, arm: r.arm}
}

func dropOcc(occs []occ, col int) []occ {
	res := make([]occ, 0, len(occs)-1)
	res = append(res, occs[:col]...)

	return append(res, occs[col+1:]...)
}

func isWild(p canon.Pattern) bool {
	_, ok := p.(canon.PWild)
	return ok
}

func headKey(p canon.Pattern) any {
	switch p := p.(type) {
	case canon.PVariant:
		return p.Variant
	case canon.PLit:
		return p.Value
	case canon.PRange:
		return p
	default:
		return nil
	}
}

func litInt(v any) int64 {
	switch v := v.(type) {
	case int64:
		return v
	case rune:
		return int64(v)
	case bool:
		if v {
			return 1
		}

		return 0
	default:
		panic(v)
	}
}

// interval returns the int range a pattern matches.
func interval(p canon.Pattern) (lo, hi int64, ok bool) {
	switch p := p.(type) {
	case canon.PRange:
		return p.Lo, p.Hi, true
	case canon.PLit:
		switch p.Value.(type) {
		case int64, rune:
			v := litInt(p.Value)
			return v, v, true
		}
	}

	return 0, 0, false
}

// covers reports whether every value matched by b is matched by a.
func covers(a, b canon.Pattern) bool {
	alo, ahi, aok := interval(a)
	blo, bhi, bok := interval(b)

	if aok && bok {
		return alo <= blo && bhi <= ahi
	}

	al, aok := a.(canon.PLit)
	bl, bok := b.(canon.PLit)

	return aok && bok && al.Value == bl.Value
}

func disjoint(a, b canon.Pattern) bool {
	alo, ahi, aok := interval(a)
	blo, bhi, bok := interval(b)

	if aok && bok {
		return ahi < blo || bhi < alo
	}

	al, aok := a.(canon.PLit)
	bl, bok := b.(canon.PLit)

	return aok && bok && al.Value != bl.Value
}
