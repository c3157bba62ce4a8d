package compiler

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/upstat-io/sigil-lang-sub011/compiler/borrow"
	"github.com/upstat-io/sigil-lang-sub011/compiler/cache"
	"github.com/upstat-io/sigil-lang-sub011/compiler/canon"
	"github.com/upstat-io/sigil-lang-sub011/compiler/classify"
	"github.com/upstat-io/sigil-lang-sub011/compiler/drop"
	"github.com/upstat-io/sigil-lang-sub011/compiler/front"
	"github.com/upstat-io/sigil-lang-sub011/compiler/ir"
	"github.com/upstat-io/sigil-lang-sub011/compiler/rc"
	"github.com/upstat-io/sigil-lang-sub011/compiler/reuse"
	"github.com/upstat-io/sigil-lang-sub011/compiler/tp"
)

type (
	Options struct {
		Workers int // GOMAXPROCS if zero
		Cache   *cache.Cache
		Version string // part of cache keys, Version if empty
	}

	Result struct {
		Pool    *tp.Pool
		Classes *classify.Snapshot
		Funcs   []*ir.Func
		Sigs    borrow.Sigs

		Borrow *borrow.Result
		Stats  []FuncStats // by Funcs index
		Drops  drop.Table
	}

	FuncStats struct {
		Name   string
		Cached bool

		Reuse     int // Reset/Reuse pairs
		FBIP      reuse.Report
		Expand    reuse.Stats
		ElimPairs int
	}
)

const Version = "arc-1"

func CompileFile(ctx context.Context, name string, opts Options) (*Result, error) {
	p, err := canon.ReadFile(ctx, name)
	if err != nil {
		return nil, errors.Wrap(err, "read")
	}

	return Compile(ctx, p, opts)
}

// Compile lowers the program and runs the ARC pipeline on every function.
func Compile(ctx context.Context, p *canon.Program, opts Options) (res *Result, err error) {
	pkg, err := front.Lower(ctx, p)
	if err != nil {
		return nil, errors.Wrap(err, "lower")
	}

	externs := make(borrow.Sigs, len(p.Externs))

	for _, e := range p.Externs {
		externs[e.Name] = e.Modes
	}

	return Analyze(ctx, pkg, externs, opts)
}

// Analyze runs the ARC pipeline on lowered functions.
// Functions of pkg are modified in place unless they are found in the cache.
func Analyze(ctx context.Context, pkg *ir.Package, externs borrow.Sigs, opts Options) (res *Result, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "compiler: analyze", "funcs", len(pkg.Funcs))
	defer tr.Finish("err", &err)

	if opts.Version == "" {
		opts.Version = Version
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	cls, err := classify.New(pkg.Pool).Freeze()
	if err != nil {
		return nil, errors.Wrap(err, "classify")
	}

	br, err := borrow.Infer(ctx, pkg, externs, cls)
	if err != nil {
		return nil, errors.Wrap(err, "borrow")
	}

	borrow.Apply(pkg, br.Sigs)

	res = &Result{
		Pool:    pkg.Pool,
		Classes: cls,
		Funcs:   make([]*ir.Func, len(pkg.Funcs)),
		Sigs:    br.Sigs,
		Borrow:  br,
		Stats:   make([]FuncStats, len(pkg.Funcs)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, f := range pkg.Funcs {
		if err := gctx.Err(); err != nil {
			break
		}

		g.Go(func() (err error) {
			res.Funcs[i], res.Stats[i], err = analyzeFunc(gctx, pkg.Pool, cls, br.Sigs, f, opts)
			if err != nil {
				return errors.Wrap(err, "func %v", f.Name)
			}

			return nil
		})
	}

	err = g.Wait()
	if err != nil {
		return nil, err
	}

	if err = ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "analyze")
	}

	res.Drops = drop.Collect(ctx, res.Funcs, pkg.Pool, cls)

	if opts.Cache != nil {
		hits, misses := opts.Cache.Stats()
		tr.V("cache").Printw("cache", "hits", hits, "misses", misses, "size", opts.Cache.Len())
	}

	return res, nil
}

func analyzeFunc(ctx context.Context, pool *tp.Pool, cls *classify.Snapshot, sigs borrow.Sigs, f *ir.Func, opts Options) (_ *ir.Func, st FuncStats, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "compiler: func", "func", f.Name)
	defer tr.Finish("err", &err)

	st.Name = f.Name

	var key cache.Key

	if opts.Cache != nil {
		key = cache.KeyOf(pool, f, sigs, opts.Version)

		if e, ok := opts.Cache.Get(key); ok {
			tr.V("cache").Printw("cache hit", "key", key)

			st.Cached = true
			st.FBIP = e.FBIP

			return e.Func, st, nil
		}
	}

	err = rc.Insert(ctx, f, cls, sigs)
	if err != nil {
		return nil, st, errors.Wrap(err, "rc insert")
	}

	st.Reuse = reuse.Annotate(ctx, f, pool)
	st.FBIP = reuse.FBIP(ctx, f, pool)

	if err = ir.Validate(f, ir.Counted); err != nil {
		return nil, st, errors.Wrap(err, "annotated")
	}

	st.Expand = reuse.Expand(ctx, f, pool, cls)
	st.ElimPairs = rc.Eliminate(ctx, f)

	ir.MarkTailCalls(f)

	if err = ir.Validate(f, ir.Expanded); err != nil {
		return nil, st, errors.Wrap(err, "expanded")
	}

	if opts.Cache != nil {
		opts.Cache.Put(key, cache.Entry{Func: f, FBIP: st.FBIP})
	}

	if tr.If("dump_ir") {
		tr.Printw("analyzed", "blocks", len(f.Blocks), "vars", len(f.Types), "stats", st)
	}

	return f, st, nil
}
