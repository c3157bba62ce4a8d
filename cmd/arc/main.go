package main

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"

	"github.com/nikandfor/hacked/hfmt"
	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/upstat-io/sigil-lang-sub011/compiler"
	"github.com/upstat-io/sigil-lang-sub011/compiler/canon"
	"github.com/upstat-io/sigil-lang-sub011/compiler/drop"
	"github.com/upstat-io/sigil-lang-sub011/compiler/format"
	"github.com/upstat-io/sigil-lang-sub011/compiler/front"
	"github.com/upstat-io/sigil-lang-sub011/compiler/ir"
	"github.com/upstat-io/sigil-lang-sub011/compiler/tp"
	"github.com/upstat-io/sigil-lang-sub011/compiler/vm"
)

func main() {
	lowerCmd := &cli.Command{
		Name:        "lower",
		Description: "print lowered ir",
		Action:      lowerAct,
		Args:        cli.Args{},
	}

	compileCmd := &cli.Command{
		Name:        "compile",
		Description: "print ir with reference counting",
		Action:      compileAct,
		Args:        cli.Args{},
	}

	reportCmd := &cli.Command{
		Name:        "report",
		Description: "print reuse achieved and missed by function and drop descriptors",
		Action:      reportAct,
		Args:        cli.Args{},
	}

	runCmd := &cli.Command{
		Name:        "run",
		Description: "simulate a function: run FILE FUNC ARGS...",
		Action:      runAct,
		Args:        cli.Args{},
	}

	app := &cli.Command{
		Name:        "arc",
		Description: "arc is automatic reference counting pipeline for canonical programs",
		Flags: []*cli.Flag{
			cli.NewFlag("jobs,j", 0, "parallel workers, GOMAXPROCS if 0"),
			cli.NewFlag("version", compiler.Version, "pipeline version"),
		},
		Commands: []*cli.Command{
			lowerCmd,
			compileCmd,
			reportCmd,
			runCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func options(c *cli.Command) compiler.Options {
	return compiler.Options{
		Workers: c.Int("jobs"),
		Version: c.String("version"),
	}
}

func lowerAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	for _, a := range c.Args {
		p, err := canon.ReadFile(ctx, a)
		if err != nil {
			return errors.Wrap(err, "read %v", a)
		}

		pkg, err := front.Lower(ctx, p)
		if err != nil {
			return errors.Wrap(err, "lower %v", a)
		}

		fmt.Printf("%s", format.Package(nil, pkg))
	}

	return nil
}

func compileAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	for _, a := range c.Args {
		res, err := compiler.CompileFile(ctx, a, options(c))
		if err != nil {
			return errors.Wrap(err, "compile %v", a)
		}

		var b []byte

		for i, f := range res.Funcs {
			if i != 0 {
				b = append(b, '\n')
			}

			b = format.Func(b, res.Pool, f)
		}

		fmt.Printf("%s", b)
	}

	return nil
}

func reportAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	for _, a := range c.Args {
		res, err := compiler.CompileFile(ctx, a, options(c))
		if err != nil {
			return errors.Wrap(err, "compile %v", a)
		}

		var b []byte

		for _, st := range res.Stats {
			r := st.FBIP

			b = hfmt.Appendf(b, "func %s  fbip %v  reused %d  missed %d\n", st.Name, r.IsFBIP(), len(r.Achieved), len(r.Missed))

			for _, p := range r.Achieved {
				b = hfmt.Appendf(b, "  reuse %v -> %v  %s  in %v\n", p.Var, p.Dst, res.Pool.String(p.Type), p.Block)
			}

			for _, m := range r.Missed {
				b = hfmt.Appendf(b, "  miss  %v in %v  %v", m.Var, m.Block, m.Reason)

				if m.ConstructBlock != ir.NoBlock {
					b = hfmt.Appendf(b, "  construct %v %s in %v", m.Construct, res.Pool.String(m.ConstructType), m.ConstructBlock)
				}

				b = append(b, '\n')
			}
		}

		for _, id := range slices.Sorted(maps.Keys(res.Drops.Types)) {
			b = appendDrop(b, res.Pool, "type "+res.Pool.String(id), res.Drops.Types[id])
		}

		for _, name := range slices.Sorted(maps.Keys(res.Drops.Envs)) {
			b = appendDrop(b, res.Pool, "env "+name, res.Drops.Envs[name])
		}

		fmt.Printf("%s", b)
	}

	return nil
}

func appendDrop(b []byte, pool *tp.Pool, name string, d drop.Info) []byte {
	b = hfmt.Appendf(b, "drop %s  %v", name, d.Kind)

	fields := func(fs []drop.Field) {
		for _, f := range fs {
			b = hfmt.Appendf(b, " %d:%s", f.Index, pool.String(f.Type))
		}
	}

	switch d.Kind {
	case drop.KindFields, drop.KindClosure:
		fields(d.Fields)
	case drop.KindEnum:
		for i, v := range d.Variants {
			b = hfmt.Appendf(b, "  [%d]", i)
			fields(v)
		}
	case drop.KindList:
		b = hfmt.Appendf(b, " %s", pool.String(d.Elem))
	}

	return append(b, '\n')
}

func runAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	if len(c.Args) < 2 {
		return errors.New("usage: run FILE FUNC ARGS...")
	}

	res, err := compiler.CompileFile(ctx, c.Args[0], options(c))
	if err != nil {
		return errors.Wrap(err, "compile %v", c.Args[0])
	}

	m := vm.New(res.Pool, res.Funcs, res.Sigs)
	m.Drops = &res.Drops
	m.Out = os.Stdout

	var args []vm.Value

	for _, a := range c.Args[2:] {
		args = append(args, parseArg(m, a))
	}

	v, err := m.Call(ctx, c.Args[1], args...)
	if err != nil {
		return errors.Wrap(err, "run")
	}

	fmt.Printf("%s\n", m.AppendValue(nil, v))

	err = m.Release(v)
	if err != nil {
		return errors.Wrap(err, "release result")
	}

	err = m.ReleaseBorrowed(c.Args[1], args)
	if err != nil {
		return errors.Wrap(err, "release args")
	}

	fmt.Printf("allocs %d  frees %d  live %d  reuses %d  sets %d\n",
		m.Heap.Allocs, m.Heap.Frees, m.Heap.Live(), m.Stats.Reuses, m.Stats.Sets)

	return nil
}

func parseArg(m *vm.Machine, a string) vm.Value {
	if x, err := strconv.ParseInt(a, 10, 64); err == nil {
		return vm.Int(x)
	}

	if x, err := strconv.ParseFloat(a, 64); err == nil {
		return vm.Float(x)
	}

	switch a {
	case "true":
		return vm.Bool(true)
	case "false":
		return vm.Bool(false)
	}

	return m.Str(a)
}
