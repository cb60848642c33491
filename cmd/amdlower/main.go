package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/amdlower/compiler"
	"github.com/slowlang/amdlower/compiler/chipset"
	"github.com/slowlang/amdlower/compiler/pass"
)

func main() {
	passFlags := []*cli.Flag{
		cli.NewFlag("chipset,c", "", "target chipset, like gfx90a"),
		cli.NewFlag("index-bitwidth", 64, "index type width: 32 or 64"),
		cli.NewFlag("jobs,j", 0, "functions lowered in parallel (0 is GOMAXPROCS)"),
		cli.NewFlag("locs", false, "print op locations"),
	}

	lowerCmd := &cli.Command{
		Name:        "lower",
		Description: "lower amdgpu ops in IR files to rocdl and llvm",
		Action:      lowerAct,
		Args:        cli.Args{},
		Flags:       passFlags,
	}

	watchCmd := &cli.Command{
		Name:        "watch",
		Description: "lower a file every time it changes",
		Action:      watchAct,
		Args:        cli.Args{},
		Flags:       passFlags,
	}

	chipsetCmd := &cli.Command{
		Name:        "chipset",
		Description: "print features supported by chipsets",
		Action:      chipsetAct,
		Args:        cli.Args{},
	}

	app := &cli.Command{
		Name:        "amdlower",
		Description: "amdlower lowers the amdgpu dialect to rocdl for a chipset",
		Before:      before,
		Flags: []*cli.Flag{
			cli.NewFlag("verbosity,v", "", "logger verbosity topics"),
			cli.HelpFlag,
		},
		Commands: []*cli.Command{
			lowerCmd,
			watchCmd,
			chipsetCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func before(c *cli.Command) error {
	tlog.SetVerbosity(c.String("verbosity"))

	return nil
}

func newLowerer(c *cli.Command) (*compiler.Lowerer, error) {
	return compiler.New(compiler.Config{
		Pass: pass.Options{
			Chipset:       c.String("chipset"),
			IndexBitwidth: c.Int("index-bitwidth"),
			Jobs:          c.Int("jobs"),
		},
		Locs: c.Bool("locs"),
	})
}

func lowerAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	l, err := newLowerer(c)
	if err != nil {
		return err
	}

	for _, a := range c.Args {
		out, err := l.LowerFile(ctx, a)
		os.Stdout.Write(out)

		if err != nil {
			return errors.Wrap(err, "lower %v", a)
		}
	}

	return nil
}

func watchAct(c *cli.Command) (err error) {
	if len(c.Args) != 1 {
		return errors.New("one file expected")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	l, err := newLowerer(c)
	if err != nil {
		return err
	}

	return l.Watch(ctx, c.Args[0], func(out []byte, err error) {
		os.Stdout.Write(out)

		if err != nil {
			fmt.Fprintf(os.Stderr, "lower %v: %v\n", c.Args[0], err)
		}
	})
}

func chipsetAct(c *cli.Command) (err error) {
	for _, a := range c.Args {
		chip, err := chipset.Parse(a)
		if err != nil {
			return errors.Wrap(err, "chipset %q", a)
		}

		fmt.Printf("%v  version %v  wave%d\n", chip, chip.Version(), chip.WaveSize())

		for _, f := range chipset.AllFeatures() {
			since, _ := chipset.MinimumVersion(f)

			fmt.Printf("\t%-26v %-5v  %v (since %v)\n", f, chip.Has(f), chipset.Constraint(f), since)
		}
	}

	return nil
}
