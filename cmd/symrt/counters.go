package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/benbjohnson/symrt/coverage"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

// CountersCommand represents a command for working with coverage counter files.
type CountersCommand struct {
	w io.Writer
}

// NewCountersCommand returns a new instance of CountersCommand.
func NewCountersCommand(w io.Writer) *CountersCommand {
	return &CountersCommand{w: w}
}

// Command returns the "counters" command and its subcommands.
func (cmd *CountersCommand) Command() cli.Command {
	return cli.Command{
		Name:  "counters",
		Usage: "inspect and merge coverage counter files",
		Subcommands: []cli.Command{
			{
				Name:      "show",
				Usage:     "print the non-zero counters of a file",
				ArgsUsage: "FILE",
				Action:    cmd.show,
			},
			{
				Name:      "merge",
				Usage:     "merge counter files into DST, keeping the maximum per position",
				ArgsUsage: "DST SRC...",
				Action:    cmd.merge,
			},
			{
				Name:      "diff",
				Usage:     "print positions where NEW exceeds OLD",
				ArgsUsage: "OLD NEW",
				Action:    cmd.diff,
			},
		},
	}
}

func (cmd *CountersCommand) show(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: symrt counters show FILE")
	}

	counters, err := readCountersFile(c.Args().First())
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "POSITION\tCOUNT")
	for i, v := range counters {
		if v != 0 {
			fmt.Fprintf(tw, "%d\t%d\n", i, v)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.w, "\n%d of %d positions covered\n", counters.NonZero(), len(counters))
	return nil
}

func (cmd *CountersCommand) merge(c *cli.Context) error {
	if c.NArg() < 2 {
		return errors.New("usage: symrt counters merge DST SRC...")
	}

	dst := c.Args().First()
	var merged coverage.Counters
	for _, path := range c.Args().Tail() {
		src, err := readCountersFile(path)
		if err != nil {
			return err
		}
		if merged, err = coverage.MergeCountersFile(dst, src); err != nil {
			return errors.Wrapf(err, "merge %s", path)
		}
	}

	fmt.Fprintf(cmd.w, "%s: %d of %d positions covered\n", dst, merged.NonZero(), len(merged))
	return nil
}

func (cmd *CountersCommand) diff(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("usage: symrt counters diff OLD NEW")
	}

	prev, err := coverage.ReadCountersFile(c.Args().Get(0))
	if err != nil {
		return err
	}
	next, err := readCountersFile(c.Args().Get(1))
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "POSITION\tOLD\tNEW")
	var n int
	for i, v := range next {
		var old uint8
		if i < len(prev) {
			old = prev[i]
		}
		if v > old {
			fmt.Fprintf(tw, "%d\t%d\t%d\n", i, old, v)
			n++
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.w, "\n%d novel positions\n", n)
	return nil
}

// readCountersFile reads counters from path. Unlike the runtime, a missing
// file is an error here.
func readCountersFile(path string) (coverage.Counters, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return coverage.ReadCountersFile(path)
}
