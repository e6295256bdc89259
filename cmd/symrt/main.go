package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli"
)

func main() {
	m := NewMain()
	if err := m.Run(os.Args); err != nil {
		fmt.Fprintln(m.Stderr, err)
		os.Exit(1)
	}
}

// Main represents the program execution.
type Main struct {
	Stdout io.Writer
	Stderr io.Writer
}

// NewMain returns a new instance of Main that writes to the standard streams.
func NewMain() *Main {
	return &Main{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Run executes the program with the given process arguments.
func (m *Main) Run(args []string) error {
	return m.App().Run(args)
}

// App returns the command line application.
func (m *Main) App() *cli.App {
	app := cli.NewApp()
	app.Name = "symrt"
	app.Usage = "inspect and maintain concolic execution runtime state"
	app.HideVersion = true
	app.Writer = m.Stdout
	app.ErrWriter = m.Stderr
	app.Commands = []cli.Command{
		NewCountersCommand(m.Stdout).Command(),
	}
	return app
}
