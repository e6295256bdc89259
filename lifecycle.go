package symrt

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"sync/atomic"

	"github.com/benbjohnson/symrt/config"
	"github.com/benbjohnson/symrt/coverage"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// InputPrompt is printed when symbolic input is read from a terminal.
const InputPrompt = "Reading program input until EOF (use Ctrl+D in a terminal)..."

// Options holds the collaborators supplied by the embedding environment.
type Options struct {
	// Constructs the solver once the input file is known. Optional.
	NewSolver func(inputPath, outputDir, aflMap string) (Solver, error)

	// Live coverage map of the program. Optional.
	Map coverage.CoverageMap

	// Source of symbolic input when no input file is configured.
	// Defaults to os.Stdin.
	Stdin *os.File

	// Installs the captured input as the new standard input.
	// Defaults to replacing os.Stdin.
	ReplaceStdin func(f *os.File) error

	// Receives the input prompt. Defaults to os.Stderr.
	Stderr io.Writer

	Logger logrus.FieldLogger
}

// Lifecycle manages one-time initialization and finalization of a Runtime.
type Lifecycle struct {
	initialized atomic.Bool
	finalized   bool

	runtime   *Runtime
	inputPath string
	tempInput string // removed on finalize
}

// Initialized returns true once Initialize has been called.
func (l *Lifecycle) Initialized() bool {
	return l.initialized.Load()
}

// Runtime returns the initialized runtime, if any.
func (l *Lifecycle) Runtime() *Runtime {
	return l.runtime
}

// InputPath returns the path of the file holding the symbolic input.
func (l *Lifecycle) InputPath() string {
	return l.inputPath
}

// Initialize builds the runtime from cfg. Only the first call performs any
// work; later calls return ErrAlreadyInitialized. Work after the first call
// wins is not synchronized, so callers must not use the runtime until the
// winning call returns.
func (l *Lifecycle) Initialize(cfg config.Config, opts Options) (*Runtime, error) {
	if !l.initialized.CompareAndSwap(false, true) {
		return nil, ErrAlreadyInitialized
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("component", "lifecycle")

	if cfg.FullyConcrete {
		logger.Info("performing fully concrete execution (i.e., without symbolic input)")
		l.runtime = NewConcreteRuntime()
		l.runtime.Logger = logger
		return l.runtime, nil
	}

	// Generated inputs are written to the output directory.
	if fi, err := os.Stat(cfg.OutputDir); err != nil || !fi.IsDir() {
		return nil, errors.Wrapf(ErrOutputDirMissing, "%s (configurable via SYMCC_OUTPUT_DIR)", cfg.OutputDir)
	}

	if cfg.InputFile != "" {
		l.inputPath = cfg.InputFile
		logger.Infof("making data read from %s as symbolic", cfg.InputFile)
	} else if err := l.captureInput(opts); err != nil {
		return nil, err
	}

	r := NewRuntime()
	r.Logger = logger.WithField("component", "runtime")
	r.GCThreshold = cfg.GCThreshold
	if n := cfg.MaxContextHits; n > 0 && n < 0xFF {
		r.Tracker.MaxHits = uint8(n)
	}
	if cfg.Pruning {
		r.EnablePruning()
	}

	r.Policy = coverage.NewPolicy(cfg.CountersFile, opts.Map)
	r.Policy.ForceSave = cfg.ForceSave
	r.Policy.Logger = logger.WithField("component", "coverage")

	if opts.NewSolver != nil {
		s, err := opts.NewSolver(l.inputPath, cfg.OutputDir, cfg.AFLCoverageMap)
		if err != nil {
			l.removeTempInput()
			return nil, errors.Wrap(err, "new solver")
		}
		r.Solver = s
	}

	l.runtime = r
	return r, nil
}

// captureInput copies all of standard input into a temporary file and
// installs that file as the new standard input.
func (l *Lifecycle) captureInput(opts Options) error {
	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	if isTerminal(stdin) {
		fmt.Fprintln(stderr, InputPrompt)
	}

	f, err := ioutil.TempFile("", "symrt-input-")
	if err != nil {
		return errors.Wrap(err, "create input file")
	}
	l.tempInput, l.inputPath = f.Name(), f.Name()

	if _, err := io.Copy(f, stdin); err != nil {
		f.Close()
		l.removeTempInput()
		return errors.Wrap(err, "capture standard input")
	} else if err := f.Close(); err != nil {
		l.removeTempInput()
		return errors.Wrap(err, "close input file")
	}

	// Restore some semblance of standard input.
	newStdin, err := os.Open(l.inputPath)
	if err != nil {
		l.removeTempInput()
		return &ReopenInputError{Op: "open", Err: err}
	}

	replace := opts.ReplaceStdin
	if replace == nil {
		replace = func(f *os.File) error { os.Stdin = f; return nil }
	}
	if err := replace(newStdin); err != nil {
		newStdin.Close()
		l.removeTempInput()
		return &ReopenInputError{Op: "replace", Err: err}
	}
	return nil
}

// ReopenInputError is returned when the captured input cannot be installed
// as standard input. Its cause is ErrReopenInput and it unwraps to the
// underlying OS error.
type ReopenInputError struct {
	Op  string
	Err error
}

func (e *ReopenInputError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrReopenInput, e.Op, e.Err)
}

func (e *ReopenInputError) Cause() error  { return ErrReopenInput }
func (e *ReopenInputError) Unwrap() error { return e.Err }

// Is reports whether target is ErrReopenInput.
func (e *ReopenInputError) Is(target error) bool { return target == ErrReopenInput }

func (l *Lifecycle) removeTempInput() {
	if l.tempInput != "" {
		os.Remove(l.tempInput)
		l.tempInput = ""
	}
}

// Finalize persists coverage counters, closes the solver and removes the
// captured input. Only the first call has any effect.
func (l *Lifecycle) Finalize() error {
	if l.finalized {
		return nil
	}
	l.finalized = true
	defer l.removeTempInput()

	r := l.runtime
	if r == nil || r.Concrete() {
		return nil
	}

	var err error
	if r.Policy != nil {
		if e := r.Policy.Finalize(); e != nil {
			err = errors.Wrap(e, "finalize coverage")
		}
	}
	if r.Solver != nil {
		if e := r.Solver.Close(); e != nil && err == nil {
			err = errors.Wrap(e, "close solver")
		}
	}
	return err
}
