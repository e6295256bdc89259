package symrt

import (
	"errors"
	"fmt"
)

// Standard widths.
const (
	WidthBool = 1
	Width8    = 8
	Width16   = 16
	Width32   = 32
	Width64   = 64
	Width128  = 128

	// MaxWidth is the widest bit-vector a constant can carry.
	MaxWidth = 256
)

var (
	ErrSolverTimeout       = errors.New("Solver timeout")
	ErrSolverCanceled      = errors.New("Solver canceled")
	ErrSolverResourceLimit = errors.New("Solver resource limit")
	ErrSolverUnknown       = errors.New("Solver unknown error")
)

var (
	ErrOutputDirMissing   = errors.New("symrt: output directory does not exist")
	ErrReopenInput        = errors.New("symrt: failed to reopen standard input")
	ErrAlreadyInitialized = errors.New("symrt: runtime already initialized")
	ErrInvalidExtract     = errors.New("symrt: extract first bit is below last bit")
)

// Handle is the opaque identifier of a registered expression. It is the only
// representation of an expression handed to instrumented code.
type Handle uint64

// Null is the handle of "no symbolic value".
const Null Handle = 0

// assert panics if condition is false.
func assert(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("assert: "+format, args...))
	}
}
