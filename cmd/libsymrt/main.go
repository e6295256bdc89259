// Command libsymrt builds the runtime as a shared library that instrumented
// programs link against:
//
//	go build -buildmode=c-shared -o libsymrt.so ./cmd/libsymrt
package main

/*
#cgo CFLAGS: -O2
#include <stdlib.h>
#include "hooks.h"
*/
import "C"

import (
	"os"
	"unsafe"

	"github.com/benbjohnson/symrt"
	"github.com/benbjohnson/symrt/config"
	"github.com/benbjohnson/symrt/z3"
	"github.com/sirupsen/logrus"
)

func main() {}

var (
	lifecycle symrt.Lifecycle
	rt        *symrt.Runtime
	logger    logrus.FieldLogger = logrus.StandardLogger()

	// Set while a root scan is in progress.
	marking func(symrt.Handle)

	// Backs the string returned by _sym_expr_to_string.
	exprString = (*C.char)(C.malloc(symrt.MaxExprStringLen + 1))
)

// current returns the process runtime, initializing it on first use.
func current() *symrt.Runtime {
	if rt == nil {
		initialize()
	}
	return rt
}

// initialize builds the process runtime from the environment. Configuration
// errors terminate the process.
func initialize() {
	cfg, err := config.Load()
	if err != nil {
		fatal(err)
	}

	l, err := symrt.NewLogger(cfg.LogLevel, os.Stderr)
	if err != nil {
		fatal(err)
	}
	logger = l
	logger.Info("symrt running with the z3 backend")

	r, err := lifecycle.Initialize(cfg, symrt.Options{
		NewSolver: func(inputPath, outputDir, aflMap string) (symrt.Solver, error) {
			s, err := z3.Open(inputPath, outputDir, aflMap)
			if err != nil {
				return nil, err
			}
			s.Logger = l.WithField("component", "solver")
			return s, nil
		},
		Map:          permMap{},
		ReplaceStdin: replaceStdin,
		Logger:       l,
	})
	if err == symrt.ErrAlreadyInitialized {
		return
	} else if err != nil {
		fatal(err)
	}

	r.AddRootScanner(symrt.RootScannerFunc(scanRoots))
	rt = r
}

// fatal logs err and exits the process.
func fatal(err error) {
	logger.WithError(err).Error("symrt: fatal error")
	os.Exit(1)
}

// permMap exposes the live coverage map of the instrumented program.
type permMap struct{}

func (permMap) Bytes() []byte {
	start, end := C.get_perm_start(), C.get_perm_end()
	if start == nil || end == nil || uintptr(unsafe.Pointer(end)) <= uintptr(unsafe.Pointer(start)) {
		return nil
	}
	n := uintptr(unsafe.Pointer(end)) - uintptr(unsafe.Pointer(start))
	return unsafe.Slice((*byte)(unsafe.Pointer(start)), n)
}

// scanRoots asks the shadow-memory subsystem for every handle it references.
func scanRoots(mark func(symrt.Handle)) {
	marking = mark
	defer func() { marking = nil }()
	C.symrt_scan_roots()
}

//export symrtMarkReachable
func symrtMarkReachable(h C.SymExpr) {
	if marking != nil {
		marking(symrt.Handle(h))
	}
}

//export _sym_finalize
func _sym_finalize() {
	if err := lifecycle.Finalize(); err != nil {
		logger.WithError(err).Error("finalize")
	}
}
