package z3

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"time"

	"github.com/benbjohnson/symrt"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

/*
#include <z3.h>
*/
import "C"

// Ensure solver implements interface.
var _ symrt.Solver = (*Solver)(nil)

// Solver represents a solver that uses an embedded Z3 solver. Assertions
// accumulate along the current execution path.
type Solver struct {
	ctx    *Context
	solver C.Z3_solver
	stats  Stats

	input     []byte              // original program input
	outputDir string              // receives generated inputs; empty disables output
	reads     map[uint64]struct{} // input offsets referenced by assertions
	trace     *traceMap
	aflMap    string

	Logger logrus.FieldLogger
}

// NewSolver returns a new instance of Solver that does not generate inputs.
func NewSolver() *Solver {
	ctx := NewContext()
	solver := C.Z3_mk_solver(ctx.raw)
	C.Z3_solver_inc_ref(ctx.raw, solver)

	return &Solver{
		ctx:    ctx,
		solver: solver,
		reads:  make(map[uint64]struct{}),
		trace:  newTraceMap(),
		Logger: logrus.StandardLogger(),
	}
}

// Open returns a solver that negates branches of the execution on inputPath
// and writes satisfying inputs to outputDir. If aflMap is set, it names an
// AFL bitmap of edges that are already covered.
func Open(inputPath, outputDir, aflMap string) (*Solver, error) {
	input, err := ioutil.ReadFile(inputPath)
	if err != nil {
		return nil, errors.Wrap(err, "read input")
	}

	s := NewSolver()
	s.input = input
	s.outputDir = outputDir
	s.aflMap = aflMap

	if aflMap != "" {
		if err := s.trace.load(aflMap); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close deletes the solver and the underlying Z3 context. The AFL bitmap,
// if any, is updated with edges visited during execution.
func (s *Solver) Close() (err error) {
	if s.aflMap != "" && s.trace.dirty {
		err = s.trace.save(s.aflMap)
	}
	C.Z3_solver_dec_ref(s.ctx.raw, s.solver)
	if e := s.ctx.Close(); e != nil && err == nil {
		err = e
	}
	return err
}

// Stats returns statistics for the solver.
func (s *Solver) Stats() Stats {
	return s.stats
}

// Push opens a new assertion scope.
func (s *Solver) Push() {
	C.Z3_solver_push(s.ctx.raw, s.solver)
}

// Pop discards all assertions since the matching Push.
func (s *Solver) Pop() {
	C.Z3_solver_pop(s.ctx.raw, s.solver, 1)
}

// Assert adds a boolean expression to the current scope.
func (s *Solver) Assert(expr symrt.Expr) error {
	if w := symrt.ExprWidth(expr); w != symrt.WidthBool {
		return fmt.Errorf("z3: cannot assert expression of width %d", w)
	}
	ast, err := s.ctx.translate(expr)
	if err != nil {
		return err
	}
	return s.assertAST(ast)
}

func (s *Solver) assertAST(ast C.Z3_ast) error {
	C.Z3_solver_assert(s.ctx.raw, s.solver, ast)
	return s.ctx.err("Z3_solver_assert")
}

// Check returns the satisfiability of the current assertions.
func (s *Solver) Check() (bool, error) {
	t := time.Now()
	defer func() {
		s.stats.CheckN++
		s.stats.CheckTime += time.Since(t)
	}()

	ret := C.Z3_solver_check(s.ctx.raw, s.solver)
	if err := s.ctx.err("Z3_solver_check"); err != nil {
		return false, err
	}
	return s.ctx.checkResult(s.solver, ret)
}

// AddJcc records the branch decision on constraint. When shouldSave is set
// and the branch edge is new, the opposite direction is solved under the
// current path and a satisfying input is written to the output directory.
// The taken direction is then added to the path.
func (s *Solver) AddJcc(constraint symrt.Expr, taken bool, siteID uint64, shouldSave bool) error {
	if w := symrt.ExprWidth(constraint); w != symrt.WidthBool {
		return fmt.Errorf("z3: branch constraint has width %d", w)
	}
	s.stats.JccN++

	// A constant branch carries no information about the input.
	if symrt.IsConstantExpr(constraint) {
		return nil
	}

	ast, err := s.ctx.translate(constraint)
	if err != nil {
		return err
	}
	negated, err := s.ctx.makeNot(ast)
	if err != nil {
		return err
	}

	for _, offset := range symrt.FindReads(constraint) {
		s.reads[offset] = struct{}{}
	}

	if shouldSave && s.trace.isInterestingBranch(siteID, taken) {
		opposite := negated
		if !taken {
			opposite = ast
		}
		if err := s.negatePath(constraint, taken, opposite); err != nil {
			s.Logger.WithError(err).WithField("site", siteID).Debug("cannot negate branch")
		}
	}

	// Follow the branch that was actually taken.
	if taken {
		return s.assertAST(ast)
	}
	return s.assertAST(negated)
}

// negatePath solves for the branch not taken and saves the resulting input.
func (s *Solver) negatePath(constraint symrt.Expr, taken bool, opposite C.Z3_ast) error {
	if s.outputDir == "" {
		return nil
	}

	s.Push()
	defer s.Pop()

	if err := s.assertAST(opposite); err != nil {
		return err
	}
	sat, err := s.Check()
	if err != nil {
		return err
	} else if !sat {
		s.Logger.WithField("constraint", s.ctx.astToString(opposite)).Debug("branch cannot be negated")
		return nil
	}

	model := C.Z3_solver_get_model(s.ctx.raw, s.solver)
	if err := s.ctx.err("Z3_solver_get_model"); err != nil {
		return err
	}
	C.Z3_model_inc_ref(s.ctx.raw, model)
	defer C.Z3_model_dec_ref(s.ctx.raw, model)

	input, err := s.newInput(model)
	if err != nil {
		return err
	}

	// The new input must drive the branch the other way.
	want := symrt.NewBinaryExpr(symrt.EQ, symrt.NewBoolConstantExpr(!taken), constraint)
	if v, err := symrt.NewExprEvaluator(input).Evaluate(want); err != nil {
		return err
	} else if !v.IsTrue() {
		s.Logger.WithField("model", s.ctx.modelToString(model)).Warn("generated input does not flip branch")
		return nil
	}
	return s.saveInput(input)
}

// newInput returns the original input with every referenced offset
// replaced by its value in model.
func (s *Solver) newInput(model C.Z3_model) ([]byte, error) {
	input := make([]byte, len(s.input))
	copy(input, s.input)

	for offset := range s.reads {
		value, err := s.ctx.evalInputByte(model, offset)
		if err != nil {
			return nil, err
		}
		for uint64(len(input)) <= offset {
			input = append(input, 0)
		}
		input[offset] = value
	}
	return input, nil
}

// saveInput writes input as the next generated test case.
func (s *Solver) saveInput(input []byte) error {
	path := filepath.Join(s.outputDir, fmt.Sprintf("%06d", s.stats.GeneratedN))
	if err := ioutil.WriteFile(path, input, 0666); err != nil {
		return errors.Wrap(err, "write test case")
	}
	s.stats.GeneratedN++
	s.Logger.WithField("path", path).Debug("generated test case")
	return nil
}

// Generated returns the paths of test cases written so far.
func (s *Solver) Generated() []string {
	a := make([]string, 0, s.stats.GeneratedN)
	for i := 0; i < s.stats.GeneratedN; i++ {
		a = append(a, filepath.Join(s.outputDir, fmt.Sprintf("%06d", i)))
	}
	return a
}
