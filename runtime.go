package symrt

import (
	"time"

	"github.com/benbjohnson/symrt/callctx"
	"github.com/benbjohnson/symrt/coverage"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

// MaxExprStringLen is the maximum length of a rendered expression.
const MaxExprStringLen = 4095

// Solver represents the constraint solving service.
type Solver interface {
	// Opens and closes a scope of assertions.
	Push()
	Pop()

	// Adds an assertion to the current scope.
	Assert(expr Expr) error

	// Returns the satisfiability of the current assertions.
	Check() (bool, error)

	// Submits a branch decision for the current path. When shouldSave is
	// set the solver may persist inputs that take the other direction.
	AddJcc(constraint Expr, taken bool, siteID uint64, shouldSave bool) error

	Close() error
}

// RootScanner reports handles that are still referenced by program state.
type RootScanner interface {
	ScanRoots(mark func(Handle))
}

// RootScannerFunc adapts a function to the RootScanner interface.
type RootScannerFunc func(mark func(Handle))

// ScanRoots calls fn(mark).
func (fn RootScannerFunc) ScanRoots(mark func(Handle)) { fn(mark) }

// Runtime holds the state of one symbolic execution and implements the
// operations called by instrumented code. It is not safe for concurrent use.
type Runtime struct {
	store    *Store
	symbolic *SymbolicBuilder
	scanners []RootScanner
	concrete bool // fully concrete execution

	// Builder used for all expression construction.
	Builder ExprBuilder

	// Call-stack context of the instrumented program.
	Tracker *callctx.Tracker

	// Coverage feedback for branch constraints. Optional.
	Policy *coverage.Policy

	// Used for feasibility checks and branch submission. Optional.
	Solver Solver

	// Collection is skipped while fewer expressions are registered.
	GCThreshold int

	// Width of pointers in the instrumented program.
	PointerWidth uint

	Logger logrus.FieldLogger
}

// NewRuntime returns a new instance of Runtime using the symbolic builder.
func NewRuntime() *Runtime {
	r := &Runtime{
		store:        NewStore(),
		symbolic:     NewSymbolicBuilder(),
		Tracker:      callctx.NewTracker(),
		PointerWidth: Width64,
		Logger:       logrus.StandardLogger(),
	}
	r.Builder = r.symbolic
	return r
}

// NewConcreteRuntime returns a runtime that tracks nothing symbolically.
// Every builder operation returns Null.
func NewConcreteRuntime() *Runtime {
	r := NewRuntime()
	r.concrete = true
	return r
}

// EnablePruning wraps the builder so that compound expressions stop being
// built in call contexts that have been hit too often.
func (r *Runtime) EnablePruning() {
	r.Builder = NewPruneBuilder(r.symbolic, r.Tracker)
}

// Concrete returns true if the runtime performs fully concrete execution.
func (r *Runtime) Concrete() bool { return r.concrete }

// Store returns the expression store.
func (r *Runtime) Store() *Store { return r.store }

// AddRootScanner registers a source of reachable handles for collection.
func (r *Runtime) AddRootScanner(s RootScanner) {
	r.scanners = append(r.scanners, s)
}

// Expr returns the expression registered for h. Returns nil for Null.
func (r *Runtime) Expr(h Handle) Expr {
	return r.store.Get(h)
}

// register stores expr and returns its handle.
func (r *Runtime) register(expr Expr) Handle {
	return r.store.Register(expr)
}

// BuildInteger returns a constant of the given width.
func (r *Runtime) BuildInteger(value uint64, bits uint8) Handle {
	if r.concrete {
		return Null
	}
	return r.register(r.Builder.Constant(uint256.NewInt(value), uint(bits)))
}

// BuildInteger128 returns a 128-bit constant from its high and low words.
func (r *Runtime) BuildInteger128(high, low uint64) Handle {
	if r.concrete {
		return Null
	}
	return r.register(r.Builder.Constant(&NewConstantExpr128(high, low).Value, Width128))
}

// BuildNullPointer returns a zero constant of pointer width.
func (r *Runtime) BuildNullPointer() Handle {
	if r.concrete {
		return Null
	}
	return r.register(r.Builder.Constant(new(uint256.Int), r.PointerWidth))
}

// BuildTrue returns the boolean constant true.
func (r *Runtime) BuildTrue() Handle { return r.BuildBool(true) }

// BuildFalse returns the boolean constant false.
func (r *Runtime) BuildFalse() Handle { return r.BuildBool(false) }

// BuildBool returns a boolean constant.
func (r *Runtime) BuildBool(value bool) Handle {
	if r.concrete {
		return Null
	}
	return r.register(r.Builder.Bool(value))
}

// BuildBinary returns the result of op applied to a & b.
// Comparisons return a boolean.
func (r *Runtime) BuildBinary(op BinaryOp, a, b Handle) Handle {
	if r.concrete {
		return Null
	}
	return r.register(r.Builder.Binary(op, r.store.Get(a), r.store.Get(b)))
}

// BuildNot returns the bitwise negation of h. For booleans this is logical not.
func (r *Runtime) BuildNot(h Handle) Handle {
	if r.concrete {
		return Null
	}
	return r.register(r.Builder.Not(r.store.Get(h)))
}

// BuildNeg returns the two's complement negation of h.
func (r *Runtime) BuildNeg(h Handle) Handle {
	if r.concrete {
		return Null
	}
	return r.register(r.Builder.Neg(r.store.Get(h)))
}

// BuildSExt sign-extends h by delta bits.
func (r *Runtime) BuildSExt(h Handle, delta uint8) Handle {
	return r.buildExt(h, delta, true)
}

// BuildZExt zero-extends h by delta bits.
func (r *Runtime) BuildZExt(h Handle, delta uint8) Handle {
	return r.buildExt(h, delta, false)
}

func (r *Runtime) buildExt(h Handle, delta uint8, signed bool) Handle {
	if r.concrete {
		return Null
	}
	expr := r.store.Get(h)
	if expr == nil {
		return Null
	}
	return r.register(r.Builder.Cast(expr, ExprWidth(expr)+uint(delta), signed))
}

// BuildTrunc truncates h to bits.
func (r *Runtime) BuildTrunc(h Handle, bits uint8) Handle {
	if r.concrete {
		return Null
	}
	return r.register(r.Builder.Trunc(r.store.Get(h), uint(bits)))
}

// GetInputByte returns the symbolic input byte at offset.
func (r *Runtime) GetInputByte(offset uint64) Handle {
	if r.concrete {
		return Null
	}
	return r.register(r.Builder.Read(offset))
}

// BuildConcat returns the concatenation of a (most significant) and b.
func (r *Runtime) BuildConcat(a, b Handle) Handle {
	if r.concrete {
		return Null
	}
	return r.register(r.Builder.Concat(r.store.Get(a), r.store.Get(b)))
}

// CheckExtract validates an inclusive bit range for BuildExtract.
func CheckExtract(firstBit, lastBit uint) error {
	if firstBit < lastBit {
		return ErrInvalidExtract
	}
	return nil
}

// BuildExtract returns the bits from lastBit to firstBit of h, inclusive.
// Returns Null if firstBit is below lastBit.
func (r *Runtime) BuildExtract(h Handle, firstBit, lastBit uint) Handle {
	if r.concrete {
		return Null
	} else if err := CheckExtract(firstBit, lastBit); err != nil {
		r.Logger.WithError(err).Debugf("extract [%d:%d]", firstBit, lastBit)
		return Null
	}
	return r.register(r.Builder.Extract(r.store.Get(h), lastBit, firstBit-lastBit+1))
}

// Bits returns the width of h. Returns 0 for Null.
func (r *Runtime) Bits(h Handle) uint {
	expr := r.store.Get(h)
	if expr == nil {
		return 0
	}
	return ExprWidth(expr)
}

// BuildBoolToBits converts the boolean h into a 0/1 value of the given width.
func (r *Runtime) BuildBoolToBits(h Handle, bits uint8) Handle {
	if r.concrete {
		return Null
	}
	return r.register(r.Builder.BoolToBits(r.store.Get(h), uint(bits)))
}

// BuildFloat returns Null. Floating point is not tracked symbolically.
func (r *Runtime) BuildFloat(value float64, isDouble bool) Handle { return Null }

// BuildFloatOp returns Null for any floating-point operation.
func (r *Runtime) BuildFloatOp(operands ...Handle) Handle { return Null }

// PushPathConstraint records the branch decision for constraint h.
// A Null constraint is dropped.
func (r *Runtime) PushPathConstraint(h Handle, taken bool, siteID uint64) {
	expr := r.store.Get(h)
	if expr == nil || r.Solver == nil {
		return
	}

	r.Tracker.Update()
	shouldSave := true
	if r.Policy != nil {
		shouldSave = r.Policy.ShouldSave()
	}

	site := siteID ^ r.Tracker.Context()
	if err := r.Solver.AddJcc(expr, taken, site, shouldSave); err != nil {
		r.Logger.WithError(err).WithField("site", siteID).Warn("cannot submit path constraint")
	}
}

// NotifyCall records a call made at siteID.
func (r *Runtime) NotifyCall(siteID uint64) { r.Tracker.VisitCall(siteID) }

// NotifyRet records a return from the current call.
func (r *Runtime) NotifyRet(siteID uint64) { r.Tracker.VisitRet(siteID) }

// NotifyBasicBlock records entry into the basic block siteID.
func (r *Runtime) NotifyBasicBlock(siteID uint64) { r.Tracker.VisitBasicBlock(siteID) }

// ExprToString renders h for debugging, truncated to MaxExprStringLen bytes.
func (r *Runtime) ExprToString(h Handle) string {
	return FormatExpr(r.store.Get(h), MaxExprStringLen)
}

// Feasible returns true if the constraint h is satisfiable under the
// current path. Solver state is unchanged on return.
func (r *Runtime) Feasible(h Handle) bool {
	expr := r.store.Get(h)
	if expr == nil || r.Solver == nil {
		return false
	}

	r.Solver.Push()
	defer r.Solver.Pop()

	if err := r.Solver.Assert(expr); err != nil {
		r.Logger.WithError(err).Warn("feasibility assert failed")
		return false
	}
	sat, err := r.Solver.Check()
	if err != nil {
		r.Logger.WithError(err).Warn("feasibility check failed")
		return false
	}
	return sat
}

// CollectGarbage drops every registration not reported by a root scanner.
// Does nothing while the store holds fewer than GCThreshold expressions.
func (r *Runtime) CollectGarbage() {
	if r.store.Len() < r.GCThreshold {
		return
	}

	t := time.Now()
	reachable := make(map[Handle]struct{})
	mark := func(h Handle) {
		if h != Null {
			reachable[h] = struct{}{}
		}
	}
	for _, s := range r.scanners {
		s.ScanRoots(mark)
	}

	n := r.store.Sweep(reachable)
	r.symbolic.Prune(r.store.Contains)

	r.Logger.WithFields(logrus.Fields{
		"swept":     n,
		"remaining": r.store.Len(),
		"elapsed":   time.Since(t),
	}).Debug("garbage collection")
}
