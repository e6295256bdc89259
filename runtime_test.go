package symrt_test

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/benbjohnson/symrt"
	"github.com/benbjohnson/symrt/coverage"
	"github.com/davecgh/go-spew/spew"
	"github.com/google/go-cmp/cmp"
)

func TestRuntime_BuildInteger(t *testing.T) {
	r := symrt.NewRuntime()
	for _, bits := range []uint8{1, 8, 16, 32, 64} {
		max := ^uint64(0) >> (64 - bits)
		for _, v := range []uint64{0, max} {
			h := r.BuildInteger(v, bits)
			c, ok := r.Expr(h).(*symrt.ConstantExpr)
			if !ok {
				t.Fatalf("unexpected expr: %s", spew.Sdump(r.Expr(h)))
			} else if c.Width != uint(bits) || c.Uint64() != v {
				t.Fatalf("unexpected constant for %d/%d: %s", v, bits, c)
			}
		}
	}

	t.Run("Width128", func(t *testing.T) {
		h := r.BuildInteger128(^uint64(0), 1)
		if diff := cmp.Diff(symrt.NewConstantExpr128(^uint64(0), 1), r.Expr(h)); diff != "" {
			t.Fatal(diff)
		} else if r.Bits(h) != 128 {
			t.Fatalf("unexpected width: %d", r.Bits(h))
		}
	})

	t.Run("NullPointer", func(t *testing.T) {
		h := r.BuildNullPointer()
		if diff := cmp.Diff(symrt.NewConstantExpr64(0), r.Expr(h)); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Bool", func(t *testing.T) {
		if !symrt.IsConstantTrue(r.Expr(r.BuildTrue())) {
			t.Fatal("expected true")
		} else if !symrt.IsConstantFalse(r.Expr(r.BuildFalse())) {
			t.Fatal("expected false")
		}
	})
}

func TestRuntime_Width(t *testing.T) {
	r := symrt.NewRuntime()
	x := r.BuildConcat(r.GetInputByte(1), r.GetInputByte(0))

	t.Run("SExt", func(t *testing.T) {
		if n := r.Bits(r.BuildSExt(x, 16)); n != 32 {
			t.Fatalf("unexpected width: %d", n)
		}
	})
	t.Run("ZExt", func(t *testing.T) {
		if n := r.Bits(r.BuildZExt(x, 48)); n != 64 {
			t.Fatalf("unexpected width: %d", n)
		}
	})
	t.Run("Trunc", func(t *testing.T) {
		if n := r.Bits(r.BuildTrunc(x, 8)); n != 8 {
			t.Fatalf("unexpected width: %d", n)
		}
	})
	t.Run("Extract", func(t *testing.T) {
		if n := r.Bits(r.BuildExtract(x, 11, 4)); n != 8 {
			t.Fatalf("unexpected width: %d", n)
		} else if n := r.Bits(r.BuildExtract(x, 3, 3)); n != 1 {
			t.Fatalf("unexpected width: %d", n)
		}
	})
	t.Run("ExtractInvalid", func(t *testing.T) {
		if h := r.BuildExtract(x, 3, 4); h != symrt.Null {
			t.Fatalf("unexpected handle: %d", h)
		} else if err := symrt.CheckExtract(3, 4); err != symrt.ErrInvalidExtract {
			t.Fatalf("unexpected error: %v", err)
		}
	})
	t.Run("Compare", func(t *testing.T) {
		if n := r.Bits(r.BuildBinary(symrt.ULT, x, r.BuildInteger(5, 16))); n != 1 {
			t.Fatalf("unexpected width: %d", n)
		}
	})
	t.Run("BoolToBits", func(t *testing.T) {
		cond := r.BuildBinary(symrt.EQ, x, r.BuildInteger(5, 16))
		if n := r.Bits(r.BuildBoolToBits(cond, 32)); n != 32 {
			t.Fatalf("unexpected width: %d", n)
		}
	})
	t.Run("Null", func(t *testing.T) {
		if n := r.Bits(symrt.Null); n != 0 {
			t.Fatalf("unexpected width: %d", n)
		} else if h := r.BuildSExt(symrt.Null, 8); h != symrt.Null {
			t.Fatalf("unexpected handle: %d", h)
		} else if h := r.BuildBinary(symrt.ADD, x, symrt.Null); h != symrt.Null {
			t.Fatalf("unexpected handle: %d", h)
		}
	})
	t.Run("WideZExt", func(t *testing.T) {
		h := r.BuildZExt(r.BuildInteger128(1, 2), 200)
		if n := r.Bits(h); n != 328 {
			t.Fatalf("unexpected width: %d", n)
		} else if n := r.Bits(r.BuildNeg(h)); n != 328 {
			t.Fatalf("unexpected width: %d", n)
		} else if n := r.Bits(r.BuildTrunc(h, 64)); n != 64 {
			t.Fatalf("unexpected width: %d", n)
		}
	})
	t.Run("WideSExt", func(t *testing.T) {
		if n := r.Bits(r.BuildSExt(r.BuildInteger(1, 255), 255)); n != 510 {
			t.Fatalf("unexpected width: %d", n)
		}
	})
	t.Run("WideConcat", func(t *testing.T) {
		h := r.BuildConcat(r.BuildInteger(1, 255), r.BuildInteger(7, 8))
		if n := r.Bits(h); n != 263 {
			t.Fatalf("unexpected width: %d", n)
		} else if s := r.ExprToString(h); s == "" {
			t.Fatal("expected expression string")
		}
	})
}

func TestRuntime_BuildFloat(t *testing.T) {
	r := symrt.NewRuntime()
	if h := r.BuildFloat(1.5, true); h != symrt.Null {
		t.Fatalf("unexpected handle: %d", h)
	} else if h := r.BuildFloatOp(r.GetInputByte(0)); h != symrt.Null {
		t.Fatalf("unexpected handle: %d", h)
	}
}

func TestRuntime_Concrete(t *testing.T) {
	r := symrt.NewConcreteRuntime()
	if !r.Concrete() {
		t.Fatal("expected concrete runtime")
	}
	for _, h := range []symrt.Handle{
		r.BuildInteger(1, 8),
		r.BuildInteger128(1, 2),
		r.BuildBool(true),
		r.GetInputByte(0),
		r.BuildNullPointer(),
	} {
		if h != symrt.Null {
			t.Fatalf("unexpected handle: %d", h)
		}
	}
	if n := r.Store().Len(); n != 0 {
		t.Fatalf("unexpected store size: %d", n)
	}
}

func TestRuntime_PushPathConstraint(t *testing.T) {
	t.Run("Null", func(t *testing.T) {
		r := symrt.NewRuntime()
		s := &mockSolver{}
		r.Solver = s
		r.PushPathConstraint(symrt.Null, true, 1)
		if len(s.jccs) != 0 {
			t.Fatalf("unexpected jccs: %s", spew.Sdump(s.jccs))
		}
	})

	t.Run("FirstRun", func(t *testing.T) {
		r := symrt.NewRuntime()
		s := &mockSolver{}
		r.Solver = s
		r.Policy = coverage.NewPolicy(filepath.Join(t.TempDir(), "counters"), coverage.StaticMap{0, 1, 0})

		cond := r.BuildBinary(symrt.EQ, r.GetInputByte(0), r.BuildInteger('A', 8))
		r.PushPathConstraint(cond, false, 42)
		if len(s.jccs) != 1 {
			t.Fatalf("unexpected jccs: %s", spew.Sdump(s.jccs))
		} else if jcc := s.jccs[0]; jcc.expr != r.Expr(cond) || jcc.taken || !jcc.shouldSave {
			t.Fatalf("unexpected jcc: %s", spew.Sdump(jcc))
		}
	})

	t.Run("NotNovel", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "counters")
		if err := coverage.WriteCountersFile(path, coverage.Counters{1, 1}); err != nil {
			t.Fatal(err)
		}

		r := symrt.NewRuntime()
		s := &mockSolver{}
		r.Solver = s
		r.Policy = coverage.NewPolicy(path, coverage.StaticMap{1, 0})

		r.PushPathConstraint(r.BuildBinary(symrt.ULT, r.GetInputByte(0), r.BuildInteger(3, 8)), true, 1)
		if len(s.jccs) != 1 || s.jccs[0].shouldSave {
			t.Fatalf("unexpected jccs: %s", spew.Sdump(s.jccs))
		}
	})

	t.Run("Context", func(t *testing.T) {
		r := symrt.NewRuntime()
		s := &mockSolver{}
		r.Solver = s
		cond := r.BuildBinary(symrt.ULT, r.GetInputByte(0), r.BuildInteger(3, 8))

		r.PushPathConstraint(cond, true, 7)
		r.NotifyCall(100)
		r.PushPathConstraint(cond, true, 7)
		r.NotifyRet(100)
		if len(s.jccs) != 2 {
			t.Fatalf("unexpected jccs: %s", spew.Sdump(s.jccs))
		} else if s.jccs[0].site == s.jccs[1].site {
			t.Fatal("expected site to be qualified by call context")
		} else if r.Tracker.Depth() != 0 {
			t.Fatalf("unexpected depth: %d", r.Tracker.Depth())
		}
	})
}

func TestRuntime_Feasible(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		r := symrt.NewRuntime()
		s := &mockSolver{sat: true}
		r.Solver = s

		cond := r.BuildBinary(symrt.EQ, r.GetInputByte(0), r.BuildInteger(1, 8))
		if !r.Feasible(cond) {
			t.Fatal("expected feasible")
		} else if diff := cmp.Diff([]string{"push", "assert", "check", "pop"}, s.calls); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Null", func(t *testing.T) {
		r := symrt.NewRuntime()
		s := &mockSolver{sat: true}
		r.Solver = s
		if r.Feasible(symrt.Null) {
			t.Fatal("expected infeasible")
		} else if len(s.calls) != 0 {
			t.Fatalf("unexpected calls: %v", s.calls)
		}
	})
}

func TestRuntime_ExprToString(t *testing.T) {
	r := symrt.NewRuntime()
	h := r.GetInputByte(0)
	for i := 0; i < 1000; i++ {
		h = r.BuildBinary(symrt.XOR, h, r.GetInputByte(uint64(i+1)))
	}

	if s := r.ExprToString(h); len(s) != symrt.MaxExprStringLen {
		t.Fatalf("unexpected length: %d", len(s))
	} else if !strings.HasPrefix(s, "(xor (xor ") {
		t.Fatalf("unexpected prefix: %s", s[:20])
	}
	if s := r.ExprToString(r.GetInputByte(5)); s != "(read 5)" {
		t.Fatalf("unexpected string: %s", s)
	}
}

func TestRuntime_CollectGarbage(t *testing.T) {
	t.Run("Reachable", func(t *testing.T) {
		r := symrt.NewRuntime()
		var roots []symrt.Handle
		r.AddRootScanner(symrt.RootScannerFunc(func(mark func(symrt.Handle)) {
			for _, h := range roots {
				mark(h)
			}
		}))

		x := r.GetInputByte(0)
		y := r.GetInputByte(1)
		sum := r.BuildBinary(symrt.ADD, x, y)
		roots = []symrt.Handle{sum, symrt.Null}

		r.CollectGarbage()
		if diff := cmp.Diff([]symrt.Handle{sum}, r.Store().Handles()); diff != "" {
			t.Fatal(diff)
		}

		// Operands of a live expression remain usable after collection.
		if n := r.Bits(sum); n != 8 {
			t.Fatalf("unexpected width: %d", n)
		} else if expr := r.Expr(sum).(*symrt.BinaryExpr); symrt.FormatExpr(expr, 0) != "(add (read 0) (read 1))" {
			t.Fatalf("unexpected expr: %s", expr)
		}

		// A second collection with the same roots changes nothing.
		r.CollectGarbage()
		if diff := cmp.Diff([]symrt.Handle{sum}, r.Store().Handles()); diff != "" {
			t.Fatal(diff)
		}

		// Rebuilding a swept expression yields a new handle.
		if h := r.GetInputByte(0); h == x {
			t.Fatalf("handle reused: %d", h)
		}
	})

	t.Run("Threshold", func(t *testing.T) {
		r := symrt.NewRuntime()
		r.GCThreshold = 3
		r.AddRootScanner(symrt.RootScannerFunc(func(mark func(symrt.Handle)) {}))

		r.GetInputByte(0)
		r.GetInputByte(1)
		r.CollectGarbage()
		if n := r.Store().Len(); n != 2 {
			t.Fatalf("unexpected store size: %d", n)
		}

		r.GetInputByte(2)
		r.CollectGarbage()
		if n := r.Store().Len(); n != 0 {
			t.Fatalf("unexpected store size: %d", n)
		}
	})
}

// mockSolver records calls made by the runtime.
type mockSolver struct {
	sat   bool
	calls []string
	jccs  []mockJcc
}

type mockJcc struct {
	expr       symrt.Expr
	taken      bool
	site       uint64
	shouldSave bool
}

func (s *mockSolver) Push() { s.calls = append(s.calls, "push") }
func (s *mockSolver) Pop()  { s.calls = append(s.calls, "pop") }

func (s *mockSolver) Assert(expr symrt.Expr) error {
	s.calls = append(s.calls, "assert")
	return nil
}

func (s *mockSolver) Check() (bool, error) {
	s.calls = append(s.calls, "check")
	return s.sat, nil
}

func (s *mockSolver) AddJcc(constraint symrt.Expr, taken bool, siteID uint64, shouldSave bool) error {
	s.jccs = append(s.jccs, mockJcc{expr: constraint, taken: taken, site: siteID, shouldSave: shouldSave})
	return nil
}

func (s *mockSolver) Close() error {
	s.calls = append(s.calls, "close")
	return nil
}
