package z3_test

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/benbjohnson/symrt"
	"github.com/benbjohnson/symrt/z3"
	"github.com/google/go-cmp/cmp"
)

func TestSolver_Check(t *testing.T) {
	t.Run("Constant", func(t *testing.T) {
		t.Run("True", func(t *testing.T) {
			s := z3.NewSolver()
			defer MustCloseSolver(s)
			if !MustCheck(t, s, symrt.NewBoolConstantExpr(true)) {
				t.Fatal("expected satisfiable")
			}
		})
		t.Run("False", func(t *testing.T) {
			s := z3.NewSolver()
			defer MustCloseSolver(s)
			if MustCheck(t, s, symrt.NewBoolConstantExpr(false)) {
				t.Fatal("expected unsatisfiable")
			}
		})
		t.Run("Width128", func(t *testing.T) {
			s := z3.NewSolver()
			defer MustCloseSolver(s)

			// (1 << 64) * zext(k!0) == (0x42 << 64)
			x := symrt.NewCastExpr(symrt.NewReadExpr(0), symrt.Width128, false)
			expr := symrt.NewBinaryExpr(symrt.EQ,
				symrt.NewBinaryExpr(symrt.MUL, symrt.NewConstantExpr128(1, 0), x),
				symrt.NewConstantExpr128(0x42, 0),
			)
			if !MustCheck(t, s, expr) {
				t.Fatal("expected satisfiable")
			}
		})
	})

	t.Run("Read", func(t *testing.T) {
		s := z3.NewSolver()
		defer MustCloseSolver(s)

		x := symrt.NewReadExpr(0)
		if !MustCheck(t, s,
			symrt.NewBinaryExpr(symrt.UGT, x, symrt.NewConstantExpr8(10)),
			symrt.NewBinaryExpr(symrt.ULT, x, symrt.NewConstantExpr8(12)),
		) {
			t.Fatal("expected satisfiable")
		}
		if MustCheck(t, s,
			symrt.NewBinaryExpr(symrt.UGT, x, symrt.NewConstantExpr8(10)),
			symrt.NewBinaryExpr(symrt.ULT, x, symrt.NewConstantExpr8(11)),
		) {
			t.Fatal("expected unsatisfiable")
		}
	})

	t.Run("Concat", func(t *testing.T) {
		s := z3.NewSolver()
		defer MustCloseSolver(s)

		x := symrt.NewConcatExpr(symrt.NewReadExpr(1), symrt.NewReadExpr(0))
		if !MustCheck(t, s, symrt.NewBinaryExpr(symrt.EQ, x, symrt.NewConstantExpr16(0xAABB))) {
			t.Fatal("expected satisfiable")
		}
	})

	t.Run("Extract", func(t *testing.T) {
		t.Run("Bool", func(t *testing.T) {
			s := z3.NewSolver()
			defer MustCloseSolver(s)

			// Extract 1 bit
			if !MustCheck(t, s, &symrt.ExtractExpr{
				Expr:   symrt.NewConstantExpr(0x04, 64),
				Offset: 2,
				Width:  1,
			}) {
				t.Fatal("expected satisfiable")
			}

			// Extract 0 bit.
			if MustCheck(t, s, &symrt.ExtractExpr{
				Expr:   symrt.NewConstantExpr(0x04, 64),
				Offset: 6,
				Width:  1,
			}) {
				t.Fatal("expected unsatisfiable")
			}
		})
	})

	t.Run("Cast", func(t *testing.T) {
		t.Run("BoolToBits", func(t *testing.T) {
			s := z3.NewSolver()
			defer MustCloseSolver(s)

			b := symrt.NewBinaryExpr(symrt.EQ, symrt.NewReadExpr(0), symrt.NewConstantExpr8(1))
			bits := &symrt.CastExpr{Src: b, Width: 32, Signed: false}
			if !MustCheck(t, s, symrt.NewBinaryExpr(symrt.EQ, bits, symrt.NewConstantExpr32(1))) {
				t.Fatal("expected satisfiable")
			}
			if MustCheck(t, s, symrt.NewBinaryExpr(symrt.EQ, bits, symrt.NewConstantExpr32(2))) {
				t.Fatal("expected unsatisfiable")
			}
		})
		t.Run("SignedBool", func(t *testing.T) {
			s := z3.NewSolver()
			defer MustCloseSolver(s)

			b := symrt.NewBinaryExpr(symrt.EQ, symrt.NewReadExpr(0), symrt.NewConstantExpr8(1))
			bits := &symrt.CastExpr{Src: b, Width: 128, Signed: true}
			minusOne := symrt.NewConstantExpr128(^uint64(0), ^uint64(0))
			if !MustCheck(t, s, &symrt.BinaryExpr{Op: symrt.EQ, LHS: bits, RHS: minusOne}) {
				t.Fatal("expected satisfiable")
			}
		})
		t.Run("SExt", func(t *testing.T) {
			s := z3.NewSolver()
			defer MustCloseSolver(s)

			x := &symrt.CastExpr{Src: symrt.NewReadExpr(0), Width: 16, Signed: true}
			if !MustCheck(t, s, &symrt.BinaryExpr{Op: symrt.EQ, LHS: x, RHS: symrt.NewConstantExpr16(0xFF80)}) {
				t.Fatal("expected satisfiable")
			}
			if MustCheck(t, s, &symrt.BinaryExpr{Op: symrt.EQ, LHS: x, RHS: symrt.NewConstantExpr16(0x0080)}) {
				t.Fatal("expected unsatisfiable")
			}
		})
	})

	t.Run("Binary", func(t *testing.T) {
		for _, tt := range []struct {
			op       symrt.BinaryOp
			lhs, rhs uint64
			want     uint64
		}{
			{symrt.ADD, 0xF0, 0x20, 0x10},
			{symrt.SUB, 0x10, 0x20, 0xF0},
			{symrt.MUL, 0x10, 0x11, 0x10},
			{symrt.UDIV, 0xF0, 0x10, 0x0F},
			{symrt.SDIV, 0xF0, 0x02, 0xF8},
			{symrt.UREM, 0x13, 0x10, 0x03},
			{symrt.SREM, 0xF1, 0x02, 0xFF},
			{symrt.AND, 0xF0, 0x3C, 0x30},
			{symrt.OR, 0xF0, 0x3C, 0xFC},
			{symrt.XOR, 0xF0, 0x3C, 0xCC},
			{symrt.SHL, 0x0F, 0x04, 0xF0},
			{symrt.LSHR, 0xF0, 0x04, 0x0F},
			{symrt.ASHR, 0xF0, 0x04, 0xFF},
		} {
			t.Run(tt.op.String(), func(t *testing.T) {
				s := z3.NewSolver()
				defer MustCloseSolver(s)

				expr := &symrt.BinaryExpr{
					Op: symrt.EQ,
					LHS: &symrt.BinaryExpr{
						Op:  tt.op,
						LHS: symrt.NewConstantExpr8(tt.lhs),
						RHS: symrt.NewConstantExpr8(tt.rhs),
					},
					RHS: symrt.NewConstantExpr8(tt.want),
				}
				if !MustCheck(t, s, expr) {
					t.Fatal("expected satisfiable")
				}

				// Constant folding agrees with the solver.
				if v := symrt.NewBinaryExpr(tt.op, symrt.NewConstantExpr8(tt.lhs), symrt.NewConstantExpr8(tt.rhs)).(*symrt.ConstantExpr); v.Uint64() != tt.want {
					t.Fatalf("unexpected folded value: %#x", v.Uint64())
				}
			})
		}

		t.Run("BoolDiv", func(t *testing.T) {
			s := z3.NewSolver()
			defer MustCloseSolver(s)

			b := symrt.NewBinaryExpr(symrt.EQ, symrt.NewReadExpr(0), symrt.NewConstantExpr8(1))
			if !MustCheck(t, s, &symrt.BinaryExpr{Op: symrt.UDIV, LHS: b, RHS: symrt.NewBoolConstantExpr(true)}) {
				t.Fatal("expected satisfiable")
			}
		})
	})

	t.Run("Compare", func(t *testing.T) {
		for _, tt := range []struct {
			op       symrt.BinaryOp
			lhs, rhs uint64
			want     bool
		}{
			{symrt.EQ, 0xF0, 0xF0, true},
			{symrt.NE, 0xF0, 0xF0, false},
			{symrt.ULT, 0x10, 0xF0, true},
			{symrt.ULE, 0xF0, 0xF0, true},
			{symrt.UGT, 0x10, 0xF0, false},
			{symrt.UGE, 0xF0, 0x10, true},
			{symrt.SLT, 0xF0, 0x10, true},
			{symrt.SLE, 0xF0, 0xF0, true},
			{symrt.SGT, 0xF0, 0x10, false},
			{symrt.SGE, 0x10, 0xF0, true},
		} {
			t.Run(tt.op.String(), func(t *testing.T) {
				s := z3.NewSolver()
				defer MustCloseSolver(s)

				if sat := MustCheck(t, s, &symrt.BinaryExpr{
					Op:  tt.op,
					LHS: symrt.NewConstantExpr8(tt.lhs),
					RHS: symrt.NewConstantExpr8(tt.rhs),
				}); sat != tt.want {
					t.Fatalf("unexpected satisfiability: %v", sat)
				}
			})
		}
	})

	t.Run("ErrWidth", func(t *testing.T) {
		s := z3.NewSolver()
		defer MustCloseSolver(s)
		if err := s.Assert(symrt.NewReadExpr(0)); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestSolver_PushPop(t *testing.T) {
	s := z3.NewSolver()
	defer MustCloseSolver(s)

	x := symrt.NewReadExpr(0)
	if err := s.Assert(symrt.NewBinaryExpr(symrt.EQ, x, symrt.NewConstantExpr8(1))); err != nil {
		t.Fatal(err)
	}

	s.Push()
	if err := s.Assert(symrt.NewBinaryExpr(symrt.EQ, x, symrt.NewConstantExpr8(2))); err != nil {
		t.Fatal(err)
	} else if sat, err := s.Check(); err != nil {
		t.Fatal(err)
	} else if sat {
		t.Fatal("expected unsatisfiable")
	}
	s.Pop()

	if sat, err := s.Check(); err != nil {
		t.Fatal(err)
	} else if !sat {
		t.Fatal("expected satisfiable after pop")
	}
}

// Ensure feasibility checks through the runtime leave no residue on the solver.
func TestRuntime_Feasible(t *testing.T) {
	s := z3.NewSolver()
	defer MustCloseSolver(s)

	r := symrt.NewRuntime()
	r.Solver = s

	x := r.GetInputByte(0)
	eq1 := r.BuildBinary(symrt.EQ, x, r.BuildInteger(1, 8))
	eq2 := r.BuildBinary(symrt.EQ, x, r.BuildInteger(2, 8))

	if err := s.Assert(r.Expr(eq1)); err != nil {
		t.Fatal(err)
	}
	if r.Feasible(eq2) {
		t.Fatal("expected x == 2 to be infeasible under x == 1")
	}
	if !r.Feasible(eq1) {
		t.Fatal("expected x == 1 to be feasible")
	}

	if err := s.Assert(r.Expr(eq1)); err != nil {
		t.Fatal(err)
	} else if sat, err := s.Check(); err != nil {
		t.Fatal(err)
	} else if !sat {
		t.Fatal("expected satisfiable")
	}
}

func TestSolver_AddJcc(t *testing.T) {
	t.Run("GenerateInput", func(t *testing.T) {
		s, outputDir := MustOpenSolver(t, []byte("AZ"))
		defer MustCloseSolver(s)

		// Input is 'A' so (k!0 == 'B') is false and the branch is not taken.
		constraint := symrt.NewBinaryExpr(symrt.EQ, symrt.NewReadExpr(0), symrt.NewConstantExpr8('B'))
		if err := s.AddJcc(constraint, false, 100, true); err != nil {
			t.Fatal(err)
		}

		if diff := cmp.Diff(s.Generated(), []string{filepath.Join(outputDir, "000000")}); diff != "" {
			t.Fatal(diff)
		}
		if buf, err := ioutil.ReadFile(filepath.Join(outputDir, "000000")); err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(string(buf), "BZ"); diff != "" {
			t.Fatal(diff)
		}

		// The path now contains k!0 != 'B', so the same branch cannot flip again.
		if err := s.AddJcc(constraint, false, 100, true); err != nil {
			t.Fatal(err)
		} else if n := s.Stats().GeneratedN; n != 1 {
			t.Fatalf("unexpected generated count: %d", n)
		}
	})

	t.Run("ShouldNotSave", func(t *testing.T) {
		s, _ := MustOpenSolver(t, []byte("A"))
		defer MustCloseSolver(s)

		constraint := symrt.NewBinaryExpr(symrt.EQ, symrt.NewReadExpr(0), symrt.NewConstantExpr8('B'))
		if err := s.AddJcc(constraint, false, 100, false); err != nil {
			t.Fatal(err)
		} else if n := s.Stats().GeneratedN; n != 0 {
			t.Fatalf("unexpected generated count: %d", n)
		}
	})

	t.Run("Taken", func(t *testing.T) {
		s, outputDir := MustOpenSolver(t, []byte{0x10})
		defer MustCloseSolver(s)

		// Input is 0x10, so (k!0 < 0x20) holds; the new input must not.
		constraint := symrt.NewBinaryExpr(symrt.ULT, symrt.NewReadExpr(0), symrt.NewConstantExpr8(0x20))
		if err := s.AddJcc(constraint, true, 7, true); err != nil {
			t.Fatal(err)
		}
		buf, err := ioutil.ReadFile(filepath.Join(outputDir, "000000"))
		if err != nil {
			t.Fatal(err)
		} else if len(buf) != 1 || buf[0] < 0x20 {
			t.Fatalf("unexpected input: %x", buf)
		}
	})
}

func MustCheck(tb testing.TB, s *z3.Solver, exprs ...symrt.Expr) bool {
	tb.Helper()
	s.Push()
	defer s.Pop()
	for _, expr := range exprs {
		if err := s.Assert(expr); err != nil {
			tb.Fatal(err)
		}
	}
	sat, err := s.Check()
	if err != nil {
		tb.Fatal(err)
	}
	return sat
}

// MustOpenSolver returns a solver over input writing into a temporary directory.
func MustOpenSolver(tb testing.TB, input []byte) (*z3.Solver, string) {
	tb.Helper()
	dir := tb.TempDir()
	inputPath := filepath.Join(dir, "input")
	if err := ioutil.WriteFile(inputPath, input, 0666); err != nil {
		tb.Fatal(err)
	}
	outputDir := filepath.Join(dir, "output")
	if err := os.Mkdir(outputDir, 0777); err != nil {
		tb.Fatal(err)
	}

	s, err := z3.Open(inputPath, outputDir, "")
	if err != nil {
		tb.Fatal(err)
	}
	return s, outputDir
}

func MustCloseSolver(s *z3.Solver) {
	if err := s.Close(); err != nil {
		panic(err)
	}
}
