package symrt_test

import (
	"testing"

	"github.com/benbjohnson/symrt"
	"github.com/benbjohnson/symrt/callctx"
	"github.com/holiman/uint256"
)

func TestSymbolicBuilder(t *testing.T) {
	t.Run("Dedup", func(t *testing.T) {
		b := symrt.NewSymbolicBuilder()
		x, y := b.Read(0), b.Read(1)
		if b.Read(0) != x {
			t.Fatal("expected cached read")
		}

		sum := b.Binary(symrt.ADD, x, y)
		if other := b.Binary(symrt.ADD, x, y); other != sum {
			t.Fatalf("expected identical instance: %p != %p", other, sum)
		} else if other := b.Binary(symrt.ADD, y, x); other == sum {
			t.Fatal("expected distinct instance for reordered operands")
		}

		c := b.Constant(uint256.NewInt(7), 32)
		if other := b.Constant(uint256.NewInt(7), 32); other != c {
			t.Fatal("expected cached constant")
		} else if other := b.Constant(uint256.NewInt(7), 16); other == c {
			t.Fatal("expected distinct constant for different width")
		}
	})

	t.Run("NilOperand", func(t *testing.T) {
		b := symrt.NewSymbolicBuilder()
		x := b.Read(0)
		if expr := b.Binary(symrt.ADD, x, nil); expr != nil {
			t.Fatalf("unexpected expr: %s", expr)
		} else if expr := b.Not(nil); expr != nil {
			t.Fatalf("unexpected expr: %s", expr)
		} else if expr := b.Cast(nil, 32, true); expr != nil {
			t.Fatalf("unexpected expr: %s", expr)
		} else if expr := b.Concat(nil, x); expr != nil {
			t.Fatalf("unexpected expr: %s", expr)
		} else if expr := b.Extract(nil, 0, 1); expr != nil {
			t.Fatalf("unexpected expr: %s", expr)
		}
	})

	t.Run("Neg", func(t *testing.T) {
		b := symrt.NewSymbolicBuilder()
		v, err := symrt.NewExprEvaluator([]byte{3}).Evaluate(b.Neg(b.Read(0)))
		if err != nil {
			t.Fatal(err)
		} else if v.Uint64() != 0xFD {
			t.Fatalf("unexpected value: %s", v)
		}
	})

	t.Run("BoolToBits", func(t *testing.T) {
		b := symrt.NewSymbolicBuilder()
		cond := b.Binary(symrt.EQ, b.Read(0), b.Constant(uint256.NewInt(3), 8))
		expr := b.BoolToBits(cond, 32)
		if w := symrt.ExprWidth(expr); w != 32 {
			t.Fatalf("unexpected width: %d", w)
		}
		v, err := symrt.NewExprEvaluator([]byte{3}).Evaluate(expr)
		if err != nil {
			t.Fatal(err)
		} else if v.Uint64() != 1 {
			t.Fatalf("unexpected value: %s", v)
		}
	})

	t.Run("Prune", func(t *testing.T) {
		b := symrt.NewSymbolicBuilder()
		x, y := b.Read(0), b.Read(1)
		if n := b.CacheLen(); n != 2 {
			t.Fatalf("unexpected cache size: %d", n)
		}
		b.Prune(func(expr symrt.Expr) bool { return expr == x })
		if n := b.CacheLen(); n != 1 {
			t.Fatalf("unexpected cache size: %d", n)
		} else if b.Read(0) != x {
			t.Fatal("expected kept expression")
		} else if b.Read(1) == y {
			t.Fatal("expected new instance after prune")
		}
	})
}

func TestPruneBuilder(t *testing.T) {
	tracker := callctx.NewTracker()
	tracker.MaxHits = 1
	b := symrt.NewPruneBuilder(symrt.NewSymbolicBuilder(), tracker)

	tracker.VisitBasicBlock(100)
	tracker.Update()
	x := b.Read(0)
	if expr := b.Binary(symrt.ADD, x, x); expr == nil {
		t.Fatal("expected expression while context is interesting")
	}

	// Hitting the same context again exhausts it.
	tracker.VisitBasicBlock(100)
	tracker.Update()
	if tracker.IsInteresting() {
		t.Fatal("expected uninteresting context")
	} else if expr := b.Binary(symrt.ADD, x, x); expr != nil {
		t.Fatalf("unexpected expr: %s", expr)
	} else if expr := b.Cast(x, 16, false); expr != nil {
		t.Fatalf("unexpected expr: %s", expr)
	} else if expr := b.Read(1); expr == nil {
		t.Fatal("expected leaf expression")
	} else if expr := b.Bool(true); expr == nil {
		t.Fatal("expected leaf constant")
	}
}

func TestHash(t *testing.T) {
	x, y := symrt.NewReadExpr(0), symrt.NewReadExpr(0)
	if symrt.Hash(x) != symrt.Hash(y) {
		t.Fatal("expected equal leaf hashes")
	}

	// Compound hashes depend on operand identity.
	a := &symrt.NotExpr{Expr: x}
	b := &symrt.NotExpr{Expr: y}
	if symrt.Hash(a) == symrt.Hash(b) {
		t.Fatal("expected distinct hashes")
	} else if symrt.Hash(a) != symrt.Hash(&symrt.NotExpr{Expr: x}) {
		t.Fatal("expected equal hashes")
	}
}
