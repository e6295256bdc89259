package callctx_test

import (
	"testing"

	"github.com/benbjohnson/symrt/callctx"
	"github.com/google/go-cmp/cmp"
)

func TestTracker_VisitCall(t *testing.T) {
	tr := callctx.NewTracker()
	tr.VisitCall(10)
	tr.VisitCall(20)
	tr.VisitCall(30)
	tr.VisitRet(30)
	if diff := cmp.Diff(tr.Snapshot(), []uint64{10, 20}); diff != "" {
		t.Fatal(diff)
	}
}

func TestTracker_VisitRet(t *testing.T) {
	t.Run("Underflow", func(t *testing.T) {
		tr := callctx.NewTracker()
		tr.VisitRet(1)
		tr.VisitRet(2)
		if n := tr.Depth(); n != 0 {
			t.Fatalf("unexpected depth: %d", n)
		}

		tr.VisitCall(5)
		if diff := cmp.Diff(tr.Snapshot(), []uint64{5}); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestTracker_Context(t *testing.T) {
	t.Run("Stack", func(t *testing.T) {
		a, b := callctx.NewTracker(), callctx.NewTracker()
		a.VisitCall(1)
		a.VisitCall(2)
		b.VisitCall(2)
		b.VisitCall(1)
		if a.Context() == b.Context() {
			t.Fatal("expected different contexts for different stacks")
		}
	})

	t.Run("BasicBlock", func(t *testing.T) {
		tr := callctx.NewTracker()
		tr.VisitCall(1)
		tr.VisitBasicBlock(100)
		x := tr.Context()
		tr.VisitBasicBlock(200)
		if y := tr.Context(); x == y {
			t.Fatal("expected basic block to change context")
		}
		tr.VisitBasicBlock(100)
		if y := tr.Context(); x != y {
			t.Fatal("expected same context after returning to block")
		}
	})

	t.Run("CallRet", func(t *testing.T) {
		tr := callctx.NewTracker()
		tr.VisitCall(1)
		x := tr.Context()
		tr.VisitCall(2)
		tr.VisitRet(2)
		if y := tr.Context(); x != y {
			t.Fatal("expected context restored after return")
		}
	})
}

func TestTracker_IsInteresting(t *testing.T) {
	tr := callctx.NewTracker()
	tr.MaxHits = 3
	if !tr.IsInteresting() {
		t.Fatal("expected new tracker to be interesting")
	}

	for i := 0; i < 3; i++ {
		tr.VisitBasicBlock(7)
		tr.Update()
		if !tr.IsInteresting() {
			t.Fatalf("expected interesting at hit %d", i+1)
		}
	}

	tr.VisitBasicBlock(7)
	tr.Update()
	if tr.IsInteresting() {
		t.Fatal("expected context to be exhausted")
	}

	// Moving to another context makes it interesting again.
	tr.VisitCall(99)
	tr.Update()
	if !tr.IsInteresting() {
		t.Fatal("expected new context to be interesting")
	}
}

func TestTracker_Update_NotPending(t *testing.T) {
	tr := callctx.NewTracker()
	tr.MaxHits = 1
	tr.VisitBasicBlock(1)
	tr.Update()

	// Repeated updates without new events do not count as hits.
	for i := 0; i < 10; i++ {
		tr.Update()
	}
	if !tr.IsInteresting() {
		t.Fatal("expected context to remain interesting")
	}
}
