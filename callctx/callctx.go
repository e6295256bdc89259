// Package callctx tracks the call stack of the instrumented program so that
// path constraints can be qualified by the context they were recorded in.
package callctx

import (
	"encoding/binary"

	"github.com/benbjohnson/immutable"
	"github.com/cespare/xxhash/v2"
)

const (
	// BitmapSize is the number of slots in the context hit bitmap.
	BitmapSize = 1 << 16

	// DefaultMaxHits is the number of times a context is considered
	// interesting before compound expressions built in it are pruned.
	DefaultMaxHits = 16
)

// Tracker maintains the current call stack and a hit count per context.
// It is not safe for concurrent use.
type Tracker struct {
	stack       *immutable.List
	lastBB      uint64
	pending     bool
	hash        uint64
	interesting bool
	bitmap      []uint8

	// Number of hits after which a context is no longer interesting.
	MaxHits uint8
}

// NewTracker returns a new instance of Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		stack:       immutable.NewList(),
		interesting: true,
		bitmap:      make([]uint8, BitmapSize),
		MaxHits:     DefaultMaxHits,
	}
}

// VisitCall pushes a call site onto the stack.
func (t *Tracker) VisitCall(site uint64) {
	t.stack = t.stack.Append(site)
	t.pending = true
}

// VisitRet pops the top of the stack. Returning from an empty stack is ignored.
func (t *Tracker) VisitRet(site uint64) {
	if t.stack.Len() == 0 {
		return
	}
	t.stack = t.stack.Slice(0, t.stack.Len()-1)
	t.pending = true
}

// VisitBasicBlock records the most recently entered basic block.
func (t *Tracker) VisitBasicBlock(site uint64) {
	t.lastBB = site
	t.pending = true
}

// Depth returns the number of active calls.
func (t *Tracker) Depth() int {
	return t.stack.Len()
}

// Snapshot returns the active call sites, outermost first.
func (t *Tracker) Snapshot() []uint64 {
	a := make([]uint64, 0, t.stack.Len())
	itr := t.stack.Iterator()
	for !itr.Done() {
		_, v := itr.Next()
		a = append(a, v.(uint64))
	}
	return a
}

// Context returns the identity of the current call context.
func (t *Tracker) Context() uint64 {
	if t.pending {
		t.hash = t.computeHash()
	}
	return t.hash
}

func (t *Tracker) computeHash() uint64 {
	d := xxhash.New()
	var buf [8]byte
	itr := t.stack.Iterator()
	for !itr.Done() {
		_, v := itr.Next()
		binary.LittleEndian.PutUint64(buf[:], v.(uint64))
		d.Write(buf[:])
	}
	binary.LittleEndian.PutUint64(buf[:], t.lastBB)
	d.Write(buf[:])
	return d.Sum64()
}

// Update records a hit for the current context if it changed since the
// last update and recomputes whether the context is still interesting.
func (t *Tracker) Update() {
	if !t.pending {
		return
	}
	t.hash = t.computeHash()
	t.pending = false

	i := t.hash % BitmapSize
	if t.bitmap[i] < 0xFF {
		t.bitmap[i]++
	}
	t.interesting = t.bitmap[i] <= t.MaxHits
}

// IsInteresting returns false once the current context has been hit more
// than MaxHits times.
func (t *Tracker) IsInteresting() bool {
	return t.interesting
}
