package symrt

import (
	"encoding/binary"
	"reflect"

	"github.com/benbjohnson/symrt/callctx"
	"github.com/cespare/xxhash/v2"
	"github.com/holiman/uint256"
)

// ExprBuilder constructs expressions for instrumented operations.
// A nil operand yields a nil result, as does any operation the builder
// declines to track symbolically.
type ExprBuilder interface {
	Constant(v *uint256.Int, width uint) Expr
	Bool(v bool) Expr
	Read(offset uint64) Expr
	Binary(op BinaryOp, lhs, rhs Expr) Expr
	Not(e Expr) Expr
	Neg(e Expr) Expr
	Cast(e Expr, width uint, signed bool) Expr
	Trunc(e Expr, width uint) Expr
	Concat(msb, lsb Expr) Expr
	Extract(e Expr, offset, width uint) Expr
	BoolToBits(e Expr, width uint) Expr
}

var _ ExprBuilder = (*SymbolicBuilder)(nil)
var _ ExprBuilder = (*PruneBuilder)(nil)

// SymbolicBuilder builds simplified expressions and returns a previously
// built instance when a new result is structurally equal to it.
type SymbolicBuilder struct {
	cache *exprCache
}

// NewSymbolicBuilder returns a new instance of SymbolicBuilder.
func NewSymbolicBuilder() *SymbolicBuilder {
	return &SymbolicBuilder{cache: newExprCache()}
}

// Prune drops cached expressions for which keep returns false.
func (b *SymbolicBuilder) Prune(keep func(Expr) bool) {
	b.cache.prune(keep)
}

// CacheLen returns the number of cached expressions.
func (b *SymbolicBuilder) CacheLen() int {
	return b.cache.n
}

// Constant returns the interned constant v truncated to width bits.
func (b *SymbolicBuilder) Constant(v *uint256.Int, width uint) Expr {
	return b.cache.intern(NewConstantExprInt(v, width))
}

// Bool returns the interned boolean constant.
func (b *SymbolicBuilder) Bool(v bool) Expr {
	return b.cache.intern(NewBoolConstantExpr(v))
}

// Read returns the interned read of the input byte at offset.
func (b *SymbolicBuilder) Read(offset uint64) Expr {
	return b.cache.intern(NewReadExpr(offset))
}

// Binary returns op applied to lhs & rhs. Returns nil if either operand is nil.
func (b *SymbolicBuilder) Binary(op BinaryOp, lhs, rhs Expr) Expr {
	if lhs == nil || rhs == nil {
		return nil
	}
	return b.cache.intern(NewBinaryExpr(op, lhs, rhs))
}

// Not returns the bitwise negation of e.
func (b *SymbolicBuilder) Not(e Expr) Expr {
	if e == nil {
		return nil
	}
	return b.cache.intern(NewNotExpr(e))
}

// Neg returns the two's complement negation of e.
func (b *SymbolicBuilder) Neg(e Expr) Expr {
	if e == nil {
		return nil
	}
	return b.cache.intern(NewBinaryExpr(SUB, newZeroExpr(ExprWidth(e)), e))
}

// Cast extends or truncates e to width bits.
func (b *SymbolicBuilder) Cast(e Expr, width uint, signed bool) Expr {
	if e == nil {
		return nil
	}
	return b.cache.intern(NewCastExpr(e, width, signed))
}

// Trunc returns the low width bits of e.
func (b *SymbolicBuilder) Trunc(e Expr, width uint) Expr {
	if e == nil {
		return nil
	}
	return b.cache.intern(NewExtractExpr(e, 0, width))
}

// Concat returns msb followed by lsb.
func (b *SymbolicBuilder) Concat(msb, lsb Expr) Expr {
	if msb == nil || lsb == nil {
		return nil
	}
	return b.cache.intern(NewConcatExpr(msb, lsb))
}

// Extract returns width bits of e starting at offset.
func (b *SymbolicBuilder) Extract(e Expr, offset, width uint) Expr {
	if e == nil {
		return nil
	}
	return b.cache.intern(NewExtractExpr(e, offset, width))
}

// BoolToBits converts a boolean to a bit-vector of 0 or 1.
func (b *SymbolicBuilder) BoolToBits(e Expr, width uint) Expr {
	if e == nil {
		return nil
	}
	assert(ExprWidth(e) == WidthBool, "bool to bits: operand width %d", ExprWidth(e))
	return b.cache.intern(NewCastExpr(e, width, false))
}

// PruneBuilder wraps a builder and stops building compound expressions
// once the current call context has been hit too often.
type PruneBuilder struct {
	Builder ExprBuilder
	Tracker *callctx.Tracker
}

// NewPruneBuilder returns a new instance of PruneBuilder.
func NewPruneBuilder(builder ExprBuilder, tracker *callctx.Tracker) *PruneBuilder {
	return &PruneBuilder{Builder: builder, Tracker: tracker}
}

// pruned returns true if compound expressions should not be built.
func (b *PruneBuilder) pruned() bool {
	return !b.Tracker.IsInteresting()
}

// Constant is never pruned.
func (b *PruneBuilder) Constant(v *uint256.Int, width uint) Expr {
	return b.Builder.Constant(v, width)
}

// Bool is never pruned.
func (b *PruneBuilder) Bool(v bool) Expr { return b.Builder.Bool(v) }

// Read is never pruned.
func (b *PruneBuilder) Read(offset uint64) Expr { return b.Builder.Read(offset) }

// Binary returns nil while the call context is pruned.
func (b *PruneBuilder) Binary(op BinaryOp, lhs, rhs Expr) Expr {
	if b.pruned() {
		return nil
	}
	return b.Builder.Binary(op, lhs, rhs)
}

// Not returns nil while the call context is pruned.
func (b *PruneBuilder) Not(e Expr) Expr {
	if b.pruned() {
		return nil
	}
	return b.Builder.Not(e)
}

// Neg returns nil while the call context is pruned.
func (b *PruneBuilder) Neg(e Expr) Expr {
	if b.pruned() {
		return nil
	}
	return b.Builder.Neg(e)
}

// Cast returns nil while the call context is pruned.
func (b *PruneBuilder) Cast(e Expr, width uint, signed bool) Expr {
	if b.pruned() {
		return nil
	}
	return b.Builder.Cast(e, width, signed)
}

// Trunc returns nil while the call context is pruned.
func (b *PruneBuilder) Trunc(e Expr, width uint) Expr {
	if b.pruned() {
		return nil
	}
	return b.Builder.Trunc(e, width)
}

// Concat returns nil while the call context is pruned.
func (b *PruneBuilder) Concat(msb, lsb Expr) Expr {
	if b.pruned() {
		return nil
	}
	return b.Builder.Concat(msb, lsb)
}

// Extract returns nil while the call context is pruned.
func (b *PruneBuilder) Extract(e Expr, offset, width uint) Expr {
	if b.pruned() {
		return nil
	}
	return b.Builder.Extract(e, offset, width)
}

// BoolToBits returns nil while the call context is pruned.
func (b *PruneBuilder) BoolToBits(e Expr, width uint) Expr {
	if b.pruned() {
		return nil
	}
	return b.Builder.BoolToBits(e, width)
}

// Hash returns a structural hash of expr. Operands contribute their
// identity, not their structure, so the hash is computed in constant time.
func Hash(expr Expr) uint64 {
	d := xxhash.New()
	var buf [8]byte
	writeUint := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		d.Write(buf[:])
	}
	writeID := func(e Expr) {
		writeUint(uint64(reflect.ValueOf(e).Pointer()))
	}

	writeUint(uint64(exprKind(expr)))
	switch expr := expr.(type) {
	case *ConstantExpr:
		writeUint(uint64(expr.Width))
		b := expr.Value.Bytes32()
		d.Write(b[:])
	case *ReadExpr:
		writeUint(expr.Offset)
	case *BinaryExpr:
		writeUint(uint64(expr.Op))
		writeID(expr.LHS)
		writeID(expr.RHS)
	case *ConcatExpr:
		writeID(expr.MSB)
		writeID(expr.LSB)
	case *ExtractExpr:
		writeUint(uint64(expr.Offset))
		writeUint(uint64(expr.Width))
		writeID(expr.Expr)
	case *NotExpr:
		writeID(expr.Expr)
	case *CastExpr:
		writeUint(uint64(expr.Width))
		if expr.Signed {
			writeUint(1)
		} else {
			writeUint(0)
		}
		writeID(expr.Src)
	default:
		panic("unreachable")
	}
	return d.Sum64()
}

// shallowEqual returns true if a and b have the same kind and attributes
// and share identical operand instances.
func shallowEqual(a, b Expr) bool {
	if a == b {
		return true
	}
	switch a := a.(type) {
	case *ConstantExpr:
		b, ok := b.(*ConstantExpr)
		return ok && a.Width == b.Width && a.Value.Eq(&b.Value)
	case *ReadExpr:
		b, ok := b.(*ReadExpr)
		return ok && a.Offset == b.Offset
	case *BinaryExpr:
		b, ok := b.(*BinaryExpr)
		return ok && a.Op == b.Op && a.LHS == b.LHS && a.RHS == b.RHS
	case *ConcatExpr:
		b, ok := b.(*ConcatExpr)
		return ok && a.MSB == b.MSB && a.LSB == b.LSB
	case *ExtractExpr:
		b, ok := b.(*ExtractExpr)
		return ok && a.Offset == b.Offset && a.Width == b.Width && a.Expr == b.Expr
	case *NotExpr:
		b, ok := b.(*NotExpr)
		return ok && a.Expr == b.Expr
	case *CastExpr:
		b, ok := b.(*CastExpr)
		return ok && a.Width == b.Width && a.Signed == b.Signed && a.Src == b.Src
	default:
		return false
	}
}

// exprCache hash-conses built expressions.
type exprCache struct {
	m map[uint64][]Expr
	n int
}

func newExprCache() *exprCache {
	return &exprCache{m: make(map[uint64][]Expr)}
}

// intern returns the cached instance equal to expr, caching expr if none exists.
func (c *exprCache) intern(expr Expr) Expr {
	h := Hash(expr)
	for _, other := range c.m[h] {
		if shallowEqual(expr, other) {
			return other
		}
	}
	c.m[h] = append(c.m[h], expr)
	c.n++
	return expr
}

func (c *exprCache) prune(keep func(Expr) bool) {
	for h, bucket := range c.m {
		a := bucket[:0]
		for _, expr := range bucket {
			if keep(expr) {
				a = append(a, expr)
			} else {
				c.n--
			}
		}
		if len(a) == 0 {
			delete(c.m, h)
		} else {
			c.m[h] = a
		}
	}
}
