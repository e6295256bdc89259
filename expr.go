package symrt

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/holiman/uint256"
)

// Expr represents a symbolic expression. Expressions are immutable once built.
type Expr interface {
	fmt.Stringer
	expr()
}

func (*BinaryExpr) expr()   {}
func (*CastExpr) expr()     {}
func (*ConcatExpr) expr()   {}
func (*ConstantExpr) expr() {}
func (*ExtractExpr) expr()  {}
func (*NotExpr) expr()      {}
func (*ReadExpr) expr()     {}

// ExprWidth returns the bit width of the expression.
func ExprWidth(expr Expr) uint {
	switch expr := expr.(type) {
	case *ConstantExpr:
		return expr.Width
	case *ReadExpr:
		return Width8
	case *ConcatExpr:
		return ExprWidth(expr.MSB) + ExprWidth(expr.LSB)
	case *ExtractExpr:
		return expr.Width
	case *NotExpr:
		return ExprWidth(expr.Expr)
	case *CastExpr:
		return expr.Width
	case *BinaryExpr:
		if expr.Op.IsCompare() {
			return WidthBool
		}
		return ExprWidth(expr.LHS)
	default:
		panic("unreachable")
	}
}

// BinaryOp represents a binary expression operations.
type BinaryOp int

// BinaryExpr operations.
const (
	arithmetic_op_begin = BinaryOp(iota)
	ADD
	SUB
	MUL
	UDIV
	SDIV
	UREM
	SREM
	AND
	OR
	XOR
	SHL
	LSHR
	ASHR
	arithmetic_op_end

	compare_op_begin
	EQ
	NE
	ULT
	ULE
	UGT
	UGE
	SLT
	SLE
	SGT
	SGE
	compare_op_end
)

var binaryOps = [...]string{
	ADD:  "add",
	SUB:  "sub",
	MUL:  "mul",
	UDIV: "udiv",
	SDIV: "sdiv",
	UREM: "urem",
	SREM: "srem",
	AND:  "and",
	OR:   "or",
	XOR:  "xor",
	SHL:  "shl",
	LSHR: "lshr",
	ASHR: "ashr",
	EQ:   "eq",
	NE:   "ne",
	ULT:  "ult",
	ULE:  "ule",
	UGT:  "ugt",
	UGE:  "uge",
	SLT:  "slt",
	SLE:  "sle",
	SGT:  "sgt",
	SGE:  "sge",
}

// String returns the string representation of the operation.
func (op BinaryOp) String() string {
	if op >= 0 && op < BinaryOp(len(binaryOps)) && binaryOps[op] != "" {
		return binaryOps[op]
	}
	return fmt.Sprintf("BinaryOp<%d>", op)
}

// IsArithmetic returns true if op is an arithmetic operator.
func (op BinaryOp) IsArithmetic() bool {
	return op > arithmetic_op_begin && op < arithmetic_op_end
}

// IsCompare returns true if op is a comparison operator.
func (op BinaryOp) IsCompare() bool {
	return op > compare_op_begin && op < compare_op_end
}

// BinaryExpr represents an operation on two expressions.
type BinaryExpr struct {
	Op  BinaryOp
	LHS Expr
	RHS Expr
}

// NewBinaryExpr returns an expression for op applied to lhs & rhs.
// Both operands must have the same width.
func NewBinaryExpr(op BinaryOp, lhs, rhs Expr) Expr {
	assert(ExprWidth(lhs) == ExprWidth(rhs), "binary expr width mismatch: op=%s %d != %d", op, ExprWidth(lhs), ExprWidth(rhs))

	switch op {
	// Arithmetic operators
	case ADD:
		return newAddExpr(lhs, rhs)
	case SUB:
		return newSubExpr(lhs, rhs)
	case MUL:
		return newMulExpr(lhs, rhs)
	case UDIV, SDIV:
		return newDivExpr(op, lhs, rhs)
	case UREM, SREM:
		return newRemExpr(op, lhs, rhs)
	case AND:
		return newAndExpr(lhs, rhs)
	case OR:
		return newOrExpr(lhs, rhs)
	case XOR:
		return newXorExpr(lhs, rhs)
	case SHL:
		return newShlExpr(lhs, rhs)
	case LSHR:
		return newLShrExpr(lhs, rhs)
	case ASHR:
		return newAShrExpr(lhs, rhs)

	// Comparison operators
	case EQ:
		return newEqExpr(lhs, rhs)
	case NE:
		return NewBinaryExpr(EQ, NewConstantExpr(0, WidthBool), NewBinaryExpr(EQ, lhs, rhs))
	case ULT:
		return newUltExpr(lhs, rhs)
	case UGT:
		return newUltExpr(rhs, lhs) // reverse
	case ULE:
		return newUleExpr(lhs, rhs)
	case UGE:
		return newUleExpr(rhs, lhs) // reverse
	case SLT:
		return newSltExpr(lhs, rhs)
	case SGT:
		return newSltExpr(rhs, lhs) // reverse
	case SLE:
		return newSleExpr(lhs, rhs)
	case SGE:
		return newSleExpr(rhs, lhs) // reverse

	default:
		panic("unreachable")
	}
}

// String returns the string representation of the expression.
func (e *BinaryExpr) String() string { return FormatExpr(e, 0) }

// newAddExpr returns the expression representing the sum of lhs & rhs.
func newAddExpr(lhs, rhs Expr) Expr {
	// Move constant expression to left hand side.
	if !IsConstantExpr(lhs) && IsConstantExpr(rhs) {
		lhs, rhs = rhs, lhs
	}

	// Refactor to XOR for boolean expressions.
	if ExprWidth(lhs) == WidthBool {
		return NewBinaryExpr(XOR, lhs, rhs)
	}

	// Compute constant if both sides are constant.
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if lhs.IsZero() {
			return rhs
		} else if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Add(rhs)
		}
	}

	// Merge constant LHS with constant in RHS binary expression.
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*BinaryExpr); ok {
			if rhs.Op == ADD && IsConstantExpr(rhs.LHS) { // X + (Y+z) == (X+Y) + z
				return NewBinaryExpr(ADD, NewBinaryExpr(ADD, lhs, rhs.LHS), rhs.RHS)
			} else if rhs.Op == SUB && IsConstantExpr(rhs.LHS) { // X + (Y-z) == (X+Y) - z
				return NewBinaryExpr(SUB, NewBinaryExpr(ADD, lhs, rhs.LHS), rhs.RHS)
			}
		}
	}

	// Refactor constant LHS.LHS to a standalone value on LHS.
	if lhs, ok := lhs.(*BinaryExpr); ok && IsConstantExpr(lhs.LHS) {
		if lhs.Op == ADD { // (X+y) + z = X + (y+z)
			return NewBinaryExpr(ADD, lhs.LHS, NewBinaryExpr(ADD, lhs.RHS, rhs))
		} else if lhs.Op == SUB { // (X-y) + z = X + (z-y)
			return NewBinaryExpr(ADD, lhs.LHS, NewBinaryExpr(SUB, rhs, lhs.RHS))
		}
	}

	// Refactor constant RHS.LHS to a standalone value on LHS.
	if rhs, ok := rhs.(*BinaryExpr); ok && IsConstantExpr(rhs.LHS) {
		if rhs.Op == ADD { // a + (K+b) = K + (a+b)
			return NewBinaryExpr(ADD, rhs.LHS, NewBinaryExpr(ADD, lhs, rhs.RHS))
		} else if rhs.Op == SUB { // a + (K-b) = K + (a-b)
			return NewBinaryExpr(ADD, rhs.LHS, NewBinaryExpr(SUB, lhs, rhs.RHS))
		}
	}

	return &BinaryExpr{Op: ADD, LHS: lhs, RHS: rhs}
}

// newSubExpr returns an expression representing the difference of lhs & rhs.
func newSubExpr(lhs, rhs Expr) Expr {
	// Subtracting a value from itself is zero.
	if lhs == rhs {
		return newZeroExpr(ExprWidth(lhs))
	}

	// Compute constant if both sides are constant.
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Sub(rhs)
		}
	}

	// Refactor to XOR for boolean expressions.
	if ExprWidth(lhs) == WidthBool {
		return NewBinaryExpr(XOR, lhs, rhs)
	}

	// If constant is on right side, refactor to addition of its negation.
	if rhs, ok := rhs.(*ConstantExpr); ok && !IsConstantExpr(lhs) {
		return NewBinaryExpr(ADD, NewConstantExpr(0, rhs.Width).Sub(rhs), lhs)
	}

	// Combine with children of RHS binary expression, if possible.
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*BinaryExpr); ok {
			if rhs.Op == ADD && IsConstantExpr(rhs.LHS) { // X - (Y+z) == (X-Y) - z
				return NewBinaryExpr(SUB, NewBinaryExpr(SUB, lhs, rhs.LHS), rhs.RHS)
			} else if rhs.Op == SUB && IsConstantExpr(rhs.LHS) { // X - (Y-z) == (X-Y) + z
				return NewBinaryExpr(ADD, NewBinaryExpr(SUB, lhs, rhs.LHS), rhs.RHS)
			}
		}
	}

	// Refactor constant LHS.LHS to a standalone value on LHS.
	if lhs, ok := lhs.(*BinaryExpr); ok && IsConstantExpr(lhs.LHS) {
		if lhs.Op == ADD { // (X+y) - z = X + (y-z)
			return NewBinaryExpr(ADD, lhs.LHS, NewBinaryExpr(SUB, lhs.RHS, rhs))
		} else if lhs.Op == SUB { // (X-y) - z = X - (y+z)
			return NewBinaryExpr(SUB, lhs.LHS, NewBinaryExpr(ADD, lhs.RHS, rhs))
		}
	}

	// Refactor constant RHS.LHS to a standalone value on LHS.
	if rhs, ok := rhs.(*BinaryExpr); ok && IsConstantExpr(rhs.LHS) {
		if rhs.Op == ADD { // x - (Y+z) = (x-z) - Y
			return NewBinaryExpr(SUB, NewBinaryExpr(SUB, lhs, rhs.RHS), rhs.LHS)
		} else if rhs.Op == SUB { // x - (Y-z) = (x+z) - Y
			return NewBinaryExpr(SUB, NewBinaryExpr(ADD, lhs, rhs.RHS), rhs.LHS)
		}
	}

	return &BinaryExpr{Op: SUB, LHS: lhs, RHS: rhs}
}

// newMulExpr returns an expression that represents the product of lhs & rhs.
func newMulExpr(lhs, rhs Expr) Expr {
	// If constant is on right side, swap to left side.
	if IsConstantExpr(rhs) && !IsConstantExpr(lhs) {
		lhs, rhs = rhs, lhs
	}

	// Compute constant if both sides are constant.
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Mul(rhs)
		}
	}

	// Refactor to AND for boolean expressions.
	if ExprWidth(lhs) == WidthBool {
		return NewBinaryExpr(AND, lhs, rhs)
	}

	// Optimize for multiplication with a constant 1 or 0.
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if lhs.IsOne() {
			return rhs
		} else if lhs.IsZero() {
			return lhs
		}
	}
	return &BinaryExpr{Op: MUL, LHS: lhs, RHS: rhs}
}

// newDivExpr returns an expression that represents the division of lhs & rhs.
func newDivExpr(op BinaryOp, lhs, rhs Expr) Expr {
	assert(op == UDIV || op == SDIV, "invalid div op: %s", op)

	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			if op == UDIV {
				return lhs.UDiv(rhs)
			}
			return lhs.SDiv(rhs)
		}
	}
	if rhs, ok := rhs.(*ConstantExpr); ok && rhs.IsOne() && rhs.Width > WidthBool {
		return lhs
	}
	return &BinaryExpr{Op: op, LHS: lhs, RHS: rhs}
}

// newRemExpr returns an expression that represents the remainder of lhs divided by rhs.
func newRemExpr(op BinaryOp, lhs, rhs Expr) Expr {
	assert(op == UREM || op == SREM, "invalid rem op: %s", op)

	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			if op == UREM {
				return lhs.URem(rhs)
			}
			return lhs.SRem(rhs)
		}
	}
	if rhs, ok := rhs.(*ConstantExpr); ok && rhs.IsOne() && rhs.Width > WidthBool {
		return NewConstantExpr(0, rhs.Width)
	}
	return &BinaryExpr{Op: op, LHS: lhs, RHS: rhs}
}

// newAndExpr returns an expression that represents the bitwise AND of lhs & rhs.
func newAndExpr(lhs, rhs Expr) Expr {
	// Compute constant if both sides are constant.
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.And(rhs)
		}
	}

	// If constant is on left side, swap to right side.
	if IsConstantExpr(lhs) && !IsConstantExpr(rhs) {
		lhs, rhs = rhs, lhs
	}

	// Optimize for if constant is all ones or zeros.
	if rhs, ok := rhs.(*ConstantExpr); ok {
		if rhs.IsAllOnes() {
			return lhs
		} else if rhs.IsZero() {
			return rhs
		}
	}
	if lhs == rhs {
		return lhs
	}
	return &BinaryExpr{Op: AND, LHS: lhs, RHS: rhs}
}

// newOrExpr returns an expression that represents the bitwise OR of lhs & rhs.
func newOrExpr(lhs, rhs Expr) Expr {
	// Compute constant if both sides are constant.
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Or(rhs)
		}
	}

	// If constant is on left side, swap to right side.
	if IsConstantExpr(lhs) && !IsConstantExpr(rhs) {
		lhs, rhs = rhs, lhs
	}

	// Optimize for if constant is all ones or zeros.
	if rhs, ok := rhs.(*ConstantExpr); ok {
		if rhs.IsAllOnes() {
			return rhs
		} else if rhs.IsZero() {
			return lhs
		}
	}
	if lhs == rhs {
		return lhs
	}
	return &BinaryExpr{Op: OR, LHS: lhs, RHS: rhs}
}

// newXorExpr returns an expression that represents the bitwise XOR of lhs & rhs.
func newXorExpr(lhs, rhs Expr) Expr {
	// If constant is on right side, swap to left side.
	if !IsConstantExpr(lhs) && IsConstantExpr(rhs) {
		lhs, rhs = rhs, lhs
	}

	// Compute constant if both sides are constant.
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if lhs.IsZero() {
			return rhs
		} else if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Xor(rhs)
		}
	}

	if lhs == rhs {
		return newZeroExpr(ExprWidth(lhs))
	}
	return &BinaryExpr{Op: XOR, LHS: lhs, RHS: rhs}
}

// newShlExpr returns an expression that represents the shift-left of lhs by rhs bits.
func newShlExpr(lhs, rhs Expr) Expr {
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Shl(rhs)
		}
	}
	if ExprWidth(lhs) == WidthBool { // l & !r
		return NewBinaryExpr(AND, lhs, NewIsZeroExpr(rhs))
	}
	if rhs, ok := rhs.(*ConstantExpr); ok && rhs.IsZero() {
		return lhs
	}
	return &BinaryExpr{Op: SHL, LHS: lhs, RHS: rhs}
}

// newLShrExpr returns an expression that represents the logical shift-right of lhs by rhs bits.
func newLShrExpr(lhs, rhs Expr) Expr {
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.LShr(rhs)
		}
	}
	if ExprWidth(lhs) == WidthBool {
		return NewBinaryExpr(AND, lhs, NewIsZeroExpr(rhs)) // l & !r
	}
	if rhs, ok := rhs.(*ConstantExpr); ok && rhs.IsZero() {
		return lhs
	}
	return &BinaryExpr{Op: LSHR, LHS: lhs, RHS: rhs}
}

// newAShrExpr returns an expression that represents the arithmetic shift-right of lhs by rhs bits.
func newAShrExpr(lhs, rhs Expr) Expr {
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.AShr(rhs)
		}
	}
	if ExprWidth(lhs) == WidthBool { // l
		return lhs
	}
	if rhs, ok := rhs.(*ConstantExpr); ok && rhs.IsZero() {
		return lhs
	}
	return &BinaryExpr{Op: ASHR, LHS: lhs, RHS: rhs}
}

// newEqExpr returns an expression that represents the equality of lhs and rhs.
func newEqExpr(lhs, rhs Expr) Expr {
	// If constant is on right side, swap to left side.
	if !IsConstantExpr(lhs) && IsConstantExpr(rhs) {
		lhs, rhs = rhs, lhs
	}

	// Compute constant if both sides are constant.
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Eq(rhs)
		}

		width := lhs.Width
		switch rhs := rhs.(type) {
		case *BinaryExpr:
			switch rhs.Op {
			case EQ:
				if width == WidthBool {
					if lhs.IsTrue() {
						return rhs
					} else if IsConstantFalse(rhs.LHS) {
						return rhs.RHS // 0 == (0 == A) => A
					}
				}
			case OR:
				if width == WidthBool {
					if lhs.IsTrue() {
						return rhs // T == X || Y => X || Y
					}
					return NewBinaryExpr(AND, NewIsZeroExpr(rhs.LHS), NewIsZeroExpr(rhs.RHS)) // F == X || Y => !X && !Y
				}
			case ADD:
				if IsConstantExpr(rhs.LHS) { // X = Y + z => X - Y = z
					return NewBinaryExpr(EQ, NewBinaryExpr(SUB, lhs, rhs.LHS), rhs.RHS)
				}
			case SUB:
				if IsConstantExpr(rhs.LHS) { // X = Y - z => Y - X = z
					return NewBinaryExpr(EQ, NewBinaryExpr(SUB, rhs.LHS, lhs), rhs.RHS)
				}
			}

		case *CastExpr:
			trunc := lhs.Extract(0, ExprWidth(rhs.Src))
			if rhs.Signed { // (sext(a,T)==c) == (a==c)
				if CompareExpr(lhs, trunc.SExt(width)) == 0 {
					return NewBinaryExpr(EQ, trunc, rhs.Src)
				}
				return NewConstantExpr(0, WidthBool)
			}
			// (zext(a,T)==c) == (a==c)
			if CompareExpr(lhs, trunc.ZExt(width)) == 0 {
				return NewBinaryExpr(EQ, trunc, rhs.Src)
			}
			return NewConstantExpr(0, WidthBool)
		}
	}

	if lhs == rhs {
		return NewConstantExpr(1, WidthBool)
	}
	return &BinaryExpr{Op: EQ, LHS: lhs, RHS: rhs}
}

// newUltExpr returns an expression that represents the if lhs is less than rhs (unsigned).
func newUltExpr(lhs, rhs Expr) Expr {
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Ult(rhs)
		}
	}
	if ExprWidth(lhs) == WidthBool { // !lhs && rhs
		return NewBinaryExpr(AND, NewIsZeroExpr(lhs), rhs)
	}
	return &BinaryExpr{Op: ULT, LHS: lhs, RHS: rhs}
}

// newUleExpr returns an expression that represents the if lhs is less than or equal to rhs (unsigned).
func newUleExpr(lhs, rhs Expr) Expr {
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Ule(rhs)
		}
	}
	if ExprWidth(lhs) == WidthBool { // !(lhs && !rhs)
		return NewBinaryExpr(OR, NewIsZeroExpr(lhs), rhs)
	}
	return &BinaryExpr{Op: ULE, LHS: lhs, RHS: rhs}
}

// newSltExpr returns an expression that represents the if lhs is less than rhs (signed).
func newSltExpr(lhs, rhs Expr) Expr {
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Slt(rhs)
		}
	}
	if ExprWidth(lhs) == WidthBool { // lhs && !rhs
		return NewBinaryExpr(AND, lhs, NewIsZeroExpr(rhs))
	}
	return &BinaryExpr{Op: SLT, LHS: lhs, RHS: rhs}
}

// newSleExpr returns an expression that represents the if lhs is less than or equal to rhs (signed).
func newSleExpr(lhs, rhs Expr) Expr {
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Sle(rhs)
		}
	}
	if ExprWidth(lhs) == WidthBool { // !(!lhs && rhs)
		return NewBinaryExpr(OR, lhs, NewIsZeroExpr(rhs))
	}
	return &BinaryExpr{Op: SLE, LHS: lhs, RHS: rhs}
}

// ReadExpr represents one byte of symbolic program input.
type ReadExpr struct {
	Offset uint64
}

// NewReadExpr returns a new instance of ReadExpr.
func NewReadExpr(offset uint64) *ReadExpr {
	return &ReadExpr{Offset: offset}
}

// String returns the string representation of the expression.
func (e *ReadExpr) String() string { return FormatExpr(e, 0) }

// ConcatExpr represents a concatenation of two expressions.
type ConcatExpr struct {
	MSB Expr
	LSB Expr
}

// NewConcatExpr returns a new instance of ConcatExpr.
func NewConcatExpr(msb, lsb Expr) Expr {
	// Combine expressions if they are both constants and the result fits.
	if msb, ok := msb.(*ConstantExpr); ok {
		if lsb, ok := lsb.(*ConstantExpr); ok && msb.Width+lsb.Width <= MaxWidth {
			return msb.Concat(lsb)
		}
	}

	// Combine extract expressions if they are contiguous.
	if msb, ok := msb.(*ExtractExpr); ok {
		if lsb, ok := lsb.(*ExtractExpr); ok {
			if msb.Expr == lsb.Expr && lsb.Offset+lsb.Width == msb.Offset {
				return NewExtractExpr(msb.Expr, lsb.Offset, msb.Width+lsb.Width)
			}
		}
	}

	return &ConcatExpr{
		MSB: msb,
		LSB: lsb,
	}
}

// String returns the string representation of the expression.
func (e *ConcatExpr) String() string { return FormatExpr(e, 0) }

// ExtractExpr represents the extraction of a set of bits at a given offset/width.
type ExtractExpr struct {
	Expr   Expr
	Offset uint
	Width  uint
}

// NewExtractExpr returns a new instance of ExtractExpr.
func NewExtractExpr(expr Expr, offset uint, width uint) Expr {
	kw := ExprWidth(expr)
	assert(width > 0, "extract width cannot be zero")
	assert(offset+width <= kw, "extract out of bounds: %d+%d > %d", offset, width, kw)

	if width == kw {
		return expr
	} else if expr, ok := expr.(*ConstantExpr); ok {
		return expr.Extract(offset, width)
	}

	switch expr := expr.(type) {
	case *ConcatExpr:
		lw := ExprWidth(expr.LSB)

		// Directly extract from MSB if we skip over LSB.
		if offset >= lw {
			return NewExtractExpr(expr.MSB, offset-lw, width)
		}

		// Directly extract from LSB if we skip over MSB.
		if offset+width <= lw {
			return NewExtractExpr(expr.LSB, offset, width)
		}

		// Convert extraction to a concatenation of two extractions.
		// E(C(x,y)) = C(E(x), E(y))
		return NewConcatExpr(
			NewExtractExpr(expr.MSB, 0, offset+width-lw),
			NewExtractExpr(expr.LSB, offset, lw-offset),
		)

	case *ExtractExpr:
		// E(E(x)) = E(x) with combined offsets.
		return NewExtractExpr(expr.Expr, expr.Offset+offset, width)

	case *CastExpr:
		// Extracting only bits of the original source skips the extension.
		if offset+width <= ExprWidth(expr.Src) {
			return NewExtractExpr(expr.Src, offset, width)
		}
	}

	return &ExtractExpr{
		Expr:   expr,
		Offset: offset,
		Width:  width,
	}
}

// String returns the string representation of the expression.
func (e *ExtractExpr) String() string { return FormatExpr(e, 0) }

// NotExpr represents a bitwise not of an expression.
type NotExpr struct {
	Expr Expr
}

// NewNotExpr returns a new instance of NotExpr.
func NewNotExpr(expr Expr) Expr {
	switch expr := expr.(type) {
	case *ConstantExpr:
		return expr.Not()
	case *NotExpr:
		return expr.Expr
	}
	return &NotExpr{Expr: expr}
}

// String returns the string representation of the expression.
func (e *NotExpr) String() string { return FormatExpr(e, 0) }

// CastExpr represents an expression that extends an expression to a wider width.
// A boolean source is converted to 0/1 (or 0/-1 when signed).
type CastExpr struct {
	Src    Expr
	Width  uint
	Signed bool
}

// NewCastExpr returns a new instance of CastExpr.
func NewCastExpr(src Expr, width uint, signed bool) Expr {
	if signed {
		return newSExtExpr(src, width)
	}
	return newZExtExpr(src, width)
}

// newZExtExpr returns a new zero-extension operation.
func newZExtExpr(src Expr, w uint) Expr {
	sw := ExprWidth(src)
	if w == sw { // nop
		return src
	} else if w < sw { // truncate
		return NewExtractExpr(src, 0, w)
	} else if src, ok := src.(*ConstantExpr); ok && w <= MaxWidth {
		return src.ZExt(w)
	}
	return &CastExpr{Src: src, Width: w, Signed: false}
}

// newSExtExpr returns a new sign-extension operation.
func newSExtExpr(src Expr, w uint) Expr {
	sw := ExprWidth(src)
	if w == sw { // nop
		return src
	} else if w < sw { // truncate
		return NewExtractExpr(src, 0, w)
	} else if src, ok := src.(*ConstantExpr); ok && w <= MaxWidth {
		return src.SExt(w)
	}
	return &CastExpr{Src: src, Width: w, Signed: true}
}

// String returns the string representation of the expression.
func (e *CastExpr) String() string { return FormatExpr(e, 0) }

// ConstantExpr represents a bit-vector constant of up to MaxWidth bits.
type ConstantExpr struct {
	Value uint256.Int
	Width uint
}

// NewConstantExpr returns a new instance of ConstantExpr.
// The value is truncated to width bits.
func NewConstantExpr(value uint64, width uint) *ConstantExpr {
	return newConstantExpr(uint256.NewInt(value), width)
}

// NewConstantExprInt returns a constant from an arbitrary-precision value.
// The value is truncated to width bits.
func NewConstantExprInt(value *uint256.Int, width uint) *ConstantExpr {
	return newConstantExpr(new(uint256.Int).Set(value), width)
}

// NewConstantExpr128 returns a 128-bit constant from its high and low words.
func NewConstantExpr128(high, low uint64) *ConstantExpr {
	v := new(uint256.Int).Lsh(uint256.NewInt(high), 64)
	return newConstantExpr(v.Or(v, uint256.NewInt(low)), Width128)
}

// newConstantExpr masks v in place and wraps it in a constant.
func newConstantExpr(v *uint256.Int, width uint) *ConstantExpr {
	assert(width > 0 && width <= MaxWidth, "invalid constant width: %d", width)
	v.And(v, bitmask(width))
	return &ConstantExpr{Value: *v, Width: width}
}

// NewConstantExpr8 returns a 8-bit constant expression.
func NewConstantExpr8(value uint64) *ConstantExpr {
	return NewConstantExpr(value, 8)
}

// NewConstantExpr16 returns a 16-bit constant expression.
func NewConstantExpr16(value uint64) *ConstantExpr {
	return NewConstantExpr(value, 16)
}

// NewConstantExpr32 returns a 32-bit constant expression.
func NewConstantExpr32(value uint64) *ConstantExpr {
	return NewConstantExpr(value, 32)
}

// NewConstantExpr64 returns a 64-bit constant expression.
func NewConstantExpr64(value uint64) *ConstantExpr {
	return NewConstantExpr(value, 64)
}

// NewBoolConstantExpr is an ease of use function for creating constant boolean expressions.
func NewBoolConstantExpr(value bool) *ConstantExpr {
	if value {
		return NewConstantExpr(1, WidthBool)
	}
	return NewConstantExpr(0, WidthBool)
}

// String returns the string representation of the expression.
func (e *ConstantExpr) String() string { return FormatExpr(e, 0) }

// Uint64 returns the low 64 bits of the value.
func (e *ConstantExpr) Uint64() uint64 { return e.Value.Uint64() }

// IsTrue returns true if this is a boolean true expression.
func (e *ConstantExpr) IsTrue() bool {
	return e.Width == WidthBool && !e.Value.IsZero()
}

// IsFalse returns true if this is a boolean false expression.
func (e *ConstantExpr) IsFalse() bool {
	return e.Width == WidthBool && e.Value.IsZero()
}

// IsZero returns true if all bits in the value are zero.
func (e *ConstantExpr) IsZero() bool { return e.Value.IsZero() }

// IsOne returns true if the value is one.
func (e *ConstantExpr) IsOne() bool { return e.Value.Eq(uint256.NewInt(1)) }

// IsAllOnes returns true if all bits in the value are one.
func (e *ConstantExpr) IsAllOnes() bool {
	return e.Value.Eq(bitmask(e.Width))
}

// isNegative returns true if the sign bit is set.
func (e *ConstantExpr) isNegative() bool {
	return !new(uint256.Int).Rsh(&e.Value, e.Width-1).IsZero()
}

// signed returns the value sign-extended to the full 256 bits.
func (e *ConstantExpr) signed() *uint256.Int {
	v := new(uint256.Int).Set(&e.Value)
	if e.Width < MaxWidth && e.isNegative() {
		v.Or(v, new(uint256.Int).Not(bitmask(e.Width)))
	}
	return v
}

// shift returns the shift amount of other, capped at e's width.
func (e *ConstantExpr) shift(other *ConstantExpr) uint {
	if !other.Value.IsUint64() || other.Value.Uint64() >= uint64(e.Width) {
		return e.Width
	}
	return uint(other.Value.Uint64())
}

// Add returns the sum of e and other.
func (e *ConstantExpr) Add(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "add: width mismatch: %d != %d", e.Width, other.Width)
	return newConstantExpr(new(uint256.Int).Add(&e.Value, &other.Value), e.Width)
}

// Sub returns the difference of e and other.
func (e *ConstantExpr) Sub(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "sub: width mismatch: %d != %d", e.Width, other.Width)
	return newConstantExpr(new(uint256.Int).Sub(&e.Value, &other.Value), e.Width)
}

// Mul returns the product of e and other.
func (e *ConstantExpr) Mul(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "mul: width mismatch: %d != %d", e.Width, other.Width)
	return newConstantExpr(new(uint256.Int).Mul(&e.Value, &other.Value), e.Width)
}

// UDiv returns the quotient of unsigned division of e and other.
// Division by zero yields all ones.
func (e *ConstantExpr) UDiv(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "udiv: width mismatch: %d != %d", e.Width, other.Width)
	if other.IsZero() {
		return newConstantExpr(bitmask(e.Width), e.Width)
	}
	return newConstantExpr(new(uint256.Int).Div(&e.Value, &other.Value), e.Width)
}

// SDiv returns the quotient of signed division of e and other, rounded toward zero.
// Division by zero yields 1 for a negative dividend and all ones otherwise.
func (e *ConstantExpr) SDiv(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "sdiv: width mismatch: %d != %d", e.Width, other.Width)
	if other.IsZero() {
		if e.isNegative() {
			return NewConstantExpr(1, e.Width)
		}
		return newConstantExpr(bitmask(e.Width), e.Width)
	}
	return newConstantExpr(new(uint256.Int).SDiv(e.signed(), other.signed()), e.Width)
}

// URem returns the remainder of unsigned division of e and other.
// Division by zero yields e.
func (e *ConstantExpr) URem(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "urem: width mismatch: %d != %d", e.Width, other.Width)
	if other.IsZero() {
		return e
	}
	return newConstantExpr(new(uint256.Int).Mod(&e.Value, &other.Value), e.Width)
}

// SRem returns the remainder of signed division of e and other.
// The result takes the sign of e. Division by zero yields e.
func (e *ConstantExpr) SRem(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "srem: width mismatch: %d != %d", e.Width, other.Width)
	if other.IsZero() {
		return e
	}
	return newConstantExpr(new(uint256.Int).SMod(e.signed(), other.signed()), e.Width)
}

// And returns the bitwise AND of e and other.
func (e *ConstantExpr) And(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "and: width mismatch: %d != %d", e.Width, other.Width)
	return newConstantExpr(new(uint256.Int).And(&e.Value, &other.Value), e.Width)
}

// Or returns the bitwise OR of e and other.
func (e *ConstantExpr) Or(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "or: width mismatch: %d != %d", e.Width, other.Width)
	return newConstantExpr(new(uint256.Int).Or(&e.Value, &other.Value), e.Width)
}

// Xor returns the bitwise XOR of e and other.
func (e *ConstantExpr) Xor(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "xor: width mismatch: %d != %d", e.Width, other.Width)
	return newConstantExpr(new(uint256.Int).Xor(&e.Value, &other.Value), e.Width)
}

// Shl returns the value of e shifted left by other number of bits.
func (e *ConstantExpr) Shl(other *ConstantExpr) *ConstantExpr {
	n := e.shift(other)
	if n == e.Width {
		return NewConstantExpr(0, e.Width)
	}
	return newConstantExpr(new(uint256.Int).Lsh(&e.Value, n), e.Width)
}

// LShr returns the value of e logically shifted right by other number of bits.
func (e *ConstantExpr) LShr(other *ConstantExpr) *ConstantExpr {
	n := e.shift(other)
	if n == e.Width {
		return NewConstantExpr(0, e.Width)
	}
	return newConstantExpr(new(uint256.Int).Rsh(&e.Value, n), e.Width)
}

// AShr returns the value of e arithmetically shifted right by other number of bits.
func (e *ConstantExpr) AShr(other *ConstantExpr) *ConstantExpr {
	n := e.shift(other)
	if n == e.Width {
		n = e.Width - 1
	}
	return newConstantExpr(new(uint256.Int).SRsh(e.signed(), n), e.Width)
}

// Eq returns the equality of e and other.
func (e *ConstantExpr) Eq(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "eq: width mismatch: %d != %d", e.Width, other.Width)
	return NewBoolConstantExpr(e.Value.Eq(&other.Value))
}

// Ult returns the unsigned less than comparison of e to other.
func (e *ConstantExpr) Ult(other *ConstantExpr) *ConstantExpr {
	return NewBoolConstantExpr(e.Value.Lt(&other.Value))
}

// Ugt returns the unsigned greater than comparison of e to other.
func (e *ConstantExpr) Ugt(other *ConstantExpr) *ConstantExpr {
	return other.Ult(e)
}

// Ule returns the unsigned less than or equal to comparison of e to other.
func (e *ConstantExpr) Ule(other *ConstantExpr) *ConstantExpr {
	return NewBoolConstantExpr(!e.Value.Gt(&other.Value))
}

// Slt returns the signed less than comparison of e to other.
func (e *ConstantExpr) Slt(other *ConstantExpr) *ConstantExpr {
	return NewBoolConstantExpr(e.signed().Slt(other.signed()))
}

// Sgt returns the signed greater than comparison of e to other.
func (e *ConstantExpr) Sgt(other *ConstantExpr) *ConstantExpr {
	return other.Slt(e)
}

// Sle returns the signed less than or equal to comparison of e to other.
func (e *ConstantExpr) Sle(other *ConstantExpr) *ConstantExpr {
	return NewBoolConstantExpr(!e.signed().Sgt(other.signed()))
}

// ZExt returns the zero-extension of e to a new width.
func (e *ConstantExpr) ZExt(width uint) *ConstantExpr {
	if e.Width == width {
		return e
	}
	return NewConstantExprInt(&e.Value, width)
}

// SExt returns the sign-extension of e to a new width.
func (e *ConstantExpr) SExt(width uint) *ConstantExpr {
	if e.Width == width {
		return e
	}
	return newConstantExpr(e.signed(), width)
}

// Not returns the bitwise NOT of the expression.
func (e *ConstantExpr) Not() *ConstantExpr {
	return newConstantExpr(new(uint256.Int).Not(&e.Value), e.Width)
}

// Extract returns width number of bits starting at offset.
func (e *ConstantExpr) Extract(offset, width uint) *ConstantExpr {
	return newConstantExpr(new(uint256.Int).Rsh(&e.Value, offset), width)
}

// Concat returns the concatenation of e and lsb.
func (e *ConstantExpr) Concat(lsb *ConstantExpr) *ConstantExpr {
	v := new(uint256.Int).Lsh(&e.Value, lsb.Width)
	return newConstantExpr(v.Or(v, &lsb.Value), e.Width+lsb.Width)
}

// bitmask returns a value with the low width bits set.
func bitmask(width uint) *uint256.Int {
	if width >= MaxWidth {
		return new(uint256.Int).SetAllOne()
	}
	m := new(uint256.Int).Lsh(uint256.NewInt(1), width)
	return m.SubUint64(m, 1)
}

// IsConstantExpr returns true if expr is an instance of ConstantExpr.
func IsConstantExpr(expr Expr) bool {
	_, ok := expr.(*ConstantExpr)
	return ok
}

// IsConstantTrue returns true if expr is an instance of ConstantExpr and is true.
func IsConstantTrue(expr Expr) bool {
	tmp, ok := expr.(*ConstantExpr)
	return ok && tmp.IsTrue()
}

// IsConstantFalse returns true if expr is an instance of ConstantExpr and is false.
func IsConstantFalse(expr Expr) bool {
	tmp, ok := expr.(*ConstantExpr)
	return ok && tmp.IsFalse()
}

// NewIsZeroExpr returns an expression that checks the equality of other to zero.
func NewIsZeroExpr(other Expr) Expr {
	return NewBinaryExpr(EQ, newZeroExpr(ExprWidth(other)), other)
}

// newZeroExpr returns a zero of the given width. Zeros wider than MaxWidth
// are expressed as a zero-extended constant.
func newZeroExpr(width uint) Expr {
	if width <= MaxWidth {
		return NewConstantExpr(0, width)
	}
	return &CastExpr{Src: NewConstantExpr(0, MaxWidth), Width: width}
}

// FormatExpr returns the s-expression form of expr. When limit is positive the
// output stops growing once it reaches limit bytes and is cut to that length.
func FormatExpr(expr Expr, limit int) string {
	var sb strings.Builder
	writeExpr(&sb, expr, limit)
	if limit > 0 && sb.Len() > limit {
		return sb.String()[:limit]
	}
	return sb.String()
}

func writeExpr(sb *strings.Builder, expr Expr, limit int) {
	if limit > 0 && sb.Len() >= limit {
		return
	}

	switch expr := expr.(type) {
	case *ConstantExpr:
		fmt.Fprintf(sb, "(const %s %d)", expr.Value.Dec(), expr.Width)
	case *ReadExpr:
		fmt.Fprintf(sb, "(read %d)", expr.Offset)
	case *BinaryExpr:
		sb.WriteString("(" + expr.Op.String() + " ")
		writeExpr(sb, expr.LHS, limit)
		sb.WriteString(" ")
		writeExpr(sb, expr.RHS, limit)
		sb.WriteString(")")
	case *ConcatExpr:
		sb.WriteString("(concat ")
		writeExpr(sb, expr.MSB, limit)
		sb.WriteString(" ")
		writeExpr(sb, expr.LSB, limit)
		sb.WriteString(")")
	case *ExtractExpr:
		sb.WriteString("(extract ")
		writeExpr(sb, expr.Expr, limit)
		fmt.Fprintf(sb, " %d %d)", expr.Offset, expr.Width)
	case *NotExpr:
		sb.WriteString("(not ")
		writeExpr(sb, expr.Expr, limit)
		sb.WriteString(")")
	case *CastExpr:
		if expr.Signed {
			sb.WriteString("(sext ")
		} else {
			sb.WriteString("(zext ")
		}
		writeExpr(sb, expr.Src, limit)
		sb.WriteString(" " + strconv.FormatUint(uint64(expr.Width), 10) + ")")
	case nil:
		sb.WriteString("(null)")
	default:
		panic("unreachable")
	}
}

// CompareExpr returns an integer comparing two expressions.
// The result will be 0 if a==b, -1 if a < b, and +1 if a > b.
func CompareExpr(a, b Expr) int {
	if a == nil && b != nil {
		return -1
	} else if a != nil && b == nil {
		return 1
	} else if a == b {
		return 0
	}

	if ak, bk := exprKind(a), exprKind(b); ak < bk {
		return -1
	} else if ak > bk {
		return 1
	}

	switch a := a.(type) {
	case *ConstantExpr:
		return compareConstantExpr(a, b.(*ConstantExpr))
	case *ReadExpr:
		return compareReadExpr(a, b.(*ReadExpr))
	case *ConcatExpr:
		return compareConcatExpr(a, b.(*ConcatExpr))
	case *ExtractExpr:
		return compareExtractExpr(a, b.(*ExtractExpr))
	case *NotExpr:
		return CompareExpr(a.Expr, b.(*NotExpr).Expr)
	case *CastExpr:
		return compareCastExpr(a, b.(*CastExpr))
	case *BinaryExpr:
		return compareBinaryExpr(a, b.(*BinaryExpr))
	default:
		panic("unreachable")
	}
}

func compareConstantExpr(a, b *ConstantExpr) int {
	if a.Width < b.Width {
		return -1
	} else if a.Width > b.Width {
		return 1
	}
	return a.Value.Cmp(&b.Value)
}

func compareReadExpr(a, b *ReadExpr) int {
	if a.Offset < b.Offset {
		return -1
	} else if a.Offset > b.Offset {
		return 1
	}
	return 0
}

func compareConcatExpr(a, b *ConcatExpr) int {
	if cmp := CompareExpr(a.MSB, b.MSB); cmp != 0 {
		return cmp
	}
	return CompareExpr(a.LSB, b.LSB)
}

func compareExtractExpr(a, b *ExtractExpr) int {
	if a.Offset < b.Offset {
		return -1
	} else if a.Offset > b.Offset {
		return 1
	}

	if a.Width < b.Width {
		return -1
	} else if a.Width > b.Width {
		return 1
	}
	return CompareExpr(a.Expr, b.Expr)
}

func compareCastExpr(a, b *CastExpr) int {
	if a.Signed && !b.Signed {
		return -1
	} else if !a.Signed && b.Signed {
		return 1
	}

	if a.Width < b.Width {
		return -1
	} else if a.Width > b.Width {
		return 1
	}
	return CompareExpr(a.Src, b.Src)
}

func compareBinaryExpr(a, b *BinaryExpr) int {
	if a.Op < b.Op {
		return -1
	} else if a.Op > b.Op {
		return 1
	}
	if cmp := CompareExpr(a.LHS, b.LHS); cmp != 0 {
		return cmp
	}
	return CompareExpr(a.RHS, b.RHS)
}

// exprKind returns a numeric value for the type of expression.
// Only used internally for equality checks, hashing and sorting.
func exprKind(expr Expr) int {
	switch expr.(type) {
	case *ConstantExpr:
		return 1
	case *ReadExpr:
		return 2
	case *ConcatExpr:
		return 3
	case *ExtractExpr:
		return 4
	case *NotExpr:
		return 5
	case *CastExpr:
		return 6
	case *BinaryExpr:
		return 7
	default:
		panic("unreachable")
	}
}

// ExprVisitor represents a visitor that can be passed to WalkExpr().
type ExprVisitor interface {
	// Executed for every visited node. Return nil to skip the node's operands.
	Visit(expr Expr) ExprVisitor
}

// WalkExpr traverses expr depth-first, calling v.Visit for every node.
// Shared operands are visited once per reference; visitors that need
// each node once should return nil for nodes they have already seen.
func WalkExpr(v ExprVisitor, expr Expr) {
	if v = v.Visit(expr); v == nil {
		return
	}

	switch expr := expr.(type) {
	case *BinaryExpr:
		WalkExpr(v, expr.LHS)
		WalkExpr(v, expr.RHS)
	case *CastExpr:
		WalkExpr(v, expr.Src)
	case *ConcatExpr:
		WalkExpr(v, expr.MSB)
		WalkExpr(v, expr.LSB)
	case *ExtractExpr:
		WalkExpr(v, expr.Expr)
	case *NotExpr:
		WalkExpr(v, expr.Expr)
	case *ConstantExpr, *ReadExpr:
		// nop
	default:
		panic("unreachable")
	}
}

// FindReads returns the sorted, distinct input offsets read by the expressions.
func FindReads(exprs ...Expr) []uint64 {
	v := &readExprVisitor{seen: make(map[Expr]struct{}), m: make(map[uint64]struct{})}
	for _, expr := range exprs {
		WalkExpr(v, expr)
	}

	a := make([]uint64, 0, len(v.m))
	for offset := range v.m {
		a = append(a, offset)
	}
	sort.Slice(a, func(i, j int) bool { return a[i] < a[j] })
	return a
}

type readExprVisitor struct {
	seen map[Expr]struct{}
	m    map[uint64]struct{}
}

func (v *readExprVisitor) Visit(expr Expr) ExprVisitor {
	if _, ok := v.seen[expr]; ok {
		return nil
	}
	v.seen[expr] = struct{}{}

	if expr, ok := expr.(*ReadExpr); ok {
		v.m[expr.Offset] = struct{}{}
	}
	return v
}

// ExprEvaluator evaluates expressions against concrete input bytes.
type ExprEvaluator struct {
	input []byte
	cache map[Expr]*ConstantExpr
}

// NewExprEvaluator returns a new instance of ExprEvaluator for the given input.
func NewExprEvaluator(input []byte) *ExprEvaluator {
	return &ExprEvaluator{
		input: input,
		cache: make(map[Expr]*ConstantExpr),
	}
}

// Evaluate evaluates expr to a constant expression.
// Returns an error if expr reads past the end of the input.
func (ee *ExprEvaluator) Evaluate(expr Expr) (*ConstantExpr, error) {
	if c, ok := ee.cache[expr]; ok {
		return c, nil
	}
	c, err := ee.evaluate(expr)
	if err != nil {
		return nil, err
	}
	ee.cache[expr] = c
	return c, nil
}

func (ee *ExprEvaluator) evaluate(expr Expr) (*ConstantExpr, error) {
	switch expr := expr.(type) {
	case *BinaryExpr:
		lhs, err := ee.Evaluate(expr.LHS)
		if err != nil {
			return nil, err
		}
		rhs, err := ee.Evaluate(expr.RHS)
		if err != nil {
			return nil, err
		}
		return NewBinaryExpr(expr.Op, lhs, rhs).(*ConstantExpr), nil
	case *CastExpr:
		src, err := ee.Evaluate(expr.Src)
		if err != nil {
			return nil, err
		}
		if expr.Width > MaxWidth {
			return nil, fmt.Errorf("cast too wide: %d > %d", expr.Width, MaxWidth)
		}
		return NewCastExpr(src, expr.Width, expr.Signed).(*ConstantExpr), nil
	case *ConcatExpr:
		msb, err := ee.Evaluate(expr.MSB)
		if err != nil {
			return nil, err
		}
		lsb, err := ee.Evaluate(expr.LSB)
		if err != nil {
			return nil, err
		}
		if w := msb.Width + lsb.Width; w > MaxWidth {
			return nil, fmt.Errorf("concat too wide: %d > %d", w, MaxWidth)
		}
		return msb.Concat(lsb), nil
	case *ConstantExpr:
		return expr, nil
	case *ExtractExpr:
		src, err := ee.Evaluate(expr.Expr)
		if err != nil {
			return nil, err
		}
		return src.Extract(expr.Offset, expr.Width), nil
	case *NotExpr:
		src, err := ee.Evaluate(expr.Expr)
		if err != nil {
			return nil, err
		}
		return src.Not(), nil
	case *ReadExpr:
		if expr.Offset >= uint64(len(ee.input)) {
			return nil, fmt.Errorf("read out of bounds: %d >= %d", expr.Offset, len(ee.input))
		}
		return NewConstantExpr8(uint64(ee.input[expr.Offset])), nil
	default:
		return nil, fmt.Errorf("invalid expression type: %T", expr)
	}
}
