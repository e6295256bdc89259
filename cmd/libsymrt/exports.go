package main

/*
#include "hooks.h"
*/
import "C"

import (
	"unsafe"

	"github.com/benbjohnson/symrt"
)

//export _sym_initialize
func _sym_initialize() {
	current()
}

//export _sym_build_integer
func _sym_build_integer(value C.uint64_t, bits C.uint8_t) C.SymExpr {
	return C.SymExpr(current().BuildInteger(uint64(value), uint8(bits)))
}

//export _sym_build_integer128
func _sym_build_integer128(high, low C.uint64_t) C.SymExpr {
	return C.SymExpr(current().BuildInteger128(uint64(high), uint64(low)))
}

//export _sym_build_null_pointer
func _sym_build_null_pointer() C.SymExpr {
	return C.SymExpr(current().BuildNullPointer())
}

//export _sym_build_true
func _sym_build_true() C.SymExpr {
	return C.SymExpr(current().BuildTrue())
}

//export _sym_build_false
func _sym_build_false() C.SymExpr {
	return C.SymExpr(current().BuildFalse())
}

//export _sym_build_bool
func _sym_build_bool(value C.bool) C.SymExpr {
	return C.SymExpr(current().BuildBool(bool(value)))
}

func buildBinary(op symrt.BinaryOp, a, b C.SymExpr) C.SymExpr {
	return C.SymExpr(current().BuildBinary(op, symrt.Handle(a), symrt.Handle(b)))
}

//export _sym_build_add
func _sym_build_add(a, b C.SymExpr) C.SymExpr { return buildBinary(symrt.ADD, a, b) }

//export _sym_build_sub
func _sym_build_sub(a, b C.SymExpr) C.SymExpr { return buildBinary(symrt.SUB, a, b) }

//export _sym_build_mul
func _sym_build_mul(a, b C.SymExpr) C.SymExpr { return buildBinary(symrt.MUL, a, b) }

//export _sym_build_unsigned_div
func _sym_build_unsigned_div(a, b C.SymExpr) C.SymExpr { return buildBinary(symrt.UDIV, a, b) }

//export _sym_build_signed_div
func _sym_build_signed_div(a, b C.SymExpr) C.SymExpr { return buildBinary(symrt.SDIV, a, b) }

//export _sym_build_unsigned_rem
func _sym_build_unsigned_rem(a, b C.SymExpr) C.SymExpr { return buildBinary(symrt.UREM, a, b) }

//export _sym_build_signed_rem
func _sym_build_signed_rem(a, b C.SymExpr) C.SymExpr { return buildBinary(symrt.SREM, a, b) }

//export _sym_build_shift_left
func _sym_build_shift_left(a, b C.SymExpr) C.SymExpr { return buildBinary(symrt.SHL, a, b) }

//export _sym_build_logical_shift_right
func _sym_build_logical_shift_right(a, b C.SymExpr) C.SymExpr { return buildBinary(symrt.LSHR, a, b) }

//export _sym_build_arithmetic_shift_right
func _sym_build_arithmetic_shift_right(a, b C.SymExpr) C.SymExpr { return buildBinary(symrt.ASHR, a, b) }

//export _sym_build_signed_less_than
func _sym_build_signed_less_than(a, b C.SymExpr) C.SymExpr { return buildBinary(symrt.SLT, a, b) }

//export _sym_build_signed_less_equal
func _sym_build_signed_less_equal(a, b C.SymExpr) C.SymExpr { return buildBinary(symrt.SLE, a, b) }

//export _sym_build_signed_greater_than
func _sym_build_signed_greater_than(a, b C.SymExpr) C.SymExpr { return buildBinary(symrt.SGT, a, b) }

//export _sym_build_signed_greater_equal
func _sym_build_signed_greater_equal(a, b C.SymExpr) C.SymExpr { return buildBinary(symrt.SGE, a, b) }

//export _sym_build_unsigned_less_than
func _sym_build_unsigned_less_than(a, b C.SymExpr) C.SymExpr { return buildBinary(symrt.ULT, a, b) }

//export _sym_build_unsigned_less_equal
func _sym_build_unsigned_less_equal(a, b C.SymExpr) C.SymExpr { return buildBinary(symrt.ULE, a, b) }

//export _sym_build_unsigned_greater_than
func _sym_build_unsigned_greater_than(a, b C.SymExpr) C.SymExpr { return buildBinary(symrt.UGT, a, b) }

//export _sym_build_unsigned_greater_equal
func _sym_build_unsigned_greater_equal(a, b C.SymExpr) C.SymExpr { return buildBinary(symrt.UGE, a, b) }

//export _sym_build_equal
func _sym_build_equal(a, b C.SymExpr) C.SymExpr { return buildBinary(symrt.EQ, a, b) }

//export _sym_build_not_equal
func _sym_build_not_equal(a, b C.SymExpr) C.SymExpr { return buildBinary(symrt.NE, a, b) }

//export _sym_build_bool_and
func _sym_build_bool_and(a, b C.SymExpr) C.SymExpr { return buildBinary(symrt.AND, a, b) }

//export _sym_build_and
func _sym_build_and(a, b C.SymExpr) C.SymExpr { return buildBinary(symrt.AND, a, b) }

//export _sym_build_bool_or
func _sym_build_bool_or(a, b C.SymExpr) C.SymExpr { return buildBinary(symrt.OR, a, b) }

//export _sym_build_or
func _sym_build_or(a, b C.SymExpr) C.SymExpr { return buildBinary(symrt.OR, a, b) }

//export _sym_build_bool_xor
func _sym_build_bool_xor(a, b C.SymExpr) C.SymExpr { return buildBinary(symrt.NE, a, b) }

//export _sym_build_xor
func _sym_build_xor(a, b C.SymExpr) C.SymExpr { return buildBinary(symrt.XOR, a, b) }

//export _sym_build_neg
func _sym_build_neg(expr C.SymExpr) C.SymExpr {
	return C.SymExpr(current().BuildNeg(symrt.Handle(expr)))
}

//export _sym_build_not
func _sym_build_not(expr C.SymExpr) C.SymExpr {
	return C.SymExpr(current().BuildNot(symrt.Handle(expr)))
}

//export _sym_build_sext
func _sym_build_sext(expr C.SymExpr, bits C.uint8_t) C.SymExpr {
	return C.SymExpr(current().BuildSExt(symrt.Handle(expr), uint8(bits)))
}

//export _sym_build_zext
func _sym_build_zext(expr C.SymExpr, bits C.uint8_t) C.SymExpr {
	return C.SymExpr(current().BuildZExt(symrt.Handle(expr), uint8(bits)))
}

//export _sym_build_trunc
func _sym_build_trunc(expr C.SymExpr, bits C.uint8_t) C.SymExpr {
	return C.SymExpr(current().BuildTrunc(symrt.Handle(expr), uint8(bits)))
}

//export _sym_push_path_constraint
func _sym_push_path_constraint(constraint C.SymExpr, taken C.int, siteID C.uintptr_t) {
	current().PushPathConstraint(symrt.Handle(constraint), taken != 0, uint64(siteID))
}

//export _sym_get_input_byte
func _sym_get_input_byte(offset C.size_t) C.SymExpr {
	return C.SymExpr(current().GetInputByte(uint64(offset)))
}

//export _sym_concat_helper
func _sym_concat_helper(a, b C.SymExpr) C.SymExpr {
	return C.SymExpr(current().BuildConcat(symrt.Handle(a), symrt.Handle(b)))
}

//export _sym_extract_helper
func _sym_extract_helper(expr C.SymExpr, firstBit, lastBit C.size_t) C.SymExpr {
	return C.SymExpr(current().BuildExtract(symrt.Handle(expr), uint(firstBit), uint(lastBit)))
}

//export _sym_bits_helper
func _sym_bits_helper(expr C.SymExpr) C.size_t {
	return C.size_t(current().Bits(symrt.Handle(expr)))
}

//export _sym_build_bool_to_bits
func _sym_build_bool_to_bits(expr C.SymExpr, bits C.uint8_t) C.SymExpr {
	return C.SymExpr(current().BuildBoolToBits(symrt.Handle(expr), uint8(bits)))
}

// Floating point is not tracked symbolically.

//export _sym_build_float
func _sym_build_float(value C.double, isDouble C.int) C.SymExpr {
	return C.SymExpr(current().BuildFloat(float64(value), isDouble != 0))
}

func buildFloatOp(operands ...C.SymExpr) C.SymExpr {
	a := make([]symrt.Handle, len(operands))
	for i := range operands {
		a[i] = symrt.Handle(operands[i])
	}
	return C.SymExpr(current().BuildFloatOp(a...))
}

//export _sym_build_fp_add
func _sym_build_fp_add(a, b C.SymExpr) C.SymExpr { return buildFloatOp(a, b) }

//export _sym_build_fp_sub
func _sym_build_fp_sub(a, b C.SymExpr) C.SymExpr { return buildFloatOp(a, b) }

//export _sym_build_fp_mul
func _sym_build_fp_mul(a, b C.SymExpr) C.SymExpr { return buildFloatOp(a, b) }

//export _sym_build_fp_div
func _sym_build_fp_div(a, b C.SymExpr) C.SymExpr { return buildFloatOp(a, b) }

//export _sym_build_fp_rem
func _sym_build_fp_rem(a, b C.SymExpr) C.SymExpr { return buildFloatOp(a, b) }

//export _sym_build_float_ordered_greater_than
func _sym_build_float_ordered_greater_than(a, b C.SymExpr) C.SymExpr { return buildFloatOp(a, b) }

//export _sym_build_float_ordered_greater_equal
func _sym_build_float_ordered_greater_equal(a, b C.SymExpr) C.SymExpr { return buildFloatOp(a, b) }

//export _sym_build_float_ordered_less_than
func _sym_build_float_ordered_less_than(a, b C.SymExpr) C.SymExpr { return buildFloatOp(a, b) }

//export _sym_build_float_ordered_less_equal
func _sym_build_float_ordered_less_equal(a, b C.SymExpr) C.SymExpr { return buildFloatOp(a, b) }

//export _sym_build_float_ordered_equal
func _sym_build_float_ordered_equal(a, b C.SymExpr) C.SymExpr { return buildFloatOp(a, b) }

//export _sym_build_float_ordered_not_equal
func _sym_build_float_ordered_not_equal(a, b C.SymExpr) C.SymExpr { return buildFloatOp(a, b) }

//export _sym_build_float_ordered
func _sym_build_float_ordered(a, b C.SymExpr) C.SymExpr { return buildFloatOp(a, b) }

//export _sym_build_float_unordered
func _sym_build_float_unordered(a, b C.SymExpr) C.SymExpr { return buildFloatOp(a, b) }

//export _sym_build_float_unordered_greater_than
func _sym_build_float_unordered_greater_than(a, b C.SymExpr) C.SymExpr { return buildFloatOp(a, b) }

//export _sym_build_float_unordered_greater_equal
func _sym_build_float_unordered_greater_equal(a, b C.SymExpr) C.SymExpr { return buildFloatOp(a, b) }

//export _sym_build_float_unordered_less_than
func _sym_build_float_unordered_less_than(a, b C.SymExpr) C.SymExpr { return buildFloatOp(a, b) }

//export _sym_build_float_unordered_less_equal
func _sym_build_float_unordered_less_equal(a, b C.SymExpr) C.SymExpr { return buildFloatOp(a, b) }

//export _sym_build_float_unordered_equal
func _sym_build_float_unordered_equal(a, b C.SymExpr) C.SymExpr { return buildFloatOp(a, b) }

//export _sym_build_float_unordered_not_equal
func _sym_build_float_unordered_not_equal(a, b C.SymExpr) C.SymExpr { return buildFloatOp(a, b) }

//export _sym_build_fp_abs
func _sym_build_fp_abs(a C.SymExpr) C.SymExpr { return buildFloatOp(a) }

//export _sym_build_int_to_float
func _sym_build_int_to_float(a C.SymExpr, isDouble, isSigned C.int) C.SymExpr {
	return buildFloatOp(a)
}

//export _sym_build_float_to_float
func _sym_build_float_to_float(a C.SymExpr, toDouble C.int) C.SymExpr { return buildFloatOp(a) }

//export _sym_build_bits_to_float
func _sym_build_bits_to_float(a C.SymExpr, toDouble C.int) C.SymExpr { return buildFloatOp(a) }

//export _sym_build_float_to_bits
func _sym_build_float_to_bits(a C.SymExpr) C.SymExpr { return buildFloatOp(a) }

//export _sym_build_float_to_signed_integer
func _sym_build_float_to_signed_integer(a C.SymExpr, bits C.uint8_t) C.SymExpr {
	return buildFloatOp(a)
}

//export _sym_build_float_to_unsigned_integer
func _sym_build_float_to_unsigned_integer(a C.SymExpr, bits C.uint8_t) C.SymExpr {
	return buildFloatOp(a)
}

//export _sym_notify_call
func _sym_notify_call(siteID C.uintptr_t) {
	current().NotifyCall(uint64(siteID))
}

//export _sym_notify_ret
func _sym_notify_ret(siteID C.uintptr_t) {
	current().NotifyRet(uint64(siteID))
}

//export _sym_notify_basic_block
func _sym_notify_basic_block(siteID C.uintptr_t) {
	current().NotifyBasicBlock(uint64(siteID))
}

// _sym_expr_to_string returns a NUL-terminated rendering of expr. The buffer
// is reused by the next call.
//
//export _sym_expr_to_string
func _sym_expr_to_string(expr C.SymExpr) *C.char {
	s := current().ExprToString(symrt.Handle(expr))
	buf := unsafe.Slice((*byte)(unsafe.Pointer(exprString)), symrt.MaxExprStringLen+1)
	n := copy(buf[:symrt.MaxExprStringLen], s)
	buf[n] = 0
	return exprString
}

//export _sym_feasible
func _sym_feasible(expr C.SymExpr) C.bool {
	return C.bool(current().Feasible(symrt.Handle(expr)))
}

//export _sym_collect_garbage
func _sym_collect_garbage() {
	current().CollectGarbage()
}
