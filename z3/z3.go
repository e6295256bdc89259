package z3

import (
	"fmt"
	"strings"
	"time"
	"unsafe"

	"github.com/benbjohnson/symrt"
)

/*
#cgo LDFLAGS: -lz3
#include <z3.h>
#include <stdlib.h>
#include <stdio.h>
*/
import "C"

// Context represents a Z3 context object that is used for constructing expressions.
type Context struct {
	raw  C.Z3_context
	memo map[symrt.Expr]C.Z3_ast // per-translation cache
}

// NewContext returns a new instance of Context.
func NewContext() *Context {
	config := C.Z3_mk_config()
	defer C.Z3_del_config(config)

	raw := C.Z3_mk_context(config)
	C.Z3_set_error_handler(raw, nil)
	C.Z3_set_ast_print_mode(raw, C.Z3_PRINT_SMTLIB2_COMPLIANT)
	return &Context{raw: raw}
}

// Close deletes the underlying Z3 context.
func (ctx *Context) Close() error {
	C.Z3_del_context(ctx.raw)
	return nil
}

// err returns the error for the last API call. Returns nil if last call was successful.
func (ctx *Context) err(op string) error {
	if code := C.Z3_get_error_code(ctx.raw); code != C.Z3_OK {
		return &Error{Code: int(code), Op: op, Message: C.GoString(C.Z3_get_error_msg(ctx.raw, code))}
	}
	return nil
}

// translate returns the Z3 AST for expr. Shared subexpressions are
// translated once per call.
func (ctx *Context) translate(expr symrt.Expr) (C.Z3_ast, error) {
	ctx.memo = make(map[symrt.Expr]C.Z3_ast)
	defer func() { ctx.memo = nil }()
	return ctx.toAST(expr)
}

// toAST returns a new instance of Z3_ast from an expression.
// Boolean (1-bit) expressions are translated to the Bool sort.
func (ctx *Context) toAST(expr symrt.Expr) (C.Z3_ast, error) {
	if ast, ok := ctx.memo[expr]; ok {
		return ast, nil
	}

	var ast C.Z3_ast
	var err error
	switch expr := expr.(type) {
	case *symrt.ConstantExpr:
		ast, err = ctx.toConstantAST(expr)
	case *symrt.ReadExpr:
		ast, err = ctx.makeInputByte(expr.Offset)
	case *symrt.ConcatExpr:
		ast, err = ctx.toConcatAST(expr)
	case *symrt.ExtractExpr:
		ast, err = ctx.toExtractAST(expr)
	case *symrt.CastExpr:
		ast, err = ctx.toCastAST(expr)
	case *symrt.NotExpr:
		ast, err = ctx.toNotAST(expr)
	case *symrt.BinaryExpr:
		ast, err = ctx.toBinaryAST(expr)
	default:
		return nil, fmt.Errorf("z3.Context.toAST: invalid expression type: %T", expr)
	}
	if err != nil {
		return nil, err
	}

	if ctx.memo != nil {
		ctx.memo[expr] = ast
	}
	return ast, nil
}

// toBVAST returns expr as a bit-vector, converting booleans to a 1-bit vector.
func (ctx *Context) toBVAST(expr symrt.Expr) (C.Z3_ast, error) {
	ast, err := ctx.toAST(expr)
	if err != nil {
		return nil, err
	} else if symrt.ExprWidth(expr) != symrt.WidthBool {
		return ast, nil
	}
	return ctx.boolToBV(ast, 1, 1)
}

// boolToBV returns ite(b, whenTrue, 0) as a bit-vector of the given width.
func (ctx *Context) boolToBV(b C.Z3_ast, width uint, whenTrue uint64) (C.Z3_ast, error) {
	t, err := ctx.makeUint64(width, whenTrue)
	if err != nil {
		return nil, err
	}
	f, err := ctx.makeUint64(width, 0)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_ite(ctx.raw, b, t, f), ctx.err("Z3_mk_ite")
}

// bvToBool returns (bv == 1) for a 1-bit vector.
func (ctx *Context) bvToBool(bv C.Z3_ast) (C.Z3_ast, error) {
	one, err := ctx.makeUint64(1, 1)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_eq(ctx.raw, bv, one), ctx.err("Z3_mk_eq")
}

func (ctx *Context) toConstantAST(expr *symrt.ConstantExpr) (C.Z3_ast, error) {
	if expr.Width == symrt.WidthBool {
		if expr.IsTrue() {
			return ctx.makeTrue()
		}
		return ctx.makeFalse()
	} else if expr.Width <= 64 {
		return ctx.makeUint64(expr.Width, expr.Uint64())
	}
	return ctx.makeNumeral(expr.Width, expr.Value.Dec())
}

func (ctx *Context) toConcatAST(expr *symrt.ConcatExpr) (C.Z3_ast, error) {
	msb, err := ctx.toBVAST(expr.MSB)
	if err != nil {
		return nil, err
	}
	lsb, err := ctx.toBVAST(expr.LSB)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_concat(ctx.raw, msb, lsb), ctx.err("Z3_mk_concat")
}

func (ctx *Context) toExtractAST(expr *symrt.ExtractExpr) (C.Z3_ast, error) {
	src, err := ctx.toBVAST(expr.Expr)
	if err != nil {
		return nil, err
	}

	ast := C.Z3_mk_extract(ctx.raw, C.uint(expr.Offset+expr.Width-1), C.uint(expr.Offset), src)
	if err := ctx.err("Z3_mk_extract"); err != nil {
		return nil, err
	}

	// If extracting single bit, use EQ expression to convert to bool sort.
	if expr.Width == symrt.WidthBool {
		return ctx.bvToBool(ast)
	}
	return ast, nil
}

func (ctx *Context) toCastAST(expr *symrt.CastExpr) (C.Z3_ast, error) {
	src, err := ctx.toAST(expr.Src)
	if err != nil {
		return nil, err
	}

	// Convert boolean cast to if-then-else expression.
	srcWidth := symrt.ExprWidth(expr.Src)
	if srcWidth == symrt.WidthBool {
		whenTrue := uint64(1)
		if expr.Signed {
			whenTrue = ^uint64(0)
		}
		if expr.Width > 64 {
			bv, err := ctx.boolToBV(src, 1, 1)
			if err != nil {
				return nil, err
			}
			return ctx.extend(bv, expr.Width-1, expr.Signed)
		}
		return ctx.boolToBV(src, expr.Width, whenTrue)
	}
	return ctx.extend(src, expr.Width-srcWidth, expr.Signed)
}

func (ctx *Context) extend(src C.Z3_ast, n uint, signed bool) (C.Z3_ast, error) {
	if signed {
		return C.Z3_mk_sign_ext(ctx.raw, C.uint(n), src), ctx.err("Z3_mk_sign_ext")
	}
	return C.Z3_mk_zero_ext(ctx.raw, C.uint(n), src), ctx.err("Z3_mk_zero_ext")
}

func (ctx *Context) toNotAST(expr *symrt.NotExpr) (C.Z3_ast, error) {
	src, err := ctx.toAST(expr.Expr)
	if err != nil {
		return nil, err
	}

	// If boolean, use boolean NOT operation.
	if symrt.ExprWidth(expr.Expr) == symrt.WidthBool {
		return C.Z3_mk_not(ctx.raw, src), ctx.err("Z3_mk_not")
	}
	return C.Z3_mk_bvnot(ctx.raw, src), ctx.err("Z3_mk_bvnot")
}

func (ctx *Context) toBinaryAST(expr *symrt.BinaryExpr) (C.Z3_ast, error) {
	if symrt.ExprWidth(expr.LHS) == symrt.WidthBool {
		switch expr.Op {
		case symrt.AND, symrt.OR, symrt.XOR, symrt.EQ, symrt.NE:
			return ctx.toBoolBinaryAST(expr)
		}

		// Remaining operations on booleans are computed on 1-bit vectors.
		lhs, err := ctx.toBVAST(expr.LHS)
		if err != nil {
			return nil, err
		}
		rhs, err := ctx.toBVAST(expr.RHS)
		if err != nil {
			return nil, err
		}
		ast, err := ctx.makeBinary(expr.Op, lhs, rhs)
		if err != nil || expr.Op.IsCompare() {
			return ast, err
		}
		return ctx.bvToBool(ast)
	}

	lhs, err := ctx.toAST(expr.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := ctx.toAST(expr.RHS)
	if err != nil {
		return nil, err
	}
	return ctx.makeBinary(expr.Op, lhs, rhs)
}

// toBoolBinaryAST translates logical operations on booleans.
func (ctx *Context) toBoolBinaryAST(expr *symrt.BinaryExpr) (C.Z3_ast, error) {
	lhs, err := ctx.toAST(expr.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := ctx.toAST(expr.RHS)
	if err != nil {
		return nil, err
	}

	args := [2]C.Z3_ast{lhs, rhs}
	switch expr.Op {
	case symrt.AND:
		return C.Z3_mk_and(ctx.raw, 2, &args[0]), ctx.err("Z3_mk_and")
	case symrt.OR:
		return C.Z3_mk_or(ctx.raw, 2, &args[0]), ctx.err("Z3_mk_or")
	case symrt.XOR:
		return C.Z3_mk_xor(ctx.raw, lhs, rhs), ctx.err("Z3_mk_xor")
	case symrt.EQ:
		return C.Z3_mk_iff(ctx.raw, lhs, rhs), ctx.err("Z3_mk_iff")
	case symrt.NE:
		return C.Z3_mk_xor(ctx.raw, lhs, rhs), ctx.err("Z3_mk_xor")
	default:
		return nil, fmt.Errorf("z3.Context.toBoolBinaryAST: unexpected operation: %s", expr.Op)
	}
}

// makeBinary applies op to two bit-vectors.
func (ctx *Context) makeBinary(op symrt.BinaryOp, lhs, rhs C.Z3_ast) (C.Z3_ast, error) {
	switch op {
	case symrt.ADD:
		return C.Z3_mk_bvadd(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvadd")
	case symrt.SUB:
		return C.Z3_mk_bvsub(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvsub")
	case symrt.MUL:
		return C.Z3_mk_bvmul(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvmul")
	case symrt.UDIV:
		return C.Z3_mk_bvudiv(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvudiv")
	case symrt.SDIV:
		return C.Z3_mk_bvsdiv(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvsdiv")
	case symrt.UREM:
		return C.Z3_mk_bvurem(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvurem")
	case symrt.SREM:
		return C.Z3_mk_bvsrem(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvsrem")
	case symrt.AND:
		return C.Z3_mk_bvand(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvand")
	case symrt.OR:
		return C.Z3_mk_bvor(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvor")
	case symrt.XOR:
		return C.Z3_mk_bvxor(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvxor")
	case symrt.SHL:
		return C.Z3_mk_bvshl(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvshl")
	case symrt.LSHR:
		return C.Z3_mk_bvlshr(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvlshr")
	case symrt.ASHR:
		return C.Z3_mk_bvashr(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvashr")
	case symrt.EQ:
		return C.Z3_mk_eq(ctx.raw, lhs, rhs), ctx.err("Z3_mk_eq")
	case symrt.NE:
		eq := C.Z3_mk_eq(ctx.raw, lhs, rhs)
		if err := ctx.err("Z3_mk_eq"); err != nil {
			return nil, err
		}
		return C.Z3_mk_not(ctx.raw, eq), ctx.err("Z3_mk_not")
	case symrt.ULT:
		return C.Z3_mk_bvult(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvult")
	case symrt.ULE:
		return C.Z3_mk_bvule(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvule")
	case symrt.UGT:
		return C.Z3_mk_bvugt(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvugt")
	case symrt.UGE:
		return C.Z3_mk_bvuge(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvuge")
	case symrt.SLT:
		return C.Z3_mk_bvslt(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvslt")
	case symrt.SLE:
		return C.Z3_mk_bvsle(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvsle")
	case symrt.SGT:
		return C.Z3_mk_bvsgt(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvsgt")
	case symrt.SGE:
		return C.Z3_mk_bvsge(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvsge")
	default:
		return nil, fmt.Errorf("z3.Context.makeBinary: unexpected operation: %s", op)
	}
}

func (ctx *Context) makeTrue() (C.Z3_ast, error) {
	return C.Z3_mk_true(ctx.raw), ctx.err("Z3_mk_true")
}

func (ctx *Context) makeFalse() (C.Z3_ast, error) {
	return C.Z3_mk_false(ctx.raw), ctx.err("Z3_mk_false")
}

func (ctx *Context) makeNot(ast C.Z3_ast) (C.Z3_ast, error) {
	return C.Z3_mk_not(ctx.raw, ast), ctx.err("Z3_mk_not")
}

func (ctx *Context) makeBVSort(width uint) (C.Z3_sort, error) {
	return C.Z3_mk_bv_sort(ctx.raw, C.uint(width)), ctx.err("Z3_mk_bv_sort")
}

func (ctx *Context) makeUint64(width uint, value uint64) (C.Z3_ast, error) {
	t, err := ctx.makeBVSort(width)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_unsigned_int64(ctx.raw, C.uint64_t(value), t), ctx.err("Z3_mk_unsigned_int64")
}

// makeNumeral returns a bit-vector constant from its decimal representation.
func (ctx *Context) makeNumeral(width uint, value string) (C.Z3_ast, error) {
	t, err := ctx.makeBVSort(width)
	if err != nil {
		return nil, err
	}
	cvalue := C.CString(value)
	defer C.free(unsafe.Pointer(cvalue))
	return C.Z3_mk_numeral(ctx.raw, cvalue, t), ctx.err("Z3_mk_numeral")
}

// makeInputByte returns the 8-bit constant for the input byte at offset.
func (ctx *Context) makeInputByte(offset uint64) (C.Z3_ast, error) {
	t, err := ctx.makeBVSort(symrt.Width8)
	if err != nil {
		return nil, err
	}
	cname := C.CString(inputByteName(offset))
	defer C.free(unsafe.Pointer(cname))
	nameSymbol := C.Z3_mk_string_symbol(ctx.raw, cname)
	return C.Z3_mk_const(ctx.raw, nameSymbol, t), ctx.err("Z3_mk_const")
}

// evalInputByte returns the value of the input byte at offset in model.
func (ctx *Context) evalInputByte(model C.Z3_model, offset uint64) (byte, error) {
	z3Byte, err := ctx.makeInputByte(offset)
	if err != nil {
		return 0, err
	}

	// Evaluate the expression against the Z3 model.
	var z3Expr C.Z3_ast
	C.Z3_model_eval(ctx.raw, model, z3Byte, C.bool(true), &z3Expr)
	if err := ctx.err("Z3_model_eval"); err != nil {
		return 0, err
	}

	var value C.uint64_t
	C.Z3_get_numeral_uint64(ctx.raw, z3Expr, &value)
	if err := ctx.err("Z3_get_numeral_uint64"); err != nil {
		return 0, err
	}
	return byte(value), nil
}

func (ctx *Context) astToString(ast C.Z3_ast) string {
	return C.GoString(C.Z3_ast_to_string(ctx.raw, ast))
}

func (ctx *Context) modelToString(model C.Z3_model) string {
	return C.GoString(C.Z3_model_to_string(ctx.raw, model))
}

func inputByteName(offset uint64) string {
	return fmt.Sprintf("k!%d", offset)
}

// checkResult converts a Z3 check result to satisfiability.
func (ctx *Context) checkResult(solver C.Z3_solver, ret C.Z3_lbool) (bool, error) {
	switch ret {
	case C.Z3_L_TRUE:
		return true, nil
	case C.Z3_L_FALSE:
		return false, nil
	}

	reason := C.GoString(C.Z3_solver_get_reason_unknown(ctx.raw, solver))
	switch {
	case strings.Contains(reason, "timeout"):
		return false, symrt.ErrSolverTimeout
	case strings.Contains(reason, "canceled"):
		return false, symrt.ErrSolverCanceled
	case strings.Contains(reason, "(resource limits reached)"):
		return false, symrt.ErrSolverResourceLimit
	case strings.Contains(reason, "unknown"):
		return false, symrt.ErrSolverUnknown
	default:
		return false, fmt.Errorf("z3: %s", reason)
	}
}

// Error represents an error from the Z3 API.
type Error struct {
	Code    int
	Op      string
	Message string
}

// Error returns the error as a string.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%d)", e.Op, e.Message, e.Code)
}

// Possible error codes.
const (
	ErrorCodeOK = iota
	ErrorCodeSortError
	ErrorCodeIOB
	ErrorCodeInvalidArg
	ErrorCodeParserError
	ErrorCodeNoParser
	ErrorCodeInvalidPattern
	ErrorCodeMemoutFail
	ErrorCodeFileAccessError
	ErrorCodeInternalFatal
	ErrorCodeInvalidUsage
	ErrorCodeDecRefError
	ErrorCodeException
)

// Stats holds solver statistics.
type Stats struct {
	CheckN     int
	CheckTime  time.Duration
	JccN       int
	GeneratedN int
}
