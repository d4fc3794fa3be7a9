// Copyright 2024 The Rusalka Authors
// This file is part of Rusalka.
//
// Rusalka is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import "math"

// binaryArith implements the shared two-operand shape of ADD/SUB/MUL/DIV/
// POW/MOD/IDIV/IMOD/OR/AND/XOR: both operands are derefed through litflag
// bits 0x2 and 0x4, fn combines the two tagged values (with the Value
// method's own type rules), and the result is written to op[0].
func (t *Thread) binaryArith(op Op, fn func(lhs, rhs Value) Value) error {
	lhsArg, err := t.deref(op.Arg(1), op.Litflag(), 0x2)
	if err != nil {
		return err
	}
	rhsArg, err := t.deref(op.Arg(2), op.Litflag(), 0x4)
	if err != nil {
		return err
	}
	return t.setReg(op.Arg(0).I64(), fn(lhsArg, rhsArg))
}

func (t *Thread) execAdd(op Op) error  { return t.binaryArith(op, Value.Add) }
func (t *Thread) execSub(op Op) error  { return t.binaryArith(op, Value.Sub) }
func (t *Thread) execMul(op Op) error  { return t.binaryArith(op, Value.Mul) }
func (t *Thread) execDiv(op Op) error  { return t.binaryArith(op, Value.Div) }
func (t *Thread) execPow(op Op) error  { return t.binaryArith(op, Value.Pow) }
func (t *Thread) execMod(op Op) error  { return t.binaryArith(op, Value.Mod) }
func (t *Thread) execIDiv(op Op) error { return t.binaryArith(op, Value.IDiv) }
func (t *Thread) execIMod(op Op) error { return t.binaryArith(op, Value.IMod) }

func (t *Thread) execNeg(op Op) error {
	v, err := t.reg(op.Arg(1).I64())
	if err != nil {
		return err
	}
	return t.setReg(op.Arg(0).I64(), v.Neg())
}

func (t *Thread) execNot(op Op) error {
	v, err := t.reg(op.Arg(1).I64())
	if err != nil {
		return err
	}
	return t.setReg(op.Arg(0).I64(), v.Not())
}

func (t *Thread) execOr(op Op) error  { return t.binaryArith(op, Value.Or) }
func (t *Thread) execAnd(op Op) error { return t.binaryArith(op, Value.And) }
func (t *Thread) execXor(op Op) error { return t.binaryArith(op, Value.Xor) }

func (t *Thread) execArithShift(op Op) error {
	input, err := t.deref(op.Arg(1), op.Litflag(), 0x2)
	if err != nil {
		return err
	}
	shiftArg, err := t.deref(op.Arg(2), op.Litflag(), 0x4)
	if err != nil {
		return err
	}
	return t.setReg(op.Arg(0).I64(), NewSigned(vmShiftSigned(input.I64(), shiftArg.I64())))
}

func (t *Thread) execBitShift(op Op) error {
	input, err := t.deref(op.Arg(1), op.Litflag(), 0x2)
	if err != nil {
		return err
	}
	shiftArg, err := t.deref(op.Arg(2), op.Litflag(), 0x4)
	if err != nil {
		return err
	}
	return t.setReg(op.Arg(0).I64(), NewUnsigned(vmShiftUnsigned(input.U64(), shiftArg.I64())))
}

// vmShiftSigned and vmShiftUnsigned implement the vm_shift template: a
// positive shift goes left, a negative shift goes right by its magnitude,
// and zero is a no-op.
func vmShiftSigned(num, shift int64) int64 {
	switch {
	case shift == 0:
		return num
	case shift > 0:
		return num << uint(shift)
	default:
		return num >> uint(-shift)
	}
}

func vmShiftUnsigned(num uint64, shift int64) uint64 {
	switch {
	case shift == 0:
		return num
	case shift > 0:
		return num << uint(shift)
	default:
		return num >> uint(-shift)
	}
}

// roundingOp coerces a non-FLOAT input to FLOAT before rounding, matching
// in.as(FLOAT) in the original; a FLOAT input is rounded as it is.
func (t *Thread) roundingOp(op Op, fn func(float64) float64) error {
	v, err := t.reg(op.Arg(1).I64())
	if err != nil {
		return err
	}
	if v.Typ != Float {
		v = v.As(Float)
	}
	return t.setReg(op.Arg(0).I64(), NewFloat(fn(v.F64())))
}

func (t *Thread) execFloor(op Op) error { return t.roundingOp(op, math.Floor) }
func (t *Thread) execCeil(op Op) error  { return t.roundingOp(op, math.Ceil) }

// execRound rounds to nearest with ties to even, the equivalent of
// FE_TONEAREST: Go has no FP-rounding-mode control like C's
// fesetround/fegetround, so this uses math.RoundToEven directly.
func (t *Thread) execRound(op Op) error { return t.roundingOp(op, math.RoundToEven) }

// execRint rounds toward zero, the equivalent of FE_TOWARDZERO: Go has no
// nearbyint-under-a-rounding-mode, so this truncates via math.Trunc.
func (t *Thread) execRint(op Op) error { return t.roundingOp(op, math.Trunc) }
