// Copyright 2024 The Rusalka Authors
// This file is part of Rusalka.
//
// Rusalka is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Rusalka is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.

// Package vm implements the Rusalka register-based bytecode virtual machine:
// the tagged value type, the chunked unit loader/linker, the process state
// (memory blocks, callback bindings, thread table), and the thread
// interpreter.
package vm

import (
	"fmt"
	"math"
)

// Type is the discriminant of a tagged Value.
type Type uint8

// Type ordering matters: arithmetic promotion picks max(lhs.Type, rhs.Type),
// so UNSIGNED < SIGNED < FLOAT must hold for the numeric tags.
const (
	Unsigned Type = iota
	Signed
	Float
	Data
	Undefined
	Error
)

// minComparable is the lowest type tag eligible for ordered/equality
// comparison; maxArithmetic is the highest type tag eligible for promotion
// through an arithmetic operator.
const (
	minComparable = Unsigned
	maxArithmetic = Float
)

var typeNames = [...]string{
	Unsigned:  "uint",
	Signed:    "int",
	Float:     "float",
	Data:      "data",
	Undefined: "undefined",
	Error:     "error",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Epsilon is the default tolerance used by Value.Fcmp.
const Epsilon = 1.0e-17

// FcmpResult is the three-way result of a tolerant float comparison.
type FcmpResult int

const (
	Less    FcmpResult = -1
	Equal   FcmpResult = 0
	Greater FcmpResult = 1
)

// Value is a 16-byte tagged number: a discriminant plus a 64-bit payload
// interpreted per Type. DATA denotes an opaque handle to a memory block and
// compares by id, not by numeric value.
type Value struct {
	Typ  Type
	Bits uint64
}

// NewUnsigned returns an UNSIGNED value.
func NewUnsigned(u uint64) Value { return Value{Typ: Unsigned, Bits: u} }

// NewSigned returns a SIGNED value, sign-preserving.
func NewSigned(i int64) Value { return Value{Typ: Signed, Bits: uint64(i)} }

// NewFloat returns a FLOAT value.
func NewFloat(f float64) Value { return Value{Typ: Float, Bits: math.Float64bits(f)} }

// NewData returns a DATA handle value for the given block id.
func NewData(id int64) Value { return Value{Typ: Data, Bits: uint64(id)} }

// UndefinedValue is the canonical UNDEFINED value.
func UndefinedValue() Value { return Value{Typ: Undefined} }

// ErrorValue is the canonical ERROR value.
func ErrorValue() Value { return Value{Typ: Error} }

// NaN returns a FLOAT value holding the IEEE-754 quiet NaN.
func NaN() Value { return NewFloat(math.NaN()) }

// Infinity returns a FLOAT value holding positive infinity.
func Infinity() Value { return NewFloat(math.Inf(1)) }

// f64 reinterprets Bits as a float64 for FLOAT-typed values.
func (v Value) f64() float64 { return math.Float64frombits(v.Bits) }

// s64 reinterprets Bits as an int64.
func (v Value) s64() int64 { return int64(v.Bits) }

// F64 converts v to a float64 regardless of its tag, rounding integers
// exactly (within float64 precision) and passing FLOAT through unchanged.
func (v Value) F64() float64 {
	switch v.Typ {
	case Unsigned:
		return float64(v.Bits)
	case Data, Signed:
		return float64(v.s64())
	default:
		return v.f64()
	}
}

// I64 converts v to an int64, truncating floats toward zero.
func (v Value) I64() int64 {
	switch v.Typ {
	case Unsigned:
		return int64(v.Bits)
	case Float:
		return int64(v.f64())
	default: // Data, Signed, Undefined, Error
		return v.s64()
	}
}

// U64 converts v to a uint64, truncating floats toward zero.
func (v Value) U64() uint64 {
	switch v.Typ {
	case Data, Signed:
		return uint64(v.s64())
	case Float:
		return uint64(v.f64())
	default: // Unsigned, Undefined, Error
		return v.Bits
	}
}

// As returns a copy of v coerced to newType. Coercion between arithmetic
// tags (UNSIGNED/SIGNED/FLOAT) is numeric; coercion from UNDEFINED/ERROR, or
// to any non-arithmetic tag, yields UNDEFINED.
func (v Value) As(newType Type) Value {
	if v.Typ == newType {
		return v
	}
	switch newType {
	case Signed:
		switch v.Typ {
		case Unsigned:
			return NewSigned(int64(v.Bits))
		case Float:
			return NewSigned(int64(v.f64()))
		default:
			return UndefinedValue()
		}
	case Unsigned:
		switch v.Typ {
		case Signed:
			return NewUnsigned(uint64(v.s64()))
		case Float:
			return NewUnsigned(uint64(v.f64()))
		default:
			return UndefinedValue()
		}
	case Float:
		switch v.Typ {
		case Unsigned:
			return NewFloat(float64(v.Bits))
		case Signed:
			return NewFloat(float64(v.s64()))
		default:
			return UndefinedValue()
		}
	default:
		return UndefinedValue()
	}
}

// Convert coerces v in place to newType, returning v for chaining.
func (v *Value) Convert(newType Type) Value {
	if v.Typ != newType {
		*v = v.As(newType)
	}
	return *v
}

func maxType(a, b Type) Type {
	if a > b {
		return a
	}
	return b
}

func minType(a, b Type) Type {
	if a < b {
		return a
	}
	return b
}

// arithPromote runs the shared "promote both operands to max(type), apply
// op per-type" pattern used by Add/Sub/Mul/Mod.
func arithPromote(lhs, rhs Value, onUnsigned func(a, b uint64) uint64, onSigned func(a, b int64) int64, onFloat func(a, b float64) float64) Value {
	newType := maxType(lhs.Typ, rhs.Typ)
	lhs.Convert(newType)
	rhs.Convert(newType)
	switch newType {
	case Unsigned:
		return NewUnsigned(onUnsigned(lhs.Bits, rhs.Bits))
	case Signed:
		return NewSigned(onSigned(lhs.s64(), rhs.s64()))
	case Float:
		return NewFloat(onFloat(lhs.f64(), rhs.f64()))
	default:
		return UndefinedValue()
	}
}

// Add returns lhs + rhs, promoted to max(lhs.Type, rhs.Type).
func (v Value) Add(rhs Value) Value {
	return arithPromote(v, rhs,
		func(a, b uint64) uint64 { return a + b },
		func(a, b int64) int64 { return a + b },
		func(a, b float64) float64 { return a + b })
}

// Sub returns lhs - rhs, promoted to max(lhs.Type, rhs.Type).
func (v Value) Sub(rhs Value) Value {
	return arithPromote(v, rhs,
		func(a, b uint64) uint64 { return a - b },
		func(a, b int64) int64 { return a - b },
		func(a, b float64) float64 { return a - b })
}

// Mul returns lhs * rhs, promoted to max(lhs.Type, rhs.Type).
func (v Value) Mul(rhs Value) Value {
	return arithPromote(v, rhs,
		func(a, b uint64) uint64 { return a * b },
		func(a, b int64) int64 { return a * b },
		func(a, b float64) float64 { return a * b })
}

// Div returns lhs / rhs as a floating-point division; FLOAT division by
// zero follows IEEE-754 (±Inf or NaN), matching the source's "DIV is FLOAT /".
func (v Value) Div(rhs Value) Value {
	lhs := v.As(Float)
	r := rhs.As(Float)
	return NewFloat(lhs.f64() / r.f64())
}

// Mod returns lhs % rhs, promoted to max(lhs.Type, rhs.Type); FLOAT uses
// math.Mod (mathematical fmod).
func (v Value) Mod(rhs Value) Value {
	return arithPromote(v, rhs,
		func(a, b uint64) uint64 { return a % b },
		func(a, b int64) int64 { return a % b },
		func(a, b float64) float64 { return math.Mod(a, b) })
}

// IDiv coerces both operands to SIGNED before computing integer division.
func (v Value) IDiv(rhs Value) Value {
	lhs := v.As(Signed)
	r := rhs.As(Signed)
	return NewSigned(lhs.s64() / r.s64())
}

// IMod coerces both operands to SIGNED before computing integer modulo.
func (v Value) IMod(rhs Value) Value {
	lhs := v.As(Signed)
	r := rhs.As(Signed)
	return NewSigned(lhs.s64() % r.s64())
}

// Pow raises lhs to rhs as floating point, via math.Pow.
func (v Value) Pow(rhs Value) Value {
	lhs := v.As(Float)
	r := rhs.As(Float)
	return NewFloat(math.Pow(lhs.f64(), r.f64()))
}

// Neg negates v per its current type; UNSIGNED negation wraps.
// Any non-arithmetic input (DATA, UNDEFINED, ERROR) yields UNDEFINED.
func (v Value) Neg() Value {
	switch v.Typ {
	case Unsigned:
		return NewUnsigned(-v.Bits)
	case Signed:
		return NewSigned(-v.s64())
	case Float:
		return NewFloat(-v.f64())
	default:
		return UndefinedValue()
	}
}

// Not reinterprets v as UNSIGNED and inverts every bit.
func (v Value) Not() Value {
	switch v.Typ {
	case Unsigned, Signed, Float:
		return NewUnsigned(^v.As(Unsigned).Bits)
	default:
		return UndefinedValue()
	}
}

// And computes the bitwise AND of lhs and rhs, both coerced to UNSIGNED.
func (v Value) And(rhs Value) Value {
	lhs := v.As(Unsigned)
	r := rhs.As(Unsigned)
	if lhs.Typ != Unsigned || r.Typ != Unsigned {
		return UndefinedValue()
	}
	return NewUnsigned(lhs.Bits & r.Bits)
}

// Or computes the bitwise OR of lhs and rhs, both coerced to UNSIGNED.
func (v Value) Or(rhs Value) Value {
	lhs := v.As(Unsigned)
	r := rhs.As(Unsigned)
	if lhs.Typ != Unsigned || r.Typ != Unsigned {
		return UndefinedValue()
	}
	return NewUnsigned(lhs.Bits | r.Bits)
}

// bitwiseSignType mirrors the original's
// min(min(lhs.Type, SIGNED), max(UNSIGNED, rhs.Type)): the result is
// UNSIGNED when either operand is UNSIGNED and SIGNED otherwise. Operands
// that cannot be coerced to that type are caught by the caller's type checks.
func bitwiseSignType(lhs, rhs Type) Type {
	return minType(minType(lhs, Signed), maxType(Unsigned, rhs))
}

// Xor computes the bitwise XOR of lhs and rhs, using the original's
// signedness-preserving promotion rule (falls through to UNDEFINED unless
// both operands settle on the same type, UNSIGNED or SIGNED).
func (v Value) Xor(rhs Value) Value {
	newType := bitwiseSignType(v.Typ, rhs.Typ)
	lhs := v.As(newType)
	r := rhs.As(newType)
	if (lhs.Typ != Unsigned && lhs.Typ != Signed) || r.Typ != lhs.Typ {
		return UndefinedValue()
	}
	return Value{Typ: lhs.Typ, Bits: lhs.Bits ^ r.Bits}
}

// Shl performs a bitwise left shift. The operands must settle on the same
// arithmetic type (UNSIGNED or SIGNED) after promotion; otherwise the
// result is UNDEFINED. A zero shift amount is the identity; a negative
// shift amount (as a signed RHS) right-shifts by |n| per spec semantics at
// the opcode layer (ops_arith.go), not here.
func (v Value) Shl(rhs Value) Value {
	newType := bitwiseSignType(v.Typ, rhs.Typ)
	lhs := v.As(newType)
	r := rhs.As(newType)
	if lhs.Typ != r.Typ {
		return UndefinedValue()
	}
	switch lhs.Typ {
	case Unsigned:
		return NewUnsigned(lhs.Bits << r.Bits)
	case Signed:
		return NewSigned(lhs.s64() << uint64(r.s64()))
	default:
		return UndefinedValue()
	}
}

// Shr performs a bitwise right shift, mirroring Shl's promotion rule.
func (v Value) Shr(rhs Value) Value {
	newType := bitwiseSignType(v.Typ, rhs.Typ)
	lhs := v.As(newType)
	r := rhs.As(newType)
	if lhs.Typ != r.Typ {
		return UndefinedValue()
	}
	switch lhs.Typ {
	case Unsigned:
		return NewUnsigned(lhs.Bits >> r.Bits)
	case Signed:
		return NewSigned(lhs.s64() >> uint64(r.s64()))
	default:
		return UndefinedValue()
	}
}

// logicalCompare implements the shared comparison-operator plumbing:
// non-comparable types never compare, and only EQ/NEQ are permitted past
// FLOAT (the highest arithmetic tag).
func logicalCompare(lhs, rhs Value, isEquality bool, cmpU func(a, b uint64) bool, cmpS func(a, b int64) bool, cmpF func(a, b float64) bool) bool {
	minT := minType(lhs.Typ, rhs.Typ)
	if minT < minComparable {
		return false
	}
	maxT := maxType(lhs.Typ, rhs.Typ)
	if maxT > maxArithmetic && !isEquality {
		return false
	}
	if maxT <= maxArithmetic {
		lhs.Convert(maxT)
		rhs.Convert(maxT)
	}
	switch maxT {
	case Signed:
		return cmpS(lhs.s64(), rhs.s64())
	case Float:
		return cmpF(lhs.f64(), rhs.f64())
	default:
		return cmpU(lhs.Bits, rhs.Bits)
	}
}

// Equal reports whether lhs == rhs, comparing raw payloads after promotion.
func (v Value) Equal(rhs Value) bool {
	return logicalCompare(v, rhs, true,
		func(a, b uint64) bool { return a == b },
		func(a, b int64) bool { return a == b },
		func(a, b float64) bool { return a == b })
}

// NotEqual reports whether lhs != rhs.
func (v Value) NotEqual(rhs Value) bool { return !v.Equal(rhs) }

// Less reports whether lhs < rhs; both operands must be arithmetic.
func (v Value) Less(rhs Value) bool {
	return logicalCompare(v, rhs, false,
		func(a, b uint64) bool { return a < b },
		func(a, b int64) bool { return a < b },
		func(a, b float64) bool { return a < b })
}

// LessEqual reports whether lhs <= rhs; both operands must be arithmetic.
func (v Value) LessEqual(rhs Value) bool {
	return logicalCompare(v, rhs, false,
		func(a, b uint64) bool { return a <= b },
		func(a, b int64) bool { return a <= b },
		func(a, b float64) bool { return a <= b })
}

// Greater reports whether lhs > rhs; both operands must be arithmetic.
func (v Value) Greater(rhs Value) bool {
	return logicalCompare(v, rhs, false,
		func(a, b uint64) bool { return a > b },
		func(a, b int64) bool { return a > b },
		func(a, b float64) bool { return a > b })
}

// GreaterEqual reports whether lhs >= rhs; both operands must be arithmetic.
func (v Value) GreaterEqual(rhs Value) bool {
	return logicalCompare(v, rhs, false,
		func(a, b uint64) bool { return a >= b },
		func(a, b int64) bool { return a >= b },
		func(a, b float64) bool { return a >= b })
}

// Fcmp compares v and other as floats within the default Epsilon tolerance.
func (v Value) Fcmp(other Value) FcmpResult {
	return v.FcmpEpsilon(other, Epsilon)
}

// FcmpEpsilon compares v and other as floats within the given tolerance,
// returning Less if either side fails to coerce to FLOAT.
func (v Value) FcmpEpsilon(other Value, epsilon float64) FcmpResult {
	self := v.As(Float)
	other = other.As(Float)
	if self.Typ != Float || other.Typ != Float {
		return Less
	}
	alpha := self.f64() - other.f64()
	switch {
	case alpha > epsilon:
		return Greater
	case alpha >= -epsilon:
		return Equal
	default:
		return Less
	}
}

// IsTruthy reports whether v is considered true: nonzero payload for
// integral/DATA types, nonzero for FLOAT, and always false for
// UNDEFINED/ERROR.
func (v Value) IsTruthy() bool {
	switch v.Typ {
	case Float:
		return v.f64() != 0
	case Undefined, Error:
		return false
	default:
		return v.Bits != 0
	}
}

// IsNaN reports whether v is a FLOAT holding NaN; always false otherwise.
func (v Value) IsNaN() bool {
	return v.Typ == Float && math.IsNaN(v.f64())
}

// IsInfinity reports whether v is a FLOAT holding ±Inf; always false
// otherwise.
func (v Value) IsInfinity() bool {
	return v.Typ == Float && math.IsInf(v.f64(), 0)
}

// String renders v for debugging, matching the original's "(#kind: bits)"
// format.
func (v Value) String() string {
	switch v.Typ {
	case Error:
		return fmt.Sprintf("(#error: %#x)", v.Bits)
	case Undefined:
		return "(#undefined)"
	case Unsigned:
		return fmt.Sprintf("(#uint: %#x)", v.Bits)
	case Signed:
		return fmt.Sprintf("(#int: %d)", v.s64())
	case Float:
		return fmt.Sprintf("(#float: %v)", v.f64())
	case Data:
		return fmt.Sprintf("(#data: %d)", v.s64())
	default:
		return fmt.Sprintf("(#%d: %#x)", v.Typ, v.Bits)
	}
}
