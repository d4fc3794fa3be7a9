// Copyright 2024 The Rusalka Authors
// This file is part of Rusalka.
//
// Rusalka is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

// Instruction is a single decoded bytecode record: an opcode, its litflag
// mask, and the base offset of its operands in the owning Unit's argument
// pool.
type Instruction struct {
	Opcode  Opcode
	Litflag uint16
	ArgBase int64
}

// Op is a decode handle bound to one instruction within a Unit: it resolves
// operand indices against the unit's argument pool lazily, rather than
// copying the operand slice up front.
type Op struct {
	unit *Unit
	ip   int64
}

// Opcode returns the instruction's opcode.
func (o Op) Opcode() Opcode {
	return o.unit.instructions[o.ip].Opcode
}

// Litflag returns the instruction's litflag mask.
func (o Op) Litflag() uint16 {
	return o.unit.instructions[o.ip].Litflag
}

// Arg returns operand index within the instruction's own argument list.
func (o Op) Arg(index int64) Value {
	base := o.unit.instructions[o.ip].ArgBase
	return o.unit.argv[base+index]
}
