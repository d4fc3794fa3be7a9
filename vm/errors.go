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

package vm

import "errors"

// Runtime errors: unit loading and opcode dispatch.
var (
	// ErrBadOpcode is returned when bytecode contains an unrecognized opcode.
	ErrBadOpcode = errors.New("vm: bad opcode")
	// ErrBadUnit is a generic unit-loading consistency error.
	ErrBadUnit = errors.New("vm: bad unit")
	// ErrUnitIO wraps an I/O failure while reading a unit stream.
	ErrUnitIO = errors.New("vm: unit io error")
	// ErrUnsupportedUnitVersion is returned for unit versions below the
	// minimum supported on-disk version.
	ErrUnsupportedUnitVersion = errors.New("vm: unsupported unit version")
)

// Logic errors: thread and process state faults.
var (
	// ErrBadRegister is returned when bytecode addresses a register or
	// stack slot outside the valid range.
	ErrBadRegister = errors.New("vm: bad register")
	// ErrInvalidInstructionPointer is returned when a JUMP or CALL target
	// cannot be coerced to a usable instruction index.
	ErrInvalidInstructionPointer = errors.New("vm: invalid instruction pointer")
	// ErrStackUnderflow is returned when POP is executed with ESP == EBP.
	ErrStackUnderflow = errors.New("vm: stack underflow")
	// ErrStackAccessError is returned for an out-of-range negative stack index.
	ErrStackAccessError = errors.New("vm: stack access error")
	// ErrMemoryAccess is returned when a PEEK/POKE/MEMMOVE/MEMDUP targets
	// bytes outside a block's bounds.
	ErrMemoryAccess = errors.New("vm: memory access error")
	// ErrMemoryPermission specializes ErrMemoryAccess for permission
	// mismatches (e.g. writing to a read-only block).
	ErrMemoryPermission = errors.New("vm: memory permission error")
	// ErrNullAccess specializes ErrMemoryAccess for operations attempted on
	// the reserved null block handle.
	ErrNullAccess = errors.New("vm: null access error")
	// ErrInvalidArgumentCount is returned when a CALL's argc is negative or
	// exceeds the live stack depth.
	ErrInvalidArgumentCount = errors.New("vm: invalid argument count")
	// ErrWrongProcess is returned when a thread handle is used against a
	// process that does not own it.
	ErrWrongProcess = errors.New("vm: wrong process")
)
