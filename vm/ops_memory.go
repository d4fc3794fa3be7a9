// Copyright 2024 The Rusalka Authors
// This file is part of Rusalka.
//
// Rusalka is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// memopType is a PEEK/POKE type tag selecting the width and signedness of
// the value being read or written.
type memopType int64

const (
	memopUint8 memopType = iota
	memopInt8
	memopUint16
	memopInt16
	memopUint32
	memopInt32
	memopUint64
	memopInt64
	memopFloat32
	memopFloat64
	memopMax
)

var memopSize = [memopMax]int64{1, 1, 2, 2, 4, 4, 8, 8, 4, 8}

func (t *Thread) execRealloc(op Op) error {
	var blockID int64
	if op.Litflag()&0x2 == 0 {
		reg, err := t.reg(op.Arg(1).I64())
		if err != nil {
			return err
		}
		blockID = reg.I64()
	}
	size, err := t.deref(op.Arg(2), op.Litflag(), 0x4)
	if err != nil {
		return err
	}
	newID, err := t.process.ReallocBlock(blockID, size.I64())
	if err != nil {
		return err
	}
	return t.setReg(op.Arg(0).I64(), NewData(newID))
}

func (t *Thread) execFree(op Op) error {
	blockID, err := t.reg(op.Arg(0).I64())
	if err != nil {
		return err
	}
	if err := t.process.FreeBlock(blockID.I64()); err != nil {
		return err
	}
	return t.setReg(op.Arg(0).I64(), NewData(0))
}

func (t *Thread) execMemdup(op Op) error {
	blockID, err := t.deref(op.Arg(1), op.Litflag(), 0x2)
	if err != nil {
		return err
	}
	return t.setReg(op.Arg(0).I64(), NewData(t.process.DuplicateBlock(blockID.I64())))
}

func (t *Thread) execMemlen(op Op) error {
	blockID, err := t.deref(op.Arg(1), op.Litflag(), 0x2)
	if err != nil {
		return err
	}
	return t.setReg(op.Arg(0).I64(), NewSigned(t.process.BlockSize(blockID.I64())))
}

func (t *Thread) execPeek(op Op) error {
	blockIDArg, err := t.deref(op.Arg(1), op.Litflag(), 0x2)
	if err != nil {
		return err
	}
	blockID := blockIDArg.I64()
	offsetArg, err := t.deref(op.Arg(2), op.Litflag(), 0x4)
	if err != nil {
		return err
	}
	typeArg, err := t.deref(op.Arg(3), op.Litflag(), 0x8)
	if err != nil {
		return err
	}
	kind := memopType(typeArg.I64())
	if kind < 0 || kind >= memopMax {
		return errors.Wrap(ErrMemoryAccess, "invalid peek type code")
	}

	if blockID == NullBlock {
		return errors.Wrap(ErrNullAccess, "peek from null block")
	}
	data, err := t.process.GetBlock(blockID, Readable)
	if err != nil {
		return err
	}
	offset := offsetArg.I64()
	if !t.process.CheckBlockBounds(blockID, offset, memopSize[kind]) {
		return errors.Wrap(ErrMemoryAccess, "peek out of bounds")
	}

	result, err := readMemop(data, offset, kind)
	if err != nil {
		return err
	}
	return t.setReg(op.Arg(0).I64(), result)
}

func (t *Thread) execPoke(op Op) error {
	blockIDArg, err := t.reg(op.Arg(0).I64())
	if err != nil {
		return err
	}
	blockID := blockIDArg.I64()
	value, err := t.deref(op.Arg(1), op.Litflag(), 0x2)
	if err != nil {
		return err
	}
	offsetArg, err := t.deref(op.Arg(2), op.Litflag(), 0x4)
	if err != nil {
		return err
	}
	typeArg, err := t.deref(op.Arg(3), op.Litflag(), 0x8)
	if err != nil {
		return err
	}
	kind := memopType(typeArg.I64())
	if kind < 0 || kind >= memopMax {
		return errors.Wrap(ErrMemoryAccess, "invalid poke type code")
	}

	if blockID == NullBlock {
		return errors.Wrap(ErrNullAccess, "poke into null block")
	}
	data, err := t.process.GetBlock(blockID, Writable)
	if err != nil {
		return err
	}
	offset := offsetArg.I64()
	if !t.process.CheckBlockBounds(blockID, offset, memopSize[kind]) {
		return errors.Wrap(ErrMemoryAccess, "poke out of bounds")
	}

	return writeMemop(data, offset, kind, value)
}

func (t *Thread) execMemmove(op Op) error {
	dstBlockArg, err := t.reg(op.Arg(0).I64())
	if err != nil {
		return err
	}
	dstBlockID := dstBlockArg.I64()

	dstOffsetArg, err := t.deref(op.Arg(1), op.Litflag(), 0x2)
	if err != nil {
		return err
	}
	// src_block reads op[2] as a register unconditionally, then applies bit
	// 0x4 to the value just read: set means use it as the block id as-is,
	// unset means treat it as yet another register index and read through
	// it again. This two-level addressing is specific to this operand (every
	// other deref call here takes a raw instruction operand, never an
	// already-read register value) but it's what the original does.
	srcBlockReg, err := t.reg(op.Arg(2).I64())
	if err != nil {
		return err
	}
	srcBlockArg, err := t.deref(srcBlockReg, op.Litflag(), 0x4)
	if err != nil {
		return err
	}
	srcBlockID := srcBlockArg.I64()
	srcOffsetArg, err := t.deref(op.Arg(3), op.Litflag(), 0x8)
	if err != nil {
		return err
	}
	sizeArg, err := t.deref(op.Arg(4), op.Litflag(), 0x10)
	if err != nil {
		return err
	}

	dstOffset := dstOffsetArg.I64()
	srcOffset := srcOffsetArg.I64()
	size := sizeArg.I64()
	if size <= 0 || dstOffset < 0 || srcOffset < 0 {
		return nil
	}

	if !t.process.CheckBlockBounds(dstBlockID, dstOffset, size) {
		return errors.Wrap(ErrMemoryAccess, "memmove destination out of bounds")
	}
	if !t.process.CheckBlockBounds(srcBlockID, srcOffset, size) {
		return errors.Wrap(ErrMemoryAccess, "memmove source out of bounds")
	}

	dst, err := t.process.GetBlock(dstBlockID, ReadWrite)
	if err != nil {
		return err
	}
	src, err := t.process.GetBlock(srcBlockID, Readable)
	if err != nil {
		return err
	}
	copy(dst[dstOffset:dstOffset+size], src[srcOffset:srcOffset+size])
	return nil
}

func readMemop(data []byte, offset int64, kind memopType) (Value, error) {
	switch kind {
	case memopUint8:
		return NewUnsigned(uint64(data[offset])), nil
	case memopInt8:
		return NewSigned(int64(int8(data[offset]))), nil
	case memopUint16:
		return NewUnsigned(uint64(binary.LittleEndian.Uint16(data[offset:]))), nil
	case memopInt16:
		return NewSigned(int64(int16(binary.LittleEndian.Uint16(data[offset:])))), nil
	case memopUint32:
		return NewUnsigned(uint64(binary.LittleEndian.Uint32(data[offset:]))), nil
	case memopInt32:
		return NewSigned(int64(int32(binary.LittleEndian.Uint32(data[offset:])))), nil
	case memopUint64:
		return NewUnsigned(binary.LittleEndian.Uint64(data[offset:])), nil
	case memopInt64:
		return NewSigned(int64(binary.LittleEndian.Uint64(data[offset:]))), nil
	case memopFloat32:
		return NewFloat(float64(math.Float32frombits(binary.LittleEndian.Uint32(data[offset:])))), nil
	case memopFloat64:
		return NewFloat(math.Float64frombits(binary.LittleEndian.Uint64(data[offset:]))), nil
	default:
		return Value{}, errors.Wrap(ErrMemoryAccess, "invalid memop type code")
	}
}

func writeMemop(data []byte, offset int64, kind memopType, v Value) error {
	switch kind {
	case memopUint8:
		data[offset] = byte(v.U64())
	case memopInt8:
		data[offset] = byte(v.I64())
	case memopUint16:
		binary.LittleEndian.PutUint16(data[offset:], uint16(v.U64()))
	case memopInt16:
		binary.LittleEndian.PutUint16(data[offset:], uint16(v.I64()))
	case memopUint32:
		binary.LittleEndian.PutUint32(data[offset:], uint32(v.U64()))
	case memopInt32:
		binary.LittleEndian.PutUint32(data[offset:], uint32(v.I64()))
	case memopUint64:
		binary.LittleEndian.PutUint64(data[offset:], v.U64())
	case memopInt64:
		binary.LittleEndian.PutUint64(data[offset:], uint64(v.I64()))
	case memopFloat32:
		binary.LittleEndian.PutUint32(data[offset:], math.Float32bits(float32(v.F64())))
	case memopFloat64:
		binary.LittleEndian.PutUint64(data[offset:], math.Float64bits(v.F64()))
	default:
		return errors.Wrap(ErrMemoryAccess, "invalid memop type code")
	}
	return nil
}
