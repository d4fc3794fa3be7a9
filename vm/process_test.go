// Copyright 2024 The Rusalka Authors
// This file is part of Rusalka.
//
// Rusalka is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProcessAllocReallocFreeBlock(t *testing.T) {
	p := NewProcess()

	id, err := p.AllocBlock(16)
	require.NoError(t, err)
	require.NotEqual(t, NullBlock, id)
	require.Equal(t, int64(16), p.BlockSize(id))

	data, err := p.GetBlock(id, ReadWrite)
	require.NoError(t, err)
	data[0] = 0xAB

	grown, err := p.ReallocBlock(id, 32)
	require.NoError(t, err)
	require.Equal(t, id, grown)
	require.Equal(t, int64(32), p.BlockSize(id))

	data, err = p.GetBlock(id, Readable)
	require.NoError(t, err)
	require.Equal(t, byte(0xAB), data[0])

	require.NoError(t, p.FreeBlock(id))
	require.Equal(t, int64(0), p.BlockSize(id))
}

func TestProcessReallocUnknownBlockErrors(t *testing.T) {
	p := NewProcess()
	_, err := p.ReallocBlock(42, 8)
	require.ErrorIs(t, err, ErrMemoryAccess)
}

func TestProcessFreeNullOrUnknownErrors(t *testing.T) {
	p := NewProcess()
	require.ErrorIs(t, p.FreeBlock(NullBlock), ErrNullAccess)
	require.ErrorIs(t, p.FreeBlock(99), ErrMemoryAccess)
}

func TestProcessGetBlockPermissionMismatch(t *testing.T) {
	p := NewProcess()
	id, err := p.AllocBlock(4)
	require.NoError(t, err)

	p.blocks[id].flags = Readable // drop write permission directly for the test

	_, err = p.GetBlock(id, Writable)
	require.ErrorIs(t, err, ErrMemoryPermission)
}

func TestProcessGetBlockNullReturnsNilNil(t *testing.T) {
	p := NewProcess()
	data, err := p.GetBlock(NullBlock, Readable)
	require.NoError(t, err)
	require.Nil(t, data)
}

func TestProcessDuplicateBlockCopiesContent(t *testing.T) {
	p := NewProcess()
	id, err := p.AllocBlock(4)
	require.NoError(t, err)
	data, err := p.GetBlock(id, Writable)
	require.NoError(t, err)
	copy(data, []byte{1, 2, 3, 4})

	dup := p.DuplicateBlock(id)
	require.NotEqual(t, NullBlock, dup)
	require.NotEqual(t, id, dup)

	dupData, err := p.GetBlock(dup, Readable)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, dupData)
}

func TestProcessDuplicateBlockUnknownReturnsZero(t *testing.T) {
	p := NewProcess()
	require.Equal(t, int64(0), p.DuplicateBlock(123))
}

func TestProcessCheckBlockBounds(t *testing.T) {
	p := NewProcess()
	id, err := p.AllocBlock(8)
	require.NoError(t, err)

	require.True(t, p.CheckBlockBounds(id, 0, 8))
	require.True(t, p.CheckBlockBounds(id, 4, 4))
	require.False(t, p.CheckBlockBounds(id, 4, 8))
	require.False(t, p.CheckBlockBounds(id, -1, 4))
	require.False(t, p.CheckBlockBounds(id, 0, -1))
}

func TestProcessMakeThreadAndDestroyThreadReusesSlot(t *testing.T) {
	p := NewProcess()
	a := p.MakeThread(8)
	b := p.MakeThread(8)
	require.Equal(t, int64(0), a.ThreadIndex())
	require.Equal(t, int64(1), b.ThreadIndex())

	p.DestroyThread(a.ThreadIndex())
	require.Nil(t, p.ThreadByIndex(0))

	c := p.MakeThread(8)
	require.Equal(t, int64(0), c.ThreadIndex(), "destroyed slot should be reused before appending")
}

func TestProcessThreadByIndexOutOfRangeIsNil(t *testing.T) {
	p := NewProcess()
	require.Nil(t, p.ThreadByIndex(5))
	require.Nil(t, p.ThreadByIndex(-1))
}

func TestProcessForkThreadRejectsForeignThread(t *testing.T) {
	p1 := NewProcess()
	p2 := NewProcess()
	t1 := p1.MakeThread(8)

	_, err := p2.ForkThread(t1)
	require.ErrorIs(t, err, ErrWrongProcess)
}

func TestProcessForkThreadCopiesState(t *testing.T) {
	p := NewProcess()
	parent := p.MakeThread(8)
	require.NoError(t, parent.setReg(10, NewSigned(7)))

	child, err := p.ForkThread(parent)
	require.NoError(t, err)
	require.NotEqual(t, parent.ThreadIndex(), child.ThreadIndex())

	v, err := child.reg(10)
	require.NoError(t, err)
	require.Equal(t, int64(7), v.I64())
}

func TestProcessBindCallbackRequiresUnitWithImport(t *testing.T) {
	p := NewProcess()
	ok, _ := p.BindCallback("nonexistent", nil, nil)
	require.False(t, ok, "binding without a loaded unit should fail")
}
