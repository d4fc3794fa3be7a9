// Copyright 2024 The Rusalka Authors
// This file is part of Rusalka.
//
// Rusalka is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import (
	"github.com/pkg/errors"
)

// Process owns one loaded Unit, its memory block table, its callback
// bindings, and its collection of threads. All threads created from a
// Process share these resources; the core assumes a single thread runs at
// any given moment (see Thread.Run).
type Process struct {
	unit *Unit

	blocks       map[int64]*block
	blockCounter int64

	callbacks []callbackInfo

	threads []*Thread
}

// NewProcess returns a Process with no unit loaded.
func NewProcess() *Process {
	return &Process{
		blocks:       make(map[int64]*block),
		blockCounter: 1,
	}
}

// Unit returns the process's currently active unit, or nil if none has been
// set.
func (p *Process) Unit() *Unit {
	return p.unit
}

// SetUnit installs u as the process's active unit, then allocates a fresh
// STATIC|READABLE block for every static data entry the unit carries and
// rewrites its data-handle arguments to the new runtime block ids.
func (p *Process) SetUnit(u *Unit) error {
	p.releaseAllBlocks()
	p.blockCounter = 1
	p.callbacks = make([]callbackInfo, len(u.imports))
	p.unit = u

	newIDs := make([]int64, len(u.dataBlocks))
	index := 0
	var installErr error
	u.EachData(func(i int, _ int64, data []byte) bool {
		newID, err := p.reallocBlockWithFlags(NullBlock, int64(len(data)), SourceData)
		if err != nil {
			installErr = err
			return false
		}
		blk := p.blocks[newID]
		copy(blk.data, data)
		newIDs[index] = newID
		index++
		return true
	})
	if installErr != nil {
		return installErr
	}

	if !u.relocateStaticData(newIDs) {
		return errors.Wrap(ErrBadUnit, "duplicate static data block id during install")
	}
	return nil
}

func (p *Process) releaseAllBlocks() {
	for id, blk := range p.blocks {
		if blk.flags&Static != 0 {
			continue
		}
		delete(p.blocks, id)
	}
}

func (p *Process) unusedBlockID() int64 {
	for {
		if p.blockCounter == 0 {
			p.blockCounter++
			continue
		}
		if _, exists := p.blocks[p.blockCounter]; !exists {
			id := p.blockCounter
			p.blockCounter++
			return id
		}
		p.blockCounter++
	}
}

// AllocBlock is realloc_block(0, size).
func (p *Process) AllocBlock(size int64) (int64, error) {
	return p.ReallocBlock(NullBlock, size)
}

// ReallocBlock resizes blockID if it already exists (failing if it's
// unknown or static), or allocates a fresh READABLE|WRITABLE block when
// blockID is NullBlock.
func (p *Process) ReallocBlock(blockID, size int64) (int64, error) {
	return p.reallocBlockWithFlags(blockID, size, ReadWrite)
}

func (p *Process) reallocBlockWithFlags(blockID, size int64, flags BlockFlags) (int64, error) {
	var data []byte
	if blockID != NullBlock {
		existing, ok := p.blocks[blockID]
		if !ok {
			return 0, errors.Wrap(ErrMemoryAccess, "no block found for given block id")
		}
		if existing.flags&Static != 0 {
			return 0, errors.Wrap(ErrMemoryPermission, "attempt to reallocate static block")
		}
		data = existing.data
		flags = existing.flags
	} else {
		blockID = p.unusedBlockID()
	}

	buf := make([]byte, size)
	copy(buf, data)

	p.blocks[blockID] = &block{flags: flags, data: buf}
	return blockID, nil
}

// DuplicateBlock allocates a new block of the same size as blockID and
// copies its contents, returning the new block's id, or 0 if blockID lacks
// read permission or does not exist.
func (p *Process) DuplicateBlock(blockID int64) int64 {
	src, ok := p.blocks[blockID]
	if !ok || src.flags&Readable == 0 {
		return 0
	}
	newID, err := p.ReallocBlock(NullBlock, src.size())
	if err != nil {
		return 0
	}
	copy(p.blocks[newID].data, src.data)
	return newID
}

// BlockSize returns the size in bytes of blockID, or 0 for the null block
// or an unknown block.
func (p *Process) BlockSize(blockID int64) int64 {
	if blockID == NullBlock {
		return 0
	}
	blk, ok := p.blocks[blockID]
	if !ok {
		return 0
	}
	return blk.size()
}

// FreeBlock releases blockID's storage. It fails for the null block, an
// unknown block, or a static block.
func (p *Process) FreeBlock(blockID int64) error {
	if blockID == NullBlock {
		return errors.Wrap(ErrNullAccess, "attempt to free null block")
	}
	blk, ok := p.blocks[blockID]
	if !ok {
		return errors.Wrap(ErrMemoryAccess, "attempt to free nonexistent block")
	}
	if blk.flags&Static != 0 {
		return errors.Wrap(ErrMemoryPermission, "attempt to free static memory block")
	}
	delete(p.blocks, blockID)
	return nil
}

// GetBlock returns the backing byte slice for blockID if it carries every
// flag in permissions. An empty permissions set is an error; otherwise the
// null block and an unknown block id return (nil, nil).
func (p *Process) GetBlock(blockID int64, permissions BlockFlags) ([]byte, error) {
	if permissions == NoPermissions {
		return nil, errors.Wrap(ErrMemoryPermission, "no permissions provided")
	}
	if blockID == NullBlock {
		return nil, nil
	}
	blk, ok := p.blocks[blockID]
	if !ok {
		return nil, nil
	}
	if blk.flags&permissions != permissions {
		return nil, errors.Wrap(ErrMemoryPermission, "attempt to access block with inadequate permissions")
	}
	return blk.data, nil
}

// CheckBlockBounds reports whether [offset, offset+size) lies entirely
// within blockID's bounds.
func (p *Process) CheckBlockBounds(blockID, offset, size int64) bool {
	bsize := p.BlockSize(blockID)
	end := offset + size
	return offset >= 0 && size >= 0 && size <= bsize && end <= bsize && end >= offset
}

// BindCallback binds fn (with host context ctx) to name if the active
// unit's imports reference name. It reports whether the binding succeeded
// and the import's (negative) pointer.
func (p *Process) BindCallback(name string, fn Callback, ctx any) (bool, int64) {
	if p.unit == nil {
		return false, 0
	}
	pointer, ok := p.unit.imports[LabelHash([]byte(name))]
	if !ok {
		return false, 0
	}
	idx := -(pointer + 1)
	p.callbacks[idx] = callbackInfo{fn: fn, ctx: ctx}
	return true, pointer
}

// FindFunctionPointer looks up name in the active unit's imports, then its
// exports, returning the signed pointer (negative for an import, otherwise
// non-negative) and whether it was found.
func (p *Process) FindFunctionPointer(name string) (int64, bool) {
	if p.unit == nil {
		return 0, false
	}
	key := LabelHash([]byte(name))
	if pointer, ok := p.unit.imports[key]; ok {
		return pointer, true
	}
	if pointer, ok := p.unit.exports[key]; ok {
		return pointer, true
	}
	return 0, false
}

func (p *Process) loadThread(t *Thread) {
	for i, slot := range p.threads {
		if slot == nil {
			p.threads[i] = t
			t.index = int64(i)
			return
		}
	}
	t.index = int64(len(p.threads))
	p.threads = append(p.threads, t)
}

// MakeThread creates a new thread owned by this process with the given
// stack size.
func (p *Process) MakeThread(stackSize int) *Thread {
	t := newThread(p, stackSize)
	p.loadThread(t)
	return t
}

// ForkThread duplicates thread's register and stack state into a new
// thread owned by the same process, for DEFER. It fails if thread does not
// belong to this process.
func (p *Process) ForkThread(thread *Thread) (*Thread, error) {
	if thread.process != p {
		return nil, errors.Wrap(ErrWrongProcess, "thread process doesn't match this process")
	}
	t := thread.fork()
	p.loadThread(t)
	return t, nil
}

// ThreadByIndex returns the thread previously created at index, or nil if
// index is out of range or names a destroyed thread's freed slot.
func (p *Process) ThreadByIndex(index int64) *Thread {
	if index < 0 || index >= int64(len(p.threads)) {
		return nil
	}
	return p.threads[index]
}

// DestroyThread removes the thread at index from the process's table,
// freeing its slot for reuse.
func (p *Process) DestroyThread(index int64) {
	if index < 0 || index >= int64(len(p.threads)) {
		return
	}
	p.threads[index] = nil
}
