// Copyright 2024 The Rusalka Authors
// This file is part of Rusalka.
//
// Rusalka is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

// BlockFlags describes the access permissions and provenance of a memory
// block.
type BlockFlags uint32

const (
	NoPermissions BlockFlags = 0
	Readable      BlockFlags = 1 << 0
	Writable      BlockFlags = 1 << 1
	Static        BlockFlags = 1 << 2

	ReadWrite  = Readable | Writable
	SourceData = Static | Readable
)

// NullBlock is the reserved handle that never appears in a process's block
// table. BlockSize, GetBlock and DuplicateBlock treat it as empty; FreeBlock
// and PEEK/POKE reject it with ErrNullAccess.
const NullBlock int64 = 0

// block is one entry of a Process's block table: a resizable byte buffer
// with access flags.
type block struct {
	flags BlockFlags
	data  []byte
}

func (b *block) size() int64 {
	return int64(len(b.data))
}
