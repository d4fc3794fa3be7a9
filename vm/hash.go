// Copyright 2024 The Rusalka Authors
// This file is part of Rusalka.
//
// Rusalka is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

// Bespoke multiplicative-plus-position string hash, ported from the
// original C++ implementation. It is used only as the label-table key for
// import/export/extern names, and is deliberately not a general-purpose
// hash (e.g. not swapped for xxhash/fnv): the exact bit-rotation sequence
// has to match across every loaded unit for label hashes to agree, so
// picking a different algorithm would only need to be re-specified here
// anyway.

// DefaultHashSeed32 is the default seed for Hash32.
const DefaultHashSeed32 uint32 = 0x9E2030F1

// DefaultHashSeed64 is the default seed for Hash64.
const DefaultHashSeed64 uint64 = 0x9E2030F19E2030F1

var maskLeft32 = [16]uint32{
	0x00000000, 0x80000000, 0xC0000000, 0xE0000000,
	0xF0000000, 0xF8000000, 0xFC000000, 0xFE000000,
	0xFF000000, 0xFF800000, 0xFFC00000, 0xFFE00000,
	0xFFF00000, 0xFFF80000, 0xFFFC0000, 0xFFFE0000,
}

var maskLeft64 = [16]uint64{
	0x0000 << 48, 0x8000 << 48, 0xC000 << 48, 0xE000 << 48,
	0xF000 << 48, 0xF800 << 48, 0xFC00 << 48, 0xFE00 << 48,
	0xFF00 << 48, 0xFF80 << 48, 0xFFC0 << 48, 0xFFE0 << 48,
	0xFFF0 << 48, 0xFFF8 << 48, 0xFFFC << 48, 0xFFFE << 48,
}

// hashShift computes the rotation amount shared by Hash32 and Hash64 for
// the byte currently being folded in.
func hashShift(c uint32) uint32 {
	return (((c & 0x9) | ((c & 0x10) >> 2) | ((c & 0x40) >> 5)) ^ ((c & 0xA) >> 5)) | ((c & 0x2) << 2) | ((c & 0x4) >> 1)
}

// Hash32 produces a 32-bit hash of data. Each call folds in data starting
// from index 0 regardless of seed, so chaining Hash32(b, Hash32(a, seed))
// only reproduces Hash32(a++b, seed) when a or b is empty.
func Hash32(data []byte, seed uint32) uint32 {
	hash := seed
	const hbits = 32
	for index, b := range data {
		c := uint32(b)
		hash = hash*439 + c*23 + (uint32(index) + 257)
		shift := hashShift(c)
		hash = (hash << shift) | (hash&maskLeft32[shift])>>(hbits-shift)
	}
	return hash
}

// Hash64 produces a 64-bit hash of data. Each call folds in data starting
// from index 0 regardless of seed, so chaining Hash64(b, Hash64(a, seed))
// only reproduces Hash64(a++b, seed) when a or b is empty.
func Hash64(data []byte, seed uint64) uint64 {
	hash := seed
	const hbits = 64
	for index, b := range data {
		c := uint64(b)
		hash = hash*5741 + c*23 + (uint64(index) + 257)
		shift := uint64(hashShift(uint32(b)))
		hash = (hash << shift) | (hash&maskLeft64[shift])>>(hbits-shift)
	}
	return hash
}

// LabelHash returns the label-table key for name: Hash64 with the default
// seed.
func LabelHash(name []byte) uint64 {
	return Hash64(name, DefaultHashSeed64)
}
