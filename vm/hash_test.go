// Copyright 2024 The Rusalka Authors
// This file is part of Rusalka.
//
// Rusalka is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import "testing"

func TestHash32Deterministic(t *testing.T) {
	a := Hash32([]byte("hello"), DefaultHashSeed32)
	b := Hash32([]byte("hello"), DefaultHashSeed32)
	if a != b {
		t.Errorf("Hash32 not deterministic: %#x != %#x", a, b)
	}
}

func TestHash32DiffersOnInput(t *testing.T) {
	a := Hash32([]byte("hello"), DefaultHashSeed32)
	b := Hash32([]byte("world"), DefaultHashSeed32)
	if a == b {
		t.Error("Hash32(hello) == Hash32(world), want distinct")
	}
}

// TestHash64SeedChaining pins a case where seeding Hash64 with a prior
// result is provably equivalent to hashing a concatenation: an empty
// right-hand side. For nonempty inputs the per-call byte index restarts at 0
// (see hash.go), so the general "chaining == concatenation" claim in the
// original implementation's doc comment does not hold; this test does not
// assert it.
func TestHash64SeedChaining(t *testing.T) {
	base := Hash64([]byte("hello"), DefaultHashSeed64)
	if got, want := Hash64(nil, base), base; got != want {
		t.Errorf("Hash64(nil, seed) = %#x, want seed %#x", got, want)
	}
}

func TestLabelHashMatchesHash64(t *testing.T) {
	name := []byte("my_function")
	if got, want := LabelHash(name), Hash64(name, DefaultHashSeed64); got != want {
		t.Errorf("LabelHash = %#x, want %#x", got, want)
	}
}

func TestHash64EmptyInputReturnsSeed(t *testing.T) {
	if got := Hash64(nil, DefaultHashSeed64); got != DefaultHashSeed64 {
		t.Errorf("Hash64(nil, seed) = %#x, want seed %#x", got, DefaultHashSeed64)
	}
}
