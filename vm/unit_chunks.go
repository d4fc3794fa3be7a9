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
	"io"
	"math"

	"github.com/pkg/errors"
)

// unitMagic is the 4-byte header every unit stream begins with.
var unitMagic = [4]byte{'R', 'S', 'V', 'K'}

// MinUnitVersion is the lowest on-disk unit version this loader accepts.
const MinUnitVersion = 8

// MaxUnitVersion is an upper bound on on-disk unit versions. Unit.Read does
// not consult it: only versions 8 and 9 have a value reader (see
// valueReaderFor), and Read rejects every other version.
const MaxUnitVersion = 200

// Chunk tags recognized in the offset table. Unrecognized tags that are
// present are simply never looked up and so are skipped by construction.
const (
	chunkVERS = "VERS"
	chunkOFFS = "OFFS"
	chunkEREL = "EREL"
	chunkLREL = "LREL"
	chunkDREL = "DREL"
	chunkDATA = "DATA"
	chunkIMPT = "IMPT"
	chunkEXPT = "EXPT"
	chunkEXTS = "EXTS"
	chunkINST = "INST"
)

func readU16(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, errors.Wrap(ErrUnitIO, err.Error())
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, errors.Wrap(ErrUnitIO, err.Error())
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func readI32(r io.Reader) (int32, error) {
	v, err := readU32(r)
	return int32(v), err
}

func readU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, errors.Wrap(ErrUnitIO, err.Error())
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func readI64(r io.Reader) (int64, error) {
	v, err := readU64(r)
	return int64(v), err
}

func readFloat64(r io.Reader) (float64, error) {
	bits, err := readU64(r)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(bits), nil
}

// readLString reads a u32-length-prefixed UTF-8 byte sequence.
func readLString(r io.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, errors.Wrap(ErrUnitIO, err.Error())
		}
	}
	return buf, nil
}

// readLabel reads a name + address pair as used by the import/export chunks.
func readLabel(r io.Reader) (name []byte, address int64, err error) {
	name, err = readLString(r)
	if err != nil {
		return nil, 0, err
	}
	address, err = readI64(r)
	if err != nil {
		return nil, 0, err
	}
	return name, address, nil
}

func readRelocationPtr(r io.Reader) (relocationPtr, error) {
	pointer, err := readI32(r)
	if err != nil {
		return relocationPtr{}, err
	}
	mask, err := readU32(r)
	if err != nil {
		return relocationPtr{}, err
	}
	return relocationPtr{pointer: int64(pointer), argsMask: uint64(mask)}, nil
}

// readTable reads an int32 record count and invokes fn once per record index.
func readTable(r io.Reader, fn func(index int) error) error {
	count, err := readI32(r)
	if err != nil {
		return err
	}
	for i := 0; i < int(count); i++ {
		if err := fn(i); err != nil {
			return err
		}
	}
	return nil
}

// eachInMask invokes fn with the bit index of every set bit in mask, least
// significant first.
func eachInMask(mask uint64, fn func(index int)) {
	for index := 0; mask != 0; index++ {
		if mask&0x1 != 0 {
			fn(index)
		}
		mask >>= 1
	}
}

// chunkOffsets maps a recognized chunk tag to its byte offset within the
// unit stream, as read from the offset table that follows the version.
type chunkOffsets map[string]int64

func readChunkOffsets(r io.Reader) (chunkOffsets, error) {
	count, err := readI32(r)
	if err != nil {
		return nil, err
	}
	offsets := make(chunkOffsets, count)
	for i := 0; i < int(count); i++ {
		var tag [4]byte
		if _, err := io.ReadFull(r, tag[:]); err != nil {
			return nil, errors.Wrap(ErrUnitIO, err.Error())
		}
		offset, err := readI64(r)
		if err != nil {
			return nil, err
		}
		offsets[string(tag[:])] = offset
	}
	return offsets, nil
}

// seekToOffset seeks rs to the byte offset recorded for tag, if present.
func seekToOffset(rs io.ReadSeeker, offsets chunkOffsets, tag string) (bool, error) {
	offset, ok := offsets[tag]
	if !ok {
		return false, nil
	}
	if _, err := rs.Seek(offset, io.SeekStart); err != nil {
		return false, errors.Wrap(ErrUnitIO, err.Error())
	}
	return true, nil
}
