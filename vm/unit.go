// Copyright 2024 The Rusalka Authors
// This file is part of Rusalka.
//
// Rusalka is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Unit is the chunked binary loader and cross-unit linker. Loading a second
// unit into a process's already-loaded one appends instructions, remaps
// imports/exports/externs by content hash, and carries along three
// independent relocation sweeps (label, extern, data) so that addresses
// baked into argument pools stay correct after the append.
package vm

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

type relocationPtr struct {
	pointer  int64
	argsMask uint64
}

type dataBlockDesc struct {
	id     int64
	offset int64
	size   int64
}

type externRelocation struct {
	pointer  Value
	resolved bool
}

// Unit holds the linked state of every bytecode module read into it so far:
// the instruction and argument pools, the import/export/extern label
// tables, any relocations still pending resolution, and the static data
// blocks contributed by each loaded module.
type Unit struct {
	version    int32
	lastImport int64

	instructions []Instruction
	argv         []Value

	imports map[uint64]int64
	exports map[uint64]int64
	externs map[uint64]int64 // unresolved only

	unresolvedRelocations []relocationPtr

	data            []byte
	dataBlocks      []dataBlockDesc
	dataRelocations []relocationPtr
}

// NewUnit returns an empty Unit ready to have one or more bytecode modules
// read into it.
func NewUnit() *Unit {
	return &Unit{
		imports: make(map[uint64]int64),
		exports: make(map[uint64]int64),
		externs: make(map[uint64]int64),
	}
}

// IsValid reports whether every extern and relocation the unit has seen so
// far has been resolved.
func (u *Unit) IsValid() bool {
	return len(u.externs) == 0 && len(u.unresolvedRelocations) == 0
}

// InstructionCount returns the number of instructions currently loaded.
func (u *Unit) InstructionCount() int64 {
	return int64(len(u.instructions))
}

// FetchOp returns a decode handle for the instruction at ip.
func (u *Unit) FetchOp(ip int64) Op {
	return Op{unit: u, ip: ip}
}

// EachData calls fn once per static data block, in load order, passing the
// block's index, its current id, and its byte payload. Until
// relocateStaticData runs, the id is the one assigned at load time rather
// than a runtime block id.
func (u *Unit) EachData(fn func(index int, id int64, data []byte) bool) {
	for index, blk := range u.dataBlocks {
		if !fn(index, blk.id, u.data[blk.offset:blk.offset+blk.size]) {
			return
		}
	}
}

func valueReaderFor(version int32) func(io.Reader) (Value, error) {
	switch version {
	case 8:
		return readValueV8
	case 9:
		return readValueV9
	default:
		return nil
	}
}

func readValueV8(r io.Reader) (Value, error) {
	f, err := readFloat64(r)
	if err != nil {
		return Value{}, err
	}
	return NewFloat(f), nil
}

func readValueV9(r io.Reader) (Value, error) {
	tag, err := readI32(r)
	if err != nil {
		return Value{}, err
	}
	bits, err := readU64(r)
	if err != nil {
		return Value{}, err
	}
	return Value{Typ: Type(tag), Bits: bits}, nil
}

func (u *Unit) readInstruction(r io.Reader, reader func(io.Reader) (Value, error)) error {
	opcodeWord, err := readU16(r)
	if err != nil {
		return err
	}
	litflag, err := readU16(r)
	if err != nil {
		return err
	}

	op := Opcode(opcodeWord)
	if !op.valid() {
		return errors.Wrapf(ErrBadOpcode, "opcode %d out of range", opcodeWord)
	}

	argBase := int64(len(u.argv))
	u.instructions = append(u.instructions, Instruction{Opcode: op, Litflag: litflag, ArgBase: argBase})

	argc := op.ArgCount()
	for i := 0; i < argc; i++ {
		arg, err := reader(r)
		if err != nil {
			return errors.Wrapf(err, "reading argument %d of instruction %d (%s)", i, len(u.instructions)-1, op)
		}
		u.argv = append(u.argv, arg)
	}
	return nil
}

func (u *Unit) readInstructions(r io.Reader, reader func(io.Reader) (Value, error)) error {
	return readTable(r, func(index int) error {
		return u.readInstruction(r, reader)
	})
}

func (u *Unit) readImports(r io.Reader, relocations map[Value]Value) error {
	return readTable(r, func(index int) error {
		name, address, err := readLabel(r)
		if err != nil {
			return err
		}
		nameKey := LabelHash(name)
		if existing, ok := u.imports[nameKey]; !ok {
			origAddress := address
			u.lastImport--
			newAddress := u.lastImport
			if origAddress != newAddress {
				relocations[NewSigned(origAddress)] = NewSigned(newAddress)
			}
			u.imports[nameKey] = newAddress
		} else if existing != address {
			relocations[NewSigned(address)] = NewSigned(existing)
		}
		return nil
	})
}

func (u *Unit) readExports(r io.Reader, base int64, relocations map[Value]Value) error {
	return readTable(r, func(index int) error {
		name, address, err := readLabel(r)
		if err != nil {
			return err
		}
		nameKey := LabelHash(name)
		if _, ok := u.exports[nameKey]; ok {
			if base != 0 {
				relocations[NewSigned(address)] = NewSigned(address + base)
			}
			return nil
		}
		if base != 0 {
			relocations[NewSigned(address)] = NewSigned(address + base)
			address += base
		}
		u.exports[nameKey] = address
		return nil
	})
}

func (u *Unit) readExterns(r io.Reader, relocations map[Value]externRelocation) error {
	return readTable(r, func(index int) error {
		name, err := readLString(r)
		if err != nil {
			return err
		}
		nameKey := LabelHash(name)

		if exportAddr, ok := u.exports[nameKey]; ok {
			relocations[NewSigned(int64(index))] = externRelocation{NewSigned(exportAddr), true}
			return nil
		}

		if externAddr, ok := u.externs[nameKey]; ok {
			if externAddr != int64(index) {
				relocations[NewSigned(int64(index))] = externRelocation{NewSigned(externAddr), false}
			}
			return nil
		}

		newAddress := int64(len(u.externs))
		if int64(index) != newAddress {
			relocations[NewSigned(int64(index))] = externRelocation{NewSigned(newAddress), false}
		}
		u.externs[nameKey] = newAddress
		return nil
	})
}

func (u *Unit) readLabelRelocations(r io.Reader, instructionBase int64, relocations map[Value]Value) error {
	return readTable(r, func(index int) error {
		rel, err := readRelocationPtr(r)
		if err != nil {
			return err
		}
		rel.pointer += instructionBase
		argBase := u.instructions[rel.pointer].ArgBase

		eachInMask(rel.argsMask, func(maskIndex int) {
			argIndex := argBase + int64(maskIndex)
			arg := u.argv[argIndex]
			if newVal, ok := relocations[arg]; ok {
				u.argv[argIndex] = newVal
			} else if arg.I64() >= 0 {
				u.argv[argIndex] = NewSigned(arg.I64() + instructionBase)
			}
		})
		return nil
	})
}

func (u *Unit) readExternRelocations(r io.Reader, instructionBase int64, relocations map[Value]externRelocation) error {
	return readTable(r, func(index int) error {
		rel, err := readRelocationPtr(r)
		if err != nil {
			return err
		}
		rel.pointer += instructionBase
		argBase := u.instructions[rel.pointer].ArgBase

		var unresolvedMask uint64
		eachInMask(rel.argsMask, func(maskIndex int) {
			argIndex := argBase + int64(maskIndex)
			arg := u.argv[argIndex]

			entry, ok := relocations[arg]
			if ok {
				u.argv[argIndex] = entry.pointer
			}
			if !ok || !entry.resolved {
				unresolvedMask |= 1 << uint(maskIndex)
			}
		})
		if unresolvedMask != 0 {
			u.unresolvedRelocations = append(u.unresolvedRelocations, relocationPtr{pointer: rel.pointer, argsMask: unresolvedMask})
		}
		return nil
	})
}

// resolveExterns sweeps every still-unresolved extern against the current
// export table, emitting relocations for any that now resolve and
// shrinking unresolvedRelocations to only the bits that remain unresolved.
func (u *Unit) resolveExterns() {
	if len(u.unresolvedRelocations) == 0 {
		return
	}

	relocations := make(map[Value]Value)
	nextExterns := make(map[uint64]int64)

	for hash, addr := range u.externs {
		exportAddr, ok := u.exports[hash]
		if !ok {
			nextExterns[hash] = addr
			continue
		}
		relocations[NewSigned(addr)] = NewSigned(exportAddr)
	}

	if len(relocations) == 0 {
		return
	}

	var nextRelocations []relocationPtr
	for _, rel := range u.unresolvedRelocations {
		argBase := u.instructions[rel.pointer].ArgBase
		var updatedMask uint64

		eachInMask(rel.argsMask, func(maskIndex int) {
			argIndex := argBase + int64(maskIndex)
			arg := u.argv[argIndex]

			newVal, ok := relocations[arg]
			if !ok {
				updatedMask |= 1 << uint(maskIndex)
				return
			}
			u.argv[argIndex] = newVal
		})

		if updatedMask != 0 {
			nextRelocations = append(nextRelocations, relocationPtr{pointer: rel.pointer, argsMask: updatedMask})
		}
	}

	u.externs = nextExterns
	u.unresolvedRelocations = nextRelocations
}

func (u *Unit) readDataTable(r io.Reader, dataBase int64, relocations map[Value]Value) error {
	return readTable(r, func(index int) error {
		blockID := 1 + dataBase + int64(index)
		size, err := readI32(r)
		if err != nil {
			return err
		}
		blockSize := int64(size)
		offset := int64(len(u.data))

		buf := make([]byte, blockSize)
		if blockSize > 0 {
			if _, err := io.ReadFull(r, buf); err != nil {
				return errors.Wrap(ErrUnitIO, err.Error())
			}
		}
		u.data = append(u.data, buf...)
		u.dataBlocks = append(u.dataBlocks, dataBlockDesc{id: blockID, offset: offset, size: blockSize})

		if dataBase > 0 {
			relocations[NewData(1+int64(index))] = NewData(blockID)
		}
		return nil
	})
}

func (u *Unit) readDataRelocations(r io.Reader, instrBase int64, loadRelocations map[Value]Value) error {
	return readTable(r, func(index int) error {
		rel, err := readRelocationPtr(r)
		if err != nil {
			return err
		}
		rel.pointer += instrBase
		argBase := u.instructions[rel.pointer].ArgBase

		eachInMask(rel.argsMask, func(argIndex int) {
			idx := argBase + int64(argIndex)
			arg := u.argv[idx]
			if newVal, ok := loadRelocations[arg]; ok {
				u.argv[idx] = newVal
			}
		})

		u.dataRelocations = append(u.dataRelocations, rel)
		return nil
	})
}

func (u *Unit) applyInstructionRelocation(rel relocationPtr, relocations map[Value]Value) {
	argBase := u.instructions[rel.pointer].ArgBase
	eachInMask(rel.argsMask, func(argIndex int) {
		idx := argBase + int64(argIndex)
		if newVal, ok := relocations[u.argv[idx]]; ok {
			u.argv[idx] = newVal
		}
	})
}

func (u *Unit) applyRelocationTable(table []relocationPtr, relocations map[Value]Value) {
	for _, rel := range table {
		u.applyInstructionRelocation(rel, relocations)
	}
}

// relocateStaticData rewrites every data-handle argument the unit's data
// relocation table names, mapping each static data block's old id to the
// newly allocated runtime id in newIDs (indexed the same way as dataBlocks).
// It reports false if two blocks collide on the same old id.
func (u *Unit) relocateStaticData(newIDs []int64) bool {
	relocations := make(map[Value]Value, len(u.dataBlocks))
	for index := range u.dataBlocks {
		blk := &u.dataBlocks[index]
		key := NewData(blk.id)
		if _, exists := relocations[key]; exists {
			return false
		}
		relocations[key] = NewData(newIDs[index])
		blk.id = newIDs[index]
	}

	u.applyRelocationTable(u.dataRelocations, relocations)
	return true
}

// Read appends the unit encoded in r to this unit, linking its instructions,
// labels, and static data against whatever has already been loaded.
func (u *Unit) Read(r io.ReadSeeker) error {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return errors.Wrap(ErrUnitIO, err.Error())
	}
	if magic != unitMagic {
		return errors.Wrap(ErrBadUnit, "bad magic header")
	}

	version, err := readI32(r)
	if err != nil {
		return err
	}
	if version < MinUnitVersion {
		return errors.Wrapf(ErrUnsupportedUnitVersion, "version %d below minimum %d", version, MinUnitVersion)
	}
	u.version = version

	valueReader := valueReaderFor(version)
	if valueReader == nil {
		return errors.Wrapf(ErrUnsupportedUnitVersion, "no value reader for version %d", version)
	}

	instructionBase := int64(len(u.instructions))
	labelRelocations := make(map[Value]Value)

	offsets, err := readChunkOffsets(r)
	if err != nil {
		return err
	}

	if ok, err := seekToOffset(r, offsets, chunkINST); err != nil {
		return err
	} else if !ok {
		return errors.Wrap(ErrBadUnit, "unable to seek to instruction table")
	}
	if err := u.readInstructions(r, valueReader); err != nil {
		return err
	}

	if ok, err := seekToOffset(r, offsets, chunkIMPT); err != nil {
		return err
	} else if !ok {
		return errors.Wrap(ErrBadUnit, "unable to seek to imported labels table")
	}
	if err := u.readImports(r, labelRelocations); err != nil {
		return err
	}

	if ok, err := seekToOffset(r, offsets, chunkEXPT); err != nil {
		return err
	} else if !ok {
		return errors.Wrap(ErrBadUnit, "unable to seek to exported labels table")
	}
	if err := u.readExports(r, instructionBase, labelRelocations); err != nil {
		return err
	}

	if len(labelRelocations) > 0 {
		if ok, err := seekToOffset(r, offsets, chunkLREL); err != nil {
			return err
		} else if !ok {
			return errors.Wrap(ErrBadUnit, "unable to seek to relocated labels table")
		}
		if err := u.readLabelRelocations(r, instructionBase, labelRelocations); err != nil {
			return err
		}
	}

	externRelocations := make(map[Value]externRelocation)
	if ok, err := seekToOffset(r, offsets, chunkEXTS); err != nil {
		return err
	} else if !ok {
		return errors.Wrap(ErrBadUnit, "unable to seek to extern labels table")
	}
	if err := u.readExterns(r, externRelocations); err != nil {
		return err
	}

	if ok, err := seekToOffset(r, offsets, chunkEREL); err != nil {
		return err
	} else if !ok {
		return errors.Wrap(ErrBadUnit, "unable to seek to relocated externs table")
	}
	if err := u.readExternRelocations(r, instructionBase, externRelocations); err != nil {
		return err
	}

	dataRelocations := make(map[Value]Value)
	dataBase := int64(len(u.dataBlocks))

	if ok, err := seekToOffset(r, offsets, chunkDATA); err != nil {
		return err
	} else if !ok {
		return errors.Wrap(ErrBadUnit, "unable to seek to data table")
	}
	if err := u.readDataTable(r, dataBase, dataRelocations); err != nil {
		return err
	}

	if ok, err := seekToOffset(r, offsets, chunkDREL); err != nil {
		return err
	} else if !ok {
		return errors.Wrap(ErrBadUnit, "unable to seek to data relocation table")
	}
	if err := u.readDataRelocations(r, instructionBase, dataRelocations); err != nil {
		return err
	}

	u.resolveExterns()
	return nil
}

// Disassemble renders every loaded instruction as one line of text,
// printing each operand as a register index or, when its litflag bit is
// set, the literal value itself.
func (u *Unit) Disassemble() string {
	var b strings.Builder
	for i, ins := range u.instructions {
		argc := ins.Opcode.ArgCount()
		fmt.Fprintf(&b, "%d: %s", i, ins.Opcode)
		if ins.Opcode.HasLitflag() && ins.Litflag != 0 {
			fmt.Fprintf(&b, "#%x", ins.Litflag)
		}
		for a := 0; a < argc; a++ {
			arg := u.argv[ins.ArgBase+int64(a)]
			if ins.Opcode.IsLiteral(ins.Litflag, a) {
				fmt.Fprintf(&b, " %s", arg)
			} else {
				fmt.Fprintf(&b, " r%d", arg.I64())
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}
