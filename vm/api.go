// Copyright 2024 The Rusalka Authors
// This file is part of Rusalka.
//
// Rusalka is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import (
	"io"

	"github.com/pkg/errors"
)

// LoadUnit reads a unit from r and installs it as p's active unit.
func LoadUnit(p *Process, r io.ReadSeeker) error {
	u := NewUnit()
	if err := u.Read(r); err != nil {
		return err
	}
	if !u.IsValid() {
		return errors.Wrap(ErrBadUnit, "unit has unresolved externs or relocations")
	}
	return p.SetUnit(u)
}

// Call runs the function bound to name (an export or import) on thread,
// pushing args in order before transferring control, and returns whatever
// value the call left in the thread's return-value register.
//
// If the call resolves to a host callback, the callback runs immediately
// and Call returns its result without the thread suspending. Otherwise
// Call drives thread.Continue in a loop until the call frame unwinds.
func Call(thread *Thread, name string, args ...Value) (Value, error) {
	pointer, ok := thread.process.FindFunctionPointer(name)
	if !ok {
		return Value{}, errors.Wrapf(ErrInvalidInstructionPointer, "no function named %q", name)
	}
	return CallPointer(thread, pointer, args...)
}

// CallPointer is Call by raw signed pointer instead of by name.
func CallPointer(thread *Thread, pointer int64, args ...Value) (Value, error) {
	for _, a := range args {
		if err := thread.push(a); err != nil {
			return Value{}, err
		}
	}
	if err := thread.execCallValue(pointer, int64(len(args))); err != nil {
		return Value{}, err
	}
	if pointer >= 0 {
		for {
			done, err := thread.Continue()
			if err != nil {
				return Value{}, err
			}
			if done {
				break
			}
		}
	}
	return thread.ReturnValue(), nil
}
