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

// condSkip implements the shared EQ/LT/LE shape: if the comparison's
// outcome doesn't match the expected boolean, the next instruction is
// skipped. The expected operand is the raw argument-pool value itself,
// compared only against zero -- it is never register-indexed or
// litflag-gated.
func (t *Thread) condSkip(op Op, cmp func(lhs, rhs Value) bool) error {
	lhsArg, err := t.deref(op.Arg(0), op.Litflag(), 0x1)
	if err != nil {
		return err
	}
	rhsArg, err := t.deref(op.Arg(1), op.Litflag(), 0x2)
	if err != nil {
		return err
	}
	expected := op.Arg(2)
	if cmp(lhsArg, rhsArg) != (expected.I64() != 0) {
		t.setIP(t.ip() + 1)
	}
	return nil
}

func (t *Thread) execEq(op Op) error { return t.condSkip(op, Value.Equal) }
func (t *Thread) execLt(op Op) error { return t.condSkip(op, Value.Less) }
func (t *Thread) execLe(op Op) error { return t.condSkip(op, Value.LessEqual) }

func (t *Thread) execJump(op Op) error {
	target, err := t.deref(op.Arg(0), op.Litflag(), 0x1)
	if err != nil {
		return err
	}
	target = target.As(Signed)
	if target.Typ == Undefined || target.Typ == Error {
		return errors.Wrap(ErrInvalidInstructionPointer, "jump target is not a number")
	}
	t.setIP(target.I64())
	return nil
}

func (t *Thread) execPush(op Op) error {
	v, err := t.reg(op.Arg(0).I64())
	if err != nil {
		return err
	}
	return t.push(v)
}

func (t *Thread) execPop(op Op) error {
	v, err := t.pop(false)
	if err != nil {
		return err
	}
	return t.setReg(op.Arg(0).I64(), v)
}

func (t *Thread) execLoad(op Op) error {
	v, err := t.deref(op.Arg(1), op.Litflag(), 0x2)
	if err != nil {
		return err
	}
	return t.setReg(op.Arg(0).I64(), v)
}

func (t *Thread) execCall(op Op) error {
	pointer, err := t.deref(op.Arg(0), op.Litflag(), 0x1)
	if err != nil {
		return err
	}
	pointer = pointer.As(Signed)
	if pointer.Typ == Undefined || pointer.Typ == Error {
		return errors.Wrap(ErrInvalidInstructionPointer, "call target is not a number")
	}
	argc, err := t.deref(op.Arg(1), op.Litflag(), 0x2)
	if err != nil {
		return err
	}
	argc = argc.As(Signed)
	if argc.Typ == Undefined || argc.Typ == Error {
		return errors.Wrap(ErrInvalidArgumentCount, "call argument count is not a number")
	}
	return t.execCallValue(pointer.I64(), argc.I64())
}

func (t *Thread) execReturn(op Op) error {
	return t.upFrame(0)
}

func (t *Thread) execTrap(op Op) error {
	t.trap = true
	return nil
}

func (t *Thread) execDefer(op Op) error {
	if err := t.setReg(op.Arg(0).I64(), NewSigned(-1)); err != nil {
		return err
	}
	child, err := t.process.ForkThread(t)
	if err != nil {
		return err
	}
	return t.setReg(op.Arg(0).I64(), NewSigned(child.ThreadIndex()))
}

func (t *Thread) execJoin(op Op) error {
	threadReg, err := t.reg(op.Arg(1).I64())
	if err != nil {
		return err
	}
	childIndex := threadReg.I64()
	child := t.process.ThreadByIndex(childIndex)
	if child == nil {
		return errors.Wrap(ErrBadRegister, "join references an unknown or already-destroyed thread")
	}

	loops := VMMaxJoinLoops
	finished := false
	for loops > 0 && !finished {
		finished, err = child.Continue()
		if err != nil {
			return err
		}
		loops--
	}

	if err := t.setReg(op.Arg(0).I64(), child.ReturnValue()); err != nil {
		return err
	}
	t.process.DestroyThread(childIndex)
	return nil
}

func (t *Thread) execDownframe(op Op) error {
	t.downFrame(0)
	return nil
}

func (t *Thread) execUpframe(op Op) error {
	count, err := t.reg(op.Arg(0).I64())
	if err != nil {
		return err
	}
	return t.upFrame(count.I64())
}

func (t *Thread) execDropframe(op Op) error {
	return t.dropFrame()
}
