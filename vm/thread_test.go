// Copyright 2024 The Rusalka Authors
// This file is part of Rusalka.
//
// Rusalka is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import "testing"

// newTestUnit builds a Unit directly from decoded instructions, bypassing
// the binary chunk format entirely; unit_test.go exercises that format.
func newTestUnit(instrs ...testUnitInstr) *Unit {
	u := NewUnit()
	for _, ins := range instrs {
		argBase := int64(len(u.argv))
		u.instructions = append(u.instructions, Instruction{Opcode: ins.op, Litflag: ins.litflag, ArgBase: argBase})
		u.argv = append(u.argv, ins.args...)
	}
	return u
}

func newTestThread(stackSize int, instrs ...testUnitInstr) *Thread {
	p := NewProcess()
	p.unit = newTestUnit(instrs...)
	return p.MakeThread(stackSize)
}

func TestThreadRegPositiveIndexesRegisterFile(t *testing.T) {
	th := newTestThread(4)
	if err := th.setReg(5, NewSigned(99)); err != nil {
		t.Fatal(err)
	}
	v, err := th.reg(5)
	if err != nil {
		t.Fatal(err)
	}
	if v.I64() != 99 {
		t.Errorf("reg(5) = %d, want 99", v.I64())
	}
}

func TestThreadRegOutOfRangeErrors(t *testing.T) {
	th := newTestThread(4)
	if _, err := th.reg(RegisterCount); err == nil {
		t.Error("reg(RegisterCount) should error, register file has RegisterCount entries (0..RegisterCount-1)")
	}
}

func TestThreadRegNegativeIsStackRelativeToESP(t *testing.T) {
	th := newTestThread(4)
	if err := th.push(NewSigned(11)); err != nil {
		t.Fatal(err)
	}
	if err := th.push(NewSigned(22)); err != nil {
		t.Fatal(err)
	}
	// ESP is now 2; off=-1 names the top of stack (index 1), off=-2 the one below.
	top, err := th.reg(-1)
	if err != nil {
		t.Fatal(err)
	}
	if top.I64() != 22 {
		t.Errorf("reg(-1) = %d, want 22 (top of stack)", top.I64())
	}
	below, err := th.reg(-2)
	if err != nil {
		t.Fatal(err)
	}
	if below.I64() != 11 {
		t.Errorf("reg(-2) = %d, want 11", below.I64())
	}
}

func TestThreadPushPopRoundTrip(t *testing.T) {
	th := newTestThread(4)
	if err := th.push(NewFloat(3.5)); err != nil {
		t.Fatal(err)
	}
	v, err := th.pop(false)
	if err != nil {
		t.Fatal(err)
	}
	if v.F64() != 3.5 {
		t.Errorf("pop() = %v, want 3.5", v.F64())
	}
}

func TestThreadPopCopyOnlyLeavesESPUnchanged(t *testing.T) {
	th := newTestThread(4)
	if err := th.push(NewSigned(1)); err != nil {
		t.Fatal(err)
	}
	espBefore := th.esp()
	if _, err := th.pop(true); err != nil {
		t.Fatal(err)
	}
	if th.esp() != espBefore {
		t.Errorf("esp changed after copy-only pop: before=%d after=%d", espBefore, th.esp())
	}
}

func TestThreadPopUnderflowErrors(t *testing.T) {
	th := newTestThread(4)
	if _, err := th.pop(false); err == nil {
		t.Error("pop on an empty frame should error")
	}
}

func TestThreadDownFrameUpFramePreservesNonvolatiles(t *testing.T) {
	th := newTestThread(8)
	th.registers[RegRP+1] = NewSigned(42) // first nonvolatile register

	th.downFrame(0)
	th.registers[RegRP+1] = NewSigned(7) // callee clobbers it

	if err := th.upFrame(0); err != nil {
		t.Fatal(err)
	}
	if got := th.registers[RegRP+1].I64(); got != 42 {
		t.Errorf("nonvolatile register after upFrame = %d, want 42 (restored)", got)
	}
}

func TestThreadUpFrameCarriesValuesAcrossFrame(t *testing.T) {
	th := newTestThread(8)
	th.downFrame(0)
	if err := th.push(NewSigned(123)); err != nil {
		t.Fatal(err)
	}
	if err := th.upFrame(1); err != nil {
		t.Fatal(err)
	}
	v, err := th.pop(false)
	if err != nil {
		t.Fatal(err)
	}
	if v.I64() != 123 {
		t.Errorf("value carried across upFrame = %d, want 123", v.I64())
	}
}

func TestThreadUpFrameWithoutFrameErrors(t *testing.T) {
	th := newTestThread(4)
	if err := th.upFrame(0); err == nil {
		t.Error("upFrame with no active call frame should error")
	}
}

func TestThreadDerefLiteralVersusRegister(t *testing.T) {
	th := newTestThread(4)
	if err := th.setReg(2, NewSigned(555)); err != nil {
		t.Fatal(err)
	}

	literal, err := th.deref(NewSigned(41), 0x1, 0x1)
	if err != nil {
		t.Fatal(err)
	}
	if literal.I64() != 41 {
		t.Errorf("deref with litflag bit set should pass the operand through unchanged, got %d", literal.I64())
	}

	viaReg, err := th.deref(NewSigned(2), 0x0, 0x1)
	if err != nil {
		t.Fatal(err)
	}
	if viaReg.I64() != 555 {
		t.Errorf("deref with litflag bit clear should read through the register, got %d", viaReg.I64())
	}
}

// TestThreadRunTrapReturnsFalse pins the run()/Continue() completion
// contract: a thread that hits TRAP has NOT completed cleanly, so Run
// reports false.
func TestThreadRunTrapReturnsFalse(t *testing.T) {
	th := newTestThread(4, testUnitInstr{op: OpTrap})
	done, err := th.Run(0)
	if err != nil {
		t.Fatal(err)
	}
	if done {
		t.Error("Run() after TRAP should report false (did not complete cleanly)")
	}
}

// TestThreadContinueReturnCompletesCleanly exercises the inverse of the TRAP
// case: when the thread's very first frame is opened by execCallValue
// (exactly what api.go's CallPointer does before entering the run loop),
// that frame's own RETURN drops the sequence guard below the value Continue
// captured as its term_sequence, and Continue reports true. A CALL opcode
// embedded inside a bare Thread.Run stream can never unwind below its own
// run loop's start this way, since downFrame always increments the sequence
// further before the matching upFrame restores it — only a frame opened
// before the run loop begins (as execCallValue does here) can.
func TestThreadContinueReturnCompletesCleanly(t *testing.T) {
	th := newTestThread(4, testUnitInstr{op: OpReturn})

	if err := th.execCallValue(0, 0); err != nil {
		t.Fatal(err)
	}
	done, err := th.Continue()
	if err != nil {
		t.Fatal(err)
	}
	if !done {
		t.Error("Continue() should report true once the opening frame returns without trapping")
	}
}

// TestThreadExecEqMatchDoesNotSkip: EQ's own comparison result (5 == 5,
// true) agrees with the literal expected operand (1, true), so the
// following instruction is not skipped.
func TestThreadExecEqMatchDoesNotSkip(t *testing.T) {
	th := newTestThread(4, testUnitInstr{
		op: OpEq, litflag: 0x3,
		args: []Value{NewSigned(5), NewSigned(5), NewSigned(1)},
	})
	op := th.process.unit.FetchOp(0)
	if err := th.execEq(op); err != nil {
		t.Fatal(err)
	}
	if th.ip() != 0 {
		t.Errorf("ip = %d, want 0 (no skip on a matching comparison)", th.ip())
	}
}

// TestThreadExecEqMismatchSkips: 5 == 6 is false, which disagrees with the
// literal expected operand (1, true), so the next instruction is skipped.
func TestThreadExecEqMismatchSkips(t *testing.T) {
	th := newTestThread(4, testUnitInstr{
		op: OpEq, litflag: 0x3,
		args: []Value{NewSigned(5), NewSigned(6), NewSigned(1)},
	})
	op := th.process.unit.FetchOp(0)
	if err := th.execEq(op); err != nil {
		t.Fatal(err)
	}
	if th.ip() != 1 {
		t.Errorf("ip = %d, want 1 (skip on a mismatching comparison)", th.ip())
	}
}

// TestThreadExecEqExpectedOperandIsRawNotRegisterIndexed is a regression
// test: the expected operand is the raw argument-pool value itself, never
// read through a register. Register 1 is deliberately set to a value that
// disagrees with the literal expected operand (1, true); if the comparison
// incorrectly treated the literal as a register index and read through
// it, this would observe register 1's value (0, false) instead and the
// next instruction would be wrongly skipped.
func TestThreadExecEqExpectedOperandIsRawNotRegisterIndexed(t *testing.T) {
	th := newTestThread(4, testUnitInstr{
		op: OpEq, litflag: 0x3,
		args: []Value{NewSigned(5), NewSigned(5), NewSigned(1)},
	})
	if err := th.setReg(1, NewSigned(0)); err != nil {
		t.Fatal(err)
	}
	op := th.process.unit.FetchOp(0)
	if err := th.execEq(op); err != nil {
		t.Fatal(err)
	}
	if th.ip() != 0 {
		t.Errorf("ip = %d, want 0: expected operand must be read raw (1, true), not as register 1's contents (0, false)", th.ip())
	}
}

// TestThreadExecLtRegisterOperands exercises LT with register-sourced (not
// literal) comparison operands.
func TestThreadExecLtRegisterOperands(t *testing.T) {
	th := newTestThread(4, testUnitInstr{
		op: OpLt, litflag: 0x0,
		args: []Value{NewSigned(5), NewSigned(6), NewSigned(1)},
	})
	if err := th.setReg(5, NewSigned(3)); err != nil {
		t.Fatal(err)
	}
	if err := th.setReg(6, NewSigned(7)); err != nil {
		t.Fatal(err)
	}
	op := th.process.unit.FetchOp(0)
	if err := th.execLt(op); err != nil {
		t.Fatal(err)
	}
	if th.ip() != 0 {
		t.Errorf("ip = %d, want 0: 3 < 7 is true, matching expected", th.ip())
	}
}

// TestThreadExecLeLiteralMismatchSkips exercises LE with literal operands
// where the comparison disagrees with the expected polarity.
func TestThreadExecLeLiteralMismatchSkips(t *testing.T) {
	th := newTestThread(4, testUnitInstr{
		op: OpLe, litflag: 0x3,
		args: []Value{NewSigned(5), NewSigned(3), NewSigned(1)},
	})
	op := th.process.unit.FetchOp(0)
	if err := th.execLe(op); err != nil {
		t.Fatal(err)
	}
	if th.ip() != 1 {
		t.Errorf("ip = %d, want 1: 5 <= 3 is false, disagreeing with expected true", th.ip())
	}
}

// TestThreadDeferJoinRoundTrip exercises DEFER/JOIN end to end: DEFER forks
// a sibling thread that computes a value and cooperatively stops via TRAP,
// and JOIN reads that value back into the parent's register file.
//
// The forked child always finishes by trapping rather than by a clean
// sequence-guard exit (see TestThreadContinueReturnCompletesCleanly's
// comment for why a bare instruction stream can't do the latter), so JOIN
// retries Continue() up to VMMaxJoinLoops times and simply reads back
// whatever the child last left in its return-value register. The trailing
// TRAPs here pad out exactly that many retries so none of them fetch past
// the end of the instruction stream.
func TestThreadDeferJoinRoundTrip(t *testing.T) {
	th := newTestThread(8,
		testUnitInstr{op: OpAdd, litflag: 0x6, args: []Value{NewSigned(RegRP), NewFloat(40), NewFloat(2)}}, // 0: child's body
		testUnitInstr{op: OpTrap}, // 1
		testUnitInstr{op: OpTrap}, // 2
		testUnitInstr{op: OpTrap}, // 3
		testUnitInstr{op: OpTrap}, // 4
		testUnitInstr{op: OpDefer, args: []Value{NewSigned(10)}},              // 5
		testUnitInstr{op: OpJoin, args: []Value{NewSigned(11), NewSigned(10)}}, // 6
	)

	deferOp := th.process.unit.FetchOp(5)
	if err := th.execDefer(deferOp); err != nil {
		t.Fatal(err)
	}
	childIndexVal, err := th.reg(10)
	if err != nil {
		t.Fatal(err)
	}
	if th.process.ThreadByIndex(childIndexVal.I64()) == nil {
		t.Fatal("DEFER should have created a live child thread")
	}

	joinOp := th.process.unit.FetchOp(6)
	if err := th.execJoin(joinOp); err != nil {
		t.Fatal(err)
	}

	result, err := th.reg(11)
	if err != nil {
		t.Fatal(err)
	}
	if result.Typ != Float || result.F64() != 42.0 {
		t.Errorf("joined return value = %v, want Float 42.0", result)
	}
	if th.process.ThreadByIndex(childIndexVal.I64()) != nil {
		t.Error("JOIN should destroy the child thread once joined")
	}
}
