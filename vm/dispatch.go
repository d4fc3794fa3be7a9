// Copyright 2024 The Rusalka Authors
// This file is part of Rusalka.
//
// Rusalka is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import "github.com/pkg/errors"

type opHandler func(t *Thread, op Op) error

var dispatchTable = [opcodeCount]opHandler{
	OpAdd:        (*Thread).execAdd,
	OpSub:        (*Thread).execSub,
	OpDiv:        (*Thread).execDiv,
	OpIDiv:       (*Thread).execIDiv,
	OpMul:        (*Thread).execMul,
	OpPow:        (*Thread).execPow,
	OpMod:        (*Thread).execMod,
	OpIMod:       (*Thread).execIMod,
	OpNeg:        (*Thread).execNeg,
	OpNot:        (*Thread).execNot,
	OpOr:         (*Thread).execOr,
	OpAnd:        (*Thread).execAnd,
	OpXor:        (*Thread).execXor,
	OpArithShift: (*Thread).execArithShift,
	OpBitShift:   (*Thread).execBitShift,
	OpFloor:      (*Thread).execFloor,
	OpCeil:       (*Thread).execCeil,
	OpRound:      (*Thread).execRound,
	OpRint:       (*Thread).execRint,
	OpEq:         (*Thread).execEq,
	OpLe:         (*Thread).execLe,
	OpLt:         (*Thread).execLt,
	OpJump:       (*Thread).execJump,
	OpPush:       (*Thread).execPush,
	OpPop:        (*Thread).execPop,
	OpLoad:       (*Thread).execLoad,
	OpCall:       (*Thread).execCall,
	OpReturn:     (*Thread).execReturn,
	OpRealloc:    (*Thread).execRealloc,
	OpFree:       (*Thread).execFree,
	OpMemmove:    (*Thread).execMemmove,
	OpTrap:       (*Thread).execTrap,
	OpMemdup:     (*Thread).execMemdup,
	OpMemlen:     (*Thread).execMemlen,
	OpPeek:       (*Thread).execPeek,
	OpPoke:       (*Thread).execPoke,
	OpDefer:      (*Thread).execDefer,
	OpJoin:       (*Thread).execJoin,
	OpDownframe:  (*Thread).execDownframe,
	OpUpframe:    (*Thread).execUpframe,
	OpDropframe:  (*Thread).execDropframe,
}

// handlers is how exec reaches dispatchTable. It is set in init because
// some handlers (JOIN) run the interpreter loop, which would otherwise make
// dispatchTable's initializer depend on itself.
var handlers *[opcodeCount]opHandler

func init() { handlers = &dispatchTable }

// exec dispatches a single decoded instruction to its handler.
func (t *Thread) exec(op Op) error {
	code := op.Opcode()
	if !code.valid() || handlers[code] == nil {
		return errors.Wrap(ErrBadOpcode, code.String())
	}
	return handlers[code](t, op)
}
