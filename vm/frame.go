// Copyright 2024 The Rusalka Authors
// This file is part of Rusalka.
//
// Rusalka is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

// nonvolatileRegisters is the number of registers call frames preserve
// across CALL/RETURN, starting just after the four reserved registers.
const nonvolatileRegisters = 8

// callFrame is the state down_frame/up_frame save and restore around a
// function call.
type callFrame struct {
	fromIP   int64
	ebp      int64
	esp      int64
	sequence int64
	saved    [nonvolatileRegisters]Value
}
