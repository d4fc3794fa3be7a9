// Copyright 2024 The Rusalka Authors
// This file is part of Rusalka.
//
// Rusalka is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

// Callback is a host function bound to an import slot. argv contents are
// copies of the popped stack values (in push order); the callback may call
// back into the VM via thread.
type Callback func(thread *Thread, argv []Value, ctx any) Value

// callbackInfo is one entry of a Process's callback table, indexed by
// -(pointer+1) for an import pointer.
type callbackInfo struct {
	fn  Callback
	ctx any
}

func (c callbackInfo) invoke(thread *Thread, argv []Value) Value {
	if c.fn == nil {
		return UndefinedValue()
	}
	return c.fn(thread, argv, c.ctx)
}
