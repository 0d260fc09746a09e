// Copyright 2026 The toyvm Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// license that can be found in the LICENSE file.

package toyvm

// noVariadicReturnStaged is the UINT32_MAX sentinel §3 assigns to
// variadic_ret_count meaning "no variadic return staged".
const noVariadicReturnStaged = ^uint32(0)

// CoroutineRuntimeContext is one coroutine's execution state: its Lua value
// stack, call-frame stack, and open-upvalue list (§3). The main coroutine of
// a Vm is itself one CoroutineRuntimeContext.
type CoroutineRuntimeContext struct {
	handle UserHeapPtr
	vm     *Vm

	stack  []Value
	frames []*CallFrame

	openUpvalueHead *Upvalue

	variadicRetCount      uint32
	variadicRetSlotOffset int

	// errorHandlerDepth counts currently-executing xpcall error handlers
	// nested within this coroutine (§4.8's 50-deep bound).
	errorHandlerDepth int

	globalObject *TableObject
}

func (c *CoroutineRuntimeContext) Type() HeapEntityType { return HeapEntityThread }

// NewCoroutine creates a fresh coroutine sharing globalObject, with an
// initial stack buffer of initialStackSlots Values.
func NewCoroutine(vm *Vm, globalObject *TableObject, initialStackSlots int) (*CoroutineRuntimeContext, error) {
	c := &CoroutineRuntimeContext{
		vm:               vm,
		stack:            make([]Value, initialStackSlots),
		variadicRetCount: noVariadicReturnStaged,
		globalObject:     globalObject,
	}
	for i := range c.stack {
		c.stack[i] = NilValue()
	}
	handle, err := vm.allocUserHeap(c)
	if err != nil {
		return nil, err
	}
	c.handle = handle
	return c, nil
}

// ensureStack grows the stack buffer so index upTo is addressable.
func (c *CoroutineRuntimeContext) ensureStack(upTo int) {
	if upTo < len(c.stack) {
		return
	}
	grown := make([]Value, upTo*2+16)
	copy(grown, c.stack)
	for i := len(c.stack); i < len(grown); i++ {
		grown[i] = NilValue()
	}
	c.stack = grown
}

// StageVariadicReturn records a pending variadic return (from `...`) so the
// next Call/TailCall/VariadicArgsToVariadicRet op can append it (§4.7 step 1
// of Non-tail call, §4.9 VariadicArgsToVariadicRet).
func (c *CoroutineRuntimeContext) StageVariadicReturn(slotOffset int, count int) {
	c.variadicRetSlotOffset = slotOffset
	c.variadicRetCount = uint32(count)
}

func (c *CoroutineRuntimeContext) clearVariadicReturn() {
	c.variadicRetCount = noVariadicReturnStaged
}

func (c *CoroutineRuntimeContext) hasStagedVariadicReturn() bool {
	return c.variadicRetCount != noVariadicReturnStaged
}
