// Copyright 2026 The toyvm Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// license that can be found in the LICENSE file.

package toyvm

import "testing"

func callableFromNative(t *testing.T, vm *Vm, fn NativeFunction) Value {
	t.Helper()
	f, err := NewNativeFunction(vm, "test", fn)
	if err != nil {
		t.Fatalf("NewNativeFunction: %v", err)
	}
	return PointerValue(f.Handle())
}

func TestProtectedInvokeSuccess(t *testing.T) {
	vm := newTestVm(t)
	ctx := newTestCoroutine(t, vm)
	callee := callableFromNative(t, vm, func(vm *Vm, ctx *CoroutineRuntimeContext, args []Value) ([]Value, error) {
		return []Value{Int32Value(41)}, nil
	})
	res := vm.protectedInvoke(ctx, callee, nil, NilValue(), false)
	if len(res) != 2 || !res[0].AsBool() || res[1].AsInt32() != 41 {
		t.Fatalf("pcall success = %v, want [true, 41]", res)
	}
}

func TestProtectedInvokeFailurePcall(t *testing.T) {
	vm := newTestVm(t)
	ctx := newTestCoroutine(t, vm)
	callee := callableFromNative(t, vm, func(vm *Vm, ctx *CoroutineRuntimeContext, args []Value) ([]Value, error) {
		return nil, vm.newTypeError("bad type for operation")
	})
	res := vm.protectedInvoke(ctx, callee, nil, NilValue(), false)
	if len(res) != 2 || res[0].AsBool() {
		t.Fatalf("pcall failure = %v, want [false, <msg>]", res)
	}
	msgStr, ok := vm.ResolveUser(res[1].AsPointer()).(*HeapString)
	if !ok || string(msgStr.Bytes()) != "bad type for operation" {
		t.Errorf("pcall error message = %v, want \"bad type for operation\"", res[1])
	}
}

func TestProtectedInvokeXpcallHandlerRuns(t *testing.T) {
	vm := newTestVm(t)
	ctx := newTestCoroutine(t, vm)
	callee := callableFromNative(t, vm, func(vm *Vm, ctx *CoroutineRuntimeContext, args []Value) ([]Value, error) {
		return nil, vm.newTypeError("boom")
	})
	var handlerSawMsg string
	handler := callableFromNative(t, vm, func(vm *Vm, ctx *CoroutineRuntimeContext, args []Value) ([]Value, error) {
		if len(args) == 1 {
			if hs, ok := vm.ResolveUser(args[0].AsPointer()).(*HeapString); ok {
				handlerSawMsg = string(hs.Bytes())
			}
		}
		return []Value{Int32Value(999)}, nil
	})
	res := vm.protectedInvoke(ctx, callee, nil, handler, true)
	if handlerSawMsg != "boom" {
		t.Fatalf("xpcall handler should have received the error message, got %q", handlerSawMsg)
	}
	if len(res) != 2 || res[0].AsBool() || res[1].AsInt32() != 999 {
		t.Fatalf("xpcall failure result = %v, want [false, 999]", res)
	}
}

func TestProtectedInvokeXpcallNestedErrorLimit(t *testing.T) {
	vm := newTestVm(t)
	ctx := newTestCoroutine(t, vm)
	callee := callableFromNative(t, vm, func(vm *Vm, ctx *CoroutineRuntimeContext, args []Value) ([]Value, error) {
		return nil, vm.newTypeError("inner failure")
	})
	handler := callableFromNative(t, vm, func(vm *Vm, ctx *CoroutineRuntimeContext, args []Value) ([]Value, error) {
		return nil, vm.newTypeError("handler also failed")
	})

	ctx.errorHandlerDepth = MaxNestedErrorDepth
	res := vm.protectedInvoke(ctx, callee, nil, handler, true)
	if len(res) != 2 || res[0].AsBool() {
		t.Fatalf("result = %v, want [false, <msg>]", res)
	}
	hs, ok := vm.ResolveUser(res[1].AsPointer()).(*HeapString)
	if !ok || string(hs.Bytes()) != ErrNestedErrorLimit.Error() {
		t.Fatalf("error message at the nesting bound = %v, want %q", res[1], ErrNestedErrorLimit.Error())
	}
}

func TestProtectedInvokeXpcallHandlerOwnFailure(t *testing.T) {
	vm := newTestVm(t)
	ctx := newTestCoroutine(t, vm)
	callee := callableFromNative(t, vm, func(vm *Vm, ctx *CoroutineRuntimeContext, args []Value) ([]Value, error) {
		return nil, vm.newTypeError("original")
	})
	handler := callableFromNative(t, vm, func(vm *Vm, ctx *CoroutineRuntimeContext, args []Value) ([]Value, error) {
		return nil, vm.newTypeError("handler blew up too")
	})
	res := vm.protectedInvoke(ctx, callee, nil, handler, true)
	if len(res) != 2 || res[0].AsBool() {
		t.Fatalf("result = %v, want [false, <msg>]", res)
	}
	hs, ok := vm.ResolveUser(res[1].AsPointer()).(*HeapString)
	if !ok || string(hs.Bytes()) != "handler blew up too" {
		t.Errorf("error value should be the handler's own failure, got %v", res[1])
	}
	if ctx.errorHandlerDepth != 0 {
		t.Errorf("errorHandlerDepth should be restored to 0 after the call returns, got %d", ctx.errorHandlerDepth)
	}
}
