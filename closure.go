// Copyright 2026 The toyvm Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// license that can be found in the LICENSE file.

package toyvm

// FunctionExecutableKind distinguishes a script closure from a native
// (Go-implemented) function (§3's "trampoline descriptor" / "intrinsic
// descriptor").
type FunctionExecutableKind uint8

const (
	ExecutableScript FunctionExecutableKind = iota
	ExecutableNative
)

// NativeFunction is the signature a host-provided builtin must implement.
// It receives already-evaluated arguments and returns result values or an
// error (surfaced to the VM as a UserError, §7).
type NativeFunction func(vm *Vm, ctx *CoroutineRuntimeContext, args []Value) ([]Value, error)

// FunctionObject is a closure: an executable plus the upvalues it captured
// at creation time (§3).
type FunctionObject struct {
	handle    UserHeapPtr
	kind      FunctionExecutableKind
	codeBlock *CodeBlock
	native    NativeFunction
	name      string
	upvalues  []*Upvalue
}

func (f *FunctionObject) Type() HeapEntityType { return HeapEntityFunction }

// Handle returns the heap pointer this closure was registered under, for
// callers outside the package building a callable Value around it.
func (f *FunctionObject) Handle() UserHeapPtr { return f.handle }

// NumFixedParams reports the callee's declared fixed-parameter count, 0 for
// native functions (which accept whatever slice length they're invoked
// with).
func (f *FunctionObject) NumFixedParams() uint32 {
	if f.kind != ExecutableScript {
		return 0
	}
	return f.codeBlock.Owner.NumFixedParams
}

func (f *FunctionObject) TakesVarArg() bool {
	return f.kind == ExecutableScript && f.codeBlock.Owner.TakesVarArg
}

// NewScriptFunction allocates a closure over a CodeBlock with the given
// already-resolved upvalues (in declaration order, matching
// UnlinkedCodeBlock.Upvalues).
func NewScriptFunction(vm *Vm, cb *CodeBlock, upvalues []*Upvalue) (*FunctionObject, error) {
	f := &FunctionObject{kind: ExecutableScript, codeBlock: cb, upvalues: upvalues}
	handle, err := vm.allocUserHeap(f)
	if err != nil {
		return nil, err
	}
	f.handle = handle
	return f, nil
}

// NewNativeFunction wraps a Go function as a callable Lua value.
func NewNativeFunction(vm *Vm, name string, fn NativeFunction) (*FunctionObject, error) {
	f := &FunctionObject{kind: ExecutableNative, native: fn, name: name}
	handle, err := vm.allocUserHeap(f)
	if err != nil {
		return nil, err
	}
	f.handle = handle
	return f, nil
}
