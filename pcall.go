// Copyright 2026 The toyvm Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// license that can be found in the LICENSE file.

package toyvm

import "go.uber.org/zap"

// errorHandlerDepth is carried on the coroutine rather than the Vm since
// distinct coroutines must not share nesting counters (§4.8's bound is per
// error-propagation chain, and each coroutine has its own).
type errorHandlerDepthKey struct{}

// protectedInvoke implements pcall (isXpcall=false) / xpcall (isXpcall=true,
// handler != nil) per §4.8, using Go's ordinary error return propagation in
// place of the reference implementation's frame-chain walk over sentinel
// return addresses: toyvm's interpreter loop already threads an *EngineError
// up through every op handler as a plain Go error, so re-deriving the same
// unwind by scanning frame headers for a sentinel would just reimplement
// what the call stack already gives for free (see DESIGN.md). The externally
// observable contract — success as (true, rets...), failure as
// (false, err), the handler only invoked for xpcall, and the fixed 50-frame
// nested-error-handler bound collapsing to a fixed string — is preserved
// exactly.
func (vm *Vm) protectedInvoke(ctx *CoroutineRuntimeContext, callee Value, args []Value, handler Value, isXpcall bool) []Value {
	results, callErr := vm.Call(ctx, callee, args)
	if callErr == nil {
		out := make([]Value, 0, len(results)+1)
		out = append(out, BoolValue(true))
		return append(out, results...)
	}

	if ee, ok := callErr.(*EngineError); ok && ee.Kind == ErrorKindResourceExhausted {
		vm.logger.Fatal("resource exhausted", zap.Error(ee))
	}

	errVal := vm.describeErrorValue(callErr)
	if !isXpcall {
		return []Value{BoolValue(false), errVal}
	}

	ctx.errorHandlerDepth++
	defer func() { ctx.errorHandlerDepth-- }()
	if ctx.errorHandlerDepth > MaxNestedErrorDepth {
		s, _ := vm.InternString([]byte(ErrNestedErrorLimit.Error()))
		return []Value{BoolValue(false), StringValue(s)}
	}

	handlerResults, handlerErr := vm.Call(ctx, handler, []Value{errVal})
	if handlerErr != nil {
		return []Value{BoolValue(false), vm.describeErrorValue(handlerErr)}
	}
	out := make([]Value, 0, len(handlerResults)+1)
	out = append(out, BoolValue(false))
	return append(out, handlerResults...)
}

// describeErrorValue turns any Go error into the Value error() would have
// raised, so pcall/xpcall always hand back a Lua value rather than a Go
// error (§7: "v is an arbitrary value").
func (vm *Vm) describeErrorValue(err error) Value {
	if ee, ok := err.(*EngineError); ok && !ee.Value.IsNil() {
		return ee.Value
	}
	s, internErr := vm.InternString([]byte(err.Error()))
	if internErr != nil {
		return NilValue()
	}
	return StringValue(s)
}
