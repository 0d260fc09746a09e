// Copyright 2026 The toyvm Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// license that can be found in the LICENSE file.

package toyvm

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the errors the engine can raise, per the error model
// in the design notes: type errors, key errors, call errors, resource
// exhaustion, the nested-error-handling bound, and user-raised errors.
type ErrorKind uint8

const (
	// ErrorKindType is raised when an operation's operand types do not
	// support it and no metamethod recovers it.
	ErrorKindType ErrorKind = iota

	// ErrorKindKey is raised when a table index is nil or NaN on a write.
	ErrorKindKey

	// ErrorKindCall is raised when attempting to call a non-callable value
	// with no __call metamethod.
	ErrorKindCall

	// ErrorKindResourceExhausted is fatal: a memory region overflowed.
	ErrorKindResourceExhausted

	// ErrorKindNestedErrorLimit marks an error that was converted to the
	// fixed "error in error handling" string after exceeding the nested
	// error-handler bound.
	ErrorKindNestedErrorLimit

	// ErrorKindUser is raised by error(v) for an arbitrary value v.
	ErrorKindUser
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindType:
		return "TypeError"
	case ErrorKindKey:
		return "KeyError"
	case ErrorKindCall:
		return "CallError"
	case ErrorKindResourceExhausted:
		return "ResourceExhausted"
	case ErrorKindNestedErrorLimit:
		return "NestedErrorLimit"
	case ErrorKindUser:
		return "UserError"
	default:
		return "UnknownError"
	}
}

// EngineError is the error value raised via the §4.8 error-propagation walk.
// Value carries the raw Lua value passed to error(v); for the type/key/call
// kinds that value is always a string.
type EngineError struct {
	Kind    ErrorKind
	Value   Value
	Message string
}

func (e *EngineError) Error() string { return e.Message }

// errorStringValue interns msg as a heap string and boxes it as a pointer
// Value. Unlike NewHeapString's detached form, the error value an EngineError
// carries is observable from script code (pcall's second result, §8 scenario
// 3's "type(msg)==\"string\""), so it must be a properly heap-registered
// HeapString with a real handle — a detached HeapString's zero-value handle
// would alias whatever object actually occupies heap slot 0.
func (vm *Vm) errorStringValue(msg string) Value {
	s, err := vm.InternString([]byte(msg))
	if err != nil {
		return NilValue()
	}
	return StringValue(s)
}

func (vm *Vm) newTypeError(format string, args ...interface{}) *EngineError {
	msg := fmt.Sprintf(format, args...)
	return &EngineError{Kind: ErrorKindType, Value: vm.errorStringValue(msg), Message: msg}
}

func (vm *Vm) newKeyError(msg string) *EngineError {
	return &EngineError{Kind: ErrorKindKey, Value: vm.errorStringValue(msg), Message: msg}
}

func (vm *Vm) newCallError(format string, args ...interface{}) *EngineError {
	msg := fmt.Sprintf(format, args...)
	return &EngineError{Kind: ErrorKindCall, Value: vm.errorStringValue(msg), Message: msg}
}

func newUserError(v Value, describe string) *EngineError {
	return &EngineError{Kind: ErrorKindUser, Value: v, Message: describe}
}

// ErrResourceExhausted names the condition of a reserved memory region being
// exceeded (§4.1/§7). The arena does not return this value: it reports the
// condition as an *EngineError of kind ErrorKindResourceExhausted.
var ErrResourceExhausted = errors.New("toyvm: resource limit exceeded")

// ErrNestedErrorLimit is substituted for the original error value once error
// propagation has crossed MaxNestedErrorDepth live error handlers (§4.8).
var ErrNestedErrorLimit = errors.New("error in error handling")

// MaxNestedErrorDepth is the fixed bound on live xpcall error-handler frames
// an error() call may cross before it is replaced by ErrNestedErrorLimit.
const MaxNestedErrorDepth = 50
