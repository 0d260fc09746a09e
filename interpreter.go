// Copyright 2026 The toyvm Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// license that can be found in the LICENSE file.

package toyvm

import (
	"math"
)

// Call is the VM's single entry point for invoking any callable Value,
// whether from a native builtin (pcall, metamethod dispatch) or from
// top-level host code driving a loaded chunk. It resolves __call chains,
// then either runs a native function directly or drives the bytecode
// dispatch loop to completion for a script function.
func (vm *Vm) Call(ctx *CoroutineRuntimeContext, callee Value, args []Value) ([]Value, error) {
	fn, resolvedArgs, err := vm.resolveCallable(callee, args)
	if err != nil {
		return nil, err
	}
	if fn.kind == ExecutableNative {
		return fn.native(vm, ctx, resolvedArgs)
	}
	floorDepth := len(ctx.frames) + 1
	pushScriptFrame(ctx, fn, resolvedArgs, entryCallerBase(ctx), -1, ReturnToCaller)
	return vm.runUntilFrameBelow(ctx, floorDepth)
}

func entryCallerBase(ctx *CoroutineRuntimeContext) int {
	if len(ctx.frames) == 0 {
		return 0
	}
	top := ctx.frames[len(ctx.frames)-1]
	return top.Base
}

// resolveCallable walks a __call metamethod chain (§4.6 step 3/4 applied to
// calls) down to a concrete *FunctionObject, or fails with a CallError.
func (vm *Vm) resolveCallable(callee Value, args []Value) (*FunctionObject, []Value, error) {
	for i := 0; i < maxCallIndirectionChain; i++ {
		if callee.IsPointer() {
			if fn, ok := vm.ResolveUser(callee.AsPointer()).(*FunctionObject); ok {
				return fn, args, nil
			}
		}
		mm, present, err := vm.LookupMetamethod(callee, MetaCall)
		if err != nil {
			return nil, nil, err
		}
		if !present {
			return nil, nil, vm.newCallError("attempt to call a %s value", vm.typeName(callee))
		}
		newArgs := make([]Value, 0, len(args)+1)
		newArgs = append(newArgs, callee)
		newArgs = append(newArgs, args...)
		callee, args = mm, newArgs
	}
	return nil, nil, vm.newCallError("'__call' chain too long")
}

func (vm *Vm) typeName(v Value) string {
	switch {
	case v.IsNil():
		return "nil"
	case v.IsBool():
		return "boolean"
	case v.IsInt32(), v.IsDouble():
		return "number"
	case v.IsPointer():
		switch vm.ResolveUser(v.AsPointer()).(type) {
		case *HeapString:
			return "string"
		case *TableObject:
			return "table"
		case *FunctionObject:
			return "function"
		case *CoroutineRuntimeContext:
			return "thread"
		default:
			return "userdata"
		}
	default:
		return "unknown"
	}
}

// runUntilFrameBelow drives the dispatch loop until ctx.frames shrinks below
// floorDepth, then returns the values produced by the frame that closed it.
func (vm *Vm) runUntilFrameBelow(ctx *CoroutineRuntimeContext, floorDepth int) ([]Value, error) {
	var lastResults []Value
	for len(ctx.frames) >= floorDepth {
		top := ctx.frames[len(ctx.frames)-1]
		if top.PC >= len(top.CodeBlock.Owner.Bytecode) {
			// Falling off the end of a function body with no explicit
			// return is an implicit `return` with zero values.
			lastResults = vm.finishReturn(ctx, nil)
			continue
		}
		instr := top.CodeBlock.Owner.Bytecode[top.PC]
		results, err := vm.step(ctx, top, instr)
		if err != nil {
			return nil, err
		}
		if results != nil {
			lastResults = results
		}
	}
	return lastResults, nil
}

// finishReturn pops the top frame delivering values, writing them into the
// caller's visible return slot when there is a caller left in this
// invocation, or handing them back to the Go caller of runUntilFrameBelow
// when this was the outermost frame.
func (vm *Vm) finishReturn(ctx *CoroutineRuntimeContext, values []Value) []Value {
	frame, actual, _ := popFrameAndReturn(ctx, values)
	if len(ctx.frames) == 0 {
		return actual
	}
	caller := ctx.frames[len(ctx.frames)-1]
	if frame.Header.CallerBytecodeOffset >= 0 {
		caller.PC = frame.Header.CallerBytecodeOffset
	}
	return actual
}

// step executes one instruction in frame, returning non-nil results only
// when this instruction caused frame (or a shallower one) to return.
func (vm *Vm) step(ctx *CoroutineRuntimeContext, frame *CallFrame, ins Instruction) ([]Value, error) {
	switch ins.Op {
	case OpConstant:
		frame.setSlot(ctx, ins.Dest, frame.CodeBlock.Owner.ObjectConstants[ins.Constant])
		frame.PC++
		return nil, nil

	case OpMove:
		frame.setSlot(ctx, ins.Dest, frame.slotRef(ctx, ins.Src1))
		frame.PC++
		return nil, nil

	case OpFillNil:
		for s := ins.Dest; s <= ins.Src1; s++ {
			frame.setSlot(ctx, s, NilValue())
		}
		frame.PC++
		return nil, nil

	case OpJump:
		frame.PC += int(ins.Jump)
		return nil, nil

	case OpBranchIfTruthy:
		if frame.slotRef(ctx, ins.Src1).IsTruthy() {
			frame.PC += int(ins.Jump)
		} else {
			frame.PC++
		}
		return nil, nil

	case OpBranchIfFalsy:
		if !frame.slotRef(ctx, ins.Src1).IsTruthy() {
			frame.PC += int(ins.Jump)
		} else {
			frame.PC++
		}
		return nil, nil

	case OpCopyAndBranchIfTruthy:
		v := frame.slotRef(ctx, ins.Src1)
		frame.setSlot(ctx, ins.Dest, v)
		if v.IsTruthy() {
			frame.PC += int(ins.Jump)
		} else {
			frame.PC++
		}
		return nil, nil

	case OpCopyAndBranchIfFalsy:
		v := frame.slotRef(ctx, ins.Src1)
		frame.setSlot(ctx, ins.Dest, v)
		if !v.IsTruthy() {
			frame.PC += int(ins.Jump)
		} else {
			frame.PC++
		}
		return nil, nil

	case OpIsFalsy:
		frame.setSlot(ctx, ins.Dest, BoolValue(!frame.slotRef(ctx, ins.Src1).IsTruthy()))
		frame.PC++
		return nil, nil

	case OpUnaryMinus:
		return nil, vm.execUnaryMinus(ctx, frame, ins)

	case OpLength:
		return nil, vm.execLength(ctx, frame, ins)

	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpPow:
		return nil, vm.execArith(ctx, frame, ins)

	case OpConcat:
		return nil, vm.execConcat(ctx, frame, ins)

	case OpIsEQ, OpIsNEQ, OpIsLT, OpIsNLT, OpIsLE, OpIsNLE:
		return nil, vm.execCompareAndBranch(ctx, frame, ins)

	case OpGlobalGet:
		return nil, vm.execGlobalGet(ctx, frame, ins)
	case OpGlobalPut:
		return nil, vm.execGlobalPut(ctx, frame, ins)

	case OpTableGetById:
		return nil, vm.execTableGetById(ctx, frame, ins)
	case OpTablePutById:
		return nil, vm.execTablePutById(ctx, frame, ins)
	case OpTableGetByVal:
		return nil, vm.execTableGetByVal(ctx, frame, ins)
	case OpTablePutByVal:
		return nil, vm.execTablePutByVal(ctx, frame, ins)
	case OpTableGetByIndex:
		return nil, vm.execTableGetByIndex(ctx, frame, ins)
	case OpTablePutByIndex:
		return nil, vm.execTablePutByIndex(ctx, frame, ins)
	case OpTablePutVariadicSequence:
		return nil, vm.execTablePutVariadicSequence(ctx, frame, ins)

	case OpTableNew:
		return nil, vm.execTableNew(ctx, frame, ins)
	case OpTableDup:
		return nil, vm.execTableDup(ctx, frame, ins)

	case OpUpvalueGet:
		fn := frame.Header.FuncRef
		frame.setSlot(ctx, ins.Dest, fn.upvalues[ins.Src1].Get())
		frame.PC++
		return nil, nil
	case OpUpvalueSet:
		fn := frame.Header.FuncRef
		fn.upvalues[ins.Dest].Set(frame.slotRef(ctx, ins.Src1))
		frame.PC++
		return nil, nil
	case OpUpvalueClose:
		closeUpvaluesFrom(ctx, frame.Base+int(ins.Dest))
		frame.PC++
		return nil, nil

	case OpNewClosure:
		return nil, vm.execNewClosure(ctx, frame, ins)

	case OpReturn:
		values := vm.collectReturnValues(ctx, frame, ins)
		return vm.finishReturn(ctx, values), nil

	case OpVariadicArgsToVariadicRet:
		h := frame.Header
		start := h.VariadicArgsSlotStart
		count := h.NumVariadicArgs
		vals := append([]Value(nil), ctx.stack[start:start+count]...)
		ctx.StageVariadicReturn(int(ins.Dest), len(vals))
		for i, v := range vals {
			ctx.stack[frame.Base+int(ins.Dest)+i] = v
		}
		frame.PC++
		return nil, nil

	case OpPutVariadicArgs:
		h := frame.Header
		start := h.VariadicArgsSlotStart
		for i := 0; i < h.NumVariadicArgs; i++ {
			frame.setSlot(ctx, ins.Dest+int32(i), ctx.stack[start+i])
		}
		frame.PC++
		return nil, nil

	case OpCall:
		return nil, vm.execCall(ctx, frame, ins, false)
	case OpTailCall:
		return nil, vm.execCall(ctx, frame, ins, true)

	case OpCallIterator, OpCallNext, OpValidateIsNextAndBranch, OpIteratorLoopBranch:
		return nil, vm.execIteratorOp(ctx, frame, ins)

	case OpForLoopInit:
		return nil, vm.execForLoopInit(ctx, frame, ins)
	case OpForLoopStep:
		return nil, vm.execForLoopStep(ctx, frame, ins)

	default:
		return nil, vm.newTypeError("unimplemented opcode %d", ins.Op)
	}
}

func (vm *Vm) collectReturnValues(ctx *CoroutineRuntimeContext, frame *CallFrame, ins Instruction) []Value {
	count := int(ins.Src2)
	vals := make([]Value, 0, count+4)
	for i := 0; i < count; i++ {
		vals = append(vals, ctx.stack[frame.Base+int(ins.Dest)+i])
	}
	if ctx.hasStagedVariadicReturn() {
		start := frame.Base + ctx.variadicRetSlotOffset
		vals = append(vals, ctx.stack[start:start+int(ctx.variadicRetCount)]...)
		ctx.clearVariadicReturn()
	}
	return vals
}

func asDouble(v Value) (float64, bool) {
	switch {
	case v.IsInt32():
		return float64(v.AsInt32()), true
	case v.IsDouble():
		return v.AsDouble(), true
	default:
		return 0, false
	}
}

func (vm *Vm) execUnaryMinus(ctx *CoroutineRuntimeContext, frame *CallFrame, ins Instruction) error {
	v := frame.slotRef(ctx, ins.Src1)
	if f, ok := asDouble(v); ok {
		if v.IsInt32() {
			frame.setSlot(ctx, ins.Dest, Int32Value(-v.AsInt32()))
		} else {
			frame.setSlot(ctx, ins.Dest, DoubleValue(-f))
		}
		frame.PC++
		return nil
	}
	mm, present, err := vm.LookupMetamethod(v, MetaUnm)
	if err != nil {
		return err
	}
	if !present {
		return vm.newTypeError("attempt to perform arithmetic on a %s value", vm.typeName(v))
	}
	results, err := vm.Call(ctx, mm, []Value{v, v})
	if err != nil {
		return err
	}
	frame.setSlot(ctx, ins.Dest, firstOrNil(results))
	frame.PC++
	return nil
}

func (vm *Vm) execLength(ctx *CoroutineRuntimeContext, frame *CallFrame, ins Instruction) error {
	v := frame.slotRef(ctx, ins.Src1)
	if v.IsPointer() {
		if s, ok := vm.ResolveUser(v.AsPointer()).(*HeapString); ok {
			frame.setSlot(ctx, ins.Dest, Int32Value(int32(s.Len())))
			frame.PC++
			return nil
		}
		if t, ok := vm.ResolveUser(v.AsPointer()).(*TableObject); ok {
			mm, present, err := vm.LookupMetamethod(v, MetaLen)
			if err != nil {
				return err
			}
			if present {
				results, err := vm.Call(ctx, mm, []Value{v})
				if err != nil {
					return err
				}
				frame.setSlot(ctx, ins.Dest, firstOrNil(results))
				frame.PC++
				return nil
			}
			frame.setSlot(ctx, ins.Dest, Int32Value(int32(t.Length())))
			frame.PC++
			return nil
		}
	}
	return vm.newTypeError("attempt to get length of a %s value", vm.typeName(v))
}

func firstOrNil(vs []Value) Value {
	if len(vs) == 0 {
		return NilValue()
	}
	return vs[0]
}

// execArith implements Add/Sub/Mul/Div/Mod/Pow with metamethod fallback
// (§4.6).
func (vm *Vm) execArith(ctx *CoroutineRuntimeContext, frame *CallFrame, ins Instruction) error {
	a := frame.slotRef(ctx, ins.Src1)
	b := frame.slotRef(ctx, ins.Src2)
	af, aok := asDouble(a)
	bf, bok := asDouble(b)
	if aok && bok {
		if a.IsInt32() && b.IsInt32() && ins.Op != OpDiv && ins.Op != OpPow {
			ai, bi := a.AsInt32(), b.AsInt32()
			switch ins.Op {
			case OpAdd:
				frame.setSlot(ctx, ins.Dest, Int32Value(ai+bi))
			case OpSub:
				frame.setSlot(ctx, ins.Dest, Int32Value(ai-bi))
			case OpMul:
				frame.setSlot(ctx, ins.Dest, Int32Value(ai*bi))
			case OpMod:
				if bi == 0 {
					frame.setSlot(ctx, ins.Dest, DoubleValue(math.NaN()))
				} else {
					frame.setSlot(ctx, ins.Dest, Int32Value(ai%bi))
				}
			}
			frame.PC++
			return nil
		}
		var r float64
		switch ins.Op {
		case OpAdd:
			r = af + bf
		case OpSub:
			r = af - bf
		case OpMul:
			r = af * bf
		case OpDiv:
			r = af / bf
		case OpMod:
			r = math.Mod(af, bf)
		case OpPow:
			r = math.Pow(af, bf)
		}
		frame.setSlot(ctx, ins.Dest, DoubleValue(r))
		frame.PC++
		return nil
	}
	mm := arithMetamethodFor(ins.Op)
	result, err := vm.dispatchBinaryMetamethod(ctx, a, b, mm)
	if err != nil {
		return err
	}
	frame.setSlot(ctx, ins.Dest, result)
	frame.PC++
	return nil
}

func arithMetamethodFor(op OpCode) Metamethod {
	switch op {
	case OpAdd:
		return MetaAdd
	case OpSub:
		return MetaSub
	case OpMul:
		return MetaMul
	case OpDiv:
		return MetaDiv
	case OpMod:
		return MetaMod
	default:
		return MetaPow
	}
}

func (vm *Vm) dispatchBinaryMetamethod(ctx *CoroutineRuntimeContext, a, b Value, m Metamethod) (Value, error) {
	mm, present, err := vm.LookupMetamethod(a, m)
	if err != nil {
		return NilValue(), err
	}
	if !present {
		mm, present, err = vm.LookupMetamethod(b, m)
		if err != nil {
			return NilValue(), err
		}
	}
	if !present {
		return NilValue(), vm.newTypeError("attempt to perform arithmetic on a %s value", vm.typeName(a))
	}
	results, err := vm.Call(ctx, mm, []Value{a, b})
	if err != nil {
		return NilValue(), err
	}
	return firstOrNil(results), nil
}

// execConcat implements right-to-left primitive concatenation with
// metamethod fallback at the first non-coercible pair (§4.6 "For concat...").
func (vm *Vm) execConcat(ctx *CoroutineRuntimeContext, frame *CallFrame, ins Instruction) error {
	// ins.Src1..Src2 name an inclusive slot range to concatenate, matching
	// TSETM-style variadic operand conventions used elsewhere in the
	// inventory.
	lo, hi := int(ins.Src1), int(ins.Src2)
	acc := frame.slotRef(ctx, int32(hi))
	for i := hi - 1; i >= lo; i-- {
		left := frame.slotRef(ctx, int32(i))
		coercedLeft, lok := vm.coerceConcatOperand(left)
		coercedRight, rok := vm.coerceConcatOperand(acc)
		if lok && rok {
			s, err := vm.InternString(append(append([]byte{}, coercedLeft...), coercedRight...))
			if err != nil {
				return err
			}
			acc = StringValue(s)
			continue
		}
		result, err := vm.dispatchBinaryMetamethod(ctx, left, acc, MetaConcat)
		if err != nil {
			return err
		}
		acc = result
	}
	frame.setSlot(ctx, ins.Dest, acc)
	frame.PC++
	return nil
}

func (vm *Vm) coerceConcatOperand(v Value) ([]byte, bool) {
	if v.IsPointer() {
		if s, ok := vm.ResolveUser(v.AsPointer()).(*HeapString); ok {
			return s.Bytes(), true
		}
		return nil, false
	}
	if f, ok := asDouble(v); ok {
		return []byte(formatNumber(f, v.IsInt32())), true
	}
	return nil, false
}

func formatNumber(f float64, isInt bool) string {
	if isInt {
		return intToString(int64(f))
	}
	return doubleToString(f)
}

// execCompareAndBranch implements the six comparison ops, each immediately
// followed by a branch (§4.9: comparisons are "fused" with their JMP by the
// loader, so the op itself carries the jump target).
func (vm *Vm) execCompareAndBranch(ctx *CoroutineRuntimeContext, frame *CallFrame, ins Instruction) error {
	a := frame.slotRef(ctx, ins.Src1)
	b := frame.slotRef(ctx, ins.Src2)
	truth, err := vm.compareValues(ctx, a, b, ins.Op)
	if err != nil {
		return err
	}
	if truth {
		frame.PC += int(ins.Jump)
	} else {
		frame.PC++
	}
	return nil
}

func (vm *Vm) compareValues(ctx *CoroutineRuntimeContext, a, b Value, op OpCode) (bool, error) {
	switch op {
	case OpIsEQ, OpIsNEQ:
		eq, err := vm.valuesEqual(ctx, a, b)
		if err != nil {
			return false, err
		}
		if op == OpIsNEQ {
			return !eq, nil
		}
		return eq, nil
	default:
		af, aok := asDouble(a)
		bf, bok := asDouble(b)
		if aok && bok {
			switch op {
			case OpIsLT:
				return af < bf, nil
			case OpIsNLT:
				return !(af < bf), nil
			case OpIsLE:
				return af <= bf, nil
			case OpIsNLE:
				return !(af <= bf), nil
			}
		}
		m := MetaLt
		if op == OpIsLE || op == OpIsNLE {
			m = MetaLe
		}
		mmA, presentA, err := vm.LookupMetamethod(a, m)
		if err != nil {
			return false, err
		}
		mmB, presentB, err := vm.LookupMetamethod(b, m)
		if err != nil {
			return false, err
		}
		if !presentA || !presentB || !RawEquals(mmA, mmB) {
			return false, vm.newTypeError("attempt to compare %s with %s", vm.typeName(a), vm.typeName(b))
		}
		results, err := vm.Call(ctx, mmA, []Value{a, b})
		if err != nil {
			return false, err
		}
		truth := firstOrNil(results).IsTruthy()
		if op == OpIsNLT || op == OpIsNLE {
			return !truth, nil
		}
		return truth, nil
	}
}

func (vm *Vm) valuesEqual(ctx *CoroutineRuntimeContext, a, b Value) (bool, error) {
	if RawEquals(a, b) {
		return true, nil
	}
	if !a.IsPointer() || !b.IsPointer() {
		return false, nil
	}
	_, aIsTable := vm.ResolveUser(a.AsPointer()).(*TableObject)
	_, bIsTable := vm.ResolveUser(b.AsPointer()).(*TableObject)
	if !aIsTable || !bIsTable {
		return false, nil
	}
	mmA, presentA, err := vm.LookupMetamethod(a, MetaEq)
	if err != nil {
		return false, err
	}
	if !presentA {
		return false, nil
	}
	mmB, presentB, err := vm.LookupMetamethod(b, MetaEq)
	if err != nil {
		return false, err
	}
	if !presentB || !RawEquals(mmA, mmB) {
		return false, nil
	}
	results, err := vm.Call(ctx, mmA, []Value{a, b})
	if err != nil {
		return false, err
	}
	return firstOrNil(results).IsTruthy(), nil
}

func (vm *Vm) execGlobalGet(ctx *CoroutineRuntimeContext, frame *CallFrame, ins Instruction) error {
	key := frame.CodeBlock.Owner.ObjectConstants[ins.Constant]
	result, err := ctx.globalObject.GetById(key)
	if err != nil {
		return err
	}
	frame.setSlot(ctx, ins.Dest, result.Value)
	frame.PC++
	return nil
}

func (vm *Vm) execGlobalPut(ctx *CoroutineRuntimeContext, frame *CallFrame, ins Instruction) error {
	key := frame.CodeBlock.Owner.ObjectConstants[ins.Constant]
	_, err := ctx.globalObject.PutById(key, frame.slotRef(ctx, ins.Src1))
	if err != nil {
		return err
	}
	frame.PC++
	return nil
}

func (vm *Vm) asTable(v Value) (*TableObject, bool) {
	if !v.IsPointer() {
		return nil, false
	}
	t, ok := vm.ResolveUser(v.AsPointer()).(*TableObject)
	return t, ok
}

func (vm *Vm) execTableGetById(ctx *CoroutineRuntimeContext, frame *CallFrame, ins Instruction) error {
	base := frame.slotRef(ctx, ins.Src1)
	key := frame.CodeBlock.Owner.ObjectConstants[ins.Constant]
	v, err := vm.indexGet(ctx, base, key)
	if err != nil {
		return err
	}
	frame.setSlot(ctx, ins.Dest, v)
	frame.PC++
	return nil
}

func (vm *Vm) execTablePutById(ctx *CoroutineRuntimeContext, frame *CallFrame, ins Instruction) error {
	base := frame.slotRef(ctx, ins.Dest)
	key := frame.CodeBlock.Owner.ObjectConstants[ins.Constant]
	return vm.indexSetAndAdvance(ctx, frame, base, key, frame.slotRef(ctx, ins.Src1))
}

func (vm *Vm) execTableGetByVal(ctx *CoroutineRuntimeContext, frame *CallFrame, ins Instruction) error {
	base := frame.slotRef(ctx, ins.Src1)
	key := frame.slotRef(ctx, ins.Src2)
	v, err := vm.indexGet(ctx, base, key)
	if err != nil {
		return err
	}
	frame.setSlot(ctx, ins.Dest, v)
	frame.PC++
	return nil
}

func (vm *Vm) execTablePutByVal(ctx *CoroutineRuntimeContext, frame *CallFrame, ins Instruction) error {
	base := frame.slotRef(ctx, ins.Dest)
	key := frame.slotRef(ctx, ins.Src1)
	return vm.indexSetAndAdvance(ctx, frame, base, key, frame.slotRef(ctx, ins.Src2))
}

func (vm *Vm) execTableGetByIndex(ctx *CoroutineRuntimeContext, frame *CallFrame, ins Instruction) error {
	base := frame.slotRef(ctx, ins.Src1)
	t, ok := vm.asTable(base)
	if !ok {
		v, err := vm.indexGet(ctx, base, Int32Value(ins.Src2))
		if err != nil {
			return err
		}
		frame.setSlot(ctx, ins.Dest, v)
		frame.PC++
		return nil
	}
	r := t.GetByIntegerIndex(int64(ins.Src2))
	if !r.Found {
		v, err := vm.indexGet(ctx, base, Int32Value(ins.Src2))
		if err != nil {
			return err
		}
		frame.setSlot(ctx, ins.Dest, v)
	} else {
		frame.setSlot(ctx, ins.Dest, r.Value)
	}
	frame.PC++
	return nil
}

func (vm *Vm) execTablePutByIndex(ctx *CoroutineRuntimeContext, frame *CallFrame, ins Instruction) error {
	base := frame.slotRef(ctx, ins.Dest)
	t, ok := vm.asTable(base)
	if !ok {
		return vm.newTypeError("attempt to index a %s value", vm.typeName(base))
	}
	t.PutByIntegerIndex(int64(ins.Src2), frame.slotRef(ctx, ins.Src1))
	frame.PC++
	return nil
}

// execTablePutVariadicSequence implements TSETM-style table-constructor
// trailing-array-spread: stores a contiguous run of slots into consecutive
// integer indices starting at ins.Src1, with any staged variadic-return
// values following at ins.Src1+ins.Src2 onward (§4.9 "variadic put-sequence
// (for table constructors)").
func (vm *Vm) execTablePutVariadicSequence(ctx *CoroutineRuntimeContext, frame *CallFrame, ins Instruction) error {
	base := frame.slotRef(ctx, ins.Dest)
	t, ok := vm.asTable(base)
	if !ok {
		return vm.newTypeError("attempt to index a %s value", vm.typeName(base))
	}
	start := int(ins.Src1)
	count := int(ins.Src2)
	if ctx.hasStagedVariadicReturn() {
		vstart := frame.Base + ctx.variadicRetSlotOffset
		extra := ctx.stack[vstart : vstart+int(ctx.variadicRetCount)]
		for i, v := range extra {
			t.PutByIntegerIndex(int64(start+count+i), v)
		}
		ctx.clearVariadicReturn()
	}
	for i := 0; i < count; i++ {
		t.PutByIntegerIndex(int64(start+i), ctx.stack[frame.Base+int(ins.Dest)+1+i])
	}
	frame.PC++
	return nil
}

// indexGet implements §4.6's __index resolution loop: a table's own slot
// wins; otherwise walk __index chains (function invocation vs. table
// re-index) for at most maxCallIndirectionChain steps.
func (vm *Vm) indexGet(ctx *CoroutineRuntimeContext, base Value, key Value) (Value, error) {
	cur := base
	for depth := 0; depth < maxCallIndirectionChain; depth++ {
		t, ok := vm.asTable(cur)
		if ok {
			result, err := t.GetById(key)
			if err != nil {
				return NilValue(), err
			}
			if !result.Value.IsNil() {
				return result.Value, nil
			}
			mm, present, err := vm.LookupMetamethod(cur, MetaIndex)
			if err != nil {
				return NilValue(), err
			}
			if !present {
				return NilValue(), nil
			}
			if _, ok := vm.asTable(mm); ok {
				cur = mm
				continue
			}
			results, err := vm.Call(ctx, mm, []Value{cur, key})
			if err != nil {
				return NilValue(), err
			}
			return firstOrNil(results), nil
		}
		mm, present, err := vm.LookupMetamethod(cur, MetaIndex)
		if err != nil {
			return NilValue(), err
		}
		if !present {
			return NilValue(), vm.newTypeError("attempt to index a %s value", vm.typeName(cur))
		}
		if _, ok := vm.asTable(mm); ok {
			cur = mm
			continue
		}
		results, err := vm.Call(ctx, mm, []Value{cur, key})
		if err != nil {
			return NilValue(), err
		}
		return firstOrNil(results), nil
	}
	return NilValue(), vm.newTypeError("'__index' chain too long")
}

func (vm *Vm) indexSetAndAdvance(ctx *CoroutineRuntimeContext, frame *CallFrame, base Value, key Value, value Value) error {
	if err := vm.indexSet(ctx, base, key, value); err != nil {
		return err
	}
	frame.PC++
	return nil
}

// indexSet implements §4.6's __newindex resolution loop.
func (vm *Vm) indexSet(ctx *CoroutineRuntimeContext, base Value, key Value, value Value) error {
	cur := base
	for depth := 0; depth < maxCallIndirectionChain; depth++ {
		t, ok := vm.asTable(cur)
		if !ok {
			mm, present, err := vm.LookupMetamethod(cur, MetaNewIndex)
			if err != nil {
				return err
			}
			if !present {
				return vm.newTypeError("attempt to index a %s value", vm.typeName(cur))
			}
			if _, ok := vm.asTable(mm); ok {
				cur = mm
				continue
			}
			_, err = vm.Call(ctx, mm, []Value{cur, key, value})
			return err
		}
		if key.IsNil() {
			return vm.newKeyError("table index is nil")
		}
		if key.IsDouble() && math.IsNaN(key.AsDouble()) {
			return vm.newKeyError("table index is NaN")
		}
		if existing, _ := t.GetById(key); !existing.Value.IsNil() {
			_, err := t.PutById(key, value)
			return err
		}
		mm, present, err := vm.LookupMetamethod(cur, MetaNewIndex)
		if err != nil {
			return err
		}
		if !present {
			_, err := t.PutById(key, value)
			return err
		}
		if _, ok := vm.asTable(mm); ok {
			cur = mm
			continue
		}
		_, err = vm.Call(ctx, mm, []Value{cur, key, value})
		return err
	}
	return vm.newTypeError("'__newindex' chain too long")
}

func (vm *Vm) execTableNew(ctx *CoroutineRuntimeContext, frame *CallFrame, ins Instruction) error {
	s := vm.initialStructureForInlineCapacity(uint32(ins.Src1))
	t, err := NewTableObject(vm, s)
	if err != nil {
		return err
	}
	frame.setSlot(ctx, ins.Dest, PointerValue(t.handle))
	frame.PC++
	return nil
}

// execTableDup clones a table template constant (§4.9 "table dup (from
// template constant)"), used for table constructors with literal keys: the
// template is built once at load time and each execution deep-copies it so
// mutation never aliases the constant.
func (vm *Vm) execTableDup(ctx *CoroutineRuntimeContext, frame *CallFrame, ins Instruction) error {
	templateVal := frame.CodeBlock.Owner.ObjectConstants[ins.Constant]
	template, ok := vm.asTable(templateVal)
	if !ok {
		return vm.newTypeError("table template constant is not a table")
	}
	clone, err := NewTableObject(vm, vm.initialStructureForInlineCapacity(defaultGlobalObjectInlineCapacity))
	if err != nil {
		return err
	}
	template.ForEachProperty(func(k, v Value) bool {
		_, _ = clone.PutById(k, v)
		return true
	})
	template.ForEachArrayIndex(func(i int64, v Value) bool {
		clone.PutByIntegerIndex(i, v)
		return true
	})
	frame.setSlot(ctx, ins.Dest, PointerValue(clone.handle))
	frame.PC++
	return nil
}

func (vm *Vm) execNewClosure(ctx *CoroutineRuntimeContext, frame *CallFrame, ins Instruction) error {
	protoConst := frame.CodeBlock.Owner.ObjectConstants[ins.Constant]
	if !protoConst.IsPointer() {
		return vm.newTypeError("function prototype constant is not a closure template")
	}
	proto, ok := vm.ResolveUser(protoConst.AsPointer()).(*functionPrototypeHolder)
	if !ok {
		return vm.newTypeError("function prototype constant has the wrong kind")
	}
	cb := vm.codeBlockFor(proto.ucb, ctx.globalObject)
	upvalues := make([]*Upvalue, len(proto.ucb.Upvalues))
	for i, desc := range proto.ucb.Upvalues {
		if desc.IsParentLocal {
			upvalues[i] = findOrCreateUpvalue(ctx, frame.Base+int(desc.Ordinal), desc.IsImmutable)
		} else {
			upvalues[i] = frame.Header.FuncRef.upvalues[desc.Ordinal]
		}
	}
	fn, err := NewScriptFunction(vm, cb, upvalues)
	if err != nil {
		return err
	}
	frame.setSlot(ctx, ins.Dest, PointerValue(fn.handle))
	frame.PC++
	return nil
}

func (vm *Vm) execCall(ctx *CoroutineRuntimeContext, frame *CallFrame, ins Instruction, tail bool) error {
	calleeVal := frame.slotRef(ctx, ins.Dest)
	argc := int(ins.Src2)
	args := make([]Value, argc)
	for i := 0; i < argc; i++ {
		args[i] = ctx.stack[frame.Base+int(ins.Dest)+1+i]
	}
	if ctx.hasStagedVariadicReturn() {
		vstart := frame.Base + ctx.variadicRetSlotOffset
		args = append(args, ctx.stack[vstart:vstart+int(ctx.variadicRetCount)]...)
		ctx.clearVariadicReturn()
	}
	fn, args, err := vm.resolveCallable(calleeVal, args)
	if err != nil {
		return err
	}
	if fn.kind == ExecutableNative {
		results, err := fn.native(vm, ctx, args)
		if err != nil {
			return err
		}
		for i, v := range results {
			frame.setSlot(ctx, ins.Dest+int32(i), v)
		}
		frame.PC++
		return nil
	}
	if tail {
		tailCallOverlay(ctx, fn, args)
		return nil
	}
	pushScriptFrame(ctx, fn, args, frame.Base, frame.PC+1, ReturnToCaller)
	return nil
}

func (vm *Vm) execForLoopInit(ctx *CoroutineRuntimeContext, frame *CallFrame, ins Instruction) error {
	start, _ := asDouble(frame.slotRef(ctx, ins.Dest))
	limit, _ := asDouble(frame.slotRef(ctx, ins.Dest+1))
	step, _ := asDouble(frame.slotRef(ctx, ins.Dest+2))
	if step == 0 {
		return vm.newTypeError("'for' step is zero")
	}
	if (step > 0 && start > limit) || (step < 0 && start < limit) {
		frame.PC += int(ins.Jump)
		return nil
	}
	frame.setSlot(ctx, ins.Dest+3, DoubleValue(start))
	frame.PC++
	return nil
}

func (vm *Vm) execForLoopStep(ctx *CoroutineRuntimeContext, frame *CallFrame, ins Instruction) error {
	cur, _ := asDouble(frame.slotRef(ctx, ins.Dest+3))
	step, _ := asDouble(frame.slotRef(ctx, ins.Dest+2))
	limit, _ := asDouble(frame.slotRef(ctx, ins.Dest+1))
	next := cur + step
	if (step > 0 && next > limit) || (step < 0 && next < limit) {
		frame.PC++
		return nil
	}
	frame.setSlot(ctx, ins.Dest+3, DoubleValue(next))
	frame.PC += int(ins.Jump)
	return nil
}

// execIteratorOp implements the generic-for protocol's four cooperating
// ops, including ValidateIsNextAndBranch's one-time self-rewrite into
// either CallNext or an ordinary CallIterator (§4.9).
func (vm *Vm) execIteratorOp(ctx *CoroutineRuntimeContext, frame *CallFrame, ins Instruction) error {
	switch ins.Op {
	case OpValidateIsNextAndBranch:
		iterFn := frame.slotRef(ctx, ins.Dest)
		if isBuiltinNextFunction(vm, iterFn) {
			frame.CodeBlock.Owner.Bytecode[frame.PC].Op = OpCallNext
		} else {
			frame.CodeBlock.Owner.Bytecode[frame.PC].Op = OpCallIterator
		}
		return nil // re-execute the now-rewritten instruction without advancing PC
	case OpCallIterator, OpCallNext:
		iterFn := frame.slotRef(ctx, ins.Dest)
		state := frame.slotRef(ctx, ins.Dest+1)
		control := frame.slotRef(ctx, ins.Dest+2)
		results, err := vm.Call(ctx, iterFn, []Value{state, control})
		if err != nil {
			return err
		}
		for i := 0; i < int(ins.Src2); i++ {
			if i < len(results) {
				frame.setSlot(ctx, ins.Dest+3+int32(i), results[i])
			} else {
				frame.setSlot(ctx, ins.Dest+3+int32(i), NilValue())
			}
		}
		frame.PC++
		return nil
	case OpIteratorLoopBranch:
		control := frame.slotRef(ctx, ins.Dest)
		if control.IsNil() {
			frame.PC++
		} else {
			frame.setSlot(ctx, ins.Dest-1, control)
			frame.PC += int(ins.Jump)
		}
		return nil
	}
	return vm.newTypeError("unreachable iterator opcode %d", ins.Op)
}

func isBuiltinNextFunction(vm *Vm, v Value) bool {
	if !v.IsPointer() {
		return false
	}
	fn, ok := vm.ResolveUser(v.AsPointer()).(*FunctionObject)
	return ok && fn.kind == ExecutableNative && fn.name == "next"
}

// functionPrototypeHolder wraps an *UnlinkedCodeBlock as a heap object so it
// can sit in a constant table slot alongside ordinary Values (§6: "a raw
// pointer to an UnlinkedCodeBlock" reinterpreted here as an explicitly
// tagged pointer Value rather than a type-punned double, per §6's own
// suggestion that implementers may tag entries explicitly).
type functionPrototypeHolder struct {
	handle UserHeapPtr
	ucb    *UnlinkedCodeBlock
}

func (p *functionPrototypeHolder) Type() HeapEntityType { return HeapEntityFunction }

// NewFunctionPrototypeValue wraps ucb as an object-constant Value a NewClosure
// op can later instantiate (§6: "a raw pointer to an UnlinkedCodeBlock").
// Used by the bytecode source loader while building each chunk's constant
// table.
func (vm *Vm) NewFunctionPrototypeValue(ucb *UnlinkedCodeBlock) (Value, error) {
	holder := &functionPrototypeHolder{ucb: ucb}
	handle, err := vm.allocUserHeap(holder)
	if err != nil {
		return NilValue(), err
	}
	holder.handle = handle
	return PointerValue(handle), nil
}

// LoadEntryPoint specializes ucb against globalObject and wraps it as a
// zero-upvalue closure Value, ready to pass to Call. Used by the CLI's
// launch_script entry point for a chunk's top-level function, which the
// source loader guarantees captures nothing (§6).
func (vm *Vm) LoadEntryPoint(ucb *UnlinkedCodeBlock, globalObject *TableObject) (Value, error) {
	cb := vm.codeBlockFor(ucb, globalObject)
	fn, err := NewScriptFunction(vm, cb, nil)
	if err != nil {
		return NilValue(), err
	}
	return PointerValue(fn.Handle()), nil
}
