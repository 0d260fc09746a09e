// Copyright 2026 The toyvm Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// license that can be found in the LICENSE file.

package toyvm

// OpCode enumerates the interpreter's instruction set (§4.9's "minimum
// needed for parity" inventory). Internally toyvm decodes the wire
// Bytecode[] array (loader.go) into a slice of Instruction structs rather
// than literal packed bytes: Go gives no benefit from a hand-packed byte
// stream the way the reference C++ interpreter's computed-goto dispatch
// does, and decoding once at load time lets every op handler work with
// typed fields (see DESIGN.md).
type OpCode uint8

const (
	OpUpvalueGet OpCode = iota
	OpUpvalueSet
	OpUpvalueClose

	OpTableGetById
	OpTablePutById
	OpTableGetByVal
	OpTablePutByVal
	OpTableGetByIndex
	OpTablePutByIndex
	OpTablePutVariadicSequence

	OpGlobalGet
	OpGlobalPut

	OpTableNew
	OpTableDup

	OpReturn
	OpCall
	OpTailCall
	OpVariadicArgsToVariadicRet
	OpPutVariadicArgs

	OpCallIterator
	OpIteratorLoopBranch
	OpCallNext
	OpValidateIsNextAndBranch

	OpNewClosure
	OpMove
	OpFillNil

	OpIsFalsy
	OpUnaryMinus
	OpLength

	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpPow
	OpConcat

	OpIsEQ
	OpIsNEQ
	OpIsLT
	OpIsNLT
	OpIsLE
	OpIsNLE

	OpCopyAndBranchIfTruthy
	OpCopyAndBranchIfFalsy
	OpBranchIfTruthy
	OpBranchIfFalsy

	OpForLoopInit
	OpForLoopStep

	OpJump
	OpConstant

	numOpCodes
)

// Instruction is one decoded bytecode op. Not every field is meaningful for
// every OpCode; Dest/Src1/Src2 follow the source loader's OpData ordering
// except for TSETV/TSETS/TSETB, whose operands the loader remaps (see
// loader/bytecode.go), and Jump is a signed instruction-index delta (the decoded analogue of
// §6's signed byte delta, since toyvm addresses Instructions by slice index
// rather than by byte offset).
type Instruction struct {
	Op       OpCode
	Dest     int32
	Src1     int32
	Src2     int32
	Jump     int32
	Constant int32 // index into CodeBlock's constant tables, when relevant
}

// slotRef resolves a "bytecode slot" field per §6: non-negative indexes a
// local relative to the current frame base, negative indexes the constant
// table (-1 is the first constant).
func (f *CallFrame) slotRef(ctx *CoroutineRuntimeContext, slot int32) Value {
	if slot >= 0 {
		return ctx.stack[f.Base+int(slot)]
	}
	idx := -(slot + 1)
	return f.CodeBlock.Owner.ObjectConstants[idx]
}

func (f *CallFrame) setSlot(ctx *CoroutineRuntimeContext, slot int32, v Value) {
	ctx.stack[f.Base+int(slot)] = v
}
