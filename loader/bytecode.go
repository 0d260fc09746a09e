// Copyright 2026 The toyvm Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// license that can be found in the LICENSE file.

package loader

import (
	"fmt"

	"github.com/toylang/toyvm"
)

// constSlot encodes a merged-constant-table index as a negative bytecode
// slot (§6: "non-negative indexes a local, negative indexes the constant
// table"). idx must already include objectConstantBase/numberConstantBase.
func constSlot(idx int) int32 { return int32(-(idx + 1)) }

func arg(data []int32, i int) int32 {
	if i < 0 || i >= len(data) {
		return 0
	}
	return data[i]
}

// decodeBytecode turns one prototype's raw instruction stream into toyvm's
// decoded Instruction slice, fusing each recognized comparison op with its
// mandatory trailing JMP (§6) and rewriting every wire constant-table
// reference to account for the three implicitly prepended primitives and
// the merged object/number constant layout built by Load.
func decodeBytecode(ops []InstructionSource, objectConstantBase, numberConstantBase int) ([]toyvm.Instruction, error) {
	out := make([]toyvm.Instruction, 0, len(ops))
	i := 0
	for i < len(ops) {
		op := ops[i]
		if !isRecognizedOp(op.OpCode) {
			return nil, fmt.Errorf("unrecognized opcode %q at index %d", op.OpCode, i)
		}
		if isComparisonOp(op.OpCode) {
			if i+1 >= len(ops) || ops[i+1].OpCode != "JMP" {
				return nil, fmt.Errorf("comparison op %q at index %d not followed by JMP", op.OpCode, i)
			}
			jmp := ops[i+1]
			instr, err := mapComparison(op, jmp, objectConstantBase, numberConstantBase)
			if err != nil {
				return nil, err
			}
			out = append(out, instr)
			i += 2
			continue
		}
		instr, err := mapOp(op, objectConstantBase, numberConstantBase)
		if err != nil {
			return nil, fmt.Errorf("%q at index %d: %w", op.OpCode, i, err)
		}
		out = append(out, instr)
		i++
	}
	return out, nil
}

func mapComparison(op, jmp InstructionSource, objectConstantBase, numberConstantBase int) (toyvm.Instruction, error) {
	d := op.OpData
	jumpDelta := arg(jmp.OpData, 0)
	switch op.OpCode {
	case "ISLT":
		return toyvm.Instruction{Op: toyvm.OpIsLT, Src1: arg(d, 0), Src2: arg(d, 1), Jump: jumpDelta}, nil
	case "ISGE":
		return toyvm.Instruction{Op: toyvm.OpIsNLT, Src1: arg(d, 0), Src2: arg(d, 1), Jump: jumpDelta}, nil
	case "ISLE":
		return toyvm.Instruction{Op: toyvm.OpIsLE, Src1: arg(d, 0), Src2: arg(d, 1), Jump: jumpDelta}, nil
	case "ISGT":
		return toyvm.Instruction{Op: toyvm.OpIsNLE, Src1: arg(d, 0), Src2: arg(d, 1), Jump: jumpDelta}, nil
	case "ISEQV":
		return toyvm.Instruction{Op: toyvm.OpIsEQ, Src1: arg(d, 0), Src2: arg(d, 1), Jump: jumpDelta}, nil
	case "ISNEV":
		return toyvm.Instruction{Op: toyvm.OpIsNEQ, Src1: arg(d, 0), Src2: arg(d, 1), Jump: jumpDelta}, nil
	case "ISEQS":
		return toyvm.Instruction{Op: toyvm.OpIsEQ, Src1: arg(d, 0), Src2: constSlot(objectConstantBase + int(arg(d, 1))), Jump: jumpDelta}, nil
	case "ISNES":
		return toyvm.Instruction{Op: toyvm.OpIsNEQ, Src1: arg(d, 0), Src2: constSlot(objectConstantBase + int(arg(d, 1))), Jump: jumpDelta}, nil
	case "ISEQN":
		return toyvm.Instruction{Op: toyvm.OpIsEQ, Src1: arg(d, 0), Src2: constSlot(numberConstantBase + int(arg(d, 1))), Jump: jumpDelta}, nil
	case "ISNEN":
		return toyvm.Instruction{Op: toyvm.OpIsNEQ, Src1: arg(d, 0), Src2: constSlot(numberConstantBase + int(arg(d, 1))), Jump: jumpDelta}, nil
	case "ISEQP":
		return toyvm.Instruction{Op: toyvm.OpIsEQ, Src1: arg(d, 0), Src2: constSlot(int(arg(d, 1))), Jump: jumpDelta}, nil
	case "ISNEP":
		return toyvm.Instruction{Op: toyvm.OpIsNEQ, Src1: arg(d, 0), Src2: constSlot(int(arg(d, 1))), Jump: jumpDelta}, nil
	default:
		return toyvm.Instruction{}, fmt.Errorf("unhandled comparison opcode %q", op.OpCode)
	}
}

func mapOp(op InstructionSource, objectConstantBase, numberConstantBase int) (toyvm.Instruction, error) {
	d := op.OpData
	switch op.OpCode {
	case "MOV":
		return toyvm.Instruction{Op: toyvm.OpMove, Dest: arg(d, 0), Src1: arg(d, 1)}, nil

	case "ADDVN":
		return arithInstr(toyvm.OpAdd, arg(d, 0), arg(d, 1), constSlot(numberConstantBase+int(arg(d, 2)))), nil
	case "SUBVN":
		return arithInstr(toyvm.OpSub, arg(d, 0), arg(d, 1), constSlot(numberConstantBase+int(arg(d, 2)))), nil
	case "MULVN":
		return arithInstr(toyvm.OpMul, arg(d, 0), arg(d, 1), constSlot(numberConstantBase+int(arg(d, 2)))), nil
	case "DIVVN":
		return arithInstr(toyvm.OpDiv, arg(d, 0), arg(d, 1), constSlot(numberConstantBase+int(arg(d, 2)))), nil
	case "MODVN":
		return arithInstr(toyvm.OpMod, arg(d, 0), arg(d, 1), constSlot(numberConstantBase+int(arg(d, 2)))), nil

	case "ADDNV":
		return arithInstr(toyvm.OpAdd, arg(d, 0), constSlot(numberConstantBase+int(arg(d, 1))), arg(d, 2)), nil
	case "SUBNV":
		return arithInstr(toyvm.OpSub, arg(d, 0), constSlot(numberConstantBase+int(arg(d, 1))), arg(d, 2)), nil
	case "MULNV":
		return arithInstr(toyvm.OpMul, arg(d, 0), constSlot(numberConstantBase+int(arg(d, 1))), arg(d, 2)), nil
	case "DIVNV":
		return arithInstr(toyvm.OpDiv, arg(d, 0), constSlot(numberConstantBase+int(arg(d, 1))), arg(d, 2)), nil
	case "MODNV":
		return arithInstr(toyvm.OpMod, arg(d, 0), constSlot(numberConstantBase+int(arg(d, 1))), arg(d, 2)), nil

	case "ADDVV":
		return arithInstr(toyvm.OpAdd, arg(d, 0), arg(d, 1), arg(d, 2)), nil
	case "SUBVV":
		return arithInstr(toyvm.OpSub, arg(d, 0), arg(d, 1), arg(d, 2)), nil
	case "MULVV":
		return arithInstr(toyvm.OpMul, arg(d, 0), arg(d, 1), arg(d, 2)), nil
	case "DIVVV":
		return arithInstr(toyvm.OpDiv, arg(d, 0), arg(d, 1), arg(d, 2)), nil
	case "MODVV":
		return arithInstr(toyvm.OpMod, arg(d, 0), arg(d, 1), arg(d, 2)), nil

	case "KSTR":
		return toyvm.Instruction{Op: toyvm.OpConstant, Dest: arg(d, 0), Constant: int32(objectConstantBase) + arg(d, 1)}, nil
	case "KSHORT", "KNUM":
		return toyvm.Instruction{Op: toyvm.OpConstant, Dest: arg(d, 0), Constant: int32(numberConstantBase) + arg(d, 1)}, nil
	case "KPRI":
		return toyvm.Instruction{Op: toyvm.OpConstant, Dest: arg(d, 0), Constant: arg(d, 1)}, nil

	case "UGET":
		return toyvm.Instruction{Op: toyvm.OpUpvalueGet, Dest: arg(d, 0), Src1: arg(d, 1)}, nil
	case "USETV":
		return toyvm.Instruction{Op: toyvm.OpUpvalueSet, Dest: arg(d, 0), Src1: arg(d, 1)}, nil
	case "USETS":
		return toyvm.Instruction{Op: toyvm.OpUpvalueSet, Dest: arg(d, 0), Src1: constSlot(objectConstantBase + int(arg(d, 1)))}, nil
	case "USETN":
		return toyvm.Instruction{Op: toyvm.OpUpvalueSet, Dest: arg(d, 0), Src1: constSlot(numberConstantBase + int(arg(d, 1)))}, nil
	case "USETP":
		return toyvm.Instruction{Op: toyvm.OpUpvalueSet, Dest: arg(d, 0), Src1: constSlot(int(arg(d, 1)))}, nil
	case "UCLO":
		return toyvm.Instruction{Op: toyvm.OpUpvalueClose, Dest: arg(d, 0)}, nil

	case "FNEW":
		return toyvm.Instruction{Op: toyvm.OpNewClosure, Dest: arg(d, 0), Constant: int32(objectConstantBase) + arg(d, 1)}, nil
	case "TNEW":
		return toyvm.Instruction{Op: toyvm.OpTableNew, Dest: arg(d, 0), Src1: arg(d, 1)}, nil
	case "TDUP":
		return toyvm.Instruction{Op: toyvm.OpTableDup, Dest: arg(d, 0), Constant: int32(objectConstantBase) + arg(d, 1)}, nil

	case "GGET":
		return toyvm.Instruction{Op: toyvm.OpGlobalGet, Dest: arg(d, 0), Constant: int32(objectConstantBase) + arg(d, 1)}, nil
	case "GSET":
		return toyvm.Instruction{Op: toyvm.OpGlobalPut, Src1: arg(d, 0), Constant: int32(objectConstantBase) + arg(d, 1)}, nil

	case "TGETV":
		return toyvm.Instruction{Op: toyvm.OpTableGetByVal, Dest: arg(d, 0), Src1: arg(d, 1), Src2: arg(d, 2)}, nil
	case "TGETS":
		return toyvm.Instruction{Op: toyvm.OpTableGetById, Dest: arg(d, 0), Src1: arg(d, 1), Constant: int32(objectConstantBase) + arg(d, 2)}, nil
	case "TGETB":
		return toyvm.Instruction{Op: toyvm.OpTableGetByIndex, Dest: arg(d, 0), Src1: arg(d, 1), Src2: arg(d, 2)}, nil
	case "TSETV":
		return toyvm.Instruction{Op: toyvm.OpTablePutByVal, Dest: arg(d, 1), Src1: arg(d, 2), Src2: arg(d, 0)}, nil
	case "TSETS":
		return toyvm.Instruction{Op: toyvm.OpTablePutById, Dest: arg(d, 1), Src1: arg(d, 0), Constant: int32(objectConstantBase) + arg(d, 2)}, nil
	case "TSETB":
		return toyvm.Instruction{Op: toyvm.OpTablePutByIndex, Dest: arg(d, 1), Src1: arg(d, 0), Src2: arg(d, 2)}, nil
	case "TSETM":
		return toyvm.Instruction{Op: toyvm.OpTablePutVariadicSequence, Dest: arg(d, 0), Src1: arg(d, 1)}, nil

	case "CALL", "CALLM":
		return toyvm.Instruction{Op: toyvm.OpCall, Dest: arg(d, 0), Src2: arg(d, 1)}, nil
	case "RET", "RETM":
		return toyvm.Instruction{Op: toyvm.OpReturn, Dest: arg(d, 0), Src2: arg(d, 1)}, nil
	case "RET0":
		return toyvm.Instruction{Op: toyvm.OpReturn, Dest: arg(d, 0), Src2: 0}, nil
	case "RET1":
		return toyvm.Instruction{Op: toyvm.OpReturn, Dest: arg(d, 0), Src2: 1}, nil

	case "FORI":
		return toyvm.Instruction{Op: toyvm.OpForLoopInit, Dest: arg(d, 0), Jump: arg(d, 1)}, nil
	case "FORL":
		return toyvm.Instruction{Op: toyvm.OpForLoopStep, Dest: arg(d, 0), Jump: arg(d, 1)}, nil
	case "LOOP", "JMP":
		return toyvm.Instruction{Op: toyvm.OpJump, Jump: arg(d, 0)}, nil

	case "ISNEXT":
		return toyvm.Instruction{Op: toyvm.OpValidateIsNextAndBranch, Dest: arg(d, 0)}, nil
	case "ITERC":
		return toyvm.Instruction{Op: toyvm.OpCallIterator, Dest: arg(d, 0), Src2: arg(d, 1)}, nil
	case "ITERN":
		return toyvm.Instruction{Op: toyvm.OpCallNext, Dest: arg(d, 0), Src2: arg(d, 1)}, nil
	case "ITERL":
		return toyvm.Instruction{Op: toyvm.OpIteratorLoopBranch, Dest: arg(d, 0), Jump: arg(d, 1)}, nil

	default:
		return toyvm.Instruction{}, fmt.Errorf("unhandled opcode %q", op.OpCode)
	}
}

func arithInstr(op toyvm.OpCode, dest, src1, src2 int32) toyvm.Instruction {
	return toyvm.Instruction{Op: op, Dest: dest, Src1: src1, Src2: src2}
}
