// Copyright 2026 The toyvm Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// license that can be found in the LICENSE file.

// Package loader decodes the JSON bytecode source format described in §6
// into toyvm's in-memory UnlinkedCodeBlocks, fusing comparison ops with
// their trailing JMP the way the reference implementation's frontend does.
package loader

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"golang.org/x/mod/semver"

	"github.com/toylang/toyvm"
)

// SourceDocument is the top-level shape of a loaded chunk (§6).
type SourceDocument struct {
	FormatVersion      string              `json:"FormatVersion,omitempty"`
	ChunkName          string              `json:"ChunkName" validate:"required"`
	FunctionPrototypes []FunctionPrototype `json:"FunctionPrototypes" validate:"required,min=1,dive"`
}

type UpvalueSource struct {
	IsParentLocal        bool   `json:"IsParentLocal"`
	IsImmutable           bool   `json:"IsImmutable"`
	ParentLocalOrdinal    uint32 `json:"ParentLocalOrdinal"`
	ParentUpvalueOrdinal  uint32 `json:"ParentUpvalueOrdinal"`
}

// ObjectConstantSource discriminates the three things §6 allows an object
// constant to be: an interned string, a nested function prototype index, or
// a table constructor template.
type ObjectConstantSource struct {
	Kind           string               `json:"Kind" validate:"required,oneof=string prototype table"`
	String         string               `json:"String,omitempty"`
	PrototypeIndex int                  `json:"PrototypeIndex,omitempty"`
	Table          *TableTemplateSource `json:"Table,omitempty"`
}

type TableTemplateSource struct {
	ArrayPart []ConstantLiteral      `json:"ArrayPart,omitempty"`
	HashPart  []KeyedConstantLiteral `json:"HashPart,omitempty"`
}

// ConstantLiteral is a plain scalar usable inside a table template: exactly
// one of the fields is set.
type ConstantLiteral struct {
	IsNil    bool     `json:"IsNil,omitempty"`
	Bool     *bool    `json:"Bool,omitempty"`
	Number   *float64 `json:"Number,omitempty"`
	IsInt    bool     `json:"IsInt,omitempty"`
	IntValue int32    `json:"IntValue,omitempty"`
	String   *string  `json:"String,omitempty"`
}

type KeyedConstantLiteral struct {
	Key   ConstantLiteral `json:"Key"`
	Value ConstantLiteral `json:"Value"`
}

type InstructionSource struct {
	OpCode string  `json:"OpCode" validate:"required"`
	OpData []int32 `json:"OpData"`
}

type FunctionPrototype struct {
	NumFixedParams  uint32              `json:"NumFixedParams"`
	TakesVarArg     bool                `json:"TakesVarArg"`
	MaxFrameSize    uint32              `json:"MaxFrameSize" validate:"required"`
	Upvalues        []UpvalueSource     `json:"Upvalues"`
	NumberConstants []float64           `json:"NumberConstants"`
	ObjectConstants []ObjectConstantSource `json:"ObjectConstants"`
	Bytecode        []InstructionSource `json:"Bytecode"`
}

var validate = validator.New()

// supportedFormatVersion's major version is compared (semver.Major) with
// that of an optional FormatVersion field; chunks of any other major
// version, older or newer, are rejected rather than silently misinterpreted.
const supportedFormatVersion = "v1.0.0"

// Load decodes a JSON chunk document and returns its entry-point
// UnlinkedCodeBlock (FunctionPrototypes[0]), interning every string
// constant through vm and registering every nested prototype as a
// NewClosure-able constant.
func Load(vm *toyvm.Vm, data []byte) (*toyvm.UnlinkedCodeBlock, error) {
	var doc SourceDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("loader: decode: %w", err)
	}
	if err := validate.Struct(&doc); err != nil {
		return nil, fmt.Errorf("loader: validate: %w", err)
	}
	if doc.FormatVersion != "" {
		v := "v" + doc.FormatVersion
		if !semver.IsValid(v) {
			return nil, fmt.Errorf("loader: malformed FormatVersion %q", doc.FormatVersion)
		}
		if semver.Major(v) != semver.Major(supportedFormatVersion) {
			return nil, fmt.Errorf("loader: unsupported format version %s (supports %s.x)", doc.FormatVersion, semver.Major(supportedFormatVersion))
		}
	}

	blocks := make([]*toyvm.UnlinkedCodeBlock, len(doc.FunctionPrototypes))
	for i, proto := range doc.FunctionPrototypes {
		blocks[i] = &toyvm.UnlinkedCodeBlock{
			ChunkName:      doc.ChunkName,
			NumFixedParams: proto.NumFixedParams,
			TakesVarArg:    proto.TakesVarArg,
			MaxFrameSize:   proto.MaxFrameSize,
		}
	}

	for i, proto := range doc.FunctionPrototypes {
		block := blocks[i]
		block.Upvalues = make([]toyvm.UpvalueDescriptor, len(proto.Upvalues))
		for j, u := range proto.Upvalues {
			ord := u.ParentLocalOrdinal
			if !u.IsParentLocal {
				ord = u.ParentUpvalueOrdinal
			}
			block.Upvalues[j] = toyvm.UpvalueDescriptor{
				IsParentLocal: u.IsParentLocal,
				IsImmutable:   u.IsImmutable,
				Ordinal:       ord,
			}
		}

		// §6: "Three primary constants (nil, false, true) are implicitly
		// prepended." Numeric constants are folded into the same table
		// (toyvm has no separate number-constant array at runtime) so a
		// single signed slot index always resolves through ObjectConstants;
		// see Instruction's doc comment in opcode.go.
		consts := make([]toyvm.Value, 0, 3+len(proto.ObjectConstants)+len(proto.NumberConstants))
		consts = append(consts, toyvm.NilValue(), toyvm.BoolValue(false), toyvm.BoolValue(true))
		objectConstantBase := len(consts)
		for _, oc := range proto.ObjectConstants {
			v, err := resolveObjectConstant(vm, oc, blocks)
			if err != nil {
				return nil, fmt.Errorf("loader: %s: %w", doc.ChunkName, err)
			}
			consts = append(consts, v)
		}
		numberConstantBase := len(consts)
		for _, n := range proto.NumberConstants {
			consts = append(consts, numberToValue(n))
		}
		block.ObjectConstants = consts

		instrs, err := decodeBytecode(proto.Bytecode, objectConstantBase, numberConstantBase)
		if err != nil {
			return nil, fmt.Errorf("loader: %s: %w", doc.ChunkName, err)
		}
		block.Bytecode = instrs
	}

	return blocks[0], nil
}

func numberToValue(n float64) toyvm.Value {
	if n == float64(int32(n)) {
		return toyvm.Int32Value(int32(n))
	}
	return toyvm.DoubleValue(n)
}

func resolveObjectConstant(vm *toyvm.Vm, oc ObjectConstantSource, blocks []*toyvm.UnlinkedCodeBlock) (toyvm.Value, error) {
	switch oc.Kind {
	case "string":
		s, err := vm.InternString([]byte(oc.String))
		if err != nil {
			return toyvm.NilValue(), err
		}
		return toyvm.StringValue(s), nil
	case "prototype":
		if oc.PrototypeIndex < 0 || oc.PrototypeIndex >= len(blocks) {
			return toyvm.NilValue(), fmt.Errorf("prototype index %d out of range", oc.PrototypeIndex)
		}
		return vm.NewFunctionPrototypeValue(blocks[oc.PrototypeIndex])
	case "table":
		return buildTableTemplate(vm, oc.Table)
	default:
		return toyvm.NilValue(), fmt.Errorf("unknown object constant kind %q", oc.Kind)
	}
}

func buildTableTemplate(vm *toyvm.Vm, tpl *TableTemplateSource) (toyvm.Value, error) {
	if tpl == nil {
		tpl = &TableTemplateSource{}
	}
	t, err := toyvm.NewTableTemplate(vm)
	if err != nil {
		return toyvm.NilValue(), err
	}
	for i, lit := range tpl.ArrayPart {
		v, err := literalToValue(vm, lit)
		if err != nil {
			return toyvm.NilValue(), err
		}
		t.PutByIntegerIndex(int64(i+1), v)
	}
	for _, kv := range tpl.HashPart {
		k, err := literalToValue(vm, kv.Key)
		if err != nil {
			return toyvm.NilValue(), err
		}
		v, err := literalToValue(vm, kv.Value)
		if err != nil {
			return toyvm.NilValue(), err
		}
		if _, err := t.PutById(k, v); err != nil {
			return toyvm.NilValue(), err
		}
	}
	return toyvm.PointerValue(t.Handle()), nil
}

func literalToValue(vm *toyvm.Vm, lit ConstantLiteral) (toyvm.Value, error) {
	switch {
	case lit.IsNil:
		return toyvm.NilValue(), nil
	case lit.Bool != nil:
		return toyvm.BoolValue(*lit.Bool), nil
	case lit.String != nil:
		s, err := vm.InternString([]byte(*lit.String))
		if err != nil {
			return toyvm.NilValue(), err
		}
		return toyvm.StringValue(s), nil
	case lit.IsInt:
		return toyvm.Int32Value(lit.IntValue), nil
	case lit.Number != nil:
		return toyvm.DoubleValue(*lit.Number), nil
	default:
		return toyvm.NilValue(), nil
	}
}
