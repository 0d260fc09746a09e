// Copyright 2026 The toyvm Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// license that can be found in the LICENSE file.

package loader

import (
	"testing"

	"go.uber.org/zap"

	"github.com/toylang/toyvm"
)

func newTestVm(t *testing.T) *toyvm.Vm {
	t.Helper()
	vm, err := toyvm.New(toyvm.DefaultConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("toyvm.New: %v", err)
	}
	t.Cleanup(func() { _ = vm.Close() })
	return vm
}

// minimalDocJSON is a one-prototype chunk: `return 1 + 2`, compiled by hand
// into the wire format (KSHORT r0,#0 / KSHORT r1,#1 / ADDVV r0,r0,r1 / RET1 r0).
const minimalDocJSON = `{
  "ChunkName": "=(test)",
  "FunctionPrototypes": [
    {
      "NumFixedParams": 0,
      "TakesVarArg": false,
      "MaxFrameSize": 4,
      "NumberConstants": [1, 2],
      "ObjectConstants": [],
      "Bytecode": [
        {"OpCode": "KSHORT", "OpData": [0, 0]},
        {"OpCode": "KSHORT", "OpData": [1, 1]},
        {"OpCode": "ADDVV", "OpData": [0, 0, 1]},
        {"OpCode": "RET1", "OpData": [0, 1]}
      ]
    }
  ]
}`

func TestLoadMinimalChunk(t *testing.T) {
	vm := newTestVm(t)
	ucb, err := Load(vm, []byte(minimalDocJSON))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ucb.ChunkName != "=(test)" {
		t.Errorf("ChunkName = %q", ucb.ChunkName)
	}
	if len(ucb.Bytecode) != 4 {
		t.Fatalf("got %d decoded instructions, want 4", len(ucb.Bytecode))
	}
	if ucb.Bytecode[2].Op != toyvm.OpAdd {
		t.Errorf("instruction 2 op = %v, want OpAdd", ucb.Bytecode[2].Op)
	}
	if ucb.Bytecode[3].Op != toyvm.OpReturn || ucb.Bytecode[3].Src2 != 1 {
		t.Errorf("instruction 3 = %+v, want OpReturn with Src2=1", ucb.Bytecode[3])
	}
	// Three implicit primitives always occupy indices 0..2.
	if !ucb.ObjectConstants[0].IsNil() {
		t.Errorf("ObjectConstants[0] should be nil")
	}
}

func TestLoadRejectsUnknownOpcode(t *testing.T) {
	vm := newTestVm(t)
	doc := `{"ChunkName":"=(bad)","FunctionPrototypes":[{"MaxFrameSize":1,"Bytecode":[{"OpCode":"NOPE","OpData":[]}]}]}`
	if _, err := Load(vm, []byte(doc)); err == nil {
		t.Fatal("expected an error for an unrecognized opcode")
	}
}

func TestLoadRejectsDanglingComparison(t *testing.T) {
	vm := newTestVm(t)
	doc := `{"ChunkName":"=(bad)","FunctionPrototypes":[{"MaxFrameSize":2,"Bytecode":[{"OpCode":"ISLT","OpData":[0,1]},{"OpCode":"RET0","OpData":[0,0]}]}]}`
	if _, err := Load(vm, []byte(doc)); err == nil {
		t.Fatal("expected an error when a comparison op isn't followed by JMP")
	}
}

func TestLoadFusesComparisonAndJump(t *testing.T) {
	vm := newTestVm(t)
	doc := `{"ChunkName":"=(cmp)","FunctionPrototypes":[{"MaxFrameSize":2,"Bytecode":[
		{"OpCode":"ISLT","OpData":[0,1]},
		{"OpCode":"JMP","OpData":[3]},
		{"OpCode":"RET0","OpData":[0,0]}
	]}]}`
	ucb, err := Load(vm, []byte(doc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(ucb.Bytecode) != 2 {
		t.Fatalf("got %d instructions, want 2 (fused compare+jump, then RET0)", len(ucb.Bytecode))
	}
	if ucb.Bytecode[0].Op != toyvm.OpIsLT || ucb.Bytecode[0].Jump != 3 {
		t.Errorf("fused instruction = %+v", ucb.Bytecode[0])
	}
}

func TestLoadStringConstantIsInterned(t *testing.T) {
	vm := newTestVm(t)
	doc := `{"ChunkName":"=(str)","FunctionPrototypes":[{"MaxFrameSize":2,
		"ObjectConstants":[{"Kind":"string","String":"hello"}],
		"Bytecode":[
			{"OpCode":"KSTR","OpData":[0,0]},
			{"OpCode":"RET1","OpData":[0,1]}
		]}]}`
	ucb, err := Load(vm, []byte(doc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	v := ucb.ObjectConstants[ucb.Bytecode[0].Constant]
	if !v.IsPointer() {
		t.Fatalf("string constant did not resolve to a heap pointer")
	}
}

func TestLoadNestedPrototype(t *testing.T) {
	vm := newTestVm(t)
	doc := `{"ChunkName":"=(nested)","FunctionPrototypes":[
		{"MaxFrameSize":2,
		 "ObjectConstants":[{"Kind":"prototype","PrototypeIndex":1}],
		 "Bytecode":[
			{"OpCode":"FNEW","OpData":[0,0]},
			{"OpCode":"RET1","OpData":[0,1]}
		 ]},
		{"NumFixedParams":0,"MaxFrameSize":1,"Bytecode":[{"OpCode":"RET0","OpData":[0,0]}]}
	]}`
	ucb, err := Load(vm, []byte(doc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	v := ucb.ObjectConstants[ucb.Bytecode[0].Constant]
	if !v.IsPointer() {
		t.Fatalf("nested prototype constant did not resolve to a heap pointer")
	}
}

func TestLoadRejectsUnsupportedFormatVersion(t *testing.T) {
	vm := newTestVm(t)
	doc := `{"FormatVersion":"2.0.0","ChunkName":"=(v2)","FunctionPrototypes":[{"MaxFrameSize":1,"Bytecode":[{"OpCode":"RET0","OpData":[0,0]}]}]}`
	if _, err := Load(vm, []byte(doc)); err == nil {
		t.Fatal("expected an error for an unsupported major format version")
	}
}
