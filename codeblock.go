// Copyright 2026 The toyvm Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// license that can be found in the LICENSE file.

package toyvm

// UpvalueDescriptor describes how a CodeBlock's Nth upvalue is captured, as
// decoded from the bytecode source loader's `Upvalues[]` (§6).
type UpvalueDescriptor struct {
	IsParentLocal bool
	IsImmutable   bool
	// Ordinal is ParentLocalOrdinal when IsParentLocal, else
	// ParentUpvalueOrdinal: the index into the parent's own upvalue_refs.
	Ordinal uint32
}

// UnlinkedCodeBlock is the immutable per-source-function record (§3): a
// bytecode template shared by every specialization of this function against
// a particular global object.
type UnlinkedCodeBlock struct {
	ChunkName      string
	NumFixedParams uint32
	TakesVarArg    bool
	MaxFrameSize   uint32
	Upvalues       []UpvalueDescriptor
	NumberConstants []float64
	// ObjectConstants holds already-resolved Values (interned strings,
	// nested *UnlinkedCodeBlock wrapped as a closure template marker, or
	// table templates materialized once at load time); see loader.go.
	ObjectConstants []Value
	Bytecode        []Instruction

	parent *UnlinkedCodeBlock

	// defaultCodeBlock is the CodeBlock specialized against the global
	// object this chunk was loaded against; most scripts only ever run
	// under one GlobalObject so this avoids a map lookup on the hot path.
	defaultCodeBlock *CodeBlock
	defaultGlobal    *TableObject

	// The lazy map global_object -> CodeBlock for re-specialization (§3) is
	// not a field here; it lives in Vm.respecializationIndex and
	// Vm.respecializationCache in vm.go.
}

// CodeBlock owns the mutable, specialization-point bytecode of one
// (UnlinkedCodeBlock, GlobalObject) pair (§3). For toyvm's single-
// GlobalObject-per-Vm model (there is exactly one Vm.Globals), a CodeBlock's
// mutable state in practice never diverges from its UnlinkedCodeBlock's
// template, but the type stays distinct from UnlinkedCodeBlock to keep the
// specialization seam the spec describes available to a future multi-realm
// VM.
type CodeBlock struct {
	Owner        *UnlinkedCodeBlock
	GlobalObject *TableObject

	EntryPoint uint32
}

// respecializationKey identifies one (UnlinkedCodeBlock, GlobalObject) pair
// in Vm.respecializationIndex.
type respecializationKey struct {
	ucb    *UnlinkedCodeBlock
	global *TableObject
}

// codeBlockFor returns the CodeBlock specializing ucb against globalObject,
// creating and registering it in the VM's strict respecialization index when
// globalObject isn't ucb's default (§3 "lazy map global_object -> CodeBlock
// for re-specialization"). The index is the identity ground truth: once a
// pair has a CodeBlock, every later call for that exact pair returns the
// same instance. respecializationCache only ever receives a parallel Set as
// a bounded hotness hint; it is never consulted to answer a lookup, since a
// cache miss on a live key must never fabricate a second CodeBlock for it.
func (vm *Vm) codeBlockFor(ucb *UnlinkedCodeBlock, globalObject *TableObject) *CodeBlock {
	if ucb.defaultCodeBlock != nil && ucb.defaultGlobal == globalObject {
		return ucb.defaultCodeBlock
	}
	key := respecializationKey{ucb, globalObject}

	vm.respecializationMu.Lock()
	if cb, ok := vm.respecializationIndex[key]; ok {
		vm.respecializationMu.Unlock()
		return cb
	}
	vm.respecializationMu.Unlock()

	cb := &CodeBlock{Owner: ucb, GlobalObject: globalObject}
	if ucb.defaultCodeBlock == nil {
		ucb.defaultCodeBlock = cb
		ucb.defaultGlobal = globalObject
		return cb
	}

	vm.respecializationMu.Lock()
	if existing, ok := vm.respecializationIndex[key]; ok {
		// Lost a race against a concurrent caller specializing the same
		// pair; converge on whichever CodeBlock got registered first so
		// every caller for this key shares one mutable instance.
		vm.respecializationMu.Unlock()
		return existing
	}
	vm.respecializationIndex[key] = cb
	vm.respecializationMu.Unlock()

	vm.respecializationCache.Set(key, struct{}{}, 1)
	return cb
}
