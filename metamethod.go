// Copyright 2026 The toyvm Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// license that can be found in the LICENSE file.

package toyvm

import "github.com/cespare/xxhash/v2"

// MetatableKind indexes Vm.typeMetatables: the handful of non-table value
// kinds that can carry one shared, VM-global metatable (§4.6).
type MetatableKind uint8

const (
	MetatableKindNil MetatableKind = iota
	MetatableKindBool
	MetatableKindNumber
	MetatableKindString
	MetatableKindFunction
	MetatableKindThread
	MetatableKindUserdata
	numMetatableKinds
)

func metatableKindForValue(v Value) (MetatableKind, bool) {
	switch {
	case v.IsNil():
		return MetatableKindNil, true
	case v.IsBool():
		return MetatableKindBool, true
	case v.IsInt32(), v.IsDouble():
		return MetatableKindNumber, true
	case v.IsPointer():
		return MetatableKindUserdata, true
	default:
		return 0, false
	}
}

// Metamethod is the small fixed set of metamethod names §4.6 dispatches by
// ordinal rather than by string comparison on every access.
type Metamethod uint8

const (
	MetaIndex Metamethod = iota
	MetaNewIndex
	MetaCall
	MetaAdd
	MetaSub
	MetaMul
	MetaDiv
	MetaMod
	MetaPow
	MetaUnm
	MetaConcat
	MetaLen
	MetaEq
	MetaLt
	MetaLe
	MetaToString
	numMetamethods
)

var metamethodNames = [numMetamethods]string{
	MetaIndex:    "__index",
	MetaNewIndex: "__newindex",
	MetaCall:     "__call",
	MetaAdd:      "__add",
	MetaSub:      "__sub",
	MetaMul:      "__mul",
	MetaDiv:      "__div",
	MetaMod:      "__mod",
	MetaPow:      "__pow",
	MetaUnm:      "__unm",
	MetaConcat:   "__concat",
	MetaLen:      "__len",
	MetaEq:       "__eq",
	MetaLt:       "__lt",
	MetaLe:       "__le",
	MetaToString: "__tostring",
}

func (m Metamethod) String() string {
	if int(m) < len(metamethodNames) {
		return metamethodNames[m]
	}
	return "<invalid metamethod>"
}

// metamethodFingerprintTable implements §4.6's "metamethod name -> ordinal
// uses a static perfect hash over the precomputed 16-bit fingerprint in the
// interned method name string": built once from the fixed set of metamethod
// names, keyed on the same top-16-bits-of-xxhash fingerprint
// HeapString.Fingerprint() exposes, so classifying an arbitrary interned
// string never needs a linear name compare against all sixteen names.
var metamethodFingerprintTable [1 << 16]uint8

const noMetamethodOrdinal = uint8(numMetamethods)

func init() {
	for i := range metamethodFingerprintTable {
		metamethodFingerprintTable[i] = noMetamethodOrdinal
	}
	for m := Metamethod(0); m < numMetamethods; m++ {
		fp := uint16(xxhash.Sum64String(metamethodNames[m]) >> 48)
		metamethodFingerprintTable[fp] = uint8(m)
	}
}

// classifyMetamethodName reports whether hs's content is one of the fixed
// metamethod names, and if so its ordinal. The fingerprint table lookup is
// O(1); the byte compare only runs to break a fingerprint collision (two
// distinct strings sharing the top 16 hash bits), which the fixed 16-name
// set makes rare but not provably impossible.
func classifyMetamethodName(hs *HeapString) (Metamethod, bool) {
	if hs == nil {
		return 0, false
	}
	m := metamethodFingerprintTable[hs.Fingerprint()]
	if m == noMetamethodOrdinal {
		return 0, false
	}
	if string(hs.Bytes()) != metamethodNames[m] {
		return 0, false
	}
	return Metamethod(m), true
}

// metamethodKeys caches the interned HeapString Value for each metamethod
// name, populated lazily per VM so repeated lookups never re-intern.
type metamethodKeys struct {
	keys [numMetamethods]Value
	have [numMetamethods]bool
}

func (vm *Vm) metamethodKey(m Metamethod) (Value, error) {
	if vm.metaKeys == nil {
		vm.metaKeys = &metamethodKeys{}
	}
	mk := vm.metaKeys
	if mk.have[m] {
		return mk.keys[m], nil
	}
	s, err := vm.InternString([]byte(m.String()))
	if err != nil {
		return NilValue(), err
	}
	v := StringValue(s)
	mk.keys[m] = v
	mk.have[m] = true
	return v, nil
}

// MetatableFor returns the metatable that applies to v, consulting the
// object's own metatable for tables/userdata and the VM-global per-kind
// table otherwise (§4.6).
func (vm *Vm) MetatableFor(v Value) *TableObject {
	if v.IsPointer() {
		switch obj := vm.ResolveUser(v.AsPointer()).(type) {
		case *TableObject:
			return obj.metatable
		case *HeapString:
			return vm.typeMetatables[MetatableKindString]
		case *FunctionObject:
			return vm.typeMetatables[MetatableKindFunction]
		case *CoroutineRuntimeContext:
			return vm.typeMetatables[MetatableKindThread]
		}
	}
	kind, ok := metatableKindForValue(v)
	if !ok {
		return nil
	}
	return vm.typeMetatables[kind]
}

// SetTypeMetatable installs the VM-global metatable for a non-table value
// kind (the `debug.setmetatable` style hook §4.6 alludes to for non-table
// Values).
func (vm *Vm) SetTypeMetatable(kind MetatableKind, mt *TableObject) {
	vm.typeMetatables[kind] = mt
}

// LookupMetamethod finds the named metamethod for v, if any, returning
// (value, true) only when it is callable-relevant (i.e. present and
// non-nil).
func (vm *Vm) LookupMetamethod(v Value, m Metamethod) (Value, bool, error) {
	mt := vm.MetatableFor(v)
	if mt == nil {
		return NilValue(), false, nil
	}
	// mt.metamethodMask is maintained by the fingerprint classification in
	// noteKeyWritten/noteKeyDeleted; a clear bit here means m was never
	// written under its canonical name, so the GetById below is skippable.
	if !mt.MayHaveMetamethod(m) {
		return NilValue(), false, nil
	}
	key, err := vm.metamethodKey(m)
	if err != nil {
		return NilValue(), false, err
	}
	result, err := mt.GetById(key)
	if err != nil {
		return NilValue(), false, err
	}
	if result.Value.IsNil() {
		return NilValue(), false, nil
	}
	return result.Value, true, nil
}
