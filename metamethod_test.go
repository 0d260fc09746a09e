// Copyright 2026 The toyvm Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// license that can be found in the LICENSE file.

package toyvm

import "testing"

func TestMetatableForTableOwnMetatable(t *testing.T) {
	vm := newTestVm(t)
	tbl := newTestTable(t, vm)
	mt := newTestTable(t, vm)
	tbl.SetMetatable(mt)
	if got := vm.MetatableFor(PointerValue(tbl.Handle())); got != mt {
		t.Fatalf("MetatableFor(table) = %v, want the table's own metatable", got)
	}
}

func TestMetatableForNonTableUsesVmGlobal(t *testing.T) {
	vm := newTestVm(t)
	numberMt := newTestTable(t, vm)
	vm.SetTypeMetatable(MetatableKindNumber, numberMt)

	if got := vm.MetatableFor(Int32Value(5)); got != numberMt {
		t.Errorf("MetatableFor(int32) = %v, want the VM-global number metatable", got)
	}
	if got := vm.MetatableFor(DoubleValue(5.5)); got != numberMt {
		t.Errorf("MetatableFor(double) = %v, want the VM-global number metatable", got)
	}
	if got := vm.MetatableFor(BoolValue(true)); got != nil {
		t.Errorf("MetatableFor(bool) should be nil when no bool metatable was installed, got %v", got)
	}
}

func TestLookupMetamethodIndexFunction(t *testing.T) {
	vm := newTestVm(t)
	tbl := newTestTable(t, vm)
	mt := newTestTable(t, vm)
	indexFn, err := NewNativeFunction(vm, "__index", func(vm *Vm, ctx *CoroutineRuntimeContext, args []Value) ([]Value, error) {
		return []Value{Int32Value(123)}, nil
	})
	if err != nil {
		t.Fatalf("NewNativeFunction: %v", err)
	}
	key, err := vm.metamethodKey(MetaIndex)
	if err != nil {
		t.Fatalf("metamethodKey: %v", err)
	}
	if _, err := mt.PutById(key, PointerValue(indexFn.Handle())); err != nil {
		t.Fatalf("PutById: %v", err)
	}
	tbl.SetMetatable(mt)

	mm, present, err := vm.LookupMetamethod(PointerValue(tbl.Handle()), MetaIndex)
	if err != nil {
		t.Fatalf("LookupMetamethod: %v", err)
	}
	if !present {
		t.Fatalf("expected __index metamethod to be present")
	}
	if mm.AsPointer() != indexFn.Handle() {
		t.Errorf("LookupMetamethod returned the wrong function")
	}
}

func TestLookupMetamethodAbsent(t *testing.T) {
	vm := newTestVm(t)
	tbl := newTestTable(t, vm)
	_, present, err := vm.LookupMetamethod(PointerValue(tbl.Handle()), MetaIndex)
	if err != nil {
		t.Fatalf("LookupMetamethod: %v", err)
	}
	if present {
		t.Errorf("a table with no metatable should report no __index metamethod")
	}
}

func TestMetamethodKeyCaching(t *testing.T) {
	vm := newTestVm(t)
	k1, err := vm.metamethodKey(MetaEq)
	if err != nil {
		t.Fatalf("metamethodKey: %v", err)
	}
	k2, err := vm.metamethodKey(MetaEq)
	if err != nil {
		t.Fatalf("metamethodKey: %v", err)
	}
	if k1 != k2 {
		t.Fatalf("repeated metamethodKey calls for the same Metamethod must return the identical cached Value")
	}
	hs, ok := vm.ResolveUser(k1.AsPointer()).(*HeapString)
	if !ok || string(hs.Bytes()) != "__eq" {
		t.Errorf("metamethodKey(MetaEq) should intern the string \"__eq\", got %v", k1)
	}
}

func TestMetamethodStringNames(t *testing.T) {
	cases := map[Metamethod]string{
		MetaIndex: "__index", MetaNewIndex: "__newindex", MetaCall: "__call",
		MetaAdd: "__add", MetaEq: "__eq", MetaLt: "__lt", MetaLe: "__le",
		MetaToString: "__tostring",
	}
	for m, want := range cases {
		if got := m.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", m, got, want)
		}
	}
}
