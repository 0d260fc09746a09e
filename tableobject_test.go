// Copyright 2026 The toyvm Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// license that can be found in the LICENSE file.

package toyvm

import "testing"

func newTestTable(t *testing.T, vm *Vm) *TableObject {
	t.Helper()
	tbl, err := NewTableTemplate(vm)
	if err != nil {
		t.Fatalf("NewTableTemplate: %v", err)
	}
	return tbl
}

func TestTableObjectGetPutByIdRoundTrip(t *testing.T) {
	vm := newTestVm(t)
	tbl := newTestTable(t, vm)
	k := keyFor(vm, 1)

	if res, err := tbl.GetById(k); err != nil || !res.Value.IsNil() {
		t.Fatalf("miss on empty table should be nil, got %v err=%v", res.Value, err)
	}

	putRes, err := tbl.PutById(k, Int32Value(7))
	if err != nil {
		t.Fatalf("PutById: %v", err)
	}
	if putRes.IC == nil || putRes.IC.FromStructure == putRes.IC.ToStructure {
		t.Fatalf("a first-ever PutById must report a Structure transition")
	}

	getRes, err := tbl.GetById(k)
	if err != nil {
		t.Fatalf("GetById: %v", err)
	}
	if getRes.Value.AsInt32() != 7 {
		t.Errorf("GetById after Put = %v, want 7", getRes.Value)
	}
	if getRes.IC == nil || getRes.IC.Structure != tbl.Structure() {
		t.Errorf("GetById IC info should key on the object's current Structure")
	}

	// Overwriting an existing key keeps the same Structure (no transition).
	putRes2, err := tbl.PutById(k, Int32Value(9))
	if err != nil {
		t.Fatalf("PutById overwrite: %v", err)
	}
	if putRes2.IC.FromStructure != putRes2.IC.ToStructure {
		t.Errorf("overwriting an existing key must not transition the Structure")
	}
}

func TestTableObjectPutByIdMigratesToDictionary(t *testing.T) {
	vm := newTestVm(t)
	tbl := newTestTable(t, vm)
	for i := 0; i < int(maxStructureSlots)+10; i++ {
		if _, err := tbl.PutById(keyFor(vm, i), Int32Value(int32(i))); err != nil {
			t.Fatalf("PutById(%d): %v", i, err)
		}
	}
	if tbl.dict == nil {
		t.Fatalf("table should have migrated to a dictionary past maxStructureSlots")
	}
	// Every key written before and after the migration must still resolve.
	for i := 0; i < int(maxStructureSlots)+10; i++ {
		res, err := tbl.GetById(keyFor(vm, i))
		if err != nil || res.Value.AsInt32() != int32(i) {
			t.Fatalf("GetById(%d) after dictionary migration = %v, err=%v, want %d", i, res.Value, err, i)
		}
	}
}

func TestTableObjectDeleteByIdUncacheable(t *testing.T) {
	vm := newTestVm(t)
	tbl := newTestTable(t, vm)
	k1, k2 := keyFor(vm, 1), keyFor(vm, 2)
	tbl.PutById(k1, Int32Value(1))
	tbl.PutById(k2, Int32Value(2))

	tbl.DeleteById(k1)
	if tbl.dict == nil {
		t.Fatalf("DeleteById must migrate to a dictionary if not already one")
	}
	if tbl.dict.Mode() != DictionaryUncacheable {
		t.Errorf("a dictionary that has ever deleted a key must be DictionaryUncacheable")
	}
	if res, _ := tbl.GetById(k1); !res.Value.IsNil() {
		t.Errorf("deleted key should read back as nil")
	}
	if res, _ := tbl.GetById(k2); res.Value.AsInt32() != 2 {
		t.Errorf("surviving key must be unaffected by an unrelated delete")
	}
}

func TestTableObjectIntegerIndexAndLength(t *testing.T) {
	vm := newTestVm(t)
	tbl := newTestTable(t, vm)
	for i := int64(1); i <= 5; i++ {
		tbl.PutByIntegerIndex(i, Int32Value(int32(i*2)))
	}
	if n := tbl.Length(); n != 5 {
		t.Fatalf("Length() = %d, want 5", n)
	}
	res := tbl.GetByIntegerIndex(3)
	if !res.Found || !res.Dense || res.Value.AsInt32() != 6 {
		t.Fatalf("GetByIntegerIndex(3) = %+v, want dense hit of 6", res)
	}
	if miss := tbl.GetByIntegerIndex(100); miss.Found {
		t.Errorf("GetByIntegerIndex(100) should miss on a short array")
	}
}

func TestTableObjectPutByIntegerIndexArrayTypeTransition(t *testing.T) {
	vm := newTestVm(t)
	tbl := newTestTable(t, vm)
	res := tbl.PutByIntegerIndex(1, Int32Value(1))
	if res.StructureChanged {
		t.Fatalf("int32 into a fresh int32-typed array should not change Structure")
	}
	res = tbl.PutByIntegerIndex(2, DoubleValue(1.5))
	if !res.StructureChanged || res.NewArrayType != ArrayTypeDouble {
		t.Fatalf("writing a double into an int32 array must transition to ArrayTypeDouble, got %+v", res)
	}
}

func TestTableObjectLengthAfterContinuityBreak(t *testing.T) {
	// §8 scenario: t={1,2,3,4}; t[3]=nil; #t; t[3]=5; t[6]=7.
	vm := newTestVm(t)
	tbl := newTestTable(t, vm)
	for i := int64(1); i <= 4; i++ {
		tbl.PutByIntegerIndex(i, Int32Value(int32(i)))
	}
	tbl.PutByIntegerIndex(3, NilValue())
	if tbl.butterfly.Header().Continuous {
		t.Fatalf("punching a hole at index 3 of 4 must break continuity")
	}
	tbl.PutByIntegerIndex(3, Int32Value(5))
	tbl.PutByIntegerIndex(6, Int32Value(7))
	if res := tbl.GetByIntegerIndex(3); !res.Found || res.Value.AsInt32() != 5 {
		t.Errorf("GetByIntegerIndex(3) after refill = %+v, want found=true value=5", res)
	}
	if res := tbl.GetByIntegerIndex(6); !res.Found || res.Value.AsInt32() != 7 {
		t.Errorf("GetByIntegerIndex(6) = %+v, want found=true value=7", res)
	}
}

func TestTableObjectSetMetatableCachesMode(t *testing.T) {
	vm := newTestVm(t)
	tbl := newTestTable(t, vm)
	mt := newTestTable(t, vm)

	if tbl.Structure().metatableMode != MetatableNone {
		t.Fatalf("a fresh table's Structure should start MetatableNone")
	}
	tbl.SetMetatable(mt)
	if tbl.Metatable() != mt {
		t.Errorf("Metatable() should return the table just installed")
	}
	if tbl.Structure().metatableMode != MetatableFixed {
		t.Errorf("SetMetatable(non-nil) should move the Structure to MetatableFixed")
	}
	tbl.SetMetatable(nil)
	if tbl.Metatable() != nil {
		t.Errorf("Metatable() should be nil after clearing")
	}
	if tbl.Structure().metatableMode != MetatableNone {
		t.Errorf("SetMetatable(nil) should move the Structure back to MetatableNone")
	}
}

func TestTableObjectForEachPropertyAndArrayIndex(t *testing.T) {
	vm := newTestVm(t)
	tbl := newTestTable(t, vm)
	tbl.PutById(keyFor(vm, 1), Int32Value(10))
	tbl.PutById(keyFor(vm, 2), Int32Value(20))
	tbl.PutByIntegerIndex(1, Int32Value(100))
	tbl.PutByIntegerIndex(2, Int32Value(200))

	gotNamed := map[Value]Value{}
	tbl.ForEachProperty(func(key, value Value) bool {
		gotNamed[key] = value
		return true
	})
	if len(gotNamed) != 2 {
		t.Fatalf("ForEachProperty visited %d keys, want 2", len(gotNamed))
	}

	gotArray := map[int64]Value{}
	tbl.ForEachArrayIndex(func(index int64, value Value) bool {
		gotArray[index] = value
		return true
	})
	if len(gotArray) != 2 || gotArray[1].AsInt32() != 100 || gotArray[2].AsInt32() != 200 {
		t.Errorf("ForEachArrayIndex = %v, want {1:100, 2:200}", gotArray)
	}

	// Early return (false) stops iteration.
	count := 0
	tbl.ForEachProperty(func(key, value Value) bool {
		count++
		return false
	})
	if count != 1 {
		t.Errorf("returning false from the callback should stop after one visit, got %d", count)
	}
}
