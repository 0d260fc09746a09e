// Copyright 2026 The toyvm Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// license that can be found in the LICENSE file.

package toyvm

// TableObject is the single heap aggregate backing both Lua tables and the
// global object (§3): a Structure-typed set of named properties plus a
// butterfly-resident array part, optionally demoted to a per-object
// PropertyDictionary once its Structure would overflow maxStructureSlots.
type TableObject struct {
	handle    UserHeapPtr
	structure *Structure
	inline    []Value
	butterfly *Butterfly
	metatable *TableObject
	dict      *PropertyDictionary
	vm        *Vm

	// metamethodMask has bit m set iff a property keyed on metamethod m's
	// canonical name (§4.6) has been written and not since deleted; see
	// noteKeyWritten/noteKeyDeleted and classifyMetamethodName in
	// metamethod.go. Consulted by LookupMetamethod to skip a GetById for
	// metamethod names this table could never have held.
	metamethodMask uint32
}

// NewTableObject allocates a fresh, empty table sharing the given Structure
// (typically the VM's root for some inline-capacity stepping, or any
// Structure already reached by prior transitions when cloning shape).
func NewTableObject(vm *Vm, s *Structure) (*TableObject, error) {
	t := &TableObject{
		structure: s,
		inline:    make([]Value, s.inlineCapacity),
		vm:        vm,
	}
	for i := range t.inline {
		t.inline[i] = NilValue()
	}
	t.butterfly = NewButterfly(s.outlineCapacity, vm.config.InitialArrayCapacity)
	handle, err := vm.allocUserHeap(t)
	if err != nil {
		return nil, err
	}
	t.handle = handle
	return t, nil
}

func (t *TableObject) Type() HeapEntityType { return HeapEntityTable }

// Handle returns the heap pointer this table was registered under, for
// callers outside the package (the bytecode loader) building a Value that
// refers back to it.
func (t *TableObject) Handle() UserHeapPtr { return t.handle }

// NewTableTemplate builds an empty table using the VM's default starting
// Structure, the shape every fresh table-constructor template (TDUP) and
// bare `{}` literal begins from.
func NewTableTemplate(vm *Vm) (*TableObject, error) {
	return NewTableObject(vm, vm.initialStructureForInlineCapacity(defaultGlobalObjectInlineCapacity))
}

// Structure exposes the object's current hidden class (read by IC prepare
// contracts in callers that want to key on it directly).
func (t *TableObject) Structure() *Structure { return t.structure }

// GetByIdICInfo describes the fast path a GetById call could have taken,
// for a caller building an inline cache keyed on Structure identity (§4.5).
// A nil *GetByIdICInfo means the access is not presently cacheable (the
// object is a dictionary in uncacheable mode).
type GetByIdICInfo struct {
	Structure      *Structure
	Slot           uint32
	Inline         bool
	ButterflyIndex int32
	FromDictionary bool
}

type GetByIdResult struct {
	Value Value
	IC    *GetByIdICInfo
}

// GetById looks up a named property (§4.5 GetById IC prepare contract).
func (t *TableObject) GetById(key Value) (GetByIdResult, error) {
	if t.dict != nil {
		v, ok := t.dict.Get(key)
		if !ok {
			return GetByIdResult{Value: NilValue()}, nil
		}
		var ic *GetByIdICInfo
		if t.dict.Mode() == DictionaryCacheable {
			ic = &GetByIdICInfo{FromDictionary: true}
		}
		return GetByIdResult{Value: v, IC: ic}, nil
	}
	slot, found := t.structure.Lookup(key)
	if !found {
		return GetByIdResult{Value: NilValue()}, nil
	}
	inline, bIdx := t.structure.SlotLocation(slot)
	var v Value
	if inline {
		v = t.inline[slot]
	} else {
		v = t.butterfly.NamedGet(bIdx)
	}
	return GetByIdResult{
		Value: v,
		IC: &GetByIdICInfo{
			Structure:      t.structure,
			Slot:           slot,
			Inline:         inline,
			ButterflyIndex: bIdx,
		},
	}, nil
}

// PutByIdICInfo describes the transition a PutById call took, for a caller
// building a transition-keyed inline cache (§4.5 PutById IC prepare
// contract: "from_structure, to_structure, offset, whether the butterfly
// needed to grow").
type PutByIdICInfo struct {
	FromStructure  *Structure
	ToStructure    *Structure
	Slot           uint32
	Inline         bool
	ButterflyIndex int32
	GrewButterfly  bool
	FromDictionary bool
}

type PutByIdResult struct {
	IC *PutByIdICInfo
}

// classifyKey resolves key (when it names a heap string) to the metamethod
// ordinal it matches, if any, via the fingerprint classification in
// metamethod.go.
func (t *TableObject) classifyKey(key Value) (Metamethod, bool) {
	if !key.IsPointer() {
		return 0, false
	}
	hs, ok := t.vm.ResolveUser(key.AsPointer()).(*HeapString)
	if !ok {
		return 0, false
	}
	return classifyMetamethodName(hs)
}

func (t *TableObject) noteKeyWritten(key Value) {
	if m, ok := t.classifyKey(key); ok {
		t.metamethodMask |= 1 << uint(m)
	}
}

func (t *TableObject) noteKeyDeleted(key Value) {
	if m, ok := t.classifyKey(key); ok {
		t.metamethodMask &^= 1 << uint(m)
	}
}

// MayHaveMetamethod reports whether this table could plausibly hold m as a
// property (§4.6). false is definitive (m was never written under its
// canonical name); true still requires an ordinary GetById to read the
// actual value, since it could since have been overwritten with nil.
func (t *TableObject) MayHaveMetamethod(m Metamethod) bool {
	return t.metamethodMask&(1<<uint(m)) != 0
}

// PutById stores a named property, transitioning the object's Structure (or
// migrating it to a dictionary) when key has never been stored before.
func (t *TableObject) PutById(key Value, value Value) (PutByIdResult, error) {
	t.noteKeyWritten(key)
	if t.dict != nil {
		t.dict.Put(key, value)
		var ic *PutByIdICInfo
		if t.dict.Mode() == DictionaryCacheable {
			ic = &PutByIdICInfo{FromDictionary: true}
		}
		return PutByIdResult{IC: ic}, nil
	}

	if slot, found := t.structure.Lookup(key); found {
		inline, bIdx := t.structure.SlotLocation(slot)
		if inline {
			t.inline[slot] = value
		} else {
			t.butterfly.NamedSet(bIdx, value)
		}
		return PutByIdResult{IC: &PutByIdICInfo{
			FromStructure:  t.structure,
			ToStructure:    t.structure,
			Slot:           slot,
			Inline:         inline,
			ButterflyIndex: bIdx,
		}}, nil
	}

	res := t.structure.AddProperty(key)
	if res.TransitionToDictionary {
		t.migrateToDictionary()
		t.dict.Put(key, value)
		return PutByIdResult{IC: &PutByIdICInfo{FromDictionary: true}}, nil
	}

	fromStructure := t.structure
	inline, bIdx := res.Next.SlotLocation(res.Slot)
	if res.ShouldGrowButterfly && !inline {
		t.butterfly.GrowNamed(res.Next.OutlineCapacity())
	}
	if inline {
		t.inline[res.Slot] = value
	} else {
		t.butterfly.NamedSet(bIdx, value)
	}
	t.structure = res.Next
	return PutByIdResult{IC: &PutByIdICInfo{
		FromStructure:  fromStructure,
		ToStructure:    res.Next,
		Slot:           res.Slot,
		Inline:         inline,
		ButterflyIndex: bIdx,
		GrewButterfly:  res.ShouldGrowButterfly,
	}}, nil
}

// DeleteById removes a named property, demoting the object to a dictionary
// first if it is still Structure-based (§4.5 step 4's rationale applies
// equally to deletes: a Structure has no delete-property transition).
func (t *TableObject) DeleteById(key Value) {
	if t.dict == nil {
		t.migrateToDictionary()
	}
	t.dict.Delete(key)
	t.noteKeyDeleted(key)
}

func (t *TableObject) migrateToDictionary() {
	t.dict = newPropertyDictionaryFromStructure(t.structure, func(slot uint32) Value {
		inline, bIdx := t.structure.SlotLocation(slot)
		if inline {
			return t.inline[slot]
		}
		return t.butterfly.NamedGet(bIdx)
	})
}

// GetByIntegerIndexResult mirrors §4.5's GetByIntegerIndex IC prepare
// contract: whether the hit came off the dense vector (cacheable on
// ArrayType alone) or required the sparse map / a metamethod fallback.
type GetByIntegerIndexResult struct {
	Value Value
	Found bool
	Dense bool
}

func (t *TableObject) GetByIntegerIndex(key int64) GetByIntegerIndexResult {
	v, found, dense := t.butterfly.GetIndex(key)
	return GetByIntegerIndexResult{Value: v, Found: found, Dense: dense}
}

// PutByIntegerIndexResult mirrors §4.5's PutByIntegerIndex IC prepare
// contract: "current array_type, whether it must transition, whether the
// vector needs to grow".
type PutByIntegerIndexResult struct {
	WentSparse       bool
	GrewVector       bool
	BrokeContinuity  bool
	NewArrayType     ArrayType
	StructureChanged bool
}

func (t *TableObject) PutByIntegerIndex(key int64, value Value) PutByIntegerIndexResult {
	r := t.butterfly.SetIndex(key, value, t.vm.config)
	out := PutByIntegerIndexResult{
		WentSparse:      r.WentSparse,
		GrewVector:      r.GrewVector,
		BrokeContinuity: r.BrokeContinuity,
		NewArrayType:    r.NewArrayType,
	}
	if r.NewArrayType != t.structure.arrayType {
		t.structure = t.structure.WithArrayType(r.NewArrayType)
		out.StructureChanged = true
	}
	return out
}

// Length implements the `#t` border-finding rule: if the array part is
// still continuous this is exact; otherwise it is any border, found by
// probing the sparse map upward from the last known continuous index,
// matching the reference VM's behavior of returning *a* valid border rather
// than searching exhaustively (§4.5, Non-goal: "exact Lua border-finding
// semantics for pathological non-sequence tables").
func (t *TableObject) Length() int64 {
	h := t.butterfly.Header()
	n := h.PublicLength - arrayBaseOrd
	if h.Continuous || t.butterfly.sparse == nil {
		return n
	}
	for {
		if _, ok := t.butterfly.sparse.get(n + arrayBaseOrd); !ok {
			break
		}
		n++
	}
	return n
}

// Metatable returns the object's own metatable, or nil.
func (t *TableObject) Metatable() *TableObject { return t.metatable }

// SetMetatable installs mt (nil to clear), updating the Structure's
// MetatableMode so GetById/PutById misses can keep being cached whenever
// every object sharing this Structure agrees on having (or lacking) a
// metatable (§4.6).
func (t *TableObject) SetMetatable(mt *TableObject) {
	t.metatable = mt
	if mt == nil {
		t.structure = t.structure.WithoutMetatable()
	} else {
		t.structure = t.structure.WithMetatable(mt)
	}
}

// ForEachProperty walks named properties in slot order, used by next()/
// pairs() iteration over the non-array part.
func (t *TableObject) ForEachProperty(fn func(key, value Value) bool) {
	if t.dict != nil {
		t.dict.ForEach(fn)
		return
	}
	m := make(map[Value]uint32)
	collectStructureKeys(t.structure, m)
	for key, slot := range m {
		inline, bIdx := t.structure.SlotLocation(slot)
		var v Value
		if inline {
			v = t.inline[slot]
		} else {
			v = t.butterfly.NamedGet(bIdx)
		}
		if v.IsNil() {
			continue
		}
		if !fn(key, v) {
			return
		}
	}
}

// ForEachArrayIndex walks the dense vector part in index order, followed by
// the sparse map in unspecified order, used by pairs()/ipairs() iteration.
func (t *TableObject) ForEachArrayIndex(fn func(index int64, value Value) bool) {
	h := t.butterfly.Header()
	for i := int64(arrayBaseOrd); i < h.PublicLength; i++ {
		v := t.butterfly.vector[vectorIndex(i)]
		if v.IsNil() {
			continue
		}
		if !fn(i, v) {
			return
		}
	}
	if t.butterfly.sparse != nil {
		for k, v := range t.butterfly.sparse.byKey {
			if !fn(k, v) {
				return
			}
		}
	}
}
