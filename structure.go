// Copyright 2026 The toyvm Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// license that can be found in the LICENSE file.

package toyvm

// hiddenClassBlockSize bounds how many property adds a Structure may record
// in its own delta list before a fresh anchor hash table is spliced in
// (§4.5 step 3, property P2): each anchor covers at most this many
// properties, and the anchor chain behind any Structure has depth
// O(numSlots / hiddenClassBlockSize), giving O(n / block) total anchor
// memory instead of one full O(n) table per Structure.
const hiddenClassBlockSize = 32

// maxStructureSlots is the "few hundred" cap in §4.5 step 4 past which a
// property add is rejected and the caller must promote the object to
// CacheableDictionary instead.
const maxStructureSlots = 254

// MetatableMode classifies how a Structure's metatable reference behaves
// for caching purposes (§3).
type MetatableMode uint8

const (
	// MetatableNone: the Structure definitely has no metatable; a get/put
	// miss never needs to consult one.
	MetatableNone MetatableMode = iota
	// MetatableFixed: every object with this Structure shares one fixed
	// metatable, so presence/absence is cacheable on the Structure alone.
	MetatableFixed
	// MetatablePoly: objects with this Structure may have differing (or
	// absent) metatables; a get/put miss must always check the object.
	MetatablePoly
)

// structureAnchor is one bounded-size link in the shared anchor chain
// described above.
type structureAnchor struct {
	table  map[Value]uint32
	parent *structureAnchor
}

type deltaEntry struct {
	key  Value
	slot uint32
}

// Structure is the immutable hidden-class record of §3/§4.5: a map from
// property key to slot ordinal, with transition edges for the property adds
// that have been observed starting from it. A Structure is never mutated
// after another Structure starts sharing its anchor chain; AddProperty
// always returns either a cached transition or a brand new child.
type Structure struct {
	inlineCapacity  uint32
	outlineCapacity uint32
	numSlots        uint32

	arrayType     ArrayType
	metatableMode MetatableMode
	metatable     *TableObject

	anchor *structureAnchor
	delta  []deltaEntry

	transitions map[Value]*Structure

	vm *Vm
}

func (vm *Vm) newRootStructure(inlineCapacity uint32) *Structure {
	return &Structure{inlineCapacity: inlineCapacity, vm: vm}
}

// InlineCapacity, OutlineCapacity, NumSlots expose the Structure's shape.
func (s *Structure) InlineCapacity() uint32  { return s.inlineCapacity }
func (s *Structure) OutlineCapacity() uint32 { return s.outlineCapacity }
func (s *Structure) NumSlots() uint32        { return s.numSlots }

// Lookup returns the slot assigned to key in s, if any (§4.5).
func (s *Structure) Lookup(key Value) (slot uint32, found bool) {
	for i := len(s.delta) - 1; i >= 0; i-- {
		if s.delta[i].key == key {
			return s.delta[i].slot, true
		}
	}
	for a := s.anchor; a != nil; a = a.parent {
		if slot, ok := a.table[key]; ok {
			return slot, true
		}
	}
	return 0, false
}

// SlotLocation reports whether slot lives in the object's inline storage or
// in its butterfly, per §3's invariant: "If slot < inline_capacity, the
// property lives in the object's inline storage at that index. Otherwise it
// lives in the butterfly at index -(slot - inline_capacity + 1)."
func (s *Structure) SlotLocation(slot uint32) (inline bool, butterflyIndex int32) {
	if slot < s.inlineCapacity {
		return true, 0
	}
	return false, -(int32(slot-s.inlineCapacity) + 1)
}

// growOutlineCapacity is the named-property outline growth policy: doubling
// from a small base. Unlike the array vector's 1.5x factor, §4.5 does not
// pin down a numeric growth factor for outline capacity; doubling is this
// implementation's choice (see DESIGN.md Open Questions).
func growOutlineCapacity(old uint32) uint32 {
	if old == 0 {
		return 4
	}
	return old * 2
}

// AddPropertyResult is the outcome of Structure.AddProperty.
type AddPropertyResult struct {
	// Next is the successor Structure, nil when TransitionToDictionary.
	Next *Structure
	// Slot is the newly (or previously) assigned slot ordinal.
	Slot uint32
	// ShouldGrowButterfly is true iff the new slot index exceeds the
	// current inline+outline capacity (§4.5 step 2).
	ShouldGrowButterfly bool
	// TransitionToDictionary is true when s.numSlots has hit
	// maxStructureSlots; the caller must migrate the object to
	// CacheableDictionary instead of following Next (§4.5 step 4).
	TransitionToDictionary bool
}

// AddProperty implements the §4.5 add-property algorithm.
func (s *Structure) AddProperty(key Value) *AddPropertyResult {
	if s.transitions != nil {
		if existing, ok := s.transitions[key]; ok {
			slot, _ := existing.Lookup(key)
			return &AddPropertyResult{Next: existing, Slot: slot}
		}
	}

	if s.numSlots >= maxStructureSlots {
		return &AddPropertyResult{TransitionToDictionary: true}
	}

	slot := s.numSlots
	shouldGrow := slot >= s.inlineCapacity+s.outlineCapacity
	newOutline := s.outlineCapacity
	if shouldGrow {
		newOutline = growOutlineCapacity(s.outlineCapacity)
	}

	child := &Structure{
		inlineCapacity:  s.inlineCapacity,
		outlineCapacity: newOutline,
		numSlots:        s.numSlots + 1,
		arrayType:       s.arrayType,
		metatableMode:   s.metatableMode,
		metatable:       s.metatable,
		anchor:          s.anchor,
		delta:           append(append([]deltaEntry(nil), s.delta...), deltaEntry{key: key, slot: slot}),
		vm:              s.vm,
	}
	if len(child.delta) >= hiddenClassBlockSize {
		table := make(map[Value]uint32, len(child.delta))
		for _, d := range child.delta {
			table[d.key] = d.slot
		}
		child.anchor = &structureAnchor{table: table, parent: s.anchor}
		child.delta = nil
	}

	if s.transitions == nil {
		s.transitions = make(map[Value]*Structure)
	}
	s.transitions[key] = child
	return &AddPropertyResult{Next: child, Slot: slot, ShouldGrowButterfly: shouldGrow}
}

// WithMetatable returns a Structure identical to s but with a fixed
// metatable reference, creating it if this exact transition hasn't been
// taken from s before. Used when setmetatable is called on an object whose
// current Structure has MetatableNone.
func (s *Structure) WithMetatable(mt *TableObject) *Structure {
	child := &Structure{
		inlineCapacity:  s.inlineCapacity,
		outlineCapacity: s.outlineCapacity,
		numSlots:        s.numSlots,
		arrayType:       s.arrayType,
		metatableMode:   MetatableFixed,
		metatable:       mt,
		anchor:          s.anchor,
		delta:           append([]deltaEntry(nil), s.delta...),
		vm:              s.vm,
	}
	return child
}

// WithoutMetatable returns a Structure identical to s but with no metatable,
// used when setmetatable(obj, nil) is called.
func (s *Structure) WithoutMetatable() *Structure {
	if s.metatableMode == MetatableNone {
		return s
	}
	child := &Structure{
		inlineCapacity:  s.inlineCapacity,
		outlineCapacity: s.outlineCapacity,
		numSlots:        s.numSlots,
		arrayType:       s.arrayType,
		metatableMode:   MetatableNone,
		anchor:          s.anchor,
		delta:           append([]deltaEntry(nil), s.delta...),
		vm:              s.vm,
	}
	return child
}

// WithArrayType returns a Structure identical to s but with a new
// ArrayType, used when a PutByIntegerIndex transitions the array kind
// (§4.5 PutByIntegerIndex IC prepare, "new_array_type").
func (s *Structure) WithArrayType(at ArrayType) *Structure {
	if s.arrayType == at {
		return s
	}
	child := &Structure{
		inlineCapacity:  s.inlineCapacity,
		outlineCapacity: s.outlineCapacity,
		numSlots:        s.numSlots,
		arrayType:       at,
		metatableMode:   s.metatableMode,
		metatable:       s.metatable,
		anchor:          s.anchor,
		delta:           append([]deltaEntry(nil), s.delta...),
		vm:              s.vm,
	}
	return child
}

const defaultGlobalObjectInlineCapacity = 16

// initialStructureForInlineCapacity returns (creating if necessary) the
// shared empty-Structure root for a given inline capacity stepping, mirroring
// VM::GetInitialStructureForDifferentInlineCapacityArray in vm.h.
func (vm *Vm) initialStructureForInlineCapacity(inlineCapacity uint32) *Structure {
	if vm.initialStructures == nil {
		vm.initialStructures = make(map[uint32]*Structure)
	}
	if s, ok := vm.initialStructures[inlineCapacity]; ok {
		return s
	}
	s := vm.newRootStructure(inlineCapacity)
	vm.initialStructures[inlineCapacity] = s
	return s
}
