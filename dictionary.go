// Copyright 2026 The toyvm Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// license that can be found in the LICENSE file.

package toyvm

// DictionaryMode distinguishes the two dictionary-object kinds a TableObject
// can be promoted to once its Structure would otherwise exceed
// maxStructureSlots (§4.5 step 4).
type DictionaryMode uint8

const (
	// dictionaryNone: the object still uses ordinary Structure-based
	// property storage and is IC-cacheable.
	dictionaryNone DictionaryMode = iota
	// DictionaryCacheable: a per-object property table that IC prepare
	// contracts may still key on, as long as the table pointer itself
	// hasn't changed underneath the cache (rehash invalidates it).
	DictionaryCacheable
	// DictionaryUncacheable: property deletion has happened at least once,
	// so slot numbers are no longer stable enough to support any inline
	// cache; every access goes through the slow path.
	DictionaryUncacheable
)

// PropertyDictionary is the per-object property table backing both
// dictionary modes (§4.5 step 4). Unlike a Structure it is owned by exactly
// one TableObject and mutated in place.
type PropertyDictionary struct {
	mode   DictionaryMode
	bySlot []Value
	slots  map[Value]uint32
	free   []uint32
}

// newPropertyDictionaryFromStructure migrates an object's Structure-based
// properties into a fresh cacheable dictionary, the transition triggered by
// Structure.AddProperty reporting TransitionToDictionary.
func newPropertyDictionaryFromStructure(s *Structure, read func(slot uint32) Value) *PropertyDictionary {
	d := &PropertyDictionary{
		mode:   DictionaryCacheable,
		bySlot: make([]Value, s.numSlots),
		slots:  make(map[Value]uint32, s.numSlots),
	}
	for slot := uint32(0); slot < s.numSlots; slot++ {
		d.bySlot[slot] = read(slot)
	}
	collectStructureKeys(s, d.slots)
	return d
}

// collectStructureKeys walks a Structure's delta and anchor chain to recover
// every key->slot mapping it carries, for the one-time migration into a
// dictionary.
func collectStructureKeys(s *Structure, out map[Value]uint32) {
	for _, d := range s.delta {
		if _, exists := out[d.key]; !exists {
			out[d.key] = d.slot
		}
	}
	for a := s.anchor; a != nil; a = a.parent {
		for k, slot := range a.table {
			if _, exists := out[k]; !exists {
				out[k] = slot
			}
		}
	}
}

// Get returns the value stored for key, if present.
func (d *PropertyDictionary) Get(key Value) (Value, bool) {
	slot, ok := d.slots[key]
	if !ok {
		return NilValue(), false
	}
	return d.bySlot[slot], true
}

// Put stores value for key, appending a new slot (reusing a freed one if
// available) when key is not already present.
func (d *PropertyDictionary) Put(key Value, value Value) {
	if slot, ok := d.slots[key]; ok {
		d.bySlot[slot] = value
		return
	}
	var slot uint32
	if n := len(d.free); n > 0 {
		slot = d.free[n-1]
		d.free = d.free[:n-1]
		d.bySlot[slot] = value
	} else {
		slot = uint32(len(d.bySlot))
		d.bySlot = append(d.bySlot, value)
	}
	d.slots[key] = slot
}

// Delete removes key, if present, demoting the dictionary to
// DictionaryUncacheable: slot reuse after a delete means any previously
// cached slot number for a surviving key could now be stale (§4.5 step 4).
func (d *PropertyDictionary) Delete(key Value) {
	slot, ok := d.slots[key]
	if !ok {
		return
	}
	delete(d.slots, key)
	d.bySlot[slot] = NilValue()
	d.free = append(d.free, slot)
	d.mode = DictionaryUncacheable
}

// Mode reports whether this dictionary may still be used as an IC key.
func (d *PropertyDictionary) Mode() DictionaryMode { return d.mode }

// Len reports the number of live keys.
func (d *PropertyDictionary) Len() int { return len(d.slots) }

// ForEach calls fn for every live key/value pair, in unspecified order,
// matching next()/pairs() iteration needs.
func (d *PropertyDictionary) ForEach(fn func(key, value Value) bool) {
	for k, slot := range d.slots {
		if !fn(k, d.bySlot[slot]) {
			return
		}
	}
}
