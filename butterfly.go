// Copyright 2026 The toyvm Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// license that can be found in the LICENSE file.

package toyvm

// ArrayType classifies the array part of a TableObject's butterfly (§3/§4.5):
// whether it currently holds only int32s, only doubles, a mix requiring
// boxed Values, or has degenerated to a sparse map.
type ArrayType uint8

const (
	ArrayTypeInt32 ArrayType = iota
	ArrayTypeDouble
	ArrayTypeMixed
	ArrayTypeSparse
)

func (t ArrayType) String() string {
	switch t {
	case ArrayTypeInt32:
		return "int32"
	case ArrayTypeDouble:
		return "double"
	case ArrayTypeMixed:
		return "mixed"
	case ArrayTypeSparse:
		return "sparse"
	default:
		return "unknown"
	}
}

// arrayBaseOrd is the 1-based integer index the array part's vector element
// zero corresponds to (§3: "array elements grow right starting from index
// 1"). Index 0 is deliberately never part of the dense vector so a miss on
// it always routes through the sparse map / metamethod path, mirroring the
// reference implementation's use of index 0 as a sentinel boundary.
const arrayBaseOrd = 1

// butterflyGrowthFactor is the vector part's geometric growth factor (§4.5).
const butterflyGrowthFactor = 1.5

// Butterfly is the middle-anchored storage block described in §3: named
// (outline) properties grow left from the anchor at negative offsets, array
// elements grow right from the anchor at non-negative offsets. toyvm keeps
// the ButterflyHeader in its own field rather than at an offset of either
// side.
type Butterfly struct {
	// named holds outline property slots: Structure slot s lives at
	// named[s - inlineCapacity], reached through the butterfly index
	// -(s - inlineCapacity + 1) that SlotLocation reports, i.e. named[0] is
	// the first outline slot. Unlike the reference implementation's single
	// contiguous reverse-growing allocation, toyvm keeps named and vector
	// storage as two separate Go slices sharing one struct.
	named []Value

	header ButterflyHeader
	vector []Value

	sparse *ArraySparseMap
}

// ButterflyHeader carries the array part's bookkeeping (§3): how many
// vector slots are currently populated in a contiguous run from
// arrayBaseOrd, the vector's allocated capacity, and the array's current
// ArrayType.
type ButterflyHeader struct {
	// PublicLength is one past the highest initialized index (the "length"
	// an unqualified `#t` on a dense array sees), valid only while
	// Continuous is true.
	PublicLength int64
	// VectorCapacity is the number of slots currently allocated in vector.
	VectorCapacity int64
	// Continuous is the continuity invariant of §3: true iff every integer
	// index in [arrayBaseOrd, PublicLength) is populated (no holes). A
	// write that punches a hole flips this false; from then on indices the
	// vector's capacity covers stay in the vector and writes past that
	// capacity go to the sparse map (§4.5 edge cases).
	Continuous bool
	ArrayType  ArrayType
}

// NewButterfly allocates a butterfly with the given inline-overflow (named)
// capacity and initial vector capacity.
func NewButterfly(outlineCapacity uint32, initialVectorCapacity uint32) *Butterfly {
	b := &Butterfly{
		named: make([]Value, outlineCapacity),
		header: ButterflyHeader{
			PublicLength:   arrayBaseOrd,
			VectorCapacity: int64(initialVectorCapacity),
			Continuous:     true,
			ArrayType:      ArrayTypeInt32,
		},
	}
	if initialVectorCapacity > 0 {
		b.vector = make([]Value, initialVectorCapacity)
		for i := range b.vector {
			b.vector[i] = NilValue()
		}
	}
	return b
}

// NamedGet/NamedSet access outline property storage by the negative
// butterfly index a Structure.SlotLocation produced.
func (b *Butterfly) NamedGet(index int32) Value {
	i := -(index + 1)
	return b.named[i]
}

func (b *Butterfly) NamedSet(index int32, v Value) {
	i := -(index + 1)
	b.named[i] = v
}

// GrowNamed reallocates the outline storage to at least newCapacity slots,
// preserving existing contents.
func (b *Butterfly) GrowNamed(newCapacity uint32) {
	if int(newCapacity) <= len(b.named) {
		return
	}
	grown := make([]Value, newCapacity)
	copy(grown, b.named)
	b.named = grown
}

// vectorIndex maps a 1-based integer key to its slot in vector.
func vectorIndex(key int64) int64 { return key - arrayBaseOrd }

// GetIndex implements the array-part read path of GetByIntegerIndex (§4.5):
// a dense hit returns (value, true, true); a hit on the sparse map returns
// (value, true, false); a clean miss returns (_, false, _). The dense check
// is keyed on vector capacity, not on the Continuous flag: a write that
// breaks continuity (punches a nil hole before the last element, §4.5 edge
// cases) leaves every other already-written index exactly where it was, so
// reads of those indices must keep resolving from the vector rather than
// falling through to the sparse map, which never received them.
func (b *Butterfly) GetIndex(key int64) (v Value, found bool, dense bool) {
	if key >= arrayBaseOrd {
		idx := vectorIndex(key)
		if idx >= 0 && idx < int64(len(b.vector)) {
			val := b.vector[idx]
			if val.IsNil() {
				return NilValue(), false, true
			}
			return val, true, true
		}
	}
	if b.sparse != nil {
		if val, ok := b.sparse.get(key); ok {
			return val, true, false
		}
	}
	return NilValue(), false, false
}

// SetIndexResult reports what PutByIntegerIndex's slow path must additionally
// do after SetIndex returns.
type SetIndexResult struct {
	WentSparse       bool
	GrewVector       bool
	BrokeContinuity  bool
	NewArrayType     ArrayType
}

// SetIndex implements the array-part write path (§4.5 edge cases:
// continuity, growth policy, sparse fallback).
func (b *Butterfly) SetIndex(key int64, v Value, cfg Config) SetIndexResult {
	var res SetIndexResult
	res.NewArrayType = b.header.ArrayType

	if !v.IsNil() {
		if !v.IsInt32() && !v.IsDouble() {
			if b.header.ArrayType != ArrayTypeMixed {
				b.header.ArrayType = ArrayTypeMixed
				res.NewArrayType = ArrayTypeMixed
			}
		} else if v.IsDouble() && b.header.ArrayType == ArrayTypeInt32 {
			b.header.ArrayType = ArrayTypeDouble
			res.NewArrayType = ArrayTypeDouble
		}
	}

	if key < arrayBaseOrd {
		b.ensureSparse().set(key, v)
		res.WentSparse = true
		return res
	}

	withinCapacity := key < arrayBaseOrd+b.header.VectorCapacity

	if b.header.Continuous {
		switch {
		case key < b.header.PublicLength:
			// Write inside the known-dense prefix (§4.5 continuity edge
			// cases): nil punches a hole and breaks continuity unless it is
			// the last element, in which case the prefix simply shrinks.
			b.vector[vectorIndex(key)] = v
			if v.IsNil() {
				if key == b.header.PublicLength-1 {
					b.header.PublicLength--
				} else {
					b.header.Continuous = false
					res.BrokeContinuity = true
				}
			}
			return res
		case key == b.header.PublicLength:
			if v.IsNil() {
				return res // already implicitly nil just past the prefix
			}
			if !withinCapacity {
				b.growVector(key, cfg)
				res.GrewVector = true
			}
			b.vector[vectorIndex(key)] = v
			b.header.PublicLength = key + 1
			return res
		default: // key > PublicLength: a gap past the dense run.
			if v.IsNil() {
				return res
			}
			gapSize := key - b.header.PublicLength
			if uint32(gapSize) <= cfg.ArrayGrowthCutoffDense && key < int64(cfg.ArrayGrowthCutoffHard) {
				b.growVector(key, cfg)
				for i := b.header.PublicLength; i < key; i++ {
					b.vector[vectorIndex(i)] = NilValue()
				}
				b.vector[vectorIndex(key)] = v
				b.header.PublicLength = key + 1
				res.GrewVector = true
				return res
			}
			b.header.Continuous = false
			res.BrokeContinuity = true
			b.ensureSparse().set(key, v)
			res.WentSparse = true
			return res
		}
	}

	// Already non-continuous: indices the vector already covers stay
	// resident there (GetIndex resolves them straight off the vector
	// regardless of the Continuous flag); anything past current capacity
	// degrades straight to the sparse map instead of resurrecting a
	// continuity invariant already given up on.
	if withinCapacity {
		b.vector[vectorIndex(key)] = v
		return res
	}
	b.ensureSparse().set(key, v)
	res.WentSparse = true
	return res
}

func (b *Butterfly) growVector(upTo int64, cfg Config) {
	needed := upTo - arrayBaseOrd + 1
	newCap := b.header.VectorCapacity
	if newCap == 0 {
		newCap = int64(cfg.InitialArrayCapacity)
	}
	for newCap < needed {
		grown := float64(newCap) * butterflyGrowthFactor
		if grown < float64(newCap+1) {
			grown = float64(newCap + 1)
		}
		newCap = int64(grown)
	}
	grown := make([]Value, newCap)
	copy(grown, b.vector)
	for i := len(b.vector); i < len(grown); i++ {
		grown[i] = NilValue()
	}
	b.vector = grown
	b.header.VectorCapacity = newCap
}

func (b *Butterfly) ensureSparse() *ArraySparseMap {
	if b.sparse == nil {
		b.sparse = newArraySparseMap()
	}
	return b.sparse
}

// Header exposes the butterfly's bookkeeping header read-only.
func (b *Butterfly) Header() ButterflyHeader { return b.header }

// ArraySparseMap is the non-dense fallback store for array indices that fall
// outside the continuous vector run (§3, §4.5 edge cases). It also implements
// HeapObject so it can be allocated through the same handle-table machinery
// as every other heap entity, matching the reference implementation putting
// it on the user heap.
type ArraySparseMap struct {
	handle UserHeapPtr
	byKey  map[int64]Value
}

func newArraySparseMap() *ArraySparseMap {
	return &ArraySparseMap{byKey: make(map[int64]Value)}
}

func (m *ArraySparseMap) Type() HeapEntityType { return HeapEntitySparseMap }

func (m *ArraySparseMap) get(key int64) (Value, bool) {
	v, ok := m.byKey[key]
	return v, ok
}

func (m *ArraySparseMap) set(key int64, v Value) {
	if v.IsNil() {
		delete(m.byKey, key)
		return
	}
	m.byKey[key] = v
}

// Len reports the number of populated sparse entries, exposed for tests.
func (m *ArraySparseMap) Len() int { return len(m.byKey) }
