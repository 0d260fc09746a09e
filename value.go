// Copyright 2026 The toyvm Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// license that can be found in the LICENSE file.

package toyvm

import "math"

// Value is a NaN-boxed 64-bit tagged value (§4.4).
//
// Encoding: if the top 13 bits equal tagPattern, the low 51 bits are ours to
// interpret as a 3-bit subtag followed by a 48-bit payload. Otherwise the
// full 64 bits are an IEEE-754 double. tagPattern is chosen as the bit
// pattern of a negative, quiet NaN with a non-zero mantissa, a class of
// double no correctly-canonicalized arithmetic result ever produces (we
// canonicalize every arithmetic NaN to math.NaN(), whose bits have the sign
// bit clear and therefore never collide with tagPattern).
type Value uint64

const (
	tagMask    uint64 = 0xFFF8000000000000
	tagPattern uint64 = 0xFFF8000000000000

	subtagShift  = 48
	subtagBits   = 3
	subtagMask   = uint64(0x7) << subtagShift
	payloadMask  = uint64(0x0000FFFFFFFFFFFF)
	payloadSignBit = uint64(1) << 47
)

const (
	subtagInt32 uint64 = iota
	subtagNil
	subtagBool
	subtagPointer
)

func (v Value) raw() uint64 { return uint64(v) }

func (v Value) isBoxed() bool { return v.raw()&tagMask == tagPattern }

func (v Value) subtag() uint64 { return (v.raw() & subtagMask) >> subtagShift }

func (v Value) payload() uint64 { return v.raw() & payloadMask }

// IsDouble reports whether v holds an IEEE-754 double (§4.4).
func (v Value) IsDouble() bool { return !v.isBoxed() }

// IsInt32 reports whether v holds a boxed int32.
func (v Value) IsInt32() bool { return v.isBoxed() && v.subtag() == subtagInt32 }

// IsNil reports whether v is the nil value.
func (v Value) IsNil() bool { return v.isBoxed() && v.subtag() == subtagNil }

// IsBool reports whether v holds a boolean.
func (v Value) IsBool() bool { return v.isBoxed() && v.subtag() == subtagBool }

// IsPointer reports whether v holds a reference to a heap entity. The
// concrete entity kind (string/table/function/thread/userdata) lives in the
// referenced object's own header, not in the Value (§4.4).
func (v Value) IsPointer() bool { return v.isBoxed() && v.subtag() == subtagPointer }

// AsDouble returns the double payload. Callers must check IsDouble first.
func (v Value) AsDouble() float64 { return math.Float64frombits(v.raw()) }

// AsInt32 returns the int32 payload. Callers must check IsInt32 first.
func (v Value) AsInt32() int32 { return int32(uint32(v.payload())) }

// AsBool returns the bool payload. Callers must check IsBool first.
func (v Value) AsBool() bool { return v.payload() != 0 }

// AsPointer returns the heap handle payload. Callers must check IsPointer first.
func (v Value) AsPointer() UserHeapPtr {
	p := v.payload()
	if p&payloadSignBit != 0 {
		p |= ^payloadMask
	}
	return UserHeapPtr(int64(p))
}

// DoubleValue canonicalizes NaN before boxing so arithmetic results can never
// collide with tagPattern (§4.4, §9 "Undefined-behavior points to address").
func DoubleValue(f float64) Value {
	bits := math.Float64bits(f)
	if bits&tagMask == tagPattern {
		bits = math.Float64bits(math.NaN())
	}
	return Value(bits)
}

// Int32Value boxes a native int32.
func Int32Value(i int32) Value {
	return Value(tagPattern | subtagInt32<<subtagShift | uint64(uint32(i)))
}

// NilValue is the sole nil value.
func NilValue() Value { return Value(tagPattern | subtagNil<<subtagShift) }

// BoolValue boxes a native bool.
func BoolValue(b bool) Value {
	var p uint64
	if b {
		p = 1
	}
	return Value(tagPattern | subtagBool<<subtagShift | p)
}

// PointerValue boxes a heap handle.
func PointerValue(p UserHeapPtr) Value {
	return Value(tagPattern | subtagPointer<<subtagShift | (uint64(p) & payloadMask))
}

// StringValue boxes a heap string handle as a pointer value.
func StringValue(s *HeapString) Value {
	if s == nil {
		return NilValue()
	}
	return PointerValue(s.handle)
}

// IsTruthy implements Lua truthiness: everything except nil and false is
// truthy (used by IsFalsy/BranchIfTruthy and friends, §4.9).
func (v Value) IsTruthy() bool {
	if v.IsNil() {
		return false
	}
	if v.IsBool() {
		return v.AsBool()
	}
	return true
}

// RawEquals implements §4.4 equality: IEEE semantics for double-double
// (NaN != NaN, -0 == +0), bitwise otherwise.
func RawEquals(a, b Value) bool {
	if a.IsDouble() && b.IsDouble() {
		return a.AsDouble() == b.AsDouble()
	}
	if a.isBoxed() != b.isBoxed() {
		return false
	}
	return a.raw() == b.raw()
}
