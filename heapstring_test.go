// Copyright 2026 The toyvm Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// license that can be found in the LICENSE file.

package toyvm

import "testing"

func TestInternStringDeduplicates(t *testing.T) {
	vm := newTestVm(t)
	s1, err := vm.InternString([]byte("hello"))
	if err != nil {
		t.Fatalf("InternString: %v", err)
	}
	s2, err := vm.InternString([]byte("hello"))
	if err != nil {
		t.Fatalf("InternString: %v", err)
	}
	if s1 != s2 {
		t.Fatalf("interning equal content twice must return the same *HeapString")
	}
	if s1.handle != s2.handle {
		t.Errorf("deduplicated strings must share one heap handle, got %d and %d", s1.handle, s2.handle)
	}
}

func TestInternStringDistinctContent(t *testing.T) {
	vm := newTestVm(t)
	s1, _ := vm.InternString([]byte("abc"))
	s2, _ := vm.InternString([]byte("xyz"))
	if s1.handle == s2.handle {
		t.Fatalf("distinct content must not share a heap handle")
	}
	if s1.Hash() == s2.Hash() {
		t.Errorf("distinct content coincidentally hashing equal is astronomically unlikely for these inputs")
	}
}

func TestInternStringHashCollisionStillDistinguishesContent(t *testing.T) {
	vm := newTestVm(t)
	// Two different byte strings in the same hash bucket must still be
	// looked up by content, not merged. Distinct inputs do not collide under
	// xxhash, so b is placed in a's bucket by hand.
	a, _ := vm.InternString([]byte("same-hash-bucket-a"))
	b := NewHeapString([]byte("same-hash-bucket-b"))
	vm.strings.byHash[a.Hash()] = append([]*HeapString{b}, vm.strings.byHash[a.Hash()]...)
	if string(a.Bytes()) == string(b.Bytes()) {
		t.Fatalf("test setup invalid: inputs must differ")
	}
	got, _ := vm.InternString([]byte("same-hash-bucket-a"))
	if got != a {
		t.Errorf("re-interning existing content must return the original object even if the bucket holds other strings")
	}
}

func TestHeapStringFingerprintIsTopHashBits(t *testing.T) {
	s := NewHeapString([]byte("metamethodname"))
	want := uint16(s.Hash() >> 48)
	if got := s.Fingerprint(); got != want {
		t.Errorf("Fingerprint() = %#x, want %#x", got, want)
	}
}

func TestHeapStringBytesAndLen(t *testing.T) {
	s := NewHeapString([]byte("abcdef"))
	if s.Len() != 6 {
		t.Errorf("Len() = %d, want 6", s.Len())
	}
	if string(s.Bytes()) != "abcdef" {
		t.Errorf("Bytes() = %q, want abcdef", s.Bytes())
	}
	if s.String() != "abcdef" {
		t.Errorf("String() = %q, want abcdef", s.String())
	}
}
