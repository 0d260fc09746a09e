// Copyright 2026 The toyvm Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// license that can be found in the LICENSE file.

package toyvm

import "testing"

func newTestSpdsAllocator(t *testing.T) *SpdsAllocator {
	t.Helper()
	a := newTestArena(t)
	return NewSpdsAllocator(a)
}

func TestSpdsAllocDistinctPointers(t *testing.T) {
	s := newTestSpdsAllocator(t)
	p1, err := s.Alloc(16, false)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	p2, err := s.Alloc(16, false)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if p1 == p2 {
		t.Fatalf("two live allocations from the same size class must not alias")
	}
}

func TestSpdsFreeListReusePlain(t *testing.T) {
	s := newTestSpdsAllocator(t)
	p1, _ := s.Alloc(16, false)
	s.Free(16, false, p1)
	p2, err := s.Alloc(16, false)
	if err != nil {
		t.Fatalf("Alloc after Free: %v", err)
	}
	if p2 != p1 {
		t.Errorf("an Alloc right after a matching Free should recycle the freed slot, got p1=%d p2=%d", p1, p2)
	}
}

func TestSpdsFreeListReuseLockFree(t *testing.T) {
	s := newTestSpdsAllocator(t)
	p1, _ := s.Alloc(16, true)
	s.Free(16, true, p1)
	p2, err := s.Alloc(16, true)
	if err != nil {
		t.Fatalf("Alloc after Free: %v", err)
	}
	if p2 != p1 {
		t.Errorf("lock-free free list should also recycle, got p1=%d p2=%d", p1, p2)
	}
}

func TestSpdsMultipleSizeClassesAreIndependent(t *testing.T) {
	s := newTestSpdsAllocator(t)
	small, err := s.Alloc(8, false)
	if err != nil {
		t.Fatalf("Alloc(8): %v", err)
	}
	big, err := s.Alloc(32, false)
	if err != nil {
		t.Fatalf("Alloc(32): %v", err)
	}
	s.Free(8, false, small)
	// Freeing the 8-byte pointer must not satisfy a 32-byte allocation.
	big2, err := s.Alloc(32, false)
	if err != nil {
		t.Fatalf("Alloc(32) again: %v", err)
	}
	if big2 == big {
		t.Errorf("a fresh 32-byte allocation should not have been satisfied while none of that size were freed")
	}
}

// A freed pointer's byte window remains addressable and stable (§4.2):
// bytes written at an offset untouched by the free-list link survive a
// free/realloc cycle back onto the same slot.
func TestSpdsValueStableAfterFree(t *testing.T) {
	s := newTestSpdsAllocator(t)
	p, _ := s.Alloc(16, false)
	view := s.arena.SpdsBytes(int32(p), 16)
	view[8] = 0xAB
	s.Free(16, false, p)
	p2, _ := s.Alloc(16, false)
	if p2 != p {
		t.Fatalf("expected the single free slot to be recycled, got p=%d p2=%d", p, p2)
	}
	view2 := s.arena.SpdsBytes(int32(p2), 16)
	if view2[8] != 0xAB {
		t.Errorf("byte at offset 8 (outside the 4-byte free-list link) should survive the free/realloc cycle")
	}
}
