// Copyright 2026 The toyvm Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// license that can be found in the LICENSE file.

package toyvm

import (
	"sync"
	"sync/atomic"
)

// ThreadKind distinguishes the two SPDS free-list owners named in §4.2: the
// execution thread running bytecode, and (in a build with a compiler) the
// thread preparing specialized code. toyvm has no compiler, but the split is
// kept so a future one has somewhere to hang its own free lists without
// touching the execution thread's.
type ThreadKind uint8

const (
	ExecutionThread ThreadKind = iota
	CompilerThread
)

const spdsPageSize = 4096

// spdsSizeClass owns one free list (of either flavor) for a fixed object size.
// Freed slots store their "next" link in-place, as the first 4 bytes of the
// slot itself, the same trick the reference allocator uses to avoid a
// separate bookkeeping allocation per free node.
type spdsSizeClass struct {
	size int32

	// Plain same-thread free list: head holds index+1 (0 == empty) so it can
	// share the same "index+1" convention as the lock-free list below.
	mu   sync.Mutex
	head uint32

	// Lock-free cross-thread free list: packed as tag(32)<<32 | (index+1).
	// A CAS loop bumps the tag on every push to defeat ABA on the 64-bit
	// compare-and-swap (§4.2).
	lockFreeHead atomic.Uint64
}

func newSpdsSizeClass(size int32) *spdsSizeClass {
	return &spdsSizeClass{size: size}
}

// SpdsAllocator is the per-size-class bump-and-recycle allocator described
// in §4.2: allocation never moves objects, and a freed pointer's value is
// stable (and reusable) for as long as the process runs.
type SpdsAllocator struct {
	arena *VirtualAddressArena

	mu      sync.Mutex
	classes map[int32]*spdsSizeClass
}

func NewSpdsAllocator(arena *VirtualAddressArena) *SpdsAllocator {
	return &SpdsAllocator{arena: arena, classes: make(map[int32]*spdsSizeClass)}
}

func (s *SpdsAllocator) classFor(size int32) *spdsSizeClass {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.classes[size]
	if !ok {
		c = newSpdsSizeClass(size)
		s.classes[size] = c
	}
	return c
}

// Alloc returns size bytes of SPDS memory; size must be <= one SPDS page
// (4KB, §4.2). crossThread selects the lock-free Treiber-stack free list
// (for objects a different thread kind may free) vs. the plain
// mutex-guarded one.
func (s *SpdsAllocator) Alloc(size int32, crossThread bool) (SpdsPtr, error) {
	if size > spdsPageSize {
		panic("toyvm: SPDS allocation exceeds one page")
	}
	c := s.classFor(size)

	var ptr SpdsPtr
	var ok bool
	if crossThread {
		ptr, ok = c.popLockFree(s.arena)
	} else {
		ptr, ok = c.popPlain(s.arena)
	}
	if ok {
		return ptr, nil
	}

	off, err := s.arena.AllocSpds(size)
	if err != nil {
		return 0, err
	}
	return SpdsPtr(off), nil
}

// Free returns ptr (previously returned by Alloc with the same size and
// crossThread flag) to its size class's free list. The list is unordered:
// no FIFO/LIFO guarantee is observable (§4.2).
func (s *SpdsAllocator) Free(size int32, crossThread bool, ptr SpdsPtr) {
	c := s.classFor(size)
	if crossThread {
		c.pushLockFree(ptr, s.arena)
	} else {
		c.pushPlain(ptr, s.arena)
	}
}

func slotIndex(ptr SpdsPtr, size int32) uint32 { return uint32(ptr) / uint32(size) }

func readSlotNext(arena *VirtualAddressArena, idx uint32, size int32) uint32 {
	b := arena.SpdsBytes(int32(idx)*size, 4)
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func writeSlotNext(arena *VirtualAddressArena, idx uint32, size int32, next uint32) {
	b := arena.SpdsBytes(int32(idx)*size, 4)
	b[0] = byte(next)
	b[1] = byte(next >> 8)
	b[2] = byte(next >> 16)
	b[3] = byte(next >> 24)
}

func (c *spdsSizeClass) pushPlain(ptr SpdsPtr, arena *VirtualAddressArena) {
	idx := slotIndex(ptr, c.size)
	c.mu.Lock()
	defer c.mu.Unlock()
	writeSlotNext(arena, idx, c.size, c.head)
	c.head = idx + 1
}

func (c *spdsSizeClass) popPlain(arena *VirtualAddressArena) (SpdsPtr, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.head == 0 {
		return 0, false
	}
	idx := c.head - 1
	c.head = readSlotNext(arena, idx, c.size)
	return SpdsPtr(idx * uint32(c.size)), true
}

// pushLockFree/popLockFree implement the Treiber stack: the packed word's
// low 32 bits are (index+1) so 0 unambiguously means "empty", and the high
// 32 bits are a monotonically increasing tag bumped on every push so a
// concurrent popper's CAS fails instead of silently succeeding against a
// value that was freed and reallocated to the same index in between (ABA).
func (c *spdsSizeClass) pushLockFree(ptr SpdsPtr, arena *VirtualAddressArena) {
	idx := slotIndex(ptr, c.size)
	for {
		old := c.lockFreeHead.Load()
		oldIdxPlus1 := uint32(old)
		tag := uint32(old >> 32)
		writeSlotNext(arena, idx, c.size, oldIdxPlus1)
		next := (uint64(tag+1) << 32) | uint64(idx+1)
		if c.lockFreeHead.CompareAndSwap(old, next) {
			return
		}
	}
}

func (c *spdsSizeClass) popLockFree(arena *VirtualAddressArena) (SpdsPtr, bool) {
	for {
		old := c.lockFreeHead.Load()
		idxPlus1 := uint32(old)
		if idxPlus1 == 0 {
			return 0, false
		}
		tag := uint32(old >> 32)
		idx := idxPlus1 - 1
		newIdxPlus1 := readSlotNext(arena, idx, c.size)
		next := (uint64(tag+1) << 32) | uint64(newIdxPlus1)
		if c.lockFreeHead.CompareAndSwap(old, next) {
			return SpdsPtr(idx * uint32(c.size)), true
		}
	}
}
