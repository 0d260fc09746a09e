// Copyright 2026 The toyvm Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// license that can be found in the LICENSE file.

package toyvm

import (
	"github.com/cespare/xxhash/v2"
)

// HeapString is an interned, immutable byte string (§3, §4.4). Two strings
// with equal (length, bytes) are always the same heap object.
type HeapString struct {
	handle UserHeapPtr
	hash   uint64
	bytes  []byte
}

// Type implements HeapObject.
func (s *HeapString) Type() HeapEntityType { return HeapEntityString }

// Bytes returns the string's raw content. Callers must not mutate it:
// HeapStrings are immutable and shared VM-wide (§3).
func (s *HeapString) Bytes() []byte { return s.bytes }

// Len is the byte length of the string.
func (s *HeapString) Len() int { return len(s.bytes) }

// Hash is the precomputed 64-bit content hash (§3 hash_high/hash_low).
func (s *HeapString) Hash() uint64 { return s.hash }

// Fingerprint is the top 16 bits of Hash, used as a cheap dispatch key for
// metamethod-name lookup without a string comparison (§4.6).
func (s *HeapString) Fingerprint() uint16 { return uint16(s.hash >> 48) }

func (s *HeapString) String() string { return string(s.bytes) }

// NewHeapString is a detached constructor used where no VM-wide intern table
// is reachable (e.g. constructing an error message). Prefer Vm.InternString
// when a *Vm is available so identical content is deduplicated (§4.4).
func NewHeapString(data []byte) *HeapString {
	cp := make([]byte, len(data))
	copy(cp, data)
	return &HeapString{hash: xxhash.Sum64(cp), bytes: cp}
}

// stringInternTable is the process-wide-per-VM hash-cons table keyed by
// content (§4.4). It is only ever touched from the VM's owning thread (§5),
// so no locking is required beyond what Go's map already needs for safety
// under single-threaded access.
type stringInternTable struct {
	byHash map[uint64][]*HeapString
}

func newStringInternTable() *stringInternTable {
	return &stringInternTable{byHash: make(map[uint64][]*HeapString)}
}

// intern returns the canonical HeapString for data, allocating and
// registering a new one if no equal string has been interned yet.
func (t *stringInternTable) intern(vm *Vm, data []byte) (*HeapString, error) {
	h := xxhash.Sum64(data)
	for _, cand := range t.byHash[h] {
		if string(cand.bytes) == string(data) {
			return cand, nil
		}
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s := &HeapString{hash: h, bytes: cp}
	handle, err := vm.allocUserHeap(s)
	if err != nil {
		return nil, err
	}
	s.handle = handle
	t.byHash[h] = append(t.byHash[h], s)
	return s, nil
}
