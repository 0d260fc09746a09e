// Copyright 2026 The toyvm Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// license that can be found in the LICENSE file.

package toyvm

import (
	"fmt"
	"math/rand"
	"testing"

	"go.uber.org/zap"
)

func newTestVm(t *testing.T) *Vm {
	t.Helper()
	vm, err := New(DefaultConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = vm.Close() })
	return vm
}

// keyFor returns a distinct, properly heap-registered string Value for n.
// Detached HeapStrings (NewHeapString) all share the zero UserHeapPtr handle
// until registered, so property keys used across a test must be interned
// through a Vm to compare unequal by identity.
func keyFor(vm *Vm, n int) Value {
	s, err := vm.InternString([]byte(fmt.Sprintf("prop%d", n)))
	if err != nil {
		panic(err)
	}
	return StringValue(s)
}

// P1 (Structure correctness): for any sequence of property adds from the
// initial empty Structure, the resulting slot assignment matches insertion
// order along that path, irrespective of DFS/BFS traversal order or how many
// sibling branches were explored first.
func TestStructureP1PropertyCorrectness(t *testing.T) {
	for _, fanout := range []int{1, 2, 3, 4, 30, 100} {
		fanout := fanout
		t.Run(fmt.Sprintf("fanout=%d", fanout), func(t *testing.T) {
			vm := newTestVm(t)
			n := 500
			if fanout == 1 {
				// A fanout-1 tree is a single chain; keep its deepest path
				// within maxStructureSlots so it stays Structure-based.
				n = int(maxStructureSlots) + 1
			}
			rng := rand.New(rand.NewSource(int64(fanout)*7919 + 1))

			type pathEntry struct {
				key  Value
				slot uint32
			}
			// Build a tree where each node's path-from-root is recorded as
			// it is created, so "expected slot" = path depth - 1.
			type node struct {
				path     []pathEntry
				children []*node
			}
			root := &node{}
			all := []*node{root}
			for len(all) < n {
				parent := all[rng.Intn(len(all))]
				if fanout < n && len(parent.children) >= fanout {
					continue
				}
				key := keyFor(vm, len(all))
				child := &node{
					path: append(append([]pathEntry(nil), parent.path...), pathEntry{key: key, slot: uint32(len(parent.path))}),
				}
				parent.children = append(parent.children, child)
				all = append(all, child)
			}

			checkPath := func(s *Structure, path []pathEntry) {
				for _, pe := range path {
					slot, found := s.Lookup(pe.key)
					if !found {
						t.Fatalf("key missing from final structure")
					}
					if slot != pe.slot {
						t.Fatalf("key got slot %d, want %d", slot, pe.slot)
					}
				}
				if s.NumSlots() != uint32(len(path)) {
					t.Fatalf("NumSlots() = %d, want %d", s.NumSlots(), len(path))
				}
			}

			// DFS traversal: follow AddProperty down each node's path from
			// the shared root Structure, exploring children in order.
			root0 := vm.newRootStructure(4)
			var dfs func(n *node, s *Structure)
			dfs = func(n *node, s *Structure) {
				if len(n.path) > 0 {
					checkPath(s, n.path)
				}
				for _, c := range n.children {
					cur := s
					for i := len(n.path); i < len(c.path); i++ {
						res := cur.AddProperty(c.path[i].key)
						if res.TransitionToDictionary {
							t.Fatalf("unexpected dictionary transition in P1 test")
						}
						if res.Slot != c.path[i].slot {
							t.Fatalf("AddProperty slot = %d, want %d", res.Slot, c.path[i].slot)
						}
						cur = res.Next
					}
					dfs(c, cur)
				}
			}
			dfs(root, root0)

			// BFS traversal over a *fresh* shared root: same tree, different
			// exploration order entirely (queue instead of recursion), must
			// produce identical slot assignments per P1.
			root1 := vm.newRootStructure(4)
			queue := []*node{root}
			structureOf := map[*node]*Structure{root: root1}
			for len(queue) > 0 {
				n := queue[0]
				queue = queue[1:]
				s := structureOf[n]
				if len(n.path) > 0 {
					checkPath(s, n.path)
				}
				for _, c := range n.children {
					cur := s
					for i := len(n.path); i < len(c.path); i++ {
						res := cur.AddProperty(c.path[i].key)
						if res.Slot != c.path[i].slot {
							t.Fatalf("BFS AddProperty slot = %d, want %d", res.Slot, c.path[i].slot)
						}
						cur = res.Next
					}
					structureOf[c] = cur
					queue = append(queue, c)
				}
			}
		})
	}
}

// P1's cached-transition path: re-adding the same key along the same edge
// returns the existing child rather than creating a new Structure.
func TestStructureTransitionCaching(t *testing.T) {
	vm := newTestVm(t)
	root := vm.newRootStructure(4)
	k := keyFor(vm, 0)
	r1 := root.AddProperty(k)
	r2 := root.AddProperty(k)
	if r1.Next != r2.Next {
		t.Fatalf("re-adding the same key from the same Structure must return the cached transition")
	}
	if r1.Slot != r2.Slot {
		t.Fatalf("slot must be stable across repeated transitions")
	}
}

// P2 (Anchor sharing): total anchor-table memory for a chain of n properties
// is O(n / block_size), not O(n^2) / O(n) per node.
func TestStructureP2AnchorSharing(t *testing.T) {
	vm := newTestVm(t)
	root := vm.newRootStructure(4)
	const n = 3000
	cur := root
	for i := 0; i < n; i++ {
		res := cur.AddProperty(keyFor(vm, i))
		if res.TransitionToDictionary {
			break
		}
		cur = res.Next
	}
	// Count distinct anchor tables reachable from the tail of the chain.
	seen := map[*structureAnchor]bool{}
	for a := cur.anchor; a != nil; a = a.parent {
		seen[a] = true
	}
	maxExpectedAnchors := n/hiddenClassBlockSize + 2
	if len(seen) > maxExpectedAnchors {
		t.Errorf("anchor chain depth = %d, want <= %d (n/block_size bound)", len(seen), maxExpectedAnchors)
	}
	for a := range seen {
		if len(a.table) > hiddenClassBlockSize {
			t.Errorf("anchor table has %d entries, want <= %d", len(a.table), hiddenClassBlockSize)
		}
	}
}

// Past maxStructureSlots, AddProperty must signal a dictionary transition
// instead of returning a Next structure (§4.5 step 4).
func TestStructureDictionaryTransitionCap(t *testing.T) {
	vm := newTestVm(t)
	cur := vm.newRootStructure(4)
	sawTransition := false
	for i := 0; i < int(maxStructureSlots)+5; i++ {
		res := cur.AddProperty(keyFor(vm, i))
		if res.TransitionToDictionary {
			sawTransition = true
			break
		}
		cur = res.Next
	}
	if !sawTransition {
		t.Fatalf("expected a TransitionToDictionary once numSlots reached maxStructureSlots")
	}
}

func TestStructureSlotLocation(t *testing.T) {
	vm := newTestVm(t)
	s := vm.newRootStructure(2)
	r0 := s.AddProperty(keyFor(vm, 0))
	if inline, _ := r0.Next.SlotLocation(r0.Slot); !inline {
		t.Errorf("slot 0 with inlineCapacity=2 should be inline")
	}
	s1 := r0.Next
	r1 := s1.AddProperty(keyFor(vm, 1))
	s2 := r1.Next
	r2 := s2.AddProperty(keyFor(vm, 2))
	if inline, idx := r2.Next.SlotLocation(r2.Slot); inline || idx != -1 {
		t.Errorf("slot 2 with inlineCapacity=2 should be butterfly index -1, got inline=%v idx=%d", inline, idx)
	}
}
