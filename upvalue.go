// Copyright 2026 The toyvm Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// license that can be found in the LICENSE file.

package toyvm

// Upvalue is a closure's reference to a variable captured from an enclosing
// frame (§3). While open it aliases a live stack slot; closing copies the
// value out and redirects future reads to the copy.
type Upvalue struct {
	handle       UserHeapPtr
	isClosed     bool
	isImmutable  bool
	stackSlot    int // valid only while open: index into the owning coroutine's stack
	closedValue  Value
	prevInOpen   *Upvalue // strictly decreasing stack-slot order (§3)
	nextInOpen   *Upvalue
	owner        *CoroutineRuntimeContext
}

func (u *Upvalue) Type() HeapEntityType { return HeapEntityUpvalue }

// Get reads the upvalue's current value, resolving through the live stack
// slot while open.
func (u *Upvalue) Get() Value {
	if u.isClosed {
		return u.closedValue
	}
	return u.owner.stack[u.stackSlot]
}

// Set writes the upvalue's value, through the live stack slot while open.
// Writing a closed, immutable upvalue is a programming error in any
// correctly compiled chunk; toyvm does not defend against it since the
// bytecode loader is trusted input (§6 Non-goal: bytecode validation beyond
// structural decoding).
func (u *Upvalue) Set(v Value) {
	if u.isClosed {
		u.closedValue = v
		return
	}
	u.owner.stack[u.stackSlot] = v
}

// findOrCreateUpvalue returns the open Upvalue aliasing stackSlot in ctx,
// creating and linking a new one (in strictly decreasing slot order) if none
// exists yet. Mirrors the reference implementation's upvalue-list search on
// every UGET/closure-creation op that captures a parent local.
func findOrCreateUpvalue(ctx *CoroutineRuntimeContext, stackSlot int, immutable bool) *Upvalue {
	var prev *Upvalue
	cur := ctx.openUpvalueHead
	for cur != nil && cur.stackSlot > stackSlot {
		prev = cur
		cur = cur.nextInOpen
	}
	if cur != nil && cur.stackSlot == stackSlot {
		return cur
	}
	u := &Upvalue{stackSlot: stackSlot, isImmutable: immutable, owner: ctx}
	u.nextInOpen = cur
	if cur != nil {
		cur.prevInOpen = u
	}
	u.prevInOpen = prev
	if prev != nil {
		prev.nextInOpen = u
	} else {
		ctx.openUpvalueHead = u
	}
	return u
}

// closeUpvaluesFrom closes (and unlinks) every open upvalue whose stack slot
// is >= base, as required before a frame returns (§4.7 "Upvalue close on
// return").
func closeUpvaluesFrom(ctx *CoroutineRuntimeContext, base int) {
	cur := ctx.openUpvalueHead
	for cur != nil && cur.stackSlot >= base {
		next := cur.nextInOpen
		cur.closedValue = ctx.stack[cur.stackSlot]
		cur.isClosed = true
		cur.prevInOpen = nil
		cur.nextInOpen = nil
		cur = next
	}
	ctx.openUpvalueHead = cur
	if cur != nil {
		cur.prevInOpen = nil
	}
}
