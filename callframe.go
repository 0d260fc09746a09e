// Copyright 2026 The toyvm Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// license that can be found in the LICENSE file.

package toyvm

// ReturnKind tags what a frame's return address actually means, replacing
// the reference implementation's "return address is a code pointer compared
// by value" trick (§4.8) with an explicit discriminator toyvm's Go
// interpreter loop switches on directly.
type ReturnKind uint8

const (
	// ReturnToCaller: an ordinary script frame; on return, resume the
	// caller's bytecode at CallerBytecodeOffset.
	ReturnToCaller ReturnKind = iota
	// ReturnPcallSuccess: this frame is the body of a pcall/xpcall; a
	// normal return here means "success", captured as (true, rets...).
	ReturnPcallSuccess
	// ReturnXpcallHandler: this frame is a synthesized xpcall error-handler
	// call; on return, resume just past the owning xpcall frame with
	// (false, handler_result) (§4.8).
	ReturnXpcallHandler
)

// StackFrameHeader is the per-call metadata §4.7 describes living at the
// base of each Lua call's stack region. toyvm keeps it as an ordinary Go
// struct alongside (not inside) the flat Value stack rather than overlaying
// it into the stack's bytes, since Go gives no tool for the latter that
// isn't unsafe.Pointer gymnastics the spec's own §9 Design Notes already
// anticipate substituting (see DESIGN.md).
type StackFrameHeader struct {
	FuncRef               *FunctionObject
	CallerFrameBase       int
	ReturnKind            ReturnKind
	CallerBytecodeOffset  int
	NumVariadicArgs       int
	VariadicArgsSlotStart int

	// IsXpcall mirrors §4.8's "local slot 0" boolean: false for
	// pcall, true for xpcall. Only meaningful when ReturnKind ==
	// ReturnPcallSuccess.
	IsXpcall bool
	Handler  Value
}

// CallFrame is one live activation: the header plus cursor state for
// resuming bytecode.
type CallFrame struct {
	Header    StackFrameHeader
	Base      int
	CodeBlock *CodeBlock
	PC        int
}

// maxCallIndirectionChain bounds how many times a __call metamethod chain
// may redirect a call before toyvm gives up (the reference implementation
// bounds this only by native stack depth; toyvm's call dispatch loop isn't
// recursive, so an explicit cap replaces that incidental limit).
const maxCallIndirectionChain = 100

// prepareFixedArgs lays out args into a fresh frame's locals per §4.7's
// Non-tail-call steps 1-2 and Property P5: the first min(n,k) locals equal
// the passed args, missing locals up to k are nil, and surplus beyond k
// either is discarded (no varargs) or staged as the variadic region.
func prepareFixedArgs(ctx *CoroutineRuntimeContext, base int, fn *FunctionObject, args []Value) (numVariadic int, varSlotStart int) {
	k := int(fn.NumFixedParams())
	n := len(args)
	ctx.ensureStack(base + k + n + 8)

	if !fn.TakesVarArg() || n <= k {
		for i := 0; i < k; i++ {
			if i < n {
				ctx.stack[base+i] = args[i]
			} else {
				ctx.stack[base+i] = NilValue()
			}
		}
		return 0, 0
	}

	surplus := n - k
	// Surplus args are placed in the variadic region, which toyvm stores
	// immediately below the frame base (mirroring §4.7's "[variadic
	// args…][StackFrameHeader][fixed locals…]" layout without literally
	// reusing the same contiguous region as the fixed locals).
	varStart := base - surplus
	ctx.ensureStack(base + k + 8)
	if varStart < 0 {
		// Negative stack indices can't happen in practice because callFrame
		// bases always leave room above any caller's own variadic region;
		// guard here rather than let a slice index panic surface a
		// confusing stack trace.
		varStart = 0
	}
	for i := 0; i < surplus; i++ {
		ctx.stack[varStart+i] = args[k+i]
	}
	for i := 0; i < k; i++ {
		ctx.stack[base+i] = args[i]
	}
	return surplus, varStart
}

// variadicStagingGap returns how many extra stack slots must be reserved
// below a new frame's base so prepareFixedArgs can stage that call's surplus
// args (those beyond fn's fixed params, when fn takes varargs) without the
// variadic region it lays out just below base reaching down into the
// caller's own live-locals span (Property P5: caller locals are unchanged by
// a call). It must match prepareFixedArgs's own surplus computation exactly.
func variadicStagingGap(fn *FunctionObject, args []Value) int {
	if !fn.TakesVarArg() {
		return 0
	}
	if surplus := len(args) - int(fn.NumFixedParams()); surplus > 0 {
		return surplus
	}
	return 0
}

// pushScriptFrame allocates and pushes a new CallFrame for fn, laying out
// args according to prepareFixedArgs, and returns it.
func pushScriptFrame(ctx *CoroutineRuntimeContext, fn *FunctionObject, args []Value, callerBase int, callerPC int, returnKind ReturnKind) *CallFrame {
	base := callerBase
	if len(ctx.frames) > 0 {
		top := ctx.frames[len(ctx.frames)-1]
		base = top.Base + int(top.CodeBlock.Owner.MaxFrameSize) + variadicStagingGap(fn, args)
	}
	numVariadic, varStart := prepareFixedArgs(ctx, base, fn, args)
	frame := &CallFrame{
		Header: StackFrameHeader{
			FuncRef:               fn,
			CallerFrameBase:       callerBase,
			ReturnKind:            returnKind,
			CallerBytecodeOffset:  callerPC,
			NumVariadicArgs:       numVariadic,
			VariadicArgsSlotStart: varStart,
		},
		Base:      base,
		CodeBlock: fn.codeBlock,
		PC:        0,
	}
	ctx.frames = append(ctx.frames, frame)
	return frame
}

// tailCallOverlay replaces the top frame in place with a new activation of
// fn, reusing the same Base so the coroutine's frame count (and therefore
// its stack high-water mark) never grows across an unbounded tail-call
// chain (§4.7 Tail call, Property P6). The caller's return address is
// retained.
func tailCallOverlay(ctx *CoroutineRuntimeContext, fn *FunctionObject, args []Value) {
	top := ctx.frames[len(ctx.frames)-1]
	closeUpvaluesFrom(ctx, top.Base)
	numVariadic, varStart := prepareFixedArgs(ctx, top.Base, fn, args)
	top.Header.FuncRef = fn
	top.Header.NumVariadicArgs = numVariadic
	top.Header.VariadicArgsSlotStart = varStart
	top.CodeBlock = fn.codeBlock
	top.PC = 0
}

// popFrameAndReturn closes upvalues owned by the returning frame and pops
// it. It reports values alongside a buffer padded with nil up to a minimum
// of 3 entries (§4.7: "pads with nil up to a minimum (the source uses 3) so
// consumers using a fixed small number of returns never read uninitialized
// slots") — callers that need the true count use len(values); callers that
// read a fixed small arity by index use padded.
func popFrameAndReturn(ctx *CoroutineRuntimeContext, values []Value) (frame *CallFrame, actual []Value, padded []Value) {
	top := ctx.frames[len(ctx.frames)-1]
	closeUpvaluesFrom(ctx, top.Base)
	ctx.frames = ctx.frames[:len(ctx.frames)-1]
	padded = make([]Value, len(values))
	copy(padded, values)
	for len(padded) < 3 {
		padded = append(padded, NilValue())
	}
	return top, values, padded
}
