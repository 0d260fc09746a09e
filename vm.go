// Copyright 2026 The toyvm Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// license that can be found in the LICENSE file.

package toyvm

import (
	"fmt"
	"sync"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HeapEntityType tags the concrete kind of a heap-resident object. A Value
// never carries this tag itself (it only knows "this is a pointer", §4.4);
// the tag lives on the object, mirroring the reference implementation's
// object header.
type HeapEntityType uint8

const (
	HeapEntityString HeapEntityType = iota
	HeapEntityTable
	HeapEntityFunction
	HeapEntityThread
	HeapEntityUserdata
	HeapEntityUpvalue
	HeapEntitySparseMap
)

func (t HeapEntityType) String() string {
	switch t {
	case HeapEntityString:
		return "string"
	case HeapEntityTable:
		return "table"
	case HeapEntityFunction:
		return "function"
	case HeapEntityThread:
		return "thread"
	case HeapEntityUserdata:
		return "userdata"
	case HeapEntityUpvalue:
		return "upvalue"
	case HeapEntitySparseMap:
		return "sparsemap"
	default:
		return "unknown"
	}
}

// HeapObject is implemented by every value kind that lives in the user heap
// (§3: TableObject, FunctionObject, Upvalue, ArraySparseMap,
// CoroutineRuntimeContext, HeapString).
type HeapObject interface {
	Type() HeapEntityType
}

// Config bundles the tunables internal/config loads from viper/cobra.
type Config struct {
	Arena                  ArenaSizes
	InitialArrayCapacity   uint32
	ArrayGrowthCutoffDense uint32
	ArrayGrowthCutoffHard  uint32
	LogLevel               string
}

// DefaultConfig mirrors §4.1/§4.5's reference constants.
func DefaultConfig() Config {
	return Config{
		Arena:                  DefaultArenaSizes(),
		InitialArrayCapacity:   4,
		ArrayGrowthCutoffDense:  1024,
		ArrayGrowthCutoffHard:  1 << 20,
		LogLevel:               "info",
	}
}

// Vm is one engine instance: the arena, the object heap, the global table,
// per-type metatables, and the string intern table. §5 requires a VM be
// pinned to a single OS thread for its lifetime; toyvm enforces this by
// giving every Vm a goroutine-agnostic but single-writer API (callers must
// not share a *Vm across goroutines without external synchronization, same
// as the reference implementation's single-thread-per-VM rule).
type Vm struct {
	ID uuid.UUID

	arena *VirtualAddressArena
	spds  *SpdsAllocator

	userHeap []HeapObject

	strings *stringInternTable

	// initialStructures caches the shared empty-Structure root for each
	// inline-capacity stepping objects are created with (§4.5).
	initialStructures map[uint32]*Structure

	Globals *TableObject

	// typeMetatables holds the optional VM-global metatable for each
	// non-table value kind (§4.6: "for strings/functions/threads/numbers/
	// booleans/nil, a VM-global metatable (optional) applies"). Indexed by
	// the MetatableKind enum in metamethod.go.
	typeMetatables [numMetatableKinds]*TableObject

	// metaKeys caches the interned Value for each metamethod name (metamethod.go).
	metaKeys *metamethodKeys

	// respecializationIndex is the strict ground truth backing
	// UnlinkedCodeBlock's "lazy map global_object -> CodeBlock" (§3): once a
	// (UnlinkedCodeBlock, GlobalObject) pair has a CodeBlock, every later
	// lookup for that exact pair must return the same *CodeBlock instance,
	// since §3 has it own "the mutable, specialization-point bytecode" for
	// that pair. A probabilistic, async-admission cache cannot be the
	// source of truth for that guarantee (a Get miss on a live key would
	// silently fabricate a second, divergent CodeBlock), so the map is
	// authoritative and respecializationCache below is consulted only as a
	// non-authoritative hotness hint.
	respecializationMu    sync.Mutex
	respecializationIndex map[respecializationKey]*CodeBlock

	// respecializationCache mirrors codeBlockFor's writes as a bounded
	// admission/hotness signal in the teacher's ristretto style; it is never
	// read back to answer a codeBlockFor lookup.
	respecializationCache *ristretto.Cache

	config Config
	logger *zap.Logger
}

// New creates a Vm with the given config and logger (nil logger => no-op).
func New(cfg Config, logger *zap.Logger) (*Vm, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	arena, err := NewVirtualAddressArena(cfg.Arena, logger)
	if err != nil {
		return nil, fmt.Errorf("toyvm: new vm: %w", err)
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("toyvm: new vm: respecialization cache: %w", err)
	}
	vm := &Vm{
		ID:                     uuid.New(),
		arena:                  arena,
		spds:                   NewSpdsAllocator(arena),
		strings:                newStringInternTable(),
		respecializationIndex:  make(map[respecializationKey]*CodeBlock),
		respecializationCache:  cache,
		config:                 cfg,
		logger:                 logger,
	}
	vm.Globals = vm.newGlobalObject()
	return vm, nil
}

// Close releases the arena's reserved address space.
func (vm *Vm) Close() error {
	vm.respecializationCache.Close()
	return vm.arena.Close()
}

// allocUserHeap registers obj in the handle table and bumps the arena's
// user-heap cursor by a nominal per-entity accounting size so the §4.1
// resource-exhaustion contract is still enforced even though object storage
// itself rides on Go's collector (see arena.go's doc comment).
func (vm *Vm) allocUserHeap(obj HeapObject) (UserHeapPtr, error) {
	const nominalEntitySize = 64
	if _, err := vm.arena.AllocUserHeap(nominalEntitySize); err != nil {
		return 0, err
	}
	handle := UserHeapPtr(len(vm.userHeap))
	vm.userHeap = append(vm.userHeap, obj)
	return handle, nil
}

// ResolveUser turns a handle back into its live object (§9's
// "resolve(&arena)" newtype pattern).
func (vm *Vm) ResolveUser(p UserHeapPtr) HeapObject {
	return vm.userHeap[p]
}

// InternString returns the canonical HeapString for data (§4.4).
func (vm *Vm) InternString(data []byte) (*HeapString, error) {
	return vm.strings.intern(vm, data)
}

func (vm *Vm) newGlobalObject() *TableObject {
	t, err := NewTableObject(vm, vm.initialStructureForInlineCapacity(defaultGlobalObjectInlineCapacity))
	if err != nil {
		// The very first allocation failing means the configured arena is
		// too small to host even one object; there is nothing sensible left
		// to do but surface it loudly, since newGlobalObject has no error
		// return through which New could pass it on.
		vm.logger.Fatal("failed to allocate global object", zap.Error(err))
	}
	return t
}
