// Copyright 2026 The toyvm Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// license that can be found in the LICENSE file.

package toyvm

import (
	"fmt"
	"sync"

	mmap "github.com/edsrzf/mmap-go"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// UserHeapPtr is a handle into the user heap (§3: TableObjects, FunctionObjects,
// Upvalues, ArraySparseMaps, coroutine contexts). Per the rewrite guidance in
// §9 ("expose them as newtypes with explicit resolve(&arena) conversion"),
// this is not a raw pointer: it is a stable index that Vm.ResolveUser turns
// into the live Go object. The backing store for the object graph itself
// rides on Go's own tracing collector, a substitution explicitly permitted
// by §2's Non-goals ("an implementer may substitute any tracing or
// reference-counted scheme"); what the arena still enforces byte-for-byte is
// the resource-exhaustion contract of §4.1 (every allocation bumps a real
// cursor inside the reserved region and a crossed boundary is fatal).
type UserHeapPtr int64

// SystemHeapPtr is the system-heap analog of UserHeapPtr (§3: Structures,
// CacheableDictionaries, CodeBlocks, UnlinkedCodeBlocks). HeapStrings are
// registered in the user heap instead (see heapstring.go).
type SystemHeapPtr int64

// SpdsPtr addresses an object in the SPDS region (§4.2), addressed with a
// genuine signed 32-bit byte offset since watchpoint nodes are small, POD,
// and never referenced from Value (they are reached only via owning
// records), so there is no handle-table indirection to avoid here.
type SpdsPtr int32

// ArenaSizes configures the three sub-region sizes the arena reserves.
// Defaults match §4.1 (12GB/2GB/2GB); tests use kilobyte-scale regions so the
// resource-exhaustion path is exercisable without mapping real gigabytes.
type ArenaSizes struct {
	UserHeapBytes   int64
	SystemHeapBytes int64
	SpdsRegionBytes int64
}

// DefaultArenaSizes returns the §4.1 production layout.
func DefaultArenaSizes() ArenaSizes {
	return ArenaSizes{
		UserHeapBytes:   12 << 30,
		SystemHeapBytes: 2 << 30,
		SpdsRegionBytes: 2 << 30,
	}
}

// VirtualAddressArena reserves one contiguous region via a single mmap call
// and carves it into the user heap, system heap, and SPDS sub-ranges (§4.1).
// Unlike the reference implementation, sub-ranges are addressed as plain
// byte-slice windows rather than via a 32GB-aligned base register: §9's
// design notes call the segment-register trick a C++-specific hack and
// recommend a portable indexed load instead, which a Go byte slice already
// is.
type VirtualAddressArena struct {
	mu sync.Mutex

	reservation mmap.MMap
	sizes       ArenaSizes

	spds   []byte
	system []byte
	user   []byte

	spdsCur   int32
	systemCur int64
	userCur   int64

	logger *zap.Logger
}

// chunkRampBytes is the initial-chunk-size ramp from §4.1: new regions are
// requested from the OS in progressively larger page-aligned chunks so a
// short-lived VM keeps a small working set before settling at 64KB chunks.
var chunkRampBytes = []int64{4 << 10, 8 << 10, 16 << 10, 32 << 10, 64 << 10}

func chunkSizeForStep(step int) int64 {
	if step >= len(chunkRampBytes) {
		return chunkRampBytes[len(chunkRampBytes)-1]
	}
	return chunkRampBytes[step]
}

// guardPageProtect marks b PROT_NONE (§4.1: a guard page between sub-regions
// turns a linear overrun past a sub-region's configured bound into an
// immediate SIGSEGV instead of silent corruption of the next region). b must
// start at a page boundary within the mapping, which NewVirtualAddressArena
// guarantees by rounding every sub-region up to a whole number of pages
// before placing the next guard.
func guardPageProtect(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if err := unix.Mprotect(b, unix.PROT_NONE); err != nil {
		return fmt.Errorf("toyvm: arena: mprotect guard page: %w", err)
	}
	return nil
}

func roundUpToPage(n int64, pageSize int64) int64 {
	if n <= 0 {
		return pageSize
	}
	return (n + pageSize - 1) / pageSize * pageSize
}

// NewVirtualAddressArena reserves sizes.UserHeapBytes+SystemHeapBytes+SpdsRegionBytes
// of address space in one mmap call, books one extra guard page ahead of and
// behind each sub-region (§4.1), and slices the live portion into the three
// sub-regions.
func NewVirtualAddressArena(sizes ArenaSizes, logger *zap.Logger) (*VirtualAddressArena, error) {
	total := sizes.SpdsRegionBytes + sizes.SystemHeapBytes + sizes.UserHeapBytes
	if total <= 0 {
		return nil, fmt.Errorf("toyvm: arena: non-positive total size %d", total)
	}

	pageSize := int64(unix.Getpagesize())
	spdsReserved := roundUpToPage(sizes.SpdsRegionBytes, pageSize)
	systemReserved := roundUpToPage(sizes.SystemHeapBytes, pageSize)
	userReserved := roundUpToPage(sizes.UserHeapBytes, pageSize)
	mapped := 4*pageSize + spdsReserved + systemReserved + userReserved

	region, err := mmap.MapRegion(nil, int(mapped), mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, fmt.Errorf("toyvm: arena: reserve %d bytes: %w", mapped, err)
	}

	off := int64(0)
	guard := func() error {
		err := guardPageProtect(region[off : off+pageSize])
		off += pageSize
		return err
	}

	if err := guard(); err != nil {
		region.Unmap()
		return nil, err
	}
	spds := region[off : off+sizes.SpdsRegionBytes : off+sizes.SpdsRegionBytes]
	off += spdsReserved
	if err := guard(); err != nil {
		region.Unmap()
		return nil, err
	}
	system := region[off : off+sizes.SystemHeapBytes : off+sizes.SystemHeapBytes]
	off += systemReserved
	if err := guard(); err != nil {
		region.Unmap()
		return nil, err
	}
	user := region[off : off+sizes.UserHeapBytes : off+sizes.UserHeapBytes]
	off += userReserved
	if err := guard(); err != nil {
		region.Unmap()
		return nil, err
	}

	a := &VirtualAddressArena{
		reservation: region,
		sizes:       sizes,
		spds:        spds,
		system:      system,
		user:        user,
		logger:      logger,
	}
	if a.logger != nil {
		a.logger.Info("arena reserved",
			zap.Int64("user_heap_bytes", sizes.UserHeapBytes),
			zap.Int64("system_heap_bytes", sizes.SystemHeapBytes),
			zap.Int64("spds_region_bytes", sizes.SpdsRegionBytes),
			zap.Int64("guard_page_bytes", pageSize))
	}
	return a, nil
}

// Close releases the reservation. Safe to call once; not safe to use the
// arena afterwards.
func (a *VirtualAddressArena) Close() error {
	return a.reservation.Unmap()
}

// AllocUserHeap bumps the user heap cursor by length bytes and returns the
// starting offset. Fails fatally (§4.1) if the user heap would cross its
// configured bound.
func (a *VirtualAddressArena) AllocUserHeap(length int64) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.userCur + length
	if next > a.sizes.UserHeapBytes {
		if a.logger != nil {
			a.logger.Error("user heap exhausted",
				zap.Int64("limit_bytes", a.sizes.UserHeapBytes),
				zap.Int64("requested_bytes", next))
		}
		return 0, &EngineError{Kind: ErrorKindResourceExhausted, Message: fmt.Sprintf(
			"resource limit exceeded: user heap overflowed %d byte limit", a.sizes.UserHeapBytes)}
	}
	off := a.userCur
	a.userCur = next
	return off, nil
}

// AllocSystemHeap is the system-heap analog of AllocUserHeap.
func (a *VirtualAddressArena) AllocSystemHeap(length int64) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.systemCur + length
	if next > a.sizes.SystemHeapBytes {
		if a.logger != nil {
			a.logger.Error("system heap exhausted",
				zap.Int64("limit_bytes", a.sizes.SystemHeapBytes),
				zap.Int64("requested_bytes", next))
		}
		return 0, &EngineError{Kind: ErrorKindResourceExhausted, Message: fmt.Sprintf(
			"resource limit exceeded: system heap overflowed %d byte limit", a.sizes.SystemHeapBytes)}
	}
	off := a.systemCur
	a.systemCur = next
	// The bytes backing this allocation are real, mmap'd memory; callers get
	// a slice view so POD data (e.g. Structure anchor tables) can be written
	// in place rather than living as a separate Go allocation.
	return off, nil
}

// SystemHeapBytes returns a slice view of length bytes at off, previously
// returned by AllocSystemHeap.
func (a *VirtualAddressArena) SystemHeapBytes(off, length int64) []byte {
	return a.system[off : off+length]
}

// AllocSpds bumps the SPDS cursor by length bytes (≤ one page, §4.2) and
// returns the offset. This is the slow path the per-size-class free lists in
// spds.go fall back to when they have nothing to recycle.
func (a *VirtualAddressArena) AllocSpds(length int32) (int32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.spdsCur + length
	if int64(next) > a.sizes.SpdsRegionBytes {
		if a.logger != nil {
			a.logger.Error("spds region exhausted",
				zap.Int64("limit_bytes", a.sizes.SpdsRegionBytes))
		}
		return 0, &EngineError{Kind: ErrorKindResourceExhausted, Message: fmt.Sprintf(
			"resource limit exceeded: SPDS region overflowed %d byte limit", a.sizes.SpdsRegionBytes)}
	}
	off := a.spdsCur
	a.spdsCur = next
	return off, nil
}

func (a *VirtualAddressArena) SpdsBytes(off, length int32) []byte {
	return a.spds[off : off+length]
}
