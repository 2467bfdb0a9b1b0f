// Package pool implements the fixed-size-block allocator from spec.md §4.1:
// a single backing slab carved into equal-size blocks threaded as a
// singly-linked free list, giving O(1) allocate/deallocate with diagnostic
// counters. There is no pack library that provides this (sync.Pool is
// reclaimable by the GC at any time, which would silently violate
// invariant 5 — "no leaks across restarts" — so it is deliberately not used
// here; see DESIGN.md).
package pool

import (
	"sync"
	"unsafe"

	"github.com/opencyphal-garage/cynode/pkg/cyerr"
)

// Diagnostics mirrors spec.md §4.1's diagnostics() contract.
type Diagnostics struct {
	Capacity int // usable slab bytes (whole blocks only)
	Used     int // blocks currently allocated
	Peak     int // highest Used has ever been
	Requests int // total allocate() calls, successful or not
	OOM      int // allocate() calls that failed
}

// freeNode is one singly-linked free-list link. Links live in a side array
// indexed by block number, not inside the blocks' backing bytes.
type freeNode struct {
	next int // index of next free block, or -1
}

// Pool is a fixed-block-size allocator over one pre-carved slab. It is safe
// for concurrent use, though the node core only ever touches it from the
// single cooperative scheduler thread or from an ISR-style critical section
// (spec §5); the mutex exists for that ISR/loop boundary, not for general
// multi-goroutine sharing.
type Pool struct {
	mu        sync.Mutex
	slab      []byte
	blockSize int
	nBlocks   int
	freeHead  int // index of first free block, -1 if empty
	nodes     []freeNode

	used     int
	peak     int
	requests int
	oom      int
}

// New carves a slab of capacity bytes into blocks of blockSize bytes each.
// Alignment is enforced by rounding the usable slab down to a multiple of
// blockSize; any remainder is wasted and counted against capacity, per
// spec.md §4.1 ("wasted bytes are accounted for in capacity").
func New(capacity, blockSize int) *Pool {
	if blockSize <= 0 || capacity <= 0 {
		return &Pool{blockSize: blockSize, freeHead: -1}
	}
	nBlocks := capacity / blockSize
	p := &Pool{
		slab:      make([]byte, nBlocks*blockSize),
		blockSize: blockSize,
		nBlocks:   nBlocks,
		freeHead:  -1,
		nodes:     make([]freeNode, nBlocks),
	}
	for i := 0; i < nBlocks; i++ {
		p.nodes[i].next = p.freeHead
		p.freeHead = i
	}
	return p
}

// Allocate returns a block of at least size bytes, or ok=false if size
// exceeds the configured block size or the pool is exhausted (spec §4.1:
// "fails ... if size > block_size or pool is empty").
func (p *Pool) Allocate(size int) (buf []byte, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests++
	if size > p.blockSize || p.freeHead == -1 {
		p.oom++
		return nil, false
	}

	idx := p.freeHead
	p.freeHead = p.nodes[idx].next
	p.used++
	if p.used > p.peak {
		p.peak = p.used
	}

	start := idx * p.blockSize
	return p.slab[start : start+p.blockSize][:size:p.blockSize], true
}

// Deallocate returns buf to the free list. Passing a slice not obtained from
// this pool's Allocate is undefined behavior, per spec §4.1; a slice whose
// start is not a block boundary of this pool's slab is ignored.
func (p *Pool) Deallocate(buf []byte) {
	if cap(buf) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := p.indexOf(buf)
	if idx < 0 {
		return
	}
	p.nodes[idx].next = p.freeHead
	p.freeHead = idx
	if p.used > 0 {
		p.used--
	}
}

func (p *Pool) indexOf(buf []byte) int {
	if len(p.slab) == 0 || len(buf) == 0 {
		return -1
	}
	base := uintptr(unsafe.Pointer(&p.slab[0]))
	bufBase := uintptr(unsafe.Pointer(&buf[:1][0]))
	if bufBase < base {
		return -1
	}
	offset := int(bufBase - base)
	if offset%p.blockSize != 0 {
		return -1
	}
	idx := offset / p.blockSize
	if idx >= p.nBlocks {
		return -1
	}
	return idx
}

// Diagnostics returns a snapshot of the pool's counters.
func (p *Pool) Diagnostics() Diagnostics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Diagnostics{
		Capacity: p.nBlocks * p.blockSize,
		Used:     p.used,
		Peak:     p.peak,
		Requests: p.requests,
		OOM:      p.oom,
	}
}

// AllocateOrErr is a convenience wrapper returning a *cyerr.Error of kind
// Memory instead of a bare bool, for call sites that propagate through the
// node's structured-error plumbing (spec §7 "Memory ... counted, reported
// via heartbeat health = CAUTION, never fatal").
func (p *Pool) AllocateOrErr(op string, size int) ([]byte, error) {
	buf, ok := p.Allocate(size)
	if !ok {
		return nil, cyerr.New(op, cyerr.KindMemory, "pool exhausted or size exceeds block size")
	}
	return buf, nil
}
