// Package buddy implements the page-granular buddy allocator that backs the
// rest of the allocator stack: it owns the heap arena, carves a dense page
// descriptor array out of its low end, and serves/reclaims power-of-two page
// runs by splitting and merging.
//
// Free lists are intrusive doubly-linked lists threaded through a dense
// page descriptor array rather than a flat offset slice per order, so a
// descriptor can also carry a slab back-pointer for O(1) owner lookup.
// Links are int32 descriptor indices rather than pointers: the descriptor
// array aliases raw arena bytes, and a single allocator is always the
// only writer, guarded by the caller's lock.
package buddy

import (
	"errors"
	"fmt"
	"math/bits"
	"unsafe"
)

const (
	// PageSize is the size in bytes of one managed page.
	PageSize = 4096
	pageShift = 12

	// MaxOrder bounds run sizes to [0, MaxOrder): the largest run is
	// 2^(MaxOrder-1) pages.
	MaxOrder = 8

	noIndex int32 = -1
)

// ErrOutOfMemory is returned by GetFreePages when no run of sufficient
// order exists. Callers that cannot tolerate a failed allocation should
// treat this the way the kernel's alloc-error hook does: as fatal.
var ErrOutOfMemory = errors.New("buddy: out of memory")

// Page is the metadata record for one page-granular run. Index i in the
// descriptor array always corresponds to the i-th page of the arena; Prev
// and Next are descriptor indices (noIndex when absent) forming the
// intrusive doubly-linked free list for Order, and Slab is an opaque
// back-pointer (the arena address of a slab header, 0 meaning none) a
// layered allocator (see package slab) may use to record which slab cache
// owns this page, so any address-to-page lookup recovers the owning slab
// in O(1) without buddy needing to know the slab package's types.
type Page struct {
	Order     uint8
	Allocated bool
	Prev      int32
	Next      int32
	Slab      uintptr
}

// Allocator partitions a contiguous byte arena into a descriptor array and
// a page arena, and manages the page arena as a buddy system.
type Allocator struct {
	arena     []byte
	descs     []Page
	listHeads [MaxOrder]int32

	heapStart uintptr
	heapSize  uintptr
	startAddr uintptr
	pageCount int
}

// New partitions arena into a descriptor array followed by a page-aligned
// page arena, marks every page allocated, then frees each one in turn -
// driving them through the same coalescing path a live Free would, which
// merges the whole usable arena up to the largest feasible run per order.
//
// If len(arena) cannot fit even one page plus its descriptor, New returns
// an error; this is a setup failure, not an allocation failure, and the
// caller (heap.Bringup) should treat it as fatal before installing the
// allocator.
func New(arena []byte) (*Allocator, error) {
	if len(arena) == 0 {
		return nil, fmt.Errorf("buddy: empty arena")
	}

	heapStart := uintptr(unsafe.Pointer(&arena[0]))
	heapSize := uintptr(len(arena))

	descSize := unsafe.Sizeof(Page{})
	pageCount := int(heapSize) / (PageSize + int(descSize))
	if pageCount < 1 {
		return nil, fmt.Errorf("buddy: arena of %d bytes too small for even one page", len(arena))
	}

	// Rounding the page arena up to a page boundary can leave room for
	// fewer pages than the estimate above; shrink until both fit.
	startAddr := roundUp(heapStart+uintptr(pageCount)*descSize, PageSize)
	for pageCount > 0 && startAddr+uintptr(pageCount)*PageSize > heapStart+heapSize {
		pageCount--
		startAddr = roundUp(heapStart+uintptr(pageCount)*descSize, PageSize)
	}
	if pageCount < 1 {
		return nil, fmt.Errorf("buddy: arena of %d bytes too small for even one page", len(arena))
	}

	a := &Allocator{
		arena:     arena,
		descs:     unsafe.Slice((*Page)(unsafe.Pointer(&arena[0])), pageCount),
		heapStart: heapStart,
		heapSize:  heapSize,
		startAddr: startAddr,
		pageCount: pageCount,
	}
	for i := range a.listHeads {
		a.listHeads[i] = noIndex
	}

	for i := range a.descs {
		a.descs[i] = Page{Allocated: true, Prev: noIndex, Next: noIndex}
	}
	for i := range a.descs {
		a.FreePages(&a.descs[i])
	}
	return a, nil
}

// PageCount returns the number of page descriptors managed by a.
func (a *Allocator) PageCount() int { return a.pageCount }

// GetFreePages finds the smallest run whose size covers max(size, align)
// bytes, splitting a larger run if necessary, and marks it allocated.
func (a *Allocator) GetFreePages(size, align uintptr) (*Page, error) {
	need := size
	if align > need {
		need = align
	}
	order := sizeToOrder(need)
	if int(order) >= MaxOrder {
		return nil, ErrOutOfMemory
	}

	for o := order; int(o) < MaxOrder; o++ {
		idx, ok := a.popFree(o)
		if !ok {
			continue
		}
		if o != order {
			idx = a.split(idx, o, order)
		}
		a.descs[idx].Allocated = true
		return &a.descs[idx], nil
	}
	return nil, ErrOutOfMemory
}

// FreePages returns p's run to the free lists, merging with its buddy as
// far as possible. p must currently be allocated; freeing an unallocated
// page is an invariant violation and panics.
func (a *Allocator) FreePages(p *Page) {
	idx := a.indexOf(p)
	if !a.descs[idx].Allocated {
		panic("buddy: double free or freeing an unallocated page")
	}
	a.descs[idx].Allocated = false

	merged := a.merge(idx)
	a.descs[merged].Allocated = false
	a.pushFree(a.descs[merged].Order, merged)
}

// PageToVirt returns the base address of p's page run.
func (a *Allocator) PageToVirt(p *Page) uintptr {
	return a.virtOf(a.indexOf(p))
}

// VirtToPage returns the descriptor owning the page containing addr. addr
// must lie within the heap arena; an address outside it is an invariant
// violation (a caller bug) and panics.
func (a *Allocator) VirtToPage(addr uintptr) *Page {
	if addr < a.heapStart || addr >= a.heapStart+a.heapSize {
		panic("buddy: address out of heap range")
	}
	idx := (roundDown(addr, PageSize) - a.startAddr) / PageSize
	if idx >= uintptr(a.pageCount) {
		panic("buddy: address outside page arena")
	}
	return &a.descs[idx]
}

// Available returns the total free bytes across all orders' free lists.
func (a *Allocator) Available() int {
	total := 0
	for order := 0; order < MaxOrder; order++ {
		n := 0
		for idx := a.listHeads[order]; idx != noIndex; idx = a.descs[idx].Next {
			n++
		}
		total += n * (PageSize << uint(order))
	}
	return total
}

func (a *Allocator) virtOf(idx int32) uintptr {
	return a.startAddr + uintptr(idx)*PageSize
}

func (a *Allocator) indexOf(p *Page) int32 {
	off := uintptr(unsafe.Pointer(p)) - uintptr(unsafe.Pointer(&a.descs[0]))
	return int32(off / unsafe.Sizeof(Page{}))
}

// buddyIndexOK returns the descriptor index of the buddy of idx at order,
// via the XOR address trick: runs of order k are 2^k pages wide and
// naturally aligned, so flipping bit (order+pageShift) of the
// arena-relative address finds the other half of the parent run. ok is
// false when the candidate buddy would fall outside the populated
// descriptor range - the tail of an arena whose page count is not a clean
// power of two has no buddy to merge with (see DESIGN.md).
func (a *Allocator) buddyIndexOK(idx int32, order uint8) (int32, bool) {
	va := a.virtOf(idx)
	buddyVA := ((va - a.startAddr) ^ (uintptr(1) << (uint(order) + pageShift))) + a.startAddr
	if buddyVA < a.heapStart || buddyVA >= a.heapStart+a.heapSize {
		return 0, false
	}
	bidx := (buddyVA - a.startAddr) / PageSize
	if bidx >= uintptr(a.pageCount) {
		return 0, false
	}
	return int32(bidx), true
}

// buddyIndex is the panicking variant used by split, where the candidate
// run is already known-valid (it was carved from a larger in-range free
// run), so an out-of-range buddy indicates descriptor corruption.
func (a *Allocator) buddyIndex(idx int32, order uint8) int32 {
	bidx, ok := a.buddyIndexOK(idx, order)
	if !ok {
		panic("buddy: buddy address out of range")
	}
	return bidx
}

// split halves the run at idx (currently order curOrder) down to target,
// pushing each freed upper half onto its own free list.
func (a *Allocator) split(idx int32, curOrder, target uint8) int32 {
	for curOrder > target {
		curOrder--
		a.descs[idx].Order = curOrder
		buddyIdx := a.buddyIndex(idx, curOrder)
		a.descs[buddyIdx] = Page{Order: curOrder, Prev: noIndex, Next: noIndex}
		a.pushFree(curOrder, buddyIdx)
	}
	return idx
}

// merge coalesces idx with its buddy while the buddy is free and the same
// order, returning the index of the final merged run.
func (a *Allocator) merge(idx int32) int32 {
	order := a.descs[idx].Order
	if int(order) >= MaxOrder-1 {
		return idx
	}

	buddyIdx, ok := a.buddyIndexOK(idx, order)
	if !ok {
		return idx
	}
	buddy := &a.descs[buddyIdx]
	if buddy.Allocated || buddy.Order != order {
		return idx
	}

	a.unlink(buddyIdx)
	a.descs[idx].Order = order + 1
	buddy.Order = order + 1

	merged := idx
	if buddyIdx < idx {
		merged = buddyIdx
	}
	return a.merge(merged)
}

func (a *Allocator) pushFree(order uint8, idx int32) {
	p := &a.descs[idx]
	p.Allocated = false
	p.Order = order
	p.Prev = noIndex
	p.Next = a.listHeads[order]
	if p.Next != noIndex {
		a.descs[p.Next].Prev = idx
	}
	a.listHeads[order] = idx
}

func (a *Allocator) popFree(order uint8) (int32, bool) {
	idx := a.listHeads[order]
	if idx == noIndex {
		return noIndex, false
	}
	a.unlink(idx)
	return idx, true
}

func (a *Allocator) unlink(idx int32) {
	p := &a.descs[idx]
	if p.Prev != noIndex {
		a.descs[p.Prev].Next = p.Next
	} else {
		a.listHeads[p.Order] = p.Next
	}
	if p.Next != noIndex {
		a.descs[p.Next].Prev = p.Prev
	}
	p.Prev, p.Next = noIndex, noIndex
}

// sizeToOrder returns the smallest order k such that 2^k pages cover size
// bytes.
func sizeToOrder(size uintptr) uint8 {
	pages := (size + PageSize - 1) / PageSize
	if pages <= 1 {
		return 0
	}
	return uint8(bits.Len(uint(pages - 1)))
}

func roundUp(addr, align uintptr) uintptr {
	if r := addr % align; r != 0 {
		return addr - r + align
	}
	return addr
}

func roundDown(addr, align uintptr) uintptr {
	return addr - addr%align
}
