// Package slab layers a fixed-size object allocator over package buddy: it
// carves buddy page runs into slots of a single power-of-two size and
// services small, frequent allocations from per-order slab chains.
//
// Each run ("slab") carries a small header at slot 0 and slots are linked
// through their own first word. Every page of a run is tagged with a
// back-pointer to its slab header, so a freed address resolves to its
// owning slab in O(1) via the buddy descriptor rather than a size check
// on the caller's layout.
package slab

import (
	"fmt"
	"unsafe"

	"github.com/wzx-ipads/goheap/buddy"
)

const (
	// MinOrder and MaxOrder bound the slot-size orders this allocator
	// services: slots range over [2^MinOrder, 2^MaxOrder) bytes.
	MinOrder = 5
	MaxOrder = 12

	// DefaultSlabSize is the buddy run size carved for each new slab:
	// 8KiB, i.e. a 2-page order-1 buddy run.
	DefaultSlabSize = 8 * 1024
)

// slotNode is the intrusive link written into a free slot's first word.
type slotNode struct {
	next *slotNode
}

// header sits at slot 0 of every slab run, consuming one slot's worth of
// space. freeListHead chains the run's free slots; nextSlab chains slabs
// of the same order so exhausted slabs are skipped on the next lookup.
type header struct {
	freeListHead *slotNode
	nextSlab     *header
	order        uint8
}

// Allocator services allocations whose max(size, align) fits a slot of at
// most 2^(MaxOrder-1) bytes from per-order slab chains, and escalates
// anything larger to the embedded buddy allocator.
type Allocator struct {
	fallback *buddy.Allocator
	slabs    [MaxOrder]*header
}

// New returns a slab allocator layered over b. Slab chains are built
// lazily: the first allocation of a given order creates that order's
// first slab, rather than eagerly priming every order at construction,
// since nothing requires a slab to exist before it is first needed.
func New(b *buddy.Allocator) *Allocator {
	return &Allocator{fallback: b}
}

// Alloc returns size bytes aligned to align. Requests whose max(size,
// align) exceeds the largest slot, 2^(MaxOrder-1) bytes, escalate
// directly to the embedded buddy allocator.
func (a *Allocator) Alloc(size, align uintptr) (uintptr, error) {
	order := sizeToOrder(size, align)
	if int(order) >= MaxOrder {
		p, err := a.fallback.GetFreePages(size, align)
		if err != nil {
			return 0, err
		}
		return a.fallback.PageToVirt(p), nil
	}

	slot, err := a.findFreeSlot(order)
	if err != nil {
		return 0, err
	}
	return uintptr(unsafe.Pointer(slot)), nil
}

// Dealloc releases a pointer previously returned by Alloc. Ownership is
// decided by which page the pointer falls in, not by the caller's
// declared size/align, so mismatched layouts at the slab/buddy boundary
// are tolerated.
func (a *Allocator) Dealloc(ptr uintptr) {
	page := a.fallback.VirtToPage(roundDown(ptr, buddy.PageSize))
	if page.Slab == 0 {
		a.fallback.FreePages(page)
		return
	}

	h := (*header)(unsafe.Pointer(page.Slab))
	node := (*slotNode)(unsafe.Pointer(ptr))
	node.next = h.freeListHead
	h.freeListHead = node
}

// Stats reports, for order, the number of slabs currently in its chain.
// Slabs are never reclaimed, but a future reclamation policy needs
// somewhere to read occupancy from.
func (a *Allocator) Stats(order uint8) (slabCount int) {
	if int(order) >= MaxOrder {
		return 0
	}
	for h := a.slabs[order]; h != nil; h = h.nextSlab {
		slabCount++
	}
	return slabCount
}

func (a *Allocator) findFreeSlot(order uint8) (*slotNode, error) {
	h := a.slabs[order]
	for cur := h; cur != nil; cur = cur.nextSlab {
		if cur.freeListHead != nil {
			slot := cur.freeListHead
			cur.freeListHead = slot.next
			return slot, nil
		}
	}

	newHead, err := a.newSlab(order)
	if err != nil {
		return nil, err
	}
	slot := newHead.freeListHead
	newHead.freeListHead = slot.next
	newHead.nextSlab = a.slabs[order]
	a.slabs[order] = newHead
	return slot, nil
}

// newSlab carves a fresh DefaultSlabSize run from the buddy allocator,
// writes a header into slot 0, threads the remaining slots into a free
// list, and tags every page in the run with the header's address so
// Dealloc can recover it in O(1).
func (a *Allocator) newSlab(order uint8) (*header, error) {
	page, err := a.fallback.GetFreePages(DefaultSlabSize, DefaultSlabSize)
	if err != nil {
		return nil, fmt.Errorf("slab: order %d: %w", order, err)
	}
	base := a.fallback.PageToVirt(page)
	slotSize := uintptr(1) << order

	slotCount := DefaultSlabSize/slotSize - 1
	var free *slotNode
	for i := slotCount; i >= 1; i-- {
		addr := base + uintptr(i)*slotSize
		node := (*slotNode)(unsafe.Pointer(addr))
		node.next = free
		free = node
	}

	h := (*header)(unsafe.Pointer(base))
	*h = header{freeListHead: free, order: order}

	pageCount := DefaultSlabSize / buddy.PageSize
	for i := 0; i < pageCount; i++ {
		a.fallback.VirtToPage(base + uintptr(i)*buddy.PageSize).Slab = base
	}
	return h, nil
}

// sizeToOrder returns the smallest slot order in [MinOrder, MaxOrder]
// whose slot size covers max(size, align).
func sizeToOrder(size, align uintptr) uint8 {
	need := size
	if align > need {
		need = align
	}
	order := uint8(MinOrder)
	for (uintptr(1) << order) < need {
		order++
		if order >= MaxOrder {
			break
		}
	}
	return order
}

func roundDown(addr, align uintptr) uintptr {
	return addr - addr%align
}
