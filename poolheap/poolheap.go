// Package poolheap implements a classic first-fit, address-ordered
// free-list heap over a single contiguous arena: the linked-list fallback
// that backs package segregated and that can also be used standalone.
//
// Free space is tracked as one address-sorted singly-linked list of
// spans, threaded directly through the arena's own bytes rather than a
// side index: a span is split on allocation and coalesced with its
// address-adjacent neighbors on release.
package poolheap

import (
	"errors"
	"unsafe"
)

// ErrOutOfMemory is returned when no free span can satisfy a request.
var ErrOutOfMemory = errors.New("poolheap: out of memory")

// freeBlock is written into the first bytes of every free span. size is
// the span's total size including this header; next links to the next
// free span in ascending address order.
type freeBlock struct {
	size uintptr
	next *freeBlock
}

var minBlockSize = unsafe.Sizeof(freeBlock{})

// Allocator is a first-fit heap over a single arena.
type Allocator struct {
	arena []byte
	head  *freeBlock
}

// New treats arena as entirely free.
func New(arena []byte) *Allocator {
	a := &Allocator{arena: arena}
	if uintptr(len(arena)) >= minBlockSize {
		hdr := (*freeBlock)(unsafe.Pointer(&arena[0]))
		*hdr = freeBlock{size: uintptr(len(arena))}
		a.head = hdr
	}
	return a
}

// AllocateFirstFit returns the address of the first free span able to
// hold size bytes aligned to align, splitting off unused front/back
// padding as new free spans. Padding too small to hold a freeBlock
// header on its own is treated as not fitting, and the search continues
// to the next span, rather than leaking a header-less fragment into the
// list.
func (a *Allocator) AllocateFirstFit(size, align uintptr) (uintptr, error) {
	need := size
	if need < minBlockSize {
		need = minBlockSize
	}

	var prev *freeBlock
	cur := a.head
	for cur != nil {
		regionStart := uintptr(unsafe.Pointer(cur))
		regionEnd := regionStart + cur.size
		allocStart := roundUp(regionStart, align)
		allocEnd := allocStart + need

		if allocEnd <= regionEnd {
			frontPad := allocStart - regionStart
			backPad := regionEnd - allocEnd
			if fits(frontPad) && fits(backPad) {
				a.commit(prev, cur, frontPad, backPad, allocEnd)
				return allocStart, nil
			}
		}
		prev = cur
		cur = cur.next
	}
	return 0, ErrOutOfMemory
}

func (a *Allocator) commit(prev, cur *freeBlock, frontPad, backPad, allocEnd uintptr) {
	next := cur.next
	if frontPad > 0 {
		cur.size = frontPad
		if backPad > 0 {
			cur.next = a.newSpan(allocEnd, backPad, next)
		}
		return
	}
	if backPad > 0 {
		replaceIn(&a.head, prev, cur, a.newSpan(allocEnd, backPad, next))
		return
	}
	replaceIn(&a.head, prev, cur, next)
}

func (a *Allocator) newSpan(addr, size uintptr, next *freeBlock) *freeBlock {
	blk := (*freeBlock)(unsafe.Pointer(addr))
	*blk = freeBlock{size: size, next: next}
	return blk
}

func replaceIn(head **freeBlock, prev, old, with *freeBlock) {
	if prev != nil {
		prev.next = with
		return
	}
	*head = with
}

func fits(pad uintptr) bool {
	return pad == 0 || pad >= minBlockSize
}

// Deallocate returns [ptr, ptr+size) to the free list, coalescing with
// any address-adjacent free span on either side. size and align must
// match the values originally passed to AllocateFirstFit.
func (a *Allocator) Deallocate(ptr, size, align uintptr) {
	need := size
	if need < minBlockSize {
		need = minBlockSize
	}

	var prev *freeBlock
	cur := a.head
	for cur != nil && uintptr(unsafe.Pointer(cur)) < ptr {
		prev = cur
		cur = cur.next
	}

	blk := a.newSpan(ptr, need, cur)
	if prev != nil {
		prev.next = blk
	} else {
		a.head = blk
	}

	if blk.next != nil && ptr+blk.size == uintptr(unsafe.Pointer(blk.next)) {
		nxt := blk.next
		blk.size += nxt.size
		blk.next = nxt.next
	}
	if prev != nil && uintptr(unsafe.Pointer(prev))+prev.size == ptr {
		prev.size += blk.size
		prev.next = blk.next
	}
}

// Available returns the total free bytes across all spans.
func (a *Allocator) Available() uintptr {
	var total uintptr
	for cur := a.head; cur != nil; cur = cur.next {
		total += cur.size
	}
	return total
}

func roundUp(addr, align uintptr) uintptr {
	if r := addr % align; r != 0 {
		return addr - r + align
	}
	return addr
}
