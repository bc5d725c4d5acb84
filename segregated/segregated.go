// Package segregated implements a fixed power-of-two size-class
// allocator: each class owns a pre-carved free list of equal-sized
// blocks, and anything outside the class table is delegated to a
// linked-list fallback heap.
//
// Unlike the buddy allocator's per-order free lists, a class here holds
// equal-sized blocks rather than power-of-two page runs, and the
// fallback for oversized or exhausted classes is package poolheap, since
// that overflow traffic is address-arbitrary rather than page-granular.
package segregated

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/wzx-ipads/goheap/poolheap"
)

// BlockSizes are the fixed size classes this allocator services.
// Requests whose max(size, align) exceeds the largest class escalate
// directly to the fallback heap.
var BlockSizes = [...]uintptr{8, 16, 32, 64, 128, 256, 512, 1024, 2048}

// initialNodesPerClass is how many blocks are carved from the fallback
// heap for each class at construction time.
const initialNodesPerClass = 100

// ErrClassExhausted is returned when a class's free list is empty and
// the fallback heap itself has no room left to hand out a same-size
// replacement block.
var ErrClassExhausted = errors.New("segregated: size class exhausted")

type node struct {
	next *node
}

// Allocator services BlockSizes-classed allocations from pre-carved
// free lists, delegating anything larger to fallback.
type Allocator struct {
	fallback  *poolheap.Allocator
	freeLists [len(BlockSizes)]*node
}

// New carves initialNodesPerClass blocks of every class in BlockSizes
// out of fallback and returns the resulting allocator. It fails if
// fallback cannot supply the full initial ladder for any class.
func New(fallback *poolheap.Allocator) (*Allocator, error) {
	a := &Allocator{fallback: fallback}
	for i, class := range BlockSizes {
		if err := a.refill(i, class); err != nil {
			return nil, fmt.Errorf("segregated: priming %d-byte class: %w", class, err)
		}
	}
	return a, nil
}

func (a *Allocator) refill(classIdx int, class uintptr) error {
	for i := 0; i < initialNodesPerClass; i++ {
		ptr, err := a.fallback.AllocateFirstFit(class, class)
		if err != nil {
			return err
		}
		n := (*node)(unsafe.Pointer(ptr))
		n.next = a.freeLists[classIdx]
		a.freeLists[classIdx] = n
	}
	return nil
}

// classFor returns the index of the smallest class covering
// max(size, align), or ok=false if no class is large enough.
func classFor(size, align uintptr) (idx int, ok bool) {
	need := size
	if align > need {
		need = align
	}
	for i, class := range BlockSizes {
		if need <= class {
			return i, true
		}
	}
	return 0, false
}

// Alloc returns size bytes aligned to align from the smallest covering
// class's free list, or delegates to the fallback heap if size/align
// exceed every class. A drained class transparently pulls a fresh
// same-size block from the fallback rather than failing the request;
// ErrClassExhausted only surfaces when the fallback itself has nothing
// left to give.
func (a *Allocator) Alloc(size, align uintptr) (uintptr, error) {
	idx, ok := classFor(size, align)
	if !ok {
		return a.fallback.AllocateFirstFit(size, align)
	}
	n := a.freeLists[idx]
	if n == nil {
		class := BlockSizes[idx]
		ptr, err := a.fallback.AllocateFirstFit(class, class)
		if err != nil {
			return 0, fmt.Errorf("%w: %d bytes: %v", ErrClassExhausted, class, err)
		}
		return ptr, nil
	}
	a.freeLists[idx] = n.next
	return uintptr(unsafe.Pointer(n)), nil
}

// Dealloc releases a pointer previously returned by Alloc. size and
// align must match the values originally passed to Alloc so the same
// class (or fallback) is chosen on release.
func (a *Allocator) Dealloc(ptr, size, align uintptr) {
	idx, ok := classFor(size, align)
	if !ok {
		a.fallback.Deallocate(ptr, size, align)
		return
	}
	n := (*node)(unsafe.Pointer(ptr))
	n.next = a.freeLists[idx]
	a.freeLists[idx] = n
}

// Available reports, for class index idx, the number of free blocks
// currently on its list.
func (a *Allocator) Available(idx int) int {
	n := 0
	for cur := a.freeLists[idx]; cur != nil; cur = cur.next {
		n++
	}
	return n
}
