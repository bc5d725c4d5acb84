// Command kheapdemo brings up the heap against a simulated Mapper and
// FrameAllocator and runs it through a sequence of allocation scenarios
// (a simple allocation, a large vector, allocate/free churn, a buddy
// order ladder, a slab fill-and-drain, and a segregated-to-fallback
// escalation), printing a short pass/fail report. It exists because this
// module boots no real kernel to exercise the allocator from.
package main

import (
	"fmt"
	"log"
	"unsafe"

	"github.com/wzx-ipads/goheap/buddy"
	"github.com/wzx-ipads/goheap/heap"
	"github.com/wzx-ipads/goheap/internal/simhw"
	"github.com/wzx-ipads/goheap/segregated"
	"github.com/wzx-ipads/goheap/slab"
)

func main() {
	cfg := heap.DefaultConfig()
	cfg.Kind = heap.KindSlab

	m := simhw.NewMapper()
	f := simhw.NewFrameAllocator(int(cfg.HeapSize / heap.PageSize))

	a, err := heap.Bringup(cfg, m, f)
	if err != nil {
		log.Fatalf("bring-up failed: %v", err)
	}
	fmt.Printf("bring-up OK: mapped %d pages, installed %T\n", m.MappedPages(), a)

	s1SimpleBox(a)
	s2LargeVector(a)
	s3Churn(a)
	s4BuddyLadder()
	s5SlabFillAndDrain()
	s6SegregatedFallback()

	fmt.Println("all scenarios passed")
}

// S1: allocate 4 bytes, write 41, read back 41, free.
func s1SimpleBox(a heap.Allocator) {
	ptr, err := a.Alloc(4, 4)
	if err != nil {
		log.Fatalf("S1: alloc failed: %v", err)
	}
	val := (*int32)(unsafe.Pointer(ptr))
	*val = 41
	if *val != 41 {
		log.Fatalf("S1: read back %d, want 41", *val)
	}
	a.Dealloc(ptr, 4, 4)
	fmt.Println("S1 (simple box): ok")
}

// S2: write integers 0..999 into one 1000-element buffer; sum equals 499500.
func s2LargeVector(a heap.Allocator) {
	const n = 1000
	size := uintptr(n) * unsafe.Sizeof(int64(0))
	ptr, err := a.Alloc(size, unsafe.Sizeof(int64(0)))
	if err != nil {
		log.Fatalf("S2: alloc failed: %v", err)
	}
	buf := unsafe.Slice((*int64)(unsafe.Pointer(ptr)), n)
	for i := 0; i < n; i++ {
		buf[i] = int64(i)
	}
	var sum int64
	for i := 0; i < n; i++ {
		sum += buf[i]
	}
	a.Dealloc(ptr, size, unsafe.Sizeof(int64(0)))
	if sum != 499500 {
		log.Fatalf("S2: sum=%d, want 499500", sum)
	}
	fmt.Println("S2 (large vector): ok")
}

// S3: allocate and immediately free a single 8-byte block HeapSize
// times; no OOM. Free-byte counts are not compared here.
func s3Churn(a heap.Allocator) {
	n := int(heap.DefaultConfig().HeapSize)
	for i := 0; i < n; i++ {
		ptr, err := a.Alloc(8, 8)
		if err != nil {
			log.Fatalf("S3: alloc %d failed: %v", i, err)
		}
		a.Dealloc(ptr, 8, 8)
	}
	fmt.Println("S3 (churn): ok")
}

// S4: on a freshly initialized 1 MiB heap with MaxOrder=8, two
// successive order-7 requests succeed, the third fails.
func s4BuddyLadder() {
	b, err := buddy.New(make([]byte, 1<<20))
	if err != nil {
		log.Fatalf("S4: buddy.New failed: %v", err)
	}
	size := uintptr(1<<(buddy.MaxOrder-1)) * buddy.PageSize
	if _, err := b.GetFreePages(size, buddy.PageSize); err != nil {
		log.Fatalf("S4: first order-7 run failed: %v", err)
	}
	if _, err := b.GetFreePages(size, buddy.PageSize); err != nil {
		log.Fatalf("S4: second order-7 run failed: %v", err)
	}
	if _, err := b.GetFreePages(size, buddy.PageSize); err == nil {
		log.Fatalf("S4: third order-7 run unexpectedly succeeded")
	}
	fmt.Println("S4 (buddy ladder): ok")
}

// S5: 127 objects of size 64 fill one slab; the 128th triggers a new
// slab; filling that one too (254 objects in all) and freeing all 254
// leaves both slabs in the chain.
func s5SlabFillAndDrain() {
	b, err := buddy.New(make([]byte, 4<<20))
	if err != nil {
		log.Fatalf("S5: buddy.New failed: %v", err)
	}
	s := slab.New(b)

	var ptrs []uintptr
	for i := 0; i < 254; i++ {
		ptr, err := s.Alloc(64, 64)
		if err != nil {
			log.Fatalf("S5: alloc %d failed: %v", i, err)
		}
		ptrs = append(ptrs, ptr)
	}
	for _, p := range ptrs {
		s.Dealloc(p)
	}
	if n := s.Stats(6); n != 2 { // order 6: 1<<6 == 64
		log.Fatalf("S5: expected 2 slabs after drain, got %d", n)
	}
	fmt.Println("S5 (slab fill-and-drain): ok")
}

// S6: with the segregated front end installed, a 3000-byte request is
// serviced by the fallback heap, leaving the segregated class lists
// untouched.
func s6SegregatedFallback() {
	cfg := heap.DefaultConfig()
	cfg.Kind = heap.KindSegregated
	m := simhw.NewMapper()
	f := simhw.NewFrameAllocator(int(cfg.HeapSize / heap.PageSize))

	a, err := heap.Bringup(cfg, m, f)
	if err != nil {
		log.Fatalf("S6: bring-up failed: %v", err)
	}
	sa, ok := a.(*segregated.Allocator)
	if !ok {
		log.Fatalf("S6: expected *segregated.Allocator, got %T", a)
	}
	before := sa.Available(len(segregated.BlockSizes) - 1)

	ptr, err := sa.Alloc(3000, 8)
	if err != nil {
		log.Fatalf("S6: alloc 3000 failed: %v", err)
	}
	sa.Dealloc(ptr, 3000, 8)

	if after := sa.Available(len(segregated.BlockSizes) - 1); after != before {
		log.Fatalf("S6: largest class list was touched: before=%d after=%d", before, after)
	}
	fmt.Println("S6 (segregated fallback): ok")
}
