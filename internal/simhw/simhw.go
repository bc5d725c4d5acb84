// Package simhw simulates the Mapper/FrameAllocator pair heap.Bringup
// expects from real page-table hardware, so the bring-up path and its
// tests run without a kernel underneath them: a frame allocator that can
// run out, and a mapper whose MapTo can fail and otherwise returns
// something the caller must flush.
package simhw

import (
	"errors"
	"sync"

	"github.com/wzx-ipads/goheap/heap"
	"github.com/wzx-ipads/goheap/internal/framepool"
)

// FrameAllocator hands out up to capacity distinct heap.Frame values,
// each backed by a framepool-sourced block standing in for a physical
// page of RAM. Nothing ever reads through the block; it exists so the
// simulation exercises the same pool/recycle path a real physical
// frame allocator would.
type FrameAllocator struct {
	mu       sync.Mutex
	capacity int
	used     int
	next     heap.Frame
}

// NewFrameAllocator returns a FrameAllocator able to hand out capacity
// frames before AllocateFrame starts reporting exhaustion.
func NewFrameAllocator(capacity int) *FrameAllocator {
	return &FrameAllocator{capacity: capacity}
}

// AllocateFrame implements heap.FrameAllocator.
func (f *FrameAllocator) AllocateFrame() (heap.Frame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.used >= f.capacity {
		return 0, false
	}
	blk := framepool.Get()
	framepool.Put(blk)
	f.used++
	f.next++
	return f.next, true
}

// Reset reclaims every frame handed out so far, as if the allocator had
// never run.
func (f *FrameAllocator) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.used = 0
	f.next = 0
}

// ErrSimulatedMappingFailure is returned by Mapper.MapTo for the page
// configured via FailAt.
var ErrSimulatedMappingFailure = errors.New("simhw: simulated mapping failure")

type flusherFunc func()

func (f flusherFunc) Flush() { f() }

// Mapper records page->frame associations in memory instead of walking
// real page tables. Setting FailAt to a nonzero page address makes
// MapTo fail for that exact page, simulating a frame-exhaustion or
// intermediate-table failure partway through a mapping loop.
type Mapper struct {
	mu       sync.Mutex
	mappings map[uintptr]heap.Frame
	flushes  int

	FailAt uintptr
}

// NewMapper returns an empty Mapper.
func NewMapper() *Mapper {
	return &Mapper{mappings: make(map[uintptr]heap.Frame)}
}

// MapTo implements heap.Mapper.
func (m *Mapper) MapTo(page uintptr, frame heap.Frame, flags heap.PageFlags) (heap.Flusher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAt != 0 && page == m.FailAt {
		return nil, ErrSimulatedMappingFailure
	}
	m.mappings[page] = frame
	return flusherFunc(func() {
		m.mu.Lock()
		m.flushes++
		m.mu.Unlock()
	}), nil
}

// MappedPages reports how many pages have been successfully mapped.
func (m *Mapper) MappedPages() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mappings)
}

// Flushes reports how many Flush calls have landed.
func (m *Mapper) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}
