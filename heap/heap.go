// Package heap wires the page-table mapping step to allocator init,
// and exposes the common front-end interface the rest of this module
// programs against.
//
// Bringup always maps before it initializes: every page in the heap
// window is mapped PRESENT|WRITABLE and flushed before the chosen
// allocator ever touches the arena, because its own init writes
// metadata into the first pages.
package heap

import (
	"errors"
	"fmt"
	"log"

	"github.com/bytedance/gopkg/lang/dirtmake"

	"github.com/wzx-ipads/goheap/buddy"
	"github.com/wzx-ipads/goheap/poolheap"
	"github.com/wzx-ipads/goheap/segregated"
	"github.com/wzx-ipads/goheap/slab"
)

// PageSize is the mapping granularity of the heap window.
const PageSize = buddy.PageSize

// Frame is an opaque handle to a physical page frame, supplied by a
// FrameAllocator and consumed by a Mapper. Its representation is left
// to the FrameAllocator/Mapper pair (see internal/simhw for an
// in-memory simulation); heap never inspects it.
type Frame uintptr

// PageFlags mirrors the x86 page-table entry flags this module cares
// about.
type PageFlags uint8

const (
	Present PageFlags = 1 << iota
	Writable
)

// Flusher invalidates any cached translation for the page a Mapper.MapTo
// call just installed.
type Flusher interface {
	Flush()
}

// Mapper installs a single virtual-to-physical page mapping. Real
// hardware mappers return an error on exhaustion of intermediate
// page-table frames; internal/simhw's Mapper simulates the same
// contract without touching real page tables.
type Mapper interface {
	MapTo(page uintptr, frame Frame, flags PageFlags) (Flusher, error)
}

// FrameAllocator hands out physical frames to back new mappings.
type FrameAllocator interface {
	AllocateFrame() (Frame, bool)
}

// ErrFrameAllocationFailed is wrapped into the error Bringup returns
// when a FrameAllocator runs out of frames mid-mapping.
var ErrFrameAllocationFailed = errors.New("heap: frame allocation failed")

// Kind selects which small-object front end Bringup installs.
type Kind int

const (
	// KindSlab installs the buddy allocator with a slab cache layered
	// on top.
	KindSlab Kind = iota
	// KindSegregated installs the linked-list fallback heap with a
	// fixed size-class allocator layered on top.
	KindSegregated
)

// Config parameterizes Bringup.
type Config struct {
	HeapStart uintptr
	HeapSize  uintptr
	Kind      Kind
}

// DefaultConfig returns the module's default bring-up configuration.
func DefaultConfig() Config {
	return Config{
		HeapStart: 0x444444440000,
		HeapSize:  1 << 20,
		Kind:      KindSlab,
	}
}

// Allocator is the common front end every Kind presents to callers.
type Allocator interface {
	Alloc(size, align uintptr) (uintptr, error)
	Dealloc(ptr, size, align uintptr)
}

// slabFront adapts slab.Allocator (whose Dealloc takes only a pointer,
// since ownership is decided by the page the pointer falls in, not by a
// caller-declared layout) to the Allocator interface.
type slabFront struct {
	*slab.Allocator
}

func (s slabFront) Dealloc(ptr, size, align uintptr) {
	s.Allocator.Dealloc(ptr)
}

// Bringup maps every 4 KiB page of [cfg.HeapStart, cfg.HeapStart+cfg.HeapSize)
// PRESENT|WRITABLE via m and f, flushing each mapping, then constructs and
// returns the Kind-selected allocator over a freshly carved arena. A
// mapping failure aborts before any allocator is touched. A
// segregated-front construction failure (any size class starved
// during its initial carve) is treated as fatal to boot, so it panics
// rather than propagating as an error.
func Bringup(cfg Config, m Mapper, f FrameAllocator) (Allocator, error) {
	if cfg.HeapSize == 0 || cfg.HeapSize%PageSize != 0 {
		return nil, fmt.Errorf("heap: heap size %d is not a nonzero multiple of the page size", cfg.HeapSize)
	}

	pageCount := cfg.HeapSize / PageSize
	for i := uintptr(0); i < pageCount; i++ {
		page := cfg.HeapStart + i*PageSize
		frame, ok := f.AllocateFrame()
		if !ok {
			return nil, fmt.Errorf("heap: mapping page %#x: %w", page, ErrFrameAllocationFailed)
		}
		flusher, err := m.MapTo(page, frame, Present|Writable)
		if err != nil {
			return nil, fmt.Errorf("heap: mapping page %#x: %w", page, err)
		}
		flusher.Flush()
	}
	log.Printf("heap: mapped %d pages at [%#x, %#x)", pageCount, cfg.HeapStart, cfg.HeapStart+cfg.HeapSize)

	arena := dirtmake.Bytes(int(cfg.HeapSize), int(cfg.HeapSize))

	switch cfg.Kind {
	case KindSegregated:
		fb := poolheap.New(arena)
		s, err := segregated.New(fb)
		if err != nil {
			panic(fmt.Sprintf("heap: segregated allocator starved during bring-up: %v", err))
		}
		return s, nil
	default:
		b, err := buddy.New(arena)
		if err != nil {
			return nil, fmt.Errorf("heap: buddy init: %w", err)
		}
		return slabFront{slab.New(b)}, nil
	}
}
