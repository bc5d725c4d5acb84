// Package global exposes the process-wide allocator contract: a single
// installed heap.Allocator reached through a scoped lock, mirroring a
// kernel's `#[global_allocator]` singleton.
//
// Before Install runs, Alloc returns ErrNotInstalled rather than a
// pointer, and Dealloc panics, since a dealloc before any allocation
// exists is a caller bug, not a recoverable condition.
package global

import (
	"errors"

	"github.com/wzx-ipads/goheap/heap"
	"github.com/wzx-ipads/goheap/lock"
)

// ErrNotInstalled is returned by Alloc before Install has run.
var ErrNotInstalled = errors.New("global: allocator not installed")

var allocator = lock.New[heap.Allocator](nil)

// Install publishes a, making it the target of every subsequent Alloc
// and Dealloc call. Typically called once, immediately after a
// successful heap.Bringup.
func Install(a heap.Allocator) {
	allocator.With(func(v *heap.Allocator) { *v = a })
}

// Alloc acquires the global lock for the duration of a single
// allocation and delegates to the installed allocator.
func Alloc(size, align uintptr) (uintptr, error) {
	var ptr uintptr
	var err error
	allocator.With(func(v *heap.Allocator) {
		if *v == nil {
			err = ErrNotInstalled
			return
		}
		ptr, err = (*v).Alloc(size, align)
		if err == nil {
			recordTrace(traceAlloc, ptr, size)
		}
	})
	return ptr, err
}

// Dealloc acquires the global lock for the duration of a single
// deallocation and delegates to the installed allocator. Calling
// Dealloc before Install is a caller bug and panics.
func Dealloc(ptr, size, align uintptr) {
	allocator.With(func(v *heap.Allocator) {
		if *v == nil {
			panic("global: dealloc called before an allocator was installed")
		}
		(*v).Dealloc(ptr, size, align)
		recordTrace(traceDealloc, ptr, size)
	})
}
