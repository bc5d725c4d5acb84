package global

import "github.com/wzx-ipads/goheap/container/ring"

// traceCapacity bounds how many recent Alloc/Dealloc calls global keeps
// around for diagnostics before overwriting the oldest entry.
const traceCapacity = 256

type traceOp uint8

const (
	traceAlloc traceOp = iota
	traceDealloc
)

// TraceEntry is one recorded Alloc or Dealloc call.
type TraceEntry struct {
	Op   traceOp
	Ptr  uintptr
	Size uintptr
}

// String reports the operation name, for readable trace dumps.
func (e TraceEntry) String() string {
	if e.Op == traceDealloc {
		return "dealloc"
	}
	return "alloc"
}

var (
	trace   = ring.NewFromSlice(make([]TraceEntry, traceCapacity))
	traceAt int
)

// recordTrace overwrites the oldest slot in the ring with a new entry.
// Callers must already hold the allocator lock: the ring is a single
// bounded buffer shared by every caller, not itself independently
// synchronized.
func recordTrace(op traceOp, ptr, size uintptr) {
	item, _ := trace.Get(traceAt)
	*item.Pointer() = TraceEntry{Op: op, Ptr: ptr, Size: size}
	traceAt = (traceAt + 1) % trace.Len()
}

// Trace returns a snapshot of the most recent traceCapacity Alloc/Dealloc
// calls, in ring order (not necessarily chronological once the buffer
// has wrapped).
func Trace() []TraceEntry {
	out := make([]TraceEntry, 0, trace.Len())
	trace.Do(func(v *TraceEntry) { out = append(out, *v) })
	return out
}
