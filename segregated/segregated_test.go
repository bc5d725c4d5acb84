package segregated

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wzx-ipads/goheap/poolheap"
)

func newTestAllocator(t *testing.T, arenaSize int) *Allocator {
	t.Helper()
	fb := poolheap.New(make([]byte, arenaSize))
	a, err := New(fb)
	require.NoError(t, err)
	return a
}

func TestNewPrimesEveryClass(t *testing.T) {
	a := newTestAllocator(t, 8<<20)
	for i := range BlockSizes {
		assert.Equal(t, initialNodesPerClass, a.Available(i))
	}
}

func TestAllocDeallocRoundTrip(t *testing.T) {
	a := newTestAllocator(t, 8<<20)

	ptr, err := a.Alloc(48, 8)
	require.NoError(t, err)
	require.NotZero(t, ptr)

	val := (*uint32)(unsafe.Pointer(ptr))
	*val = 7
	assert.Equal(t, uint32(7), *val)

	a.Dealloc(ptr, 48, 8)
}

func TestAllocPicksSmallestCoveringClass(t *testing.T) {
	a := newTestAllocator(t, 8<<20)

	before := a.Available(2) // class 32
	_, err := a.Alloc(20, 1)
	require.NoError(t, err)
	assert.Equal(t, before-1, a.Available(2))
}

func TestAllocAboveLargestClassEscalatesToFallback(t *testing.T) {
	a := newTestAllocator(t, 8<<20)

	ptr, err := a.Alloc(4096, 8)
	require.NoError(t, err)
	require.NotZero(t, ptr)
	a.Dealloc(ptr, 4096, 8)
}

// TestAllocFallsThroughToFallbackWhenClassDrained drains a class's
// pre-carved free list and confirms the next Alloc of that size
// transparently pulls a fresh block from the fallback heap instead of
// failing: only total fallback exhaustion is an error.
func TestAllocFallsThroughToFallbackWhenClassDrained(t *testing.T) {
	a := newTestAllocator(t, 8<<20)
	const idx = 0 // class 8

	before := a.Available(idx)
	for i := 0; i < before; i++ {
		_, err := a.Alloc(8, 8)
		require.NoError(t, err)
	}
	require.Equal(t, 0, a.Available(idx))

	ptr, err := a.Alloc(8, 8)
	require.NoError(t, err)
	require.NotZero(t, ptr)
	assert.Equal(t, 0, a.Available(idx), "a fallback-sourced block isn't on the free list until it is freed")

	a.Dealloc(ptr, 8, 8)
	assert.Equal(t, 1, a.Available(idx), "freeing a fallback-sourced block replenishes the class list")
}

// TestClassExhaustionSurfacesWhenFallbackAlsoOutOfMemory confirms
// ErrClassExhausted is reserved for the case the fallback heap itself
// has nothing left to give a drained class.
func TestClassExhaustionSurfacesWhenFallbackAlsoOutOfMemory(t *testing.T) {
	class := BlockSizes[0] // 8
	const n = 4

	// poolheap rounds every block up to its 16-byte free-span header, so
	// the arena holds exactly n blocks of this class.
	fb := poolheap.New(make([]byte, n*16))
	a := &Allocator{fallback: fb}
	for i := 0; i < n; i++ {
		ptr, err := fb.AllocateFirstFit(class, class)
		require.NoError(t, err)
		nd := (*node)(unsafe.Pointer(ptr))
		nd.next = a.freeLists[0]
		a.freeLists[0] = nd
	}
	require.Equal(t, n, a.Available(0))

	for i := 0; i < n; i++ {
		_, err := a.Alloc(class, class)
		require.NoError(t, err)
	}
	assert.Equal(t, 0, a.Available(0))

	_, err := a.Alloc(class, class)
	assert.ErrorIs(t, err, ErrClassExhausted)
}

func TestClassForSelection(t *testing.T) {
	tests := []struct {
		size, align uintptr
		wantIdx     int
		wantOK      bool
	}{
		{1, 1, 0, true},
		{8, 1, 0, true},
		{9, 1, 1, true},
		{2048, 1, 8, true},
		{2049, 1, 0, false},
		{64, 256, 5, true},
	}
	for _, tt := range tests {
		idx, ok := classFor(tt.size, tt.align)
		assert.Equal(t, tt.wantOK, ok, "size=%d align=%d", tt.size, tt.align)
		if ok {
			assert.Equal(t, tt.wantIdx, idx, "size=%d align=%d", tt.size, tt.align)
		}
	}
}
