package simhw

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameAllocatorExhaustion(t *testing.T) {
	f := NewFrameAllocator(2)

	_, ok := f.AllocateFrame()
	require.True(t, ok)
	_, ok = f.AllocateFrame()
	require.True(t, ok)
	_, ok = f.AllocateFrame()
	assert.False(t, ok)
}

func TestFrameAllocatorResets(t *testing.T) {
	f := NewFrameAllocator(1)
	_, ok := f.AllocateFrame()
	require.True(t, ok)
	_, ok = f.AllocateFrame()
	require.False(t, ok)

	f.Reset()
	_, ok = f.AllocateFrame()
	assert.True(t, ok)
}

func TestMapperRecordsMappingsAndFlushes(t *testing.T) {
	m := NewMapper()
	flusher, err := m.MapTo(0x1000, 7, 0)
	require.NoError(t, err)
	flusher.Flush()

	assert.Equal(t, 1, m.MappedPages())
	assert.Equal(t, 1, m.Flushes())
}

func TestMapperFailAt(t *testing.T) {
	m := NewMapper()
	m.FailAt = 0x2000

	_, err := m.MapTo(0x1000, 1, 0)
	require.NoError(t, err)

	_, err = m.MapTo(0x2000, 2, 0)
	assert.ErrorIs(t, err, ErrSimulatedMappingFailure)
}
