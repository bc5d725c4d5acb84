// Package framepool recycles fixed-size byte blocks used to back the
// simulated physical frames in internal/simhw.
//
// A sync.Pool is fronted by a magic-tagged footer, so a Put of a block
// this package did not hand out is silently ignored rather than
// corrupting the pool. Every block is the same fixed frame size, and
// the underlying buffer is sourced from bytedance/gopkg's mcache rather
// than a bare make([]byte, n).
package framepool

import (
	"encoding/binary"
	"sync"

	"github.com/bytedance/gopkg/lang/mcache"
)

// FrameSize is the size in bytes of one pooled block.
const FrameSize = 4096

const (
	footerLen   = 8
	footerMagic = uint64(0xF2A4E0FEF2A4E0C0)
)

var pool = sync.Pool{
	New: func() interface{} {
		return mcache.Malloc(FrameSize + footerLen)
	},
}

// Get returns a FrameSize-byte block, possibly reused from the pool.
func Get() []byte {
	buf := pool.Get().([]byte)
	if cap(buf) < FrameSize+footerLen {
		buf = mcache.Malloc(FrameSize + footerLen)
	}
	buf = buf[:FrameSize+footerLen]
	binary.LittleEndian.PutUint64(buf[FrameSize:], footerMagic)
	return buf[:FrameSize]
}

// Put returns buf to the pool for reuse. buf must have been obtained
// from Get; anything else is silently dropped rather than accepted,
// mirroring mempool.Free's defensive footer check.
func Put(buf []byte) {
	full := buf[:cap(buf)]
	if len(full) < FrameSize+footerLen {
		return
	}
	if binary.LittleEndian.Uint64(full[FrameSize:FrameSize+footerLen]) != footerMagic {
		return
	}
	pool.Put(full[:FrameSize+footerLen])
}
