package abi

import (
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"
)

// ReleaseFunc is invoked once the holder of a Buffer has drained it.
// The context is the opaque value stored alongside the function in the Buffer.
type ReleaseFunc func(context any)

// NoopRelease is the shared releaser for buffers that reference memory owned elsewhere.
func NoopRelease(context any) {}

// Buffer holds raw binary data together with an optional release obligation.
//
// A Buffer is a value type. Copying the struct does not duplicate the release
// obligation: exactly one holder must call Release, after its last read of Bytes.
type Buffer struct {
	bytes   []byte
	release ReleaseFunc
	context any
}

// NoData returns the canonical zero-length Buffer with nothing to release.
// It is passed where an event carries no payload, e.g. a headers-only request.
// Every call yields the same empty value, so callers cannot alter it.
func NoData() Buffer { return Buffer{} }

// BorrowData wraps b without copying it. The returned Buffer carries release and
// context unchanged, so ownership of the original allocation moves with it.
// A nil release means the memory is owned elsewhere and Release is a no-op.
func BorrowData(b []byte, release ReleaseFunc, context any) Buffer {
	return Buffer{bytes: b, release: release, context: context}
}

// CopyData copies the first length bytes of src into a freshly allocated region
// owned by the returned Buffer. Its releaser returns that region to the allocator.
//
// CopyData never returns a partially valid Buffer: asking for more bytes than src
// holds is a programming error and panics, as does an allocation failure.
func CopyData(length int, src []byte) Buffer {
	if length < 0 || length > len(src) {
		panic(fmt.Sprintf("abi: CopyData length %d out of range for source of %d bytes", length, len(src)))
	}
	a := allocate(length)
	copy(a.buf, src[:length])
	return Buffer{bytes: a.buf, release: releaseAllocation, context: a}
}

// Bytes returns the read-only view. Callers must not modify it or keep it past Release.
func (b Buffer) Bytes() []byte { return b.bytes }

// Len returns the number of bytes held.
func (b Buffer) Len() int { return len(b.bytes) }

// String returns a copy of the bytes as a string.
func (b Buffer) String() string { return string(b.bytes) }

// Owned reports whether the Buffer carries a release obligation.
func (b Buffer) Owned() bool { return b.release != nil }

// Release invokes the attached releaser with its context. It is a no-op when no
// releaser is attached. Releasing the same Buffer twice is a caller bug.
func (b Buffer) Release() {
	if b.release != nil {
		b.release(b.context)
	}
}

// allocation is the context attached to buffers produced by CopyData.
type allocation struct {
	buf      []byte
	class    int // index into pools, -1 for unpooled
	released atomic.Bool
}

const (
	minClassShift = 6  // 64 B
	maxClassShift = 16 // 64 KiB
)

var (
	pools       [maxClassShift - minClassShift + 1]sync.Pool
	outstanding atomic.Int64
)

// sizeClass maps a length onto the smallest pooled capacity that fits it.
func sizeClass(n int) int {
	if n > 1<<maxClassShift {
		return -1
	}
	shift := minClassShift
	if n > 1<<minClassShift {
		shift = bits.Len(uint(n - 1))
	}
	return shift - minClassShift
}

func allocate(n int) *allocation {
	class := sizeClass(n)
	var buf []byte
	if class >= 0 {
		if p, ok := pools[class].Get().(*[]byte); ok {
			buf = (*p)[:n]
		} else {
			buf = make([]byte, n, 1<<(class+minClassShift))
		}
	} else {
		buf = make([]byte, n)
	}
	outstanding.Add(1)
	return &allocation{buf: buf, class: class}
}

func releaseAllocation(context any) {
	a, ok := context.(*allocation)
	if !ok || a == nil {
		return
	}
	// A second release must not hand the same region to two future owners.
	if !a.released.CompareAndSwap(false, true) {
		return
	}
	outstanding.Add(-1)
	if a.class >= 0 {
		buf := a.buf[:0]
		pools[a.class].Put(&buf)
	}
	a.buf = nil
}

// Outstanding returns the number of CopyData allocations that have not been released.
func Outstanding() int64 {
	return outstanding.Load()
}
