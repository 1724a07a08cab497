package stream

import (
	"fmt"
	"sync/atomic"

	"github.com/go4org/hashtriemap"

	"example.com/streambridge/internal/abi"
)

// Registry maps live stream handles to their streams.
// Lookups are lock-free; a handle is removed once its terminal event has been delivered.
type Registry struct {
	streams hashtriemap.HashTrieMap[abi.StreamHandle, *Stream]
	next    atomic.Int64
	count   atomic.Int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// NextHandle returns a handle not currently in use by this registry.
func (r *Registry) NextHandle() abi.StreamHandle {
	return abi.StreamHandle(r.next.Add(1))
}

// Add registers s under its handle.
func (r *Registry) Add(s *Stream) error {
	if _, loaded := r.streams.LoadOrStore(s.Handle(), s); loaded {
		return fmt.Errorf("stream handle %d already registered", s.Handle())
	}
	r.count.Add(1)
	return nil
}

// Get returns the stream registered under h.
func (r *Registry) Get(h abi.StreamHandle) (*Stream, bool) {
	return r.streams.Load(h)
}

// Remove unregisters h. Removing an unknown handle is a no-op.
func (r *Registry) Remove(h abi.StreamHandle) {
	if _, loaded := r.streams.LoadAndDelete(h); loaded {
		r.count.Add(-1)
	}
}

// Len returns the number of registered streams.
func (r *Registry) Len() int {
	return int(r.count.Load())
}

// Range calls fn for every registered stream until fn returns false.
func (r *Registry) Range(fn func(*Stream) bool) {
	r.streams.Range(func(_ abi.StreamHandle, s *Stream) bool {
		return fn(s)
	})
}
